package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/samber/lo"
)

var errMalformed = errors.New("reply does not match the requested shape")

// Summary is the structured summarization result.
type Summary struct {
	OneLine   string   `json:"one_line"`
	KeyPoints []string `json:"key_points"`
	Detailed  string   `json:"detailed"`
}

// Sentiment is the structured sentiment result. Confidence is in [0, 1].
type Sentiment struct {
	Label         string        `json:"label"`
	Confidence    flexibleFloat `json:"confidence"`
	Justification string        `json:"justification"`
}

// CodeExplanation is the structured code explanation result.
type CodeExplanation struct {
	Purpose    string   `json:"purpose"`
	Logic      []string `json:"logic"`
	Issues     []string `json:"issues"`
	Complexity string   `json:"complexity"`
}

type ActionItem struct {
	Task     string `json:"task"`
	Owner    string `json:"owner,omitempty"`
	Deadline string `json:"deadline,omitempty"`
}

// ActionItems is the structured action item result.
type ActionItems struct {
	Items []ActionItem `json:"items"`
}

var sentimentLabels = []string{"positive", "negative", "neutral", "mixed"}

// flexibleFloat accepts 0.85, 85, "85%" or "0.85".
type flexibleFloat float64

func (f *flexibleFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("confidence %s: %w", b, err)
	}
	*f = flexibleFloat(v)
	return nil
}

// jsonObject returns the outermost JSON object in raw, dropping code fences
// and any prose the model put around it.
func jsonObject(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return "", errMalformed
	}
	return raw[start : end+1], nil
}

func decodeShape(raw string, v any) error {
	obj, err := jsonObject(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return nil
}

const (
	summaryKeyPoints = 3
	summarySentences = 5
)

func parseSummary(raw string) (any, string, error) {
	var s Summary
	if err := decodeShape(raw, &s); err != nil {
		return nil, "", err
	}

	s.OneLine = strings.TrimSpace(s.OneLine)
	s.KeyPoints = nonEmpty(s.KeyPoints)
	sentences := splitSentences(s.Detailed)
	if s.OneLine == "" || len(s.KeyPoints) < summaryKeyPoints || len(sentences) < summarySentences {
		return nil, "", errMalformed
	}
	s.KeyPoints = s.KeyPoints[:summaryKeyPoints]
	s.Detailed = strings.Join(sentences[:summarySentences], " ")

	var b strings.Builder
	fmt.Fprintf(&b, "**One-line summary:** %s\n\n", s.OneLine)
	b.WriteString("**Key Points:**\n")
	for _, p := range s.KeyPoints {
		fmt.Fprintf(&b, "• %s\n", p)
	}
	fmt.Fprintf(&b, "\n**Detailed Summary:**\n%s", s.Detailed)

	return s, b.String(), nil
}

func parseSentiment(raw string) (any, string, error) {
	var s Sentiment
	if err := decodeShape(raw, &s); err != nil {
		return nil, "", err
	}

	s.Label = strings.ToLower(strings.TrimSpace(s.Label))
	s.Justification = strings.TrimSpace(s.Justification)
	if !lo.Contains(sentimentLabels, s.Label) || s.Justification == "" {
		return nil, "", errMalformed
	}
	if s.Confidence > 1 {
		s.Confidence /= 100
	}
	s.Confidence = flexibleFloat(max(0, min(1, float64(s.Confidence))))

	text := fmt.Sprintf("**Sentiment:** %s\n**Confidence:** %.0f%%\n**Justification:** %s",
		titleCase(s.Label), float64(s.Confidence)*100, s.Justification)
	return s, text, nil
}

func parseCodeExplanation(raw string) (any, string, error) {
	var c CodeExplanation
	if err := decodeShape(raw, &c); err != nil {
		return nil, "", err
	}

	c.Purpose = strings.TrimSpace(c.Purpose)
	c.Logic = nonEmpty(c.Logic)
	c.Issues = nonEmpty(c.Issues)
	if c.Purpose == "" || len(c.Logic) == 0 {
		return nil, "", errMalformed
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Purpose:**\n%s\n\n**Logic Explanation:**\n", c.Purpose)
	for i, step := range c.Logic {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	b.WriteString("\n**Bugs/Issues:**\n")
	if len(c.Issues) == 0 {
		b.WriteString("No obvious bugs detected.\n")
	}
	for _, issue := range c.Issues {
		fmt.Fprintf(&b, "- %s\n", issue)
	}
	complexity := strings.TrimSpace(c.Complexity)
	if complexity == "" {
		complexity = "Not applicable."
	}
	fmt.Fprintf(&b, "\n**Complexity Analysis:**\n%s", complexity)

	return c, b.String(), nil
}

func parseActionItems(raw string) (any, string, error) {
	var a ActionItems
	if err := decodeShape(raw, &a); err != nil {
		return nil, "", err
	}

	a.Items = lo.FilterMap(a.Items, func(item ActionItem, _ int) (ActionItem, bool) {
		item.Task = strings.TrimSpace(item.Task)
		item.Owner = strings.TrimSpace(item.Owner)
		item.Deadline = strings.TrimSpace(item.Deadline)
		return item, item.Task != ""
	})
	if len(a.Items) == 0 {
		return a, "No action items found in the content.", nil
	}

	var b strings.Builder
	b.WriteString("**Action Items:**\n")
	for i, item := range a.Items {
		fmt.Fprintf(&b, "%d. %s", i+1, item.Task)
		var details []string
		if item.Owner != "" {
			details = append(details, "Owner: "+item.Owner)
		}
		if item.Deadline != "" {
			details = append(details, "Deadline: "+item.Deadline)
		}
		if len(details) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(details, "; "))
		}
		b.WriteString("\n")
	}

	return a, strings.TrimRight(b.String(), "\n"), nil
}

// splitSentences breaks text on ., ! or ? followed by whitespace or the end.
func splitSentences(text string) []string {
	var (
		out []string
		cur strings.Builder
	)
	runes := []rune(strings.TrimSpace(text))
	for i, r := range runes {
		cur.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func nonEmpty(items []string) []string {
	return lo.FilterMap(items, func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	})
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
