// Package intent infers which task a request asks for from its free-form text.
package intent

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// Intent is the task label that drives downstream processing.
type Intent string

const (
	Summarization       Intent = "summarization"
	SentimentAnalysis   Intent = "sentiment_analysis"
	CodeExplanation     Intent = "code_explanation"
	ActionItems         Intent = "action_items"
	Conversational      Intent = "conversational"
	ClarificationNeeded Intent = "clarification_needed"
)

func (i Intent) String() string { return string(i) }

// Rule pairs a predicate over the raw user text with the label it yields.
type Rule struct {
	Name    string
	Matches func(text string) bool
	Intent  Intent
}

var codePatterns = compileAll(
	`\bdef\s+\w+\s*\(`,
	`\bfunction\s+\w+\s*\(`,
	`\bfunc\s+(\(\w+\s+\*?\w+\)\s*)?\w+\s*\(`,
	`(?m)^\s*(export\s+)?(abstract\s+)?class\s+\w+.*[:{]\s*$`,
	`(?m)^\s*import\s+[\w."/{}, *]+;?\s*$`,
	`(?m)^\s*from\s+[\w.]+\s+import\s+\w+`,
	`(?m)^\s*#include\s*[<"]`,
	`\bconst\s+\w+\s*=`,
	`\blet\s+\w+\s*=`,
	`\bvar\s+\w+\s*=`,
	`\b(public|private|protected)\s+(static\s+)?[\w<>\[\]]+\s+\w+\s*\(`,
	"```[\\s\\S]*?```",
	`\{[^{}]*;\s*\}`,
	`\{[^{}]*\breturn\b[^{}]*\}`,
	`=>\s*\{`,
	`(?m)^(?: {4}|\t)+\S.*\n(?: {4}|\t)+\S`,
)

var (
	sentimentPattern = regexp.MustCompile(`(?i)\b(sentiment\w*|feel\w*|opinions?|emotions?|emotional|tone|mood|attitude)\b`)
	summaryPattern   = regexp.MustCompile(`(?i)\b(summar\w*|tl;?dr|recap|overview|gist|key points|main points)\b`)
	actionPattern    = regexp.MustCompile(`(?i)\b(action items?|to-?dos?|tasks?|next steps|follow[- ]ups?|deliverables?)\b`)
)

// Rules is the classification policy. It is evaluated top to bottom and the
// first match wins; reordering it changes classification results.
var Rules = []Rule{
	{Name: "code_syntax", Matches: containsCode, Intent: CodeExplanation},
	{Name: "sentiment_keywords", Matches: sentimentPattern.MatchString, Intent: SentimentAnalysis},
	{Name: "summary_keywords", Matches: summaryPattern.MatchString, Intent: Summarization},
	{Name: "action_keywords", Matches: actionPattern.MatchString, Intent: ActionItems},
}

// Classifier maps user text to an Intent using an ordered rule list.
type Classifier struct {
	rules []Rule
}

// NewClassifier returns a Classifier using the default Rules.
func NewClassifier() *Classifier {
	return &Classifier{rules: Rules}
}

// NewClassifierWithRules is used by tests to pin a custom policy.
func NewClassifierWithRules(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the intent for text. Empty text never guesses: it yields
// ClarificationNeeded whether or not a file is attached.
func (c *Classifier) Classify(text string, hasFile bool) Intent {
	if strings.TrimSpace(text) == "" {
		log.Debug().Bool("has_file", hasFile).Msg("Empty text, asking for clarification")
		return ClarificationNeeded
	}

	for _, rule := range c.rules {
		if rule.Matches(text) {
			log.Debug().Str("rule", rule.Name).Str("intent", string(rule.Intent)).Msg("Intent rule matched")
			return rule.Intent
		}
	}

	return Conversational
}

func containsCode(text string) bool {
	for _, p := range codePatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}
