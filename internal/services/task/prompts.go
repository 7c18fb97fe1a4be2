package task

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"multimodal-agent/internal/services/intent"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.tmpl"))

// promptData is what every task template can reference. When HasContext is
// set, Body holds only the material added after the user's words, so the
// query is rendered once.
type promptData struct {
	Query      string
	Body       string
	HasContext bool
}

func renderSystemPrompt() (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "system.tmpl", nil); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return buf.String(), nil
}

func renderTaskPrompt(in intent.Intent, content Content) (string, error) {
	data := promptData{
		Query:      content.Query,
		Body:       content.Body,
		HasContext: content.Body != "" && content.Body != content.Query,
	}
	if data.HasContext && content.Query != "" {
		data.Body = strings.TrimLeft(strings.TrimPrefix(content.Body, content.Query), "\n")
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, string(in)+".tmpl", data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", in, err)
	}
	return buf.String(), nil
}
