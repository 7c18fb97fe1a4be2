package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog/log"

	"multimodal-agent/internal/services/extract"
)

// ErrEmptyResponse is returned when the model answers without any choice.
var ErrEmptyResponse = errors.New("model returned no choices")

type OpenAIClient struct {
	client          openai.Client
	model           string
	transcribeModel string
}

// NewOpenAIClient creates a client for chat completions and transcriptions.
// SDK-level retries are disabled; the task dispatcher owns retry policy.
func NewOpenAIClient(apiKey, baseURL, model, transcribeModel string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	if model == "" {
		model = "gpt-4o-mini"
	}
	if transcribeModel == "" {
		transcribeModel = "whisper-1"
	}

	return &OpenAIClient{
		client:          openai.NewClient(opts...),
		model:           model,
		transcribeModel: transcribeModel,
	}, nil
}

func (c *OpenAIClient) Model() string {
	return c.model
}

func (c *OpenAIClient) Complete(ctx context.Context, prompt Prompt) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if prompt.System != "" {
		messages = append(messages, openai.SystemMessage(prompt.System))
	}
	messages = append(messages, openai.UserMessage(prompt.User))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}
	if prompt.Temperature > 0 {
		params.Temperature = openai.Float(prompt.Temperature)
	}
	if prompt.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(prompt.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	log.Debug().
		Str("model", resp.Model).
		Int64("prompt_tokens", resp.Usage.PromptTokens).
		Int64("completion_tokens", resp.Usage.CompletionTokens).
		Msg("Chat completion received")

	return resp.Choices[0].Message.Content, nil
}

// verboseTranscription is the subset of the verbose_json transcription body we read.
type verboseTranscription struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
}

// Transcribe sends the audio file at path to the speech-to-text model.
func (c *OpenAIClient) Transcribe(ctx context.Context, path string) (extract.Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return extract.Transcript{}, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	resp, err := c.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:           f,
		Model:          openai.AudioModel(c.transcribeModel),
		ResponseFormat: openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return extract.Transcript{}, fmt.Errorf("transcription: %w", err)
	}

	out := extract.Transcript{Text: resp.Text}
	var verbose verboseTranscription
	if raw := resp.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &verbose) == nil {
		out.Duration = verbose.Duration
	}
	return out, nil
}

// IsTransient reports whether err is worth one more attempt: timeouts,
// connection failures, rate limiting and server-side errors. Caller
// cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode == http.StatusRequestTimeout ||
			apiErr.StatusCode >= http.StatusInternalServerError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return strings.Contains(err.Error(), "connection reset") || strings.Contains(err.Error(), "EOF")
}
