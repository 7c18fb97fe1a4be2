// Package task turns an intent and its content into a model prompt, calls the
// remote model and shapes the reply.
package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"multimodal-agent/internal/services/intent"
	"multimodal-agent/internal/services/llm"
)

var (
	ErrUpstream        = errors.New("upstream model error")
	ErrNotDispatchable = errors.New("intent cannot be dispatched")
)

// Content is what a task works on: the user's own words and the full body
// (user text plus any extracted file text).
type Content struct {
	Query string
	Body  string
}

// Result is the task-shaped reply of the model.
type Result struct {
	Intent intent.Intent
	// Text is the caller-facing rendering of the reply.
	Text string
	// Structured is the parsed shape (Summary, Sentiment, ...), nil when the
	// task has no structure or the reply could not be parsed.
	Structured   any
	Unstructured bool
	Model        string
	Attempts     int
}

type taskSpec struct {
	maxTokens   int
	temperature float64
	parse       func(raw string) (any, string, error)
}

var taskSpecs = map[intent.Intent]taskSpec{
	intent.Summarization:     {maxTokens: 1500, temperature: 0.3, parse: parseSummary},
	intent.SentimentAnalysis: {maxTokens: 500, temperature: 0.2, parse: parseSentiment},
	intent.CodeExplanation:   {maxTokens: 2000, temperature: 0.2, parse: parseCodeExplanation},
	intent.ActionItems:       {maxTokens: 1000, temperature: 0.2, parse: parseActionItems},
	intent.Conversational:    {maxTokens: 1000, temperature: 0.7},
}

// Observer receives one callback per upstream attempt.
type Observer interface {
	ObserveUpstream(in intent.Intent, outcome string, elapsed time.Duration)
}

type RetryPolicy struct {
	// MaxAttempts is clamped to 1..2.
	MaxAttempts int
	Backoff     time.Duration
	// Timeout bounds each attempt.
	Timeout time.Duration
}

type Dispatcher struct {
	llm      llm.LLMClient
	retry    RetryPolicy
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(client llm.LLMClient, retry RetryPolicy, observer Observer) *Dispatcher {
	retry.MaxAttempts = max(1, min(2, retry.MaxAttempts))
	return &Dispatcher{
		llm:      client,
		retry:    retry,
		observer: observer,
		sleep:    sleepCtx,
	}
}

// Execute runs the task for in over content.
func (d *Dispatcher) Execute(ctx context.Context, in intent.Intent, content Content) (*Result, error) {
	spec, ok := taskSpecs[in]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotDispatchable, in)
	}

	system, err := renderSystemPrompt()
	if err != nil {
		return nil, err
	}
	user, err := renderTaskPrompt(in, content)
	if err != nil {
		return nil, err
	}

	prompt := llm.Prompt{
		System:      system,
		User:        user,
		MaxTokens:   spec.maxTokens,
		Temperature: spec.temperature,
	}

	raw, attempts, err := d.complete(ctx, in, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %s after %d attempt(s): %w", ErrUpstream, in, attempts, err)
	}

	res := &Result{
		Intent:   in,
		Text:     raw,
		Model:    d.llm.Model(),
		Attempts: attempts,
	}
	if spec.parse == nil {
		return res, nil
	}

	structured, text, err := spec.parse(raw)
	if err != nil {
		log.Warn().Err(err).Str("intent", string(in)).Msg("Model reply not in requested shape, returning raw text")
		res.Unstructured = true
		return res, nil
	}
	res.Structured = structured
	res.Text = text
	return res, nil
}

// complete calls the model, retrying transient failures within the policy.
func (d *Dispatcher) complete(ctx context.Context, in intent.Intent, prompt llm.Prompt) (string, int, error) {
	var lastErr error
	for attempt := 1; attempt <= d.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := d.sleep(ctx, d.retry.Backoff*time.Duration(attempt-1)); err != nil {
				return "", attempt - 1, lastErr
			}
		}

		start := time.Now()
		raw, err := d.attempt(ctx, prompt)
		elapsed := time.Since(start)
		if err == nil {
			d.observe(in, "ok", elapsed)
			return raw, attempt, nil
		}

		lastErr = err
		transient := llm.IsTransient(err)
		d.observe(in, outcomeLabel(transient), elapsed)
		log.Warn().
			Err(err).
			Str("intent", string(in)).
			Int("attempt", attempt).
			Bool("transient", transient).
			Dur("elapsed", elapsed).
			Msg("Upstream call failed")

		if !transient || ctx.Err() != nil {
			return "", attempt, err
		}
	}
	return "", d.retry.MaxAttempts, lastErr
}

func (d *Dispatcher) attempt(ctx context.Context, prompt llm.Prompt) (string, error) {
	if d.retry.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.retry.Timeout)
		defer cancel()
	}
	return d.llm.Complete(ctx, prompt)
}

func (d *Dispatcher) observe(in intent.Intent, outcome string, elapsed time.Duration) {
	if d.observer != nil {
		d.observer.ObserveUpstream(in, outcome, elapsed)
	}
}

func outcomeLabel(transient bool) string {
	if transient {
		return "transient_error"
	}
	return "error"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
