package task

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"multimodal-agent/internal/services/intent"
	"multimodal-agent/internal/services/llm"
)

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Complete(ctx context.Context, prompt llm.Prompt) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *mockLLM) Model() string {
	return "test-model"
}

type recordingObserver struct {
	outcomes []string
}

func (r *recordingObserver) ObserveUpstream(_ intent.Intent, outcome string, _ time.Duration) {
	r.outcomes = append(r.outcomes, outcome)
}

func newTestDispatcher(client llm.LLMClient, attempts int, observer Observer) *Dispatcher {
	d := NewDispatcher(client, RetryPolicy{MaxAttempts: attempts, Backoff: time.Millisecond}, observer)
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return d
}

const summaryReply = "```json\n" + `{
  "one_line": "A fox jumps over a dog.",
  "key_points": ["The fox is quick.", "The fox is brown.", "The dog is lazy."],
  "detailed": "A quick brown fox appears. It runs toward a dog. The dog is lazy. The fox jumps over it. The story ends there."
}` + "\n```"

func TestDispatcher_Execute(t *testing.T) {
	t.Run("summarization renders one line, three bullets and five sentences", func(t *testing.T) {
		m := &mockLLM{}
		m.On("Complete", mock.Anything, mock.MatchedBy(func(p llm.Prompt) bool {
			return p.MaxTokens == 1500 && strings.Contains(p.User, "The quick brown fox") && p.System != ""
		})).Return(summaryReply, nil).Once()

		d := newTestDispatcher(m, 2, nil)
		res, err := d.Execute(context.Background(), intent.Summarization, Content{
			Query: "Summarize this: The quick brown fox...",
			Body:  "Summarize this: The quick brown fox...",
		})

		require.NoError(t, err)
		m.AssertExpectations(t)
		assert.Equal(t, intent.Summarization, res.Intent)
		assert.Equal(t, 1, res.Attempts)
		assert.Equal(t, "test-model", res.Model)
		assert.False(t, res.Unstructured)

		summary, ok := res.Structured.(Summary)
		require.True(t, ok)
		assert.Equal(t, "A fox jumps over a dog.", summary.OneLine)
		assert.Len(t, summary.KeyPoints, 3)
		assert.Len(t, splitSentences(summary.Detailed), 5)

		assert.Contains(t, res.Text, "**One-line summary:** A fox jumps over a dog.")
		assert.Equal(t, 3, strings.Count(res.Text, "• "))
		assert.Contains(t, res.Text, "**Detailed Summary:**")
	})

	t.Run("action items render as a numbered list", func(t *testing.T) {
		m := &mockLLM{}
		m.On("Complete", mock.Anything, mock.Anything).
			Return(`{"items":[{"task":"Fix bug","owner":"Ana","deadline":"Friday"},{"task":"Ship release"}]}`, nil).Once()

		d := newTestDispatcher(m, 2, nil)
		res, err := d.Execute(context.Background(), intent.ActionItems, Content{Query: "What are the action items?", Body: "TODO: fix bug"})

		require.NoError(t, err)
		assert.Equal(t, "**Action Items:**\n1. Fix bug (Owner: Ana; Deadline: Friday)\n2. Ship release", res.Text)
	})

	t.Run("conversational reply is returned as is", func(t *testing.T) {
		m := &mockLLM{}
		m.On("Complete", mock.Anything, mock.MatchedBy(func(p llm.Prompt) bool {
			return !strings.Contains(p.User, "Context:")
		})).Return("Paris is the capital of France.", nil).Once()

		d := newTestDispatcher(m, 2, nil)
		res, err := d.Execute(context.Background(), intent.Conversational, Content{Query: "Capital of France?", Body: "Capital of France?"})

		require.NoError(t, err)
		assert.Equal(t, "Paris is the capital of France.", res.Text)
		assert.Nil(t, res.Structured)
		assert.False(t, res.Unstructured)
	})

	t.Run("unparseable structured reply falls back to raw text", func(t *testing.T) {
		m := &mockLLM{}
		m.On("Complete", mock.Anything, mock.Anything).Return("It is mostly positive.", nil).Once()

		d := newTestDispatcher(m, 2, nil)
		res, err := d.Execute(context.Background(), intent.SentimentAnalysis, Content{Query: "sentiment?", Body: "great product"})

		require.NoError(t, err)
		assert.True(t, res.Unstructured)
		assert.Nil(t, res.Structured)
		assert.Equal(t, "It is mostly positive.", res.Text)
	})

	t.Run("clarification is never dispatched", func(t *testing.T) {
		m := &mockLLM{}
		d := newTestDispatcher(m, 2, nil)

		_, err := d.Execute(context.Background(), intent.ClarificationNeeded, Content{})

		assert.ErrorIs(t, err, ErrNotDispatchable)
		m.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	})
}

func TestDispatcher_Retry(t *testing.T) {
	content := Content{Query: "hi", Body: "hi"}

	t.Run("transient error is retried once", func(t *testing.T) {
		m := &mockLLM{}
		m.On("Complete", mock.Anything, mock.Anything).Return("", context.DeadlineExceeded).Once()
		m.On("Complete", mock.Anything, mock.Anything).Return("hello", nil).Once()
		obs := &recordingObserver{}

		d := newTestDispatcher(m, 2, obs)
		res, err := d.Execute(context.Background(), intent.Conversational, content)

		require.NoError(t, err)
		assert.Equal(t, 2, res.Attempts)
		assert.Equal(t, []string{"transient_error", "ok"}, obs.outcomes)
		m.AssertNumberOfCalls(t, "Complete", 2)
	})

	t.Run("persistent transient error stops at the cap", func(t *testing.T) {
		m := &mockLLM{}
		m.On("Complete", mock.Anything, mock.Anything).Return("", context.DeadlineExceeded)

		d := newTestDispatcher(m, 5, nil)
		_, err := d.Execute(context.Background(), intent.Conversational, content)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUpstream)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		m.AssertNumberOfCalls(t, "Complete", 2)
	})

	t.Run("non-transient error is not retried", func(t *testing.T) {
		m := &mockLLM{}
		m.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("invalid api key"))

		d := newTestDispatcher(m, 2, nil)
		_, err := d.Execute(context.Background(), intent.Conversational, content)

		assert.ErrorIs(t, err, ErrUpstream)
		m.AssertNumberOfCalls(t, "Complete", 1)
	})

	t.Run("single attempt policy never retries", func(t *testing.T) {
		m := &mockLLM{}
		m.On("Complete", mock.Anything, mock.Anything).Return("", context.DeadlineExceeded)

		d := newTestDispatcher(m, 1, nil)
		_, err := d.Execute(context.Background(), intent.Conversational, content)

		assert.ErrorIs(t, err, ErrUpstream)
		m.AssertNumberOfCalls(t, "Complete", 1)
	})

	t.Run("caller cancellation is not retried", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		m := &mockLLM{}
		m.On("Complete", mock.Anything, mock.Anything).Return("", context.Canceled)

		d := newTestDispatcher(m, 2, nil)
		_, err := d.Execute(ctx, intent.Conversational, content)

		assert.ErrorIs(t, err, ErrUpstream)
		m.AssertNumberOfCalls(t, "Complete", 1)
	})
}

func TestNewDispatcher_ClampsAttempts(t *testing.T) {
	assert.Equal(t, 1, NewDispatcher(&mockLLM{}, RetryPolicy{MaxAttempts: 0}, nil).retry.MaxAttempts)
	assert.Equal(t, 2, NewDispatcher(&mockLLM{}, RetryPolicy{MaxAttempts: 9}, nil).retry.MaxAttempts)
}

func TestRenderTaskPrompt(t *testing.T) {
	for _, in := range []intent.Intent{
		intent.Summarization,
		intent.SentimentAnalysis,
		intent.CodeExplanation,
		intent.ActionItems,
		intent.Conversational,
	} {
		t.Run(string(in), func(t *testing.T) {
			out, err := renderTaskPrompt(in, Content{Query: "q", Body: "q\n\n[Extracted Content]:\nbody text"})
			require.NoError(t, err)
			assert.Contains(t, out, "body text")
		})
	}

	t.Run("user text appears once when a file was extracted", func(t *testing.T) {
		query := "Summarize the attached report please"
		for _, in := range []intent.Intent{intent.Summarization, intent.Conversational} {
			out, err := renderTaskPrompt(in, Content{Query: query, Body: query + "\n\n[Extracted Content]:\nquarterly numbers"})
			require.NoError(t, err)
			assert.Equal(t, 1, strings.Count(out, query), string(in))
			assert.Contains(t, out, "[Extracted Content]:\nquarterly numbers")
		}
	})

	t.Run("text only request renders the text as the content", func(t *testing.T) {
		out, err := renderTaskPrompt(intent.Summarization, Content{Query: "Summarize: a long story", Body: "Summarize: a long story"})
		require.NoError(t, err)
		assert.Equal(t, 1, strings.Count(out, "Summarize: a long story"))
		assert.NotContains(t, out, "User request:")
	})

	t.Run("unknown intent has no template", func(t *testing.T) {
		_, err := renderTaskPrompt(intent.ClarificationNeeded, Content{})
		assert.Error(t, err)
	})
}
