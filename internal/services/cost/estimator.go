// Package cost gives a rough price for a request before it is run.
package cost

import (
	"errors"
	"fmt"
	"math"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"github.com/rs/zerolog/log"
)

var ErrInvalidInput = errors.New("invalid estimate input")

const (
	// overheadFactor accounts for the prompt template wrapped around the content.
	overheadFactor = 1.5
	bytesPerToken  = 4
	note           = "This is an approximation. Actual costs may vary."
)

// Pricing is expressed in USD per million tokens.
type Pricing struct {
	InputPerMTok          float64
	OutputPerMTok         float64
	EstimatedOutputTokens int
}

type Estimate struct {
	InputTokens  int     `json:"estimated_input_tokens"`
	OutputTokens int     `json:"estimated_output_tokens"`
	CostUSD      float64 `json:"estimated_cost_usd"`
	Note         string  `json:"note"`
}

// TokenCounter counts the tokens of a piece of text.
type TokenCounter interface {
	Count(text string) int
}

type Estimator struct {
	pricing Pricing
	counter TokenCounter
}

// NewEstimator creates an Estimator. A nil counter falls back to one token
// per four bytes of text.
func NewEstimator(pricing Pricing, counter TokenCounter) *Estimator {
	return &Estimator{pricing: pricing, counter: counter}
}

// Estimate prices a request carrying text and a file of fileSize bytes.
func (e *Estimator) Estimate(text string, fileSize int64) (*Estimate, error) {
	if fileSize < 0 {
		return nil, fmt.Errorf("%w: file_size must not be negative, got %d", ErrInvalidInput, fileSize)
	}

	textTokens := len(text) / bytesPerToken
	if e.counter != nil {
		textTokens = e.counter.Count(text)
	}
	fileTokens := int(fileSize / bytesPerToken)

	input := int(float64(textTokens+fileTokens) * overheadFactor)
	output := e.pricing.EstimatedOutputTokens

	cost := float64(input)*e.pricing.InputPerMTok/1e6 + float64(output)*e.pricing.OutputPerMTok/1e6

	return &Estimate{
		InputTokens:  input,
		OutputTokens: output,
		CostUSD:      math.Round(cost*1e4) / 1e4,
		Note:         note,
	}, nil
}

// Tiktoken counts tokens with a BPE encoding bundled in the binary.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

func NewTiktoken(encoding string) (*Tiktoken, error) {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load token encoding %s: %w", encoding, err)
	}
	log.Debug().Str("encoding", encoding).Msg("Token encoder loaded")
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}
