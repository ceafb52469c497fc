package quiz

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// TokenCounter estimates how many model tokens a text costs.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// RuneEstimate assumes four runes per token.
type RuneEstimate struct{}

func (RuneEstimate) Count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// NewTokenCounter returns the tiktoken encoding for model, or RuneEstimate
// when the model is unknown or its encoding cannot be loaded.
func NewTokenCounter(model string) TokenCounter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		log.Warn().Err(err).Str("model", model).Msg("No tokenizer for model, estimating tokens from length")
		return RuneEstimate{}
	}
	return tiktokenCounter{enc: enc}
}
