// Package pricing implements PailFlow's cost functions as pure, stateless
// computations over a read-only rate table (§4.5, Design Note "Per-thread
// vs global pricing table").
package pricing

import (
	"fmt"
	"math"
)

// modelRate holds the per-million-token USD rates for one known LLM model.
type modelRate struct {
	InPerMillion  float64
	OutPerMillion float64
}

// rateTable is the compile-time, read-only price list. Rates are
// illustrative of the provider family in scope (Claude); extending it to a
// new model is a code change, not a runtime configuration.
var rateTable = map[string]modelRate{
	"claude-opus-4-6":          {InPerMillion: 15.00, OutPerMillion: 75.00},
	"claude-sonnet-4-6":        {InPerMillion: 3.00, OutPerMillion: 15.00},
	"claude-haiku-4-6":         {InPerMillion: 0.80, OutPerMillion: 4.00},
	"claude-3-5-sonnet":        {InPerMillion: 3.00, OutPerMillion: 15.00},
	"claude-3-5-haiku":         {InPerMillion: 0.80, OutPerMillion: 4.00},
	"claude-3-opus":            {InPerMillion: 15.00, OutPerMillion: 75.00},
	"claude-3-7-sonnet-latest": {InPerMillion: 3.00, OutPerMillion: 15.00},
}

// sttPerMinuteUSD is Deepgram Nova-2 ($0.0058/min) plus diarization
// ($0.0020/min), per §4.5.
const sttPerMinuteUSD = 0.0058 + 0.0020

const defaultBotCallRatePerMinute = 0.15

// ErrUnknownModel is returned by CalculateLLMCost for a model not present
// in the rate table.
type ErrUnknownModel struct{ Model string }

func (e *ErrUnknownModel) Error() string {
	return fmt.Sprintf("pricing: unknown model %q", e.Model)
}

// ErrNegativeDuration is returned by CalculateSTTCost for a negative duration.
type ErrNegativeDuration struct{ DurationS float64 }

func (e *ErrNegativeDuration) Error() string {
	return fmt.Sprintf("pricing: negative duration %vs", e.DurationS)
}

// CalculateLLMCost computes the USD cost of one LLM call (P6: pure, and
// zero tokens on a known model always costs exactly zero).
func CalculateLLMCost(model string, promptTokens, completionTokens int) (float64, error) {
	rate, ok := rateTable[model]
	if !ok {
		return 0, &ErrUnknownModel{Model: model}
	}
	total := float64(promptTokens)/1_000_000*rate.InPerMillion +
		float64(completionTokens)/1_000_000*rate.OutPerMillion
	return round6(total), nil
}

// CalculateSTTCost computes the USD cost of STT for a call of duration_s
// seconds, using the Nova-2 + diarization combined per-minute rate.
func CalculateSTTCost(durationS float64) (float64, error) {
	if durationS < 0 {
		return 0, &ErrNegativeDuration{DurationS: durationS}
	}
	return round6(durationS / 60 * sttPerMinuteUSD), nil
}

// CalculateBotCallCost computes the customer-facing USD cost of a bot call
// of duration_s seconds at the configured per-minute rate.
func CalculateBotCallCost(durationS, ratePerMinute float64) float64 {
	if ratePerMinute <= 0 {
		ratePerMinute = defaultBotCallRatePerMinute
	}
	return round6(durationS / 60 * ratePerMinute)
}

// DefaultBotCallRatePerMinute is exported so callers (e.g. config defaults)
// share the single source of truth for the fallback rate.
const DefaultBotCallRatePerMinute = defaultBotCallRatePerMinute

// KnownModels returns the names of all models with a price-table entry,
// in no particular order.
func KnownModels() []string {
	names := make([]string, 0, len(rateTable))
	for m := range rateTable {
		names = append(names, m)
	}
	return names
}

func round6(v float64) float64 {
	const scale = 1e6
	return math.Round(v*scale) / scale
}
