// Package budget enforces the context-window token policy for generation
// requests.
//
// The generation model's context window is split 50/50 between input
// (retrieved context + query) and output (generated answer). The token cost
// of the fixed system/assistant preamble is subtracted from the input half.
// This split is a hard design choice, not tunable per call:
//
//	inputAllowance  = floor(total/2) - tokens(system + assistant)
//	outputAllowance = floor(total/2)
package budget

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrBudgetExceeded indicates the preamble alone costs more than the input
// half of the context window. Surfaced at agent construction, never at trim
// time.
var ErrBudgetExceeded = errors.New("preamble exceeds input token allowance")

// Tokenizer counts text in the generation model's token units.
// Implementations must be deterministic and monotonic: a prefix of a string
// never counts more tokens than the whole.
type Tokenizer interface {
	Count(text string) int
}

// Estimator is the default Tokenizer: a rough rune-based count.
// Uses rune count divided by 2 as a conservative estimate that works for
// both English (~4 chars/token) and CJK (~1.5 chars/token) text.
type Estimator struct{}

// Count implements Tokenizer.
func (Estimator) Count(text string) int {
	return utf8.RuneCountInString(text) / 2
}

// Budgeter allocates and enforces token budgets using a fixed tokenizer.
type Budgeter struct {
	tok Tokenizer
}

// New creates a Budgeter. A nil tokenizer falls back to the Estimator.
func New(tok Tokenizer) *Budgeter {
	if tok == nil {
		tok = Estimator{}
	}
	return &Budgeter{tok: tok}
}

// Count returns the token cost of text under the configured tokenizer.
func (b *Budgeter) Count(text string) int {
	return b.tok.Count(text)
}

// Allocate splits total between input and output allowances after charging
// the system and assistant preambles against the input half.
//
// Returns ErrBudgetExceeded when the preamble cost alone would make the
// input allowance negative.
func (b *Budgeter) Allocate(system, assistant string, total int) (inputAllowance, outputAllowance int, err error) {
	if total <= 0 {
		return 0, 0, fmt.Errorf("%w: total budget %d", ErrBudgetExceeded, total)
	}

	half := total / 2
	preamble := b.tok.Count(system) + b.tok.Count(assistant)

	inputAllowance = half - preamble
	if inputAllowance < 0 {
		return 0, 0, fmt.Errorf("%w: preamble costs %d tokens, input half is %d",
			ErrBudgetExceeded, preamble, half)
	}

	return inputAllowance, half, nil
}

// Trim truncates text to at most maxTokens tokens. Truncation is by token
// count, not character count, and is silent: callers see only the shortened
// string.
func (b *Budgeter) Trim(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if b.tok.Count(text) <= maxTokens {
		return text
	}

	// Binary search for the longest rune prefix within budget.
	// Relies on tokenizer monotonicity.
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if b.tok.Count(string(runes[:mid])) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}
