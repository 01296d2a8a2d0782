package budget

import (
	"errors"
	"strings"
	"testing"
)

// wordTokenizer counts whitespace-separated words. Deterministic and
// monotonic, and easier to reason about in tests than the rune estimator.
type wordTokenizer struct{}

func (wordTokenizer) Count(text string) int {
	return len(strings.Fields(text))
}

func TestAllocate_Split(t *testing.T) {
	t.Parallel()

	b := New(wordTokenizer{})

	tests := []struct {
		name      string
		system    string
		assistant string
		total     int
		wantIn    int
		wantOut   int
	}{
		{
			name:    "no preamble",
			total:   100,
			wantIn:  50,
			wantOut: 50,
		},
		{
			name:    "system preamble charged to input half",
			system:  "answer from context only",
			total:   100,
			wantIn:  46,
			wantOut: 50,
		},
		{
			name:      "both preambles charged",
			system:    "one two three",
			assistant: "four five",
			total:     100,
			wantIn:    45,
			wantOut:   50,
		},
		{
			name:    "odd total floors the halves",
			total:   101,
			wantIn:  50,
			wantOut: 50,
		},
		{
			name:    "preamble exactly fills input half",
			system:  strings.Repeat("w ", 50),
			total:   100,
			wantIn:  0,
			wantOut: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, out, err := b.Allocate(tt.system, tt.assistant, tt.total)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if in != tt.wantIn || out != tt.wantOut {
				t.Errorf("Allocate() = (%d, %d), want (%d, %d)", in, out, tt.wantIn, tt.wantOut)
			}
			if in+out > tt.total {
				t.Errorf("allowances %d+%d exceed total %d", in, out, tt.total)
			}
		})
	}
}

func TestAllocate_PreambleExceedsBudget(t *testing.T) {
	t.Parallel()

	b := New(wordTokenizer{})

	_, _, err := b.Allocate(strings.Repeat("w ", 51), "", 100)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("expected ErrBudgetExceeded, got %v", err)
	}
}

func TestAllocate_NonPositiveTotal(t *testing.T) {
	t.Parallel()

	b := New(nil)
	if _, _, err := b.Allocate("", "", 0); err == nil {
		t.Error("expected error for zero budget")
	}
}

func TestTrim(t *testing.T) {
	t.Parallel()

	b := New(wordTokenizer{})

	tests := []struct {
		name      string
		text      string
		maxTokens int
		want      string
	}{
		{
			name:      "within budget unchanged",
			text:      "one two three",
			maxTokens: 5,
			want:      "one two three",
		},
		{
			name:      "exact budget unchanged",
			text:      "one two three",
			maxTokens: 3,
			want:      "one two three",
		},
		{
			name:      "truncated by token count",
			text:      "one two three four five",
			maxTokens: 3,
			// Trailing space survives: the fourth word is cut, not trimmed
			want: "one two three ",
		},
		{
			name:      "zero budget empties",
			text:      "anything",
			maxTokens: 0,
			want:      "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.Trim(tt.text, tt.maxTokens)
			if got != tt.want {
				t.Errorf("Trim(%q, %d) = %q, want %q", tt.text, tt.maxTokens, got, tt.want)
			}
			if c := b.Count(got); c > tt.maxTokens {
				t.Errorf("trimmed text still counts %d tokens, budget %d", c, tt.maxTokens)
			}
		})
	}
}

func TestTrim_Estimator(t *testing.T) {
	t.Parallel()

	b := New(nil) // Default rune estimator

	text := strings.Repeat("abcd", 100) // 400 runes ≈ 200 tokens
	got := b.Trim(text, 50)

	if c := b.Count(got); c > 50 {
		t.Errorf("trimmed count %d exceeds 50", c)
	}
	if !strings.HasPrefix(text, got) {
		t.Error("trim must return a prefix of the input")
	}
	if len(got) == 0 {
		t.Error("trim to a positive budget should keep some content")
	}
}

func TestEstimator_CJKAndASCII(t *testing.T) {
	t.Parallel()

	e := Estimator{}
	if got := e.Count("abcd"); got != 2 {
		t.Errorf("Count(abcd) = %d, want 2", got)
	}
	if got := e.Count("中文字元"); got != 2 {
		t.Errorf("Count of 4 CJK runes = %d, want 2", got)
	}
	if got := e.Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d, want 0", got)
	}
}
