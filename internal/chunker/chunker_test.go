package chunker

import (
	"errors"
	"strings"
	"testing"
)

func mustChunker(t *testing.T, policy OversizePolicy) *Chunker {
	t.Helper()
	c, err := New(policy)
	if err != nil {
		t.Fatalf("New(%q) unexpected error: %v", policy, err)
	}
	return c
}

func TestNew_UnknownPolicy(t *testing.T) {
	t.Parallel()

	if _, err := New("shred"); err == nil {
		t.Fatal("New(\"shred\") expected error, got nil")
	}
}

func TestSplit_OverlapValidation(t *testing.T) {
	t.Parallel()

	c := mustChunker(t, PolicyKeep)
	doc := Document{Path: "a.txt", Text: "hello world"}

	tests := []struct {
		name    string
		size    int
		overlap int
		wantErr bool
	}{
		{name: "overlap equals size", size: 10, overlap: 10, wantErr: true},
		{name: "overlap exceeds size", size: 10, overlap: 20, wantErr: true},
		{name: "negative overlap", size: 10, overlap: -1, wantErr: true},
		{name: "zero size", size: 0, overlap: 0, wantErr: true},
		{name: "valid", size: 10, overlap: 2, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Split(doc, tt.size, tt.overlap)
			if tt.wantErr && err == nil {
				t.Errorf("Split(size=%d, overlap=%d) expected error", tt.size, tt.overlap)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Split(size=%d, overlap=%d) unexpected error: %v", tt.size, tt.overlap, err)
			}
		})
	}
}

func TestSplit_OverlapErrorIsSentinel(t *testing.T) {
	t.Parallel()

	c := mustChunker(t, PolicyKeep)
	_, err := c.Split(Document{Path: "a", Text: "x"}, 5, 5)
	if !errors.Is(err, ErrOverlapTooLarge) {
		t.Errorf("expected ErrOverlapTooLarge, got %v", err)
	}
}

func TestSplit_EmptyDocument(t *testing.T) {
	t.Parallel()

	c := mustChunker(t, PolicyKeep)
	chunks, err := c.Split(Document{Path: "empty.txt", Text: ""}, 100, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks for empty document, got %d", len(chunks))
	}
}

func TestSplit_SmallDocumentSingleChunk(t *testing.T) {
	t.Parallel()

	c := mustChunker(t, PolicyKeep)
	doc := Document{Path: "small.txt", Text: "just one short paragraph"}

	chunks, err := c.Split(doc, 100, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != doc.Text {
		t.Errorf("chunk text = %q, want %q", chunks[0].Text, doc.Text)
	}
	if chunks[0].Source != "small.txt" {
		t.Errorf("chunk source = %q, want %q", chunks[0].Source, "small.txt")
	}
}

func TestSplit_SourcePropagation(t *testing.T) {
	t.Parallel()

	c := mustChunker(t, PolicyKeep)
	doc := Document{
		Path: "docs/guide.md",
		Text: strings.Repeat("paragraph one.\n\n", 20),
	}

	chunks, err := c.Split(doc, 64, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Source != doc.Path {
			t.Errorf("chunk %d source = %q, want %q", i, ch.Source, doc.Path)
		}
	}
}

// With zero overlap, concatenating the chunks in order must reproduce the
// document exactly: separators stay attached and nothing is dropped.
func TestSplit_ZeroOverlapReconstruction(t *testing.T) {
	t.Parallel()

	c := mustChunker(t, PolicyKeep)

	docs := []string{
		"alpha beta gamma.\n\ndelta epsilon.\n\nzeta eta theta iota kappa.",
		"line one\nline two\nline three\nline four\nline five\nline six",
		strings.Repeat("a paragraph of middling length, number 7.\n\n", 13),
		"no separators at all just one long run of words that keeps going for a while",
	}

	for _, text := range docs {
		chunks, err := c.Split(Document{Path: "d", Text: text}, 40, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var sb strings.Builder
		for _, ch := range chunks {
			sb.WriteString(ch.Text)
		}
		if sb.String() != text {
			t.Errorf("reconstruction mismatch:\n got %q\nwant %q", sb.String(), text)
		}
	}
}

func TestSplit_ChunkLengthBound(t *testing.T) {
	t.Parallel()

	c := mustChunker(t, PolicyKeep)
	text := strings.Repeat("one short line\n", 50)

	const size = 64
	chunks, err := c.Split(Document{Path: "d", Text: text}, size, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, ch := range chunks {
		if got := runeLen(ch.Text); got > size {
			t.Errorf("chunk %d length %d exceeds size %d", i, got, size)
		}
	}
}

func TestSplit_OverlapSharedBetweenChunks(t *testing.T) {
	t.Parallel()

	c := mustChunker(t, PolicyKeep)
	text := strings.Repeat("0123456789\n", 12)

	const overlap = 4
	chunks, err := c.Split(Document{Path: "d", Text: text}, 30, overlap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		seed := tailRunes(chunks[i-1].Text, overlap)
		if !strings.HasPrefix(chunks[i].Text, seed) {
			t.Errorf("chunk %d does not start with tail of chunk %d: %q vs %q",
				i, i-1, chunks[i].Text, seed)
		}
	}
}

// An indivisible fragment longer than the chunk size is passed through
// oversized under PolicyKeep, and window-cut under PolicyTruncate.
func TestSplit_OversizedIndivisibleFragment(t *testing.T) {
	t.Parallel()

	longLine := strings.Repeat("x", 100)
	doc := Document{Path: "d", Text: "short intro\n" + longLine + "\nshort outro"}
	const size = 40

	t.Run("keep", func(t *testing.T) {
		c := mustChunker(t, PolicyKeep)
		chunks, err := c.Split(doc, size, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var oversized int
		for _, ch := range chunks {
			if runeLen(ch.Text) > size {
				oversized++
				if !strings.Contains(ch.Text, longLine) {
					t.Errorf("oversized chunk does not contain the indivisible line")
				}
			}
		}
		if oversized != 1 {
			t.Errorf("expected exactly 1 oversized chunk, got %d", oversized)
		}
	})

	t.Run("truncate", func(t *testing.T) {
		c := mustChunker(t, PolicyTruncate)
		chunks, err := c.Split(doc, size, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for i, ch := range chunks {
			if got := runeLen(ch.Text); got > size {
				t.Errorf("chunk %d length %d exceeds size %d under PolicyTruncate", i, got, size)
			}
		}

		var sb strings.Builder
		for _, ch := range chunks {
			sb.WriteString(ch.Text)
		}
		if sb.String() != doc.Text {
			t.Error("truncate policy must window-cut, not drop content")
		}
	})
}

func TestSplit_MultibyteRunes(t *testing.T) {
	t.Parallel()

	c := mustChunker(t, PolicyTruncate)
	text := strings.Repeat("許多中文字元的一行測試", 10)

	chunks, err := c.Split(Document{Path: "zh.txt", Text: text}, 16, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sb strings.Builder
	for i, ch := range chunks {
		if got := runeLen(ch.Text); got > 16 {
			t.Errorf("chunk %d rune length %d exceeds 16", i, got)
		}
		sb.WriteString(ch.Text)
	}
	if sb.String() != text {
		t.Error("multibyte reconstruction mismatch")
	}
}
