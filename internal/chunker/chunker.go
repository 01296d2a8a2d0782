// Package chunker splits raw document text into overlapping bounded-length
// segments, the unit of embedding and retrieval.
//
// Splitting is recursive: the text is first divided on paragraph breaks, any
// piece still longer than the chunk size is divided on line breaks, and a
// single line that exceeds the chunk size is indivisible. Indivisible
// fragments are passed through oversized by default; see OversizePolicy.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// separators are tried coarsest-first. A piece that still exceeds the chunk
// size after the last separator is indivisible.
var separators = []string{"\n\n", "\n"}

// ErrOverlapTooLarge indicates chunk_overlap >= chunk_size, which would
// prevent forward progress. This is a configuration error, never clamped.
var ErrOverlapTooLarge = errors.New("chunk overlap must be smaller than chunk size")

// OversizePolicy controls what happens to an indivisible fragment longer
// than the chunk size.
type OversizePolicy string

const (
	// PolicyKeep emits the oversized fragment as-is. Callers needing a hard
	// ceiling must post-filter.
	PolicyKeep OversizePolicy = "keep"

	// PolicyTruncate hard-cuts oversized fragments into chunk-size windows.
	PolicyTruncate OversizePolicy = "truncate"
)

// Document is an ingestion input record: already-extracted text plus the
// identifier all derived chunks inherit.
type Document struct {
	Path string // Source identifier; copied into every chunk
	Text string
}

// Chunk is a bounded segment of one document.
// Immutable after creation.
type Chunk struct {
	Text   string
	Source string // Path of the originating document
}

// Chunker splits documents. The zero value uses PolicyKeep.
type Chunker struct {
	policy OversizePolicy
}

// New creates a Chunker with the given oversize policy.
// An empty policy defaults to PolicyKeep.
func New(policy OversizePolicy) (*Chunker, error) {
	switch policy {
	case "":
		policy = PolicyKeep
	case PolicyKeep, PolicyTruncate:
	default:
		return nil, fmt.Errorf("unknown oversize policy %q", policy)
	}
	return &Chunker{policy: policy}, nil
}

// Split divides doc.Text into chunks of at most size runes, with adjacent
// chunks sharing up to overlap trailing/leading runes. Lengths are counted
// in runes so multi-byte text does not split mid-character.
//
// overlap >= size is reported as ErrOverlapTooLarge at call time.
// An empty document yields no chunks.
func (c *Chunker) Split(doc Document, size, overlap int) ([]Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d, size %d", ErrOverlapTooLarge, overlap, size)
	}

	if doc.Text == "" {
		return nil, nil
	}

	segments := c.merge(c.split(doc.Text, size, 0), size, overlap)

	chunks := make([]Chunk, 0, len(segments))
	for _, seg := range segments {
		chunks = append(chunks, Chunk{Text: seg, Source: doc.Path})
	}
	return chunks, nil
}

// split recursively divides text into pieces no longer than size runes,
// descending through the separator list. Separators stay attached to the
// preceding piece (SplitAfter) so concatenating the pieces reproduces the
// input exactly.
func (c *Chunker) split(text string, size, sepIdx int) []string {
	if runeLen(text) <= size {
		return []string{text}
	}

	if sepIdx >= len(separators) {
		// Indivisible fragment
		if c.policy == PolicyTruncate {
			return windows(text, size)
		}
		return []string{text}
	}

	parts := strings.SplitAfter(text, separators[sepIdx])

	var out []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		if runeLen(part) > size {
			out = append(out, c.split(part, size, sepIdx+1)...)
		} else {
			out = append(out, part)
		}
	}
	return out
}

// merge greedily packs adjacent pieces into chunks of at most size runes.
// When a chunk is flushed, the next one is seeded with its last overlap
// runes to preserve cross-boundary context. The seed is dropped when the
// next piece would not fit beside it, so a boundary never forces an
// overlap-only chunk.
func (c *Chunker) merge(pieces []string, size, overlap int) []string {
	var (
		out     []string
		buf     strings.Builder
		bufLen  int
		seedLen int // Runes of buf that are carried overlap, not new content
	)

	flush := func() {
		if bufLen > seedLen {
			out = append(out, buf.String())
		}
		buf.Reset()
		bufLen, seedLen = 0, 0
	}

	for _, piece := range pieces {
		pLen := runeLen(piece)

		// Oversized indivisible piece: emit alone, no overlap stitching
		if pLen > size {
			flush()
			out = append(out, piece)
			continue
		}

		if bufLen+pLen > size {
			if bufLen == seedLen {
				// Only the overlap seed is buffered; drop it instead of
				// emitting a chunk with no new content
				buf.Reset()
				bufLen, seedLen = 0, 0
			} else {
				prev := buf.String()
				out = append(out, prev)
				buf.Reset()
				bufLen, seedLen = 0, 0
				if overlap > 0 {
					seed := tailRunes(prev, overlap)
					buf.WriteString(seed)
					bufLen = runeLen(seed)
					seedLen = bufLen
				}
				if bufLen+pLen > size {
					buf.Reset()
					bufLen, seedLen = 0, 0
				}
			}
		}

		buf.WriteString(piece)
		bufLen += pLen
	}
	flush()

	return out
}

// windows cuts text into fixed-size rune windows. Used only under
// PolicyTruncate for indivisible fragments.
func windows(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}

// tailRunes returns the last n runes of s.
func tailRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
