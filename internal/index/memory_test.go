package index

import (
	"context"
	"errors"
	"testing"

	"github.com/finchlabs/docquery/internal/log"
)

func newTestIndex(t *testing.T, dim int) *Memory {
	t.Helper()
	idx, err := NewMemory("documents", dim, log.NewNop())
	if err != nil {
		t.Fatalf("NewMemory() error = %v", err)
	}
	if err := idx.CreateCollection(context.Background(), dim); err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}
	return idx
}

func TestNewMemoryValidation(t *testing.T) {
	tests := []struct {
		name       string
		collection string
		dim        int
		wantErr    error
	}{
		{name: "empty collection", collection: "", dim: 3, wantErr: ErrInvalidCollectionName},
		{name: "zero dimension", collection: "documents", dim: 0, wantErr: ErrDimensionMismatch},
		{name: "negative dimension", collection: "documents", dim: -1, wantErr: ErrDimensionMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMemory(tt.collection, tt.dim, log.NewNop())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewMemory() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMemorySearchOrdering(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 3)

	points := []Point{
		{ID: 1, Vector: []float32{0, 1, 0}, Source: "b.md", Text: "orthogonal"},
		{ID: 2, Vector: []float32{1, 0, 0}, Source: "a.md", Text: "exact"},
		{ID: 3, Vector: []float32{0.9, 0.1, 0}, Source: "c.md", Text: "close"},
	}
	if err := idx.Upsert(ctx, points); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("Search() returned %d hits, want 3", len(hits))
	}

	wantOrder := []int64{2, 3, 1}
	for i, want := range wantOrder {
		if hits[i].ID != want {
			t.Errorf("hits[%d].ID = %d, want %d", i, hits[i].ID, want)
		}
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("hits not ordered by descending score: %v", hits)
		}
	}
	if hits[0].Source != "a.md" || hits[0].Text != "exact" {
		t.Errorf("payload not preserved: %+v", hits[0])
	}
}

func TestMemorySearchClampsK(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 3)

	if err := idx.Upsert(ctx, []Point{{ID: 1, Vector: []float32{1, 0, 0}, Source: "a.md", Text: "only"}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("Search() returned %d hits, want 1", len(hits))
	}
}

func TestMemorySearchEmptyCollection(t *testing.T) {
	idx := newTestIndex(t, 3)

	hits, err := idx.Search(context.Background(), []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("Search() on empty collection returned %d hits, want 0", len(hits))
	}
}

func TestMemoryUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 3)

	if err := idx.Upsert(ctx, []Point{{ID: 7, Vector: []float32{1, 0, 0}, Source: "old.md", Text: "old text"}}); err != nil {
		t.Fatalf("first Upsert() error = %v", err)
	}
	if err := idx.Upsert(ctx, []Point{{ID: 7, Vector: []float32{0, 1, 0}, Source: "new.md", Text: "new text"}}); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	n, err := idx.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d after repeated upsert of one ID, want 1", n)
	}

	hits, err := idx.Search(ctx, []float32{0, 1, 0}, 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Source != "new.md" || hits[0].Text != "new text" {
		t.Errorf("upsert did not overwrite payload: %+v", hits)
	}
}

func TestMemoryDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 3)

	err := idx.Upsert(ctx, []Point{{ID: 1, Vector: []float32{1, 0}, Source: "a.md", Text: "short"}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Upsert() error = %v, want ErrDimensionMismatch", err)
	}

	_, err = idx.Search(ctx, []float32{1, 0, 0, 0}, 5)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Search() error = %v, want ErrDimensionMismatch", err)
	}

	err = idx.CreateCollection(ctx, 5)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("CreateCollection() error = %v, want ErrDimensionMismatch", err)
	}
}

func TestMemoryCollectionNotFound(t *testing.T) {
	idx, err := NewMemory("documents", 3, log.NewNop())
	if err != nil {
		t.Fatalf("NewMemory() error = %v", err)
	}

	upErr := idx.Upsert(context.Background(), []Point{{ID: 1, Vector: []float32{1, 0, 0}}})
	if !errors.Is(upErr, ErrCollectionNotFound) {
		t.Errorf("Upsert() error = %v, want ErrCollectionNotFound", upErr)
	}
}

func TestCreateCollectionDropsExistingPoints(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 3)

	if err := idx.Upsert(ctx, []Point{{ID: 1, Vector: []float32{1, 0, 0}, Source: "a.md", Text: "doomed"}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := idx.CreateCollection(ctx, 3); err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}

	n, err := idx.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Count() = %d after recreate, want 0", n)
	}
}

func TestValidIdentifier(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"documents", true},
		{"my_docs_2", true},
		{"_private", true},
		{"", false},
		{"2docs", false},
		{"Docs", false},
		{"docs-prod", false},
		{"docs; DROP TABLE users", false},
	}

	for _, tt := range tests {
		if got := validIdentifier(tt.name); got != tt.want {
			t.Errorf("validIdentifier(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
