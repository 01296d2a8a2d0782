//go:build integration

package index

import (
	"context"
	"errors"
	"testing"

	"github.com/finchlabs/docquery/internal/log"
	"github.com/finchlabs/docquery/internal/testutil"
)

func TestPostgresIndex(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	idx, err := NewPostgres(db.Pool, "documents", 3, log.NewNop())
	if err != nil {
		t.Fatalf("NewPostgres() error = %v", err)
	}

	t.Run("search before create returns ErrCollectionNotFound", func(t *testing.T) {
		_, err := idx.Search(ctx, []float32{1, 0, 0}, 3)
		if !errors.Is(err, ErrCollectionNotFound) {
			t.Errorf("Search() error = %v, want ErrCollectionNotFound", err)
		}
	})

	if err := idx.CreateCollection(ctx, 3); err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}

	t.Run("upsert and ordered search", func(t *testing.T) {
		points := []Point{
			{ID: 1, Vector: []float32{0, 1, 0}, Source: "b.md", Text: "orthogonal"},
			{ID: 2, Vector: []float32{1, 0, 0}, Source: "a.md", Text: "exact"},
			{ID: 3, Vector: []float32{0.9, 0.1, 0}, Source: "c.md", Text: "close"},
		}
		if err := idx.Upsert(ctx, points); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		hits, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(hits) != 2 {
			t.Fatalf("Search() returned %d hits, want 2", len(hits))
		}
		if hits[0].ID != 2 || hits[1].ID != 3 {
			t.Errorf("hit order = [%d %d], want [2 3]", hits[0].ID, hits[1].ID)
		}
		if hits[0].Source != "a.md" || hits[0].Text != "exact" {
			t.Errorf("payload not preserved: %+v", hits[0])
		}
		if hits[0].Score < hits[1].Score {
			t.Errorf("scores not descending: %v", hits)
		}
	})

	t.Run("upsert overwrites by id", func(t *testing.T) {
		if err := idx.Upsert(ctx, []Point{{ID: 2, Vector: []float32{0, 0, 1}, Source: "new.md", Text: "replaced"}}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		hits, err := idx.Search(ctx, []float32{0, 0, 1}, 1)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(hits) != 1 || hits[0].ID != 2 || hits[0].Source != "new.md" {
			t.Errorf("overwrite not applied: %+v", hits)
		}

		n, err := idx.Count(ctx)
		if err != nil {
			t.Fatalf("Count() error = %v", err)
		}
		if n != 3 {
			t.Errorf("Count() = %d after overwrite, want 3", n)
		}
	})

	t.Run("dimension mismatch rejected", func(t *testing.T) {
		err := idx.Upsert(ctx, []Point{{ID: 9, Vector: []float32{1, 0}, Source: "x.md", Text: "short"}})
		if !errors.Is(err, ErrDimensionMismatch) {
			t.Errorf("Upsert() error = %v, want ErrDimensionMismatch", err)
		}
	})

	t.Run("recreate drops points", func(t *testing.T) {
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
	})
}
