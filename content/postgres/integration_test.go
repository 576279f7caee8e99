//go:build integration

package postgres_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/ripple/content"
	"github.com/xraph/ripple/content/postgres"
)

// setupTestStore creates a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("ripple_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	store, err := postgres.Open(ctx, connStr)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// A second run is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate again: %v", err)
	}
	return store
}

func TestIntegration_RecalculationRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	docs := []struct {
		collection string
		doc        content.Doc
	}{
		{"locations", content.Doc{"id": "loc-1", "status": "approved", "slug": "corner-cafe"}},
		{"reviews", content.Doc{"id": "r1", "entity": "loc-1", "status": "approved", "rating": 4}},
		{"reviews", content.Doc{"id": "r2", "entity": map[string]any{"id": "loc-1"}, "status": "approved", "rating": 5}},
		{"reviews", content.Doc{"id": "r3", "entity": "loc-1", "status": "pending", "rating": 1}},
		{"reviews", content.Doc{"id": "r4", "entity": "loc-1", "entityKind": "events", "status": "approved", "rating": 2}},
	}
	for _, d := range docs {
		if err := s.Put(ctx, d.collection, d.doc); err != nil {
			t.Fatalf("put %s/%s: %v", d.collection, d.doc.ID(), err)
		}
	}

	ratings, err := s.ApprovedRatings(ctx, "locations", "loc-1")
	if err != nil {
		t.Fatalf("approved ratings: %v", err)
	}
	sort.Float64s(ratings)
	if len(ratings) != 2 || ratings[0] != 4 || ratings[1] != 5 {
		t.Fatalf("ratings = %v, want [4 5]", ratings)
	}

	if err := s.WriteAggregate(ctx, "locations", "loc-1", content.Aggregate{Count: 2, Average: 4.5}); err != nil {
		t.Fatalf("write aggregate: %v", err)
	}
	doc, err := s.Get(ctx, "locations", "loc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if avg, _ := doc.Float(content.FieldAverageRating); avg != 4.5 {
		t.Errorf("averageRating = %v, want 4.5", doc[content.FieldAverageRating])
	}
	if doc.String("slug") != "corner-cafe" {
		t.Error("aggregate write should keep other fields")
	}
}
