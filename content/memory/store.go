// Package memory is an in-process content store. It keeps documents per
// collection and reports every write to an observer, the way the real
// content store invokes its after-change hooks.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/xraph/ripple/content"
)

var _ content.Store = (*Store)(nil)

// Change describes one committed write.
type Change struct {
	Collection    string
	Operation     string
	Doc           content.Doc
	Previous      content.Doc
	Recalculating bool
}

// Observer is called after each write, outside the store lock.
type Observer func(ctx context.Context, c Change)

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	docs     map[string]map[string]content.Doc
	observer Observer
	reads    int
}

// New returns an empty store.
func New() *Store {
	return &Store{docs: make(map[string]map[string]content.Doc)}
}

// Observe sets the observer. It replaces any previous one.
func (s *Store) Observe(fn Observer) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

// Put creates or replaces a document. The document must carry an "id".
func (s *Store) Put(ctx context.Context, collection string, doc content.Doc) {
	doc = maps.Clone(doc)

	s.mu.Lock()
	coll, ok := s.docs[collection]
	if !ok {
		coll = make(map[string]content.Doc)
		s.docs[collection] = coll
	}
	prev, existed := coll[doc.ID()]
	coll[doc.ID()] = doc
	observer := s.observer
	s.mu.Unlock()

	if observer == nil {
		return
	}
	c := Change{Collection: collection, Operation: "create", Doc: maps.Clone(doc)}
	if existed {
		c.Operation = "update"
		c.Previous = prev
	}
	observer(ctx, c)
}

// Update applies fields to an existing document.
func (s *Store) Update(ctx context.Context, collection, id string, fields content.Doc) error {
	return s.update(ctx, collection, id, fields, false)
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	prev, ok := s.docs[collection][id]
	if !ok {
		s.mu.Unlock()
		return content.ErrNotFound
	}
	delete(s.docs[collection], id)
	observer := s.observer
	s.mu.Unlock()

	if observer != nil {
		observer(ctx, Change{Collection: collection, Operation: "delete", Doc: prev})
	}
	return nil
}

// Get returns a copy of a document.
func (s *Store) Get(_ context.Context, collection, id string) (content.Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[collection][id]
	if !ok {
		return nil, content.ErrNotFound
	}
	return maps.Clone(doc), nil
}

// Reads returns how many times ApprovedRatings has been called.
func (s *Store) Reads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reads
}

// ApprovedRatings implements content.Store.
func (s *Store) ApprovedRatings(_ context.Context, kind, id string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++

	var ratings []float64
	for _, review := range s.docs[content.CollectionReviews] {
		if review.String("status") != "approved" {
			continue
		}
		if k, owner := content.ReviewOwner(review); k != kind || owner != id {
			continue
		}
		if r, ok := review.Float("rating"); ok {
			ratings = append(ratings, r)
		}
	}
	return ratings, nil
}

// WriteAggregate implements content.Store. Observers see the write with
// Recalculating set.
func (s *Store) WriteAggregate(ctx context.Context, kind, id string, agg content.Aggregate) error {
	updatedAt := agg.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return s.update(ctx, kind, id, content.Doc{
		content.FieldReviewCount:      agg.Count,
		content.FieldAverageRating:    agg.Average,
		content.FieldRatingsUpdatedAt: updatedAt.Format(time.RFC3339Nano),
	}, true)
}

func (s *Store) update(ctx context.Context, collection, id string, fields content.Doc, recalculating bool) error {
	s.mu.Lock()
	prev, ok := s.docs[collection][id]
	if !ok {
		s.mu.Unlock()
		return content.ErrNotFound
	}
	doc := maps.Clone(prev)
	maps.Copy(doc, fields)
	s.docs[collection][id] = doc
	observer := s.observer
	s.mu.Unlock()

	if observer != nil {
		observer(ctx, Change{
			Collection:    collection,
			Operation:     "update",
			Doc:           maps.Clone(doc),
			Previous:      prev,
			Recalculating: recalculating,
		})
	}
	return nil
}
