// Package content describes the content store the pipeline reads from and
// writes aggregates back to. The content store itself (schema, query
// engine, authentication) lives outside this module.
package content

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Collections known to the pipeline.
const (
	CollectionLocations = "locations"
	CollectionEvents    = "events"
	CollectionServices  = "services"
	CollectionReviews   = "reviews"
	CollectionUsers     = "users"
)

// ListingKinds are the collections whose documents are public listings.
var ListingKinds = []string{CollectionLocations, CollectionEvents, CollectionServices}

// IsListing reports whether collection holds listings.
func IsListing(collection string) bool {
	for _, k := range ListingKinds {
		if k == collection {
			return true
		}
	}
	return false
}

// Aggregate fields written back to a listing by a recalculation.
const (
	FieldReviewCount      = "reviewCount"
	FieldAverageRating    = "averageRating"
	FieldRatingsUpdatedAt = "ratingsUpdatedAt"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("ripple/content: document not found")

// Aggregate is the derived review statistics of one listing.
type Aggregate struct {
	Count     int
	Average   float64
	UpdatedAt time.Time
}

// Store is the slice of the content store the pipeline needs.
type Store interface {
	// Get returns one document, or an error wrapping ErrNotFound.
	Get(ctx context.Context, collection, id string) (Doc, error)

	// ApprovedRatings returns the ratings of every approved review of the
	// listing kind/id, read fresh from the store.
	ApprovedRatings(ctx context.Context, kind, id string) ([]float64, error)

	// WriteAggregate stores agg on the listing. The write is marked as a
	// recalculation so change hooks do not react to it.
	WriteAggregate(ctx context.Context, kind, id string, agg Aggregate) error
}

// Doc is a document as delivered by the content store: a JSON object.
type Doc map[string]any

// String returns the string at key, or "".
func (d Doc) String(key string) string {
	switch v := d[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Float returns the number at key. Numeric strings are parsed.
func (d Doc) Float(key string) (float64, bool) {
	switch v := d[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Ref returns the ID of the relation at key. Relations arrive either as a
// bare ID or as a populated document with an "id" field.
func (d Doc) Ref(key string) string {
	switch v := d[key].(type) {
	case map[string]any:
		return Doc(v).String("id")
	case Doc:
		return v.String("id")
	default:
		return d.String(key)
	}
}

// ID returns the document ID.
func (d Doc) ID() string { return d.String("id") }

// ReviewOwner returns the listing a review belongs to. entityKind
// defaults to locations.
func ReviewOwner(review Doc) (kind, id string) {
	kind = review.String("entityKind")
	if kind == "" {
		kind = CollectionLocations
	}
	return kind, review.Ref("entity")
}
