package content_test

import (
	"testing"

	"github.com/xraph/ripple/content"
)

func TestDoc_Accessors(t *testing.T) {
	d := content.Doc{
		"id":     "rev-1",
		"rating": 4.0,
		"score":  "3.5",
		"count":  7,
		"entity": map[string]any{"id": "loc-1", "title": "Cafe"},
	}

	if d.ID() != "rev-1" {
		t.Errorf("ID = %q", d.ID())
	}
	if f, ok := d.Float("rating"); !ok || f != 4 {
		t.Errorf("rating = %v, %v", f, ok)
	}
	if f, ok := d.Float("score"); !ok || f != 3.5 {
		t.Errorf("score = %v, %v", f, ok)
	}
	if f, ok := d.Float("count"); !ok || f != 7 {
		t.Errorf("count = %v, %v", f, ok)
	}
	if _, ok := d.Float("missing"); ok {
		t.Error("missing key should not parse")
	}
	if d.Ref("entity") != "loc-1" {
		t.Errorf("Ref(entity) = %q", d.Ref("entity"))
	}
	if d.String("missing") != "" {
		t.Errorf("String(missing) = %q", d.String("missing"))
	}
}

func TestReviewOwner(t *testing.T) {
	tests := []struct {
		doc      content.Doc
		kind, id string
	}{
		{content.Doc{"entity": "loc-1"}, "locations", "loc-1"},
		{content.Doc{"entity": "ev-9", "entityKind": "events"}, "events", "ev-9"},
		{content.Doc{"entity": map[string]any{"id": "svc-2"}, "entityKind": "services"}, "services", "svc-2"},
		{content.Doc{}, "locations", ""},
	}
	for _, tt := range tests {
		kind, id := content.ReviewOwner(tt.doc)
		if kind != tt.kind || id != tt.id {
			t.Errorf("ReviewOwner(%v) = %q, %q; want %q, %q", tt.doc, kind, id, tt.kind, tt.id)
		}
	}
}

func TestIsListing(t *testing.T) {
	for _, c := range content.ListingKinds {
		if !content.IsListing(c) {
			t.Errorf("%s should be a listing", c)
		}
	}
	if content.IsListing(content.CollectionReviews) || content.IsListing(content.CollectionUsers) {
		t.Error("reviews and users are not listings")
	}
}
