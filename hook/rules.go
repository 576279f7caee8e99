package hook

import (
	"slices"

	"github.com/xraph/ripple/cache"
	"github.com/xraph/ripple/content"
)

// Document fields the rules read.
const (
	fieldStatus     = "status"
	fieldRating     = "rating"
	fieldEntity     = "entity"
	fieldEntityKind = "entityKind"
	fieldSlug       = "slug"
	fieldCity       = "city"
	fieldTenant     = "tenant"
	fieldOwner      = "owner"
)

// Statuses with meaning to the rules.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
)

// Rules configure Decide.
type Rules struct {
	// CounterFields are derived or rolling fields. An update that touches
	// only these, and not status, has no side effects.
	CounterFields []string

	// PublishedStatuses are the listing statuses visible on the site.
	PublishedStatuses []string
}

// DefaultRules returns the marketplace rules.
func DefaultRules() Rules {
	return Rules{
		CounterFields: []string{
			"views",
			"viewCount",
			"updatedAt",
			"lastViewedAt",
			content.FieldReviewCount,
			content.FieldAverageRating,
			content.FieldRatingsUpdatedAt,
		},
		PublishedStatuses: []string{StatusApproved, "published"},
	}
}

// skip reports whether changed only touches counter fields.
func (r Rules) skip(changed []string) bool {
	for _, f := range changed {
		if f == fieldStatus || !slices.Contains(r.CounterFields, f) {
			return false
		}
	}
	return true
}

func (r Rules) published(doc content.Doc) bool {
	return doc != nil && slices.Contains(r.PublishedStatuses, doc.String(fieldStatus))
}

// listingTags derives the tags of a listing mutation.
//
//	create                  tags iff published
//	delete                  tags iff it was published
//	update unpub <-> pub    collection, city, listing, home
//	update pub -> pub       collection, city, listing
//	update unpub -> unpub   none
//
// Updates also tag the previous city and slug when they changed.
func (r Rules) listingTags(op Operation, collection string, cur, prev content.Doc) cache.Tags {
	switch op {
	case OpCreate:
		if !r.published(cur) {
			return nil
		}
		return listingPage(collection, cur).Add(cache.Home)
	case OpDelete:
		// A delete may arrive with the removed document in either slot.
		doc := cur
		if doc == nil {
			doc = prev
		}
		if !r.published(doc) {
			return nil
		}
		return listingPage(collection, doc).Add(cache.Home)
	}

	was, is := r.published(prev), r.published(cur)
	if !was && !is {
		return nil
	}
	tags := listingPage(collection, cur).Add(
		cityTag(prev),
		slugTag(prev),
	)
	if was != is {
		tags = tags.Add(cache.Home)
	}
	return tags
}

func listingPage(collection string, doc content.Doc) cache.Tags {
	return cache.NewTags(cache.Collection(collection), cityTag(doc), slugTag(doc))
}

func cityTag(doc content.Doc) string {
	if doc == nil {
		return ""
	}
	// city arrives as a slug or as a populated document.
	var slug string
	switch v := doc[fieldCity].(type) {
	case map[string]any:
		slug = content.Doc(v).String(fieldSlug)
	case content.Doc:
		slug = v.String(fieldSlug)
	default:
		slug = doc.String(fieldCity)
	}
	if slug == "" {
		return ""
	}
	return cache.City(slug)
}

func slugTag(doc content.Doc) string {
	if doc == nil || doc.String(fieldSlug) == "" {
		return ""
	}
	return cache.Listing(doc.String(fieldSlug))
}

// reviewTags tags the review list of every listing the review belongs or
// belonged to, when the review is or was approved.
func reviewTags(cur, prev content.Doc) cache.Tags {
	if !approved(cur) && !approved(prev) {
		return nil
	}
	tags := cache.NewTags(cache.Collection(content.CollectionReviews))
	for _, doc := range []content.Doc{cur, prev} {
		if doc == nil {
			continue
		}
		if _, id := content.ReviewOwner(doc); id != "" {
			tags = tags.Add(cache.Reviews(id))
		}
	}
	return tags
}

func approved(doc content.Doc) bool {
	return doc != nil && doc.String(fieldStatus) == StatusApproved
}

func tenantTag(docs ...content.Doc) string {
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		if t := doc.Ref(fieldTenant); t != "" {
			return cache.Tenant(t)
		}
	}
	return ""
}
