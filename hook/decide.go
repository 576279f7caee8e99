package hook

import (
	"errors"
	"fmt"
	"slices"

	"github.com/xraph/ripple/cache"
	"github.com/xraph/ripple/coalesce"
	"github.com/xraph/ripple/content"
	"github.com/xraph/ripple/notify"
)

var (
	// ErrUnknownOperation is returned for an operation outside the
	// content store's hook contract.
	ErrUnknownOperation = errors.New("ripple/hook: unknown operation")

	// ErrDecide wraps a panic raised while deciding.
	ErrDecide = errors.New("ripple/hook: decide panicked")
)

// Decision is the set of side effects of one mutation.
type Decision struct {
	Tags          cache.Tags
	Recompute     []coalesce.Key
	Notifications []notify.Notification

	// Skip is set when the mutation only touched counter fields.
	Skip bool

	// Changed lists the changed fields, for logging.
	Changed []string
}

// ShouldRecompute reports whether any aggregate must be recomputed.
func (d Decision) ShouldRecompute() bool { return len(d.Recompute) > 0 }

// Empty reports whether the decision has no side effects.
func (d Decision) Empty() bool {
	return d.Tags.Empty() && len(d.Recompute) == 0 && len(d.Notifications) == 0
}

// Decide applies DefaultRules.
func Decide(m Mutation) (Decision, error) {
	return DefaultRules().Decide(m)
}

// Decide computes the side effects of m. It has no side effects itself
// and returns the same decision for the same mutation.
func (r Rules) Decide(m Mutation) (d Decision, err error) {
	defer func() {
		if p := recover(); p != nil {
			d, err = Decision{}, fmt.Errorf("%w: %v", ErrDecide, p)
		}
	}()

	op, err := m.Operation.single()
	if err != nil {
		return Decision{}, err
	}

	cur, prev := m.Doc, m.Previous
	switch op {
	case OpCreate:
		prev = nil
	case OpDelete:
		// Everything the document had is gone.
		if cur == nil {
			cur = prev
		}
		cur, prev = nil, cur
	}

	changed, err := Changed(prev, cur)
	if err != nil {
		return Decision{}, err
	}
	d.Changed = changed

	if op == OpUpdate && r.skip(changed) {
		return Decision{Skip: true, Changed: changed}, nil
	}

	switch {
	case content.IsListing(m.Collection):
		d.Tags = r.listingTags(op, m.Collection, cur, prev)
	case m.Collection == content.CollectionReviews:
		d.Tags = reviewTags(cur, prev)
	}
	if !d.Tags.Empty() {
		d.Tags = d.Tags.Add(tenantTag(cur, prev))
	}

	if m.Recalculating {
		return d, nil
	}

	if m.Collection == content.CollectionReviews {
		d.Recompute = recomputeKeys(op, cur, prev, changed)
	}
	d.Notifications = r.notifications(op, m.Collection, cur, prev)
	return d, nil
}

// recomputeFields are the review fields that feed an aggregate.
var recomputeFields = []string{fieldStatus, fieldRating, fieldEntity, fieldEntityKind}

// recomputeKeys returns the listings whose review statistics a review
// mutation affects. A review moved between listings affects both.
func recomputeKeys(op Operation, cur, prev content.Doc, changed []string) []coalesce.Key {
	var docs []content.Doc
	switch op {
	case OpCreate:
		if approved(cur) {
			docs = append(docs, cur)
		}
	case OpDelete:
		if approved(prev) {
			docs = append(docs, prev)
		}
	case OpUpdate:
		if !approved(cur) && !approved(prev) {
			return nil
		}
		if !slices.ContainsFunc(changed, func(f string) bool {
			return slices.Contains(recomputeFields, f)
		}) {
			return nil
		}
		docs = append(docs, cur, prev)
	}

	var keys []coalesce.Key
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		kind, id := content.ReviewOwner(doc)
		key := coalesce.Key{Kind: kind, ID: id}
		if id == "" || slices.Contains(keys, key) {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// notifications builds one notification per status transition the site
// announces by email.
func (r Rules) notifications(op Operation, collection string, cur, prev content.Doc) []notify.Notification {
	if op == OpDelete {
		return nil
	}
	status := cur.String(fieldStatus)
	wasPending := prev != nil && prev.String(fieldStatus) == StatusPending

	switch {
	case collection == content.CollectionUsers:
		if op == OpUpdate && wasPending && status == StatusApproved {
			return []notify.Notification{notify.UserWelcome{
				UserID:         cur.ID(),
				Email:          cur.String("email"),
				Name:           cur.String("name"),
				IdempotencyKey: idempotencyKey(notify.UserWelcome{}, collection, cur),
			}}
		}

	case content.IsListing(collection):
		if op == OpUpdate && wasPending && r.published(cur) {
			email, name := owner(cur)
			return []notify.Notification{notify.ListingApproved{
				Collection:     collection,
				ListingID:      cur.ID(),
				Slug:           cur.String(fieldSlug),
				Title:          title(cur),
				OwnerEmail:     email,
				OwnerName:      name,
				IdempotencyKey: idempotencyKey(notify.ListingApproved{}, collection, cur),
			}}
		}

	case collection == content.CollectionReviews:
		created := op == OpCreate && status == StatusApproved
		promoted := op == OpUpdate && wasPending && status == StatusApproved
		if created || promoted {
			kind, id := content.ReviewOwner(cur)
			rating, _ := cur.Float(fieldRating)
			var email string
			if entity, ok := cur[fieldEntity].(map[string]any); ok {
				email, _ = owner(entity)
			}
			return []notify.Notification{notify.ReviewReceived{
				ReviewID:       cur.ID(),
				EntityKind:     kind,
				EntityID:       id,
				Rating:         rating,
				ReviewerName:   cur.String("authorName"),
				OwnerEmail:     email,
				IdempotencyKey: idempotencyKey(notify.ReviewReceived{}, collection, cur),
			}}
		}
	}
	return nil
}

// idempotencyKey is deterministic per document and status so a replayed
// hook produces the same key and the mail API drops the duplicate.
func idempotencyKey(n notify.Notification, collection string, doc content.Doc) string {
	return fmt.Sprintf("%s:%s:%s:%s", n.Type(), collection, doc.ID(), doc.String(fieldStatus))
}

// owner returns the contact of a document's owner, which arrives either
// populated or as flat fields.
func owner(doc content.Doc) (email, name string) {
	switch o := doc[fieldOwner].(type) {
	case map[string]any:
		return content.Doc(o).String("email"), content.Doc(o).String("name")
	case content.Doc:
		return o.String("email"), o.String("name")
	}
	return doc.String("ownerEmail"), doc.String("ownerName")
}

func title(doc content.Doc) string {
	if t := doc.String("title"); t != "" {
		return t
	}
	return doc.String("name")
}
