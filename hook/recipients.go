package hook

import (
	"context"
	"log/slog"

	"github.com/xraph/ripple/content"
	"github.com/xraph/ripple/notify"
)

// Contacts reads the documents a recipient is resolved from: the listing
// a notification is about and the user who owns it.
type Contacts interface {
	Get(ctx context.Context, collection, id string) (content.Doc, error)
}

// WithContacts lets the dispatcher look up owners that a mutation only
// references by ID.
func WithContacts(c Contacts) Option {
	return func(d *Dispatcher) { d.contacts = c }
}

// recipients fills in missing owner addresses and drops notifications
// that still have nobody to send to. Such a job could only fail.
func (d *Dispatcher) recipients(ctx context.Context, ns []notify.Notification) []notify.Notification {
	if len(ns) == 0 {
		return ns
	}
	kept := ns[:0:0]
	for _, n := range ns {
		resolved, ok := d.resolve(ctx, n)
		if !ok {
			d.logger.Warn("notification dropped, no recipient",
				slog.String("job_type", string(n.Type())),
				slog.String("idempotency_key", n.Key()),
			)
			continue
		}
		kept = append(kept, resolved)
	}
	return kept
}

func (d *Dispatcher) resolve(ctx context.Context, n notify.Notification) (notify.Notification, bool) {
	switch v := n.(type) {
	case notify.UserWelcome:
		return v, v.Email != ""
	case notify.ListingApproved:
		if v.OwnerEmail == "" {
			email, name := d.listingOwner(ctx, v.Collection, v.ListingID)
			v.OwnerEmail = email
			if v.OwnerName == "" {
				v.OwnerName = name
			}
		}
		return v, v.OwnerEmail != ""
	case notify.ReviewReceived:
		if v.OwnerEmail == "" {
			v.OwnerEmail, _ = d.listingOwner(ctx, v.EntityKind, v.EntityID)
		}
		return v, v.OwnerEmail != ""
	default:
		return n, true
	}
}

// listingOwner reads a listing and, when its owner is only referenced,
// the owning user.
func (d *Dispatcher) listingOwner(ctx context.Context, collection, id string) (email, name string) {
	if d.contacts == nil || id == "" {
		return "", ""
	}
	ctx, cancel := context.WithTimeout(ctx, d.lookupTimeout)
	defer cancel()

	listing, err := d.contacts.Get(ctx, collection, id)
	if err != nil {
		d.logger.Warn("owner lookup failed",
			slog.String("collection", collection),
			slog.String("doc_id", id),
			slog.String("error", err.Error()),
		)
		return "", ""
	}
	if email, name = owner(listing); email != "" {
		return email, name
	}

	ref := listing.Ref(fieldOwner)
	if ref == "" {
		return "", ""
	}
	user, err := d.contacts.Get(ctx, content.CollectionUsers, ref)
	if err != nil {
		d.logger.Warn("owner lookup failed",
			slog.String("collection", content.CollectionUsers),
			slog.String("doc_id", ref),
			slog.String("error", err.Error()),
		)
		return "", ""
	}
	return user.String("email"), user.String("name")
}
