package notify

import (
	"context"
	"fmt"
	"net/url"

	"github.com/xraph/ripple/job"
	"github.com/xraph/ripple/mail"
)

// Handlers deliver notification jobs as email.
type Handlers struct {
	Sender mail.Sender

	// SiteURL is the public site root used to build links.
	SiteURL string
}

// Register adds a definition for every notification type. opts apply to
// all three types; pass per-type options by registering individually.
func (h *Handlers) Register(reg *job.Registry, opts ...job.Option) {
	job.RegisterDefinition(reg, job.NewDefinition(job.TypeUserWelcome, h.UserWelcome, opts...))
	job.RegisterDefinition(reg, job.NewDefinition(job.TypeListingApproved, h.ListingApproved, opts...))
	job.RegisterDefinition(reg, job.NewDefinition(job.TypeReviewReceived, h.ReviewReceived, opts...))
}

// UserWelcome sends the welcome email.
func (h *Handlers) UserWelcome(ctx context.Context, j *job.Job, n UserWelcome) error {
	return h.Sender.Send(ctx, mail.Message{
		To:       n.Email,
		Subject:  "Welcome aboard",
		Template: "user-welcome",
		Data: map[string]any{
			"name": n.Name,
			"url":  h.link("account"),
		},
		IdempotencyKey: key(n.IdempotencyKey, j),
	})
}

// ListingApproved tells the owner their listing is live.
func (h *Handlers) ListingApproved(ctx context.Context, j *job.Job, n ListingApproved) error {
	return h.Sender.Send(ctx, mail.Message{
		To:       n.OwnerEmail,
		Subject:  fmt.Sprintf("%q is now live", n.Title),
		Template: "listing-approved",
		Data: map[string]any{
			"name":  n.OwnerName,
			"title": n.Title,
			"url":   h.link(n.Collection, n.Slug),
		},
		IdempotencyKey: key(n.IdempotencyKey, j),
	})
}

// ReviewReceived tells the owner a review was published.
func (h *Handlers) ReviewReceived(ctx context.Context, j *job.Job, n ReviewReceived) error {
	return h.Sender.Send(ctx, mail.Message{
		To:       n.OwnerEmail,
		Subject:  "You have a new review",
		Template: "review-received",
		Data: map[string]any{
			"reviewer": n.ReviewerName,
			"rating":   n.Rating,
			"url":      h.link(n.EntityKind, n.EntityID),
		},
		IdempotencyKey: key(n.IdempotencyKey, j),
	})
}

func (h *Handlers) link(segments ...string) string {
	if h.SiteURL == "" {
		return ""
	}
	u, err := url.JoinPath(h.SiteURL, segments...)
	if err != nil {
		return h.SiteURL
	}
	return u
}

// key prefers the payload token and falls back to the job's own.
func key(payload string, j *job.Job) string {
	if payload != "" {
		return payload
	}
	if j.IdempotencyKey != "" {
		return j.IdempotencyKey
	}
	return j.ID.String()
}
