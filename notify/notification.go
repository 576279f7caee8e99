// Package notify turns pipeline decisions into notification jobs and
// defines the handlers that deliver them.
//
// A Notification is a closed sum type: each payload struct maps to
// exactly one job.Type, so producers and handlers agree on the payload
// shape at compile time.
package notify

import "github.com/xraph/ripple/job"

// Notification is one of UserWelcome, ListingApproved or ReviewReceived.
type Notification interface {
	// Type selects the handler.
	Type() job.Type

	// Key is the idempotency token passed through to the mail API.
	Key() string

	notification()
}

// UserWelcome greets a user whose account was approved.
type UserWelcome struct {
	UserID         string `json:"user_id"`
	Email          string `json:"email"`
	Name           string `json:"name,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// ListingApproved tells an owner their listing went live.
type ListingApproved struct {
	Collection     string `json:"collection"`
	ListingID      string `json:"listing_id"`
	Slug           string `json:"slug,omitempty"`
	Title          string `json:"title,omitempty"`
	OwnerEmail     string `json:"owner_email"`
	OwnerName      string `json:"owner_name,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// ReviewReceived tells an owner a review of their listing was published.
type ReviewReceived struct {
	ReviewID       string  `json:"review_id"`
	EntityKind     string  `json:"entity_kind"`
	EntityID       string  `json:"entity_id"`
	Rating         float64 `json:"rating"`
	ReviewerName   string  `json:"reviewer_name,omitempty"`
	OwnerEmail     string  `json:"owner_email"`
	IdempotencyKey string  `json:"idempotency_key"`
}

func (UserWelcome) Type() job.Type     { return job.TypeUserWelcome }
func (ListingApproved) Type() job.Type { return job.TypeListingApproved }
func (ReviewReceived) Type() job.Type  { return job.TypeReviewReceived }

func (n UserWelcome) Key() string     { return n.IdempotencyKey }
func (n ListingApproved) Key() string { return n.IdempotencyKey }
func (n ReviewReceived) Key() string  { return n.IdempotencyKey }

func (UserWelcome) notification()     {}
func (ListingApproved) notification() {}
func (ReviewReceived) notification()  {}
