package job

import (
	"fmt"
	"time"

	"github.com/xraph/ripple/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is ready to be leased.
	StateWaiting State = "waiting"
	// StateActive means a worker holds the lease and is executing the job.
	StateActive State = "active"
	// StateDelayed means the job becomes ready at RunAt.
	StateDelayed State = "delayed"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job exhausted its attempts or failed permanently.
	StateFailed State = "failed"
)

// States lists every state in lifecycle order.
var States = []State{StateWaiting, StateActive, StateDelayed, StateCompleted, StateFailed}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// Type identifies the kind of work a job carries. The set is closed.
type Type string

const (
	TypeUserWelcome     Type = "user.welcome"
	TypeListingApproved Type = "listing.approved"
	TypeReviewReceived  Type = "review.received"
)

// Types lists every job type.
var Types = []Type{TypeUserWelcome, TypeListingApproved, TypeReviewReceived}

// Valid reports whether t is one of the known job types.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Job is a unit of work in a queue.
type Job struct {
	ID          id.JobID `json:"id"`
	Type        Type     `json:"type"`
	Queue       string   `json:"queue"`
	Payload     []byte   `json:"payload"`
	State       State    `json:"state"`
	Priority    int      `json:"priority"`
	Attempts    int      `json:"attempts"`
	MaxAttempts int      `json:"max_attempts"`
	LastError   string   `json:"last_error,omitempty"`

	// IdempotencyKey is handed to side-effect providers so a retried
	// attempt does not repeat a delivery that already happened.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Timeout bounds a single attempt. Zero means the handler default.
	Timeout time.Duration `json:"timeout,omitempty"`

	RunAt         time.Time  `json:"run_at"`
	CreatedAt     time.Time  `json:"created_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`

	LeaseOwner     id.WorkerID `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time  `json:"lease_expires_at,omitempty"`
	StalledCount   int         `json:"stalled_count"`
}

// Exhausted reports whether the job has used all of its attempts.
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// Prepare validates a job about to be pushed and fills the fields a store
// owns: ID, CreatedAt, RunAt, and the initial state. Counters and lease
// fields are reset.
func Prepare(j *Job, now time.Time) error {
	if !j.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, j.Type)
	}
	if j.ID.IsNil() {
		j.ID = id.NewJobID()
	}
	if j.Queue == "" {
		j.Queue = DefaultOptions().Queue
	}
	if j.MaxAttempts < 1 {
		j.MaxAttempts = 1
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.RunAt.IsZero() {
		j.RunAt = now
	}
	j.Attempts = 0
	j.StalledCount = 0
	j.LastAttemptAt = nil
	j.FinishedAt = nil
	j.LeaseOwner = id.Nil
	j.LeaseExpiresAt = nil
	if j.RunAt.After(now) {
		j.State = StateDelayed
	} else {
		j.State = StateWaiting
	}
	return nil
}
