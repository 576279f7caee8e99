// Package job defines the job entity, its state machine, typed
// definitions, payload codecs, and the queue store contract.
//
// # Lifecycle
//
//	push ──▶ waiting ──lease──▶ active ──complete──▶ completed
//	  │         ▲                 │
//	  ▼         │                 ├──fail (attempts left)──▶ delayed ──due──▶ waiting
//	delayed ────┘                 ├──fail (exhausted)──────▶ failed ──retry──▶ waiting
//	                              ├──requeue───────────────▶ waiting
//	                              └──lease expired (reclaim)▶ waiting
//
// Attempts is incremented when a job is leased. Requeue and reclaim give
// the attempt back, so a job interrupted by shutdown or a crashed worker
// is not charged for it. Every transition on an active job names the
// lease owner; a stale report returns [ErrLeaseLost] and changes nothing.
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is encoded with the
// registry's [Codec] at push time and decoded before the handler runs:
//
//	var Welcome = job.NewDefinition(job.TypeUserWelcome,
//	    func(ctx context.Context, j *job.Job, p notify.UserWelcome) error {
//	        return mailer.Send(ctx, j.IdempotencyKey, p.Message())
//	    },
//	    job.WithMaxAttempts(5),
//	)
//
//	job.RegisterDefinition(registry, Welcome)
//
// A handler returns [Permanent] to fail a job without further retries.
package job
