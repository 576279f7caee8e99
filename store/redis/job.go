package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/ripple/id"
	"github.com/xraph/ripple/job"
)

// Push stores the job hash and adds it to the waiting or delayed set.
func (s *Store) Push(ctx context.Context, j *job.Job) error {
	if err := job.Prepare(j, s.now()); err != nil {
		return err
	}
	jID := j.ID.String()

	score := ms(j.RunAt)
	if j.State == job.StateWaiting {
		score = waitingScore(j.Priority, j.RunAt)
	}

	args := []any{jID, score, j.Queue}
	for field, value := range jobToMap(j) {
		args = append(args, field, value)
	}
	keys := []string{jobKey(jID), stateKey(j.Queue, j.State), queuesKey}

	created, err := pushScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("ripple/redis: push job: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("ripple/redis: job %s already exists", jID)
	}
	return nil
}

// Lease promotes due delayed jobs and claims waiting ones, queue by queue.
func (s *Store) Lease(ctx context.Context, req job.LeaseRequest) ([]*job.Job, error) {
	if req.Max <= 0 {
		return nil, nil
	}
	now := s.now()
	expires := now.Add(req.TTL)

	var leased []*job.Job
	for _, q := range req.Queues {
		remaining := req.Max - len(leased)
		if remaining <= 0 {
			break
		}
		keys := []string{
			stateKey(q, job.StateWaiting),
			stateKey(q, job.StateDelayed),
			stateKey(q, job.StateActive),
		}
		ids, err := leaseScript.Run(ctx, s.client, keys,
			ms(now), remaining, req.Owner.String(), ms(expires), jobKeyPrefix,
		).StringSlice()
		if err != nil {
			return leased, fmt.Errorf("ripple/redis: lease %s: %w", q, err)
		}
		for _, jID := range ids {
			j, err := s.getJobByKey(ctx, jobKey(jID))
			if err != nil {
				return leased, err
			}
			leased = append(leased, j)
		}
	}
	return leased, nil
}

// Extend pushes the lease expiry of an active job ttl into the future.
func (s *Store) Extend(ctx context.Context, jobID id.JobID, owner id.WorkerID, ttl time.Duration) error {
	q, err := s.queueOf(ctx, jobID)
	if err != nil {
		return err
	}
	jID := jobID.String()
	keys := []string{jobKey(jID), stateKey(q, job.StateActive)}
	code, err := extendScript.Run(ctx, s.client, keys, jID, owner.String(), ms(s.now().Add(ttl))).Int()
	return transitionErr("extend", code, err)
}

// Complete archives an active job and trims the completed set.
func (s *Store) Complete(ctx context.Context, jobID id.JobID, owner id.WorkerID) error {
	q, err := s.queueOf(ctx, jobID)
	if err != nil {
		return err
	}
	jID := jobID.String()
	keys := []string{jobKey(jID), stateKey(q, job.StateActive), stateKey(q, job.StateCompleted)}
	code, err := completeScript.Run(ctx, s.client, keys,
		jID, owner.String(), ms(s.now()), s.keepCompleted, jobKeyPrefix,
	).Int()
	return transitionErr("complete", code, err)
}

// Fail records cause and delays the job for another attempt, or moves it
// to failed once attempts are exhausted or delay is negative.
func (s *Store) Fail(ctx context.Context, jobID id.JobID, owner id.WorkerID, cause error, delay time.Duration) error {
	q, err := s.queueOf(ctx, jobID)
	if err != nil {
		return err
	}
	priority, err := s.client.HGet(ctx, jobKey(jobID.String()), "priority").Int()
	if err != nil {
		return fmt.Errorf("ripple/redis: fail read priority: %w", err)
	}

	now := s.now()
	retryAt := now.Add(max(delay, 0))
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	delayArg := delay.Milliseconds()
	if delay < 0 {
		delayArg = -1
	}

	jID := jobID.String()
	keys := []string{
		jobKey(jID),
		stateKey(q, job.StateActive),
		stateKey(q, job.StateDelayed),
		stateKey(q, job.StateFailed),
	}
	code, err := failScript.Run(ctx, s.client, keys,
		jID, owner.String(), ms(now), msg, delayArg, ms(retryAt), waitingScore(priority, retryAt),
	).Int()
	return transitionErr("fail", code, err)
}

// Requeue returns an active job to waiting without consuming an attempt.
func (s *Store) Requeue(ctx context.Context, jobID id.JobID, owner id.WorkerID) error {
	q, err := s.queueOf(ctx, jobID)
	if err != nil {
		return err
	}
	jID := jobID.String()
	keys := []string{jobKey(jID), stateKey(q, job.StateActive), stateKey(q, job.StateWaiting)}
	code, err := requeueScript.Run(ctx, s.client, keys, jID, owner.String()).Int()
	return transitionErr("requeue", code, err)
}

// Reclaim returns jobs whose lease expired before now to waiting.
func (s *Store) Reclaim(ctx context.Context, now time.Time) ([]id.JobID, error) {
	queues, err := s.queues(ctx)
	if err != nil {
		return nil, err
	}

	var reclaimed []id.JobID
	for _, q := range queues {
		keys := []string{stateKey(q, job.StateActive), stateKey(q, job.StateWaiting)}
		ids, err := reclaimScript.Run(ctx, s.client, keys, ms(now), jobKeyPrefix).StringSlice()
		if err != nil {
			return reclaimed, fmt.Errorf("ripple/redis: reclaim %s: %w", q, err)
		}
		for _, raw := range ids {
			jobID, err := id.ParseJobID(raw)
			if err != nil {
				s.logger.Warn("redis store: skipping malformed job id", slog.String("id", raw))
				continue
			}
			reclaimed = append(reclaimed, jobID)
		}
	}
	return reclaimed, nil
}

// Retry moves a failed job back to waiting with its attempts reset.
func (s *Store) Retry(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	vals, err := s.client.HMGet(ctx, jobKey(jID), "queue", "priority").Result()
	if err != nil {
		return fmt.Errorf("ripple/redis: retry read job: %w", err)
	}
	q, _ := vals[0].(string)
	if q == "" {
		return job.ErrNotFound
	}
	prioStr, _ := vals[1].(string)
	priority, _ := strconv.Atoi(prioStr) //nolint:errcheck // written by this package

	now := s.now()
	keys := []string{jobKey(jID), stateKey(q, job.StateFailed), stateKey(q, job.StateWaiting)}
	code, err := retryScript.Run(ctx, s.client, keys, jID, ms(now), waitingScore(priority, now)).Int()
	if err != nil {
		return fmt.Errorf("ripple/redis: retry: %w", err)
	}
	switch code {
	case codeNotFound:
		return job.ErrNotFound
	case codeLeaseLost:
		return fmt.Errorf("%w: %s is not failed", job.ErrInvalidState, jID)
	}
	return nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// List returns up to limit jobs in state across all queues.
func (s *Store) List(ctx context.Context, state job.State, limit int) ([]*job.Job, error) {
	queues, err := s.queues(ctx)
	if err != nil {
		return nil, err
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	newestFirst := state == job.StateCompleted || state == job.StateFailed

	var jobs []*job.Job
	for _, q := range queues {
		var ids []string
		if newestFirst {
			ids, err = s.client.ZRevRange(ctx, stateKey(q, state), 0, stop).Result()
		} else {
			ids, err = s.client.ZRange(ctx, stateKey(q, state), 0, stop).Result()
		}
		if err != nil {
			return nil, fmt.Errorf("ripple/redis: list %s: %w", q, err)
		}
		for _, jID := range ids {
			j, err := s.getJobByKey(ctx, jobKey(jID))
			if errors.Is(err, job.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, j)
		}
	}

	job.Sort(jobs, state)
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Counts returns the number of jobs per state across all queues.
func (s *Store) Counts(ctx context.Context) (job.Counts, error) {
	queues, err := s.queues(ctx)
	if err != nil {
		return nil, err
	}

	pipe := s.client.Pipeline()
	cmds := make(map[job.State][]*goredis.IntCmd, len(job.States))
	for _, q := range queues {
		for _, st := range job.States {
			cmds[st] = append(cmds[st], pipe.ZCard(ctx, stateKey(q, st)))
		}
	}
	if len(queues) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("ripple/redis: counts: %w", err)
		}
	}

	counts := make(job.Counts, len(job.States))
	for _, st := range job.States {
		counts[st] = 0
		for _, c := range cmds[st] {
			counts[st] += c.Val()
		}
	}
	return counts, nil
}

// ── helpers ──

func transitionErr(op string, code int, err error) error {
	if err != nil {
		return fmt.Errorf("ripple/redis: %s: %w", op, err)
	}
	switch code {
	case codeNotFound:
		return job.ErrNotFound
	case codeLeaseLost:
		return job.ErrLeaseLost
	}
	return nil
}

func (s *Store) queueOf(ctx context.Context, jobID id.JobID) (string, error) {
	q, err := s.client.HGet(ctx, jobKey(jobID.String()), "queue").Result()
	if errors.Is(err, goredis.Nil) {
		return "", job.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("ripple/redis: read queue: %w", err)
	}
	return q, nil
}

func (s *Store) queues(ctx context.Context) ([]string, error) {
	queues, err := s.client.SMembers(ctx, queuesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("ripple/redis: list queues: %w", err)
	}
	return queues, nil
}

func jobToMap(j *job.Job) map[string]string {
	m := map[string]string{
		"id":               j.ID.String(),
		"type":             string(j.Type),
		"queue":            j.Queue,
		"payload":          string(j.Payload),
		"state":            string(j.State),
		"priority":         strconv.Itoa(j.Priority),
		"score":            waitingScore(j.Priority, j.RunAt),
		"attempts":         strconv.Itoa(j.Attempts),
		"max_attempts":     strconv.Itoa(j.MaxAttempts),
		"last_error":       j.LastError,
		"idempotency_key":  j.IdempotencyKey,
		"timeout":          strconv.FormatInt(int64(j.Timeout), 10),
		"run_at":           ms(j.RunAt),
		"created_at":       ms(j.CreatedAt),
		"last_attempt_at":  "",
		"finished_at":      "",
		"lease_owner":      j.LeaseOwner.String(),
		"lease_expires_at": "",
		"stalled_count":    strconv.Itoa(j.StalledCount),
	}
	if j.LastAttemptAt != nil {
		m["last_attempt_at"] = ms(*j.LastAttemptAt)
	}
	if j.FinishedAt != nil {
		m["finished_at"] = ms(*j.FinishedAt)
	}
	if j.LeaseExpiresAt != nil {
		m["lease_expires_at"] = ms(*j.LeaseExpiresAt)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("ripple/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, job.ErrNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("ripple/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])           //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts"])           //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])    //nolint:errcheck // best-effort parse from trusted Redis data
	stalled, _ := strconv.Atoi(m["stalled_count"])       //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		ID:             jID,
		Type:           job.Type(m["type"]),
		Queue:          m["queue"],
		Payload:        []byte(m["payload"]),
		State:          job.State(m["state"]),
		Priority:       priority,
		Attempts:       attempts,
		MaxAttempts:    maxAttempts,
		LastError:      m["last_error"],
		IdempotencyKey: m["idempotency_key"],
		Timeout:        time.Duration(timeout),
		RunAt:          parseMillis(m["run_at"]),
		CreatedAt:      parseMillis(m["created_at"]),
		LastAttemptAt:  parseMillisPtr(m["last_attempt_at"]),
		FinishedAt:     parseMillisPtr(m["finished_at"]),
		LeaseExpiresAt: parseMillisPtr(m["lease_expires_at"]),
		StalledCount:   stalled,
	}
	if owner := m["lease_owner"]; owner != "" {
		j.LeaseOwner, _ = id.ParseWorkerID(owner) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return j, nil
}

func parseMillis(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}

func parseMillisPtr(v string) *time.Time {
	if v == "" {
		return nil
	}
	t := parseMillis(v)
	return &t
}
