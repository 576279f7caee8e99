package job

import "sort"

// Sort orders jobs the way Store.List returns them for state: waiting by
// priority then RunAt, delayed by RunAt, active by lease expiry, and
// finished states newest first. Ties break on ID.
func Sort(jobs []*Job, state State) {
	sort.SliceStable(jobs, func(a, b int) bool {
		x, y := jobs[a], jobs[b]
		switch state {
		case StateCompleted, StateFailed:
			if fx, fy := finished(x), finished(y); fx != fy {
				return fx > fy
			}
		case StateActive:
			if ex, ey := expires(x), expires(y); ex != ey {
				return ex < ey
			}
		case StateDelayed:
			if !x.RunAt.Equal(y.RunAt) {
				return x.RunAt.Before(y.RunAt)
			}
		default:
			if x.Priority != y.Priority {
				return x.Priority > y.Priority
			}
			if !x.RunAt.Equal(y.RunAt) {
				return x.RunAt.Before(y.RunAt)
			}
		}
		return x.ID.String() < y.ID.String()
	})
}

func finished(j *Job) int64 {
	if j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.UnixNano()
}

func expires(j *Job) int64 {
	if j.LeaseExpiresAt == nil {
		return 0
	}
	return j.LeaseExpiresAt.UnixNano()
}
