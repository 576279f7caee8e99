package redis

import (
	"strconv"
	"time"

	"github.com/xraph/ripple/job"
)

// All keys are prefixed with "ripple:" to avoid collisions.
const keyPrefix = "ripple:"

// jobKeyPrefix is handed to scripts that derive job keys from zset members.
const jobKeyPrefix = keyPrefix + "job:"

// jobKey returns the key for a job hash: ripple:job:{id}
func jobKey(id string) string { return jobKeyPrefix + id }

// stateKey returns the sorted set holding a queue's jobs in state.
func stateKey(queue string, state job.State) string {
	return keyPrefix + "q:" + queue + ":" + string(state)
}

// queuesKey is the set of known queue names.
const queuesKey = keyPrefix + "queues"

// waitingScore orders the waiting set: higher priority first, then
// earlier RunAt. runAt in milliseconds stays below 1e13 until the year
// 2286.
func waitingScore(priority int, runAt time.Time) string {
	return strconv.FormatInt(-int64(priority)*1e13+runAt.UnixMilli(), 10)
}

func ms(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }
