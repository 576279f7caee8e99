package redis

import goredis "github.com/redis/go-redis/v9"

// Return codes shared by the transition scripts.
const (
	codeNotFound  = -1
	codeLeaseLost = 0
	codeOK        = 1
	codeDelayed   = 2
)

// ownedCheck guards transitions on active jobs. KEYS[1] is the job hash,
// ARGV[2] the lease owner.
const ownedCheck = `
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'state') ~= 'active' or redis.call('HGET', KEYS[1], 'lease_owner') ~= ARGV[2] then return 0 end
`

// KEYS: job, target zset, queues set
// ARGV: id, score, queue, field/value pairs...
var pushScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], unpack(ARGV, 4))
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[3])
return 1
`)

// KEYS: waiting, delayed, active
// ARGV: now, max, owner, lease expiry, job key prefix
var leaseScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(due) do
  local key = ARGV[5] .. id
  redis.call('ZADD', KEYS[1], redis.call('HGET', key, 'score'), id)
  redis.call('HSET', key, 'state', 'waiting')
  redis.call('ZREM', KEYS[2], id)
end
local ids = redis.call('ZRANGE', KEYS[1], 0, tonumber(ARGV[2]) - 1)
for _, id in ipairs(ids) do
  local key = ARGV[5] .. id
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZADD', KEYS[3], ARGV[4], id)
  redis.call('HINCRBY', key, 'attempts', 1)
  redis.call('HSET', key, 'state', 'active', 'last_attempt_at', ARGV[1],
    'lease_owner', ARGV[3], 'lease_expires_at', ARGV[4])
end
return ids
`)

// KEYS: job, active
// ARGV: id, owner, lease expiry
var extendScript = goredis.NewScript(ownedCheck + `
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[1], 'lease_expires_at', ARGV[3])
return 1
`)

// KEYS: job, active, completed
// ARGV: id, owner, now, keep, job key prefix
var completeScript = goredis.NewScript(ownedCheck + `
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], 'state', 'completed', 'finished_at', ARGV[3],
  'lease_owner', '', 'lease_expires_at', '')
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
local excess = redis.call('ZCARD', KEYS[3]) - tonumber(ARGV[4])
if excess > 0 then
  local old = redis.call('ZRANGE', KEYS[3], 0, excess - 1)
  for _, id in ipairs(old) do redis.call('DEL', ARGV[5] .. id) end
  redis.call('ZREMRANGEBYRANK', KEYS[3], 0, excess - 1)
end
return 1
`)

// KEYS: job, active, delayed, failed
// ARGV: id, owner, now, error, delay (negative = permanent), retry at, retry score
var failScript = goredis.NewScript(ownedCheck + `
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], 'lease_owner', '', 'lease_expires_at', '')
if ARGV[4] ~= '' then redis.call('HSET', KEYS[1], 'last_error', ARGV[4]) end
local attempts = tonumber(redis.call('HGET', KEYS[1], 'attempts'))
local maxAttempts = tonumber(redis.call('HGET', KEYS[1], 'max_attempts'))
if tonumber(ARGV[5]) >= 0 and attempts < maxAttempts then
  redis.call('HSET', KEYS[1], 'state', 'delayed', 'run_at', ARGV[6], 'score', ARGV[7])
  redis.call('ZADD', KEYS[3], ARGV[6], ARGV[1])
  return 2
end
redis.call('HSET', KEYS[1], 'state', 'failed', 'finished_at', ARGV[3])
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
return 1
`)

// KEYS: job, active, waiting
// ARGV: id, owner
var requeueScript = goredis.NewScript(ownedCheck + `
redis.call('ZREM', KEYS[2], ARGV[1])
if tonumber(redis.call('HGET', KEYS[1], 'attempts')) > 0 then
  redis.call('HINCRBY', KEYS[1], 'attempts', -1)
end
redis.call('HSET', KEYS[1], 'state', 'waiting', 'lease_owner', '', 'lease_expires_at', '')
redis.call('ZADD', KEYS[3], redis.call('HGET', KEYS[1], 'score'), ARGV[1])
return 1
`)

// KEYS: active, waiting
// ARGV: now, job key prefix
var reclaimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
local reclaimed = {}
for _, id in ipairs(ids) do
  local key = ARGV[2] .. id
  redis.call('ZREM', KEYS[1], id)
  if redis.call('EXISTS', key) == 1 then
    if (tonumber(redis.call('HGET', key, 'attempts')) or 0) > 0 then
      redis.call('HINCRBY', key, 'attempts', -1)
    end
    redis.call('HINCRBY', key, 'stalled_count', 1)
    redis.call('HSET', key, 'state', 'waiting', 'lease_owner', '', 'lease_expires_at', '')
    redis.call('ZADD', KEYS[2], redis.call('HGET', key, 'score'), id)
    table.insert(reclaimed, id)
  end
end
return reclaimed
`)

// KEYS: job, failed, waiting
// ARGV: id, now, score
var retryScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'state') ~= 'failed' then return 0 end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], 'state', 'waiting', 'attempts', 0, 'run_at', ARGV[2],
  'finished_at', '', 'score', ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)
