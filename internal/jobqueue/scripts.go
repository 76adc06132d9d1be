package jobqueue

import "github.com/redis/go-redis/v9"

// Every state transition that touches more than one key runs as a single
// script so that a crash or a concurrent RecoverStalled never observes a job
// that has left one list without reaching the next. Job, lock and set keys are
// derived from ARGV[1], the queue prefix, which ties the queue to a single
// Redis node.

// claimScript promotes due delayed jobs, then moves the oldest waiting job to
// active, locks it and marks it active.
//
//	KEYS: wait, active, delayed
//	ARGV: prefix, now ms, token, lock ms
//
// Returns nil when nothing is waiting, otherwise the job key followed by the
// job hash fields.
var claimScript = redis.NewScript(`
local prefix, now = ARGV[1], ARGV[2]

for _, key in ipairs(redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', now)) do
  redis.call('ZREM', KEYS[3], key)
  local job = prefix .. 'job:' .. key
  if redis.call('EXISTS', job) == 1 then
    redis.call('HSET', job, 'state', 'waiting')
    redis.call('HDEL', job, 'retryAt')
    redis.call('LPUSH', KEYS[1], key)
  end
end

while true do
  local key = redis.call('RPOP', KEYS[1])
  if not key then
    return false
  end
  local job = prefix .. 'job:' .. key
  if redis.call('EXISTS', job) == 1 then
    redis.call('LPUSH', KEYS[2], key)
    redis.call('SET', prefix .. 'lock:' .. key, ARGV[3], 'PX', ARGV[4])
    redis.call('HSET', job, 'state', 'active', 'processedOn', now)
    local reply = redis.call('HGETALL', job)
    table.insert(reply, 1, key)
    return reply
  end
end
`)

// Modes for finishScript.
const (
	finishComplete = "complete"
	finishFail     = "fail"
	finishStall    = "stall"
)

// finishScript takes a job off the active list and records the outcome of its
// attempt in the same step.
//
//	KEYS: active, wait, delayed, completed, failed
//	ARGV: prefix, key, mode, token, now ms, reason, retryAt ms,
//	      default max attempts, keep completed, keep failed
//
// complete and fail require the lock to be absent or held by token. stall
// requires the lock to be absent and requeues without backoff. Returns the
// state the job moved to, or "" when the caller no longer owns the job.
var finishScript = redis.NewScript(`
local prefix, key, mode, token, now = ARGV[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5]
local job = prefix .. 'job:' .. key
local lock = prefix .. 'lock:' .. key

local held = redis.call('GET', lock)
if mode == 'stall' then
  if held then
    return ''
  end
elseif held and held ~= token then
  return ''
end
if redis.call('LREM', KEYS[1], 1, key) == 0 then
  return ''
end
redis.call('DEL', lock)

local function trim(set, keep)
  local excess = redis.call('ZCARD', set) - keep
  if excess > 0 then
    for _, old in ipairs(redis.call('ZRANGE', set, 0, excess - 1)) do
      redis.call('DEL', prefix .. 'job:' .. old)
      redis.call('ZREM', set, old)
    end
  end
end

local attempts = redis.call('HINCRBY', job, 'attemptsMade', 1)

if mode == 'complete' then
  redis.call('HSET', job, 'state', 'completed', 'finishedOn', now)
  redis.call('HDEL', job, 'failedReason')
  redis.call('ZADD', KEYS[4], now, key)
  trim(KEYS[4], tonumber(ARGV[9]))
  return 'completed'
end

local max = tonumber(redis.call('HGET', job, 'maxAttempts')) or tonumber(ARGV[8])
if attempts >= max then
  redis.call('HSET', job, 'state', 'failed', 'failedReason', ARGV[6], 'finishedOn', now)
  redis.call('ZADD', KEYS[5], now, key)
  trim(KEYS[5], tonumber(ARGV[10]))
  return 'failed'
end

if mode == 'stall' then
  redis.call('HSET', job, 'state', 'waiting', 'failedReason', ARGV[6])
  redis.call('RPUSH', KEYS[2], key)
  return 'waiting'
end

redis.call('HSET', job, 'state', 'delayed', 'failedReason', ARGV[6], 'retryAt', ARGV[7])
redis.call('ZADD', KEYS[3], ARGV[7], key)
return 'delayed'
`)
