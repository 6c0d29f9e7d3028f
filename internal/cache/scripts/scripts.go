// Package scripts holds the Lua scripts executed against Redis. Keeping them
// as constants next to the cache code makes the atomicity contract reviewable
// in one place.
package scripts

// WindowAdd atomically inserts a message fingerprint into a user's sliding
// window and returns the window contents as they were before the insert, so
// the caller can compare the new message against history without matching it
// against itself.
//
// KEYS[1] - the per-(guild,user) sorted set
// ARGV[1] - score for the new entry (unix seconds)
// ARGV[2] - serialized message fingerprint
// ARGV[3] - window cutoff (unix seconds); entries at or below are evicted
// ARGV[4] - rank of the oldest entry to keep, precomputed as -(bound)
// ARGV[5] - key TTL in seconds
//
// Eviction order matters: the pre-insert window is captured first, then the
// new entry is added, then time and count bounds are enforced on the stored
// set. Duplicate deliveries of the same message serialize to the same member
// and collapse into a single entry.
const WindowAdd = `
local prior = redis.call('ZRANGEBYSCORE', KEYS[1], ARGV[3], '+inf')
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[3])
redis.call('ZREMRANGEBYRANK', KEYS[1], 0, ARGV[4] - 1)
redis.call('EXPIRE', KEYS[1], ARGV[5])
return prior
`
