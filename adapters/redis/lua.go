package redisstore

// luaAppendRecord atomically increments the per-thread sequence, embeds it into
// the record JSON and appends it to the thread's record ZSET (score=seq).
//
// KEYS[1] = seq key
// KEYS[2] = records zset key
// ARGV[1] = record JSON string
//
// Returns: sequence (number)
const luaAppendRecord = `
local seq = redis.call('INCR', KEYS[1])

local rec = cjson.decode(ARGV[1])
rec['sequenceNum'] = seq
redis.call('ZADD', KEYS[2], seq, cjson.encode(rec))

return seq
`
