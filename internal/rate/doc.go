// Package rate throttles unauthenticated endpoints per client key.
//
// RedisLimiter uses fixed-window counters: INCR, then EXPIRE on the first hit.
// Keys are "thr:<scope>:<client>". LocalLimiter is the in-process fallback for
// single-instance deployments.
package rate
