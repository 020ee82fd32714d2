// Package ratelimit paces outbound calls to deps.dev, OSV and the web
// search backends.
//
// Each external API is a named resource with a token bucket:
//
//	limiter := ratelimit.NewMemoryLimiter()
//	limiter.SetCapacity("depsdev", 600, time.Minute)
//	limiter.SetCapacity("search", 1, 500*time.Millisecond) // cooldown
//
//	if err := limiter.Acquire(ctx, "depsdev"); err != nil {
//	    return err // context cancelled or limiter closed
//	}
//
// A bucket with capacity 1 acts as a cooldown: consecutive requests are
// spaced at least one window apart. When a backend answers 429, callers
// invoke Reduce to shrink the bucket by a quarter.
package ratelimit
