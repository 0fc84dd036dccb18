// Package limiter paces outbound calls to a shared external generation API
// under a configured requests-per-minute budget and backs off adaptively
// when the API signals overload. It is a single-process limiter: the
// account budget is divided by the expected number of worker processes,
// not coordinated across them.
package limiter
