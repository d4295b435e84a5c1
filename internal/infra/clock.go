// Package infra holds small shared primitives: the UTC clock, identifier
// generation, and the bounded seen-set used by adapters for idempotency.
package infra

import "time"

// UTCNow returns the current time in UTC.
func UTCNow() time.Time {
	return time.Now().UTC()
}

// NowMS returns the current wall clock as epoch milliseconds.
func NowMS() int64 {
	return time.Now().UnixMilli()
}

// TimeFromMS converts epoch milliseconds to a UTC time.
func TimeFromMS(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
