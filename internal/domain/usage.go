// Package domain contains core business types and interfaces.
//
// This file defines the per-user usage record and the pure day-rollover
// rules applied when reading it. All counters for a user share one
// last_reset timestamp and reset together when the UTC calendar day
// advances; the stored row is only rewritten by the next increment, so
// reads must apply the rollover as a pure function.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord holds a user's daily feature counters. Counters is keyed
// by feature name. A feature absent from Counters has count 0.
type UsageRecord struct {
	UserID    uuid.UUID
	Counters  map[string]int64
	LastReset time.Time
}

// SameUTCDay reports whether a and b fall on the same UTC calendar day.
func SameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// EffectiveCount returns the count for a feature as of now, applying the
// day rollover without mutating anything. A nil record reads as 0.
func EffectiveCount(rec *UsageRecord, feature string, now time.Time) int64 {
	if rec == nil {
		return 0
	}
	if !SameUTCDay(rec.LastReset, now) {
		return 0
	}
	return rec.Counters[feature]
}

// EffectiveCounts returns all counters as of now. After a day boundary
// every counter reads 0.
func EffectiveCounts(rec *UsageRecord, now time.Time) map[string]int64 {
	counts := make(map[string]int64)
	if rec == nil || !SameUTCDay(rec.LastReset, now) {
		return counts
	}
	for feature, n := range rec.Counters {
		counts[feature] = n
	}
	return counts
}

// IncrementResult is the outcome of an atomic check-and-increment.
type IncrementResult struct {
	Allowed  bool
	NewCount int64
}
