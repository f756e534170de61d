package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSameUTCDay(t *testing.T) {
	tests := []struct {
		name string
		a    time.Time
		b    time.Time
		want bool
	}{
		{
			"same instant",
			time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
			time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
			true,
		},
		{
			"same day different hours",
			time.Date(2025, 6, 15, 0, 0, 1, 0, time.UTC),
			time.Date(2025, 6, 15, 23, 59, 59, 0, time.UTC),
			true,
		},
		{
			"across midnight",
			time.Date(2025, 6, 15, 23, 59, 59, 0, time.UTC),
			time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC),
			false,
		},
		{
			"same local day different UTC day",
			// 23:30 UTC on the 15th is already the 16th in UTC+2, but
			// only the UTC date matters.
			time.Date(2025, 6, 16, 1, 30, 0, 0, time.FixedZone("UTC+2", 2*3600)),
			time.Date(2025, 6, 15, 23, 0, 0, 0, time.UTC),
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SameUTCDay(tt.a, tt.b))
		})
	}
}

func TestEffectiveCount(t *testing.T) {
	day := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	rec := &UsageRecord{
		UserID:    uuid.New(),
		Counters:  map[string]int64{"ai_chat": 3},
		LastReset: day,
	}

	t.Run("nil record reads zero", func(t *testing.T) {
		assert.Equal(t, int64(0), EffectiveCount(nil, "ai_chat", day))
	})

	t.Run("same day reads stored count", func(t *testing.T) {
		assert.Equal(t, int64(3), EffectiveCount(rec, "ai_chat", day.Add(5*time.Hour)))
	})

	t.Run("missing feature reads zero", func(t *testing.T) {
		assert.Equal(t, int64(0), EffectiveCount(rec, "image_tool", day))
	})

	t.Run("next UTC day resets to zero", func(t *testing.T) {
		nextDay := time.Date(2025, 6, 16, 0, 0, 1, 0, time.UTC)
		assert.Equal(t, int64(0), EffectiveCount(rec, "ai_chat", nextDay))
	})

	t.Run("rollover does not mutate the record", func(t *testing.T) {
		nextDay := day.Add(24 * time.Hour)
		_ = EffectiveCount(rec, "ai_chat", nextDay)
		assert.Equal(t, int64(3), rec.Counters["ai_chat"])
		assert.Equal(t, day, rec.LastReset)
	})
}

func TestEffectiveCounts(t *testing.T) {
	day := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	rec := &UsageRecord{
		Counters:  map[string]int64{"ai_chat": 3, "image_tool": 1},
		LastReset: day,
	}

	t.Run("same day returns all counters", func(t *testing.T) {
		counts := EffectiveCounts(rec, day.Add(time.Hour))
		assert.Equal(t, map[string]int64{"ai_chat": 3, "image_tool": 1}, counts)
	})

	t.Run("next day returns empty", func(t *testing.T) {
		counts := EffectiveCounts(rec, day.Add(24*time.Hour))
		assert.Empty(t, counts)
	})

	t.Run("nil record returns empty not nil", func(t *testing.T) {
		counts := EffectiveCounts(nil, day)
		assert.NotNil(t, counts)
		assert.Empty(t, counts)
	})
}

func TestSubscriptionRecord_IsEntitled(t *testing.T) {
	tests := []struct {
		status SubscriptionStatus
		want   bool
	}{
		{SubscriptionStatusActive, true},
		{SubscriptionStatusTrialing, true},
		{SubscriptionStatusPastDue, false},
		{SubscriptionStatusCanceled, false},
		{SubscriptionStatusUnpaid, false},
		{SubscriptionStatusNotStarted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			rec := &SubscriptionRecord{Status: tt.status}
			assert.Equal(t, tt.want, rec.IsEntitled())
		})
	}
}
