package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medcontent/backend/internal/storage/models"
	"github.com/medcontent/backend/pkg/config"
)

type memoryStore struct {
	mu        sync.Mutex
	records   []models.UsageRecord
	insertErr error
	since     time.Time
}

func (s *memoryStore) InsertUsage(_ context.Context, r *models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.records = append(s.records, *r)
	return nil
}

func (s *memoryStore) ListUsageSince(_ context.Context, since time.Time) ([]models.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.since = since
	return append([]models.UsageRecord(nil), s.records...), nil
}

func TestRecordIsDetachedAndSwallowsFailures(t *testing.T) {
	store := &memoryStore{insertErr: errors.New("disk full")}
	tracker := NewTracker(store, nil)

	assert.NotPanics(t, func() {
		tracker.Record(models.UsageRecord{CallType: "x", TokenType: models.TokenInput, TokenCount: 5, Model: "gpt-4o"})
	})
	tracker.Wait()
	assert.Empty(t, store.records)
}

func TestRecordDropsNegativeCounts(t *testing.T) {
	store := &memoryStore{}
	tracker := NewTracker(store, nil)

	tracker.Record(models.UsageRecord{TokenType: models.TokenInput, TokenCount: -1, Model: "gpt-4o"})
	tracker.Record(models.UsageRecord{TokenType: models.TokenInput, TokenCount: 0, Model: "gpt-4o"})
	tracker.Wait()

	require.Len(t, store.records, 1)
	assert.Equal(t, 0, store.records[0].TokenCount)
	assert.False(t, store.records[0].CreatedAt.IsZero())
}

func TestAggregateByModel(t *testing.T) {
	records := []models.UsageRecord{
		{Model: "gpt-4o", TokenType: models.TokenInput, TokenCount: 10000},
		{Model: "gpt-4o", TokenType: models.TokenOutput, TokenCount: 5000},
		{Model: "gpt-4o", TokenType: "cached", TokenCount: 2000},
		{Model: "text-embedding-3-small", TokenType: models.TokenInput, TokenCount: 30000},
		{Model: "mystery-model", TokenType: models.TokenInput, TokenCount: 99999},
	}

	stats := Aggregate(records, config.DefaultRates())

	require.Len(t, stats.Summary, 2)
	gpt := stats.Summary["gpt-4o"]
	assert.Equal(t, 10000, gpt.InputTokens)
	assert.Equal(t, 5000, gpt.OutputTokens)
	assert.Equal(t, 2000, gpt.OtherTokens)
	assert.Equal(t, 17000, gpt.TotalTokens)
	// 0.025 + 0.05 + 0.2*0.025
	assert.InDelta(t, 0.08, gpt.Cost, 1e-9)

	emb := stats.Summary["text-embedding-3-small"]
	assert.InDelta(t, 0.0006, emb.Cost, 1e-9)

	assert.InDelta(t, 0.0806, stats.GrandTotalCost, 1e-9)
	assert.Len(t, stats.Records, 5)
	assert.NotContains(t, stats.Summary, "mystery-model")
}

func TestAggregateRoundsOnlyAtTheEnd(t *testing.T) {
	rates := map[string]config.Rate{
		"a": {Input: 0.00003, Output: 0.00003},
		"b": {Input: 0.00003, Output: 0.00003},
	}
	var records []models.UsageRecord
	for i := 0; i < 7; i++ {
		records = append(records, models.UsageRecord{Model: "a", TokenType: models.TokenInput, TokenCount: 10000})
		records = append(records, models.UsageRecord{Model: "b", TokenType: models.TokenOutput, TokenCount: 10000})
	}

	stats := Aggregate(records, rates)

	// Rounding each record would yield 0 everywhere.
	assert.InDelta(t, 0.0002, stats.Summary["a"].Cost, 1e-9)
	assert.InDelta(t, 0.0002, stats.Summary["b"].Cost, 1e-9)
	assert.InDelta(t, 0.0004, stats.GrandTotalCost, 1e-9)

	sum := stats.Summary["a"].Cost + stats.Summary["b"].Cost
	assert.InDelta(t, stats.GrandTotalCost, sum, 0.0001*float64(len(stats.Summary)))
}

func TestAggregateEmpty(t *testing.T) {
	stats := Aggregate(nil, config.DefaultRates())
	assert.Empty(t, stats.Summary)
	assert.NotNil(t, stats.Records)
	assert.Zero(t, stats.GrandTotalCost)
}

func TestSince(t *testing.T) {
	now := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)

	all, err := Since(RangeAll, now)
	require.NoError(t, err)
	assert.True(t, all.IsZero())

	today, err := Since(RangeToday, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), today)

	week, err := Since(RangeWeek, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 8, 14, 30, 0, 0, time.UTC), week)

	month, err := Since(RangeMonth, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 15, 14, 30, 0, 0, time.UTC), month)

	_, err = Since("decade", now)
	assert.Error(t, err)
}

func TestGetUsageStatsUsesRange(t *testing.T) {
	store := &memoryStore{}
	tracker := NewTracker(store, nil)
	fixed := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)
	tracker.now = func() time.Time { return fixed }

	tracker.Record(models.UsageRecord{CallType: "technical_response", TokenType: models.TokenInput, TokenCount: 10000, Model: "gpt-4o-mini"})
	tracker.Wait()

	stats, err := tracker.GetUsageStats(context.Background(), RangeWeek)
	require.NoError(t, err)
	assert.Equal(t, fixed.AddDate(0, 0, -7), store.since)
	assert.InDelta(t, 0.0015, stats.GrandTotalCost, 1e-9)
	assert.Equal(t, fixed, stats.Records[0].CreatedAt)

	_, err = tracker.GetUsageStats(context.Background(), "forever")
	assert.Error(t, err)
}
