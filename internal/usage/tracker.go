package usage

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/medcontent/backend/internal/metrics"
	"github.com/medcontent/backend/internal/storage/models"
	"github.com/medcontent/backend/pkg/config"
	"github.com/medcontent/backend/pkg/logger"
)

const (
	RangeAll   = ""
	RangeToday = "today"
	RangeWeek  = "week"
	RangeMonth = "month"

	ratePer = 10000.0
)

type Store interface {
	InsertUsage(ctx context.Context, record *models.UsageRecord) error
	ListUsageSince(ctx context.Context, since time.Time) ([]models.UsageRecord, error)
}

type ModelUsage struct {
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	OtherTokens  int     `json:"otherTokens"`
	TotalTokens  int     `json:"totalTokens"`
	Cost         float64 `json:"cost"`
}

type Stats struct {
	Summary        map[string]*ModelUsage `json:"summary"`
	GrandTotalCost float64                `json:"grandTotalCost"`
	Records        []models.UsageRecord   `json:"records"`
}

// Tracker records token usage in the background and aggregates it on demand.
type Tracker struct {
	store        Store
	rates        map[string]config.Rate
	writeTimeout time.Duration
	now          func() time.Time
	wg           sync.WaitGroup
}

func NewTracker(store Store, rates map[string]config.Rate) *Tracker {
	if len(rates) == 0 {
		rates = config.DefaultRates()
	}
	return &Tracker{
		store:        store,
		rates:        rates,
		writeTimeout: 10 * time.Second,
		now:          time.Now,
	}
}

// Record stores entry without blocking. Failures are logged and never reach the caller.
func (t *Tracker) Record(entry models.UsageRecord) {
	if entry.TokenCount < 0 {
		logger.Warn("Dropping usage record with negative token count",
			zap.String("call_type", entry.CallType),
			zap.String("model", entry.Model),
			zap.Int("token_count", entry.TokenCount),
		)
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = t.now()
	}

	t.observe(entry)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				metrics.DetachedTaskFailures.WithLabelValues("usage_record").Inc()
				logger.Error("Usage recording panicked", zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), t.writeTimeout)
		defer cancel()

		if err := t.store.InsertUsage(ctx, &entry); err != nil {
			metrics.DetachedTaskFailures.WithLabelValues("usage_record").Inc()
			logger.Warn("Failed to record usage",
				zap.String("call_type", entry.CallType),
				zap.String("model", entry.Model),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until every pending Record has finished.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func (t *Tracker) GetUsageStats(ctx context.Context, timeRange string) (*Stats, error) {
	since, err := Since(timeRange, t.now())
	if err != nil {
		return nil, err
	}

	records, err := t.store.ListUsageSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch usage records: %w", err)
	}

	return Aggregate(records, t.rates), nil
}

// Since maps a named range to its lower bound. The zero time means no bound.
func Since(timeRange string, now time.Time) (time.Time, error) {
	switch timeRange {
	case RangeAll:
		return time.Time{}, nil
	case RangeToday:
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), nil
	case RangeWeek:
		return now.AddDate(0, 0, -7), nil
	case RangeMonth:
		return now.AddDate(0, -1, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unknown time range %q", timeRange)
	}
}

// Aggregate sums tokens and cost per model. Models missing from rates are skipped. Costs are
// rounded to four decimals only after accumulation, so the grand total can differ from the sum
// of rounded per-model costs by up to 0.00005 per model.
func Aggregate(records []models.UsageRecord, rates map[string]config.Rate) *Stats {
	stats := &Stats{
		Summary: make(map[string]*ModelUsage),
		Records: records,
	}
	if stats.Records == nil {
		stats.Records = []models.UsageRecord{}
	}

	var grand float64
	for _, r := range records {
		rate, ok := rates[r.Model]
		if !ok {
			continue
		}

		mu := stats.Summary[r.Model]
		if mu == nil {
			mu = &ModelUsage{}
			stats.Summary[r.Model] = mu
		}

		cost := costOf(r, rate)
		switch r.TokenType {
		case models.TokenInput:
			mu.InputTokens += r.TokenCount
		case models.TokenOutput:
			mu.OutputTokens += r.TokenCount
		default:
			mu.OtherTokens += r.TokenCount
		}
		mu.TotalTokens += r.TokenCount
		mu.Cost += cost
		grand += cost
	}

	for _, mu := range stats.Summary {
		mu.Cost = round4(mu.Cost)
	}
	stats.GrandTotalCost = round4(grand)
	return stats
}

// costOf bills unrecognized token types at the input rate.
func costOf(r models.UsageRecord, rate config.Rate) float64 {
	perToken := rate.Input
	if r.TokenType == models.TokenOutput {
		perToken = rate.Output
	}
	return float64(r.TokenCount) / ratePer * perToken
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func (t *Tracker) observe(entry models.UsageRecord) {
	metrics.LLMTokensUsed.WithLabelValues(entry.Model, string(entry.TokenType), entry.CallType).Add(float64(entry.TokenCount))
	if rate, ok := t.rates[entry.Model]; ok {
		metrics.LLMCost.WithLabelValues(entry.Model).Add(costOf(entry, rate))
	}
}
