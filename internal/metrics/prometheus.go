package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChatRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medcontent_chat_requests_total",
			Help: "Chat pipeline requests by outcome",
		},
		[]string{"status", "streaming"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medcontent_chat_stage_duration_seconds",
			Help:    "Duration of each chat pipeline stage",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medcontent_llm_request_duration_seconds",
			Help:    "Latency of completion and embedding calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"call_type", "status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medcontent_llm_tokens_total",
			Help: "Tokens recorded by usage accounting",
		},
		[]string{"model", "token_type", "call_type"},
	)

	LLMCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medcontent_llm_cost_usd_total",
			Help: "Estimated LLM cost in USD from the rate table",
		},
		[]string{"model"},
	)

	RetrievedChunks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "medcontent_retrieved_chunks",
			Help:    "Number of chunks retrieved per query",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medcontent_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medcontent_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DetachedTaskFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medcontent_detached_task_failures_total",
			Help: "Fire-and-forget side effects that failed and were swallowed",
		},
		[]string{"task"},
	)

	ArticlesIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "medcontent_articles_indexed_total",
			Help: "Articles chunked and indexed",
		},
	)
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ChatRequests,
			StageDuration,
			LLMRequestDuration,
			LLMTokensUsed,
			LLMCost,
			RetrievedChunks,
			CacheHits,
			CacheMisses,
			DetachedTaskFailures,
			ArticlesIndexed,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
