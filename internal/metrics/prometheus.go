package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AnalysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kbcurator_analysis_duration_seconds",
			Help:    "Batch analysis duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	AnalysisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbcurator_analysis_total",
			Help: "Total analysis invocations",
		},
		[]string{"status"},
	)

	ChunksScored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kbcurator_chunks_scored_total",
			Help: "Total chunks scored by the relevance oracle",
		},
	)

	RelevanceScores = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kbcurator_relevance_score",
			Help:    "Final relevance score distribution",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	ChunksRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbcurator_chunks_removed_total",
			Help: "Total chunks removed from active knowledge",
		},
		[]string{"method"},
	)

	RemovalsBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbcurator_removals_blocked_total",
			Help: "Removal batches blocked before execution",
		},
		[]string{"reason"},
	)

	GapsDetected = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kbcurator_gaps_detected_count",
			Help:    "Number of coverage gaps per analysis",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	OracleTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbcurator_oracle_tokens_used",
			Help: "Total oracle tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbcurator_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbcurator_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbcurator_documents_processed_total",
			Help: "Total documents ingested",
		},
		[]string{"extraction_mode", "status"},
	)

	MaintenanceSweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbcurator_maintenance_sweeps_total",
			Help: "Total maintenance sweeps",
		},
		[]string{"status"},
	)

	MaintenanceRepairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbcurator_maintenance_repairs_total",
			Help: "Total repair operations by outcome",
		},
		[]string{"operation", "status"},
	)

	ActiveChunks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kbcurator_active_chunks",
			Help: "Active chunks per agent",
		},
		[]string{"agent_id"},
	)
)

func Init() {
	prometheus.MustRegister(AnalysisDuration)
	prometheus.MustRegister(AnalysisTotal)
	prometheus.MustRegister(ChunksScored)
	prometheus.MustRegister(RelevanceScores)
	prometheus.MustRegister(ChunksRemoved)
	prometheus.MustRegister(RemovalsBlocked)
	prometheus.MustRegister(GapsDetected)
	prometheus.MustRegister(OracleTokensUsed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(DocumentsProcessed)
	prometheus.MustRegister(MaintenanceSweeps)
	prometheus.MustRegister(MaintenanceRepairs)
	prometheus.MustRegister(ActiveChunks)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
