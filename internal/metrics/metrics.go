package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Queue types
	QueueTypeDeriveJob = "derive_job"

	// Queue results
	ResultSuccess = "success"
	ResultRetry   = "retry"
	ResultDropped = "dropped"
	ResultFailure = "failure"

	// Worker outcomes
	OutcomeJobFound = "job_found"
	OutcomeIdle     = "idle"

	// HTTP endpoints
	EndpointOAuthStart    = "oauth_start"
	EndpointOAuthCallback = "oauth_callback"
	EndpointWebhook       = "webhook_export"
	EndpointSync          = "sync"
	EndpointDerived       = "derived"
	EndpointHealth        = "health"

	// Garmin API operations
	OpExchangeCode     = "exchange_code"
	OpRefreshToken     = "refresh_token"
	OpGetUserID        = "get_user_id"
	OpListActivities   = "list_activities"
	OpListSleeps       = "list_sleeps"
	OpListDailies      = "list_dailies"
	OpListUserMetrics  = "list_user_metrics"
	OpListBodyComps    = "list_body_comps"
	OpListHRV          = "list_hrv"
	OpListStress       = "list_stress"
	OpPullCallback     = "pull_callback"

	// Sync triggers
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerWebhook   = "webhook"
	TriggerBackfill  = "backfill"

	// Sync results
	SyncResultSuccess     = "success"
	SyncResultNoOp        = "no_op"
	SyncResultRateLimited = "rate_limited"
	SyncResultNeedsReauth = "needs_reauth"
	SyncResultError       = "error"

	// Database operations
	DBOpEnqueueDeriveJob             = "enqueue_derive_job"
	DBOpClaimDeriveJob               = "claim_derive_job"
	DBOpDeleteDeriveJob              = "delete_derive_job"
	DBOpReleaseDeriveJob             = "release_derive_job"
	DBOpGetDeriveJobQueueLength      = "get_derive_job_queue_length"
	DBOpGetReadyDeriveJobQueueLength = "get_ready_derive_job_queue_length"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status_code"},
	)
)

// Queue Metrics
var (
	QueueDepthTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth_total",
			Help: "Total number of items in queue (all states)",
		},
		[]string{"queue_type"},
	)

	QueueDepthReady = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth_ready",
			Help: "Number of items ready for processing",
		},
		[]string{"queue_type"},
	)

	QueueDepthProcessing = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth_processing",
			Help: "Number of items currently being processed",
		},
		[]string{"queue_type"},
	)

	QueueEnqueueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_enqueue_total",
			Help: "Total number of items enqueued",
		},
		[]string{"queue_type"},
	)

	QueueDequeueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_dequeue_total",
			Help: "Total number of items dequeued with outcome",
		},
		[]string{"queue_type", "result"},
	)

	QueueProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_processing_duration_seconds",
			Help:    "Time spent processing queue items",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"queue_type", "result"},
	)

	QueueRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_retry_total",
			Help: "Total number of queue item retries by retry count",
		},
		[]string{"queue_type", "retry_count"},
	)

	QueueItemAge = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_item_age_seconds",
			Help:    "Time from enqueue to processing start",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600, 7200},
		},
		[]string{"queue_type"},
	)
)

// Worker Metrics
var (
	WorkerPollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_poll_cycles_total",
			Help: "Total number of worker poll cycles by outcome",
		},
		[]string{"outcome"},
	)

	WorkerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_active",
			Help: "Number of worker goroutines currently processing a job",
		},
	)
)

// Garmin API Metrics
var (
	GarminAPIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garmin_api_requests_total",
			Help: "Total number of Garmin API requests",
		},
		[]string{"operation", "status_code"},
	)

	GarminAPIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "garmin_api_request_duration_seconds",
			Help:    "Garmin API request latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation", "status_code"},
	)
)

// Database Metrics
var (
	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_operation_duration_seconds",
			Help:    "Database operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	DBOperationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_operation_errors_total",
			Help: "Total number of database operation errors",
		},
		[]string{"operation"},
	)
)

// Business Metrics
var (
	SyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncs_total",
			Help: "Total number of sync attempts by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	SyncRowsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_rows_upserted_total",
			Help: "Total number of normalized rows upserted by dataset",
		},
		[]string{"dataset"},
	)

	WebhookRowsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_rows_accepted_total",
			Help: "Total number of webhook export rows accepted by dataset",
		},
		[]string{"dataset"},
	)

	WebhookRowsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_rows_dropped_total",
			Help: "Total number of webhook export rows dropped as malformed",
		},
	)

	DerivedRowsComputed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "derived_rows_computed_total",
			Help: "Total number of derived metric rows computed",
		},
	)

	InsightsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_published_total",
			Help: "Total number of insight derive messages published by result",
		},
		[]string{"result"},
	)
)
