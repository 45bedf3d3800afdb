// Package telemetry defines the process's Prometheus metrics (C14c),
// exposed on the admin server's /metrics endpoint.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var processStart = time.Now()

// Request metrics
var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3_requests_total",
			Help: "Total number of S3 API requests",
		},
		[]string{"operation"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "s3_request_duration_seconds",
			Help:    "S3 API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3_errors_total",
			Help: "Total number of S3 API error responses",
		},
		[]string{"status"},
	)
)

// Background worker metrics
var (
	MultipartExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simples3_multipart_expired_total",
		Help: "Total number of multipart uploads aborted by the reaper for exceeding their TTL",
	})

	LifecycleExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simples3_lifecycle_expired_total",
		Help: "Total number of objects deleted by a lifecycle expiration rule",
	})
)

// Gauges reflecting the current state of the store, refreshed periodically
// by the admin server (spec §6).
var (
	BucketsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simples3_buckets_total",
		Help: "Current number of buckets",
	})

	ObjectsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simples3_objects_total",
		Help: "Current number of objects across all buckets",
	})

	StorageBytesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simples3_storage_bytes_total",
		Help: "Current number of bytes stored across all buckets",
	})

	CredentialsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simples3_credentials_total",
		Help: "Current number of credentials",
	})

	MultipartUploadsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simples3_multipart_uploads_active",
		Help: "Current number of in-progress multipart uploads",
	})

	MultipartOldestAgeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simples3_multipart_oldest_age_seconds",
		Help: "Age in seconds of the oldest in-progress multipart upload",
	})

	UptimeSeconds = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "simples3_uptime_seconds",
		Help: "Seconds since the process started",
	}, func() float64 { return time.Since(processStart).Seconds() })
)
