// Package metrics holds the Prometheus collectors of the gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeMismatch = "checksum_mismatch"
)

var (
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backup_gateway_transfers_total",
		Help: "Backup and restore operations by destination type and outcome",
	}, []string{"operation", "destination_type", "outcome"}) // operation: backup/restore/verify

	TransferDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backup_gateway_transfer_duration_seconds",
		Help:    "Duration of backup and restore operations",
		Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300, 900, 3600},
	}, []string{"operation", "destination_type"})

	TransferBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backup_gateway_transfer_bytes_total",
		Help: "Bytes moved to or from destinations",
	}, []string{"operation", "destination_type"})

	VerificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backup_gateway_verification_failures_total",
		Help: "Restore probes whose content did not match the uploaded artifact",
	}, []string{"destination_type"})

	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backup_gateway_auth_failures_total",
		Help: "Requests rejected by signature verification",
	}, []string{"scope"}) // scope: default/origin
)

// ObserveTransfer records one finished operation.
func ObserveTransfer(operation, destinationType, outcome string, bytes int64, elapsed time.Duration) {
	TransfersTotal.WithLabelValues(operation, destinationType, outcome).Inc()
	TransferDuration.WithLabelValues(operation, destinationType).Observe(elapsed.Seconds())
	if bytes > 0 {
		TransferBytes.WithLabelValues(operation, destinationType).Add(float64(bytes))
	}
}
