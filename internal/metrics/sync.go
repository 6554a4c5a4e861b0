package metrics

import "github.com/prometheus/client_golang/prometheus"

// SyncCollector exposes Prometheus metrics for the report sync pipeline.
type SyncCollector struct {
	failoverTotal      prometheus.Counter
	reportsIngested    prometheus.Counter
	duplicatesFiltered prometheus.Counter
	cleanupRemoved     prometheus.Counter
}

// NewSyncCollector constructs and registers sync-pipeline counters.
func NewSyncCollector(registry *prometheus.Registry) (*SyncCollector, error) {
	failoverTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "safetymap",
		Subsystem: "sync",
		Name:      "failover_total",
		Help:      "Times the coordinator fell over to the local backend.",
	})

	reportsIngested := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "safetymap",
		Subsystem: "sync",
		Name:      "reports_ingested_total",
		Help:      "Unique scanned reports inserted by batch ingestion.",
	})

	duplicatesFiltered := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "safetymap",
		Subsystem: "sync",
		Name:      "duplicates_filtered_total",
		Help:      "Scanned candidates dropped as duplicates before insertion.",
	})

	cleanupRemoved := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "safetymap",
		Subsystem: "sync",
		Name:      "cleanup_removed_total",
		Help:      "Reports removed by the AI-assisted bulk cleanup pass.",
	})

	for _, c := range []prometheus.Counter{failoverTotal, reportsIngested, duplicatesFiltered, cleanupRemoved} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &SyncCollector{
		failoverTotal:      failoverTotal,
		reportsIngested:    reportsIngested,
		duplicatesFiltered: duplicatesFiltered,
		cleanupRemoved:     cleanupRemoved,
	}, nil
}

// FailoverEngaged records the one-way switch to the local backend.
func (c *SyncCollector) FailoverEngaged() {
	c.failoverTotal.Inc()
}

// ReportsIngested records unique reports inserted by a sync batch.
func (c *SyncCollector) ReportsIngested(n int) {
	c.reportsIngested.Add(float64(n))
}

// DuplicatesFiltered records candidates dropped by the duplicate matcher.
func (c *SyncCollector) DuplicatesFiltered(n int) {
	if n > 0 {
		c.duplicatesFiltered.Add(float64(n))
	}
}

// CleanupRemoved records reports deleted by bulk cleanup.
func (c *SyncCollector) CleanupRemoved(n int) {
	c.cleanupRemoved.Add(float64(n))
}
