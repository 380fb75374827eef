package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors are registered on the default registry served by promhttp.
var (
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studyhall",
		Name:      "scans_total",
		Help:      "Badge scans by outcome or logged action.",
	}, []string{"outcome"})

	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "studyhall",
		Name:      "scan_duration_seconds",
		Help:      "Time to resolve and record a scan.",
		Buckets:   prometheus.DefBuckets,
	})

	Corrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studyhall",
		Name:      "admin_corrections_total",
		Help:      "Admin corrections by fix type and outcome.",
	}, []string{"fix_type", "outcome"})

	WriteConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "studyhall",
		Name:      "write_conflicts_total",
		Help:      "Conditional writes that lost a race.",
	})

	SnapshotReads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "studyhall",
		Name:      "snapshot_reads_total",
		Help:      "Seat snapshot reads.",
	})

	AdminSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studyhall",
		Name:      "admin_session_events_total",
		Help:      "Admin session transitions.",
	}, []string{"event"})

	SyncPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studyhall",
		Name:      "sync_polls_total",
		Help:      "Display snapshot polls by result.",
	}, []string{"result"})

	EventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studyhall",
		Name:      "events_consumed_total",
		Help:      "Ledger events handled by the worker.",
	}, []string{"type"})
)
