// Package metrics holds the Prometheus collectors for the lookup index.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tdfc"

var RebuildCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "index",
	Name:      "rebuilds_total",
	Help:      "Index rebuilds by outcome (ok, config, schema, storage, cancel, unknown).",
}, []string{"sheet", "result"})

var RebuildDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "index",
	Name:      "rebuild_duration_seconds",
	Help:      "Time spent staging and committing an index rebuild.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
}, []string{"sheet"})

var Entries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "index",
	Name:      "entries",
	Help:      "Entries committed by the last successful rebuild.",
}, []string{"sheet"})

var RowsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "index",
	Name:      "rows_skipped_total",
	Help:      "Source rows left out of the index by reason (out_of_range, empty_key, empty_label).",
}, []string{"sheet", "reason"})

var StalenessChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "index",
	Name:      "staleness_checks_total",
	Help:      "Freshness checks by result (fresh, stale, failed_memo, no_source).",
}, []string{"result"})

var Lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "lookup",
	Name:      "requests_total",
	Help:      "Lookups by mode (single, all) and result (found, not_found, error).",
}, []string{"mode", "result"})

var LookupCache = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "lookup",
	Name:      "cache_total",
	Help:      "Lookup result cache hits and misses.",
}, []string{"result"})

// Collectors lists every collector in this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RebuildCount,
		RebuildDuration,
		Entries,
		RowsSkipped,
		StalenessChecks,
		Lookups,
		LookupCache,
	}
}

// Register registers all collectors with reg. Collectors that are already
// registered with reg are ignored so that Register is safe to call twice.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
