package wal

import "github.com/prometheus/client_golang/prometheus"

type walMetrics struct {
	recordsAppended    *prometheus.CounterVec
	rollbacks          prometheus.Counter
	checkpointDuration *prometheus.HistogramVec
	fuzzyBeginDuration prometheus.Histogram
	recoveries         prometheus.Counter
}

func newWalMetrics(reg prometheus.Registerer) *walMetrics {
	m := &walMetrics{
		recordsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wal_records_appended_total",
			Help: "Total number of WAL records appended, by kind.",
		}, []string{"kind"}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wal_rollbacks_total",
			Help: "Total number of transaction rollbacks performed.",
		}),
		checkpointDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wal_checkpoint_duration_seconds",
			Help:    "Duration of checkpoint operations, by kind (sharp or fuzzy).",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		fuzzyBeginDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wal_fuzzy_checkpoint_begin_duration_seconds",
			Help:    "Duration of the dirty-page snapshot taken at fuzzy checkpoint begin.",
			Buckets: prometheus.DefBuckets,
		}),
		recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wal_recoveries_total",
			Help: "Total number of times Recovery has run to completion.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.recordsAppended, m.rollbacks, m.checkpointDuration, m.fuzzyBeginDuration, m.recoveries)
	}
	return m
}
