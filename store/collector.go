package store

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes the store's counters plus a subset of the
// underlying pebble metrics. Register it with a prometheus registry:
//
//	prometheus.MustRegister(store.NewCollector(st))
type Collector struct {
	store *Store

	updatesAppended *prometheus.Desc
	bytesAppended   *prometheus.Desc
	compactions     *prometheus.Desc

	compactionCount         *prometheus.Desc
	compactionEstimatedDebt *prometheus.Desc
	compactionInProgress    *prometheus.Desc

	memtableSize  *prometheus.Desc
	memtableCount *prometheus.Desc

	walFiles        *prometheus.Desc
	walSize         *prometheus.Desc
	walBytesWritten *prometheus.Desc
}

func NewCollector(s *Store) *Collector {
	return &Collector{
		store: s,

		updatesAppended: prometheus.NewDesc(
			"loom_store_updates_appended_total",
			"Total number of document updates appended",
			nil, nil,
		),
		bytesAppended: prometheus.NewDesc(
			"loom_store_update_bytes_total",
			"Total bytes of document updates appended",
			nil, nil,
		),
		compactions: prometheus.NewDesc(
			"loom_store_compactions_total",
			"Total number of document log compactions",
			nil, nil,
		),

		compactionCount: prometheus.NewDesc(
			"pebble_compaction_count_total",
			"Total number of compactions performed",
			nil, nil,
		),
		compactionEstimatedDebt: prometheus.NewDesc(
			"pebble_compaction_estimated_debt_bytes",
			"Estimated number of bytes that need to be compacted to reach a stable state",
			nil, nil,
		),
		compactionInProgress: prometheus.NewDesc(
			"pebble_compaction_in_progress_bytes",
			"Number of bytes being compacted currently",
			nil, nil,
		),

		memtableSize: prometheus.NewDesc(
			"pebble_memtable_size_bytes",
			"Current size of the memtable in bytes",
			nil, nil,
		),
		memtableCount: prometheus.NewDesc(
			"pebble_memtable_count_total",
			"Current count of memtables",
			nil, nil,
		),

		walFiles: prometheus.NewDesc(
			"pebble_wal_files_total",
			"Number of live WAL files",
			nil, nil,
		),
		walSize: prometheus.NewDesc(
			"pebble_wal_size_bytes",
			"Size of live WAL data in bytes",
			nil, nil,
		),
		walBytesWritten: prometheus.NewDesc(
			"pebble_wal_bytes_written_total",
			"Total physical bytes written to the WAL",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.updatesAppended
	ch <- c.bytesAppended
	ch <- c.compactions

	ch <- c.compactionCount
	ch <- c.compactionEstimatedDebt
	ch <- c.compactionInProgress
	ch <- c.memtableSize
	ch <- c.memtableCount
	ch <- c.walFiles
	ch <- c.walSize
	ch <- c.walBytesWritten
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(
		c.updatesAppended,
		prometheus.CounterValue,
		float64(c.store.appends.Load()),
	)
	ch <- prometheus.MustNewConstMetric(
		c.bytesAppended,
		prometheus.CounterValue,
		float64(c.store.bytesIn.Load()),
	)
	ch <- prometheus.MustNewConstMetric(
		c.compactions,
		prometheus.CounterValue,
		float64(c.store.compactions.Load()),
	)

	metrics := c.store.db.Metrics()
	ch <- prometheus.MustNewConstMetric(
		c.compactionCount,
		prometheus.CounterValue,
		float64(metrics.Compact.Count),
	)
	ch <- prometheus.MustNewConstMetric(
		c.compactionEstimatedDebt,
		prometheus.GaugeValue,
		float64(metrics.Compact.EstimatedDebt),
	)
	ch <- prometheus.MustNewConstMetric(
		c.compactionInProgress,
		prometheus.GaugeValue,
		float64(metrics.Compact.InProgressBytes),
	)
	ch <- prometheus.MustNewConstMetric(
		c.memtableSize,
		prometheus.GaugeValue,
		float64(metrics.MemTable.Size),
	)
	ch <- prometheus.MustNewConstMetric(
		c.memtableCount,
		prometheus.GaugeValue,
		float64(metrics.MemTable.Count),
	)
	ch <- prometheus.MustNewConstMetric(
		c.walFiles,
		prometheus.GaugeValue,
		float64(metrics.WAL.Files),
	)
	ch <- prometheus.MustNewConstMetric(
		c.walSize,
		prometheus.GaugeValue,
		float64(metrics.WAL.Size),
	)
	ch <- prometheus.MustNewConstMetric(
		c.walBytesWritten,
		prometheus.CounterValue,
		float64(metrics.WAL.BytesWritten),
	)
}
