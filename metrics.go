package olapgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives operational metrics from the tablet. Implement
// it to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordPublish is called after each rowset publication.
	RecordPublish(rows uint64, duration time.Duration, err error)

	// RecordCompaction is called after each compaction cycle. inputs is the
	// number of rowsets merged.
	RecordCompaction(inputs int, rows uint64, duration time.Duration, err error)

	// RecordLoad is called after each rowset load.
	RecordLoad(duration time.Duration, err error)

	// RecordRead is called after a reader is drained. rows is the merged
	// output row count.
	RecordRead(rows uint64, duration time.Duration, err error)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordPublish(uint64, time.Duration, error)         {}
func (NoopMetricsCollector) RecordCompaction(int, uint64, time.Duration, error) {}
func (NoopMetricsCollector) RecordLoad(time.Duration, error)                    {}
func (NoopMetricsCollector) RecordRead(uint64, time.Duration, error)            {}

// BasicMetricsCollector is a simple in-memory collector for debugging and
// tests.
type BasicMetricsCollector struct {
	PublishCount      atomic.Int64
	PublishErrors     atomic.Int64
	PublishRows       atomic.Int64
	CompactionCount   atomic.Int64
	CompactionErrors  atomic.Int64
	CompactionInputs  atomic.Int64
	LoadCount         atomic.Int64
	LoadErrors        atomic.Int64
	LoadTotalNanos    atomic.Int64
	ReadCount         atomic.Int64
	ReadErrors        atomic.Int64
	ReadRows          atomic.Int64
}

// RecordPublish implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPublish(rows uint64, _ time.Duration, err error) {
	b.PublishCount.Add(1)
	b.PublishRows.Add(int64(rows))
	if err != nil {
		b.PublishErrors.Add(1)
	}
}

// RecordCompaction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCompaction(inputs int, _ uint64, _ time.Duration, err error) {
	b.CompactionCount.Add(1)
	b.CompactionInputs.Add(int64(inputs))
	if err != nil {
		b.CompactionErrors.Add(1)
	}
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(duration time.Duration, err error) {
	b.LoadCount.Add(1)
	b.LoadTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.LoadErrors.Add(1)
	}
}

// RecordRead implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRead(rows uint64, _ time.Duration, err error) {
	b.ReadCount.Add(1)
	b.ReadRows.Add(int64(rows))
	if err != nil {
		b.ReadErrors.Add(1)
	}
}
