package mmvar

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// promcollector package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordDefine is called after each Define.
	RecordDefine(typ Type, duration time.Duration, err error)

	// RecordRead is called after each Read or View.
	RecordRead(typ Type, duration time.Duration, err error)

	// RecordWrite is called after each Write. bytes is the logical size
	// written (8 for immediate values).
	RecordWrite(typ Type, bytes int, duration time.Duration, err error)

	// RecordRemove is called after each Remove.
	RecordRemove(duration time.Duration, err error)

	// RecordFree is called after each Free.
	RecordFree(duration time.Duration, err error)

	// RecordGrow is called whenever the mapping grew.
	RecordGrow(oldSize, newSize uint64)

	// RecordCorruption is called once, when the store is marked broken.
	RecordCorruption(err error)

	// RecordSnapshot is called after each snapshot export.
	RecordSnapshot(storedBytes int64, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordDefine(Type, time.Duration, error)     {}
func (NoopMetricsCollector) RecordRead(Type, time.Duration, error)       {}
func (NoopMetricsCollector) RecordWrite(Type, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordRemove(time.Duration, error)           {}
func (NoopMetricsCollector) RecordFree(time.Duration, error)             {}
func (NoopMetricsCollector) RecordGrow(uint64, uint64)                   {}
func (NoopMetricsCollector) RecordCorruption(error)                      {}
func (NoopMetricsCollector) RecordSnapshot(int64, time.Duration, error)  {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	DefineCount     atomic.Int64
	DefineErrors    atomic.Int64
	ReadCount       atomic.Int64
	ReadErrors      atomic.Int64
	ReadTotalNanos  atomic.Int64
	WriteCount      atomic.Int64
	WriteErrors     atomic.Int64
	WriteBytes      atomic.Int64
	WriteTotalNanos atomic.Int64
	RemoveCount     atomic.Int64
	RemoveErrors    atomic.Int64
	FreeCount       atomic.Int64
	FreeErrors      atomic.Int64
	GrowCount       atomic.Int64
	MappedSize      atomic.Uint64
	Corruptions     atomic.Int64
	SnapshotCount   atomic.Int64
	SnapshotErrors  atomic.Int64
	SnapshotBytes   atomic.Int64
}

// RecordDefine implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDefine(_ Type, _ time.Duration, err error) {
	b.DefineCount.Add(1)
	if err != nil {
		b.DefineErrors.Add(1)
	}
}

// RecordRead implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRead(_ Type, duration time.Duration, err error) {
	b.ReadCount.Add(1)
	b.ReadTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ReadErrors.Add(1)
	}
}

// RecordWrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWrite(_ Type, bytes int, duration time.Duration, err error) {
	b.WriteCount.Add(1)
	b.WriteTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.WriteErrors.Add(1)
		return
	}
	b.WriteBytes.Add(int64(bytes))
}

// RecordRemove implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRemove(_ time.Duration, err error) {
	b.RemoveCount.Add(1)
	if err != nil {
		b.RemoveErrors.Add(1)
	}
}

// RecordFree implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFree(_ time.Duration, err error) {
	b.FreeCount.Add(1)
	if err != nil {
		b.FreeErrors.Add(1)
	}
}

// RecordGrow implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGrow(_, newSize uint64) {
	b.GrowCount.Add(1)
	b.MappedSize.Store(newSize)
}

// RecordCorruption implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCorruption(error) {
	b.Corruptions.Add(1)
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(storedBytes int64, _ time.Duration, err error) {
	b.SnapshotCount.Add(1)
	if err != nil {
		b.SnapshotErrors.Add(1)
		return
	}
	b.SnapshotBytes.Add(storedBytes)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		DefineCount:    b.DefineCount.Load(),
		DefineErrors:   b.DefineErrors.Load(),
		ReadCount:      b.ReadCount.Load(),
		ReadErrors:     b.ReadErrors.Load(),
		ReadAvgNanos:   avg(b.ReadTotalNanos.Load(), b.ReadCount.Load()),
		WriteCount:     b.WriteCount.Load(),
		WriteErrors:    b.WriteErrors.Load(),
		WriteBytes:     b.WriteBytes.Load(),
		WriteAvgNanos:  avg(b.WriteTotalNanos.Load(), b.WriteCount.Load()),
		RemoveCount:    b.RemoveCount.Load(),
		RemoveErrors:   b.RemoveErrors.Load(),
		FreeCount:      b.FreeCount.Load(),
		FreeErrors:     b.FreeErrors.Load(),
		GrowCount:      b.GrowCount.Load(),
		MappedSize:     b.MappedSize.Load(),
		Corruptions:    b.Corruptions.Load(),
		SnapshotCount:  b.SnapshotCount.Load(),
		SnapshotErrors: b.SnapshotErrors.Load(),
		SnapshotBytes:  b.SnapshotBytes.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	DefineCount    int64
	DefineErrors   int64
	ReadCount      int64
	ReadErrors     int64
	ReadAvgNanos   int64
	WriteCount     int64
	WriteErrors    int64
	WriteBytes     int64
	WriteAvgNanos  int64
	RemoveCount    int64
	RemoveErrors   int64
	FreeCount      int64
	FreeErrors     int64
	GrowCount      int64
	MappedSize     uint64
	Corruptions    int64
	SnapshotCount  int64
	SnapshotErrors int64
	SnapshotBytes  int64
}
