package mmvar

import (
	"log/slog"
	"os"

	"github.com/hupe1980/mmvar/internal/fs"
	"github.com/hupe1980/mmvar/internal/mapping"
	"github.com/hupe1980/mmvar/internal/mmap"
	"github.com/hupe1980/mmvar/internal/resource"
	"github.com/hupe1980/mmvar/internal/snapshot"
)

// FileSystem abstracts the file operations used to open and restore
// variable files. Tests use it to inject I/O faults.
type FileSystem = fs.FileSystem

// ResourceController caps the bytes mapped by all stores sharing it and
// throttles snapshot IO.
type ResourceController = resource.Controller

// ResourceConfig configures a ResourceController.
type ResourceConfig = resource.Config

// NewResourceController creates a controller that can be shared by stores.
func NewResourceController(cfg ResourceConfig) *ResourceController {
	return resource.NewController(cfg)
}

// AccessPattern is the madvise hint applied to the mapping.
type AccessPattern = mmap.AccessPattern

const (
	AccessDefault    = mmap.AccessDefault
	AccessSequential = mmap.AccessSequential
	AccessRandom     = mmap.AccessRandom
	AccessWillNeed   = mmap.AccessWillNeed
)

type options struct {
	mapping          mapping.Config
	metricsCollector MetricsCollector
	logger           *Logger
	verifyOnOpen     bool
}

// Option configures Open and Restore.
type Option func(*options)

// WithInitialSize sets the file size used when a new file is created.
// Default: 1 MiB.
func WithInitialSize(n uint64) Option {
	return func(o *options) {
		o.mapping.InitialSize = n
	}
}

// WithMaxSize caps how far the file may grow. Allocations that would need a
// larger file fail with ErrOutOfSpace. Default: 1 GiB.
func WithMaxSize(n uint64) Option {
	return func(o *options) {
		o.mapping.MaxSize = n
	}
}

// WithGrowthStep sets the minimum number of bytes added when the arena is
// exhausted. Default: 1 MiB.
func WithGrowthStep(n uint64) Option {
	return func(o *options) {
		o.mapping.GrowthStep = n
	}
}

// WithDirectorySlots sets the number of variable slots reserved right after
// the header of a new file. More slots are added on demand from the arena.
// Existing files keep the value they were created with. Default: 256.
func WithDirectorySlots(n uint64) Option {
	return func(o *options) {
		o.mapping.DirectorySlots = n
	}
}

// WithFileMode sets the permissions of newly created files. Default: 0644.
func WithFileMode(mode os.FileMode) Option {
	return func(o *options) {
		o.mapping.FileMode = mode
	}
}

// WithFileSystem replaces the local file system.
func WithFileSystem(fsys FileSystem) Option {
	return func(o *options) {
		if fsys == nil {
			fsys = fs.Default
		}
		o.mapping.FS = fsys
	}
}

// WithResourceController shares a mapping budget and snapshot IO limits
// between stores.
func WithResourceController(rc *ResourceController) Option {
	return func(o *options) {
		o.mapping.Resources = rc
	}
}

// WithAccessPattern sets the madvise hint for the mapping.
// Default: AccessRandom.
func WithAccessPattern(p AccessPattern) Option {
	return func(o *options) {
		o.mapping.Access = p
	}
}

// WithVerifyOnOpen runs Check before Open returns.
func WithVerifyOnOpen(enabled bool) Option {
	return func(o *options) {
		o.verifyOnOpen = enabled
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &mmvar.BasicMetricsCollector{}
//	vars, _ := mmvar.Open("vars.mmf", mmvar.WithMetricsCollector(metrics))
//	// ... use vars ...
//	stats := metrics.GetStats()
//	fmt.Printf("Writes: %d, Avg latency: %dns\n", stats.WriteCount, stats.WriteAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := mmvar.NewJSONLogger(slog.LevelInfo)
//	vars, _ := mmvar.Open("vars.mmf", mmvar.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		mapping:          mapping.DefaultConfig(),
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

// Compression selects the codec of a snapshot.
type Compression = snapshot.Codec

const (
	CompressionNone = snapshot.CodecNone
	CompressionLZ4  = snapshot.CodecLZ4
	CompressionZstd = snapshot.CodecZstd
)

type snapshotOptions struct {
	compression Compression
	level       int
}

// SnapshotOption configures Snapshot.
type SnapshotOption func(*snapshotOptions)

// WithCompression selects the snapshot codec. Default: CompressionZstd.
func WithCompression(c Compression) SnapshotOption {
	return func(o *snapshotOptions) {
		o.compression = c
	}
}

// WithCompressionLevel sets the codec-specific level (zstd 1-22, lz4 0-9).
// 0 selects the codec default.
func WithCompressionLevel(level int) SnapshotOption {
	return func(o *snapshotOptions) {
		o.level = level
	}
}

func applySnapshotOptions(optFns []SnapshotOption) snapshotOptions {
	o := snapshotOptions{compression: CompressionZstd}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
