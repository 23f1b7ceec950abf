package olapgo

import (
	"log/slog"

	"github.com/hupe1980/olapgo/internal/fs"
	"github.com/hupe1980/olapgo/internal/resource"
)

type options struct {
	fsys             fs.FileSystem
	logger           *Logger
	metricsCollector MetricsCollector
	cacheCapacity    int64
	resourceConfig   resource.Config
}

// Option configures tablet open behavior.
type Option func(*options)

// WithFileSystem overrides the file system implementation, mainly for fault
// injection in tests.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fsys = fsys
		}
	}
}

// WithLogger configures structured logging. Pass nil to keep the noop
// logger.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLogLevel installs a text logger at the given level. Convenience
// wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc != nil {
			o.metricsCollector = mc
		}
	}
}

// WithSegmentCacheCapacity bounds the process-wide segment cache in bytes.
// Zero disables caching entirely.
func WithSegmentCacheCapacity(capacity int64) Option {
	return func(o *options) {
		o.cacheCapacity = capacity
	}
}

// WithResourceConfig sets memory, load concurrency and IO throughput limits
// for rowset operations.
func WithResourceConfig(cfg resource.Config) Option {
	return func(o *options) {
		o.resourceConfig = cfg
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		fsys:             fs.Default,
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		cacheCapacity:    defaultCacheCapacity,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
