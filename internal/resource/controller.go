package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// MappedLimitBytes caps the total bytes mapped by all stores sharing the
	// controller. If 0, no hard limit is enforced (only tracking).
	MappedLimitBytes int64

	// MaxSnapshots is the maximum number of concurrent snapshot streams.
	// If 0, defaults to 1.
	MaxSnapshots int64

	// IOLimitBytesPerSec is the maximum snapshot throughput.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller accounts mapped bytes and throttles snapshot IO.
type Controller struct {
	cfg Config

	mappedSem  *semaphore.Weighted // nil if unlimited
	mappedUsed atomic.Int64

	snapSem *semaphore.Weighted

	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxSnapshots <= 0 {
		cfg.MaxSnapshots = 1
	}

	c := &Controller{
		cfg:     cfg,
		snapSem: semaphore.NewWeighted(cfg.MaxSnapshots),
	}

	if cfg.MappedLimitBytes > 0 {
		c.mappedSem = semaphore.NewWeighted(cfg.MappedLimitBytes)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// TryReserve reserves bytes of mapping budget without blocking.
// Growth never waits for another store to shrink, so there is no blocking variant.
func (c *Controller) TryReserve(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}

	if c.mappedSem != nil {
		if !c.mappedSem.TryAcquire(bytes) {
			return false
		}
	}

	c.mappedUsed.Add(bytes)
	return true
}

// Release returns previously reserved mapping budget.
func (c *Controller) Release(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.mappedSem != nil {
		c.mappedSem.Release(bytes)
	}
	c.mappedUsed.Add(-bytes)
}

// MappedBytes returns the currently reserved mapping budget in bytes.
func (c *Controller) MappedBytes() int64 {
	if c == nil {
		return 0
	}
	return c.mappedUsed.Load()
}

// AcquireSnapshot reserves a snapshot stream slot, blocking while all are busy.
func (c *Controller) AcquireSnapshot(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.snapSem.Acquire(ctx, 1)
}

// ReleaseSnapshot releases a snapshot stream slot.
func (c *Controller) ReleaseSnapshot() {
	if c == nil {
		return
	}
	c.snapSem.Release(1)
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	// WaitN rejects requests above the burst size, so large buffers are paced in bursts.
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
