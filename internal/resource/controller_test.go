package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilController(t *testing.T) {
	var c *Controller
	assert.NoError(t, c.AcquireMemory(1<<30))
	c.ReleaseMemory(1 << 30)
	assert.NoError(t, c.AcquireLoad(context.Background()))
	c.ReleaseLoad()
	assert.NoError(t, c.AcquireIO(context.Background(), 1<<30))
	assert.Zero(t, c.MemoryUsage())
}

func TestMemoryLimit(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	require.NoError(t, c.AcquireMemory(60))
	assert.Equal(t, int64(60), c.MemoryUsage())

	err := c.AcquireMemory(50)
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)

	c.ReleaseMemory(60)
	assert.Zero(t, c.MemoryUsage())
	assert.NoError(t, c.AcquireMemory(100))
}

func TestLoadSlots(t *testing.T) {
	c := NewController(Config{MaxConcurrentLoads: 1})

	require.NoError(t, c.AcquireLoad(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.AcquireLoad(ctx), context.DeadlineExceeded)

	c.ReleaseLoad()
	assert.NoError(t, c.AcquireLoad(context.Background()))
}

func TestIOThrottle(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})

	// Requests above the burst are split; this returns without error.
	assert.NoError(t, c.AcquireIO(context.Background(), 1<<20))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, c.AcquireIO(ctx, 1<<21))
}
