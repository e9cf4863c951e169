package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwp001/mixlab/logger"
	"github.com/lwp001/mixlab/protocol"
)

func newTestPool(t *testing.T, workers int) *WorkerPool {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return newWorkerPool(ctx, workers, logger.NewTestLogger())
}

func TestSpawnDeliversResultToModule(t *testing.T) {
	pool := newTestPool(t, 1)

	pool.scheduler(3).Spawn(func() any { return "ready" })

	// results queue until the engine drains them at a tick boundary
	deadline := time.After(2 * time.Second)
	for {
		var got []taskResult
		pool.drain(func(id protocol.ModuleId, value any) {
			got = append(got, taskResult{module: id, value: value})
		})
		if len(got) > 0 {
			require.Len(t, got, 1)
			assert.Equal(t, protocol.ModuleId(3), got[0].module)
			assert.Equal(t, "ready", got[0].value)
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for task result")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestAwaitBlocksForResult(t *testing.T) {
	pool := newTestPool(t, 2)

	value := pool.scheduler(1).Await(func() any { return 42 })
	assert.Equal(t, 42, value)

	// awaited results never reach the module mailbox
	pool.drain(func(protocol.ModuleId, any) {
		t.Fatal("unexpected mailbox delivery")
	})
}

func TestSubmitRunsBackgroundWork(t *testing.T) {
	pool := newTestPool(t, 1)

	done := make(chan struct{})
	pool.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submitted work never ran")
	}
}

func TestSystemMetrics(t *testing.T) {
	pool := newTestPool(t, 3)

	metrics := pool.GetSystemMetrics()
	assert.Equal(t, 3, metrics.WorkersTotal)
	// memory stats come from the host; just check they are coherent
	if metrics.MemoryTotalGB > 0 {
		assert.Greater(t, metrics.MemoryTotalGB, metrics.MemoryUsedGB)
	}
}
