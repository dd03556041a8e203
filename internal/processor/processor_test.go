package processor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/optimization-engine/pkg/types"
)

func testProcessorConfig() *types.ProcessorConfig {
	return &types.ProcessorConfig{
		NumWorkers:           4,
		MaxRetries:           2,
		EnableFaultTolerance: true,
		HeartbeatInterval:    10 * time.Millisecond,
		TaskTimeout:          time.Minute,
	}
}

func TestTaskID_Deterministic(t *testing.T) {
	a := TaskID(0, "payload")
	b := TaskID(0, "payload")
	assert.Equal(t, a, b)

	assert.NotEqual(t, TaskID(0, "payload"), TaskID(1, "payload"))
	assert.NotEqual(t, TaskID(0, "payload"), TaskID(0, "other"))
}

func TestProcessDistributed_DoublesFiveItems(t *testing.T) {
	p := NewDistributedProcessor(testProcessorConfig(), nil)

	items := []any{1, 2, 3, 4, 5}
	result, err := p.ProcessDistributed(items, func(payload any) (any, error) {
		return payload.(int) * 2, nil
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 5, result.TotalTasks)
	assert.Equal(t, 5, result.CompletedTasks)
	assert.Equal(t, 0, result.FailedTasks)
	// 结果按提交顺序收集
	assert.Equal(t, []any{2, 4, 6, 8, 10}, result.Results)
}

func TestProcessDistributed_AggregateFn(t *testing.T) {
	p := NewDistributedProcessor(testProcessorConfig(), nil)

	items := []any{1, 2, 3}
	result, err := p.ProcessDistributed(items, func(payload any) (any, error) {
		return payload.(int), nil
	}, func(results []any) any {
		sum := 0
		for _, r := range results {
			sum += r.(int)
		}
		return sum
	})
	require.NoError(t, err)
	assert.Equal(t, 6, result.Aggregate)
}

func TestProcessDistributed_FaultTolerance(t *testing.T) {
	p := NewDistributedProcessor(testProcessorConfig(), nil)

	items := []any{1, 2, 3, 4, 5}
	result, err := p.ProcessDistributed(items, func(payload any) (any, error) {
		if payload.(int) == 3 {
			return nil, errors.New("cannot process 3")
		}
		return payload.(int) * 2, nil
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, result.CompletedTasks)
	assert.Equal(t, 1, result.FailedTasks)
	// 失败任务不出现在结果列表中，其余保持提交顺序
	assert.Equal(t, []any{2, 4, 8, 10}, result.Results)

	task, ok := p.GetTask(TaskID(2, 3))
	require.True(t, ok)
	assert.Equal(t, types.TaskStatusFailed, task.Status)
	assert.Equal(t, "cannot process 3", task.Err)
}

func TestProcessDistributed_RetryBound(t *testing.T) {
	p := NewDistributedProcessor(testProcessorConfig(), nil)

	var mu sync.Mutex
	attempts := 0

	result, err := p.ProcessDistributed([]any{"x"}, func(payload any) (any, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return nil, errors.New("always fails")
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.FailedTasks)
	// MaxRetries=2: 首次尝试 + 2 次重试
	assert.Equal(t, 3, attempts)

	task, ok := p.GetTask(TaskID(0, "x"))
	require.True(t, ok)
	assert.Equal(t, 2, task.RetryCount)
	assert.LessOrEqual(t, task.RetryCount, p.config.MaxRetries)
}

func TestProcessDistributed_RetrySucceedsOnSecondAttempt(t *testing.T) {
	p := NewDistributedProcessor(testProcessorConfig(), nil)

	var mu sync.Mutex
	attempts := 0

	result, err := p.ProcessDistributed([]any{"x"}, func(payload any) (any, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.CompletedTasks)
	assert.Equal(t, []any{"ok"}, result.Results)

	stats := p.GetStatistics()
	assert.Equal(t, int64(1), stats.TotalRetries)
}

func TestProcessDistributed_FaultToleranceDisabled(t *testing.T) {
	cfg := testProcessorConfig()
	cfg.EnableFaultTolerance = false
	p := NewDistributedProcessor(cfg, nil)

	var mu sync.Mutex
	attempts := 0

	result, err := p.ProcessDistributed([]any{"x"}, func(payload any) (any, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return nil, errors.New("boom")
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.FailedTasks)
	assert.Equal(t, 1, attempts)
}

func TestProcessDistributed_PanicCountsAsFailure(t *testing.T) {
	cfg := testProcessorConfig()
	cfg.EnableFaultTolerance = false
	p := NewDistributedProcessor(cfg, nil)

	result, err := p.ProcessDistributed([]any{"x", "y"}, func(payload any) (any, error) {
		if payload.(string) == "x" {
			panic("worker must survive this")
		}
		return payload, nil
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.CompletedTasks)
	assert.Equal(t, 1, result.FailedTasks)

	task, ok := p.GetTask(TaskID(0, "x"))
	require.True(t, ok)
	assert.Contains(t, task.Err, "task panic")
}

func TestProcessDistributed_EmptyItems(t *testing.T) {
	p := NewDistributedProcessor(testProcessorConfig(), nil)

	result, err := p.ProcessDistributed(nil, func(payload any) (any, error) {
		return payload, nil
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, result.TotalTasks)
	assert.Empty(t, result.Results)
}

func TestProcessDistributed_NilFn(t *testing.T) {
	p := NewDistributedProcessor(testProcessorConfig(), nil)

	_, err := p.ProcessDistributed([]any{1}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "process function")
}

func TestProcessDistributed_RejectsConcurrentRun(t *testing.T) {
	p := NewDistributedProcessor(testProcessorConfig(), nil)

	started := make(chan struct{})
	release := make(chan struct{})

	var once sync.Once
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.ProcessDistributed([]any{1}, func(payload any) (any, error) {
			once.Do(func() { close(started) })
			<-release
			return payload, nil
		}, nil)
	}()

	<-started
	_, err := p.ProcessDistributed([]any{2}, func(payload any) (any, error) {
		return payload, nil
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	close(release)
	<-done
}

func TestProcessDistributed_StallDetectorRedispatches(t *testing.T) {
	cfg := testProcessorConfig()
	cfg.NumWorkers = 2
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.TaskTimeout = 50 * time.Millisecond
	p := NewDistributedProcessor(cfg, nil)

	hang := make(chan struct{})
	defer close(hang)

	var mu sync.Mutex
	attempts := 0

	result, err := p.ProcessDistributed([]any{"stuck"}, func(payload any) (any, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			// 第一次尝试永久阻塞，由 stall 检测器转移
			<-hang
			return nil, errors.New("late")
		}
		return "recovered", nil
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.CompletedTasks)
	assert.Equal(t, []any{"recovered"}, result.Results)

	task, ok := p.GetTask(TaskID(0, "stuck"))
	require.True(t, ok)
	assert.Equal(t, types.TaskStatusCompleted, task.Status)
	assert.GreaterOrEqual(t, task.RetryCount, 1)
}

func TestProcessDistributed_StallDetectorFailsUnclaimableRetry(t *testing.T) {
	// 唯一的 worker 永久卡死：重入队的任务无人认领，
	// 排队超时必须同样走 retry-or-fail，直至失败、运行结束。
	cfg := testProcessorConfig()
	cfg.NumWorkers = 1
	cfg.MaxRetries = 1
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.TaskTimeout = 30 * time.Millisecond
	p := NewDistributedProcessor(cfg, nil)

	hang := make(chan struct{})
	defer close(hang)

	start := time.Now()
	result, err := p.ProcessDistributed([]any{"stuck"}, func(payload any) (any, error) {
		<-hang
		return nil, errors.New("late")
	}, nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, 0, result.CompletedTasks)
	assert.Equal(t, 1, result.FailedTasks)
	assert.Empty(t, result.Results)

	task, ok := p.GetTask(TaskID(0, "stuck"))
	require.True(t, ok)
	assert.Equal(t, types.TaskStatusFailed, task.Status)
	assert.Equal(t, 1, task.RetryCount)
	assert.Equal(t, "task timeout exceeded", task.Err)
}

func TestGetProgress(t *testing.T) {
	p := NewDistributedProcessor(testProcessorConfig(), nil)

	_, err := p.ProcessDistributed([]any{1, 2, 3}, func(payload any) (any, error) {
		if payload.(int) == 2 {
			return nil, errors.New("no")
		}
		return payload, nil
	}, nil)
	require.NoError(t, err)

	progress := p.GetProgress()
	assert.Equal(t, 3, progress.Total)
	assert.Equal(t, 2, progress.Completed)
	assert.Equal(t, 1, progress.Failed)
	assert.InDelta(t, 100.0, progress.Percent, 1e-9)
}

func TestGetStatistics(t *testing.T) {
	cfg := testProcessorConfig()
	p := NewDistributedProcessor(cfg, nil)

	_, err := p.ProcessDistributed([]any{1, 2, 3, 4}, func(payload any) (any, error) {
		time.Sleep(2 * time.Millisecond)
		return payload, nil
	}, nil)
	require.NoError(t, err)

	stats := p.GetStatistics()
	assert.Equal(t, 4, stats.TotalTasks)
	assert.Equal(t, 4, stats.CompletedTasks)
	assert.Len(t, stats.Workers, cfg.NumWorkers)

	var workerCompleted int64
	for _, w := range stats.Workers {
		assert.Equal(t, types.WorkerStatusStopped, w.Status)
		workerCompleted += w.Completed
	}
	assert.Equal(t, int64(4), workerCompleted)

	// 任务耗时直方图应已记录
	assert.Greater(t, stats.DurationMeanMs, 0.0)
	assert.GreaterOrEqual(t, stats.DurationP99Ms, stats.DurationP50Ms)
}

func TestReset(t *testing.T) {
	p := NewDistributedProcessor(testProcessorConfig(), nil)

	_, err := p.ProcessDistributed([]any{1, 2}, func(payload any) (any, error) {
		return payload, nil
	}, nil)
	require.NoError(t, err)

	require.NoError(t, p.Reset())

	progress := p.GetProgress()
	assert.Equal(t, 0, progress.Total)

	stats := p.GetStatistics()
	assert.Equal(t, 0, stats.TotalTasks)
	assert.Equal(t, int64(0), stats.TotalRetries)
	for _, w := range stats.Workers {
		assert.Equal(t, int64(0), w.Completed)
		assert.Equal(t, types.WorkerStatusIdle, w.Status)
	}
}

func TestReset_WhileRunning(t *testing.T) {
	p := NewDistributedProcessor(testProcessorConfig(), nil)

	started := make(chan struct{})
	release := make(chan struct{})

	var once sync.Once
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.ProcessDistributed([]any{1}, func(payload any) (any, error) {
			once.Do(func() { close(started) })
			<-release
			return payload, nil
		}, nil)
	}()

	<-started
	err := p.Reset()
	require.Error(t, err)

	close(release)
	<-done
}

func TestProcessDistributed_Reusable(t *testing.T) {
	p := NewDistributedProcessor(testProcessorConfig(), nil)

	for run := 0; run < 3; run++ {
		result, err := p.ProcessDistributed([]any{10, 20}, func(payload any) (any, error) {
			return payload.(int) + run, nil
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, result.CompletedTasks)
		assert.Equal(t, []any{10 + run, 20 + run}, result.Results)
	}
}

func TestTaskTransitions(t *testing.T) {
	assert.True(t, types.TaskStatusPending.CanTransitionTo(types.TaskStatusRunning))
	assert.True(t, types.TaskStatusRetrying.CanTransitionTo(types.TaskStatusRunning))
	assert.True(t, types.TaskStatusRunning.CanTransitionTo(types.TaskStatusCompleted))
	assert.True(t, types.TaskStatusRunning.CanTransitionTo(types.TaskStatusFailed))
	assert.False(t, types.TaskStatusCompleted.CanTransitionTo(types.TaskStatusRunning))
	assert.False(t, types.TaskStatusFailed.CanTransitionTo(types.TaskStatusRunning))
	assert.True(t, types.TaskStatusCompleted.Terminal())
	assert.True(t, types.TaskStatusFailed.Terminal())
	assert.False(t, types.TaskStatusRunning.Terminal())
}

func TestTaskID_PrefixBound(t *testing.T) {
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	// 前缀之外的差异不影响 ID；索引差异仍然区分
	idA := TaskID(0, string(long)+"x")
	idB := TaskID(0, string(long)+"y")
	assert.Equal(t, idA, idB)
	assert.NotEqual(t, idA, TaskID(1, string(long)+"x"))
}
