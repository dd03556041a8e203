// Package processor implements a generic in-process task queue with a fixed
// worker pool, per-task retry, and stall detection. Callers hand it a list of
// items and a process function; individual item failures never abort the run.
package processor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/google/uuid"

	"yqhp/optimization-engine/pkg/logger"
	"yqhp/optimization-engine/pkg/types"
)

const (
	// popTimeout bounds a single queue pop so the worker loop can observe
	// the shutdown flag.
	popTimeout = 100 * time.Millisecond

	// joinGrace bounds the final worker join. A processFn that never
	// returns leaks its goroutine instead of blocking the run forever.
	joinGrace = time.Second

	// payloadPrefixLen 是参与任务 ID 哈希的负载字符串前缀长度。
	payloadPrefixLen = 64
)

// ProcessFunc executes one task payload.
type ProcessFunc func(payload any) (any, error)

// AggregateFunc reduces the ordered result list into a single value.
type AggregateFunc func(results []any) any

// DistributedProcessor fans items out across a fixed worker pool.
// All task/worker state is guarded by one coarse mutex; the queue itself is
// an independent thread-safe FIFO.
type DistributedProcessor struct {
	config *types.ProcessorConfig
	log    logger.Logger

	mu      sync.Mutex
	tasks   map[string]*types.Task
	order   []string
	workers []*types.Worker

	queue        *taskQueue
	terminal     int
	totalRetries int64
	histogram    *hdrhistogram.Histogram

	running  atomic.Bool
	stopping atomic.Bool
	gen      atomic.Int64
	done     chan struct{}
}

// NewDistributedProcessor creates a processor with NumWorkers idle workers.
func NewDistributedProcessor(config *types.ProcessorConfig, log logger.Logger) *DistributedProcessor {
	if config == nil {
		config = types.DefaultProcessorConfig()
	}
	if config.NumWorkers < 1 {
		config.NumWorkers = 1
	}

	p := &DistributedProcessor{
		config:    config,
		log:       logger.OrNop(log),
		tasks:     make(map[string]*types.Task),
		histogram: hdrhistogram.New(1, int64(time.Hour/time.Millisecond), 3),
	}

	p.workers = make([]*types.Worker, config.NumWorkers)
	for i := range p.workers {
		p.workers[i] = &types.Worker{ID: i, Status: types.WorkerStatusIdle}
	}

	return p
}

// TaskID returns a deterministic id for an (index, payload) pair: a stable
// hash over the index and a bounded prefix of the payload's string form.
func TaskID(index int, payload any) string {
	s := fmt.Sprint(payload)
	if len(s) > payloadPrefixLen {
		s = s[:payloadPrefixLen]
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", index, s)))
	return hex.EncodeToString(sum[:8])
}

// ProcessDistributed enqueues one task per item, runs the worker pool, and
// blocks until every task is terminal. Results come back in submission order.
// Only usage errors are returned; per-item failures are data in the result.
func (p *DistributedProcessor) ProcessDistributed(items []any, fn ProcessFunc, aggregateFn AggregateFunc) (*types.DistributedResult, error) {
	if fn == nil {
		return nil, fmt.Errorf("process function cannot be nil")
	}
	if !p.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("processor is already running")
	}
	defer p.running.Store(false)

	runID := uuid.New().String()
	start := time.Now()

	result := &types.DistributedResult{
		RunID:      runID,
		TotalTasks: len(items),
	}

	if len(items) == 0 {
		result.Results = []any{}
		result.Elapsed = time.Since(start)
		return result, nil
	}

	p.prepareRun(items)

	p.stopping.Store(false)
	gen := p.gen.Add(1)
	queue := p.queue
	stallDone := make(chan struct{})
	go p.runStallDetector(stallDone)

	var wg sync.WaitGroup
	for i := range p.workers {
		wg.Add(1)
		go func(w *types.Worker) {
			defer wg.Done()
			p.workerLoop(w, queue, fn, gen)
		}(p.workers[i])
	}

	// 等待所有任务进入终态。本处理器没有调用方取消机制：
	// 卡死的任务由 stall 检测器强制进入 retry-or-fail。
	<-p.done

	p.stopping.Store(true)
	p.joinWorkers(&wg)
	<-stallDone

	p.mu.Lock()
	for _, w := range p.workers {
		w.Status = types.WorkerStatusStopped
		w.CurrentTask = ""
	}
	results := make([]any, 0, len(p.order))
	for _, id := range p.order {
		task := p.tasks[id]
		switch task.Status {
		case types.TaskStatusCompleted:
			result.CompletedTasks++
			results = append(results, task.Result)
		case types.TaskStatusFailed:
			result.FailedTasks++
		}
	}
	p.mu.Unlock()

	result.Results = results
	if aggregateFn != nil {
		result.Aggregate = aggregateFn(results)
	}
	result.Elapsed = time.Since(start)

	p.log.Info("[processor] run %s finished: %d completed, %d failed, elapsed=%v",
		runID, result.CompletedTasks, result.FailedTasks, result.Elapsed)

	return result, nil
}

// prepareRun rebuilds the task map and queue for a fresh run.
func (p *DistributedProcessor) prepareRun(items []any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tasks = make(map[string]*types.Task, len(items))
	p.order = make([]string, 0, len(items))
	p.queue = newTaskQueue(len(items))
	p.terminal = 0
	p.done = make(chan struct{})

	for _, w := range p.workers {
		w.Status = types.WorkerStatusIdle
		w.CurrentTask = ""
	}

	now := time.Now()
	for i, item := range items {
		task := &types.Task{
			ID:             TaskID(i, item),
			Index:          i,
			Payload:        item,
			Status:         types.TaskStatusPending,
			AssignedWorker: -1,
			CreatedAt:      now,
		}
		p.tasks[task.ID] = task
		p.order = append(p.order, task.ID)
		p.queue.Push(task.ID)
	}
}

// joinWorkers waits for the worker goroutines up to joinGrace. Workers stuck
// inside a hanging processFn are abandoned; their tasks have already been
// re-dispatched or failed by the stall detector, and their late results are
// dropped by the staleness guard.
func (p *DistributedProcessor) joinWorkers(wg *sync.WaitGroup) {
	joined := make(chan struct{})
	go func() {
		wg.Wait()
		close(joined)
	}()

	select {
	case <-joined:
	case <-time.After(joinGrace):
		p.log.Warn("[processor] abandoning workers stuck in processFn after %v", joinGrace)
	}
}

// workerLoop pops task ids until the shutdown flag is set or a newer run has
// started. The generation check stops an abandoned worker from poaching a
// later run's queue.
func (p *DistributedProcessor) workerLoop(w *types.Worker, queue *taskQueue, fn ProcessFunc, gen int64) {
	for !p.stopping.Load() && p.gen.Load() == gen {
		id, ok := queue.Pop(popTimeout)
		if !ok {
			continue
		}

		task, claimed := p.claimTask(w, id)
		if !claimed {
			continue
		}

		// processFn 在锁外执行。
		res, err := p.invoke(fn, task.Payload)
		p.finishAttempt(w, task, res, err)
	}
}

// invoke calls fn with panic recovery so a panicking task cannot kill the
// worker goroutine.
func (p *DistributedProcessor) invoke(fn ProcessFunc, payload any) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return fn(payload)
}

// claimTask marks the task running and the worker busy under the state mutex.
// Dequeue is atomic, so no two workers can claim the same task id.
func (p *DistributedProcessor) claimTask(w *types.Worker, id string) (*types.Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	task, exists := p.tasks[id]
	if !exists || !task.Status.CanTransitionTo(types.TaskStatusRunning) {
		return nil, false
	}

	task.Status = types.TaskStatusRunning
	task.StartedAt = time.Now()
	task.AssignedWorker = w.ID

	w.Status = types.WorkerStatusBusy
	w.CurrentTask = task.ID
	w.LastHeartbeat = time.Now()

	return task, true
}

// finishAttempt records the outcome of one attempt. If the stall detector
// already took the task away, the stale result is dropped.
func (p *DistributedProcessor) finishAttempt(w *types.Worker, task *types.Task, res any, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// 被遗弃的旧 run worker 不得触碰新 run 正在使用的 worker 记录。
	if w.CurrentTask == task.ID || w.CurrentTask == "" {
		w.Status = types.WorkerStatusIdle
		w.CurrentTask = ""
		w.LastHeartbeat = time.Now()
	}

	// 任务可能已被 stall 检测器转移，或者所属 run 已被新的 run 取代。
	if p.tasks[task.ID] != task || task.Status != types.TaskStatusRunning || task.AssignedWorker != w.ID {
		p.log.Debug("[processor] worker %d dropping stale result for task %s", w.ID, task.ID)
		return
	}

	elapsed := time.Since(task.StartedAt)
	_ = p.histogram.RecordValue(elapsed.Milliseconds())

	if err == nil {
		task.Status = types.TaskStatusCompleted
		task.Result = res
		task.CompletedAt = time.Now()
		task.Duration = elapsed
		task.AssignedWorker = -1
		w.Completed++
		p.markTerminalLocked()
		return
	}

	w.Failed++
	p.retryOrFailLocked(task, err.Error())
}

// retryOrFailLocked applies the shared retry-or-fail decision. Caller holds mu.
func (p *DistributedProcessor) retryOrFailLocked(task *types.Task, errMsg string) {
	task.AssignedWorker = -1
	task.Err = errMsg

	if p.config.EnableFaultTolerance && task.RetryCount < p.config.MaxRetries {
		task.RetryCount++
		task.Status = types.TaskStatusRetrying
		task.RetriedAt = time.Now()
		p.totalRetries++
		p.queue.Push(task.ID)
		p.log.Debug("[processor] task %s retry %d/%d: %s", task.ID, task.RetryCount, p.config.MaxRetries, errMsg)
		return
	}

	task.Status = types.TaskStatusFailed
	task.CompletedAt = time.Now()
	p.log.Debug("[processor] task %s failed permanently: %s", task.ID, errMsg)
	p.markTerminalLocked()
}

// markTerminalLocked counts a task reaching a terminal status. Caller holds mu.
func (p *DistributedProcessor) markTerminalLocked() {
	p.terminal++
	if p.terminal == len(p.order) {
		close(p.done)
	}
}

// runStallDetector periodically re-dispatches tasks stuck past TaskTimeout,
// guarding against a worker that died mid-task.
func (p *DistributedProcessor) runStallDetector(done chan struct{}) {
	defer close(done)

	interval := p.config.HeartbeatInterval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.checkStalledTasks()
		}
	}
}

// checkStalledTasks forces the retry-or-fail decision on overdue tasks.
func (p *DistributedProcessor) checkStalledTasks() {
	if p.config.TaskTimeout <= 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for _, task := range p.tasks {
		switch task.Status {
		case types.TaskStatusRunning:
			if now.Sub(task.StartedAt) <= p.config.TaskTimeout {
				continue
			}

			p.log.Warn("[processor] task %s stalled on worker %d after %v", task.ID, task.AssignedWorker, now.Sub(task.StartedAt))

			// 释放原属 worker 的占用记录；其迟到的结果会被丢弃。
			if task.AssignedWorker >= 0 && task.AssignedWorker < len(p.workers) {
				w := p.workers[task.AssignedWorker]
				if w.CurrentTask == task.ID {
					w.CurrentTask = ""
				}
			}

			p.retryOrFailLocked(task, "task timeout exceeded")

		case types.TaskStatusRetrying:
			// 所有 worker 都卡死时，重入队的任务无人认领。
			// 排队超时走同一个 retry-or-fail 决策，保证重试耗尽后
			// 任务进入终态，运行得以结束。
			if now.Sub(task.RetriedAt) <= p.config.TaskTimeout {
				continue
			}

			p.log.Warn("[processor] task %s unclaimed in retry queue after %v", task.ID, now.Sub(task.RetriedAt))
			p.retryOrFailLocked(task, "task timeout exceeded")
		}
	}
}

// Progress is a point-in-time snapshot of a run.
type Progress struct {
	Total     int     `json:"total"`
	Pending   int     `json:"pending"`
	Running   int     `json:"running"`
	Retrying  int     `json:"retrying"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Percent   float64 `json:"percent"`
}

// GetProgress returns the current task status counts.
func (p *DistributedProcessor) GetProgress() *Progress {
	p.mu.Lock()
	defer p.mu.Unlock()

	progress := &Progress{Total: len(p.order)}
	for _, task := range p.tasks {
		switch task.Status {
		case types.TaskStatusPending:
			progress.Pending++
		case types.TaskStatusRunning:
			progress.Running++
		case types.TaskStatusRetrying:
			progress.Retrying++
		case types.TaskStatusCompleted:
			progress.Completed++
		case types.TaskStatusFailed:
			progress.Failed++
		}
	}
	if progress.Total > 0 {
		progress.Percent = float64(progress.Completed+progress.Failed) / float64(progress.Total) * 100
	}
	return progress
}

// WorkerStats is a snapshot of one worker's counters.
type WorkerStats struct {
	ID            int                `json:"id"`
	Status        types.WorkerStatus `json:"status"`
	Completed     int64              `json:"completed"`
	Failed        int64              `json:"failed"`
	CurrentTask   string             `json:"current_task,omitempty"`
	LastHeartbeat time.Time          `json:"last_heartbeat,omitempty"`
}

// Statistics summarizes a run, including task-duration percentiles.
type Statistics struct {
	TotalTasks     int           `json:"total_tasks"`
	CompletedTasks int           `json:"completed_tasks"`
	FailedTasks    int           `json:"failed_tasks"`
	TotalRetries   int64         `json:"total_retries"`
	Workers        []WorkerStats `json:"workers"`
	DurationMeanMs float64       `json:"duration_mean_ms"`
	DurationP50Ms  int64         `json:"duration_p50_ms"`
	DurationP90Ms  int64         `json:"duration_p90_ms"`
	DurationP95Ms  int64         `json:"duration_p95_ms"`
	DurationP99Ms  int64         `json:"duration_p99_ms"`
	DurationMaxMs  int64         `json:"duration_max_ms"`
}

// GetStatistics returns run statistics with HDR-histogram duration percentiles.
func (p *DistributedProcessor) GetStatistics() *Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := &Statistics{
		TotalTasks:   len(p.order),
		TotalRetries: p.totalRetries,
	}

	for _, id := range p.order {
		switch p.tasks[id].Status {
		case types.TaskStatusCompleted:
			stats.CompletedTasks++
		case types.TaskStatusFailed:
			stats.FailedTasks++
		}
	}

	stats.Workers = make([]WorkerStats, len(p.workers))
	for i, w := range p.workers {
		stats.Workers[i] = WorkerStats{
			ID:            w.ID,
			Status:        w.Status,
			Completed:     w.Completed,
			Failed:        w.Failed,
			CurrentTask:   w.CurrentTask,
			LastHeartbeat: w.LastHeartbeat,
		}
	}

	if p.histogram.TotalCount() > 0 {
		stats.DurationMeanMs = p.histogram.Mean()
		stats.DurationP50Ms = p.histogram.ValueAtQuantile(50)
		stats.DurationP90Ms = p.histogram.ValueAtQuantile(90)
		stats.DurationP95Ms = p.histogram.ValueAtQuantile(95)
		stats.DurationP99Ms = p.histogram.ValueAtQuantile(99)
		stats.DurationMaxMs = p.histogram.Max()
	}

	return stats
}

// GetTask returns a copy of a task by id.
func (p *DistributedProcessor) GetTask(id string) (types.Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	task, ok := p.tasks[id]
	if !ok {
		return types.Task{}, false
	}
	return *task, true
}

// Reset clears all task state and worker counters.
func (p *DistributedProcessor) Reset() error {
	if p.running.Load() {
		return fmt.Errorf("cannot reset while a run is in progress")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.tasks = make(map[string]*types.Task)
	p.order = nil
	p.queue = nil
	p.terminal = 0
	p.totalRetries = 0
	p.histogram.Reset()

	for _, w := range p.workers {
		w.Status = types.WorkerStatusIdle
		w.Completed = 0
		w.Failed = 0
		w.CurrentTask = ""
		w.LastHeartbeat = time.Time{}
	}

	return nil
}
