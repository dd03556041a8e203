package types

import "time"

// TaskStatus represents the status of a distributed task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is queued and not yet picked up.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates a worker owns the task.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusRetrying indicates the task failed and is queued again.
	TaskStatusRetrying TaskStatus = "retrying"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed permanently.
	TaskStatusFailed TaskStatus = "failed"
)

// taskTransitions 定义合法的状态迁移表。
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:   {TaskStatusRunning},
	TaskStatusRunning:   {TaskStatusCompleted, TaskStatusFailed, TaskStatusRetrying},
	TaskStatusRetrying:  {TaskStatusRunning},
	TaskStatusCompleted: {},
	TaskStatusFailed:    {},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is terminal.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task is one unit of distributed work. All fields are mutated only while
// holding the processor's state mutex.
type Task struct {
	ID             string        `json:"id"`
	Index          int           `json:"index"`
	Payload        any           `json:"payload,omitempty"`
	Status         TaskStatus    `json:"status"`
	RetryCount     int           `json:"retry_count"`
	AssignedWorker int           `json:"assigned_worker"`
	CreatedAt      time.Time     `json:"created_at"`
	StartedAt      time.Time     `json:"started_at,omitempty"`
	RetriedAt      time.Time     `json:"retried_at,omitempty"`
	CompletedAt    time.Time     `json:"completed_at,omitempty"`
	Result         any           `json:"result,omitempty"`
	Err            string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration,omitempty"`
}

// WorkerStatus represents the status of a pool worker.
type WorkerStatus string

const (
	// WorkerStatusIdle indicates the worker is waiting for a task.
	WorkerStatusIdle WorkerStatus = "idle"
	// WorkerStatusBusy indicates the worker is executing a task.
	WorkerStatusBusy WorkerStatus = "busy"
	// WorkerStatusStopped indicates the worker loop has exited.
	WorkerStatusStopped WorkerStatus = "stopped"
)

// Worker is one pool slot. Created at pool init, never destroyed during a run.
type Worker struct {
	ID            int          `json:"id"`
	Status        WorkerStatus `json:"status"`
	Completed     int64        `json:"completed"`
	Failed        int64        `json:"failed"`
	CurrentTask   string       `json:"current_task,omitempty"`
	LastHeartbeat time.Time    `json:"last_heartbeat,omitempty"`
}

// DistributedResult is the outcome of one ProcessDistributed call.
// Results 按任务提交顺序排列，而非完成顺序。
type DistributedResult struct {
	RunID          string        `json:"run_id"`
	TotalTasks     int           `json:"total_tasks"`
	CompletedTasks int           `json:"completed_tasks"`
	FailedTasks    int           `json:"failed_tasks"`
	Results        []any         `json:"results,omitempty"`
	Aggregate      any           `json:"aggregate,omitempty"`
	Elapsed        time.Duration `json:"elapsed"`
}

// ProcessorConfig holds the configuration for the distributed processor.
type ProcessorConfig struct {
	// NumWorkers is the number of worker goroutines in the pool.
	NumWorkers int `yaml:"num_workers" env:"OE_PROCESSOR_NUM_WORKERS"`

	// MaxRetries bounds the retry count of a single task.
	MaxRetries int `yaml:"max_retries" env:"OE_PROCESSOR_MAX_RETRIES"`

	// EnableFaultTolerance re-queues failed tasks instead of failing them outright.
	EnableFaultTolerance bool `yaml:"enable_fault_tolerance" env:"OE_PROCESSOR_ENABLE_FAULT_TOLERANCE"`

	// HeartbeatInterval is the stall-detector scan interval.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"OE_PROCESSOR_HEARTBEAT_INTERVAL"`

	// TaskTimeout is the running time after which a task is considered stalled.
	TaskTimeout time.Duration `yaml:"task_timeout" env:"OE_PROCESSOR_TASK_TIMEOUT"`
}

// DefaultProcessorConfig returns a default processor configuration.
func DefaultProcessorConfig() *ProcessorConfig {
	return &ProcessorConfig{
		NumWorkers:           4,
		MaxRetries:           2,
		EnableFaultTolerance: true,
		HeartbeatInterval:    time.Second,
		TaskTimeout:          5 * time.Minute,
	}
}
