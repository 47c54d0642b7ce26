// Package transfer implements the RecBridge transfer orchestrator: the
// task registry and lifecycle state machine, the per-task multi-worker
// executor, the worker variants that move bytes between Rec, WebDAV and the
// local disk, and the pause/resume-capable ranged streaming they share.
package transfer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reclabs/recbridge/internal/constants"
)

// Type discriminates the three transfer directions.
type Type string

const (
	// TypeWebDAV - Rec to WebDAV
	TypeWebDAV Type = "webdav"
	// TypeDisk - Rec to local disk
	TypeDisk Type = "disk"
	// TypeUpload - local disk to Rec
	TypeUpload Type = "upload"
)

// Status is a transfer task's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further lifecycle transitions happen from s
// except restart.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task is one user-visible transfer unit, owned by the Manager from
// creation until explicit removal. All mutation happens under the manager's
// supervision; external readers get Snapshot copies.
type Task struct {
	mu sync.RWMutex

	id        string
	sessionID string
	taskType  Type
	srcPath   string
	dstPath   string

	status      Status
	totalSize   int64
	transferred int64
	progress    int // thousandths, 0..1000
	speed       int64
	history     []int64 // raw rates, bounded at SpeedHistorySize
	currentPath string
	errMsg      string

	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time

	// Per-run handles, set while an executor is resident.
	pause *Signal
	abort *Abort
	live  bool

	// reserved holds the task's concurrency slot from the cap check in Start
	// until the run begins (or preparation fails). gen identifies the latest
	// run; a superseded executor's writes are discarded against it.
	reserved bool
	gen      uint64
}

func newTask(sessionID string, taskType Type, srcPath, dstPath string) *Task {
	return &Task{
		id:        uuid.NewString(),
		sessionID: sessionID,
		taskType:  taskType,
		srcPath:   srcPath,
		dstPath:   dstPath,
		status:    StatusPending,
		createdAt: time.Now(),
	}
}

// ID returns the task's opaque identifier.
func (t *Task) ID() string { return t.id }

// Snapshot is the read-only view of a task handed to callers and encoded on
// the REST surface.
type Snapshot struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"sessionId"`
	Type            Type       `json:"transferType"`
	SrcPath         string     `json:"srcPath"`
	DstPath         string     `json:"dstPath"`
	Status          Status     `json:"status"`
	TotalSize       int64      `json:"totalSize"`
	TransferredSize int64      `json:"transferredSize"`
	Progress        int        `json:"progress"`
	Speed           int64      `json:"speed"`
	CurrentPath     string     `json:"currentPath,omitempty"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// Snapshot returns a copy of the task's current state.
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		ID:              t.id,
		SessionID:       t.sessionID,
		Type:            t.taskType,
		SrcPath:         t.srcPath,
		DstPath:         t.dstPath,
		Status:          t.status,
		TotalSize:       t.totalSize,
		TransferredSize: t.transferred,
		Progress:        t.progress,
		Speed:           t.speed,
		CurrentPath:     t.currentPath,
		Error:           t.errMsg,
		CreatedAt:       t.createdAt,
		StartedAt:       t.startedAt,
		CompletedAt:     t.completedAt,
	}
}

// Status returns the current lifecycle state.
func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// resident reports whether the task occupies a concurrency slot: an executor
// is (or is about to be) running on its behalf.
func (t *Task) resident() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status == StatusRunning || t.status == StatusPaused || t.reserved
}

// currentRun reports whether gen identifies the task's latest run.
func (t *Task) currentRun(gen uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gen == gen
}

// updateProgress folds one aggregated executor report into the task:
// transferred bytes, derived thousandth-scale progress and the EMA-smoothed
// speed over the bounded rate history.
func (t *Task) updateProgress(path string, transferred, rate int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusRunning {
		// A report racing a pause or cancel must not revive the speed field.
		return
	}

	t.currentPath = path
	t.transferred = transferred
	if t.totalSize > 0 {
		p := int(transferred * constants.ProgressScale / t.totalSize)
		if p > constants.ProgressScale {
			p = constants.ProgressScale
		}
		t.progress = p
	}

	t.history = append(t.history, rate)
	if len(t.history) > constants.SpeedHistorySize {
		t.history = t.history[1:]
	}
	t.speed = smoothSpeed(t.history)
}

// smoothSpeed runs the exponential moving average over the rate history:
// s_0 = h[0]; s_k = alpha*h[k] + (1-alpha)*s_(k-1).
func smoothSpeed(history []int64) int64 {
	if len(history) == 0 {
		return 0
	}
	s := float64(history[0])
	for _, h := range history[1:] {
		s = constants.SpeedSmoothingAlpha*float64(h) + (1-constants.SpeedSmoothingAlpha)*s
	}
	return int64(s)
}

// resetForRestart clears counters and timestamps back to a fresh pending
// task. Restart is legal from any state, including completed.
func (t *Task) resetForRestart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusPending
	t.totalSize = 0
	t.transferred = 0
	t.progress = 0
	t.speed = 0
	t.history = nil
	t.currentPath = ""
	t.errMsg = ""
	t.startedAt = nil
	t.completedAt = nil
	t.pause = nil
	t.abort = nil
	t.live = false
	t.reserved = false
}
