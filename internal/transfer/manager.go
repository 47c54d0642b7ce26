package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reclabs/recbridge/internal/constants"
	"github.com/reclabs/recbridge/internal/events"
	"github.com/reclabs/recbridge/internal/logging"
)

// Plan is what a Backend's Prepare produces: the seed of the task tree, the
// probed source size (0 when the probe failed) and the worker pool size.
type Plan struct {
	Root      WorkerTask
	TotalSize int64
	Workers   int
}

// Backend binds a transfer type to a session's collaborators. Prepare
// resolves the source path into a root worker task, probes its size and
// validates the destination; Processor builds the variant-specific worker
// half wired to a run's pause/abort handles.
type Backend interface {
	Prepare(ctx context.Context, srcPath, dstPath string) (Plan, error)
	Processor(pause *Signal, abort *Abort) Processor
}

// Manager owns the transfer task registry and enforces the lifecycle state
// machine. It is the only state shared across tasks; every mutation happens
// under its lock, and domain events fan out through the bus.
type Manager struct {
	mu    sync.Mutex
	tasks map[string]*Task
	bus   *events.Bus
	log   *logging.Logger
}

// NewManager creates an empty registry publishing on bus.
func NewManager(bus *events.Bus, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NewServerLogger("transfer-manager")
	}
	return &Manager{
		tasks: make(map[string]*Task),
		bus:   bus,
		log:   log,
	}
}

// Create registers a new pending task and returns its snapshot.
func (m *Manager) Create(sessionID string, taskType Type, srcPath, dstPath string) Snapshot {
	task := newTask(sessionID, taskType, srcPath, dstPath)

	m.mu.Lock()
	m.tasks[task.id] = task
	m.mu.Unlock()

	m.log.Info().Str("task", task.id).Str("type", string(taskType)).
		Str("src", srcPath).Str("dst", dstPath).Msg("task created")
	m.publish(events.EventTaskCreated, task)
	return task.Snapshot()
}

// Start moves a pending task to running. Preparation - source resolution,
// size probe, destination validation - happens synchronously so validation
// failures surface to the caller; byte movement then proceeds on its own
// goroutine. A start beyond the concurrent-task cap is rejected, not queued.
func (m *Manager) Start(ctx context.Context, taskID string, backend Backend) error {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return ErrTaskNotFound
	}

	resident := m.residentCountLocked(task)

	task.mu.Lock()
	if task.status != StatusPending {
		status := task.status
		task.mu.Unlock()
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot start task in status %s", ErrInvalidTransition, status)
	}
	if resident >= constants.MaxConcurrentTransfers {
		task.mu.Unlock()
		m.mu.Unlock()
		return ErrTooManyTransfers
	}

	// The slot is claimed here, while the cap check still holds; concurrent
	// starts preparing in parallel count against the cap.
	task.reserved = true
	src, dst := task.srcPath, task.dstPath
	task.mu.Unlock()
	m.mu.Unlock()

	plan, err := backend.Prepare(ctx, src, dst)
	if err != nil {
		m.failPending(task, err)
		return err
	}

	pause := NewSignal()
	abort := NewAbort()

	task.mu.Lock()
	if task.status != StatusPending {
		// Cancelled while preparing.
		task.reserved = false
		task.mu.Unlock()
		return fmt.Errorf("%w: task no longer pending", ErrInvalidTransition)
	}
	now := time.Now()
	task.status = StatusRunning
	task.reserved = false
	task.startedAt = &now
	task.totalSize = plan.TotalSize
	task.pause = pause
	task.abort = abort
	task.live = true
	task.gen++
	gen := task.gen
	task.mu.Unlock()

	m.log.Info().Str("task", task.id).Int64("totalSize", plan.TotalSize).
		Int("workers", plan.Workers).Msg("task started")
	m.publish(events.EventTaskStarted, task)

	go m.execute(task, backend, plan, pause, abort, gen)
	return nil
}

// execute runs one executor to completion and applies the terminal
// transition. Completion and failure are only recorded while the task is
// still running: a pause or cancel that won the race is never overwritten,
// and an executor whose run was superseded by a restart writes nothing.
func (m *Manager) execute(task *Task, backend Backend, plan Plan, pause *Signal, abort *Abort, gen uint64) {
	exec := NewExecutor(
		backend.Processor(pause, abort),
		plan.Workers,
		pause,
		abort,
		func(path string, transferred, rate int64) {
			if !task.currentRun(gen) {
				return
			}
			task.updateProgress(path, transferred, rate)
			m.publish(events.EventTaskProgress, task)
		},
		m.log.Child("executor"),
	)

	err := exec.Run(plan.Root)

	task.mu.Lock()
	if task.gen != gen {
		// A restart outpaced this executor's exit; the task state belongs to
		// the new run now.
		task.mu.Unlock()
		return
	}
	task.live = false
	task.speed = 0
	task.history = nil

	switch {
	case err == nil:
		if task.status == StatusRunning {
			now := time.Now()
			task.status = StatusCompleted
			task.completedAt = &now
			// The final roll-up equals the probed size on success; pin the
			// published invariant completed => progress = 1000.
			if task.totalSize > 0 {
				task.transferred = task.totalSize
				task.progress = constants.ProgressScale
			}
			task.mu.Unlock()
			m.log.Info().Str("task", task.id).Msg("task completed")
			m.publish(events.EventTaskCompleted, task)
			return
		}
	case IsCancellation(err):
		if task.status == StatusRunning || task.status == StatusPaused {
			now := time.Now()
			task.status = StatusCancelled
			task.completedAt = &now
		}
	default:
		if task.status == StatusRunning {
			now := time.Now()
			task.status = StatusFailed
			task.errMsg = err.Error()
			task.completedAt = &now
			task.mu.Unlock()
			m.log.Error().Str("task", task.id).Err(err).Msg("task failed")
			m.publish(events.EventTaskFailed, task)
			return
		}
	}
	task.mu.Unlock()
}

// failPending records a preparation failure: the task never reached running
// and gives its slot back.
func (m *Manager) failPending(task *Task, err error) {
	task.mu.Lock()
	task.reserved = false
	if task.status == StatusPending {
		now := time.Now()
		task.status = StatusFailed
		task.errMsg = err.Error()
		task.completedAt = &now
	}
	task.mu.Unlock()
	m.log.Error().Str("task", task.id).Err(err).Msg("task validation failed")
	m.publish(events.EventTaskFailed, task)
}

// Pause suspends a running task. Workers finish their current read, streams
// tear down at the byte cursor and no new work is allocated until resume.
func (m *Manager) Pause(taskID string) error {
	task, err := m.get(taskID)
	if err != nil {
		return err
	}

	task.mu.Lock()
	if task.status != StatusRunning {
		status := task.status
		task.mu.Unlock()
		return fmt.Errorf("%w: cannot pause task in status %s", ErrInvalidTransition, status)
	}
	task.status = StatusPaused
	task.speed = 0
	pause := task.pause
	task.mu.Unlock()

	if pause != nil {
		pause.Pause()
	}
	m.log.Info().Str("task", taskID).Msg("task paused")
	m.publish(events.EventTaskPaused, task)
	return nil
}

// Resume continues a paused task. While the executor is resident the pause
// signal simply clears and the workers pick up where they stopped; if it is
// gone the task is re-run from pending, with skip-if-same-size absorbing
// the already-materialized files.
func (m *Manager) Resume(ctx context.Context, taskID string, backend Backend) error {
	task, err := m.get(taskID)
	if err != nil {
		return err
	}

	task.mu.Lock()
	if task.status != StatusPaused {
		status := task.status
		task.mu.Unlock()
		return fmt.Errorf("%w: cannot resume task in status %s", ErrInvalidTransition, status)
	}
	if task.live {
		task.status = StatusRunning
		pause := task.pause
		task.mu.Unlock()
		pause.Resume()
		m.log.Info().Str("task", taskID).Msg("task resumed")
		m.publish(events.EventTaskResumed, task)
		return nil
	}
	task.mu.Unlock()

	task.resetForRestart()
	m.publish(events.EventTaskResumed, task)
	return m.Start(ctx, taskID, backend)
}

// Cancel aborts a task from any non-terminal state. Cooperative but tight:
// in-flight streams are destroyed and no new bytes are written after the
// abort fires. Cancelling a terminal task is a no-op.
func (m *Manager) Cancel(taskID string) error {
	task, err := m.get(taskID)
	if err != nil {
		return err
	}

	task.mu.Lock()
	if task.status.Terminal() {
		task.mu.Unlock()
		return nil
	}
	now := time.Now()
	task.status = StatusCancelled
	task.speed = 0
	task.completedAt = &now
	abort := task.abort
	pause := task.pause
	task.mu.Unlock()

	if abort != nil {
		abort.Trigger()
	}
	if pause != nil {
		// Unblock workers parked on the pause signal so they observe the
		// abort and exit.
		pause.Resume()
	}
	m.log.Info().Str("task", taskID).Msg("task cancelled")
	m.publish(events.EventTaskCancelled, task)
	return nil
}

// Restart resets a task from any state back to pending and starts it again.
func (m *Manager) Restart(ctx context.Context, taskID string, backend Backend) error {
	task, err := m.get(taskID)
	if err != nil {
		return err
	}

	// A resident executor must die before the counters reset under it.
	task.mu.Lock()
	abort := task.abort
	live := task.live
	task.mu.Unlock()
	if live && abort != nil {
		abort.Trigger()
		m.awaitExecutorExit(task)
	}

	task.resetForRestart()
	m.log.Info().Str("task", taskID).Msg("task restarted")
	m.publish(events.EventTaskRestarted, task)
	return m.Start(ctx, taskID, backend)
}

// awaitExecutorExit polls until the run goroutine has recorded its exit.
func (m *Manager) awaitExecutorExit(task *Task) {
	for i := 0; i < 100; i++ {
		task.mu.RLock()
		live := task.live
		task.mu.RUnlock()
		if !live {
			return
		}
		time.Sleep(constants.PausePollInterval)
	}
}

// Get returns a snapshot of one task.
func (m *Manager) Get(taskID string) (Snapshot, error) {
	task, err := m.get(taskID)
	if err != nil {
		return Snapshot{}, err
	}
	return task.Snapshot(), nil
}

// GetBySession returns snapshots of every task owned by a session.
func (m *Manager) GetBySession(sessionID string) []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Snapshot
	for _, task := range m.tasks {
		snap := task.Snapshot()
		if snap.SessionID == sessionID {
			out = append(out, snap)
		}
	}
	return out
}

// GetAll returns snapshots of every registered task.
func (m *Manager) GetAll() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Snapshot, 0, len(m.tasks))
	for _, task := range m.tasks {
		out = append(out, task.Snapshot())
	}
	return out
}

// Remove evicts a task from the registry, cancelling it first when it is
// still active.
func (m *Manager) Remove(taskID string) error {
	task, err := m.get(taskID)
	if err != nil {
		return err
	}

	if status := task.Status(); status != StatusPending && !status.Terminal() {
		if err := m.Cancel(taskID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	delete(m.tasks, taskID)
	m.mu.Unlock()
	m.log.Info().Str("task", taskID).Msg("task removed")
	return nil
}

// CancelAll aborts every non-terminal task. Used on shutdown.
func (m *Manager) CancelAll() {
	for _, snap := range m.GetAll() {
		if !snap.Status.Terminal() {
			_ = m.Cancel(snap.ID)
		}
	}
}

func (m *Manager) get(taskID string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// residentCountLocked counts tasks holding a concurrency slot: running,
// paused, or reserved while their start is still preparing. exclude skips
// the task the caller is about to lock itself.
func (m *Manager) residentCountLocked(exclude *Task) int {
	count := 0
	for _, task := range m.tasks {
		if task == exclude {
			continue
		}
		if task.resident() {
			count++
		}
	}
	return count
}

// publish emits a task lifecycle event carrying the current snapshot.
func (m *Manager) publish(eventType events.EventType, task *Task) {
	if m.bus == nil {
		return
	}
	snap := task.Snapshot()
	ev := events.NewTaskEvent(eventType)
	ev.TaskID = snap.ID
	ev.SessionID = snap.SessionID
	ev.Status = string(snap.Status)
	ev.Path = snap.CurrentPath
	ev.Transferred = snap.TransferredSize
	ev.Total = snap.TotalSize
	ev.Progress = snap.Progress
	ev.Speed = snap.Speed
	ev.Error = snap.Error
	m.bus.Publish(ev)
}
