package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/reclabs/recbridge/internal/constants"
	"github.com/reclabs/recbridge/internal/events"
)

// stubBackend returns a canned plan and a fixed processor.
type stubBackend struct {
	plan    Plan
	prepErr error
	proc    Processor
}

func (b *stubBackend) Prepare(ctx context.Context, srcPath, dstPath string) (Plan, error) {
	return b.plan, b.prepErr
}

func (b *stubBackend) Processor(pause *Signal, abort *Abort) Processor {
	return b.proc
}

// releaseProcessor holds every file open until release is closed, so tests
// can observe the running state and drive pause/cancel deterministically.
type releaseProcessor struct {
	release chan struct{}
}

func (p *releaseProcessor) ProcessFolder(ctx context.Context, task WorkerTask) ([]WorkerTask, error) {
	return nil, nil
}

func (p *releaseProcessor) ProcessFile(ctx context.Context, task WorkerTask, report ReportFunc) error {
	select {
	case <-p.release:
		report(task.Path, 100, 500)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func quickBackend() *stubBackend {
	proc := newFakeProcessor()
	proc.sizes["f"] = 100
	return &stubBackend{
		plan: Plan{Root: fileTask("f"), TotalSize: 100, Workers: 1},
		proc: proc,
	}
}

func blockingBackend() (*stubBackend, chan struct{}) {
	release := make(chan struct{})
	return &stubBackend{
		plan: Plan{Root: fileTask("f"), TotalSize: 100, Workers: 1},
		proc: &releaseProcessor{release: release},
	}, release
}

func waitStatus(t *testing.T, mgr *Manager, id string, want Status) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := mgr.Get(id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if snap.Status == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := mgr.Get(id)
	t.Fatalf("task %s never reached %s, stuck at %s", id, want, snap.Status)
	return Snapshot{}
}

func TestManagerCreate(t *testing.T) {
	mgr := NewManager(nil, nil)
	snap := mgr.Create("sess-1", TypeDisk, "/cloud/src", "/tmp/dst")

	if snap.ID == "" {
		t.Fatal("task id should be assigned")
	}
	if snap.Status != StatusPending {
		t.Errorf("status = %s, want pending", snap.Status)
	}
	if snap.Type != TypeDisk || snap.SrcPath != "/cloud/src" || snap.DstPath != "/tmp/dst" {
		t.Errorf("snapshot fields not carried: %+v", snap)
	}

	bySession := mgr.GetBySession("sess-1")
	if len(bySession) != 1 || bySession[0].ID != snap.ID {
		t.Errorf("GetBySession = %+v, want the created task", bySession)
	}
	if got := mgr.GetBySession("other"); len(got) != 0 {
		t.Errorf("GetBySession for a stranger = %+v, want empty", got)
	}
}

func TestManagerStartCompletes(t *testing.T) {
	mgr := NewManager(nil, nil)
	snap := mgr.Create("s", TypeDisk, "/src", "/dst")

	if err := mgr.Start(context.Background(), snap.ID, quickBackend()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := waitStatus(t, mgr, snap.ID, StatusCompleted)
	if done.Progress != constants.ProgressScale {
		t.Errorf("progress = %d, want %d", done.Progress, constants.ProgressScale)
	}
	if done.TransferredSize != done.TotalSize {
		t.Errorf("transferred = %d, want %d", done.TransferredSize, done.TotalSize)
	}
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Error("startedAt and completedAt should be set on a completed task")
	}
}

func TestManagerStartPrepareFailure(t *testing.T) {
	mgr := NewManager(nil, nil)
	snap := mgr.Create("s", TypeDisk, "/missing", "/dst")

	backend := &stubBackend{prepErr: errors.New("no such path")}
	err := mgr.Start(context.Background(), snap.ID, backend)
	if err == nil {
		t.Fatal("Start should surface the preparation failure")
	}

	failed := waitStatus(t, mgr, snap.ID, StatusFailed)
	if failed.Error != "no such path" {
		t.Errorf("error = %q, want the preparation error", failed.Error)
	}
}

func TestManagerStartFromTerminal(t *testing.T) {
	mgr := NewManager(nil, nil)
	snap := mgr.Create("s", TypeDisk, "/src", "/dst")
	if err := mgr.Start(context.Background(), snap.ID, quickBackend()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, mgr, snap.ID, StatusCompleted)

	err := mgr.Start(context.Background(), snap.ID, quickBackend())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Start on completed task = %v, want ErrInvalidTransition", err)
	}
}

func TestManagerStartUnknownTask(t *testing.T) {
	mgr := NewManager(nil, nil)
	if err := mgr.Start(context.Background(), "nope", quickBackend()); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Start = %v, want ErrTaskNotFound", err)
	}
	if err := mgr.Pause("nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Pause = %v, want ErrTaskNotFound", err)
	}
	if err := mgr.Cancel("nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Cancel = %v, want ErrTaskNotFound", err)
	}
	if _, err := mgr.Get("nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Get = %v, want ErrTaskNotFound", err)
	}
}

func TestManagerPauseResumeLive(t *testing.T) {
	mgr := NewManager(nil, nil)
	backend, release := blockingBackend()
	snap := mgr.Create("s", TypeDisk, "/src", "/dst")

	if err := mgr.Start(context.Background(), snap.ID, backend); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, mgr, snap.ID, StatusRunning)

	if err := mgr.Pause(snap.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	paused := waitStatus(t, mgr, snap.ID, StatusPaused)
	if paused.Speed != 0 {
		t.Errorf("paused speed = %d, want 0", paused.Speed)
	}

	// Pausing a paused task is not legal.
	if err := mgr.Pause(snap.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second Pause = %v, want ErrInvalidTransition", err)
	}

	// The executor stayed resident: resume just clears the signal.
	if err := mgr.Resume(context.Background(), snap.ID, backend); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitStatus(t, mgr, snap.ID, StatusRunning)

	close(release)
	waitStatus(t, mgr, snap.ID, StatusCompleted)
}

func TestManagerResumeNonPaused(t *testing.T) {
	mgr := NewManager(nil, nil)
	snap := mgr.Create("s", TypeDisk, "/src", "/dst")
	err := mgr.Resume(context.Background(), snap.ID, quickBackend())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Resume on pending task = %v, want ErrInvalidTransition", err)
	}
}

func TestManagerCancelRunning(t *testing.T) {
	mgr := NewManager(nil, nil)
	backend, _ := blockingBackend()
	snap := mgr.Create("s", TypeDisk, "/src", "/dst")

	if err := mgr.Start(context.Background(), snap.ID, backend); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, mgr, snap.ID, StatusRunning)

	if err := mgr.Cancel(snap.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	cancelled := waitStatus(t, mgr, snap.ID, StatusCancelled)
	if cancelled.CompletedAt == nil {
		t.Error("cancelled task should carry a completion timestamp")
	}

	// Cancelling a terminal task is a no-op, not an error.
	if err := mgr.Cancel(snap.ID); err != nil {
		t.Fatalf("Cancel on cancelled task: %v", err)
	}
}

func TestManagerConcurrencyCap(t *testing.T) {
	mgr := NewManager(nil, nil)
	backend, release := blockingBackend()

	var ids []string
	for i := 0; i < constants.MaxConcurrentTransfers; i++ {
		snap := mgr.Create("s", TypeDisk, "/src", "/dst")
		if err := mgr.Start(context.Background(), snap.ID, backend); err != nil {
			t.Fatalf("Start #%d: %v", i, err)
		}
		ids = append(ids, snap.ID)
	}
	for _, id := range ids {
		waitStatus(t, mgr, id, StatusRunning)
	}

	extra := mgr.Create("s", TypeDisk, "/src", "/dst")
	err := mgr.Start(context.Background(), extra.ID, backend)
	if !errors.Is(err, ErrTooManyTransfers) {
		t.Fatalf("Start beyond cap = %v, want ErrTooManyTransfers", err)
	}
	// A rejected start leaves the task pending, not failed.
	snap, _ := mgr.Get(extra.ID)
	if snap.Status != StatusPending {
		t.Errorf("rejected task status = %s, want pending", snap.Status)
	}

	// Paused tasks hold their slot.
	if err := mgr.Pause(ids[0]); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := mgr.Start(context.Background(), extra.ID, backend); !errors.Is(err, ErrTooManyTransfers) {
		t.Fatalf("Start with a paused resident = %v, want ErrTooManyTransfers", err)
	}

	// Cancelling frees slots immediately. CancelAll sweeps the pending task
	// too, so start a fresh one.
	mgr.CancelAll()
	fresh := mgr.Create("s", TypeDisk, "/src", "/dst")
	if err := mgr.Start(context.Background(), fresh.ID, backend); err != nil {
		t.Fatalf("Start after CancelAll: %v", err)
	}
	close(release)
	waitStatus(t, mgr, fresh.ID, StatusCompleted)
}

// gatedBackend parks every Prepare on gate so tests can pile up concurrent
// starts mid-preparation.
type gatedBackend struct {
	gate    chan struct{}
	entered chan struct{}
	proc    Processor
}

func (b *gatedBackend) Prepare(ctx context.Context, srcPath, dstPath string) (Plan, error) {
	b.entered <- struct{}{}
	<-b.gate
	return Plan{Root: fileTask("f"), TotalSize: 100, Workers: 1}, nil
}

func (b *gatedBackend) Processor(pause *Signal, abort *Abort) Processor {
	return b.proc
}

func TestManagerConcurrencyCapHeldDuringPrepare(t *testing.T) {
	mgr := NewManager(nil, nil)
	release := make(chan struct{})
	backend := &gatedBackend{
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 32),
		proc:    &releaseProcessor{release: release},
	}

	// Pile up more concurrent starts than the cap while every accepted one
	// is still inside Prepare; none has reached running yet.
	const n = constants.MaxConcurrentTransfers + 4
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		snap := mgr.Create("s", TypeDisk, "/src", "/dst")
		go func(id string) { errCh <- mgr.Start(context.Background(), id, backend) }(snap.ID)
	}

	for i := 0; i < constants.MaxConcurrentTransfers; i++ {
		select {
		case <-backend.entered:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d starts reached Prepare, want %d", i, constants.MaxConcurrentTransfers)
		}
	}
	for i := 0; i < n-constants.MaxConcurrentTransfers; i++ {
		select {
		case err := <-errCh:
			if !errors.Is(err, ErrTooManyTransfers) {
				t.Fatalf("start beyond cap = %v, want ErrTooManyTransfers", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d starts were rejected", i)
		}
	}

	close(backend.gate)
	for i := 0; i < constants.MaxConcurrentTransfers; i++ {
		select {
		case err := <-errCh:
			if err != nil {
				t.Fatalf("accepted start failed: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("accepted starts did not finish")
		}
	}
	select {
	case <-backend.entered:
		t.Fatal("a rejected start reached Prepare")
	default:
	}

	running := 0
	for _, snap := range mgr.GetAll() {
		if snap.Status == StatusRunning {
			running++
		}
	}
	if running != constants.MaxConcurrentTransfers {
		t.Errorf("running tasks = %d, want %d", running, constants.MaxConcurrentTransfers)
	}

	mgr.CancelAll()
	close(release)
}

func TestManagerPrepareFailureReleasesSlot(t *testing.T) {
	mgr := NewManager(nil, nil)

	backend, release := blockingBackend()
	var ids []string
	for i := 0; i < constants.MaxConcurrentTransfers-1; i++ {
		snap := mgr.Create("s", TypeDisk, "/src", "/dst")
		if err := mgr.Start(context.Background(), snap.ID, backend); err != nil {
			t.Fatalf("Start #%d: %v", i, err)
		}
		ids = append(ids, snap.ID)
	}
	for _, id := range ids {
		waitStatus(t, mgr, id, StatusRunning)
	}

	// A start whose preparation fails must not keep its slot.
	broken := mgr.Create("s", TypeDisk, "/missing", "/dst")
	if err := mgr.Start(context.Background(), broken.ID, &stubBackend{prepErr: errors.New("no such path")}); err == nil {
		t.Fatal("Start should surface the preparation failure")
	}
	waitStatus(t, mgr, broken.ID, StatusFailed)

	fresh := mgr.Create("s", TypeDisk, "/src", "/dst")
	if err := mgr.Start(context.Background(), fresh.ID, backend); err != nil {
		t.Fatalf("Start after a failed preparation: %v", err)
	}
	waitStatus(t, mgr, fresh.ID, StatusRunning)

	mgr.CancelAll()
	close(release)
}

func TestManagerStaleExecutorCannotFinishNewRun(t *testing.T) {
	mgr := NewManager(nil, nil)
	snap := mgr.Create("s", TypeDisk, "/src", "/dst")

	oldBackend, oldRelease := blockingBackend()
	if err := mgr.Start(context.Background(), snap.ID, oldBackend); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, mgr, snap.ID, StatusRunning)

	// Supersede the run the way Restart does when the old executor outlives
	// the exit wait: reset, then start again while the first executor is
	// still resident.
	task, err := mgr.get(snap.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	task.resetForRestart()
	newBackend, newRelease := blockingBackend()
	if err := mgr.Start(context.Background(), snap.ID, newBackend); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	waitStatus(t, mgr, snap.ID, StatusRunning)

	// The superseded executor exits cleanly; its terminal write must be
	// discarded, not recorded against the new run.
	close(oldRelease)
	time.Sleep(200 * time.Millisecond)
	got, err := mgr.Get(snap.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusRunning {
		t.Fatalf("stale executor moved the task to %s", got.Status)
	}

	close(newRelease)
	waitStatus(t, mgr, snap.ID, StatusCompleted)
}

func TestManagerRestartCompleted(t *testing.T) {
	mgr := NewManager(nil, nil)
	snap := mgr.Create("s", TypeDisk, "/src", "/dst")

	if err := mgr.Start(context.Background(), snap.ID, quickBackend()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, mgr, snap.ID, StatusCompleted)

	if err := mgr.Restart(context.Background(), snap.ID, quickBackend()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	done := waitStatus(t, mgr, snap.ID, StatusCompleted)
	if done.Progress != constants.ProgressScale {
		t.Errorf("restarted task progress = %d, want %d", done.Progress, constants.ProgressScale)
	}
}

func TestManagerRemove(t *testing.T) {
	mgr := NewManager(nil, nil)
	snap := mgr.Create("s", TypeDisk, "/src", "/dst")

	if err := mgr.Remove(snap.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := mgr.Get(snap.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Get after Remove = %v, want ErrTaskNotFound", err)
	}
	if err := mgr.Remove(snap.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("second Remove = %v, want ErrTaskNotFound", err)
	}
}

func TestManagerRemoveRunningCancelsFirst(t *testing.T) {
	mgr := NewManager(nil, nil)
	backend, _ := blockingBackend()
	snap := mgr.Create("s", TypeDisk, "/src", "/dst")

	if err := mgr.Start(context.Background(), snap.ID, backend); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, mgr, snap.ID, StatusRunning)

	if err := mgr.Remove(snap.ID); err != nil {
		t.Fatalf("Remove on running task: %v", err)
	}
	if _, err := mgr.Get(snap.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Get after Remove = %v, want ErrTaskNotFound", err)
	}
}

func TestManagerPublishesLifecycleEvents(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()
	ch := bus.SubscribeAll()

	mgr := NewManager(bus, nil)
	snap := mgr.Create("s", TypeDisk, "/src", "/dst")
	if err := mgr.Start(context.Background(), snap.ID, quickBackend()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, mgr, snap.ID, StatusCompleted)

	want := map[events.EventType]bool{
		events.EventTaskCreated:   false,
		events.EventTaskStarted:   false,
		events.EventTaskCompleted: false,
	}
	deadline := time.After(5 * time.Second)
	for {
		remaining := 0
		for _, seen := range want {
			if !seen {
				remaining++
			}
		}
		if remaining == 0 {
			break
		}
		select {
		case ev := <-ch:
			if _, tracked := want[ev.Type()]; tracked {
				want[ev.Type()] = true
			}
			if te, ok := ev.(*events.TaskEvent); ok && te.TaskID != snap.ID {
				t.Errorf("event for unexpected task %s", te.TaskID)
			}
		case <-deadline:
			t.Fatalf("missing lifecycle events: %+v", want)
		}
	}
}
