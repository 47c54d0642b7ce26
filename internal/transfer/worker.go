package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/reclabs/recbridge/internal/constants"
	"github.com/reclabs/recbridge/internal/logging"
)

// workerEventKind discriminates the messages a worker sends its executor.
type workerEventKind int

const (
	evFinish workerEventKind = iota
	evProgress
	evFailed
)

// workerEvent is the single outbound message type of a worker.
type workerEvent struct {
	kind     workerEventKind
	index    int
	children []WorkerTask // evFinish: tasks discovered by a folder expansion
	path     string
	moved    int64 // evProgress: bytes moved for the current file
	rate     int64 // evProgress: smoothed instantaneous rate
	err      error // evFailed
}

// worker drains its inbox of tasks, processing each with a retry budget.
// Pause and abort arrive through the shared task handles rather than
// explicit mailbox messages; closing the inbox is the exit message.
type worker struct {
	index int
	proc  Processor
	pause *Signal
	abort *Abort
	out   chan<- workerEvent
	log   *logging.Logger
}

func (w *worker) run(inbox <-chan WorkerTask) {
	for {
		select {
		case task, ok := <-inbox:
			if !ok {
				return
			}
			w.handle(task)
		case <-w.abort.Done():
			return
		}
	}
}

// handle processes one task to completion or terminal failure, emitting
// finish or failed. A panic inside a processor is a fatal worker error, not
// a crash of the whole executor.
func (w *worker) handle(task WorkerTask) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Int("worker", w.index).Str("path", task.Path).
				Msgf("worker panic: %v", r)
			w.emit(workerEvent{kind: evFailed, index: w.index, path: task.Path,
				err: fmt.Errorf("worker panic: %v", r)})
		}
	}()

	var lastErr error
	for attempt := 1; attempt <= constants.WorkerMaxRetries; attempt++ {
		if !w.awaitRunnable() {
			return // aborted while paused or between tasks
		}

		ctx, cancel := w.abort.Context(context.Background())
		children, err := w.attempt(ctx, task)
		cancel()

		if err == nil {
			w.emit(workerEvent{kind: evFinish, index: w.index, children: children, path: task.Path})
			return
		}
		if IsCancellation(err) || w.abort.Aborted() {
			return
		}

		lastErr = err
		if !isRetryable(err) {
			break
		}
		if attempt < constants.WorkerMaxRetries {
			w.log.Warn().Int("worker", w.index).Str("path", task.Path).
				Int("attempt", attempt).Bool("network", isNetworkError(err)).
				Err(err).Msg("task attempt failed, will retry")
			if !w.backoff(attempt) {
				return
			}
		}
	}

	w.emit(workerEvent{kind: evFailed, index: w.index, path: task.Path, err: lastErr})
}

func (w *worker) attempt(ctx context.Context, task WorkerTask) ([]WorkerTask, error) {
	if task.Kind == KindFolder {
		return w.proc.ProcessFolder(ctx, task)
	}
	err := w.proc.ProcessFile(ctx, task, func(path string, moved, rate int64) {
		w.emit(workerEvent{kind: evProgress, index: w.index, path: path, moved: moved, rate: rate})
	})
	return nil, err
}

// awaitRunnable blocks while the task is paused. Returns false on abort.
func (w *worker) awaitRunnable() bool {
	if w.abort.Aborted() {
		return false
	}
	ctx, cancel := w.abort.Context(context.Background())
	defer cancel()
	return w.pause.AwaitResumed(ctx) == nil
}

// backoff sleeps min(base * 2^(attempt-1), max) between retries, then waits
// out any pause so the retry does not count while suspended. Returns false
// on abort.
func (w *worker) backoff(attempt int) bool {
	delay := constants.WorkerRetryBaseDelay << (attempt - 1)
	if delay > constants.WorkerRetryMaxDelay {
		delay = constants.WorkerRetryMaxDelay
	}
	select {
	case <-time.After(delay):
	case <-w.abort.Done():
		return false
	}
	return w.awaitRunnable()
}

// emit never blocks the worker forever: the executor drains the channel
// until all workers have exited, and abort unblocks a send raced by
// teardown.
func (w *worker) emit(ev workerEvent) {
	select {
	case w.out <- ev:
	case <-w.abort.Done():
		// Progress lost on abort is fine; finish/failed are moot then too.
	}
}
