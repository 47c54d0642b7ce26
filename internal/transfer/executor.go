package transfer

import (
	"fmt"
	"sync"
	"time"

	"github.com/reclabs/recbridge/internal/constants"
	"github.com/reclabs/recbridge/internal/logging"
)

// AggregateFunc receives executor-level progress: the most recently touched
// path, total bytes moved across all workers and the summed rate of the
// workers that are actively moving bytes (0 when none are).
type AggregateFunc func(path string, transferred, rate int64)

// progressSlot is the per-worker bookkeeping the executor aggregates over.
type progressSlot struct {
	path      string
	moved     int64 // bytes moved for the file currently in flight
	rate      int64
	completed int64 // bytes of files this worker has fully finished
}

// Executor drives one task's recursive tree to completion over a fixed pool
// of workers. Workers are spawned once, fed through per-worker inboxes and
// torn down when the tree is exhausted, a worker reports terminal failure,
// or the abort handle fires.
type Executor struct {
	proc       Processor
	numWorkers int
	pause      *Signal
	abort      *Abort
	onProgress AggregateFunc
	log        *logging.Logger
}

// NewExecutor builds an executor. pause and abort are the task's shared
// handles; onProgress may be nil.
func NewExecutor(proc Processor, numWorkers int, pause *Signal, abort *Abort, onProgress AggregateFunc, log *logging.Logger) *Executor {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logging.NewServerLogger("executor")
	}
	return &Executor{
		proc:       proc,
		numWorkers: numWorkers,
		pause:      pause,
		abort:      abort,
		onProgress: onProgress,
		log:        log,
	}
}

// Run seeds the pool with root and blocks until the whole tree is done.
// It returns nil on success, ErrCancelled when the abort handle fired, and
// the worker's error when a task exhausted its retries.
func (e *Executor) Run(root WorkerTask) error {
	out := make(chan workerEvent, e.numWorkers*16)
	inboxes := make([]chan WorkerTask, e.numWorkers)
	slots := make([]progressSlot, e.numWorkers)
	ready := make([]bool, e.numWorkers)

	var wg sync.WaitGroup
	for i := 0; i < e.numWorkers; i++ {
		inboxes[i] = make(chan WorkerTask, 1)
		ready[i] = true
		w := &worker{index: i, proc: e.proc, pause: e.pause, abort: e.abort, out: out, log: e.log}
		wg.Add(1)
		go func(inbox <-chan WorkerTask) {
			defer wg.Done()
			w.run(inbox)
		}(inboxes[i])
	}

	// Teardown is unconditional: close every inbox, then drain worker events
	// until the pool has exited so no worker blocks on its final send.
	var closeOnce sync.Once
	shutdown := func() {
		closeOnce.Do(func() {
			for _, inbox := range inboxes {
				close(inbox)
			}
		})
		go func() {
			wg.Wait()
			close(out)
		}()
		for range out {
		}
	}

	queue := []WorkerTask{root}
	var lastPath string
	var lastAggregate time.Time

	aggregate := func(force bool) {
		if e.onProgress == nil {
			return
		}
		if !force && time.Since(lastAggregate) < constants.AggregateMinInterval {
			return
		}
		lastAggregate = time.Now()

		var total, rate int64
		active := 0
		for _, s := range slots {
			total += s.completed + s.moved
			if s.rate > 0 {
				rate += s.rate
				active++
			}
		}
		if active == 0 {
			rate = 0
		}
		e.onProgress(lastPath, total, rate)
	}

	// dispatch hands queued tasks to free workers. Nothing is allocated
	// while paused or aborted; a resume re-enters here via the change
	// channel case in the main loop.
	dispatch := func() {
		if e.pause.Paused() || e.abort.Aborted() {
			return
		}
		for len(queue) > 0 {
			free := -1
			for i, r := range ready {
				if r {
					free = i
					break
				}
			}
			if free < 0 {
				return
			}
			task := queue[0]
			queue = queue[1:]
			ready[free] = false
			inboxes[free] <- task
		}
	}

	allReady := func() bool {
		for _, r := range ready {
			if !r {
				return false
			}
		}
		return true
	}

	dispatch()

	for {
		select {
		case <-e.abort.Done():
			shutdown()
			return ErrCancelled

		case <-e.pause.Changed():
			dispatch()

		case ev := <-out:
			switch ev.kind {
			case evProgress:
				slots[ev.index].path = ev.path
				slots[ev.index].moved = ev.moved
				slots[ev.index].rate = ev.rate
				lastPath = ev.path
				aggregate(false)

			case evFinish:
				// Roll the finished file into the worker's completed total so
				// the aggregate stays exact across file boundaries.
				slots[ev.index].completed += slots[ev.index].moved
				slots[ev.index].moved = 0
				slots[ev.index].rate = 0
				queue = append(queue, ev.children...)
				ready[ev.index] = true
				dispatch()

				if len(queue) == 0 && allReady() {
					aggregate(true)
					shutdown()
					return nil
				}
				aggregate(false)

			case evFailed:
				e.log.Error().Str("path", ev.path).Err(ev.err).Msg("worker reported terminal failure")
				// Tear down peers and any in-flight streams.
				e.abort.Trigger()
				shutdown()
				if ev.err == nil {
					ev.err = fmt.Errorf("worker failed")
				}
				if ev.path != "" {
					return fmt.Errorf("%s: %w", ev.path, ev.err)
				}
				return ev.err
			}
		}
	}
}
