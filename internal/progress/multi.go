package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

// TaskUI renders one mpb bar per transfer task. On a non-terminal it falls
// back to plain line output.
type TaskUI struct {
	progress   *mpb.Progress
	isTerminal bool

	mu   sync.Mutex
	bars map[string]*TaskBar
}

// TaskBar is one task's bar.
type TaskBar struct {
	ui         *TaskUI
	bar        *mpb.Bar
	label      string
	total      int64
	lastBytes  int64
	lastUpdate time.Time
	startTime  time.Time
}

// NewTaskUI creates the multi-bar view.
func NewTaskUI() *TaskUI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))

	var p *mpb.Progress
	if isTerminal {
		enableANSIOnWindows(os.Stderr)
		p = mpb.New(
			mpb.WithOutput(os.Stderr),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(100),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &TaskUI{
		progress:   p,
		isTerminal: isTerminal,
		bars:       make(map[string]*TaskBar),
	}
}

// AddTask registers a bar for one task. A zero total (failed size probe)
// renders as an unbounded counter.
func (u *TaskUI) AddTask(taskID, label string, total int64) *TaskBar {
	tb := &TaskBar{
		ui:         u,
		label:      label,
		total:      total,
		startTime:  time.Now(),
		lastUpdate: time.Now(),
	}

	if u.isTerminal {
		tb.bar = u.progress.New(total,
			mpb.BarStyle().
				Lbound("[").
				Filler("█").
				Tip("█").
				Padding("░").
				Rbound("]"),
			mpb.PrependDecorators(
				decor.Name(truncatePath(label, 2), decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
				decor.Name("  "),
				decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 60, decor.WCSyncSpace),
			),
			mpb.BarRemoveOnComplete(),
		)
	} else {
		fmt.Printf("Transferring: %s (%.1f MiB)\n", label, float64(total)/(1024*1024))
	}

	u.mu.Lock()
	u.bars[taskID] = tb
	u.mu.Unlock()
	return tb
}

// Update moves a task's bar to its aggregated byte position. Updates are
// throttled and always feed elapsed time into the EWMA so the speed decays
// during stalls and pauses.
func (u *TaskUI) Update(taskID string, transferred int64) {
	u.mu.Lock()
	tb := u.bars[taskID]
	u.mu.Unlock()
	if tb == nil || tb.bar == nil {
		return
	}

	now := time.Now()
	elapsed := now.Sub(tb.lastUpdate)
	if elapsed < 300*time.Millisecond {
		return
	}
	tb.bar.EwmaIncrBy(int(transferred-tb.lastBytes), elapsed)
	tb.lastBytes = transferred
	tb.lastUpdate = now
}

// Complete finishes a task's bar and prints a one-line summary above the
// remaining bars.
func (u *TaskUI) Complete(taskID string, err error) {
	u.mu.Lock()
	tb := u.bars[taskID]
	delete(u.bars, taskID)
	u.mu.Unlock()
	if tb == nil {
		return
	}

	elapsed := time.Since(tb.startTime)
	var msg string
	if err == nil {
		if tb.bar != nil {
			tb.bar.SetCurrent(tb.total)
			tb.bar.SetTotal(tb.total, true)
		}
		speed := float64(tb.total) / elapsed.Seconds() / (1024 * 1024)
		msg = fmt.Sprintf("✓ %s (%.1f MiB, %s, %.1f MiB/s)\n",
			tb.label, float64(tb.total)/(1024*1024), elapsed.Round(time.Second), speed)
	} else {
		if tb.bar != nil {
			tb.bar.Abort(false)
		}
		msg = fmt.Sprintf("✗ %s: %v\n", tb.label, err)
	}

	if u.isTerminal {
		u.progress.Write([]byte(msg))
	} else {
		fmt.Print(msg)
	}
}

// Wait blocks until every bar has finished rendering.
func (u *TaskUI) Wait() {
	u.progress.Wait()
}

// LogWriter returns a writer that prints above the bars without tearing
// them.
func (u *TaskUI) LogWriter() io.Writer {
	if u.isTerminal {
		return u.progress
	}
	return os.Stderr
}
