// Package progress renders transfer progress on a terminal: a single bar
// for one-file transfers and an mpb multi-bar view when several tasks run
// at once.
package progress

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/schollz/progressbar/v3"
)

// Single is a one-task progress bar.
type Single struct {
	bar *progressbar.ProgressBar
}

// NewSingle creates a byte-counting bar for one transfer.
func NewSingle(total int64, description string) *Single {
	if total <= 0 {
		total = -1 // spinner when the size probe failed
	}
	return &Single{
		bar: progressbar.NewOptions64(total,
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(50),
			progressbar.OptionThrottle(100),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(os.Stderr, "\n")
			}),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetRenderBlankState(true),
		),
	}
}

// Update moves the bar to the given byte position.
func (p *Single) Update(transferred int64) {
	_ = p.bar.Set64(transferred)
}

// Describe swaps the bar label, typically to the file being moved.
func (p *Single) Describe(desc string) {
	p.bar.Describe(desc)
}

// Finish completes the bar.
func (p *Single) Finish() {
	_ = p.bar.Finish()
}

// Fail prints an error below the bar.
func (p *Single) Fail(err error) {
	fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
}

// truncatePath shortens a path to its last maxComponents segments.
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return filepath.Base(path)
	}
	return "…/" + strings.Join(parts[len(parts)-maxComponents:], "/")
}

// enableANSIOnWindows turns on Virtual Terminal processing so mpb's escape
// sequences render; a no-op elsewhere.
func enableANSIOnWindows(f *os.File) {
	if runtime.GOOS == "windows" {
		enableWindowsANSI(f)
	}
}
