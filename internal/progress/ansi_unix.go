//go:build !windows

package progress

import "os"

// enableWindowsANSI is a no-op on Unix; terminals support ANSI natively.
func enableWindowsANSI(f *os.File) {
}
