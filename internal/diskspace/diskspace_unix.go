//go:build !windows

package diskspace

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

// CheckAvailableSpace checks whether the filesystem holding targetPath has
// room for requiredBytes plus a safety margin (e.g. 1.05 for 5%).
// targetPath itself may not exist yet; its parent directory is probed.
//
// Returns an InsufficientSpaceError when space is short. A failed probe
// (network mounts, virtual filesystems) returns nil so the transfer can
// proceed and fail naturally if space truly runs out.
func CheckAvailableSpace(targetPath string, requiredBytes int64, safetyMargin float64) error {
	dir := filepath.Dir(targetPath)

	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return nil
	}

	// Bavail = blocks available to unprivileged users
	availableBytes := int64(stat.Bavail) * int64(stat.Bsize)

	requiredWithMargin := int64(float64(requiredBytes) * safetyMargin)

	if availableBytes < requiredWithMargin {
		return &InsufficientSpaceError{
			Path:           targetPath,
			RequiredBytes:  requiredWithMargin,
			AvailableBytes: availableBytes,
		}
	}

	return nil
}

// GetAvailableSpace returns the available space in bytes for the filesystem
// containing the given path. Returns 0 if unable to determine.
func GetAvailableSpace(path string) int64 {
	dir := filepath.Dir(path)

	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0
	}

	return int64(stat.Bavail) * int64(stat.Bsize)
}
