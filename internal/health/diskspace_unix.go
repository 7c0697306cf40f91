//go:build unix
// +build unix

package health

import "golang.org/x/sys/unix"

// diskFreeBytes returns the bytes available to an unprivileged process on
// the filesystem backing path.
func diskFreeBytes(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
