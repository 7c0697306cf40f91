//go:build windows
// +build windows

package health

import (
	"syscall"
	"unsafe"
)

// diskFreeBytes returns the bytes available to the calling process on the
// volume backing path, via GetDiskFreeSpaceExW.
func diskFreeBytes(path string) (int64, error) {
	kernel32 := syscall.NewLazyDLL("kernel32.dll")
	proc := kernel32.NewProc("GetDiskFreeSpaceExW")

	pathPtr, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}

	var freeBytesAvailable uint64
	ret, _, err := proc.Call(
		uintptr(unsafe.Pointer(pathPtr)),
		uintptr(unsafe.Pointer(&freeBytesAvailable)),
		0,
		0,
	)
	if ret == 0 {
		return 0, err
	}
	return int64(freeBytesAvailable), nil
}
