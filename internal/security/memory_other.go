//go:build !unix
// +build !unix

package security

// wipeBytes has no platform-specific parts; this file only exists so Wipe
// resolves on non-Unix build targets without an mlock dependency.

import (
	"runtime"
)

// Wipe overwrites a byte slice with zeros.
// Zeroes each byte in a loop, then calls runtime.KeepAlive on the slice.
func Wipe(data []byte) {
	wipeBytes(data)
}

// wipeBytes is the internal implementation of Wipe.
func wipeBytes(data []byte) {
	if len(data) == 0 {
		return
	}

	for i := range data {
		data[i] = 0
	}

	runtime.KeepAlive(data)
}
