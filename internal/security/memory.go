//go:build unix
// +build unix

// Package security provides security utilities for the realitycam
// verification core.
//
// This package implements secure memory wiping, so raw key material read
// from disk doesn't linger in the process's heap past the call that
// consumes it.
package security

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

	// Use explicit loop - compiler should not optimize this away
	for i := range data {
		data[i] = 0
	}

	// Memory barrier to ensure writes complete
	runtime.KeepAlive(data)
}
