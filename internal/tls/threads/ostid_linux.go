// Copyright 2025 The threadlocal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package threads

import "golang.org/x/sys/unix"

// currentOSThread returns the kernel thread ID of the calling thread.
//
// Only meaningful while the goroutine is locked to its OS thread.
func currentOSThread() int {
	return unix.Gettid()
}
