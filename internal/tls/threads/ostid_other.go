// Copyright 2025 The threadlocal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux && !windows

package threads

// currentOSThread is not available on this platform.
func currentOSThread() int {
	return 0
}
