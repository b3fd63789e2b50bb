// Copyright 2025 The threadlocal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package threads

import "github.com/timandy/routine"

// Goid returns the calling goroutine's ID.
//
// routine reads the goid field from the runtime g struct where it can and
// falls back to runtime.Stack parsing elsewhere.
func Goid() int64 {
	return routine.Goid()
}
