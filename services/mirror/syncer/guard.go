// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syncer

import "sync/atomic"

// passGuard is the single-slot mutex that prevents overlapping sync
// passes. Two concurrent passes could double-apply a pending-to-original
// transition, so the flag must be acquired before the first suspension
// point of a pass and released on every exit path, panic included.
//
// It is a separate type so the acquire/release discipline can be tested
// in isolation from the pipeline.
type passGuard struct {
	busy atomic.Bool
}

// TryAcquire takes the slot. Returns false if a pass already holds it.
func (g *passGuard) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Release frees the slot. Safe to call when not held (it simply clears).
func (g *passGuard) Release() {
	g.busy.Store(false)
}

// Held reports whether a pass currently holds the slot.
func (g *passGuard) Held() bool {
	return g.busy.Load()
}
