// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package timeline is the frontend timeline engine: it owns
// cursor/viewport/zoom state, translates user input and selection
// changes into deduplicated, debounced backend queries, reuses
// overlapping window-cache entries across pans and zooms, and assembles
// atomic render-state snapshots.
//
// The Engine.run loop holds cursor/viewport/zoom state and the current
// bounds in its own locals and publishes the state through a pkg/reactive
// Cell. The Scheduler guards its own caches and timers with mutexes,
// since its debounce timers and backend fetches run on other goroutines.
// The loop is a plain Go select over every input relay, the same
// owning-loop shape
// internal/trackedfiles.Domain.run and
// internal/selectedvariables.Domain.watchFileRemovals use for their
// single-owner event loops.
package timeline

import (
	"github.com/novywave/novywave-core/internal/waveform"
	"github.com/novywave/novywave-core/pkg/wavetime"
)

// State is the timeline's owned snapshot of cursor, zoom center,
// viewport, and canvas geometry. It is comparable so it can back a
// reactive.Cell[State] (lazily-deduped equality-filtered signal).
type State struct {
	CursorNs       wavetime.TimeNs
	ZoomCenterNs   wavetime.TimeNs
	Viewport       wavetime.Range
	NsPerPixel     wavetime.NsPerPixel
	CanvasWidthPx  uint32
	CanvasHeightPx uint32

	// Generation increments on every viewport or selection-bounds change;
	// it is the ticket the request scheduler stamps onto
	// outgoing queries so stale responses can be dropped on arrival.
	Generation uint64

	// Empty is true when no variable is selected: the explicit empty
	// state, never a fallback default range. While Empty holds, Generation
	// and the canvas size are kept; every other field is the zero value.
	Empty bool
}

// canonicalPathOf is the timeline package's one choke point for deriving
// a variable's owning file from its "file|scope_path|variable_name"
// unique id, matching internal/transport's identical extraction.
func canonicalPathOf(id waveform.VariableID) string { return id.CanonicalPath() }
