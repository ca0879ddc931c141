// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package timeline

import (
	"github.com/novywave/novywave-core/internal/waveform"
	"github.com/novywave/novywave-core/pkg/wavetime"
)

// emptyState is the explicit empty snapshot, never a default-range one.
// Everything but Empty, Generation, and canvas size is the zero value.
func emptyState(generation uint64, canvas [2]uint32) State {
	return State{
		Generation:     generation,
		CanvasWidthPx:  canvas[0],
		CanvasHeightPx: canvas[1],
		Empty:          true,
	}
}

// clamp applies every state invariant to s given bounds, in order:
// viewport containment, minimum
// ns-per-pixel span, cursor containment, then zoom-center containment
// within the (now-clamped) viewport. Called after every mutation, so no
// caller needs to reason about invariants individually.
func clamp(s State, bounds waveform.Bounds) State {
	width := s.CanvasWidthPx
	if width == 0 {
		width = 1
	}

	start, end := s.Viewport.Start, s.Viewport.End
	if start < bounds.Min {
		start = bounds.Min
	}
	if end > bounds.Max {
		end = bounds.Max
	}
	if end <= start {
		end = start + 1
	}
	minSpan := wavetime.TimeNs(width)
	if end-start < minSpan {
		end = start + minSpan
		if end > bounds.Max {
			end = bounds.Max
			if end < start+minSpan {
				start = end - minSpan
			}
		}
		if start < bounds.Min {
			start = bounds.Min
		}
	}
	s.Viewport = wavetime.Range{Start: start, End: end}
	s.NsPerPixel = wavetime.NsPerPixelOf(s.Viewport, width)

	if s.CursorNs < bounds.Min {
		s.CursorNs = bounds.Min
	}
	if s.CursorNs > bounds.Max {
		s.CursorNs = bounds.Max
	}

	if s.ZoomCenterNs < s.Viewport.Start {
		s.ZoomCenterNs = s.Viewport.Start
	}
	if s.ZoomCenterNs > s.Viewport.End {
		s.ZoomCenterNs = s.Viewport.End
	}
	return s
}

// resetTo restores viewport = bounds, cursor = bounds.min,
// zoom center = bounds.min.
func resetTo(bounds waveform.Bounds, canvasWidthPx, canvasHeightPx uint32, generation uint64) State {
	s := State{
		Viewport:       wavetime.Range{Start: bounds.Min, End: bounds.Max},
		CursorNs:       bounds.Min,
		ZoomCenterNs:   bounds.Min,
		CanvasWidthPx:  canvasWidthPx,
		CanvasHeightPx: canvasHeightPx,
		Generation:     generation,
	}
	if !s.Viewport.Valid() {
		s.Viewport.End = s.Viewport.Start + 1
	}
	s.NsPerPixel = wavetime.NsPerPixelOf(s.Viewport, canvasWidthPx)
	return clamp(s, bounds)
}
