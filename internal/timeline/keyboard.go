// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package timeline

import (
	"github.com/novywave/novywave-core/internal/waveform"
	"github.com/novywave/novywave-core/pkg/wavetime"
)

// Continuous keys (zoom, pan, cursor nudge) are driven by the caller at
// a ~55 ms repeat cadence — a UI key-repeat timer, not state this
// package owns — calling ZoomIn/PanLeft/etc. once per
// tick for as long as the key is held. Each call below applies exactly
// one step.

// zoomStepFraction/panStepFraction are the per-tick step sizes for
// unmodified zoom/pan; the shift multipliers scale them into the
// accelerated Shift bands.
const (
	zoomStepFraction   = 0.08
	zoomShiftMultiplier = 4.0
	panStepFraction    = 0.04
	panShiftMultiplier = 2.5
)

// applyZoom implements the `W`/`S` (± Shift) keys:
// zoom in/out centered on zoom_center_ns, by a fraction of the current
// viewport span, accelerated under Shift.
func applyZoom(s State, bounds waveform.Bounds, in bool, shift bool) State {
	frac := zoomStepFraction
	if shift {
		frac *= zoomShiftMultiplier
	}
	span := float64(s.Viewport.Len())
	delta := span * frac
	// Shrink/grow symmetrically around the zoom center, proportional to
	// each side's distance from it, so the center point stays fixed.
	center := s.ZoomCenterNs
	leftSpan := float64(center - s.Viewport.Start)
	rightSpan := float64(s.Viewport.End - center)
	total := leftSpan + rightSpan
	if total <= 0 {
		total = 1
	}
	leftDelta := wavetime.TimeNs(delta * (leftSpan / total))
	rightDelta := wavetime.TimeNs(delta * (rightSpan / total))

	start := s.Viewport.Start
	end := s.Viewport.End
	if !in {
		// Zooming out: grow each side.
		if start > bounds.Min+leftDelta {
			start -= leftDelta
		} else {
			start = bounds.Min
		}
		if end+rightDelta < bounds.Max {
			end += rightDelta
		} else {
			end = bounds.Max
		}
	} else {
		// Zooming in: shrink each side, never crossing the center.
		if start+leftDelta < center {
			start += leftDelta
		} else {
			start = center
		}
		if end > rightDelta && end-rightDelta > center {
			end -= rightDelta
		} else {
			end = center
		}
	}

	s.Viewport = wavetime.Range{Start: start, End: end}
	s.Generation++
	return clamp(s, bounds)
}

// applyPan implements the `A`/`D` (± Shift) contract: slide the viewport
// by a fraction of its span, clamped to bounds so it never slides past
// either edge.
func applyPan(s State, bounds waveform.Bounds, left bool, shift bool) State {
	frac := panStepFraction
	if shift {
		frac *= panShiftMultiplier
	}
	delta := wavetime.TimeNs(float64(s.Viewport.Len()) * frac)
	if left {
		if s.Viewport.Start < bounds.Min+delta {
			delta = s.Viewport.Start - bounds.Min
		}
		s.Viewport.Start -= delta
		s.Viewport.End -= delta
	} else {
		if s.Viewport.End+delta > bounds.Max {
			delta = bounds.Max - s.Viewport.End
		}
		s.Viewport.Start += delta
		s.Viewport.End += delta
	}
	s.Generation++
	return clamp(s, bounds)
}

// applyCursorStep implements the plain (non-Shift) half of the `Q`/`E`
// contract: step the cursor by one pixel-width of ns in the given
// direction. Cursor-only mutations leave Generation alone — the
// generation ticket guards viewport/bounds changes, and bumping it here
// would discard an in-flight window fetch over a mere cursor nudge.
func applyCursorStep(s State, bounds waveform.Bounds, left bool) State {
	step := wavetime.TimeNs(s.NsPerPixel)
	if step == 0 {
		step = 1
	}
	if left {
		if s.CursorNs < bounds.Min+step {
			s.CursorNs = bounds.Min
		} else {
			s.CursorNs -= step
		}
	} else {
		if s.CursorNs+step > bounds.Max {
			s.CursorNs = bounds.Max
		} else {
			s.CursorNs += step
		}
	}
	return clamp(s, bounds)
}

// applyCursorJump implements the Shift+`Q`/`E` contract: jump the cursor
// to the nearest transition, before or after the current cursor, of the
// nearest selected variable with a loaded series. nearest is pre-resolved
// by the caller (engine.go), which already knows every selected
// variable's current series snapshot.
func applyCursorJump(s State, bounds waveform.Bounds, transitions []waveform.Transition, forward bool) State {
	found, ok := nearestTransition(transitions, s.CursorNs, forward)
	if !ok {
		return s
	}
	s.CursorNs = found
	return clamp(s, bounds)
}

// nearestTransition scans transitions (assumed time-ascending) for the
// closest one strictly after (forward) or before (!forward) from.
func nearestTransition(transitions []waveform.Transition, from wavetime.TimeNs, forward bool) (wavetime.TimeNs, bool) {
	if forward {
		for _, t := range transitions {
			if t.TimeNs > from {
				return t.TimeNs, true
			}
		}
		return 0, false
	}
	var best wavetime.TimeNs
	ok := false
	for _, t := range transitions {
		if t.TimeNs >= from {
			break
		}
		best, ok = t.TimeNs, true
	}
	return best, ok
}

// clampToBounds restricts t to [bounds.Min, bounds.Max].
func clampToBounds(t wavetime.TimeNs, bounds waveform.Bounds) wavetime.TimeNs {
	if t < bounds.Min {
		return bounds.Min
	}
	if t > bounds.Max {
		return bounds.Max
	}
	return t
}

// applyClick handles a canvas click: cursor
// moves to the clicked ns, clamped.
func applyClick(s State, bounds waveform.Bounds, clickedNs wavetime.TimeNs) State {
	s.CursorNs = clampToBounds(clickedNs, bounds)
	return clamp(s, bounds)
}

// applyHover implements "Hover on canvas": zoom center follows the hover
// position while the pointer is over the canvas.
func applyHover(s State, bounds waveform.Bounds, hoverNs wavetime.TimeNs) State {
	s.ZoomCenterNs = clampToBounds(hoverNs, bounds)
	return clamp(s, bounds)
}

// applyHoverLeave restores the zoom center to where it was before the
// pointer entered the canvas ("Leaving canvas restores previous zoom
// center").
func applyHoverLeave(s State, bounds waveform.Bounds, previousZoomCenter wavetime.TimeNs) State {
	s.ZoomCenterNs = previousZoomCenter
	return clamp(s, bounds)
}
