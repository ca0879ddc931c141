// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package timeline

import (
	"fmt"

	"github.com/novywave/novywave-core/internal/selectedvariables"
	"github.com/novywave/novywave-core/internal/waveform"
	"github.com/novywave/novywave-core/pkg/wavetime"
)

// RectKind classifies a value rectangle for the renderer's colour/height
// rules: ordinary values fill the row, high-Z draws as a mid-height
// neutral block, unknown/uninitialized as a full-height red block. No-data
// spans produce no rectangle at all (a gap), so there is no kind for them.
type RectKind int

const (
	RectValue RectKind = iota
	RectHighZ
	RectUnknown
)

// ValueRect is one drawable span of a variable's row: the pixel extent
// from this transition to the next, the display classification, and the
// formatted text to clip into it.
type ValueRect struct {
	XStartPx float64
	XEndPx   float64 // always >= XStartPx+1, so single-ns pulses stay visible
	Kind     RectKind
	Label    string
	Value    waveform.Value
}

// Tick is one footer-axis tick. Edge ticks carry the viewport's first and
// last timestamps and are always emitted; interior ticks near enough to an
// edge to collide with its label are suppressed during assembly.
type Tick struct {
	TimeNs wavetime.TimeNs
	XPx    float64
	Label  string
	Edge   bool
}

// VariableRender is one selected variable's contribution to a
// RenderSnapshot: its display formatter, whatever the scheduler currently
// knows about its series and point-in-time value, and the row geometry
// derived from them.
type VariableRender struct {
	VariableID  waveform.VariableID
	Formatter   waveform.Formatter
	Series      SeriesSnapshot
	CursorValue CursorValueSnapshot

	// RowIndex/AltRow drive the alternating row backgrounds across
	// selected variables.
	RowIndex int
	AltRow   bool

	Rects []ValueRect
}

// RenderSnapshot is the atomic, self-consistent bundle the timeline
// engine hands to a renderer: a renderer never observes a viewport from
// one generation paired with series data from another. RenderGeneration
// never decreases and matches State.Generation at assembly time,
// so a renderer can detect and discard an out-of-order delivery. A theme
// change re-emits the current snapshot with the same generation — colours
// changed, data didn't.
type RenderSnapshot struct {
	State     State
	Variables []VariableRender
	Ticks     []Tick

	// CursorXPx/ZoomCenterXPx are the vertical guide lines: solid yellow
	// cursor, dashed purple zoom center. Negative when off-viewport.
	CursorXPx     float64
	ZoomCenterXPx float64

	Theme            string
	RenderGeneration uint64
}

// rulerTargetTicks is the approximate number of tick marks a ruler should
// aim for regardless of canvas width; tick spacing resolves via the 1-2-5
// progression in wavetime.TickSpacing.
const rulerTargetTicks = 10

// edgeLabelClearancePx is how close an interior tick may come to a pinned
// edge label before it is dropped to avoid collision.
const edgeLabelClearancePx = 48

// assembleRender builds the render state for the engine's current
// state/selection. selected is read in selection order so the renderer's
// variable list is stable across redraws that don't change the selection
// itself.
func assembleRender(state State, selected []selectedvariables.Selection, scheduler *Scheduler, theme string) RenderSnapshot {
	if state.Empty {
		return RenderSnapshot{State: state, Theme: theme, RenderGeneration: state.Generation, CursorXPx: -1, ZoomCenterXPx: -1}
	}

	series := scheduler.SeriesSnapshots()
	cursors := scheduler.CursorSnapshots()

	vars := make([]VariableRender, 0, len(selected))
	row := 0
	for _, sel := range selected {
		if sel.Missing {
			continue
		}
		ss := series[sel.VariableID]
		vars = append(vars, VariableRender{
			VariableID:  sel.VariableID,
			Formatter:   sel.Formatter,
			Series:      ss,
			CursorValue: cursors[sel.VariableID],
			RowIndex:    row,
			AltRow:      row%2 == 1,
			Rects:       buildRects(ss, state, sel.Formatter),
		})
		row++
	}

	return RenderSnapshot{
		State:            state,
		Variables:        vars,
		Ticks:            buildTicks(state),
		CursorXPx:        pxOf(state, state.CursorNs),
		ZoomCenterXPx:    pxOf(state, state.ZoomCenterNs),
		Theme:            theme,
		RenderGeneration: state.Generation,
	}
}

// pxOf converts a timestamp into a canvas x position. Floating point is
// fine here: pixel positions are a UI boundary, not stored state.
func pxOf(state State, t wavetime.TimeNs) float64 {
	if !state.Viewport.Contains(t) {
		return -1
	}
	npp := float64(state.NsPerPixel)
	if npp == 0 {
		npp = 1
	}
	return float64(t-state.Viewport.Start) / npp
}

// buildRects turns a loaded series into row geometry: each transition
// spans a rectangle up to the next transition (the last one runs to the
// viewport's end), no-data spans become gaps, and every rectangle is at
// least one pixel wide so a 1 ns pulse never vanishes.
func buildRects(ss SeriesSnapshot, state State, f waveform.Formatter) []ValueRect {
	if ss.Status != SeriesLoaded || len(ss.Transitions) == 0 {
		return nil
	}
	npp := float64(state.NsPerPixel)
	if npp == 0 {
		npp = 1
	}
	vp := state.Viewport

	var out []ValueRect
	for i, tr := range ss.Transitions {
		spanStart := tr.TimeNs
		spanEnd := vp.End
		if i+1 < len(ss.Transitions) {
			spanEnd = ss.Transitions[i+1].TimeNs
		}
		if spanEnd <= vp.Start || spanStart > vp.End {
			continue
		}
		if tr.Value.Special == waveform.SpecialNoData {
			continue // gap
		}
		if spanStart < vp.Start {
			spanStart = vp.Start
		}
		if spanEnd > vp.End {
			spanEnd = vp.End
		}

		x0 := float64(spanStart-vp.Start) / npp
		x1 := float64(spanEnd-vp.Start) / npp
		if x1 < x0+1 {
			x1 = x0 + 1
		}

		kind := RectValue
		switch tr.Value.Special {
		case waveform.SpecialHighZ:
			kind = RectHighZ
		case waveform.SpecialUnknown, waveform.SpecialUninitialized:
			kind = RectUnknown
		}

		out = append(out, ValueRect{
			XStartPx: x0,
			XEndPx:   x1,
			Kind:     kind,
			Label:    FormatValue(tr.Value, f),
			Value:    tr.Value,
		})
	}
	return out
}

// buildTicks produces the footer axis: pinned edge labels at the
// viewport's first and last instants, plus interior ticks on a 1-2-5
// spacing, dropping any interior tick close enough to an edge label to
// collide with it.
func buildTicks(state State) []Tick {
	if state.Empty || !state.Viewport.Valid() {
		return nil
	}
	width := float64(state.CanvasWidthPx)

	ticks := []Tick{
		{TimeNs: state.Viewport.Start, XPx: 0, Label: formatTick(state.Viewport.Start), Edge: true},
	}

	step := wavetime.TickSpacing(state.Viewport.Len(), rulerTargetTicks)
	if step > 0 {
		first := (state.Viewport.Start / step) * step
		if first < state.Viewport.Start {
			first += step
		}
		for t := first; t <= state.Viewport.End; t += step {
			x := pxOf(state, t)
			if x < edgeLabelClearancePx || x > width-edgeLabelClearancePx {
				continue
			}
			ticks = append(ticks, Tick{TimeNs: t, XPx: x, Label: formatTick(t)})
		}
	}

	ticks = append(ticks, Tick{TimeNs: state.Viewport.End, XPx: width, Label: formatTick(state.Viewport.End), Edge: true})
	return ticks
}

// formatTick renders a timestamp in the largest whole unit it divides
// cleanly into, so axes read "2us" rather than "2000ns" where possible.
func formatTick(t wavetime.TimeNs) string {
	v := uint64(t)
	switch {
	case v == 0:
		return "0"
	case v%1_000_000_000 == 0:
		return fmt.Sprintf("%ds", v/1_000_000_000)
	case v%1_000_000 == 0:
		return fmt.Sprintf("%dms", v/1_000_000)
	case v%1_000 == 0:
		return fmt.Sprintf("%dus", v/1_000)
	default:
		return fmt.Sprintf("%dns", v)
	}
}
