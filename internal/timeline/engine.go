// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package timeline

import (
	"github.com/novywave/novywave-core/internal/selectedvariables"
	"github.com/novywave/novywave-core/internal/trackedfiles"
	"github.com/novywave/novywave-core/internal/waveform"
	"github.com/novywave/novywave-core/pkg/reactive"
	"github.com/novywave/novywave-core/pkg/wavetime"
)

// Engine is the timeline engine: it owns cursor/viewport
// /zoom state, consumes the tracked-files and selected-variables domains,
// drives the Scheduler's backend queries, and publishes render-ready
// snapshots. Exactly one goroutine (run) ever touches state or bounds;
// the scheduler's caches are also read and written by its own timer and
// fetch goroutines, under its mutexes. Every other goroutine interacts with the
// engine only through its input relays, matching
// internal/trackedfiles.Domain and internal/selectedvariables.Domain's
// single-owning-loop shape.
type Engine struct {
	selected  *selectedvariables.Domain
	files     *trackedfiles.Domain
	scheduler *Scheduler

	canvasClicked      *reactive.Relay[wavetime.TimeNs]
	canvasHoverMoved   *reactive.Relay[wavetime.TimeNs]
	canvasHoverLeft    *reactive.Relay[struct{}]
	zoomInPressed      *reactive.Relay[bool] // payload: shift held
	zoomOutPressed     *reactive.Relay[bool]
	panLeftPressed     *reactive.Relay[bool]
	panRightPressed    *reactive.Relay[bool]
	cursorLeftPressed  *reactive.Relay[bool]
	cursorRightPressed *reactive.Relay[bool]
	zoomCenterHome     *reactive.Relay[struct{}]
	resetPressed       *reactive.Relay[struct{}]
	canvasResized      *reactive.Relay[[2]uint32]
	themeChanged       *reactive.Relay[string]

	stateCell  *reactive.Cell[State]
	stateOwner *reactive.Owner[State]

	renderOut *reactive.Relay[RenderSnapshot]

	unifiedResponses chan unifiedResult
	cursorResponses  chan cursorResult
}

// New constructs an Engine wired to the given tracked-files/selected-
// variables domains and backend client, and starts its owning loop.
func New(selected *selectedvariables.Domain, files *trackedfiles.Domain, backend BackendClient, canvasWidthPx, canvasHeightPx uint32) *Engine {
	unifiedCh := make(chan unifiedResult, 32)
	cursorCh := make(chan cursorResult, 32)

	e := &Engine{
		selected:  selected,
		files:     files,
		scheduler: NewScheduler(backend, 2, unifiedCh, cursorCh),

		canvasClicked:      reactive.NewRelay[wavetime.TimeNs]("canvas_clicked"),
		canvasHoverMoved:   reactive.NewRelay[wavetime.TimeNs]("canvas_hover_moved"),
		canvasHoverLeft:    reactive.NewRelay[struct{}]("canvas_hover_left"),
		zoomInPressed:      reactive.NewRelay[bool]("zoom_in_pressed"),
		zoomOutPressed:     reactive.NewRelay[bool]("zoom_out_pressed"),
		panLeftPressed:     reactive.NewRelay[bool]("pan_left_pressed"),
		panRightPressed:    reactive.NewRelay[bool]("pan_right_pressed"),
		cursorLeftPressed:  reactive.NewRelay[bool]("cursor_nudge_left_pressed"),
		cursorRightPressed: reactive.NewRelay[bool]("cursor_nudge_right_pressed"),
		zoomCenterHome:     reactive.NewRelay[struct{}]("zoom_center_home_pressed"),
		resetPressed:       reactive.NewRelay[struct{}]("reset_pressed"),
		canvasResized:      reactive.NewRelay[[2]uint32]("canvas_resized"),
		themeChanged:       reactive.NewRelay[string]("theme_changed"),

		renderOut: reactive.NewRelay[RenderSnapshot]("render_state"),

		unifiedResponses: unifiedCh,
		cursorResponses:  cursorCh,
	}
	e.stateCell, e.stateOwner = reactive.NewCell(emptyState(0, [2]uint32{canvasWidthPx, canvasHeightPx}))

	go e.run(canvasWidthPx, canvasHeightPx)
	return e
}

// Public input surface. Each method is the sole call site for its
// relay's Send, satisfying pkg/reactive's single-producer invariant.
func (e *Engine) Click(ns wavetime.TimeNs)        { _ = e.canvasClicked.Send(ns) }
func (e *Engine) Hover(ns wavetime.TimeNs)        { _ = e.canvasHoverMoved.Send(ns) }
func (e *Engine) HoverLeave()                     { _ = e.canvasHoverLeft.Send(struct{}{}) }
func (e *Engine) ZoomIn(shift bool)               { _ = e.zoomInPressed.Send(shift) }
func (e *Engine) ZoomOut(shift bool)              { _ = e.zoomOutPressed.Send(shift) }
func (e *Engine) PanLeft(shift bool)              { _ = e.panLeftPressed.Send(shift) }
func (e *Engine) PanRight(shift bool)             { _ = e.panRightPressed.Send(shift) }
func (e *Engine) CursorStepLeft(shift bool)       { _ = e.cursorLeftPressed.Send(shift) }
func (e *Engine) CursorStepRight(shift bool)      { _ = e.cursorRightPressed.Send(shift) }
func (e *Engine) ZoomCenterHome()                 { _ = e.zoomCenterHome.Send(struct{}{}) }
func (e *Engine) Reset()                          { _ = e.resetPressed.Send(struct{}{}) }
func (e *Engine) Resize(widthPx, heightPx uint32) { _ = e.canvasResized.Send([2]uint32{widthPx, heightPx}) }
func (e *Engine) SetTheme(name string)            { _ = e.themeChanged.Send(name) }

// Render returns the stream of atomic render-state snapshots. Any
// number of consumers may subscribe.
func (e *Engine) Render() <-chan RenderSnapshot { return e.renderOut.Subscribe() }

// State returns the stream of raw viewport/cursor/zoom state, for
// consumers (e.g. the workspace-config writer) that only need to persist
// navigation fields rather than draw a frame.
func (e *Engine) State() <-chan State { return e.stateCell.Signal() }

func (e *Engine) run(canvasWidthPx, canvasHeightPx uint32) {
	clicked := e.canvasClicked.Subscribe()
	hoverMoved := e.canvasHoverMoved.Subscribe()
	hoverLeft := e.canvasHoverLeft.Subscribe()
	zoomIn := e.zoomInPressed.Subscribe()
	zoomOut := e.zoomOutPressed.Subscribe()
	panLeft := e.panLeftPressed.Subscribe()
	panRight := e.panRightPressed.Subscribe()
	cursorLeft := e.cursorLeftPressed.Subscribe()
	cursorRight := e.cursorRightPressed.Subscribe()
	zoomHome := e.zoomCenterHome.Subscribe()
	resetPressed := e.resetPressed.Subscribe()
	resized := e.canvasResized.Subscribe()
	themeCh := e.themeChanged.Subscribe()
	selEvents := e.selected.Events()
	fileEvents := e.files.Events()

	state := emptyState(0, [2]uint32{canvasWidthPx, canvasHeightPx})
	var bounds waveform.Bounds
	haveBounds := false
	theme := "dark"

	// preHoverZoomCenter is captured once on hover entry, not per hover
	// move, so leaving the canvas restores the center from before the
	// pointer came in rather than the second-to-last hover position.
	var preHoverZoomCenter wavetime.TimeNs
	hovering := false

	setState := func(next State) {
		state = next
		e.stateOwner.Set(state)
	}

	// publishRender is the single textual call-site into the render_state
	// relay; every branch below routes through it.
	publishRender := func() {
		_ = e.renderOut.Send(assembleRender(state, e.selected.Snapshot(), e.scheduler, theme))
	}

	recomputeBounds := func() {
		sel := e.selected.Snapshot()
		files := e.files.Snapshot()
		b, ok := ComputeBounds(sel, files)
		wasEmpty := state.Empty
		switch {
		case !ok:
			e.scheduler.Clear()
			haveBounds = false
			bounds = waveform.Bounds{}
			setState(emptyState(state.Generation+1, [2]uint32{state.CanvasWidthPx, state.CanvasHeightPx}))
		case wasEmpty:
			haveBounds = true
			bounds = b
			setState(resetTo(bounds, state.CanvasWidthPx, state.CanvasHeightPx, state.Generation+1))
			e.triggerAll(sel, files, state)
		default:
			haveBounds = true
			next := clamp(state, b)
			if b != bounds {
				next.Generation++
			}
			bounds = b
			setState(next)
			e.triggerAll(sel, files, state)
		}
		publishRender()
	}

	// Establish the initial empty/non-empty state against whatever
	// selection and tracked files already exist at construction time.
	recomputeBounds()

	for {
		select {
		case ns, ok := <-clicked:
			if !ok {
				return
			}
			if !haveBounds {
				continue
			}
			setState(applyClick(state, bounds, ns))
			e.triggerAll(e.selected.Snapshot(), e.files.Snapshot(), state)
			publishRender()

		case ns, ok := <-hoverMoved:
			if !ok {
				return
			}
			if !haveBounds {
				continue
			}
			if !hovering {
				preHoverZoomCenter = state.ZoomCenterNs
				hovering = true
			}
			setState(applyHover(state, bounds, ns))
			publishRender()

		case _, ok := <-hoverLeft:
			if !ok {
				return
			}
			if !haveBounds {
				continue
			}
			if hovering {
				hovering = false
				setState(applyHoverLeave(state, bounds, preHoverZoomCenter))
			}
			publishRender()

		case shift, ok := <-zoomIn:
			if !ok {
				return
			}
			if !haveBounds {
				continue
			}
			setState(applyZoom(state, bounds, true, shift))
			e.triggerAll(e.selected.Snapshot(), e.files.Snapshot(), state)
			publishRender()

		case shift, ok := <-zoomOut:
			if !ok {
				return
			}
			if !haveBounds {
				continue
			}
			setState(applyZoom(state, bounds, false, shift))
			e.triggerAll(e.selected.Snapshot(), e.files.Snapshot(), state)
			publishRender()

		case shift, ok := <-panLeft:
			if !ok {
				return
			}
			if !haveBounds {
				continue
			}
			setState(applyPan(state, bounds, true, shift))
			e.triggerAll(e.selected.Snapshot(), e.files.Snapshot(), state)
			publishRender()

		case shift, ok := <-panRight:
			if !ok {
				return
			}
			if !haveBounds {
				continue
			}
			setState(applyPan(state, bounds, false, shift))
			e.triggerAll(e.selected.Snapshot(), e.files.Snapshot(), state)
			publishRender()

		case shift, ok := <-cursorLeft:
			if !ok {
				return
			}
			if !haveBounds {
				continue
			}
			if shift {
				setState(e.jumpToNearestTransition(state, bounds, false))
			} else {
				setState(applyCursorStep(state, bounds, true))
			}
			e.triggerCursor(state)
			publishRender()

		case shift, ok := <-cursorRight:
			if !ok {
				return
			}
			if !haveBounds {
				continue
			}
			if shift {
				setState(e.jumpToNearestTransition(state, bounds, true))
			} else {
				setState(applyCursorStep(state, bounds, false))
			}
			e.triggerCursor(state)
			publishRender()

		case _, ok := <-zoomHome:
			if !ok {
				return
			}
			if !haveBounds {
				continue
			}
			next := state
			next.ZoomCenterNs = bounds.Min
			setState(clamp(next, bounds))
			publishRender()

		case name, ok := <-themeCh:
			if !ok {
				return
			}
			// Same generation on purpose: a theme change repaints, it never
			// refetches.
			theme = name
			publishRender()

		case _, ok := <-resetPressed:
			if !ok {
				return
			}
			if !haveBounds {
				continue
			}
			setState(resetTo(bounds, state.CanvasWidthPx, state.CanvasHeightPx, state.Generation+1))
			e.triggerAll(e.selected.Snapshot(), e.files.Snapshot(), state)
			publishRender()

		case sz, ok := <-resized:
			if !ok {
				return
			}
			next := state
			next.CanvasWidthPx, next.CanvasHeightPx = sz[0], sz[1]
			if haveBounds {
				next = clamp(next, bounds)
			}
			setState(next)
			if haveBounds {
				e.triggerAll(e.selected.Snapshot(), e.files.Snapshot(), state)
			}
			publishRender()

		case _, ok := <-selEvents:
			if !ok {
				return
			}
			recomputeBounds()

		case _, ok := <-fileEvents:
			if !ok {
				return
			}
			recomputeBounds()

		case r, ok := <-e.unifiedResponses:
			if !ok {
				return
			}
			e.scheduler.ApplyUnifiedResponse(r, state.Generation)
			publishRender()

		case r, ok := <-e.cursorResponses:
			if !ok {
				return
			}
			e.scheduler.ApplyCursorResponse(r, state.Generation)
			publishRender()
		}
	}
}

// triggerAll issues a backend fetch check for every non-missing selected
// variable, plus one coalesced cursor-value refresh.
func (e *Engine) triggerAll(sel []selectedvariables.Selection, files map[string]trackedfiles.FileState, state State) {
	for _, s := range sel {
		if s.Missing {
			continue
		}
		fb := files[canonicalPathOf(s.VariableID)].Bounds
		e.scheduler.Trigger(s.VariableID, state.Viewport, fb, state.NsPerPixel, state.CanvasWidthPx, state.Generation)
	}
	e.triggerCursor(state)
}

func (e *Engine) triggerCursor(state State) {
	sel := e.selected.Snapshot()
	vars := make([]waveform.VariableID, 0, len(sel))
	for _, s := range sel {
		if !s.Missing {
			vars = append(vars, s.VariableID)
		}
	}
	if len(vars) > 0 {
		e.scheduler.TriggerCursor(vars, state.CursorNs, state.Generation)
	}
}

// jumpToNearestTransition implements the Shift+Q/E contract: jump to the
// previous/next transition of the first non-missing selected variable
// that currently has a loaded series.
func (e *Engine) jumpToNearestTransition(state State, bounds waveform.Bounds, forward bool) State {
	series := e.scheduler.SeriesSnapshots()
	for _, s := range e.selected.Snapshot() {
		if s.Missing {
			continue
		}
		ss, ok := series[s.VariableID]
		if !ok || ss.Status != SeriesLoaded || len(ss.Transitions) == 0 {
			continue
		}
		return applyCursorJump(state, bounds, ss.Transitions, forward)
	}
	return state
}
