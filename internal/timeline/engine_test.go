// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package timeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/novywave/novywave-core/internal/selectedvariables"
	"github.com/novywave/novywave-core/internal/signalservice"
	"github.com/novywave/novywave-core/internal/trackedfiles"
	"github.com/novywave/novywave-core/internal/waveform"
	"github.com/novywave/novywave-core/pkg/wavetime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a BackendClient test double that counts UnifiedQuery
// calls per variable and serves back transitions synthesized from its
// store, used to exercise the scheduler's coverage/debounce logic
// without a real signalservice.Service.
type fakeBackend struct {
	mu           sync.Mutex
	queryCount   map[waveform.VariableID]int
	transitionsFn func(canonicalPath string, v waveform.VariableID, start, end wavetime.TimeNs) []waveform.Transition
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{queryCount: make(map[waveform.VariableID]int)}
}

func (f *fakeBackend) UnifiedQuery(_ context.Context, canonicalPath string, variables []waveform.VariableID, start, end wavetime.TimeNs, _ uint32) []signalservice.VariableResult {
	out := make([]signalservice.VariableResult, len(variables))
	for i, v := range variables {
		f.mu.Lock()
		f.queryCount[v]++
		f.mu.Unlock()
		var ts []waveform.Transition
		if f.transitionsFn != nil {
			ts = f.transitionsFn(canonicalPath, v, start, end)
		}
		out[i] = signalservice.VariableResult{VariableID: v, Transitions: ts, Empty: len(ts) == 0}
	}
	return out
}

func (f *fakeBackend) CursorValues(_ context.Context, _ string, variables []waveform.VariableID, cursorNs wavetime.TimeNs) []signalservice.CursorValue {
	out := make([]signalservice.CursorValue, len(variables))
	for i, v := range variables {
		out[i] = signalservice.CursorValue{VariableID: v, Value: waveform.Value{Bits: "1"}}
	}
	return out
}

func (f *fakeBackend) count(v waveform.VariableID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queryCount[v]
}

func drainRender(t *testing.T, ch <-chan RenderSnapshot) RenderSnapshot {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for render snapshot")
		return RenderSnapshot{}
	}
}

func drainRenderUntil(t *testing.T, ch <-chan RenderSnapshot, pred func(RenderSnapshot) bool) RenderSnapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case r := <-ch:
			if pred(r) {
				return r
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching render snapshot")
			return RenderSnapshot{}
		}
	}
}

func setupEngine(t *testing.T, backend BackendClient) (*Engine, *trackedfiles.Domain, *selectedvariables.Domain) {
	t.Helper()
	files := trackedfiles.New()
	selected := selectedvariables.New(files.Events())
	e := New(selected, files, backend, 1000, 400)
	return e, files, selected
}

func trackFile(t *testing.T, files *trackedfiles.Domain, path string, bounds waveform.Bounds) {
	t.Helper()
	events := files.Events()
	require.NoError(t, files.FileDropped.Send(trackedfiles.FileDropped{CanonicalPath: path, DisplayPath: path, Format: waveform.FormatVCD}))
	<-events // file_added
	<-events // bounds_changed (zero bounds)
	files.SetState(path, trackedfiles.FileState{CanonicalPath: path, State: waveform.StateBodyLoaded, Bounds: bounds})
}

func TestEmptySelectionYieldsEmptyState(t *testing.T) {
	e, _, _ := setupEngine(t, newFakeBackend())
	render := e.Render()
	r := drainRender(t, render)
	assert.True(t, r.State.Empty)
	assert.Empty(t, r.Variables)
}

func TestSelectingVariableEntersNonEmptyStateAtFileBounds(t *testing.T) {
	backend := newFakeBackend()
	e, files, selected := setupEngine(t, backend)
	render := e.Render()
	drainRender(t, render) // initial empty snapshot

	trackFile(t, files, "/tmp/a.vcd", waveform.Bounds{Min: 0, Max: 1_000_000})
	vid := waveform.NewVariableID("/tmp/a.vcd", "top", "clk")
	selected.Click(vid)

	r := drainRenderUntil(t, render, func(r RenderSnapshot) bool { return !r.State.Empty })
	assert.Equal(t, wavetime.TimeNs(0), r.State.Viewport.Start)
	assert.Equal(t, wavetime.TimeNs(1_000_000), r.State.Viewport.End)
	assert.Equal(t, wavetime.TimeNs(0), r.State.CursorNs)
	require.Len(t, r.Variables, 1)
	assert.Equal(t, vid, r.Variables[0].VariableID)
}

func TestClampKeepsViewportWithinBounds(t *testing.T) {
	bounds := waveform.Bounds{Min: 100, Max: 200}
	s := State{Viewport: wavetime.Range{Start: 0, End: 50}, CanvasWidthPx: 10}
	out := clamp(s, bounds)
	assert.True(t, out.Viewport.Start >= bounds.Min)
	assert.True(t, out.Viewport.End <= bounds.Max)
	assert.True(t, out.Viewport.Valid())
}

func TestClampKeepsCursorAndZoomCenterContained(t *testing.T) {
	bounds := waveform.Bounds{Min: 0, Max: 1000}
	s := State{
		Viewport:      wavetime.Range{Start: 200, End: 800},
		CursorNs:      5000,
		ZoomCenterNs:  5000,
		CanvasWidthPx: 100,
	}
	out := clamp(s, bounds)
	assert.Equal(t, wavetime.TimeNs(1000), out.CursorNs)
	assert.True(t, out.ZoomCenterNs <= out.Viewport.End)
}

func TestResetRestoresBoundsAndZeroesCursor(t *testing.T) {
	bounds := waveform.Bounds{Min: 50, Max: 5000}
	s := resetTo(bounds, 200, 100, 7)
	assert.Equal(t, bounds.Min, s.Viewport.Start)
	assert.Equal(t, bounds.Max, s.Viewport.End)
	assert.Equal(t, bounds.Min, s.CursorNs)
	assert.Equal(t, bounds.Min, s.ZoomCenterNs)
	assert.Equal(t, uint64(7), s.Generation)
}

// TestOverlapAwarePanAvoidsFullRefetch mirrors the canonical pan
// scenario: query [0,1000], then pan to [200,1200]. The first fetch
// covered the enlarged range [0,1250], so the new viewport is fully
// covered (above the 80% threshold) and at most an edge request for the
// uncovered tail of the new enlarged range should go out, never a second
// full-range request.
func TestOverlapAwarePanAvoidsFullRefetch(t *testing.T) {
	backend := newFakeBackend()
	backend.transitionsFn = func(_ string, _ waveform.VariableID, start, end wavetime.TimeNs) []waveform.Transition {
		return []waveform.Transition{{TimeNs: start}, {TimeNs: end - 1}}
	}
	s := NewScheduler(backend, 4, make(chan unifiedResult, 8), make(chan cursorResult, 8))
	vid := waveform.NewVariableID("/tmp/a.vcd", "top", "clk")
	bounds := waveform.Bounds{Min: 0, Max: 10_000}

	// First trigger: nothing cached, full fetch over the enlarged range.
	s.Trigger(vid, wavetime.Range{Start: 0, End: 1000}, bounds, 1, 1000, 1)
	time.Sleep(150 * time.Millisecond)

	resp := <-s.unifiedResponses
	s.ApplyUnifiedResponse(resp, 1)
	assert.False(t, resp.edgeOnly)

	// Second trigger: pan to [200,1200]. All of it lies inside the first
	// fetch's range [0,1250]; only [1250,1450] of the new enlarged range
	// is uncovered.
	s.Trigger(vid, wavetime.Range{Start: 200, End: 1200}, bounds, 1, 1000, 1)
	time.Sleep(150 * time.Millisecond)

	select {
	case resp2 := <-s.unifiedResponses:
		assert.True(t, resp2.edgeOnly, "pan with >=80%% coverage must only issue an edge-only fetch")
	case <-time.After(500 * time.Millisecond):
		// No second request at all is also an acceptable outcome if the
		// enlarged range was already fully covered by the first fetch.
	}

	assert.LessOrEqual(t, backend.count(vid), 2)
}

func TestGenerationDiscardsStaleResponse(t *testing.T) {
	backend := newFakeBackend()
	s := NewScheduler(backend, 4, make(chan unifiedResult, 4), make(chan cursorResult, 4))
	vid := waveform.NewVariableID("/tmp/a.vcd", "top", "clk")

	stale := unifiedResult{
		generation: 1,
		key:        WindowKey{Variable: vid, LodBucket: 1, Range: wavetime.Range{Start: 0, End: 100}},
		results:    []signalservice.VariableResult{{VariableID: vid, Transitions: []waveform.Transition{{TimeNs: 10}}}},
	}
	s.ApplyUnifiedResponse(stale, 5)

	snap := s.SeriesSnapshots()
	_, ok := snap[vid]
	assert.False(t, ok, "a response whose generation lags the current one must not be applied")
}

func TestHoverLeaveRestoresPreHoverZoomCenter(t *testing.T) {
	backend := newFakeBackend()
	e, files, selected := setupEngine(t, backend)
	render := e.Render()
	drainRender(t, render)

	trackFile(t, files, "/tmp/a.vcd", waveform.Bounds{Min: 0, Max: 1_000_000})
	selected.Click(waveform.NewVariableID("/tmp/a.vcd", "top", "clk"))
	drainRenderUntil(t, render, func(r RenderSnapshot) bool { return !r.State.Empty })

	e.Hover(600_000)
	e.Hover(700_000)
	drainRenderUntil(t, render, func(r RenderSnapshot) bool { return r.State.ZoomCenterNs == 700_000 })

	// Leaving restores the center from before the pointer entered the
	// canvas (0), not the second-to-last hover position (600_000).
	e.HoverLeave()
	r := drainRenderUntil(t, render, func(r RenderSnapshot) bool { return r.State.ZoomCenterNs != 700_000 })
	assert.Equal(t, wavetime.TimeNs(0), r.State.ZoomCenterNs)
}

func TestZoomCenterHomeMovesCenterToBoundsMin(t *testing.T) {
	backend := newFakeBackend()
	e, files, selected := setupEngine(t, backend)
	render := e.Render()
	drainRender(t, render)

	trackFile(t, files, "/tmp/a.vcd", waveform.Bounds{Min: 0, Max: 1_000_000})
	selected.Click(waveform.NewVariableID("/tmp/a.vcd", "top", "clk"))
	drainRenderUntil(t, render, func(r RenderSnapshot) bool { return !r.State.Empty })

	e.Hover(500_000)
	drainRenderUntil(t, render, func(r RenderSnapshot) bool { return r.State.ZoomCenterNs == 500_000 })

	e.ZoomCenterHome()
	r := drainRenderUntil(t, render, func(r RenderSnapshot) bool { return r.State.ZoomCenterNs == 0 })
	assert.False(t, r.State.Empty)
}

func TestThemeChangeRepublishesWithSameGeneration(t *testing.T) {
	e, _, _ := setupEngine(t, newFakeBackend())
	render := e.Render()
	first := drainRender(t, render)

	e.SetTheme("light")
	r := drainRenderUntil(t, render, func(r RenderSnapshot) bool { return r.Theme == "light" })
	assert.Equal(t, first.RenderGeneration, r.RenderGeneration)
}

func TestCursorMutationsLeaveGenerationUnchanged(t *testing.T) {
	bounds := waveform.Bounds{Min: 0, Max: 1000}
	s := resetTo(bounds, 100, 50, 4)

	stepped := applyCursorStep(s, bounds, false)
	assert.Equal(t, s.Generation, stepped.Generation)

	clicked := applyClick(s, bounds, 500)
	assert.Equal(t, s.Generation, clicked.Generation)

	panned := applyPan(s, bounds, false, false)
	assert.Equal(t, s.Generation+1, panned.Generation)
}

func TestReconcileMissingPreservesSelectionOnReload(t *testing.T) {
	backend := newFakeBackend()
	e, files, selected := setupEngine(t, backend)
	render := e.Render()
	drainRender(t, render)

	trackFile(t, files, "/tmp/a.vcd", waveform.Bounds{Min: 0, Max: 1000})
	vid := waveform.NewVariableID("/tmp/a.vcd", "top", "clk")
	selected.Click(vid)
	drainRenderUntil(t, render, func(r RenderSnapshot) bool { return !r.State.Empty })

	selected.ReconcileAfterReload("/tmp/a.vcd", func(waveform.VariableID) bool { return false })
	require.Len(t, selected.Snapshot(), 1)
	assert.True(t, selected.Snapshot()[0].Missing)
}
