// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package timeline

import (
	"testing"

	"github.com/novywave/novywave-core/internal/selectedvariables"
	"github.com/novywave/novywave-core/internal/waveform"
	"github.com/novywave/novywave-core/pkg/wavetime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderState(start, end wavetime.TimeNs, widthPx uint32) State {
	s := State{
		Viewport:       wavetime.Range{Start: start, End: end},
		CanvasWidthPx:  widthPx,
		CanvasHeightPx: 400,
	}
	s.NsPerPixel = wavetime.NsPerPixelOf(s.Viewport, widthPx)
	return s
}

func schedulerWithSeries(vid waveform.VariableID, ts []waveform.Transition) *Scheduler {
	s := NewScheduler(newFakeBackend(), 4, make(chan unifiedResult, 1), make(chan cursorResult, 1))
	s.mu.Lock()
	s.series[vid] = SeriesSnapshot{Status: SeriesLoaded, Transitions: ts}
	s.mu.Unlock()
	return s
}

// TestOneNanosecondPulseRendersAtLeastOnePixel mirrors the digital-pulse
// scenario: clk transitions 0->1, 10->0, 11->1, 20->0 viewed over [0,20]
// at 0.2 ns/px. The 11->1 pulse is 1 ns wide and must still produce a
// rectangle at least 1 px wide.
func TestOneNanosecondPulseRendersAtLeastOnePixel(t *testing.T) {
	vid := waveform.NewVariableID("/tmp/a.vcd", "top", "clk")
	ts := []waveform.Transition{
		{TimeNs: 0, Value: waveform.Value{Bits: "1"}},
		{TimeNs: 10, Value: waveform.Value{Bits: "0"}},
		{TimeNs: 11, Value: waveform.Value{Bits: "1"}},
		{TimeNs: 20, Value: waveform.Value{Bits: "0"}},
	}
	state := renderState(0, 20, 100)
	sched := schedulerWithSeries(vid, ts)
	sel := []selectedvariables.Selection{{VariableID: vid, Formatter: waveform.FormatterBin}}

	snap := assembleRender(state, sel, sched, "dark")
	require.Len(t, snap.Variables, 1)
	rects := snap.Variables[0].Rects
	require.Len(t, rects, 4)
	for _, r := range rects {
		assert.GreaterOrEqual(t, r.XEndPx-r.XStartPx, 1.0)
	}
}

func TestSpecialStatesMapToRectKindsAndGaps(t *testing.T) {
	vid := waveform.NewVariableID("/tmp/a.vcd", "top", "bus")
	ts := []waveform.Transition{
		{TimeNs: 0, Value: waveform.Value{Bits: "0"}},
		{TimeNs: 100, Value: waveform.Value{Special: waveform.SpecialHighZ}},
		{TimeNs: 200, Value: waveform.Value{Special: waveform.SpecialUnknown}},
		{TimeNs: 300, Value: waveform.Value{Special: waveform.SpecialNoData}},
		{TimeNs: 400, Value: waveform.Value{Special: waveform.SpecialUninitialized}},
	}
	state := renderState(0, 500, 500)
	sched := schedulerWithSeries(vid, ts)
	sel := []selectedvariables.Selection{{VariableID: vid, Formatter: waveform.FormatterHex}}

	snap := assembleRender(state, sel, sched, "dark")
	require.Len(t, snap.Variables, 1)
	rects := snap.Variables[0].Rects

	// The N/A span produces no rectangle: 5 transitions, 4 rects.
	require.Len(t, rects, 4)
	assert.Equal(t, RectValue, rects[0].Kind)
	assert.Equal(t, RectHighZ, rects[1].Kind)
	assert.Equal(t, RectUnknown, rects[2].Kind)
	assert.Equal(t, RectUnknown, rects[3].Kind) // U draws like X: full-height block
}

func TestAlternatingRowsAcrossSelectedVariables(t *testing.T) {
	a := waveform.NewVariableID("/tmp/a.vcd", "top", "a")
	b := waveform.NewVariableID("/tmp/a.vcd", "top", "b")
	c := waveform.NewVariableID("/tmp/a.vcd", "top", "c")
	state := renderState(0, 1000, 100)
	sched := schedulerWithSeries(a, []waveform.Transition{{TimeNs: 0, Value: waveform.Value{Bits: "1"}}})
	sel := []selectedvariables.Selection{
		{VariableID: a}, {VariableID: b}, {VariableID: c},
	}

	snap := assembleRender(state, sel, sched, "dark")
	require.Len(t, snap.Variables, 3)
	assert.False(t, snap.Variables[0].AltRow)
	assert.True(t, snap.Variables[1].AltRow)
	assert.False(t, snap.Variables[2].AltRow)
}

func TestTickAxisPinsEdgesWithoutCollisions(t *testing.T) {
	state := renderState(0, 10_000, 1000)
	sched := schedulerWithSeries("v", nil)

	snap := assembleRender(state, nil, sched, "dark")
	ticks := snap.Ticks
	require.GreaterOrEqual(t, len(ticks), 2)

	assert.True(t, ticks[0].Edge)
	assert.Equal(t, 0.0, ticks[0].XPx)
	assert.True(t, ticks[len(ticks)-1].Edge)
	assert.Equal(t, 1000.0, ticks[len(ticks)-1].XPx)

	for _, tk := range ticks[1 : len(ticks)-1] {
		assert.False(t, tk.Edge)
		assert.GreaterOrEqual(t, tk.XPx, float64(edgeLabelClearancePx))
		assert.LessOrEqual(t, tk.XPx, 1000.0-float64(edgeLabelClearancePx))
	}
}

func TestThemeChangeKeepsRenderGeneration(t *testing.T) {
	state := renderState(0, 1000, 100)
	state.Generation = 9
	sched := schedulerWithSeries("v", nil)

	dark := assembleRender(state, nil, sched, "dark")
	light := assembleRender(state, nil, sched, "light")
	assert.Equal(t, dark.RenderGeneration, light.RenderGeneration)
	assert.Equal(t, "light", light.Theme)
}

func TestEmptyStateSnapshotCarriesNoGeometry(t *testing.T) {
	state := emptyState(3, [2]uint32{800, 400})
	sched := schedulerWithSeries("v", nil)

	snap := assembleRender(state, nil, sched, "dark")
	assert.True(t, snap.State.Empty)
	assert.Empty(t, snap.Variables)
	assert.Empty(t, snap.Ticks)
	assert.Equal(t, -1.0, snap.CursorXPx)
}

func TestFormatTickUsesLargestWholeUnit(t *testing.T) {
	assert.Equal(t, "0", formatTick(0))
	assert.Equal(t, "7ns", formatTick(7))
	assert.Equal(t, "2us", formatTick(2_000))
	assert.Equal(t, "3ms", formatTick(3_000_000))
	assert.Equal(t, "1s", formatTick(1_000_000_000))
}
