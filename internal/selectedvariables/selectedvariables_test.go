// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package selectedvariables

import (
	"testing"
	"time"

	"github.com/novywave/novywave-core/internal/trackedfiles"
	"github.com/novywave/novywave-core/internal/waveform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	fileA = "/tmp/a.vcd"
	fileB = "/tmp/b.vcd"
)

func clkID(file string) waveform.VariableID { return waveform.NewVariableID(file, "top", "clk") }
func tmpID(file string) waveform.VariableID { return waveform.NewVariableID(file, "top", "tmp") }

func drainEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for selected-variables event")
		return Event{}
	}
}

func TestClickAddsVariableOnceWithDefaultFormatter(t *testing.T) {
	d := New(nil)
	events := d.Events()

	d.Click(clkID(fileA))
	ev := drainEvent(t, events)
	assert.Equal(t, VariableClicked, ev.Kind)
	assert.Equal(t, waveform.FormatterHex, ev.Variable.Formatter)

	d.Click(clkID(fileA)) // duplicate click is a no-op
	select {
	case extra := <-events:
		t.Fatalf("unexpected duplicate-click event %v", extra.Kind)
	case <-time.After(50 * time.Millisecond):
	}

	assert.Len(t, d.Snapshot(), 1)
}

func TestSetFormatterUpdatesInPlace(t *testing.T) {
	d := New(nil)
	events := d.Events()

	d.Click(clkID(fileA))
	drainEvent(t, events)

	d.SetFormatter(clkID(fileA), waveform.FormatterBin)
	ev := drainEvent(t, events)
	assert.Equal(t, FormatChanged, ev.Kind)
	assert.Equal(t, waveform.FormatterBin, ev.Variable.Formatter)

	snap := d.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, waveform.FormatterBin, snap[0].Formatter)
}

func TestRemoveDropsOneVariable(t *testing.T) {
	d := New(nil)
	events := d.Events()

	d.Click(clkID(fileA))
	drainEvent(t, events)
	d.Click(tmpID(fileA))
	drainEvent(t, events)

	d.Remove(clkID(fileA))
	ev := drainEvent(t, events)
	assert.Equal(t, VariableRemoved, ev.Kind)

	snap := d.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, tmpID(fileA), snap[0].VariableID)
}

func TestClearAllEmptiesSelection(t *testing.T) {
	d := New(nil)
	events := d.Events()

	d.Click(clkID(fileA))
	drainEvent(t, events)
	d.Click(clkID(fileB))
	drainEvent(t, events)

	d.ClearAll()
	ev := drainEvent(t, events)
	assert.Equal(t, ClearAllClicked, ev.Kind)
	assert.Empty(t, d.Snapshot())
}

func TestReconcileAfterReloadMarksMissingWithoutDroppingSelection(t *testing.T) {
	// File a.vcd with top.clk and top.tmp selected;
	// after reload top.tmp no longer exists. Selection length is
	// unchanged; top.clk normal, top.tmp marked missing.
	d := New(nil)
	events := d.Events()

	d.Click(clkID(fileA))
	drainEvent(t, events)
	d.Click(tmpID(fileA))
	drainEvent(t, events)

	stillExists := func(id waveform.VariableID) bool { return id == clkID(fileA) }
	d.ReconcileAfterReload(fileA, stillExists)

	snap := d.Snapshot()
	require.Len(t, snap, 2)
	byID := map[waveform.VariableID]Selection{}
	for _, s := range snap {
		byID[s.VariableID] = s
	}
	assert.False(t, byID[clkID(fileA)].Missing)
	assert.True(t, byID[tmpID(fileA)].Missing)
}

func TestReconcileAfterReloadClearsMissingWhenVariableReturns(t *testing.T) {
	d := New(nil)
	events := d.Events()

	d.Click(tmpID(fileA))
	drainEvent(t, events)

	d.ReconcileAfterReload(fileA, func(waveform.VariableID) bool { return false })
	d.ReconcileAfterReload(fileA, func(waveform.VariableID) bool { return true })

	snap := d.Snapshot()
	require.Len(t, snap, 1)
	assert.False(t, snap[0].Missing)
}

func TestFileRemovalCascadesSelectionRemoval(t *testing.T) {
	tf := trackedfiles.New()
	d := New(tf.Events())

	d.Click(clkID(fileA))
	d.Click(clkID(fileB))
	require.Eventually(t, func() bool { return len(d.Snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	tf.SetState(fileA, trackedfiles.FileState{CanonicalPath: fileA})
	tf.RemoveFile(fileA)

	require.Eventually(t, func() bool {
		snap := d.Snapshot()
		return len(snap) == 1 && snap[0].VariableID == clkID(fileB)
	}, time.Second, 5*time.Millisecond)
}
