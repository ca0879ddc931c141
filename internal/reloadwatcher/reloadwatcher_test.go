// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package reloadwatcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/novywave/novywave-core/internal/trackedfiles"
	"github.com/novywave/novywave-core/internal/waveform"
	"github.com/stretchr/testify/require"
)

func TestWatchEmitsReloadRequestedOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "top.vcd")
	require.NoError(t, os.WriteFile(path, []byte("initial"), 0o644))

	tf := trackedfiles.New()
	events := tf.Events()
	tf.SetState(path, trackedfiles.FileState{CanonicalPath: path, DisplayPath: "top.vcd", Format: waveform.FormatVCD})
	drain(t, events) // FileAdded
	drain(t, events) // BoundsChanged

	w, err := New(tf)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch(path, "top.vcd"))

	require.NoError(t, os.WriteFile(path, []byte("changed"), 0o644))

	ev := drain(t, events)
	require.Equal(t, trackedfiles.FileStateChanged, ev.Kind)
	require.Equal(t, waveform.StateParsing, ev.State.State)
}

func TestUnwatchStopsFurtherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "top.vcd")
	require.NoError(t, os.WriteFile(path, []byte("initial"), 0o644))

	tf := trackedfiles.New()
	events := tf.Events()
	tf.SetState(path, trackedfiles.FileState{CanonicalPath: path, DisplayPath: "top.vcd"})
	drain(t, events)
	drain(t, events)

	w, err := New(tf)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch(path, "top.vcd"))
	w.Unwatch(path)

	require.NoError(t, os.WriteFile(path, []byte("changed"), 0o644))

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %v after Unwatch", ev.Kind)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestScheduleReloadDebouncesRapidWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "top.vcd")
	require.NoError(t, os.WriteFile(path, []byte("initial"), 0o644))

	tf := trackedfiles.New()
	events := tf.Events()
	tf.SetState(path, trackedfiles.FileState{CanonicalPath: path, DisplayPath: "top.vcd"})
	drain(t, events)
	drain(t, events)

	w, err := New(tf)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch(path, "top.vcd"))

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("burst"), 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	ev := drain(t, events)
	require.Equal(t, trackedfiles.FileStateChanged, ev.Kind)

	select {
	case extra := <-events:
		t.Fatalf("unexpected second reload %v: writes should have debounced into one", extra.Kind)
	case <-time.After(debounce + 100*time.Millisecond):
	}
}

func drain(t *testing.T, ch <-chan trackedfiles.Event) trackedfiles.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tracked-files event")
		return trackedfiles.Event{}
	}
}
