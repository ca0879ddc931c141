// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package globalstate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "state.json")
}

func TestLoadMissingFileReturnsZeroValue(t *testing.T) {
	st, err := Load(statePath(t))
	require.NoError(t, err)
	assert.Empty(t, st.LastSelected)
	assert.Empty(t, st.Recent)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := statePath(t)
	in := &State{
		LastSelected:    "/work/a",
		Recent:          []string{"/work/a", "/work/b"},
		PickerExpanded:  []string{"/work", "/work/a"},
		PickerScrollTop: 120,
	}
	require.NoError(t, Save(path, in))

	out, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRecordWorkspacePromotesAndCapsRecent(t *testing.T) {
	path := statePath(t)
	s, err := NewStore(path)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < maxRecent+5; i++ {
		s.RecordWorkspace(filepath.Join("/work", string(rune('a'+i))))
	}
	s.RecordWorkspace("/work/a")

	snap := s.Snapshot()
	assert.Equal(t, "/work/a", snap.LastSelected)
	assert.Equal(t, "/work/a", snap.Recent[0])
	assert.LessOrEqual(t, len(snap.Recent), maxRecent)

	// The promoted entry must not also appear deeper in the list.
	count := 0
	for _, r := range snap.Recent {
		if r == "/work/a" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestPickerStateOnlyPersistsOnSettled(t *testing.T) {
	path := statePath(t)
	s, err := NewStore(path)
	require.NoError(t, err)
	defer s.Close()

	// Restore-replay reads the snapshot; nothing is written back.
	_ = s.Snapshot()
	onDisk, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, onDisk.PickerExpanded)

	s.PickerSettled(PickerSnapshot{Expanded: []string{"/work"}, ScrollTop: 42})

	require.Eventually(t, func() bool {
		onDisk, err := Load(path)
		return err == nil && onDisk.PickerScrollTop == 42
	}, 2*time.Second, 10*time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, []string{"/work"}, snap.PickerExpanded)
	assert.Equal(t, 42, snap.PickerScrollTop)
}
