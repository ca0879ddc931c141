// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package globalstate persists the cross-workspace state file: the last
// selected workspace, a capped recent-workspaces list, and the
// workspace-history picker's tree-expansion and scroll position. Unlike
// internal/workspaceconfig this file lives outside any workspace
// (~/.config/novywave/state.json) and is plain JSON, decoded the same
// way internal/appconfig decodes its config.
//
// Picker state is only written on an explicit settled event (dialog
// closed), never while a restore is replaying expansion state into the
// picker — restore and snapshot emission racing each other is exactly the
// failure mode that discipline exists to avoid.
package globalstate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/novywave/novywave-core/pkg/reactive"
	"github.com/novywave/novywave-core/pkg/wavelog"
)

var log = wavelog.Component("globalstate")

// maxRecent caps the recent-workspaces list.
const maxRecent = 10

// State is the full contents of the global state file.
type State struct {
	LastSelected string   `json:"last_selected"`
	Recent       []string `json:"recent"`

	PickerExpanded  []string `json:"picker_expanded"`
	PickerScrollTop int      `json:"picker_scroll_top"`
}

// DefaultPath returns the conventional location of the global state file.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "novywave", "state.json")
}

// Load reads the state file at path, returning a zero-value State if it
// does not exist yet.
func Load(path string) (*State, error) {
	st := &State{}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return nil, fmt.Errorf("globalstate: reading %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(st); err != nil {
		return nil, fmt.Errorf("globalstate: parsing %s: %w", path, err)
	}
	return st, nil
}

// Save writes st to path, creating the parent directory if needed.
func Save(path string, st *State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("globalstate: creating %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("globalstate: marshaling: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("globalstate: writing %s: %w", path, err)
	}
	return nil
}

// PickerSnapshot is the picker's settled expansion/scroll state, emitted
// once per dialog close.
type PickerSnapshot struct {
	Expanded  []string
	ScrollTop int
}

// Store owns the in-memory global state and its persistence. Picker
// mutations arrive exclusively through the picker_settled relay; there is
// no method to write picker state directly, which is what keeps a
// restore-replay from racing its own snapshot back into the file.
type Store struct {
	path string

	mu      sync.Mutex
	current State

	pickerSettled *reactive.Relay[PickerSnapshot]
}

// NewStore loads (or initialises) the state file at path and starts the
// loop consuming picker_settled events.
func NewStore(path string) (*Store, error) {
	st, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{
		path:          path,
		current:       *st,
		pickerSettled: reactive.NewRelay[PickerSnapshot]("picker_settled"),
	}
	go s.run(s.pickerSettled.Subscribe())
	return s, nil
}

// Snapshot returns a copy of the current state. The restore path reads
// this to replay expansion into the picker; replaying never sends into
// the picker_settled relay, so nothing is written back during restore.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.current
	out.Recent = append([]string(nil), s.current.Recent...)
	out.PickerExpanded = append([]string(nil), s.current.PickerExpanded...)
	return out
}

// RecordWorkspace marks path as the last selected workspace, promoting it
// to the front of the capped recent list, and persists immediately —
// workspace switches are rare and losing one to a crash is worse than the
// extra write.
func (s *Store) RecordWorkspace(workspacePath string) {
	s.mu.Lock()
	s.current.LastSelected = workspacePath
	recent := make([]string, 0, maxRecent)
	recent = append(recent, workspacePath)
	for _, r := range s.current.Recent {
		if r == workspacePath || len(recent) == maxRecent {
			continue
		}
		recent = append(recent, r)
	}
	s.current.Recent = recent
	snapshot := s.current
	s.mu.Unlock()

	if err := Save(s.path, &snapshot); err != nil {
		log.Warnf("%s", err)
	}
}

// PickerSettled reports the picker's final expansion/scroll state once
// its dialog closes. This is the single mutation path for picker fields.
func (s *Store) PickerSettled(snap PickerSnapshot) {
	if err := s.pickerSettled.Send(snap); err != nil {
		log.Warnf("picker_settled: %s", err)
	}
}

func (s *Store) run(settled <-chan PickerSnapshot) {
	for snap := range settled {
		s.mu.Lock()
		s.current.PickerExpanded = append([]string(nil), snap.Expanded...)
		s.current.PickerScrollTop = snap.ScrollTop
		snapshot := s.current
		s.mu.Unlock()

		if err := Save(s.path, &snapshot); err != nil {
			log.Warnf("%s", err)
		}
	}
}

// Close stops the settled-event loop. Pending events already sent are
// processed before the loop exits.
func (s *Store) Close() { s.pickerSettled.Close() }
