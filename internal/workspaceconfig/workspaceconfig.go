// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package workspaceconfig persists the workspace-local fields —
// theme/dock mode, tracked files, scope expansion, selected variables,
// and timeline state — to a `workspace.toml` at the workspace root,
// with a debounced writer so navigation-heavy mutation bursts coalesce
// into one save.
package workspaceconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/novywave/novywave-core/pkg/wavelog"
	"github.com/novywave/novywave-core/pkg/wavetime"
	"github.com/pelletier/go-toml/v2"
)

var log = wavelog.Component("workspaceconfig")

// SelectedVariable is the on-disk form of one selection entry.
type SelectedVariable struct {
	ID        string `toml:"id"`
	Formatter string `toml:"formatter"`
}

// PanelDims holds the persisted width/height for one dock mode's panel
// layout.
type PanelDims struct {
	Width  int `toml:"width"`
	Height int `toml:"height"`
}

// Workspace is the full contents of workspace.toml.
type Workspace struct {
	WorkspaceSection struct {
		Theme    string `toml:"theme"`
		DockMode string `toml:"dock_mode"`
	} `toml:"workspace"`

	Files struct {
		TrackedFiles []string `toml:"tracked_files"`
	} `toml:"files"`

	Scope struct {
		SelectedScopeID string   `toml:"selected_scope_id"`
		ExpandedScopes  []string `toml:"expanded_scopes"`
	} `toml:"scope"`

	Variables struct {
		SelectedVariables []SelectedVariable `toml:"selected_variables"`
	} `toml:"variables"`

	Timeline struct {
		CursorPositionNs    uint64 `toml:"cursor_position_ns"`
		VisibleRangeStartNs uint64 `toml:"visible_range_start_ns"`
		VisibleRangeEndNs   uint64 `toml:"visible_range_end_ns"`
		ZoomCenterNs        uint64 `toml:"zoom_center_ns"`
		ZoomLevel           float64 `toml:"zoom_level"`
	} `toml:"timeline"`

	Panels map[string]PanelDims `toml:"panels"`
}

// CursorPosition returns the persisted cursor as a TimeNs.
func (w *Workspace) CursorPosition() wavetime.TimeNs {
	return wavetime.TimeNs(w.Timeline.CursorPositionNs)
}

// VisibleRange returns the persisted viewport as a wavetime.Range.
func (w *Workspace) VisibleRange() wavetime.Range {
	return wavetime.Range{
		Start: wavetime.TimeNs(w.Timeline.VisibleRangeStartNs),
		End:   wavetime.TimeNs(w.Timeline.VisibleRangeEndNs),
	}
}

func fileName(workspaceRoot string) string { return filepath.Join(workspaceRoot, "workspace.toml") }

// Load reads workspace.toml from root, returning a zero-value Workspace
// if the file does not exist yet.
func Load(workspaceRoot string) (*Workspace, error) {
	w := &Workspace{}
	data, err := os.ReadFile(fileName(workspaceRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return w, nil
		}
		return nil, fmt.Errorf("workspaceconfig: reading workspace.toml: %w", err)
	}
	if err := toml.Unmarshal(data, w); err != nil {
		return nil, fmt.Errorf("workspaceconfig: parsing workspace.toml: %w", err)
	}
	return w, nil
}

// Save writes w back to workspaceRoot/workspace.toml, overwriting any
// prior contents.
func Save(workspaceRoot string, w *Workspace) error {
	data, err := toml.Marshal(w)
	if err != nil {
		return fmt.Errorf("workspaceconfig: marshaling workspace.toml: %w", err)
	}
	if err := os.WriteFile(fileName(workspaceRoot), data, 0o644); err != nil {
		return fmt.Errorf("workspaceconfig: writing workspace.toml: %w", err)
	}
	return nil
}

// Field classifies a mutation by which debounce bucket it belongs to:
// 500 ms for panel/dialog mutations, 1000 ms for the
// timeline-navigation-heavy fields.
type Field int

const (
	FieldPanelOrDialog Field = iota
	FieldTimelineNavigation
)

const (
	panelDebounce    = 500 * time.Millisecond
	timelineDebounce = 1000 * time.Millisecond
)

// Writer debounces and coalesces workspace.toml writes: repeated Mutate
// calls within the debounce window collapse into a single Save.
type Writer struct {
	workspaceRoot string

	mu      sync.Mutex
	current *Workspace
	timer   *time.Timer
	pending Field
}

// NewWriter loads the current workspace.toml (or a zero-value Workspace)
// and returns a Writer ready to accept mutations.
func NewWriter(workspaceRoot string) (*Writer, error) {
	w, err := Load(workspaceRoot)
	if err != nil {
		return nil, err
	}
	return &Writer{workspaceRoot: workspaceRoot, current: w}, nil
}

// Mutate applies fn to the in-memory workspace and schedules a debounced
// save. field selects which debounce window governs this mutation; if a
// save is already pending, the longer of the two windows wins so a rapid
// mix of panel and timeline edits never starves the slower bucket.
func (wr *Writer) Mutate(field Field, fn func(*Workspace)) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	fn(wr.current)

	if wr.timer != nil {
		if field > wr.pending {
			wr.pending = field
		}
	} else {
		wr.pending = field
	}
	delay := panelDebounce
	if wr.pending == FieldTimelineNavigation {
		delay = timelineDebounce
	}
	if wr.timer != nil {
		wr.timer.Reset(delay)
		return
	}
	wr.timer = time.AfterFunc(delay, wr.flush)
}

func (wr *Writer) flush() {
	wr.mu.Lock()
	snapshot := *wr.current
	wr.timer = nil
	wr.mu.Unlock()

	if err := Save(wr.workspaceRoot, &snapshot); err != nil {
		log.Warnf("debounced save failed for %s: %s", wr.workspaceRoot, err)
	}
}

// Flush forces any pending debounced save to happen immediately. Intended
// for clean shutdown, where waiting out a 1000 ms debounce is undesirable.
func (wr *Writer) Flush() {
	wr.mu.Lock()
	timer := wr.timer
	wr.mu.Unlock()
	if timer != nil && timer.Stop() {
		wr.flush()
	}
}

// Snapshot returns a copy of the in-memory workspace as currently staged
// (including not-yet-flushed mutations).
func (wr *Writer) Snapshot() Workspace {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	return *wr.current
}
