// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package selectedvariables owns the selected-variables domain: a
// reactive sequence of (unique_id, formatter) pairs, with removal
// cascade when the owning file is removed and "missing" marking when a
// reload drops a variable that used to exist.
//
// Built on pkg/reactive.Sequence, consistent with internal/trackedfiles'
// use of pkg/reactive.Map — no shared mutable state outside the
// Cell/Sequence/Map/Relay substrate.
package selectedvariables

import (
	"strings"

	"github.com/novywave/novywave-core/internal/trackedfiles"
	"github.com/novywave/novywave-core/internal/waveform"
	"github.com/novywave/novywave-core/pkg/reactive"
)

// Selection is one entry of the selected-variables sequence.
type Selection struct {
	VariableID waveform.VariableID
	Formatter  waveform.Formatter
	Missing    bool // set when a reload no longer reports this variable
}

// EventKind names the four outbound notifications this domain
// publishes.
type EventKind int

const (
	VariableClicked EventKind = iota
	VariableRemoved
	FormatChanged
	ClearAllClicked
)

func (k EventKind) String() string {
	switch k {
	case VariableClicked:
		return "variable_clicked"
	case VariableRemoved:
		return "variable_removed"
	case FormatChanged:
		return "format_changed"
	case ClearAllClicked:
		return "clear_all_clicked"
	default:
		return "unknown"
	}
}

// Event is one domain notification, carrying the affected selection
// where relevant (empty VariableID for ClearAllClicked).
type Event struct {
	Kind     EventKind
	Variable Selection
}

// Domain is the owning actor for the selected-variables sequence.
type Domain struct {
	seq    *reactive.Sequence[Selection]
	events *reactive.Relay[Event]
}

// New constructs an empty Domain. Pass a tracked-files event stream (from
// trackedfiles.Domain.Events) to wire the removal cascade; nil disables
// it (useful in tests that exercise the sequence alone).
func New(fileEvents <-chan trackedfiles.Event) *Domain {
	d := &Domain{
		seq:    reactive.NewSequence[Selection](),
		events: reactive.NewRelay[Event]("selected_variables_event"),
	}
	if fileEvents != nil {
		go d.watchFileRemovals(fileEvents)
	}
	return d
}

// Events returns the read-only stream of selected-variables notifications.
func (d *Domain) Events() <-chan Event { return d.events.Subscribe() }

// Snapshot returns the current selection in insertion order.
func (d *Domain) Snapshot() []Selection { return d.seq.Snapshot() }

// Subscribe returns the raw sequence diff stream, for consumers (e.g. the
// bounds computer) that must react incrementally rather than resnapshot
// on every change.
func (d *Domain) Subscribe() <-chan reactive.SeqDiff[Selection] { return d.seq.Subscribe() }

func (d *Domain) emit(e Event) { d.events.Send(e) }

// Click adds a variable to the selection with its default formatter
// (Hex), unless it is already selected.
func (d *Domain) Click(id waveform.VariableID) {
	for _, s := range d.seq.Snapshot() {
		if s.VariableID == id {
			return
		}
	}
	sel := Selection{VariableID: id, Formatter: waveform.FormatterHex}
	d.seq.Insert(sel)
	d.emit(Event{Kind: VariableClicked, Variable: sel})
}

// Remove drops one variable from the selection by unique id.
func (d *Domain) Remove(id waveform.VariableID) {
	d.seq.RemoveWhere(func(s Selection) bool { return s.VariableID == id })
	d.emit(Event{Kind: VariableRemoved, Variable: Selection{VariableID: id}})
}

// SetFormatter changes one variable's display formatter in place.
func (d *Domain) SetFormatter(id waveform.VariableID, f waveform.Formatter) {
	items := d.seq.Snapshot()
	for i, s := range items {
		if s.VariableID != id {
			continue
		}
		s.Formatter = f
		d.seq.ReplaceAt(i, s)
		d.emit(Event{Kind: FormatChanged, Variable: s})
		return
	}
}

// ClearAll empties the selection.
func (d *Domain) ClearAll() {
	d.seq.Clear()
	d.emit(Event{Kind: ClearAllClicked})
}

// ReconcileAfterReload marks every selected variable under canonicalPath
// "missing" if stillExists reports false for it, and clears the flag for
// any that do exist again, preserving selection length either way.
func (d *Domain) ReconcileAfterReload(canonicalPath string, stillExists func(waveform.VariableID) bool) {
	items := d.seq.Snapshot()
	prefix := canonicalPath + "|"
	for i, s := range items {
		if !strings.HasPrefix(string(s.VariableID), prefix) {
			continue
		}
		exists := stillExists(s.VariableID)
		if exists == !s.Missing {
			continue
		}
		s.Missing = !exists
		d.seq.ReplaceAt(i, s)
	}
}

// watchFileRemovals cascades a tracked-files removal into dropping every
// selection whose unique id belongs to that canonical path. Selections
// carry only the canonical id — no back-pointer — so the cascade is
// driven by event subscription, not ownership.
func (d *Domain) watchFileRemovals(fileEvents <-chan trackedfiles.Event) {
	for ev := range fileEvents {
		if ev.Kind != trackedfiles.FileRemoved {
			continue
		}
		prefix := ev.State.CanonicalPath + "|"
		d.seq.RemoveWhere(func(s Selection) bool {
			return strings.HasPrefix(string(s.VariableID), prefix)
		})
	}
}
