// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package trackedfiles owns the tracked-files domain: a
// reactive map from canonical path to file state, fed by the file-picker
// (file_dropped) and the reload watcher (reload_requested), and consumed
// by the timeline engine's bounds computer.
//
// Built directly on pkg/reactive.Map rather than a bespoke observer list,
// per the substrate rule that "no component above pkg/reactive may hold
// shared mutable state outside a Cell, Sequence, Map, or Relay."
package trackedfiles

import (
	"github.com/novywave/novywave-core/internal/waveform"
	"github.com/novywave/novywave-core/pkg/reactive"
)

// FileState is the domain's view of one tracked file: identity plus the
// lifecycle/bounds summary the bounds computer needs. DisplayPath
// accompanies CanonicalPath but is never used for identity.
type FileState struct {
	CanonicalPath string
	DisplayPath   string
	Format        waveform.Format
	State         waveform.State
	Bounds        waveform.Bounds
	Err           error
}

// Event is one domain-level notification fanned out on the Events relay.
// Kind distinguishes the four emissions: file-added,
// file-removed, file-state-changed, bounds-changed.
type Kind int

const (
	FileAdded Kind = iota
	FileRemoved
	FileStateChanged
	BoundsChanged
)

func (k Kind) String() string {
	switch k {
	case FileAdded:
		return "file_added"
	case FileRemoved:
		return "file_removed"
	case FileStateChanged:
		return "file_state_changed"
	case BoundsChanged:
		return "bounds_changed"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind  Kind
	State FileState
}

// Domain is the owning actor for the tracked-files map. Exactly one
// textual call site may consume each of its two input relays (FileDropped,
// ReloadRequested); any number may Subscribe to Events.
type Domain struct {
	files *reactive.Map[string, FileState]

	FileDropped     *reactive.Relay[FileDropped]
	ReloadRequested *reactive.Relay[ReloadRequested]
	events          *reactive.Relay[Event]
}

// FileDropped carries what the picker observed about a newly added file.
type FileDropped struct {
	CanonicalPath string
	DisplayPath   string
	Format        waveform.Format
}

// ReloadRequested carries a reload_requested(canonical, display) event.
type ReloadRequested struct {
	CanonicalPath string
	DisplayPath   string
}

// New constructs a Domain and starts its owning loop, which is subscribed
// to both input relays before New returns. Callers drive the domain
// through FileDropped/ReloadRequested and the RemoveFile and SetState
// methods.
func New() *Domain {
	d := &Domain{
		files:           reactive.NewMap[string, FileState](),
		FileDropped:     reactive.NewRelay[FileDropped]("file_dropped"),
		ReloadRequested: reactive.NewRelay[ReloadRequested]("reload_requested"),
		events:          reactive.NewRelay[Event]("tracked_files_event"),
	}
	go d.run(d.FileDropped.Subscribe(), d.ReloadRequested.Subscribe())
	return d
}

// Events returns the read-only stream of tracked-files domain events.
func (d *Domain) Events() <-chan Event { return d.events.Subscribe() }

// emit is the single textual call-site into the events relay. Every
// internal event kind routes through here so the relay's single-source
// invariant (one call-site, many subscribers) holds even though several
// methods logically "produce" events.
func (d *Domain) emit(e Event) { d.events.Send(e) }

// Snapshot returns the current file states, keyed by canonical path.
func (d *Domain) Snapshot() map[string]FileState { return d.files.Snapshot() }

// RemoveFile drops a tracked file by canonical path, emitting FileRemoved.
// Cascading removal of any selected variables owned by this file is the
// selectedvariables domain's responsibility (it subscribes to Events).
func (d *Domain) RemoveFile(canonicalPath string) {
	if fs, ok := d.files.Get(canonicalPath); ok {
		d.files.Delete(canonicalPath)
		d.emit(Event{Kind: FileRemoved, State: fs})
	}
}

// SetState updates a tracked file's lifecycle/bounds summary (called by
// whatever drives waveform parsing — e.g. internal/signalservice results
// surfaced back into this domain), emitting FileStateChanged and, when
// Bounds actually changed, an additional BoundsChanged.
func (d *Domain) SetState(canonicalPath string, fs FileState) {
	prev, existed := d.files.Get(canonicalPath)
	d.files.Set(canonicalPath, fs)
	if !existed {
		d.emit(Event{Kind: FileAdded, State: fs})
		d.emit(Event{Kind: BoundsChanged, State: fs})
		return
	}
	d.emit(Event{Kind: FileStateChanged, State: fs})
	if prev.Bounds != fs.Bounds {
		d.emit(Event{Kind: BoundsChanged, State: fs})
	}
}

// Close shuts the domain down: the input relays stop accepting sends, the
// owning loop exits, and the Events stream closes so consumers' range
// loops can return.
func (d *Domain) Close() {
	d.FileDropped.Close()
	d.ReloadRequested.Close()
	d.events.Close()
}

func (d *Domain) run(dropped <-chan FileDropped, reloads <-chan ReloadRequested) {
	for {
		select {
		case fd, ok := <-dropped:
			if !ok {
				return
			}
			d.SetState(fd.CanonicalPath, FileState{
				CanonicalPath: fd.CanonicalPath,
				DisplayPath:   fd.DisplayPath,
				Format:        fd.Format,
				State:         waveform.StateParsing,
			})
		case rr, ok := <-reloads:
			if !ok {
				return
			}
			if fs, ok := d.files.Get(rr.CanonicalPath); ok {
				fs.State = waveform.StateParsing
				d.SetState(rr.CanonicalPath, fs)
			}
		}
	}
}
