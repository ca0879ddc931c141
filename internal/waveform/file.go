// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package waveform

import "sync"

// Header is the lightweight summary available once a file reaches
// HeaderLoaded: enough to populate the scope/variable tree in the UI
// without having decoded any signal bodies yet.
type Header struct {
	CanonicalPath string
	DisplayPath   string
	Format        Format
	Scopes        *ScopeNode
	Bounds        Bounds
	Timescale     Timescale
}

// Series is the full, immutable, sorted transition vector for one
// variable. Stored under shared ownership (a plain slice handed out by
// reference: Go slices already share their backing array, so no copy is
// made on read) so concurrent queries never reallocate it.
type Series struct {
	Variable    Variable
	Transitions []Transition
}

// File is the process-wide record for one ingested waveform file, keyed
// by CanonicalPath. Body (decoded series) is attached separately once
// BodyLoaded; until then Series is nil.
type File struct {
	mu sync.RWMutex

	CanonicalPath string
	DisplayPath   string
	Format        Format
	State         State
	Err           error

	Scopes    *ScopeNode
	Bounds    Bounds
	Timescale Timescale

	// Series holds decoded per-variable transition vectors once body-loaded,
	// keyed by VariableID. nil until the body decode completes.
	series map[VariableID]*Series
}

// NewFile creates a file record in the Parsing state.
func NewFile(canonicalPath, displayPath string, format Format) *File {
	return &File{
		CanonicalPath: canonicalPath,
		DisplayPath:   displayPath,
		Format:        format,
		State:         StateParsing,
	}
}

// SetHeader transitions the file to HeaderLoaded with the parsed summary.
func (f *File) SetHeader(h Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Format = h.Format
	f.Scopes = h.Scopes
	f.Bounds = h.Bounds
	f.Timescale = h.Timescale
	f.State = StateHeaderLoaded
	f.Err = nil
}

// SetBody attaches decoded series and transitions to BodyLoaded.
func (f *File) SetBody(series map[VariableID]*Series) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.series = series
	f.State = StateBodyLoaded
	f.Err = nil
}

// SetError transitions the file to Error, recording the cause.
func (f *File) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.State = StateError
	f.Err = err
}

// ResetForReload returns the file to Parsing, clearing decoded state while
// preserving the canonical/display identity.
func (f *File) ResetForReload() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.State = StateParsing
	f.Scopes = nil
	f.series = nil
	f.Err = nil
}

// HeaderSnapshot returns a consistent read of the file's header fields,
// safe to call regardless of lifecycle state (zero-valued Scopes/Bounds
// before HeaderLoaded).
func (f *File) HeaderSnapshot() Header {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Header{
		CanonicalPath: f.CanonicalPath,
		DisplayPath:   f.DisplayPath,
		Format:        f.Format,
		Scopes:        f.Scopes,
		Bounds:        f.Bounds,
		Timescale:     f.Timescale,
	}
}

// Snapshot returns a consistent read of the file's current state.
func (f *File) Snapshot() (State, Bounds, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.State, f.Bounds, f.Err
}

// SeriesFor returns the decoded series for a variable, if body-loaded.
func (f *File) SeriesFor(id VariableID) (*Series, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.series == nil {
		return nil, false
	}
	s, ok := f.series[id]
	return s, ok
}

// HasVariable reports whether id exists in the current header/body.
func (f *File) HasVariable(id VariableID) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.Scopes == nil {
		return false
	}
	for _, v := range f.Scopes.AllVariables() {
		if v.ID == id {
			return true
		}
	}
	return false
}
