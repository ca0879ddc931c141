// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package timeline

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/novywave/novywave-core/internal/signalservice"
	"github.com/novywave/novywave-core/internal/waveform"
	"github.com/novywave/novywave-core/pkg/wavelog"
	"github.com/novywave/novywave-core/pkg/wavetime"
	"golang.org/x/time/rate"
)

var log = wavelog.Component("timeline")

// requestCoalesce is the window a burst of pending changes is collapsed
// into: at most one outgoing request per variable per tick.
const requestCoalesce = 60 * time.Millisecond

// enlargeFraction is the 25% each-side fetch-range enlargement applied
// to the viewport before fetching, so small pans land in cache.
const enlargeFraction = 0.25

// coverageThreshold is the cached-coverage fraction above which a
// viewport is served from cache immediately instead of showing a
// loading marker.
const coverageThreshold = 0.80

// BackendClient is what the scheduler needs from the backend signal
// service. internal/signalservice.Service satisfies
// this directly — its UnifiedQuery/CursorValues methods already have
// this exact shape — so production wiring passes a *signalservice.Service
// straight through with no adapter.
type BackendClient interface {
	UnifiedQuery(ctx context.Context, canonicalPath string, variables []waveform.VariableID, rangeStart, rangeEnd wavetime.TimeNs, maxTransitions uint32) []signalservice.VariableResult
	CursorValues(ctx context.Context, canonicalPath string, variables []waveform.VariableID, cursorNs wavetime.TimeNs) []signalservice.CursorValue
}

// WindowKey identifies one window-cache entry:
// (variable_unique_id, lod_bucket, range).
type WindowKey struct {
	Variable  waveform.VariableID
	LodBucket wavetime.NsPerPixel
	Range     wavetime.Range
}

// SeriesStatus is the closed set of states a selected variable's series
// can be in for rendering purposes; Loading, Empty, and Error are
// distinct observable states, never collapsed into defaults.
type SeriesStatus int

const (
	SeriesLoading SeriesStatus = iota
	SeriesLoaded
	SeriesEmpty
	SeriesError
)

// SeriesSnapshot is one variable's current series state as the renderer
// sees it.
type SeriesSnapshot struct {
	Status      SeriesStatus
	Transitions []waveform.Transition
	Err         error
}

// CursorValueSnapshot is one variable's current cursor-value state.
// Value holds the last known value even while Loading is true, so
// cursor dropdowns keep displaying it until a fresher one arrives.
type CursorValueSnapshot struct {
	Value   waveform.Value
	Loading bool
	Err     error
}

// unifiedResult is what a background fetch goroutine reports back into
// the engine's event loop (backend_unified_response_received).
type unifiedResult struct {
	generation uint64
	key        WindowKey
	edgeOnly   bool
	results    []signalservice.VariableResult
}

// cursorResult is the cursor-values analogue of unifiedResult.
type cursorResult struct {
	generation uint64
	values     []signalservice.CursorValue
}

// Scheduler is the request scheduler and overlap-aware window cache.
// One Scheduler instance is owned by exactly one Engine.
type Scheduler struct {
	backend BackendClient

	mu      sync.Mutex
	windows map[waveform.VariableID]*lru.Cache[WindowKey, []waveform.Transition]
	series  map[waveform.VariableID]SeriesSnapshot
	cursors map[waveform.VariableID]CursorValueSnapshot

	pendingMu     sync.Mutex
	pending       map[waveform.VariableID]fetchPlan
	timers        map[waveform.VariableID]*time.Timer
	cursorPending map[string]cursorPlan // canonical path -> latest coalesced cursor request
	cursorTimer   map[string]*time.Timer

	limiterMu      sync.Mutex
	limiters       map[waveform.VariableID]*rate.Limiter
	cursorLimiters map[string]*rate.Limiter

	// windowCap bounds each variable's window cache to the current plus
	// one neighbouring window.
	windowCap int

	unifiedResponses chan unifiedResult
	cursorResponses  chan cursorResult
}

// fetchPlan is the outbound request a debounce tick will issue for one
// variable, computed synchronously at Trigger time and possibly
// overwritten by a later Trigger call before the tick fires.
type fetchPlan struct {
	canonicalPath  string
	variable       waveform.VariableID
	lodBucket      wavetime.NsPerPixel
	rangeToFetch   wavetime.Range
	edgeOnly       bool
	maxTransitions uint32
	generation     uint64
}

// NewScheduler constructs a Scheduler. unifiedResponses/cursorResponses
// are the engine's single-source-call-site channels for
// backend_unified_response_received / backend_cursor_values_received;
// the scheduler is their one sender.
func NewScheduler(backend BackendClient, windowCap int, unifiedResponses chan unifiedResult, cursorResponses chan cursorResult) *Scheduler {
	if windowCap < 1 {
		windowCap = 2
	}
	return &Scheduler{
		backend:          backend,
		windows:          make(map[waveform.VariableID]*lru.Cache[WindowKey, []waveform.Transition]),
		series:           make(map[waveform.VariableID]SeriesSnapshot),
		cursors:          make(map[waveform.VariableID]CursorValueSnapshot),
		pending:          make(map[waveform.VariableID]fetchPlan),
		timers:           make(map[waveform.VariableID]*time.Timer),
		cursorPending:    make(map[string]cursorPlan),
		cursorTimer:      make(map[string]*time.Timer),
		limiters:         make(map[waveform.VariableID]*rate.Limiter),
		cursorLimiters:   make(map[string]*rate.Limiter),
		windowCap:        windowCap,
		unifiedResponses: unifiedResponses,
		cursorResponses:  cursorResponses,
	}
}

// Clear wipes every series, cursor value, and window-cache entry, for
// the timeline's transition into its empty state.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = make(map[waveform.VariableID]*lru.Cache[WindowKey, []waveform.Transition])
	s.series = make(map[waveform.VariableID]SeriesSnapshot)
	s.cursors = make(map[waveform.VariableID]CursorValueSnapshot)
}

// SeriesSnapshots returns a copy of every variable's current series state,
// for render-state assembly.
func (s *Scheduler) SeriesSnapshots() map[waveform.VariableID]SeriesSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[waveform.VariableID]SeriesSnapshot, len(s.series))
	for k, v := range s.series {
		out[k] = v
	}
	return out
}

// CursorSnapshots returns a copy of every variable's current cursor-value
// state.
func (s *Scheduler) CursorSnapshots() map[waveform.VariableID]CursorValueSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[waveform.VariableID]CursorValueSnapshot, len(s.cursors))
	for k, v := range s.cursors {
		out[k] = v
	}
	return out
}

func (s *Scheduler) windowCacheFor(id waveform.VariableID) *lru.Cache[WindowKey, []waveform.Transition] {
	c, ok := s.windows[id]
	if !ok {
		c, _ = lru.New[WindowKey, []waveform.Transition](s.windowCap)
		s.windows[id] = c
	}
	return c
}

// coverage returns the fraction of want covered by the union of the
// cached entries' ranges for (variable, lodBucket).
func coverage(cache *lru.Cache[WindowKey, []waveform.Transition], variable waveform.VariableID, lodBucket wavetime.NsPerPixel, want wavetime.Range) float64 {
	if cache == nil || want.Len() == 0 {
		return 0
	}
	var covered uint64
	for _, key := range cache.Keys() {
		if key.Variable != variable || key.LodBucket != lodBucket {
			continue
		}
		if overlap, ok := key.Range.Intersect(want); ok {
			covered += uint64(overlap.Len())
		}
	}
	frac := float64(covered) / float64(want.Len())
	if frac > 1 {
		frac = 1
	}
	return frac
}

// mergedCached gathers every cached transition for (variable, lodBucket)
// whose entry overlaps want, clamped and deduplicated by time, sorted
// ascending. Used to serve a >= 80%-covered viewport without a round
// trip.
func mergedCached(cache *lru.Cache[WindowKey, []waveform.Transition], variable waveform.VariableID, lodBucket wavetime.NsPerPixel, want wavetime.Range) []waveform.Transition {
	seen := make(map[wavetime.TimeNs]bool)
	var out []waveform.Transition
	for _, key := range cache.Keys() {
		if key.Variable != variable || key.LodBucket != lodBucket {
			continue
		}
		if _, ok := key.Range.Intersect(want); !ok {
			continue
		}
		ts, _ := cache.Get(key)
		for _, t := range ts {
			if !want.Contains(t.TimeNs) || seen[t.TimeNs] {
				continue
			}
			seen[t.TimeNs] = true
			out = append(out, t)
		}
	}
	sortTransitions(out)
	return out
}

func sortTransitions(ts []waveform.Transition) {
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j-1].TimeNs > ts[j].TimeNs; j-- {
			ts[j-1], ts[j] = ts[j], ts[j-1]
		}
	}
}

// uncoveredEdges returns the sub-range(s) of enlarged not covered by any
// cached entry for (variable, lodBucket), used to compute an edge-only
// top-up fetch.
func uncoveredEdges(cache *lru.Cache[WindowKey, []waveform.Transition], variable waveform.VariableID, lodBucket wavetime.NsPerPixel, enlarged wavetime.Range) (wavetime.Range, bool) {
	var lo, hi wavetime.TimeNs
	haveLo, haveHi := false, false
	for _, key := range cache.Keys() {
		if key.Variable != variable || key.LodBucket != lodBucket {
			continue
		}
		overlap, ok := key.Range.Intersect(enlarged)
		if !ok {
			continue
		}
		if !haveLo || overlap.Start < lo {
			lo, haveLo = overlap.Start, true
		}
		if !haveHi || overlap.End > hi {
			hi, haveHi = overlap.End, true
		}
	}
	if !haveLo || !haveHi {
		return enlarged, true
	}
	// Widest single covered span; anything outside [lo,hi] within
	// enlarged is uncovered. This collapses the general "list of gaps"
	// case to "the wider of the two edges", which covers the pan case
	// (one leading or trailing gap).
	if lo > enlarged.Start && enlarged.End-hi <= lo-enlarged.Start {
		return wavetime.Range{Start: enlarged.Start, End: lo}, true
	}
	if hi < enlarged.End {
		return wavetime.Range{Start: hi, End: enlarged.End}, true
	}
	return wavetime.Range{}, false
}

// Trigger runs the fetch decision for one variable: compute the
// LOD bucket and enlarged fetch range, check cache coverage, and either
// serve cached data immediately (scheduling an edge-only background
// fetch if needed) or mark the series Loading and schedule a full fetch.
// generation is the state cell's current generation, stamped onto
// whatever request this call schedules.
func (s *Scheduler) Trigger(variable waveform.VariableID, viewport wavetime.Range, fileBounds waveform.Bounds, npp wavetime.NsPerPixel, canvasWidthPx uint32, generation uint64) {
	lodBucket := wavetime.CeilPow2Bucket(npp)
	enlarged := viewport.Expand(enlargeFraction, wavetime.Range{Start: fileBounds.Min, End: fileBounds.Max})

	s.mu.Lock()
	cache := s.windowCacheFor(variable)
	cov := coverage(cache, variable, lodBucket, viewport)
	s.mu.Unlock()

	maxTransitions := 4 * canvasWidthPx
	if maxTransitions == 0 {
		maxTransitions = 4
	}

	if cov >= coverageThreshold {
		s.mu.Lock()
		merged := mergedCached(cache, variable, lodBucket, viewport)
		s.series[variable] = SeriesSnapshot{Status: SeriesLoaded, Transitions: merged}
		s.mu.Unlock()

		if gap, ok := uncoveredEdges(cache, variable, lodBucket, enlarged); ok && gap.Len() > 0 {
			s.schedule(fetchPlan{
				variable: variable, lodBucket: lodBucket, rangeToFetch: gap,
				edgeOnly: true, maxTransitions: maxTransitions, generation: generation,
				canonicalPath: canonicalPathOf(variable),
			})
		}
		return
	}

	s.mu.Lock()
	s.series[variable] = SeriesSnapshot{Status: SeriesLoading}
	s.mu.Unlock()

	s.schedule(fetchPlan{
		variable: variable, lodBucket: lodBucket, rangeToFetch: enlarged,
		edgeOnly: false, maxTransitions: maxTransitions, generation: generation,
		canonicalPath: canonicalPathOf(variable),
	})
}

// schedule collapses a burst of plans for
// the same variable into one outgoing request per tick. A later
// call before the tick fires overwrites the pending plan; the timer
// itself is left running so a continuous key-repeat still issues exactly
// one request per tick, not one per keystroke.
func (s *Scheduler) schedule(plan fetchPlan) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	s.pending[plan.variable] = plan
	if _, running := s.timers[plan.variable]; running {
		return
	}
	s.timers[plan.variable] = time.AfterFunc(requestCoalesce, func() { s.fire(plan.variable) })
}

// limiterFor returns the per-variable token-bucket limiter backing the
// request cadence (golang.org/x/time/rate): one token per
// requestCoalesce interval, so a variable whose
// Trigger calls schedule back-to-back edge and full fetches in quick
// succession still can't exceed one outbound request per tick.
func (s *Scheduler) limiterFor(variable waveform.VariableID) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	l, ok := s.limiters[variable]
	if !ok {
		l = rate.NewLimiter(rate.Every(requestCoalesce), 1)
		s.limiters[variable] = l
	}
	return l
}

func (s *Scheduler) cursorLimiterFor(path string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	l, ok := s.cursorLimiters[path]
	if !ok {
		l = rate.NewLimiter(rate.Every(requestCoalesce), 1)
		s.cursorLimiters[path] = l
	}
	return l
}

func (s *Scheduler) fire(variable waveform.VariableID) {
	s.pendingMu.Lock()
	plan, ok := s.pending[variable]
	delete(s.pending, variable)
	delete(s.timers, variable)
	s.pendingMu.Unlock()
	if !ok {
		return
	}
	go func() {
		_ = s.limiterFor(variable).Wait(context.Background())
		s.issue(plan)
	}()
}

// issue performs the actual blocking backend call on its own goroutine
// and delivers the result into the engine's
// backend_unified_response_received relay channel. This is the one
// call-site that sends on unifiedResponses, satisfying pkg/reactive's
// single-source-relay discipline even though Trigger itself may be
// called from many places.
func (s *Scheduler) issue(plan fetchPlan) {
	results := s.backend.UnifiedQuery(context.Background(), plan.canonicalPath, []waveform.VariableID{plan.variable}, plan.rangeToFetch.Start, plan.rangeToFetch.End, plan.maxTransitions)
	s.unifiedResponses <- unifiedResult{
		generation: plan.generation,
		key:        WindowKey{Variable: plan.variable, LodBucket: plan.lodBucket, Range: plan.rangeToFetch},
		edgeOnly:   plan.edgeOnly,
		results:    results,
	}
}

// ApplyUnifiedResponse merges a response into the window cache under
// the generation discipline: responses whose generation lags the state
// cell's current generation are dropped without mutating the series or
// window cache.
func (s *Scheduler) ApplyUnifiedResponse(r unifiedResult, currentGeneration uint64) {
	if r.generation < currentGeneration {
		log.Debugf("dropping stale unified response for %s (gen %d < %d)", r.key.Variable, r.generation, currentGeneration)
		return
	}
	if len(r.results) == 0 {
		return
	}
	res := r.results[0]

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case res.Err != nil:
		s.series[r.key.Variable] = SeriesSnapshot{Status: SeriesError, Err: res.Err}
		return
	case res.Empty:
		if !r.edgeOnly {
			s.series[r.key.Variable] = SeriesSnapshot{Status: SeriesEmpty}
		}
		return
	}

	cache := s.windowCacheFor(r.key.Variable)
	cache.Add(r.key, res.Transitions)

	if !r.edgeOnly {
		s.series[r.key.Variable] = SeriesSnapshot{Status: SeriesLoaded, Transitions: res.Transitions}
		return
	}
	// Edge-only fetches top up an already-displayed series (coverage was
	// already >= 80% or this wouldn't have been scheduled): splice the new
	// edge's transitions in alongside what's already showing rather than
	// replacing it outright.
	if existing, ok := s.series[r.key.Variable]; ok && existing.Status == SeriesLoaded {
		merged := append(append([]waveform.Transition{}, existing.Transitions...), res.Transitions...)
		sortTransitions(merged)
		s.series[r.key.Variable] = SeriesSnapshot{Status: SeriesLoaded, Transitions: merged}
	}
}

// cursorPlan is the pending coalesced CursorValues request for one
// canonical path, overwritten by each TriggerCursor call before its tick
// fires so the request that finally goes out always carries the latest
// cursor position (trailing-edge debounce, same shape as schedule/fire).
type cursorPlan struct {
	variables  []waveform.VariableID
	cursorNs   wavetime.TimeNs
	generation uint64
}

// TriggerCursor is the cursor half of the scheduler: it batches every
// variable sharing a canonical path into one coalesced CursorValues
// request per ~60ms tick, preserving each variable's last known value
// (never clearing to "no value") until a fresher one arrives.
func (s *Scheduler) TriggerCursor(variables []waveform.VariableID, cursorNs wavetime.TimeNs, generation uint64) {
	byFile := make(map[string][]waveform.VariableID)
	for _, v := range variables {
		path := canonicalPathOf(v)
		byFile[path] = append(byFile[path], v)

		s.mu.Lock()
		prev := s.cursors[v]
		prev.Loading = true
		s.cursors[v] = prev
		s.mu.Unlock()
	}

	s.pendingMu.Lock()
	for path, vars := range byFile {
		s.cursorPending[path] = cursorPlan{variables: vars, cursorNs: cursorNs, generation: generation}
		if _, running := s.cursorTimer[path]; running {
			continue
		}
		p := path
		s.cursorTimer[path] = time.AfterFunc(requestCoalesce, func() { s.fireCursor(p) })
	}
	s.pendingMu.Unlock()
}

func (s *Scheduler) fireCursor(path string) {
	s.pendingMu.Lock()
	plan, ok := s.cursorPending[path]
	delete(s.cursorPending, path)
	delete(s.cursorTimer, path)
	s.pendingMu.Unlock()
	if !ok {
		return
	}
	go func() {
		_ = s.cursorLimiterFor(path).Wait(context.Background())
		values := s.backend.CursorValues(context.Background(), path, plan.variables, plan.cursorNs)
		s.cursorResponses <- cursorResult{generation: plan.generation, values: values}
	}()
}

// ApplyCursorResponse applies the generation-discard rule for cursor
// queries and preserves the last known value on error; no speculative
// data is ever synthesised.
func (s *Scheduler) ApplyCursorResponse(r cursorResult, currentGeneration uint64) {
	if r.generation < currentGeneration {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range r.values {
		if v.Err != nil {
			prev := s.cursors[v.VariableID]
			prev.Loading = false
			prev.Err = v.Err
			s.cursors[v.VariableID] = prev
			continue
		}
		s.cursors[v.VariableID] = CursorValueSnapshot{Value: v.Value}
	}
}
