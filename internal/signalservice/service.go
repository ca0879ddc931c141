// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package signalservice is the backend signal service: it ingests
// waveform files and answers four query kinds — parse file, load
// signal, unified signal query, cursor values — out of process-wide
// stores keyed by canonical path. CPU-heavy parse/decode/downsample work
// runs on a bounded worker pool, which caps how many such jobs run at
// once; the requesting goroutine waits for its job's result.
package signalservice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/novywave/novywave-core/internal/downsample"
	"github.com/novywave/novywave-core/internal/waveform"
	"github.com/novywave/novywave-core/pkg/lrucache"
	"github.com/novywave/novywave-core/pkg/wavelog"
	"github.com/novywave/novywave-core/pkg/wavetime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var log = wavelog.Component("signalservice")

// cacheHitTotal/cacheMissTotal export store 7's hit/miss counters at
// /metrics; package-level promauto registration saves New from having
// a *prometheus.Registry threaded through it.
var (
	cacheHitTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "novywave_transition_cache_hits_total",
		Help: "Transition cache lookups served from the in-memory LRU cache.",
	})
	cacheMissTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "novywave_transition_cache_misses_total",
		Help: "Transition cache lookups that required decoding a series.",
	})
)

// ErrKind is the closed set of typed errors surfaced at the transport
// boundary.
type ErrKind int

const (
	ErrFileNotFound ErrKind = iota
	ErrUnrecognisedFormat
	ErrParseFailed
	ErrTimeout
	ErrVariableMissing
)

type ServiceError struct {
	Kind   ErrKind
	Detail string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("signalservice: %s", e.Detail)
}

// CacheStats holds hit/miss counters for the transition cache (store 7,
// "cache_stats"). Exposed separately from pkg/lrucache's own bookkeeping
// so the transport layer can report a single, service-wide number.
type CacheStats struct {
	mu         sync.Mutex
	Hits       uint64
	Misses     uint64
}

func (s *CacheStats) recordHit()  { s.mu.Lock(); s.Hits++; s.mu.Unlock(); cacheHitTotal.Inc() }
func (s *CacheStats) recordMiss() { s.mu.Lock(); s.Misses++; s.mu.Unlock(); cacheMissTotal.Inc() }

func (s *CacheStats) Snapshot() (hits, misses uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Hits, s.Misses
}

// Service owns the process-wide waveform stores. The mandatory
// lock-acquisition order (to prevent deadlock and eliminate TOCTOU races
// on multi-store mutations) is: parsingSessions, files (waveform_data +
// waveform_metadata are the same File record's two lifecycle phases, see
// internal/waveform.File), loadingInProgress, loadingNotifiers,
// transitionCache, cacheStats. Any operation that must touch more than
// one store acquires them in that order before making any decision.
type Service struct {
	mu sync.RWMutex // guards parsingSessions, files, loadingInProgress

	parsingSessions map[string]float64
	files           map[string]*waveform.File

	loadingInProgress map[string]bool
	notifiersMu       sync.Mutex
	loadingNotifiers  map[string][]chan struct{}

	transitionCache *lrucache.Cache[[]waveform.Transition]
	cacheStats      *CacheStats

	workers *workerPool

	notifyTimeout time.Duration
}

// New constructs a Service. maxCacheBytes bounds the transition cache;
// workerCount bounds the blocking pool used for parse/decode/downsample.
func New(maxCacheBytes int, workerCount int) *Service {
	return &Service{
		parsingSessions:   make(map[string]float64),
		files:             make(map[string]*waveform.File),
		loadingInProgress: make(map[string]bool),
		loadingNotifiers:  make(map[string][]chan struct{}),
		transitionCache:   lrucache.New[[]waveform.Transition](maxCacheBytes),
		cacheStats:        &CacheStats{},
		workers:           newWorkerPool(workerCount),
		notifyTimeout:     30 * time.Second,
	}
}

func (s *Service) Close() { s.workers.close() }

// ParseFile dedupes concurrent requests for the same path, parses the
// header on the blocking pool, and publishes the result into the file
// store.
func (s *Service) ParseFile(ctx context.Context, canonicalPath string) (waveform.Header, error) {
	s.mu.Lock()
	file, exists := s.files[canonicalPath]
	if !exists {
		file = waveform.NewFile(canonicalPath, canonicalPath, 0)
		s.files[canonicalPath] = file
	}
	if headerReady(file) {
		s.mu.Unlock()
		return s.headerOf(file), nil
	}
	key := canonicalPath + "#header"
	alreadyLoading := s.loadingInProgress[key]
	if !alreadyLoading {
		s.loadingInProgress[key] = true
		s.parsingSessions[canonicalPath] = 0.0
	}
	s.mu.Unlock()

	if alreadyLoading {
		if err := s.awaitNotifier(ctx, key); err != nil {
			return waveform.Header{}, err
		}
		st, _, ferr := file.Snapshot()
		if st == waveform.StateError {
			return waveform.Header{}, &ServiceError{Kind: ErrParseFailed, Detail: ferr.Error()}
		}
		return s.headerOf(file), nil
	}

	defer s.finishLoading(key)

	result, err := s.workers.submit(func() (interface{}, error) {
		return waveform.Parse(canonicalPath)
	})
	if err != nil {
		pe := toParseError(err)
		file.SetError(pe)
		s.setProgress(canonicalPath, 0.0)
		log.Warnf("parse failed for %s: %s", canonicalPath, pe)
		return waveform.Header{}, pe
	}

	header := result.(waveform.Header)
	file.SetHeader(header)
	s.setProgress(canonicalPath, 0.5)
	log.Infof("header loaded for %s (%d vars)", canonicalPath, len(header.Scopes.AllVariables()))
	return header, nil
}

func headerReady(f *waveform.File) bool {
	st, _, _ := f.Snapshot()
	return st == waveform.StateHeaderLoaded || st == waveform.StateBodyLoaded
}

func (s *Service) headerOf(f *waveform.File) waveform.Header {
	return f.HeaderSnapshot()
}

func toParseError(err error) error {
	if pe, ok := err.(*waveform.ParseError); ok {
		switch pe.Kind {
		case waveform.ErrFileNotFound:
			return &ServiceError{Kind: ErrFileNotFound, Detail: pe.Error()}
		case waveform.ErrUnrecognisedFormat:
			return &ServiceError{Kind: ErrUnrecognisedFormat, Detail: pe.Error()}
		default:
			return &ServiceError{Kind: ErrParseFailed, Detail: pe.Error()}
		}
	}
	return &ServiceError{Kind: ErrParseFailed, Detail: err.Error()}
}

// LoadSignal ensures the body is decoded (parsing
// it if necessary, deduped the same way as ParseFile), then returns the
// shared transition slice for one variable.
func (s *Service) LoadSignal(ctx context.Context, canonicalPath string, variableID waveform.VariableID) ([]waveform.Transition, error) {
	s.mu.RLock()
	file, exists := s.files[canonicalPath]
	s.mu.RUnlock()
	if !exists {
		return nil, &ServiceError{Kind: ErrFileNotFound, Detail: canonicalPath}
	}

	if st, _, _ := file.Snapshot(); st != waveform.StateBodyLoaded {
		if err := s.ensureBodyLoaded(ctx, file); err != nil {
			return nil, err
		}
	}

	cacheKey := string(variableID)
	if _, alreadyCached := s.transitionCache.Get(cacheKey, nil); alreadyCached {
		s.cacheStats.recordHit()
	} else {
		s.cacheStats.recordMiss()
	}
	transitions, _ := s.transitionCache.Get(cacheKey, func() ([]waveform.Transition, time.Duration, int) {
		series, found := file.SeriesFor(variableID)
		if !found {
			return nil, time.Hour, 0
		}
		return series.Transitions, time.Hour, len(series.Transitions)
	})
	if transitions == nil {
		return nil, &ServiceError{Kind: ErrVariableMissing, Detail: string(variableID)}
	}
	return transitions, nil
}

func (s *Service) ensureBodyLoaded(ctx context.Context, file *waveform.File) error {
	key := file.CanonicalPath + "#body"

	s.mu.Lock()
	loading := s.loadingInProgress[key]
	if !loading {
		s.loadingInProgress[key] = true
	}
	s.mu.Unlock()

	if loading {
		if err := s.awaitNotifier(ctx, key); err != nil {
			return err
		}
		st, _, ferr := file.Snapshot()
		if st == waveform.StateError {
			return &ServiceError{Kind: ErrParseFailed, Detail: ferr.Error()}
		}
		return nil
	}

	defer s.finishLoading(key)

	header := s.headerOf(file)
	result, err := s.workers.submit(func() (interface{}, error) {
		return waveform.ParseBody(file.CanonicalPath, header)
	})
	if err != nil {
		pe := toParseError(err)
		file.SetError(pe)
		return pe
	}
	series := result.(map[waveform.VariableID]*waveform.Series)
	file.SetBody(series)
	s.setProgress(file.CanonicalPath, 1.0)
	log.Infof("body loaded for %s (%d series)", file.CanonicalPath, len(series))
	return nil
}

func (s *Service) finishLoading(key string) {
	s.mu.Lock()
	delete(s.loadingInProgress, key)
	s.mu.Unlock()

	s.notifiersMu.Lock()
	waiters := s.loadingNotifiers[key]
	delete(s.loadingNotifiers, key)
	s.notifiersMu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}

func (s *Service) awaitNotifier(ctx context.Context, key string) error {
	s.notifiersMu.Lock()
	ch := make(chan struct{})
	s.loadingNotifiers[key] = append(s.loadingNotifiers[key], ch)
	s.notifiersMu.Unlock()

	timer := time.NewTimer(s.notifyTimeout)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-timer.C:
		return &ServiceError{Kind: ErrTimeout, Detail: key}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// VariableResult is one variable's slot in a UnifiedQuery response:
// either a transition vector, an explicit empty marker, or an error.
type VariableResult struct {
	VariableID  waveform.VariableID
	Transitions []waveform.Transition
	Empty       bool
	Err         error
}

// UnifiedQuery answers a viewport query: per variable, the in-range
// transitions downsampled to at most maxTransitions entries, an
// explicit empty marker, or an error. The requested range is clamped
// against the owning file's header bounds, never the variable's own
// transition extent: a signal that settles early still holds its last
// value to the end of the file, so a window past its final transition
// is a valid (if transition-free) query, not an out-of-range one.
func (s *Service) UnifiedQuery(ctx context.Context, canonicalPath string, variables []waveform.VariableID, rangeStart, rangeEnd wavetime.TimeNs, maxTransitions uint32) []VariableResult {
	s.mu.RLock()
	file, exists := s.files[canonicalPath]
	s.mu.RUnlock()

	out := make([]VariableResult, 0, len(variables))
	for _, vid := range variables {
		if !exists {
			out = append(out, VariableResult{VariableID: vid, Err: &ServiceError{Kind: ErrFileNotFound, Detail: canonicalPath}})
			continue
		}
		transitions, err := s.LoadSignal(ctx, canonicalPath, vid)
		if err != nil {
			out = append(out, VariableResult{VariableID: vid, Err: err})
			continue
		}
		_, bounds, _ := file.Snapshot()
		clamped, ok := wavetime.Range{Start: rangeStart, End: rangeEnd}.Intersect(wavetime.Range{Start: bounds.Min, End: bounds.Max})
		if !ok {
			out = append(out, VariableResult{VariableID: vid, Empty: true})
			continue
		}
		result, err := s.workers.submit(func() (interface{}, error) {
			return downsample.Downsample(transitions, clamped.Start, clamped.End, maxTransitions), nil
		})
		if err != nil {
			out = append(out, VariableResult{VariableID: vid, Err: toParseError(err)})
			continue
		}
		out = append(out, VariableResult{VariableID: vid, Transitions: result.([]waveform.Transition)})
	}
	return out
}

// CursorValue is one variable's answer to a cursor-values query.
type CursorValue struct {
	VariableID waveform.VariableID
	Value      waveform.Value
	Err        error
}

// CursorValues resolves, per variable, the value in effect at cursorNs:
// the value of the last transition at or before it.
func (s *Service) CursorValues(ctx context.Context, canonicalPath string, variables []waveform.VariableID, cursorNs wavetime.TimeNs) []CursorValue {
	out := make([]CursorValue, 0, len(variables))
	for _, vid := range variables {
		transitions, err := s.LoadSignal(ctx, canonicalPath, vid)
		if err != nil {
			out = append(out, CursorValue{VariableID: vid, Err: err})
			continue
		}
		out = append(out, CursorValue{VariableID: vid, Value: downsample.LastValueAtOrBefore(transitions, cursorNs)})
	}
	return out
}

// Reload marks the file stale and re-enters the
// parse pipeline. Selected-variable preservation is the caller's
// responsibility (internal/selectedvariables), since this service has no
// notion of "selection".
func (s *Service) Reload(ctx context.Context, canonicalPath string) (waveform.Header, error) {
	s.mu.Lock()
	file, exists := s.files[canonicalPath]
	s.mu.Unlock()
	if !exists {
		return waveform.Header{}, &ServiceError{Kind: ErrFileNotFound, Detail: canonicalPath}
	}

	var staleKeys []string
	s.transitionCache.Keys(func(key string, _ []waveform.Transition) {
		// Transition cache keys are bare variable ids, which already
		// embed the canonical path (file|scope|name) — dropping all keys
		// prefixed with this file's path and the "|" separator
		// invalidates exactly its entries.
		prefix := canonicalPath + "|"
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			staleKeys = append(staleKeys, key)
		}
	})
	for _, key := range staleKeys {
		s.transitionCache.Del(key)
	}

	file.ResetForReload()
	return s.ParseFile(ctx, canonicalPath)
}

func (s *Service) setProgress(canonicalPath string, p float64) {
	s.mu.Lock()
	s.parsingSessions[canonicalPath] = p
	s.mu.Unlock()
}

// Progress reports the per-path parse/decode progress in [0, 1]: 0 while
// the header parse runs, 0.5 once the header is loaded, 1 once the body
// is decoded. ok is false for a path no parse was ever requested for.
func (s *Service) Progress(canonicalPath string) (progress float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.parsingSessions[canonicalPath]
	return p, ok
}

// Stats returns the current cache hit/miss counters (store 7).
func (s *Service) Stats() (hits, misses uint64) { return s.cacheStats.Snapshot() }
