// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package reactive is NovyWave's dataflow substrate: the only sanctioned
// mutation primitives in the frontend. No component above this package may
// hold shared mutable state outside a Cell, Sequence, Map, or Relay.
//
// Each piece of state has one owning loop driving it through a change
// signal the rest of the program selects on; events fan out from a
// single hub to per-subscriber channels in send order. Built on stdlib
// channels and sync — no pub/sub library earns its keep at this size.
package reactive

import (
	"fmt"
	"runtime"
	"sync"
)

// Relay is a single-producer, multi-consumer event channel. Exactly one
// textual call site may ever call Send on a given Relay; any number of
// call sites may Subscribe. The name should describe the observed event
// ("file_dropped"), not the action that causes it ("add_file").
type Relay[T any] struct {
	name string

	mu       sync.Mutex
	sendSite string
	subs     []chan T
	closed   bool
}

// NewRelay creates a named relay. The name is used only for diagnostics
// (error messages, logging) and has no effect on delivery.
func NewRelay[T any](name string) *Relay[T] {
	return &Relay[T]{name: name}
}

// Name returns the relay's diagnostic name.
func (r *Relay[T]) Name() string { return r.name }

// ErrDualSource is returned by Send when a second call site attempts to
// send into a relay that already has a recorded sender.
type ErrDualSource struct {
	Relay      string
	FirstSite  string
	SecondSite string
}

func (e *ErrDualSource) Error() string {
	return fmt.Sprintf("reactive: relay %q has two send call-sites (%s and %s); a relay may have exactly one",
		e.Relay, e.FirstSite, e.SecondSite)
}

// Send delivers v to every current subscriber, in subscription order,
// blocking until each has accepted it (subscriber channels are buffered,
// so this only blocks a slow/stalled consumer, never a design-conforming
// one). Send enforces the single-source-call-site invariant: the first
// call site recorded for this relay is the only call site ever allowed to
// call Send again. A violation is reported as an *ErrDualSource rather than
// silently accepted.
func (r *Relay[T]) Send(v T) error {
	_, file, line, _ := runtime.Caller(1)
	site := fmt.Sprintf("%s:%d", file, line)

	r.mu.Lock()
	if r.sendSite == "" {
		r.sendSite = site
	} else if r.sendSite != site {
		first := r.sendSite
		r.mu.Unlock()
		return &ErrDualSource{Relay: r.name, FirstSite: first, SecondSite: site}
	}
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("reactive: relay %q is closed", r.name)
	}
	subs := make([]chan T, len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	for _, ch := range subs {
		ch <- v
	}
	return nil
}

// Subscribe registers a new consumer and returns its event channel. The
// channel is closed if the relay is closed.
func (r *Relay[T]) Subscribe() <-chan T {
	ch := make(chan T, 32)
	r.mu.Lock()
	if r.closed {
		close(ch)
		r.mu.Unlock()
		return ch
	}
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

// Close closes every subscriber channel. Further Send calls fail.
func (r *Relay[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, ch := range r.subs {
		close(ch)
	}
	r.subs = nil
}
