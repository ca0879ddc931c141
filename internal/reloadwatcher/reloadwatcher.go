// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package reloadwatcher is the external file-system observer: it watches
// every tracked file's canonical path and emits
// reload_requested(canonical, display) into a trackedfiles.Domain when the
// underlying file changes on disk, so the timeline engine can invalidate
// its caches by canonical key on receipt.
//
// One fsnotify.Watcher serves every tracked file, with a background
// select loop over its Events/Errors channels and a per-path debounce:
// editors frequently truncate-then-rewrite on save, which would
// otherwise fire two reloads for one logical edit.
package reloadwatcher

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/novywave/novywave-core/internal/trackedfiles"
	"github.com/novywave/novywave-core/pkg/nats"
	"github.com/novywave/novywave-core/pkg/wavelog"
)

var log = wavelog.Component("reloadwatcher")

// reloadSubject is the NATS subject used to fan a reload out to other
// processes sharing the same workspace (e.g. a CLI regenerating a dump
// that a running viewer has open).
const reloadSubject = "novywave.reload"

// debounce coalesces a write-then-rewrite burst from one save into a
// single reload_requested.
const debounce = 200 * time.Millisecond

// Watcher watches a set of canonical file paths and pushes
// reload_requested events into a trackedfiles.Domain.
type Watcher struct {
	target *trackedfiles.Domain

	fsw *fsnotify.Watcher

	mu            sync.Mutex
	displayByPath map[string]string
	timers        map[string]*time.Timer
	natsClient    *nats.Client
	closed        bool
	done          chan struct{}
}

// New creates a Watcher delivering reload_requested events into target.
func New(target *trackedfiles.Domain) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("reloadwatcher: creating watcher: %w", err)
	}
	w := &Watcher{
		target:        target,
		fsw:           fsw,
		displayByPath: make(map[string]string),
		timers:        make(map[string]*time.Timer),
		done:          make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// WithNATS enables cross-process fan-out: reloads observed locally are
// published to reloadSubject, and reloads published by other processes
// watching the same workspace are delivered as if observed locally.
func (w *Watcher) WithNATS(client *nats.Client) error {
	w.mu.Lock()
	w.natsClient = client
	w.mu.Unlock()
	return client.Subscribe(reloadSubject, w.onRemoteReload)
}

// Watch starts watching canonicalPath for changes, associating it with
// displayPath for the events this Watcher emits.
func (w *Watcher) Watch(canonicalPath, displayPath string) error {
	w.mu.Lock()
	w.displayByPath[canonicalPath] = displayPath
	w.mu.Unlock()

	if err := w.fsw.Add(canonicalPath); err != nil {
		return fmt.Errorf("reloadwatcher: watching %q: %w", canonicalPath, err)
	}
	return nil
}

// Unwatch stops watching canonicalPath, e.g. once its tracked file is
// removed from the workspace.
func (w *Watcher) Unwatch(canonicalPath string) {
	w.mu.Lock()
	delete(w.displayByPath, canonicalPath)
	if t, ok := w.timers[canonicalPath]; ok {
		t.Stop()
		delete(w.timers, canonicalPath)
	}
	w.mu.Unlock()

	if err := w.fsw.Remove(canonicalPath); err != nil {
		log.Warnf("unwatching %q: %s", canonicalPath, err)
	}
}

// Close stops the watch loop and releases the underlying fsnotify handle.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	if err := w.fsw.Close(); err != nil {
		log.Warnf("closing watcher: %s", err)
	}
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Errorf("watch loop: %s", err)
		case e, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload(e.Name)
		}
	}
}

// scheduleReload debounces repeated fsnotify events for the same path
// into one reload_requested, matching editor save patterns that touch a
// file more than once per logical save.
func (w *Watcher) scheduleReload(canonicalPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, tracked := w.displayByPath[canonicalPath]; !tracked {
		return
	}
	if t, ok := w.timers[canonicalPath]; ok {
		t.Reset(debounce)
		return
	}
	w.timers[canonicalPath] = time.AfterFunc(debounce, func() { w.fireLocalReload(canonicalPath) })
}

func (w *Watcher) fireLocalReload(canonicalPath string) {
	w.mu.Lock()
	display, ok := w.displayByPath[canonicalPath]
	delete(w.timers, canonicalPath)
	client := w.natsClient
	w.mu.Unlock()
	if !ok {
		return
	}

	w.sendReload(canonicalPath, display)

	if client != nil {
		if err := client.Publish(reloadSubject, []byte(canonicalPath)); err != nil {
			log.Warnf("publishing reload for %q: %s", display, err)
		}
	}
}

// onRemoteReload is the nats.MessageHandler for events published by other
// processes; it only acts on paths this process is itself watching.
func (w *Watcher) onRemoteReload(_ string, data []byte) {
	canonicalPath := string(data)
	w.mu.Lock()
	display, ok := w.displayByPath[canonicalPath]
	w.mu.Unlock()
	if !ok {
		return
	}
	w.sendReload(canonicalPath, display)
}

// sendReload is the single textual call-site into target.ReloadRequested,
// required because the relay records its caller's source line and rejects
// a second distinct one (see pkg/reactive.Relay); both the local fsnotify
// path and the remote NATS path route through here.
func (w *Watcher) sendReload(canonicalPath, displayPath string) {
	if err := w.target.ReloadRequested.Send(trackedfiles.ReloadRequested{
		CanonicalPath: canonicalPath,
		DisplayPath:   displayPath,
	}); err != nil {
		log.Warnf("reload_requested for %q: %s", displayPath, err)
	}
}
