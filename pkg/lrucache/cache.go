// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
//
// Adapted for NovyWave: generalized from interface{} to a generic value
// type so it can back both the backend transition cache and any other
// size/TTL bounded cache without boxing.
package lrucache

import (
	"sync"
	"time"
)

// ComputeValue is the closure passed to Get to compute the value in case
// it is not cached.
//
// Returned values are the computed value to be stored in the cache, the
// duration until this value expires, and a size estimate.
type ComputeValue[V any] func() (value V, ttl time.Duration, size int)

type cacheEntry[V any] struct {
	key   string
	value V

	expiration            time.Time
	size                  int
	waitingForComputation int
	computed              bool

	next, prev *cacheEntry[V]
}

// Cache is a size-bounded, TTL-aware, in-memory cache that deduplicates
// concurrent computations of the same key: if goroutine B calls Get for a
// key that goroutine A is already computing, B blocks until A's result is
// ready instead of recomputing it.
type Cache[V any] struct {
	mutex                  sync.Mutex
	cond                   *sync.Cond
	maxmemory, usedmemory  int
	entries                map[string]*cacheEntry[V]
	head, tail             *cacheEntry[V]
}

// New returns a new bounded in-memory cache. maxmemory is measured in the
// same unit as the `size` returned by ComputeValue/Put.
func New[V any](maxmemory int) *Cache[V] {
	c := &Cache[V]{
		maxmemory: maxmemory,
		entries:   map[string]*cacheEntry[V]{},
	}
	c.cond = sync.NewCond(&c.mutex)
	return c
}

// Get returns the cached value for key, or calls computeValue and stores
// its result. computeValue runs outside the lock and must not call methods
// on this same cache or a deadlock will occur. If computeValue is nil and
// nothing is cached, the zero value and false are returned. If another
// goroutine is already computing this key, Get waits for that result.
func (c *Cache[V]) Get(key string, computeValue ComputeValue[V]) (V, bool) {
	now := time.Now()

	c.mutex.Lock()
	if entry, ok := c.entries[key]; ok {
		for !entry.computed {
			entry.waitingForComputation++
			c.cond.Wait()
			entry.waitingForComputation--
		}

		if now.After(entry.expiration) {
			if !c.evictEntry(entry) {
				c.mutex.Unlock()
				return entry.value, true
			}
		} else {
			if entry != c.head {
				c.unlinkEntry(entry)
				c.insertFront(entry)
			}
			c.mutex.Unlock()
			return entry.value, true
		}
	}

	if computeValue == nil {
		c.mutex.Unlock()
		var zero V
		return zero, false
	}

	entry := &cacheEntry[V]{
		key:                   key,
		waitingForComputation: 1,
	}
	c.entries[key] = entry

	hasPaniced := true
	defer func() {
		if hasPaniced {
			c.mutex.Lock()
			delete(c.entries, key)
			entry.computed = true
			entry.waitingForComputation--
			c.cond.Broadcast()
			c.mutex.Unlock()
		}
	}()

	c.mutex.Unlock()
	value, ttl, size := computeValue()
	c.mutex.Lock()
	hasPaniced = false

	entry.value = value
	entry.expiration = now.Add(ttl)
	entry.size = size
	entry.computed = true
	entry.waitingForComputation--

	if entry.waitingForComputation > 0 {
		c.cond.Broadcast()
	}

	c.usedmemory += size
	c.insertFront(entry)
	c.evictIfOverCapacity(now)
	c.mutex.Unlock()

	return value, true
}

// Put unconditionally stores value under key, waiting out any in-flight
// computation for that key first.
func (c *Cache[V]) Put(key string, value V, size int, ttl time.Duration) {
	now := time.Now()
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if entry, ok := c.entries[key]; ok {
		for !entry.computed {
			entry.waitingForComputation++
			c.cond.Wait()
			entry.waitingForComputation--
		}

		c.usedmemory -= entry.size
		entry.expiration = now.Add(ttl)
		entry.size = size
		entry.value = value
		entry.computed = true
		c.usedmemory += entry.size

		c.unlinkEntry(entry)
		c.insertFront(entry)
		c.evictIfOverCapacity(now)
		return
	}

	entry := &cacheEntry[V]{
		key:        key,
		value:      value,
		expiration: now.Add(ttl),
		size:       size,
		computed:   true,
	}
	c.entries[key] = entry
	c.usedmemory += size
	c.insertFront(entry)
	c.evictIfOverCapacity(now)
}

// Del removes key from the cache, returning whether it was present.
func (c *Cache[V]) Del(key string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if entry, ok := c.entries[key]; ok {
		return c.evictEntry(entry)
	}
	return false
}

// Len returns the number of entries currently stored (including expired
// ones not yet evicted).
func (c *Cache[V]) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries)
}

// Keys calls f for every live (non-expired) entry. The cache is fully
// locked for the duration of the call.
func (c *Cache[V]) Keys(f func(key string, val V)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if !e.computed {
			continue
		}
		if now.After(e.expiration) {
			if c.evictEntry(e) {
				continue
			}
		}
		f(key, e.value)
	}
}

// evictIfOverCapacity walks the LRU tail evicting entries with a nonzero
// size, or expired entries, until usedmemory is back under maxmemory.
// Caller must hold c.mutex.
func (c *Cache[V]) evictIfOverCapacity(now time.Time) {
	candidate := c.tail
	for c.usedmemory > c.maxmemory && candidate != nil {
		next := candidate.prev
		if (candidate.size > 0 || now.After(candidate.expiration)) &&
			candidate.waitingForComputation == 0 {
			c.evictEntry(candidate)
		}
		candidate = next
	}
}

func (c *Cache[V]) insertFront(e *cacheEntry[V]) {
	e.next = c.head
	c.head = e

	e.prev = nil
	if e.next != nil {
		e.next.prev = e
	}

	if c.tail == nil {
		c.tail = e
	}
}

func (c *Cache[V]) unlinkEntry(e *cacheEntry[V]) {
	if e == c.head {
		c.head = e.next
	}
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if e == c.tail {
		c.tail = e.prev
	}
}

func (c *Cache[V]) evictEntry(e *cacheEntry[V]) bool {
	if e.waitingForComputation != 0 {
		return false
	}

	c.unlinkEntry(e)
	c.usedmemory -= e.size
	delete(c.entries, e.key)
	return true
}
