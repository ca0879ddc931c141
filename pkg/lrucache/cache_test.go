// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package lrucache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBasics(t *testing.T) {
	cache := New[string](123)

	value1, ok := cache.Get("foo", func() (string, time.Duration, int) {
		return "bar", time.Second, 0
	})
	assert.True(t, ok)
	assert.Equal(t, "bar", value1)

	value2, ok := cache.Get("foo", func() (string, time.Duration, int) {
		t.Error("value should be cached")
		return "", 0, 0
	})
	assert.True(t, ok)
	assert.Equal(t, "bar", value2)

	assert.True(t, cache.Del("foo"))

	value3, ok := cache.Get("foo", func() (string, time.Duration, int) {
		return "baz", time.Second, 0
	})
	assert.True(t, ok)
	assert.Equal(t, "baz", value3)

	cache.Keys(func(key string, value string) {
		assert.Equal(t, "foo", key)
		assert.Equal(t, "baz", value)
	})
}

func TestExpiration(t *testing.T) {
	cache := New[string](123)

	failIfCalled := func() (string, time.Duration, int) {
		t.Error("value should be cached")
		return "", 0, 0
	}

	val1, _ := cache.Get("foo", func() (string, time.Duration, int) {
		return "bar", 5 * time.Millisecond, 0
	})
	val2, _ := cache.Get("bar", func() (string, time.Duration, int) {
		return "foo", 20 * time.Millisecond, 0
	})

	val3, _ := cache.Get("foo", failIfCalled)
	val4, _ := cache.Get("bar", failIfCalled)
	assert.Equal(t, val1, val3)
	assert.Equal(t, val2, val4)

	time.Sleep(10 * time.Millisecond)

	val5, _ := cache.Get("foo", func() (string, time.Duration, int) {
		return "baz", 0, 0
	})
	val6, _ := cache.Get("bar", failIfCalled)
	assert.Equal(t, "baz", val5)
	assert.Equal(t, "foo", val6)

	time.Sleep(15 * time.Millisecond)
	cache.Keys(func(key string, val string) {
		if key == "bar" {
			t.Error("bar should have expired")
		}
	})
}

func TestEviction(t *testing.T) {
	c := New[string](100)
	failIfCalled := func() (string, time.Duration, int) {
		t.Error("value should be cached")
		return "", 0, 0
	}

	v1, _ := c.Get("foo", func() (string, time.Duration, int) {
		return "bar", time.Second, 1000
	})
	v2, _ := c.Get("foo", func() (string, time.Duration, int) {
		return "baz", time.Second, 1000
	})
	assert.Equal(t, "bar", v1)
	assert.Equal(t, "baz", v2)

	_, _ = c.Get("A", func() (string, time.Duration, int) {
		return "a", time.Second, 50
	})
	_, _ = c.Get("B", func() (string, time.Duration, int) {
		return "b", time.Second, 50
	})
	_, _ = c.Get("A", failIfCalled)
	_, _ = c.Get("B", failIfCalled)
	_, _ = c.Get("C", func() (string, time.Duration, int) {
		return "c", time.Second, 50
	})
	_, _ = c.Get("B", failIfCalled)
	_, _ = c.Get("C", failIfCalled)

	v4, _ := c.Get("A", func() (string, time.Duration, int) {
		return "evicted", time.Second, 25
	})
	assert.Equal(t, "evicted", v4)

	c.Keys(func(key string, val string) {
		if key != "A" && key != "C" {
			t.Errorf("%q was not expected to survive eviction", key)
		}
	})
}

// Time-based and therefore inherently a little flaky, like the original.
func TestConcurrency(t *testing.T) {
	c := New[string](100)
	var wg sync.WaitGroup

	const numActions = 2000
	const numThreads = 4
	wg.Add(numThreads)

	var concurrentModifications int32

	for range numThreads {
		go func() {
			defer wg.Done()
			for range numActions {
				_, _ = c.Get("key", func() (string, time.Duration, int) {
					m := atomic.AddInt32(&concurrentModifications, 1)
					if m != 1 {
						t.Error("only one goroutine at a time should compute a value for the same key")
					}
					time.Sleep(time.Millisecond)
					atomic.AddInt32(&concurrentModifications, -1)
					return "value", 3 * time.Millisecond, 1
				})
			}
		}()
	}

	wg.Wait()
	c.Keys(func(key, val string) {})
}

func TestPanicRecovery(t *testing.T) {
	c := New[string](100)
	c.Put("bar", "baz", 3, time.Minute)

	assert.Panics(t, func() {
		_, _ = c.Get("foo", func() (string, time.Duration, int) {
			panic("oops")
		})
	})

	v, ok := c.Get("bar", func() (string, time.Duration, int) {
		t.Fatal("should not be called")
		return "", 0, 0
	})
	assert.True(t, ok)
	assert.Equal(t, "baz", v)

	assert.Panics(t, func() {
		_, _ = c.Get("foo", func() (string, time.Duration, int) {
			panic("oops again")
		})
	})
}
