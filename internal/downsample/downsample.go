// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package downsample implements the backend's peak-preserving bucket
// downsampler for unified signal queries: a fixed bucket count with up
// to 4 representative transitions per bucket, never a smoothed average.
// Downsampling is dominance-preserving over digital logic values: a
// bucket touched by even one special state (Z/X/U/N/A) must report it,
// and narrow pulses must never vanish.
package downsample

import (
	"sort"

	"github.com/novywave/novywave-core/internal/waveform"
	"github.com/novywave/novywave-core/pkg/wavetime"
)

// specialPriority ranks special states when more than one is a candidate
// within the same bucket: Unknown ('X') dominates HighZ, which dominates
// Uninitialized, which dominates NoData — the more alarming state wins
// ties for the single slot that can be reported.
var specialPriority = map[waveform.SpecialState]int{
	waveform.SpecialUnknown:       4,
	waveform.SpecialHighZ:         3,
	waveform.SpecialUninitialized: 2,
	waveform.SpecialNoData:        1,
	waveform.SpecialNone:          0,
}

// Slice returns the subset of transitions (already sorted ascending by
// TimeNs) whose TimeNs falls in [rangeStart, rangeEnd], via binary search
// with no allocation of the full vector.
func Slice(transitions []waveform.Transition, rangeStart, rangeEnd wavetime.TimeNs) []waveform.Transition {
	lo := sort.Search(len(transitions), func(i int) bool {
		return transitions[i].TimeNs >= rangeStart
	})
	hi := sort.Search(len(transitions), func(i int) bool {
		return transitions[i].TimeNs > rangeEnd
	})
	if lo >= hi {
		return nil
	}
	return transitions[lo:hi]
}

// Downsample implements the unified-query algorithm: if the in-range
// slice already fits within maxTransitions it is returned unchanged;
// otherwise the range is divided into maxTransitions/4 equal-width
// buckets (minimum width 1 ns) and each non-empty bucket contributes up
// to 4 transitions: the bucket's first (start-edge) transition, the
// minimum-value transition, the maximum-value transition, and the last
// (end-edge) transition — deduplicated when they coincide. Any bucket
// touched by a special state contributes its highest-priority special
// transition in place of the min/max pair, so narrow special-state pulses
// are never collapsed away and the four-slot budget still holds.
func Downsample(transitions []waveform.Transition, rangeStart, rangeEnd wavetime.TimeNs, maxTransitions uint32) []waveform.Transition {
	slice := Slice(transitions, rangeStart, rangeEnd)
	if uint32(len(slice)) <= maxTransitions || maxTransitions == 0 {
		return slice
	}

	numBuckets := int(maxTransitions / 4)
	if numBuckets < 1 {
		numBuckets = 1
	}
	span := uint64(rangeEnd - rangeStart)
	// Ceiling of (span+1)/numBuckets: the range is inclusive of rangeEnd,
	// so span+1 instants must fit into numBuckets buckets.
	bucketWidth := (span + uint64(numBuckets)) / uint64(numBuckets)
	if bucketWidth < 1 {
		bucketWidth = 1
	}

	out := make([]waveform.Transition, 0, numBuckets*4)

	bucketStart := 0
	for bucketStart < len(slice) {
		bucketTimeEnd := rangeStart + wavetime.TimeNs(bucketWidth)*wavetime.TimeNs((uint64(slice[bucketStart].TimeNs-rangeStart)/bucketWidth)+1)
		bucketEnd := bucketStart
		for bucketEnd < len(slice) && slice[bucketEnd].TimeNs < bucketTimeEnd {
			bucketEnd++
		}
		out = append(out, representativeTransitions(slice[bucketStart:bucketEnd])...)
		bucketStart = bucketEnd
	}

	return out
}

// representativeTransitions picks at most 4 transitions from one bucket —
// bucket-start edge, bucket-min, bucket-max, bucket-end —
// so that, with numBuckets = maxTransitions/4, the total output can never
// exceed maxTransitions. For 1-bit digital signals min/max naturally
// degenerate to "preserve every distinct edge". Special-state dominance
// is honoured by substituting the highest-priority special-state
// transition for the min/max pair rather than adding a fifth slot: the
// invariant "≤ max_transitions" and "a bucket with a special state always
// reports it" must both hold simultaneously.
func representativeTransitions(bucket []waveform.Transition) []waveform.Transition {
	if len(bucket) == 0 {
		return nil
	}
	if len(bucket) <= 4 {
		out := make([]waveform.Transition, len(bucket))
		copy(out, bucket)
		return out
	}

	first := bucket[0]
	last := bucket[len(bucket)-1]

	var special *waveform.Transition
	minT, maxT := bucket[0], bucket[0]
	for i := range bucket {
		t := bucket[i]
		if valueLess(t.Value, minT.Value) {
			minT = t
		}
		if valueLess(maxT.Value, t.Value) {
			maxT = t
		}
		if t.Value.IsSpecial() {
			if special == nil || specialPriority[t.Value.Special] > specialPriority[special.Value.Special] {
				tc := t
				special = &tc
			}
		}
	}

	seen := map[wavetime.TimeNs]bool{}
	var out []waveform.Transition
	add := func(t waveform.Transition) {
		if seen[t.TimeNs] {
			return
		}
		seen[t.TimeNs] = true
		out = append(out, t)
	}
	add(first)
	if special != nil {
		add(*special)
	} else {
		add(minT)
		add(maxT)
	}
	add(last)

	sort.Slice(out, func(i, j int) bool { return out[i].TimeNs < out[j].TimeNs })
	return out
}

// valueLess treats a special state as neither less nor greater than any
// other value (special-state emission is guaranteed separately above,
// not via this ordering) and otherwise compares bitstrings as unsigned
// binary magnitudes.
func valueLess(a, b waveform.Value) bool {
	if a.IsSpecial() || b.IsSpecial() {
		return false
	}
	if len(a.Bits) != len(b.Bits) {
		return len(a.Bits) < len(b.Bits)
	}
	return a.Bits < b.Bits
}

// LastValueAtOrBefore finds the value in effect at time t: the value of
// the last transition with TimeNs <= t, or an explicit SpecialNoData
// marker if t precedes every transition.
func LastValueAtOrBefore(transitions []waveform.Transition, t wavetime.TimeNs) waveform.Value {
	idx := sort.Search(len(transitions), func(i int) bool {
		return transitions[i].TimeNs > t
	})
	if idx == 0 {
		return waveform.Value{Special: waveform.SpecialNoData}
	}
	return transitions[idx-1].Value
}
