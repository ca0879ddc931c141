// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package timeline

import (
	"github.com/novywave/novywave-core/internal/selectedvariables"
	"github.com/novywave/novywave-core/internal/trackedfiles"
	"github.com/novywave/novywave-core/internal/waveform"
)

// ComputeBounds is the maximum-bounds computer: the
// union of bounds over every file that owns at least one selected
// variable. found is false when the selection is empty or every selected
// variable's owning file is untracked (e.g. briefly, around a reload) —
// both cases drive the timeline engine into its explicit empty state,
// never a fallback default range.
func ComputeBounds(selected []selectedvariables.Selection, files map[string]trackedfiles.FileState) (waveform.Bounds, bool) {
	var out waveform.Bounds
	found := false
	for _, sel := range selected {
		fs, ok := files[canonicalPathOf(sel.VariableID)]
		if !ok {
			continue
		}
		if !found {
			out = fs.Bounds
			found = true
			continue
		}
		out = out.Union(fs.Bounds)
	}
	return out, found
}
