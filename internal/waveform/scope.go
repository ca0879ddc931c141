// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package waveform

import "sync"

// ScopeNode is one node of a waveform file's scope hierarchy: a named
// container (module/instance) that may hold child scopes and/or
// variables.
type ScopeNode struct {
	Name     string
	lock     sync.RWMutex
	children map[string]*ScopeNode
	vars     []Variable
}

// NewScopeTree creates an empty root scope node (the file itself).
func NewScopeTree(name string) *ScopeNode {
	return &ScopeNode{Name: name}
}

// FindOrCreate walks path, creating any missing intermediate scopes.
// The read-then-upgrade-to-write locking keeps concurrent parses of
// sibling scopes from serializing on a single lock.
func (n *ScopeNode) FindOrCreate(path []string) *ScopeNode {
	if len(path) == 0 {
		return n
	}

	n.lock.RLock()
	child, ok := n.children[path[0]]
	n.lock.RUnlock()
	if ok {
		return child.FindOrCreate(path[1:])
	}

	n.lock.Lock()
	if n.children == nil {
		n.children = make(map[string]*ScopeNode)
	}
	child, ok = n.children[path[0]]
	if !ok {
		child = &ScopeNode{Name: path[0]}
		n.children[path[0]] = child
	}
	n.lock.Unlock()
	return child.FindOrCreate(path[1:])
}

// Find walks path without creating missing scopes, returning nil if any
// segment is absent.
func (n *ScopeNode) Find(path []string) *ScopeNode {
	if len(path) == 0 {
		return n
	}
	n.lock.RLock()
	defer n.lock.RUnlock()
	child, ok := n.children[path[0]]
	if !ok {
		return nil
	}
	return child.Find(path[1:])
}

// AddVariable attaches a variable to this scope node.
func (n *ScopeNode) AddVariable(v Variable) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.vars = append(n.vars, v)
}

// Variables returns a copy of this scope's own variables (not descendants').
func (n *ScopeNode) Variables() []Variable {
	n.lock.RLock()
	defer n.lock.RUnlock()
	out := make([]Variable, len(n.vars))
	copy(out, n.vars)
	return out
}

// Children returns the names of this scope's immediate children, in no
// particular order.
func (n *ScopeNode) Children() []string {
	n.lock.RLock()
	defer n.lock.RUnlock()
	out := make([]string, 0, len(n.children))
	for name := range n.children {
		out = append(out, name)
	}
	return out
}

// Walk visits every scope in the tree depth-first, calling f with the
// scope's full dotted path.
func (n *ScopeNode) Walk(prefix []string, f func(path []string, scope *ScopeNode)) {
	f(prefix, n)
	n.lock.RLock()
	children := make([]*ScopeNode, 0, len(n.children))
	for _, c := range n.children {
		children = append(children, c)
	}
	n.lock.RUnlock()
	for _, c := range children {
		c.Walk(append(append([]string{}, prefix...), c.Name), f)
	}
}

// AllVariables collects every variable in the tree.
func (n *ScopeNode) AllVariables() []Variable {
	var out []Variable
	n.Walk(nil, func(_ []string, s *ScopeNode) {
		out = append(out, s.Variables()...)
	})
	return out
}
