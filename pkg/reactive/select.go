// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package reactive

import "reflect"

// Source is one named input stream into a cooperative multi-source select.
type Source struct {
	Name string
	Chan interface{} // must be a receive-able channel
}

// SelectOne blocks until exactly one of sources has a ready value, then
// returns that source's name and the received value (as interface{}) plus
// whether the channel is still open. Go's own `select` statement already
// picks uniformly at random among ready cases, which is what makes this
// starvation-free: no source can be starved forever by another source that
// is merely busier, since each round every ready case has equal odds.
//
// This helper exists for loops that own a dynamically sized set of input
// relays; loops with a fixed set of inputs (such as the timeline engine's
// state loop) use a plain Go `select` statement, which is clearer and
// just as starvation-free.
func SelectOne(sources []Source) (name string, value interface{}, ok bool) {
	cases := make([]reflect.SelectCase, len(sources))
	for i, s := range sources {
		cases[i] = reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(s.Chan),
		}
	}
	chosen, recv, recvOK := reflect.Select(cases)
	if !recvOK {
		return sources[chosen].Name, nil, false
	}
	return sources[chosen].Name, recv.Interface(), true
}
