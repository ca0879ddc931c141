// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package waveform

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/novywave/novywave-core/pkg/wavetime"
)

// GHW (GHDL Wave format) is GHDL's native VHDL simulation dump: a magic
// string, a fixed info block with the time-unit exponent, a string
// table, a hierarchy tree of instances and signals, then a time-stamped
// stream of signal-value frames, decoded against the section layout
// documented by GHDL's own ghwdump utility.
//
// Signal values are decoded as textual logic literals ('0', '1', 'x',
// 'z', 'u', and multi-bit strings of those). VHDL composite types
// (records, enumerations beyond std_logic, arrays of arbitrary element
// types) would need the full type table to interpret; a frame whose
// record cannot be resolved to a declared signal is rejected with a
// descriptive parse error rather than guessed at.

var ghwMagic = []byte("GHDLwave\n")

const (
	ghwSectionString    = 0x01
	ghwSectionHierarchy = 0x03
	ghwSectionValues    = 0x05
	ghwSectionEndOfFile = 0xff
)

const (
	ghwHierStartDesign = 0x1d
	ghwHierStartBlock  = 0x13
	ghwHierEndBlock    = 0x14
	ghwHierSignal      = 0x1f
)

func parseGHWHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, &ParseError{Kind: ErrParseFailed, Path: path, Detail: err.Error()}
	}
	defer f.Close()

	r := bufio.NewReader(f)
	timescale, strs, err := readGHWPreamble(r)
	if err != nil {
		return Header{}, &ParseError{Kind: ErrParseFailed, Path: path, Detail: err.Error()}
	}

	root := NewScopeTree(path)
	var bounds Bounds
	haveBounds := false

	for {
		tag, payload, err := readGHWSection(r)
		if err == io.EOF || tag == ghwSectionEndOfFile {
			break
		}
		if err != nil {
			return Header{}, &ParseError{Kind: ErrParseFailed, Path: path, Detail: err.Error()}
		}
		switch tag {
		case ghwSectionHierarchy:
			if _, err := decodeGHWHierarchy(payload, path, root, strs); err != nil {
				return Header{}, &ParseError{Kind: ErrParseFailed, Path: path, Detail: "hierarchy section: " + err.Error()}
			}
		case ghwSectionValues:
			b, ok, err := scanGHWValueBounds(payload, timescale)
			if err != nil {
				return Header{}, &ParseError{Kind: ErrParseFailed, Path: path, Detail: "value section: " + err.Error()}
			}
			if ok {
				if !haveBounds {
					bounds = b
					haveBounds = true
				} else {
					bounds = bounds.Union(b)
				}
			}
		default:
			// Type table and other sections aren't needed for the header.
		}
	}

	return Header{
		CanonicalPath: path,
		Format:        FormatGHW,
		Scopes:        root,
		Bounds:        bounds,
		Timescale:     timescale,
	}, nil
}

// parseGHWBody re-reads the section stream and decodes every value
// section's frames into per-variable transition vectors, converting
// native time units to nanoseconds once using the info block's
// exponent.
func parseGHWBody(path string, h Header) (map[VariableID]*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Kind: ErrParseFailed, Path: path, Detail: err.Error()}
	}
	defer f.Close()

	r := bufio.NewReader(f)
	timescale, strs, err := readGHWPreamble(r)
	if err != nil {
		return nil, &ParseError{Kind: ErrParseFailed, Path: path, Detail: err.Error()}
	}

	var ordered []Variable
	series := map[VariableID]*Series{}

	for {
		tag, payload, err := readGHWSection(r)
		if err == io.EOF || tag == ghwSectionEndOfFile {
			break
		}
		if err != nil {
			return nil, &ParseError{Kind: ErrParseFailed, Path: path, Detail: err.Error()}
		}
		switch tag {
		case ghwSectionHierarchy:
			ordered, err = decodeGHWHierarchy(payload, path, NewScopeTree(path), strs)
			if err != nil {
				return nil, &ParseError{Kind: ErrParseFailed, Path: path, Detail: "hierarchy section: " + err.Error()}
			}
			for _, v := range ordered {
				series[v.ID] = &Series{Variable: v}
			}
		case ghwSectionValues:
			if len(ordered) == 0 {
				return nil, &ParseError{Kind: ErrParseFailed, Path: path, Detail: "value section precedes the hierarchy section"}
			}
			if err := decodeGHWValues(payload, ordered, series, timescale); err != nil {
				return nil, &ParseError{Kind: ErrParseFailed, Path: path, Detail: "value section: " + err.Error()}
			}
		}
	}

	for vid, s := range series {
		if len(s.Transitions) == 0 {
			delete(series, vid)
			continue
		}
		s.Transitions = normalizeTransitions(s.Transitions)
	}
	return series, nil
}

// readGHWPreamble checks the magic string and reads the fixed info
// block (byte order mark, word size, version, time-unit exponent in its
// final byte) and the string table every later section indexes into.
func readGHWPreamble(r *bufio.Reader) (Timescale, []string, error) {
	magic := make([]byte, len(ghwMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return Timescale{}, nil, errGHWMalformed("truncated magic")
	}
	for i := range magic {
		if magic[i] != ghwMagic[i] {
			return Timescale{}, nil, errGHWMalformed("not a ghw file")
		}
	}

	info := make([]byte, 16)
	if _, err := io.ReadFull(r, info); err != nil {
		return Timescale{}, nil, errGHWMalformed("truncated info block")
	}
	timescale := ghwTimescaleFromExponent(int8(info[len(info)-1]))

	tag, payload, err := readGHWSection(r)
	if err != nil {
		return Timescale{}, nil, err
	}
	if tag != ghwSectionString {
		return Timescale{}, nil, errGHWMalformed("expected string section")
	}

	var strs []string
	start := 0
	for i, b := range payload {
		if b == 0 {
			strs = append(strs, string(payload[start:i]))
			start = i + 1
		}
	}
	return timescale, strs, nil
}

// readGHWSection reads one section frame: 1 byte tag, 4 bytes
// big-endian length, payload. The end-of-file sentinel is a bare tag
// with no length or payload.
func readGHWSection(r *bufio.Reader) (tag byte, payload []byte, err error) {
	tag, err = r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	if tag == ghwSectionEndOfFile {
		return tag, nil, nil
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, errGHWMalformed("truncated section length")
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	payload = make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, errGHWMalformed("truncated section payload")
	}
	return tag, payload, nil
}

func ghwTimescaleFromExponent(exp int8) Timescale {
	unitNs := 1.0
	switch exp {
	case -9:
		unitNs = 1
	case -6:
		unitNs = 1e3
	case -3:
		unitNs = 1e6
	case 0:
		unitNs = 1e9
	default:
		unitNs = 1
	}
	return Timescale{UnitPerNs: unitNs, Label: "ghw exponent"}
}

type ghwError string

func (e ghwError) Error() string { return string(e) }

func errGHWMalformed(msg string) error { return ghwError("malformed ghw: " + msg) }

// decodeGHWHierarchy walks a hierarchy section's tagged record stream,
// pushing/popping scopes and attaching signal declarations. The
// returned slice holds the signals in declaration order — a signal's
// 1-based position in it is the index value frames refer to it by.
func decodeGHWHierarchy(buf []byte, path string, root *ScopeNode, strs []string) ([]Variable, error) {
	var scopeStack []string
	var ordered []Variable
	c := &byteCursor{buf: buf}

	strAt := func(idx uint32) string {
		if int(idx) < len(strs) {
			return strs[idx]
		}
		return ""
	}
	readU32 := func() (uint32, bool) {
		b, ok := c.take(4)
		if !ok {
			return 0, false
		}
		return binary.BigEndian.Uint32(b), true
	}

	for !c.done() {
		recTag, ok := c.next()
		if !ok {
			break
		}
		switch recTag {
		case ghwHierStartDesign:
			// no payload beyond the tag
		case ghwHierStartBlock:
			nameIdx, ok := readU32()
			if !ok {
				return nil, errGHWMalformed("truncated block name")
			}
			scopeStack = append(scopeStack, strAt(nameIdx))
		case ghwHierEndBlock:
			if len(scopeStack) > 0 {
				scopeStack = scopeStack[:len(scopeStack)-1]
			}
		case ghwHierSignal:
			nameIdx, ok := readU32()
			if !ok {
				return nil, errGHWMalformed("truncated signal name")
			}
			width, ok := readU32()
			if !ok {
				return nil, errGHWMalformed("truncated signal width")
			}
			name := strAt(nameIdx)
			scopePath := joinScopePath(scopeStack)
			vid := NewVariableID(path, scopePath, name)
			node := root.FindOrCreate(scopeStack)
			v := Variable{
				ID:        vid,
				Name:      name,
				ScopePath: scopePath,
				WidthBits: width,
			}
			node.AddVariable(v)
			ordered = append(ordered, v)
		default:
			return nil, errGHWMalformed("unrecognised hierarchy record tag")
		}
	}
	return ordered, nil
}

// decodeGHWValues decodes one value section: a sequence of frames, each
// an 8-byte big-endian timestamp (native units) and a record count,
// followed by per record a 1-based signal index and a length-prefixed
// textual logic value.
func decodeGHWValues(buf []byte, ordered []Variable, series map[VariableID]*Series, ts Timescale) error {
	c := &byteCursor{buf: buf}
	for !c.done() {
		tmBytes, ok := c.take(8)
		if !ok {
			return errGHWMalformed("truncated frame timestamp")
		}
		tm := binary.BigEndian.Uint64(tmBytes)
		count, ok := c.varint()
		if !ok {
			return errGHWMalformed("truncated frame record count")
		}
		for i := uint64(0); i < count; i++ {
			idx, ok := c.varint()
			if !ok {
				return errGHWMalformed("truncated record index")
			}
			if idx == 0 || idx > uint64(len(ordered)) {
				return errGHWMalformed("record references an undeclared signal")
			}
			n, ok := c.varint()
			if !ok {
				return errGHWMalformed("truncated record value length")
			}
			val, ok := c.take(int(n))
			if !ok {
				return errGHWMalformed("truncated record value")
			}

			v := ordered[idx-1]
			t := wavetime.TimeNs(float64(tm) * ts.UnitPerNs)
			s := series[v.ID]
			s.Transitions = append(s.Transitions, Transition{TimeNs: t, Value: logicValue(string(val))})
		}
	}
	return nil
}

// scanGHWValueBounds walks a value section's frames reading only the
// timestamps, so the header pass can report Bounds without decoding
// every record.
func scanGHWValueBounds(buf []byte, ts Timescale) (Bounds, bool, error) {
	c := &byteCursor{buf: buf}
	var b Bounds
	have := false
	for !c.done() {
		tmBytes, ok := c.take(8)
		if !ok {
			return Bounds{}, false, errGHWMalformed("truncated frame timestamp")
		}
		tm := wavetime.TimeNs(float64(binary.BigEndian.Uint64(tmBytes)) * ts.UnitPerNs)
		if !have {
			b = Bounds{Min: tm, Max: tm}
			have = true
		} else {
			b = b.Union(Bounds{Min: tm, Max: tm})
		}
		count, ok := c.varint()
		if !ok {
			return Bounds{}, false, errGHWMalformed("truncated frame record count")
		}
		for i := uint64(0); i < count; i++ {
			if _, ok := c.varint(); !ok {
				return Bounds{}, false, errGHWMalformed("truncated record index")
			}
			n, ok := c.varint()
			if !ok {
				return Bounds{}, false, errGHWMalformed("truncated record value length")
			}
			if _, ok := c.take(int(n)); !ok {
				return Bounds{}, false, errGHWMalformed("truncated record value")
			}
		}
	}
	return b, have, nil
}
