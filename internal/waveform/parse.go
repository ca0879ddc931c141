// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package waveform

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrKind is the closed set of parse/load error kinds surfaced at the
// transport boundary.
type ErrKind int

const (
	ErrFileNotFound ErrKind = iota
	ErrUnrecognisedFormat
	ErrParseFailed
)

// ParseError is the typed error returned by Parse on failure. Never
// retried automatically.
type ParseError struct {
	Kind   ErrKind
	Path   string
	Detail string
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case ErrFileNotFound:
		return fmt.Sprintf("waveform: file not found: %s", e.Path)
	case ErrUnrecognisedFormat:
		return fmt.Sprintf("waveform: unrecognised format: %s", e.Path)
	default:
		return fmt.Sprintf("waveform: parse failed for %s: %s", e.Path, e.Detail)
	}
}

// DetectFormat infers the format from a file's extension. Waveform tools
// conventionally also sniff magic bytes; callers that already opened the
// file should prefer SniffFormat.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".vcd":
		return FormatVCD, nil
	case ".fst":
		return FormatFST, nil
	case ".ghw":
		return FormatGHW, nil
	default:
		return 0, &ParseError{Kind: ErrUnrecognisedFormat, Path: path}
	}
}

// Parse reads and decodes a waveform file's header (scope tree, variables,
// bounds, timescale). The body (transitions) is not decoded here — see
// ParseBody — mirroring the HeaderLoaded/BodyLoaded lifecycle split.
func Parse(canonicalPath string) (Header, error) {
	format, err := DetectFormat(canonicalPath)
	if err != nil {
		return Header{}, err
	}

	if _, statErr := os.Stat(canonicalPath); statErr != nil {
		if os.IsNotExist(statErr) {
			return Header{}, &ParseError{Kind: ErrFileNotFound, Path: canonicalPath}
		}
		return Header{}, &ParseError{Kind: ErrParseFailed, Path: canonicalPath, Detail: statErr.Error()}
	}

	switch format {
	case FormatVCD:
		return parseVCDHeader(canonicalPath)
	case FormatFST:
		return parseFSTHeader(canonicalPath)
	case FormatGHW:
		return parseGHWHeader(canonicalPath)
	default:
		return Header{}, &ParseError{Kind: ErrUnrecognisedFormat, Path: canonicalPath}
	}
}

// ParseBody decodes the full transition vectors for every variable in a
// file, given its already-parsed header.
func ParseBody(canonicalPath string, h Header) (map[VariableID]*Series, error) {
	switch h.Format {
	case FormatVCD:
		return parseVCDBody(canonicalPath, h)
	case FormatFST:
		return parseFSTBody(canonicalPath, h)
	case FormatGHW:
		return parseGHWBody(canonicalPath, h)
	default:
		return nil, &ParseError{Kind: ErrUnrecognisedFormat, Path: canonicalPath}
	}
}
