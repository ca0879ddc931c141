// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transport is the request/response bus: four outbound message
// kinds (ParseFile, LoadSignal, UnifiedSignalQuery, CursorValues) and
// their responses, plus an asynchronous ReloadWaveformFiles push,
// carried over one gorilla/websocket connection per client and routed
// through gorilla/mux, with google/uuid for connection ids and
// gorilla/handlers for CORS, compression, and access logging.
package transport

import (
	"encoding/json"

	"github.com/novywave/novywave-core/internal/signalservice"
	"github.com/novywave/novywave-core/internal/waveform"
	"github.com/novywave/novywave-core/pkg/wavetime"
)

// Envelope is the outer frame of every message in either direction: a
// type tag that selects the payload schema, an opaque request id echoed
// back on the matching response (empty for the unsolicited
// ReloadWaveformFiles push), and the type-specific payload.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Message type tags.
const (
	TypeParseFile             = "ParseFile"
	TypeHeaderLoaded          = "HeaderLoaded"
	TypeParseError            = "ParseError"
	TypeLoadSignal            = "LoadSignal"
	TypeSignalLoaded          = "SignalLoaded"
	TypeLoadError             = "LoadError"
	TypeUnifiedSignalQuery    = "UnifiedSignalQuery"
	TypeUnifiedSignalResponse = "UnifiedSignalResponse"
	TypeCursorValues          = "CursorValues"
	TypeBatchSignalValues     = "BatchSignalValues"
	TypeReloadWaveformFiles   = "ReloadWaveformFiles"
)

// ErrorKind is the wire form of the error enumeration surfaced at the
// boundary. TransportDisconnected is never produced by this server — it
// is the kind a client of this bus stamps onto its own in-flight
// requests when the connection drops, so it lives in the shared enum
// even though no handler below returns it.
type ErrorKind string

const (
	ErrFileNotFound               ErrorKind = "FileNotFound"
	ErrUnrecognisedFormat         ErrorKind = "UnrecognisedFormat"
	ErrParseFailed                ErrorKind = "ParseFailed"
	ErrTimeout                    ErrorKind = "Timeout"
	ErrLockPoisonedRecovered      ErrorKind = "LockPoisoned_Recovered"
	ErrTransportDisconnected      ErrorKind = "TransportDisconnected"
	ErrVariableMissingAfterReload ErrorKind = "VariableMissingAfterReload"
)

// errorKindOf classifies a signalservice error onto the wire enumeration.
// A worker-pool panic recovery (signalservice's panicError, surfaced as
// ErrParseFailed with detail "worker panicked") is reported as
// LockPoisoned_Recovered instead: a recovered internal consistency
// fault is distinct from an ordinary parse failure, even though
// signalservice itself does not keep that distinction internally.
func errorKindOf(err error) (ErrorKind, string) {
	se, ok := err.(*signalservice.ServiceError)
	if !ok {
		return ErrParseFailed, err.Error()
	}
	if se.Kind == signalservice.ErrParseFailed && se.Detail == "worker panicked" {
		return ErrLockPoisonedRecovered, se.Detail
	}
	switch se.Kind {
	case signalservice.ErrFileNotFound:
		return ErrFileNotFound, se.Detail
	case signalservice.ErrUnrecognisedFormat:
		return ErrUnrecognisedFormat, se.Detail
	case signalservice.ErrTimeout:
		return ErrTimeout, se.Detail
	case signalservice.ErrVariableMissing:
		return ErrVariableMissingAfterReload, se.Detail
	default:
		return ErrParseFailed, se.Detail
	}
}

// ParseFilePayload requests a header parse for one file.
type ParseFilePayload struct {
	Path string `json:"path"`
}

// ScopeDTO is one flattened node of a file's scope tree.
type ScopeDTO struct {
	Name      string        `json:"name"`
	Children  []ScopeDTO    `json:"children,omitempty"`
	Variables []VariableDTO `json:"variables,omitempty"`
}

// VariableDTO is the wire form of waveform.Variable.
type VariableDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ScopePath string `json:"scope_path"`
	WidthBits uint32 `json:"width_bits"`
	TypeLabel string `json:"type_label"`
}

func variableDTO(v waveform.Variable) VariableDTO {
	return VariableDTO{
		ID:        string(v.ID),
		Name:      v.Name,
		ScopePath: v.ScopePath,
		WidthBits: v.WidthBits,
		TypeLabel: v.TypeLabel,
	}
}

func scopeDTO(n *waveform.ScopeNode) ScopeDTO {
	dto := ScopeDTO{Name: n.Name}
	for _, v := range n.Variables() {
		dto.Variables = append(dto.Variables, variableDTO(v))
	}
	for _, name := range n.Children() {
		if child := n.Find([]string{name}); child != nil {
			dto.Children = append(dto.Children, scopeDTO(child))
		}
	}
	return dto
}

// HeaderLoadedPayload is the success response to ParseFile.
type HeaderLoadedPayload struct {
	Path      string        `json:"path"`
	Scopes    ScopeDTO      `json:"scopes"`
	Variables []VariableDTO `json:"variables"`
	BoundsNs  [2]uint64     `json:"bounds_ns"`
	Timescale string        `json:"timescale"`
}

func headerLoadedPayload(h waveform.Header) HeaderLoadedPayload {
	p := HeaderLoadedPayload{
		Path:      h.CanonicalPath,
		BoundsNs:  [2]uint64{uint64(h.Bounds.Min), uint64(h.Bounds.Max)},
		Timescale: h.Timescale.Label,
	}
	if h.Scopes != nil {
		p.Scopes = scopeDTO(h.Scopes)
		for _, v := range h.Scopes.AllVariables() {
			p.Variables = append(p.Variables, variableDTO(v))
		}
	}
	return p
}

// ParseErrorPayload is the failure response to ParseFile.
type ParseErrorPayload struct {
	Path string    `json:"path"`
	Kind ErrorKind `json:"kind"`
}

// LoadSignalPayload requests a decoded transition vector for one variable.
type LoadSignalPayload struct {
	File       string `json:"file"`
	VariableID string `json:"variable_id"`
}

// TransitionDTO is the wire form of waveform.Transition.
type TransitionDTO struct {
	TimeNs uint64 `json:"time_ns"`
	Value  string `json:"value"`
}

func transitionDTOs(ts []waveform.Transition) []TransitionDTO {
	out := make([]TransitionDTO, len(ts))
	for i, t := range ts {
		out[i] = TransitionDTO{TimeNs: uint64(t.TimeNs), Value: t.Value.String()}
	}
	return out
}

// SignalLoadedPayload is the success response to LoadSignal.
type SignalLoadedPayload struct {
	File        string          `json:"file"`
	VariableID  string          `json:"variable_id"`
	Transitions []TransitionDTO `json:"transitions"`
}

// LoadErrorPayload is the failure response to LoadSignal.
type LoadErrorPayload struct {
	File       string    `json:"file"`
	VariableID string    `json:"variable_id"`
	Kind       ErrorKind `json:"kind"`
	Detail     string    `json:"detail"`
}

// UnifiedSignalQueryPayload requests downsampled transitions for a batch
// of variables over one time range.
type UnifiedSignalQueryPayload struct {
	RequestID      string   `json:"request_id"`
	Variables      []string `json:"variables"`
	RangeStartNs   uint64   `json:"range_start_ns"`
	RangeEndNs     uint64   `json:"range_end_ns"`
	MaxTransitions uint32   `json:"max_transitions"`
}

// VariableResultDTO is one variable's slot in a UnifiedSignalResponse.
type VariableResultDTO struct {
	VariableID  string          `json:"variable_id"`
	Transitions []TransitionDTO `json:"transitions,omitempty"`
	Empty       bool            `json:"empty,omitempty"`
	ErrorKind   ErrorKind       `json:"error_kind,omitempty"`
	ErrorDetail string          `json:"error_detail,omitempty"`
}

func variableResultDTO(r signalservice.VariableResult) VariableResultDTO {
	dto := VariableResultDTO{VariableID: string(r.VariableID)}
	switch {
	case r.Err != nil:
		dto.ErrorKind, dto.ErrorDetail = errorKindOf(r.Err)
	case r.Empty:
		dto.Empty = true
	default:
		dto.Transitions = transitionDTOs(r.Transitions)
	}
	return dto
}

// UnifiedSignalResponsePayload is the response to UnifiedSignalQuery.
type UnifiedSignalResponsePayload struct {
	RequestID  string              `json:"request_id"`
	PerVariable []VariableResultDTO `json:"per_variable"`
}

// CursorValuesPayload requests the value in effect at cursorNs for a
// batch of variables.
type CursorValuesPayload struct {
	CursorNs  uint64   `json:"cursor_ns"`
	Variables []string `json:"variables"`
}

// CursorValueDTO is one variable's slot in a BatchSignalValues response.
type CursorValueDTO struct {
	VariableID  string    `json:"variable_id"`
	Value       string    `json:"value,omitempty"`
	NA          bool      `json:"na,omitempty"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
}

func cursorValueDTO(v signalservice.CursorValue) CursorValueDTO {
	dto := CursorValueDTO{VariableID: string(v.VariableID)}
	if v.Err != nil {
		dto.ErrorKind, dto.ErrorDetail = errorKindOf(v.Err)
		return dto
	}
	if v.Value.Special == waveform.SpecialNoData {
		dto.NA = true
		return dto
	}
	dto.Value = v.Value.String()
	return dto
}

// BatchSignalValuesPayload is the response to CursorValues.
type BatchSignalValuesPayload struct {
	PerVariable []CursorValueDTO `json:"per_variable"`
}

// ReloadFileDTO names one reloaded file by canonical and display path.
type ReloadFileDTO struct {
	Canonical string `json:"canonical"`
	Display   string `json:"display"`
}

// ReloadWaveformFilesPayload is the unsolicited push telling every
// connected client which files changed on disk.
type ReloadWaveformFilesPayload struct {
	Paths []ReloadFileDTO `json:"paths"`
}

func rangeFromUint64(startNs, endNs uint64) (wavetime.TimeNs, wavetime.TimeNs) {
	return wavetime.TimeNs(startNs), wavetime.TimeNs(endNs)
}
