// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/novywave/novywave-core/internal/signalservice"
	"github.com/novywave/novywave-core/internal/waveform"
	"github.com/novywave/novywave-core/pkg/wavetime"
)

// Connection is one client's websocket session. Requests are read and
// handled one at a time on a single goroutine (serve's loop), which is
// the simplest way to guarantee responses are delivered in request
// order without a reorder buffer: a response is always written before
// the next request is even read. A slow ParseFile/LoadSignal therefore
// head-of-line-blocks later requests on the same connection; a client
// that wants concurrency opens more than one connection.
type Connection struct {
	id      string
	ws      *websocket.Conn
	service *signalservice.Service

	onFileParsed func(header waveform.Header)

	writeMu sync.Mutex
}

func (c *Connection) serve(ctx context.Context) {
	defer c.ws.Close()
	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("connection %s: %s", c.id, err)
			}
			return
		}
		c.dispatch(ctx, env)
	}
}

func (c *Connection) writeEnvelope(env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(env)
}

func marshalPayload(v interface{}) (json.RawMessage, error) {
	return json.Marshal(v)
}

func (c *Connection) dispatch(ctx context.Context, env Envelope) {
	switch env.Type {
	case TypeParseFile:
		c.handleParseFile(ctx, env)
	case TypeLoadSignal:
		c.handleLoadSignal(ctx, env)
	case TypeUnifiedSignalQuery:
		c.handleUnifiedSignalQuery(ctx, env)
	case TypeCursorValues:
		c.handleCursorValues(ctx, env)
	default:
		log.Warnf("connection %s: unknown message type %q", c.id, env.Type)
	}
}

func (c *Connection) handleParseFile(ctx context.Context, env Envelope) {
	var req ParseFilePayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		log.Warnf("connection %s: malformed ParseFile: %s", c.id, err)
		return
	}

	header, err := c.service.ParseFile(ctx, req.Path)
	if err != nil {
		kind, _ := errorKindOf(err)
		c.respond(env.RequestID, TypeParseError, ParseErrorPayload{Path: req.Path, Kind: kind})
		return
	}
	c.respond(env.RequestID, TypeHeaderLoaded, headerLoadedPayload(header))
	if c.onFileParsed != nil {
		c.onFileParsed(header)
	}
}

func (c *Connection) handleLoadSignal(ctx context.Context, env Envelope) {
	var req LoadSignalPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		log.Warnf("connection %s: malformed LoadSignal: %s", c.id, err)
		return
	}

	vid := waveform.VariableID(req.VariableID)
	transitions, err := c.service.LoadSignal(ctx, req.File, vid)
	if err != nil {
		kind, detail := errorKindOf(err)
		c.respond(env.RequestID, TypeLoadError, LoadErrorPayload{
			File: req.File, VariableID: req.VariableID, Kind: kind, Detail: detail,
		})
		return
	}
	c.respond(env.RequestID, TypeSignalLoaded, SignalLoadedPayload{
		File: req.File, VariableID: req.VariableID, Transitions: transitionDTOs(transitions),
	})
}

func (c *Connection) handleUnifiedSignalQuery(ctx context.Context, env Envelope) {
	var req UnifiedSignalQueryPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		log.Warnf("connection %s: malformed UnifiedSignalQuery: %s", c.id, err)
		return
	}
	if len(req.Variables) == 0 {
		c.respond(env.RequestID, TypeUnifiedSignalResponse, UnifiedSignalResponsePayload{RequestID: req.RequestID})
		return
	}

	canonicalPath := canonicalPathOf(req.Variables[0])
	vids := make([]waveform.VariableID, len(req.Variables))
	for i, v := range req.Variables {
		vids[i] = waveform.VariableID(v)
	}
	start, end := rangeFromUint64(req.RangeStartNs, req.RangeEndNs)

	results := c.service.UnifiedQuery(ctx, canonicalPath, vids, start, end, req.MaxTransitions)
	dtos := make([]VariableResultDTO, len(results))
	for i, r := range results {
		dtos[i] = variableResultDTO(r)
	}
	c.respond(env.RequestID, TypeUnifiedSignalResponse, UnifiedSignalResponsePayload{
		RequestID: req.RequestID, PerVariable: dtos,
	})
}

func (c *Connection) handleCursorValues(ctx context.Context, env Envelope) {
	var req CursorValuesPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		log.Warnf("connection %s: malformed CursorValues: %s", c.id, err)
		return
	}
	if len(req.Variables) == 0 {
		c.respond(env.RequestID, TypeBatchSignalValues, BatchSignalValuesPayload{})
		return
	}

	canonicalPath := canonicalPathOf(req.Variables[0])
	vids := make([]waveform.VariableID, len(req.Variables))
	for i, v := range req.Variables {
		vids[i] = waveform.VariableID(v)
	}

	results := c.service.CursorValues(ctx, canonicalPath, vids, wavetimeFromUint64(req.CursorNs))
	dtos := make([]CursorValueDTO, len(results))
	for i, r := range results {
		dtos[i] = cursorValueDTO(r)
	}
	c.respond(env.RequestID, TypeBatchSignalValues, BatchSignalValuesPayload{PerVariable: dtos})
}

func (c *Connection) respond(requestID, msgType string, payload interface{}) {
	raw, err := marshalPayload(payload)
	if err != nil {
		log.Errorf("connection %s: marshaling %s: %s", c.id, msgType, err)
		return
	}
	if err := c.writeEnvelope(Envelope{Type: msgType, RequestID: requestID, Payload: raw}); err != nil {
		log.Warnf("connection %s: write failed: %s", c.id, err)
	}
}

// canonicalPathOf extracts the file portion of a "file|scope|name"
// VariableID; a batch query's variables always share one canonical path
// since the UI only ever queries one open file's signals at a time.
func canonicalPathOf(variableID string) string {
	return waveform.VariableID(variableID).CanonicalPath()
}

func wavetimeFromUint64(v uint64) wavetime.TimeNs {
	return wavetime.TimeNs(v)
}
