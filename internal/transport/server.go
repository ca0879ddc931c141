// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/novywave/novywave-core/internal/signalservice"
	"github.com/novywave/novywave-core/internal/waveform"
	"github.com/novywave/novywave-core/pkg/wavelog"
)

var log = wavelog.Component("transport")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// reloadCoalesce batches a burst of reloadwatcher events into one
// ReloadWaveformFiles push instead of one per file.
const reloadCoalesce = 60 * time.Millisecond

// Server owns the websocket endpoint and the registry of live
// connections needed to push ReloadWaveformFiles to everyone.
type Server struct {
	service *signalservice.Service

	mu    sync.Mutex
	conns map[string]*Connection

	pendingMu sync.Mutex
	pending   map[string]ReloadFileDTO
	timer     *time.Timer

	// onFileParsed, if set, is invoked after a ParseFile request
	// succeeds, letting the process owner (cmd/novywave-backend) register
	// the file with internal/trackedfiles and internal/reloadwatcher
	// without this package importing either.
	onFileParsed func(header waveform.Header)
}

// NewServer constructs a Server dispatching requests to service.
func NewServer(service *signalservice.Service) *Server {
	return &Server{
		service: service,
		conns:   make(map[string]*Connection),
		pending: make(map[string]ReloadFileDTO),
	}
}

// OnFileParsed registers fn to run after every successful ParseFile.
func (s *Server) OnFileParsed(fn func(header waveform.Header)) {
	s.onFileParsed = fn
}

// Router returns the gorilla/mux router for this server, with
// compression and permissive CORS.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebsocket)
	r.Use(handlers.CompressHandler)
	r.Use(handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.AllowedMethods([]string{"GET", "POST", "HEAD", "OPTIONS"}),
		handlers.AllowedOrigins([]string{"*"}),
	))
	return r
}

// AccessLogHandler wraps h with an access log line (method, request
// URI, status, size) over wavelog's info writer.
func (s *Server) AccessLogHandler(h http.Handler) http.Handler {
	return handlers.CustomLoggingHandler(wavelog.InfoWriter, h, func(w io.Writer, params handlers.LogFormatterParams) {
		log.Infof("%s %s (status %d, size %d)", params.Request.Method, params.URL.RequestURI(), params.StatusCode, params.Size)
	})
}

func (s *Server) handleWebsocket(rw http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %s", err)
		return
	}

	conn := &Connection{
		id:           uuid.NewString(),
		ws:           ws,
		service:      s.service,
		onFileParsed: s.onFileParsed,
	}

	s.mu.Lock()
	s.conns[conn.id] = conn
	s.mu.Unlock()

	log.Infof("connection %s opened", conn.id)
	conn.serve(r.Context())

	s.mu.Lock()
	delete(s.conns, conn.id)
	s.mu.Unlock()
	log.Infof("connection %s closed", conn.id)
}

// NotifyReload queues one reloaded file for the next coalesced
// ReloadWaveformFiles push, debouncing a burst of filesystem events from
// reloadwatcher into a single frame per ~60ms window.
func (s *Server) NotifyReload(canonicalPath, displayPath string) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	s.pending[canonicalPath] = ReloadFileDTO{Canonical: canonicalPath, Display: displayPath}
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(reloadCoalesce, s.flushReload)
}

func (s *Server) flushReload() {
	s.pendingMu.Lock()
	paths := make([]ReloadFileDTO, 0, len(s.pending))
	for _, p := range s.pending {
		paths = append(paths, p)
	}
	s.pending = make(map[string]ReloadFileDTO)
	s.timer = nil
	s.pendingMu.Unlock()

	if len(paths) == 0 {
		return
	}
	s.broadcastReload(paths)
}

func (s *Server) broadcastReload(paths []ReloadFileDTO) {
	payload, err := marshalPayload(ReloadWaveformFilesPayload{Paths: paths})
	if err != nil {
		log.Errorf("marshaling ReloadWaveformFiles: %s", err)
		return
	}
	env := Envelope{Type: TypeReloadWaveformFiles, Payload: payload}

	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.writeEnvelope(env); err != nil {
			log.Warnf("pushing reload to connection %s: %s", c.id, err)
		}
	}
}
