// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package appconfig holds the process-wide program defaults (listen
// address, worker pool size, cache caps) as a single
// package-variable-with-Init(path) struct. The config surface is a
// handful of scalar fields with no nested union types, so a plain
// encoding/json.Decoder with DisallowUnknownFields catches the typo
// and misspelling errors a schema validator would, without pulling in
// a JSON-schema dependency to validate eight fields.
package appconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/novywave/novywave-core/pkg/wavelog"
)

var log = wavelog.Component("appconfig")

// ProgramConfig is the full set of process-wide defaults.
type ProgramConfig struct {
	// Addr is the listen address for both the websocket transport and
	// the /metrics and /healthz HTTP routes.
	Addr string `json:"addr"`

	// WorkspaceRoot is the directory workspace.toml lives under.
	WorkspaceRoot string `json:"workspace_root"`

	// MaxCacheBytes bounds internal/signalservice's transition cache.
	MaxCacheBytes int `json:"max_cache_bytes"`

	// WorkerCount bounds the blocking pool used for parse/decode/downsample.
	WorkerCount int `json:"worker_count"`

	// DropPrivilegesUser/Group, if non-empty, are passed to
	// runtimeEnv.DropPrivileges after the listener is bound.
	DropPrivilegesUser  string `json:"drop_privileges_user"`
	DropPrivilegesGroup string `json:"drop_privileges_group"`

	// NatsURL, if non-empty, enables cross-process reload fan-out via
	// internal/reloadwatcher.Watcher.WithNATS.
	NatsURL string `json:"nats_url"`

	// GopsAgent enables the google/gops diagnostics agent.
	GopsAgent bool `json:"gops_agent"`
}

// Keys holds the effective configuration. Callers read it directly.
var Keys = ProgramConfig{
	Addr:          ":8090",
	WorkspaceRoot: ".",
	MaxCacheBytes: 256 << 20,
	WorkerCount:   4,
	GopsAgent:     true,
}

// Init overlays a JSON config file (if it exists) onto Keys's defaults.
// A missing file is not an error.
func Init(path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("appconfig: reading %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		return fmt.Errorf("appconfig: parsing %s: %w", path, err)
	}
	log.Infof("loaded config from %s", path)
	return nil
}
