// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command novywave-backend is the process wiring for the backend signal
// service and its websocket transport: it
// constructs the service/transport singletons, attaches the tracked-files
// domain and filesystem reload watcher so a file opened over the wire
// gets watched and its edits pushed back out as ReloadWaveformFiles, binds
// an HTTP listener, and shuts down on SIGINT/SIGTERM: flag-driven
// config path, gops diagnostics agent, systemd readiness notification,
// a sync.WaitGroup guarding graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/novywave/novywave-core/internal/appconfig"
	"github.com/novywave/novywave-core/internal/reloadwatcher"
	"github.com/novywave/novywave-core/internal/signalservice"
	"github.com/novywave/novywave-core/internal/trackedfiles"
	"github.com/novywave/novywave-core/internal/transport"
	"github.com/novywave/novywave-core/internal/waveform"
	"github.com/novywave/novywave-core/pkg/nats"
	"github.com/novywave/novywave-core/pkg/runtimeEnv"
	"github.com/novywave/novywave-core/pkg/wavelog"
)

var log = wavelog.Component("main")

func main() {
	configPath := flag.String("config", "", "path to a JSON config file overlaying defaults")
	logLevel := flag.String("loglevel", "info", "log level: debug|info|warn|err")
	flag.Parse()

	wavelog.SetLevel(*logLevel)

	if err := runtimeEnv.LoadEnv(".env"); err != nil && !os.IsNotExist(err) {
		log.Warnf("loading .env: %s", err)
	}
	if err := appconfig.Init(*configPath); err != nil {
		log.Errorf("%s", err)
		os.Exit(1)
	}

	if appconfig.Keys.GopsAgent {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Warnf("gops agent: %s", err)
		}
		defer agent.Close()
	}

	service := signalservice.New(appconfig.Keys.MaxCacheBytes, appconfig.Keys.WorkerCount)
	defer service.Close()

	server := transport.NewServer(service)

	files := trackedfiles.New()
	watcher, err := reloadwatcher.New(files)
	if err != nil {
		log.Errorf("starting reload watcher: %s", err)
		os.Exit(1)
	}
	defer watcher.Close()

	if appconfig.Keys.NatsURL != "" {
		client, err := nats.NewClient(&nats.NatsConfig{Address: appconfig.Keys.NatsURL})
		if err != nil {
			log.Warnf("connecting to NATS at %s: %s (reload fan-out stays local-only)", appconfig.Keys.NatsURL, err)
		} else {
			defer client.Close()
			if err := watcher.WithNATS(client); err != nil {
				log.Warnf("attaching NATS to reload watcher: %s", err)
			}
		}
	}

	// A ParseFile success registers the file with trackedfiles and hands
	// it to the watcher, so edits on disk produce a reload push without
	// the client having to ask for one.
	server.OnFileParsed(func(header waveform.Header) {
		files.FileDropped.Send(trackedfiles.FileDropped{
			CanonicalPath: header.CanonicalPath,
			DisplayPath:   header.DisplayPath,
			Format:        header.Format,
		})
		if err := watcher.Watch(header.CanonicalPath, header.DisplayPath); err != nil {
			log.Warnf("watching %s: %s", header.CanonicalPath, err)
		}
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go bridgeReloads(&wg, files, service, server)

	router := server.Router()
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/healthz", handleHealthz)

	httpServer := &http.Server{
		Addr:         appconfig.Keys.Addr,
		Handler:      server.AccessLogHandler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Infof("listening on %s", appconfig.Keys.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("listen: %s", err)
			os.Exit(1)
		}
	}()

	if appconfig.Keys.DropPrivilegesUser != "" {
		if err := runtimeEnv.DropPrivileges(appconfig.Keys.DropPrivilegesUser, appconfig.Keys.DropPrivilegesGroup); err != nil {
			log.Errorf("dropping privileges: %s", err)
			os.Exit(1)
		}
	}

	runtimeEnv.SystemdNotifiy(true, "running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("received %s, shutting down", sig)

	runtimeEnv.SystemdNotifiy(false, "stopping")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Errorf("graceful shutdown: %s", err)
	}

	// Closing the domain ends bridgeReloads' event loop, so the WaitGroup
	// below can't hang on it.
	files.Close()
	wg.Wait()
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

// bridgeReloads watches trackedfiles for the state transition a reload
// watcher's ReloadRequested produces (FileStateChanged back to
// StateParsing on an already-tracked file) and drives the actual
// re-parse through the service, publishing the fresh state back into
// trackedfiles and the ReloadWaveformFiles push out to every connection.
func bridgeReloads(wg *sync.WaitGroup, files *trackedfiles.Domain, service *signalservice.Service, server *transport.Server) {
	defer wg.Done()
	for ev := range files.Events() {
		if ev.Kind != trackedfiles.FileStateChanged || ev.State.State != waveform.StateParsing {
			continue
		}
		canonicalPath, displayPath := ev.State.CanonicalPath, ev.State.DisplayPath
		go func() {
			header, err := service.Reload(context.Background(), canonicalPath)
			next := ev.State
			if err != nil {
				next.State = waveform.StateError
				next.Err = err
			} else {
				next.State = waveform.StateHeaderLoaded
				next.Bounds = header.Bounds
			}
			files.SetState(canonicalPath, next)
			server.NotifyReload(canonicalPath, displayPath)
		}()
	}
}
