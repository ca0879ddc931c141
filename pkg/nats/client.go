// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package nats is the cross-process reload fan-out bus: when one
// NovyWave process observes a tracked waveform file changing on disk,
// it publishes the file's canonical path so every other process sharing
// the workspace re-parses without running a second watcher against the
// same file.
//
// The client wraps nats.go with exactly the connection handling that
// job needs: the initial dial fails loudly (a misconfigured address
// should surface at startup, not as a silent lack of fan-out), but an
// established connection reconnects forever, since a viewer routinely
// outlives broker restarts. Subscriptions are tracked so Close drops
// the whole bus membership at once.
package nats

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/novywave/novywave-core/pkg/wavelog"
)

var log = wavelog.Component("nats")

// connectionName identifies this process in the broker's monitoring
// endpoints.
const connectionName = "novywave"

// reconnectWait paces reconnection attempts after a broker drops out.
const reconnectWait = 2 * time.Second

// MessageHandler receives one bus message. For reload fan-out, data is
// the canonical path of the file that changed.
type MessageHandler func(subject string, data []byte)

// Client is one process's membership on the reload bus. All methods are
// safe for concurrent use.
type Client struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewClient validates cfg and dials the broker.
func NewClient(cfg *NatsConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []nats.Option{
		nats.Name(connectionName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("disconnected: %s", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("reconnected to %s", nc.ConnectedUrl())
		}),
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	} else if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats: connecting to %s: %w", cfg.Address, err)
	}
	log.Infof("connected to %s", cfg.Address)
	return &Client{conn: nc}, nil
}

// Subscribe registers handler for subject, remembering the subscription
// so Close can drop it.
func (c *Client) Subscribe(subject string, handler MessageHandler) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats: subscribing to %q: %w", subject, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// Publish sends data on subject.
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats: publishing to %q: %w", subject, err)
	}
	return nil
}

// Close unsubscribes everything and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Warnf("unsubscribe: %s", err)
		}
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
