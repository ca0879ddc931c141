// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nats

import "errors"

// NatsConfig is what a process needs to join the reload bus. At most
// one authentication mode applies: a credentials file, or
// username/password, or neither (an open broker on a trusted host).
type NatsConfig struct {
	Address       string `json:"address"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	CredsFilePath string `json:"creds-file-path"`
}

// Validate rejects configurations that cannot possibly connect, so the
// mistake is reported at startup rather than surfacing later as reloads
// that never propagate.
func (c *NatsConfig) Validate() error {
	if c.Address == "" {
		return errors.New("nats: address is required")
	}
	if c.CredsFilePath != "" && (c.Username != "" || c.Password != "") {
		return errors.New("nats: use either a credentials file or username/password, not both")
	}
	if c.Password != "" && c.Username == "" {
		return errors.New("nats: password set without a username")
	}
	return nil
}
