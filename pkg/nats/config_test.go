// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNatsConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     NatsConfig
		wantErr bool
	}{
		{"address only", NatsConfig{Address: "nats://localhost:4222"}, false},
		{"user and password", NatsConfig{Address: "nats://h:4222", Username: "u", Password: "p"}, false},
		{"creds file", NatsConfig{Address: "nats://h:4222", CredsFilePath: "/etc/novywave.creds"}, false},
		{"missing address", NatsConfig{Username: "u", Password: "p"}, true},
		{"creds file and user mixed", NatsConfig{Address: "nats://h:4222", CredsFilePath: "/c", Username: "u"}, true},
		{"password without username", NatsConfig{Address: "nats://h:4222", Password: "p"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
