/*
 *    Copyright 2021 chenquan
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *        http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

// Package config is the gateway's YAML configuration surface (spec §6).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/lenzarda/mqtt-sn/internal/packet"
)

// Configuration is the contract every loadable config type satisfies.
type Configuration interface {
	// Validate checks the configuration. If it returns an error, the
	// gateway will not start.
	Validate() error
}

// Config is the top-level gateway configuration.
type Config struct {
	Gateway Gateway `yaml:"gateway" validate:"required"`
}

// Gateway holds every knob spec §6 names.
type Gateway struct {
	// ProtocolVersion pins which MQTT-SN wire revision the gateway
	// accepts: 1 for v1.2, 2 for v2.0 (enabling the integrity frame).
	ProtocolVersion int `yaml:"protocol_version" validate:"oneof=1 2"`
	// IntegrityEnabled gates acceptance of the v2.0 integrity envelope
	// frame even when ProtocolVersion allows it.
	IntegrityEnabled bool `yaml:"integrity_enabled"`
	// AllowAnonymous is consulted by the CONNECT handler only for an empty
	// client ID, which the codec already refuses to decode. No out-of-band
	// identity check is performed either way.
	AllowAnonymous bool `yaml:"allow_anonymous"`

	// MaxSessions bounds concurrent sessions, 0 means unbounded.
	MaxSessions int `yaml:"max_sessions" validate:"gte=0"`
	// MaxQueueSize bounds each session's outbound queue depth.
	MaxQueueSize int `yaml:"max_queue_size" validate:"gt=0"`
	// MaxInflightMessages is fixed at 1 per direction per session (spec
	// invariant 2); the field exists so it is visible and validated in
	// configuration rather than silently assumed.
	MaxInflightMessages int `yaml:"max_inflight_messages" validate:"eq=1"`

	// RetryTimeoutMs is the initial retry backoff in milliseconds.
	RetryTimeoutMs int `yaml:"retry_timeout_ms" validate:"gt=0"`
	// MaxRetryTimeoutMs caps the exponential backoff.
	MaxRetryTimeoutMs int `yaml:"max_retry_timeout_ms" validate:"gtefield=RetryTimeoutMs"`
	// MaxRetries is how many times in all an unacknowledged publish is
	// sent, the first send included, before it is diverted to the
	// dead-letter sink.
	MaxRetries int `yaml:"max_retries" validate:"gt=0"`

	// KeepaliveGraceFactor multiplies a session's negotiated keepalive to
	// get the LOST deadline; spec §4.3 names 1.5 as the default.
	KeepaliveGraceFactor float64 `yaml:"keepalive_grace_factor" validate:"gt=0"`
	// SessionExpiryCheckInterval is how often the registry sweeps for
	// sessions whose expiry interval has elapsed.
	SessionExpiryCheckInterval time.Duration `yaml:"session_expiry_check_interval" validate:"gt=0"`

	// PredefinedAliases seeds every new session's topic registry with a
	// gateway-wide, out-of-band negotiated topic-name-to-ID mapping.
	PredefinedAliases map[string]uint16 `yaml:"predefined_aliases"`

	SubscriptionLimits SubscriptionLimits `yaml:"subscription_limits"`

	// WorkerPoolSize bounds the ants worker pool the scheduler dispatches
	// session work onto; 0 gives a pool of 256 workers.
	WorkerPoolSize int `yaml:"worker_pool_size" validate:"gte=0"`
	// ShutdownGracePeriod bounds how long graceful shutdown waits for
	// in-flight session work to drain before forcing a stop.
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period" validate:"gt=0"`
}

// SubscriptionLimits mirrors internal/subscription.Limits in config form
// (spec §6 subscriptionLimits, §4.4).
type SubscriptionLimits struct {
	MaxPathLength     int `yaml:"max_path_length" validate:"gte=0"`
	MaxSegments       int `yaml:"max_segments" validate:"gte=0"`
	MaxMembersPerNode int `yaml:"max_members_per_node" validate:"gte=0"`
}

// Validate runs struct-tag validation and the cross-field checks tags
// alone can't express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Gateway.ProtocolVersion == 1 && c.Gateway.IntegrityEnabled {
		return fmt.Errorf("config: integrity_enabled requires protocol_version 2")
	}
	return nil
}

// Version returns the packet.Version corresponding to ProtocolVersion.
func (g Gateway) Version() packet.Version {
	if g.ProtocolVersion == 2 {
		return packet.V2_0
	}
	return packet.V1_2
}

// Load reads and parses a YAML config file from path, applying defaults
// before validating.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Default returns a Config with every field set to the values spec §6
// lists as defaults.
func Default() *Config {
	return &Config{
		Gateway: Gateway{
			ProtocolVersion:            1,
			MaxSessions:                0,
			MaxQueueSize:               32,
			MaxInflightMessages:        1,
			RetryTimeoutMs:             1000,
			MaxRetryTimeoutMs:          30000,
			MaxRetries:                 5,
			KeepaliveGraceFactor:       1.5,
			SessionExpiryCheckInterval: 30 * time.Second,
			PredefinedAliases:          map[string]uint16{},
			SubscriptionLimits: SubscriptionLimits{
				MaxPathLength:     256,
				MaxSegments:       16,
				MaxMembersPerNode: 0,
			},
			WorkerPoolSize:      0,
			ShutdownGracePeriod: 10 * time.Second,
		},
	}
}
