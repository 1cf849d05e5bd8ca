// Package config loads the embedder-facing configuration for an EEBUS
// node: connection identity, role, handshake/heartbeat timeouts and the
// advertised service name. Struct-tagged and loaded the way the teacher's
// config package is, via github.com/m0rjc/goconfig.
package config

import (
	"context"
	"fmt"

	"github.com/m0rjc/goconfig"
)

// NodeConfig is the complete configuration for one embedded EEBUS node.
type NodeConfig struct {
	// SKI is this node's own SKI, normally derived from its TLS leaf
	// certificate by the embedder and passed in here rather than parsed
	// by the core itself.
	SKI string `key:"EEBUS_SKI" required:"true"`

	// Role selects whether this node dials peers, only accepts inbound
	// connections, or both: "server", "client" or "auto".
	Role string `key:"EEBUS_ROLE" default:"auto"`

	Port        int    `key:"EEBUS_PORT" default:"4712" min:"1" max:"65535"`
	ServiceName string `key:"EEBUS_SERVICE_NAME" default:"openeebus-node"`
	TrustFile   string `key:"EEBUS_TRUST_FILE" default:"trusted_skis.json"`

	// Timeouts mirror the state table's literal handshake/heartbeat
	// timings (10s hello round-trip, 3s closing grace), plus the
	// dispatcher's outstanding-request expiry.
	HelloTimeoutMS           int `key:"EEBUS_HELLO_TIMEOUT_MS" default:"10000" min:"1"`
	ProlongationTimeoutMS    int `key:"EEBUS_PROLONGATION_TIMEOUT_MS" default:"4000" min:"1"`
	CloseTimeoutMS           int `key:"EEBUS_CLOSE_TIMEOUT_MS" default:"3000" min:"1"`
	DefaultResponseTimeoutMS int `key:"EEBUS_DEFAULT_RESPONSE_TIMEOUT_MS" default:"10000" min:"1"`
}

// Load reads NodeConfig from the process environment.
func Load() (*NodeConfig, error) {
	cfg := &NodeConfig{}
	if err := goconfig.Load(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: failed to load node configuration: %w", err)
	}
	if err := cfg.validateRole(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *NodeConfig) validateRole() error {
	switch c.Role {
	case "server", "client", "auto":
		return nil
	default:
		return fmt.Errorf("config: invalid role %q, must be server, client or auto", c.Role)
	}
}
