// Package swarm holds the wire types and HTTP client helpers shared between
// the hub and worker daemons.
package swarm

import (
	"encoding/json"
	"time"
)

// Role names the logical function a worker serves.
type Role string

const (
	RoleMemory      Role = "memory"
	RoleReasoning   Role = "reasoning"
	RolePersonality Role = "personality"
)

// RegisterRequest is the body a worker posts to the hub on boot.
type RegisterRequest struct {
	ID           string   `json:"id"`
	Role         string   `json:"role"`
	Addr         string   `json:"addr"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// HeartbeatRequest reports a worker's self-assessed health to the hub.
type HeartbeatRequest struct {
	Status string `json:"status"`
}

// RouteRequest carries an opaque payload to be forwarded to a worker of the
// requested role.
type RouteRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// InvokeRequest is the envelope a routed payload arrives in at a worker.
// Op selects the operation; Params are operation-specific.
type InvokeRequest struct {
	Op     string          `json:"op"`
	Params json.RawMessage `json:"params,omitempty"`
}

// InstanceView is the hub's read model of a registered worker.
type InstanceView struct {
	ID            string    `json:"id"`
	Role          string    `json:"role"`
	Addr          string    `json:"addr"`
	Capabilities  []string  `json:"capabilities,omitempty"`
	Health        string    `json:"health"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	RegisteredAt  time.Time `json:"registered_at"`
}
