// Package config provides configuration types and loading for cifabric.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Paths, Registry, Pool, Wire, Broadcast, Identity.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Registry  RegistryConfig  `json:"registry"`
	Pool      PoolConfig      `json:"pool"`
	Wire      WireConfig      `json:"wire"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Identity  IdentityConfig  `json:"identity"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	InboxRoot    string `json:"inboxRoot" envconfig:"INBOX_ROOT"`
	RouteDB      string `json:"routeDb" envconfig:"ROUTE_DB"`
	HistoryDB    string `json:"historyDb" envconfig:"HISTORY_DB"`
	RegistryFile string `json:"registryFile" envconfig:"REGISTRY_FILE"`
}

// ---------------------------------------------------------------------------
// Registry – CI discovery
// ---------------------------------------------------------------------------

// RegistryConfig contains settings for the CI registry.
type RegistryConfig struct {
	Watch        bool          `json:"watch" envconfig:"REGISTRY_WATCH"`
	ProbeTimeout time.Duration `json:"probeTimeout" envconfig:"REGISTRY_PROBE_TIMEOUT"`
}

// ---------------------------------------------------------------------------
// Pool – connection lifecycle
// ---------------------------------------------------------------------------

// PoolConfig contains connection pool settings.
type PoolConfig struct {
	ConnectTimeout   time.Duration `json:"connectTimeout" envconfig:"CONNECT_TIMEOUT"`
	FailureThreshold int           `json:"failureThreshold" envconfig:"FAILURE_THRESHOLD"`
	HealthInterval   time.Duration `json:"healthInterval" envconfig:"HEALTH_INTERVAL"`
	ReconnectBackoff time.Duration `json:"reconnectBackoff" envconfig:"RECONNECT_BACKOFF"`
}

// ---------------------------------------------------------------------------
// Wire – socket client behaviour
// ---------------------------------------------------------------------------

// WireConfig contains socket client settings.
type WireConfig struct {
	RequestTimeout time.Duration `json:"requestTimeout" envconfig:"REQUEST_TIMEOUT"`
	PingTimeout    time.Duration `json:"pingTimeout" envconfig:"PING_TIMEOUT"`
	DirectFallback bool          `json:"directFallback" envconfig:"DIRECT_FALLBACK"`
}

// ---------------------------------------------------------------------------
// Broadcast – team chat fan-out
// ---------------------------------------------------------------------------

// BroadcastConfig contains team chat settings.
type BroadcastConfig struct {
	Deadline  time.Duration `json:"deadline" envconfig:"BROADCAST_DEADLINE"`
	ChunkSlot int           `json:"chunkSlot" envconfig:"BROADCAST_CHUNK_SLOT"`
}

// ---------------------------------------------------------------------------
// Identity – who this process is in the fabric
// ---------------------------------------------------------------------------

// IdentityConfig identifies the local CI or terminal.
type IdentityConfig struct {
	Name string `json:"name" envconfig:"NAME"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			InboxRoot:    "~/.cifabric/inboxes",
			RouteDB:      "~/.cifabric/routes.db",
			HistoryDB:    "~/.cifabric/history.db",
			RegistryFile: "~/.cifabric/registry.json",
		},
		Registry: RegistryConfig{
			Watch:        true,
			ProbeTimeout: 1 * time.Second,
		},
		Pool: PoolConfig{
			ConnectTimeout:   2 * time.Second,
			FailureThreshold: 3,
			HealthInterval:   30 * time.Second,
			ReconnectBackoff: 5 * time.Second,
		},
		Wire: WireConfig{
			RequestTimeout: 30 * time.Second,
			PingTimeout:    1 * time.Second,
			DirectFallback: false,
		},
		Broadcast: BroadcastConfig{
			Deadline:  2 * time.Second,
			ChunkSlot: 32,
		},
	}
}
