// Package config loads and validates swarm daemon configuration.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

// Config contains the complete configuration for a swarm daemon.
//
// It includes settings for:
//   - Node identity and addresses (hub endpoint, listen address)
//   - Service registry (heartbeat and sweep thresholds)
//   - Request router (circuit breaker, retries, call timeout)
//   - Durable record storage (file or SQL backend)
//   - Retrieval caches (TTLs, recency window, frequent-access threshold)
//
// Example:
//
//	cfg := &config.Config{
//	    Node: config.NodeConfig{
//	        ID:         "memory-1",
//	        Role:       "memory",
//	        ListenAddr: ":8701",
//	        HubAddr:    "http://localhost:8700",
//	    },
//	    Storage: config.StorageConfig{
//	        Provider: "file",
//	        Config: map[string]interface{}{
//	            "data_dir": "./data",
//	        },
//	    },
//	}
type Config struct {
	// Node contains daemon identity and address configuration.
	Node NodeConfig `json:"node"`

	// Registry contains health monitoring configuration.
	Registry RegistryConfig `json:"registry"`

	// Router contains routing, retry, and circuit breaker configuration.
	Router RouterConfig `json:"router"`

	// Storage contains record store configuration.
	Storage StorageConfig `json:"storage"`

	// Retrieval contains cache and status-derivation configuration.
	Retrieval RetrievalConfig `json:"retrieval"`
}

// NodeConfig identifies a daemon and its network endpoints.
type NodeConfig struct {
	// ID is the unique instance id. Empty means derive one at startup.
	ID string `json:"id,omitempty"`

	// Role is the declared role (memory, reasoning, personality).
	Role string `json:"role,omitempty"`

	// ListenAddr is the address the daemon's HTTP server binds to.
	ListenAddr string `json:"listen_addr"`

	// HubAddr is the base URL of the hub daemon. Workers register here.
	HubAddr string `json:"hub_addr"`

	// AdvertiseAddr is the address other nodes reach this daemon at.
	// Defaults to ListenAddr when empty.
	AdvertiseAddr string `json:"advertise_addr,omitempty"`
}

// RegistryConfig tunes the hub's health monitoring.
type RegistryConfig struct {
	// HeartbeatInterval is how often workers report their health.
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`

	// SweepInterval is how often the hub scans for stale instances.
	SweepInterval time.Duration `json:"sweep_interval"`

	// StalenessThreshold marks an instance unhealthy once its last
	// heartbeat is older than this.
	StalenessThreshold time.Duration `json:"staleness_threshold"`

	// DeregisterThreshold removes an instance once its last heartbeat is
	// older than this. Must exceed StalenessThreshold.
	DeregisterThreshold time.Duration `json:"deregister_threshold"`
}

// RouterConfig tunes request routing and circuit breaking.
type RouterConfig struct {
	// FailureThreshold opens an instance's circuit once this many failures
	// accumulate within FailureWindow.
	FailureThreshold int `json:"failure_threshold"`

	// FailureWindow is the rolling window failures are counted in.
	FailureWindow time.Duration `json:"failure_window"`

	// Cooldown is how long an open circuit rejects calls before a trial.
	Cooldown time.Duration `json:"cooldown"`

	// RetryBudget is the number of extra attempts granted to transient
	// failures. -1 disables retries.
	RetryBudget int `json:"retry_budget"`

	// CallTimeout bounds a single downstream call.
	CallTimeout time.Duration `json:"call_timeout"`
}

// StorageConfig selects and configures the record store backend.
//
// Supported providers: file, sqlite, postgres, mysql
//
// Example:
//
//	storeConfig := config.StorageConfig{
//	    Provider: "sqlite",
//	    Config: map[string]interface{}{
//	        "db_path": "./swarm.db",
//	    },
//	}
type StorageConfig struct {
	// Provider is the store backend name (file, sqlite, postgres, mysql).
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For file: data_dir, backup_retention
	// For SQLite: db_path, table_name
	// For PostgreSQL: host, port, user, password, db_name, table_name, ssl_mode
	// For MySQL: host, port, user, password, db_name, table_name
	Config map[string]interface{} `json:"config"`
}

// RetrievalConfig tunes the retrieval engine's caches and derived status.
type RetrievalConfig struct {
	// RecentTTL is the time-to-live of the recent-record cache.
	RecentTTL time.Duration `json:"recent_ttl"`

	// ResultTTL is the time-to-live of the page/search result cache.
	ResultTTL time.Duration `json:"result_ttl"`

	// RecentWindow bounds how long after creation a record reads as new.
	RecentWindow time.Duration `json:"recent_window"`

	// FrequentThreshold is the reference count above which a record reads
	// as frequently accessed.
	FrequentThreshold int64 `json:"frequent_threshold"`
}

// LoadFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - SWARM_NODE_ID, SWARM_NODE_ROLE, SWARM_LISTEN_ADDR, SWARM_HUB_ADDR,
//     SWARM_ADVERTISE_ADDR
//   - SWARM_HEARTBEAT_INTERVAL, SWARM_SWEEP_INTERVAL,
//     SWARM_STALENESS_THRESHOLD, SWARM_DEREGISTER_THRESHOLD
//   - SWARM_FAILURE_THRESHOLD, SWARM_FAILURE_WINDOW, SWARM_COOLDOWN,
//     SWARM_RETRY_BUDGET, SWARM_CALL_TIMEOUT
//   - SWARM_STORAGE_PROVIDER (file, sqlite, postgres, mysql)
//   - SWARM_DATA_DIR, SWARM_BACKUP_RETENTION (file provider)
//   - SWARM_SQLITE_PATH, SWARM_SQLITE_TABLE
//   - SWARM_POSTGRES_HOST, SWARM_POSTGRES_PORT, SWARM_POSTGRES_USER, etc.
//   - SWARM_MYSQL_HOST, SWARM_MYSQL_PORT, SWARM_MYSQL_USER, etc.
//   - SWARM_RECENT_TTL, SWARM_RESULT_TTL, SWARM_RECENT_WINDOW,
//     SWARM_FREQUENT_THRESHOLD
//
// Durations accept Go duration syntax ("5s", "1m30s").
//
// Returns a Config instance, or an error if a variable fails to parse.
func LoadFromEnv() (*Config, error) {
	if envPath, found := FindEnvFile(); found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := Default()

	cfg.Node.ID = getEnvOrDefault("SWARM_NODE_ID", cfg.Node.ID)
	cfg.Node.Role = getEnvOrDefault("SWARM_NODE_ROLE", cfg.Node.Role)
	cfg.Node.ListenAddr = getEnvOrDefault("SWARM_LISTEN_ADDR", cfg.Node.ListenAddr)
	cfg.Node.HubAddr = getEnvOrDefault("SWARM_HUB_ADDR", cfg.Node.HubAddr)
	cfg.Node.AdvertiseAddr = getEnvOrDefault("SWARM_ADVERTISE_ADDR", cfg.Node.AdvertiseAddr)

	var err error
	if cfg.Registry.HeartbeatInterval, err = getEnvDuration("SWARM_HEARTBEAT_INTERVAL", cfg.Registry.HeartbeatInterval); err != nil {
		return nil, err
	}
	if cfg.Registry.SweepInterval, err = getEnvDuration("SWARM_SWEEP_INTERVAL", cfg.Registry.SweepInterval); err != nil {
		return nil, err
	}
	if cfg.Registry.StalenessThreshold, err = getEnvDuration("SWARM_STALENESS_THRESHOLD", cfg.Registry.StalenessThreshold); err != nil {
		return nil, err
	}
	if cfg.Registry.DeregisterThreshold, err = getEnvDuration("SWARM_DEREGISTER_THRESHOLD", cfg.Registry.DeregisterThreshold); err != nil {
		return nil, err
	}

	if cfg.Router.FailureThreshold, err = getEnvInt("SWARM_FAILURE_THRESHOLD", cfg.Router.FailureThreshold); err != nil {
		return nil, err
	}
	if cfg.Router.FailureWindow, err = getEnvDuration("SWARM_FAILURE_WINDOW", cfg.Router.FailureWindow); err != nil {
		return nil, err
	}
	if cfg.Router.Cooldown, err = getEnvDuration("SWARM_COOLDOWN", cfg.Router.Cooldown); err != nil {
		return nil, err
	}
	if cfg.Router.RetryBudget, err = getEnvInt("SWARM_RETRY_BUDGET", cfg.Router.RetryBudget); err != nil {
		return nil, err
	}
	if cfg.Router.CallTimeout, err = getEnvDuration("SWARM_CALL_TIMEOUT", cfg.Router.CallTimeout); err != nil {
		return nil, err
	}

	if cfg.Retrieval.RecentTTL, err = getEnvDuration("SWARM_RECENT_TTL", cfg.Retrieval.RecentTTL); err != nil {
		return nil, err
	}
	if cfg.Retrieval.ResultTTL, err = getEnvDuration("SWARM_RESULT_TTL", cfg.Retrieval.ResultTTL); err != nil {
		return nil, err
	}
	if cfg.Retrieval.RecentWindow, err = getEnvDuration("SWARM_RECENT_WINDOW", cfg.Retrieval.RecentWindow); err != nil {
		return nil, err
	}
	frequent, err := getEnvInt("SWARM_FREQUENT_THRESHOLD", int(cfg.Retrieval.FrequentThreshold))
	if err != nil {
		return nil, err
	}
	cfg.Retrieval.FrequentThreshold = int64(frequent)

	if err := loadStorageFromEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadStorageFromEnv builds the provider-specific storage configuration.
func loadStorageFromEnv(cfg *Config) error {
	provider := getEnvOrDefault("SWARM_STORAGE_PROVIDER", "file")
	storageConfig := make(map[string]interface{})

	switch provider {
	case "file":
		retention, err := getEnvInt("SWARM_BACKUP_RETENTION", 3)
		if err != nil {
			return err
		}
		storageConfig = map[string]interface{}{
			"data_dir":         getEnvOrDefault("SWARM_DATA_DIR", "./data"),
			"backup_retention": retention,
		}
	case "sqlite":
		storageConfig = map[string]interface{}{
			"db_path":    getEnvOrDefault("SWARM_SQLITE_PATH", "./swarm.db"),
			"table_name": getEnvOrDefault("SWARM_SQLITE_TABLE", "memories"),
		}
	case "postgres":
		port, err := getEnvInt("SWARM_POSTGRES_PORT", 5432)
		if err != nil {
			return err
		}
		storageConfig = map[string]interface{}{
			"host":       getEnvOrDefault("SWARM_POSTGRES_HOST", "localhost"),
			"port":       port,
			"user":       getEnvOrDefault("SWARM_POSTGRES_USER", "postgres"),
			"password":   os.Getenv("SWARM_POSTGRES_PASSWORD"),
			"db_name":    getEnvOrDefault("SWARM_POSTGRES_DATABASE", "swarm"),
			"table_name": getEnvOrDefault("SWARM_POSTGRES_TABLE", "memories"),
			"ssl_mode":   getEnvOrDefault("SWARM_POSTGRES_SSLMODE", "disable"),
		}
	case "mysql":
		port, err := getEnvInt("SWARM_MYSQL_PORT", 3306)
		if err != nil {
			return err
		}
		storageConfig = map[string]interface{}{
			"host":       getEnvOrDefault("SWARM_MYSQL_HOST", "127.0.0.1"),
			"port":       port,
			"user":       getEnvOrDefault("SWARM_MYSQL_USER", "root"),
			"password":   os.Getenv("SWARM_MYSQL_PASSWORD"),
			"db_name":    getEnvOrDefault("SWARM_MYSQL_DATABASE", "swarm"),
			"table_name": getEnvOrDefault("SWARM_MYSQL_TABLE", "memories"),
		}
	default:
		return swarmerr.Newf(swarmerr.KindInvalidInput,
			"unknown storage provider %q", provider)
	}

	cfg.Storage = StorageConfig{Provider: provider, Config: storageConfig}
	return nil
}

// LoadFromEnvFile loads configuration from a specific .env file.
//
// Parameters:
//   - envPath: Path to the .env file
//
// Returns a Config instance, or an error if loading fails.
func LoadFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindInvalidInput, "failed to load .env file", err)
	}
	return LoadFromEnv()
}

// LoadFromJSON loads configuration from a JSON file.
//
// Parameters:
//   - path: Path to the JSON configuration file
//
// Returns a Config instance, or an error if loading or parsing fails.
func LoadFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, swarmerr.From(err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindInvalidInput, "failed to parse config file "+path, err)
	}
	return cfg, nil
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ListenAddr: ":8700",
			HubAddr:    "http://localhost:8700",
		},
		Registry: RegistryConfig{
			HeartbeatInterval:   5 * time.Second,
			SweepInterval:       5 * time.Second,
			StalenessThreshold:  15 * time.Second,
			DeregisterThreshold: 60 * time.Second,
		},
		Router: RouterConfig{
			FailureThreshold: 5,
			FailureWindow:    30 * time.Second,
			Cooldown:         15 * time.Second,
			RetryBudget:      2,
			CallTimeout:      10 * time.Second,
		},
		Storage: StorageConfig{
			Provider: "file",
			Config: map[string]interface{}{
				"data_dir":         "./data",
				"backup_retention": 3,
			},
		},
		Retrieval: RetrievalConfig{
			RecentTTL:         30 * time.Second,
			ResultTTL:         5 * time.Minute,
			RecentWindow:      24 * time.Hour,
			FrequentThreshold: 5,
		},
	}
}

// Validate validates the configuration.
//
// Checks that:
//   - Storage provider is one of the supported backends
//   - Registry thresholds are positive and correctly ordered
//   - Router breaker settings are positive
//   - Retrieval TTLs are positive
//
// Returns a validation StandardError on the first violation, nil otherwise.
func (c *Config) Validate() error {
	switch c.Storage.Provider {
	case "file", "sqlite", "postgres", "mysql":
	case "":
		return swarmerr.New(swarmerr.KindMissingField, "storage provider is required")
	default:
		return swarmerr.Newf(swarmerr.KindInvalidInput,
			"unknown storage provider %q", c.Storage.Provider)
	}

	if c.Registry.HeartbeatInterval <= 0 {
		return swarmerr.New(swarmerr.KindInvalidInput, "heartbeat interval must be positive")
	}
	if c.Registry.SweepInterval <= 0 {
		return swarmerr.New(swarmerr.KindInvalidInput, "sweep interval must be positive")
	}
	if c.Registry.StalenessThreshold <= 0 {
		return swarmerr.New(swarmerr.KindInvalidInput, "staleness threshold must be positive")
	}
	if c.Registry.DeregisterThreshold <= c.Registry.StalenessThreshold {
		return swarmerr.New(swarmerr.KindInvalidInput,
			"deregister threshold must exceed staleness threshold")
	}

	if c.Router.FailureThreshold <= 0 {
		return swarmerr.New(swarmerr.KindInvalidInput, "failure threshold must be positive")
	}
	if c.Router.FailureWindow <= 0 {
		return swarmerr.New(swarmerr.KindInvalidInput, "failure window must be positive")
	}
	if c.Router.Cooldown <= 0 {
		return swarmerr.New(swarmerr.KindInvalidInput, "cooldown must be positive")
	}
	if c.Router.CallTimeout <= 0 {
		return swarmerr.New(swarmerr.KindInvalidInput, "call timeout must be positive")
	}

	if c.Retrieval.RecentTTL <= 0 || c.Retrieval.ResultTTL <= 0 {
		return swarmerr.New(swarmerr.KindInvalidInput, "cache TTLs must be positive")
	}
	if c.Retrieval.RecentWindow <= 0 {
		return swarmerr.New(swarmerr.KindInvalidInput, "recent window must be positive")
	}

	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt parses an integer environment variable.
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, swarmerr.Newf(swarmerr.KindInvalidInput,
			"%s: invalid integer %q", key, value)
	}
	return n, nil
}

// getEnvDuration parses a duration environment variable (Go syntax, "5s").
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, swarmerr.Newf(swarmerr.KindInvalidInput,
			"%s: invalid duration %q", key, value)
	}
	return d, nil
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
