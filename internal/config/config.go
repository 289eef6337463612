// Package config loads the service configuration from an optional .env file,
// XCMWATCH_ prefixed environment variables and a YAML file listing the
// monitored networks.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/gabapcia/xcmwatch/internal/pkg/validator"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Prefix is prepended to every environment variable name.
const Prefix = "XCMWATCH"

const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

var (
	// ErrNoNetworks is returned when the network file lists no chain.
	ErrNoNetworks = errors.New("no networks configured")

	// ErrDuplicateNetwork is returned when two networks share an id.
	ErrDuplicateNetwork = errors.New("duplicate network id")
)

// Network is one monitored chain and the gateway serving it.
type Network struct {
	ID       string `yaml:"id" json:"id" validate:"required,chainid"`
	Name     string `yaml:"name" json:"name" validate:"required,max=100"`
	Provider string `yaml:"provider" json:"provider" validate:"required,httpurl"`
}

type networkFile struct {
	Networks []Network `yaml:"networks" validate:"dive"`
}

// Redis holds the connection settings used when Storage is redis.
type Redis struct {
	Addr     string `envconfig:"ADDR" default:"localhost:6379"`
	Username string `envconfig:"USERNAME"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0" validate:"min=0"`
}

type Config struct {
	LogLevel         string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	TelemetryEnabled bool   `envconfig:"TELEMETRY_ENABLED" default:"false"`
	ServiceName      string `envconfig:"SERVICE_NAME" default:"xcmwatch" validate:"required"`

	HTTPAddr     string `envconfig:"HTTP_ADDR" default:":3000" validate:"required"`
	NetworksFile string `envconfig:"NETWORKS_FILE" default:"networks.yaml" validate:"required"`

	Storage string `envconfig:"STORAGE" default:"memory" validate:"oneof=memory redis"`
	Redis   Redis

	MaxPersistent int `envconfig:"SUBSCRIPTION_MAX_PERSISTENT" default:"5000" validate:"min=1"`
	MaxEphemeral  int `envconfig:"SUBSCRIPTION_MAX_EPHEMERAL" default:"1000" validate:"min=1"`
	WSMaxClients  int `envconfig:"WS_MAX_CLIENTS" default:"10000" validate:"min=1"`

	NotifyQueueSize      int `envconfig:"NOTIFY_QUEUE_SIZE" default:"256" validate:"min=1"`
	SchedulerConcurrency int `envconfig:"SCHEDULER_CONCURRENCY" default:"16" validate:"min=1"`

	SchedulerFrequency time.Duration `envconfig:"SCHEDULER_FREQUENCY" default:"5s" validate:"gt=0"`
	PendingMaxAge      time.Duration `envconfig:"PENDING_MAX_AGE" default:"1h" validate:"gt=0"`
	WebhookRetryDelay  time.Duration `envconfig:"WEBHOOK_RETRY_DELAY" default:"5m" validate:"gt=0"`
	WebhookTimeout     time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s" validate:"gt=0"`
	RPCTimeout         time.Duration `envconfig:"RPC_TIMEOUT" default:"10s" validate:"gt=0"`
	RPCPollInterval    time.Duration `envconfig:"RPC_POLL_INTERVAL" default:"6s" validate:"gt=0"`

	Networks []Network `ignored:"true"`
}

// ChainIDs lists the configured network ids in file order.
func (c Config) ChainIDs() []string {
	ids := make([]string, 0, len(c.Networks))
	for _, n := range c.Networks {
		ids = append(ids, n.ID)
	}
	return ids
}

// Load reads the given .env files (or ./.env when none is given) if they
// exist, then the environment, then the network file.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}

	if err := validator.Validate(cfg); err != nil {
		return Config{}, err
	}

	networks, err := LoadNetworks(cfg.NetworksFile)
	if err != nil {
		return Config{}, err
	}
	cfg.Networks = networks

	return cfg, nil
}

// LoadNetworks reads and validates the YAML network file at path.
func LoadNetworks(path string) ([]Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read network file: %w", err)
	}

	var file networkFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode network file %s: %w", path, err)
	}

	if len(file.Networks) == 0 {
		return nil, ErrNoNetworks
	}

	if err := validator.Validate(file); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(file.Networks))
	for _, n := range file.Networks {
		if _, ok := seen[n.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNetwork, n.ID)
		}
		seen[n.ID] = struct{}{}
	}

	return file.Networks, nil
}
