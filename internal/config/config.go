// Package config manages lanchat configuration: a JSON file under the
// user's home directory, overridden by LANCHAT_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDirName is the name of the config directory
	ConfigDirName = ".lanchat"
	// ConfigFileName is the name of the config file
	ConfigFileName = "config.json"
	// EnvPrefix prefixes every environment override
	EnvPrefix = "LANCHAT"

	// DiscoveryMDNS selects DNS-SD over multicast DNS
	DiscoveryMDNS = "mdns"
	// DiscoveryBroadcast selects UDP broadcast announcements
	DiscoveryBroadcast = "broadcast"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Duration is a time.Duration written as "5s" in files and env vars
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the lanchat configuration
type Config struct {
	// Name is the identity advertised on the network
	Name string `json:"name,omitempty" envconfig:"NAME"`
	// ServiceType and Domain must match on every instance
	ServiceType string `json:"service_type" envconfig:"SERVICE_TYPE" validate:"required,startswith=_"`
	Domain      string `json:"domain" envconfig:"DOMAIN" validate:"required"`
	// Discovery selects the discovery backend
	Discovery string `json:"discovery" envconfig:"DISCOVERY" validate:"oneof=mdns broadcast"`
	// ListenAddr is where chat datagrams are received (port 0 = any)
	ListenAddr string `json:"listen_addr" envconfig:"LISTEN_ADDR" validate:"required"`
	// BroadcastPort is the shared port of the broadcast backend
	BroadcastPort int `json:"broadcast_port" envconfig:"BROADCAST_PORT" validate:"min=1,max=65535"`
	// SeedPeers are host:port targets announced to directly
	SeedPeers []string `json:"seed_peers,omitempty" envconfig:"SEED_PEERS" validate:"dive,hostname_port"`

	ConnectTimeout     Duration `json:"connect_timeout" envconfig:"CONNECT_TIMEOUT" validate:"gt=0"`
	SendTimeout        Duration `json:"send_timeout" envconfig:"SEND_TIMEOUT" validate:"gt=0"`
	ChannelIdleTimeout Duration `json:"channel_idle_timeout" envconfig:"CHANNEL_IDLE_TIMEOUT" validate:"gt=0"`

	// Verbose enables verbose logging
	Verbose bool `json:"verbose" envconfig:"VERBOSE"`
}

// Paths holds commonly used paths
type Paths struct {
	// ConfigDir is ~/.lanchat
	ConfigDir string
	// ConfigFile is ~/.lanchat/config.json
	ConfigFile string
}

// GetPaths returns the standard paths
func GetPaths() (*Paths, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ConfigDirName)
	return &Paths{
		ConfigDir:  configDir,
		ConfigFile: filepath.Join(configDir, ConfigFileName),
	}, nil
}

// Default returns a new Config with default values
func Default() *Config {
	return &Config{
		ServiceType:        "_lanchat._udp",
		Domain:             "local.",
		Discovery:          DiscoveryMDNS,
		ListenAddr:         ":0",
		BroadcastPort:      50051,
		ConnectTimeout:     Duration(5 * time.Second),
		SendTimeout:        Duration(3 * time.Second),
		ChannelIdleTimeout: Duration(2 * time.Minute),
	}
}

// Load reads the config file at path (empty = ~/.lanchat/config.json),
// applies environment overrides and validates the result.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		paths, err := GetPaths()
		if err != nil {
			return nil, err
		}
		path = paths.ConfigFile
	}

	config := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes the configuration to path (empty = ~/.lanchat/config.json)
func (c *Config) Save(path string) error {
	if path == "" {
		paths, err := GetPaths()
		if err != nil {
			return err
		}
		path = paths.ConfigFile
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
