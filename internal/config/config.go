// Package config loads gwdaemond's configuration: a JSON file whose
// fields override the built-in defaults, plus the command-line flags that
// name that file and set the log level.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"
)

// Config is the daemon's full runtime configuration.
type Config struct {
	// InstanceID identifies this daemon instance in management messages.
	InstanceID string `json:"instanceId"`

	// SchemaDir is the directory holding request/response JSON schemas,
	// loaded by schema.Registry.Load.
	SchemaDir string `json:"schemaDir"`

	// CoordinatorPort is the serial or network address of the IQRF
	// coordinator channel (driver-specific; this core only records it).
	CoordinatorPort string `json:"coordinatorPort"`

	// BootTimeout bounds how long the engine waits for the coordinator to
	// identify itself on startup.
	BootTimeout time.Duration `json:"bootTimeout"`

	// ManagementQueueCapacity and NetworkQueueCapacity bound the
	// splitter's two inbound queues.
	ManagementQueueCapacity int `json:"managementQueueCapacity"`
	NetworkQueueCapacity    int `json:"networkQueueCapacity"`

	// ValidateResponses turns on response-schema validation before a
	// reply is sent out, at the cost of extra CPU per message.
	ValidateResponses bool `json:"validateResponses"`

	// PostBondDelay is passed through to the IQMESH bonding services.
	PostBondDelay time.Duration `json:"postBondDelay"`
}

// DefaultConfig returns a Config with the daemon's built-in defaults.
func DefaultConfig() Config {
	return Config{
		InstanceID:              "gwdaemon",
		SchemaDir:               "./schemas",
		ManagementQueueCapacity: 32,
		NetworkQueueCapacity:    32,
		BootTimeout:             30 * time.Second,
		PostBondDelay:           250 * time.Millisecond,
		ValidateResponses:       false,
	}
}

// Load reads a JSON config file at path, falling back to DefaultConfig
// for any field the file omits. An empty path returns the defaults
// unchanged.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Options holds the command-line flags gwdaemond accepts. They select the
// config file and the log level; no flag overrides a Config field.
type Options struct {
	ConfigPath string
	Verbose    bool
}

// ParseFlags parses the process's command-line flags into Options.
//
//	-config   path to the JSON config file (default: "")
//	-verbose  enable debug-level logging (default: false)
func ParseFlags(fs *flag.FlagSet, args []string) (Options, error) {
	var o Options
	fs.StringVar(&o.ConfigPath, "config", "", "path to JSON config file")
	fs.BoolVar(&o.Verbose, "verbose", false, "enable debug-level logging")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	return o, nil
}
