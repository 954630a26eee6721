package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pvt-x/pvtx/internal/protocol"
)

// Config is the pvtx.json root configuration: resolved filesystem roots,
// default scheduling/timeout policy, and engine-wide toggles.
type Config struct {
	Version  string   `json:"version"`
	Roots    Roots    `json:"roots"`
	Defaults Defaults `json:"defaults"`
	Logging  Logging  `json:"logging"`
}

// Roots mirrors protocol.Roots on disk: the five filesystem roots the
// engine resolves every manifest ref and run-folder path against.
type Roots struct {
	RunsRoot   string `json:"runsRoot"`
	AssetsRoot string `json:"assetsRoot"`
	CasesRoot  string `json:"casesRoot"`
	SuitesRoot string `json:"suitesRoot"`
	PlansRoot  string `json:"plansRoot"`
}

// ToProtocol converts the config's Roots into the runtime protocol.Roots
// value threaded through RunContext/SessionState.
func (r Roots) ToProtocol() protocol.Roots {
	return protocol.Roots{
		RunsRoot:   r.RunsRoot,
		AssetsRoot: r.AssetsRoot,
		CasesRoot:  r.CasesRoot,
		SuitesRoot: r.SuitesRoot,
		PlansRoot:  r.PlansRoot,
	}
}

// Defaults carries the default controls/timeouts applied when a manifest
// does not declare its own (protocol.DefaultControls mirrors these).
type Defaults struct {
	TimeoutSec          int    `json:"timeoutSec"`
	RebootDelaySec       int    `json:"rebootDelaySec"`
	TimeoutPolicy        string `json:"timeoutPolicy"`
	RedactSecretsInLogs  bool   `json:"redactSecretsInLogs"`
}

// Logging controls the shared slog handler every engine component is
// constructed with.
type Logging struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// GenerateDefault creates a Config with PVT-X's documented defaults.
func GenerateDefault() *Config {
	return &Config{
		Version: "1.0",
		Roots: Roots{
			RunsRoot:   "./runs",
			AssetsRoot: "./assets",
			CasesRoot:  "./assets/cases",
			SuitesRoot: "./assets/suites",
			PlansRoot:  "./assets/plans",
		},
		Defaults: Defaults{
			TimeoutSec:          300,
			RebootDelaySec:      10,
			TimeoutPolicy:       protocol.DefaultTimeoutPolicy,
			RedactSecretsInLogs: true,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for errors and returns user-friendly
// hinted error messages, in the teacher's style.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("configuration error: missing required field 'version'\n\nHint: Add a version field like:\n  \"version\": \"1.0\"")
	}

	if c.Roots.RunsRoot == "" {
		return fmt.Errorf("configuration error: missing required field 'roots.runsRoot'\n\nHint: Add a runs root:\n  \"roots\": {\n    \"runsRoot\": \"./runs\"\n  }")
	}
	if c.Roots.CasesRoot == "" {
		return fmt.Errorf("configuration error: missing required field 'roots.casesRoot'\n\nHint: Add a cases root:\n  \"roots\": {\n    \"casesRoot\": \"./assets/cases\"\n  }")
	}
	if c.Roots.SuitesRoot == "" {
		return fmt.Errorf("configuration error: missing required field 'roots.suitesRoot'\n\nHint: Add a suites root:\n  \"roots\": {\n    \"suitesRoot\": \"./assets/suites\"\n  }")
	}
	if c.Roots.PlansRoot == "" {
		return fmt.Errorf("configuration error: missing required field 'roots.plansRoot'\n\nHint: Add a plans root:\n  \"roots\": {\n    \"plansRoot\": \"./assets/plans\"\n  }")
	}
	if c.Roots.AssetsRoot == "" {
		return fmt.Errorf("configuration error: missing required field 'roots.assetsRoot'\n\nHint: Add an assets root (the parent of casesRoot):\n  \"roots\": {\n    \"assetsRoot\": \"./assets\"\n  }")
	}

	if c.Defaults.TimeoutSec < 0 {
		return fmt.Errorf("configuration error: invalid 'defaults.timeoutSec' value: %d\n\nHint: timeoutSec must be >= 0 (0 means no timeout):\n  \"defaults\": {\n    \"timeoutSec\": 300\n  }", c.Defaults.TimeoutSec)
	}
	if c.Defaults.RebootDelaySec < 0 {
		return fmt.Errorf("configuration error: invalid 'defaults.rebootDelaySec' value: %d\n\nHint: rebootDelaySec must be >= 0:\n  \"defaults\": {\n    \"rebootDelaySec\": 10\n  }", c.Defaults.RebootDelaySec)
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("configuration error: invalid 'logging.level' value: %q\n\nHint: level must be one of debug, info, warn, error:\n  \"logging\": {\n    \"level\": \"info\"\n  }", c.Logging.Level)
	}

	return nil
}

// LoadFromFile loads a configuration from a JSON file, filling in defaults
// for anything the file leaves blank.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := GenerateDefault()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// SaveToFile writes the configuration to a JSON file with 0600 permissions.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}

	return nil
}
