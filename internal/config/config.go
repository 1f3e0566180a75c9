package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level muster configuration.
type Config struct {
	Defaults Defaults          `yaml:"defaults"`
	SSH      SSH               `yaml:"ssh"`
	Output   Output            `yaml:"output"`
	History  History           `yaml:"history"`
	Presets  map[string]Preset `yaml:"presets,omitempty"`
}

// Preset defines a named command group that can be selected by name
// instead of a command file.
type Preset struct {
	Description string   `yaml:"description,omitempty"`
	Commands    []string `yaml:"commands"`
}

// Defaults holds run-level default settings.
type Defaults struct {
	Concurrency    int      `yaml:"concurrency"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	CommandTimeout Duration `yaml:"command_timeout"`
	InitCommands   []string `yaml:"init_commands"`
	AccountsFile   string   `yaml:"accounts_file,omitempty"`
	Progress       bool     `yaml:"progress"`
}

// SSH holds transport settings applied to every device.
type SSH struct {
	User               string   `yaml:"user,omitempty"`
	Port               int      `yaml:"port"`
	ProxyJump          string   `yaml:"proxy_jump,omitempty"`
	IdentityFiles      []string `yaml:"identity_files,omitempty"`
	KnownHostsFile     string   `yaml:"known_hosts_file,omitempty"`
	AcceptUnknownHosts bool     `yaml:"accept_unknown_hosts"`
}

// Output holds the naming settings for captured command output.
type Output struct {
	Dir          string `yaml:"dir"`
	Prefix       string `yaml:"prefix,omitempty"`
	Suffix       string `yaml:"suffix"`
	Template     string `yaml:"template,omitempty"`
	BodyTemplate string `yaml:"body_template,omitempty"`
}

// History configures the run ledger.
type History struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// Duration wraps time.Duration to support YAML unmarshaling from strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Defaults: Defaults{
			Concurrency:    8,
			ConnectTimeout: Duration{15 * time.Second},
			CommandTimeout: Duration{30 * time.Second},
			InitCommands:   []string{"terminal length 0"},
			Progress:       true,
		},
		SSH: SSH{
			Port:               22,
			AcceptUnknownHosts: true,
		},
		Output: Output{
			Dir:    ".",
			Suffix: ".txt",
		},
		History: History{
			Enabled: true,
		},
	}
}

// DefaultConfigPath returns the default config file path.
// Respects $XDG_CONFIG_HOME if set, otherwise falls back to ~/.config.
func DefaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir != "" {
		return filepath.Join(configDir, "muster", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "muster", "config.yaml")
}

// DefaultHistoryPath returns the default run-ledger database path.
// Respects $XDG_DATA_HOME if set, otherwise falls back to ~/.local/share.
func DefaultHistoryPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir != "" {
		return filepath.Join(dataDir, "muster", "history.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "muster", "history.db")
}

// Load reads and parses a config YAML file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadDefault loads the config from the default path (~/.config/muster/config.yaml).
// If the file does not exist, it returns the default config.
func LoadDefault() (*Config, error) {
	path := DefaultConfigPath()
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Save writes the config to the given file path as YAML.
// It creates parent directories if they don't exist.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks the config for logical errors.
func (c *Config) Validate() error {
	if c.Defaults.Concurrency < 0 {
		return fmt.Errorf("concurrency must be non-negative, got %d", c.Defaults.Concurrency)
	}
	if c.Defaults.ConnectTimeout.Duration < 0 {
		return fmt.Errorf("connect timeout must be non-negative, got %s", c.Defaults.ConnectTimeout)
	}
	if c.Defaults.CommandTimeout.Duration < 0 {
		return fmt.Errorf("command timeout must be non-negative, got %s", c.Defaults.CommandTimeout)
	}
	if c.SSH.Port < 1 || c.SSH.Port > 65535 {
		return fmt.Errorf("ssh port must be in 1..65535, got %d", c.SSH.Port)
	}

	nameRe := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	for name, preset := range c.Presets {
		if !nameRe.MatchString(name) {
			return fmt.Errorf("preset name %q must match [a-zA-Z0-9_-]+", name)
		}
		if len(preset.Commands) == 0 {
			return fmt.Errorf("preset %q has no commands", name)
		}
	}

	return nil
}
