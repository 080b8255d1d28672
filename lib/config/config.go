// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lanternbbs/lantern/lib/door"
	"github.com/lanternbbs/lantern/lib/user"
)

// Config is the master configuration for a Lantern host.
type Config struct {
	// Server configures the listener and session policy.
	Server ServerConfig `yaml:"server"`

	// Terminal configures protocol negotiation.
	Terminal TerminalConfig `yaml:"terminal"`

	// Board identifies the system and its callers.
	Board BoardConfig `yaml:"board"`

	// Stats configures the statistics spool.
	Stats StatsConfig `yaml:"stats"`

	// Doors lists the external programs callers may launch.
	Doors []DoorConfig `yaml:"doors"`
}

// ServerConfig configures the listener and session policy. Durations
// are strings in Go duration syntax ("10m", "30s").
type ServerConfig struct {
	// Listen is the TCP address to accept callers on.
	// Default: :2323
	Listen string `yaml:"listen"`

	// MaxSessions caps concurrent callers; arrivals beyond the cap
	// are turned away with a notice.
	// Default: 8
	MaxSessions int `yaml:"max_sessions"`

	// IdleTimeout is how long a caller may go without input before
	// being disconnected.
	// Default: 10m
	IdleTimeout string `yaml:"idle_timeout"`

	// SweepInterval is how often idle sessions are checked.
	// Default: 30s
	SweepInterval string `yaml:"sweep_interval"`

	// ShutdownGrace is how long callers get to log off after a
	// shutdown notice before being disconnected.
	// Default: 30s
	ShutdownGrace string `yaml:"shutdown_grace"`
}

// TerminalConfig configures protocol negotiation.
type TerminalConfig struct {
	// NegotiationTimeout bounds the option handshake; clients that
	// stay silent get default capabilities.
	// Default: 3s
	NegotiationTimeout string `yaml:"negotiation_timeout"`
}

// BoardConfig identifies the system.
type BoardConfig struct {
	// Name is the system name shown to callers and written into drop
	// files.
	Name string `yaml:"name"`

	// SysopName is written into drop files.
	SysopName string `yaml:"sysop_name"`

	// Users is the caller roster.
	Users []UserConfig `yaml:"users"`
}

// UserConfig is one caller in the roster.
type UserConfig struct {
	Handle        string `yaml:"handle"`
	RealName      string `yaml:"real_name"`
	Location      string `yaml:"location"`
	SecurityLevel int    `yaml:"security_level"`

	// TimeAllowance is session time per call, in Go duration syntax.
	// Default: 60m
	TimeAllowance string `yaml:"time_allowance"`
}

// StatsConfig configures the statistics spool.
type StatsConfig struct {
	// Spool is the file usage events are appended to. Empty disables
	// statistics.
	Spool string `yaml:"spool"`
}

// DoorConfig is the wire form of a door descriptor. Durations are
// strings; the availability window is "HH:MM-HH:MM".
type DoorConfig struct {
	Code          string   `yaml:"code"`
	Name          string   `yaml:"name"`
	Command       []string `yaml:"command"`
	WorkDir       string   `yaml:"workdir"`
	Format        string   `yaml:"format"`
	MinSecurity   int      `yaml:"min_security"`
	MaxSecurity   int      `yaml:"max_security"`
	TimeLimit     string   `yaml:"time_limit"`
	DailyLimit    int      `yaml:"daily_limit"`
	Window        string   `yaml:"window"`
	Baud          int      `yaml:"baud"`
	Port          string   `yaml:"port"`
	MultiInstance bool     `yaml:"multi_instance"`
}

// Default returns the default configuration. These defaults are a base
// for the config file, not a substitute for it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:        ":2323",
			MaxSessions:   8,
			IdleTimeout:   "10m",
			SweepInterval: "30s",
			ShutdownGrace: "30s",
		},
		Terminal: TerminalConfig{
			NegotiationTimeout: "3s",
		},
		Board: BoardConfig{
			Name:      "LANTERN BBS",
			SysopName: "Lantern Sysop",
		},
	}
}

// Load loads configuration from the LANTERN_CONFIG environment
// variable. There are no fallbacks: if LANTERN_CONFIG is not set,
// loading fails.
func Load() (*Config, error) {
	configPath := os.Getenv("LANTERN_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("LANTERN_CONFIG environment variable not set; " +
			"set it to the path of your lantern.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, applying
// defaults, path variable expansion, and validation.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in the
// path-valued fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Stats.Spool = expandVars(c.Stats.Spool, vars)
	for i := range c.Doors {
		c.Doors[i].WorkDir = expandVars(c.Doors[i].WorkDir, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All errors are
// collected so the operator sees every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, fmt.Errorf("server.listen is required"))
	}
	if c.Server.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions must be positive"))
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"server.idle_timeout", c.Server.IdleTimeout},
		{"server.sweep_interval", c.Server.SweepInterval},
		{"server.shutdown_grace", c.Server.ShutdownGrace},
		{"terminal.negotiation_timeout", c.Terminal.NegotiationTimeout},
	} {
		if _, err := parseDuration(field.name, field.value); err != nil {
			errs = append(errs, err)
		}
	}

	seenHandles := make(map[string]bool)
	for i, u := range c.Board.Users {
		if u.Handle == "" {
			errs = append(errs, fmt.Errorf("board.users[%d]: handle is required", i))
			continue
		}
		lower := strings.ToLower(u.Handle)
		if seenHandles[lower] {
			errs = append(errs, fmt.Errorf("board.users: duplicate handle %q", u.Handle))
		}
		seenHandles[lower] = true
		if _, err := u.Profile(); err != nil {
			errs = append(errs, err)
		}
	}

	seenCodes := make(map[string]bool)
	for i, d := range c.Doors {
		if d.Code != "" && seenCodes[d.Code] {
			errs = append(errs, fmt.Errorf("doors: duplicate code %q", d.Code))
		}
		seenCodes[d.Code] = true
		if _, err := d.Descriptor(); err != nil {
			errs = append(errs, fmt.Errorf("doors[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// Durations returns the parsed server durations.
func (s ServerConfig) Durations() (idle, sweep, grace time.Duration, err error) {
	if idle, err = parseDuration("server.idle_timeout", s.IdleTimeout); err != nil {
		return 0, 0, 0, err
	}
	if sweep, err = parseDuration("server.sweep_interval", s.SweepInterval); err != nil {
		return 0, 0, 0, err
	}
	if grace, err = parseDuration("server.shutdown_grace", s.ShutdownGrace); err != nil {
		return 0, 0, 0, err
	}
	return idle, sweep, grace, nil
}

// Negotiation returns the parsed negotiation timeout.
func (t TerminalConfig) Negotiation() (time.Duration, error) {
	return parseDuration("terminal.negotiation_timeout", t.NegotiationTimeout)
}

// Profile converts the roster entry to a caller profile.
func (u UserConfig) Profile() (user.Profile, error) {
	allowance := 60 * time.Minute
	if u.TimeAllowance != "" {
		parsed, err := parseDuration(
			fmt.Sprintf("board.users[%s].time_allowance", u.Handle), u.TimeAllowance)
		if err != nil {
			return user.Profile{}, err
		}
		allowance = parsed
	}
	return user.Profile{
		Handle:        u.Handle,
		RealName:      u.RealName,
		Location:      u.Location,
		SecurityLevel: u.SecurityLevel,
		TimeRemaining: allowance,
	}, nil
}

// Descriptor converts the wire form to a validated door descriptor.
func (d DoorConfig) Descriptor() (*door.Descriptor, error) {
	var timeLimit time.Duration
	if d.TimeLimit != "" {
		parsed, err := parseDuration(fmt.Sprintf("door %s time_limit", d.Code), d.TimeLimit)
		if err != nil {
			return nil, err
		}
		timeLimit = parsed
	}
	window, err := door.ParseWindow(d.Window)
	if err != nil {
		return nil, err
	}

	desc := &door.Descriptor{
		Code:          d.Code,
		Name:          d.Name,
		Command:       d.Command,
		WorkDir:       d.WorkDir,
		Format:        door.Format(d.Format),
		MinSecurity:   d.MinSecurity,
		MaxSecurity:   d.MaxSecurity,
		TimeLimit:     timeLimit,
		DailyLimit:    d.DailyLimit,
		Window:        window,
		Baud:          d.Baud,
		Port:          d.Port,
		MultiInstance: d.MultiInstance,
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return desc, nil
}

// Descriptors converts and validates every configured door.
func (c *Config) Descriptors() ([]*door.Descriptor, error) {
	descriptors := make([]*door.Descriptor, 0, len(c.Doors))
	for i, d := range c.Doors {
		desc, err := d.Descriptor()
		if err != nil {
			return nil, fmt.Errorf("doors[%d]: %w", i, err)
		}
		descriptors = append(descriptors, desc)
	}
	return descriptors, nil
}

// Profiles converts the caller roster.
func (c *Config) Profiles() ([]user.Profile, error) {
	profiles := make([]user.Profile, 0, len(c.Board.Users))
	for _, u := range c.Board.Users {
		profile, err := u.Profile()
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return parsed, nil
}
