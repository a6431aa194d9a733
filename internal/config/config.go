// Package config loads the launch file that describes which programs
// launchall starts.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/mbrock/launchall/internal/launch"
)

// Backend selects the spawn primitive.
type Backend string

const (
	BackendExec    Backend = "exec"    // plain child processes
	BackendSystemd Backend = "systemd" // transient user services
)

// Config is the contents of a launch file.
type Config struct {
	// WorkDir is the default working directory of every program.
	WorkDir string `toml:"workdir"`
	Backend Backend `toml:"backend"`
	// Journal mirrors status lines to journald when it is available.
	Journal  bool      `toml:"journal"`
	Programs []Program `toml:"program"`
}

// Program describes one program to launch.
type Program struct {
	Label string   `toml:"label"`
	Path  string   `toml:"path"`
	Args  []string `toml:"args,omitempty"`
	Dir   string   `toml:"dir,omitempty"`
	TTY   bool     `toml:"tty,omitempty"`
}

// Default returns the built-in layout: both Enpal API servers started with
// the python3 found on PATH from the current directory.
func Default() *Config {
	return &Config{
		Backend: BackendExec,
		Programs: []Program{
			{Label: "Enpal API Server", Path: "python3", Args: []string{"enpal_api_server.py"}},
			{Label: "Enpal Comprehensive API Server", Path: "python3", Args: []string{"enpal_comprehensive_api_server.py"}},
		},
	}
}

// Load reads the launch file at path.
//
// When the file does not exist and explicit is false, Default() is returned.
// A missing file that the user named explicitly is an error.
func Load(path string, explicit bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse decodes and validates a launch file. Unknown keys are rejected.
func Parse(source string, data []byte) (*Config, error) {
	cfg := &Config{}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, newParseError(source, err)
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendExec
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendExec, BackendSystemd:
	default:
		return &ValidationError{Index: -1, Field: "backend", Message: fmt.Sprintf("unknown backend %q", c.Backend)}
	}

	if len(c.Programs) == 0 {
		return &ValidationError{Index: -1, Field: "program", Message: "no programs configured"}
	}

	seen := make(map[string]int, len(c.Programs))
	for i, p := range c.Programs {
		if p.Label == "" {
			return &ValidationError{Index: i, Field: "label", Message: "must not be empty"}
		}
		if p.Path == "" {
			return &ValidationError{Index: i, Field: "path", Message: "must not be empty"}
		}
		if prev, ok := seen[p.Label]; ok {
			return &ValidationError{Index: i, Field: "label", Message: fmt.Sprintf("%q already used by program %d", p.Label, prev)}
		}
		if p.TTY && c.Backend == BackendSystemd {
			return &ValidationError{Index: i, Field: "tty", Message: "not supported with the systemd backend"}
		}
		seen[p.Label] = i
	}
	return nil
}

// Specs converts the programs to launch specs, in file order.
// Directories are left as written; the launcher resolves them against WorkDir.
func (c *Config) Specs() []launch.Spec {
	specs := make([]launch.Spec, len(c.Programs))
	for i, p := range c.Programs {
		specs[i] = launch.Spec{
			Label: p.Label,
			Path:  p.Path,
			Args:  append([]string(nil), p.Args...),
			Dir:   p.Dir,
			TTY:   p.TTY,
		}
	}
	return specs
}

// Marshal encodes the configuration as TOML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}
