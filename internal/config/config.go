// # internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds settings loaded from --config, layered over the built-in
// defaults. Absent sections keep their defaults; a missing file is not an
// error at the call site that passes an empty path.
type Config struct {
	GrammarsPath string  `toml:"grammars_path"`
	Log          Log     `toml:"log"`
	Exclude      Exclude `toml:"exclude"`
	Watch        Watch   `toml:"watch"`
	Metrics      Metrics `toml:"metrics"`
	Quality      Quality `toml:"quality"`
}

// Log selects the slog handler shape and level threshold. Level accepts
// "debug", "info", "warn", or "error"; empty means info.
type Log struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

type Exclude struct {
	Dirs  []string `toml:"dirs"`
	Files []string `toml:"files"`
}

type Watch struct {
	Debounce time.Duration `toml:"debounce"`
}

type Metrics struct {
	Addr string `toml:"addr"`
}

// Quality overrides the built-in complexity/length/param/fan-in
// thresholds used for code lenses and diagnostics.
type Quality struct {
	ComplexityWarning  int `toml:"complexity_warning"`
	ComplexityCritical int `toml:"complexity_critical"`
	LengthWarning      int `toml:"length_warning"`
	LengthCritical     int `toml:"length_critical"`
	ParamsWarning      int `toml:"params_warning"`
	ParamsCritical     int `toml:"params_critical"`
	FanInWarning       int `toml:"fan_in_warning"`
}

func Default() Config {
	return Config{
		Watch: Watch{Debounce: 300 * time.Millisecond},
	}
}

// Load reads and decodes a TOML config file, applying defaults to any
// zero-valued field. An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, err
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 300 * time.Millisecond
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with. Zero-valued
// thresholds mean "use the default" and always pass.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("config: negative watch debounce %v", c.Watch.Debounce)
	}
	q := c.Quality
	for _, t := range []struct {
		name  string
		value int
	}{
		{"complexity_warning", q.ComplexityWarning},
		{"complexity_critical", q.ComplexityCritical},
		{"length_warning", q.LengthWarning},
		{"length_critical", q.LengthCritical},
		{"params_warning", q.ParamsWarning},
		{"params_critical", q.ParamsCritical},
		{"fan_in_warning", q.FanInWarning},
	} {
		if t.value < 0 {
			return fmt.Errorf("config: negative quality threshold %s = %d", t.name, t.value)
		}
	}
	if q.ComplexityWarning > 0 && q.ComplexityCritical > 0 && q.ComplexityWarning > q.ComplexityCritical {
		return fmt.Errorf("config: complexity_warning %d exceeds complexity_critical %d", q.ComplexityWarning, q.ComplexityCritical)
	}
	if q.LengthWarning > 0 && q.LengthCritical > 0 && q.LengthWarning > q.LengthCritical {
		return fmt.Errorf("config: length_warning %d exceeds length_critical %d", q.LengthWarning, q.LengthCritical)
	}
	if q.ParamsWarning > 0 && q.ParamsCritical > 0 && q.ParamsWarning > q.ParamsCritical {
		return fmt.Errorf("config: params_warning %d exceeds params_critical %d", q.ParamsWarning, q.ParamsCritical)
	}
	return nil
}
