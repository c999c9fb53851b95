package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Server
	if cfg.Server.URL == "" {
		errs = append(errs, errors.New("server.url is required"))
	} else if u, err := url.Parse(cfg.Server.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("server.url %q is not an absolute URL", cfg.Server.URL))
	}
	if cfg.Server.DialTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("server.dial_timeout_ms %d must not be negative", cfg.Server.DialTimeoutMS))
	}

	// User
	if cfg.User.Language == "" {
		errs = append(errs, errors.New("user.language is required"))
	}

	// Recording
	if cfg.Recording.Mode != "" && !cfg.Recording.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("recording.mode %q is invalid; valid values: streaming, push_to_talk", cfg.Recording.Mode))
	}
	if cfg.Recording.ChunkIntervalMS <= 0 {
		errs = append(errs, fmt.Errorf("recording.chunk_interval_ms %d must be positive", cfg.Recording.ChunkIntervalMS))
	}
	if cfg.Recording.GraceMS < 0 {
		errs = append(errs, fmt.Errorf("recording.grace_ms %d must not be negative", cfg.Recording.GraceMS))
	}
	if cfg.Recording.GraceMS >= cfg.Recording.ChunkIntervalMS && cfg.Recording.ChunkIntervalMS > 0 {
		errs = append(errs, fmt.Errorf("recording.grace_ms %d must be shorter than chunk_interval_ms %d", cfg.Recording.GraceMS, cfg.Recording.ChunkIntervalMS))
	}

	// Playback
	if cfg.Playback.Volume < 0 || cfg.Playback.Volume > 1 {
		errs = append(errs, fmt.Errorf("playback.volume %.2f is out of range [0, 1]", cfg.Playback.Volume))
	}
	if cfg.Playback.OutputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("playback.output_sample_rate %d must not be negative", cfg.Playback.OutputSampleRate))
	}

	// History
	if cfg.History.Enabled && cfg.History.Dir == "" {
		errs = append(errs, errors.New("history.dir is required when history.enabled is true"))
	}

	// Metrics
	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddr == "" {
		errs = append(errs, errors.New("metrics.listen_addr is required when metrics.enabled is true"))
	}

	return errors.Join(errs...)
}
