package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
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

	// Relay
	if cfg.Relay.URL == "" {
		errs = append(errs, errors.New("relay.url is required"))
	} else if !strings.HasPrefix(cfg.Relay.URL, "ws://") && !strings.HasPrefix(cfg.Relay.URL, "wss://") {
		errs = append(errs, fmt.Errorf("relay.url %q must use the ws or wss scheme", cfg.Relay.URL))
	}
	if cfg.Relay.Token == "" {
		errs = append(errs, errors.New("relay.token is required"))
	}

	// Session
	if cfg.Session.Mode != "" && !cfg.Session.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("session.mode %q is invalid; valid values: test-agent, voice-chat", cfg.Session.Mode))
	}
	if cfg.Session.Mode == ModeTestAgent && cfg.Session.AgentID == "" {
		errs = append(errs, errors.New("session.agent_id is required when session.mode is test-agent"))
	}
	if cfg.Session.Mode == ModeVoiceChat && cfg.Session.AgentID != "" {
		slog.Warn("session.agent_id is ignored in voice-chat mode", "agent_id", cfg.Session.AgentID)
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameSamples < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_samples %d must not be negative", cfg.Audio.FrameSamples))
	}
	if cfg.Audio.Codec != "" && !cfg.Audio.Codec.IsValid() {
		errs = append(errs, fmt.Errorf("audio.codec %q is invalid; valid values: pcm16, opus", cfg.Audio.Codec))
	}
	if cfg.Audio.Volume < 0 || cfg.Audio.Volume > 100 {
		errs = append(errs, fmt.Errorf("audio.volume %d is out of range [0, 100]", cfg.Audio.Volume))
	}

	// Client
	if cfg.Client.LogLevel != "" && !cfg.Client.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("client.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Client.LogLevel))
	}

	// Storage availability
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; call transcripts will not be persisted")
	}

	return errors.Join(errs...)
}
