package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, merges it over the
// defaults, and returns a validated [Config]. A missing file is an error;
// use [LoadDefault] for the optional per-user config.
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

// LoadDefault loads the config file at [DefaultPath]. A missing file is not
// an error: the daemon then runs on [Default] values.
func LoadDefault() (*Config, error) {
	path := DefaultPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Info("config file not found, using defaults", "path", path)
		return Default(), nil
	}
	return Load(path)
}

// LoadFromReader decodes a YAML config from r over the defaults and
// validates the result. Keys absent from the document keep their default
// values; unknown keys are an error.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.normalize()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize fills fields whose value derives from other fields.
func (c *Config) normalize() {
	if c.VAD.ThresholdStop == 0 {
		c.VAD.ThresholdStop = c.VAD.ThresholdStart
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_size must be positive, got %d", cfg.Audio.ChunkSize))
	}
	if cfg.Audio.Channels < 1 {
		errs = append(errs, fmt.Errorf("audio.channels must be at least 1, got %d", cfg.Audio.Channels))
	}
	if cfg.Audio.Gain <= 0 {
		errs = append(errs, fmt.Errorf("audio.gain must be positive, got %v", cfg.Audio.Gain))
	}

	// VAD
	if cfg.VAD.ThresholdStart <= 0 || cfg.VAD.ThresholdStart > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold_start %v is out of range (0, 1]", cfg.VAD.ThresholdStart))
	}
	if cfg.VAD.ThresholdStop > cfg.VAD.ThresholdStart {
		errs = append(errs, fmt.Errorf("vad.threshold_stop %v must not exceed vad.threshold_start %v", cfg.VAD.ThresholdStop, cfg.VAD.ThresholdStart))
	}
	if cfg.VAD.MinSilenceMS <= 0 {
		errs = append(errs, fmt.Errorf("vad.min_silence_ms must be positive, got %d", cfg.VAD.MinSilenceMS))
	}

	// Whisper
	if cfg.Whisper.ModelURL == "" {
		errs = append(errs, errors.New("whisper.model_url is required"))
	} else if u, err := url.Parse(cfg.Whisper.ModelURL); err != nil || u.Scheme == "" {
		errs = append(errs, fmt.Errorf("whisper.model_url %q is not a valid URL", cfg.Whisper.ModelURL))
	}
	if lang := cfg.Whisper.Language; lang != "" && lang != "auto" && !isLanguageCode(lang) {
		errs = append(errs, fmt.Errorf("whisper.language %q is invalid; use \"auto\" or a 2-3 letter lowercase code", lang))
	}
	if cfg.Whisper.TranscribeTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("whisper.transcribe_timeout_ms must be positive, got %d", cfg.Whisper.TranscribeTimeoutMS))
	}

	// Streaming window, only meaningful in streaming mode.
	if cfg.Whisper.StreamingMode {
		if cfg.Streaming.WindowMS <= 0 {
			errs = append(errs, fmt.Errorf("streaming.window_ms must be positive, got %d", cfg.Streaming.WindowMS))
		}
		if cfg.Streaming.KeepMS < 0 || cfg.Streaming.KeepMS >= cfg.Streaming.WindowMS {
			errs = append(errs, fmt.Errorf("streaming.keep_ms %d is out of range [0, window_ms)", cfg.Streaming.KeepMS))
		}
	}

	// Output
	if cfg.Output.TypeTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("output.type_timeout_ms must be positive, got %d", cfg.Output.TypeTimeoutMS))
	}

	// Buffer
	if cfg.Buffer.BroadcastCapacity < 1 {
		errs = append(errs, fmt.Errorf("buffer.broadcast_capacity must be at least 1, got %d", cfg.Buffer.BroadcastCapacity))
	}

	// Rate limit, only checked when it is doing anything.
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.CommandsPerSecond <= 0 {
			errs = append(errs, fmt.Errorf("rate_limit.commands_per_second must be positive, got %v", cfg.RateLimit.CommandsPerSecond))
		}
		if cfg.RateLimit.BurstCapacity <= 0 {
			errs = append(errs, fmt.Errorf("rate_limit.burst_capacity must be positive, got %d", cfg.RateLimit.BurstCapacity))
		}
	}

	// Telemetry
	if cfg.Telemetry.Enabled && cfg.Telemetry.ListenAddr == "" {
		errs = append(errs, errors.New("telemetry.listen_addr is required when telemetry.enabled is true"))
	}

	// Model ↔ language cross-check: .en models are English-only.
	if lang := cfg.Whisper.Language; lang != "" && lang != "en" && lang != "auto" {
		if name := path.Base(cfg.Whisper.ModelURL); strings.Contains(name, ".en") {
			slog.Warn("model appears to be English-only but another language is configured",
				"model", name,
				"language", lang,
			)
		}
	}

	return errors.Join(errs...)
}

// isLanguageCode reports whether lang looks like an ISO 639 code: 2-3
// lowercase ASCII letters.
func isLanguageCode(lang string) bool {
	if len(lang) < 2 || len(lang) > 3 {
		return false
	}
	for _, c := range lang {
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}
