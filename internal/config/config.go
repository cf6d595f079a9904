// Package config provides the configuration schema, defaults, loader, and
// file watcher for the voxd dictation daemon.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// DefaultModelURL is the model fetched when the config names none: the
// multilingual ggml base model, compatible with language autodetection.
const DefaultModelURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.bin"

// LogLevel controls log verbosity for the daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps the level to its log/slog equivalent. Unknown values map to
// info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for voxd.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader];
// keys absent from the file keep the values from [Default].
type Config struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	Audio         AudioConfig         `yaml:"audio"`
	VAD           VADConfig           `yaml:"vad"`
	Whisper       WhisperConfig       `yaml:"whisper"`
	Streaming     StreamingConfig     `yaml:"streaming"`
	Output        OutputConfig        `yaml:"output"`
	Buffer        BufferConfig        `yaml:"buffer"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	History       HistoryConfig       `yaml:"history"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

// AudioConfig holds microphone capture settings.
type AudioConfig struct {
	// SampleRate is the capture rate in Hz. Whisper models expect 16 kHz;
	// segments captured at other rates are resampled before recognition.
	SampleRate int `yaml:"sample_rate"`

	// ChunkSize is the number of frames delivered per capture chunk.
	ChunkSize int `yaml:"chunk_size"`

	// Channels is the number of capture channels. Multi-channel input is
	// downmixed to mono before it reaches the pipeline.
	Channels int `yaml:"channels"`

	// Gain is multiplied into every sample of an emitted speech segment.
	// 1.0 leaves the audio untouched.
	Gain float32 `yaml:"gain"`
}

// VADConfig holds the voice activity detection tuning.
type VADConfig struct {
	// ThresholdStart is the RMS level at or above which silence flips to
	// speech. Range (0, 1] for normalized float samples.
	ThresholdStart float32 `yaml:"threshold_start"`

	// ThresholdStop is the RMS level at or above which speech is held open.
	// Must not exceed ThresholdStart; the gap between the two is the
	// hysteresis band. Zero makes it track ThresholdStart.
	ThresholdStop float32 `yaml:"threshold_stop"`

	// MinSilenceMS is how long the stream must stay quiet, in milliseconds,
	// before an open speech segment is considered finished.
	MinSilenceMS int `yaml:"min_silence_ms"`
}

// MinSilence returns the silence confirmation window as a duration.
func (v VADConfig) MinSilence() time.Duration {
	return time.Duration(v.MinSilenceMS) * time.Millisecond
}

// WhisperConfig holds recognition engine settings.
type WhisperConfig struct {
	// ModelURL locates the ggml model file. The file name (the last URL
	// path element) is resolved against the local model directories first;
	// the URL is only fetched when no local copy exists.
	ModelURL string `yaml:"model_url"`

	// ModelChecksum is the optional hex SHA-256 of the model file. When
	// set, a present-but-mismatching file is re-downloaded.
	ModelChecksum string `yaml:"model_checksum"`

	// Language is the recognition language code ("en", "de", ...) or
	// "auto" for per-segment autodetection.
	Language string `yaml:"language"`

	// StreamingMode selects the rolling-window engine instead of
	// VAD-segmented batch recognition.
	StreamingMode bool `yaml:"streaming_mode"`

	// TranscribeTimeoutMS bounds one recognition pass, in milliseconds.
	// A pass that exceeds it is abandoned and its segment dropped.
	TranscribeTimeoutMS int `yaml:"transcribe_timeout_ms"`
}

// TranscribeTimeout returns the per-pass recognition deadline as a duration.
func (w WhisperConfig) TranscribeTimeout() time.Duration {
	return time.Duration(w.TranscribeTimeoutMS) * time.Millisecond
}

// StreamingConfig tunes the rolling transcription window. Only read when
// whisper.streaming_mode is true.
type StreamingConfig struct {
	// WindowMS is the audio window transcribed per pass, in milliseconds.
	WindowMS int `yaml:"window_ms"`

	// KeepMS is how much window tail is retained across passes, in
	// milliseconds, so words spanning a window boundary are not cut.
	// Must be smaller than WindowMS.
	KeepMS int `yaml:"keep_ms"`
}

// Window returns the rolling window length as a duration.
func (s StreamingConfig) Window() time.Duration {
	return time.Duration(s.WindowMS) * time.Millisecond
}

// Keep returns the retained tail length as a duration.
func (s StreamingConfig) Keep() time.Duration {
	return time.Duration(s.KeepMS) * time.Millisecond
}

// OutputConfig holds keystroke injection settings.
type OutputConfig struct {
	// TypeTimeoutMS bounds typing one transcription, in milliseconds.
	TypeTimeoutMS int `yaml:"type_timeout_ms"`
}

// TypeTimeout returns the injection deadline as a duration.
func (o OutputConfig) TypeTimeout() time.Duration {
	return time.Duration(o.TypeTimeoutMS) * time.Millisecond
}

// BufferConfig sizes the in-process audio plumbing.
type BufferConfig struct {
	// BroadcastCapacity is the per-receiver audio queue depth, in chunks.
	// A receiver that falls further behind loses the oldest chunks.
	BroadcastCapacity int `yaml:"broadcast_capacity"`
}

// RateLimitConfig throttles control socket commands.
type RateLimitConfig struct {
	// CommandsPerSecond is the sustained admission rate.
	CommandsPerSecond float64 `yaml:"commands_per_second"`

	// BurstCapacity is the token bucket size: how many commands may arrive
	// back to back before throttling kicks in.
	BurstCapacity int `yaml:"burst_capacity"`

	// Enabled turns admission control on. When false every command is
	// admitted.
	Enabled bool `yaml:"enabled"`
}

// HistoryConfig controls the local transcription log.
type HistoryConfig struct {
	// Enabled turns transcript recording on.
	Enabled bool `yaml:"enabled"`

	// Path overrides the SQLite database location. Empty selects the
	// per-user data directory.
	Path string `yaml:"path"`
}

// NotificationsConfig controls desktop notifications.
type NotificationsConfig struct {
	// Enabled turns desktop notifications on (pipeline started/stopped,
	// errors worth the user's attention).
	Enabled bool `yaml:"enabled"`
}

// TelemetryConfig controls the optional metrics/health HTTP listener.
type TelemetryConfig struct {
	// Enabled starts an HTTP listener serving /metrics, /healthz and
	// /readyz.
	Enabled bool `yaml:"enabled"`

	// ListenAddr is the listener address, e.g. "127.0.0.1:9090".
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the configuration voxd runs with when no config file
// exists. Every value is valid on its own.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Audio: AudioConfig{
			SampleRate: 16000,
			ChunkSize:  512,
			Channels:   1,
			Gain:       1.0,
		},
		VAD: VADConfig{
			ThresholdStart: 0.01,
			ThresholdStop:  0.01,
			MinSilenceMS:   1000,
		},
		Whisper: WhisperConfig{
			ModelURL:            DefaultModelURL,
			Language:            "auto",
			TranscribeTimeoutMS: 30_000,
		},
		Streaming: StreamingConfig{
			WindowMS: 3000,
			KeepMS:   500,
		},
		Output: OutputConfig{
			TypeTimeoutMS: 5000,
		},
		Buffer: BufferConfig{
			BroadcastCapacity: 64,
		},
		RateLimit: RateLimitConfig{
			CommandsPerSecond: 5,
			BurstCapacity:     10,
			Enabled:           true,
		},
		History: HistoryConfig{
			Enabled: true,
		},
		Notifications: NotificationsConfig{
			Enabled: false,
		},
		Telemetry: TelemetryConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9090",
		},
	}
}

// DefaultPath returns the per-user config file location following the XDG
// config home convention.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "voxd", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "voxd.yaml")
	}
	return filepath.Join(home, ".config", "voxd", "config.yaml")
}
