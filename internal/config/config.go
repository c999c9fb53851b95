// Package config provides the configuration schema, loader, and file
// watcher for the Zubia translation chat client.
package config

// LogLevel controls log verbosity for the client.
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

// RecordingMode selects how speech is segmented into utterances.
type RecordingMode string

const (
	// ModeStreaming keeps the microphone hot and cuts chunks at a fixed
	// interval.
	ModeStreaming RecordingMode = "streaming"

	// ModePushToTalk records one chunk per press/release gesture.
	ModePushToTalk RecordingMode = "push_to_talk"
)

// IsValid reports whether m is a recognised recording mode.
func (m RecordingMode) IsValid() bool {
	return m == ModeStreaming || m == ModePushToTalk
}

// Config is the root configuration structure for the client.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	User      UserConfig      `yaml:"user"`
	Recording RecordingConfig `yaml:"recording"`
	Playback  PlaybackConfig  `yaml:"playback"`
	History   HistoryConfig   `yaml:"history"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// LogLevel controls verbosity. Defaults to "info".
	LogLevel LogLevel `yaml:"log_level"`
}

// ServerConfig points the client at a room server.
type ServerConfig struct {
	// URL is the room server base URL (e.g., "http://localhost:3000").
	// The websocket endpoint is derived from it.
	URL string `yaml:"url"`

	// DialTimeoutMS bounds connect and hello, in milliseconds.
	DialTimeoutMS int `yaml:"dial_timeout_ms"`
}

// UserConfig identifies the local speaker.
type UserConfig struct {
	// Name is the display name announced to the room.
	Name string `yaml:"name"`

	// Language is the speaker's language code (e.g., "en").
	Language string `yaml:"language"`
}

// RecordingConfig controls capture and chunking behaviour.
type RecordingConfig struct {
	// Mode selects streaming or push-to-talk segmentation.
	Mode RecordingMode `yaml:"mode"`

	// ChunkIntervalMS is the streaming-mode chunk length in milliseconds.
	ChunkIntervalMS int `yaml:"chunk_interval_ms"`

	// GraceMS is the pause between streaming legs in milliseconds.
	GraceMS int `yaml:"grace_ms"`

	// EchoCancellation asks the capture device for echo cancellation.
	EchoCancellation bool `yaml:"echo_cancellation"`

	// NoiseSuppression asks the capture device for noise suppression.
	NoiseSuppression bool `yaml:"noise_suppression"`
}

// PlaybackConfig controls translated-audio output.
type PlaybackConfig struct {
	// Volume is the initial output gain in [0, 1].
	Volume float64 `yaml:"volume"`

	// OutputSampleRate fixes the rate handed to the output device.
	// Zero plays each entry at its source rate.
	OutputSampleRate int `yaml:"output_sample_rate"`
}

// HistoryConfig controls the local conversation feed store.
type HistoryConfig struct {
	// Enabled turns the feed store on.
	Enabled bool `yaml:"enabled"`

	// Dir is the directory holding the store. Required when Enabled.
	Dir string `yaml:"dir"`
}

// MetricsConfig controls the local observability endpoint.
type MetricsConfig struct {
	// Enabled starts an HTTP server exposing /metrics and /healthz.
	Enabled bool `yaml:"enabled"`

	// ListenAddr is the TCP address the metrics server listens on
	// (e.g., "127.0.0.1:9090").
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a config with all defaults applied: a local server,
// streaming mode with 4-second chunks, full volume, and info logging.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:           "http://localhost:3000",
			DialTimeoutMS: 10000,
		},
		User: UserConfig{
			Language: "en",
		},
		Recording: RecordingConfig{
			Mode:             ModeStreaming,
			ChunkIntervalMS:  4000,
			GraceMS:          50,
			EchoCancellation: true,
			NoiseSuppression: true,
		},
		Playback: PlaybackConfig{
			Volume: 1.0,
		},
		Metrics: MetricsConfig{
			ListenAddr: "127.0.0.1:9090",
		},
		LogLevel: LogInfo,
	}
}
