package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// (server URL, device constraints) needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VolumeChanged bool
	NewVolume     float64

	LanguageChanged bool
	NewLanguage     string

	ModeChanged bool
	NewMode     RecordingMode
}

// Empty reports whether the diff contains no hot-reloadable change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VolumeChanged && !d.LanguageChanged && !d.ModeChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}
	if old.Playback.Volume != new.Playback.Volume {
		d.VolumeChanged = true
		d.NewVolume = new.Playback.Volume
	}
	if old.User.Language != new.User.Language {
		d.LanguageChanged = true
		d.NewLanguage = new.User.Language
	}
	if old.Recording.Mode != new.Recording.Mode {
		d.ModeChanged = true
		d.NewMode = new.Recording.Mode
	}

	return d
}
