package config_test

import (
	"testing"

	"github.com/zubia/zubia/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old := validConfig()
	new := validConfig()

	d := config.Diff(old, new)
	if !d.Empty() {
		t.Errorf("diff of identical configs = %+v, want empty", d)
	}
}

func TestDiff_TracksHotReloadableFields(t *testing.T) {
	t.Parallel()
	old := validConfig()
	new := validConfig()
	new.LogLevel = config.LogDebug
	new.Playback.Volume = 0.3
	new.User.Language = "ja"
	new.Recording.Mode = config.ModePushToTalk

	d := config.Diff(old, new)
	if d.Empty() {
		t.Fatal("diff reported empty for changed configs")
	}
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.VolumeChanged || d.NewVolume != 0.3 {
		t.Errorf("volume diff = %+v", d)
	}
	if !d.LanguageChanged || d.NewLanguage != "ja" {
		t.Errorf("language diff = %+v", d)
	}
	if !d.ModeChanged || d.NewMode != config.ModePushToTalk {
		t.Errorf("mode diff = %+v", d)
	}
}

func TestDiff_IgnoresRestartOnlyFields(t *testing.T) {
	t.Parallel()
	old := validConfig()
	new := validConfig()
	new.Server.URL = "http://other:3000"
	new.Recording.ChunkIntervalMS = 8000

	if d := config.Diff(old, new); !d.Empty() {
		t.Errorf("restart-only changes produced diff %+v", d)
	}
}
