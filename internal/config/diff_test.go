package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/config"
)

func defaults() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(*config.Config)
		wantLevel   config.LogLevel
		wantRestart []string
	}{
		{
			name:   "no changes",
			mutate: func(*config.Config) {},
		},
		{
			name:      "log level",
			mutate:    func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			wantLevel: config.LogDebug,
		},
		{
			name:        "listen address",
			mutate:      func(c *config.Config) { c.Server.ListenAddr = ":9999" },
			wantRestart: []string{"server.listen_addr"},
		},
		{
			name: "several sections",
			mutate: func(c *config.Config) {
				c.Server.LogLevel = config.LogError
				c.Recorder.BufferDuration = time.Hour
				c.Store.Driver = config.StoreSQLite
				c.Store.DSN = "earshot.db"
				c.Discord.Token = "new"
			},
			wantLevel:   config.LogError,
			wantRestart: []string{"discord", "recorder", "store"},
		},
		{
			name:        "soundboard",
			mutate:      func(c *config.Config) { c.Soundboard.CacheDuration = time.Minute },
			wantRestart: []string{"soundboard"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, updated := defaults(), defaults()
			tt.mutate(updated)

			d := config.Diff(old, updated)
			if d.LogLevelChanged != (tt.wantLevel != "") || d.NewLogLevel != tt.wantLevel {
				t.Errorf("log level diff = (%v, %q), want %q", d.LogLevelChanged, d.NewLogLevel, tt.wantLevel)
			}
			if !slices.Equal(d.RestartRequired, tt.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.wantRestart)
			}
			wantChanged := tt.wantLevel != "" || len(tt.wantRestart) > 0
			if d.Changed() != wantChanged {
				t.Errorf("Changed() = %v, want %v", d.Changed(), wantChanged)
			}
		})
	}
}
