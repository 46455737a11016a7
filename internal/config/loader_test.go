package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/earshot/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr []string // substrings; empty means valid
	}{
		{
			name: "defaults",
			yaml: ``,
		},
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: verbose\n",
			wantErr: []string{"server.log_level"},
		},
		{
			name:    "buffer too short",
			yaml:    "recorder:\n  buffer_duration: 1s\n",
			wantErr: []string{"recorder.buffer_duration"},
		},
		{
			name:    "negative expiration",
			yaml:    "recorder:\n  buffer_expiration: -1m\n",
			wantErr: []string{"recorder.buffer_expiration"},
		},
		{
			name:    "negative sweep interval",
			yaml:    "recorder:\n  sweep_interval: -5s\n",
			wantErr: []string{"recorder.sweep_interval"},
		},
		{
			name: "sweep slower than expiration only warns",
			yaml: "recorder:\n  sweep_interval: 10m\n  buffer_expiration: 5m\n",
		},
		{
			name:    "unknown store driver",
			yaml:    "store:\n  driver: mongodb\n",
			wantErr: []string{"store.driver"},
		},
		{
			name:    "postgres without dsn",
			yaml:    "store:\n  driver: postgres\n",
			wantErr: []string{"store.dsn"},
		},
		{
			name:    "sqlite without dsn",
			yaml:    "store:\n  driver: sqlite\n",
			wantErr: []string{"store.dsn"},
		},
		{
			name: "postgres with dsn",
			yaml: "store:\n  driver: postgres\n  dsn: postgres://localhost/earshot\n",
		},
		{
			name:    "unknown converter",
			yaml:    "soundboard:\n  converter: sox\n",
			wantErr: []string{"soundboard.converter"},
		},
		{
			name:    "negative history size",
			yaml:    "soundboard:\n  history_size: -1\n",
			wantErr: []string{"soundboard.history_size"},
		},
		{
			name:    "negative max duration",
			yaml:    "soundboard:\n  max_duration: -1s\n",
			wantErr: []string{"soundboard.max_duration"},
		},
		{
			name: "every problem is reported",
			yaml: `
server:
  log_level: loud
recorder:
  buffer_duration: 500ms
store:
  driver: postgres
soundboard:
  converter: sox
`,
			wantErr: []string{"server.log_level", "recorder.buffer_duration", "store.dsn", "soundboard.converter"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error mentioning %v, got nil", tt.wantErr)
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should mention %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestValidate_DirectZeroConfig(t *testing.T) {
	t.Parallel()
	// Validate does not apply defaults.
	if err := config.Validate(&config.Config{}); err == nil {
		t.Fatal("expected errors for a zero config, got nil")
	}
}
