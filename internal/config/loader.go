package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr         = ":8080"
	DefaultAttachmentSpan     = 4 * time.Minute
	DefaultBufferDuration     = 3 * time.Minute
	DefaultBufferExpiration   = 5 * time.Minute
	DefaultSweepInterval      = 30 * time.Second
	DefaultFrameInterval      = 20 * time.Millisecond
	DefaultWhitelistPath      = "whitelist.bin"
	DefaultSoundsDir          = "sounds"
	DefaultMaxDuration        = 30 * time.Second
	DefaultCacheDuration      = 10 * time.Minute
	DefaultCacheSweepInterval = 30 * time.Second
	DefaultHistorySize        = 100
	DefaultFFmpegPath         = "ffmpeg"
)

// minBufferDuration is the shortest accepted recorder buffer.
const minBufferDuration = time.Second

// Load reads the YAML file at path and returns a defaulted, validated
// [Config].
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

// LoadFromReader decodes YAML from r, rejecting unknown keys, then applies
// defaults and validates. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every zero field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Discord.AttachmentSpan, DefaultAttachmentSpan)

	setDefault(&cfg.Recorder.BufferDuration, DefaultBufferDuration)
	setDefault(&cfg.Recorder.BufferExpiration, DefaultBufferExpiration)
	setDefault(&cfg.Recorder.SweepInterval, DefaultSweepInterval)
	setDefault(&cfg.Recorder.FrameInterval, DefaultFrameInterval)
	setDefault(&cfg.Recorder.WhitelistPath, DefaultWhitelistPath)

	setDefault(&cfg.Soundboard.SoundsDir, DefaultSoundsDir)
	setDefault(&cfg.Soundboard.MaxDuration, DefaultMaxDuration)
	setDefault(&cfg.Soundboard.CacheDuration, DefaultCacheDuration)
	setDefault(&cfg.Soundboard.CacheSweepInterval, DefaultCacheSweepInterval)
	setDefault(&cfg.Soundboard.HistorySize, DefaultHistorySize)
	setDefault(&cfg.Soundboard.Converter, ConverterAuto)
	setDefault(&cfg.Soundboard.FFmpegPath, DefaultFFmpegPath)

	setDefault(&cfg.Store.Driver, StoreMemory)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg is coherent. Every problem found is reported in
// one joined error. Suspicious but workable values are logged as warnings.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Discord
	if cfg.Discord.AttachmentSpan <= 0 {
		errs = append(errs, fmt.Errorf("discord.attachment_span must be positive, got %s", cfg.Discord.AttachmentSpan))
	}
	if cfg.Discord.Token == "" {
		slog.Warn("config: discord.token is empty; the bot will not start")
	}

	// Recorder
	rc := cfg.Recorder
	if rc.BufferDuration <= minBufferDuration {
		errs = append(errs, fmt.Errorf("recorder.buffer_duration must be longer than %s, got %s", minBufferDuration, rc.BufferDuration))
	}
	if rc.BufferExpiration <= 0 {
		errs = append(errs, fmt.Errorf("recorder.buffer_expiration must be positive, got %s", rc.BufferExpiration))
	}
	if rc.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("recorder.sweep_interval must be positive, got %s", rc.SweepInterval))
	} else if rc.BufferExpiration > 0 && rc.SweepInterval >= rc.BufferExpiration {
		slog.Warn("config: recorder.sweep_interval is not shorter than buffer_expiration; expired buffers will linger",
			"sweep_interval", rc.SweepInterval,
			"buffer_expiration", rc.BufferExpiration,
		)
	}
	if rc.FrameInterval <= 0 {
		errs = append(errs, fmt.Errorf("recorder.frame_interval must be positive, got %s", rc.FrameInterval))
	}

	// Soundboard
	sc := cfg.Soundboard
	if sc.MaxDuration < 0 {
		errs = append(errs, fmt.Errorf("soundboard.max_duration must not be negative, got %s", sc.MaxDuration))
	}
	if sc.CacheDuration <= 0 {
		errs = append(errs, fmt.Errorf("soundboard.cache_duration must be positive, got %s", sc.CacheDuration))
	}
	if sc.CacheSweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("soundboard.cache_sweep_interval must be positive, got %s", sc.CacheSweepInterval))
	}
	if sc.HistorySize < 1 {
		errs = append(errs, fmt.Errorf("soundboard.history_size must be at least 1, got %d", sc.HistorySize))
	}
	if !sc.Converter.IsValid() {
		errs = append(errs, fmt.Errorf("soundboard.converter %q is invalid; valid values: auto, native, ffmpeg", sc.Converter))
	}

	// Store
	if !cfg.Store.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: memory, postgres, sqlite", cfg.Store.Driver))
	} else if cfg.Store.Driver.NeedsDSN() && cfg.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", cfg.Store.Driver))
	}

	return errors.Join(errs...)
}
