// Package config provides the configuration schema, loader, file watcher and
// factory registry for the earshot server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
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

// Level converts l to a [slog.Level]. Unknown levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// StoreDriver selects the sound catalog backend.
type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StorePostgres StoreDriver = "postgres"
	StoreSQLite   StoreDriver = "sqlite"
)

// IsValid reports whether d is a known driver.
func (d StoreDriver) IsValid() bool {
	switch d {
	case StoreMemory, StorePostgres, StoreSQLite:
		return true
	}
	return false
}

// NeedsDSN reports whether the driver requires [StoreConfig.DSN].
func (d StoreDriver) NeedsDSN() bool {
	return d == StorePostgres || d == StoreSQLite
}

// ConverterName selects how stored sounds are decoded.
type ConverterName string

const (
	// ConverterAuto decodes natively and falls back to ffmpeg.
	ConverterAuto ConverterName = "auto"

	// ConverterNative only decodes WAV, MP3 and FLAC in-process.
	ConverterNative ConverterName = "native"

	// ConverterFFmpeg always shells out to ffmpeg.
	ConverterFFmpeg ConverterName = "ffmpeg"
)

// IsValid reports whether c is a known converter.
func (c ConverterName) IsValid() bool {
	switch c {
	case ConverterAuto, ConverterNative, ConverterFFmpeg:
		return true
	}
	return false
}

// UsesFFmpeg reports whether the converter may run the ffmpeg binary.
func (c ConverterName) UsesFFmpeg() bool {
	return c == ConverterAuto || c == ConverterFFmpeg
}

// Config is the root configuration. It is typically loaded with [Load] or
// [LoadFromReader], which apply [ApplyDefaults] and [Validate].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Discord    DiscordConfig    `yaml:"discord"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Soundboard SoundboardConfig `yaml:"soundboard"`
	Store      StoreConfig      `yaml:"store"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the HTTP API address (e.g. ":8080"). Empty disables the
	// API.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel can be changed without a restart.
	LogLevel LogLevel `yaml:"log_level"`
}

// DiscordConfig configures the bot. The bot is not started without a token.
type DiscordConfig struct {
	Token string `yaml:"token"`

	// GuildID restricts command registration to one guild. Empty registers
	// global commands.
	GuildID string `yaml:"guild_id"`

	// AdminRoleID is required for /sound upload and /sound delete. Empty
	// leaves those commands to members with the Manage Server permission.
	AdminRoleID string `yaml:"admin_role_id"`

	// AttachmentSpan is the longest recording sent as one WAV attachment.
	// Longer recordings are split.
	AttachmentSpan time.Duration `yaml:"attachment_span"`
}

// RecorderConfig sizes the rolling voice buffers.
type RecorderConfig struct {
	// BufferDuration is how much audio each speaker's buffer retains.
	BufferDuration time.Duration `yaml:"buffer_duration"`

	// BufferExpiration drops buffers that received nothing for this long.
	BufferExpiration time.Duration `yaml:"buffer_expiration"`

	// SweepInterval is how often expired buffers are collected.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// FrameInterval sizes new buffers for the expected frame length.
	FrameInterval time.Duration `yaml:"frame_interval"`

	// WhitelistPath stores the recording consent list.
	WhitelistPath string `yaml:"whitelist_path"`
}

// SoundboardConfig configures the sound library and transcode cache.
type SoundboardConfig struct {
	SoundsDir string `yaml:"sounds_dir"`

	// MaxDuration rejects longer uploads.
	MaxDuration time.Duration `yaml:"max_duration"`

	// CacheDuration is how long a converted sound is kept.
	CacheDuration      time.Duration `yaml:"cache_duration"`
	CacheSweepInterval time.Duration `yaml:"cache_sweep_interval"`

	// HistorySize is how many plays per guild are remembered for replay.
	HistorySize int `yaml:"history_size"`

	Converter  ConverterName `yaml:"converter"`
	FFmpegPath string        `yaml:"ffmpeg_path"`
}

// StoreConfig selects the catalog backend.
type StoreConfig struct {
	Driver StoreDriver `yaml:"driver"`

	// DSN is a postgres connection string or a SQLite file path.
	DSN string `yaml:"dsn"`
}
