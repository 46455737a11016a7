// Command earshot is the main entry point for the Earshot voice recorder and
// soundboard server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	discordbot "github.com/MrWong99/earshot/internal/discord"
	"github.com/MrWong99/earshot/internal/discord/commands"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/internal/soundboard"
	"github.com/MrWong99/earshot/internal/transcode"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("earshot starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "earshot",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Factory registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg)

	// ── Discord bot (optional) ────────────────────────────────────────────────
	opts := []app.Option{app.WithMetrics(observe.DefaultMetrics(), telemetry.Handler())}

	var bot *discordbot.Bot
	if cfg.Discord.Token != "" {
		bot, err = discordbot.New(ctx, discordbot.Config{
			Token:   cfg.Discord.Token,
			GuildID: cfg.Discord.GuildID,
		})
		if err != nil {
			slog.Error("failed to create Discord bot", "err", err)
			return 1
		}
		opts = append(opts, app.WithPlatform(bot.Platform(), bot))
		slog.Info("discord bot connected", "guild_id", cfg.Discord.GuildID)
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, reg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		if bot != nil {
			_ = bot.Close()
		}
		return 1
	}

	var sounds *commands.SoundboardCommands
	if bot != nil {
		sounds = registerCommands(bot, application, cfg)
		go func() {
			if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("discord bot error", "err", err)
				stop()
			}
		}()
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, _ *config.Config, diff config.ConfigDiff) {
		if diff.LogLevelChanged {
			level.Set(diff.NewLogLevel.Level())
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if len(diff.RestartRequired) > 0 {
			slog.Warn("config changes need a restart", "settings", diff.RestartRequired)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg)
	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping...")

	// Close the Discord bot first (unregister commands, disconnect).
	if bot != nil {
		if err := bot.Close(); err != nil {
			slog.Warn("discord bot close error", "err", err)
		}
		sounds.Wait()
	}

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Factory wiring ────────────────────────────────────────────────────────────

// registerBuiltins registers every store driver and converter that ships
// with Earshot.
func registerBuiltins(reg *config.Registry) {
	reg.RegisterStore(config.StoreMemory, func(context.Context, config.StoreConfig) (soundboard.Store, error) {
		return soundboard.NewMemStore(), nil
	})
	reg.RegisterStore(config.StorePostgres, func(ctx context.Context, sc config.StoreConfig) (soundboard.Store, error) {
		store, err := soundboard.OpenPostgres(ctx, sc.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	})
	reg.RegisterStore(config.StoreSQLite, func(ctx context.Context, sc config.StoreConfig) (soundboard.Store, error) {
		store, err := soundboard.OpenSQLite(ctx, sc.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	})

	reg.RegisterConverter(config.ConverterNative, func(config.SoundboardConfig) (transcode.Converter, error) {
		return transcode.Native{}, nil
	})
	reg.RegisterConverter(config.ConverterFFmpeg, func(sc config.SoundboardConfig) (transcode.Converter, error) {
		return transcode.NewGuarded("ffmpeg", transcode.NewFFmpeg(sc.FFmpegPath), resilience.CircuitBreakerConfig{}), nil
	})
	reg.RegisterConverter(config.ConverterAuto, func(sc config.SoundboardConfig) (transcode.Converter, error) {
		return transcode.NewChain("native", transcode.Native{}, resilience.CircuitBreakerConfig{}).
			Add("ffmpeg", transcode.NewFFmpeg(sc.FFmpegPath)), nil
	})
}

// registerCommands wires the slash commands onto the bot's router. It must
// run before bot.Run, which uploads the command definitions.
func registerCommands(bot *discordbot.Bot, a *app.App, cfg *config.Config) *commands.SoundboardCommands {
	commands.NewRecorderCommands(commands.RecorderConfig{
		Whitelist:      a.Whitelist(),
		Recordings:     a.Recordings(),
		Voice:          a.Voice(),
		Members:        bot,
		AttachmentSpan: cfg.Discord.AttachmentSpan,
	}).Register(bot.Router())

	sounds := commands.NewSoundboardCommands(commands.SoundboardConfig{
		Player:  a.Dispatcher(),
		Voice:   a.Voice(),
		Library: a.Library(),
		Stats:   a.Stats(),
		Perms:   discordbot.NewPermissionChecker(cfg.Discord.AdminRoleID),
	})
	sounds.Register(bot.Router())
	return sounds
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Earshot startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	if cfg.Discord.Token != "" {
		printRow("Discord", "connected")
	} else {
		printRow("Discord", "(disabled)")
	}
	printRow("Buffer", cfg.Recorder.BufferDuration.String())
	printRow("Store", string(cfg.Store.Driver))
	printRow("Converter", string(cfg.Soundboard.Converter))
	printRow("Sounds dir", cfg.Soundboard.SoundsDir)
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	} else {
		printRow("Listen addr", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
