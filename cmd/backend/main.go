package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/do/v2"

	configloader "github.com/arclight-collective/paymaster/external/config"
	discordimpl "github.com/arclight-collective/paymaster/external/discord"
	pricesimpl "github.com/arclight-collective/paymaster/external/prices"
	repositoryimpl "github.com/arclight-collective/paymaster/external/repository"
	webhookimpl "github.com/arclight-collective/paymaster/external/webhook"
	"github.com/arclight-collective/paymaster/internal/bot"
	"github.com/arclight-collective/paymaster/internal/config"
	discordpkg "github.com/arclight-collective/paymaster/internal/discord"
	"github.com/arclight-collective/paymaster/internal/payroll"
	"github.com/arclight-collective/paymaster/internal/prices"
	"github.com/arclight-collective/paymaster/internal/tracker"
)

const (
	discordConnectTimeout = 20 * time.Second
	shutdownTimeout       = 30 * time.Second
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	slog.Info("startup: launching discord bot")
	runBot(cfg, injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	repositoryimpl.RegisterDI(injector)
	pricesimpl.RegisterDI(injector)
	discordimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	tracker.RegisterDI(injector)
	payroll.RegisterDI(injector)
	bot.RegisterDI(injector)

	return injector
}

func runBot(cfg *config.Config, injector do.Injector) {
	dc, err := do.Invoke[discordpkg.Client](injector)
	if err != nil {
		slog.Error("failed to resolve discord client", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), discordConnectTimeout)
	defer cancel()

	slog.Info("startup: connecting to discord gateway")
	if err := dc.Connect(ctx); err != nil {
		slog.Error("discord connect failed", "error", err)
		os.Exit(1)
	}
	slog.Info("startup: discord connected")

	b, err := do.Invoke[*bot.Bot](injector)
	if err != nil {
		slog.Error("failed to resolve bot", "error", err)
		os.Exit(1)
	}
	tr, err := do.Invoke[*tracker.Tracker](injector)
	if err != nil {
		slog.Error("failed to resolve tracker", "error", err)
		os.Exit(1)
	}

	if err := dc.UpsertGuildSlashCommands(cfg.DiscordGuildID, bot.SlashCommandDefinitions()); err != nil {
		slog.Error("failed to upsert slash commands", "error", err, "guild_id", cfg.DiscordGuildID)
		os.Exit(1)
	}

	dc.RegisterVoiceStateUpdateHandler(b.HandleVoiceStateUpdate)
	dc.RegisterSlashCommandHandler(b.HandleSlashCommand)
	slog.Info("discord handlers registered", "guild_id", cfg.DiscordGuildID,
		"commands", []string{"ops-start", "ops-stop", "ops-status", "ops-payroll"})

	done := make(chan struct{})
	go func() {
		slog.Info("startup: entering discord run loop")
		if err := dc.Run(); err != nil {
			slog.Error("discord run failed", "error", err)
		}
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		slog.Info("shutting down")
	case <-done:
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := tr.Close(shutdownCtx); err != nil {
		slog.Error("tracker shutdown incomplete", "error", err)
	}
	if err := dc.Close(); err != nil {
		slog.Error("discord close failed", "error", err)
	}
	if source, err := do.Invoke[prices.PriceSource](injector); err == nil {
		if closer, ok := source.(interface{ Close() }); ok {
			closer.Close()
		}
	}
}
