package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	internalconfig "github.com/arclight-collective/paymaster/internal/config"
)

type envConfig struct {
	Env                    string   `env:"ENV" envDefault:"production"`
	DatabaseURL            string   `env:"DATABASE_URL"`
	DiscordToken           string   `env:"DISCORD_TOKEN,required"`
	DiscordGuildID         string   `env:"DISCORD_GUILD_ID,required"`
	DiscordMemberRoleID    string   `env:"DISCORD_MEMBER_ROLE_ID"`
	TrackedChannelIDs      []string `env:"TRACKED_CHANNEL_IDS,required" envSeparator:","`
	StagingChannelID       string   `env:"STAGING_CHANNEL_ID"`
	PayrollExcludeStaging  bool     `env:"PAYROLL_EXCLUDE_STAGING" envDefault:"false"`
	TickIntervalSec        int      `env:"TICK_INTERVAL_SEC" envDefault:"60"`
	FlushQueueSize         int      `env:"FLUSH_QUEUE_SIZE" envDefault:"64"`
	PriceFeedURL           string   `env:"PRICE_FEED_URL,required"`
	PriceRefreshMin        int      `env:"PRICE_REFRESH_MIN" envDefault:"30"`
	ReportWebhookURL       string   `env:"REPORT_WEBHOOK_URL"`
	DonationPercentChoices []int    `env:"DONATION_PERCENT_CHOICES" envDefault:"0,10,15,20" envSeparator:","`
}

func Load() (*internalconfig.Config, error) {
	// A missing .env file is fine; real deployments pass the environment directly.
	_ = godotenv.Load()

	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                    raw.Env,
		DatabaseURL:            raw.DatabaseURL,
		DiscordToken:           raw.DiscordToken,
		DiscordGuildID:         raw.DiscordGuildID,
		DiscordMemberRoleID:    raw.DiscordMemberRoleID,
		TrackedChannelIDs:      raw.TrackedChannelIDs,
		StagingChannelID:       raw.StagingChannelID,
		PayrollExcludeStaging:  raw.PayrollExcludeStaging,
		TickIntervalSec:        raw.TickIntervalSec,
		FlushQueueSize:         raw.FlushQueueSize,
		PriceFeedURL:           raw.PriceFeedURL,
		PriceRefreshMin:        raw.PriceRefreshMin,
		ReportWebhookURL:       raw.ReportWebhookURL,
		DonationPercentChoices: raw.DonationPercentChoices,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
