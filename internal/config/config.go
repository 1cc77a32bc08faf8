package config

import "fmt"

type Config struct {
	Env                    string
	DatabaseURL            string
	DiscordToken           string
	DiscordGuildID         string
	DiscordMemberRoleID    string
	TrackedChannelIDs      []string
	StagingChannelID       string
	PayrollExcludeStaging  bool
	TickIntervalSec        int
	FlushQueueSize         int
	PriceFeedURL           string
	PriceRefreshMin        int
	ReportWebhookURL       string
	DonationPercentChoices []int
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if len(c.TrackedChannelIDs) == 0 {
		return fmt.Errorf("TRACKED_CHANNEL_IDS must list at least one voice channel")
	}
	if c.TickIntervalSec <= 0 {
		return fmt.Errorf("TICK_INTERVAL_SEC must be positive, got %d", c.TickIntervalSec)
	}
	if c.FlushQueueSize <= 0 {
		return fmt.Errorf("FLUSH_QUEUE_SIZE must be positive, got %d", c.FlushQueueSize)
	}
	if c.PriceRefreshMin <= 0 {
		return fmt.Errorf("PRICE_REFRESH_MIN must be positive, got %d", c.PriceRefreshMin)
	}
	if c.PayrollExcludeStaging && c.StagingChannelID == "" {
		return fmt.Errorf("STAGING_CHANNEL_ID is required when PAYROLL_EXCLUDE_STAGING=true")
	}
	for _, p := range c.DonationPercentChoices {
		if p < 0 || p > 100 {
			return fmt.Errorf("DONATION_PERCENT_CHOICES entries must be in [0,100], got %d", p)
		}
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "DISCORD_TOKEN", value: c.DiscordToken},
		{name: "DISCORD_GUILD_ID", value: c.DiscordGuildID},
		{name: "PRICE_FEED_URL", value: c.PriceFeedURL},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
