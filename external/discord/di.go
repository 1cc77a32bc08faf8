package discord

import (
	"github.com/samber/do/v2"

	"github.com/arclight-collective/paymaster/internal/config"
	discordpkg "github.com/arclight-collective/paymaster/internal/discord"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (discordpkg.Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewClient(cfg.DiscordToken), nil
	})
}
