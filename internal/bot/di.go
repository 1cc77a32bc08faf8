package bot

import (
	"github.com/samber/do/v2"

	"github.com/arclight-collective/paymaster/internal/config"
	"github.com/arclight-collective/paymaster/internal/discord"
	"github.com/arclight-collective/paymaster/internal/payroll"
	"github.com/arclight-collective/paymaster/internal/tracker"
	"github.com/arclight-collective/paymaster/internal/webhook"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (tracker.Roster, error) {
		cfg := do.MustInvoke[*config.Config](i)
		dc := do.MustInvoke[discord.Client](i)
		return &rosterAdapter{dc: dc, memberRoleID: cfg.DiscordMemberRoleID}, nil
	})
	do.Provide(injector, func(i do.Injector) (tracker.Presence, error) {
		dc := do.MustInvoke[discord.Client](i)
		return &presenceAdapter{dc: dc}, nil
	})
	do.Provide(injector, func(i do.Injector) (*Bot, error) {
		cfg := do.MustInvoke[*config.Config](i)
		dc := do.MustInvoke[discord.Client](i)
		tr := do.MustInvoke[*tracker.Tracker](i)
		calc := do.MustInvoke[*payroll.Calculator](i)
		sender := do.MustInvoke[webhook.Sender](i)
		return New(cfg, dc, tr, calc, sender), nil
	})
}
