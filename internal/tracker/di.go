package tracker

import (
	"github.com/samber/do/v2"

	"github.com/arclight-collective/paymaster/internal/config"
	"github.com/arclight-collective/paymaster/internal/ledger"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Tracker, error) {
		cfg := do.MustInvoke[*config.Config](i)
		l := do.MustInvoke[ledger.Ledger](i)
		roster := do.MustInvoke[Roster](i)
		presence := do.MustInvoke[Presence](i)
		return New(cfg, l, roster, presence), nil
	})
}
