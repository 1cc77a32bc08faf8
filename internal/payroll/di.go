package payroll

import (
	"github.com/samber/do/v2"

	"github.com/arclight-collective/paymaster/internal/ledger"
	"github.com/arclight-collective/paymaster/internal/prices"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Calculator, error) {
		l := do.MustInvoke[ledger.Ledger](i)
		p := do.MustInvoke[prices.PriceSource](i)
		return NewCalculator(l, p), nil
	})
}
