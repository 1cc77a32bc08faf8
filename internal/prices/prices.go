package prices

import (
	"time"

	"github.com/shopspring/decimal"
)

type Quote struct {
	UnitValue decimal.Decimal
	AsOf      time.Time
}

// PriceSource supplies the most recent known unit value for a material code,
// even if stale. ok is false only when no value has ever been obtained.
// Lookups are expected to be in-memory and non-blocking.
type PriceSource interface {
	GetPrice(materialCode string) (unitValue decimal.Decimal, asOf time.Time, ok bool)
}
