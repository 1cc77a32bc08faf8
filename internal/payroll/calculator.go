package payroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arclight-collective/paymaster/internal/ledger"
	"github.com/arclight-collective/paymaster/internal/prices"
)

var (
	// ErrNoValue: the manifest totals to zero, there is nothing to distribute.
	ErrNoValue = errors.New("manifest has no distributable value")
	// ErrNoParticipants: no participant has positive participation minutes.
	ErrNoParticipants = errors.New("no participant with positive participation minutes")
	// ErrPriceUnavailable: not a single manifest line could be priced.
	ErrPriceUnavailable = errors.New("no price available for any manifest line")
	// ErrDonationPercent: the donation percentage is outside [0,100].
	ErrDonationPercent = errors.New("donation percentage must be between 0 and 100")
	// ErrConservation indicates a bug: the distributed total diverged from
	// the event value even after residual correction.
	ErrConservation = errors.New("payout total does not match event value")
)

var oneHundred = decimal.NewFromInt(100)

type CalculationInput struct {
	EventID           string
	Manifest          map[string]decimal.Decimal
	DonationPercent   int
	Donors            []string
	TriggeredBy       string
	ExcludeChannelIDs []string
}

type PayoutLine struct {
	ParticipantID          string
	ParticipationMinutes   int64
	GrossShare             decimal.Decimal
	IsDonor                bool
	DonatedAmount          decimal.Decimal
	RedistributionReceived decimal.Decimal
	FinalPayout            decimal.Decimal
}

type Report struct {
	EventID          string
	TotalValue       decimal.Decimal
	TotalMinutes     int64
	CalculatedAt     time.Time
	TriggeredBy      string
	Lines            []PayoutLine
	SkippedMaterials []string
}

func ValidDonationPercent(p int) bool {
	return p >= 0 && p <= 100
}

// Calculator turns a resource manifest plus the ledger's participation
// minutes into per-participant payouts. Aside from the two collaborator
// reads, the calculation is a pure function of its inputs: identical ledger
// and price snapshots produce an identical report.
type Calculator struct {
	ledger ledger.RecordStore
	prices prices.PriceSource
}

func NewCalculator(l ledger.RecordStore, p prices.PriceSource) *Calculator {
	return &Calculator{ledger: l, prices: p}
}

func (c *Calculator) CalculatePayroll(ctx context.Context, input CalculationInput) (*Report, error) {
	if !ValidDonationPercent(input.DonationPercent) {
		return nil, fmt.Errorf("%w: got %d", ErrDonationPercent, input.DonationPercent)
	}

	totalValue, skipped, err := c.valueManifest(input.Manifest)
	if err != nil {
		return nil, err
	}

	minutes, err := c.ledger.AggregateMinutesByParticipant(ctx, ledger.AggregateInput{
		EventID:           input.EventID,
		ExcludeChannelIDs: input.ExcludeChannelIDs,
	})
	if err != nil {
		return nil, err
	}

	lines, totalMinutes, err := distribute(totalValue, minutes, input.DonationPercent, input.Donors)
	if err != nil {
		return nil, err
	}

	return &Report{
		EventID:          input.EventID,
		TotalValue:       totalValue,
		TotalMinutes:     totalMinutes,
		CalculatedAt:     time.Now().UTC(),
		TriggeredBy:      input.TriggeredBy,
		Lines:            lines,
		SkippedMaterials: skipped,
	}, nil
}

// valueManifest prices every manifest line and returns the total, rounded to
// the whole currency unit. Unknown material codes are skipped with a warning
// so a single typo does not sink the whole calculation.
func (c *Calculator) valueManifest(manifest map[string]decimal.Decimal) (decimal.Decimal, []string, error) {
	codes := make([]string, 0, len(manifest))
	for code := range manifest {
		codes = append(codes, code)
	}
	slices.Sort(codes)

	total := decimal.Zero
	priced := 0
	var skipped []string
	for _, code := range codes {
		quantity := manifest[code]
		if quantity.IsNegative() {
			return decimal.Zero, nil, fmt.Errorf("negative quantity for material %s", code)
		}
		unitValue, asOf, ok := c.prices.GetPrice(code)
		if !ok {
			slog.Warn("no price for material, skipping manifest line", "material_code", code)
			skipped = append(skipped, code)
			continue
		}
		priced++
		total = total.Add(quantity.Mul(unitValue))
		slog.Debug("manifest line valued", "material_code", code, "unit_value", unitValue, "as_of", asOf)
	}
	if len(manifest) > 0 && priced == 0 {
		return decimal.Zero, nil, ErrPriceUnavailable
	}
	total = total.Round(0)
	if !total.IsPositive() {
		return decimal.Zero, nil, ErrNoValue
	}
	return total, skipped, nil
}

// distribute splits totalValue across participants proportionally to their
// minutes, applies the donation policy, and guarantees exact conservation.
// Membership status plays no part: the pay rate per minute is identical for
// every participant.
func distribute(totalValue decimal.Decimal, minutes map[string]int64, donationPercent int, donors []string) ([]PayoutLine, int64, error) {
	participantIDs := make([]string, 0, len(minutes))
	var totalMinutes int64
	for id, m := range minutes {
		if m <= 0 {
			continue
		}
		participantIDs = append(participantIDs, id)
		totalMinutes += m
	}
	if len(participantIDs) == 0 {
		return nil, 0, ErrNoParticipants
	}
	slices.Sort(participantIDs)

	donorSet := make(map[string]bool, len(donors))
	for _, id := range donors {
		donorSet[id] = true
	}

	// Gross shares, rounded to whole units, with the rounding residual
	// assigned to the largest share so they sum to totalValue exactly.
	totalMinutesDec := decimal.NewFromInt(totalMinutes)
	lines := make([]PayoutLine, len(participantIDs))
	grossSum := decimal.Zero
	for i, id := range participantIDs {
		gross := totalValue.Mul(decimal.NewFromInt(minutes[id])).Div(totalMinutesDec).Round(0)
		lines[i] = PayoutLine{
			ParticipantID:        id,
			ParticipationMinutes: minutes[id],
			GrossShare:           gross,
			IsDonor:              donorSet[id] && donationPercent > 0,
		}
		grossSum = grossSum.Add(gross)
	}
	addResidual(lines, totalValue.Sub(grossSum), func(l *PayoutLine) *decimal.Decimal { return &l.GrossShare })

	// Donation pool withheld from donors.
	percent := decimal.NewFromInt(int64(donationPercent)).Div(oneHundred)
	pool := decimal.Zero
	recipients := make([]*PayoutLine, 0, len(lines))
	recipientWeight := decimal.Zero
	for i := range lines {
		if lines[i].IsDonor {
			lines[i].DonatedAmount = lines[i].GrossShare.Mul(percent).Round(0)
			pool = pool.Add(lines[i].DonatedAmount)
		} else {
			recipients = append(recipients, &lines[i])
			recipientWeight = recipientWeight.Add(lines[i].GrossShare)
		}
	}

	// Redistribution goes to non-donors pro-rata by their own gross share.
	// With no non-donors the pool returns to the donors the same way, so the
	// policy can never destroy value.
	if len(recipients) == 0 {
		for i := range lines {
			recipients = append(recipients, &lines[i])
			recipientWeight = recipientWeight.Add(lines[i].GrossShare)
		}
	}
	if pool.IsPositive() && !recipientWeight.IsPositive() {
		// Every potential recipient rounded to a zero share; refund the
		// donors rather than losing the pool.
		for i := range lines {
			lines[i].RedistributionReceived = lines[i].DonatedAmount
		}
	} else if pool.IsPositive() {
		distributed := decimal.Zero
		for _, line := range recipients {
			share := pool.Mul(line.GrossShare).Div(recipientWeight).Round(0)
			line.RedistributionReceived = share
			distributed = distributed.Add(share)
		}
		residual := pool.Sub(distributed)
		if !residual.IsZero() {
			target := recipients[0]
			for _, line := range recipients[1:] {
				if line.RedistributionReceived.GreaterThan(target.RedistributionReceived) {
					target = line
				}
			}
			target.RedistributionReceived = target.RedistributionReceived.Add(residual)
		}
	}

	finalSum := decimal.Zero
	for i := range lines {
		lines[i].FinalPayout = lines[i].GrossShare.Sub(lines[i].DonatedAmount).Add(lines[i].RedistributionReceived)
		finalSum = finalSum.Add(lines[i].FinalPayout)
	}
	if !finalSum.Equal(totalValue) {
		return nil, 0, fmt.Errorf("%w: distributed %s of %s", ErrConservation, finalSum, totalValue)
	}
	return lines, totalMinutes, nil
}

// addResidual adds the rounding residual to the line with the largest value
// of the selected field, ties broken by lowest participant ID.
func addResidual(lines []PayoutLine, residual decimal.Decimal, field func(*PayoutLine) *decimal.Decimal) {
	if residual.IsZero() || len(lines) == 0 {
		return
	}
	target := &lines[0]
	for i := 1; i < len(lines); i++ {
		if field(&lines[i]).GreaterThan(*field(target)) {
			target = &lines[i]
		}
	}
	v := field(target)
	*v = v.Add(residual)
}
