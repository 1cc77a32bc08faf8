package webhook

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arclight-collective/paymaster/internal/payroll"
)

type ReportLine struct {
	ParticipantID          string          `json:"participant_id"`
	ParticipationMinutes   int64           `json:"participation_minutes"`
	GrossShare             decimal.Decimal `json:"gross_share"`
	IsDonor                bool            `json:"is_donor"`
	DonatedAmount          decimal.Decimal `json:"donated_amount"`
	RedistributionReceived decimal.Decimal `json:"redistribution_received"`
	FinalPayout            decimal.Decimal `json:"final_payout"`
}

type ReportPayload struct {
	EventID          string          `json:"event_id"`
	TotalValue       decimal.Decimal `json:"total_value"`
	TotalMinutes     int64           `json:"total_minutes"`
	CalculatedAt     time.Time       `json:"calculated_at"`
	TriggeredBy      string          `json:"triggered_by"`
	Lines            []ReportLine    `json:"lines"`
	SkippedMaterials []string        `json:"skipped_materials,omitempty"`
}

func PayloadFromReport(r *payroll.Report) ReportPayload {
	lines := make([]ReportLine, len(r.Lines))
	for i, l := range r.Lines {
		lines[i] = ReportLine{
			ParticipantID:          l.ParticipantID,
			ParticipationMinutes:   l.ParticipationMinutes,
			GrossShare:             l.GrossShare,
			IsDonor:                l.IsDonor,
			DonatedAmount:          l.DonatedAmount,
			RedistributionReceived: l.RedistributionReceived,
			FinalPayout:            l.FinalPayout,
		}
	}
	return ReportPayload{
		EventID:          r.EventID,
		TotalValue:       r.TotalValue,
		TotalMinutes:     r.TotalMinutes,
		CalculatedAt:     r.CalculatedAt,
		TriggeredBy:      r.TriggeredBy,
		Lines:            lines,
		SkippedMaterials: r.SkippedMaterials,
	}
}

type Sender interface {
	SendReport(ctx context.Context, payload ReportPayload) error
}
