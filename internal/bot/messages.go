package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arclight-collective/paymaster/internal/payroll"
)

const (
	commandStart   = "ops-start"
	commandStop    = "ops-stop"
	commandStatus  = "ops-status"
	commandPayroll = "ops-payroll"

	optionManifest = "manifest"
	optionDonation = "donation"
	optionDonors   = "donors"

	messageWrongGuild        = ":warning: **This command cannot be used in this server.**"
	messageUnknownCommand    = ":warning: **Unknown command.**"
	messageAlreadyRunning    = ":warning: **An event is already being tracked.** Stop it first with /ops-stop."
	messageNotRunning        = ":warning: **No event is currently being tracked.** Start one with /ops-start."
	messageStartFailed       = ":warning: **Could not start the event.**"
	messageStopFailed        = ":warning: **Could not stop the event.**"
	messageStatusFailed      = ":warning: **Could not read the tracking status.**"
	messageNoEventForPayroll = ":warning: **No event to calculate payroll for.** Run /ops-start first."
	messagePayrollCalculated = ":moneybag: **Payroll calculated.** Posting the report."
)

func startedMessage(eventID string, channelCount int) string {
	return fmt.Sprintf(":satellite: **Participation tracking started** across %d channels.\n-# Event `%s` — stop with /ops-stop.", channelCount, eventID)
}

func stoppedMessage(eventID string) string {
	return fmt.Sprintf(":octagonal_sign: **Participation tracking stopped.**\n-# Event `%s` — run /ops-payroll to distribute earnings.", eventID)
}

func statusMessage(eventID string, live []string) string {
	if len(live) == 0 {
		return fmt.Sprintf(":satellite: Event `%s` is being tracked; nobody is in a tracked channel right now.", eventID)
	}
	mentions := make([]string, len(live))
	for i, id := range live {
		mentions[i] = "<@" + id + ">"
	}
	return fmt.Sprintf(":satellite: Event `%s` — %d tracked: %s", eventID, len(live), strings.Join(mentions, " "))
}

func manifestErrorMessage(err error) string {
	return fmt.Sprintf(":warning: **Could not read the manifest.** %s", err)
}

func donationPercentMessage(choices []int) string {
	parts := make([]string, len(choices))
	for i, c := range choices {
		parts[i] = fmt.Sprintf("%d", c)
	}
	return fmt.Sprintf(":warning: **Invalid donation percentage.** Allowed: %s.", strings.Join(parts, ", "))
}

func payrollErrorMessage(err error) string {
	switch {
	case errors.Is(err, payroll.ErrNoValue):
		return ":warning: **The manifest has no distributable value.**"
	case errors.Is(err, payroll.ErrNoParticipants):
		return ":warning: **Nobody has recorded participation time for this event.**"
	case errors.Is(err, payroll.ErrPriceUnavailable):
		return ":warning: **No prices are available yet.** Try again once the price feed has loaded."
	case errors.Is(err, payroll.ErrDonationPercent):
		return ":warning: **Invalid donation percentage.**"
	default:
		return ":warning: **Payroll calculation failed.**"
	}
}

// FormatReport renders the payout report posted to the command's channel.
func FormatReport(r *payroll.Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, ":moneybag: **Payout report** — event `%s`\n", r.EventID)
	fmt.Fprintf(&sb, "Total value: **%s aUEC** across %d participation minutes\n", r.TotalValue.StringFixed(0), r.TotalMinutes)
	if len(r.SkippedMaterials) > 0 {
		fmt.Fprintf(&sb, "-# Skipped (no price): %s\n", strings.Join(r.SkippedMaterials, ", "))
	}
	for _, line := range r.Lines {
		fmt.Fprintf(&sb, "<@%s> — %d min — **%s aUEC**", line.ParticipantID, line.ParticipationMinutes, line.FinalPayout.StringFixed(0))
		if line.IsDonor {
			fmt.Fprintf(&sb, " (donated %s)", line.DonatedAmount.StringFixed(0))
		} else if line.RedistributionReceived.IsPositive() {
			fmt.Fprintf(&sb, " (incl. %s donated)", line.RedistributionReceived.StringFixed(0))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
