package bot

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arclight-collective/paymaster/internal/config"
	"github.com/arclight-collective/paymaster/internal/discord"
	"github.com/arclight-collective/paymaster/internal/payroll"
	"github.com/arclight-collective/paymaster/internal/tracker"
	"github.com/arclight-collective/paymaster/internal/webhook"
)

const stopTimeout = 30 * time.Second

// Bot wires the Discord front end to the tracker and the payroll calculator.
// One event run is active per guild at a time.
type Bot struct {
	cfg     *config.Config
	dc      discord.Client
	tracker *tracker.Tracker
	calc    *payroll.Calculator
	sender  webhook.Sender

	mu            sync.Mutex
	activeEventID string
	lastEventID   string
}

func New(cfg *config.Config, dc discord.Client, tr *tracker.Tracker, calc *payroll.Calculator, sender webhook.Sender) *Bot {
	return &Bot{
		cfg:     cfg,
		dc:      dc,
		tracker: tr,
		calc:    calc,
		sender:  sender,
	}
}

func SlashCommandDefinitions() []discord.SlashCommandDefinition {
	return []discord.SlashCommandDefinition{
		{Name: commandStart, Description: "Start tracking participation in the configured voice channels."},
		{Name: commandStop, Description: "Stop the active event and finalize all open sessions."},
		{Name: commandStatus, Description: "Show who is currently being tracked."},
		{
			Name:        commandPayroll,
			Description: "Calculate payouts for the most recent event.",
			Options: []discord.SlashCommandOption{
				{Name: optionManifest, Description: "Collected cargo, e.g. QUAN:320,GOLD:12.5", Required: true},
				{Name: optionDonation, Description: "Donation percentage withheld from donors"},
				{Name: optionDonors, Description: "Donating participants, as mentions or IDs"},
			},
		},
	}
}

func (b *Bot) HandleVoiceStateUpdate(ev discord.VoiceStateEvent) {
	if ev.GuildID != b.cfg.DiscordGuildID || ev.UserIsBot {
		return
	}
	b.mu.Lock()
	eventID := b.activeEventID
	b.mu.Unlock()
	if eventID == "" {
		return
	}

	tracked := b.trackedChannelSet()
	now := time.Now()
	if ev.BeforeChannelID != "" && tracked[ev.BeforeChannelID] {
		b.tracker.OnLeave(tracker.Event{
			EventID:       eventID,
			ChannelID:     ev.BeforeChannelID,
			ParticipantID: ev.UserID,
			At:            now,
		})
	}
	if ev.AfterChannelID != "" && tracked[ev.AfterChannelID] {
		b.tracker.OnJoin(tracker.Event{
			EventID:       eventID,
			ChannelID:     ev.AfterChannelID,
			ParticipantID: ev.UserID,
			At:            now,
		})
	}
}

func (b *Bot) HandleSlashCommand(ev discord.SlashCommandEvent) {
	if ev.GuildID != b.cfg.DiscordGuildID {
		_ = ev.RespondEphemeral(messageWrongGuild)
		return
	}
	switch ev.CommandName {
	case commandStart:
		b.handleStart(ev)
	case commandStop:
		b.handleStop(ev)
	case commandStatus:
		b.handleStatus(ev)
	case commandPayroll:
		b.handlePayroll(ev)
	default:
		_ = ev.RespondEphemeral(messageUnknownCommand)
	}
}

func (b *Bot) handleStart(ev discord.SlashCommandEvent) {
	eventID := uuid.NewString()

	// Reserve the slot before starting the run so two concurrent commands
	// cannot both pass the check and leak a second run.
	b.mu.Lock()
	if b.activeEventID != "" {
		b.mu.Unlock()
		_ = ev.RespondEphemeral(messageAlreadyRunning)
		return
	}
	b.activeEventID = eventID
	b.mu.Unlock()

	channels := b.trackedChannels()
	if err := b.tracker.StartEvent(context.Background(), eventID, ev.GuildID, channels); err != nil {
		b.mu.Lock()
		b.activeEventID = ""
		b.mu.Unlock()
		slog.Error("failed to start event run", "error", err, "event_id", eventID)
		_ = ev.RespondEphemeral(messageStartFailed)
		return
	}

	// Participants already sitting in a tracked channel count from the start.
	now := time.Now()
	seeded := 0
	for _, ch := range channels {
		live, err := b.dc.ListVoiceChannelParticipants(ev.GuildID, ch.ChannelID)
		if err != nil {
			slog.Warn("could not seed channel occupants", "channel_id", ch.ChannelID, "error", err)
			continue
		}
		for _, p := range live {
			if p.IsBot {
				continue
			}
			b.tracker.OnJoin(tracker.Event{
				EventID:       eventID,
				ChannelID:     ch.ChannelID,
				ParticipantID: p.UserID,
				At:            now,
			})
			seeded++
		}
	}

	slog.Info("event run opened via command", "event_id", eventID, "triggered_by", ev.UserID, "seeded_participants", seeded)
	_ = ev.RespondEphemeral(startedMessage(eventID, len(channels)))
}

func (b *Bot) handleStop(ev discord.SlashCommandEvent) {
	b.mu.Lock()
	eventID := b.activeEventID
	b.mu.Unlock()
	if eventID == "" {
		_ = ev.RespondEphemeral(messageNotRunning)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := b.tracker.StopEvent(ctx, eventID, time.Now()); err != nil {
		slog.Error("failed to stop event run", "error", err, "event_id", eventID)
		_ = ev.RespondEphemeral(messageStopFailed)
		return
	}

	b.mu.Lock()
	b.lastEventID = eventID
	b.activeEventID = ""
	b.mu.Unlock()

	_ = ev.RespondEphemeral(stoppedMessage(eventID))
}

func (b *Bot) handleStatus(ev discord.SlashCommandEvent) {
	b.mu.Lock()
	eventID := b.activeEventID
	b.mu.Unlock()
	if eventID == "" {
		_ = ev.RespondEphemeral(messageNotRunning)
		return
	}
	live, err := b.tracker.GetLiveParticipants(eventID)
	if err != nil {
		_ = ev.RespondEphemeral(messageStatusFailed)
		return
	}
	_ = ev.RespondEphemeral(statusMessage(eventID, live))
}

func (b *Bot) handlePayroll(ev discord.SlashCommandEvent) {
	b.mu.Lock()
	eventID := b.activeEventID
	if eventID == "" {
		eventID = b.lastEventID
	}
	b.mu.Unlock()
	if eventID == "" {
		_ = ev.RespondEphemeral(messageNoEventForPayroll)
		return
	}

	manifest, err := ParseManifest(ev.Options[optionManifest])
	if err != nil {
		_ = ev.RespondEphemeral(manifestErrorMessage(err))
		return
	}
	donationPercent := 0
	if raw := ev.Options[optionDonation]; raw != "" {
		donationPercent, err = strconv.Atoi(raw)
		if err != nil || !b.allowedDonationPercent(donationPercent) {
			_ = ev.RespondEphemeral(donationPercentMessage(b.cfg.DonationPercentChoices))
			return
		}
	}
	donors := ParseDonors(ev.Options[optionDonors])

	var exclude []string
	if b.cfg.PayrollExcludeStaging && b.cfg.StagingChannelID != "" {
		exclude = []string{b.cfg.StagingChannelID}
	}

	report, err := b.calc.CalculatePayroll(context.Background(), payroll.CalculationInput{
		EventID:           eventID,
		Manifest:          manifest,
		DonationPercent:   donationPercent,
		Donors:            donors,
		TriggeredBy:       ev.UserID,
		ExcludeChannelIDs: exclude,
	})
	if err != nil {
		_ = ev.RespondEphemeral(payrollErrorMessage(err))
		if !isUserFacingPayrollError(err) {
			slog.Error("payroll calculation failed", "error", err, "event_id", eventID)
		}
		return
	}

	// Acknowledge first; the interaction expires if the outbound sends are slow.
	_ = ev.RespondEphemeral(messagePayrollCalculated)
	if err := b.dc.SendChannelMessage(ev.ChannelID, FormatReport(report)); err != nil {
		slog.Error("failed to post payout report", "error", err, "event_id", eventID)
	}
	if err := b.sender.SendReport(context.Background(), webhook.PayloadFromReport(report)); err != nil {
		slog.Error("failed to deliver report webhook", "error", err, "event_id", eventID)
	}
}

func (b *Bot) allowedDonationPercent(p int) bool {
	if !payroll.ValidDonationPercent(p) {
		return false
	}
	if len(b.cfg.DonationPercentChoices) == 0 {
		return true
	}
	for _, choice := range b.cfg.DonationPercentChoices {
		if p == choice {
			return true
		}
	}
	return false
}

func (b *Bot) trackedChannels() []tracker.TrackedChannel {
	channels := make([]tracker.TrackedChannel, 0, len(b.cfg.TrackedChannelIDs)+1)
	for _, id := range b.cfg.TrackedChannelIDs {
		channels = append(channels, tracker.TrackedChannel{
			ChannelID:   id,
			DisplayName: b.dc.GetChannelName(id),
			IsPrimary:   true,
		})
	}
	if b.cfg.StagingChannelID != "" {
		channels = append(channels, tracker.TrackedChannel{
			ChannelID:   b.cfg.StagingChannelID,
			DisplayName: b.dc.GetChannelName(b.cfg.StagingChannelID),
			IsPrimary:   false,
		})
	}
	return channels
}

func (b *Bot) trackedChannelSet() map[string]bool {
	set := make(map[string]bool, len(b.cfg.TrackedChannelIDs)+1)
	for _, id := range b.cfg.TrackedChannelIDs {
		set[id] = true
	}
	if b.cfg.StagingChannelID != "" {
		set[b.cfg.StagingChannelID] = true
	}
	return set
}

func isUserFacingPayrollError(err error) bool {
	return errors.Is(err, payroll.ErrNoValue) ||
		errors.Is(err, payroll.ErrNoParticipants) ||
		errors.Is(err, payroll.ErrPriceUnavailable) ||
		errors.Is(err, payroll.ErrDonationPercent)
}
