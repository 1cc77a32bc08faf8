package bot

import (
	"slices"

	"github.com/arclight-collective/paymaster/internal/discord"
	"github.com/arclight-collective/paymaster/internal/tracker"
)

// rosterAdapter resolves participant identities from guild membership. Bots
// and users no longer in the guild resolve to nothing, which makes the
// tracker drop their events.
type rosterAdapter struct {
	dc           discord.Client
	memberRoleID string
}

func (r *rosterAdapter) Resolve(guildID, participantID string) (tracker.Identity, bool) {
	member, err := r.dc.GetGuildMember(guildID, participantID)
	if err != nil || member == nil || member.IsBot {
		return tracker.Identity{}, false
	}
	// An empty role ID means every guild member counts as an org member.
	eligible := r.memberRoleID == "" || slices.Contains(member.RoleIDs, r.memberRoleID)
	return tracker.Identity{DisplayName: member.DisplayName, EligibleMember: eligible}, true
}

// presenceAdapter answers tick-time presence checks from the gateway's voice
// state, excluding bots.
type presenceAdapter struct {
	dc discord.Client
}

func (p *presenceAdapter) LiveParticipants(guildID, channelID string) ([]string, error) {
	participants, err := p.dc.ListVoiceChannelParticipants(guildID, channelID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(participants))
	for _, vp := range participants {
		if vp.IsBot {
			continue
		}
		ids = append(ids, vp.UserID)
	}
	return ids, nil
}
