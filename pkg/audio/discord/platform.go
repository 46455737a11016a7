// Package discord provides an [audio.Platform] backed by Discord voice
// channels via the bwmarrin/discordgo library. It bridges Discord's Opus
// transport with the PCM [audio.Frame] pipeline.
//
// Incoming packets are identified by SSRC only. The adapter learns which user
// owns an SSRC from the voice gateway's speaking updates and keys input
// streams by user ID, so a user who reconnects with a fresh SSRC keeps
// feeding the same stream. Packets from an SSRC that was never announced are
// dropped.
package discord

import (
	"context"
	"fmt"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// Platform implements [audio.Platform] on top of the bot's
// *discordgo.Session. One Platform serves every guild the bot is in.
type Platform struct {
	session *discordgo.Session
}

// New creates a Platform for the given session.
func New(session *discordgo.Session) *Platform {
	return &Platform{session: session}
}

// Connect joins channelID in guildID, unmuted and undeafened, and returns an
// active [audio.Connection]. The ctx is only checked before joining; discordgo
// applies its own handshake timeout.
func (p *Platform) Connect(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	vc, err := p.session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return newConnection(vc, p.session, guildID), nil
}
