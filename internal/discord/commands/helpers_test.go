package commands

import (
	"github.com/bwmarrin/discordgo"
)

type option = discordgo.ApplicationCommandInteractionDataOption

func strOpt(name, v string) *option {
	return &option{Name: name, Type: discordgo.ApplicationCommandOptionString, Value: v}
}

func intOpt(name string, v int64) *option {
	return &option{Name: name, Type: discordgo.ApplicationCommandOptionInteger, Value: float64(v)}
}

func userOpt(name, id string) *option {
	return &option{Name: name, Type: discordgo.ApplicationCommandOptionUser, Value: id}
}

func focused(o *option) *option {
	o.Focused = true
	return o
}

// command builds a slash command invoked by u1 in guild g.
func command(name string, opts ...*option) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:    discordgo.InteractionApplicationCommand,
			GuildID: "g",
			Member:  &discordgo.Member{User: &discordgo.User{ID: "u1"}},
			Data: discordgo.ApplicationCommandInteractionData{
				Name:    name,
				Options: opts,
			},
		},
	}
}

// subcommand builds "/name sub" invoked by u1 in guild g.
func subcommand(name, sub string, opts ...*option) *discordgo.InteractionCreate {
	return command(name, &option{
		Name:    sub,
		Type:    discordgo.ApplicationCommandOptionSubCommand,
		Options: opts,
	})
}

func inGuild(i *discordgo.InteractionCreate, guild string) *discordgo.InteractionCreate {
	i.GuildID = guild
	return i
}

func withRoles(i *discordgo.InteractionCreate, roles ...string) *discordgo.InteractionCreate {
	i.Member.Roles = roles
	return i
}

func withResolved(i *discordgo.InteractionCreate, r *discordgo.ApplicationCommandInteractionDataResolved) *discordgo.InteractionCreate {
	data := i.Data.(discordgo.ApplicationCommandInteractionData)
	data.Resolved = r
	i.Data = data
	return i
}

func button(customID string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:    discordgo.InteractionMessageComponent,
			GuildID: "g",
			Member:  &discordgo.Member{User: &discordgo.User{ID: "u1"}},
			Data:    discordgo.MessageComponentInteractionData{CustomID: customID},
		},
	}
}
