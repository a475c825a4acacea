package discord

import "github.com/bwmarrin/discordgo"

// Names of every slash command the bot answers to
const (
	CommandTrack      = "track"
	CommandRank       = "rank"
	CommandRankUpdate = "rank_update"
	CommandLast       = "last"
	CommandSR         = "sr"
	CommandSetSR      = "set_sr"
	CommandProfile    = "profile"
	CommandData       = "data"
)

var roleChoices = []*discordgo.ApplicationCommandOptionChoice{
	{Name: "Tank", Value: "Tank"},
	{Name: "Damage", Value: "Damage"},
	{Name: "Support", Value: "Support"},
}

func float(f float64) *float64 { return &f }

// Commands builds the definition of every command. mapTypes are offered as the
// choices of /track.
func Commands(mapTypes []string) []*discordgo.ApplicationCommand {
	typeChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(mapTypes))
	for _, t := range mapTypes {
		typeChoices = append(typeChoices, &discordgo.ApplicationCommandOptionChoice{Name: t, Value: t})
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        CommandTrack,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Post map rating buttons",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "type",
					Type:        discordgo.ApplicationCommandOptionString,
					Description: "Which kind of map",
					Required:    true,
					Choices:     typeChoices,
				},
			},
		},
		{
			Name:        CommandRank,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Record a competitive game towards your next rank update",
		},
		{
			Name:        CommandRankUpdate,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Rank update information",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "role",
					Type:        discordgo.ApplicationCommandOptionString,
					Description: "The role to update",
					Required:    true,
					Choices:     roleChoices,
				},
				{
					Name:        "force",
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Description: "Force a rank update?",
				},
			},
		},
		{
			Name:        CommandLast,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Get the last n rows of data",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "count",
					Type:        discordgo.ApplicationCommandOptionInteger,
					Description: "Number of entries to return",
					Required:    true,
					MinValue:    float(1),
					MaxValue:    100,
				},
				{
					Name:        "user",
					Type:        discordgo.ApplicationCommandOptionUser,
					Description: "Limit to a particular person",
				},
				{
					Name:        "role",
					Type:        discordgo.ApplicationCommandOptionString,
					Description: "Limit to a particular role",
					Choices:     roleChoices,
				},
			},
		},
		{
			Name:        CommandSR,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Get your current SR",
		},
		{
			Name:        CommandSetSR,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Set your current SR for a role",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "role",
					Type:        discordgo.ApplicationCommandOptionString,
					Description: "Role to set",
					Required:    true,
					Choices:     roleChoices,
				},
				{
					Name:        "value",
					Type:        discordgo.ApplicationCommandOptionInteger,
					Description: "Current SR",
					Required:    true,
					MinValue:    float(0),
					MaxValue:    5000,
				},
			},
		},
		{
			Name:        CommandProfile,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Sets your current profile",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "name",
					Type:        discordgo.ApplicationCommandOptionString,
					Description: "Profile name, leave empty for your default identity",
				},
			},
		},
		{
			Name:        CommandData,
			Type:        discordgo.ChatApplicationCommand,
			Description: "How many ratings this server has recorded",
		},
	}
}
