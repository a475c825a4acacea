package discserv

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/jdholdren/srwatch/internal/core"
	"github.com/jdholdren/srwatch/internal/core/models"
	"github.com/jdholdren/srwatch/internal/discord"
)

type commandHandler func(s *Server, ctx context.Context, i *discordgo.Interaction, who core.Identity) (reply, error)

var commands = map[string]commandHandler{
	discord.CommandTrack:      (*Server).handleTrack,
	discord.CommandRank:       (*Server).handleRank,
	discord.CommandRankUpdate: (*Server).handleRankUpdate,
	discord.CommandLast:       (*Server).handleLast,
	discord.CommandSR:         (*Server).handleSR,
	discord.CommandSetSR:      (*Server).handleSetSR,
	discord.CommandProfile:    (*Server).handleProfile,
	discord.CommandData:       (*Server).handleData,
}

func (s *Server) dispatchCommand(ctx context.Context, i *discordgo.Interaction) (reply, error) {
	if i.GuildID == "" {
		return reply{}, core.ErrNoGuild
	}

	data := i.ApplicationCommandData()
	h, ok := commands[data.Name]
	if !ok {
		s.l.Warnw("received unknown command", "name", data.Name)
		return reply{}, &core.ValidationError{Msg: fmt.Sprintf("unknown command '%s'", data.Name)}
	}

	who := identity(i)
	s.l.Infow("handling command", "name", data.Name, "guild_id", i.GuildID, "user", who.Name)

	return h(s, ctx, i, who)
}

func options(i *discordgo.Interaction) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	opts := map[string]*discordgo.ApplicationCommandInteractionDataOption{}
	for _, o := range i.ApplicationCommandData().Options {
		opts[o.Name] = o
	}
	return opts
}

func parseRole(o *discordgo.ApplicationCommandInteractionDataOption) (models.Role, error) {
	if o == nil {
		return "", &core.ValidationError{Msg: "a role is required"}
	}
	role, err := models.ParseRole(o.StringValue())
	if err != nil {
		return "", &core.ValidationError{Msg: err.Error()}
	}
	return role, nil
}

// Posts a button per map of the chosen type. Each button opens its own voting session.
func (s *Server) handleTrack(_ context.Context, i *discordgo.Interaction, _ core.Identity) (reply, error) {
	o, ok := options(i)["type"]
	if !ok {
		return reply{}, &core.ValidationError{Msg: "a map type is required"}
	}
	t, ok := findMapType(o.StringValue())
	if !ok {
		return reply{}, &core.ValidationError{Msg: fmt.Sprintf("unknown map type '%s'", o.StringValue())}
	}

	var buttons []discordgo.MessageComponent
	for _, m := range t.Maps {
		buttons = append(buttons, discordgo.Button{
			Label:    m,
			Style:    discordgo.SecondaryButton,
			CustomID: customID(componentOpen, core.MapKind.Name, m),
		})
	}

	return reply{resp: message(fmt.Sprintf("*%s maps*", t.Name), false, rows(buttons)...)}, nil
}

func (s *Server) handleRank(ctx context.Context, i *discordgo.Interaction, _ core.Identity) (reply, error) {
	sess, err := s.cr.OpenSession(ctx, i.GuildID, core.RankKind, "")
	if err != nil {
		return reply{}, err
	}

	return reply{resp: message(sessionContent(sess), false, sessionComponents(sess)...)}, nil
}

func (s *Server) handleRankUpdate(ctx context.Context, i *discordgo.Interaction, who core.Identity) (reply, error) {
	opts := options(i)
	role, err := parseRole(opts["role"])
	if err != nil {
		return reply{}, err
	}
	force := false
	if o, ok := opts["force"]; ok {
		force = o.BoolValue()
	}

	u, err := s.cr.RankUpdate(ctx, i.GuildID, who, role, force)
	if err != nil {
		return reply{}, err
	}

	if len(u.Outcomes) == 0 {
		if force {
			return reply{resp: message(fmt.Sprintf("Rank Update tracking enabled for %s!", role), true)}, nil
		}
		return reply{resp: message(fmt.Sprintf("No known rank update for %s - have you started tracking?", role), true)}, nil
	}

	content := formatRankUpdate(u)
	if force {
		content += "\n> please rank all your games!"
	}

	return reply{resp: message(content, true)}, nil
}

func (s *Server) handleLast(ctx context.Context, i *discordgo.Interaction, _ core.Identity) (reply, error) {
	opts := options(i)

	count := 0
	if o, ok := opts["count"]; ok {
		count = int(o.IntValue())
	}

	var f models.Filter
	if o, ok := opts["user"]; ok {
		f.Username = resolvedUsername(i, o.UserValue(nil).ID)
	}
	if o, ok := opts["role"]; ok {
		role, err := parseRole(o)
		if err != nil {
			return reply{}, err
		}
		f.Role = role
	}

	rep, err := s.cr.Last(ctx, i.GuildID, count, f, privileged(i))
	if err != nil {
		return reply{}, err
	}
	if len(rep.Rows) == 0 {
		return reply{resp: message(warning("no ratings found!"), true)}, nil
	}

	blocks := chunk(formatRows(rep.Rows))
	if rep.CanDelete && len(blocks) == 1 {
		undo := discordgo.Button{
			Label:    "Delete row(s)",
			Style:    discordgo.DangerButton,
			CustomID: customID(componentUndo, joinIDs(rep.IDs)),
		}
		return reply{resp: message(blocks[0], true, rows([]discordgo.MessageComponent{undo})...)}, nil
	}

	return reply{resp: message(blocks[0], true), followups: blocks[1:]}, nil
}

// The username of a user option, from the resolved data Discord sends alongside
func resolvedUsername(i *discordgo.Interaction, userID string) string {
	if res := i.ApplicationCommandData().Resolved; res != nil {
		if u, ok := res.Users[userID]; ok && u != nil {
			return u.Username
		}
		if m, ok := res.Members[userID]; ok && m != nil && m.User != nil {
			return m.User.Username
		}
	}
	return userID
}

func (s *Server) handleSR(ctx context.Context, i *discordgo.Interaction, who core.Identity) (reply, error) {
	cps, err := s.cr.SR(ctx, i.GuildID, who)
	if err != nil {
		return reply{}, err
	}

	var b strings.Builder
	for _, cp := range cps {
		fmt.Fprintf(&b, "%s: `%dsr`", cp.Role, cp.SR)
		if cp.RatingID < 0 {
			b.WriteString(" *(not tracked)*")
		}
		b.WriteString("\n")
	}

	return reply{resp: message(b.String(), true)}, nil
}

func (s *Server) handleSetSR(ctx context.Context, i *discordgo.Interaction, who core.Identity) (reply, error) {
	opts := options(i)
	role, err := parseRole(opts["role"])
	if err != nil {
		return reply{}, err
	}
	o, ok := opts["value"]
	if !ok {
		return reply{}, &core.ValidationError{Msg: "an SR value is required"}
	}
	sr := int(o.IntValue())

	if err := s.cr.SetSR(ctx, i.GuildID, who, role, sr); err != nil {
		return reply{}, err
	}

	return reply{resp: message(fmt.Sprintf("Set %s SR to `%d`", role, sr), true)}, nil
}

func (s *Server) handleProfile(_ context.Context, i *discordgo.Interaction, who core.Identity) (reply, error) {
	name := ""
	if o, ok := options(i)["name"]; ok {
		name = strings.TrimSpace(o.StringValue())
	}

	s.cr.SetProfile(i.GuildID, who, name)
	if name == "" {
		return reply{resp: message("Using default identity", true)}, nil
	}

	return reply{resp: message(fmt.Sprintf("Using '%s' identity", name), true)}, nil
}

func (s *Server) handleData(ctx context.Context, i *discordgo.Interaction, _ core.Identity) (reply, error) {
	n, err := s.cr.Count(ctx, i.GuildID)
	if err != nil {
		return reply{}, err
	}
	if n < 1 {
		return reply{resp: message(warning("no ratings found!"), true)}, nil
	}

	return reply{resp: message(plural(n, "entry", "entries"), true)}, nil
}
