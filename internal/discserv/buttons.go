package discserv

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/jdholdren/srwatch/internal/core"
	"github.com/jdholdren/srwatch/internal/core/models"
)

// Component custom ids are "<name>:<arg>:<arg>..."
const (
	componentOpen   = "open"   // open:<kind>:<subject>
	componentField  = "field"  // field:<session>:<field>:<value>
	componentSubmit = "submit" // submit:<session>
	componentUndo   = "undo"   // undo:<id,id,...>
)

// A component describes one family of buttons and what clicking them does
type component struct {
	name   string
	args   int
	handle func(s *Server, ctx context.Context, i *discordgo.Interaction, who core.Identity, args []string) (reply, error)
}

var components = []component{
	{name: componentOpen, args: 2, handle: (*Server).openSession},
	{name: componentField, args: 3, handle: (*Server).recordField},
	{name: componentSubmit, args: 1, handle: (*Server).submitVote},
	{name: componentUndo, args: 1, handle: (*Server).undo},
}

func customID(name string, args ...string) string {
	return strings.Join(append([]string{name}, args...), ":")
}

// dispatchComponent routes every button click through the component table
func (s *Server) dispatchComponent(ctx context.Context, i *discordgo.Interaction) (reply, error) {
	if i.GuildID == "" {
		return reply{}, core.ErrNoGuild
	}

	id := i.MessageComponentData().CustomID
	name, rest, _ := strings.Cut(id, ":")

	for _, c := range components {
		if c.name != name {
			continue
		}

		args := strings.SplitN(rest, ":", c.args)
		if rest == "" || len(args) != c.args {
			return reply{}, &core.ValidationError{Msg: "this button is broken, try posting it again"}
		}

		who := identity(i)
		s.l.Debugw("handling component", "custom_id", id, "guild_id", i.GuildID, "user", who.Name)

		return c.handle(s, ctx, i, who, args)
	}

	s.l.Warnw("received unknown component", "custom_id", id)
	return reply{}, &core.ValidationError{Msg: "this button is no longer supported"}
}

// Lays buttons out five to a row, as Discord requires
func rows(buttons []discordgo.MessageComponent) []discordgo.MessageComponent {
	var out []discordgo.MessageComponent
	for len(buttons) > 0 {
		n := min(5, len(buttons))
		out = append(out, discordgo.ActionsRow{Components: buttons[:n]})
		buttons = buttons[n:]
	}
	return out
}

func (s *Server) openSession(ctx context.Context, i *discordgo.Interaction, _ core.Identity, args []string) (reply, error) {
	kind, ok := core.Kinds[args[0]]
	if !ok {
		return reply{}, &core.ValidationError{Msg: fmt.Sprintf("unknown vote kind '%s'", args[0])}
	}
	if kind.NeedsSubject && !knownMap(args[1]) {
		return reply{}, &core.ValidationError{Msg: fmt.Sprintf("unknown map '%s'", args[1])}
	}

	sess, err := s.cr.OpenSession(ctx, i.GuildID, kind, args[1])
	if err != nil {
		return reply{}, err
	}

	return reply{resp: message(sessionContent(sess), false, sessionComponents(sess)...)}, nil
}

func (s *Server) recordField(_ context.Context, _ *discordgo.Interaction, who core.Identity, args []string) (reply, error) {
	if err := s.cr.RecordField(args[0], who, core.Field(args[1]), args[2]); err != nil {
		return reply{}, err
	}

	return reply{resp: ack()}, nil
}

func (s *Server) submitVote(ctx context.Context, _ *discordgo.Interaction, who core.Identity, args []string) (reply, error) {
	res, err := s.cr.Submit(ctx, args[0], who)
	if err != nil {
		return reply{}, err
	}

	rep := reply{resp: update(sessionContent(res.Session), sessionComponents(res.Session))}
	if res.Rank != nil {
		msg := formatRankUpdate(*res.Rank)
		if res.Rank.Triggered {
			msg += alignmentHint
		}
		rep.followups = []string{msg}
	}

	return rep, nil
}

func (s *Server) undo(ctx context.Context, i *discordgo.Interaction, _ core.Identity, args []string) (reply, error) {
	ids, err := splitIDs(args[0])
	if err != nil {
		return reply{}, err
	}

	if err := s.cr.Delete(ctx, i.GuildID, ids, privileged(i)); err != nil {
		return reply{}, err
	}

	content := "*successfully deleted*"
	if i.Message != nil {
		content = i.Message.Content + "\n\n" + content
	}

	return reply{resp: update(content, nil)}, nil
}

func joinIDs(ids []int64) string {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(strs, ",")
}

func splitIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, &core.ValidationError{Msg: fmt.Sprintf("malformed rating id '%s'", part)}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func sessionContent(sess *core.Session) string {
	var b strings.Builder
	if sess.Subject != "" {
		fmt.Fprintf(&b, "rating for **%s**", sess.Subject)
	} else {
		fmt.Fprintf(&b, "recording a %s game", sess.Kind.Name)
	}
	fmt.Fprintf(&b, ": (expires <t:%d:R>)", sess.ExpiresAt.Unix())

	if voters := sess.Voters(); len(voters) > 0 {
		fmt.Fprintf(&b, "\nVoters: *%s*", strings.Join(voters, ", "))
	}

	return b.String()
}

// Quality buttons, best first, with the two extremes on their own row
var qualityLayout = [][]int{{5, 4, 3, 2, 1}, {6, 0}}

func sessionComponents(sess *core.Session) []discordgo.MessageComponent {
	field := func(f core.Field, value, label string, style discordgo.ButtonStyle) discordgo.MessageComponent {
		return discordgo.Button{
			Label:    label,
			Style:    style,
			CustomID: customID(componentField, sess.ID, string(f), value),
		}
	}

	var out []discordgo.MessageComponent
	for _, f := range sess.Kind.Required {
		switch f {
		case core.FieldResult:
			out = append(out, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				field(f, string(models.Win), models.Win.String(), discordgo.SuccessButton),
				field(f, string(models.Draw), models.Draw.String(), discordgo.SecondaryButton),
				field(f, string(models.Loss), models.Loss.String(), discordgo.DangerButton),
			}})
		case core.FieldRole:
			var roles []discordgo.MessageComponent
			for _, r := range models.Roles {
				roles = append(roles, field(f, string(r), r.String(), discordgo.SecondaryButton))
			}
			out = append(out, discordgo.ActionsRow{Components: roles})
		case core.FieldQuality:
			for _, row := range qualityLayout {
				var qs []discordgo.MessageComponent
				for _, q := range row {
					style := discordgo.SecondaryButton
					switch {
					case q >= 5:
						style = discordgo.SuccessButton
					case q <= 1:
						style = discordgo.DangerButton
					}
					qs = append(qs, field(f, strconv.Itoa(q), models.QualityLabels[q], style))
				}
				out = append(out, discordgo.ActionsRow{Components: qs})
			}
		}
	}

	out = append(out, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.Button{
			Label:    "Submit",
			Style:    discordgo.PrimaryButton,
			CustomID: customID(componentSubmit, sess.ID),
		},
	}})

	return out
}
