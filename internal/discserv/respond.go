package discserv

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/jdholdren/srwatch/internal/core"
	"github.com/jdholdren/srwatch/internal/core/models"
)

// maxMessageLen is Discord's limit on message content
const maxMessageLen = 2000

var resultEmoji = map[models.Result]string{
	models.Win:  "🏆",
	models.Draw: "🤝",
	models.Loss: "❌",
}

func message(content string, ephemeral bool, components ...discordgo.MessageComponent) *discordgo.InteractionResponse {
	data := &discordgo.InteractionResponseData{
		Content:    content,
		Components: components,
	}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}

	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}
}

// update edits the message the component was attached to. Components must be
// passed again or they're removed.
func update(content string, components []discordgo.MessageComponent) *discordgo.InteractionResponse {
	if components == nil {
		components = []discordgo.MessageComponent{}
	}

	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Components: components,
		},
	}
}

// ack answers a component click without any visible change
func ack() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
}

func warning(msg string) string {
	r, size := utf8.DecodeRuneInString(msg)
	return ":warning: " + string(unicode.ToUpper(r)) + msg[size:]
}

// Who sent the interaction. Members in a guild, plain users in DMs.
func identity(i *discordgo.Interaction) core.Identity {
	u := i.User
	if i.Member != nil && i.Member.User != nil {
		u = i.Member.User
	}
	if u == nil {
		return core.Identity{}
	}

	return core.Identity{ID: u.ID, Name: u.Username}
}

// Whether the invoker may delete ledger rows
func privileged(i *discordgo.Interaction) bool {
	return i.Member != nil && i.Member.Permissions&discordgo.PermissionManageMessages != 0
}

// Renders ledger rows, one per line. A listing of a single user gets a header
// instead of repeating the name.
func formatRows(rows []models.RatingRow) []string {
	if len(rows) == 0 {
		return nil
	}

	sameUser := true
	for _, r := range rows[1:] {
		if r.Username != rows[0].Username {
			sameUser = false
			break
		}
	}

	var out []string
	if sameUser {
		out = append(out, fmt.Sprintf("Data for user `%s`:", displayName(rows[0].Username)))
	}
	for _, r := range rows {
		var b strings.Builder
		if !sameUser {
			fmt.Fprintf(&b, "`%s`: ", displayName(r.Username))
		}
		b.WriteString(resultEmoji[r.Result])
		if r.Role != "" {
			fmt.Fprintf(&b, " on %s", r.Role)
		}
		if r.Subject != "" {
			fmt.Fprintf(&b, " at **%s**", r.Subject)
		}
		if r.Quality != nil && *r.Quality >= 0 && *r.Quality < len(models.QualityLabels) {
			fmt.Fprintf(&b, " (%s)", models.QualityLabels[*r.Quality])
		}
		fmt.Fprintf(&b, " <t:%d:R>", r.Time)
		out = append(out, b.String())
	}

	return out
}

func displayName(username string) string {
	return strings.Replace(username, "--", " as ", 1)
}

// Packs lines into as few messages as fit, never splitting a line. Every block
// after the first is marked as a continuation.
func chunk(lines []string) []string {
	var (
		blocks []string
		cur    strings.Builder
	)
	for _, line := range lines {
		if cur.Len() > 0 && cur.Len()+1+len(line) >= maxMessageLen {
			blocks = append(blocks, cur.String())
			cur.Reset()
			cur.WriteString("*(continued)*")
		}
		if cur.Len() > 0 {
			cur.WriteString("\n")
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		blocks = append(blocks, cur.String())
	}

	return blocks
}

const alignmentHint = "\n> have you **not** just had an update? run `/rank_update [role]` " +
	"after an update to fix the alignment"

// Renders a checkpoint evaluation. A triggered update has already been applied
// to the SR; anything else is a projection.
func formatRankUpdate(u models.RankUpdate) string {
	var lines []string

	if u.Triggered {
		lines = append(lines, fmt.Sprintf("%s **Rank Update!**", u.Role))
	} else {
		lines = append(lines, fmt.Sprintf("%s **Rank Update So Far:**", u.Role))
	}

	trend := "📈"
	if u.Delta < 0 {
		trend = "📉"
	}
	var outcomes strings.Builder
	for _, r := range u.Outcomes {
		outcomes.WriteString(resultEmoji[r])
	}
	lines = append(lines, fmt.Sprintf("%s: %s", trend, outcomes.String()))

	summary := plural(u.Wins, "win", "wins")
	if u.Draws != 0 {
		summary += ", " + plural(u.Draws, "draw", "draws") + ","
	}
	summary += " and " + plural(u.Losses, "loss", "losses")
	lines = append(lines, summary)

	if u.Triggered {
		lines = append(lines, fmt.Sprintf("Outcome: `%+dsr` (now `%dsr`)", u.Delta, u.SR))
	} else {
		lines = append(lines, fmt.Sprintf("Expected Outcome: `%+dsr` (`%dsr`)", u.Delta, u.Projected))
	}

	return strings.Join(lines, "\n")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
