package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DefaultBaseURL is the versioned REST root
const DefaultBaseURL = "https://discord.com/api/v10"

// Client is the struct that provides interactivity with discord
type Client struct {
	appID      string
	token      string // The secret token
	baseURL    string
	httpClient *http.Client

	l *zap.SugaredLogger
}

type ClientConfig struct {
	AppID   string
	Token   string
	BaseURL string
}

// NewClient produces a new client with the given config
func NewClient(c ClientConfig, l *zap.SugaredLogger) *Client {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}

	return &Client{
		appID:   c.AppID,
		token:   c.Token,
		baseURL: c.BaseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		l: l,
	}
}

// RegisterCommands replaces every command of the app in a guild with cmds
func (c *Client) RegisterCommands(ctx context.Context, guildID string, cmds []*discordgo.ApplicationCommand) error {
	path := fmt.Sprintf("/applications/%s/guilds/%s/commands", c.appID, guildID)

	var registered []*discordgo.ApplicationCommand
	if err := c.do(ctx, http.MethodPut, path, true, cmds, &registered); err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}

	names := make([]string, 0, len(registered))
	for _, cmd := range registered {
		names = append(names, cmd.Name)
	}
	c.l.Infow("registered guild commands", "guild_id", guildID, "commands", names)

	return nil
}

// Followup sends another message for an interaction that has already been answered.
// Interaction webhooks are authorized by their token, not the bot's.
func (c *Client) Followup(ctx context.Context, interactionToken, content string, ephemeral bool) error {
	params := discordgo.WebhookParams{Content: content}
	if ephemeral {
		params.Flags = discordgo.MessageFlagsEphemeral
	}

	path := fmt.Sprintf("/webhooks/%s/%s", c.appID, interactionToken)
	if err := c.do(ctx, http.MethodPost, path, false, params, nil); err != nil {
		return fmt.Errorf("error sending followup: %w", err)
	}

	return nil
}

// do sends body as JSON and decodes the response into out, if given
func (c *Client) do(ctx context.Context, method, path string, auth bool, body, out any) error {
	byts, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error marshalling request: %w", err)
	}

	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(byts))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	if auth {
		req.Header.Add("Authorization", fmt.Sprintf("Bot %s", c.token))
	}
	req.Header.Add("Content-Type", "application/json")

	c.l.Debugw("calling discord api", "method", method, "path", path)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error doing request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		err := readErr(res.StatusCode, res.Body)
		c.l.Errorw("received error response from api", "err", err, "status_code", res.StatusCode)
		return err
	}

	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("error reading from response body: %w", err)
	}

	return nil
}
