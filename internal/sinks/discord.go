package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const discordDescriptionLimit = 300

// Embed accent colors per event kind.
var discordColors = map[string]int{
	"post_created":    0x1DA1F2,
	"post_updated":    0xFFAD1F,
	"follow_created":  0x17BF63,
	"follow_updated":  0x10A37F,
	"user_updated":    0x794BC4,
	"profile_updated": 0xF45D22,
	"profile_pinned":  0xE0245E,
}

const discordDefaultColor = 0x657786

// DiscordConfig configures the Discord webhook sink.
type DiscordConfig struct {
	WebhookURL string
	// Username overrides the webhook's display name.
	Username string
}

// DiscordSink posts alerts to a Discord incoming webhook as a single
// embed per event.
type DiscordSink struct {
	cfg    DiscordConfig
	client *http.Client
}

// NewDiscordSink creates the sink.
func NewDiscordSink(cfg DiscordConfig) *DiscordSink {
	if cfg.Username == "" {
		cfg.Username = "Lookout"
	}
	return &DiscordSink{cfg: cfg, client: newAlertHTTPClient()}
}

func (s *DiscordSink) Name() string { return "discord" }

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbed struct {
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Color       int              `json:"color"`
	Fields      []discordField   `json:"fields,omitempty"`
	Image       *discordImage    `json:"image,omitempty"`
	Thumbnail   *discordImage    `json:"thumbnail,omitempty"`
	Footer      *discordFooter   `json:"footer,omitempty"`
}

type discordImage struct {
	URL string `json:"url"`
}

type discordFooter struct {
	Text string `json:"text"`
}

// Send delivers one alert as an embed.
func (s *DiscordSink) Send(ctx context.Context, msg *AlertMessage) error {
	embed := discordEmbed{
		Title:       fmt.Sprintf("@%s — %s", msg.Username, msg.EventType),
		Description: Truncate(msg.Text, discordDescriptionLimit),
		Color:       colorFor(msg.EventType),
		Footer:      &discordFooter{Text: msg.Timestamp},
	}
	if len(msg.Images) > 0 {
		embed.Image = &discordImage{URL: msg.Images[0]}
	}
	if msg.AvatarURL != "" {
		embed.Thumbnail = &discordImage{URL: msg.AvatarURL}
	}
	if msg.PostURL != "" {
		embed.Fields = append(embed.Fields, discordField{
			Name:   "View Post",
			Value:  fmt.Sprintf("[Open](%s)", msg.PostURL),
			Inline: true,
		})
	}
	if len(msg.Videos) > 0 {
		embed.Fields = append(embed.Fields, discordField{
			Name:   "Media",
			Value:  fmt.Sprintf("Video(s): %d", len(msg.Videos)),
			Inline: true,
		})
	}

	payload := map[string]any{
		"username": s.cfg.Username,
		"embeds":   []discordEmbed{embed},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook returned %d", resp.StatusCode)
	}
	return nil
}

func colorFor(eventType string) int {
	if c, ok := discordColors[eventType]; ok {
		return c
	}
	return discordDefaultColor
}
