package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
)

const (
	telegramAPIBase      = "https://api.telegram.org"
	telegramCaptionLimit = 1024
)

// TelegramConfig configures the Telegram alert sink.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	// APIBase overrides the Bot API endpoint, for tests.
	APIBase string
}

// TelegramSink posts alerts through the Telegram Bot API. Events with at
// least one image go out as a photo with caption, the rest as a plain
// message. Both carry inline buttons linking back to the post and
// profile.
type TelegramSink struct {
	cfg    TelegramConfig
	client *http.Client
}

// NewTelegramSink creates the sink.
func NewTelegramSink(cfg TelegramConfig) *TelegramSink {
	if cfg.APIBase == "" {
		cfg.APIBase = telegramAPIBase
	}
	return &TelegramSink{cfg: cfg, client: newAlertHTTPClient()}
}

func (s *TelegramSink) Name() string { return "telegram" }

type telegramButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type telegramMarkup struct {
	InlineKeyboard [][]telegramButton `json:"inline_keyboard"`
}

// Send delivers one alert. Non-2xx responses are returned as errors with
// the Telegram error description when one is present.
func (s *TelegramSink) Send(ctx context.Context, msg *AlertMessage) error {
	caption := s.caption(msg)
	markup := s.markup(msg)

	var method string
	payload := map[string]any{
		"chat_id":      s.cfg.ChatID,
		"parse_mode":   "HTML",
		"reply_markup": markup,
	}
	if len(msg.Images) > 0 {
		method = "sendPhoto"
		payload["photo"] = msg.Images[0]
		payload["caption"] = caption
	} else {
		method = "sendMessage"
		payload["text"] = caption
		payload["disable_web_page_preview"] = true
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", s.cfg.APIBase, s.cfg.BotToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Description string `json:"description"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Description != "" {
			return fmt.Errorf("telegram %s returned %d: %s", method, resp.StatusCode, apiErr.Description)
		}
		return fmt.Errorf("telegram %s returned %d", method, resp.StatusCode)
	}
	return nil
}

func (s *TelegramSink) caption(msg *AlertMessage) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(msg.EventType))
	fmt.Fprintf(&b, "<b>@%s</b>\n\n", html.EscapeString(msg.Username))
	if msg.Text != "" {
		fmt.Fprintf(&b, "%s\n\n", html.EscapeString(msg.Text))
	}
	if len(msg.Videos) > 0 {
		fmt.Fprintf(&b, "Video(s): %d\n\n", len(msg.Videos))
	}
	fmt.Fprintf(&b, "<i>%s</i>", msg.Timestamp)
	return Truncate(b.String(), telegramCaptionLimit)
}

func (s *TelegramSink) markup(msg *AlertMessage) telegramMarkup {
	var rows [][]telegramButton
	if msg.PostURL != "" {
		rows = append(rows, []telegramButton{{Text: "View Post", URL: msg.PostURL}})
	}
	if msg.Username != "" {
		rows = append(rows, []telegramButton{{Text: "View Profile", URL: "https://x.com/" + msg.Username}})
	}
	return telegramMarkup{InlineKeyboard: rows}
}
