// Package sinks contains the terminal subscribers that turn events into
// outside-world actions: terminal output, chat alerts, webhooks, and the
// optional Kafka firehose.
package sinks

import (
	"fmt"
	"strings"
	"time"

	"lookout/internal/event"
)

const alertTimeLayout = "2006-01-02 15:04:05 UTC"

// AlertMessage is the sink-independent alert payload every alert sink
// formats from.
type AlertMessage struct {
	EventType string   `json:"eventType"`
	Username  string   `json:"username"`
	Text      string   `json:"text"`
	Timestamp string   `json:"timestamp"`
	Images    []string `json:"images,omitempty"`
	Videos    []string `json:"videos,omitempty"`
	PostURL   string   `json:"postUrl,omitempty"`
	AvatarURL string   `json:"avatarUrl,omitempty"`
}

// NewAlertMessage derives the common alert payload from an event.
func NewAlertMessage(e *event.Event) *AlertMessage {
	msg := &AlertMessage{
		EventType: string(e.Kind),
		Username:  e.User.Username,
		Text:      Summary(e),
		Timestamp: alertTimestamp(e.Timestamp),
		PostURL:   e.PostURL(),
		AvatarURL: e.AvatarURL(),
	}
	if media := e.EffectiveMedia(); media != nil {
		msg.Images = append([]string(nil), media.Images...)
		msg.Videos = append([]string(nil), media.Videos...)
	}
	return msg
}

// Summary renders the one-line human description of an event: the
// effective tweet text, or a synthesized line for follow and profile
// events.
func Summary(e *event.Event) string {
	if text := e.EffectiveText(); text != "" {
		return text
	}

	switch {
	case e.Payload.Follow != nil:
		target := e.Payload.Follow.Following.Handle
		if strings.Contains(e.Payload.Follow.Action, "unfollow") {
			return "unfollowed @" + target
		}
		return "followed @" + target
	case e.Payload.Profile != nil:
		p := e.Payload.Profile
		if len(p.Pinned) > 0 {
			return fmt.Sprintf("%s: pinned tweets updated", p.Action)
		}
		return "profile " + p.Action
	}
	return ""
}

// Truncate shortens s to at most max runes, appending an ellipsis when
// anything was cut.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}

func alertTimestamp(ts string) string {
	if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
		return parsed.UTC().Format(alertTimeLayout)
	}
	return time.Now().UTC().Format(alertTimeLayout)
}
