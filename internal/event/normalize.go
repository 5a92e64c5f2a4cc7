package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Rejection reasons surfaced by Normalize. All are counted under the
// pipeline's filtered counter and logged at debug.
var (
	ErrUnknownKind     = errors.New("unknown event kind")
	ErrMissingUsername = errors.New("missing user.username")
	ErrMissingPayload  = errors.New("missing payload")
	ErrMalformedFrame  = errors.New("malformed frame")
)

// RawFrame is one newline-framed message from the crawler stream.
type RawFrame struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// ParseFrame decodes a single raw stream line into a frame.
func ParseFrame(line []byte) (RawFrame, error) {
	var f RawFrame
	if err := json.Unmarshal(line, &f); err != nil {
		return RawFrame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f, nil
}

// rawData mirrors the wire shape of a frame's data member. Every field
// is optional on the wire; Normalize decides what is mandatory.
type rawData struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Action    string          `json:"action"`
	User      *rawUser        `json:"user"`
	Tweet     *Tweet          `json:"tweet"`
	Following *Account        `json:"following"`
	Pinned    []TweetSummary  `json:"pinned"`
	Profile   *Profile        `json:"profile"`
	Metrics   *Metrics        `json:"metrics"`
	Extra     json.RawMessage `json:"-"`
}

type rawUser struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Handle      string   `json:"handle"`
	DisplayName string   `json:"displayName"`
	Name        string   `json:"name"`
	Profile     *Profile `json:"profile"`
	Metrics     *Metrics `json:"metrics"`
}

func (u *rawUser) username() string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return u.Username
	}
	return u.Handle
}

// Normalize converts a raw frame into a canonical Event or rejects it.
// The returned event is built entirely from freshly decoded memory, so
// later mutation of the frame's buffers cannot affect it.
func Normalize(frame RawFrame) (*Event, error) {
	kind := Kind(frame.EventType)
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, frame.EventType)
	}
	if len(frame.Data) == 0 {
		return nil, ErrMissingPayload
	}

	var data rawData
	if err := json.Unmarshal(frame.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	username := data.user(kind)
	if strings.TrimSpace(username) == "" {
		return nil, ErrMissingUsername
	}

	evt := &Event{
		Kind:      kind,
		Timestamp: normalizeTimestamp(data.Timestamp),
		User: User{
			Username:    username,
			DisplayName: data.displayName(),
			UserID:      data.userID(),
		},
	}

	switch kind {
	case KindPostCreated, KindPostUpdated:
		if data.Tweet == nil {
			return nil, ErrMissingPayload
		}
		tweet := data.Tweet.clone()
		defaultTweet(tweet)
		evt.Payload.Post = &PostPayload{Tweet: *tweet}
		evt.PrimaryID = tweet.ID
	case KindFollowCreated, KindFollowUpdated:
		follow := &FollowPayload{
			User:      data.subjectAccount(),
			Following: data.followingAccount(),
			Action:    defaultAction(data.Action),
		}
		evt.Payload.Follow = follow
		evt.PrimaryID = data.ID
		if evt.PrimaryID == "" {
			evt.PrimaryID = follow.User.ID + ">" + follow.Following.ID
		}
	case KindUserUpdated, KindProfileUpdated, KindProfilePinned:
		profile := &ProfilePayload{
			User:   data.subjectAccount(),
			Action: defaultAction(data.Action),
			Pinned: append([]TweetSummary(nil), data.Pinned...),
		}
		evt.Payload.Profile = profile
		evt.PrimaryID = data.ID
		if evt.PrimaryID == "" {
			evt.PrimaryID = profile.User.ID
		}
		if evt.PrimaryID == "" {
			evt.PrimaryID = username
		}
	}

	if evt.PrimaryID == "" {
		return nil, ErrMissingPayload
	}

	return evt, nil
}

func (d *rawData) user(kind Kind) string {
	if u := d.User.username(); u != "" {
		return u
	}
	// Posts may only carry the author on the tweet itself.
	if kind == KindPostCreated || kind == KindPostUpdated {
		if d.Tweet != nil {
			return d.Tweet.Author.Handle
		}
	}
	return ""
}

func (d *rawData) displayName() string {
	if d.User == nil {
		return ""
	}
	if d.User.DisplayName != "" {
		return d.User.DisplayName
	}
	return d.User.Name
}

func (d *rawData) userID() string {
	if d.User != nil && d.User.ID != "" {
		return d.User.ID
	}
	if d.Tweet != nil {
		return d.Tweet.Author.ID
	}
	return ""
}

func (d *rawData) subjectAccount() Account {
	acct := Account{}
	if d.User != nil {
		acct.ID = d.User.ID
		acct.Handle = d.User.username()
		if d.User.Profile != nil {
			p := *d.User.Profile
			acct.Profile = &p
		}
		if d.User.Metrics != nil {
			m := *d.User.Metrics
			acct.Metrics = &m
		}
	}
	if acct.Profile == nil && d.Profile != nil {
		p := *d.Profile
		acct.Profile = &p
	}
	if acct.Metrics == nil && d.Metrics != nil {
		m := *d.Metrics
		acct.Metrics = &m
	}
	return acct
}

func (d *rawData) followingAccount() Account {
	if d.Following == nil {
		return Account{}
	}
	return *d.Following.clone()
}

func defaultTweet(t *Tweet) {
	if t.URLs == nil {
		t.URLs = []string{}
	}
	if t.Mentions == nil {
		t.Mentions = []string{}
	}
	if t.Subtweet != nil {
		defaultTweet(t.Subtweet)
	}
}

func defaultAction(action string) string {
	if action == "" {
		return "updated"
	}
	return action
}

func normalizeTimestamp(ts string) string {
	if ts == "" {
		return time.Now().UTC().Format(time.RFC3339)
	}
	if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
		return parsed.UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}
