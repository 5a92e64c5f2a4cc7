// Package event defines the canonical in-process record of a single
// upstream occurrence, plus normalization and fingerprinting over it.
package event

import (
	"fmt"
	"strings"
)

// Kind identifies the type of upstream occurrence.
type Kind string

const (
	KindPostCreated    Kind = "post_created"
	KindPostUpdated    Kind = "post_updated"
	KindFollowCreated  Kind = "follow_created"
	KindFollowUpdated  Kind = "follow_updated"
	KindUserUpdated    Kind = "user_updated"
	KindProfileUpdated Kind = "profile_updated"
	KindProfilePinned  Kind = "profile_pinned"
)

// Kinds lists every known event kind.
func Kinds() []Kind {
	return []Kind{
		KindPostCreated,
		KindPostUpdated,
		KindFollowCreated,
		KindFollowUpdated,
		KindUserUpdated,
		KindProfileUpdated,
		KindProfilePinned,
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPostCreated, KindPostUpdated, KindFollowCreated, KindFollowUpdated,
		KindUserUpdated, KindProfileUpdated, KindProfilePinned:
		return true
	}
	return false
}

// User identifies the account an event concerns.
type User struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	UserID      string `json:"userId,omitempty"`
}

// Event is the canonical record flowing through the pipeline.
// Kind, User.Username and exactly one payload variant are always present
// on a normalized event; the remaining fields may be absent.
type Event struct {
	Kind      Kind    `json:"kind"`
	Timestamp string  `json:"timestamp,omitempty"` // RFC 3339 UTC
	PrimaryID string  `json:"primaryId"`
	User      User    `json:"user"`
	Payload   Payload `json:"payload"`
}

// Payload is the kind-tagged variant carried by an event. Exactly one
// member is non-nil after normalization.
type Payload struct {
	Post    *PostPayload    `json:"post,omitempty"`
	Follow  *FollowPayload  `json:"follow,omitempty"`
	Profile *ProfilePayload `json:"profile,omitempty"`
}

// Variant names the populated payload member.
func (p Payload) Variant() string {
	switch {
	case p.Post != nil:
		return "post"
	case p.Follow != nil:
		return "follow"
	case p.Profile != nil:
		return "profile"
	}
	return "none"
}

// Empty reports whether no payload variant is populated.
func (p Payload) Empty() bool {
	return p.Post == nil && p.Follow == nil && p.Profile == nil
}

// PostPayload carries a created or updated post.
type PostPayload struct {
	Tweet Tweet `json:"tweet"`
}

// Tweet is a post body. Retweets carry the retweeted post in Subtweet;
// the effective display content then comes from the subtweet while the
// post URL stays on the outer id.
type Tweet struct {
	ID        string   `json:"id"`
	CreatedAt string   `json:"createdAt,omitempty"`
	BodyText  string   `json:"bodyText"`
	URLs      []string `json:"urls,omitempty"`
	Mentions  []string `json:"mentions,omitempty"`
	Author    Author   `json:"author"`
	Metrics   *Metrics `json:"metrics,omitempty"`
	Media     *Media   `json:"media,omitempty"`
	Subtweet  *Tweet   `json:"subtweet,omitempty"`
}

// Author identifies the account that wrote a tweet.
type Author struct {
	Handle   string   `json:"handle"`
	ID       string   `json:"id,omitempty"`
	Verified bool     `json:"verified,omitempty"`
	Profile  *Profile `json:"profile,omitempty"`
}

// Profile carries optional display details for an account.
type Profile struct {
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Bio    string `json:"bio,omitempty"`
}

// Metrics carries engagement counts.
type Metrics struct {
	Likes    int64 `json:"likes"`
	Retweets int64 `json:"retweets"`
	Replies  int64 `json:"replies"`
	Views    int64 `json:"views"`
}

// Media carries attached media URLs.
type Media struct {
	Images []string `json:"images,omitempty"`
	Videos []string `json:"videos,omitempty"`
}

// FollowPayload carries a follow edge between two accounts.
type FollowPayload struct {
	User      Account `json:"user"`
	Following Account `json:"following"`
	Action    string  `json:"action"` // created, updated, follow, follow_update
}

// ProfilePayload carries a profile change for one account.
type ProfilePayload struct {
	User   Account        `json:"user"`
	Action string         `json:"action"`
	Pinned []TweetSummary `json:"pinned,omitempty"`
}

// Account is the subject or object of a follow/profile event.
type Account struct {
	ID      string   `json:"id"`
	Handle  string   `json:"handle"`
	Profile *Profile `json:"profile,omitempty"`
	Metrics *Metrics `json:"metrics,omitempty"`
}

// TweetSummary is a trimmed tweet reference used in pinned lists.
type TweetSummary struct {
	ID       string `json:"id"`
	BodyText string `json:"bodyText,omitempty"`
}

// EffectiveTweet resolves the tweet whose content should be displayed.
// For retweets with an empty outer body the subtweet wins.
func (e *Event) EffectiveTweet() *Tweet {
	if e.Payload.Post == nil {
		return nil
	}
	t := &e.Payload.Post.Tweet
	if strings.TrimSpace(t.BodyText) == "" && t.Subtweet != nil {
		return t.Subtweet
	}
	return t
}

// EffectiveText returns the display text for the event, empty for
// follow/profile events without text.
func (e *Event) EffectiveText() string {
	if t := e.EffectiveTweet(); t != nil {
		return t.BodyText
	}
	return ""
}

// EffectiveMedia returns the display media for the event, nil when absent.
func (e *Event) EffectiveMedia() *Media {
	if t := e.EffectiveTweet(); t != nil {
		return t.Media
	}
	return nil
}

// PostURL returns the canonical URL of the affected post. The outer
// tweet id is used even when display content comes from a subtweet.
func (e *Event) PostURL() string {
	if e.Payload.Post == nil {
		return ""
	}
	t := e.Payload.Post.Tweet
	if t.ID == "" {
		return ""
	}
	handle := t.Author.Handle
	if handle == "" {
		handle = e.User.Username
	}
	return fmt.Sprintf("https://x.com/%s/status/%s", handle, t.ID)
}

// ProfileURL returns the URL of the event's user profile.
func (e *Event) ProfileURL() string {
	if e.User.Username == "" {
		return ""
	}
	return "https://x.com/" + e.User.Username
}

// AvatarURL returns the avatar of the effective author, if known.
func (e *Event) AvatarURL() string {
	if t := e.EffectiveTweet(); t != nil && t.Author.Profile != nil {
		return t.Author.Profile.Avatar
	}
	if e.Payload.Profile != nil && e.Payload.Profile.User.Profile != nil {
		return e.Payload.Profile.User.Profile.Avatar
	}
	if e.Payload.Follow != nil && e.Payload.Follow.User.Profile != nil {
		return e.Payload.Follow.User.Profile.Avatar
	}
	return ""
}

// Clone returns a deep, independent copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	out := *e
	out.Payload = Payload{
		Post:    e.Payload.Post.clone(),
		Follow:  e.Payload.Follow.clone(),
		Profile: e.Payload.Profile.clone(),
	}
	return &out
}

func (p *PostPayload) clone() *PostPayload {
	if p == nil {
		return nil
	}
	return &PostPayload{Tweet: *p.Tweet.clone()}
}

func (t *Tweet) clone() *Tweet {
	if t == nil {
		return nil
	}
	out := *t
	out.URLs = append([]string(nil), t.URLs...)
	out.Mentions = append([]string(nil), t.Mentions...)
	out.Author = *t.Author.clone()
	if t.Metrics != nil {
		m := *t.Metrics
		out.Metrics = &m
	}
	if t.Media != nil {
		out.Media = &Media{
			Images: append([]string(nil), t.Media.Images...),
			Videos: append([]string(nil), t.Media.Videos...),
		}
	}
	out.Subtweet = t.Subtweet.clone()
	return &out
}

func (a *Author) clone() *Author {
	if a == nil {
		return nil
	}
	out := *a
	if a.Profile != nil {
		p := *a.Profile
		out.Profile = &p
	}
	return &out
}

func (f *FollowPayload) clone() *FollowPayload {
	if f == nil {
		return nil
	}
	return &FollowPayload{
		User:      *f.User.clone(),
		Following: *f.Following.clone(),
		Action:    f.Action,
	}
}

func (p *ProfilePayload) clone() *ProfilePayload {
	if p == nil {
		return nil
	}
	return &ProfilePayload{
		User:   *p.User.clone(),
		Action: p.Action,
		Pinned: append([]TweetSummary(nil), p.Pinned...),
	}
}

func (a *Account) clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	if a.Profile != nil {
		p := *a.Profile
		out.Profile = &p
	}
	if a.Metrics != nil {
		m := *a.Metrics
		out.Metrics = &m
	}
	return &out
}
