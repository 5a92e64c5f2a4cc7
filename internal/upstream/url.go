package upstream

import (
	"net/url"
	"strings"
)

// Channel names accepted by the crawler stream.
const (
	ChannelAll       = "all"
	ChannelTweets    = "tweets"
	ChannelFollowing = "following"
	ChannelProfile   = "profile"
)

// KnownChannel reports whether name is a channel the crawler serves.
func KnownChannel(name string) bool {
	switch name {
	case ChannelAll, ChannelTweets, ChannelFollowing, ChannelProfile:
		return true
	}
	return false
}

// BuildStreamURL constructs the crawler stream endpoint for one channel.
// The users parameter is omitted entirely when the set is empty.
func BuildStreamURL(base, channel, token string, users []string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	b.WriteString("/events/")
	b.WriteString(channel)
	b.WriteString("?token=")
	b.WriteString(url.QueryEscape(token))
	if len(users) > 0 {
		b.WriteString("&users=")
		b.WriteString(url.QueryEscape(strings.Join(users, ",")))
	}
	return b.String()
}
