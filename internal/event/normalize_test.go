package event

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseFrame(t *testing.T) {
	frame, err := ParseFrame([]byte(`{"event_type":"post_created","data":{"id":"1"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.EventType != "post_created" {
		t.Fatalf("unexpected event type %q", frame.EventType)
	}

	if _, err := ParseFrame([]byte(`{not json`)); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestNormalizePost(t *testing.T) {
	data := `{
		"timestamp": "2026-08-24T10:00:00Z",
		"user": {"id": "u1", "username": "satoshi", "displayName": "Satoshi"},
		"tweet": {
			"id": "t1",
			"bodyText": "gm",
			"author": {"handle": "satoshi", "id": "u1"},
			"media": {"images": ["https://img.example/a.jpg"]}
		}
	}`
	evt, err := Normalize(RawFrame{EventType: "post_created", Data: json.RawMessage(data)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.Kind != KindPostCreated {
		t.Fatalf("unexpected kind %q", evt.Kind)
	}
	if evt.User.Username != "satoshi" || evt.User.UserID != "u1" {
		t.Fatalf("unexpected user %+v", evt.User)
	}
	if evt.PrimaryID != "t1" {
		t.Fatalf("expected primary id t1, got %q", evt.PrimaryID)
	}
	if evt.Payload.Variant() != "post" {
		t.Fatalf("expected post payload, got %s", evt.Payload.Variant())
	}
	if evt.Payload.Post.Tweet.URLs == nil || evt.Payload.Post.Tweet.Mentions == nil {
		t.Fatal("expected empty slices instead of nil on tweet")
	}
	if evt.PostURL() != "https://x.com/satoshi/status/t1" {
		t.Fatalf("unexpected post url %q", evt.PostURL())
	}
}

func TestNormalizePostAuthorFallback(t *testing.T) {
	data := `{"tweet": {"id": "t2", "bodyText": "hi", "author": {"handle": "vitalik"}}}`
	evt, err := Normalize(RawFrame{EventType: "post_created", Data: json.RawMessage(data)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.User.Username != "vitalik" {
		t.Fatalf("expected author fallback, got %q", evt.User.Username)
	}
}

func TestNormalizeFollow(t *testing.T) {
	data := `{
		"action": "follow",
		"user": {"id": "u1", "handle": "alice"},
		"following": {"id": "u2", "handle": "bob"}
	}`
	evt, err := Normalize(RawFrame{EventType: "follow_created", Data: json.RawMessage(data)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.Payload.Follow.Following.Handle != "bob" {
		t.Fatalf("unexpected following %+v", evt.Payload.Follow.Following)
	}
	// No frame id: derived from the edge.
	if evt.PrimaryID != "u1>u2" {
		t.Fatalf("unexpected primary id %q", evt.PrimaryID)
	}
}

func TestNormalizeProfile(t *testing.T) {
	data := `{
		"user": {"id": "u9", "username": "carol"},
		"pinned": [{"id": "t5", "bodyText": "pinned"}]
	}`
	evt, err := Normalize(RawFrame{EventType: "profile_pinned", Data: json.RawMessage(data)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.Payload.Profile.Action != "updated" {
		t.Fatalf("expected default action, got %q", evt.Payload.Profile.Action)
	}
	if len(evt.Payload.Profile.Pinned) != 1 {
		t.Fatalf("expected pinned list, got %+v", evt.Payload.Profile.Pinned)
	}
	if evt.PrimaryID != "u9" {
		t.Fatalf("unexpected primary id %q", evt.PrimaryID)
	}
}

func TestNormalizeRejections(t *testing.T) {
	cases := []struct {
		name  string
		frame RawFrame
		want  error
	}{
		{"unknown kind", RawFrame{EventType: "post_deleted", Data: json.RawMessage(`{}`)}, ErrUnknownKind},
		{"no data", RawFrame{EventType: "post_created"}, ErrMissingPayload},
		{"no username", RawFrame{EventType: "user_updated", Data: json.RawMessage(`{"id":"x"}`)}, ErrMissingUsername},
		{"post without tweet", RawFrame{EventType: "post_created", Data: json.RawMessage(`{"user":{"username":"a"}}`)}, ErrMissingPayload},
		{"bad data json", RawFrame{EventType: "post_created", Data: json.RawMessage(`[1]`)}, ErrMalformedFrame},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Normalize(tc.frame); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	data := `{"user":{"username":"a"},"timestamp":"2026-08-24T12:00:00+02:00","tweet":{"id":"t1","bodyText":"x","author":{"handle":"a"}}}`
	evt, err := Normalize(RawFrame{EventType: "post_created", Data: json.RawMessage(data)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.Timestamp != "2026-08-24T10:00:00Z" {
		t.Fatalf("expected UTC timestamp, got %q", evt.Timestamp)
	}

	// Garbage timestamps are replaced with the current time.
	data = `{"user":{"username":"a"},"timestamp":"yesterday","tweet":{"id":"t1","bodyText":"x","author":{"handle":"a"}}}`
	evt, err = Normalize(RawFrame{EventType: "post_created", Data: json.RawMessage(data)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, perr := time.Parse(time.RFC3339, evt.Timestamp); perr != nil {
		t.Fatalf("expected RFC3339 timestamp, got %q", evt.Timestamp)
	}
}

func TestEffectiveTweetRetweet(t *testing.T) {
	evt := &Event{
		Kind: KindPostCreated,
		User: User{Username: "alice"},
		Payload: Payload{Post: &PostPayload{Tweet: Tweet{
			ID:     "outer",
			Author: Author{Handle: "alice"},
			Subtweet: &Tweet{
				ID:       "inner",
				BodyText: "original text",
				Author:   Author{Handle: "bob"},
				Media:    &Media{Videos: []string{"https://vid.example/v.mp4"}},
			},
		}}},
	}

	if evt.EffectiveText() != "original text" {
		t.Fatalf("expected subtweet text, got %q", evt.EffectiveText())
	}
	if evt.EffectiveMedia() == nil || len(evt.EffectiveMedia().Videos) != 1 {
		t.Fatal("expected subtweet media")
	}
	// The post URL stays on the outer tweet.
	if evt.PostURL() != "https://x.com/alice/status/outer" {
		t.Fatalf("unexpected post url %q", evt.PostURL())
	}
}

func TestCloneIsDeep(t *testing.T) {
	evt := &Event{
		Kind:      KindPostCreated,
		PrimaryID: "t1",
		User:      User{Username: "alice"},
		Payload: Payload{Post: &PostPayload{Tweet: Tweet{
			ID:       "t1",
			BodyText: "hello",
			URLs:     []string{"https://example.com"},
			Author:   Author{Handle: "alice"},
		}}},
	}

	clone := evt.Clone()
	clone.Payload.Post.Tweet.BodyText = "mutated"
	clone.Payload.Post.Tweet.URLs[0] = "https://other.example"

	if evt.Payload.Post.Tweet.BodyText != "hello" {
		t.Fatal("clone shares tweet struct with original")
	}
	if evt.Payload.Post.Tweet.URLs[0] != "https://example.com" {
		t.Fatal("clone shares url slice with original")
	}
}
