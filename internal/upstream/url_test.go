package upstream

import "testing"

func TestKnownChannel(t *testing.T) {
	for _, ch := range []string{ChannelAll, ChannelTweets, ChannelFollowing, ChannelProfile} {
		if !KnownChannel(ch) {
			t.Fatalf("expected %q to be known", ch)
		}
	}
	for _, ch := range []string{"", "ALL", "posts", "tweet"} {
		if KnownChannel(ch) {
			t.Fatalf("expected %q to be unknown", ch)
		}
	}
}

func TestBuildStreamURL(t *testing.T) {
	got := BuildStreamURL("https://crawler.example", "tweets", "secret-token-123", nil)
	want := "https://crawler.example/events/tweets?token=secret-token-123"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBuildStreamURLWithUsers(t *testing.T) {
	got := BuildStreamURL("https://crawler.example/", "all", "t+k", []string{"alice", "bob"})
	want := "https://crawler.example/events/all?token=t%2Bk&users=alice%2Cbob"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
