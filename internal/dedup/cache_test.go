package dedup

import (
	"testing"
	"time"
)

func newTestCache(start time.Time) (*Cache, *time.Time) {
	now := start
	c := New()
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCheckAndRemember(t *testing.T) {
	c, now := newTestCache(time.Unix(1000, 0))
	defer c.Close()

	if !c.CheckAndRemember("fp1", time.Minute) {
		t.Fatal("first sighting should be fresh")
	}
	if c.CheckAndRemember("fp1", time.Minute) {
		t.Fatal("second sighting within ttl should be a duplicate")
	}

	*now = now.Add(2 * time.Minute)
	if !c.CheckAndRemember("fp1", time.Minute) {
		t.Fatal("sighting after expiry should be fresh again")
	}
	// The expiry timer restarts from the re-insert.
	*now = now.Add(30 * time.Second)
	if c.CheckAndRemember("fp1", time.Minute) {
		t.Fatal("expected duplicate within the restarted ttl")
	}
}

func TestZeroTTLDisablesSuppression(t *testing.T) {
	c, _ := newTestCache(time.Unix(1000, 0))
	defer c.Close()

	if !c.CheckAndRemember("fp", 0) {
		t.Fatal("first sighting should be fresh")
	}
	if !c.CheckAndRemember("fp", 0) {
		t.Fatal("zero ttl should never suppress")
	}
}

func TestHasLazilyDeletesExpired(t *testing.T) {
	c, now := newTestCache(time.Unix(1000, 0))
	defer c.Close()

	c.CheckAndRemember("fp", time.Minute)
	if !c.Has("fp") {
		t.Fatal("expected live entry")
	}

	*now = now.Add(2 * time.Minute)
	if c.Has("fp") {
		t.Fatal("expected expiry")
	}
	if c.Size() != 0 {
		t.Fatalf("expected lazy delete, size=%d", c.Size())
	}
}

func TestClear(t *testing.T) {
	c, _ := newTestCache(time.Unix(1000, 0))
	defer c.Close()

	c.CheckAndRemember("a", time.Minute)
	c.CheckAndRemember("b", time.Minute)
	c.Clear()
	if c.Size() != 0 {
		t.Fatalf("expected empty cache, size=%d", c.Size())
	}
	if !c.CheckAndRemember("a", time.Minute) {
		t.Fatal("cleared entry should be fresh")
	}
}

func TestSweep(t *testing.T) {
	c, now := newTestCache(time.Unix(1000, 0))
	defer c.Close()

	c.CheckAndRemember("old", time.Minute)
	*now = now.Add(time.Hour)
	c.CheckAndRemember("new", time.Minute)

	c.sweep()
	if c.Size() != 1 {
		t.Fatalf("expected sweep to drop expired entry, size=%d", c.Size())
	}
	if !c.Has("new") {
		t.Fatal("live entry should survive the sweep")
	}
}

func TestCloseIdempotent(t *testing.T) {
	c := New()
	c.Close()
	c.Close()

	// Cache stays usable after Close.
	if !c.CheckAndRemember("fp", time.Minute) {
		t.Fatal("expected cache to remain usable after Close")
	}
}
