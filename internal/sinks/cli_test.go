package sinks

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"lookout/internal/core"
)

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestCLISinkPrintsEventLines(t *testing.T) {
	var out safeBuffer
	s := NewCLISink(&out, nil, time.Hour, quietLogger())
	defer s.Stop()

	s.Handle(postEvent("t1", "alice", "gm"))
	s.Handle(followEvent("alice", "bob", "follow"))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{
		"[post_created] @alice: gm",
		"[follow_created] @alice: followed @bob",
	}, lines)
}

func TestCLISinkStatsBlock(t *testing.T) {
	var out safeBuffer
	snap := core.Snapshot{Total: 10, Delivered: 7, Deduped: 2, RatePerMinute: 30}
	s := NewCLISink(&out, func() core.Snapshot { return snap }, 10*time.Millisecond, quietLogger())
	s.Start()
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for !strings.Contains(out.String(), "total=10") {
		select {
		case <-deadline:
			t.Fatalf("stats block never printed, output: %q", out.String())
		case <-time.After(5 * time.Millisecond):
		}
	}
	assert.Contains(t, out.String(), "delivered=7")
	assert.Contains(t, out.String(), "deduped=2")
	assert.Contains(t, out.String(), "rate=0.50/s")
}

func TestCLISinkIncrementDedupedFoldsIntoStats(t *testing.T) {
	out := &safeBuffer{}
	stats := func() core.Snapshot { return core.Snapshot{Total: 4, Delivered: 1, Deduped: 2} }
	s := NewCLISink(out, stats, time.Hour, quietLogger())
	defer s.Stop()

	s.IncrementDeduped()
	s.IncrementDeduped()
	s.IncrementDeduped()
	s.printStats()

	assert.Contains(t, out.String(), "deduped=5")
}

func TestCLISinkStopIdempotent(t *testing.T) {
	s := NewCLISink(io.Discard, nil, time.Hour, quietLogger())
	s.Start()
	s.Stop()
	s.Stop()
}

func TestCLISinkDefaultInterval(t *testing.T) {
	s := NewCLISink(io.Discard, nil, 0, quietLogger())
	defer s.Stop()
	assert.Equal(t, DefaultStatsInterval, s.interval)
}
