package sinks

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"lookout/internal/core"
	"lookout/internal/event"
	"lookout/pkg/logging"
)

const (
	// DefaultStatsInterval is how often the CLI sink prints its summary.
	DefaultStatsInterval = 60 * time.Second

	cliTextLimit = 100
)

// CLISink prints one line per delivered event and a periodic statistics
// block. Output goes to a single writer, serialized by a mutex.
type CLISink struct {
	out      io.Writer
	stats    func() core.Snapshot
	interval time.Duration
	logger   logging.Logger

	mu      sync.Mutex
	deduped atomic.Int64

	stopOnce sync.Once
	done     chan struct{}
}

// NewCLISink writes event lines to out. stats supplies the pipeline
// counters for the periodic summary; a zero interval uses the default.
func NewCLISink(out io.Writer, stats func() core.Snapshot, interval time.Duration, logger logging.Logger) *CLISink {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	return &CLISink{
		out:      out,
		stats:    stats,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the periodic stats printer.
func (s *CLISink) Start() {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.printStats()
			}
		}
	}()
}

// Stop halts the stats printer. Safe to call more than once.
func (s *CLISink) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Handle prints the event line. It is the bus handler for the cli topic.
func (s *CLISink) Handle(e *event.Event) {
	line := FormatLine(e)
	s.mu.Lock()
	fmt.Fprintln(s.out, line)
	s.mu.Unlock()
}

// IncrementDeduped accounts for a duplicate suppressed upstream of the
// sink, so the printed summary reflects dedup activity.
func (s *CLISink) IncrementDeduped() { s.deduped.Add(1) }

// FormatLine renders the single-line event representation. Newlines in
// tweet text are flattened and long text is truncated.
func FormatLine(e *event.Event) string {
	text := Summary(e)
	text = strings.Join(strings.Fields(text), " ")
	text = Truncate(text, cliTextLimit)
	return fmt.Sprintf("[%s] @%s: %s", e.Kind, e.User.Username, text)
}

func (s *CLISink) printStats() {
	var snap core.Snapshot
	if s.stats != nil {
		snap = s.stats()
	}
	deduped := snap.Deduped + s.deduped.Load()
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "--- stats: total=%d delivered=%d deduped=%d rate=%.2f/s ---\n",
		snap.Total, snap.Delivered, deduped, snap.RatePerMinute/60)
}
