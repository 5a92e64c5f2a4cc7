package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"lookout/internal/upstream"
	"lookout/pkg/logging"
)

// Subscription modes and sources.
const (
	ModeActive = "active"
	ModeIdle   = "idle"

	SourceConfig  = "config"
	SourceRuntime = "runtime"
)

// ErrInvalidSubscription rejects updates naming unknown channels.
var ErrInvalidSubscription = errors.New("invalid subscription")

// ErrUpdateInProgress is the conflict error returned while another
// update is still in flight.
var ErrUpdateInProgress = upstream.ErrUpdateInProgress

// SubscriptionState is the runtime subscription record.
type SubscriptionState struct {
	Channels  []string  `json:"channels"`
	Users     []string  `json:"users"`
	Mode      string    `json:"mode"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type subscriptionUpdater interface {
	UpdateSubscription(channels, users []string) error
}

// SubscriptionManager serializes runtime subscription updates and owns
// the stored state. A failed update leaves the state untouched.
type SubscriptionManager struct {
	mu       sync.Mutex
	inFlight bool
	state    SubscriptionState
	upstream subscriptionUpdater
	logger   logging.Logger
}

// NewSubscriptionManager seeds the manager from startup configuration.
// The initial channel/user sets are normalized the same way runtime
// updates are.
func NewSubscriptionManager(up subscriptionUpdater, channels, users []string, logger logging.Logger) (*SubscriptionManager, error) {
	normChannels, err := NormalizeChannels(channels)
	if err != nil {
		return nil, err
	}
	normUsers := NormalizeUsers(users)

	return &SubscriptionManager{
		upstream: up,
		logger:   logger,
		state: SubscriptionState{
			Channels:  normChannels,
			Users:     normUsers,
			Mode:      modeFor(normChannels),
			Source:    SourceConfig,
			UpdatedAt: time.Now().UTC(),
		},
	}, nil
}

// State returns a copy of the stored subscription state.
func (m *SubscriptionManager) State() SubscriptionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.state
	out.Channels = append([]string(nil), m.state.Channels...)
	out.Users = append([]string(nil), m.state.Users...)
	return out
}

// Update validates and applies a runtime subscription change. Empty
// channels are valid and put the subscription into idle mode. At most
// one update may be in flight; concurrent attempts fail with
// ErrUpdateInProgress and leave the state unchanged.
func (m *SubscriptionManager) Update(channels, users []string) (SubscriptionState, error) {
	normChannels, err := NormalizeChannels(channels)
	if err != nil {
		return m.State(), err
	}
	normUsers := NormalizeUsers(users)

	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return m.State(), ErrUpdateInProgress
	}
	m.inFlight = true
	m.mu.Unlock()

	err = m.upstream.UpdateSubscription(normChannels, normUsers)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight = false

	if err != nil {
		m.logger.WithError(err).Warn("Subscription update rejected by upstream")
		return m.stateCopyLocked(), err
	}

	m.state = SubscriptionState{
		Channels:  normChannels,
		Users:     normUsers,
		Mode:      modeFor(normChannels),
		Source:    SourceRuntime,
		UpdatedAt: time.Now().UTC(),
	}
	m.logger.WithFields(logging.Fields{
		"channels": normChannels,
		"users":    len(normUsers),
		"mode":     m.state.Mode,
	}).Info("Subscription updated")

	return m.stateCopyLocked(), nil
}

// Refresh re-applies the stored channel and user sets to the upstream.
// The stored state keeps its mode and source; only the timestamp moves.
// Shares the single in-flight slot with Update.
func (m *SubscriptionManager) Refresh() error {
	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return ErrUpdateInProgress
	}
	m.inFlight = true
	channels := append([]string(nil), m.state.Channels...)
	users := append([]string(nil), m.state.Users...)
	m.mu.Unlock()

	err := m.upstream.UpdateSubscription(channels, users)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight = false

	if err != nil {
		m.logger.WithError(err).Warn("Subscription refresh rejected by upstream")
		return err
	}
	m.state.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *SubscriptionManager) stateCopyLocked() SubscriptionState {
	out := m.state
	out.Channels = append([]string(nil), m.state.Channels...)
	out.Users = append([]string(nil), m.state.Users...)
	return out
}

// NormalizeChannels trims, lowercases, deduplicates and sorts the
// channel set, validates each name, and collapses the set to {all}
// when all is present.
func NormalizeChannels(channels []string) ([]string, error) {
	seen := make(map[string]struct{}, len(channels))
	out := make([]string, 0, len(channels))
	for _, ch := range channels {
		ch = strings.ToLower(strings.TrimSpace(ch))
		if ch == "" {
			continue
		}
		if !upstream.KnownChannel(ch) {
			return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidSubscription, ch)
		}
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	if _, ok := seen[upstream.ChannelAll]; ok {
		return []string{upstream.ChannelAll}, nil
	}
	sort.Strings(out)
	return out, nil
}

// NormalizeUsers trims, lowercases, deduplicates and sorts usernames.
func NormalizeUsers(users []string) []string {
	seen := make(map[string]struct{}, len(users))
	out := make([]string, 0, len(users))
	for _, u := range users {
		u = strings.ToLower(strings.TrimSpace(u))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func modeFor(channels []string) string {
	if len(channels) == 0 {
		return ModeIdle
	}
	return ModeActive
}
