// Package core orchestrates the ingest pipeline: normalize, filter,
// dedup, publish. It owns the statistics and the runtime subscription
// state machine.
package core

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"lookout/internal/bus"
	"lookout/internal/dedup"
	"lookout/internal/event"
	"lookout/internal/filter"
	"lookout/internal/upstream"
	"lookout/pkg/logging"
)

const drainGrace = 2 * time.Second

// Source is the upstream the core consumes. *upstream.Client satisfies
// it; tests substitute a fake.
type Source interface {
	Frames() <-chan event.RawFrame
	States() <-chan upstream.State
	Fatals() <-chan error
	Start(ctx context.Context)
	Stop()
	UpdateSubscription(channels, users []string) error
}

// Config configures the stream core.
type Config struct {
	// DedupTTL bounds duplicate suppression. Zero disables it.
	DedupTTL time.Duration

	// Topics lists the bus topics events are published to.
	Topics []string

	// Channels and Users seed the subscription from configuration.
	Channels []string
	Users    []string
}

// Metrics are the optional Prometheus counters the core feeds. Nil
// members are skipped.
type Metrics struct {
	Events *prometheus.CounterVec // labelled by outcome
	Rate   *prometheus.GaugeVec
}

// Core wires upstream → normalizer → filters → dedup → bus.
type Core struct {
	cfg      Config
	source   Source
	pipeline *filter.Pipeline
	cache    *dedup.Cache
	bus      *bus.Bus
	stats    *Stats
	subs     *SubscriptionManager
	logger   logging.Logger
	metrics  Metrics

	stateMu   sync.RWMutex
	connState upstream.State
	listeners []func(upstream.State)

	stopOnce sync.Once
}

// New creates a stream core. The subscription manager is seeded from
// cfg.Channels/cfg.Users.
func New(cfg Config, source Source, pipeline *filter.Pipeline, cache *dedup.Cache, b *bus.Bus, logger logging.Logger, metrics Metrics) (*Core, error) {
	subs, err := NewSubscriptionManager(source, cfg.Channels, cfg.Users, logger)
	if err != nil {
		return nil, err
	}
	return &Core{
		cfg:       cfg,
		source:    source,
		pipeline:  pipeline,
		cache:     cache,
		bus:       b,
		stats:     NewStats(),
		subs:      subs,
		logger:    logger,
		metrics:   metrics,
		connState: upstream.StateDisconnected,
	}, nil
}

// Stats exposes the pipeline counters.
func (c *Core) Stats() *Stats { return c.stats }

// Subscriptions exposes the runtime subscription manager.
func (c *Core) Subscriptions() *SubscriptionManager { return c.subs }

// Filters exposes the filter pipeline for runtime swaps.
func (c *Core) Filters() *filter.Pipeline { return c.pipeline }

// Dedup exposes the dedup cache (admin surface).
func (c *Core) Dedup() *dedup.Cache { return c.cache }

// ConnState returns the last observed upstream connection state.
func (c *Core) ConnState() upstream.State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.connState
}

// OnStateChange registers a listener invoked on every connection-state
// transition. Listeners must not block.
func (c *Core) OnStateChange(fn func(upstream.State)) {
	c.stateMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.stateMu.Unlock()
}

// Run consumes the upstream until the context is cancelled, then stops
// the source and drains the topics for a bounded grace period.
func (c *Core) Run(ctx context.Context) error {
	c.source.Start(ctx)
	defer c.shutdown()

	frames := c.source.Frames()
	states := c.source.States()
	fatals := c.source.Fatals()

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-frames:
			c.Process(frame)
		case state := <-states:
			c.setConnState(state)
		case err := <-fatals:
			// Transport gave up past the reconnect cap. The sinks keep
			// serving whatever already arrived.
			c.logger.WithError(err).Error("Upstream permanently down; continuing degraded")
			c.setConnState(upstream.StateDisconnected)
		}
	}
}

// Process runs one raw frame through the pipeline.
func (c *Core) Process(frame event.RawFrame) {
	c.stats.MarkTotal()
	c.markOutcome("total")

	evt, err := event.Normalize(frame)
	if err != nil {
		c.stats.MarkFiltered()
		c.markOutcome("rejected")
		c.logger.WithError(err).WithField("event_type", frame.EventType).Debug("Frame rejected by normalizer")
		return
	}

	if !c.pipeline.Match(evt) {
		c.stats.MarkFiltered()
		c.markOutcome("filtered")
		return
	}

	fp := event.Fingerprint(evt)
	if !c.cache.CheckAndRemember(fp, c.cfg.DedupTTL) {
		c.stats.MarkDeduped()
		c.markOutcome("deduped")
		return
	}

	for _, topic := range c.cfg.Topics {
		c.bus.Publish(topic, evt)
	}
	c.stats.MarkDelivered()
	c.markOutcome("delivered")
	if c.metrics.Rate != nil {
		c.metrics.Rate.WithLabelValues().Set(c.stats.RatePerMinute())
	}
}

func (c *Core) shutdown() {
	c.stopOnce.Do(func() {
		c.source.Stop()
		c.bus.Close(drainGrace)
		c.cache.Close()
	})
}

func (c *Core) setConnState(state upstream.State) {
	c.stateMu.Lock()
	if state == c.connState {
		c.stateMu.Unlock()
		return
	}
	c.connState = state
	listeners := make([]func(upstream.State), len(c.listeners))
	copy(listeners, c.listeners)
	c.stateMu.Unlock()

	c.logger.WithField("state", string(state)).Info("Upstream connection state changed")
	for _, fn := range listeners {
		fn(state)
	}
}

func (c *Core) markOutcome(outcome string) {
	if c.metrics.Events != nil {
		c.metrics.Events.WithLabelValues(outcome).Inc()
	}
}
