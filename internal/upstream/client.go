// Package upstream maintains the self-healing streaming connection(s)
// to the crawler and surfaces raw frames.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"lookout/internal/event"
	"lookout/pkg/clients"
	"lookout/pkg/logging"
)

// State is the connection-state signal surfaced alongside frames.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateIdle         State = "idle"
)

// Errors surfaced by the client.
var (
	ErrAuthFailed       = errors.New("upstream authentication failed")
	ErrUpdateInProgress = errors.New("subscription update already in progress")
	ErrNotStarted       = errors.New("client not started")
)

// A handshake that drops this quickly counts toward auth-failure
// detection; three in a row are classified fatal.
const (
	quickDropWindow   = 1 * time.Second
	quickDropFatalCnt = 3
	frameBufferSize   = 1024
	maxLineBytes      = 1 << 20
)

// Config configures the upstream client.
type Config struct {
	BaseURL   string
	Token     string
	Channels  []string
	Users     []string
	Reconnect clients.ReconnectConfig
	Logger    logging.Logger

	// HTTPClient overrides the default streaming client (tests).
	HTTPClient *http.Client
}

// Client owns one streaming connection per subscribed channel. Frames
// from all connections are merged onto a single channel; ordering is
// guaranteed per connection only.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     logging.Logger

	frames chan event.RawFrame
	states chan State
	fatals chan error

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	conns    map[string]*channelConn
	users    []string
	updating atomic.Bool

	// connection-state bookkeeping
	stateMu   sync.Mutex
	lastState State
	live      map[string]bool
	everUp    bool
}

type channelConn struct {
	channel string
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an upstream client. Start must be called before frames
// are produced.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// No overall timeout: the stream is long-lived. Dial and TLS
		// deadlines come from the transport.
		httpClient = &http.Client{Transport: clients.DefaultTransport()}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     cfg.Logger,
		frames:     make(chan event.RawFrame, frameBufferSize),
		states:     make(chan State, 16),
		fatals:     make(chan error, 4),
		conns:      make(map[string]*channelConn),
		users:      append([]string(nil), cfg.Users...),
		lastState:  StateDisconnected,
		live:       make(map[string]bool),
	}
}

// Frames returns the merged raw frame stream.
func (c *Client) Frames() <-chan event.RawFrame { return c.frames }

// States returns the connection-state signal.
func (c *Client) States() <-chan State { return c.states }

// Fatals surfaces unrecoverable transport errors. The client stays
// stopped after one; the process keeps running.
func (c *Client) Fatals() <-chan error { return c.fatals }

// Start opens a connection per configured channel. With no channels the
// client starts idle.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ctx, c.cancel = context.WithCancel(ctx)
	if len(c.cfg.Channels) == 0 {
		c.pushState(StateIdle)
		return
	}
	for _, ch := range c.cfg.Channels {
		c.startChannelLocked(ch)
	}
}

// Stop tears down every connection. Safe to call more than once.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	conns := make([]*channelConn, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	c.conns = make(map[string]*channelConn)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, conn := range conns {
		<-conn.done
	}
	c.pushState(StateDisconnected)
}

// UpdateSubscription renegotiates the channel/user selection at runtime.
// Connections for channels still selected with an unchanged user set are
// left untouched. At most one update may be in flight; a concurrent
// attempt fails fast with ErrUpdateInProgress.
func (c *Client) UpdateSubscription(channels, users []string) error {
	if !c.updating.CompareAndSwap(false, true) {
		return ErrUpdateInProgress
	}
	defer c.updating.Store(false)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx == nil {
		return ErrNotStarted
	}

	usersChanged := !equalStrings(c.users, users)
	c.users = append([]string(nil), users...)

	selected := make(map[string]bool, len(channels))
	for _, ch := range channels {
		selected[ch] = true
	}

	// Drop deselected channels; restart kept ones only when the user
	// set changed, so a stable selection keeps its stream.
	for name, conn := range c.conns {
		if selected[name] && !usersChanged {
			continue
		}
		conn.cancel()
		delete(c.conns, name)
	}

	for _, ch := range channels {
		if _, ok := c.conns[ch]; !ok {
			c.startChannelLocked(ch)
		}
	}

	if len(channels) == 0 {
		c.pushState(StateIdle)
	}

	return nil
}

func (c *Client) startChannelLocked(channel string) {
	ctx, cancel := context.WithCancel(c.ctx)
	conn := &channelConn{channel: channel, cancel: cancel, done: make(chan struct{})}
	c.conns[channel] = conn
	go c.runChannel(ctx, conn)
}

// runChannel keeps one channel's stream alive until its context is
// cancelled or the reconnect budget is exhausted without a single
// healthy session.
func (c *Client) runChannel(ctx context.Context, conn *channelConn) {
	defer close(conn.done)
	defer c.markDown(conn.channel)

	rc := c.cfg.Reconnect
	rc.Name = "crawler/" + conn.channel
	rc.Logger = c.logger
	rc.AbortOn = append(rc.AbortOn, ErrAuthFailed)
	policy := clients.NewReconnectPolicy(rc)

	quickDrops := 0
	for ctx.Err() == nil {
		hadHealthySession := false

		err := clients.RunWithReconnect(ctx, policy, func() error {
			session, serr := c.streamOnce(ctx, conn.channel)
			if serr == nil {
				return nil // clean stop
			}
			if session > 0 && session < quickDropWindow {
				quickDrops++
				if quickDrops >= quickDropFatalCnt {
					return fmt.Errorf("%w: %d immediate drops after handshake", ErrAuthFailed, quickDrops)
				}
			} else if session >= quickDropWindow {
				quickDrops = 0
				hadHealthySession = true
			}
			return serr
		})

		if err == nil || ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrAuthFailed) {
			c.surfaceFatal(conn.channel, err)
			return
		}
		if hadHealthySession {
			// The stream was live during this cycle; the failure run is
			// not consecutive from scratch, so the budget resets.
			continue
		}
		c.surfaceFatal(conn.channel, err)
		return
	}
}

// streamOnce performs one handshake + consume cycle. It returns how long
// the session was live (zero when the handshake itself failed) and the
// error that ended it; a nil error means the context was cancelled.
func (c *Client) streamOnce(ctx context.Context, channel string) (time.Duration, error) {
	c.markAttempting(channel)

	c.mu.Lock()
	users := append([]string(nil), c.users...)
	c.mu.Unlock()

	streamURL := BuildStreamURL(c.cfg.BaseURL, channel, c.cfg.Token, users)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "application/x-ndjson, text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil
		}
		return 0, fmt.Errorf("connect %s stream: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("%w: handshake returned %d", ErrAuthFailed, resp.StatusCode)
	}

	start := time.Now()
	c.markUp(channel)
	defer c.markDown(channel)

	err = c.consume(ctx, channel, resp.Body)
	session := time.Since(start)
	if ctx.Err() != nil {
		return session, nil
	}
	if err == nil {
		// Clean server-side close while we are still running counts as
		// a transport error so the reconnect policy kicks in.
		err = fmt.Errorf("%s stream closed by server", channel)
	}
	return session, err
}

func (c *Client) consume(ctx context.Context, channel string, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		// Tolerate SSE framing from older crawler builds.
		line = bytes.TrimPrefix(line, []byte("data:"))
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] != '{' {
			continue
		}

		frame, err := event.ParseFrame(line)
		if err != nil {
			c.logger.WithError(err).WithField("channel", channel).Debug("Skipping malformed frame")
			continue
		}

		select {
		case c.frames <- frame:
		case <-ctx.Done():
			return nil
		}
	}
	return scanner.Err()
}

func (c *Client) surfaceFatal(channel string, err error) {
	c.logger.WithError(err).WithField("channel", channel).Error("Upstream connection failed permanently")
	select {
	case c.fatals <- err:
	default:
	}
}

// Connection-state aggregation over the per-channel connections: any
// live connection means connected; attempts before the first success
// are connecting, afterwards reconnecting.

func (c *Client) markAttempting(channel string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.anyLiveLocked() {
		return
	}
	if c.everUp {
		c.pushStateLocked(StateReconnecting)
	} else {
		c.pushStateLocked(StateConnecting)
	}
}

func (c *Client) markUp(channel string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.live[channel] = true
	c.everUp = true
	c.pushStateLocked(StateConnected)
}

func (c *Client) markDown(channel string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	delete(c.live, channel)
	if !c.anyLiveLocked() && c.lastState == StateConnected {
		c.pushStateLocked(StateDisconnected)
	}
}

func (c *Client) anyLiveLocked() bool {
	return len(c.live) > 0
}

func (c *Client) pushState(s State) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.pushStateLocked(s)
}

func (c *Client) pushStateLocked(s State) {
	if s == c.lastState {
		return
	}
	c.lastState = s
	select {
	case c.states <- s:
	default:
		// Listener lagging; the newest state wins on the next push.
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
