// Package jetstream maintains a persistent subscription to a Jetstream
// JSON event feed, surviving disconnects with capped backoff and handing
// events to a bounded per-actor worker pool.
package jetstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// HandlerFunc processes one inbound event. Returned errors are logged; they
// do not terminate the subscription.
type HandlerFunc func(ctx context.Context, evt *Event) error

type Config struct {
	// Endpoint is the subscription host, e.g. "wss://jetstream2.us-east.bsky.network".
	Endpoint string
	// Collection restricts the subscription to one record collection.
	Collection string
	// Parallelism is the worker pool size; MaxQueue bounds the dispatch queue.
	Parallelism int
	MaxQueue    int
	Policy      ReconnectPolicy
	// IdleTimeout tears the connection down when no frames arrive while
	// connected, forcing a re-dial. Zero disables the check.
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

// Consumer owns one upstream subscription and its lifecycle.
type Consumer struct {
	cfg     Config
	logger  *slog.Logger
	handler HandlerFunc

	loadCursor func(ctx context.Context) (int64, error)

	state   atomic.Int32
	started atomic.Bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	connLk sync.Mutex
	conn   *websocket.Conn

	progress *progress
	sched    *scheduler
}

func NewConsumer(cfg Config, loadCursor func(ctx context.Context) (int64, error), handler HandlerFunc) *Consumer {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 8
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = 1000
	}
	if cfg.Policy == (ReconnectPolicy{}) {
		cfg.Policy = DefaultReconnectPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "jetstream")

	c := &Consumer{
		cfg:        cfg,
		logger:     logger,
		handler:    handler,
		loadCursor: loadCursor,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		progress:   newProgress(),
	}
	c.sched = newScheduler(cfg.Parallelism, cfg.MaxQueue, logger, c.process)
	return c
}

// State returns the current connection state.
func (c *Consumer) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Connected is true only while the subscription is live. Periodic tasks
// (checkpointing) must consult it before acting.
func (c *Consumer) Connected() bool {
	return c.State() == StateConnected
}

// Cursor returns the checkpointable stream position: at or before the
// oldest event still being processed, and monotonic non-decreasing.
func (c *Consumer) Cursor() int64 {
	cur := c.progress.Cursor()
	lastCursorGauge.Set(float64(cur))
	return cur
}

func (c *Consumer) setState(s ConnectionState) {
	c.state.Store(int32(s))
	connectionState.Set(float64(s))
}

// Start opens the subscription at the previously stored cursor position and
// begins dispatching events. Idempotent. Configuration and authentication
// errors on the initial attempt fail fast; transient network failures move
// into the reconnect loop instead.
func (c *Consumer) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}
	c.setState(StateConnecting)

	cur, err := c.loadCursor(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("loading cursor: %w", err)
	}
	c.progress.seed(cur)

	conn, fatal, err := c.dial(ctx)
	if err != nil {
		if fatal {
			c.setState(StateDisconnected)
			return fmt.Errorf("subscribing to event feed: %w", err)
		}
		c.logger.Warn("initial connection failed, will retry", "err", err)
		c.setState(StateReconnecting)
	}

	go c.run(ctx, conn)
	return nil
}

// run owns the connection: read until failure, then re-dial with capped
// backoff. Retries reset once a connection has been held for ResetAfter.
func (c *Consumer) run(ctx context.Context, conn *websocket.Conn) {
	defer close(c.done)

	var retries int
	for {
		if conn == nil {
			delay := c.cfg.Policy.Backoff(retries)
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-time.After(delay):
			}
			retries++
			reconnects.Inc()

			var err error
			conn, _, err = c.dial(ctx)
			if err != nil {
				c.logger.Warn("dialing failed", "err", err, "retries", retries)
				conn = nil
				continue
			}
		}

		c.setConn(conn)
		c.setState(StateConnected)
		held := time.Now()

		err := c.readLoop(ctx, conn)

		conn.Close()
		c.setConn(nil)
		conn = nil

		if ctx.Err() != nil || c.stopping() {
			return
		}

		c.logger.Warn("event stream disconnected", "err", err)
		if time.Since(held) >= c.cfg.Policy.ResetAfter {
			retries = 0
		}
		c.setState(StateReconnecting)
	}
}

// dial connects to the subscription endpoint at the current cursor. The
// second return value reports whether the failure is fatal (configuration
// or authentication) rather than transient.
func (c *Consumer) dial(ctx context.Context) (*websocket.Conn, bool, error) {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return nil, true, fmt.Errorf("invalid feed endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, true, fmt.Errorf("unsupported feed endpoint scheme: %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/subscribe"
	}

	q := u.Query()
	if c.cfg.Collection != "" {
		q.Set("wantedCollections", c.cfg.Collection)
	}
	if cur := c.Cursor(); cur > 0 {
		q.Set("cursor", fmt.Sprintf("%d", cur))
	}
	u.RawQuery = q.Encode()

	c.logger.Info("connecting to event feed", "url", u.Redacted(), "state", c.State().String())

	dialer := websocket.DefaultDialer
	conn, resp, err := dialer.DialContext(ctx, u.String(), http.Header{
		"User-Agent": []string{fmt.Sprintf("sigil/%s", versioninfo.Short())},
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, true, fmt.Errorf("subscription rejected (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, false, err
	}

	c.logger.Info("connected to event feed")
	return conn, false, nil
}

// readLoop decodes frames and dispatches them until the connection fails or
// shutdown is requested. A malformed frame is dropped, not fatal.
func (c *Consumer) readLoop(ctx context.Context, conn *websocket.Conn) error {
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.keepalive(pingCtx, conn)

	conn.SetPongHandler(func(string) error {
		return c.extendDeadline(conn)
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return nil
		default:
		}

		if err := c.extendDeadline(conn); err != nil {
			return err
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			eventsMalformed.Inc()
			c.logger.Warn("dropping malformed frame", "err", err)
			continue
		}
		eventsReceived.WithLabelValues(evt.Kind).Inc()

		if evt.TimeUS <= 0 {
			eventsMalformed.Inc()
			c.logger.Warn("dropping frame without stream position", "kind", evt.Kind, "did", evt.Did)
			continue
		}

		c.progress.begin(evt.TimeUS)
		if err := c.sched.AddWork(ctx, evt.Did, &evt); err != nil {
			c.progress.end(evt.TimeUS)
			return err
		}
	}
}

func (c *Consumer) extendDeadline(conn *websocket.Conn) error {
	if c.cfg.IdleTimeout <= 0 {
		return nil
	}
	return conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
}

// keepalive pings the upstream on an interval so dead links are detected
// by the read deadline instead of hanging forever.
func (c *Consumer) keepalive(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(30 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				c.logger.Warn("failed to ping upstream", "err", err)
			}
		}
	}
}

// process runs in scheduler workers; it releases the progress slot whether
// or not the handler succeeds, so the cursor can advance past dropped events.
func (c *Consumer) process(ctx context.Context, evt *Event) error {
	defer c.progress.end(evt.TimeUS)
	if c.handler == nil {
		return nil
	}
	return c.handler(ctx, evt)
}

func (c *Consumer) setConn(conn *websocket.Conn) {
	c.connLk.Lock()
	c.conn = conn
	c.connLk.Unlock()
}

func (c *Consumer) closeConn() {
	c.connLk.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connLk.Unlock()
}

func (c *Consumer) stopping() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// Shutdown stops accepting new events, closes the subscription, and waits
// up to timeout for in-flight work to drain. Work still outstanding when
// the deadline elapses is abandoned; the consumer always ends Closed.
func (c *Consumer) Shutdown(timeout time.Duration) error {
	c.setState(StateShuttingDown)
	c.stopOnce.Do(func() { close(c.stop) })
	c.closeConn()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	if c.started.Load() {
		select {
		case <-c.done:
		case <-deadline.C:
			c.logger.Warn("shutdown deadline elapsed waiting for read loop")
			c.setState(StateClosed)
			return nil
		}
	}

	drained := make(chan struct{})
	go func() {
		c.sched.Shutdown()
		close(drained)
	}()
	select {
	case <-drained:
		c.logger.Info("event pipeline drained")
	case <-deadline.C:
		c.logger.Warn("shutdown deadline elapsed, abandoning in-flight work")
	}

	c.setState(StateClosed)
	return nil
}
