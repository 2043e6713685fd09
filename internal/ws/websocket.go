package ws

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/lxzan/gws"
	"github.com/rs/zerolog"

	"cbadv/pkg/core"
)

// Config holds configuration options for a websocket connection.
type Config struct {
	// URL is the base websocket endpoint. The path given to Connect is appended to it.
	URL       string
	Reconnect core.ReconnectConfig
	// DialTimeout bounds the handshake of a single attempt.
	DialTimeout time.Duration
	// CloseTimeout bounds the wait for the peer's close acknowledgement.
	CloseTimeout time.Duration
	// PingInterval is the duration between ping frames sent to keep the connection alive.
	PingInterval time.Duration
	// PongWait is the extra time allowed for traffic before the connection is considered dead.
	PongWait  time.Duration
	UserAgent string
}

// HeaderFunc returns the handshake headers for a dial. It is called once per attempt.
type HeaderFunc func() (http.Header, error)

// OpenFunc is called after every transition to Open, before Connect returns or a
// reconnect attempt is reported successful. reconnected is true when the Open
// follows an earlier session that was not explicitly closed.
type OpenFunc func(ctx context.Context, reconnected bool) error

// Conn owns a single physical socket, its state machine and the reconnect policy.
// Handlers must be set before the first Connect.
type Conn struct {
	config  Config
	state   *State
	logger  zerolog.Logger
	metrics *Metrics

	onMessage func([]byte)
	onOpen    OpenFunc
	onError   func(error)
	headers   HeaderFunc

	mu       sync.Mutex
	socket   *gws.Conn
	events   *socketEvents
	path     string
	session  bool
	stopCh   chan struct{}
	stopped  bool
	loopDone chan struct{}

	faults   chan error
	retrying bool
}

// socketEvents receives the gws callbacks of exactly one socket, so late events
// from a replaced socket can be told apart from the current one.
type socketEvents struct {
	conn     *Conn
	socket   *gws.Conn
	opened   chan struct{}
	done     chan struct{}
	detached atomic.Bool
	closeErr error
}

// NewConn creates a connection manager. Zero durations are replaced by defaults.
func NewConn(config Config) *Conn {
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.CloseTimeout == 0 {
		config.CloseTimeout = 5 * time.Second
	}
	if config.PingInterval == 0 {
		config.PingInterval = 10 * time.Second
	}
	if config.PongWait == 0 {
		config.PongWait = 20 * time.Second
	}
	if config.Reconnect.MaxAttempts == 0 {
		config.Reconnect.MaxAttempts = core.DefaultReconnectConfig().MaxAttempts
	}
	if config.Reconnect.Multiplier == 0 {
		config.Reconnect.Multiplier = core.DefaultReconnectConfig().Multiplier
	}

	c := &Conn{
		config:  config,
		state:   &State{},
		logger:  zerolog.Nop(),
		metrics: &Metrics{},
		stopCh:  make(chan struct{}),
		faults:  make(chan error, 1),
	}
	c.state.Store(StateDisconnected)
	return c
}

// SetLogger configures the logger for the connection.
func (c *Conn) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// SetMessageHandler sets the callback for inbound data frames. It runs on the
// read goroutine, so frames are delivered in socket order.
func (c *Conn) SetMessageHandler(fn func([]byte)) {
	c.onMessage = fn
}

// SetOpenHandler sets the hook run after every transition to Open.
func (c *Conn) SetOpenHandler(fn OpenFunc) {
	c.onOpen = fn
}

// SetErrorHandler sets the callback for errors raised off the call path, such as
// an aborted or exhausted reconnect.
func (c *Conn) SetErrorHandler(fn func(error)) {
	c.onError = fn
}

// SetHeaderFunc sets the handshake header source.
func (c *Conn) SetHeaderFunc(fn HeaderFunc) {
	c.headers = fn
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	return c.state.Load()
}

// IsOpen returns true if the websocket has an active connection.
func (c *Conn) IsOpen() bool {
	return c.state.Load() == StateOpen
}

// Metrics returns a snapshot of connection statistics.
func (c *Conn) Metrics() MetricsSnapshot {
	return c.metrics.snapshot()
}

// Connect dials URL+path and returns once the socket is Open. If an earlier
// session was lost without an explicit Close, the open handler is told to
// restore it before Connect returns. Connect starts a new session, so a
// fault still pending from the lost socket is discarded rather than returned.
func (c *Conn) Connect(ctx context.Context, path string) error {
	if c.state.Load() == StateOpen {
		return nil
	}
	if !c.state.CompareAndSwap(StateDisconnected, StateConnecting) &&
		!c.state.CompareAndSwap(StateClosed, StateConnecting) {
		current := c.state.Load()
		if current == StateOpen {
			return nil
		}
		return core.NewInvalidStateError("connect", current.String())
	}

	c.mu.Lock()
	if c.stopped {
		c.stopCh = make(chan struct{})
		c.stopped = false
	}
	c.path = path
	reconnected := c.session
	stop := c.stopCh
	c.mu.Unlock()

	if stale := c.drainFault(); stale != nil {
		c.logger.Debug().Err(stale).Msg("discarding stale socket fault")
	}

	if _, err := c.open(ctx, path, stop); err != nil {
		c.state.CompareAndSwap(StateConnecting, StateDisconnected)
		return err
	}
	if !c.state.CompareAndSwap(StateConnecting, StateOpen) {
		return core.NewInvalidStateError("connect", c.state.Load().String())
	}

	c.mu.Lock()
	c.session = true
	c.mu.Unlock()
	c.metrics.connects.Add(1)

	if c.onOpen != nil {
		if err := c.onOpen(ctx, reconnected); err != nil {
			return err
		}
	}
	return nil
}

// open dials a socket and waits until its read loop reports it open.
func (c *Conn) open(ctx context.Context, path string, stop <-chan struct{}) (*socketEvents, error) {
	header := http.Header{}
	if c.headers != nil {
		h, err := c.headers()
		if err != nil {
			return nil, err
		}
		if h != nil {
			header = h
		}
	}
	if c.config.UserAgent != "" && header.Get("User-Agent") == "" {
		header.Set("User-Agent", c.config.UserAgent)
	}

	events := &socketEvents{
		conn:   c,
		opened: make(chan struct{}),
		done:   make(chan struct{}),
	}

	socket, _, err := gws.NewClient(events, &gws.ClientOption{
		Addr:             c.config.URL + path,
		RequestHeader:    header,
		HandshakeTimeout: c.config.DialTimeout,
	})
	if err != nil {
		c.logger.Debug().Err(err).Str("url", c.config.URL+path).Msg("dial failed")
		return nil, core.NewTransientSocketError(err)
	}

	events.socket = socket
	c.mu.Lock()
	c.socket = socket
	c.events = events
	c.mu.Unlock()

	go socket.ReadLoop()

	timer := time.NewTimer(c.config.DialTimeout)
	defer timer.Stop()

	select {
	case <-events.opened:
	case <-events.done:
		return nil, core.NewTransientSocketError(events.closeErr)
	case <-ctx.Done():
		c.dropSocket(events)
		return nil, ctx.Err()
	case <-timer.C:
		c.dropSocket(events)
		return nil, core.NewTransientSocketError(errors.New("timed out waiting for open"))
	case <-stop:
		c.dropSocket(events)
		return nil, core.NewInvalidStateError("connect", "closing")
	}

	go c.keepalive(socket, events)

	c.logger.Info().
		Str("url", c.config.URL+path).
		Msg("websocket connected")
	return events, nil
}

func (c *Conn) dropSocket(events *socketEvents) {
	events.detached.Store(true)
	c.mu.Lock()
	if c.events == events {
		c.socket = nil
		c.events = nil
	}
	c.mu.Unlock()
	_ = events.socket.NetConn().Close()
}

func (c *Conn) keepalive(socket *gws.Conn, events *socketEvents) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-events.done:
			return
		case <-ticker.C:
			if err := socket.WritePing(nil); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// Close removes the socket listeners, performs the close handshake and
// releases the socket. Any running reconnect sequence is stopped. Closing an
// already closed connection is a no-op.
func (c *Conn) Close(ctx context.Context) error {
	for {
		current := c.state.Load()
		if current == StateClosed || current == StateClosing {
			return nil
		}
		if c.state.CompareAndSwap(current, StateClosing) {
			break
		}
	}

	c.mu.Lock()
	if !c.stopped {
		close(c.stopCh)
		c.stopped = true
	}
	socket, events := c.socket, c.events
	c.socket, c.events = nil, nil
	c.session = false
	loopDone := c.loopDone
	c.mu.Unlock()

	if socket != nil {
		events.detached.Store(true)
		_ = socket.WriteClose(1000, nil)

		timer := time.NewTimer(c.config.CloseTimeout)
		select {
		case <-events.done:
		case <-timer.C:
			c.logger.Warn().Msg("close acknowledgement timed out")
		case <-ctx.Done():
		}
		timer.Stop()
		_ = socket.NetConn().Close()
	}

	if loopDone != nil {
		select {
		case <-loopDone:
		case <-ctx.Done():
		}
	}

	c.drainFault()
	c.state.Store(StateClosed)
	c.logger.Info().Str("url", c.config.URL).Msg("websocket closed")
	return nil
}

// WriteMessage sends raw bytes as a text frame.
func (c *Conn) WriteMessage(data []byte) error {
	c.mu.Lock()
	socket := c.socket
	c.mu.Unlock()

	current := c.state.Load()
	if socket == nil || current != StateOpen {
		return core.NewNotOpenError(current.String())
	}
	if err := socket.WriteMessage(gws.OpcodeText, data); err != nil {
		return core.NewTransientSocketError(err)
	}
	c.metrics.framesOut.Add(1)
	return nil
}

// SendJSON marshals v and sends it as a text frame.
func (c *Conn) SendJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return core.NewStreamError(core.ErrorTypeUnknown, "marshal frame", err)
	}
	return c.WriteMessage(data)
}

// Fault records a background fault observed on the receive path. Only the
// first pending fault is kept. A pending fault aborts a reconnect backoff.
func (c *Conn) Fault(err error) {
	if err == nil {
		return
	}
	c.metrics.faults.Add(1)
	select {
	case c.faults <- err:
	default:
	}
}

// TakeFault returns and clears the pending background fault, or nil.
func (c *Conn) TakeFault() error {
	err := c.drainFault()
	if err == nil {
		return nil
	}
	var se *core.StreamError
	if errors.As(err, &se) {
		return err
	}
	return core.NewTransientSocketError(err)
}

func (c *Conn) drainFault() error {
	select {
	case err := <-c.faults:
		return err
	default:
		return nil
	}
}

func (c *Conn) replaceFault(err error) {
	c.drainFault()
	select {
	case c.faults <- err:
	default:
	}
}

func (c *Conn) handleClose(events *socketEvents, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events != events {
		return
	}
	c.socket = nil
	c.events = nil

	if c.retrying || c.state.Load() != StateOpen {
		// dial waiters and the reconnect loop observe events.done themselves
		return
	}

	c.logger.Warn().
		Err(err).
		Str("url", c.config.URL).
		Msg("websocket disconnected")

	if !c.config.Reconnect.Enabled {
		if abnormalClose(err) {
			c.Fault(core.NewTransientSocketError(err))
		}
		c.state.CompareAndSwap(StateOpen, StateClosed)
		return
	}
	c.startReconnectLocked()
}

const closeNormal = 1000

// abnormalClose reports whether a socket ended without a normal close frame.
func abnormalClose(err error) bool {
	var ce *gws.CloseError
	if errors.As(err, &ce) {
		return ce.Code != closeNormal
	}
	return err != nil
}

func (c *Conn) startReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startReconnectLocked()
}

// startReconnectLocked starts the reconnect loop unless one is running.
// c.mu must be held.
func (c *Conn) startReconnectLocked() {
	if c.retrying || c.stopped {
		return
	}
	if !c.state.CompareAndSwap(StateOpen, StateReconnecting) {
		return
	}
	c.retrying = true
	done := make(chan struct{})
	c.loopDone = done
	go c.reconnect(c.path, c.stopCh, done)
}

func (c *Conn) endRetry() {
	c.mu.Lock()
	c.retrying = false
	c.mu.Unlock()
}

// settle ends the loop after a successful attempt. It returns false when the
// new socket already closed while the open handler ran, in which case the
// loop carries on.
func (c *Conn) settle(events *socketEvents) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-events.done:
		if c.events == events {
			c.socket = nil
			c.events = nil
		}
		c.state.CompareAndSwap(StateOpen, StateReconnecting)
		return false
	default:
		c.retrying = false
		return true
	}
}

// reconnect runs the bounded reconnection protocol. Each failed attempt k is
// followed by a backoff of BaseWait * Multiplier^k that ends early on a
// pending fault or on Close.
func (c *Conn) reconnect(path string, stop <-chan struct{}, done chan struct{}) {
	defer close(done)

	policy := c.config.Reconnect
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		select {
		case <-stop:
			c.endRetry()
			return
		default:
		}

		c.metrics.reconnectAttempts.Add(1)
		c.logger.Info().
			Int("attempt", attempt).
			Int("max_attempts", policy.MaxAttempts).
			Msg("attempting reconnect")

		events, err := c.attempt(path, stop)
		if err == nil {
			if c.settle(events) {
				c.metrics.reconnects.Add(1)
				c.logger.Info().Int("attempt", attempt).Msg("reconnected successfully")
				return
			}
			err = core.NewTransientSocketError(events.closeErr)
		}

		lastErr = err
		c.logger.Error().Err(err).Int("attempt", attempt).Msg("reconnect failed")
		if attempt == policy.MaxAttempts {
			break
		}

		wait := c.calculateBackoff(attempt)
		c.logger.Info().Dur("wait", wait).Int("attempt", attempt).Msg("backing off")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case fault := <-c.faults:
			timer.Stop()
			c.abortReconnect(fault)
			return
		case <-stop:
			timer.Stop()
			c.endRetry()
			return
		}
	}

	c.exhaustReconnect(lastErr)
}

func (c *Conn) attempt(path string, stop <-chan struct{}) (*socketEvents, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	events, err := c.open(ctx, path, stop)
	if err != nil {
		return nil, err
	}
	if !c.state.CompareAndSwap(StateReconnecting, StateOpen) {
		return nil, core.NewInvalidStateError("reconnect", c.state.Load().String())
	}

	if c.onOpen != nil {
		if err := c.onOpen(ctx, true); err != nil {
			c.state.CompareAndSwap(StateOpen, StateReconnecting)
			c.dropSocket(events)
			return nil, err
		}
	}
	return events, nil
}

func (c *Conn) abortReconnect(fault error) {
	err := core.NewTransientSocketError(fault).WithCode(core.ErrCodeReconnectAbort)
	c.mu.Lock()
	c.state.CompareAndSwap(StateReconnecting, StateClosed)
	c.retrying = false
	c.mu.Unlock()
	c.replaceFault(err)

	c.logger.Error().Err(fault).Msg("reconnect aborted by socket fault")
	if c.onError != nil {
		c.onError(err)
	}
}

func (c *Conn) exhaustReconnect(lastErr error) {
	err := core.NewConnectionClosedError("max retry attempts reached", lastErr)
	c.mu.Lock()
	c.session = false
	c.state.CompareAndSwap(StateReconnecting, StateClosed)
	c.retrying = false
	c.mu.Unlock()
	c.replaceFault(err)

	c.logger.Error().Err(lastErr).Int("max_attempts", c.config.Reconnect.MaxAttempts).Msg("max reconnect attempts reached")
	if c.onError != nil {
		c.onError(err)
	}
}

func (c *Conn) calculateBackoff(attempt int) time.Duration {
	policy := c.config.Reconnect
	wait := time.Duration(float64(policy.BaseWait) * math.Pow(policy.Multiplier, float64(attempt)))
	if policy.MaxWait > 0 && wait > policy.MaxWait {
		return policy.MaxWait
	}
	return wait
}

func (e *socketEvents) deadline() time.Time {
	return time.Now().Add(e.conn.config.PingInterval + e.conn.config.PongWait)
}

func (e *socketEvents) OnOpen(socket *gws.Conn) {
	_ = socket.SetDeadline(e.deadline())
	close(e.opened)
}

func (e *socketEvents) OnClose(socket *gws.Conn, err error) {
	e.closeErr = err
	close(e.done)
	if e.detached.Load() {
		return
	}
	e.conn.handleClose(e, err)
}

func (e *socketEvents) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(e.deadline())
	_ = socket.WritePong(payload)
}

func (e *socketEvents) OnPong(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(e.deadline())
}

func (e *socketEvents) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	_ = socket.SetDeadline(e.deadline())

	if e.detached.Load() {
		return
	}
	payload := message.Bytes()
	if len(payload) == 0 {
		return
	}
	e.conn.metrics.framesIn.Add(1)

	// the message buffer is recycled on Close
	data := make([]byte, len(payload))
	copy(data, payload)

	if e.conn.onMessage != nil {
		e.conn.onMessage(data)
	}
}
