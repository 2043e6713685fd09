package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"cbadv/internal/ws"
	"cbadv/pkg/auth"
	"cbadv/pkg/core"
)

// Client is the streaming entry point. It combines the connection manager,
// the subscription registry and the channel handlers.
type Client struct {
	config  *core.StreamConfig
	conn    *ws.Conn
	tokens  auth.TokenProvider
	logger  zerolog.Logger
	metrics *Metrics

	credential *auth.Credential
	registerer prometheus.Registerer

	// mu guards the registry and serializes frame sequences, including the
	// replay after a reconnect.
	mu       sync.Mutex
	registry *Registry

	cbMu      sync.RWMutex
	listeners []func(*Message)
	onError   func(error)

	lastSeq atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithCredential authenticates subscriptions with an API key.
func WithCredential(credential *auth.Credential) Option {
	return func(c *Client) {
		c.credential = credential
	}
}

// WithTokenProvider replaces the token provider built from the credential.
func WithTokenProvider(tokens auth.TokenProvider) Option {
	return func(c *Client) {
		c.tokens = tokens
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRegisterer registers the client's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.registerer = reg
	}
}

// NewClient creates a client. A nil config uses core.DefaultStreamConfig.
func NewClient(config *core.StreamConfig, opts ...Option) (*Client, error) {
	if config == nil {
		config = core.DefaultStreamConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, core.NewStreamError(core.ErrorTypeConfiguration, "invalid stream config", err)
	}

	c := &Client{
		config:   config,
		logger:   zerolog.Nop(),
		registry: NewRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.tokens == nil {
		signer, err := auth.NewSigner(c.credential)
		if err != nil {
			return nil, err
		}
		c.tokens = signer
	}
	c.metrics = NewMetrics(c.registerer)
	c.lastSeq.Store(-1)

	c.conn = ws.NewConn(ws.Config{
		URL:          config.URL,
		Reconnect:    config.Reconnect,
		DialTimeout:  config.DialTimeout,
		CloseTimeout: config.CloseTimeout,
		PingInterval: config.PingInterval,
		PongWait:     config.PongWait,
		UserAgent:    config.UserAgent,
	})
	c.conn.SetLogger(c.logger)
	c.conn.SetHeaderFunc(c.handshakeHeaders)
	c.conn.SetOpenHandler(c.handleOpen)
	c.conn.SetMessageHandler(c.handleFrame)
	c.conn.SetErrorHandler(c.handleConnError)

	return c, nil
}

// OnMessage adds a callback for every routed frame, subscription
// acknowledgements included. Callbacks run on the read goroutine and must not block.
func (c *Client) OnMessage(fn func(*Message)) {
	if fn == nil {
		return
	}
	c.cbMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.cbMu.Unlock()
}

// OnError sets the callback for errors raised off the call path: exchange
// error frames, an aborted reconnect and the terminal ConnectionClosedError.
func (c *Client) OnError(fn func(error)) {
	c.cbMu.Lock()
	c.onError = fn
	c.cbMu.Unlock()
}

// State returns the connection state.
func (c *Client) State() ConnState {
	return c.conn.State()
}

// ConnMetrics returns a snapshot of connection statistics.
func (c *Client) ConnMetrics() ws.MetricsSnapshot {
	return c.conn.Metrics()
}

// Authenticated reports whether a credential is configured.
func (c *Client) Authenticated() bool {
	return c.tokens != nil && c.tokens.Authenticated()
}

// Connect opens the socket at the base URL plus path. When the previous
// session was lost without Close, every registry entry is resubscribed in
// registry order before Connect returns.
func (c *Client) Connect(ctx context.Context, path string) error {
	return c.conn.Connect(ctx, path)
}

// Close closes the socket, stops every handler and clears the registry.
// Closing a closed client is a no-op.
func (c *Client) Close(ctx context.Context) error {
	err := c.conn.Close(ctx)
	c.clearRegistry()
	return err
}

func (c *Client) clearRegistry() {
	c.mu.Lock()
	removed := c.registry.Clear()
	c.metrics.subscriptions.Set(0)
	c.mu.Unlock()

	for _, sub := range removed {
		sub.Handler.stop()
	}
}

// Subscribe subscribes productIDs on each channel, one frame per channel in
// the given order. Every channel is validated before the first frame is sent.
// Subscribing a key that is already registered while open is a no-op.
func (c *Client) Subscribe(ctx context.Context, productIDs []string, channels []Channel) error {
	_, err := c.subscribe(ctx, productIDs, channels, nil)
	return err
}

func (c *Client) subscribe(ctx context.Context, productIDs []string, channels []Channel, listener func(*Message)) ([]*Handler, error) {
	descs, err := c.precheck(ctx, channels)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	handlers := make([]*Handler, 0, len(descs))
	for _, d := range descs {
		key := Key(d.Name, productIDs)
		if sub, ok := c.registry.Get(key); ok && c.conn.IsOpen() {
			c.logger.Debug().Str("key", key).Msg("already subscribed")
			sub.Handler.Listen(listener)
			handlers = append(handlers, sub.Handler)
			continue
		}

		h := NewHandler(d, c.conn, productIDs, c.tokens, c.config.BufferSize,
			WithHandlerLogger(c.logger),
			WithHandlerMetrics(c.metrics),
		)
		h.Listen(listener)
		if err := h.Subscribe(); err != nil {
			h.stop()
			return handlers, err
		}

		c.registry.Add(&Subscription{Key: key, Channel: d.Name, Handler: h})
		c.metrics.subscriptions.Set(float64(c.registry.Len()))
		c.logger.Info().
			Str("channel", string(d.Name)).
			Strs("products", h.ProductIDs()).
			Msg("subscribed")
		handlers = append(handlers, h)
	}
	return handlers, nil
}

// Unsubscribe sends one unsubscribe frame per channel and removes productIDs
// from the registry. Entries left without products are dropped.
func (c *Client) Unsubscribe(ctx context.Context, productIDs []string, channels []Channel) error {
	descs, err := c.precheck(ctx, channels)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, d := range descs {
		req, err := buildRequest(d, c.tokens, TypeUnsubscribe, normalizeProducts(productIDs))
		if err != nil {
			return err
		}
		if err := c.conn.SendJSON(req); err != nil {
			return err
		}
		c.metrics.framesSent.WithLabelValues(string(d.Name), TypeUnsubscribe).Inc()

		dropped, shrunk := c.registry.RemoveProducts(d.Name, productIDs)
		for _, sub := range dropped {
			sub.Handler.stop()
		}
		for _, sub := range shrunk {
			sub.Handler.dropBooks(productIDs)
		}
		c.metrics.subscriptions.Set(float64(c.registry.Len()))
		c.logger.Info().
			Str("channel", string(d.Name)).
			Strs("products", productIDs).
			Msg("unsubscribed")
	}
	return nil
}

// UnsubscribeAll unsubscribes every registry entry in registry order.
func (c *Client) UnsubscribeAll(ctx context.Context) error {
	if _, err := c.precheck(ctx, nil); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, sub := range c.registry.Entries() {
		if err := sub.Handler.Unsubscribe(); err != nil {
			errs = append(errs, err)
			continue
		}
		c.registry.Remove(sub.Key)
		sub.Handler.stop()
	}
	c.metrics.subscriptions.Set(float64(c.registry.Len()))
	return errors.Join(errs...)
}

// precheck surfaces a pending background fault, requires an open socket and
// resolves every channel before anything is sent.
func (c *Client) precheck(ctx context.Context, channels []Channel) ([]Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.conn.TakeFault(); err != nil {
		return nil, err
	}
	if !c.conn.IsOpen() {
		return nil, core.NewNotOpenError(c.conn.State().String())
	}

	descs := make([]Descriptor, 0, len(channels))
	for _, name := range channels {
		d, ok := Lookup(name)
		if !ok {
			return nil, core.NewInvalidChannelError(string(name))
		}
		if d.RequiresAuth && !c.Authenticated() {
			return nil, core.NewUnauthenticatedChannelError(string(name))
		}
		descs = append(descs, d)
	}
	return descs, nil
}

// Subscriptions returns the registry keys in registry order.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Keys()
}

// Handler returns the registered handler for a channel and product set.
func (c *Client) Handler(channel Channel, productIDs []string) (*Handler, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.registry.Get(Key(channel, productIDs))
	if !ok {
		return nil, false
	}
	return sub.Handler, true
}

// Book returns the local order book of a product from the first level2
// subscription that covers it.
func (c *Client) Book(productID string) (core.OrderBook, bool) {
	c.mu.Lock()
	subs := c.registry.ByChannel(ChannelLevel2)
	c.mu.Unlock()

	for _, sub := range subs {
		if book, ok := sub.Handler.Book(productID); ok {
			return book, true
		}
	}
	return core.OrderBook{}, false
}

func (c *Client) handshakeHeaders() (http.Header, error) {
	if !c.config.Authenticate {
		return nil, nil
	}
	if !c.Authenticated() {
		return nil, core.NewConfigurationError("credentials are required to authenticate the connection").
			WithCode(core.ErrCodeNoCredentials)
	}
	token, err := c.tokens.GenerateToken("", "")
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return header, nil
}

// handleOpen runs after every transition to Open. After a lost session it
// replays the registry in order.
func (c *Client) handleOpen(ctx context.Context, reconnected bool) error {
	c.lastSeq.Store(-1)
	if !reconnected {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.registry.Entries()
	for _, sub := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		sub.Handler.resetBook()
		if err := sub.Handler.Subscribe(); err != nil {
			c.logger.Error().Err(err).Str("key", sub.Key).Msg("resubscribe failed")
			return err
		}
		c.metrics.resubscribes.Inc()
	}
	if len(entries) > 0 {
		c.logger.Info().Int("subscriptions", len(entries)).Msg("resubscribed")
	}
	return nil
}

func (c *Client) handleConnError(err error) {
	if core.IsConnectionClosedError(err) {
		c.clearRegistry()
	}
	c.emitError(err)
}

func (c *Client) emitError(err error) {
	c.cbMu.RLock()
	fn := c.onError
	c.cbMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (c *Client) emit(msg *Message) {
	c.cbMu.RLock()
	listeners := c.listeners
	c.cbMu.RUnlock()
	for _, fn := range listeners {
		fn(msg)
	}
}

// handleFrame routes an inbound frame. It runs on the read goroutine.
func (c *Client) handleFrame(data []byte) {
	var p probe
	if err := sonic.Unmarshal(data, &p); err != nil {
		c.logger.Warn().Err(err).Msg("failed to decode frame")
		return
	}

	if p.Type == typeError {
		err := core.NewTransientSocketError(errors.New(p.Message)).WithCode(core.ErrCodeExchangeError)
		c.metrics.exchangeErrors.Inc()
		c.logger.Error().Str("message", p.Message).Msg("exchange error")
		c.conn.Fault(err)
		c.emitError(err)
		return
	}

	c.trackSequence(p.SequenceNum)

	if p.Channel == channelSubscriptions {
		ack, err := decode[SubscriptionsMessage](data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("failed to decode subscriptions frame")
			return
		}
		c.emit(&Message{Channel: Channel(channelSubscriptions), Envelope: ack.Envelope, Event: ack, Raw: data})
		return
	}

	name, ok := channelForWire(p.Channel)
	if !ok {
		c.logger.Debug().Str("channel", p.Channel).Msg("frame for unknown channel")
		return
	}
	desc := descriptors[name]
	ev, err := desc.parse(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to parse frame")
		return
	}

	msg := &Message{Channel: name, Envelope: ev.Header(), Event: ev, Raw: data}
	c.metrics.framesReceived.WithLabelValues(string(name)).Inc()
	c.emit(msg)

	products := ev.ProductIDs()
	c.mu.Lock()
	var targets []*Handler
	for _, sub := range c.registry.ByChannel(name) {
		if sub.Handler.matches(products) {
			targets = append(targets, sub.Handler)
		}
	}
	c.mu.Unlock()

	for _, h := range targets {
		h.deliver(msg)
	}
}

func (c *Client) trackSequence(seq int64) {
	prev := c.lastSeq.Swap(seq)
	if prev >= 0 && seq > prev+1 {
		c.metrics.sequenceGaps.Inc()
		c.logger.Warn().
			Int64("expected", prev+1).
			Int64("received", seq).
			Msg("sequence gap")
	}
}
