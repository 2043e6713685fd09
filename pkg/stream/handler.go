package stream

import (
	"sync"

	"github.com/rs/zerolog"

	"cbadv/pkg/auth"
	"cbadv/pkg/core"
)

// Sender writes a JSON frame to the socket.
type Sender interface {
	SendJSON(v any) error
}

// Handler owns one (channel, product set) subscription: it builds the
// subscribe and unsubscribe frames and delivers parsed frames to listeners in
// socket order.
type Handler struct {
	desc    Descriptor
	conn    Sender
	tokens  auth.TokenProvider
	logger  zerolog.Logger
	metrics *Metrics

	mu        sync.RWMutex
	products  []string
	set       map[string]struct{}
	listeners []func(*Message)

	book *Book

	queue    chan *Message
	done     chan struct{}
	finished chan struct{}
	stopOnce sync.Once
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the handler's logger.
func WithHandlerLogger(logger zerolog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithHandlerMetrics sets the handler's metrics.
func WithHandlerMetrics(m *Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler creates a handler for the channel described by desc and starts
// its delivery goroutine. tokens may be nil for public use. productIDs are
// normalized to a sorted set.
func NewHandler(desc Descriptor, conn Sender, productIDs []string, tokens auth.TokenProvider, bufferSize int, opts ...HandlerOption) *Handler {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	h := &Handler{
		desc:     desc,
		conn:     conn,
		tokens:   tokens,
		logger:   zerolog.Nop(),
		queue:    make(chan *Message, bufferSize),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(nil)
	}
	if desc.Name == ChannelLevel2 {
		h.book = NewBook()
	}
	h.setProducts(productIDs)

	go h.run()
	return h
}

// Channel returns the handler's channel.
func (h *Handler) Channel() Channel {
	return h.desc.Name
}

// ProductIDs returns the sorted product set.
func (h *Handler) ProductIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.products...)
}

// Key returns the registry key of the handler's current product set.
func (h *Handler) Key() string {
	return Key(h.desc.Name, h.ProductIDs())
}

func (h *Handler) setProducts(productIDs []string) {
	products := normalizeProducts(productIDs)
	set := make(map[string]struct{}, len(products))
	for _, id := range products {
		set[id] = struct{}{}
	}

	h.mu.Lock()
	h.products = products
	h.set = set
	h.mu.Unlock()
}

// Subscribe sends a subscribe frame for the handler's channel and products.
func (h *Handler) Subscribe() error {
	return h.send(TypeSubscribe, h.ProductIDs())
}

// Unsubscribe sends an unsubscribe frame for the handler's channel and products.
func (h *Handler) Unsubscribe() error {
	return h.send(TypeUnsubscribe, h.ProductIDs())
}

func (h *Handler) send(frameType string, productIDs []string) error {
	req, err := h.request(frameType, productIDs)
	if err != nil {
		return err
	}
	if err := h.conn.SendJSON(req); err != nil {
		return err
	}

	h.metrics.framesSent.WithLabelValues(string(h.desc.Name), frameType).Inc()
	h.logger.Debug().
		Str("type", frameType).
		Str("channel", string(h.desc.Name)).
		Strs("products", productIDs).
		Bool("signed", req.JWT != "").
		Msg("sent channel frame")
	return nil
}

func (h *Handler) request(frameType string, productIDs []string) (*Request, error) {
	return buildRequest(h.desc, h.tokens, frameType, productIDs)
}

// buildRequest builds a channel frame. A fresh token is attached whenever a
// credential is available; auth-only channels fail without one.
func buildRequest(desc Descriptor, tokens auth.TokenProvider, frameType string, productIDs []string) (*Request, error) {
	req := &Request{
		Type:       frameType,
		ProductIDs: productIDs,
		Channel:    string(desc.Name),
	}
	if req.ProductIDs == nil {
		req.ProductIDs = []string{}
	}

	if tokens == nil || !tokens.Authenticated() {
		if desc.RequiresAuth {
			return nil, core.NewUnauthenticatedChannelError(string(desc.Name))
		}
		return req, nil
	}

	token, err := tokens.GenerateToken("", "")
	if err != nil {
		if desc.RequiresAuth {
			return nil, core.NewUnauthenticatedChannelError(string(desc.Name))
		}
		return nil, err
	}
	req.JWT = token
	return req, nil
}

// Listen adds a callback for parsed frames of this subscription.
func (h *Handler) Listen(fn func(*Message)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

// Book returns the locally maintained order book of a level2 subscription.
func (h *Handler) Book(productID string) (core.OrderBook, bool) {
	if h.book == nil {
		return core.OrderBook{}, false
	}
	return h.book.Snapshot(productID)
}

// matches reports whether a frame for productIDs belongs to this handler.
// Frames without product IDs match every handler of the channel.
func (h *Handler) matches(productIDs []string) bool {
	if len(productIDs) == 0 {
		return true
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range productIDs {
		if _, ok := h.set[id]; ok {
			return true
		}
	}
	return false
}

// deliver enqueues without blocking the read loop. A full queue drops the frame.
func (h *Handler) deliver(msg *Message) {
	select {
	case <-h.done:
		return
	default:
	}

	select {
	case h.queue <- msg:
	default:
		h.metrics.framesDropped.WithLabelValues(string(h.desc.Name)).Inc()
		h.logger.Warn().
			Str("channel", string(h.desc.Name)).
			Int64("sequence", msg.SequenceNum).
			Msg("subscription queue full, dropping frame")
	}
}

func (h *Handler) run() {
	defer close(h.finished)
	for {
		select {
		case <-h.done:
			return
		case msg := <-h.queue:
			h.handle(msg)
		}
	}
}

func (h *Handler) handle(msg *Message) {
	if l2, ok := msg.Event.(*Level2Message); ok && h.book != nil {
		if err := h.book.Apply(l2); err != nil {
			h.logger.Warn().Err(err).Msg("failed to apply level2 frame")
		}
	}

	h.mu.RLock()
	listeners := h.listeners
	h.mu.RUnlock()

	for _, fn := range listeners {
		fn(msg)
	}
}

// resetBook discards local book state; the exchange sends a fresh snapshot
// after every subscribe.
func (h *Handler) resetBook() {
	if h.book != nil {
		h.book.Reset()
	}
}

// dropBooks discards the local books of products no longer subscribed.
func (h *Handler) dropBooks(productIDs []string) {
	if h.book != nil {
		h.book.Remove(productIDs...)
	}
}

// stop ends delivery. Queued frames are discarded.
func (h *Handler) stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}
