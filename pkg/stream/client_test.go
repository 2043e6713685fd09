package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cbadv/internal/wstest"
	"cbadv/pkg/auth"
	"cbadv/pkg/core"
)

type fakeTokens struct {
	n atomic.Int64
}

func (f *fakeTokens) GenerateToken(method, path string) (string, error) {
	return fmt.Sprintf("token-%d", f.n.Add(1)), nil
}

func (f *fakeTokens) Authenticated() bool { return true }

func testStreamConfig(url string) *core.StreamConfig {
	config := core.DefaultStreamConfig().
		WithURL(url).
		WithBufferSize(16).
		WithReconnect(core.ReconnectConfig{
			Enabled:     true,
			MaxAttempts: 3,
			BaseWait:    5 * time.Millisecond,
			Multiplier:  1.5,
		})
	config.CloseTimeout = time.Second
	config.DialTimeout = 2 * time.Second
	return config
}

func newTestClient(t *testing.T, server *wstest.Server, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(testStreamConfig(server.WSURL()), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func connectTestClient(t *testing.T, server *wstest.Server, opts ...Option) *Client {
	t.Helper()
	c := newTestClient(t, server, opts...)
	require.NoError(t, c.Connect(context.Background(), ""))
	return c
}

func decodeRequests(t *testing.T, frames []string) []Request {
	t.Helper()
	out := make([]Request, len(frames))
	for i, f := range frames {
		require.NoError(t, sonic.UnmarshalString(f, &out[i]))
	}
	return out
}

func tickerFor(product string, seq int64) string {
	return fmt.Sprintf(`{"channel":"ticker","client_id":"","timestamp":"2023-02-09T20:30:37Z","sequence_num":%d,"events":[{"type":"update","tickers":[{"type":"ticker","product_id":%q,"price":"100.5"}]}]}`, seq, product)
}

type collected[T any] struct {
	mu    sync.Mutex
	items []T
}

func (c *collected[T]) add(v T) {
	c.mu.Lock()
	c.items = append(c.items, v)
	c.mu.Unlock()
}

func (c *collected[T]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *collected[T]) get() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.items...)
}

func TestNewClient_InvalidConfig(t *testing.T) {
	config := core.DefaultStreamConfig().WithURL("")
	_, err := NewClient(config)
	assert.True(t, core.IsConfigurationError(err))
}

func TestNewClient_InvalidCredential(t *testing.T) {
	_, err := NewClient(nil, WithCredential(auth.NewCredential("organizations/o/apiKeys/k", "not a pem")))
	assert.True(t, core.IsErrorCode(err, core.ErrCodeInvalidKey))
}

func TestClient_SubscribeNotOpen(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := newTestClient(t, server)

	err := c.Subscribe(context.Background(), []string{"BTC-USD"}, []Channel{ChannelTicker})
	assert.True(t, core.IsNotOpenError(err))

	err = c.Unsubscribe(context.Background(), []string{"BTC-USD"}, []Channel{ChannelTicker})
	assert.True(t, core.IsNotOpenError(err))

	err = c.UnsubscribeAll(context.Background())
	assert.True(t, core.IsNotOpenError(err))
}

func TestClient_TickerScenario(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := connectTestClient(t, server)

	tickers := &collected[*TickerMessage]{}
	require.NoError(t, c.Ticker(context.Background(), []string{"BTC-USD"}, tickers.add))

	reqs := decodeRequests(t, server.WaitFrames(t, 1))
	assert.Equal(t, Request{Type: TypeSubscribe, ProductIDs: []string{"BTC-USD"}, Channel: "ticker"}, reqs[0])

	require.NoError(t, server.SendString(tickerFor("BTC-USD", 1)))
	require.Eventually(t, func() bool { return tickers.len() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"BTC-USD"}, tickers.get()[0].ProductIDs())

	require.NoError(t, c.TickerUnsubscribe(context.Background(), []string{"BTC-USD"}))
	reqs = decodeRequests(t, server.WaitFrames(t, 2))
	assert.Equal(t, TypeUnsubscribe, reqs[1].Type)
	assert.Empty(t, c.Subscriptions())

	require.NoError(t, server.SendString(tickerFor("BTC-USD", 2)))
	assert.Never(t, func() bool { return tickers.len() > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, StateClosed, c.State())
	server.WaitConnections(t, 0)

	subscribes := 0
	for _, r := range decodeRequests(t, server.Frames()) {
		if r.Type == TypeSubscribe {
			subscribes++
		}
	}
	assert.Equal(t, 1, subscribes)
	assert.Empty(t, c.Subscriptions())
}

func TestClient_UserWithoutCredentials(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := connectTestClient(t, server)

	err := c.Subscribe(context.Background(), []string{"BTC-USD"}, []Channel{ChannelUser})
	assert.True(t, core.IsUnauthenticatedChannelError(err))

	err = c.User(context.Background(), []string{"BTC-USD"}, nil)
	assert.True(t, core.IsUnauthenticatedChannelError(err))

	err = c.Unsubscribe(context.Background(), []string{"BTC-USD"}, []Channel{ChannelUser})
	assert.True(t, core.IsUnauthenticatedChannelError(err))

	assert.Never(t, func() bool { return len(server.Frames()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Empty(t, c.Subscriptions())
}

func TestClient_ChannelsValidatedBeforeSending(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := connectTestClient(t, server)

	err := c.Subscribe(context.Background(), []string{"BTC-USD"}, []Channel{ChannelTicker, ChannelUser})
	assert.True(t, core.IsUnauthenticatedChannelError(err))

	err = c.Subscribe(context.Background(), []string{"BTC-USD"}, []Channel{ChannelTicker, "orders"})
	assert.True(t, core.IsErrorCode(err, core.ErrCodeUnknownChannel))

	assert.Never(t, func() bool { return len(server.Frames()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestClient_SignedFrames(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := connectTestClient(t, server, WithTokenProvider(&fakeTokens{}))

	require.NoError(t, c.Subscribe(context.Background(), []string{"BTC-USD"}, []Channel{ChannelTicker, ChannelUser}))

	reqs := decodeRequests(t, server.WaitFrames(t, 2))
	assert.Equal(t, "ticker", reqs[0].Channel)
	assert.Equal(t, "user", reqs[1].Channel)
	assert.Equal(t, "token-1", reqs[0].JWT)
	assert.Equal(t, "token-2", reqs[1].JWT)
}

func TestClient_FramesFollowCallerChannelOrder(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := connectTestClient(t, server)

	channels := []Channel{ChannelHeartbeats, ChannelTicker, ChannelCandles, ChannelLevel2}
	require.NoError(t, c.Subscribe(context.Background(), []string{"ETH-USD", "BTC-USD"}, channels))

	reqs := decodeRequests(t, server.WaitFrames(t, 4))
	for i, ch := range channels {
		assert.Equal(t, string(ch), reqs[i].Channel)
		assert.Equal(t, TypeSubscribe, reqs[i].Type)
		assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, reqs[i].ProductIDs)
	}
	assert.Equal(t, []string{
		"heartbeats:BTC-USD,ETH-USD",
		"ticker:BTC-USD,ETH-USD",
		"candles:BTC-USD,ETH-USD",
		"level2:BTC-USD,ETH-USD",
	}, c.Subscriptions())
}

func TestClient_ResubscribeIdenticalKeyIsNoop(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := connectTestClient(t, server)

	require.NoError(t, c.Subscribe(context.Background(), []string{"BTC-USD", "ETH-USD"}, []Channel{ChannelTicker}))
	require.NoError(t, c.Subscribe(context.Background(), []string{"ETH-USD", "BTC-USD"}, []Channel{ChannelTicker}))

	server.WaitFrames(t, 1)
	assert.Never(t, func() bool { return len(server.Frames()) > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Len(t, c.Subscriptions(), 1)
}

// Overlapping but non-identical product sets are kept as independent entries;
// a superset does not merge into the existing subset entry.
func TestClient_OverlappingProductSetsAreIndependentEntries(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := connectTestClient(t, server)

	require.NoError(t, c.Subscribe(context.Background(), []string{"BTC-USD"}, []Channel{ChannelTicker}))
	require.NoError(t, c.Subscribe(context.Background(), []string{"BTC-USD", "ETH-USD"}, []Channel{ChannelTicker}))

	server.WaitFrames(t, 2)
	assert.Equal(t, []string{"ticker:BTC-USD", "ticker:BTC-USD,ETH-USD"}, c.Subscriptions())
}

func TestClient_SubscribeUnsubscribeRestoresRegistry(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := connectTestClient(t, server)

	require.NoError(t, c.Subscribe(context.Background(), []string{"SOL-USD"}, []Channel{ChannelCandles}))
	before := c.Subscriptions()

	pairs := []struct {
		products []string
		channel  Channel
	}{
		{[]string{"BTC-USD"}, ChannelTicker},
		{[]string{"BTC-USD", "ETH-USD"}, ChannelLevel2},
		{nil, ChannelHeartbeats},
		{[]string{"SOL-USD", "ADA-USD"}, ChannelCandles},
	}

	for _, p := range pairs {
		require.NoError(t, c.Subscribe(context.Background(), p.products, []Channel{p.channel}))
		require.NoError(t, c.Unsubscribe(context.Background(), p.products, []Channel{p.channel}))
		assert.Equal(t, before, c.Subscriptions(), "%s %v", p.channel, p.products)
	}
}

func TestClient_UnsubscribePartialProducts(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := connectTestClient(t, server)

	tickers := &collected[*TickerMessage]{}
	require.NoError(t, c.Ticker(context.Background(), []string{"BTC-USD", "ETH-USD"}, tickers.add))
	require.NoError(t, c.TickerUnsubscribe(context.Background(), []string{"ETH-USD"}))

	assert.Equal(t, []string{"ticker:BTC-USD"}, c.Subscriptions())
	reqs := decodeRequests(t, server.WaitFrames(t, 2))
	assert.Equal(t, Request{Type: TypeUnsubscribe, ProductIDs: []string{"ETH-USD"}, Channel: "ticker"}, reqs[1])

	require.NoError(t, server.SendString(tickerFor("ETH-USD", 1)))
	require.NoError(t, server.SendString(tickerFor("BTC-USD", 2)))
	require.Eventually(t, func() bool { return tickers.len() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"BTC-USD"}, tickers.get()[0].ProductIDs())
}

func TestClient_UnsubscribeAll(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := connectTestClient(t, server)

	require.NoError(t, c.Subscribe(context.Background(), []string{"BTC-USD"}, []Channel{ChannelTicker, ChannelCandles}))
	require.NoError(t, c.UnsubscribeAll(context.Background()))

	reqs := decodeRequests(t, server.WaitFrames(t, 4))
	assert.Equal(t, TypeUnsubscribe, reqs[2].Type)
	assert.Equal(t, "ticker", reqs[2].Channel)
	assert.Equal(t, TypeUnsubscribe, reqs[3].Type)
	assert.Equal(t, "candles", reqs[3].Channel)
	assert.Empty(t, c.Subscriptions())
}

func TestClient_RoutesByProduct(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := connectTestClient(t, server)

	btc := &collected[*TickerMessage]{}
	eth := &collected[*TickerMessage]{}
	all := &collected[*Message]{}
	c.OnMessage(all.add)

	require.NoError(t, c.Ticker(context.Background(), []string{"BTC-USD"}, btc.add))
	require.NoError(t, c.Ticker(context.Background(), []string{"ETH-USD"}, eth.add))
	server.WaitFrames(t, 2)

	require.NoError(t, server.SendString(tickerFor("ETH-USD", 1)))
	require.NoError(t, server.SendString(tickerFor("ETH-USD", 2)))
	require.NoError(t, server.SendString(tickerFor("BTC-USD", 3)))

	require.Eventually(t, func() bool {
		return btc.len() == 1 && eth.len() == 2 && all.len() == 3
	}, 5*time.Second, 5*time.Millisecond)

	ethMsgs := eth.get()
	assert.Equal(t, int64(1), ethMsgs[0].SequenceNum)
	assert.Equal(t, int64(2), ethMsgs[1].SequenceNum)
	assert.Equal(t, ChannelTicker, all.get()[0].Channel)
}

func TestClient_FramesWithoutProductsReachEveryHandler(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := connectTestClient(t, server)

	first := &collected[*HeartbeatsMessage]{}
	second := &collected[*HeartbeatsMessage]{}
	require.NoError(t, c.Heartbeats(context.Background(), []string{"BTC-USD"}, first.add))
	require.NoError(t, c.Heartbeats(context.Background(), []string{"ETH-USD"}, second.add))
	server.WaitFrames(t, 2)

	require.NoError(t, server.SendString(`{"channel":"heartbeats","sequence_num":1,"events":[{"current_time":"now","heartbeat_counter":1}]}`))

	require.Eventually(t, func() bool {
		return first.len() == 1 && second.len() == 1
	}, 5*time.Second, 5*time.Millisecond)
}

func TestClient_Level2Book(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := connectTestClient(t, server)

	updates := &collected[*Level2Message]{}
	require.NoError(t, c.Level2(context.Background(), []string{"BTC-USD"}, updates.add))
	reqs := decodeRequests(t, server.WaitFrames(t, 1))
	assert.Equal(t, "level2", reqs[0].Channel)

	require.NoError(t, server.SendString(`{"channel":"l2_data","sequence_num":1,"events":[{"type":"snapshot","product_id":"BTC-USD","updates":[
		{"side":"bid","price_level":"100","new_quantity":"1"},
		{"side":"bid","price_level":"99","new_quantity":"2"},
		{"side":"offer","price_level":"101","new_quantity":"3"}]}]}`))

	require.Eventually(t, func() bool { return updates.len() == 1 }, 5*time.Second, 5*time.Millisecond)

	book, ok := c.Book("BTC-USD")
	require.True(t, ok)
	require.Len(t, book.Bids, 2)
	assert.Equal(t, "100", book.Bids[0].Price.String())
	assert.Equal(t, "101", book.Asks[0].Price.String())

	_, ok = c.Book("ETH-USD")
	assert.False(t, ok)
}

func TestClient_PartialLevel2UnsubscribeDropsBooks(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := connectTestClient(t, server)

	updates := &collected[*Level2Message]{}
	require.NoError(t, c.Level2(context.Background(), []string{"BTC-USD", "ETH-USD"}, updates.add))
	server.WaitFrames(t, 1)

	require.NoError(t, server.SendString(`{"channel":"l2_data","sequence_num":1,"events":[
		{"type":"snapshot","product_id":"BTC-USD","updates":[{"side":"bid","price_level":"100","new_quantity":"1"}]},
		{"type":"snapshot","product_id":"ETH-USD","updates":[{"side":"bid","price_level":"10","new_quantity":"1"}]}]}`))
	require.Eventually(t, func() bool { return updates.len() == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Level2Unsubscribe(context.Background(), []string{"ETH-USD"}))
	assert.Equal(t, []string{"level2:BTC-USD"}, c.Subscriptions())

	_, ok := c.Book("ETH-USD")
	assert.False(t, ok)
	_, ok = c.Book("BTC-USD")
	assert.True(t, ok)
}

func TestClient_SubscriptionAcksReachOnMessage(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := connectTestClient(t, server)

	all := &collected[*Message]{}
	c.OnMessage(all.add)

	require.NoError(t, server.SendString(`{"channel":"subscriptions","sequence_num":0,"events":[{"subscriptions":{"ticker":["BTC-USD"]}}]}`))
	require.Eventually(t, func() bool { return all.len() == 1 }, 5*time.Second, 5*time.Millisecond)

	ack, ok := all.get()[0].Event.(*SubscriptionsMessage)
	require.True(t, ok)
	assert.Equal(t, []string{"BTC-USD"}, ack.Events[0].Subscriptions["ticker"])
}

func TestClient_ResubscribesAfterReconnect(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := connectTestClient(t, server)

	require.NoError(t, c.Subscribe(context.Background(), []string{"BTC-USD"}, []Channel{ChannelTicker}))
	require.NoError(t, c.Subscribe(context.Background(), []string{"ETH-USD"}, []Channel{ChannelLevel2, ChannelCandles}))
	server.WaitFrames(t, 3)

	for round := 1; round <= 2; round++ {
		server.ResetFrames()
		server.DropAll()

		reqs := decodeRequests(t, server.WaitFrames(t, 3))
		require.Eventually(t, func() bool { return c.State() == StateOpen }, 5*time.Second, 5*time.Millisecond)
		assert.Never(t, func() bool { return len(server.Frames()) > 3 }, 100*time.Millisecond, 10*time.Millisecond)

		assert.Equal(t, "ticker", reqs[0].Channel, "round %d", round)
		assert.Equal(t, "level2", reqs[1].Channel, "round %d", round)
		assert.Equal(t, "candles", reqs[2].Channel, "round %d", round)
		for _, r := range reqs {
			assert.Equal(t, TypeSubscribe, r.Type)
		}
	}

	assert.Equal(t, []string{"ticker:BTC-USD", "level2:ETH-USD", "candles:ETH-USD"}, c.Subscriptions())
	assert.Equal(t, int64(2), c.ConnMetrics().Reconnects)
	assert.Equal(t, float64(6), testutil.ToFloat64(c.metrics.resubscribes))
}

func TestClient_SocketFaultSurfacesOnNextCall(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()

	c, err := NewClient(testStreamConfig(server.WSURL()).WithRetry(false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	require.NoError(t, c.Connect(context.Background(), ""))

	server.DropAll()
	require.Eventually(t, func() bool { return c.State() == StateClosed }, 5*time.Second, 5*time.Millisecond)

	err = c.Subscribe(context.Background(), []string{"BTC-USD"}, []Channel{ChannelTicker})
	assert.True(t, core.IsTransientSocketError(err))

	err = c.Subscribe(context.Background(), []string{"BTC-USD"}, []Channel{ChannelTicker})
	assert.True(t, core.IsNotOpenError(err))
	assert.Empty(t, server.Frames())
}

func TestClient_ReconnectExhaustionIsTerminal(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := connectTestClient(t, server)

	errs := &collected[error]{}
	c.OnError(errs.add)

	tickers := &collected[*TickerMessage]{}
	require.NoError(t, c.Ticker(context.Background(), []string{"BTC-USD"}, tickers.add))
	server.WaitFrames(t, 1)

	server.RejectAll(true)
	server.DropAll()

	require.Eventually(t, func() bool {
		return c.State() == StateClosed && errs.len() == 1
	}, 5*time.Second, 5*time.Millisecond)

	assert.True(t, core.IsConnectionClosedError(errs.get()[0]))
	assert.Empty(t, c.Subscriptions())
	assert.Equal(t, 4, server.Dials())

	err := c.Subscribe(context.Background(), []string{"BTC-USD"}, []Channel{ChannelTicker})
	assert.True(t, core.IsConnectionClosedError(err))
	err = c.Subscribe(context.Background(), []string{"BTC-USD"}, []Channel{ChannelTicker})
	assert.True(t, core.IsNotOpenError(err))

	server.RejectAll(false)
	server.ResetFrames()
	require.NoError(t, c.Connect(context.Background(), ""))
	assert.Never(t, func() bool { return len(server.Frames()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestClient_ManualReconnectReplaysRegistry(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()

	config := testStreamConfig(server.WSURL()).WithRetry(false)
	c, err := NewClient(config)
	require.NoError(t, err)
	defer c.Close(context.Background())

	require.NoError(t, c.Connect(context.Background(), ""))
	require.NoError(t, c.Subscribe(context.Background(), []string{"BTC-USD"}, []Channel{ChannelTicker}))
	server.WaitFrames(t, 1)

	server.DropAll()
	require.Eventually(t, func() bool { return c.State() == StateClosed }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ticker:BTC-USD"}, c.Subscriptions())
	assert.Equal(t, 1, server.Dials())

	server.ResetFrames()
	require.NoError(t, c.Connect(context.Background(), ""))
	reqs := decodeRequests(t, server.WaitFrames(t, 1))
	assert.Equal(t, Request{Type: TypeSubscribe, ProductIDs: []string{"BTC-USD"}, Channel: "ticker"}, reqs[0])
}

func TestClient_CloseClearsRegistry(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := connectTestClient(t, server)

	require.NoError(t, c.Subscribe(context.Background(), []string{"BTC-USD"}, []Channel{ChannelTicker}))
	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))

	assert.Empty(t, c.Subscriptions())
	assert.Equal(t, StateClosed, c.State())

	server.ResetFrames()
	require.NoError(t, c.Connect(context.Background(), ""))
	assert.Never(t, func() bool { return len(server.Frames()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestClient_ExchangeErrorIsSurfacedOnce(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := connectTestClient(t, server)

	errs := &collected[error]{}
	c.OnError(errs.add)

	require.NoError(t, server.SendString(`{"type":"error","message":"failure to subscribe"}`))
	require.Eventually(t, func() bool { return errs.len() == 1 }, 5*time.Second, 5*time.Millisecond)

	err := c.Subscribe(context.Background(), []string{"BTC-USD"}, []Channel{ChannelTicker})
	assert.True(t, core.IsTransientSocketError(err))
	assert.True(t, core.IsErrorCode(err, core.ErrCodeExchangeError))
	assert.Contains(t, err.Error(), "failure to subscribe")

	require.NoError(t, c.Subscribe(context.Background(), []string{"BTC-USD"}, []Channel{ChannelTicker}))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.exchangeErrors))
}

func TestClient_SequenceGap(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := connectTestClient(t, server)

	all := &collected[*Message]{}
	c.OnMessage(all.add)

	for _, seq := range []int64{0, 1, 2, 5} {
		require.NoError(t, server.SendString(tickerFor("BTC-USD", seq)))
	}
	require.Eventually(t, func() bool { return all.len() == 4 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.sequenceGaps))
}

func TestClient_AuthenticateRequiresCredential(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()

	c, err := NewClient(testStreamConfig(server.WSURL()).WithAuthenticate(true))
	require.NoError(t, err)

	err = c.Connect(context.Background(), "")
	assert.True(t, core.IsConfigurationError(err))
	assert.Equal(t, 0, server.Dials())
}

func TestClient_AuthenticateSendsBearerToken(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()

	c, err := NewClient(testStreamConfig(server.WSURL()).WithAuthenticate(true), WithTokenProvider(&fakeTokens{}))
	require.NoError(t, err)
	defer c.Close(context.Background())

	require.NoError(t, c.Connect(context.Background(), ""))
	headers := server.Headers()
	require.Len(t, headers, 1)
	assert.Equal(t, "Bearer token-1", headers[0].Get("Authorization"))
}

func TestClient_RegistersMetrics(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()

	reg := prometheus.NewRegistry()
	c := connectTestClient(t, server, WithRegisterer(reg))

	require.NoError(t, c.Subscribe(context.Background(), []string{"BTC-USD"}, []Channel{ChannelTicker}))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.subscriptions))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.framesSent.WithLabelValues("ticker", TypeSubscribe)))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
