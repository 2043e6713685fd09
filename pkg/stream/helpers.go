package stream

import "context"

func subscribeTyped[T Event](ctx context.Context, c *Client, channel Channel, productIDs []string, fn func(T)) error {
	var listener func(*Message)
	if fn != nil {
		listener = func(m *Message) {
			if ev, ok := m.Event.(T); ok {
				fn(ev)
			}
		}
	}
	_, err := c.subscribe(ctx, productIDs, []Channel{channel}, listener)
	return err
}

func (c *Client) unsubscribeOne(ctx context.Context, channel Channel, productIDs []string) error {
	return c.Unsubscribe(ctx, productIDs, []Channel{channel})
}

// Heartbeats subscribes to the heartbeats channel.
func (c *Client) Heartbeats(ctx context.Context, productIDs []string, fn func(*HeartbeatsMessage)) error {
	return subscribeTyped(ctx, c, ChannelHeartbeats, productIDs, fn)
}

// HeartbeatsUnsubscribe unsubscribes from the heartbeats channel.
func (c *Client) HeartbeatsUnsubscribe(ctx context.Context, productIDs []string) error {
	return c.unsubscribeOne(ctx, ChannelHeartbeats, productIDs)
}

// Candles subscribes to five minute candles.
func (c *Client) Candles(ctx context.Context, productIDs []string, fn func(*CandlesMessage)) error {
	return subscribeTyped(ctx, c, ChannelCandles, productIDs, fn)
}

// CandlesUnsubscribe unsubscribes from the candles channel.
func (c *Client) CandlesUnsubscribe(ctx context.Context, productIDs []string) error {
	return c.unsubscribeOne(ctx, ChannelCandles, productIDs)
}

// MarketTrades subscribes to public trades.
func (c *Client) MarketTrades(ctx context.Context, productIDs []string, fn func(*MarketTradesMessage)) error {
	return subscribeTyped(ctx, c, ChannelMarketTrades, productIDs, fn)
}

// MarketTradesUnsubscribe unsubscribes from the market_trades channel.
func (c *Client) MarketTradesUnsubscribe(ctx context.Context, productIDs []string) error {
	return c.unsubscribeOne(ctx, ChannelMarketTrades, productIDs)
}

// Status subscribes to product status updates.
func (c *Client) Status(ctx context.Context, productIDs []string, fn func(*StatusMessage)) error {
	return subscribeTyped(ctx, c, ChannelStatus, productIDs, fn)
}

// StatusUnsubscribe unsubscribes from the status channel.
func (c *Client) StatusUnsubscribe(ctx context.Context, productIDs []string) error {
	return c.unsubscribeOne(ctx, ChannelStatus, productIDs)
}

// Ticker subscribes to real-time price updates.
func (c *Client) Ticker(ctx context.Context, productIDs []string, fn func(*TickerMessage)) error {
	return subscribeTyped(ctx, c, ChannelTicker, productIDs, fn)
}

// TickerUnsubscribe unsubscribes from the ticker channel.
func (c *Client) TickerUnsubscribe(ctx context.Context, productIDs []string) error {
	return c.unsubscribeOne(ctx, ChannelTicker, productIDs)
}

// TickerBatch subscribes to batched price updates.
func (c *Client) TickerBatch(ctx context.Context, productIDs []string, fn func(*TickerMessage)) error {
	return subscribeTyped(ctx, c, ChannelTickerBatch, productIDs, fn)
}

// TickerBatchUnsubscribe unsubscribes from the ticker_batch channel.
func (c *Client) TickerBatchUnsubscribe(ctx context.Context, productIDs []string) error {
	return c.unsubscribeOne(ctx, ChannelTickerBatch, productIDs)
}

// Level2 subscribes to order book updates and maintains a local book, see Book.
func (c *Client) Level2(ctx context.Context, productIDs []string, fn func(*Level2Message)) error {
	return subscribeTyped(ctx, c, ChannelLevel2, productIDs, fn)
}

// Level2Unsubscribe unsubscribes from the level2 channel.
func (c *Client) Level2Unsubscribe(ctx context.Context, productIDs []string) error {
	return c.unsubscribeOne(ctx, ChannelLevel2, productIDs)
}

// User subscribes to the authenticated order updates channel.
func (c *Client) User(ctx context.Context, productIDs []string, fn func(*UserMessage)) error {
	return subscribeTyped(ctx, c, ChannelUser, productIDs, fn)
}

// UserUnsubscribe unsubscribes from the user channel.
func (c *Client) UserUnsubscribe(ctx context.Context, productIDs []string) error {
	return c.unsubscribeOne(ctx, ChannelUser, productIDs)
}
