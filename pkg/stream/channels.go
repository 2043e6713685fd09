package stream

import (
	"fmt"
)

// Channel is a named stream of one message type.
type Channel string

// Channels offered by the exchange.
const (
	ChannelHeartbeats   Channel = "heartbeats"
	ChannelCandles      Channel = "candles"
	ChannelMarketTrades Channel = "market_trades"
	ChannelStatus       Channel = "status"
	ChannelTicker       Channel = "ticker"
	ChannelTickerBatch  Channel = "ticker_batch"
	ChannelLevel2       Channel = "level2"
	ChannelUser         Channel = "user"

	// channelSubscriptions carries subscription acknowledgements.
	channelSubscriptions = "subscriptions"
)

// String returns the channel name.
func (c Channel) String() string {
	return string(c)
}

// ParseFunc decodes a raw frame into the channel's typed shape.
type ParseFunc func(data []byte) (Event, error)

// Descriptor is the per-channel strategy: how frames are parsed and whether the
// channel may only be used with a credential.
type Descriptor struct {
	Name Channel
	// Wire is the channel name inbound frames carry.
	Wire         string
	RequiresAuth bool
	Parse        ParseFunc
}

func parser[T any, P interface {
	*T
	Event
}]() ParseFunc {
	return func(data []byte) (Event, error) {
		v, err := decode[T](data)
		if err != nil {
			return nil, err
		}
		return P(v), nil
	}
}

var descriptors = map[Channel]Descriptor{
	ChannelHeartbeats: {
		Name:  ChannelHeartbeats,
		Wire:  "heartbeats",
		Parse: parser[HeartbeatsMessage](),
	},
	ChannelCandles: {
		Name:  ChannelCandles,
		Wire:  "candles",
		Parse: parser[CandlesMessage](),
	},
	ChannelMarketTrades: {
		Name:  ChannelMarketTrades,
		Wire:  "market_trades",
		Parse: parser[MarketTradesMessage](),
	},
	ChannelStatus: {
		Name:  ChannelStatus,
		Wire:  "status",
		Parse: parser[StatusMessage](),
	},
	ChannelTicker: {
		Name:  ChannelTicker,
		Wire:  "ticker",
		Parse: parser[TickerMessage](),
	},
	ChannelTickerBatch: {
		Name:  ChannelTickerBatch,
		Wire:  "ticker_batch",
		Parse: parser[TickerMessage](),
	},
	ChannelLevel2: {
		Name:  ChannelLevel2,
		Wire:  "l2_data",
		Parse: parser[Level2Message](),
	},
	ChannelUser: {
		Name:         ChannelUser,
		Wire:         "user",
		RequiresAuth: true,
		Parse:        parser[UserMessage](),
	},
}

var byWire = func() map[string]Channel {
	m := make(map[string]Channel, len(descriptors))
	for name, d := range descriptors {
		m[d.Wire] = name
	}
	return m
}()

// Lookup returns the descriptor for a channel name.
func Lookup(name Channel) (Descriptor, bool) {
	d, ok := descriptors[name]
	return d, ok
}

// Channels returns every known channel name.
func Channels() []Channel {
	return []Channel{
		ChannelHeartbeats,
		ChannelCandles,
		ChannelMarketTrades,
		ChannelStatus,
		ChannelTicker,
		ChannelTickerBatch,
		ChannelLevel2,
		ChannelUser,
	}
}

func channelForWire(wire string) (Channel, bool) {
	name, ok := byWire[wire]
	return name, ok
}

func (d Descriptor) parse(data []byte) (Event, error) {
	ev, err := d.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s frame: %w", d.Name, err)
	}
	return ev, nil
}
