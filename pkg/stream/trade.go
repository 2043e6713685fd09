package stream

import (
	"fmt"
	"strconv"
	"time"

	"cbadv/pkg/core"
)

// MarketTradesMessage is a frame of the market_trades channel.
type MarketTradesMessage struct {
	Envelope
	Events []MarketTradesEvent `json:"events"`
}

// MarketTradesEvent groups the trades of one frame.
type MarketTradesEvent struct {
	Type   string        `json:"type"`
	Trades []TradeUpdate `json:"trades"`
}

// TradeUpdate is a single public trade.
type TradeUpdate struct {
	TradeID   string `json:"trade_id"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	Time      string `json:"time"`
}

// ProductIDs implements Event.
func (m *MarketTradesMessage) ProductIDs() []string {
	var ids productSet
	for _, ev := range m.Events {
		for _, t := range ev.Trades {
			ids.add(t.ProductID)
		}
	}
	return ids.list
}

// Trades normalizes every trade of the frame.
func (m *MarketTradesMessage) Trades() ([]core.Trade, error) {
	var out []core.Trade
	for _, ev := range m.Events {
		for _, u := range ev.Trades {
			t, err := u.Trade()
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// Trade converts the update into the decimal representation.
func (u TradeUpdate) Trade() (core.Trade, error) {
	t := core.Trade{
		ID:        u.TradeID,
		ProductID: u.ProductID,
		Side:      core.ParseSide(u.Side),
		Timestamp: core.ParseTime(u.Time),
	}
	if err := core.ParseDecimal(&t.Price, u.Price); err != nil {
		return t, fmt.Errorf("trade %s price: %w", u.TradeID, err)
	}
	if err := core.ParseDecimal(&t.Size, u.Size); err != nil {
		return t, fmt.Errorf("trade %s size: %w", u.TradeID, err)
	}
	return t, nil
}

// CandlesMessage is a frame of the candles channel.
type CandlesMessage struct {
	Envelope
	Events []CandlesEvent `json:"events"`
}

// CandlesEvent groups the candle updates of one frame.
type CandlesEvent struct {
	Type    string         `json:"type"`
	Candles []CandleUpdate `json:"candles"`
}

// CandleUpdate is a five minute bucket. Start is a unix timestamp in seconds.
type CandleUpdate struct {
	Start     string `json:"start"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Open      string `json:"open"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
	ProductID string `json:"product_id"`
}

// ProductIDs implements Event.
func (m *CandlesMessage) ProductIDs() []string {
	var ids productSet
	for _, ev := range m.Events {
		for _, c := range ev.Candles {
			ids.add(c.ProductID)
		}
	}
	return ids.list
}

// Candles normalizes every candle of the frame.
func (m *CandlesMessage) Candles() ([]core.Candle, error) {
	var out []core.Candle
	for _, ev := range m.Events {
		for _, u := range ev.Candles {
			c, err := u.Candle()
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// Candle converts the update into the decimal representation.
func (u CandleUpdate) Candle() (core.Candle, error) {
	c := core.Candle{ProductID: u.ProductID}
	if u.Start != "" {
		sec, err := strconv.ParseInt(u.Start, 10, 64)
		if err != nil {
			return c, fmt.Errorf("candle %s start: %w", u.ProductID, err)
		}
		c.Start = time.Unix(sec, 0).UTC()
	}

	if err := core.ParseDecimal(&c.Open, u.Open); err != nil {
		return c, fmt.Errorf("candle %s open: %w", u.ProductID, err)
	}
	if err := core.ParseDecimal(&c.High, u.High); err != nil {
		return c, fmt.Errorf("candle %s high: %w", u.ProductID, err)
	}
	if err := core.ParseDecimal(&c.Low, u.Low); err != nil {
		return c, fmt.Errorf("candle %s low: %w", u.ProductID, err)
	}
	if err := core.ParseDecimal(&c.Close, u.Close); err != nil {
		return c, fmt.Errorf("candle %s close: %w", u.ProductID, err)
	}
	if err := core.ParseDecimal(&c.Volume, u.Volume); err != nil {
		return c, fmt.Errorf("candle %s volume: %w", u.ProductID, err)
	}
	return c, nil
}
