package stream

import (
	"fmt"

	"cbadv/pkg/core"
)

// TickerMessage is a frame of the ticker or ticker_batch channel. Both channels
// share one payload shape; ticker_batch is throttled to one frame per interval.
type TickerMessage struct {
	Envelope
	Events []TickerEvent `json:"events"`
}

// TickerEvent groups ticker updates of one frame.
type TickerEvent struct {
	Type    string         `json:"type"`
	Tickers []TickerUpdate `json:"tickers"`
}

// TickerUpdate is the latest price data for a product.
type TickerUpdate struct {
	Type               string `json:"type"`
	ProductID          string `json:"product_id"`
	Price              string `json:"price"`
	Volume24h          string `json:"volume_24_h"`
	Low24h             string `json:"low_24_h"`
	High24h            string `json:"high_24_h"`
	Low52w             string `json:"low_52_w"`
	High52w            string `json:"high_52_w"`
	PricePercentChg24h string `json:"price_percent_chg_24_h"`
	BestBid            string `json:"best_bid"`
	BestBidQuantity    string `json:"best_bid_quantity"`
	BestAsk            string `json:"best_ask"`
	BestAskQuantity    string `json:"best_ask_quantity"`
}

// ProductIDs implements Event.
func (m *TickerMessage) ProductIDs() []string {
	var ids productSet
	for _, ev := range m.Events {
		for _, t := range ev.Tickers {
			ids.add(t.ProductID)
		}
	}
	return ids.list
}

// Tickers normalizes every update of the frame, stamped with the frame timestamp.
func (m *TickerMessage) Tickers() ([]core.Ticker, error) {
	ts := core.ParseTime(m.Timestamp)
	var out []core.Ticker
	for _, ev := range m.Events {
		for _, u := range ev.Tickers {
			t, err := u.Ticker()
			if err != nil {
				return nil, err
			}
			t.Timestamp = ts
			out = append(out, t)
		}
	}
	return out, nil
}

// Ticker converts the update into the decimal representation.
func (u TickerUpdate) Ticker() (core.Ticker, error) {
	t := core.Ticker{ProductID: u.ProductID}
	if err := core.ParseDecimal(&t.Price, u.Price); err != nil {
		return t, fmt.Errorf("ticker %s price: %w", u.ProductID, err)
	}
	if err := core.ParseDecimal(&t.BestBid, u.BestBid); err != nil {
		return t, fmt.Errorf("ticker %s best_bid: %w", u.ProductID, err)
	}
	if err := core.ParseDecimal(&t.BestAsk, u.BestAsk); err != nil {
		return t, fmt.Errorf("ticker %s best_ask: %w", u.ProductID, err)
	}
	if err := core.ParseDecimal(&t.High24h, u.High24h); err != nil {
		return t, fmt.Errorf("ticker %s high_24_h: %w", u.ProductID, err)
	}
	if err := core.ParseDecimal(&t.Low24h, u.Low24h); err != nil {
		return t, fmt.Errorf("ticker %s low_24_h: %w", u.ProductID, err)
	}
	if err := core.ParseDecimal(&t.Volume24h, u.Volume24h); err != nil {
		return t, fmt.Errorf("ticker %s volume_24_h: %w", u.ProductID, err)
	}
	return t, nil
}
