package core

import (
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Side represents the direction of a trade, order or book level.
type Side int

// Side constants.
const (
	// SideUnknown indicates the exchange sent a side this client does not recognize.
	SideUnknown Side = iota
	// SideBuy indicates the bid side.
	SideBuy
	// SideSell indicates the offer side.
	SideSell
)

// String returns the string representation of the side.
func (s Side) String() string {
	return [...]string{"UNKNOWN", "BUY", "SELL"}[s]
}

// MarshalJSON implements json.Marshaler for Side.
func (s Side) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// ParseSide converts the exchange's side strings. Book updates use "bid"/"offer",
// trades and orders use "BUY"/"SELL".
func ParseSide(s string) Side {
	switch strings.ToUpper(s) {
	case "BUY", "BID":
		return SideBuy
	case "SELL", "OFFER", "ASK":
		return SideSell
	default:
		return SideUnknown
	}
}

// Ticker represents real-time market data for a product.
type Ticker struct {
	ProductID string `json:"product_id"`
	// Price is the last traded price.
	Price apd.Decimal `json:"price"`
	// BestBid is the highest price a buyer is willing to pay.
	BestBid apd.Decimal `json:"best_bid"`
	// BestAsk is the lowest price a seller is willing to accept.
	BestAsk apd.Decimal `json:"best_ask"`
	High24h apd.Decimal `json:"high_24h"`
	Low24h  apd.Decimal `json:"low_24h"`
	// Volume24h is the traded base volume in the last 24 hours.
	Volume24h apd.Decimal `json:"volume_24h"`
	Timestamp time.Time   `json:"timestamp"`
}

// Trade represents a single public trade.
type Trade struct {
	ID        string      `json:"id"`
	ProductID string      `json:"product_id"`
	Side      Side        `json:"side"`
	Price     apd.Decimal `json:"price"`
	Size      apd.Decimal `json:"size"`
	Timestamp time.Time   `json:"timestamp"`
}

// Candle represents an OHLCV bucket.
type Candle struct {
	ProductID string      `json:"product_id"`
	Start     time.Time   `json:"start"`
	Open      apd.Decimal `json:"open"`
	High      apd.Decimal `json:"high"`
	Low       apd.Decimal `json:"low"`
	Close     apd.Decimal `json:"close"`
	Volume    apd.Decimal `json:"volume"`
}

// OrderBookLevel represents a single price level in the order book.
type OrderBookLevel struct {
	Price    apd.Decimal `json:"price"`
	Quantity apd.Decimal `json:"quantity"`
}

// OrderBook is a point-in-time copy of a locally maintained book.
type OrderBook struct {
	ProductID string `json:"product_id"`
	// Bids are sorted by price descending.
	Bids []OrderBookLevel `json:"bids"`
	// Asks are sorted by price ascending.
	Asks []OrderBookLevel `json:"asks"`
	// Sequence is the sequence number of the last frame applied.
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// ParseDecimal parses s into d. Empty strings leave d at zero.
func ParseDecimal(d *apd.Decimal, s string) error {
	if s == "" {
		d.SetInt64(0)
		return nil
	}
	_, _, err := d.SetString(s)
	return err
}

// ParseTime parses the RFC 3339 timestamps used in stream frames. Invalid or empty
// values yield the zero time.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
