package stream

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/apd/v3"

	"cbadv/pkg/core"
)

// Level2Message is a frame of the level2 channel, delivered on the wire as l2_data.
type Level2Message struct {
	Envelope
	Events []Level2Event `json:"events"`
}

// Level2Event is either a full snapshot or an incremental update for one product.
type Level2Event struct {
	Type      string         `json:"type"`
	ProductID string         `json:"product_id"`
	Updates   []Level2Update `json:"updates"`
}

// Level2Update sets the quantity at a price level. A zero quantity removes the level.
type Level2Update struct {
	Side        string `json:"side"`
	EventTime   string `json:"event_time"`
	PriceLevel  string `json:"price_level"`
	NewQuantity string `json:"new_quantity"`
}

// ProductIDs implements Event.
func (m *Level2Message) ProductIDs() []string {
	var ids productSet
	for _, ev := range m.Events {
		ids.add(ev.ProductID)
	}
	return ids.list
}

type bookLevel struct {
	price    apd.Decimal
	quantity apd.Decimal
}

type productBook struct {
	bids     map[string]*bookLevel
	asks     map[string]*bookLevel
	sequence int64
	updated  time.Time
}

func newProductBook() *productBook {
	return &productBook{
		bids: make(map[string]*bookLevel),
		asks: make(map[string]*bookLevel),
	}
}

// Book maintains local order books from level2 frames.
type Book struct {
	mu    sync.RWMutex
	books map[string]*productBook
}

// NewBook creates an empty book set.
func NewBook() *Book {
	return &Book{books: make(map[string]*productBook)}
}

// Apply folds a level2 frame into the books. A snapshot event replaces the
// product's book. Every update is parsed before any book changes, so a frame
// with a bad level leaves the books untouched.
func (b *Book) Apply(m *Level2Message) error {
	changes := make([][]levelChange, len(m.Events))
	for i, ev := range m.Events {
		changes[i] = make([]levelChange, 0, len(ev.Updates))
		for _, u := range ev.Updates {
			ch, err := parseUpdate(u)
			if err != nil {
				return fmt.Errorf("level2 %s: %w", ev.ProductID, err)
			}
			changes[i] = append(changes[i], ch)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	updated := core.ParseTime(m.Timestamp)
	for i, ev := range m.Events {
		pb, ok := b.books[ev.ProductID]
		if !ok || ev.Type == "snapshot" {
			pb = newProductBook()
			b.books[ev.ProductID] = pb
		}
		for _, ch := range changes[i] {
			pb.apply(ch)
		}
		pb.sequence = m.SequenceNum
		pb.updated = updated
	}
	return nil
}

type levelChange struct {
	bid   bool
	key   string
	level *bookLevel
}

func parseUpdate(u Level2Update) (levelChange, error) {
	var ch levelChange
	switch core.ParseSide(u.Side) {
	case core.SideBuy:
		ch.bid = true
	case core.SideSell:
	default:
		return ch, fmt.Errorf("unknown side %q", u.Side)
	}

	lvl := &bookLevel{}
	if err := core.ParseDecimal(&lvl.price, u.PriceLevel); err != nil {
		return ch, fmt.Errorf("price %q: %w", u.PriceLevel, err)
	}
	if err := core.ParseDecimal(&lvl.quantity, u.NewQuantity); err != nil {
		return ch, fmt.Errorf("quantity %q: %w", u.NewQuantity, err)
	}

	var key apd.Decimal
	key.Reduce(&lvl.price)
	ch.key = key.String()
	ch.level = lvl
	return ch, nil
}

// apply sets one level. A zero quantity removes it.
func (pb *productBook) apply(ch levelChange) {
	side := pb.asks
	if ch.bid {
		side = pb.bids
	}
	if ch.level.quantity.IsZero() {
		delete(side, ch.key)
		return
	}
	side[ch.key] = ch.level
}

// Snapshot returns a sorted copy of the product's book.
func (b *Book) Snapshot(productID string) (core.OrderBook, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pb, ok := b.books[productID]
	if !ok {
		return core.OrderBook{}, false
	}

	book := core.OrderBook{
		ProductID: productID,
		Bids:      sortedLevels(pb.bids, true),
		Asks:      sortedLevels(pb.asks, false),
		Sequence:  pb.sequence,
		Timestamp: pb.updated,
	}
	return book, true
}

// Remove drops the books of the given products.
func (b *Book) Remove(productIDs ...string) {
	b.mu.Lock()
	for _, id := range productIDs {
		delete(b.books, id)
	}
	b.mu.Unlock()
}

// Reset drops every book. Books are rebuilt from the snapshot sent after a resubscribe.
func (b *Book) Reset() {
	b.mu.Lock()
	b.books = make(map[string]*productBook)
	b.mu.Unlock()
}

func sortedLevels(levels map[string]*bookLevel, descending bool) []core.OrderBookLevel {
	out := make([]core.OrderBookLevel, 0, len(levels))
	for _, lvl := range levels {
		var l core.OrderBookLevel
		l.Price.Set(&lvl.price)
		l.Quantity.Set(&lvl.quantity)
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		c := out[i].Price.Cmp(&out[j].Price)
		if descending {
			return c > 0
		}
		return c < 0
	})
	return out
}

// Spread returns best ask minus best bid. ok is false when either side is empty.
func Spread(book *core.OrderBook) (spread apd.Decimal, ok bool) {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return spread, false
	}
	if _, err := apd.BaseContext.Sub(&spread, &book.Asks[0].Price, &book.Bids[0].Price); err != nil {
		return spread, false
	}
	return spread, true
}
