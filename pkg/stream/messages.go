package stream

import (
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// Frame types sent by the client.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	typeError       = "error"
)

// Request is an outbound subscribe or unsubscribe frame.
type Request struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channel    string   `json:"channel"`
	JWT        string   `json:"jwt,omitempty"`
}

// Envelope holds the fields common to every inbound channel frame.
type Envelope struct {
	Channel     string `json:"channel"`
	ClientID    string `json:"client_id"`
	Timestamp   string `json:"timestamp"`
	SequenceNum int64  `json:"sequence_num"`
}

// Header returns the envelope itself. Every typed message embeds an Envelope,
// so this is how an Event exposes its common fields.
func (e Envelope) Header() Envelope {
	return e
}

// Event is a frame parsed into a channel's typed shape.
type Event interface {
	Header() Envelope
	// ProductIDs lists the products the frame carries updates for, in first-seen order.
	ProductIDs() []string
}

// Message is delivered to callbacks for every routed frame.
type Message struct {
	// Channel is the logical channel name the frame was routed to.
	Channel Channel
	Envelope
	// Event is the parsed frame. Its concrete type depends on Channel.
	Event Event
	// Raw is the frame as received.
	Raw []byte
}

// Counter decodes a number that the exchange sends either quoted or bare.
type Counter int64

// UnmarshalJSON implements json.Unmarshaler for Counter.
func (c *Counter) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*c = Counter(n)
	return nil
}

// HeartbeatsMessage is a frame of the heartbeats channel.
type HeartbeatsMessage struct {
	Envelope
	Events []HeartbeatEvent `json:"events"`
}

// HeartbeatEvent carries the exchange clock and a monotonically increasing counter.
type HeartbeatEvent struct {
	CurrentTime      string  `json:"current_time"`
	HeartbeatCounter Counter `json:"heartbeat_counter"`
}

// ProductIDs returns nil; heartbeats are not product scoped.
func (m *HeartbeatsMessage) ProductIDs() []string {
	return nil
}

// StatusMessage is a frame of the status channel.
type StatusMessage struct {
	Envelope
	Events []StatusEvent `json:"events"`
}

// StatusEvent lists product status changes.
type StatusEvent struct {
	Type     string          `json:"type"`
	Products []ProductStatus `json:"products"`
}

// ProductStatus describes the trading status of a product.
type ProductStatus struct {
	ProductType    string `json:"product_type"`
	ID             string `json:"id"`
	BaseCurrency   string `json:"base_currency"`
	QuoteCurrency  string `json:"quote_currency"`
	BaseIncrement  string `json:"base_increment"`
	QuoteIncrement string `json:"quote_increment"`
	DisplayName    string `json:"display_name"`
	Status         string `json:"status"`
	StatusMessage  string `json:"status_message"`
	MinMarketFunds string `json:"min_market_funds"`
}

// ProductIDs implements Event.
func (m *StatusMessage) ProductIDs() []string {
	var ids productSet
	for _, ev := range m.Events {
		for _, p := range ev.Products {
			ids.add(p.ID)
		}
	}
	return ids.list
}

// UserMessage is a frame of the authenticated user channel.
type UserMessage struct {
	Envelope
	Events []UserEvent `json:"events"`
}

// UserEvent carries order updates. The first event after subscribing is a snapshot.
type UserEvent struct {
	Type   string        `json:"type"`
	Orders []OrderUpdate `json:"orders"`
}

// OrderUpdate is the state of one of the user's orders.
type OrderUpdate struct {
	AvgPrice             string `json:"avg_price"`
	CancelReason         string `json:"cancel_reason"`
	ClientOrderID        string `json:"client_order_id"`
	CompletionPercentage string `json:"completion_percentage"`
	ContractExpiryType   string `json:"contract_expiry_type"`
	CumulativeQuantity   string `json:"cumulative_quantity"`
	FilledValue          string `json:"filled_value"`
	LeavesQuantity       string `json:"leaves_quantity"`
	LimitPrice           string `json:"limit_price"`
	NumberOfFills        string `json:"number_of_fills"`
	OrderID              string `json:"order_id"`
	OrderSide            string `json:"order_side"`
	OrderType            string `json:"order_type"`
	OutstandingHold      string `json:"outstanding_hold_amount"`
	PostOnly             string `json:"post_only"`
	ProductID            string `json:"product_id"`
	ProductType          string `json:"product_type"`
	RejectReason         string `json:"reject_reason"`
	RiskManagedBy        string `json:"risk_managed_by"`
	Status               string `json:"status"`
	StopPrice            string `json:"stop_price"`
	TimeInForce          string `json:"time_in_force"`
	TotalFees            string `json:"total_fees"`
	TotalValueAfterFees  string `json:"total_value_after_fees"`
	TriggerStatus        string `json:"trigger_status"`
	CreationTime         string `json:"creation_time"`
	EndTime              string `json:"end_time"`
	StartTime            string `json:"start_time"`
}

// ProductIDs implements Event.
func (m *UserMessage) ProductIDs() []string {
	var ids productSet
	for _, ev := range m.Events {
		for _, o := range ev.Orders {
			ids.add(o.ProductID)
		}
	}
	return ids.list
}

// SubscriptionsMessage acknowledges the set of live subscriptions.
type SubscriptionsMessage struct {
	Envelope
	Events []SubscriptionsEvent `json:"events"`
}

// SubscriptionsEvent maps channel names to product IDs.
type SubscriptionsEvent struct {
	Subscriptions map[string][]string `json:"subscriptions"`
}

// ProductIDs returns nil; acknowledgements are not routed by product.
func (m *SubscriptionsMessage) ProductIDs() []string {
	return nil
}

// probe peeks at the routing fields of an inbound frame. Rejections arrive as
// {"type":"error","message":"..."} without an envelope.
type probe struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Envelope
}

func decode[T any](data []byte) (*T, error) {
	v := new(T)
	if err := sonic.Unmarshal(data, v); err != nil {
		return nil, err
	}
	return v, nil
}

type productSet struct {
	list []string
	seen map[string]struct{}
}

func (s *productSet) add(id string) {
	if id == "" {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[id]; ok {
		return
	}
	s.seen[id] = struct{}{}
	s.list = append(s.list, id)
}
