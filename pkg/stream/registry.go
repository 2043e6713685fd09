package stream

import (
	"sort"
	"strings"
)

// Key returns the registry key of a subscription: the channel name, a colon and
// the sorted, comma-joined product IDs.
func Key(channel Channel, productIDs []string) string {
	return string(channel) + ":" + strings.Join(normalizeProducts(productIDs), ",")
}

// normalizeProducts returns a sorted copy without duplicates or empty IDs.
func normalizeProducts(productIDs []string) []string {
	out := make([]string, 0, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Subscription is a registry entry.
type Subscription struct {
	Key     string
	Channel Channel
	Handler *Handler
}

// ProductIDs returns the entry's sorted product set.
func (s *Subscription) ProductIDs() []string {
	return s.Handler.ProductIDs()
}

// Registry tracks the live subscriptions in insertion order. It is the single
// source of truth for what must be resubscribed after a reconnect. Registry is
// not safe for concurrent use; the owning client serializes access.
type Registry struct {
	entries []*Subscription
	byKey   map[string]*Subscription
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]*Subscription)}
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Get returns the entry for key.
func (r *Registry) Get(key string) (*Subscription, bool) {
	sub, ok := r.byKey[key]
	return sub, ok
}

// Add appends sub unless its key is already present. It reports whether sub was added.
func (r *Registry) Add(sub *Subscription) bool {
	if _, ok := r.byKey[sub.Key]; ok {
		return false
	}
	r.entries = append(r.entries, sub)
	r.byKey[sub.Key] = sub
	return true
}

// Remove drops the entry for key.
func (r *Registry) Remove(key string) (*Subscription, bool) {
	sub, ok := r.byKey[key]
	if !ok {
		return nil, false
	}
	delete(r.byKey, key)
	for i, e := range r.entries {
		if e == sub {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}
	return sub, true
}

// RemoveProducts removes productIDs from the channel's entries. An entry whose
// key matches exactly is dropped. Otherwise each entry of the channel loses the
// given products and is re-keyed; it is dropped when its product set becomes
// empty or its new key is already taken. It returns the dropped entries and
// the entries that were shrunk.
func (r *Registry) RemoveProducts(channel Channel, productIDs []string) (dropped, shrunk []*Subscription) {
	if sub, ok := r.Remove(Key(channel, productIDs)); ok {
		return []*Subscription{sub}, nil
	}

	remove := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		remove[id] = struct{}{}
	}

	for _, sub := range r.ByChannel(channel) {
		current := sub.ProductIDs()
		kept := make([]string, 0, len(current))
		for _, id := range current {
			if _, ok := remove[id]; !ok {
				kept = append(kept, id)
			}
		}
		if len(kept) == len(current) {
			continue
		}

		newKey := Key(channel, kept)
		if _, taken := r.byKey[newKey]; len(kept) == 0 || taken {
			r.Remove(sub.Key)
			dropped = append(dropped, sub)
			continue
		}

		delete(r.byKey, sub.Key)
		sub.Key = newKey
		sub.Handler.setProducts(kept)
		r.byKey[newKey] = sub
		shrunk = append(shrunk, sub)
	}
	return dropped, shrunk
}

// ByChannel returns the channel's entries in registry order.
func (r *Registry) ByChannel(channel Channel) []*Subscription {
	var out []*Subscription
	for _, sub := range r.entries {
		if sub.Channel == channel {
			out = append(out, sub)
		}
	}
	return out
}

// Entries returns every entry in registry order.
func (r *Registry) Entries() []*Subscription {
	return append([]*Subscription(nil), r.entries...)
}

// Keys returns every key in registry order.
func (r *Registry) Keys() []string {
	keys := make([]string, len(r.entries))
	for i, sub := range r.entries {
		keys[i] = sub.Key
	}
	return keys
}

// Clear empties the registry and returns the removed entries.
func (r *Registry) Clear() []*Subscription {
	removed := r.entries
	r.entries = nil
	r.byKey = make(map[string]*Subscription)
	return removed
}
