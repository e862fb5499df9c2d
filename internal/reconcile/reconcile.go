// Package reconcile merges chat messages that arrive over two independent
// at-least-once paths, the relay fan-out and the durable store's insert feed,
// into one duplicate-free list per channel.
//
// Rules, applied to every incoming message:
//
//  1. An incoming id equal to an entry's id (or to the durable id an entry has
//     already absorbed) is a duplicate.
//  2. Otherwise a copy from the other path with the same sender, body and room
//     that has not been paired yet is a duplicate; the two are paired. Entries
//     that came from a history fetch are only ever matched by id.
//  3. Otherwise the message is appended.
//
// The first copy to arrive always wins and keeps its position.
package reconcile

import "time"

// Message is one entry of a reconciled list.
type Message struct {
	ID        string
	RoomID    string // empty for the global channel
	UserID    string
	Username  string
	Content   string
	Type      string
	CreatedAt time.Time

	// Persisted is true for copies that came from the durable store (history,
	// insert feed or the save call) and false for relay-only copies.
	Persisted bool

	// ConfirmedID is the durable id absorbed by a relay-only entry.
	ConfirmedID string

	paired bool
	// backfilled entries came from a history fetch.
	backfilled bool
}

// Merge returns the list after applying incoming and whether incoming was
// appended. The input slice is never modified; always use the returned one.
func Merge(list []Message, incoming Message) ([]Message, bool) {
	if incoming.ID != "" {
		for i, e := range list {
			if e.ID != incoming.ID && e.ConfirmedID != incoming.ID {
				continue
			}
			if e.Persisted != incoming.Persisted && !e.paired {
				out := clone(list, 0)
				out[i].paired = true
				return out, false
			}
			return list, false
		}
	}

	for i, e := range list {
		if e.paired || e.backfilled || e.Persisted == incoming.Persisted || !sameMessage(e, incoming) {
			continue
		}
		out := clone(list, 0)
		out[i].paired = true
		if incoming.Persisted {
			out[i].ConfirmedID = incoming.ID
		}
		return out, false
	}

	out := clone(list, 1)
	return append(out, incoming), true
}

func sameMessage(a, b Message) bool {
	return a.UserID == b.UserID && a.Content == b.Content && a.RoomID == b.RoomID
}

func clone(list []Message, extra int) []Message {
	out := make([]Message, len(list), len(list)+extra)
	copy(out, list)
	return out
}

// List holds the reconciled messages of one channel. It is not safe for
// concurrent use.
type List struct {
	items []Message
}

// NewList seeds a list from a history fetch, oldest first.
func NewList(history []Message) *List {
	l := &List{}
	l.Backfill(history)
	return l
}

// Backfill merges a history fetch and returns how many entries were added.
// Entries already present are recognised by id.
func (l *List) Backfill(history []Message) int {
	added := 0
	for _, m := range history {
		m.Persisted = true
		m.backfilled = true
		if l.Apply(m) {
			added++
		}
	}
	return added
}

// Apply merges one message and reports whether it was added.
func (l *List) Apply(m Message) bool {
	var added bool
	l.items, added = Merge(l.items, m)
	return added
}

// Messages returns a copy of the current entries.
func (l *List) Messages() []Message {
	return clone(l.items, 0)
}

// Len returns the number of entries.
func (l *List) Len() int {
	return len(l.items)
}
