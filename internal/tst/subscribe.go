package tst

import "sync"

// DefaultSubscriptionBuffer is the channel capacity used when Subscribe is
// given a non-positive buffer size.
const DefaultSubscriptionBuffer = 16

// Event is one change notification.
type Event struct {
	Handle Handle
	Column Column
	Value  any
}

type subKey struct {
	h   Handle
	col Column
}

// Subscription is a change stream for one (handle, column) pair. Delivery is
// non-blocking: events are dropped while the buffer is full.
type Subscription struct {
	tree   *Tree
	key    subKey
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// Subscribe opens a change stream for col on h. The stream is closed when
// the entity is removed or Close is called.
func (t *Tree) Subscribe(h Handle, col Column, buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.at(h) == nil {
		return nil, ErrUnresolved
	}
	s := &Subscription{tree: t, key: subKey{h, col}, ch: make(chan Event, buffer)}
	t.subs[s.key] = append(t.subs[s.key], s)
	return s, nil
}

// Events returns the receive side of the stream.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unsubscribes and closes the channel. It is safe to call repeatedly.
func (s *Subscription) Close() {
	t := s.tree
	t.mu.Lock()
	defer t.mu.Unlock()
	subs := t.subs[s.key]
	for i, x := range subs {
		if x == s {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(t.subs, s.key)
	} else {
		t.subs[s.key] = subs
	}
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *Subscription) send(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
	}
}

type delivery struct {
	sub *Subscription
	ev  Event
}

type events []delivery

// collect gathers deliveries for a change. Callers hold t.mu and deliver
// after releasing it.
func (t *Tree) collect(h Handle, col Column, value any) events {
	subs := t.subs[subKey{h, col}]
	if len(subs) == 0 {
		return nil
	}
	out := make(events, len(subs))
	for i, s := range subs {
		out[i] = delivery{sub: s, ev: Event{Handle: h, Column: col, Value: value}}
	}
	return out
}

func (evs events) deliver() {
	for _, d := range evs {
		d.sub.send(d.ev)
	}
}
