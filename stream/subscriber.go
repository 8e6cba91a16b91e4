package stream

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
)

// Subscriber is one websocket client's view of the broker. Each delivered
// event spends a credit; with none left, events are counted as dropped
// until the client grants more.
type Subscriber struct {
	id       string
	tenantID string
	filter   func(*Event) bool

	// mu orders send against Close and guards topics.
	mu     sync.RWMutex
	ch     chan *Event
	closed bool
	topics map[string]struct{}

	credits atomic.Int64
	dropped atomic.Int64
}

// NewSubscriber buffers up to bufferSize undelivered events and starts
// with initialCredits.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{id: id, ch: make(chan *Event, bufferSize), topics: map[string]struct{}{}}
	s.credits.Store(initialCredits)
	return s
}

func (s *Subscriber) ID() string { return s.id }

// C yields delivered events until Close.
func (s *Subscriber) C() <-chan *Event { return s.ch }

func (s *Subscriber) AddCredits(n int64) { s.credits.Add(n) }

func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// Dropped counts events lost to exhausted credits or a full buffer.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// SetFilter must be called before the first Subscribe.
func (s *Subscriber) SetFilter(fn func(*Event) bool) { s.filter = fn }

// BindTenant limits delivery to tenantID's events. Fleet-wide events have
// no tenant and so never reach a bound subscriber.
func (s *Subscriber) BindTenant(tenantID string) { s.tenantID = tenantID }

// Topics lists the current subscriptions in name order.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.topics))
}

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[topic] = struct{}{}
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, topic)
}

func (s *Subscriber) accepts(evt *Event) bool {
	if s.tenantID != "" && evt.TenantID != s.tenantID {
		return false
	}
	return s.filter == nil || s.filter(evt)
}

// spend takes one credit, failing at zero.
func (s *Subscriber) spend() bool {
	for {
		n := s.credits.Load()
		if n <= 0 {
			return false
		}
		if s.credits.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// send never blocks. Events the subscriber does not accept return false
// and are not counted as dropped.
func (s *Subscriber) send(evt *Event) bool {
	if !s.accepts(evt) {
		return false
	}
	if !s.spend() {
		s.dropped.Add(1)
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		s.credits.Add(1)
		s.dropped.Add(1)
		return false
	}
}

// Close ends C. Later calls do nothing.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
