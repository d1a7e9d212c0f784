// Package msgbus is a cooperative message bus. Point-to-point endpoints and
// pattern subscriptions deliver to handler coroutines, driven by a single
// Runner that resolves nested sends as child tasks.
package msgbus

import (
	"sort"
	"sync"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/pkg/exception"
)

// Subscription binds a topic pattern (or endpoint name) to a handler.
type Subscription struct {
	Pattern   string
	HandlerID string
	Priority  int
	Factory   HandlerFactory

	seq uint64
}

// Bus is the routing table. It is mutated by the runner goroutine and by
// setup code before the runner starts; reads are safe from any goroutine.
type Bus struct {
	name string

	mu        sync.RWMutex
	endpoints map[string]*Subscription
	subs      []*Subscription
	matches   map[string][]*Subscription
	seq       uint64
}

func NewBus(name string) *Bus {
	return &Bus{
		name:      name,
		endpoints: make(map[string]*Subscription),
		matches:   make(map[string][]*Subscription),
	}
}

func (b *Bus) Name() string { return b.name }

// Register binds endpoint to a handler for point-to-point sends.
func (b *Bus) Register(endpoint, handlerID string, factory HandlerFactory) error {
	if endpoint == "" {
		return exception.ErrBusEmptyTopic
	}
	if factory == nil {
		return errors.Wrapf(exception.ErrBusNilHandler, "endpoint %s", endpoint)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.endpoints[endpoint]; ok {
		return errors.Wrapf(exception.ErrBusEndpointExists, "endpoint %s", endpoint)
	}
	b.seq++
	b.endpoints[endpoint] = &Subscription{Pattern: endpoint, HandlerID: handlerID, Factory: factory, seq: b.seq}
	logs.Debugf("bus: %s register %s -> %s", b.name, endpoint, handlerID)
	return nil
}

func (b *Bus) Deregister(endpoint string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.endpoints[endpoint]; !ok {
		return errors.Wrapf(exception.ErrBusEndpointMissing, "endpoint %s", endpoint)
	}
	delete(b.endpoints, endpoint)
	logs.Debugf("bus: %s deregister %s", b.name, endpoint)
	return nil
}

// Endpoint returns the handler registered for endpoint.
func (b *Bus) Endpoint(endpoint string) (*Subscription, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.endpoints[endpoint]
	return s, ok
}

// Endpoints lists registered endpoint names in order.
func (b *Bus) Endpoints() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.endpoints))
	for name := range b.endpoints {
		out = append(out, name)
	}
	b.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Subscribe adds a pattern subscription. A second subscription with the
// same pattern and handler id is ignored and reported as false.
func (b *Bus) Subscribe(pattern, handlerID string, factory HandlerFactory, priority int) (bool, error) {
	if pattern == "" {
		return false, exception.ErrBusEmptyTopic
	}
	if factory == nil {
		return false, errors.Wrapf(exception.ErrBusNilHandler, "pattern %s", pattern)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.Pattern == pattern && s.HandlerID == handlerID {
			logs.Warnf("bus: %s duplicate subscription %s by %s", b.name, pattern, handlerID)
			return false, nil
		}
	}
	b.seq++
	b.subs = append(b.subs, &Subscription{Pattern: pattern, HandlerID: handlerID, Priority: priority, Factory: factory, seq: b.seq})
	sort.SliceStable(b.subs, func(i, j int) bool {
		if b.subs[i].Priority != b.subs[j].Priority {
			return b.subs[i].Priority > b.subs[j].Priority
		}
		return b.subs[i].seq < b.subs[j].seq
	})
	clear(b.matches)
	return true, nil
}

// Unsubscribe removes the subscription of handlerID to pattern.
func (b *Bus) Unsubscribe(pattern, handlerID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.Pattern == pattern && s.HandlerID == handlerID {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			clear(b.matches)
			return true
		}
	}
	return false
}

// Subscriptions returns the subscriptions matching topic in delivery order.
// The slice is shared and must not be modified.
func (b *Bus) Subscriptions(topic string) []*Subscription {
	b.mu.RLock()
	subs, ok := b.matches[topic]
	b.mu.RUnlock()
	if ok {
		return subs
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.matches[topic]; ok {
		return subs
	}
	subs = nil
	for _, s := range b.subs {
		if IsMatching(topic, s.Pattern) {
			subs = append(subs, s)
		}
	}
	b.matches[topic] = subs
	return subs
}

// HasSubscribers reports whether a publish to topic reaches anyone.
func (b *Bus) HasSubscribers(topic string) bool {
	return len(b.Subscriptions(topic)) > 0
}

// Patterns lists subscribed patterns with their handler ids.
func (b *Bus) Patterns() map[string][]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string][]string)
	for _, s := range b.subs {
		out[s.Pattern] = append(out[s.Pattern], s.HandlerID)
	}
	return out
}
