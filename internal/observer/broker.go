package observer

import (
	"fmt"
	"strings"
	"sync"

	"fleetwatch/internal/model"
)

// Subscription selects the rendered alerts one consumer receives. Empty
// fields match everything.
type Subscription struct {
	Project string
	Worker  string
	// Kinds limits delivery to alerts whose type maps onto one of these
	// notify kinds, e.g. only errors for an on-call screen.
	Kinds []model.NotifyKind
}

// ParseSubscription builds a Subscription from user input. Kinds may be
// repeated or comma separated.
func ParseSubscription(project string, worker string, kinds []string) (Subscription, error) {
	sub := Subscription{Project: strings.TrimSpace(project), Worker: strings.TrimSpace(worker)}
	for _, value := range kinds {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			kind, ok := model.ParseNotifyKind(part)
			if !ok {
				return Subscription{}, fmt.Errorf("unknown alert kind %q", part)
			}
			sub.Kinds = append(sub.Kinds, kind)
		}
	}
	return sub, nil
}

func (s Subscription) wants(alert model.Alert) bool {
	if s.Project != "" && s.Project != alert.Project {
		return false
	}
	if s.Worker != "" && s.Worker != alert.Worker {
		return false
	}
	if len(s.Kinds) == 0 {
		return true
	}
	kind := alert.Type.Kind()
	for _, want := range s.Kinds {
		if want == kind {
			return true
		}
	}
	return false
}

type consumer struct {
	sub    Subscription
	events chan Event
}

// Broker fans observed alerts out to in-process consumers: the watch
// command and websocket streams. A consumer that falls behind loses its
// oldest event; the loss is counted, and Publish never blocks.
type Broker struct {
	mu        sync.Mutex
	closed    bool
	buffer    int
	dropped   int64
	consumers map[*consumer]struct{}
}

func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{buffer: buffer, consumers: map[*consumer]struct{}{}}
}

// Subscribe returns the event stream and a func that ends it. After Close
// the stream is returned already closed.
func (b *Broker) Subscribe(sub Subscription) (<-chan Event, func()) {
	sub.Project = strings.TrimSpace(sub.Project)
	sub.Worker = strings.TrimSpace(sub.Worker)
	c := &consumer{sub: sub, events: make(chan Event, b.buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(c.events)
		return c.events, func() {}
	}
	b.consumers[c] = struct{}{}
	return c.events, func() { b.remove(c) }
}

// Publish hands event to every matching consumer and reports how many got
// it. Sends are non-blocking, so holding the lock here is safe.
func (b *Broker) Publish(event Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	delivered := 0
	for c := range b.consumers {
		if !c.sub.wants(event.Alert) {
			continue
		}
		select {
		case c.events <- event:
		default:
			// The consumer may drain between the two selects. Only
			// Publish sends, so the second send always has room.
			select {
			case <-c.events:
				b.dropped++
			default:
			}
			c.events <- event
		}
		delivered++
	}
	return delivered
}

// Dropped counts events discarded because a consumer was full.
func (b *Broker) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for c := range b.consumers {
		close(c.events)
	}
	b.consumers = nil
}

func (b *Broker) remove(c *consumer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.consumers[c]; !ok {
		return
	}
	delete(b.consumers, c)
	close(c.events)
}
