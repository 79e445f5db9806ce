// Package relay fans the coordinator's outbound traffic out to debug
// subscribers over server-sent events.
package relay

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/overlay_agent/internal/overlay"
)

const subscriberBufSize = 256

// Feed names. Traffic targets are "tab" or "port:<port name>".
const (
	FeedTab  = "tab"
	FeedPort = "port"
)

var knownFeeds = []string{FeedTab, FeedPort}

// Event is one SSE frame, tagged with its feed.
type Event struct {
	Feed    string
	Payload string
}

// Broker fans out events to all subscribed SSE clients.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
	dropped     atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Event),
	}
}

// Subscribe registers a new client. The channel is buffered; slow consumers
// have events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish implements overlay.EventSink. Traffic events carry commands and
// counts only, never payloads.
func (b *Broker) Publish(evt overlay.TrafficEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		slog.Debug("relay: marshal traffic event", "error", err)
		return
	}
	feed, _, _ := strings.Cut(evt.Target, ":")
	b.send(Event{Feed: feed, Payload: string(payload)})
}

func (b *Broker) send(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped reports how many events slow subscribers missed.
func (b *Broker) Dropped() int64 { return b.dropped.Load() }
