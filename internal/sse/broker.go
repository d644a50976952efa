// Package sse fans durable-storage change notifications out to clients
// over Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/starford/quire/internal/models"
)

// Event types sent on the stream.
const (
	EventInsert = "document.insert"
	EventUpdate = "document.update"
	EventDelete = "document.delete"
	// EventResync tells clients notifications were lost and the tree must
	// be refetched.
	EventResync = "feed.resync"
)

const keepAliveInterval = 15 * time.Second

// Event represents an SSE event to broadcast.
type Event struct {
	ID   string
	Type string
	Data any
}

// ChangeEventType maps a change type to its stream event type.
func ChangeEventType(t models.ChangeType) string {
	switch t {
	case models.ChangeInsert:
		return EventInsert
	case models.ChangeDelete:
		return EventDelete
	default:
		return EventUpdate
	}
}

// Broker manages SSE client connections and broadcasts events.
//
// A single goroutine owns the subscriber set and the resync throttle; public
// methods talk to it over channels. A stream that falls behind loses events
// but is sent feed.resync as soon as it has room again, so a client never
// silently misses a change.
type Broker struct {
	resyncMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	resyncCh      chan struct{}
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker with the given resync throttle interval.
func NewBroker(resyncThrottle time.Duration) *Broker {
	if resyncThrottle <= 0 {
		resyncThrottle = 2 * time.Second
	}

	b := &Broker{
		resyncMin:     resyncThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		resyncCh:      make(chan struct{}, 16),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

// subscriber is one stream. lagged is set when an event could not be
// queued; the stream is then owed a resync before anything else.
type subscriber struct {
	lagged bool
}

func frame(event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)
	if event.ID != "" {
		msg = "id: " + event.ID + "\n" + msg
	}
	return []byte(msg), nil
}

var resyncFrame, _ = frame(Event{Type: EventResync, Data: map[string]string{}})

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]*subscriber)
	var lastResync time.Time

	deliver := func(ch chan []byte, sub *subscriber, raw []byte) {
		if sub.lagged {
			select {
			case ch <- resyncFrame:
				sub.lagged = false
			default:
				return
			}
		}
		select {
		case ch <- raw:
		default:
			// Never block the loop on a slow stream. The dropped event is
			// covered by the resync it is owed.
			sub.lagged = true
		}
	}

	broadcast := func(event Event) {
		raw, err := frame(event)
		if err != nil {
			return
		}
		for ch, sub := range clients {
			deliver(ch, sub, raw)
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = &subscriber{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case <-b.resyncCh:
			now := time.Now()
			if now.Sub(lastResync) >= b.resyncMin {
				lastResync = now
				for ch, sub := range clients {
					sub.lagged = false
					deliver(ch, sub, resyncFrame)
				}
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishChange broadcasts one change notification, tagged with its
// sequence number.
func (b *Broker) PublishChange(n models.ChangeNotification) {
	b.Publish(Event{
		ID:   strconv.FormatInt(n.Seq, 10),
		Type: ChangeEventType(n.EventType),
		Data: n,
	})
}

// PublishResync asks clients to rehydrate. Calls within the throttle
// interval of the last resync are coalesced.
func (b *Broker) PublishResync() {
	if b.closed.Load() {
		return
	}
	select {
	case b.resyncCh <- struct{}{}:
	case <-b.stopped:
	default:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/changes).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
