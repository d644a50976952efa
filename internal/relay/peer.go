package relay

import (
	"sync"

	"github.com/starford/quire/internal/wire"
)

// Peer is one relay connection. Frames are queued on two lanes: the
// ordered lane carries deltas and presence, the cursor lane carries
// cursor moves. A full ordered lane evicts the peer since a skipped
// delta would silently diverge its model; a full cursor lane drops.
type Peer struct {
	id      string
	ordered chan wire.Frame
	cursor  chan wire.Frame

	evictOnce sync.Once
	evicted   chan struct{}
}

// NewPeer creates a peer with the given lane capacities.
func NewPeer(id string, orderedBuffer, cursorBuffer int) *Peer {
	if orderedBuffer <= 0 {
		orderedBuffer = 256
	}
	if cursorBuffer <= 0 {
		cursorBuffer = 32
	}
	return &Peer{
		id:      id,
		ordered: make(chan wire.Frame, orderedBuffer),
		cursor:  make(chan wire.Frame, cursorBuffer),
		evicted: make(chan struct{}),
	}
}

// ID returns the connection id.
func (p *Peer) ID() string { return p.id }

// Send queues f without blocking.
func (p *Peer) Send(f wire.Frame) bool {
	select {
	case <-p.evicted:
		return false
	default:
	}

	if f.Event == wire.EventReceiveCursorMove {
		select {
		case p.cursor <- f:
			return true
		default:
			return false
		}
	}

	select {
	case p.ordered <- f:
		return true
	default:
		p.Evict()
		return false
	}
}

// Evict marks the peer as gone. Its writer stops and closes the socket.
func (p *Peer) Evict() {
	p.evictOnce.Do(func() { close(p.evicted) })
}

// Evicted is closed once the peer has been evicted.
func (p *Peer) Evicted() <-chan struct{} { return p.evicted }

// Next returns the next frame to write, preferring the ordered lane so
// cursor churn cannot delay content. It returns false once the peer is
// evicted or done is closed.
func (p *Peer) Next(done <-chan struct{}) (wire.Frame, bool) {
	select {
	case f := <-p.ordered:
		return f, true
	default:
	}
	select {
	case f := <-p.ordered:
		return f, true
	case f := <-p.cursor:
		return f, true
	case <-p.evicted:
		return wire.Frame{}, false
	case <-done:
		return wire.Frame{}, false
	}
}
