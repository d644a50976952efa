// Package relay fans out edit deltas and cursor moves to the peers of a
// document room. It holds no document state and keeps no log: a peer that
// misses a frame only recovers through a durable reload.
package relay

import (
	"log/slog"
	"sync/atomic"

	"github.com/starford/quire/internal/wire"
)

type reqKind int

const (
	reqJoin reqKind = iota
	reqLeave
	reqDisconnect
	reqBroadcast
	reqRoomSize
)

type request struct {
	kind       reqKind
	documentID string
	peer       *Peer
	frame      wire.Frame
	resp       chan int
}

// Hub owns the room membership. A single event loop mutates rooms, so
// frames submitted by one connection reach every peer in submit order.
type Hub struct {
	logger *slog.Logger

	reqCh   chan request
	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewHub starts the hub loop.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		logger:  logger,
		reqCh:   make(chan request, 1024),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.stopped)

	rooms := make(map[string]map[*Peer]struct{})

	leave := func(documentID string, p *Peer) {
		room, ok := rooms[documentID]
		if !ok {
			return
		}
		delete(room, p)
		if len(room) == 0 {
			delete(rooms, documentID)
		}
	}

	for {
		select {
		case <-h.stopCh:
			for _, room := range rooms {
				for p := range room {
					p.Evict()
				}
			}
			return

		case req := <-h.reqCh:
			switch req.kind {
			case reqJoin:
				room, ok := rooms[req.documentID]
				if !ok {
					room = make(map[*Peer]struct{})
					rooms[req.documentID] = room
				}
				room[req.peer] = struct{}{}

			case reqLeave:
				leave(req.documentID, req.peer)

			case reqDisconnect:
				for documentID := range rooms {
					leave(documentID, req.peer)
				}

			case reqBroadcast:
				for p := range rooms[req.documentID] {
					if p == req.peer {
						continue
					}
					if !p.Send(req.frame) && req.frame.Event != wire.EventReceiveCursorMove {
						h.logger.Warn("relay: peer evicted",
							slog.String("peer", p.ID()),
							slog.String("document", req.documentID))
						for documentID := range rooms {
							leave(documentID, p)
						}
					}
				}

			case reqRoomSize:
				req.resp <- len(rooms[req.documentID])
			}
		}
	}
}

func (h *Hub) submit(req request) bool {
	if h.closed.Load() {
		return false
	}
	select {
	case h.reqCh <- req:
		return true
	case <-h.stopped:
		return false
	}
}

// Join adds p to the room of documentID. Joining twice is a no-op.
func (h *Hub) Join(documentID string, p *Peer) {
	h.submit(request{kind: reqJoin, documentID: documentID, peer: p})
}

// Leave removes p from one room.
func (h *Hub) Leave(documentID string, p *Peer) {
	h.submit(request{kind: reqLeave, documentID: documentID, peer: p})
}

// Disconnect removes p from every room.
func (h *Hub) Disconnect(p *Peer) {
	h.submit(request{kind: reqDisconnect, peer: p})
}

// BroadcastDelta relays a send-changes frame as receive-changes to every
// room member except origin. origin may be nil.
func (h *Hub) BroadcastDelta(documentID string, f wire.Frame, origin *Peer) {
	f.Event = wire.EventReceiveChanges
	f.DocumentID = documentID
	h.submit(request{kind: reqBroadcast, documentID: documentID, frame: f, peer: origin})
}

// BroadcastCursor relays a send-cursor-move frame as receive-cursor-move.
func (h *Hub) BroadcastCursor(documentID string, f wire.Frame, origin *Peer) {
	f.Event = wire.EventReceiveCursorMove
	f.DocumentID = documentID
	h.submit(request{kind: reqBroadcast, documentID: documentID, frame: f, peer: origin})
}

// RoomSize returns the number of peers joined to documentID.
func (h *Hub) RoomSize(documentID string) int {
	resp := make(chan int, 1)
	if !h.submit(request{kind: reqRoomSize, documentID: documentID, resp: resp}) {
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-h.stopped:
		return 0
	}
}

// Close evicts every peer and stops the loop.
func (h *Hub) Close() {
	if h.closed.CompareAndSwap(false, true) {
		close(h.stopCh)
	}
	<-h.stopped
}
