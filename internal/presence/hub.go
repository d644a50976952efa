// Package presence tracks which users have a document open.
//
// Hub is the server side: one channel per document id, each broadcasting
// the full member set on every change. Subscription is the client side
// view of one channel.
package presence

import (
	"cmp"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/starford/quire/internal/models"
	"github.com/starford/quire/internal/wire"
)

// Member is one connection subscribed to presence channels.
type Member interface {
	ID() string
	// Send delivers a frame without blocking and reports whether it was queued.
	Send(wire.Frame) bool
}

type reqKind int

const (
	reqSubscribe reqKind = iota
	reqTrack
	reqUnsubscribe
	reqLeave
	reqMembers
)

type request struct {
	kind       reqKind
	documentID string
	member     Member
	memberID   string
	record     models.PresenceRecord
	resp       chan []models.PresenceRecord
}

type entry struct {
	member Member
	// record is nil until the member tracks itself.
	record *models.PresenceRecord
}

// Hub owns every presence channel. A single event loop owns the channel
// state; public methods talk to it over a request channel.
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
		reqCh:   make(chan request, 256),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.stopped)

	channels := make(map[string]map[string]*entry)

	publish := func(documentID string) {
		members := channels[documentID]
		frame := wire.Frame{
			Event:      wire.EventPresenceSync,
			DocumentID: documentID,
			Members:    snapshot(members),
		}
		for _, e := range members {
			if !e.member.Send(frame) {
				h.logger.Debug("presence: sync dropped",
					slog.String("document", documentID),
					slog.String("member", e.member.ID()))
			}
		}
	}

	remove := func(documentID, memberID string) {
		members, ok := channels[documentID]
		if !ok {
			return
		}
		e, ok := members[memberID]
		if !ok {
			return
		}
		delete(members, memberID)
		if len(members) == 0 {
			delete(channels, documentID)
			return
		}
		if e.record != nil {
			publish(documentID)
		}
	}

	for {
		select {
		case <-h.stopCh:
			return

		case req := <-h.reqCh:
			switch req.kind {
			case reqSubscribe:
				members, ok := channels[req.documentID]
				if !ok {
					members = make(map[string]*entry)
					channels[req.documentID] = members
				}
				if _, ok := members[req.member.ID()]; !ok {
					members[req.member.ID()] = &entry{member: req.member}
				}
				req.member.Send(wire.Frame{Event: wire.EventPresenceSubscribed, DocumentID: req.documentID})

			case reqTrack:
				e, ok := channels[req.documentID][req.memberID]
				if !ok {
					h.logger.Debug("presence: track before subscribe",
						slog.String("document", req.documentID),
						slog.String("member", req.memberID))
					continue
				}
				rec := req.record
				e.record = &rec
				publish(req.documentID)

			case reqUnsubscribe:
				remove(req.documentID, req.memberID)

			case reqLeave:
				for documentID := range channels {
					remove(documentID, req.memberID)
				}

			case reqMembers:
				req.resp <- snapshot(channels[req.documentID])
			}
		}
	}
}

// snapshot returns the tracked records of a channel, one per user id,
// ordered by user id. A user with several connections appears once.
func snapshot(members map[string]*entry) []models.PresenceRecord {
	seen := make(map[string]bool, len(members))
	out := make([]models.PresenceRecord, 0, len(members))
	for _, e := range members {
		if e.record == nil || seen[e.record.UserID] {
			continue
		}
		seen[e.record.UserID] = true
		out = append(out, *e.record)
	}
	slices.SortFunc(out, func(a, b models.PresenceRecord) int {
		return cmp.Compare(a.UserID, b.UserID)
	})
	return out
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

// Subscribe adds m to the channel of documentID and confirms with a
// presence-subscribed frame. Subscribing twice is a no-op apart from the
// confirmation.
func (h *Hub) Subscribe(documentID string, m Member) {
	h.submit(request{kind: reqSubscribe, documentID: documentID, member: m})
}

// Track records the member's presence and syncs the channel.
func (h *Hub) Track(documentID, memberID string, rec models.PresenceRecord) {
	h.submit(request{kind: reqTrack, documentID: documentID, memberID: memberID, record: rec})
}

// Unsubscribe removes the member from one channel.
func (h *Hub) Unsubscribe(documentID, memberID string) {
	h.submit(request{kind: reqUnsubscribe, documentID: documentID, memberID: memberID})
}

// Leave removes the member from every channel, as on disconnect.
func (h *Hub) Leave(memberID string) {
	h.submit(request{kind: reqLeave, memberID: memberID})
}

// Members returns the current tracked member set of a channel.
func (h *Hub) Members(documentID string) []models.PresenceRecord {
	resp := make(chan []models.PresenceRecord, 1)
	if !h.submit(request{kind: reqMembers, documentID: documentID, resp: resp}) {
		return nil
	}
	select {
	case members := <-resp:
		return members
	case <-h.stopped:
		return nil
	}
}

// Close stops the hub loop.
func (h *Hub) Close() {
	if h.closed.CompareAndSwap(false, true) {
		close(h.stopCh)
	}
	<-h.stopped
}
