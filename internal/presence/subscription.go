package presence

import (
	"cmp"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"slices"

	"github.com/starford/quire/internal/models"
	"github.com/starford/quire/internal/wire"
)

// State is the lifecycle of one client presence subscription.
type State int

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "Unsubscribed"
	case StateSubscribing:
		return "Subscribing"
	case StateSubscribed:
		return "Subscribed"
	default:
		return "InvalidState"
	}
}

func (s State) validateTransitionTo(next State) error {
	switch s {
	case StateUnsubscribed:
		if next == StateSubscribing {
			return nil
		}
	case StateSubscribing:
		switch next {
		case StateSubscribed, StateUnsubscribed:
			return nil
		}
	case StateSubscribed:
		if next == StateUnsubscribed {
			return nil
		}
	}
	return fmt.Errorf("presence: invalid state transition from %v to %v", s, next)
}

// ColorFunc picks a cursor color for a peer on a given sync.
type ColorFunc func(userID string, sync uint64) string

// RandomColor returns a pseudo-random hex color seeded by the peer and the
// sync number, so a peer keeps its color until the next sync.
func RandomColor(userID string, sync uint64) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	r := rand.New(rand.NewPCG(h.Sum64(), sync))
	return fmt.Sprintf("#%06x", r.IntN(0x1000000))
}

// Subscription is the client view of one document's presence channel.
// It is not safe for concurrent use; the owning client loop drives it.
type Subscription struct {
	documentID string
	self       models.PresenceRecord
	colors     ColorFunc

	state         State
	syncs         uint64
	collaborators []models.PresenceRecord
	cursors       map[string]models.CursorState
}

// NewSubscription returns an unsubscribed view of documentID's channel.
// colors may be nil.
func NewSubscription(documentID string, self models.PresenceRecord, colors ColorFunc) *Subscription {
	if colors == nil {
		colors = RandomColor
	}
	return &Subscription{
		documentID: documentID,
		self:       self,
		colors:     colors,
		cursors:    make(map[string]models.CursorState),
	}
}

func (s *Subscription) transition(next State) error {
	if err := s.state.validateTransitionTo(next); err != nil {
		return err
	}
	s.state = next
	return nil
}

// DocumentID returns the channel key.
func (s *Subscription) DocumentID() string { return s.documentID }

// State returns the current lifecycle state.
func (s *Subscription) State() State { return s.state }

// Subscribe starts subscribing and returns the frame to send.
func (s *Subscription) Subscribe() (wire.Frame, error) {
	if err := s.transition(StateSubscribing); err != nil {
		return wire.Frame{}, err
	}
	return wire.Frame{Event: wire.EventPresenceSubscribe, DocumentID: s.documentID}, nil
}

// Confirm handles presence-subscribed and returns the track frame carrying
// the local record.
func (s *Subscription) Confirm() (wire.Frame, error) {
	if err := s.transition(StateSubscribed); err != nil {
		return wire.Frame{}, err
	}
	self := s.self
	return wire.Frame{Event: wire.EventPresenceTrack, DocumentID: s.documentID, Presence: &self}, nil
}

// Sync replaces the collaborator list with members and recreates the
// cursor decoration of every peer other than the local user.
func (s *Subscription) Sync(members []models.PresenceRecord) error {
	if s.state != StateSubscribed {
		return fmt.Errorf("presence: sync in state %v", s.state)
	}
	s.syncs++
	s.collaborators = slices.Clone(members)
	s.cursors = make(map[string]models.CursorState, len(members))
	for _, m := range members {
		if m.UserID == s.self.UserID {
			continue
		}
		s.cursors[m.UserID] = models.CursorState{
			UserID:       m.UserID,
			DisplayLabel: m.DisplayLabel,
			Color:        s.colors(m.UserID, s.syncs),
		}
	}
	return nil
}

// MoveCursor repositions a peer's decoration. Moves for peers without a
// decoration are ignored and reported as false. A nil range clears the
// selection.
func (s *Subscription) MoveCursor(userID string, r *models.Range) bool {
	c, ok := s.cursors[userID]
	if !ok {
		return false
	}
	if r != nil {
		rc := *r
		r = &rc
	}
	c.Range = r
	s.cursors[userID] = c
	return true
}

// Unsubscribe leaves the channel. The returned frame is only meaningful
// when ok is true; a subscription that never subscribed has nothing to send.
func (s *Subscription) Unsubscribe() (frame wire.Frame, ok bool) {
	if s.state == StateUnsubscribed {
		return wire.Frame{}, false
	}
	s.Reset()
	return wire.Frame{Event: wire.EventPresenceUnsubscribe, DocumentID: s.documentID}, true
}

// Reset drops all presence state, as after a lost connection. The next
// Subscribe starts from scratch.
func (s *Subscription) Reset() {
	s.state = StateUnsubscribed
	s.collaborators = nil
	s.cursors = make(map[string]models.CursorState)
}

// Collaborators returns a copy of the current member list.
func (s *Subscription) Collaborators() []models.PresenceRecord {
	return slices.Clone(s.collaborators)
}

// Cursors returns the peer decorations ordered by user id.
func (s *Subscription) Cursors() []models.CursorState {
	out := make([]models.CursorState, 0, len(s.cursors))
	for _, c := range s.cursors {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b models.CursorState) int {
		return cmp.Compare(a.UserID, b.UserID)
	})
	return out
}

// Cursor returns one peer's decoration.
func (s *Subscription) Cursor(userID string) (models.CursorState, bool) {
	c, ok := s.cursors[userID]
	return c, ok
}
