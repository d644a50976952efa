// Package wire defines the frames exchanged on the relay socket.
package wire

import (
	"encoding/json"

	"github.com/starford/quire/internal/models"
)

// Client to server events.
const (
	EventCreateRoom          = "create-room"
	EventLeaveRoom           = "leave-room"
	EventSendChanges         = "send-changes"
	EventSendCursorMove      = "send-cursor-move"
	EventPresenceSubscribe   = "presence-subscribe"
	EventPresenceTrack       = "presence-track"
	EventPresenceUnsubscribe = "presence-unsubscribe"
)

// Server to client events.
const (
	EventReceiveChanges     = "receive-changes"
	EventReceiveCursorMove  = "receive-cursor-move"
	EventPresenceSubscribed = "presence-subscribed"
	EventPresenceSync       = "presence-sync"
	EventError              = "error"
)

// Frame is one JSON message on the relay socket. Fields not used by an
// event are omitted.
type Frame struct {
	Event      string                  `json:"event"`
	DocumentID string                  `json:"documentId,omitempty"`
	Delta      json.RawMessage         `json:"delta,omitempty"`
	Range      *models.Range           `json:"range,omitempty"`
	CursorID   string                  `json:"cursorId,omitempty"`
	Presence   *models.PresenceRecord  `json:"presence,omitempty"`
	Members    []models.PresenceRecord `json:"members,omitempty"`
	Message    string                  `json:"message,omitempty"`
}
