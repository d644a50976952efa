package relay

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/starford/quire/internal/presence"
	"github.com/starford/quire/internal/wire"
)

// Options tunes the socket endpoint.
type Options struct {
	OrderedBuffer   int
	CursorBuffer    int
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	PingInterval    time.Duration
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 1 << 20
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	return o
}

// Server is the websocket endpoint carrying relay and presence frames.
type Server struct {
	hub      *Hub
	presence *presence.Hub
	logger   *slog.Logger
	opts     Options
	upgrader websocket.Upgrader
}

// NewServer wires a socket endpoint to the relay and presence hubs.
func NewServer(hub *Hub, presenceHub *presence.Hub, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub:      hub,
		presence: presenceHub,
		logger:   logger,
		opts:     opts.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("relay: upgrade failed", slog.String("error", err.Error()))
		return
	}

	peer := NewPeer(uuid.NewString(), s.opts.OrderedBuffer, s.opts.CursorBuffer)
	log := s.logger.With(slog.String("peer", peer.ID()))
	log.Debug("relay: connected")

	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(conn, peer, done, log)
	}()

	s.readLoop(conn, peer, log)

	close(done)
	s.hub.Disconnect(peer)
	s.presence.Leave(peer.ID())
	<-writerDone
	_ = conn.Close()
	log.Debug("relay: disconnected")
}

func (s *Server) readLoop(conn *websocket.Conn, peer *Peer, log *slog.Logger) {
	conn.SetReadLimit(s.opts.MaxMessageBytes)
	pongWait := 2 * s.opts.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f wire.Frame
		if err := conn.ReadJSON(&f); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				log.Debug("relay: read ended", slog.String("error", err.Error()))
			}
			// The writer closes the socket once the peer is evicted,
			// which also ends this loop.
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		s.dispatch(peer, f, log)
	}
}

func (s *Server) dispatch(peer *Peer, f wire.Frame, log *slog.Logger) {
	if f.DocumentID == "" {
		peer.Send(wire.Frame{Event: wire.EventError, Message: "documentId is required"})
		return
	}

	switch f.Event {
	case wire.EventCreateRoom:
		s.hub.Join(f.DocumentID, peer)
	case wire.EventLeaveRoom:
		s.hub.Leave(f.DocumentID, peer)
	case wire.EventSendChanges:
		s.hub.BroadcastDelta(f.DocumentID, f, peer)
	case wire.EventSendCursorMove:
		s.hub.BroadcastCursor(f.DocumentID, f, peer)
	case wire.EventPresenceSubscribe:
		s.presence.Subscribe(f.DocumentID, peer)
	case wire.EventPresenceTrack:
		if f.Presence == nil {
			peer.Send(wire.Frame{Event: wire.EventError, DocumentID: f.DocumentID, Message: "presence is required"})
			return
		}
		s.presence.Track(f.DocumentID, peer.ID(), *f.Presence)
	case wire.EventPresenceUnsubscribe:
		s.presence.Unsubscribe(f.DocumentID, peer.ID())
	default:
		log.Debug("relay: unknown event", slog.String("event", f.Event))
		peer.Send(wire.Frame{Event: wire.EventError, DocumentID: f.DocumentID, Message: "unknown event " + f.Event})
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, peer *Peer, done <-chan struct{}, log *slog.Logger) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	frames := make(chan wire.Frame)
	go func() {
		defer close(frames)
		for {
			f, ok := peer.Next(done)
			if !ok {
				return
			}
			select {
			case frames <- f:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				select {
				case <-peer.Evicted():
					log.Warn("relay: closing evicted peer")
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "peer too slow"),
						time.Now().Add(s.opts.WriteTimeout))
					_ = conn.Close()
				default:
				}
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteJSON(f); err != nil {
				log.Debug("relay: write failed", slog.String("error", err.Error()))
				peer.Evict()
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteTimeout)); err != nil {
				peer.Evict()
				_ = conn.Close()
				return
			}
		}
	}
}
