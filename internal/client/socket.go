package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/changefeed"
	"github.com/starford/quire/internal/wire"
)

var (
	errNotConnected = errors.New("not connected")
	errQueueFull    = errors.New("outbound queue full")
)

// FrameHandler receives socket events. OnConnected runs after every
// successful dial, before any frame of that connection is delivered.
type FrameHandler interface {
	OnConnected()
	OnFrame(wire.Frame)
}

// SocketOptions configures a Socket.
type SocketOptions struct {
	// URL of the relay endpoint, e.g. ws://localhost:8080/api/ws.
	URL   string
	Token string
	// OutboundBuffer is the number of frames queued for the writer.
	OutboundBuffer  int
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	Logger          *slog.Logger
	NewBackOff      func() backoff.BackOff
}

// Socket is the relay and presence connection of one client. It redials
// with backoff; frames sent while disconnected are dropped because the
// client rejoins rooms from scratch on reconnect.
type Socket struct {
	opts      SocketOptions
	logger    *slog.Logger
	out       chan wire.Frame
	connected atomic.Bool
}

// NewSocket creates a socket. Call Run to connect.
func NewSocket(opts SocketOptions) *Socket {
	if opts.OutboundBuffer <= 0 {
		opts.OutboundBuffer = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 1 << 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = changefeed.DefaultBackOff
	}
	return &Socket{
		opts:   opts,
		logger: opts.Logger,
		out:    make(chan wire.Frame, opts.OutboundBuffer),
	}
}

// Send queues f for the writer without blocking.
func (s *Socket) Send(f wire.Frame) error {
	if !s.connected.Load() {
		return &apperr.TransportError{Op: "send " + f.Event, Err: errNotConnected}
	}
	select {
	case s.out <- f:
		return nil
	default:
		return &apperr.TransportError{Op: "send " + f.Event, Err: errQueueFull}
	}
}

// Connected reports whether a connection is up.
func (s *Socket) Connected() bool { return s.connected.Load() }

// Run keeps a connection open until ctx is cancelled or the backoff policy
// gives up.
func (s *Socket) Run(ctx context.Context, h FrameHandler) error {
	b := s.opts.NewBackOff()
	for {
		connected, err := s.session(ctx, h)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("client: relay: giving up: %w", err)
		}
		s.logger.Warn("client: relay reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("in", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Socket) session(ctx context.Context, h FrameHandler) (bool, error) {
	header := http.Header{}
	if s.opts.Token != "" {
		header.Set("Authorization", "Bearer "+s.opts.Token)
	}
	conn, _, err := websocket.Dial(ctx, s.opts.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return false, &apperr.TransportError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(s.opts.MaxMessageBytes)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Frames queued for a previous connection are stale.
	s.drain()
	s.connected.Store(true)
	defer s.connected.Store(false)

	s.logger.Info("client: relay connected", slog.String("url", s.opts.URL))
	h.OnConnected()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeErr := make(chan error, 1)
	go func() { writeErr <- s.writeLoop(connCtx, conn) }()

	for {
		var f wire.Frame
		if err := wsjson.Read(connCtx, conn, &f); err != nil {
			cancel()
			if werr := <-writeErr; werr != nil && !errors.Is(werr, context.Canceled) {
				err = werr
			}
			return true, &apperr.TransportError{Op: "read", Err: err}
		}
		h.OnFrame(f)
	}
}

func (s *Socket) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-s.out:
			wctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
			err := wsjson.Write(wctx, conn, f)
			cancel()
			if err != nil {
				// Unblock the reader.
				_ = conn.Close(websocket.StatusInternalError, "write failed")
				return err
			}
		}
	}
}

func (s *Socket) drain() {
	for {
		select {
		case <-s.out:
		default:
			return
		}
	}
}
