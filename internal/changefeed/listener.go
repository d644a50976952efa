package changefeed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/models"
	"github.com/starford/quire/internal/sse"
)

// maxEventBytes bounds one SSE line. Notifications never carry content.
const maxEventBytes = 1 << 20

// Callbacks receive stream events. They run on the listener goroutine and
// should hand work to the client's apply loop instead of mutating state.
type Callbacks struct {
	// OnConnect runs after every successful (re)subscription. Notifications
	// may have been missed, so the caller rehydrates here.
	OnConnect func()
	// OnChange runs for each document notification in stream order.
	OnChange func(models.ChangeNotification)
	// OnResync runs when the server reports lost notifications.
	OnResync func()
}

// Options configures a Listener.
type Options struct {
	// URL of the change stream, e.g. http://localhost:8080/api/changes.
	URL   string
	Token string
	// HTTPClient must not set a Timeout: the stream is long-lived.
	HTTPClient *http.Client
	Logger     *slog.Logger
	// NewBackOff builds the resubscribe policy. Defaults to exponential
	// backoff between 500ms and 30s that never gives up.
	NewBackOff func() backoff.BackOff
}

// Listener subscribes to the change stream and resubscribes when it drops.
type Listener struct {
	opts   Options
	logger *slog.Logger
}

// NewListener creates a listener. Call Run to start it.
func NewListener(opts Options) *Listener {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = DefaultBackOff
	}
	return &Listener{opts: opts, logger: opts.Logger}
}

// DefaultBackOff is the resubscribe policy used when none is configured.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Run streams until ctx is cancelled or the backoff policy stops. A dropped
// stream is a TransportError: it is logged and followed by a resubscribe.
func (l *Listener) Run(ctx context.Context, cb Callbacks) error {
	b := l.opts.NewBackOff()
	for {
		connected, err := l.stream(ctx, cb)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("changefeed: giving up: %w", err)
		}
		l.logger.Warn("feed: resubscribing",
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

// stream runs one subscription. connected reports whether the server
// accepted it.
func (l *Listener) stream(ctx context.Context, cb Callbacks) (connected bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.opts.URL, nil)
	if err != nil {
		return false, &apperr.TransportError{Op: "subscribe", Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	if l.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+l.opts.Token)
	}

	resp, err := l.opts.HTTPClient.Do(req)
	if err != nil {
		return false, &apperr.TransportError{Op: "subscribe", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, &apperr.TransportError{Op: "subscribe", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	l.logger.Info("feed: subscribed", slog.String("url", l.opts.URL))
	if cb.OnConnect != nil {
		cb.OnConnect()
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventBytes)

	var ev event
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			l.dispatch(ev, cb)
			ev = event{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.typ = value
		case "data":
			if ev.data != "" {
				ev.data += "\n"
			}
			ev.data += value
		case "id":
			ev.id = value
		}
	}
	err = sc.Err()
	if err == nil {
		err = errors.New("stream closed")
	}
	return true, &apperr.TransportError{Op: "stream", Err: err}
}

type event struct {
	id   string
	typ  string
	data string
}

func (l *Listener) dispatch(ev event, cb Callbacks) {
	switch ev.typ {
	case "":
		return
	case sse.EventResync:
		l.logger.Info("feed: resync requested")
		if cb.OnResync != nil {
			cb.OnResync()
		}
	case sse.EventInsert, sse.EventUpdate, sse.EventDelete:
		var n models.ChangeNotification
		if err := json.Unmarshal([]byte(ev.data), &n); err != nil {
			l.logger.Warn("feed: bad notification",
				slog.String("id", ev.id),
				slog.String("error", err.Error()),
			)
			return
		}
		if cb.OnChange != nil {
			cb.OnChange(n)
		}
	default:
		l.logger.Debug("feed: ignoring event", slog.String("type", ev.typ))
	}
}
