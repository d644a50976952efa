package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lib/pq"

	"github.com/starford/quire/internal/models"
)

// ChangeCallback receives change notifications in log order.
type ChangeCallback func(models.ChangeNotification)

// FeedOptions configures Watch.
type FeedOptions struct {
	// PollInterval bounds the delay for changes no wake source reported.
	PollInterval time.Duration
	// Retention is how long change log entries are kept.
	Retention time.Duration
	// OnGap is called when entries were pruned before they were read, so
	// consumers must rehydrate instead of trusting the stream.
	OnGap func()
}

// Watch tails the change log from its current end and calls cb for every
// new entry until ctx is cancelled. In-process writes wake it at once;
// writes by other processes are picked up through fsnotify on the sqlite
// files or LISTEN/NOTIFY on postgres, with polling as the fallback.
func (s *Store) Watch(ctx context.Context, opts FeedOptions, cb ChangeCallback) error {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}

	last, err := s.LatestSeq(ctx)
	if err != nil {
		return err
	}

	var (
		wake    <-chan struct{}
		release func()
	)
	switch s.driver {
	case DriverPostgres:
		wake, release, err = s.listenPostgres(ctx)
	default:
		wake, release, err = s.watchSQLiteFiles(ctx)
	}
	if err != nil {
		return err
	}
	defer release()

	s.logger.Info("feed: started", slog.String("driver", s.driver), slog.Int64("seq", last))

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	lastPrune := time.Now()

	tail := func() {
		next, err := s.tail(ctx, last, opts.OnGap, cb)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("feed: tail failed", slog.String("error", err.Error()))
			}
			return
		}
		last = next
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("feed: stopped")
			return nil
		case <-s.kick:
			tail()
		case <-wake:
			tail()
		case <-ticker.C:
			tail()
			if time.Since(lastPrune) >= opts.Retention/4 {
				lastPrune = time.Now()
				if n, err := s.Prune(ctx, time.Now().Add(-opts.Retention)); err != nil {
					s.logger.Warn("feed: prune failed", slog.String("error", err.Error()))
				} else if n > 0 {
					s.logger.Debug("feed: pruned", slog.Int64("entries", n))
				}
			}
		}
	}
}

func (s *Store) tail(ctx context.Context, last int64, onGap func(), cb ChangeCallback) (int64, error) {
	const batch = 500
	oldest, err := s.OldestSeq(ctx)
	if err != nil {
		return last, err
	}
	if oldest > last+1 && last > 0 {
		s.logger.Warn("feed: gap in change log",
			slog.Int64("last", last),
			slog.Int64("oldest", oldest))
		if onGap != nil {
			onGap()
		}
	}
	for {
		changes, err := s.Changes(ctx, last, batch)
		if err != nil {
			return last, err
		}
		for _, c := range changes {
			cb(c)
			last = c.Seq
		}
		if len(changes) < batch {
			return last, nil
		}
	}
}

// watchSQLiteFiles signals when the database or its WAL file is written.
func (s *Store) watchSQLiteFiles(ctx context.Context) (<-chan struct{}, func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("feed: watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, nil, fmt.Errorf("feed: watch %s: %w", dir, err)
	}

	db, _ := filepath.Abs(s.path)
	wal := db + "-wal"
	wake := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				name, _ := filepath.Abs(ev.Name)
				if name != db && name != wal {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case watchErr, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Error("feed: watcher error", slog.String("error", watchErr.Error()))
			}
		}
	}()

	return wake, func() {
		w.Close()
		<-done
	}, nil
}

// listenPostgres signals on every NOTIFY of the change channel and after
// the listener reconnects.
func (s *Store) listenPostgres(ctx context.Context) (<-chan struct{}, func(), error) {
	listener := pq.NewListener(s.dsn, 100*time.Millisecond, 10*time.Second,
		func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventDisconnected:
				msg := ""
				if err != nil {
					msg = err.Error()
				}
				s.logger.Warn("feed: listener disconnected", slog.String("error", msg))
			case pq.ListenerEventReconnected:
				s.logger.Info("feed: listener reconnected")
			case pq.ListenerEventConnectionAttemptFailed:
				if err != nil {
					s.logger.Debug("feed: listener connect failed", slog.String("error", err.Error()))
				}
			}
		})
	if err := listener.Listen(notifyChannel); err != nil {
		listener.Close()
		return nil, nil, fmt.Errorf("feed: listen %s: %w", notifyChannel, err)
	}

	wake := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ping := time.NewTicker(90 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-listener.Notify:
				if !ok {
					return
				}
				// A nil notification follows a reconnect; the log covers
				// whatever was missed, so both cases just tail.
				select {
				case wake <- struct{}{}:
				default:
				}
			case <-ping.C:
				go func() { _ = listener.Ping() }()
			}
		}
	}()

	return wake, func() {
		listener.Close()
		<-done
	}, nil
}
