package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/quire/internal/changefeed"
	"github.com/starford/quire/internal/client"
	"github.com/starford/quire/internal/models"
)

// TailOptions selects what the tail client follows.
type TailOptions struct {
	// DocumentID is opened after hydration; empty stays on the dashboard.
	DocumentID string
	UserID     string
}

// RunTail runs one headless client against a server: it hydrates, opens
// the document, joins its room and logs every change it observes until
// interrupted.
func RunTail(ctx context.Context, tail TailOptions, opts ...Option) error {
	app, logger, err := setup(opts)
	if err != nil {
		return err
	}
	cfg := app.config.Client

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	base := strings.TrimRight(cfg.ServerURL, "/") + "/api"
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/ws"

	socket := client.NewSocket(client.SocketOptions{
		URL:    wsURL,
		Token:  cfg.Token,
		Logger: logger,
	})
	c := client.New(client.Options{
		Self: models.PresenceRecord{
			UserID:       tail.UserID,
			DisplayLabel: cfg.DisplayLabel,
		},
		OwnerID:            cfg.OwnerID,
		Backend:            client.NewREST(base, cfg.Token, nil),
		Transport:          socket,
		DebounceWindow:     cfg.DebounceWindow,
		DropPendingOnClose: !cfg.FlushOnClose,
		Logger:             logger,
	})
	listener := changefeed.NewListener(changefeed.Options{
		URL:    base + "/changes",
		Token:  cfg.Token,
		Logger: logger,
	})

	logger.Info("tail: starting",
		slog.String("server", base),
		slog.String("user", tail.UserID),
		slog.String("document", tail.DocumentID))

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gCtx) })
	g.Go(func() error { return socket.Run(gCtx, c) })
	g.Go(func() error { return listener.Run(gCtx, c.FeedCallbacks()) })
	g.Go(func() error { return follow(gCtx, c, tail.DocumentID, logger) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("tail: stopped")
	return nil
}

func follow(ctx context.Context, c *client.Client, documentID string, logger *slog.Logger) error {
	if err := c.Hydrate(ctx); err != nil {
		return fmt.Errorf("tail: hydrate: %w", err)
	}
	if documentID != "" {
		st, err := c.State(ctx)
		if err != nil {
			return err
		}
		ref, ok := st.Tree.Locate(documentID)
		if !ok {
			return fmt.Errorf("tail: document %s not in hydrated tree", documentID)
		}
		if err := c.Navigate(ctx, ref); err != nil {
			return fmt.Errorf("tail: open %s: %w", documentID, err)
		}
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var (
		version       = ^uint64(0)
		location      string
		content       string
		collaborators = -1
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-c.Notices():
			logger.Warn("tail: notice",
				slog.String("kind", n.Kind.String()),
				slog.String("document", n.DocumentID),
				slog.String("error", n.Err.Error()))
		case <-ticker.C:
			st, err := c.State(ctx)
			if err != nil {
				return err
			}
			if v := c.Store().Version(); v != version {
				version = v
				logger.Info("tail: tree", slog.Uint64("version", v), slog.Int("workspaces", len(st.Tree.Workspaces)))
			}
			if loc := models.RefString(st.Location); loc != location {
				location = loc
				logger.Info("tail: location", slog.String("ref", loc))
			}
			if st.Content != content {
				content = st.Content
				logger.Info("tail: content", slog.String("document", location), slog.String("delta", content))
			}
			if len(st.Collaborators) != collaborators {
				collaborators = len(st.Collaborators)
				names := make([]string, 0, collaborators)
				for _, p := range st.Collaborators {
					names = append(names, p.UserID)
				}
				logger.Info("tail: collaborators", slog.String("users", strings.Join(names, ",")))
			}
		}
	}
}
