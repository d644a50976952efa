// Package client is one editing session ("tab") of the sync core.
//
// All state lives on a single apply loop: transport callbacks, change-feed
// notifications and user operations are turned into typed messages and
// queued to Run, which is the only goroutine that touches the tree store's
// writer side, the open editor model and the presence view. Network I/O
// happens outside the loop and posts its results back.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/changefeed"
	"github.com/starford/quire/internal/debounce"
	"github.com/starford/quire/internal/delta"
	"github.com/starford/quire/internal/docservice"
	"github.com/starford/quire/internal/models"
	"github.com/starford/quire/internal/presence"
	"github.com/starford/quire/internal/tree"
	"github.com/starford/quire/internal/wire"
)

// ErrNoDocument is returned by editing operations while nothing is open.
var ErrNoDocument = errors.New("client: no document open")

// Sender queues frames on the relay socket without blocking.
type Sender interface {
	Send(wire.Frame) error
}

// NoticeKind classifies advisory notices shown to the user.
type NoticeKind int

const (
	// NoticePersistence reports a failed durable write. Editing continues.
	NoticePersistence NoticeKind = iota
	// NoticeMalformedDelta reports a remote delta that could not be applied.
	NoticeMalformedDelta
)

func (k NoticeKind) String() string {
	switch k {
	case NoticePersistence:
		return "persistence"
	case NoticeMalformedDelta:
		return "malformed-delta"
	default:
		return fmt.Sprintf("NoticeKind(%d)", int(k))
	}
}

// Notice is a non-blocking message for the user.
type Notice struct {
	Kind       NoticeKind
	DocumentID string
	Err        error
}

// Options configures a Client.
type Options struct {
	Self    models.PresenceRecord
	OwnerID string

	Backend   Backend
	Transport Sender
	// Store is created empty when nil.
	Store *tree.Store

	DebounceWindow time.Duration
	Clock          clockwork.Clock
	// DropPendingOnClose discards an unwritten edit when the document is
	// closed instead of flushing it.
	DropPendingOnClose bool
	Colors             presence.ColorFunc
	Logger             *slog.Logger
	// RequestTimeout bounds background fetches started by the loop.
	RequestTimeout time.Duration
}

// State is a snapshot of the client for rendering.
type State struct {
	// Location is the open document or container, nil on the dashboard.
	Location models.DocumentRef
	Tree     tree.State
	// Open is false while the location has no loaded editor model.
	Open          bool
	Content       string
	Presence      presence.State
	Collaborators []models.PresenceRecord
	Cursors       []models.CursorState
}

// session is the document open in the editor.
type session struct {
	ref   models.DocumentRef
	model *delta.Delta
	sub   *presence.Subscription
}

// Client is one tab's sync engine.
type Client struct {
	opts      Options
	logger    *slog.Logger
	store     *tree.Store
	debouncer *debounce.Debouncer

	inbox   chan message
	notices chan Notice
	done    chan struct{}

	// Owned by the loop.
	location models.DocumentRef
	open     *session
	navGen   uint64
}

// New creates a client. Call Run to start its loop.
func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Store == nil {
		opts.Store = tree.NewStore(tree.State{}, opts.Logger)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}

	c := &Client{
		opts:    opts,
		logger:  opts.Logger,
		store:   opts.Store,
		inbox:   make(chan message, 256),
		notices: make(chan Notice, 32),
		done:    make(chan struct{}),
	}
	c.debouncer = debounce.New(c.persist, debounce.Options{
		Window:   opts.DebounceWindow,
		Clock:    opts.Clock,
		Logger:   opts.Logger,
		OnStatus: c.onSaveStatus,
	})
	return c
}

// Store returns the tree handle. Readers may snapshot it at any time.
func (c *Client) Store() *tree.Store { return c.store }

// Notices delivers advisory notices. Notices are dropped when nobody reads.
func (c *Client) Notices() <-chan Notice { return c.notices }

// SaveStatus returns the persistence status of documentID.
func (c *Client) SaveStatus(documentID string) debounce.Status {
	return c.debouncer.Status(documentID)
}

// Run is the apply loop. It returns when ctx is cancelled, after closing
// the open document under the configured pending-write policy.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case m := <-c.inbox:
			c.handle(m)
		}
	}
}

func (c *Client) shutdown() {
	s := c.open
	if s == nil {
		return
	}
	c.open = nil
	c.leave(s)
	if c.opts.DropPendingOnClose {
		c.debouncer.Cancel(s.ref.DocumentID())
		return
	}
	if err := c.debouncer.Flush(s.ref.DocumentID()); err != nil {
		c.logger.Warn("client: flush on close failed",
			slog.String("document", s.ref.DocumentID()),
			slog.String("error", err.Error()))
	}
}

// message is the closed set of inputs of the apply loop.
type message interface{ isMessage() }

type (
	frameMsg     struct{ frame wire.Frame }
	connectedMsg struct{}
	changeMsg    struct{ n models.ChangeNotification }
	hydrateMsg   struct {
		workspaces []models.Workspace
		reply      chan error
	}
	openMsg struct {
		ref    models.DocumentRef
		detail *docservice.DocumentDetail
		model  *delta.Delta
		// auto opens follow a deletion-driven navigation and are dropped
		// when the user navigated elsewhere meanwhile.
		auto  bool
		gen   uint64
		reply chan error
	}
	dashboardMsg struct{ reply chan error }
	editMsg      struct {
		change *delta.Delta
		reply  chan error
	}
	cursorMsg struct {
		rng   *models.Range
		reply chan error
	}
	patchMsg struct {
		ref   models.DocumentRef
		patch models.Patch
		reply chan error
	}
	stateMsg struct{ reply chan State }
)

func (frameMsg) isMessage()     {}
func (connectedMsg) isMessage() {}
func (changeMsg) isMessage()    {}
func (hydrateMsg) isMessage()   {}
func (openMsg) isMessage()      {}
func (dashboardMsg) isMessage() {}
func (editMsg) isMessage()      {}
func (cursorMsg) isMessage()    {}
func (patchMsg) isMessage()     {}
func (stateMsg) isMessage()     {}

func (c *Client) post(m message) bool {
	select {
	case c.inbox <- m:
		return true
	case <-c.done:
		return false
	}
}

// request posts m and waits for its reply.
func request[T any](ctx context.Context, c *Client, m message, reply chan T) (T, error) {
	var zero T
	select {
	case c.inbox <- m:
	case <-c.done:
		return zero, errors.New("client: stopped")
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-c.done:
		return zero, errors.New("client: stopped")
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func requestErr(ctx context.Context, c *Client, m message, reply chan error) error {
	err, rerr := request(ctx, c, m, reply)
	if rerr != nil {
		return rerr
	}
	return err
}

func (c *Client) handle(m message) {
	switch m := m.(type) {
	case frameMsg:
		c.handleFrame(m.frame)
	case connectedMsg:
		c.rejoin()
	case changeMsg:
		c.reconcile(m.n)
	case hydrateMsg:
		c.hydrate(m.workspaces)
		m.reply <- nil
	case openMsg:
		m.reply <- c.openDocument(m)
	case dashboardMsg:
		c.closeSession(false)
		c.navGen++
		c.location = nil
		m.reply <- nil
	case editMsg:
		m.reply <- c.edit(m.change)
	case cursorMsg:
		m.reply <- c.moveCursor(m.rng)
	case patchMsg:
		c.store.Dispatch(tree.PatchAction(m.ref, m.patch))
		m.reply <- nil
	case stateMsg:
		m.reply <- c.snapshot()
	default:
		panic(fmt.Sprintf("client: unknown message %T", m))
	}
}

// OnConnected implements FrameHandler.
func (c *Client) OnConnected() { c.post(connectedMsg{}) }

// OnFrame implements FrameHandler.
func (c *Client) OnFrame(f wire.Frame) { c.post(frameMsg{frame: f}) }

// FeedCallbacks wires a change-feed listener into the loop. Every
// (re)subscription and resync rehydrates the tree, since notifications may
// have been missed.
func (c *Client) FeedCallbacks() changefeed.Callbacks {
	return changefeed.Callbacks{
		OnConnect: c.rehydrate,
		OnResync:  c.rehydrate,
		OnChange:  func(n models.ChangeNotification) { c.post(changeMsg{n: n}) },
	}
}

func (c *Client) rehydrate() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	defer cancel()
	if err := c.Hydrate(ctx); err != nil {
		c.logger.Warn("client: rehydrate failed", slog.String("error", err.Error()))
	}
}

// Hydrate replaces the tree with the server's current workspaces.
func (c *Client) Hydrate(ctx context.Context) error {
	ws, err := c.opts.Backend.Workspaces(ctx, c.opts.OwnerID)
	if err != nil {
		return fmt.Errorf("client: hydrate: %w", err)
	}
	reply := make(chan error, 1)
	return requestErr(ctx, c, hydrateMsg{workspaces: ws, reply: reply}, reply)
}

// Navigate opens ref in the editor, or shows the dashboard when ref is nil.
// The current document is closed first: its room and presence channel are
// left and its pending write is flushed (or dropped, per DropPendingOnClose).
func (c *Client) Navigate(ctx context.Context, ref models.DocumentRef) error {
	if ref == nil {
		reply := make(chan error, 1)
		return requestErr(ctx, c, dashboardMsg{reply: reply}, reply)
	}
	detail, model, err := c.fetch(ctx, ref)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	return requestErr(ctx, c, openMsg{ref: ref, detail: detail, model: model, reply: reply}, reply)
}

// Edit applies a local change to the open document, relays it to peers and
// schedules the durable write.
func (c *Client) Edit(ctx context.Context, change *delta.Delta) error {
	reply := make(chan error, 1)
	return requestErr(ctx, c, editMsg{change: change, reply: reply}, reply)
}

// MoveCursor broadcasts the local selection. A nil range means the editor
// lost focus.
func (c *Client) MoveCursor(ctx context.Context, r *models.Range) error {
	reply := make(chan error, 1)
	return requestErr(ctx, c, cursorMsg{rng: r, reply: reply}, reply)
}

// UpdateMetadata optimistically patches title, icon, banner or trash marker
// of ref and writes it through at once. Content is never touched here.
func (c *Client) UpdateMetadata(ctx context.Context, ref models.DocumentRef, p models.Patch) error {
	p = p.WithoutContent()
	if p.Empty() {
		return nil
	}
	reply := make(chan error, 1)
	if err := requestErr(ctx, c, patchMsg{ref: ref, patch: p, reply: reply}, reply); err != nil {
		return err
	}
	if err := c.opts.Backend.UpdateDocument(ctx, ref.DocumentID(), p); err != nil {
		perr := &apperr.PersistenceError{DocumentID: ref.DocumentID(), Err: err}
		c.notify(Notice{Kind: NoticePersistence, DocumentID: ref.DocumentID(), Err: perr})
		return perr
	}
	return nil
}

// Create inserts a document on the server and adds it to the local tree
// without waiting for the change feed. The feed's insert is then a duplicate.
func (c *Client) Create(ctx context.Context, req docservice.CreateRequest) (*docservice.DocumentDetail, error) {
	detail, err := c.opts.Backend.CreateDocument(ctx, req)
	if err != nil {
		return nil, err
	}
	c.post(changeMsg{n: models.ChangeNotification{
		EventType: models.ChangeInsert,
		Table:     models.DocumentsTable,
		Row: models.ChangeRow{
			ID: detail.ID, Kind: detail.Kind, ParentID: detail.ParentID, WorkspaceID: detail.WorkspaceID,
			OwnerID: detail.OwnerID, Title: detail.Title, IconID: detail.IconID, BannerURL: detail.BannerURL,
			TrashedReason: detail.TrashedReason, CreatedAt: detail.CreatedAt,
		},
	}})
	return detail, nil
}

// State returns a consistent snapshot taken on the loop.
func (c *Client) State(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	return request(ctx, c, stateMsg{reply: reply}, reply)
}

func (c *Client) fetch(ctx context.Context, ref models.DocumentRef) (*docservice.DocumentDetail, *delta.Delta, error) {
	id := ref.DocumentID()
	detail, err := c.opts.Backend.Document(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("client: open %s: %w", id, err)
	}
	if detail.Kind != ref.Kind() {
		return nil, nil, fmt.Errorf("client: open %s: %w: is a %s", id, apperr.ErrNotFound, detail.Kind)
	}
	model, err := delta.ParseDocument(detail.Content)
	if err != nil {
		return nil, nil, fmt.Errorf("client: open %s: %w", id, err)
	}
	return detail, model, nil
}

// Loop-side handlers below.

func (c *Client) send(f wire.Frame) {
	if err := c.opts.Transport.Send(f); err != nil {
		c.logger.Debug("client: frame dropped",
			slog.String("event", f.Event),
			slog.String("error", err.Error()))
	}
}

func (c *Client) notify(n Notice) {
	select {
	case c.notices <- n:
	default:
		c.logger.Debug("client: notice dropped", slog.String("kind", n.Kind.String()))
	}
}

func (c *Client) openDocument(m openMsg) error {
	if m.auto && m.gen != c.navGen {
		return nil
	}
	if !m.auto {
		c.closeSession(false)
		c.navGen++
	}

	id := m.ref.DocumentID()
	c.location = m.ref
	c.open = &session{
		ref:   m.ref,
		model: m.model,
		sub:   presence.NewSubscription(id, c.opts.Self, c.opts.Colors),
	}
	if m.detail.Content != nil {
		c.debouncer.MarkSaved(id, *m.detail.Content)
		c.store.Dispatch(tree.PatchAction(m.ref, models.Patch{Content: m.detail.Content}))
	}
	c.join()
	c.logger.Debug("client: opened", slog.String("document", id))
	return nil
}

// join enters the open document's room and presence channel.
func (c *Client) join() {
	s := c.open
	id := s.ref.DocumentID()
	c.send(wire.Frame{Event: wire.EventCreateRoom, DocumentID: id})
	s.sub.Reset()
	f, err := s.sub.Subscribe()
	if err != nil {
		c.logger.Warn("client: presence subscribe", slog.String("error", err.Error()))
		return
	}
	c.send(f)
}

// rejoin restores room and presence membership after a reconnect. There is
// no replay: deltas relayed during the gap are lost to this view.
func (c *Client) rejoin() {
	if c.open != nil {
		c.join()
	}
}

// closeSession leaves the open document. drop discards its pending write
// because the document no longer exists.
func (c *Client) closeSession(drop bool) {
	s := c.open
	if s == nil {
		return
	}
	c.open = nil
	c.leave(s)

	id := s.ref.DocumentID()
	switch {
	case drop:
		c.debouncer.Forget(id)
	case c.opts.DropPendingOnClose:
		c.debouncer.Cancel(id)
	case c.debouncer.Pending(id):
		go func() {
			if err := c.debouncer.Flush(id); err != nil {
				c.logger.Warn("client: flush on close failed",
					slog.String("document", id),
					slog.String("error", err.Error()))
			}
		}()
	}
}

// leave exits the room and presence channel of s.
func (c *Client) leave(s *session) {
	id := s.ref.DocumentID()
	c.send(wire.Frame{Event: wire.EventLeaveRoom, DocumentID: id})
	if f, ok := s.sub.Unsubscribe(); ok {
		c.send(f)
	}
}

func (c *Client) edit(change *delta.Delta) error {
	s := c.open
	if s == nil {
		return ErrNoDocument
	}
	id := s.ref.DocumentID()
	next, err := delta.Apply(s.model, change)
	if err != nil {
		return &apperr.MalformedDelta{DocumentID: id, Err: err}
	}
	content, err := delta.Marshal(next)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(change)
	if err != nil {
		return err
	}

	s.model = next
	c.store.Dispatch(tree.PatchAction(s.ref, models.Patch{Content: &content}))
	c.send(wire.Frame{Event: wire.EventSendChanges, DocumentID: id, Delta: raw})
	c.debouncer.Edit(id, content)
	return nil
}

func (c *Client) moveCursor(r *models.Range) error {
	s := c.open
	if s == nil {
		return ErrNoDocument
	}
	c.send(wire.Frame{
		Event:      wire.EventSendCursorMove,
		DocumentID: s.ref.DocumentID(),
		Range:      r,
		CursorID:   c.opts.Self.UserID,
	})
	return nil
}

func (c *Client) handleFrame(f wire.Frame) {
	if f.Event == wire.EventError {
		c.logger.Warn("client: relay error", slog.String("message", f.Message))
		return
	}
	s := c.open
	if s == nil || f.DocumentID != s.ref.DocumentID() {
		return
	}

	switch f.Event {
	case wire.EventReceiveChanges:
		c.applyRemote(s, f.Delta)

	case wire.EventReceiveCursorMove:
		s.sub.MoveCursor(f.CursorID, f.Range)

	case wire.EventPresenceSubscribed:
		track, err := s.sub.Confirm()
		if err != nil {
			c.logger.Debug("client: presence confirm", slog.String("error", err.Error()))
			return
		}
		c.send(track)

	case wire.EventPresenceSync:
		if err := s.sub.Sync(f.Members); err != nil {
			c.logger.Debug("client: presence sync", slog.String("error", err.Error()))
		}
	}
}

// applyRemote applies a relayed delta synchronously, in receipt order. A
// delta that cannot be applied is reported and skipped; it is never retried.
func (c *Client) applyRemote(s *session, raw json.RawMessage) {
	id := s.ref.DocumentID()
	fail := func(err error) {
		merr := &apperr.MalformedDelta{DocumentID: id, Err: err}
		c.logger.Warn("client: remote delta skipped", slog.String("error", merr.Error()))
		c.notify(Notice{Kind: NoticeMalformedDelta, DocumentID: id, Err: merr})
	}

	change, err := delta.Parse(raw)
	if err != nil {
		fail(err)
		return
	}
	next, err := delta.Apply(s.model, change)
	if err != nil {
		fail(err)
		return
	}
	content, err := delta.Marshal(next)
	if err != nil {
		fail(err)
		return
	}
	s.model = next
	c.store.Dispatch(tree.PatchAction(s.ref, models.Patch{Content: &content}))
}

func (c *Client) reconcile(n models.ChangeNotification) {
	out, err := changefeed.Reconcile(c.store.State(), changefeed.View{
		OwnerID: c.opts.OwnerID,
		Open:    c.location,
	}, n)
	if err != nil {
		c.logger.Debug("client: notification ignored",
			slog.String("type", string(n.EventType)),
			slog.String("error", err.Error()))
		return
	}
	if out.Navigate {
		c.navigateAway(out.Destination)
	}
	for _, a := range out.Actions {
		c.store.Dispatch(a)
	}
}

// navigateAway leaves a document that no longer exists and shows dest,
// loading its editor model in the background.
func (c *Client) navigateAway(dest models.DocumentRef) {
	c.closeSession(true)
	c.navGen++
	c.location = dest
	if dest == nil {
		return
	}
	gen := c.navGen
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
		defer cancel()
		detail, model, err := c.fetch(ctx, dest)
		if err != nil {
			c.logger.Warn("client: load after navigation failed", slog.String("error", err.Error()))
			return
		}
		c.post(openMsg{ref: dest, detail: detail, model: model, auto: true, gen: gen, reply: make(chan error, 1)})
	}()
}

func (c *Client) hydrate(ws []models.Workspace) {
	state := c.store.Dispatch(tree.ReplaceWorkspaces{Workspaces: ws})

	// The live model stays authoritative for the open document.
	if s := c.open; s != nil && state.Has(s.ref) {
		if content, err := delta.Marshal(s.model); err == nil {
			state = c.store.Dispatch(tree.PatchAction(s.ref, models.Patch{Content: &content}))
		}
	}

	if c.location != nil && !state.Has(c.location) {
		dest := models.Parent(c.location)
		for dest != nil && !state.Has(dest) {
			dest = models.Parent(dest)
		}
		c.navigateAway(dest)
	}
}

func (c *Client) snapshot() State {
	st := State{Location: c.location, Tree: c.store.State()}
	if s := c.open; s != nil {
		st.Open = true
		if content, err := delta.Marshal(s.model); err == nil {
			st.Content = content
		}
		st.Presence = s.sub.State()
		st.Collaborators = s.sub.Collaborators()
		st.Cursors = s.sub.Cursors()
	}
	return st
}

// persist is the debouncer's write: a content-only durable write.
func (c *Client) persist(ctx context.Context, documentID, content string) error {
	return c.opts.Backend.UpdateDocument(ctx, documentID, models.Patch{Content: &content})
}

func (c *Client) onSaveStatus(documentID string, status debounce.Status, err error) {
	if status != debounce.StatusFailed {
		return
	}
	perr := &apperr.PersistenceError{DocumentID: documentID, Err: err}
	c.logger.Warn("client: save failed", slog.String("error", perr.Error()))
	c.notify(Notice{Kind: NoticePersistence, DocumentID: documentID, Err: perr})
}
