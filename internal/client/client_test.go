package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/debounce"
	"github.com/starford/quire/internal/delta"
	"github.com/starford/quire/internal/docservice"
	"github.com/starford/quire/internal/models"
	"github.com/starford/quire/internal/presence"
	"github.com/starford/quire/internal/testutil"
	"github.com/starford/quire/internal/wire"
)

var (
	t0       = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	alice    = models.PresenceRecord{UserID: "alice", DisplayLabel: "Alice"}
	file1Ref = models.FileRef{FileID: "f1", FolderID: "fo1", WorkspaceID: "w1"}
	file2Ref = models.FileRef{FileID: "f2", FolderID: "fo1", WorkspaceID: "w1"}
)

type update struct {
	id    string
	patch models.Patch
}

type fakeBackend struct {
	mu         sync.Mutex
	docs       map[string]docservice.DocumentDetail
	workspaces []models.Workspace
	updates    []update
	failWrites error
}

func newFakeBackend() *fakeBackend {
	draft := `{"ops":[{"insert":"draft\n"}]}`
	b := &fakeBackend{docs: map[string]docservice.DocumentDetail{
		"w1":  {ID: "w1", Kind: models.KindWorkspace, WorkspaceID: "w1", OwnerID: "alice", Title: "Team", CreatedAt: t0},
		"fo1": {ID: "fo1", Kind: models.KindFolder, ParentID: "w1", WorkspaceID: "w1", Title: "Notes", CreatedAt: t0.Add(time.Minute)},
		"f1":  {ID: "f1", Kind: models.KindFile, ParentID: "fo1", WorkspaceID: "w1", Title: "Todo", CreatedAt: t0.Add(2 * time.Minute)},
		"f2":  {ID: "f2", Kind: models.KindFile, ParentID: "fo1", WorkspaceID: "w1", Title: "Draft", Content: &draft, CreatedAt: t0.Add(3 * time.Minute)},
	}}
	b.workspaces = []models.Workspace{{
		ID: "w1", OwnerID: "alice", Title: "Team", CreatedAt: t0,
		Folders: []models.Folder{{
			ID: "fo1", Title: "Notes", CreatedAt: t0.Add(time.Minute),
			Files: []models.File{
				{ID: "f1", Title: "Todo", CreatedAt: t0.Add(2 * time.Minute)},
				{ID: "f2", Title: "Draft", Content: &draft, CreatedAt: t0.Add(3 * time.Minute)},
			},
		}},
	}}
	return b
}

func (b *fakeBackend) Workspaces(_ context.Context, _ string) ([]models.Workspace, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.workspaces, nil
}

func (b *fakeBackend) Document(_ context.Context, id string) (*docservice.DocumentDetail, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.docs[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &d, nil
}

func (b *fakeBackend) UpdateDocument(_ context.Context, id string, p models.Patch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWrites != nil {
		return b.failWrites
	}
	b.updates = append(b.updates, update{id: id, patch: p})
	if d, ok := b.docs[id]; ok && p.Content != nil {
		d.Content = p.Content
		b.docs[id] = d
	}
	return nil
}

func (b *fakeBackend) CreateDocument(_ context.Context, req docservice.CreateRequest) (*docservice.DocumentDetail, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	parent := b.docs[req.ParentID]
	d := docservice.DocumentDetail{
		ID: req.ID, Kind: req.Kind, ParentID: req.ParentID, WorkspaceID: parent.WorkspaceID,
		Title: req.Title, CreatedAt: t0.Add(time.Hour),
	}
	b.docs[d.ID] = d
	return &d, nil
}

func (b *fakeBackend) writes() []update {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]update(nil), b.updates...)
}

func (b *fakeBackend) fail(err error) {
	b.mu.Lock()
	b.failWrites = err
	b.mu.Unlock()
}

type fakeTransport struct {
	mu     sync.Mutex
	frames []wire.Frame
}

func (f *fakeTransport) Send(fr wire.Frame) error {
	f.mu.Lock()
	f.frames = append(f.frames, fr)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, fr := range f.frames {
		if fr.Event == event {
			n++
		}
	}
	return n
}

func (f *fakeTransport) last(event string) (wire.Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.frames) - 1; i >= 0; i-- {
		if f.frames[i].Event == event {
			return f.frames[i], true
		}
	}
	return wire.Frame{}, false
}

type harness struct {
	c       *Client
	backend *fakeBackend
	tr      *fakeTransport
	clock   clockwork.FakeClock
	ctx     context.Context
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{backend: newFakeBackend(), tr: &fakeTransport{}, clock: clockwork.NewFakeClock()}
	opts := Options{
		Self:      alice,
		OwnerID:   "alice",
		Backend:   h.backend,
		Transport: h.tr,
		Clock:     h.clock,
		Logger:    testutil.Logger(),
		Colors:    func(userID string, sync uint64) string { return fmt.Sprintf("%s-%d", userID, sync) },
	}
	for _, m := range mutate {
		m(&opts)
	}
	h.c = New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	h.ctx = ctx
	done := make(chan struct{})
	go func() {
		_ = h.c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	if err := h.c.Hydrate(ctx); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	return h
}

func (h *harness) state(t *testing.T) State {
	t.Helper()
	st, err := h.c.State(h.ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	return st
}

func (h *harness) open(t *testing.T, ref models.DocumentRef) {
	t.Helper()
	if err := h.c.Navigate(h.ctx, ref); err != nil {
		t.Fatalf("navigate: %v", err)
	}
}

func text(t *testing.T, content string) string {
	t.Helper()
	d, err := delta.ParseDocument(&content)
	if err != nil {
		t.Fatalf("parse %q: %v", content, err)
	}
	return d.Text()
}

func typeText(t *testing.T, h *harness, at int, s string) {
	t.Helper()
	for i, r := range s {
		if err := h.c.Edit(h.ctx, delta.New().Retain(at+i, nil).Insert(string(r), nil)); err != nil {
			t.Fatalf("edit: %v", err)
		}
	}
}

func TestTypingCoalescesIntoOneWrite(t *testing.T) {
	h := newHarness(t)
	h.open(t, file1Ref)

	typeText(t, h, 0, "hello")

	if n := len(h.backend.writes()); n != 0 {
		t.Fatalf("writes before quiescence = %d", n)
	}
	if s := h.c.SaveStatus("f1"); s != debounce.StatusSaving {
		t.Errorf("status = %v, want saving", s)
	}
	if n := h.tr.count(wire.EventSendChanges); n != 5 {
		t.Errorf("relayed deltas = %d, want 5", n)
	}

	h.clock.Advance(debounce.DefaultWindow)
	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		return len(h.backend.writes()) == 1
	}, "one durable write after quiescence")

	w := h.backend.writes()[0]
	if w.id != "f1" || w.patch.Content == nil || text(t, *w.patch.Content) != "hello\n" {
		t.Fatalf("unexpected write %+v", w)
	}
	if w.patch.Title != nil {
		t.Error("content write must not carry metadata")
	}
	testutil.Eventually(t, time.Second, 5*time.Millisecond, func() bool {
		return h.c.SaveStatus("f1") == debounce.StatusSaved
	}, "status should become saved")
}

func TestOpenJoinsRoomAndPresence(t *testing.T) {
	h := newHarness(t)
	h.open(t, file2Ref)

	st := h.state(t)
	if !st.Open || text(t, st.Content) != "draft\n" {
		t.Fatalf("open state = %+v", st)
	}
	if st.Location != file2Ref {
		t.Errorf("location = %v", st.Location)
	}
	if h.tr.count(wire.EventCreateRoom) != 1 || h.tr.count(wire.EventPresenceSubscribe) != 1 {
		t.Fatal("open should join the room and subscribe presence")
	}
	if st.Presence != presence.StateSubscribing {
		t.Errorf("presence = %v, want subscribing", st.Presence)
	}

	h.c.OnFrame(wire.Frame{Event: wire.EventPresenceSubscribed, DocumentID: "f2"})
	st = h.state(t)
	if st.Presence != presence.StateSubscribed {
		t.Fatalf("presence = %v, want subscribed", st.Presence)
	}
	track, ok := h.tr.last(wire.EventPresenceTrack)
	if !ok || track.Presence == nil || track.Presence.UserID != "alice" {
		t.Fatalf("track frame = %+v", track)
	}
}

func TestPresenceSyncReplacesCollaborators(t *testing.T) {
	h := newHarness(t)
	h.open(t, file1Ref)
	h.c.OnFrame(wire.Frame{Event: wire.EventPresenceSubscribed, DocumentID: "f1"})

	bob := models.PresenceRecord{UserID: "bob", DisplayLabel: "Bob"}
	carol := models.PresenceRecord{UserID: "carol", DisplayLabel: "Carol"}
	h.c.OnFrame(wire.Frame{Event: wire.EventPresenceSync, DocumentID: "f1", Members: []models.PresenceRecord{alice, bob, carol}})
	h.c.OnFrame(wire.Frame{Event: wire.EventPresenceSync, DocumentID: "f1", Members: []models.PresenceRecord{alice, carol}})

	st := h.state(t)
	if len(st.Collaborators) != 2 || st.Collaborators[1].UserID != "carol" {
		t.Fatalf("collaborators = %+v", st.Collaborators)
	}
	if len(st.Cursors) != 1 || st.Cursors[0].UserID != "carol" || st.Cursors[0].Color != "carol-2" {
		t.Fatalf("cursors = %+v", st.Cursors)
	}

	h.c.OnFrame(wire.Frame{Event: wire.EventReceiveCursorMove, DocumentID: "f1", CursorID: "carol", Range: &models.Range{Index: 3, Length: 2}})
	h.c.OnFrame(wire.Frame{Event: wire.EventReceiveCursorMove, DocumentID: "f1", CursorID: "bob", Range: &models.Range{Index: 1}})
	st = h.state(t)
	if len(st.Cursors) != 1 || st.Cursors[0].Range == nil || st.Cursors[0].Range.Index != 3 {
		t.Fatalf("cursors after move = %+v", st.Cursors)
	}
}

func TestRemoteDeltaAppliesInOrder(t *testing.T) {
	h := newHarness(t)
	h.open(t, file1Ref)

	for i, r := range "abc" {
		raw := fmt.Sprintf(`{"ops":[{"retain":%d},{"insert":%q}]}`, i, string(r))
		if i == 0 {
			raw = fmt.Sprintf(`{"ops":[{"insert":%q}]}`, string(r))
		}
		h.c.OnFrame(wire.Frame{Event: wire.EventReceiveChanges, DocumentID: "f1", Delta: []byte(raw)})
	}

	st := h.state(t)
	if got := text(t, st.Content); got != "abc\n" {
		t.Fatalf("content = %q", got)
	}
	node, _ := st.Tree.Get(file1Ref)
	if node.Content == nil || text(t, *node.Content) != "abc\n" {
		t.Error("tree should mirror the live model")
	}
	h.clock.Advance(debounce.DefaultWindow)
	time.Sleep(20 * time.Millisecond)
	if n := len(h.backend.writes()); n != 0 {
		t.Errorf("remote deltas must not be persisted by the receiver, got %d writes", n)
	}
}

func TestMalformedRemoteDeltaIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.open(t, file2Ref)

	h.c.OnFrame(wire.Frame{Event: wire.EventReceiveChanges, DocumentID: "f2", Delta: []byte(`{"ops":[{"retain":500},{"insert":"x"}]}`)})
	h.c.OnFrame(wire.Frame{Event: wire.EventReceiveChanges, DocumentID: "f2", Delta: []byte(`not json`)})
	h.c.OnFrame(wire.Frame{Event: wire.EventReceiveChanges, DocumentID: "f2", Delta: []byte(`{"ops":[{"insert":"ok "}]}`)})

	st := h.state(t)
	if got := text(t, st.Content); got != "ok draft\n" {
		t.Fatalf("content = %q", got)
	}
	for i := 0; i < 2; i++ {
		select {
		case n := <-h.c.Notices():
			if n.Kind != NoticeMalformedDelta || !errors.Is(n.Err, apperr.ErrMalformedDelta) {
				t.Errorf("notice = %+v", n)
			}
		case <-time.After(time.Second):
			t.Fatal("expected malformed delta notice")
		}
	}
}

func TestFramesForOtherDocumentsIgnored(t *testing.T) {
	h := newHarness(t)
	h.open(t, file1Ref)
	h.c.OnFrame(wire.Frame{Event: wire.EventReceiveChanges, DocumentID: "f2", Delta: []byte(`{"ops":[{"insert":"x"}]}`)})
	if got := text(t, h.state(t).Content); got != "\n" {
		t.Fatalf("content = %q", got)
	}
}

func TestUpdateNotificationKeepsLiveContent(t *testing.T) {
	h := newHarness(t)
	h.open(t, file2Ref)
	typeText(t, h, 0, "new ")

	h.c.FeedCallbacks().OnChange(models.ChangeNotification{
		EventType: models.ChangeUpdate, Table: models.DocumentsTable,
		Row: models.ChangeRow{ID: "f2", Kind: models.KindFile, ParentID: "fo1", WorkspaceID: "w1", Title: "Renamed"},
	})

	st := h.state(t)
	node, ok := st.Tree.Get(file2Ref)
	if !ok || node.Title != "Renamed" {
		t.Fatalf("node = %+v", node)
	}
	if node.Content == nil || text(t, *node.Content) != "new draft\n" {
		t.Fatalf("live content overwritten: %v", node.Content)
	}
	if text(t, st.Content) != "new draft\n" {
		t.Fatalf("editor content = %q", st.Content)
	}
}

func TestDeleteOfOpenFileNavigatesToFolder(t *testing.T) {
	h := newHarness(t)
	h.open(t, file1Ref)
	typeText(t, h, 0, "lost")

	h.c.FeedCallbacks().OnChange(models.ChangeNotification{
		EventType: models.ChangeDelete, Table: models.DocumentsTable,
		Row: models.ChangeRow{ID: "f1", Kind: models.KindFile, ParentID: "fo1", WorkspaceID: "w1"},
	})

	st := h.state(t)
	folder := models.FolderRef{FolderID: "fo1", WorkspaceID: "w1"}
	if st.Location != folder {
		t.Fatalf("location = %v, want %v", st.Location, folder)
	}
	if st.Tree.Has(file1Ref) {
		t.Fatal("deleted file should be removed from the tree")
	}
	if h.tr.count(wire.EventLeaveRoom) != 1 {
		t.Error("should leave the deleted document's room")
	}

	h.clock.Advance(debounce.DefaultWindow)
	testutil.Eventually(t, time.Second, 5*time.Millisecond, func() bool {
		st := h.state(t)
		return st.Open && st.Location == folder
	}, "folder view should load")
	for _, w := range h.backend.writes() {
		if w.id == "f1" {
			t.Fatal("pending write of a deleted document must be dropped")
		}
	}
}

func TestHydrationAfterGapKeepsLiveContent(t *testing.T) {
	h := newHarness(t)
	h.open(t, file2Ref)
	typeText(t, h, 0, "x")

	if err := h.c.Hydrate(h.ctx); err != nil {
		t.Fatal(err)
	}
	node, _ := h.state(t).Tree.Get(file2Ref)
	if node.Content == nil || text(t, *node.Content) != "xdraft\n" {
		t.Fatalf("content after hydrate = %v", node.Content)
	}
}

func TestHydrationMissingOpenDocumentNavigatesUp(t *testing.T) {
	h := newHarness(t)
	h.open(t, file2Ref)

	h.backend.mu.Lock()
	h.backend.workspaces[0].Folders[0].Files = h.backend.workspaces[0].Folders[0].Files[:1]
	h.backend.mu.Unlock()

	if err := h.c.Hydrate(h.ctx); err != nil {
		t.Fatal(err)
	}
	if loc := h.state(t).Location; loc != (models.FolderRef{FolderID: "fo1", WorkspaceID: "w1"}) {
		t.Fatalf("location = %v", loc)
	}
}

func TestCloseFlushesPendingWrite(t *testing.T) {
	h := newHarness(t)
	h.open(t, file1Ref)
	typeText(t, h, 0, "hi")

	if err := h.c.Navigate(h.ctx, nil); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, time.Second, 5*time.Millisecond, func() bool {
		return len(h.backend.writes()) == 1
	}, "close should flush the pending write")
	if h.state(t).Location != nil {
		t.Error("dashboard location should be nil")
	}
	if h.tr.count(wire.EventPresenceUnsubscribe) != 1 {
		t.Error("close should unsubscribe presence")
	}
}

func TestCloseDropsPendingWriteWhenConfigured(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.DropPendingOnClose = true })
	h.open(t, file1Ref)
	typeText(t, h, 0, "hi")

	h.open(t, file2Ref)
	h.clock.Advance(debounce.DefaultWindow)
	time.Sleep(20 * time.Millisecond)
	if n := len(h.backend.writes()); n != 0 {
		t.Fatalf("writes = %d, want 0", n)
	}
}

func TestBlankEditNeverWrites(t *testing.T) {
	h := newHarness(t)
	h.open(t, file2Ref)

	// Select all and delete: the editor is back to its blank state.
	if err := h.c.Edit(h.ctx, delta.New().Delete(6)); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(debounce.DefaultWindow)
	time.Sleep(20 * time.Millisecond)
	if n := len(h.backend.writes()); n != 0 {
		t.Fatalf("blank model must not be written, got %d writes", n)
	}
}

func TestFailedWriteRaisesNotice(t *testing.T) {
	h := newHarness(t)
	h.backend.fail(errors.New("offline"))
	h.open(t, file1Ref)
	typeText(t, h, 0, "a")

	h.clock.Advance(debounce.DefaultWindow)
	select {
	case n := <-h.c.Notices():
		if n.Kind != NoticePersistence || !errors.Is(n.Err, apperr.ErrPersistence) {
			t.Fatalf("notice = %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected persistence notice")
	}
	if s := h.c.SaveStatus("f1"); s != debounce.StatusFailed {
		t.Errorf("status = %v", s)
	}

	// Editing continues and the next cycle retries.
	h.backend.fail(nil)
	typeText(t, h, 1, "b")
	h.clock.Advance(debounce.DefaultWindow)
	testutil.Eventually(t, time.Second, 5*time.Millisecond, func() bool {
		return len(h.backend.writes()) == 1
	}, "next edit should retry")
}

func TestEditWithoutDocument(t *testing.T) {
	h := newHarness(t)
	if err := h.c.Edit(h.ctx, delta.New().Insert("x", nil)); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("Edit = %v", err)
	}
	h.open(t, file1Ref)
	if err := h.c.Edit(h.ctx, delta.New().Retain(99, nil).Insert("x", nil)); !errors.Is(err, apperr.ErrMalformedDelta) {
		t.Fatalf("out of range edit = %v", err)
	}
}

func TestReconnectRejoins(t *testing.T) {
	h := newHarness(t)
	h.open(t, file1Ref)
	h.c.OnFrame(wire.Frame{Event: wire.EventPresenceSubscribed, DocumentID: "f1"})

	h.c.OnConnected()
	st := h.state(t)
	if st.Presence != presence.StateSubscribing {
		t.Fatalf("presence after reconnect = %v", st.Presence)
	}
	if h.tr.count(wire.EventCreateRoom) != 2 || h.tr.count(wire.EventPresenceSubscribe) != 2 {
		t.Fatal("reconnect should rejoin the room and resubscribe presence")
	}
}

func TestCursorMoveCarriesUser(t *testing.T) {
	h := newHarness(t)
	h.open(t, file1Ref)
	if err := h.c.MoveCursor(h.ctx, &models.Range{Index: 2, Length: 1}); err != nil {
		t.Fatal(err)
	}
	f, ok := h.tr.last(wire.EventSendCursorMove)
	if !ok || f.CursorID != "alice" || f.DocumentID != "f1" || f.Range.Index != 2 {
		t.Fatalf("cursor frame = %+v", f)
	}
}

func TestUpdateMetadataIsOptimistic(t *testing.T) {
	h := newHarness(t)
	title := "Plans"
	content := "ignored"
	if err := h.c.UpdateMetadata(h.ctx, file1Ref, models.Patch{Title: &title, Content: &content}); err != nil {
		t.Fatal(err)
	}
	node, _ := h.state(t).Tree.Get(file1Ref)
	if node.Title != "Plans" || node.Content != nil {
		t.Fatalf("node = %+v", node)
	}
	w := h.backend.writes()
	if len(w) != 1 || w[0].patch.Content != nil || *w[0].patch.Title != "Plans" {
		t.Fatalf("writes = %+v", w)
	}
}

func TestCreateThenFeedInsertIsDeduplicated(t *testing.T) {
	h := newHarness(t)
	detail, err := h.c.Create(h.ctx, docservice.CreateRequest{ID: "f3", Kind: models.KindFile, ParentID: "fo1", Title: "New"})
	if err != nil {
		t.Fatal(err)
	}
	h.c.FeedCallbacks().OnChange(models.ChangeNotification{
		EventType: models.ChangeInsert, Table: models.DocumentsTable,
		Row: models.ChangeRow{ID: detail.ID, Kind: models.KindFile, ParentID: "fo1", WorkspaceID: "w1", Title: "New"},
	})
	files := h.state(t).Tree.Workspaces[0].Folders[0].Files
	if len(files) != 3 || files[2].ID != "f3" {
		t.Fatalf("files = %+v", files)
	}
}
