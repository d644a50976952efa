package presence

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/starford/quire/internal/models"
	"github.com/starford/quire/internal/wire"
)

var (
	alice = models.PresenceRecord{UserID: "alice", DisplayLabel: "Alice", AvatarURL: "a.png"}
	bob   = models.PresenceRecord{UserID: "bob", DisplayLabel: "Bob"}
	carol = models.PresenceRecord{UserID: "carol", DisplayLabel: "Carol"}
)

func fixedColors(userID string, sync uint64) string {
	return fmt.Sprintf("%s-%d", userID, sync)
}

func subscribed(t *testing.T) *Subscription {
	t.Helper()
	s := NewSubscription("f1", alice, fixedColors)
	_, err := s.Subscribe()
	require.NoError(t, err)
	_, err = s.Confirm()
	require.NoError(t, err)
	return s
}

func TestSubscriptionLifecycle(t *testing.T) {
	s := NewSubscription("f1", alice, fixedColors)
	require.Equal(t, StateUnsubscribed, s.State())

	frame, err := s.Subscribe()
	require.NoError(t, err)
	require.Equal(t, wire.Frame{Event: wire.EventPresenceSubscribe, DocumentID: "f1"}, frame)
	require.Equal(t, StateSubscribing, s.State())

	_, err = s.Subscribe()
	require.Error(t, err)

	frame, err = s.Confirm()
	require.NoError(t, err)
	require.Equal(t, wire.EventPresenceTrack, frame.Event)
	require.Equal(t, alice, *frame.Presence)
	require.Equal(t, StateSubscribed, s.State())

	frame, ok := s.Unsubscribe()
	require.True(t, ok)
	require.Equal(t, wire.EventPresenceUnsubscribe, frame.Event)
	require.Equal(t, StateUnsubscribed, s.State())

	_, ok = s.Unsubscribe()
	require.False(t, ok)
}

func TestConfirmRequiresSubscribing(t *testing.T) {
	s := NewSubscription("f1", alice, nil)
	_, err := s.Confirm()
	require.Error(t, err)
}

func TestSyncBeforeSubscribedFails(t *testing.T) {
	s := NewSubscription("f1", alice, nil)
	require.Error(t, s.Sync([]models.PresenceRecord{bob}))
}

func TestSyncReplacesCollaborators(t *testing.T) {
	s := subscribed(t)

	require.NoError(t, s.Sync([]models.PresenceRecord{alice, bob, carol}))
	require.Equal(t, []models.PresenceRecord{alice, bob, carol}, s.Collaborators())

	require.NoError(t, s.Sync([]models.PresenceRecord{alice, carol}))
	require.Equal(t, []models.PresenceRecord{alice, carol}, s.Collaborators())

	_, ok := s.Cursor("bob")
	require.False(t, ok, "cursor of a departed peer must be removed")
}

func TestSyncRecreatesPeerCursorsOnly(t *testing.T) {
	s := subscribed(t)
	require.NoError(t, s.Sync([]models.PresenceRecord{alice, bob}))

	cursors := s.Cursors()
	require.Len(t, cursors, 1)
	require.Equal(t, models.CursorState{UserID: "bob", DisplayLabel: "Bob", Color: "bob-1"}, cursors[0])

	require.True(t, s.MoveCursor("bob", &models.Range{Index: 3, Length: 2}))
	require.NoError(t, s.Sync([]models.PresenceRecord{alice, bob}))

	c, ok := s.Cursor("bob")
	require.True(t, ok)
	require.Equal(t, "bob-2", c.Color)
	require.Nil(t, c.Range, "recreated decoration starts without a selection")
}

func TestMoveCursorIgnoresUnknownPeers(t *testing.T) {
	s := subscribed(t)
	require.NoError(t, s.Sync([]models.PresenceRecord{alice, bob}))

	require.False(t, s.MoveCursor("mallory", &models.Range{Index: 1}))
	require.False(t, s.MoveCursor("alice", &models.Range{Index: 1}), "local user has no decoration")

	r := &models.Range{Index: 4, Length: 1}
	require.True(t, s.MoveCursor("bob", r))
	r.Index = 99
	c, _ := s.Cursor("bob")
	require.Equal(t, 4, c.Range.Index)

	require.True(t, s.MoveCursor("bob", nil))
	c, _ = s.Cursor("bob")
	require.Nil(t, c.Range)
}

func TestResetClearsState(t *testing.T) {
	s := subscribed(t)
	require.NoError(t, s.Sync([]models.PresenceRecord{alice, bob}))

	s.Reset()
	require.Equal(t, StateUnsubscribed, s.State())
	require.Empty(t, s.Collaborators())
	require.Empty(t, s.Cursors())

	_, err := s.Subscribe()
	require.NoError(t, err)
}

func TestRandomColorIsStablePerSync(t *testing.T) {
	require.Equal(t, RandomColor("bob", 3), RandomColor("bob", 3))
	require.Regexp(t, `^#[0-9a-f]{6}$`, RandomColor("bob", 1))
}
