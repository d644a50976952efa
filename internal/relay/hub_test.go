package relay

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/starford/quire/internal/models"
	"github.com/starford/quire/internal/wire"
)

func next(t *testing.T, p *Peer) wire.Frame {
	t.Helper()
	done := make(chan struct{})
	timer := time.AfterFunc(time.Second, func() { close(done) })
	defer timer.Stop()
	f, ok := p.Next(done)
	if !ok {
		t.Fatalf("peer %s received nothing", p.ID())
	}
	return f
}

func pending(p *Peer) int {
	return len(p.ordered) + len(p.cursor)
}

func deltaFrame(i int) wire.Frame {
	return wire.Frame{
		Event: wire.EventSendChanges,
		Delta: json.RawMessage(fmt.Sprintf(`{"ops":[{"insert":"%d"}]}`, i)),
	}
}

func TestBroadcastExcludesOrigin(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	a, b, c := NewPeer("a", 8, 8), NewPeer("b", 8, 8), NewPeer("c", 8, 8)
	h.Join("f1", a)
	h.Join("f1", b)
	h.Join("f2", c)
	h.Join("f1", a)
	if n := h.RoomSize("f1"); n != 2 {
		t.Fatalf("room size = %d, want 2", n)
	}

	h.BroadcastDelta("f1", deltaFrame(1), a)
	h.RoomSize("f1")

	f := next(t, b)
	if f.Event != wire.EventReceiveChanges || f.DocumentID != "f1" {
		t.Fatalf("unexpected frame %+v", f)
	}
	if pending(a) != 0 {
		t.Error("origin received its own delta")
	}
	if pending(c) != 0 {
		t.Error("peer of another room received the delta")
	}
}

func TestDeltasKeepSubmitOrder(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	a, b := NewPeer("a", 128, 8), NewPeer("b", 128, 8)
	h.Join("f1", a)
	h.Join("f1", b)

	for i := range 100 {
		h.BroadcastDelta("f1", deltaFrame(i), a)
	}
	for i := range 100 {
		f := next(t, b)
		want := fmt.Sprintf(`{"ops":[{"insert":"%d"}]}`, i)
		if string(f.Delta) != want {
			t.Fatalf("frame %d = %s, want %s", i, f.Delta, want)
		}
	}
}

func TestCursorLaneDoesNotDelayDeltas(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	a, b := NewPeer("a", 8, 8), NewPeer("b", 8, 8)
	h.Join("f1", a)
	h.Join("f1", b)

	h.BroadcastCursor("f1", wire.Frame{Event: wire.EventSendCursorMove, CursorID: "a", Range: &models.Range{Index: 1}}, a)
	h.BroadcastDelta("f1", deltaFrame(1), a)
	h.RoomSize("f1")

	if f := next(t, b); f.Event != wire.EventReceiveChanges {
		t.Fatalf("expected delta first, got %s", f.Event)
	}
	if f := next(t, b); f.Event != wire.EventReceiveCursorMove || f.CursorID != "a" {
		t.Fatalf("expected cursor move, got %+v", f)
	}
}

func TestCursorOverflowDrops(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	a, b := NewPeer("a", 8, 2), NewPeer("b", 8, 2)
	h.Join("f1", a)
	h.Join("f1", b)

	for i := range 5 {
		h.BroadcastCursor("f1", wire.Frame{CursorID: "a", Range: &models.Range{Index: i}}, a)
	}
	if n := h.RoomSize("f1"); n != 2 {
		t.Fatalf("cursor overflow must not evict, room size = %d", n)
	}
	if len(b.cursor) != 2 {
		t.Fatalf("cursor lane holds %d frames, want 2", len(b.cursor))
	}
}

func TestOrderedOverflowEvicts(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	a, b := NewPeer("a", 8, 8), NewPeer("b", 2, 8)
	h.Join("f1", a)
	h.Join("f1", b)
	h.Join("f2", b)

	for i := range 3 {
		h.BroadcastDelta("f1", deltaFrame(i), a)
	}
	if n := h.RoomSize("f1"); n != 1 {
		t.Fatalf("room size after eviction = %d, want 1", n)
	}
	if n := h.RoomSize("f2"); n != 0 {
		t.Fatalf("evicted peer still in f2, size = %d", n)
	}
	select {
	case <-b.Evicted():
	default:
		t.Fatal("slow peer was not evicted")
	}
	if b.Send(deltaFrame(9)) {
		t.Error("evicted peer accepted a frame")
	}
}

func TestLeaveAndDisconnect(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	a := NewPeer("a", 8, 8)
	h.Join("f1", a)
	h.Join("f2", a)
	h.Leave("f1", a)
	if n := h.RoomSize("f1"); n != 0 {
		t.Fatalf("f1 size = %d", n)
	}
	h.Disconnect(a)
	if n := h.RoomSize("f2"); n != 0 {
		t.Fatalf("f2 size = %d", n)
	}
}

func TestCloseEvictsPeers(t *testing.T) {
	h := NewHub(nil)
	a := NewPeer("a", 8, 8)
	h.Join("f1", a)
	h.RoomSize("f1")
	h.Close()

	select {
	case <-a.Evicted():
	default:
		t.Fatal("peer not evicted on close")
	}
	if n := h.RoomSize("f1"); n != 0 {
		t.Fatalf("closed hub size = %d", n)
	}
}
