package chat

import (
	"encoding/json"
	"testing"
)

func recvFrame(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case data := <-c.Send:
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return m
	default:
		t.Fatalf("client %s expected a frame, got none", c.ID)
		return nil
	}
}

func requireNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("client %s got an unexpected frame: %s", c.ID, data)
	default:
	}
}

func TestHubBroadcastReachesRoomOnly(t *testing.T) {
	h := NewHub()

	a := NewClient("conn_a", h, nil)
	b := NewClient("conn_b", h, nil)
	other := NewClient("conn_c", h, nil)
	for _, c := range []*Client{a, b, other} {
		h.Register(c)
	}
	a.setRoom("proj_1", "user_a", "Alice")
	b.setRoom("proj_1", "user_b", "Bob")
	other.setRoom("proj_2", "user_c", "Cara")
	h.JoinRoom(a, "proj_1")
	h.JoinRoom(b, "proj_1")
	h.JoinRoom(other, "proj_2")

	h.Broadcast("proj_1", map[string]string{"type": "ping"}, "")

	if got := recvFrame(t, a)["type"]; got != "ping" {
		t.Fatalf("unexpected frame for a: %v", got)
	}
	if got := recvFrame(t, b)["type"]; got != "ping" {
		t.Fatalf("unexpected frame for b: %v", got)
	}
	requireNoFrame(t, other)
}

func TestHubBroadcastHonoursExclusion(t *testing.T) {
	h := NewHub()

	a := NewClient("conn_a", h, nil)
	b := NewClient("conn_b", h, nil)
	h.Register(a)
	h.Register(b)
	a.setRoom("proj_1", "user_a", "Alice")
	b.setRoom("proj_1", "user_b", "Bob")
	h.JoinRoom(a, "proj_1")
	h.JoinRoom(b, "proj_1")

	h.Broadcast("proj_1", map[string]string{"type": "ping"}, a.ID)

	requireNoFrame(t, a)
	recvFrame(t, b)
}

func TestHubUnregisterReapsEmptyRoom(t *testing.T) {
	h := NewHub()

	a := NewClient("conn_a", h, nil)
	h.Register(a)
	a.setRoom("proj_1", "user_a", "Alice")
	h.JoinRoom(a, "proj_1")

	if h.RoomSize("proj_1") != 1 {
		t.Fatal("expected one connection in the room")
	}

	h.Unregister(a)

	if h.RoomSize("proj_1") != 0 {
		t.Fatal("room should be empty after the last connection leaves")
	}
	if _, ok := <-a.Send; ok {
		t.Fatal("send channel should be closed on unregister")
	}

	// A second unregister must be a no-op, not a double close.
	h.Unregister(a)
}

func TestHubJoinRoomMovesConnection(t *testing.T) {
	h := NewHub()

	a := NewClient("conn_a", h, nil)
	h.Register(a)
	a.setRoom("proj_1", "user_a", "Alice")
	h.JoinRoom(a, "proj_1")

	a.setRoom("proj_2", "user_a", "Alice")
	h.JoinRoom(a, "proj_2")

	if h.RoomSize("proj_1") != 0 {
		t.Fatal("connection should have left its previous room")
	}
	if h.RoomSize("proj_2") != 1 {
		t.Fatal("connection should be in the new room")
	}
}
