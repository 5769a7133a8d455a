package realtime

import (
	"testing"
)

func newTestClient(hub *Hub, userID, userType string, buffer int) *Client {
	return &Client{
		hub:      hub,
		send:     make(chan []byte, buffer),
		UserID:   userID,
		UserType: userType,
	}
}

func drain(c *Client) []string {
	out := make([]string, 0)
	for {
		select {
		case data := <-c.send:
			out = append(out, string(data))
		default:
			return out
		}
	}
}

func TestReconnect_DisplacedClientLeavesRooms(t *testing.T) {
	hub := NewHub()

	old := newTestClient(hub, "d1", "driver", 4)
	hub.register(old)
	hub.JoinRoom("b1", "d1")

	// Reconnect displaces the old client; broadcasting afterwards must not
	// reach its closed channel.
	replacement := newTestClient(hub, "d1", "driver", 4)
	hub.register(replacement)

	hub.BroadcastToRoom("b1", NewEnvelope("offer", nil))

	if got := drain(replacement); len(got) != 0 {
		t.Errorf("replacement got %d messages without joining the room", len(got))
	}

	// The replacement re-joins and receives normally.
	hub.JoinRoom("b1", "d1")
	hub.BroadcastToRoom("b1", NewEnvelope("offer", nil))
	if got := drain(replacement); len(got) != 1 {
		t.Fatalf("replacement got %d messages, want 1", len(got))
	}
}

func TestReconnect_LateUnregisterKeepsReplacement(t *testing.T) {
	hub := NewHub()
	disconnects := 0
	hub.OnDisconnect(func(userID, userType string) { disconnects++ })

	old := newTestClient(hub, "d1", "driver", 4)
	hub.register(old)
	replacement := newTestClient(hub, "d1", "driver", 4)
	hub.register(replacement)
	hub.JoinRoom("b1", "d1")

	// The displaced client's read pump winds down after the replacement is
	// already live.
	hub.unregister(old)

	if disconnects != 0 {
		t.Errorf("disconnect callback fired %d times for a displaced client", disconnects)
	}
	if !hub.SendToUser("d1", NewEnvelope("ping", nil)) {
		t.Error("replacement should still be connected")
	}
	if members := hub.RoomMembers("b1"); len(members) != 1 || members[0] != "d1" {
		t.Errorf("room members = %v, want [d1]", members)
	}

	hub.unregister(replacement)
	if disconnects != 1 {
		t.Errorf("disconnect callback fired %d times, want 1", disconnects)
	}
}

func TestBroadcast_StalledClientDropsWithoutPanic(t *testing.T) {
	hub := NewHub()

	stalled := newTestClient(hub, "d1", "driver", 1)
	hub.register(stalled)
	hub.JoinRoom("b1", "d1")

	// First send fills the buffer, the second closes the client, and every
	// broadcast after that is a no-op.
	hub.BroadcastToRoom("b1", NewEnvelope("offer", nil))
	hub.BroadcastToRoom("b1", NewEnvelope("offer", nil))
	hub.BroadcastToRoom("b1", NewEnvelope("offer", nil))

	stalled.mu.Lock()
	closed := stalled.closed
	stalled.mu.Unlock()
	if !closed {
		t.Error("stalled client should be closed after overflowing its buffer")
	}
}

func TestClose_Idempotent(t *testing.T) {
	hub := NewHub()
	c := newTestClient(hub, "d1", "driver", 1)
	hub.register(c)

	c.close()
	c.close()
	c.enqueue([]byte("late"))

	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed and empty")
	}
}
