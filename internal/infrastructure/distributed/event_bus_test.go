package distributed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"roomsignal/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestEventBus_Envelope(t *testing.T) {
	bus := NewEventBus(unreachableClient(), "roomsignal:rooms", "node-a", zap.NewNop().Sugar())
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	env := bus.envelope(domain.RoomEvent{
		Type:   domain.RoomEventPeerJoined,
		RoomID: "R",
		PeerID: "p1",
		Room:   domain.RoomInfo{ID: "R", CurrentParticipants: 1},
		At:     at,
	})
	assert.Equal(t, "node-a", env.InstanceID)
	assert.Equal(t, at, env.Timestamp)
	assert.Equal(t, domain.PeerID("p1"), env.PeerID)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"peer.joined"`)
	assert.Contains(t, string(data), `"room_id":"R"`)
}

func TestEventBus_DeliverSkipsOwnEvents(t *testing.T) {
	bus := NewEventBus(unreachableClient(), "roomsignal:rooms", "node-a", zap.NewNop().Sugar())

	var got []*Event
	handler := func(e *Event) error {
		got = append(got, e)
		return nil
	}

	own, _ := json.Marshal(Event{Type: domain.RoomEventCreated, InstanceID: "node-a", RoomID: "R"})
	remote, _ := json.Marshal(Event{Type: domain.RoomEventDeleted, InstanceID: "node-b", RoomID: "S"})

	bus.deliver(string(own), handler)
	bus.deliver("{broken", handler)
	bus.deliver(string(remote), handler)

	require.Len(t, got, 1)
	assert.Equal(t, domain.RoomID("S"), got[0].RoomID)
	assert.Equal(t, "node-b", got[0].InstanceID)
}

func TestEventBus_PublishFailure(t *testing.T) {
	client := unreachableClient()
	defer client.Close()
	bus := NewEventBus(client, "roomsignal:rooms", "node-a", zap.NewNop().Sugar())

	err := bus.HandleRoomEvent(context.Background(), domain.RoomEvent{Type: domain.RoomEventCreated, RoomID: "R"})
	assert.Error(t, err)
}
