package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockEngine() *mocks.MediaEngine {
	engine := &mocks.MediaEngine{}
	engine.On("CreateRouter", mock.Anything, mock.Anything).Return(
		func(_ context.Context, roomID domain.RoomID) *domain.Router {
			return &domain.Router{ID: domain.RouterID("router-" + string(roomID)), RoomID: roomID}
		}, nil)
	return engine
}

func collectEvents(d *RoomEventDispatcher) func() []domain.RoomEventType {
	var mu sync.Mutex
	var got []domain.RoomEventType
	d.Subscribe("test", func(_ context.Context, e domain.RoomEvent) error {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
		return nil
	})
	return func() []domain.RoomEventType {
		d.Wait()
		mu.Lock()
		defer mu.Unlock()
		return append([]domain.RoomEventType(nil), got...)
	}
}

func TestRoomService_CreateRoom(t *testing.T) {
	engine := newMockEngine()
	rooms := NewRoomService(engine, nil, 5, zap.NewNop().Sugar())
	ctx := context.Background()

	room, err := rooms.CreateRoom(ctx, "Standup", 0, "R")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("R"), room.ID)
	assert.Equal(t, "Standup", room.Name)
	assert.Equal(t, 5, room.MaxParticipants)
	require.NotNil(t, room.Router)

	_, err = rooms.CreateRoom(ctx, "again", 3, "R")
	assert.ErrorIs(t, err, domain.ErrRoomExists)

	generated, err := rooms.CreateRoom(ctx, "", 2, "")
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)
	assert.Equal(t, string(generated.ID), generated.Name)

	list, err := rooms.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.RoomID("R"), list[0].ID)
}

func TestRoomService_RouterFailureLeavesNoRoom(t *testing.T) {
	engine := &mocks.MediaEngine{}
	engine.On("CreateRouter", mock.Anything, domain.RoomID("R")).Return(nil, errors.New("worker died"))
	rooms := NewRoomService(engine, nil, 5, zap.NewNop().Sugar())
	ctx := context.Background()

	_, err := rooms.CreateRoom(ctx, "R", 5, "R")
	assert.ErrorIs(t, err, domain.ErrEngineUnavailable)

	_, err = rooms.GetRoom(ctx, "R")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	_, err = rooms.EnsureRoom(ctx, "R")
	assert.ErrorIs(t, err, domain.ErrEngineUnavailable)
}

func TestRoomService_AddPeerCapacity(t *testing.T) {
	rooms := NewRoomService(newMockEngine(), nil, 5, zap.NewNop().Sugar())
	ctx := context.Background()
	_, err := rooms.CreateRoom(ctx, "small", 2, "R")
	require.NoError(t, err)

	_, err = rooms.AddPeer(ctx, "R", domain.NewPeer("a", "A", "R"))
	require.NoError(t, err)
	_, err = rooms.AddPeer(ctx, "R", domain.NewPeer("a", "A", "R"))
	assert.ErrorIs(t, err, domain.ErrPeerExists)
	_, err = rooms.AddPeer(ctx, "R", domain.NewPeer("b", "B", "R"))
	require.NoError(t, err)
	_, err = rooms.AddPeer(ctx, "R", domain.NewPeer("c", "C", "R"))
	assert.ErrorIs(t, err, domain.ErrRoomFull)

	info, err := rooms.RoomInfo(ctx, "R")
	require.NoError(t, err)
	assert.Equal(t, 2, info.CurrentParticipants)

	ids, err := rooms.PeerIDs(ctx, "R")
	require.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"a", "b"}, ids)

	_, err = rooms.AddPeer(ctx, "missing", domain.NewPeer("d", "D", "missing"))
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestRoomService_LastPeerReapsRoom(t *testing.T) {
	engine := newMockEngine()
	engine.On("CloseRouter", mock.Anything, mock.Anything).Return(nil)
	events := NewRoomEventDispatcher(16, zap.NewNop().Sugar())
	defer events.Close()
	got := collectEvents(events)

	rooms := NewRoomService(engine, events, 5, zap.NewNop().Sugar())
	ctx := context.Background()
	_, err := rooms.EnsureRoom(ctx, "R")
	require.NoError(t, err)
	_, err = rooms.AddPeer(ctx, "R", domain.NewPeer("a", "A", "R"))
	require.NoError(t, err)
	_, err = rooms.AddPeer(ctx, "R", domain.NewPeer("b", "B", "R"))
	require.NoError(t, err)

	require.NoError(t, rooms.RemovePeer(ctx, "R", "a"))
	engine.AssertNotCalled(t, "CloseRouter", mock.Anything, mock.Anything)

	require.NoError(t, rooms.RemovePeer(ctx, "R", "b"))
	assert.ErrorIs(t, rooms.RemovePeer(ctx, "R", "b"), domain.ErrRoomNotFound)
	_, err = rooms.GetRoom(ctx, "R")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	engine.AssertNumberOfCalls(t, "CloseRouter", 1)

	assert.Equal(t, []domain.RoomEventType{
		domain.RoomEventCreated,
		domain.RoomEventPeerJoined,
		domain.RoomEventPeerJoined,
		domain.RoomEventPeerLeft,
		domain.RoomEventPeerLeft,
		domain.RoomEventDeleted,
	}, got())
}

func TestRoomService_ConcurrentLeavesCloseRouterOnce(t *testing.T) {
	engine := newMockEngine()
	engine.On("CloseRouter", mock.Anything, mock.Anything).Return(nil)
	rooms := NewRoomService(engine, nil, 50, zap.NewNop().Sugar())
	ctx := context.Background()

	_, err := rooms.CreateRoom(ctx, "big", 50, "R")
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, err := rooms.AddPeer(ctx, "R", domain.NewPeer(domain.PeerID(fmt.Sprint(i)), "", "R"))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, rooms.RemovePeer(ctx, "R", domain.PeerID(fmt.Sprint(i))))
		}(i)
	}
	wg.Wait()

	engine.AssertNumberOfCalls(t, "CloseRouter", 1)
}

func TestRoomService_DeleteRoomToleratesRouterCloseFailure(t *testing.T) {
	engine := newMockEngine()
	engine.On("CloseRouter", mock.Anything, mock.Anything).Return(errors.New("gone"))
	rooms := NewRoomService(engine, nil, 5, zap.NewNop().Sugar())
	ctx := context.Background()

	_, err := rooms.CreateRoom(ctx, "R", 5, "R")
	require.NoError(t, err)
	require.NoError(t, rooms.DeleteRoom(ctx, "R"))
	assert.ErrorIs(t, rooms.DeleteRoom(ctx, "R"), domain.ErrRoomNotFound)

	_, err = rooms.RoomInfo(ctx, "R")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRoomService_EnsureRoomConcurrent(t *testing.T) {
	engine := newMockEngine()
	engine.On("CloseRouter", mock.Anything, mock.Anything).Return(nil)
	rooms := NewRoomService(engine, nil, 5, zap.NewNop().Sugar())
	ctx := context.Background()

	results := make([]*domain.Room, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := rooms.EnsureRoom(ctx, "R")
			assert.NoError(t, err)
			results[i] = room
		}(i)
	}
	wg.Wait()

	for _, room := range results {
		assert.Same(t, results[0], room)
	}
	list, err := rooms.ListRooms(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
