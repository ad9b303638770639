package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"
	"roomsignal/pkg/utils"

	"go.uber.org/zap"
)

type roomService struct {
	engine     ports.MediaEngine
	events     *RoomEventDispatcher
	defaultMax int
	logger     *zap.SugaredLogger

	mu    sync.Mutex
	rooms map[domain.RoomID]*domain.Room
}

func NewRoomService(
	engine ports.MediaEngine,
	events *RoomEventDispatcher,
	defaultMaxParticipants int,
	logger *zap.SugaredLogger,
) ports.RoomService {
	if defaultMaxParticipants <= 0 {
		defaultMaxParticipants = domain.DefaultMaxParticipants
	}
	return &roomService{
		engine:     engine,
		events:     events,
		defaultMax: defaultMaxParticipants,
		logger:     logger,
		rooms:      make(map[domain.RoomID]*domain.Room),
	}
}

// CreateRoom allocates the router first and registers the room only once
// that succeeded.
func (s *roomService) CreateRoom(ctx context.Context, title string, maxParticipants int, desiredID domain.RoomID) (*domain.Room, error) {
	id := desiredID
	if id == "" {
		id = domain.RoomID(utils.NewID())
	}
	if title == "" {
		title = string(id)
	}
	if maxParticipants <= 0 {
		maxParticipants = s.defaultMax
	}

	s.mu.Lock()
	_, exists := s.rooms[id]
	s.mu.Unlock()
	if exists {
		return nil, domain.ErrRoomExists
	}

	router, err := s.engine.CreateRouter(ctx, id)
	if err != nil {
		s.logger.Errorw("router creation failed", "room_id", id, "error", err)
		return nil, domain.EngineFailure("create router", err)
	}

	s.mu.Lock()
	if _, exists := s.rooms[id]; exists {
		s.mu.Unlock()
		s.closeRouter(ctx, id, router)
		return nil, domain.ErrRoomExists
	}
	room := domain.NewRoom(id, title, maxParticipants, router)
	s.rooms[id] = room
	info := room.Info()
	s.mu.Unlock()

	s.logger.Infow("room created", "room_id", id, "max_participants", maxParticipants)
	s.emit(domain.RoomEventCreated, room, info, "")
	return room, nil
}

func (s *roomService) GetRoom(ctx context.Context, roomID domain.RoomID) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

const ensureAttempts = 3

func (s *roomService) EnsureRoom(ctx context.Context, roomID domain.RoomID) (*domain.Room, error) {
	var err error
	for i := 0; i < ensureAttempts; i++ {
		var room *domain.Room
		if room, err = s.GetRoom(ctx, roomID); err == nil {
			return room, nil
		}
		room, err = s.CreateRoom(ctx, string(roomID), s.defaultMax, roomID)
		if !errors.Is(err, domain.ErrRoomExists) {
			return room, err
		}
		// lost a creation race; the winner is registered now
	}
	return nil, err
}

// DeleteRoom unregisters the room and closes its router. A router close
// failure is logged and does not fail the deletion.
func (s *roomService) DeleteRoom(ctx context.Context, roomID domain.RoomID) error {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrRoomNotFound
	}
	delete(s.rooms, roomID)
	info := room.Info()
	s.mu.Unlock()

	s.closeRouter(ctx, roomID, room.Router)
	s.logger.Infow("room deleted", "room_id", roomID, "participants", info.CurrentParticipants)
	s.emit(domain.RoomEventDeleted, room, info, "")
	return nil
}

func (s *roomService) ListRooms(ctx context.Context) ([]domain.RoomInfo, error) {
	s.mu.Lock()
	out := make([]domain.RoomInfo, 0, len(s.rooms))
	for _, room := range s.rooms {
		out = append(out, room.Info())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *roomService) RoomInfo(ctx context.Context, roomID domain.RoomID) (domain.RoomInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return domain.RoomInfo{}, domain.ErrRoomNotFound
	}
	return room.Info(), nil
}

func (s *roomService) AddPeer(ctx context.Context, roomID domain.RoomID, peer *domain.Peer) (*domain.Room, error) {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrRoomNotFound
	}
	if room.HasPeer(peer.ID) {
		s.mu.Unlock()
		return nil, domain.ErrPeerExists
	}
	if room.IsFull() {
		s.mu.Unlock()
		return nil, domain.ErrRoomFull
	}
	room.AddPeer(peer)
	info := room.Info()
	s.mu.Unlock()

	s.emit(domain.RoomEventPeerJoined, room, info, peer.ID)
	return room, nil
}

// RemovePeer removes the peer and reaps the room when it becomes empty.
// Exactly one caller observes the room becoming empty, so its router is
// closed once.
func (s *roomService) RemovePeer(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) error {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrRoomNotFound
	}
	if !room.RemovePeer(peerID) {
		s.mu.Unlock()
		return domain.ErrPeerNotFound
	}
	empty := room.PeerCount() == 0
	if empty {
		delete(s.rooms, roomID)
	}
	info := room.Info()
	s.mu.Unlock()

	s.emit(domain.RoomEventPeerLeft, room, info, peerID)
	if empty {
		s.closeRouter(ctx, roomID, room.Router)
		s.logger.Infow("room closed after last peer left", "room_id", roomID)
		s.emit(domain.RoomEventDeleted, room, info, "")
	}
	return nil
}

func (s *roomService) PeerIDs(ctx context.Context, roomID domain.RoomID) ([]domain.PeerID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return room.PeerIDs(), nil
}

func (s *roomService) Subscribe(name string, handler ports.RoomEventHandler) {
	if s.events != nil {
		s.events.Subscribe(name, handler)
	}
}

func (s *roomService) closeRouter(ctx context.Context, roomID domain.RoomID, router *domain.Router) {
	if router == nil {
		return
	}
	if err := s.engine.CloseRouter(ctx, router); err != nil {
		s.logger.Warnw("router close failed", "room_id", roomID, "router_id", router.ID, "error", err)
	}
}

func (s *roomService) emit(t domain.RoomEventType, room *domain.Room, info domain.RoomInfo, peerID domain.PeerID) {
	if s.events == nil {
		return
	}
	s.events.Dispatch(domain.RoomEvent{
		Type:   t,
		RoomID: info.ID,
		PeerID: peerID,
		Room:   info,
		At:     time.Now(),
		Source: room,
	})
}
