package services

import (
	"context"
	"errors"
	"sort"
	"sync"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"

	"go.uber.org/zap"
)

type peerService struct {
	engine ports.MediaEngine
	logger *zap.SugaredLogger

	mu    sync.RWMutex
	peers map[domain.PeerID]*domain.Peer
}

func NewPeerService(engine ports.MediaEngine, logger *zap.SugaredLogger) ports.PeerService {
	return &peerService{
		engine: engine,
		logger: logger,
		peers:  make(map[domain.PeerID]*domain.Peer),
	}
}

func (s *peerService) CreatePeer(ctx context.Context, peerID domain.PeerID, displayName string, roomID domain.RoomID) (*domain.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.peers[peerID]; exists {
		return nil, domain.ErrPeerExists
	}
	peer := domain.NewPeer(peerID, displayName, roomID)
	s.peers[peerID] = peer
	return peer, nil
}

func (s *peerService) GetPeer(ctx context.Context, peerID domain.PeerID) (*domain.Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peer, ok := s.peers[peerID]
	if !ok {
		return nil, domain.ErrPeerNotFound
	}
	return peer, nil
}

// RemovePeer closes every transport the peer owns, which closes its
// producers and consumers too, and then deregisters it. Engine failures are
// logged; the peer is removed regardless.
func (s *peerService) RemovePeer(ctx context.Context, peerID domain.PeerID) error {
	peer, err := s.GetPeer(ctx, peerID)
	if err != nil {
		return err
	}

	for _, transport := range peer.Release() {
		if err := s.engine.Close(ctx, transport); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.logger.Debugw("transport already closed", "peer_id", peerID, "transport_id", transport.ID)
				continue
			}
			s.logger.Warnw("transport close failed",
				"peer_id", peerID,
				"transport_id", transport.ID,
				"error", err,
			)
		}
	}

	s.mu.Lock()
	delete(s.peers, peerID)
	s.mu.Unlock()
	return nil
}

func (s *peerService) ListByRoom(ctx context.Context, roomID domain.RoomID) ([]*domain.Peer, error) {
	s.mu.RLock()
	out := make([]*domain.Peer, 0)
	for _, peer := range s.peers {
		if peer.RoomID == roomID {
			out = append(out, peer)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
