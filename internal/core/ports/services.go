package ports

import (
	"context"
	"time"

	"roomsignal/internal/core/domain"
)

type RoomService interface {
	CreateRoom(ctx context.Context, title string, maxParticipants int, desiredID domain.RoomID) (*domain.Room, error)
	GetRoom(ctx context.Context, roomID domain.RoomID) (*domain.Room, error)
	// EnsureRoom returns the room, provisioning it with default capacity when absent.
	EnsureRoom(ctx context.Context, roomID domain.RoomID) (*domain.Room, error)
	DeleteRoom(ctx context.Context, roomID domain.RoomID) error
	ListRooms(ctx context.Context) ([]domain.RoomInfo, error)
	RoomInfo(ctx context.Context, roomID domain.RoomID) (domain.RoomInfo, error)
	// AddPeer returns the room instance the peer was admitted to.
	AddPeer(ctx context.Context, roomID domain.RoomID, peer *domain.Peer) (*domain.Room, error)
	RemovePeer(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) error
	PeerIDs(ctx context.Context, roomID domain.RoomID) ([]domain.PeerID, error)
	Subscribe(name string, handler RoomEventHandler)
}

type PeerService interface {
	CreatePeer(ctx context.Context, peerID domain.PeerID, displayName string, roomID domain.RoomID) (*domain.Peer, error)
	GetPeer(ctx context.Context, peerID domain.PeerID) (*domain.Peer, error)
	RemovePeer(ctx context.Context, peerID domain.PeerID) error
	ListByRoom(ctx context.Context, roomID domain.RoomID) ([]*domain.Peer, error)
}

// RoomEventHandler receives room lifecycle events. Handlers run off the
// registry's critical path; a returned error is reported on the dispatcher's
// error channel.
type RoomEventHandler func(ctx context.Context, event domain.RoomEvent) error

// EventSender delivers server-originated events to one connection.
type EventSender interface {
	Send(event domain.SignalEvent) error
}

type JoinResult struct {
	PeerID domain.PeerID     `json:"peerId"`
	RoomID domain.RoomID     `json:"roomId"`
	Peers  []domain.PeerInfo `json:"peers"`
}

// SessionOrchestrator binds signalling connections to peers and rooms. Calls
// for one connection are serialized; calls for different connections may
// interleave.
type SessionOrchestrator interface {
	Connect(connID domain.ConnectionID, sender EventSender)
	Disconnect(ctx context.Context, connID domain.ConnectionID)

	Join(ctx context.Context, connID domain.ConnectionID, roomID domain.RoomID, displayName string) (*JoinResult, error)
	Leave(ctx context.Context, connID domain.ConnectionID) error
	GetRouterCapabilities(ctx context.Context, connID domain.ConnectionID) (domain.RTPCapabilities, error)
	CreateTransport(ctx context.Context, connID domain.ConnectionID, role domain.TransportRole) (*domain.Transport, error)
	ConnectTransport(ctx context.Context, connID domain.ConnectionID, transportID domain.TransportID, params domain.DTLSParameters) error
	Produce(ctx context.Context, connID domain.ConnectionID, transportID domain.TransportID, kind domain.MediaKind, params domain.RTPParameters) (*domain.Producer, error)
	Consume(ctx context.Context, connID domain.ConnectionID, transportID domain.TransportID, producerID domain.ProducerID, caps domain.RTPCapabilities) (*domain.Consumer, error)
	ResumeConsumer(ctx context.Context, connID domain.ConnectionID, consumerID domain.ConsumerID) error
	PauseProducer(ctx context.Context, connID domain.ConnectionID, producerID domain.ProducerID) error
	ResumeProducer(ctx context.Context, connID domain.ConnectionID, producerID domain.ProducerID) error
	CloseProducer(ctx context.Context, connID domain.ConnectionID, producerID domain.ProducerID) error

	ActiveConnections() int
}

type JoinClaims struct {
	RoomID      domain.RoomID
	DisplayName string
	ExpiresAt   time.Time
}

type AuthService interface {
	IssueJoinToken(roomID domain.RoomID, displayName string) (string, time.Time, error)
	ValidateJoinToken(token string) (*JoinClaims, error)
}
