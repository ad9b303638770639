package ports

import (
	"context"

	"roomsignal/internal/core/domain"
)

// MediaEngine is the capability surface of the SFU. Implementations own
// worker selection, timeouts and retries; callers only see handles.
type MediaEngine interface {
	CreateRouter(ctx context.Context, roomID domain.RoomID) (*domain.Router, error)
	CloseRouter(ctx context.Context, router *domain.Router) error
	CreateTransport(ctx context.Context, router *domain.Router, role domain.TransportRole) (*domain.Transport, error)
	ConnectTransport(ctx context.Context, transport *domain.Transport, params domain.DTLSParameters) error
	Produce(ctx context.Context, transport *domain.Transport, kind domain.MediaKind, params domain.RTPParameters) (*domain.Producer, error)
	// Consume fails with domain.ErrIncompatible when the router reports the
	// receiver cannot consume the producer.
	Consume(ctx context.Context, router *domain.Router, transport *domain.Transport, producerID domain.ProducerID, caps domain.RTPCapabilities) (*domain.Consumer, error)
	Pause(ctx context.Context, handle domain.Handle) error
	Resume(ctx context.Context, handle domain.Handle) error
	Close(ctx context.Context, handle domain.Handle) error
}

type WorkerStatsProvider interface {
	WorkerStats() []domain.WorkerStats
}

// RoomEventPublisher forwards room lifecycle events outside the process.
type RoomEventPublisher interface {
	PublishRoomEvent(ctx context.Context, event domain.RoomEvent) error
}
