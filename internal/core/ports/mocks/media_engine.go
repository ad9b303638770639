package mocks

import (
	"context"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

// MediaEngine is a testify mock of ports.MediaEngine.
type MediaEngine struct {
	mock.Mock
}

var _ ports.MediaEngine = (*MediaEngine)(nil)

func (m *MediaEngine) CreateRouter(ctx context.Context, roomID domain.RoomID) (*domain.Router, error) {
	args := m.Called(ctx, roomID)
	if fn, ok := args.Get(0).(func(context.Context, domain.RoomID) *domain.Router); ok {
		return fn(ctx, roomID), args.Error(1)
	}
	router, _ := args.Get(0).(*domain.Router)
	return router, args.Error(1)
}

func (m *MediaEngine) CloseRouter(ctx context.Context, router *domain.Router) error {
	return m.Called(ctx, router).Error(0)
}

func (m *MediaEngine) CreateTransport(ctx context.Context, router *domain.Router, role domain.TransportRole) (*domain.Transport, error) {
	args := m.Called(ctx, router, role)
	transport, _ := args.Get(0).(*domain.Transport)
	return transport, args.Error(1)
}

func (m *MediaEngine) ConnectTransport(ctx context.Context, transport *domain.Transport, params domain.DTLSParameters) error {
	return m.Called(ctx, transport, params).Error(0)
}

func (m *MediaEngine) Produce(ctx context.Context, transport *domain.Transport, kind domain.MediaKind, params domain.RTPParameters) (*domain.Producer, error) {
	args := m.Called(ctx, transport, kind, params)
	producer, _ := args.Get(0).(*domain.Producer)
	return producer, args.Error(1)
}

func (m *MediaEngine) Consume(ctx context.Context, router *domain.Router, transport *domain.Transport, producerID domain.ProducerID, caps domain.RTPCapabilities) (*domain.Consumer, error) {
	args := m.Called(ctx, router, transport, producerID, caps)
	consumer, _ := args.Get(0).(*domain.Consumer)
	return consumer, args.Error(1)
}

func (m *MediaEngine) Pause(ctx context.Context, handle domain.Handle) error {
	return m.Called(ctx, handle).Error(0)
}

func (m *MediaEngine) Resume(ctx context.Context, handle domain.Handle) error {
	return m.Called(ctx, handle).Error(0)
}

func (m *MediaEngine) Close(ctx context.Context, handle domain.Handle) error {
	return m.Called(ctx, handle).Error(0)
}

// EventSender is a testify mock of ports.EventSender.
type EventSender struct {
	mock.Mock
}

var _ ports.EventSender = (*EventSender)(nil)

func (m *EventSender) Send(event domain.SignalEvent) error {
	return m.Called(event).Error(0)
}
