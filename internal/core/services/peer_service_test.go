package services

import (
	"context"
	"errors"
	"testing"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPeerService_CreateAndLookup(t *testing.T) {
	peers := NewPeerService(&mocks.MediaEngine{}, zap.NewNop().Sugar())
	ctx := context.Background()

	_, err := peers.CreatePeer(ctx, "b", "Bob", "R")
	require.NoError(t, err)
	_, err = peers.CreatePeer(ctx, "a", "Alice", "R")
	require.NoError(t, err)
	_, err = peers.CreatePeer(ctx, "c", "Carol", "other")
	require.NoError(t, err)

	_, err = peers.CreatePeer(ctx, "a", "Alice again", "R")
	assert.ErrorIs(t, err, domain.ErrPeerExists)

	inRoom, err := peers.ListByRoom(ctx, "R")
	require.NoError(t, err)
	require.Len(t, inRoom, 2)
	assert.Equal(t, domain.PeerID("a"), inRoom[0].ID)
	assert.Equal(t, domain.PeerID("b"), inRoom[1].ID)

	_, err = peers.GetPeer(ctx, "zed")
	assert.ErrorIs(t, err, domain.ErrPeerNotFound)
}

func TestPeerService_RemovePeerClosesTransports(t *testing.T) {
	engine := &mocks.MediaEngine{}
	send := &domain.Transport{ID: "t-send", Role: domain.TransportRoleSend}
	recv := &domain.Transport{ID: "t-recv", Role: domain.TransportRoleReceive}
	engine.On("Close", mock.Anything, send).Return(errors.New("worker unreachable"))
	engine.On("Close", mock.Anything, recv).Return(domain.ErrHandleClosed)

	peers := NewPeerService(engine, zap.NewNop().Sugar())
	ctx := context.Background()
	peer, err := peers.CreatePeer(ctx, "a", "Alice", "R")
	require.NoError(t, err)
	peer.AddTransport(send)
	peer.AddTransport(recv)
	peer.AddProducer(&domain.Producer{ID: "p1", TransportID: send.ID})

	require.NoError(t, peers.RemovePeer(ctx, "a"))
	engine.AssertNumberOfCalls(t, "Close", 2)

	transports, producers, consumers := peer.HandleCounts()
	assert.Zero(t, transports+producers+consumers)
	_, err = peers.GetPeer(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, peers.RemovePeer(ctx, "a"), domain.ErrPeerNotFound)
}
