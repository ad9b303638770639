package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"

	"go.uber.org/zap"
)

// ConnState is the lifecycle state of a signalling connection.
type ConnState int

const (
	StateConnected ConnState = iota
	StateJoined
	StateLeft
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateLeft:
		return "left"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

const admitAttempts = 3

type binding struct {
	peerID domain.PeerID
	roomID domain.RoomID
	room   *domain.Room
}

// session is the per-connection state. mu serializes message handling for
// the connection; state is guarded by the orchestrator's mu so Disconnect can
// change it without waiting for an in-flight handler.
type session struct {
	connID domain.ConnectionID
	sender ports.EventSender
	mu     sync.Mutex
	state  ConnState
}

// SessionOrchestrator owns the connection -> (peer, room) bindings and drives
// the registries and the media engine for every signalling message.
type SessionOrchestrator struct {
	rooms  ports.RoomService
	peers  ports.PeerService
	engine ports.MediaEngine
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	sessions map[domain.ConnectionID]*session
	bindings map[domain.ConnectionID]binding
	members  map[domain.RoomID]map[domain.ConnectionID]struct{}
}

var _ ports.SessionOrchestrator = (*SessionOrchestrator)(nil)

// NewSessionOrchestrator wires the registries and the engine together and
// subscribes to room deletions so members of a deleted room are evicted.
func NewSessionOrchestrator(
	rooms ports.RoomService,
	peers ports.PeerService,
	engine ports.MediaEngine,
	logger *zap.SugaredLogger,
) *SessionOrchestrator {
	o := &SessionOrchestrator{
		rooms:    rooms,
		peers:    peers,
		engine:   engine,
		logger:   logger,
		sessions: make(map[domain.ConnectionID]*session),
		bindings: make(map[domain.ConnectionID]binding),
		members:  make(map[domain.RoomID]map[domain.ConnectionID]struct{}),
	}
	rooms.Subscribe("session-eviction", o.onRoomEvent)
	return o
}

// Connect registers a new connection in the connected state. Events for the
// connection are delivered through sender.
func (o *SessionOrchestrator) Connect(connID domain.ConnectionID, sender ports.EventSender) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessions[connID] = &session{connID: connID, sender: sender, state: StateConnected}
}

// Disconnect invalidates the binding immediately, then waits for any
// in-flight handler of the connection before releasing its resources.
// Disconnecting a connection that never joined is a no-op.
func (o *SessionOrchestrator) Disconnect(ctx context.Context, connID domain.ConnectionID) {
	o.mu.Lock()
	s, ok := o.sessions[connID]
	if !ok {
		o.mu.Unlock()
		return
	}
	delete(o.sessions, connID)
	s.state = StateDisconnected
	b, bound := o.unbindLocked(connID)
	o.mu.Unlock()

	if !bound {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	o.release(ctx, connID, b)
	o.logger.Infow("peer disconnected", "conn_id", connID, "peer_id", b.peerID, "room_id", b.roomID)
}

// ActiveConnections returns the number of registered connections.
func (o *SessionOrchestrator) ActiveConnections() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.sessions)
}

// State reports the lifecycle state of a connection.
func (o *SessionOrchestrator) State(connID domain.ConnectionID) (ConnState, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[connID]
	if !ok {
		return StateDisconnected, false
	}
	return s.state, true
}

// Join creates a peer for the connection and admits it to roomID, creating
// the room on first use. The result lists the peers already in the room and
// every other member is sent new-peer.
func (o *SessionOrchestrator) Join(ctx context.Context, connID domain.ConnectionID, roomID domain.RoomID, displayName string) (*ports.JoinResult, error) {
	s, err := o.lockSession(connID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	o.mu.RLock()
	state := s.state
	o.mu.RUnlock()
	switch state {
	case StateConnected:
	case StateDisconnected:
		return nil, domain.ErrNotInSession
	default:
		return nil, domain.ErrAlreadyJoined
	}

	peerID := domain.PeerID(connID)
	peer, err := o.peers.CreatePeer(ctx, peerID, displayName, roomID)
	if err != nil {
		return nil, fmt.Errorf("create peer: %w", err)
	}

	room, err := o.admit(ctx, roomID, peer)
	if err != nil {
		_ = o.peers.RemovePeer(ctx, peerID)
		return nil, err
	}

	b := binding{peerID: peerID, roomID: roomID, room: room}
	others, err := o.bind(s, b)
	if err != nil {
		o.rollbackJoin(ctx, b)
		return nil, err
	}

	result := &ports.JoinResult{PeerID: peerID, RoomID: roomID, Peers: make([]domain.PeerInfo, 0, len(others))}
	for _, id := range others {
		// a member that left after the snapshot is announced by peer-left
		other, err := o.peers.GetPeer(ctx, id)
		if err != nil {
			continue
		}
		result.Peers = append(result.Peers, other.Info())
	}

	o.broadcast(b, connID, domain.SignalEvent{
		Type: domain.SignalNewPeer,
		Data: domain.NewPeerEvent{Peer: peer.Info()},
	})
	o.logger.Infow("peer joined", "conn_id", connID, "peer_id", peerID, "room_id", roomID)
	return result, nil
}

// admit adds peer to the room, provisioning the room when needed. A room can
// be reaped between lookup and insertion; that case is retried.
func (o *SessionOrchestrator) admit(ctx context.Context, roomID domain.RoomID, peer *domain.Peer) (*domain.Room, error) {
	var err error
	for i := 0; i < admitAttempts; i++ {
		if _, err = o.rooms.EnsureRoom(ctx, roomID); err != nil {
			return nil, err
		}
		var room *domain.Room
		room, err = o.rooms.AddPeer(ctx, roomID, peer)
		if !errors.Is(err, domain.ErrRoomNotFound) {
			return room, err
		}
	}
	return nil, err
}

// bind records the connection as a member of b.room and returns the peers
// already bound to the same room instance. Taking the snapshot under o.mu
// means every later join or leave in the room is announced to the caller.
func (o *SessionOrchestrator) bind(s *session, b binding) ([]domain.PeerID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if s.state != StateConnected {
		return nil, domain.ErrNotInSession
	}
	// the room may have been deleted while the join was in flight
	if current, err := o.rooms.GetRoom(context.Background(), b.roomID); err != nil || current != b.room {
		return nil, domain.ErrRoomNotFound
	}

	group, ok := o.members[b.roomID]
	if !ok {
		group = make(map[domain.ConnectionID]struct{})
		o.members[b.roomID] = group
	}
	others := make([]domain.PeerID, 0, len(group))
	for connID := range group {
		if other := o.bindings[connID]; other.room == b.room {
			others = append(others, other.peerID)
		}
	}
	sort.Slice(others, func(i, j int) bool { return others[i] < others[j] })

	o.bindings[s.connID] = b
	group[s.connID] = struct{}{}
	s.state = StateJoined
	return others, nil
}

func (o *SessionOrchestrator) rollbackJoin(ctx context.Context, b binding) {
	if err := o.rooms.RemovePeer(ctx, b.roomID, b.peerID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		o.logger.Warnw("join rollback: room removal failed", "peer_id", b.peerID, "room_id", b.roomID, "error", err)
	}
	_ = o.peers.RemovePeer(ctx, b.peerID)
}

// Leave releases the connection's peer and returns it to the left state.
// The remaining members are sent peer-left.
func (o *SessionOrchestrator) Leave(ctx context.Context, connID domain.ConnectionID) error {
	s, err := o.lockSession(connID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	o.mu.Lock()
	b, bound := o.unbindLocked(connID)
	if bound {
		s.state = StateLeft
	}
	o.mu.Unlock()
	if !bound {
		return domain.ErrNotInSession
	}

	o.release(ctx, connID, b)
	o.logger.Infow("peer left", "conn_id", connID, "peer_id", b.peerID, "room_id", b.roomID)
	return nil
}

// GetRouterCapabilities returns the RTP capabilities of the joined room's router.
func (o *SessionOrchestrator) GetRouterCapabilities(ctx context.Context, connID domain.ConnectionID) (domain.RTPCapabilities, error) {
	s, err := o.lockSession(connID)
	if err != nil {
		return domain.RTPCapabilities{}, err
	}
	defer s.mu.Unlock()

	b, err := o.binding(connID)
	if err != nil {
		return domain.RTPCapabilities{}, err
	}
	return b.room.Router.RTPCapabilities, nil
}

// CreateTransport creates a send or receive transport on the room's router.
func (o *SessionOrchestrator) CreateTransport(ctx context.Context, connID domain.ConnectionID, role domain.TransportRole) (*domain.Transport, error) {
	s, err := o.lockSession(connID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	b, peer, err := o.boundPeer(ctx, connID)
	if err != nil {
		return nil, err
	}

	transport, err := o.engine.CreateTransport(ctx, b.room.Router, role)
	if err != nil {
		return nil, domain.EngineFailure("create transport", err)
	}
	if !o.stillBound(connID, b) {
		o.discard(ctx, transport)
		return nil, domain.ErrNotInSession
	}
	peer.AddTransport(transport)

	o.logger.Debugw("transport created", "peer_id", b.peerID, "transport_id", transport.ID, "role", role)
	return transport, nil
}

// ConnectTransport completes the DTLS handshake parameters of one of the
// connection's transports.
func (o *SessionOrchestrator) ConnectTransport(ctx context.Context, connID domain.ConnectionID, transportID domain.TransportID, params domain.DTLSParameters) error {
	s, err := o.lockSession(connID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	_, peer, err := o.boundPeer(ctx, connID)
	if err != nil {
		return err
	}
	transport, err := peer.Transport(transportID)
	if err != nil {
		return err
	}
	if err := o.engine.ConnectTransport(ctx, transport, params); err != nil {
		return domain.EngineFailure("connect transport", err)
	}
	return nil
}

// Produce starts a producer on a send transport and announces it to the room.
func (o *SessionOrchestrator) Produce(ctx context.Context, connID domain.ConnectionID, transportID domain.TransportID, kind domain.MediaKind, params domain.RTPParameters) (*domain.Producer, error) {
	s, err := o.lockSession(connID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	b, peer, err := o.boundPeer(ctx, connID)
	if err != nil {
		return nil, err
	}
	transport, err := peer.Transport(transportID)
	if err != nil {
		return nil, err
	}

	producer, err := o.engine.Produce(ctx, transport, kind, params)
	if err != nil {
		return nil, domain.EngineFailure("produce", err)
	}
	if !o.stillBound(connID, b) {
		o.discard(ctx, producer)
		return nil, domain.ErrNotInSession
	}
	peer.AddProducer(producer)

	o.broadcast(b, connID, domain.SignalEvent{
		Type: domain.SignalNewProducer,
		Data: domain.NewProducerEvent{PeerID: b.peerID, ProducerID: producer.ID, Kind: producer.Kind},
	})
	o.logger.Debugw("producer created", "peer_id", b.peerID, "producer_id", producer.ID, "kind", kind)
	return producer, nil
}

// Consume creates a paused consumer; the client resumes it once its local
// consumer is ready.
func (o *SessionOrchestrator) Consume(ctx context.Context, connID domain.ConnectionID, transportID domain.TransportID, producerID domain.ProducerID, caps domain.RTPCapabilities) (*domain.Consumer, error) {
	s, err := o.lockSession(connID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	b, peer, err := o.boundPeer(ctx, connID)
	if err != nil {
		return nil, err
	}
	transport, err := peer.Transport(transportID)
	if err != nil {
		return nil, err
	}

	consumer, err := o.engine.Consume(ctx, b.room.Router, transport, producerID, caps)
	if err != nil {
		return nil, domain.EngineFailure("consume", err)
	}
	if !o.stillBound(connID, b) {
		o.discard(ctx, consumer)
		return nil, domain.ErrNotInSession
	}
	peer.AddConsumer(consumer)

	o.logger.Debugw("consumer created",
		"peer_id", b.peerID,
		"consumer_id", consumer.ID,
		"producer_id", producerID,
	)
	return consumer, nil
}

// ResumeConsumer starts media flow on a consumer created by Consume. A
// consumer whose producer has gone is dropped and ErrHandleClosed returned.
func (o *SessionOrchestrator) ResumeConsumer(ctx context.Context, connID domain.ConnectionID, consumerID domain.ConsumerID) error {
	s, err := o.lockSession(connID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	_, peer, err := o.boundPeer(ctx, connID)
	if err != nil {
		return err
	}
	consumer, err := peer.Consumer(consumerID)
	if err != nil {
		return err
	}
	if err := o.engine.Resume(ctx, consumer); err != nil {
		// the remote producer or its transport is gone; the consumer is dead
		if errors.Is(err, domain.ErrHandleClosed) {
			peer.RemoveConsumer(consumerID)
		}
		return domain.EngineFailure("resume consumer", err)
	}
	return nil
}

// PauseProducer pauses one of the connection's producers.
func (o *SessionOrchestrator) PauseProducer(ctx context.Context, connID domain.ConnectionID, producerID domain.ProducerID) error {
	return o.producerOp(ctx, connID, producerID, domain.SignalProducerPaused, o.engine.Pause)
}

// ResumeProducer resumes one of the connection's producers.
func (o *SessionOrchestrator) ResumeProducer(ctx context.Context, connID domain.ConnectionID, producerID domain.ProducerID) error {
	return o.producerOp(ctx, connID, producerID, domain.SignalProducerResumed, o.engine.Resume)
}

// producerOp applies a pause or resume. Both are idempotent and notify the
// room on every call.
func (o *SessionOrchestrator) producerOp(
	ctx context.Context,
	connID domain.ConnectionID,
	producerID domain.ProducerID,
	notify domain.SignalType,
	op func(context.Context, domain.Handle) error,
) error {
	s, err := o.lockSession(connID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	b, peer, err := o.boundPeer(ctx, connID)
	if err != nil {
		return err
	}
	producer, err := peer.Producer(producerID)
	if err != nil {
		return err
	}
	if err := op(ctx, producer); err != nil {
		return domain.EngineFailure(string(notify), err)
	}

	o.broadcast(b, connID, domain.SignalEvent{
		Type: notify,
		Data: domain.ProducerStateEvent{PeerID: b.peerID, ProducerID: producerID},
	})
	return nil
}

// CloseProducer closes one of the connection's producers and tells the room.
func (o *SessionOrchestrator) CloseProducer(ctx context.Context, connID domain.ConnectionID, producerID domain.ProducerID) error {
	s, err := o.lockSession(connID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	b, peer, err := o.boundPeer(ctx, connID)
	if err != nil {
		return err
	}
	producer, err := peer.Producer(producerID)
	if err != nil {
		return err
	}
	if err := o.engine.Close(ctx, producer); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.EngineFailure("close producer", err)
	}
	peer.RemoveProducer(producerID)

	o.broadcast(b, connID, domain.SignalEvent{
		Type: domain.SignalProducerClosed,
		Data: domain.ProducerStateEvent{PeerID: b.peerID, ProducerID: producerID},
	})
	return nil
}

// lockSession returns the connection's session with its handler lock held.
func (o *SessionOrchestrator) lockSession(connID domain.ConnectionID) (*session, error) {
	o.mu.RLock()
	s, ok := o.sessions[connID]
	o.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotInSession
	}
	s.mu.Lock()
	return s, nil
}

// binding returns the connection's current binding or ErrNotInSession.
func (o *SessionOrchestrator) binding(connID domain.ConnectionID) (binding, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	b, ok := o.bindings[connID]
	if !ok {
		return binding{}, domain.ErrNotInSession
	}
	return b, nil
}

func (o *SessionOrchestrator) boundPeer(ctx context.Context, connID domain.ConnectionID) (binding, *domain.Peer, error) {
	b, err := o.binding(connID)
	if err != nil {
		return binding{}, nil, err
	}
	peer, err := o.peers.GetPeer(ctx, b.peerID)
	if err != nil {
		return binding{}, nil, domain.ErrNotInSession
	}
	return b, peer, nil
}

func (o *SessionOrchestrator) stillBound(connID domain.ConnectionID, b binding) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	current, ok := o.bindings[connID]
	return ok && current.room == b.room
}

// discard closes a handle created by a handler whose connection went away.
func (o *SessionOrchestrator) discard(ctx context.Context, handle domain.Handle) {
	if err := o.engine.Close(ctx, handle); err != nil && !errors.Is(err, domain.ErrNotFound) {
		o.logger.Warnw("orphaned handle close failed",
			"handle_kind", handle.HandleKind(),
			"handle_id", handle.HandleID(),
			"error", err,
		)
	}
}

// unbindLocked must be called with o.mu held.
func (o *SessionOrchestrator) unbindLocked(connID domain.ConnectionID) (binding, bool) {
	b, ok := o.bindings[connID]
	if !ok {
		return binding{}, false
	}
	delete(o.bindings, connID)
	if group, ok := o.members[b.roomID]; ok {
		delete(group, connID)
		if len(group) == 0 {
			delete(o.members, b.roomID)
		}
	}
	return b, true
}

// release frees a peer's media, takes it out of its room and tells the
// remaining members. The registries are cleaned up even when the engine
// fails.
func (o *SessionOrchestrator) release(ctx context.Context, connID domain.ConnectionID, b binding) {
	if err := o.peers.RemovePeer(ctx, b.peerID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		o.logger.Warnw("peer removal failed", "peer_id", b.peerID, "error", err)
	}
	if err := o.rooms.RemovePeer(ctx, b.roomID, b.peerID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		o.logger.Warnw("room removal failed", "peer_id", b.peerID, "room_id", b.roomID, "error", err)
	}

	o.broadcast(b, connID, domain.SignalEvent{
		Type: domain.SignalPeerLeft,
		Data: domain.PeerLeftEvent{PeerID: b.peerID},
	})
}

// broadcast sends event to every connection bound to the same room instance
// as b, except the sender. Members of a deleted instance awaiting eviction
// share the room id but not the instance and are skipped.
func (o *SessionOrchestrator) broadcast(b binding, except domain.ConnectionID, event domain.SignalEvent) {
	o.mu.RLock()
	targets := make([]*session, 0, len(o.members[b.roomID]))
	for connID := range o.members[b.roomID] {
		if connID == except || o.bindings[connID].room != b.room {
			continue
		}
		if s, ok := o.sessions[connID]; ok {
			targets = append(targets, s)
		}
	}
	o.mu.RUnlock()

	for _, s := range targets {
		if err := s.sender.Send(event); err != nil {
			o.logger.Debugw("event delivery failed", "conn_id", s.connID, "event", event.Type, "error", err)
		}
	}
}

// onRoomEvent evicts the connections bound to a room that was deleted while
// it still had members.
func (o *SessionOrchestrator) onRoomEvent(ctx context.Context, event domain.RoomEvent) error {
	if event.Type != domain.RoomEventDeleted {
		return nil
	}

	o.mu.Lock()
	var evicted []*session
	var released []binding
	for connID := range o.members[event.RoomID] {
		b := o.bindings[connID]
		if b.room != event.Source {
			continue
		}
		o.unbindLocked(connID)
		if s, ok := o.sessions[connID]; ok {
			s.state = StateLeft
			evicted = append(evicted, s)
			released = append(released, b)
		}
	}
	o.mu.Unlock()

	for i, s := range evicted {
		s.mu.Lock()
		if err := o.peers.RemovePeer(ctx, released[i].peerID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			o.logger.Warnw("peer removal failed", "peer_id", released[i].peerID, "error", err)
		}
		s.mu.Unlock()

		if err := s.sender.Send(domain.SignalEvent{
			Type: domain.SignalRoomClosed,
			Data: domain.RoomClosedEvent{RoomID: event.RoomID},
		}); err != nil {
			o.logger.Debugw("event delivery failed", "conn_id", s.connID, "event", domain.SignalRoomClosed, "error", err)
		}
	}
	if len(evicted) > 0 {
		o.logger.Infow("room deleted with members, connections evicted", "room_id", event.RoomID, "evicted", len(evicted))
	}
	return nil
}
