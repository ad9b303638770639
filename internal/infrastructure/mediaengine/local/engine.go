package local

import (
	"context"
	"fmt"
	"sync"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"
	"roomsignal/pkg/utils"

	"github.com/pion/randutil"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	iceRunes       = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	iceUfragLength = 16
	icePwdLength   = 32
)

type Config struct {
	Workers     int
	ListenIP    string
	AnnouncedIP string
	MinPort     uint16
	MaxPort     uint16
	Codecs      []string
}

// Engine is an in-process media engine. It keeps the full router,
// transport, producer and consumer bookkeeping of an SFU control plane and
// hands out ICE/DTLS parameters, but does not move RTP.
type Engine struct {
	cfg    Config
	caps   domain.RTPCapabilities
	rng    randutil.MathRandomGenerator
	logger *zap.SugaredLogger

	mu         sync.Mutex
	workers    []*worker
	nextWorker int
	nextPort   int
	routers    map[domain.RouterID]*routerState
	transports map[domain.TransportID]*transportState
	producers  map[domain.ProducerID]*producerState
	consumers  map[domain.ConsumerID]*consumerState
}

var (
	_ ports.MediaEngine         = (*Engine)(nil)
	_ ports.WorkerStatsProvider = (*Engine)(nil)
)

func New(cfg Config, logger *zap.SugaredLogger) (*Engine, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("media engine needs at least one worker, got %d", cfg.Workers)
	}
	if cfg.MinPort == 0 || cfg.MinPort > cfg.MaxPort {
		return nil, fmt.Errorf("invalid rtc port range %d-%d", cfg.MinPort, cfg.MaxPort)
	}
	caps, err := routerCapabilities(cfg.Codecs)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		caps:       caps,
		rng:        randutil.NewMathRandomGenerator(),
		logger:     logger,
		routers:    make(map[domain.RouterID]*routerState),
		transports: make(map[domain.TransportID]*transportState),
		producers:  make(map[domain.ProducerID]*producerState),
		consumers:  make(map[domain.ConsumerID]*consumerState),
	}
	for i := 0; i < cfg.Workers; i++ {
		w, err := newWorker(i)
		if err != nil {
			return nil, err
		}
		e.workers = append(e.workers, w)
	}

	logger.Infow("media engine started",
		"workers", cfg.Workers,
		"rtc_min_port", cfg.MinPort,
		"rtc_max_port", cfg.MaxPort,
		"codecs", len(caps.Codecs),
	)
	return e, nil
}

func (e *Engine) CreateRouter(ctx context.Context, roomID domain.RoomID) (*domain.Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	w := e.workers[e.nextWorker]
	e.nextWorker = (e.nextWorker + 1) % len(e.workers)

	router := &domain.Router{
		ID:              domain.RouterID(utils.NewID()),
		RoomID:          roomID,
		RTPCapabilities: e.caps,
	}
	rs := &routerState{
		router:     router,
		worker:     w,
		transports: make(map[domain.TransportID]*transportState),
		producers:  make(map[domain.ProducerID]*producerState),
	}
	w.routers[router.ID] = rs
	e.routers[router.ID] = rs

	e.logger.Debugw("router created", "router_id", router.ID, "room_id", roomID, "worker", w.index)
	return router, nil
}

func (e *Engine) CloseRouter(ctx context.Context, router *domain.Router) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rs, ok := e.routers[router.ID]
	if !ok {
		return fmt.Errorf("router %s: %w", router.ID, domain.ErrHandleClosed)
	}
	e.closeRouterLocked(rs)
	e.logger.Debugw("router closed", "router_id", router.ID, "room_id", router.RoomID)
	return nil
}

func (e *Engine) CreateTransport(ctx context.Context, router *domain.Router, role domain.TransportRole) (*domain.Transport, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown transport role %q", domain.ErrInvalidPayload, role)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ufrag, err := randutil.GenerateCryptoRandomString(iceUfragLength, iceRunes)
	if err != nil {
		return nil, fmt.Errorf("generate ice ufrag: %w", err)
	}
	pwd, err := randutil.GenerateCryptoRandomString(icePwdLength, iceRunes)
	if err != nil {
		return nil, fmt.Errorf("generate ice pwd: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rs, ok := e.routers[router.ID]
	if !ok {
		return nil, fmt.Errorf("router %s: %w", router.ID, domain.ErrHandleClosed)
	}

	port := e.allocatePortLocked()
	ip := e.cfg.AnnouncedIP
	if ip == "" {
		ip = e.cfg.ListenIP
	}

	transport := &domain.Transport{
		ID:       domain.TransportID(utils.NewID()),
		RouterID: router.ID,
		Role:     role,
		ICEParameters: domain.ICEParameters{
			UsernameFragment: ufrag,
			Password:         pwd,
			ICELite:          true,
		},
		ICECandidates: []domain.ICECandidate{
			{Foundation: "udpcandidate", Priority: 1076302079, IP: ip, Protocol: "udp", Port: port, Type: "host"},
			{Foundation: "tcpcandidate", Priority: 1076276479, IP: ip, Protocol: "tcp", Port: port, Type: "host"},
		},
		DTLSParameters: domain.DTLSParameters{
			Role:         webrtc.DTLSRoleAuto.String(),
			Fingerprints: rs.worker.fingerprints,
		},
	}

	ts := &transportState{
		transport: transport,
		router:    rs,
		producers: make(map[domain.ProducerID]*producerState),
		consumers: make(map[domain.ConsumerID]*consumerState),
	}
	rs.transports[transport.ID] = ts
	e.transports[transport.ID] = ts
	return transport, nil
}

func (e *Engine) allocatePortLocked() uint16 {
	span := int(e.cfg.MaxPort) - int(e.cfg.MinPort) + 1
	port := int(e.cfg.MinPort) + e.nextPort%span
	e.nextPort++
	return uint16(port)
}

// ConnectTransport records the remote DTLS parameters. Connecting an
// already connected transport with the same parameters succeeds.
func (e *Engine) ConnectTransport(ctx context.Context, transport *domain.Transport, params domain.DTLSParameters) error {
	if err := params.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ts, ok := e.transports[transport.ID]
	if !ok {
		return fmt.Errorf("transport %s: %w", transport.ID, domain.ErrHandleClosed)
	}
	if ts.connected && !sameFingerprints(ts.remote, params) {
		return fmt.Errorf("%w: transport %s already connected with different dtls parameters",
			domain.ErrInvalidPayload, transport.ID)
	}
	ts.connected = true
	ts.remote = params
	return nil
}

func sameFingerprints(a, b domain.DTLSParameters) bool {
	if len(a.Fingerprints) != len(b.Fingerprints) {
		return false
	}
	for i := range a.Fingerprints {
		if a.Fingerprints[i] != b.Fingerprints[i] {
			return false
		}
	}
	return true
}

func (e *Engine) Produce(ctx context.Context, transport *domain.Transport, kind domain.MediaKind, params domain.RTPParameters) (*domain.Producer, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown media kind %q", domain.ErrInvalidPayload, kind)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ts, ok := e.transports[transport.ID]
	if !ok {
		return nil, fmt.Errorf("transport %s: %w", transport.ID, domain.ErrHandleClosed)
	}
	if _, ok := supportedCodec(ts.router.router.RTPCapabilities, kind, params); !ok {
		return nil, fmt.Errorf("%w: router does not support any offered %s codec", domain.ErrIncompatible, kind)
	}

	if len(params.Encodings) == 0 {
		params.Encodings = []domain.RTPEncodingParameters{{SSRC: e.rng.Uint32()}}
	}
	producer := &domain.Producer{
		ID:            domain.ProducerID(utils.NewID()),
		TransportID:   transport.ID,
		Kind:          kind,
		RTPParameters: params,
	}
	ps := &producerState{
		producer:  producer,
		transport: ts,
		consumers: make(map[domain.ConsumerID]*consumerState),
	}
	ts.producers[producer.ID] = ps
	ts.router.producers[producer.ID] = ps
	e.producers[producer.ID] = ps
	return producer, nil
}

// Consume creates a paused consumer when the router reports that a receiver
// with caps can consume producerID.
func (e *Engine) Consume(ctx context.Context, router *domain.Router, transport *domain.Transport, producerID domain.ProducerID, caps domain.RTPCapabilities) (*domain.Consumer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rs, ok := e.routers[router.ID]
	if !ok {
		return nil, fmt.Errorf("router %s: %w", router.ID, domain.ErrHandleClosed)
	}
	ts, ok := rs.transports[transport.ID]
	if !ok {
		return nil, fmt.Errorf("transport %s: %w", transport.ID, domain.ErrHandleClosed)
	}

	ps, codec, ok := e.canConsumeLocked(rs, producerID, caps)
	if !ok {
		return nil, fmt.Errorf("%w: cannot consume producer %s", domain.ErrIncompatible, producerID)
	}

	cname := ""
	if rtcp := ps.producer.RTPParameters.RTCP; rtcp != nil {
		cname = rtcp.CNAME
	}
	consumer := &domain.Consumer{
		ID:          domain.ConsumerID(utils.NewID()),
		TransportID: transport.ID,
		ProducerID:  producerID,
		Kind:        ps.producer.Kind,
		RTPParameters: domain.RTPParameters{
			MID:       fmt.Sprintf("%d", len(ts.consumers)),
			Codecs:    []domain.RTPCodecParameters{codec},
			Encodings: []domain.RTPEncodingParameters{{SSRC: e.rng.Uint32()}},
			RTCP:      &domain.RTCPParameters{CNAME: cname, ReducedSize: true},
		},
		Paused: true,
	}
	cs := &consumerState{
		consumer:  consumer,
		transport: ts,
		producer:  ps,
		paused:    true,
	}
	ts.consumers[consumer.ID] = cs
	ps.consumers[consumer.ID] = cs
	e.consumers[consumer.ID] = cs
	return consumer, nil
}

func (e *Engine) canConsumeLocked(rs *routerState, producerID domain.ProducerID, caps domain.RTPCapabilities) (*producerState, domain.RTPCodecParameters, bool) {
	ps, ok := rs.producers[producerID]
	if !ok {
		return nil, domain.RTPCodecParameters{}, false
	}
	codec, ok := supportedCodec(rs.router.RTPCapabilities, ps.producer.Kind, ps.producer.RTPParameters)
	if !ok {
		return nil, domain.RTPCodecParameters{}, false
	}
	remote, ok := receiverCodec(caps, codec)
	if !ok {
		return nil, domain.RTPCodecParameters{}, false
	}
	if remote.PreferredPayloadType != 0 {
		codec.PayloadType = remote.PreferredPayloadType
	}
	return ps, codec, true
}

func (e *Engine) Pause(ctx context.Context, handle domain.Handle) error {
	return e.setPaused(handle, true)
}

func (e *Engine) Resume(ctx context.Context, handle domain.Handle) error {
	return e.setPaused(handle, false)
}

func (e *Engine) setPaused(handle domain.Handle, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch handle.HandleKind() {
	case domain.HandleKindProducer:
		ps, ok := e.producers[domain.ProducerID(handle.HandleID())]
		if !ok {
			return fmt.Errorf("producer %s: %w", handle.HandleID(), domain.ErrHandleClosed)
		}
		ps.paused = paused
	case domain.HandleKindConsumer:
		cs, ok := e.consumers[domain.ConsumerID(handle.HandleID())]
		if !ok {
			return fmt.Errorf("consumer %s: %w", handle.HandleID(), domain.ErrHandleClosed)
		}
		cs.paused = paused
	case domain.HandleKindTransport:
		ts, ok := e.transports[domain.TransportID(handle.HandleID())]
		if !ok {
			return fmt.Errorf("transport %s: %w", handle.HandleID(), domain.ErrHandleClosed)
		}
		for _, ps := range ts.producers {
			ps.paused = paused
		}
		for _, cs := range ts.consumers {
			cs.paused = paused
		}
	default:
		return fmt.Errorf("%w: %s handles cannot be paused or resumed", domain.ErrInvalidPayload, handle.HandleKind())
	}
	return nil
}

func (e *Engine) Close(ctx context.Context, handle domain.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch handle.HandleKind() {
	case domain.HandleKindRouter:
		rs, ok := e.routers[domain.RouterID(handle.HandleID())]
		if !ok {
			return fmt.Errorf("router %s: %w", handle.HandleID(), domain.ErrHandleClosed)
		}
		e.closeRouterLocked(rs)
	case domain.HandleKindTransport:
		ts, ok := e.transports[domain.TransportID(handle.HandleID())]
		if !ok {
			return fmt.Errorf("transport %s: %w", handle.HandleID(), domain.ErrHandleClosed)
		}
		e.closeTransportLocked(ts)
	case domain.HandleKindProducer:
		ps, ok := e.producers[domain.ProducerID(handle.HandleID())]
		if !ok {
			return fmt.Errorf("producer %s: %w", handle.HandleID(), domain.ErrHandleClosed)
		}
		e.closeProducerLocked(ps)
	case domain.HandleKindConsumer:
		cs, ok := e.consumers[domain.ConsumerID(handle.HandleID())]
		if !ok {
			return fmt.Errorf("consumer %s: %w", handle.HandleID(), domain.ErrHandleClosed)
		}
		e.closeConsumerLocked(cs)
	default:
		return fmt.Errorf("%w: unknown handle kind %q", domain.ErrInvalidPayload, handle.HandleKind())
	}
	return nil
}

func (e *Engine) closeRouterLocked(rs *routerState) {
	for _, ts := range rs.transports {
		e.closeTransportLocked(ts)
	}
	delete(rs.worker.routers, rs.router.ID)
	delete(e.routers, rs.router.ID)
}

func (e *Engine) closeTransportLocked(ts *transportState) {
	for _, ps := range ts.producers {
		e.closeProducerLocked(ps)
	}
	for _, cs := range ts.consumers {
		e.closeConsumerLocked(cs)
	}
	delete(ts.router.transports, ts.transport.ID)
	delete(e.transports, ts.transport.ID)
}

func (e *Engine) closeProducerLocked(ps *producerState) {
	for _, cs := range ps.consumers {
		e.closeConsumerLocked(cs)
	}
	delete(ps.transport.producers, ps.producer.ID)
	delete(ps.transport.router.producers, ps.producer.ID)
	delete(e.producers, ps.producer.ID)
}

func (e *Engine) closeConsumerLocked(cs *consumerState) {
	delete(cs.transport.consumers, cs.consumer.ID)
	delete(cs.producer.consumers, cs.consumer.ID)
	delete(e.consumers, cs.consumer.ID)
}

// WorkerStats reports per-worker load in worker order.
func (e *Engine) WorkerStats() []domain.WorkerStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.WorkerStats, 0, len(e.workers))
	for _, w := range e.workers {
		out = append(out, w.stats())
	}
	return out
}

// Shutdown closes every router still open.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rs := range e.routers {
		e.closeRouterLocked(rs)
	}
	e.logger.Infow("media engine stopped")
	return nil
}

func (e *Engine) producerPaused(id domain.ProducerID) (bool, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ps, ok := e.producers[id]
	if !ok {
		return false, false
	}
	return ps.paused, true
}

func (e *Engine) consumerPaused(id domain.ConsumerID) (bool, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.consumers[id]
	if !ok {
		return false, false
	}
	return cs.paused, true
}
