package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"
	apperrors "roomsignal/pkg/errors"
	rlog "roomsignal/pkg/logger"
	"roomsignal/pkg/tracing"
	"roomsignal/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	AllowedOrigins []string

	// RequireToken makes a join token mandatory on upgrade; join must then
	// target the token's room.
	RequireToken bool

	// MessagesPerSecond of zero disables the per-connection limiter.
	MessagesPerSecond float64
	Burst             int
}

func DefaultOptions() Options {
	return Options{
		PingInterval:      25 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessageSize:    64 * 1024,
		MessagesPerSecond: 50,
		Burst:             100,
	}
}

// Metrics receives per-connection and per-message observations.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	ObserveMessage(messageType string, outcome string, d time.Duration)
}

const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeLimited = "rate_limited"
)

type WebSocketServer struct {
	orchestrator ports.SessionOrchestrator
	auth         ports.AuthService
	metrics      Metrics
	opts         Options
	upgrader     websocket.Upgrader
	logger       *zap.SugaredLogger
	ctxLogger    *rlog.ContextLogger
}

var _ ports.WebSocketHandler = (*WebSocketServer)(nil)

// NewWebSocketServer builds the signalling endpoint. auth and metrics may be
// nil.
func NewWebSocketServer(
	orchestrator ports.SessionOrchestrator,
	auth ports.AuthService,
	metrics Metrics,
	opts Options,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	s := &WebSocketServer{
		orchestrator: orchestrator,
		auth:         auth,
		metrics:      metrics,
		opts:         opts,
		logger:       logger,
		ctxLogger:    rlog.NewContextLogger(logger.Desugar()),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// connection is the EventSender for one websocket. Writes from the dispatch
// loop and from room broadcasts are serialized by writeMu.
type connection struct {
	id           domain.ConnectionID
	ws           *websocket.Conn
	writeTimeout time.Duration
	claims       *ports.JoinClaims

	writeMu sync.Mutex
}

func (c *connection) write(msg OutboundMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteJSON(msg)
}

func (c *connection) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *connection) Send(event domain.SignalEvent) error {
	return c.write(OutboundMessage{Type: MessageType(event.Type), Data: event.Data})
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticate(r)
	if err != nil {
		s.logger.Warnw("websocket upgrade rejected",
			"remote_addr", r.RemoteAddr,
			"token", utils.MaskSensitive(r.URL.Query().Get("token"), 8),
			"error", err,
		)
		appErr := apperrors.GetAppError(err)
		http.Error(w, appErr.Message, appErr.HTTPStatus)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	conn := &connection{
		id:           domain.ConnectionID(utils.NewID()),
		ws:           ws,
		writeTimeout: s.opts.WriteTimeout,
		claims:       claims,
	}
	s.serve(conn)
}

func (s *WebSocketServer) authenticate(r *http.Request) (*ports.JoinClaims, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if s.opts.RequireToken {
			return nil, apperrors.NewUnauthorizedError("join token required")
		}
		return nil, nil
	}
	if s.auth == nil {
		return nil, apperrors.NewUnauthorizedError("join tokens are not accepted")
	}
	claims, err := s.auth.ValidateJoinToken(token)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeUnauthorized, "invalid join token", http.StatusUnauthorized)
	}
	return claims, nil
}

func (s *WebSocketServer) serve(conn *connection) {
	defer conn.ws.Close()

	ctx, cancel := context.WithCancel(rlog.WithConnID(context.Background(), string(conn.id)))
	defer cancel()

	s.orchestrator.Connect(conn.id, conn)
	if s.metrics != nil {
		s.metrics.ConnectionOpened()
		defer s.metrics.ConnectionClosed()
	}
	s.logger.Infow("signalling connection opened", "conn_id", conn.id)

	conn.ws.SetReadLimit(s.opts.MaxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	})

	frames := make(chan []byte, 16)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, data, err := conn.ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Infow("signalling connection read error", "conn_id", conn.id, "error", err)
				}
				// Frames still queued must observe the connection as gone.
				s.orchestrator.Disconnect(context.Background(), conn.id)
				return
			}
			_ = conn.ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
			select {
			case frames <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	limit := rate.Inf
	if s.opts.MessagesPerSecond > 0 {
		limit = rate.Limit(s.opts.MessagesPerSecond)
	}
	limiter := rate.NewLimiter(limit, s.opts.Burst)
	pingTicker := time.NewTicker(s.opts.PingInterval)
	defer pingTicker.Stop()

loop:
	for {
		select {
		case <-readDone:
			break loop

		case data := <-frames:
			s.dispatch(ctx, conn, limiter, data)

		case <-pingTicker.C:
			if err := conn.ping(); err != nil {
				s.logger.Debugw("ping failed", "conn_id", conn.id, "error", err)
				break loop
			}
		}
	}

	s.orchestrator.Disconnect(context.Background(), conn.id)
	s.logger.Infow("signalling connection closed", "conn_id", conn.id)
}

// dispatch handles one inbound frame and writes exactly one reply to it.
func (s *WebSocketServer) dispatch(ctx context.Context, conn *connection, limiter *rate.Limiter, data []byte) {
	start := time.Now()

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		s.reply(conn, errorMessage("", invalid("frame must be a JSON object with a type")))
		s.observe("invalid", OutcomeError, start)
		return
	}
	msgType := Canonical(env.Type)

	if !limiter.Allow() {
		s.reply(conn, errorMessage(env.ID, apperrors.NewRateLimitError()))
		s.observe(string(msgType), OutcomeLimited, start)
		return
	}

	ctx, span := tracing.TraceSignalMessage(ctx, string(msgType), string(conn.id))
	defer span.End()

	result, err := s.handle(ctx, conn, msgType, env.Data)
	if err != nil {
		tracing.RecordError(ctx, err)
		if !domain.IsUserFacing(err) && !apperrors.IsAppError(err) {
			s.ctxLogger.LogError(ctx, err, "signalling request failed", zap.String("type", string(msgType)))
		}
		s.reply(conn, errorMessage(env.ID, err))
		s.observe(string(msgType), OutcomeError, start)
		return
	}

	s.reply(conn, OutboundMessage{ID: env.ID, Type: ResponseType(msgType), Data: result})
	s.observe(string(msgType), OutcomeOK, start)
}

func (s *WebSocketServer) handle(ctx context.Context, conn *connection, msgType MessageType, data json.RawMessage) (interface{}, error) {
	switch msgType {
	case MsgJoin:
		var req JoinRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		if conn.claims != nil && conn.claims.RoomID != req.RoomID {
			return nil, apperrors.NewUnauthorizedError("join token is not valid for this room")
		}
		tracing.AddSpanAttributes(ctx, tracing.RoomIDKey.String(string(req.RoomID)))
		return s.orchestrator.Join(rlog.WithRoomID(ctx, string(req.RoomID)), conn.id, req.RoomID, req.DisplayName)

	case MsgLeave:
		if err := s.orchestrator.Leave(ctx, conn.id); err != nil {
			return nil, err
		}
		return map[string]bool{"left": true}, nil

	case MsgGetRouterCapabilities:
		caps, err := s.orchestrator.GetRouterCapabilities(ctx, conn.id)
		if err != nil {
			return nil, err
		}
		return RouterCapabilitiesResponse{RTPCapabilities: caps}, nil

	case MsgCreateTransport:
		var req CreateTransportRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		role, _ := req.role()
		transport, err := s.orchestrator.CreateTransport(ctx, conn.id, role)
		if err != nil {
			return nil, err
		}
		return TransportResponse{
			ID:             transport.ID,
			ICEParameters:  transport.ICEParameters,
			ICECandidates:  transport.ICECandidates,
			DTLSParameters: transport.DTLSParameters,
		}, nil

	case MsgConnectTransport:
		var req ConnectTransportRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		if err := s.orchestrator.ConnectTransport(ctx, conn.id, req.TransportID, req.DTLSParameters); err != nil {
			return nil, err
		}
		return map[string]bool{"connected": true}, nil

	case MsgProduce:
		var req ProduceRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		producer, err := s.orchestrator.Produce(ctx, conn.id, req.TransportID, req.Kind, req.RTPParameters)
		if err != nil {
			return nil, err
		}
		return ProducerResponse{ID: producer.ID}, nil

	case MsgConsume:
		var req ConsumeRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		consumer, err := s.orchestrator.Consume(ctx, conn.id, req.TransportID, req.ProducerID, req.RTPCapabilities)
		if err != nil {
			return nil, err
		}
		return ConsumerResponse{
			ID:            consumer.ID,
			ProducerID:    consumer.ProducerID,
			Kind:          consumer.Kind,
			RTPParameters: consumer.RTPParameters,
			Paused:        consumer.Paused,
		}, nil

	case MsgResumeConsumer:
		var req ConsumerRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		if err := s.orchestrator.ResumeConsumer(ctx, conn.id, req.ConsumerID); err != nil {
			return nil, err
		}
		return map[string]bool{"resumed": true}, nil

	case MsgPauseProducer, MsgResumeProducer, MsgCloseProducer:
		var req ProducerRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return s.producerAction(ctx, conn, msgType, req.ProducerID)

	default:
		return nil, apperrors.NewUnknownMessageError(string(msgType))
	}
}

func (s *WebSocketServer) producerAction(ctx context.Context, conn *connection, msgType MessageType, producerID domain.ProducerID) (interface{}, error) {
	var err error
	key := "closed"
	switch msgType {
	case MsgPauseProducer:
		key = "paused"
		err = s.orchestrator.PauseProducer(ctx, conn.id, producerID)
	case MsgResumeProducer:
		key = "resumed"
		err = s.orchestrator.ResumeProducer(ctx, conn.id, producerID)
	default:
		err = s.orchestrator.CloseProducer(ctx, conn.id, producerID)
	}
	if err != nil {
		return nil, err
	}
	return map[string]bool{key: true}, nil
}

func (s *WebSocketServer) reply(conn *connection, msg OutboundMessage) {
	if err := conn.write(msg); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		s.logger.Debugw("reply write failed", "conn_id", conn.id, "type", msg.Type, "error", err)
	}
}

func (s *WebSocketServer) observe(messageType, outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveMessage(messageType, outcome, time.Since(start))
	}
}
