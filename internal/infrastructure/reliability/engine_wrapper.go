package reliability

import (
	"context"
	"errors"
	"time"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"
	"roomsignal/pkg/circuitbreaker"
	"roomsignal/pkg/retry"
	"roomsignal/pkg/tracing"

	"go.uber.org/zap"
)

// EngineMetrics receives one observation per wrapped engine call.
type EngineMetrics interface {
	RecordEngineCall(op string, err error, duration time.Duration)
}

type Options struct {
	Retry          retry.Config
	BreakerEnabled bool
	CircuitBreaker circuitbreaker.Config
	// CallTimeout bounds each attempt; zero disables it.
	CallTimeout time.Duration
	Metrics     EngineMetrics
}

// EngineWrapper puts the timeout, retry and circuit breaker policy in front
// of a MediaEngine. Only idempotent operations are retried. Caller errors
// (unknown handles, incompatible parameters) pass through untouched and do
// not count against the breaker; every other failure surfaces as
// domain.ErrEngineUnavailable.
type EngineWrapper struct {
	engine      ports.MediaEngine
	logger      *zap.SugaredLogger
	retryConfig retry.Config
	breaker     *circuitbreaker.CircuitBreaker
	callTimeout time.Duration
	metrics     EngineMetrics
}

var _ ports.MediaEngine = (*EngineWrapper)(nil)

func NewEngineWrapper(engine ports.MediaEngine, opts Options, logger *zap.SugaredLogger) *EngineWrapper {
	w := &EngineWrapper{
		engine:      engine,
		logger:      logger,
		retryConfig: opts.Retry,
		callTimeout: opts.CallTimeout,
		metrics:     opts.Metrics,
	}
	w.retryConfig.ShouldRetry = func(err error) bool {
		return !domain.IsUserFacing(err) && !errors.Is(err, circuitbreaker.ErrOpen)
	}

	if opts.BreakerEnabled {
		cbConfig := opts.CircuitBreaker
		cbConfig.IsFailure = func(err error) bool { return !domain.IsUserFacing(err) }
		w.breaker = circuitbreaker.New(cbConfig)
		w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
			logger.Warnw("media engine circuit breaker state changed",
				"from", from.String(),
				"to", to.String(),
			)
		})
	}
	return w
}

// BreakerState reports the breaker state, closed when the breaker is disabled.
func (w *EngineWrapper) BreakerState() circuitbreaker.State {
	if w.breaker == nil {
		return circuitbreaker.StateClosed
	}
	return w.breaker.GetState()
}

func call[T any](ctx context.Context, w *EngineWrapper, op string, idempotent bool, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := tracing.TraceEngineCall(ctx, op)
	defer span.End()
	start := time.Now()

	attempt := func() (T, error) {
		callCtx := ctx
		if w.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, w.callTimeout)
			defer cancel()
		}
		if w.breaker == nil {
			return fn(callCtx)
		}
		return circuitbreaker.Do(callCtx, w.breaker, func() (T, error) {
			return fn(callCtx)
		})
	}

	var (
		result T
		err    error
	)
	if idempotent {
		result, err = retry.RetryWithResult(ctx, w.retryConfig, attempt)
	} else {
		result, err = attempt()
	}

	if err != nil && !domain.IsUserFacing(err) {
		w.logger.Warnw("media engine call failed", "op", op, "error", err)
		err = domain.EngineFailure(op, err)
	}
	tracing.RecordError(ctx, err)
	if w.metrics != nil {
		w.metrics.RecordEngineCall(op, err, time.Since(start))
	}
	return result, err
}

func exec(ctx context.Context, w *EngineWrapper, op string, idempotent bool, fn func(ctx context.Context) error) error {
	_, err := call(ctx, w, op, idempotent, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (w *EngineWrapper) CreateRouter(ctx context.Context, roomID domain.RoomID) (*domain.Router, error) {
	return call(ctx, w, "create_router", false, func(ctx context.Context) (*domain.Router, error) {
		return w.engine.CreateRouter(ctx, roomID)
	})
}

func (w *EngineWrapper) CloseRouter(ctx context.Context, router *domain.Router) error {
	return exec(ctx, w, "close_router", true, func(ctx context.Context) error {
		return w.engine.CloseRouter(ctx, router)
	})
}

func (w *EngineWrapper) CreateTransport(ctx context.Context, router *domain.Router, role domain.TransportRole) (*domain.Transport, error) {
	return call(ctx, w, "create_transport", false, func(ctx context.Context) (*domain.Transport, error) {
		return w.engine.CreateTransport(ctx, router, role)
	})
}

func (w *EngineWrapper) ConnectTransport(ctx context.Context, transport *domain.Transport, params domain.DTLSParameters) error {
	return exec(ctx, w, "connect_transport", true, func(ctx context.Context) error {
		return w.engine.ConnectTransport(ctx, transport, params)
	})
}

func (w *EngineWrapper) Produce(ctx context.Context, transport *domain.Transport, kind domain.MediaKind, params domain.RTPParameters) (*domain.Producer, error) {
	return call(ctx, w, "produce", false, func(ctx context.Context) (*domain.Producer, error) {
		return w.engine.Produce(ctx, transport, kind, params)
	})
}

func (w *EngineWrapper) Consume(ctx context.Context, router *domain.Router, transport *domain.Transport, producerID domain.ProducerID, caps domain.RTPCapabilities) (*domain.Consumer, error) {
	return call(ctx, w, "consume", false, func(ctx context.Context) (*domain.Consumer, error) {
		return w.engine.Consume(ctx, router, transport, producerID, caps)
	})
}

func (w *EngineWrapper) Pause(ctx context.Context, handle domain.Handle) error {
	return exec(ctx, w, "pause_"+string(handle.HandleKind()), true, func(ctx context.Context) error {
		return w.engine.Pause(ctx, handle)
	})
}

func (w *EngineWrapper) Resume(ctx context.Context, handle domain.Handle) error {
	return exec(ctx, w, "resume_"+string(handle.HandleKind()), true, func(ctx context.Context) error {
		return w.engine.Resume(ctx, handle)
	})
}

func (w *EngineWrapper) Close(ctx context.Context, handle domain.Handle) error {
	return exec(ctx, w, "close_"+string(handle.HandleKind()), true, func(ctx context.Context) error {
		return w.engine.Close(ctx, handle)
	})
}

// WorkerStats forwards to the wrapped engine when it exposes worker load.
func (w *EngineWrapper) WorkerStats() []domain.WorkerStats {
	if p, ok := w.engine.(ports.WorkerStatsProvider); ok {
		return p.WorkerStats()
	}
	return nil
}
