package reliability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports/mocks"
	"roomsignal/pkg/circuitbreaker"
	"roomsignal/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errWorkerDied = errors.New("worker died")

type recordedCall struct {
	op  string
	err error
}

type fakeMetrics struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (m *fakeMetrics) RecordEngineCall(op string, err error, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, recordedCall{op: op, err: err})
}

func testOptions(metrics EngineMetrics) Options {
	return Options{
		Retry: retry.Config{
			Enabled:      true,
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
			Multiplier:   2,
		},
		BreakerEnabled: true,
		CircuitBreaker: circuitbreaker.Config{
			FailureThreshold:    3,
			SuccessThreshold:    1,
			Timeout:             time.Hour,
			MaxRequestsHalfOpen: 1,
		},
		Metrics: metrics,
	}
}

func TestEngineWrapper_RetriesIdempotentOps(t *testing.T) {
	engine := new(mocks.MediaEngine)
	transport := &domain.Transport{ID: "t1"}
	params := domain.DTLSParameters{Fingerprints: []domain.DTLSFingerprint{{Algorithm: "sha-256", Value: "AA"}}}

	engine.On("ConnectTransport", mock.Anything, transport, params).Return(errWorkerDied).Once()
	engine.On("ConnectTransport", mock.Anything, transport, params).Return(nil).Once()

	metrics := &fakeMetrics{}
	w := NewEngineWrapper(engine, testOptions(metrics), zap.NewNop().Sugar())

	require.NoError(t, w.ConnectTransport(context.Background(), transport, params))
	engine.AssertNumberOfCalls(t, "ConnectTransport", 2)
	require.Len(t, metrics.calls, 1)
	assert.Equal(t, "connect_transport", metrics.calls[0].op)
	assert.NoError(t, metrics.calls[0].err)
}

func TestEngineWrapper_DoesNotRetryCreation(t *testing.T) {
	engine := new(mocks.MediaEngine)
	engine.On("CreateRouter", mock.Anything, domain.RoomID("R")).Return(nil, errWorkerDied).Once()

	w := NewEngineWrapper(engine, testOptions(nil), zap.NewNop().Sugar())
	_, err := w.CreateRouter(context.Background(), "R")

	assert.ErrorIs(t, err, domain.ErrEngineUnavailable)
	engine.AssertNumberOfCalls(t, "CreateRouter", 1)
}

func TestEngineWrapper_CallerErrorsPassThrough(t *testing.T) {
	engine := new(mocks.MediaEngine)
	router := &domain.Router{ID: "r1"}
	transport := &domain.Transport{ID: "t1"}
	caps := domain.RTPCapabilities{}
	engine.On("Consume", mock.Anything, router, transport, domain.ProducerID("p1"), caps).
		Return(nil, domain.ErrIncompatible)
	engine.On("Close", mock.Anything, mock.Anything).Return(domain.ErrHandleClosed)

	w := NewEngineWrapper(engine, testOptions(nil), zap.NewNop().Sugar())
	for i := 0; i < 5; i++ {
		_, err := w.Consume(context.Background(), router, transport, "p1", caps)
		assert.ErrorIs(t, err, domain.ErrIncompatible)
		assert.NotErrorIs(t, err, domain.ErrEngineUnavailable)
	}

	err := w.Close(context.Background(), &domain.Producer{ID: "p1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	engine.AssertNumberOfCalls(t, "Close", 1)

	assert.Equal(t, circuitbreaker.StateClosed, w.BreakerState())
}

func TestEngineWrapper_BreakerOpensOnEngineFailures(t *testing.T) {
	engine := new(mocks.MediaEngine)
	engine.On("CreateRouter", mock.Anything, mock.Anything).Return(nil, errWorkerDied)

	w := NewEngineWrapper(engine, testOptions(nil), zap.NewNop().Sugar())
	for i := 0; i < 3; i++ {
		_, err := w.CreateRouter(context.Background(), "R")
		require.ErrorIs(t, err, domain.ErrEngineUnavailable)
	}
	require.Equal(t, circuitbreaker.StateOpen, w.BreakerState())

	_, err := w.CreateRouter(context.Background(), "R")
	assert.ErrorIs(t, err, domain.ErrEngineUnavailable)
	engine.AssertNumberOfCalls(t, "CreateRouter", 3)
}

func TestEngineWrapper_CallTimeout(t *testing.T) {
	engine := new(mocks.MediaEngine)
	router := &domain.Router{ID: "r1"}
	engine.On("CreateTransport", mock.Anything, router, domain.TransportRoleSend).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	opts := testOptions(nil)
	opts.CallTimeout = 10 * time.Millisecond
	w := NewEngineWrapper(engine, opts, zap.NewNop().Sugar())

	_, err := w.CreateTransport(context.Background(), router, domain.TransportRoleSend)
	assert.ErrorIs(t, err, domain.ErrEngineUnavailable)
}

func TestEngineWrapper_BreakerDisabled(t *testing.T) {
	engine := new(mocks.MediaEngine)
	engine.On("CreateRouter", mock.Anything, mock.Anything).Return(nil, errWorkerDied)

	opts := testOptions(nil)
	opts.BreakerEnabled = false
	w := NewEngineWrapper(engine, opts, zap.NewNop().Sugar())

	for i := 0; i < 10; i++ {
		_, _ = w.CreateRouter(context.Background(), "R")
	}
	engine.AssertNumberOfCalls(t, "CreateRouter", 10)
	assert.Equal(t, circuitbreaker.StateClosed, w.BreakerState())
}
