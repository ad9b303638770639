package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"roomsignal/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRoomEventDispatcher_OrderedPerHook(t *testing.T) {
	d := NewRoomEventDispatcher(16, zap.NewNop().Sugar())
	defer d.Close()

	var mu sync.Mutex
	var seen []domain.PeerID
	d.Subscribe("order", func(_ context.Context, e domain.RoomEvent) error {
		mu.Lock()
		seen = append(seen, e.PeerID)
		mu.Unlock()
		return nil
	})

	for _, id := range []domain.PeerID{"1", "2", "3", "4"} {
		d.Dispatch(domain.RoomEvent{Type: domain.RoomEventPeerJoined, RoomID: "R", PeerID: id})
	}
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.PeerID{"1", "2", "3", "4"}, seen)
}

func TestRoomEventDispatcher_ReportsFailures(t *testing.T) {
	d := NewRoomEventDispatcher(4, zap.NewNop().Sugar())
	defer d.Close()

	boom := errors.New("webhook down")
	d.Subscribe("failing", func(context.Context, domain.RoomEvent) error { return boom })
	d.Subscribe("panicking", func(context.Context, domain.RoomEvent) error { panic("oops") })

	d.Dispatch(domain.RoomEvent{Type: domain.RoomEventCreated, RoomID: "R"})
	d.Wait()

	got := map[string]error{}
	for i := 0; i < 2; i++ {
		select {
		case hookErr := <-d.Errors():
			got[hookErr.Hook] = hookErr.Err
			assert.Equal(t, domain.RoomEventCreated, hookErr.Event.Type)
		case <-time.After(time.Second):
			t.Fatal("hook error not reported")
		}
	}
	assert.ErrorIs(t, got["failing"], boom)
	require.Error(t, got["panicking"])
	assert.Contains(t, got["panicking"].Error(), "oops")
}

func TestRoomEventDispatcher_SlowHookDoesNotBlock(t *testing.T) {
	d := NewRoomEventDispatcher(1, zap.NewNop().Sugar())

	release := make(chan struct{})
	d.Subscribe("slow", func(context.Context, domain.RoomEvent) error {
		<-release
		return nil
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			d.Dispatch(domain.RoomEvent{Type: domain.RoomEventPeerLeft, RoomID: "R"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on a slow hook")
	}

	select {
	case hookErr := <-d.Errors():
		assert.ErrorIs(t, hookErr, ErrHookQueueFull)
	case <-time.After(time.Second):
		t.Fatal("queue overflow not reported")
	}

	close(release)
	d.Close()
}
