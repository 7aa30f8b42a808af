// ABOUTME: Tests for the presence Router fan-out
// ABOUTME: Covers registration, rooms, context cancellation, slow consumers and concurrency

package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func assertNoEvent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event %q", ev.Name)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRouter_NotifyReachesEveryChannelOfPrincipal(t *testing.T) {
	r := NewRouter(0, nil)
	defer r.Close()
	ctx := t.Context()

	phone := r.Register(ctx, "alice")
	laptop := r.Register(ctx, "alice")
	other := r.Register(ctx, "bob")

	r.Notify(ctx, "alice", "encrypted_message", map[string]string{"message_id": "m1"})

	for _, c := range []*Conn{phone, laptop} {
		ev := receive(t, c.Events)
		assert.Equal(t, "encrypted_message", ev.Name)
		var payload map[string]string
		require.NoError(t, json.Unmarshal(ev.Data, &payload))
		assert.Equal(t, "m1", payload["message_id"])
	}
	assertNoEvent(t, other.Events)
}

func TestRouter_NotifyOfflineIsNoop(t *testing.T) {
	r := NewRouter(0, nil)
	defer r.Close()

	assert.NotPanics(t, func() {
		r.Notify(t.Context(), "nobody", "encryption_ready", nil)
	})
}

func TestRouter_IsOnline(t *testing.T) {
	r := NewRouter(0, nil)
	defer r.Close()

	ctx, cancel := context.WithCancel(t.Context())
	assert.False(t, r.IsOnline(t.Context(), "alice"))

	conn := r.Register(ctx, "alice")
	assert.True(t, r.IsOnline(t.Context(), "alice"))
	assert.Equal(t, 1, r.ConnectionCount())

	cancel()
	// The channel closes once the registration is torn down.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-conn.Events:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.False(t, r.IsOnline(t.Context(), "alice"))
	assert.Equal(t, 0, r.ConnectionCount())
}

func TestRouter_RoomsAreIsolated(t *testing.T) {
	r := NewRouter(0, nil)
	defer r.Close()
	ctx := t.Context()

	a := r.Register(ctx, "alice")
	b := r.Register(ctx, "bob")
	require.NoError(t, r.Join(a.ID, "job-1"))
	require.NoError(t, r.Join(b.ID, "job-2"))

	r.Broadcast(ctx, "job-1", "task_updated", map[string]string{"task_id": "t1"})

	assert.Equal(t, "task_updated", receive(t, a.Events).Name)
	assertNoEvent(t, b.Events)
}

func TestRouter_Leave(t *testing.T) {
	r := NewRouter(0, nil)
	defer r.Close()
	ctx := t.Context()

	a := r.Register(ctx, "alice")
	require.NoError(t, r.Join(a.ID, "job-1"))
	require.NoError(t, r.Leave(a.ID, "job-1"))
	require.NoError(t, r.Leave(a.ID, "never-joined"))

	r.Broadcast(ctx, "job-1", "meeting_scheduled", nil)
	assertNoEvent(t, a.Events)
}

func TestRouter_JoinUnknownConnection(t *testing.T) {
	r := NewRouter(0, nil)
	defer r.Close()

	assert.ErrorIs(t, r.Join("ghost", "room"), ErrUnknownConnection)
	assert.ErrorIs(t, r.Leave("ghost", "room"), ErrUnknownConnection)
}

func TestRouter_SlowConsumerDropsEvents(t *testing.T) {
	r := NewRouter(2, nil)
	defer r.Close()
	ctx := t.Context()

	c := r.Register(ctx, "alice")
	for range 5 {
		r.Notify(ctx, "alice", "encrypted_message", nil)
	}

	receive(t, c.Events)
	receive(t, c.Events)
	assertNoEvent(t, c.Events)
}

func TestRouter_Send(t *testing.T) {
	r := NewRouter(0, nil)
	defer r.Close()
	ctx := t.Context()

	a := r.Register(ctx, "alice")
	b := r.Register(ctx, "alice")

	ev, err := NewEvent("error", map[string]string{"message": "bad frame"})
	require.NoError(t, err)
	r.Send(a.ID, ev)

	assert.Equal(t, "error", receive(t, a.Events).Name)
	assertNoEvent(t, b.Events)
}

func TestRouter_CloseClosesChannels(t *testing.T) {
	r := NewRouter(0, nil)
	c := r.Register(t.Context(), "alice")
	r.Close()

	_, ok := <-c.Events
	assert.False(t, ok)

	// Registering after close hands back a closed channel.
	late := r.Register(t.Context(), "bob")
	_, ok = <-late.Events
	assert.False(t, ok)
}

func TestRouter_ConcurrentRegisterAndNotify(t *testing.T) {
	r := NewRouter(0, nil)
	defer r.Close()

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			ctx, cancel := context.WithCancel(t.Context())
			c := r.Register(ctx, "alice")
			_ = r.Join(c.ID, "job-1")
			r.Notify(ctx, "alice", "ping", nil)
			r.Broadcast(ctx, "job-1", "ping", nil)
			cancel()
		})
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return r.ConnectionCount() == 0
	}, time.Second, 5*time.Millisecond)
}

// recordingRelay captures relay calls.
type recordingRelay struct {
	mu         sync.Mutex
	principals []string
	rooms      []string
	online     map[string]bool
}

func (f *recordingRelay) PublishPrincipal(_ context.Context, principalID string, _ Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.principals = append(f.principals, principalID)
	return nil
}

func (f *recordingRelay) PublishRoom(_ context.Context, room string, _ Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms = append(f.rooms, room)
	return nil
}

func (f *recordingRelay) MarkOnline(context.Context, string, string) error  { return nil }
func (f *recordingRelay) MarkOffline(context.Context, string, string) error { return nil }

func (f *recordingRelay) IsOnline(_ context.Context, principalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[principalID], nil
}

func TestRouter_RelayIsConsulted(t *testing.T) {
	r := NewRouter(0, nil)
	defer r.Close()
	relay := &recordingRelay{online: map[string]bool{"remote-user": true}}
	r.SetRelay(relay)
	ctx := t.Context()

	assert.True(t, r.IsOnline(ctx, "remote-user"), "online on another instance")
	assert.False(t, r.IsOnline(ctx, "nobody"))

	r.Notify(ctx, "remote-user", "encrypted_message", nil)
	r.Broadcast(ctx, "job-9", "document_shared", nil)

	relay.mu.Lock()
	defer relay.mu.Unlock()
	assert.Equal(t, []string{"remote-user"}, relay.principals)
	assert.Equal(t, []string{"job-9"}, relay.rooms)
}
