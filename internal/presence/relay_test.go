package presence

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeEnvelope(t *testing.T, origin, name string) string {
	t.Helper()
	data, err := json.Marshal(envelope{Origin: origin, Event: Event{Name: name, Data: json.RawMessage(`{}`)}})
	require.NoError(t, err)
	return string(data)
}

func TestRedisRelay_DispatchRoutesByChannel(t *testing.T) {
	relay := NewRedisRelay(nil, "wr", 0, nil)
	r := NewRouter(0, nil)
	defer r.Close()
	ctx := t.Context()

	alice := r.Register(ctx, "alice")
	room := r.Register(ctx, "bob")
	require.NoError(t, r.Join(room.ID, "job-1"))

	relay.dispatch(r, "wr:notify:alice", encodeEnvelope(t, "other-instance", "encrypted_message"))
	relay.dispatch(r, "wr:room:job-1", encodeEnvelope(t, "other-instance", "task_updated"))

	assert.Equal(t, "encrypted_message", receive(t, alice.Events).Name)
	assert.Equal(t, "task_updated", receive(t, room.Events).Name)
}

func TestRedisRelay_DispatchIgnoresOwnAndMalformed(t *testing.T) {
	relay := NewRedisRelay(nil, "wr", 0, nil)
	r := NewRouter(0, nil)
	defer r.Close()

	alice := r.Register(t.Context(), "alice")

	relay.dispatch(r, "wr:notify:alice", encodeEnvelope(t, relay.instanceID, "encrypted_message"))
	relay.dispatch(r, "wr:notify:alice", "not json")
	relay.dispatch(r, "wr:other:alice", encodeEnvelope(t, "other-instance", "x"))

	assertNoEvent(t, alice.Events)
}

func TestRedisRelay_Keys(t *testing.T) {
	relay := NewRedisRelay(nil, "", 0, nil)

	assert.Equal(t, "workroom:notify:alice", relay.notifyChannel("alice"))
	assert.Equal(t, "workroom:room:job-1", relay.roomChannel("job-1"))
	assert.Equal(t, "workroom:presence:alice", relay.presenceKey("alice"))
	assert.Equal(t, DefaultPresenceTTL, relay.ttl)
}

// TestRedisRelay_CrossInstance needs a live Redis at WORKROOM_TEST_REDIS_ADDR.
func TestRedisRelay_CrossInstance(t *testing.T) {
	addr := os.Getenv("WORKROOM_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("WORKROOM_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	require.NoError(t, rdb.Ping(t.Context()).Err())

	prefix := "wrtest-" + time.Now().Format("150405.000000")
	relayA := NewRedisRelay(rdb, prefix, time.Minute, nil)
	relayB := NewRedisRelay(rdb, prefix, time.Minute, nil)

	routerA := NewRouter(0, nil)
	defer routerA.Close()
	routerA.SetRelay(relayA)
	routerB := NewRouter(0, nil)
	defer routerB.Close()
	routerB.SetRelay(relayB)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = relayB.Run(ctx, routerB) }()

	conn := routerB.Register(ctx, "alice")
	assert.True(t, routerA.IsOnline(ctx, "alice"), "presence is shared")

	// Give the subscription a moment to be established.
	require.Eventually(t, func() bool {
		routerA.Notify(ctx, "alice", "encrypted_message", nil)
		select {
		case ev := <-conn.Events:
			return ev.Name == "encrypted_message"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
}
