// ABOUTME: Tests for the WebSocket real-time channel
// ABOUTME: Dials the httptest server with gorilla/websocket and checks frames, receipts and heartbeat

package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/workroom-gateway/internal/config"
	"github.com/2389/workroom-gateway/internal/presence"
)

// dialQuery opens a channel authenticating with ?token=.
func (e *testEnv) dialQuery(t *testing.T, principal string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + e.tokens[principal]
	ws, resp, err := websocket.DefaultDialer.DialContext(t.Context(), url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// dialHeader opens a channel authenticating with the Authorization header.
func (e *testEnv) dialHeader(t *testing.T, principal string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+e.tokens[principal])
	ws, resp, err := websocket.DefaultDialer.DialContext(t.Context(), url, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func writeFrame(t *testing.T, ws *websocket.Conn, frame InboundFrame) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(frame))
}

// readEvent returns the next frame named name, skipping others.
func readEvent(t *testing.T, ws *websocket.Conn, name string) presence.Event {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ev presence.Event
		require.NoError(t, ws.ReadJSON(&ev))
		if ev.Name == name {
			return ev
		}
	}
}

func eventData[T any](t *testing.T, ev presence.Event) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(ev.Data, &v))
	return v
}

// join joins the conversation room and waits for the confirmation, which
// also guarantees the channel is registered.
func join(t *testing.T, ws *websocket.Conn, convID string) {
	t.Helper()
	writeFrame(t, ws, InboundFrame{Type: FrameJoin, ConversationID: convID})
	ev := readEvent(t, ws, EventJoined)
	assert.Equal(t, convID, eventData[map[string]string](t, ev)["conversation_id"])
}

func TestWebSocket_RejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.DialContext(t.Context(), url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.DialContext(t.Context(), url+"?token="+env.tokens[testSuspended], nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebSocket_OnlineRecipientGetsDeliveredMessage(t *testing.T) {
	env := newTestEnv(t)
	convID := env.createConversation(t, "proposal-1")

	recipient := env.dialQuery(t, testCounterparty)
	join(t, recipient, convID)

	resp := env.do(t, http.MethodPost, "/api/conversations/"+convID+"/messages", testClient, map[string]any{
		"ciphertext":     "opaque",
		"integrity_hash": "h",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sent := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "delivered", sent["status"])

	ev := readEvent(t, recipient, "encrypted_message")
	msg := eventData[map[string]any](t, ev)
	assert.Equal(t, sent["message_id"], msg["id"])
	assert.Equal(t, "opaque", msg["ciphertext"])
	assert.Equal(t, testClient, msg["sender_id"])
}

func TestWebSocket_OfflineRecipientStaysSent(t *testing.T) {
	env := newTestEnv(t)
	convID := env.createConversation(t, "proposal-1")

	resp := env.do(t, http.MethodPost, "/api/conversations/"+convID+"/messages", testClient, map[string]any{
		"ciphertext":     "opaque",
		"integrity_hash": "h",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "sent", decodeBody[map[string]any](t, resp)["status"])
}

func TestWebSocket_ReceiptsOverChannel(t *testing.T) {
	env := newTestEnv(t)
	convID := env.createConversation(t, "proposal-1")
	msgID := env.sendMessage(t, convID, testClient, "hello")

	sender := env.dialHeader(t, testClient)
	join(t, sender, convID)
	recipient := env.dialQuery(t, testCounterparty)
	join(t, recipient, convID)

	writeFrame(t, recipient, InboundFrame{Type: FrameMarkDelivered, ConversationID: convID, MessageID: msgID})
	ack := eventData[AckData](t, readEvent(t, recipient, EventAck))
	assert.Equal(t, FrameMarkDelivered, ack.Type)
	assert.Equal(t, []string{msgID}, ack.MessageIDs)

	delivered := eventData[map[string]any](t, readEvent(t, sender, "message_delivered"))
	assert.Equal(t, msgID, delivered["message_id"])

	writeFrame(t, recipient, InboundFrame{Type: FrameMarkRead, ConversationID: convID, MessageIDs: []string{msgID}})
	ack = eventData[AckData](t, readEvent(t, recipient, EventAck))
	assert.Equal(t, FrameMarkRead, ack.Type)
	assert.Equal(t, []string{msgID}, ack.MessageIDs)

	read := eventData[map[string]any](t, readEvent(t, sender, "messages_read"))
	assert.Equal(t, []any{msgID}, read["message_ids"])
	assert.Equal(t, testCounterparty, read["read_by"])
}

func TestWebSocket_ErrorFrames(t *testing.T) {
	env := newTestEnv(t)
	convID := env.createConversation(t, "proposal-1")

	outsider := env.dialQuery(t, testOutsider)

	writeFrame(t, outsider, InboundFrame{Type: FrameJoin, ConversationID: convID})
	body := eventData[ErrorBody](t, readEvent(t, outsider, EventError))
	assert.Equal(t, "forbidden", body.Kind)

	writeFrame(t, outsider, InboundFrame{Type: FrameJoin, ConversationID: "missing"})
	body = eventData[ErrorBody](t, readEvent(t, outsider, EventError))
	assert.Equal(t, "not_found", body.Kind)

	writeFrame(t, outsider, InboundFrame{Type: "shout", ConversationID: convID})
	body = eventData[ErrorBody](t, readEvent(t, outsider, EventError))
	assert.Equal(t, "invalid_input", body.Kind)

	writeFrame(t, outsider, InboundFrame{Type: FrameJoin})
	body = eventData[ErrorBody](t, readEvent(t, outsider, EventError))
	assert.Equal(t, "invalid_input", body.Kind)

	require.NoError(t, outsider.WriteMessage(websocket.TextMessage, []byte("{nope")))
	body = eventData[ErrorBody](t, readEvent(t, outsider, EventError))
	assert.Equal(t, "invalid_input", body.Kind)
}

func TestWebSocket_RoomBroadcastAndLeave(t *testing.T) {
	env := newTestEnv(t)
	convID := env.createConversation(t, "proposal-1")

	ws := env.dialQuery(t, testCounterparty)
	join(t, ws, convID)

	resp := env.do(t, http.MethodPost, "/api/conversations/"+convID+"/tasks", testClient, map[string]any{
		"title": "Review contract",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	task := eventData[map[string]any](t, readEvent(t, ws, "task_updated"))
	assert.Equal(t, "Review contract", task["title"])

	writeFrame(t, ws, InboundFrame{Type: FrameLeave, ConversationID: convID})
	readEvent(t, ws, EventLeft)
}

func TestWebSocket_HeartbeatTimeoutUnregisters(t *testing.T) {
	env := newTestEnvWithConfig(t, func(c *config.Config) {
		c.Presence.HeartbeatInterval = 20 * time.Millisecond
		c.Presence.HeartbeatTimeout = 100 * time.Millisecond
	})
	convID := env.createConversation(t, "proposal-1")

	ws := env.dialQuery(t, testCounterparty)
	join(t, ws, convID)
	require.Equal(t, 1, env.gw.presence.ConnectionCount())

	// Not reading means pings go unanswered.
	require.Eventually(t, func() bool {
		return env.gw.presence.ConnectionCount() == 0
	}, 5*time.Second, 20*time.Millisecond)

	assert.False(t, env.gw.presence.IsOnline(t.Context(), testCounterparty))
}

func TestWebSocket_ShutdownClosesChannels(t *testing.T) {
	env := newTestEnv(t)
	convID := env.createConversation(t, "proposal-1")

	ws := env.dialQuery(t, testCounterparty)
	join(t, ws, convID)

	env.gw.presence.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "EOF") ||
				strings.Contains(err.Error(), "reset"), "unexpected error: %v", err)
			break
		}
	}
}
