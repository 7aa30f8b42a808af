// ABOUTME: WebSocket real-time channel: authenticates, registers with the presence router, pumps frames
// ABOUTME: Handles join/leave/mark_delivered/mark_read frames and enforces the ping/pong heartbeat

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/workroom-gateway/internal/auth"
	"github.com/2389/workroom-gateway/internal/conversation"
	"github.com/2389/workroom-gateway/internal/presence"
)

const (
	writeWait     = 10 * time.Second
	maxFrameBytes = 64 << 10
)

// Frame types a client may send.
const (
	FrameJoin          = "join"
	FrameLeave         = "leave"
	FrameMarkDelivered = "mark_delivered"
	FrameMarkRead      = "mark_read"
)

// Events only the channel itself emits.
const (
	EventError  = "error"
	EventJoined = "joined"
	EventLeft   = "left"
	EventAck    = "ack"
)

// Credentials are bearer tokens, never cookies, so any origin may connect.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// InboundFrame is a client to gateway frame.
type InboundFrame struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversation_id"`
	MessageID      string   `json:"message_id,omitempty"`
	MessageIDs     []string `json:"message_ids,omitempty"`
}

// AckData acknowledges a frame that changed delivery state.
type AckData struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids"`
}

// channel is one live WebSocket connection.
type channel struct {
	gw          *Gateway
	ws          *websocket.Conn
	conn        *presence.Conn
	principalID string
	interval    time.Duration
	timeout     time.Duration
	logger      *slog.Logger
}

// handleWebSocket authenticates with the Authorization header or ?token= and
// serves the channel until either side closes it.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	authCtx, err := g.authn.AuthenticateRequest(r, true)
	if err != nil {
		g.logger.Debug("websocket rejected", "error", err)
		auth.WriteError(w, err)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "principal_id", authCtx.PrincipalID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	pc := g.presence.Register(ctx, authCtx.PrincipalID)
	ch := &channel{
		gw:          g,
		ws:          ws,
		conn:        pc,
		principalID: authCtx.PrincipalID,
		interval:    g.config.Presence.HeartbeatInterval,
		timeout:     g.config.Presence.HeartbeatTimeout,
		logger:      g.logger.With("principal_id", authCtx.PrincipalID, "conn_id", pc.ID),
	}
	ch.logger.Info("channel opened")

	done := make(chan struct{})
	go func() {
		ch.writePump()
		close(done)
	}()

	ch.readPump(ctx)

	// Unregistering closes Events, which ends the write pump.
	g.presence.Unregister(pc.ID)
	<-done
	ch.logger.Info("channel closed")
}

// readPump reads frames until the socket fails or the heartbeat times out.
func (c *channel) readPump(ctx context.Context) {
	defer func() { _ = c.ws.Close() }()

	c.ws.SetReadLimit(maxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.timeout))
	c.ws.SetPongHandler(func(string) error {
		c.gw.presence.Touch(ctx, c.conn.ID)
		return c.ws.SetReadDeadline(time.Now().Add(c.timeout))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.timeout))

		var frame InboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendError(ErrorBody{Kind: string(conversation.KindInvalidInput), Message: "invalid JSON frame"})
			continue
		}
		c.handleFrame(ctx, frame)
	}
}

// writePump is the only writer on the socket.
func (c *channel) writePump() {
	ticker := time.NewTicker(c.interval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case ev, ok := <-c.conn.Events:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				c.logger.Debug("write failed", "event", ev.Name, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *channel) handleFrame(ctx context.Context, frame InboundFrame) {
	if frame.ConversationID == "" {
		c.sendError(ErrorBody{Kind: string(conversation.KindInvalidInput), Message: "conversation_id is required"})
		return
	}
	room := conversation.Room(frame.ConversationID)

	switch frame.Type {
	case FrameJoin:
		if _, err := c.gw.conversation.GetConversation(ctx, frame.ConversationID, c.principalID); err != nil {
			c.sendFailure(err)
			return
		}
		if err := c.gw.presence.Join(c.conn.ID, room); err != nil {
			c.sendFailure(err)
			return
		}
		c.send(EventJoined, map[string]string{"conversation_id": frame.ConversationID})

	case FrameLeave:
		if err := c.gw.presence.Leave(c.conn.ID, room); err != nil {
			c.sendFailure(err)
			return
		}
		c.send(EventLeft, map[string]string{"conversation_id": frame.ConversationID})

	case FrameMarkDelivered:
		updated, err := c.gw.conversation.MarkDelivered(ctx, frame.ConversationID, c.principalID, frame.MessageID)
		if err != nil {
			c.sendFailure(err)
			return
		}
		ids := []string{}
		if updated {
			ids = append(ids, frame.MessageID)
		}
		c.send(EventAck, AckData{Type: FrameMarkDelivered, ConversationID: frame.ConversationID, MessageIDs: ids})

	case FrameMarkRead:
		receipt, err := c.gw.conversation.MarkRead(ctx, frame.ConversationID, c.principalID, frame.MessageIDs)
		if err != nil {
			c.sendFailure(err)
			return
		}
		c.send(EventAck, AckData{Type: FrameMarkRead, ConversationID: frame.ConversationID, MessageIDs: receipt.MessageIDs})

	default:
		c.sendError(ErrorBody{Kind: string(conversation.KindInvalidInput), Message: "unsupported frame type " + frame.Type})
	}
}

// send queues a frame for this connection only.
func (c *channel) send(name string, payload any) {
	ev, err := presence.NewEvent(name, payload)
	if err != nil {
		c.logger.Error("failed to encode frame", "event", name, "error", err)
		return
	}
	c.gw.presence.Send(c.conn.ID, ev)
}

func (c *channel) sendError(body ErrorBody) {
	c.send(EventError, body)
}

// sendFailure reports an operation error as an error frame.
func (c *channel) sendFailure(err error) {
	if conversation.KindOf(err) == conversation.KindInternal {
		c.logger.Error("frame failed", "error", err)
	}
	c.sendError(errorBodyFor(err))
}
