package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Slothbar/slothvote/internal/admission"
	"github.com/Slothbar/slothvote/internal/models"
	"github.com/Slothbar/slothvote/internal/polls"
)

const commandTimeout = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // gateways connect from anywhere; auth is the token
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Commands is what a participant can do over the socket.
type Commands interface {
	RegisterWallet(ctx context.Context, userID, address, messageRef string) (models.Wallet, error)
	RequestVerification(ctx context.Context, userID string) (admission.Result, error)
	CastVote(ctx context.Context, userID string, option int) error
	Status() polls.Status
}

// Client represents a single WebSocket connection of a participant.
type Client struct {
	ID     string
	UserID string
	Role   string
	hub    *Hub
	cmds   Commands
	conn   *websocket.Conn
	send   chan WSMessage
	logger *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, cmds Commands, logger *zap.Logger, jwtValidate func(token string) (userID, role string, err error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		userID, role, err := jwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:     uuid.New().String(),
			UserID: userID,
			Role:   role,
			hub:    hub,
			cmds:   cmds,
			conn:   conn,
			send:   make(chan WSMessage, 256),
			logger: logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		if c.cmds == nil {
			continue
		}
		// Commands run off the read loop; a slow ledger lookup must not stall pongs.
		go c.handle(msg)
	}
}

func (c *Client) handle(msg WSMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch msg.Event {
	case "register":
		var payload struct {
			Address    string `json:"address"`
			MessageRef string `json:"message_ref"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.reply(EventNotice, map[string]string{"text": "invalid register payload"})
			return
		}
		// The gate reports the outcome as a notice.
		_, _ = c.cmds.RegisterWallet(ctx, c.UserID, payload.Address, payload.MessageRef)
	case "verify":
		if _, err := c.cmds.RequestVerification(ctx, c.UserID); err != nil {
			c.logger.Debug("verification", zap.String("user_id", c.UserID), zap.Error(err))
		}
	case "vote":
		var payload struct {
			Option int `json:"option"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.reply(EventNotice, map[string]string{"text": "invalid vote payload"})
			return
		}
		if err := c.cmds.CastVote(ctx, c.UserID, payload.Option); err != nil {
			c.reply(EventNotice, map[string]string{"text": err.Error()})
		}
	case "poll_status":
		c.reply(EventPollStatus, c.cmds.Status())
	default:
		// ignore
	}
}

// reply answers this connection only.
func (c *Client) reply(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case c.send <- WSMessage{Event: event, Data: data}:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
