package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Slothbar/slothvote/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	EventNotice        = "notice"
	EventPoll          = "poll"
	EventDeleteMessage = "delete_message"
	EventPollStatus    = "poll_status"

	broadcastChannel = "broadcast"
)

// ErrNotConnected is returned when no connection of the user accepted the message.
var ErrNotConnected = errors.New("user is not connected")

// Publisher publishes an event on a Redis channel and reports how many subscribers got it.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload []byte) (int64, error)
}

// Subscriber subscribes to a Redis channel and invokes handler for incoming events.
type Subscriber interface {
	Subscribe(channel string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// PollMessage is the payload of a poll event.
type PollMessage struct {
	Receipt string           `json:"receipt"`
	Poll    models.PollCycle `json:"poll"`
}

// Hub maintains user_id -> set of connections. It is the messaging side of admission:
// notices, poll delivery and message deletion all go through it.
// With Redis configured, every send is published on the user's channel and each
// instance holding a connection for that user writes it locally.
type Hub struct {
	users  map[string]map[string]*Client
	subs   map[string]func() // cancel Redis subscription per user
	mu     sync.RWMutex
	logger *zap.Logger
	pub    Publisher
	sub    Subscriber
}

// NewHub creates a new WebSocket hub. pub and sub may be nil for a single instance.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		users:  make(map[string]map[string]*Client),
		subs:   make(map[string]func()),
		logger: logger,
		pub:    pub,
		sub:    sub,
	}
}

// Start subscribes to the broadcast channel. It is a no-op without Redis.
func (h *Hub) Start() (cancel func(), err error) {
	if h.sub == nil {
		return func() {}, nil
	}
	return h.sub.Subscribe(broadcastChannel, func(event string, payload []byte) {
		h.broadcastLocal(WSMessage{Event: event, Data: payload})
	})
}

// Register adds a client. Starts the Redis subscription for the user on first connection.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[string]*Client)
		if h.sub != nil {
			userID := c.UserID
			cancel, err := h.sub.Subscribe(userChannel(userID), func(event string, payload []byte) {
				h.sendLocal(userID, WSMessage{Event: event, Data: payload})
			})
			if err != nil {
				h.logger.Warn("subscribe user channel", zap.String("user_id", userID), zap.Error(err))
			} else {
				h.subs[userID] = cancel
			}
		}
	}
	h.users[c.UserID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID))
}

// Unregister removes a client. Cancels the Redis subscription when the user's last connection leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.users[c.UserID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.users, c.UserID)
			if cancel, ok := h.subs[c.UserID]; ok {
				cancel()
				delete(h.subs, c.UserID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID))
}

// Connected reports whether the user has a connection on this instance.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// Notify sends a plain-text notice to the user.
func (h *Hub) Notify(ctx context.Context, userID, text string) error {
	return h.sendToUser(ctx, userID, EventNotice, map[string]string{"text": text})
}

// DeliverPoll presents the poll to the user. The returned receipt identifies this delivery.
func (h *Hub) DeliverPoll(ctx context.Context, userID string, cycle models.PollCycle) (string, error) {
	receipt := uuid.NewString()
	if err := h.sendToUser(ctx, userID, EventPoll, PollMessage{Receipt: receipt, Poll: cycle}); err != nil {
		return "", err
	}
	return receipt, nil
}

// TryDelete asks the user's client to delete one of its messages. Failures are ignored.
func (h *Hub) TryDelete(ctx context.Context, userID, messageRef string) {
	if err := h.sendToUser(ctx, userID, EventDeleteMessage, map[string]string{"message_ref": messageRef}); err != nil {
		h.logger.Debug("delete message", zap.String("user_id", userID), zap.Error(err))
	}
}

// Announce sends a notice to every connected participant.
func (h *Hub) Announce(text string) {
	data, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return
	}
	if h.pub != nil {
		if _, err := h.pub.Publish(context.Background(), broadcastChannel, EventNotice, data); err != nil {
			h.logger.Warn("publish announcement", zap.Error(err))
		}
		return
	}
	h.broadcastLocal(WSMessage{Event: EventNotice, Data: data})
}

func (h *Hub) sendToUser(ctx context.Context, userID, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	if h.pub != nil {
		n, err := h.pub.Publish(ctx, userChannel(userID), event, data)
		if err != nil {
			return fmt.Errorf("publish %s: %w", event, err)
		}
		if n == 0 {
			return ErrNotConnected
		}
		return nil
	}
	if h.sendLocal(userID, WSMessage{Event: event, Data: data}) == 0 {
		return ErrNotConnected
	}
	return nil
}

// sendLocal queues msg on every local connection of the user and returns how many accepted it.
func (h *Hub) sendLocal(userID string, msg WSMessage) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for _, c := range h.users[userID] {
		select {
		case c.send <- msg:
			sent++
		default:
			// buffer full, skip
		}
	}
	return sent
}

func (h *Hub) broadcastLocal(msg WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clients := range h.users {
		for _, c := range clients {
			select {
			case c.send <- msg:
			default:
			}
		}
	}
}

func userChannel(userID string) string {
	return "user:" + userID
}
