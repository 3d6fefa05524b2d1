package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"greenearth/internal/core/domain"
	"greenearth/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrTooManyConnections = errors.New("too many websocket connections")

// CallCommands is the part of the call service driven by socket messages.
type CallCommands interface {
	State(ctx context.Context, callID domain.CallID, userID domain.UserID) (*domain.CallViewState, error)
	SetMuted(ctx context.Context, callID domain.CallID, userID domain.UserID, muted bool) (*domain.CallViewState, error)
	SetVideoOff(ctx context.Context, callID domain.CallID, userID domain.UserID, off bool) (*domain.CallViewState, error)
	LeaveCall(ctx context.Context, callID domain.CallID, userID domain.UserID) error
}

type HubConfig struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	SendBuffer        int
	MessagesPerSecond float64
	Burst             int
	MaxMessageSize    int64
	MaxConnections    int // 0 means unlimited
	AllowedOrigins    []string
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SendBuffer:        64,
		MessagesPerSecond: 20,
		Burst:             40,
		MaxMessageSize:    16 * 1024,
	}
}

type clientKey struct {
	callID domain.CallID
	userID domain.UserID
}

// Hub keeps one event socket per user per call and implements
// ports.EventPublisher on top of them.
type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger

	mu       sync.RWMutex
	calls    map[domain.CallID]map[domain.UserID]*client
	total    int
	commands CallCommands
}

func NewHub(cfg HubConfig, logger *zap.SugaredLogger) *Hub {
	h := &Hub{
		cfg:    cfg,
		logger: logger,
		calls:  make(map[domain.CallID]map[domain.UserID]*client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// SetCommands wires the call service. It must be called before serving.
func (h *Hub) SetCommands(commands CallCommands) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = commands
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Serve upgrades the request into the event socket of a user who has
// already joined callID.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, callID domain.CallID, userID domain.UserID) error {
	h.mu.RLock()
	commands := h.commands
	full := h.cfg.MaxConnections > 0 && h.total >= h.cfg.MaxConnections
	h.mu.RUnlock()

	if full {
		return ErrTooManyConnections
	}
	if commands == nil {
		return fmt.Errorf("signal hub has no call service")
	}

	state, err := commands.State(r.Context(), callID, userID)
	if err != nil {
		return err
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.Warnw("WebSocket upgrade failed", "call_id", callID, "user_id", userID, "error", err)
		return nil
	}

	c := newClient(h, conn, clientKey{callID: callID, userID: userID})
	h.register(c)
	c.enqueue(serverMessage{Type: msgState, State: state})

	go c.writePump()
	go c.readPump(commands)
	return nil
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	users, ok := h.calls[c.key.callID]
	if !ok {
		users = make(map[domain.UserID]*client)
		h.calls[c.key.callID] = users
	}
	old := users[c.key.userID]
	users[c.key.userID] = c
	if old == nil {
		h.total++
	}
	h.mu.Unlock()

	if old != nil {
		h.logger.Infow("Replacing event socket for reconnecting user", "call_id", c.key.callID, "user_id", c.key.userID)
		old.close()
	}
	h.logger.Infow("Event socket connected", "call_id", c.key.callID, "user_id", c.key.userID)
}

// unregister removes c unless it was already replaced by a newer socket.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	users := h.calls[c.key.callID]
	if users[c.key.userID] != c {
		return
	}
	delete(users, c.key.userID)
	h.total--
	if len(users) == 0 {
		delete(h.calls, c.key.callID)
	}
}

// Publish fans event out to every socket of the call. Slow consumers whose
// buffer is full are disconnected.
func (h *Hub) Publish(ctx context.Context, callID domain.CallID, event domain.CallEvent) error {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.calls[callID]))
	for _, c := range h.calls[callID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	msg := serverMessage{Type: msgEvent, Event: &event}
	for _, c := range targets {
		if !c.enqueue(msg) {
			h.logger.Warnw("Dropping slow event socket", "call_id", callID, "user_id", c.key.userID)
			c.close()
		}
	}

	if event.Type == domain.EventCallArchived {
		for _, c := range targets {
			c.closeAfterFlush()
		}
	}
	return nil
}

// Connections returns the number of open sockets.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// Close disconnects every socket.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*client
	for _, users := range h.calls {
		for _, c := range users {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.close()
	}
}

func (h *Hub) handle(ctx context.Context, commands CallCommands, c *client, msg clientMessage) (*domain.CallViewState, error) {
	ctx, span := tracing.TraceWebSocketMessage(ctx, msg.Type, string(c.key.userID))
	defer span.End()

	switch msg.Type {
	case msgState:
		var state *domain.CallViewState
		var err error
		if msg.IsMuted == nil && msg.IsVideoOff == nil {
			return nil, fmt.Errorf("state message needs is_muted or is_video_off")
		}
		if msg.IsMuted != nil {
			if state, err = commands.SetMuted(ctx, c.key.callID, c.key.userID, *msg.IsMuted); err != nil {
				return nil, err
			}
		}
		if msg.IsVideoOff != nil {
			if state, err = commands.SetVideoOff(ctx, c.key.callID, c.key.userID, *msg.IsVideoOff); err != nil {
				return nil, err
			}
		}
		return state, nil
	case msgGetState:
		return commands.State(ctx, c.key.callID, c.key.userID)
	case msgLeave:
		return nil, commands.LeaveCall(ctx, c.key.callID, c.key.userID)
	default:
		return nil, fmt.Errorf("unknown message type: %q", msg.Type)
	}
}

func newLimiter(cfg HubConfig) *rate.Limiter {
	if cfg.MessagesPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.Burst)
}

func encode(msg serverMessage) ([]byte, error) {
	return json.Marshal(msg)
}
