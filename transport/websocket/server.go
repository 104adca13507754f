package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/neonarcade/tictactoe-backend/internal/apperror"
	"github.com/neonarcade/tictactoe-backend/internal/entity"
	"github.com/neonarcade/tictactoe-backend/internal/registry"
	"github.com/neonarcade/tictactoe-backend/internal/service"
)

const sendQueueSize = 32

type authService interface {
	ParseToken(tokenString string) (entity.Identity, error)
}

type playerRepo interface {
	CreateOrUpdate(ctx context.Context, identity *entity.Identity) error
}


type client struct {
	identity entity.Identity
	conn     *websocket.Conn // nil for in-process test clients
	send     chan Message

	// room is the code of the subscribed room, empty when not in one.
	// Guarded by Server.mu.
	room string

	closeOnce sync.Once
}

func (that *client) enqueue(msg Message) {
	select {
	case that.send <- msg:
	default:
		// slow receiver, drop the event instead of blocking the room
	}
}

func (that *client) close() {
	that.closeOnce.Do(func() {
		close(that.send)
	})
}

// Server is the realtime gateway: it upgrades HTTP connections, resolves
// identities, routes actions to room sessions and fans room events back out.
type Server struct {
	logger   *slog.Logger
	rooms    *registry.Registry
	auth     authService
	players  playerRepo
	opponent *service.OpponentAdapter

	upgrader websocket.Upgrader
	handlers map[string]func(ctx context.Context, c *client, payload []byte) error

	mu          sync.RWMutex
	byIdentity  map[string]*client
	subscribers map[string]map[*client]struct{}
}

func New(logger *slog.Logger, rooms *registry.Registry, auth authService, players playerRepo, opponent *service.OpponentAdapter) *Server {
	that := &Server{
		logger:   logger,
		rooms:    rooms,
		auth:     auth,
		players:  players,
		opponent: opponent,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		byIdentity:  make(map[string]*client),
		subscribers: make(map[string]map[*client]struct{}),
	}

	that.handlers = map[string]func(ctx context.Context, c *client, payload []byte) error{
		ActionJoinRoom:    that.handleJoinRoom,
		ActionMakeMove:    that.handleMakeMove,
		ActionResetGame:   that.handleResetGame,
		ActionPlayVsAI:    that.handlePlayVsAI,
		ActionLeaveAIGame: that.handleLeaveAIGame,
	}

	return that
}

// Start serves the /ws endpoint until ctx is cancelled.
func (that *Server) Start(ctx context.Context, port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", that.serveWS)

	server := &http.Server{
		Addr:        ":" + port,
		Handler:     mux,
		IdleTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}()

	that.logger.Info("starting websocket server", "port", port)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server failed: %w", err)
	}

	return nil
}

func (that *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	logger := that.logger.With("method", "serveWS")

	conn, err := that.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("failed to upgrade connection", "error", err)
		return
	}

	identity := that.resolveIdentity(r)

	if err = that.players.CreateOrUpdate(r.Context(), &identity); err != nil {
		logger.Error("failed to store identity", "error", err, "player", identity.ID)
	}

	c := &client{
		identity: identity,
		conn:     conn,
		send:     make(chan Message, sendQueueSize),
	}

	that.register(c)
	go that.writePump(c)

	logger.Info("client connected", "player", identity.ID, "username", identity.Username)

	that.readLoop(r.Context(), c)
	that.disconnect(c)
}

// resolveIdentity maps a token to its registered identity, or mints a fresh
// guest identity when the token is absent or invalid.
func (that *Server) resolveIdentity(r *http.Request) entity.Identity {
	if token := r.URL.Query().Get("token"); token != "" {
		identity, err := that.auth.ParseToken(token)
		if err == nil {
			return identity
		}

		that.logger.Warn("rejected token, falling back to guest", "error", err)
	}

	username := r.URL.Query().Get("username")
	if username == "" {
		username = "Guest"
	}

	return entity.Identity{
		ID:       "guest-" + uuid.NewString(),
		Username: username,
	}
}

// register makes c the live connection for its identity. An older connection
// with the same identity is superseded and closed without vacating its seat.
func (that *Server) register(c *client) {
	that.mu.Lock()

	old, ok := that.byIdentity[c.identity.ID]
	if ok {
		if old.room != "" {
			delete(that.subscribers[old.room], old)
		}
	}
	that.byIdentity[c.identity.ID] = c

	that.mu.Unlock()

	if ok {
		old.close()
		if old.conn != nil {
			_ = old.conn.Close()
		}
	}
}

func (that *Server) readLoop(ctx context.Context, c *client) {
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		handler, ok := that.handlers[msg.Action]
		if !ok {
			that.sendError(c, fmt.Sprintf("unknown action: %s", msg.Action))
			continue
		}

		if err := handler(ctx, c, msg.Payload); err != nil {
			that.sendError(c, errorMessage(err))
		}
	}
}

func (that *Server) writePump(c *client) {
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			break
		}
	}

	_ = c.conn.Close()
}

// disconnect vacates the client's seat unless a newer connection for the same
// identity has already superseded it.
func (that *Server) disconnect(c *client) {
	that.mu.Lock()

	if that.byIdentity[c.identity.ID] != c {
		that.mu.Unlock()
		return
	}

	delete(that.byIdentity, c.identity.ID)

	roomCode := c.room
	if roomCode != "" {
		that.removeSubscriberLocked(c)
	}

	that.mu.Unlock()

	c.close()

	if roomCode == "" {
		return
	}

	session, err := that.rooms.Get(roomCode)
	if err != nil {
		return
	}

	var withBot bool
	_ = session.Do(func(room *entity.Room) error {
		withBot = room.IsWithBot()

		if withBot {
			return nil
		}

		left, err := room.Leave(c.identity.ID)
		if err != nil {
			return nil
		}

		that.broadcast(roomCode, ActionPlayerLeft, playerLeftPayload{
			State:   room.Snapshot(),
			Message: fmt.Sprintf("%s left the room. Waiting for another player to join.", left.Username),
		})

		return nil
	})

	// a room against the bot dies with its only human
	if withBot {
		that.rooms.Remove(roomCode)
	}

	that.logger.Info("client disconnected", "player", c.identity.ID, "room", roomCode)
}

// subscribe must only be called from inside a session.Do callback so that
// membership changes stay ordered with the room events around them.
func (that *Server) subscribe(c *client, code string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if c.room != "" && c.room != code {
		delete(that.subscribers[c.room], c)
	}

	c.room = code
	if that.subscribers[code] == nil {
		that.subscribers[code] = make(map[*client]struct{})
	}
	that.subscribers[code][c] = struct{}{}
}

func (that *Server) removeSubscriberLocked(c *client) {
	if set, ok := that.subscribers[c.room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(that.subscribers, c.room)
		}
	}
	c.room = ""
}

func (that *Server) unsubscribe(c *client) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if c.room != "" {
		that.removeSubscriberLocked(c)
	}
}

func (that *Server) unicast(c *client, action string, payload any) {
	c.enqueue(newMessage(action, payload))
}

func (that *Server) broadcast(code, action string, payload any) {
	msg := newMessage(action, payload)

	that.mu.RLock()
	defer that.mu.RUnlock()

	for c := range that.subscribers[code] {
		c.enqueue(msg)
	}
}

func (that *Server) broadcastExcept(code string, skip *client, action string, payload any) {
	msg := newMessage(action, payload)

	that.mu.RLock()
	defer that.mu.RUnlock()

	for c := range that.subscribers[code] {
		if c == skip {
			continue
		}
		c.enqueue(msg)
	}
}

func (that *Server) sendError(c *client, message string) {
	that.unicast(c, ActionError, errorPayload{Message: message})
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, apperror.ErrRoomNotFound):
		return "room not found"
	case errors.Is(err, apperror.ErrRoomFull):
		return "room is full"
	case errors.Is(err, apperror.ErrNotInRoom):
		return "you are not in this room"
	case errors.Is(err, apperror.ErrNotYourTurn):
		return "it is not your turn"
	case errors.Is(err, apperror.ErrCellOccupied):
		return "that cell is already occupied"
	case errors.Is(err, apperror.ErrCellOutOfRange):
		return "cell index is out of range"
	case errors.Is(err, apperror.ErrGameNotPlaying):
		return "the game has not started yet"
	case errors.Is(err, apperror.ErrGameDecided):
		return "the round is already decided"
	case errors.Is(err, apperror.ErrRoundNotDecided):
		return "the round is still in progress"
	case errors.Is(err, errMalformedPayload):
		return "malformed payload"
	default:
		return "internal error"
	}
}
