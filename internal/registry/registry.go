package registry

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/neonarcade/tictactoe-backend/internal/apperror"
	"github.com/neonarcade/tictactoe-backend/internal/entity"
)

const (
	codeLength   = 6
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	maxCodeAttempts = 100
)

var ErrCodeSpaceExhausted = fmt.Errorf("could not generate a free room code")

// Session owns one room and the mutex that serializes every mutating
// operation on it. All room access goes through Do, which also stamps the
// room's last activity for the sweeper.
type Session struct {
	mu         sync.Mutex
	room       *entity.Room
	lastActive time.Time
}

func newSession(room *entity.Room) *Session {
	return &Session{
		room:       room,
		lastActive: time.Now(),
	}
}

// Do runs fn with exclusive access to the room. Events on the same room are
// processed one at a time in lock-acquisition order, which preserves the
// turn invariant under concurrent connections.
func (that *Session) Do(fn func(room *entity.Room) error) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.lastActive = time.Now()

	return fn(that.room)
}

// Code is the room's immutable code; safe to read without the lock.
func (that *Session) Code() string {
	return that.room.Code
}

func (that *Session) idleSince() (int, time.Time) {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.room.HumanCount(), that.lastActive
}

// Registry maps room codes to live sessions. One instance is created by the
// application and injected into the transports; there is no package-level
// room map.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*Session
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger.With("component", "registry"),
		rooms:  make(map[string]*Session),
	}
}

// Create inserts a new waiting room under a freshly generated code. Codes
// are re-rolled on collision; uniqueness is always checked against the live
// map, never assumed.
func (that *Registry) Create(mode string) (*Session, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate room code: %w", err)
		}

		if _, taken := that.rooms[code]; taken {
			continue
		}

		session := newSession(entity.NewRoom(code, mode))
		that.rooms[code] = session

		that.logger.Info("room created", "code", code, "mode", mode)

		return session, nil
	}

	return nil, ErrCodeSpaceExhausted
}

// Get looks a session up by code. Codes are matched case-insensitively.
func (that *Registry) Get(code string) (*Session, error) {
	that.mu.RLock()
	defer that.mu.RUnlock()

	session, ok := that.rooms[NormalizeCode(code)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperror.ErrRoomNotFound, code)
	}

	return session, nil
}

// Remove drops the session for code, if any.
func (that *Registry) Remove(code string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.rooms[NormalizeCode(code)]; ok {
		delete(that.rooms, NormalizeCode(code))
		that.logger.Info("room removed", "code", code)
	}
}

// Len reports the number of live rooms.
func (that *Registry) Len() int {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return len(that.rooms)
}

// Sweep removes rooms that have had no connected players for longer than
// ttl and returns how many were dropped.
func (that *Registry) Sweep(ttl time.Duration) int {
	that.mu.RLock()
	candidates := make([]*Session, 0, len(that.rooms))
	for _, session := range that.rooms {
		candidates = append(candidates, session)
	}
	that.mu.RUnlock()

	var removed int
	for _, session := range candidates {
		connected, lastActive := session.idleSince()
		if connected > 0 || time.Since(lastActive) < ttl {
			continue
		}

		that.Remove(session.Code())
		removed++
	}

	if removed > 0 {
		that.logger.Info("swept idle rooms", "removed", removed)
	}

	return removed
}

// StartSweeper runs Sweep every interval until ctx is canceled.
func (that *Registry) StartSweeper(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				that.Sweep(ttl)
			}
		}
	}()
}

// NormalizeCode upper-cases a client-supplied room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	code := make([]byte, codeLength)
	for i, b := range buf {
		code[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}

	return string(code), nil
}
