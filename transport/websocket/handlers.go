package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/neonarcade/tictactoe-backend/internal/apperror"
	"github.com/neonarcade/tictactoe-backend/internal/entity"
	"github.com/neonarcade/tictactoe-backend/internal/registry"
)

var errMalformedPayload = errors.New("malformed payload")

func (that *Server) handleJoinRoom(ctx context.Context, c *client, payload []byte) error {
	var req joinRoomPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: %v", errMalformedPayload, err)
	}

	if req.Code == "" {
		return fmt.Errorf("%w: room_code is required", errMalformedPayload)
	}

	session, err := that.rooms.Get(req.Code)
	if err != nil {
		return err
	}

	// only adopt the display name once the room is known to exist; a failed
	// join must not leave any trace
	that.adoptUsername(ctx, c, req.Username)

	return session.Do(func(room *entity.Room) error {
		symbol, rejoined, err := room.Join(c.identity)
		if err != nil {
			return err
		}

		that.subscribe(c, room.Code)

		snapshot := room.Snapshot()

		that.unicast(c, ActionRoomJoined, roomJoinedPayload{
			State:  snapshot,
			Symbol: symbol,
		})

		if !rejoined {
			that.broadcastExcept(room.Code, c, ActionPlayerJoined, playerJoinedPayload{
				State:    snapshot,
				Symbol:   symbol,
				Username: c.identity.Username,
			})
		}

		that.logger.Info("player joined room", "player", c.identity.ID, "room", room.Code, "symbol", symbol, "rejoined", rejoined)

		return nil
	})
}

func (that *Server) handleMakeMove(_ context.Context, c *client, payload []byte) error {
	var req makeMovePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: %v", errMalformedPayload, err)
	}

	if req.Code == "" || req.Cell == nil {
		return fmt.Errorf("%w: room_code and cell_index are required", errMalformedPayload)
	}

	session, err := that.rooms.Get(req.Code)
	if err != nil {
		return err
	}

	var botToMove bool

	err = session.Do(func(room *entity.Room) error {
		verdict, err := room.MakeTurn(c.identity.ID, *req.Cell)
		if err != nil {
			// a failed bot reply leaves an ai room stuck on the bot's turn;
			// a human poke while the bot is on turn kicks the opponent again
			if errors.Is(err, apperror.ErrNotYourTurn) && room.IsWithBot() && room.IsPlaying() {
				botToMove = true
			}
			return err
		}

		if !room.Board.Balanced() {
			that.logger.Error("board left unbalanced after a move, voiding the round", "room", room.Code)

			room.ForceWaiting()

			that.broadcast(room.Code, ActionError, errorPayload{Message: "game state corrupted, the round was voided"})
			that.broadcast(room.Code, ActionGameReset, gameResetPayload{State: room.Snapshot()})

			return nil
		}

		snapshot := room.Snapshot()

		if verdict.Decided() {
			that.broadcast(room.Code, ActionGameOver, gameOverPayload{
				State:   snapshot,
				Message: gameOverMessage(verdict),
			})

			return nil
		}

		that.broadcast(room.Code, ActionMoveMade, moveMadePayload{
			State:    snapshot,
			NextTurn: room.Turn,
		})

		botToMove = room.IsWithBot() && room.IsPlaying()

		return nil
	})

	if botToMove {
		go that.playBotReply(session)
	}

	return err
}

func (that *Server) handleResetGame(_ context.Context, c *client, payload []byte) error {
	var req resetGamePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: %v", errMalformedPayload, err)
	}

	session, err := that.rooms.Get(req.Code)
	if err != nil {
		return err
	}

	return session.Do(func(room *entity.Room) error {
		if room.PlayerByID(c.identity.ID) == nil {
			return apperror.ErrNotInRoom
		}

		if err := room.Reset(); err != nil {
			return err
		}

		that.broadcast(room.Code, ActionGameReset, gameResetPayload{State: room.Snapshot()})

		that.logger.Info("game reset", "player", c.identity.ID, "room", room.Code)

		return nil
	})
}

func (that *Server) handlePlayVsAI(ctx context.Context, c *client, payload []byte) error {
	var req playVsAIPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("%w: %v", errMalformedPayload, err)
		}
	}

	that.adoptUsername(ctx, c, req.Username)

	session, err := that.rooms.Create(entity.ModeAI)
	if err != nil {
		return err
	}

	return session.Do(func(room *entity.Room) error {
		symbol, _, err := room.Join(c.identity)
		if err != nil {
			return err
		}

		if err = room.SeatBot(); err != nil {
			return err
		}

		that.subscribe(c, room.Code)

		that.unicast(c, ActionRoomJoined, roomJoinedPayload{
			State:  room.Snapshot(),
			Symbol: symbol,
		})

		that.logger.Info("started game against the bot", "player", c.identity.ID, "room", room.Code)

		return nil
	})
}

func (that *Server) handleLeaveAIGame(_ context.Context, c *client, payload []byte) error {
	var req leaveAIGamePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: %v", errMalformedPayload, err)
	}

	session, err := that.rooms.Get(req.Code)
	if err != nil {
		return err
	}

	err = session.Do(func(room *entity.Room) error {
		if !room.IsWithBot() {
			return apperror.ErrNotInRoom
		}
		if room.PlayerByID(c.identity.ID) == nil {
			return apperror.ErrNotInRoom
		}
		return nil
	})
	if err != nil {
		return err
	}

	that.unsubscribe(c)
	that.rooms.Remove(session.Code())

	that.logger.Info("left game against the bot", "player", c.identity.ID, "room", session.Code())

	return nil
}

// playBotReply runs off the request path: the bot move is computed outside the
// room lock and applied through the same session serialization as human moves.
func (that *Server) playBotReply(session *registry.Session) {
	snapshot, verdict, err := that.opponent.PlayReply(context.Background(), session)
	if err != nil {
		if errors.Is(err, apperror.ErrBotTimeout) {
			that.broadcast(session.Code(), ActionError, errorPayload{Message: "the automated opponent timed out, make another move to retry"})
			return
		}

		// a retried trigger can lose the race against an in-flight reply
		if errors.Is(err, apperror.ErrNotYourTurn) {
			that.logger.Debug("bot reply already made", "room", session.Code())
			return
		}

		that.logger.Error("bot reply failed", "error", err, "room", session.Code())
		return
	}

	that.announceBotMove(session, snapshot, verdict)
}

// announceBotMove re-enters the session so the announcement keeps room event
// ordering. snapshot and verdict were captured together when the move was
// applied; if the room has moved on in between (reset, vacated seat), the
// stale outcome is not announced.
func (that *Server) announceBotMove(session *registry.Session, snapshot *entity.Room, verdict entity.Verdict) {
	_ = session.Do(func(room *entity.Room) error {
		if verdict.Decided() {
			if room.Status != entity.StatusWinner && room.Status != entity.StatusTie {
				return nil
			}

			that.broadcast(room.Code, ActionGameOver, gameOverPayload{
				State:   snapshot,
				Message: gameOverMessage(verdict),
			})

			return nil
		}

		if !room.IsPlaying() {
			return nil
		}

		that.broadcast(room.Code, ActionAIMoveMade, aiMoveMadePayload{State: snapshot})

		return nil
	})
}

// adoptUsername lets a guest pick a display name at join time.
func (that *Server) adoptUsername(ctx context.Context, c *client, username string) {
	if username == "" || username == c.identity.Username {
		return
	}

	c.identity.Username = username

	if err := that.players.CreateOrUpdate(ctx, &c.identity); err != nil {
		that.logger.Error("failed to update identity", "error", err, "player", c.identity.ID)
	}
}

func gameOverMessage(verdict entity.Verdict) string {
	if verdict.Tie {
		return "it's a tie"
	}

	return fmt.Sprintf("%s wins", verdict.Winner)
}
