package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neonarcade/tictactoe-backend/internal/apperror"
	"github.com/neonarcade/tictactoe-backend/internal/entity"
)

type roomSession interface {
	Do(fn func(room *entity.Room) error) error
}

// OpponentAdapter feeds the bot's answer back into a room as if it were a
// move from the automated identity. The move computation runs off the
// room lock with a deadline; the resulting move re-enters the same per-room
// serialization as every human move.
type OpponentAdapter struct {
	logger  *slog.Logger
	bot     BotService
	timeout time.Duration
}

func NewOpponentAdapter(logger *slog.Logger, bot BotService, timeout time.Duration) *OpponentAdapter {
	return &OpponentAdapter{
		logger:  logger.With("component", "opponent"),
		bot:     bot,
		timeout: timeout,
	}
}

// PlayReply applies one bot move to the session's room and returns the
// resulting snapshot and verdict. It fails with ErrBotTimeout when the bot
// misses its deadline; the room is left exactly as the human's move left it.
func (that *OpponentAdapter) PlayReply(ctx context.Context, session roomSession) (*entity.Room, entity.Verdict, error) {
	var (
		board  entity.Board
		symbol string
	)

	err := session.Do(func(room *entity.Room) error {
		botPlayer := room.PlayerByID(entity.BotPlayerID)
		if botPlayer == nil {
			return fmt.Errorf("%w: no bot seated in %s", apperror.ErrNotInRoom, room.Code)
		}

		if !room.IsPlaying() {
			return apperror.ErrGameNotPlaying
		}

		if room.Turn != botPlayer.Symbol {
			return apperror.ErrNotYourTurn
		}

		board = room.Board
		symbol = botPlayer.Symbol

		return nil
	})
	if err != nil {
		return nil, entity.Verdict{}, fmt.Errorf("bot has no move to make: %w", err)
	}

	cell, err := that.chooseWithDeadline(ctx, board, symbol)
	if err != nil {
		return nil, entity.Verdict{}, err
	}

	var (
		snapshot *entity.Room
		verdict  entity.Verdict
	)

	err = session.Do(func(room *entity.Room) error {
		v, turnErr := room.MakeTurn(entity.BotPlayerID, cell)
		if turnErr != nil {
			return turnErr
		}

		verdict = v
		snapshot = room.Snapshot()

		return nil
	})
	if err != nil {
		return nil, entity.Verdict{}, fmt.Errorf("failed to apply bot move: %w", err)
	}

	that.logger.Debug("bot played", "room", snapshot.Code, "cell", cell)

	return snapshot, verdict, nil
}

func (that *OpponentAdapter) chooseWithDeadline(ctx context.Context, board entity.Board, symbol string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, that.timeout)
	defer cancel()

	type answer struct {
		cell int
		err  error
	}

	answers := make(chan answer, 1)
	go func() {
		cell, err := that.bot.ChooseMove(board, symbol)
		answers <- answer{cell: cell, err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %s", apperror.ErrBotTimeout, ctx.Err())
	case a := <-answers:
		if a.err != nil {
			return 0, fmt.Errorf("bot failed to choose a move: %w", a.err)
		}
		return a.cell, nil
	}
}
