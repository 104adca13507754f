package service

import (
	"math"
	"math/rand"

	"github.com/neonarcade/tictactoe-backend/internal/apperror"
	"github.com/neonarcade/tictactoe-backend/internal/entity"
)

// BotService picks a cell for the automated opponent. Callers treat it as a
// black box: any legal index for the given board is a valid answer.
type BotService interface {
	ChooseMove(board entity.Board, symbol string) (int, error)
}

type botService struct{}

func NewBotService() BotService {
	return &botService{}
}

// ChooseMove plays a uniformly random legal move half the time and the
// minimax-optimal move otherwise, matching the house opponent's difficulty.
func (that *botService) ChooseMove(board entity.Board, symbol string) (int, error) {
	available := board.AvailableCells()
	if len(available) == 0 {
		return 0, apperror.ErrNoAvailableMoves
	}

	if rand.Float64() < 0.5 {
		return available[rand.Intn(len(available))], nil
	}

	return bestMove(board, symbol), nil
}

func bestMove(board entity.Board, symbol string) int {
	bestScore := math.MinInt
	best := -1

	for _, cell := range board.AvailableCells() {
		board[cell] = symbol
		score := minimax(&board, 1, false, math.MinInt, math.MaxInt, symbol)
		board[cell] = entity.EmptyCell

		if score > bestScore {
			bestScore = score
			best = cell
		}
	}

	return best
}

// minimax scores the board from the bot's point of view with alpha-beta
// pruning. Shallower wins score higher so the bot closes games out.
func minimax(board *entity.Board, depth int, maximizing bool, alpha, beta int, me string) int {
	opponent := entity.ToggleSymbol(me)

	verdict := board.Evaluate()
	switch {
	case verdict.Winner == me:
		return 10 - depth
	case verdict.Winner == opponent:
		return depth - 10
	case verdict.Tie:
		return 0
	}

	if maximizing {
		best := math.MinInt
		for _, cell := range board.AvailableCells() {
			board[cell] = me
			score := minimax(board, depth+1, false, alpha, beta, me)
			board[cell] = entity.EmptyCell

			best = max(best, score)
			alpha = max(alpha, best)
			if beta <= alpha {
				break
			}
		}
		return best
	}

	best := math.MaxInt
	for _, cell := range board.AvailableCells() {
		board[cell] = opponent
		score := minimax(board, depth+1, true, alpha, beta, me)
		board[cell] = entity.EmptyCell

		best = min(best, score)
		beta = min(beta, best)
		if beta <= alpha {
			break
		}
	}
	return best
}
