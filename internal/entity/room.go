package entity

import (
	"fmt"

	"github.com/neonarcade/tictactoe-backend/internal/apperror"
)

const (
	StatusWaiting = "waiting"
	StatusPlaying = "playing"
	StatusWinner  = "winner"
	StatusTie     = "tie"

	ModeHuman = "human"
	ModeAI    = "ai"
)

// Room is one isolated game session: a board, up to two seated players and
// the turn/status state machine. It is a plain state holder; callers are
// expected to serialize access (see registry.Session).
type Room struct {
	Code    string             `json:"code"`
	Board   Board              `json:"board"`
	Turn    string             `json:"current_turn"`
	Status  string             `json:"status"`
	Mode    string             `json:"mode"`
	Players map[string]*Player `json:"players"`
}

func NewRoom(code, mode string) *Room {
	return &Room{
		Code:    code,
		Turn:    SymbolX,
		Status:  StatusWaiting,
		Mode:    mode,
		Players: make(map[string]*Player, 2),
	}
}

// Join seats the identity in the first open slot, X before O. An identity
// that already holds a slot gets it back with its old symbol (reconnect),
// reported via rejoined. The second distinct join starts the round.
func (that *Room) Join(identity Identity) (symbol string, rejoined bool, err error) {
	if player := that.PlayerByID(identity.ID); player != nil {
		return player.Symbol, true, nil
	}

	switch {
	case that.Players[SymbolX] == nil:
		symbol = SymbolX
	case that.Players[SymbolO] == nil:
		symbol = SymbolO
	default:
		return "", false, fmt.Errorf("%w: %s", apperror.ErrRoomFull, that.Code)
	}

	that.Players[symbol] = NewPlayer(identity, symbol)

	if that.Players[SymbolX] != nil && that.Players[SymbolO] != nil {
		that.Status = StatusPlaying
		that.Turn = SymbolX
	}

	return symbol, false, nil
}

// SeatBot places the automated opponent at O and starts the round. The human
// must already hold X.
func (that *Room) SeatBot() error {
	if that.Players[SymbolX] == nil {
		return fmt.Errorf("%w: no human seated at %s", apperror.ErrNotInRoom, SymbolX)
	}

	if that.Players[SymbolO] != nil {
		return fmt.Errorf("%w: %s", apperror.ErrRoomFull, that.Code)
	}

	that.Players[SymbolO] = NewBotPlayer(SymbolO)
	that.Status = StatusPlaying
	that.Turn = SymbolX

	return nil
}

// Leave vacates the identity's slot immediately and returns the room to
// waiting. An abandoned round cannot continue against an empty slot, so the
// board is cleared as well; the remaining player starts fresh when someone
// new joins.
func (that *Room) Leave(identityID string) (*Player, error) {
	player := that.PlayerByID(identityID)
	if player == nil {
		return nil, fmt.Errorf("%w: %s", apperror.ErrNotInRoom, identityID)
	}

	delete(that.Players, player.Symbol)

	that.Board.Reset()
	that.Turn = SymbolX
	that.Status = StatusWaiting

	return player, nil
}

// MakeTurn applies one move for the identity holding a slot in this room.
func (that *Room) MakeTurn(identityID string, cell int) (Verdict, error) {
	player := that.PlayerByID(identityID)
	if player == nil {
		return Verdict{}, fmt.Errorf("%w: %s", apperror.ErrNotInRoom, identityID)
	}

	if that.Status != StatusPlaying {
		return Verdict{}, apperror.ErrGameNotPlaying
	}

	if that.Turn != player.Symbol {
		return Verdict{}, apperror.ErrNotYourTurn
	}

	verdict, err := that.Board.ApplyMove(cell, player.Symbol)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to apply move: %w", err)
	}

	switch {
	case verdict.Winner != EmptyCell:
		that.Status = StatusWinner
		that.Turn = EmptyCell
	case verdict.Tie:
		that.Status = StatusTie
		that.Turn = EmptyCell
	default:
		that.Turn = ToggleSymbol(player.Symbol)
	}

	return verdict, nil
}

// Reset starts a new round. It is only allowed once the previous round is
// decided, so a client cannot wipe a board mid-game.
func (that *Room) Reset() error {
	if that.Status != StatusWinner && that.Status != StatusTie {
		return fmt.Errorf("%w: status %s", apperror.ErrRoundNotDecided, that.Status)
	}

	that.Board.Reset()
	that.Turn = SymbolX

	if that.Players[SymbolX] != nil && that.Players[SymbolO] != nil {
		that.Status = StatusPlaying
	} else {
		that.Status = StatusWaiting
	}

	return nil
}

// ForceWaiting throws away the current round after an invariant violation.
// Seats are kept but the room goes back to waiting with a clean board.
func (that *Room) ForceWaiting() {
	that.Board.Reset()
	that.Turn = SymbolX
	that.Status = StatusWaiting
}

func (that *Room) PlayerByID(identityID string) *Player {
	for _, player := range that.Players {
		if player != nil && player.ID == identityID {
			return player
		}
	}
	return nil
}

// HumanCount reports the seats held by humans. Because seats are vacated
// immediately on disconnect, every counted seat belongs to a live connection.
func (that *Room) HumanCount() int {
	var count int
	for _, player := range that.Players {
		if player != nil && !player.IsBot() {
			count++
		}
	}
	return count
}

func (that *Room) IsPlaying() bool {
	return that.Status == StatusPlaying
}

func (that *Room) IsWithBot() bool {
	return that.Mode == ModeAI
}

// Snapshot returns a deep copy safe to marshal and ship after the room lock
// is released.
func (that *Room) Snapshot() *Room {
	snapshot := &Room{
		Code:    that.Code,
		Board:   that.Board,
		Turn:    that.Turn,
		Status:  that.Status,
		Mode:    that.Mode,
		Players: make(map[string]*Player, len(that.Players)),
	}

	for symbol, player := range that.Players {
		if player == nil {
			continue
		}
		copied := *player
		snapshot.Players[symbol] = &copied
	}

	return snapshot
}
