package entity

import (
	"encoding/json"
	"fmt"

	"github.com/neonarcade/tictactoe-backend/internal/apperror"
)

const (
	SymbolX = "X"
	SymbolO = "O"

	EmptyCell = ""

	BoardSize = 9
)

var WinCombos = [][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

// Board holds the nine cells of one round. A cell is EmptyCell, SymbolX or
// SymbolO. On the wire empty cells are encoded as null.
type Board [BoardSize]string

// Verdict is the outcome of evaluating a board.
type Verdict struct {
	Winner string `json:"winner,omitempty"`
	Line   [3]int `json:"line,omitempty"`
	Tie    bool   `json:"tie,omitempty"`
}

// Decided reports whether the round is over.
func (that Verdict) Decided() bool {
	return that.Tie || that.Winner != EmptyCell
}

// Evaluate checks the fixed win combos first, then fullness.
func (that *Board) Evaluate() Verdict {
	for _, combo := range WinCombos {
		a, b, c := that[combo[0]], that[combo[1]], that[combo[2]]
		if a != EmptyCell && a == b && b == c {
			return Verdict{Winner: a, Line: combo}
		}
	}

	for _, cell := range that {
		if cell == EmptyCell {
			return Verdict{}
		}
	}

	return Verdict{Tie: true}
}

// ApplyMove places symbol into cell and returns the resulting verdict.
// The board is left untouched on any failure.
func (that *Board) ApplyMove(cell int, symbol string) (Verdict, error) {
	if cell < 0 || cell >= BoardSize {
		return Verdict{}, fmt.Errorf("%w: cell %d", apperror.ErrCellOutOfRange, cell)
	}

	if verdict := that.Evaluate(); verdict.Decided() {
		return verdict, apperror.ErrGameDecided
	}

	if that[cell] != EmptyCell {
		return Verdict{}, apperror.ErrCellOccupied
	}

	that[cell] = symbol

	return that.Evaluate(), nil
}

// Reset clears every cell.
func (that *Board) Reset() {
	for i := range that {
		that[i] = EmptyCell
	}
}

// Balanced reports whether the symbol counts still alternate, i.e. differ by
// at most one. A false result means moves were applied out of turn.
func (that *Board) Balanced() bool {
	var countX, countO int
	for _, cell := range that {
		switch cell {
		case SymbolX:
			countX++
		case SymbolO:
			countO++
		}
	}

	diff := countX - countO
	return diff >= -1 && diff <= 1
}

// AvailableCells returns the indexes of all empty cells.
func (that *Board) AvailableCells() []int {
	cells := make([]int, 0, BoardSize)
	for i, cell := range that {
		if cell == EmptyCell {
			cells = append(cells, i)
		}
	}
	return cells
}

func (that Board) MarshalJSON() ([]byte, error) {
	cells := make([]*string, BoardSize)
	for i := range that {
		if that[i] != EmptyCell {
			cell := that[i]
			cells[i] = &cell
		}
	}

	data, err := json.Marshal(cells)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal board: %w", err)
	}

	return data, nil
}

func (that *Board) UnmarshalJSON(data []byte) error {
	var cells []*string
	if err := json.Unmarshal(data, &cells); err != nil {
		return fmt.Errorf("failed to unmarshal board: %w", err)
	}

	if len(cells) != BoardSize {
		return fmt.Errorf("%w: board has %d cells", apperror.ErrCellOutOfRange, len(cells))
	}

	for i, cell := range cells {
		if cell == nil {
			that[i] = EmptyCell
			continue
		}
		that[i] = *cell
	}

	return nil
}

// ToggleSymbol returns the opposing symbol.
func ToggleSymbol(symbol string) string {
	if symbol == SymbolX {
		return SymbolO
	}
	return SymbolX
}
