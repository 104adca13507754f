package apperror

import "errors"

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room is full")
	ErrNotInRoom        = errors.New("player is not in this room")
	ErrNotYourTurn      = errors.New("it's not your turn")
	ErrCellOccupied     = errors.New("cell is already occupied")
	ErrCellOutOfRange   = errors.New("cell index is out of range")
	ErrGameNotPlaying   = errors.New("game is not being played")
	ErrGameDecided      = errors.New("game is already decided")
	ErrRoundNotDecided  = errors.New("round is not decided yet")
	ErrBotTimeout       = errors.New("bot did not respond in time")
	ErrNoAvailableMoves = errors.New("no available moves")

	ErrNotFound           = errors.New("not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidUsername    = errors.New("username must be 3-20 letters, digits or underscores")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)
