package websocket

import (
	"encoding/json"

	"github.com/neonarcade/tictactoe-backend/internal/entity"
)

// Inbound actions.
const (
	ActionJoinRoom    = "join_room"
	ActionMakeMove    = "make_move"
	ActionResetGame   = "reset_game"
	ActionPlayVsAI    = "play_vs_ai"
	ActionLeaveAIGame = "leave_ai_game"
)

// Outbound actions.
const (
	ActionRoomJoined   = "room_joined"
	ActionPlayerJoined = "player_joined"
	ActionPlayerLeft   = "player_left"
	ActionMoveMade     = "move_made"
	ActionAIMoveMade   = "ai_move_made"
	ActionGameOver     = "game_over"
	ActionGameReset    = "game_reset"
	ActionError        = "error"
)

// Message is the wire envelope in both directions.
type Message struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type joinRoomPayload struct {
	Code     string `json:"room_code"`
	Username string `json:"username,omitempty"`
}

type makeMovePayload struct {
	Code string `json:"room_code"`
	Cell *int   `json:"cell_index"`
}

type resetGamePayload struct {
	Code string `json:"room_code"`
}

type playVsAIPayload struct {
	Username string `json:"username,omitempty"`
}

type leaveAIGamePayload struct {
	Code string `json:"room_code"`
}

type roomJoinedPayload struct {
	State  *entity.Room `json:"state"`
	Symbol string       `json:"symbol"`
}

type playerJoinedPayload struct {
	State    *entity.Room `json:"state"`
	Symbol   string       `json:"symbol"`
	Username string       `json:"username"`
}

type playerLeftPayload struct {
	State   *entity.Room `json:"state"`
	Message string       `json:"message"`
}

type moveMadePayload struct {
	State    *entity.Room `json:"state"`
	NextTurn string       `json:"next_turn"`
}

type aiMoveMadePayload struct {
	State *entity.Room `json:"state"`
}

type gameOverPayload struct {
	State   *entity.Room `json:"state"`
	Message string       `json:"message"`
}

type gameResetPayload struct {
	State *entity.Room `json:"state"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func newMessage(action string, payload any) Message {
	return Message{
		Action:  action,
		Payload: json.RawMessage(mustMarshal(payload)),
	}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
