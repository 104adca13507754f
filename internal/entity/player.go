package entity

const (
	BotPlayerID   = "bot"
	BotPlayerName = "Merciless AI"
)

// Identity is a stable user identity resolved outside the room, either a
// registered account or a guest session.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Player is an identity seated in a room. A held seat implies a live player:
// the gateway vacates a seat the moment its connection drops, so there is no
// seated-but-disconnected state to track.
type Player struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Symbol   string `json:"symbol,omitempty"`
}

func NewPlayer(identity Identity, symbol string) *Player {
	return &Player{
		ID:       identity.ID,
		Username: identity.Username,
		Symbol:   symbol,
	}
}

func NewBotPlayer(symbol string) *Player {
	return &Player{
		ID:       BotPlayerID,
		Username: BotPlayerName,
		Symbol:   symbol,
	}
}

func (that *Player) IsBot() bool {
	return that.ID == BotPlayerID
}
