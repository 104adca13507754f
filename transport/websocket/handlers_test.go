package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neonarcade/tictactoe-backend/internal/apperror"
	"github.com/neonarcade/tictactoe-backend/internal/entity"
	"github.com/neonarcade/tictactoe-backend/internal/registry"
	"github.com/neonarcade/tictactoe-backend/internal/service"
)

type recordingPlayerRepo struct {
	mu      sync.Mutex
	updates int
}

func (that *recordingPlayerRepo) CreateOrUpdate(_ context.Context, _ *entity.Identity) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.updates++

	return nil
}

func (that *recordingPlayerRepo) count() int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.updates
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	return newTestServerWithBot(t, service.NewBotService())
}

func newTestServerWithBot(t *testing.T, bot service.BotService) *Server {
	t.Helper()

	logger := testLogger()

	rooms := registry.New(logger)
	opponent := service.NewOpponentAdapter(logger, bot, 2*time.Second)

	return New(logger, rooms, service.NewAuthService("test-secret"), &recordingPlayerRepo{}, opponent)
}

func newTestClient(server *Server, id, username string) *client {
	c := &client{
		identity: entity.Identity{ID: id, Username: username},
		send:     make(chan Message, 64),
	}

	server.register(c)

	return c
}

func rawPayload(t *testing.T, v any) []byte {
	t.Helper()

	b, err := json.Marshal(v)
	require.NoError(t, err)

	return b
}

// waitForAction reads c's queue until a message with the given action shows
// up, failing the test when nothing arrives in time.
func waitForAction(t *testing.T, c *client, action string) Message {
	t.Helper()

	deadline := time.After(3 * time.Second)

	for {
		select {
		case msg := <-c.send:
			if msg.Action == action {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for action %q", action)
		}
	}
}

func decodePayload(t *testing.T, msg Message, target any) {
	t.Helper()

	require.NoError(t, json.Unmarshal(msg.Payload, target))
}

func makeMove(t *testing.T, server *Server, c *client, code string, cell int) {
	t.Helper()

	err := server.handleMakeMove(context.Background(), c, rawPayload(t, makeMovePayload{Code: code, Cell: &cell}))
	require.NoError(t, err)
}

func TestHandleJoinRoom_UnknownCode(t *testing.T) {
	// Given: a gateway with no rooms
	server := newTestServer(t)
	c := newTestClient(server, "id-alice", "alice")

	// When: joining a code that was never issued
	err := server.handleJoinRoom(context.Background(), c, rawPayload(t, joinRoomPayload{Code: "ZZZ999"}))

	// Then: the join is rejected and no room appears
	require.ErrorIs(t, err, apperror.ErrRoomNotFound)
	assert.Equal(t, "room not found", errorMessage(err))
	assert.Zero(t, server.rooms.Len())
}

func TestHandleJoinRoom_UnknownCodeLeavesIdentityUntouched(t *testing.T) {
	// Given: a guest with a stored display name
	server := newTestServer(t)
	c := newTestClient(server, "id-guest", "Guest")

	// When: joining an unknown code while asking for a new name
	err := server.handleJoinRoom(context.Background(), c, rawPayload(t, joinRoomPayload{
		Code:     "ZZZ999",
		Username: "mallory",
	}))

	// Then: the join fails and neither the client nor the store was touched
	require.ErrorIs(t, err, apperror.ErrRoomNotFound)
	assert.Equal(t, "Guest", c.identity.Username)
	assert.Zero(t, server.players.(*recordingPlayerRepo).count())
}

func TestHandleJoinRoom_TwoPlayers(t *testing.T) {
	ctx := context.Background()

	// Given: a fresh room and two connected clients
	server := newTestServer(t)
	session, err := server.rooms.Create(entity.ModeHuman)
	require.NoError(t, err)

	alice := newTestClient(server, "id-alice", "alice")
	bob := newTestClient(server, "id-bob", "bob")

	// When: both join the same code
	require.NoError(t, server.handleJoinRoom(ctx, alice, rawPayload(t, joinRoomPayload{Code: session.Code()})))
	require.NoError(t, server.handleJoinRoom(ctx, bob, rawPayload(t, joinRoomPayload{Code: session.Code()})))

	// Then: seats are assigned in arrival order and the game starts
	var aliceJoined roomJoinedPayload
	decodePayload(t, waitForAction(t, alice, ActionRoomJoined), &aliceJoined)
	assert.Equal(t, entity.SymbolX, aliceJoined.Symbol)
	assert.Equal(t, entity.StatusWaiting, aliceJoined.State.Status)

	var bobJoined roomJoinedPayload
	decodePayload(t, waitForAction(t, bob, ActionRoomJoined), &bobJoined)
	assert.Equal(t, entity.SymbolO, bobJoined.Symbol)
	assert.Equal(t, entity.StatusPlaying, bobJoined.State.Status)
	assert.Equal(t, entity.SymbolX, bobJoined.State.Turn)

	// and alice is told about the newcomer
	var joined playerJoinedPayload
	decodePayload(t, waitForAction(t, alice, ActionPlayerJoined), &joined)
	assert.Equal(t, "bob", joined.Username)
	assert.Equal(t, entity.SymbolO, joined.Symbol)
}

func TestHandleJoinRoom_ThirdPlayerRejected(t *testing.T) {
	ctx := context.Background()

	// Given: a room with both seats taken
	server := newTestServer(t)
	session, err := server.rooms.Create(entity.ModeHuman)
	require.NoError(t, err)

	alice := newTestClient(server, "id-alice", "alice")
	bob := newTestClient(server, "id-bob", "bob")
	carol := newTestClient(server, "id-carol", "carol")

	require.NoError(t, server.handleJoinRoom(ctx, alice, rawPayload(t, joinRoomPayload{Code: session.Code()})))
	require.NoError(t, server.handleJoinRoom(ctx, bob, rawPayload(t, joinRoomPayload{Code: session.Code()})))

	// When: a third player tries the same code
	err = server.handleJoinRoom(ctx, carol, rawPayload(t, joinRoomPayload{Code: session.Code()}))

	// Then: the join is rejected
	require.ErrorIs(t, err, apperror.ErrRoomFull)
}

func TestHandleMakeMove_FullRound(t *testing.T) {
	ctx := context.Background()

	// Given: a running game between alice (X) and bob (O)
	server := newTestServer(t)
	session, err := server.rooms.Create(entity.ModeHuman)
	require.NoError(t, err)
	code := session.Code()

	alice := newTestClient(server, "id-alice", "alice")
	bob := newTestClient(server, "id-bob", "bob")
	require.NoError(t, server.handleJoinRoom(ctx, alice, rawPayload(t, joinRoomPayload{Code: code})))
	require.NoError(t, server.handleJoinRoom(ctx, bob, rawPayload(t, joinRoomPayload{Code: code})))

	// When: the first move is made
	makeMove(t, server, alice, code, 0)

	// Then: both players see it with the turn handed over
	for _, c := range []*client{alice, bob} {
		var move moveMadePayload
		decodePayload(t, waitForAction(t, c, ActionMoveMade), &move)
		assert.Equal(t, entity.SymbolO, move.NextTurn)
		assert.Equal(t, entity.SymbolX, move.State.Board[0])
	}

	// and playing out of turn is rejected
	cell := 1
	err = server.handleMakeMove(ctx, alice, rawPayload(t, makeMovePayload{Code: code, Cell: &cell}))
	require.ErrorIs(t, err, apperror.ErrNotYourTurn)

	// and a taken cell is rejected
	zero := 0
	err = server.handleMakeMove(ctx, bob, rawPayload(t, makeMovePayload{Code: code, Cell: &zero}))
	require.ErrorIs(t, err, apperror.ErrCellOccupied)

	// When: the round is played to a win for X (0,1,2 against 3,4)
	makeMove(t, server, bob, code, 3)
	makeMove(t, server, alice, code, 1)
	makeMove(t, server, bob, code, 4)
	makeMove(t, server, alice, code, 2)

	// Then: both players get the game_over announcement
	var over gameOverPayload
	decodePayload(t, waitForAction(t, bob, ActionGameOver), &over)
	assert.Equal(t, "X wins", over.Message)
	assert.Equal(t, entity.StatusWinner, over.State.Status)

	// and further moves are refused until a reset
	five := 5
	err = server.handleMakeMove(ctx, bob, rawPayload(t, makeMovePayload{Code: code, Cell: &five}))
	require.ErrorIs(t, err, apperror.ErrGameNotPlaying)

	// When: alice resets
	require.NoError(t, server.handleResetGame(ctx, alice, rawPayload(t, resetGamePayload{Code: code})))

	// Then: a fresh round starts with X to move
	var reset gameResetPayload
	decodePayload(t, waitForAction(t, alice, ActionGameReset), &reset)
	assert.Equal(t, entity.StatusPlaying, reset.State.Status)
	assert.Equal(t, entity.SymbolX, reset.State.Turn)
	for _, cell := range reset.State.Board {
		assert.Equal(t, entity.EmptyCell, cell)
	}
}

func TestHandleResetGame_RejectedMidRound(t *testing.T) {
	ctx := context.Background()

	// Given: a round in progress
	server := newTestServer(t)
	session, err := server.rooms.Create(entity.ModeHuman)
	require.NoError(t, err)
	code := session.Code()

	alice := newTestClient(server, "id-alice", "alice")
	bob := newTestClient(server, "id-bob", "bob")
	require.NoError(t, server.handleJoinRoom(ctx, alice, rawPayload(t, joinRoomPayload{Code: code})))
	require.NoError(t, server.handleJoinRoom(ctx, bob, rawPayload(t, joinRoomPayload{Code: code})))
	makeMove(t, server, alice, code, 4)

	// When: bob tries to reset before the round is decided
	err = server.handleResetGame(ctx, bob, rawPayload(t, resetGamePayload{Code: code}))

	// Then: the reset is refused
	require.ErrorIs(t, err, apperror.ErrRoundNotDecided)
}

func TestDisconnect_VacatesSeat(t *testing.T) {
	ctx := context.Background()

	// Given: a running game
	server := newTestServer(t)
	session, err := server.rooms.Create(entity.ModeHuman)
	require.NoError(t, err)
	code := session.Code()

	alice := newTestClient(server, "id-alice", "alice")
	bob := newTestClient(server, "id-bob", "bob")
	require.NoError(t, server.handleJoinRoom(ctx, alice, rawPayload(t, joinRoomPayload{Code: code})))
	require.NoError(t, server.handleJoinRoom(ctx, bob, rawPayload(t, joinRoomPayload{Code: code})))
	makeMove(t, server, alice, code, 0)

	// When: bob's connection drops
	server.disconnect(bob)

	// Then: alice is told, the seat is vacated and the board is cleared
	var left playerLeftPayload
	decodePayload(t, waitForAction(t, alice, ActionPlayerLeft), &left)
	assert.Contains(t, left.Message, "bob")
	assert.Equal(t, entity.StatusWaiting, left.State.Status)
	assert.Equal(t, entity.SymbolX, left.State.Turn)
	for _, cell := range left.State.Board {
		assert.Equal(t, entity.EmptyCell, cell)
	}

	// and the room survives for the next opponent
	_, err = server.rooms.Get(code)
	require.NoError(t, err)
}

func TestDisconnect_SupersededConnectionIsIgnored(t *testing.T) {
	ctx := context.Background()

	// Given: alice seated, then reconnected on a fresh socket
	server := newTestServer(t)
	session, err := server.rooms.Create(entity.ModeHuman)
	require.NoError(t, err)
	code := session.Code()

	stale := newTestClient(server, "id-alice", "alice")
	require.NoError(t, server.handleJoinRoom(ctx, stale, rawPayload(t, joinRoomPayload{Code: code})))

	fresh := newTestClient(server, "id-alice", "alice")
	require.NoError(t, server.handleJoinRoom(ctx, fresh, rawPayload(t, joinRoomPayload{Code: code})))

	// When: the stale socket finally reports its disconnect
	server.disconnect(stale)

	// Then: alice keeps her seat through the fresh connection
	err = session.Do(func(room *entity.Room) error {
		player := room.PlayerByID("id-alice")
		require.NotNil(t, player)
		assert.Equal(t, entity.SymbolX, player.Symbol)
		assert.Equal(t, 1, room.HumanCount())
		return nil
	})
	require.NoError(t, err)
}

func TestHandlePlayVsAI_FullFlow(t *testing.T) {
	ctx := context.Background()

	// Given: a connected client
	server := newTestServer(t)
	alice := newTestClient(server, "id-alice", "alice")

	// When: starting a game against the bot
	require.NoError(t, server.handlePlayVsAI(ctx, alice, rawPayload(t, playVsAIPayload{})))

	// Then: a playing room arrives with alice on X
	var joined roomJoinedPayload
	decodePayload(t, waitForAction(t, alice, ActionRoomJoined), &joined)
	assert.Equal(t, entity.SymbolX, joined.Symbol)
	assert.Equal(t, entity.ModeAI, joined.State.Mode)
	assert.Equal(t, entity.StatusPlaying, joined.State.Status)
	assert.Equal(t, entity.SymbolX, joined.State.Turn)

	code := joined.State.Code

	// When: alice makes her opening move
	makeMove(t, server, alice, code, 0)

	var move moveMadePayload
	decodePayload(t, waitForAction(t, alice, ActionMoveMade), &move)
	assert.Equal(t, entity.SymbolO, move.NextTurn)

	// Then: the bot answers and hands the turn back
	var reply aiMoveMadePayload
	decodePayload(t, waitForAction(t, alice, ActionAIMoveMade), &reply)
	assert.Equal(t, entity.SymbolX, reply.State.Turn)

	var bots int
	for _, cell := range reply.State.Board {
		if cell == entity.SymbolO {
			bots++
		}
	}
	assert.Equal(t, 1, bots)

	// When: alice leaves the bot game
	require.NoError(t, server.handleLeaveAIGame(ctx, alice, rawPayload(t, leaveAIGamePayload{Code: code})))

	// Then: the room is gone
	_, err := server.rooms.Get(code)
	require.ErrorIs(t, err, apperror.ErrRoomNotFound)
}

// drainWithout empties the client's queue and fails on the given action.
func drainWithout(t *testing.T, c *client, action string) {
	t.Helper()

	for {
		select {
		case msg := <-c.send:
			require.NotEqual(t, action, msg.Action)
		default:
			return
		}
	}
}

func TestAnnounceBotMove_SkipsStaleOutcome(t *testing.T) {
	ctx := context.Background()

	// Given: a bot game whose round was decided and then reset again
	server := newTestServer(t)
	alice := newTestClient(server, "id-alice", "alice")
	require.NoError(t, server.handlePlayVsAI(ctx, alice, rawPayload(t, playVsAIPayload{})))

	var joined roomJoinedPayload
	decodePayload(t, waitForAction(t, alice, ActionRoomJoined), &joined)

	session, err := server.rooms.Get(joined.State.Code)
	require.NoError(t, err)

	var stale *entity.Room
	verdict := entity.Verdict{Winner: entity.SymbolO, Line: [3]int{3, 4, 5}}

	err = session.Do(func(room *entity.Room) error {
		room.Board = entity.Board{
			entity.SymbolX, entity.SymbolX, entity.EmptyCell,
			entity.SymbolO, entity.SymbolO, entity.SymbolO,
			entity.EmptyCell, entity.EmptyCell, entity.SymbolX,
		}
		room.Status = entity.StatusWinner
		room.Turn = entity.EmptyCell
		stale = room.Snapshot()

		return room.Reset()
	})
	require.NoError(t, err)

	// When: the outcome captured before the reset is finally announced
	server.announceBotMove(session, stale, verdict)

	// Then: no game_over reaches the fresh round
	drainWithout(t, alice, ActionGameOver)
}

type flakyBot struct {
	mu     sync.Mutex
	calls  int
	failed chan struct{}
}

func (that *flakyBot) ChooseMove(board entity.Board, _ string) (int, error) {
	that.mu.Lock()
	that.calls++
	first := that.calls == 1
	that.mu.Unlock()

	if first {
		close(that.failed)
		return 0, errors.New("transient failure")
	}

	available := board.AvailableCells()
	return available[0], nil
}

func TestHandleMakeMove_RetriesStalledBot(t *testing.T) {
	ctx := context.Background()

	// Given: a bot game whose first reply attempt failed, leaving the room
	// stuck on the bot's turn
	bot := &flakyBot{failed: make(chan struct{})}
	server := newTestServerWithBot(t, bot)

	alice := newTestClient(server, "id-alice", "alice")
	require.NoError(t, server.handlePlayVsAI(ctx, alice, rawPayload(t, playVsAIPayload{})))

	var joined roomJoinedPayload
	decodePayload(t, waitForAction(t, alice, ActionRoomJoined), &joined)
	code := joined.State.Code

	makeMove(t, server, alice, code, 0)
	<-bot.failed

	// When: alice pokes the board again while the bot is on turn
	cell := 1
	err := server.handleMakeMove(ctx, alice, rawPayload(t, makeMovePayload{Code: code, Cell: &cell}))

	// Then: her own move is still refused but the opponent is kicked again
	require.ErrorIs(t, err, apperror.ErrNotYourTurn)

	var reply aiMoveMadePayload
	decodePayload(t, waitForAction(t, alice, ActionAIMoveMade), &reply)
	assert.Equal(t, entity.SymbolX, reply.State.Turn)
}

func TestHandleMakeMove_MalformedPayload(t *testing.T) {
	server := newTestServer(t)
	c := newTestClient(server, "id-alice", "alice")

	// When: cell_index is missing
	err := server.handleMakeMove(context.Background(), c, rawPayload(t, map[string]string{"room_code": "ABC123"}))

	// Then: the payload is rejected before any room lookup
	require.ErrorIs(t, err, errMalformedPayload)
	assert.Equal(t, "malformed payload", errorMessage(err))
}
