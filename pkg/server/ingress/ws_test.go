package ingress

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cfoust/lockstep/pkg/commands"
	"github.com/cfoust/lockstep/pkg/config"
	"github.com/cfoust/lockstep/pkg/players"
	"github.com/cfoust/lockstep/pkg/protocol"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

type fakeGame struct {
	mutex    sync.Mutex
	group    *players.Group
	queue    *commands.Queue
	locales  []string
	left     int
	closed   bool
	joinErr  error
	lastSeen *players.Player
	// "begin" and "end" in the order they arrived
	reconnects []string
}

func newFakeGame() *fakeGame {
	return &fakeGame{
		group: players.NewGroup(),
		queue: commands.NewQueue(),
	}
}

func (g *fakeGame) Join(name string, team int, conn players.Connection, locale string) (*players.Player, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.joinErr != nil {
		return nil, g.joinErr
	}
	g.locales = append(g.locales, locale)
	player := g.group.Add(name, team, conn, nil)
	g.lastSeen = player
	return player, nil
}

func (g *fakeGame) Leave(player *players.Player) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.group.Remove(player)
	g.left++
}

func (g *fakeGame) Submit(player *players.Player, data []byte) (commands.Command, error) {
	return g.queue.Push(data), nil
}

func (g *fakeGame) SetReady(player *players.Player, ready bool) {
	player.SetReady(ready)
}

func (g *fakeGame) BeginReconnect(player *players.Player) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.reconnects = append(g.reconnects, "begin")
}

func (g *fakeGame) EndReconnect(player *players.Player) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.reconnects = append(g.reconnects, "end")
}

func (g *fakeGame) reconnectLog() []string {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return append([]string(nil), g.reconnects...)
}

func (g *fakeGame) Description() string {
	return "test server"
}

func (g *fakeGame) player() *players.Player {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.lastSeen
}

func (g *fakeGame) numLeft() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.left
}

func settings() config.ServerIngress {
	return config.ServerIngress{
		CommandRate:  1000,
		CommandBurst: 1000,
		SendBuffer:   16,
		WriteTimeout: time.Second,
	}
}

func start(t *testing.T, game Game, settings config.ServerIngress) *httptest.Server {
	server := httptest.NewServer(NewWSIngress(game, settings))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, ctx context.Context, server *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func write(t *testing.T, ctx context.Context, c *websocket.Conn, message interface{}) {
	bytes, err := cbor.Marshal(message)
	require.NoError(t, err)
	require.NoError(t, c.Write(ctx, websocket.MessageBinary, bytes))
}

func read[T any](t *testing.T, ctx context.Context, c *websocket.Conn) T {
	_, bytes, err := c.Read(ctx)
	require.NoError(t, err)

	var message T
	require.NoError(t, cbor.Unmarshal(bytes, &message))
	return message
}

func connect(t *testing.T, ctx context.Context, c *websocket.Conn, name string) ConnectedMessage {
	write(t, ctx, c, ConnectMessage{
		Op:     ConnectOp,
		Name:   name,
		Team:   1,
		Locale: "zh",
	})
	return read[ConnectedMessage](t, ctx, c)
}

func TestConnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	game := newFakeGame()
	server := start(t, game, settings())
	c := dial(t, ctx, server)

	connected := connect(t, ctx, c, "alice")
	assert.Equal(t, ServerConnectedOp, connected.Op)
	assert.Equal(t, "test server", connected.Description)

	player := game.player()
	require.NotNil(t, player)
	assert.Equal(t, player.ID, connected.ID)
	assert.Equal(t, 1, player.Team)
	assert.Equal(t, []string{"zh"}, game.locales)

	// packets sent by the game reach the client
	require.NoError(t, player.Send(protocol.Packet{
		Type: protocol.Tick,
		Data: []byte{1, 2, 3},
	}))
	packet := read[PacketMessage](t, ctx, c)
	assert.Equal(t, PacketOp, packet.Op)
	assert.Equal(t, int32(protocol.Tick), packet.Type)
	assert.Equal(t, []byte{1, 2, 3}, packet.Data)
	assert.Equal(t, 3, packet.Length)
}

func TestCommandsAndReady(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	game := newFakeGame()
	server := start(t, game, settings())
	c := dial(t, ctx, server)
	connect(t, ctx, c, "alice")
	player := game.player()

	write(t, ctx, c, CommandMessage{Op: CommandOp, Data: []byte("a")})
	write(t, ctx, c, CommandMessage{Op: CommandOp, Data: []byte("b")})
	write(t, ctx, c, ReadyMessage{Op: ReadyOp, Ready: true})

	// messages are handled in order
	require.Eventually(t, player.Ready, time.Second, time.Millisecond)

	batch := game.queue.Drain()
	require.Len(t, batch, 2)
	assert.Equal(t, []byte("a"), batch[0].Data)
	assert.Equal(t, []byte("b"), batch[1].Data)
}

func TestCommandRateLimit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	limited := settings()
	limited.CommandRate = 0.001
	limited.CommandBurst = 2

	game := newFakeGame()
	server := start(t, game, limited)
	c := dial(t, ctx, server)
	connect(t, ctx, c, "alice")
	player := game.player()

	for i := 0; i < 5; i++ {
		write(t, ctx, c, CommandMessage{Op: CommandOp, Data: []byte{byte(i)}})
	}
	write(t, ctx, c, ReadyMessage{Op: ReadyOp, Ready: true})
	require.Eventually(t, player.Ready, time.Second, time.Millisecond)

	assert.Equal(t, 2, game.queue.Len())
}

func TestJoinRejected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	game := newFakeGame()
	game.joinErr = fmt.Errorf("game is over")
	server := start(t, game, settings())
	c := dial(t, ctx, server)

	write(t, ctx, c, ConnectMessage{Op: ConnectOp, Name: "alice"})
	message := read[ErrorMessage](t, ctx, c)
	assert.Equal(t, ServerErrorOp, message.Op)
	assert.Equal(t, "game is over", message.Message)
}

func TestDisconnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	game := newFakeGame()
	server := start(t, game, settings())
	c := dial(t, ctx, server)
	connect(t, ctx, c, "alice")
	player := game.player()

	// a final packet queued right before the disconnect is still delivered
	require.NoError(t, player.Send(protocol.Packet{Type: protocol.Kick}))
	player.Conn.Disconnect()

	packet := read[PacketMessage](t, ctx, c)
	assert.Equal(t, int32(protocol.Kick), packet.Type)

	_, _, err := c.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))

	require.Eventually(t, func() bool {
		return game.numLeft() == 1
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, player.Send(protocol.Packet{Type: protocol.Tick}), ErrDisconnected)
}

func TestSlowClient(t *testing.T) {
	conn := NewWSConnection(context.Background(), 2)
	closed := make(chan struct{})
	conn.closeSlow = func() { close(closed) }

	packet := protocol.Packet{Type: protocol.Tick}
	require.NoError(t, conn.Send(packet))
	require.NoError(t, conn.Send(packet))
	assert.ErrorIs(t, conn.Send(packet), ErrTooSlow)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("slow client was not closed")
	}
}

func TestReconnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	game := newFakeGame()
	server := start(t, game, settings())
	c := dial(t, ctx, server)
	connect(t, ctx, c, "alice")

	write(t, ctx, c, ReconnectMessage{Op: ReconnectOp})
	write(t, ctx, c, ReconnectMessage{Op: ReconnectOp, Done: true})

	require.Eventually(t, func() bool {
		return len(game.reconnectLog()) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"begin", "end"}, game.reconnectLog())
}

func TestSessionLogging(t *testing.T) {
	var buffer bytes.Buffer
	logger := zerolog.New(&buffer).Level(zerolog.InfoLevel)

	quiet := NewWSIngress(newFakeGame(), settings())
	quiet.sessionEvent(logger).Msg("client joined")
	assert.Empty(t, buffer.String())

	verbose := settings()
	verbose.LogSessions = true
	NewWSIngress(newFakeGame(), verbose).sessionEvent(logger).Msg("client joined")
	assert.Contains(t, buffer.String(), `"level":"info"`)
	assert.Contains(t, buffer.String(), "client joined")
}

func TestClientCount(t *testing.T) {
	ingress := NewWSIngress(newFakeGame(), settings())
	first := NewWSConnection(context.Background(), 1)
	second := NewWSConnection(context.Background(), 1)

	assert.Equal(t, 1, ingress.AddClient(first))
	assert.Equal(t, 2, ingress.AddClient(second))
	assert.Equal(t, 1, ingress.RemoveClient(first))
	assert.Equal(t, 0, ingress.RemoveClient(second))
}

func TestUnencodableMessage(t *testing.T) {
	_, err := marshal(make(chan int))
	assert.Error(t, err)
}
