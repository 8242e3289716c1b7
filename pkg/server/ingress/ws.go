package ingress

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cfoust/lockstep/pkg/commands"
	"github.com/cfoust/lockstep/pkg/config"
	"github.com/cfoust/lockstep/pkg/players"
	"github.com/cfoust/lockstep/pkg/protocol"

	"github.com/fxamacker/cbor/v2"
	"github.com/mileusna/useragent"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

const (
	HANDSHAKE_TIMEOUT     = 10 * time.Second
	DEFAULT_WRITE_TIMEOUT = 5 * time.Second
	DEFAULT_SEND_BUFFER   = 256
)

var (
	ErrTooSlow      = fmt.Errorf("connection too slow to keep up with messages")
	ErrDisconnected = fmt.Errorf("connection closed")
)

// Game is the part of the server the ingress talks to.
type Game interface {
	Join(name string, team int, conn players.Connection, locale string) (*players.Player, error)
	Leave(player *players.Player)
	Submit(player *players.Player, data []byte) (commands.Command, error)
	SetReady(player *players.Player, ready bool)
	BeginReconnect(player *players.Player)
	EndReconnect(player *players.Player)
	Description() string
}

func marshal(message interface{}) ([]byte, error) {
	bytes, err := cbor.Marshal(message)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode message")
	}
	return bytes, err
}

// WSConnection is a player's websocket as seen by the game.
type WSConnection struct {
	host       string
	deviceType string
	send       chan []byte
	ctx        context.Context
	cancel     context.CancelFunc
	closeSlow  func()
	ping       func(ctx context.Context) error
	timeout    time.Duration
}

var _ players.Connection = (*WSConnection)(nil)

func NewWSConnection(ctx context.Context, buffer int) *WSConnection {
	if buffer <= 0 {
		buffer = DEFAULT_SEND_BUFFER
	}

	ctx, cancel := context.WithCancel(ctx)
	return &WSConnection{
		send:      make(chan []byte, buffer),
		ctx:       ctx,
		cancel:    cancel,
		closeSlow: cancel,
		timeout:   DEFAULT_WRITE_TIMEOUT,
	}
}

func (c *WSConnection) Host() string {
	return c.host
}

func (c *WSConnection) DeviceType() string {
	return c.deviceType
}

// Send queues a packet for the client. If the client has fallen so far
// behind that the buffer is full it is disconnected.
func (c *WSConnection) Send(packet protocol.Packet) error {
	if c.ctx.Err() != nil {
		return ErrDisconnected
	}

	bytes, err := marshal(PacketMessage{
		Op:     PacketOp,
		Type:   int32(packet.Type),
		Data:   packet.Data,
		Length: packet.Len(),
	})
	if err != nil {
		return err
	}

	select {
	case c.send <- bytes:
		return nil
	default:
		go c.closeSlow()
		return ErrTooSlow
	}
}

func (c *WSConnection) Disconnect() {
	c.cancel()
}

func (c *WSConnection) Ping() {
	if c.ping == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
		defer cancel()
		err := c.ping(ctx)
		if err != nil && c.ctx.Err() == nil {
			log.Debug().Err(err).Str("host", c.host).Msg("ping failed")
		}
	}()
}

func deviceType(agent useragent.UserAgent) string {
	switch {
	case agent.Bot:
		return "bot"
	case agent.Mobile:
		return "mobile"
	case agent.Tablet:
		return "tablet"
	case agent.Desktop:
		return "desktop"
	}
	return "unknown"
}

type WSIngress struct {
	game     Game
	settings config.ServerIngress
	clients  map[*WSConnection]struct{}
	mutex    deadlock.Mutex
}

func NewWSIngress(game Game, settings config.ServerIngress) *WSIngress {
	return &WSIngress{
		game:     game,
		settings: settings,
		clients:  make(map[*WSConnection]struct{}),
	}
}

func WriteTimeout(ctx context.Context, timeout time.Duration, c *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Write(ctx, websocket.MessageBinary, msg)
}

// AddClient tracks a connection and returns how many are open.
func (server *WSIngress) AddClient(client *WSConnection) int {
	server.mutex.Lock()
	defer server.mutex.Unlock()
	server.clients[client] = struct{}{}
	return len(server.clients)
}

func (server *WSIngress) RemoveClient(client *WSConnection) int {
	server.mutex.Lock()
	defer server.mutex.Unlock()
	delete(server.clients, client)
	return len(server.clients)
}

// sessionEvent is where joins and departures are logged. They only show at
// info level when session logging is on.
func (server *WSIngress) sessionEvent(logger zerolog.Logger) *zerolog.Event {
	if server.settings.LogSessions {
		return logger.Info()
	}
	return logger.Debug()
}

func (server *WSIngress) writeTimeout() time.Duration {
	if server.settings.WriteTimeout > 0 {
		return server.settings.WriteTimeout
	}
	return DEFAULT_WRITE_TIMEOUT
}

func (server *WSIngress) limiter() *rate.Limiter {
	if server.settings.CommandRate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}

	burst := server.settings.CommandBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(server.settings.CommandRate), burst)
}

func (server *WSIngress) handshake(ctx context.Context, receive <-chan []byte) (*ConnectMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, HANDSHAKE_TIMEOUT)
	defer cancel()

	for {
		select {
		case msg := <-receive:
			var connect ConnectMessage
			if err := cbor.Unmarshal(msg, &connect); err == nil && connect.Op == ConnectOp {
				if connect.Name == "" {
					return nil, fmt.Errorf("a name is required")
				}
				return &connect, nil
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("client never sent a connect message")
		}
	}
}

func (server *WSIngress) sendError(ctx context.Context, c *websocket.Conn, err error) {
	bytes, err := marshal(ErrorMessage{
		Op:      ServerErrorOp,
		Message: err.Error(),
	})
	if err != nil {
		return
	}
	WriteTimeout(ctx, server.writeTimeout(), c, bytes)
}

func (server *WSIngress) HandleClient(ctx context.Context, c *websocket.Conn, client *WSConnection) error {
	clients := server.AddClient(client)
	defer server.RemoveClient(client)

	client.timeout = server.writeTimeout()
	client.ping = c.Ping
	client.closeSlow = func() {
		c.Close(websocket.StatusPolicyViolation, ErrTooSlow.Error())
		client.cancel()
	}

	// I/O outlives the client's context so queued packets can be flushed and
	// the close handshake can complete
	connCtx := ctx
	ctx = client.ctx
	logger := log.With().
		Str("host", client.host).
		Str("device", client.deviceType).
		Logger()

	receive := make(chan []byte)
	go func() {
		defer client.cancel()
		for {
			typ, message, err := c.Read(connCtx)
			if err != nil {
				return
			}
			if typ != websocket.MessageBinary {
				continue
			}

			select {
			case receive <- message:
			case <-ctx.Done():
				return
			}
		}
	}()

	connect, err := server.handshake(ctx, receive)
	if err != nil {
		server.sendError(connCtx, c, err)
		return err
	}

	player, err := server.game.Join(connect.Name, connect.Team, client, connect.Locale)
	if err != nil {
		server.sendError(connCtx, c, err)
		return err
	}
	defer server.game.Leave(player)

	logger = logger.With().
		Uint32("id", player.ID).
		Str("name", player.Name).
		Logger()
	server.sessionEvent(logger).Int("clients", clients).Msg("client joined")

	bytes, err := marshal(ConnectedMessage{
		Op:          ServerConnectedOp,
		ID:          player.ID,
		Description: server.game.Description(),
	})
	if err != nil {
		return err
	}
	err = WriteTimeout(connCtx, client.timeout, c, bytes)
	if err != nil {
		return err
	}

	limiter := server.limiter()

	for {
		select {
		case msg := <-receive:
			server.handleMessage(logger, player, limiter, msg)
		case msg := <-client.send:
			err := WriteTimeout(connCtx, client.timeout, c, msg)
			if err != nil {
				logger.Error().Msg("client missed write timeout; disconnecting")
				return err
			}
		case <-ctx.Done():
			server.flush(connCtx, c, client)
			server.sessionEvent(logger).Msg("client left")
			return ctx.Err()
		}
	}
}

// flush writes whatever was queued before the client was disconnected, such
// as a final kick.
func (server *WSIngress) flush(ctx context.Context, c *websocket.Conn, client *WSConnection) {
	for {
		select {
		case msg := <-client.send:
			err := WriteTimeout(ctx, client.timeout, c, msg)
			if err != nil {
				return
			}
		default:
			return
		}
	}
}

func (server *WSIngress) handleMessage(logger zerolog.Logger, player *players.Player, limiter *rate.Limiter, msg []byte) {
	var generic GenericMessage
	if err := cbor.Unmarshal(msg, &generic); err != nil {
		logger.Debug().Err(err).Msg("could not decode message")
		return
	}

	switch generic.Op {
	case CommandOp:
		var command CommandMessage
		if err := cbor.Unmarshal(msg, &command); err != nil {
			return
		}

		if !limiter.Allow() {
			logger.Warn().Msg("client exceeded command rate; dropping")
			return
		}

		_, err := server.game.Submit(player, command.Data)
		if err != nil {
			logger.Debug().Err(err).Msg("command rejected")
		}
	case ReadyOp:
		var ready ReadyMessage
		if err := cbor.Unmarshal(msg, &ready); err != nil {
			return
		}
		server.game.SetReady(player, ready.Ready)
	case ReconnectOp:
		var reconnect ReconnectMessage
		if err := cbor.Unmarshal(msg, &reconnect); err != nil {
			return
		}
		if reconnect.Done {
			server.game.EndReconnect(player)
		} else {
			server.game.BeginReconnect(player)
		}
	case DisconnectOp:
		player.Conn.Disconnect()
	}
}

func (server *WSIngress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})

	if err != nil {
		log.Error().Err(err).Msg("error accepting client connection")
		return
	}

	// We are usually behind a proxy, so check this first
	hostname := r.RemoteAddr

	original, ok := r.Header["X-Forwarded-For"]
	if ok {
		hostname = original[0]
	}

	client := NewWSConnection(r.Context(), server.settings.SendBuffer)
	client.host = hostname
	client.deviceType = deviceType(useragent.Parse(r.UserAgent()))

	err = server.HandleClient(r.Context(), c, client)
	if errors.Is(err, context.Canceled) {
		c.Close(websocket.StatusNormalClosure, "disconnected")
		return
	}

	defer c.Close(websocket.StatusInternalError, "operational fault during relay")

	if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
		websocket.CloseStatus(err) == websocket.StatusGoingAway {
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("client connection failed")
		return
	}
}
