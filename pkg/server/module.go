package server

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cfoust/lockstep/pkg/commands"
	"github.com/cfoust/lockstep/pkg/config"
	"github.com/cfoust/lockstep/pkg/i18n"
	"github.com/cfoust/lockstep/pkg/messaging"
	"github.com/cfoust/lockstep/pkg/players"
	"github.com/cfoust/lockstep/pkg/protocol"
	"github.com/cfoust/lockstep/pkg/scheduler"
	"github.com/cfoust/lockstep/pkg/session"
	"github.com/cfoust/lockstep/pkg/state"
	"github.com/cfoust/lockstep/pkg/tick"
	"github.com/cfoust/lockstep/pkg/utils"
	"github.com/cfoust/lockstep/pkg/warmup"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	TEAM_DATA_TASK_NAME = "TeamData"
	PING_TASK_NAME      = "Ping"

	DEFAULT_TEAM_DATA_INTERVAL = 5 * time.Second
	DEFAULT_PING_INTERVAL      = 2 * time.Second
	DEFAULT_MIN_PLAYERS        = 2
)

var (
	ErrGameOver  = fmt.Errorf("game is over")
	ErrNotInGame = fmt.Errorf("player is not in this game")
)

type Config struct {
	Description string
	// Locale of server-wide text that is not sent per player
	Locale string

	// The game starts once this many players have joined
	MinPlayers int

	Tick             tick.Config
	Warmup           warmup.Config
	WarmupEnabled    bool
	TeamDataInterval time.Duration
	PingInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Locale:           i18n.DEFAULT_LOCALE,
		MinPlayers:       DEFAULT_MIN_PLAYERS,
		Tick:             tick.DefaultConfig(),
		Warmup:           warmup.DefaultConfig(),
		WarmupEnabled:    true,
		TeamDataInterval: DEFAULT_TEAM_DATA_INTERVAL,
		PingInterval:     DEFAULT_PING_INTERVAL,
	}
}

func FromSettings(settings config.ServerSettings) Config {
	game := settings.Game
	return Config{
		Description: settings.Description,
		Locale:      game.Locale,
		MinPlayers:  game.MinPlayers,
		Tick: tick.Config{
			Period:        game.TickInterval,
			Step:          game.TimeStep,
			GameOverDelay: game.GameOverDelay,
		},
		Warmup: warmup.Config{
			Interval:   game.Warmup.Interval,
			MaxRetries: game.Warmup.MaxRetries,
		},
		WarmupEnabled:    game.Warmup.Enabled,
		TeamDataInterval: game.TeamDataInterval,
		PingInterval:     game.PingInterval,
	}
}

// Server runs a single game from warm-up to game over.
type Server struct {
	*session.State

	// Unique for every game, recorded with the match
	ID string

	config Config

	Catalog   *i18n.Catalog
	Messenger *messaging.Messenger
	Engine    *tick.Engine
	Warmup    *warmup.Synchronizer

	store   state.Store
	events  *utils.Subscriber[session.GameOverEvent]
	started atomic.Pointer[time.Time]
	over    atomic.Bool
	match   atomic.Pointer[state.Match]
}

func New(ctx context.Context, clock scheduler.Clock, catalog *i18n.Catalog, store state.Store, config Config) *Server {
	s := session.New(ctx, clock, log.Logger)
	builder := protocol.NewBuilder()
	messenger := messaging.New(s.Players, builder, s)
	engine := tick.New(s, messenger, builder, config.Tick)

	if store == nil {
		store = state.NopStore{}
	}

	return &Server{
		State:     s,
		ID:        uuid.NewString(),
		config:    config,
		Catalog:   catalog,
		Messenger: messenger,
		Engine:    engine,
		Warmup:    warmup.New(s, messenger, engine.Spec(), config.Warmup),
		store:     store,
		events:    s.GameOver.Subscribe(),
	}
}

// Start begins the game. Players that join later are picked up by the
// running tasks. Only the first call has any effect.
func (s *Server) Start() error {
	now := s.Tasks.Now()
	if !s.started.CompareAndSwap(nil, &now) {
		return nil
	}

	var err error
	if s.config.WarmupEnabled {
		err = s.Warmup.Start()
	} else {
		err = s.Engine.Start()
	}
	if err != nil {
		return err
	}

	if s.config.TeamDataInterval > 0 {
		err = s.Tasks.Schedule(TEAM_DATA_TASK_NAME, 0, s.config.TeamDataInterval, func(context.Context) error {
			s.Messenger.SendTeamData()
			return nil
		})
		if err != nil {
			return err
		}
	}

	if s.config.PingInterval > 0 {
		err = s.Tasks.Schedule(PING_TASK_NAME, s.config.PingInterval, s.config.PingInterval, func(context.Context) error {
			s.Messenger.PingAll()
			return nil
		})
		if err != nil {
			return err
		}
	}

	log.Info().
		Str("game", s.ID).
		Bool("warmup", s.config.WarmupEnabled).
		Dur("tick", s.config.Tick.Period).
		Msg("game started")
	return nil
}

func (s *Server) Started() bool {
	return s.started.Load() != nil
}

func (s *Server) Over() bool {
	return s.over.Load()
}

// Match returns the record of the finished game, or nil while it runs.
func (s *Server) Match() *state.Match {
	return s.match.Load()
}

func (s *Server) Join(name string, team int, conn players.Connection, locale string) (*players.Player, error) {
	if s.Over() {
		return nil, ErrGameOver
	}

	player := s.Players.Add(name, team, conn, s.Catalog.Get(locale))
	log.Info().
		Uint32("id", player.ID).
		Str("name", name).
		Int("team", team).
		Msg("player joined")

	s.Messenger.SendServerInfo(player, s.config.Description, s.Engine.Time())
	s.Messenger.SendSystemMessageLocal("player.join", name)
	s.Messenger.SendTeamData()

	if !s.Started() && s.Players.Size() >= s.config.MinPlayers {
		if err := s.Start(); err != nil {
			log.Error().Err(err).Str("game", s.ID).Msg("could not start game")
		}
	}
	return player, nil
}

func (s *Server) Leave(player *players.Player) {
	if !s.Players.Remove(player) {
		return
	}

	log.Info().
		Uint32("id", player.ID).
		Str("name", player.Name).
		Msg("player left")

	if s.Over() {
		return
	}

	s.Messenger.SendSystemMessageLocal("player.leave", player.Name)
	s.Messenger.SendTeamData()
}

// Submit queues a command for the next tick.
func (s *Server) Submit(player *players.Player, data []byte) (commands.Command, error) {
	if s.Over() {
		return commands.Command{}, ErrGameOver
	}
	if s.Players.Find(func(p *players.Player) bool { return p == player }) == nil {
		return commands.Command{}, ErrNotInGame
	}
	return s.Commands.Push(data), nil
}

func (s *Server) SetReady(player *players.Player, ready bool) {
	player.SetReady(ready)
	log.Debug().Str("name", player.Name).Bool("ready", ready).Msg("player readiness changed")
}

// BeginReconnect pauses simulation time until EndReconnect is called.
func (s *Server) BeginReconnect(player *players.Player) {
	if s.Reconnecting() {
		return
	}
	s.Messenger.SendSystemMessageLocal("reconnect.wait", player.Name)
	s.SetReconnecting(true)
}

func (s *Server) EndReconnect(player *players.Player) {
	if !s.Reconnecting() {
		return
	}
	s.SetReconnecting(false)
	s.Messenger.SendSystemMessageLocal("reconnect.done", player.Name)
	s.Messenger.SendTeamData()
}

// Poll handles game over events until the game ends or ctx is cancelled.
func (s *Server) Poll(ctx context.Context) {
	defer s.events.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Ctx().Done():
			return
		case event := <-s.events.Recv():
			s.HandleGameOver(ctx, event)
		}
	}
}

// HandleGameOver ends the game. Only the first event has any effect; it
// reports whether this call was the one that ended the game.
func (s *Server) HandleGameOver(ctx context.Context, event session.GameOverEvent) bool {
	if !s.over.CompareAndSwap(false, true) {
		return false
	}

	logger := log.With().
		Str("game", s.ID).
		Str("reason", string(event.Reason)).
		Int32("time", event.Time).
		Int("players", event.Players).
		Logger()
	logger.Info().Msg("game over")

	started := event.At
	if value := s.started.Load(); value != nil {
		started = *value
	}

	match := &state.Match{
		UUID:      s.ID,
		Started:   started,
		Ended:     event.At,
		Reason:    string(event.Reason),
		FinalTime: event.Time,
		Players:   event.Players,
		Commands:  s.Engine.State().Relayed,
	}

	err := s.store.SaveMatch(ctx, match)
	if err != nil {
		logger.Error().Err(err).Msg("could not record match")
	}
	s.match.Store(match)

	s.Messenger.KickAll(s.Catalog.Get(s.config.Locale).Localize("gameOver.kick"))
	s.Messenger.DisconnectAll()
	s.Shutdown()
	return true
}

func (s *Server) Description() string {
	return s.config.Description
}
