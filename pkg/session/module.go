package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cfoust/lockstep/pkg/commands"
	"github.com/cfoust/lockstep/pkg/players"
	"github.com/cfoust/lockstep/pkg/scheduler"
	"github.com/cfoust/lockstep/pkg/utils"

	"github.com/rs/zerolog"
)

type GameOverReason string

const (
	// Everybody left.
	GameOverEmpty GameOverReason = "empty"
	// One player was left alone for the whole grace period.
	GameOverLastPlayer GameOverReason = "last-player"
)

type GameOverEvent struct {
	At      time.Time
	Time    int32
	Players int
	Reason  GameOverReason
}

// State is everything one game shares between its tasks and connections.
type State struct {
	utils.Session

	Players  *players.Group
	Commands *commands.Queue
	Tasks    *scheduler.Registry
	GameOver *utils.Topic[GameOverEvent]

	reconnecting atomic.Bool
}

func New(ctx context.Context, clock scheduler.Clock, logger zerolog.Logger) *State {
	s := &State{
		Session:  utils.NewSession(ctx),
		Players:  players.NewGroup(),
		Commands: commands.NewQueue(),
		GameOver: utils.NewTopic[GameOverEvent](),
	}
	s.Tasks = scheduler.New(s.Ctx(), clock, logger)
	return s
}

// Reconnecting reports whether a player is being reconnected, during which
// the simulation clock is frozen.
func (s *State) Reconnecting() bool {
	return s.reconnecting.Load()
}

func (s *State) SetReconnecting(reconnecting bool) {
	s.reconnecting.Store(reconnecting)
}

// Shutdown stops every task, empties the player group and ends the session.
func (s *State) Shutdown() []*players.Player {
	s.Tasks.Shutdown()
	removed := s.Players.Clear()
	s.Commands.Drain()
	s.Cancel()
	return removed
}
