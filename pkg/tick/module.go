package tick

import (
	"context"
	"time"

	"github.com/cfoust/lockstep/pkg/messaging"
	"github.com/cfoust/lockstep/pkg/protocol"
	"github.com/cfoust/lockstep/pkg/scheduler"
	"github.com/cfoust/lockstep/pkg/session"

	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
)

const (
	TASK_NAME           = "GameTask"
	GAME_OVER_TASK_NAME = "Gameover"

	DEFAULT_PERIOD          = 150 * time.Millisecond
	DEFAULT_STEP            = 10
	DEFAULT_GAME_OVER_DELAY = time.Minute
)

type Config struct {
	Period        time.Duration
	Step          int32
	GameOverDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Period:        DEFAULT_PERIOD,
		Step:          DEFAULT_STEP,
		GameOverDelay: DEFAULT_GAME_OVER_DELAY,
	}
}

// Engine is the game heartbeat. Every firing it advances simulation time,
// watches the population for game over and broadcasts whatever commands
// were queued since the last tick.
type Engine struct {
	session   *session.State
	messenger *messaging.Messenger
	builder   protocol.Builder
	config    Config

	mutex deadlock.Mutex
	state State
}

func New(s *session.State, messenger *messaging.Messenger, builder protocol.Builder, config Config) *Engine {
	return &Engine{
		session:   s,
		messenger: messenger,
		builder:   builder,
		config:    config,
	}
}

func (e *Engine) Spec() scheduler.Spec {
	return scheduler.Spec{
		Name:   TASK_NAME,
		Period: e.config.Period,
		Func:   e.Fire,
	}
}

// Start schedules the engine directly, without a warm-up.
func (e *Engine) Start() error {
	return e.session.Tasks.ScheduleSpec(e.Spec())
}

func (e *Engine) Running() bool {
	return e.session.Tasks.IsScheduled(TASK_NAME)
}

func (e *Engine) State() State {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.state
}

func (e *Engine) Time() int32 {
	return e.State().Time
}

func (e *Engine) Fire(ctx context.Context) error {
	// the clock stands still while someone reconnects
	if e.session.Reconnecting() {
		return nil
	}

	e.mutex.Lock()
	e.state.Time += e.config.Step
	now := e.state.Time
	e.mutex.Unlock()

	tasks := e.session.Tasks
	n := e.session.Players.Size()

	if n == 0 {
		log.Info().Int32("time", now).Msg("no players left, game over")
		e.publishGameOver(session.GameOverEmpty, now, 0)
		tasks.Cancel(GAME_OVER_TASK_NAME)
		tasks.Cancel(TASK_NAME)
		return nil
	}

	pending := tasks.IsScheduled(GAME_OVER_TASK_NAME)
	e.mutex.Lock()
	a := e.state.observe(n, pending)
	e.mutex.Unlock()

	if a.has(actionWarn) {
		e.messenger.SendSystemMessageLocal("gameOver.oneMin")
	}

	if a.has(actionArm) {
		log.Info().Dur("delay", e.config.GameOverDelay).Msg("one player left, arming game over")
		err := tasks.After(GAME_OVER_TASK_NAME, e.config.GameOverDelay, e.lastPlayerStanding)
		if err != nil {
			log.Error().Err(err).Msg("could not arm game over")
		}
	}

	if a.has(actionDisarm) {
		log.Info().Int("players", n).Msg("players came back, game over cancelled")
		tasks.Cancel(GAME_OVER_TASK_NAME)
	}

	e.broadcast(now)
	return nil
}

func (e *Engine) broadcast(now int32) {
	batch := e.session.Commands.Drain()

	var packet protocol.Packet
	switch len(batch) {
	case 0:
		packet = e.builder.Tick(now)
	case 1:
		packet = e.builder.TickWithCommand(now, batch[0])
	default:
		packet = e.builder.TickWithCommands(now, batch)
	}

	e.mutex.Lock()
	e.state.Relayed += uint64(len(batch))
	e.mutex.Unlock()

	err := e.session.Players.Broadcast(packet)
	if err != nil {
		log.Warn().Err(err).
			Int32("time", now).
			Int("commands", len(batch)).
			Msg("tick was not delivered to every player")
	}
}

func (e *Engine) lastPlayerStanding(ctx context.Context) error {
	n := e.session.Players.Size()
	log.Info().Int("players", n).Msg("game over timer expired")
	e.publishGameOver(session.GameOverLastPlayer, e.Time(), n)
	return nil
}

func (e *Engine) publishGameOver(reason session.GameOverReason, now int32, n int) {
	e.session.GameOver.Publish(session.GameOverEvent{
		At:      e.session.Tasks.Now(),
		Time:    now,
		Players: n,
		Reason:  reason,
	})
}
