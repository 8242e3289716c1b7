package warmup

import (
	"context"
	"time"

	"github.com/cfoust/lockstep/pkg/messaging"
	"github.com/cfoust/lockstep/pkg/players"
	"github.com/cfoust/lockstep/pkg/scheduler"
	"github.com/cfoust/lockstep/pkg/session"

	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
)

const (
	TASK_NAME = "Warmup"

	DEFAULT_INTERVAL    = 100 * time.Millisecond
	DEFAULT_MAX_RETRIES = 30
)

type Phase uint8

const (
	PhasePolling Phase = iota
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhasePolling:
		return "polling"
	case PhaseDone:
		return "done"
	}
	return "unknown"
}

// Outcome is how the warm-up ended.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeReady
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "ready"
	case OutcomeTimeout:
		return "timeout"
	}
	return "none"
}

// Message keys announced when the game starts.
const (
	MESSAGE_READY   = "start.testYes"
	MESSAGE_TIMEOUT = "start.testNo"
)

func (o Outcome) MessageKey() string {
	if o == OutcomeTimeout {
		return MESSAGE_TIMEOUT
	}
	return MESSAGE_READY
}

type Config struct {
	Interval   time.Duration
	MaxRetries int
}

func DefaultConfig() Config {
	return Config{
		Interval:   DEFAULT_INTERVAL,
		MaxRetries: DEFAULT_MAX_RETRIES,
	}
}

// Progress is the warm-up state machine. Every unready player seen by a poll
// costs one retry from a budget shared by the whole group.
type Progress struct {
	Phase   Phase
	Outcome Outcome
	Retries int
}

// Step applies one poll that saw players members, unready of them not yet
// loaded. It returns true when that poll finished the warm-up. An empty group
// is never ready and costs no retries.
func (p *Progress) Step(players, unready, maxRetries int) bool {
	if p.Phase == PhaseDone || players == 0 {
		return false
	}

	p.Retries += unready
	switch {
	case unready == 0:
		p.Outcome = OutcomeReady
	case p.Retries > maxRetries:
		p.Outcome = OutcomeTimeout
	default:
		return false
	}

	p.Phase = PhaseDone
	return true
}

// Synchronizer holds the game back until every player has loaded, or until
// the retry budget runs out, then hands over to the next task.
type Synchronizer struct {
	session   *session.State
	messenger *messaging.Messenger
	next      scheduler.Spec
	config    Config

	mutex    deadlock.Mutex
	progress Progress
}

func New(s *session.State, messenger *messaging.Messenger, next scheduler.Spec, config Config) *Synchronizer {
	return &Synchronizer{
		session:   s,
		messenger: messenger,
		next:      next,
		config:    config,
	}
}

func (w *Synchronizer) Start() error {
	return w.session.Tasks.Schedule(TASK_NAME, 0, w.config.Interval, w.Poll)
}

func (w *Synchronizer) Progress() Progress {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.progress
}

func (w *Synchronizer) Poll(ctx context.Context) error {
	present, unready := 0, 0
	w.session.Players.Each(func(p *players.Player) {
		present++
		if !p.Ready() {
			unready++
		}
	})

	w.mutex.Lock()
	finished := w.progress.Step(present, unready, w.config.MaxRetries)
	progress := w.progress
	w.mutex.Unlock()

	if !finished {
		return nil
	}

	log.Info().
		Stringer("outcome", progress.Outcome).
		Int("retries", progress.Retries).
		Int("players", present).
		Msg("warm-up finished, starting game")

	w.messenger.SendSystemMessageLocal(progress.Outcome.MessageKey())
	return w.session.Tasks.Handoff(TASK_NAME, w.next)
}
