package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cfoust/lockstep/pkg/utils"

	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"
)

var (
	ErrShutdown = fmt.Errorf("registry is shut down")
	ErrNoName   = fmt.Errorf("task needs a name")
	ErrNoFunc   = fmt.Errorf("task needs a function")
)

const (
	statePending = iota
	stateRunning
	stateDone
)

// TaskFunc is the body of a scheduled task. A returned error is logged and
// does not unregister the task.
type TaskFunc func(ctx context.Context) error

// Spec describes a task to schedule. A Period of zero makes it a one-shot
// that fires once after Delay.
type Spec struct {
	Name   string
	Delay  time.Duration
	Period time.Duration
	Func   TaskFunc
}

func (s Spec) Recurring() bool {
	return s.Period > 0
}

type task struct {
	Spec

	state int
	runs  int
	timer Timer
	// when the pending firing is due
	deadline time.Time
}

// Registry runs, queries and cancels tasks by name. There is at most one live
// task per name; scheduling under a taken name replaces the old task.
type Registry struct {
	session utils.Session
	clock   Clock
	log     zerolog.Logger
	mutex   deadlock.Mutex
	tasks   map[string]*task
	closed  bool
}

func New(ctx context.Context, clock Clock, logger zerolog.Logger) *Registry {
	return &Registry{
		session: utils.NewSession(ctx),
		clock:   clock,
		log:     logger,
		tasks:   make(map[string]*task),
	}
}

// Ctx is cancelled when the registry shuts down.
func (r *Registry) Ctx() context.Context {
	return r.session.Ctx()
}

func (r *Registry) Clock() Clock {
	return r.clock
}

func (r *Registry) Now() time.Time {
	return r.clock.Now()
}

// Schedule registers fn under name. It first fires after delay and, if period
// is positive, every period after that until cancelled.
func (r *Registry) Schedule(name string, delay, period time.Duration, fn TaskFunc) error {
	return r.ScheduleSpec(Spec{
		Name:   name,
		Delay:  delay,
		Period: period,
		Func:   fn,
	})
}

// After schedules a one-shot task.
func (r *Registry) After(name string, delay time.Duration, fn TaskFunc) error {
	return r.Schedule(name, delay, 0, fn)
}

func (r *Registry) ScheduleSpec(spec Spec) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.scheduleLocked(spec)
}

// Handoff cancels the task named from and schedules next while holding the
// registry lock, so a task can replace itself without the registry ever
// seeing both or neither.
func (r *Registry) Handoff(from string, next Spec) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.cancelLocked(from)
	return r.scheduleLocked(next)
}

func (r *Registry) scheduleLocked(spec Spec) error {
	if r.closed {
		return ErrShutdown
	}
	if spec.Name == "" {
		return ErrNoName
	}
	if spec.Func == nil {
		return ErrNoFunc
	}
	if spec.Period < 0 {
		spec.Period = 0
	}
	if spec.Delay < 0 {
		spec.Delay = 0
	}

	if r.cancelLocked(spec.Name) {
		r.log.Debug().Str("task", spec.Name).Msg("replacing scheduled task")
	}

	t := &task{Spec: spec, deadline: r.clock.Now().Add(spec.Delay)}
	r.tasks[spec.Name] = t
	t.timer = r.clock.AfterFunc(spec.Delay, func() { r.fire(t) })
	return nil
}

// IsScheduled reports whether a live task exists under name.
func (r *Registry) IsScheduled(name string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	_, ok := r.tasks[name]
	return ok
}

// Cancel stops the named task. An invocation that is already running is
// allowed to finish but will not be repeated. Cancelling an unknown name does
// nothing. It reports whether a task was removed.
func (r *Registry) Cancel(name string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.cancelLocked(name)
}

func (r *Registry) cancelLocked(name string) bool {
	t, ok := r.tasks[name]
	if !ok {
		return false
	}
	t.state = stateDone
	if t.timer != nil {
		t.timer.Stop()
	}
	delete(r.tasks, name)
	return true
}

// Names returns the names of all live tasks, sorted.
func (r *Registry) Names() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Runs returns how many times the live task under name has fired.
func (r *Registry) Runs(name string) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if t, ok := r.tasks[name]; ok {
		return t.runs
	}
	return 0
}

// Shutdown cancels every task and refuses new ones.
func (r *Registry) Shutdown() {
	r.mutex.Lock()
	r.closed = true
	for name := range r.tasks {
		r.cancelLocked(name)
	}
	r.mutex.Unlock()

	r.session.Cancel()
}

func (r *Registry) current(t *task) bool {
	return r.tasks[t.Name] == t && t.state != stateDone
}

func (r *Registry) fire(t *task) {
	r.mutex.Lock()
	if !r.current(t) || t.state != statePending {
		r.mutex.Unlock()
		return
	}
	t.state = stateRunning
	t.runs++
	r.mutex.Unlock()

	r.run(t)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// cancelled or replaced while running
	if !r.current(t) {
		return
	}

	if !t.Recurring() {
		t.state = stateDone
		delete(r.tasks, t.Name)
		return
	}

	// Firings stay on the original grid. One that is already late runs right
	// away and the grid restarts from now.
	now := r.clock.Now()
	next := t.deadline.Add(t.Period)
	if next.Before(now) {
		next = now
	}
	t.deadline = next
	t.state = statePending
	t.timer = r.clock.AfterFunc(next.Sub(now), func() { r.fire(t) })
}

func (r *Registry) run(t *task) {
	logger := r.log.With().Str("task", t.Name).Logger()

	defer func() {
		if err := recover(); err != nil {
			logger.Error().Msgf("task panicked: %v", err)
		}
	}()

	start := r.clock.Now()
	if err := t.Func(r.session.Ctx()); err != nil {
		logger.Error().Err(err).Msg("task failed")
	}

	if !t.Recurring() {
		return
	}

	if elapsed := r.clock.Now().Sub(start); elapsed > t.Period {
		logger.Warn().
			Dur("elapsed", elapsed).
			Dur("period", t.Period).
			Msg("task overran its period")
	}
}
