package tick

// State is the tick engine's mutable state. Time is simulation time and only
// moves when a tick actually runs.
type State struct {
	Time                 int32
	OneMinuteWarningSent bool
	GameOverTimerArmed   bool
	// Commands relayed to clients so far.
	Relayed uint64
}

type action uint8

const (
	actionWarn action = 1 << iota
	actionArm
	actionDisarm
)

func (a action) has(other action) bool {
	return a&other != 0
}

// observe runs the game-over debounce for a population of n (n > 0).
// timerPending tells whether the game-over timer is still scheduled.
//
// Alone: warn once and arm the timer once per episode. Recovered: if the
// timer is still pending, disarm it and clear both latches so the next drop
// starts a fresh episode.
func (s *State) observe(n int, timerPending bool) (a action) {
	switch {
	case n == 1:
		if !s.OneMinuteWarningSent {
			s.OneMinuteWarningSent = true
			a |= actionWarn
		}
		if !s.GameOverTimerArmed {
			s.GameOverTimerArmed = true
			a |= actionArm
		}
	case n > 1 && timerPending:
		s.OneMinuteWarningSent = false
		s.GameOverTimerArmed = false
		a |= actionDisarm
	}
	return
}
