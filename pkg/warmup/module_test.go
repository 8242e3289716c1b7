package warmup

import (
	"context"
	"testing"
	"time"

	"github.com/cfoust/lockstep/pkg/i18n"
	"github.com/cfoust/lockstep/pkg/messaging"
	"github.com/cfoust/lockstep/pkg/players"
	"github.com/cfoust/lockstep/pkg/protocol"
	"github.com/cfoust/lockstep/pkg/scheduler"
	"github.com/cfoust/lockstep/pkg/session"
	"github.com/cfoust/lockstep/pkg/tick"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	packets []protocol.Packet
}

func (c *mockConn) Send(packet protocol.Packet) error {
	c.packets = append(c.packets, packet)
	return nil
}

func (c *mockConn) Disconnect() {}

func (c *mockConn) Ping() {}

func (c *mockConn) count(t *testing.T, typ protocol.PacketType) (n int) {
	for _, packet := range c.packets {
		if packet.Type == typ {
			n++
		}
	}
	return
}

func (c *mockConn) chat(t *testing.T) []string {
	var lines []string
	for _, packet := range c.packets {
		if packet.Type != protocol.Chat {
			continue
		}
		message, err := protocol.DecodeChat(packet)
		require.NoError(t, err)
		lines = append(lines, message.Text)
	}
	return lines
}

type fixture struct {
	clock   *scheduler.FakeClock
	session *session.State
	warmup  *Synchronizer
	locale  *i18n.Bundle
}

func newFixture(t *testing.T) *fixture {
	catalog, err := i18n.LoadCatalog()
	require.NoError(t, err)

	clock := scheduler.NewFakeClock()
	s := session.New(context.Background(), clock, zerolog.Nop())
	t.Cleanup(func() { s.Shutdown() })

	builder := protocol.NewBuilder()
	messenger := messaging.New(s.Players, builder, s)
	engine := tick.New(s, messenger, builder, tick.DefaultConfig())

	return &fixture{
		clock:   clock,
		session: s,
		warmup:  New(s, messenger, engine.Spec(), DefaultConfig()),
		locale:  catalog.Default(),
	}
}

func (f *fixture) join(name string) (*players.Player, *mockConn) {
	conn := &mockConn{}
	return f.session.Players.Add(name, 0, conn, f.locale), conn
}

func TestStep(t *testing.T) {
	var p Progress

	assert.False(t, p.Step(3, 2, 5))
	assert.Equal(t, 2, p.Retries)
	assert.False(t, p.Step(3, 2, 5))
	assert.Equal(t, PhasePolling, p.Phase)

	// 6 > 5
	assert.True(t, p.Step(3, 2, 5))
	assert.Equal(t, PhaseDone, p.Phase)
	assert.Equal(t, OutcomeTimeout, p.Outcome)

	// nothing happens after done
	assert.False(t, p.Step(3, 0, 5))
	assert.Equal(t, OutcomeTimeout, p.Outcome)

	var ready Progress
	assert.True(t, ready.Step(2, 0, 5))
	assert.Equal(t, OutcomeReady, ready.Outcome)
}

func TestStepEmptyGroup(t *testing.T) {
	var p Progress

	// nobody has joined yet: keep waiting, free of charge
	for i := 0; i < 100; i++ {
		assert.False(t, p.Step(0, 0, 5))
	}
	assert.Equal(t, PhasePolling, p.Phase)
	assert.Equal(t, OutcomeNone, p.Outcome)
	assert.Equal(t, 0, p.Retries)

	assert.True(t, p.Step(1, 0, 5))
	assert.Equal(t, OutcomeReady, p.Outcome)
}

func TestWaitsForPlayers(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.warmup.Start())

	f.clock.Advance(5 * time.Second)
	assert.Equal(t, PhasePolling, f.warmup.Progress().Phase)
	assert.Equal(t, []string{TASK_NAME}, f.session.Tasks.Names())

	alice, _ := f.join("alice")
	alice.SetReady(true)
	f.clock.Advance(100 * time.Millisecond)

	assert.Equal(t, OutcomeReady, f.warmup.Progress().Outcome)
	assert.False(t, f.session.Tasks.IsScheduled(TASK_NAME))
	assert.True(t, f.session.Tasks.IsScheduled(tick.TASK_NAME))
}

func TestExactThresholdKeepsPolling(t *testing.T) {
	var p Progress
	assert.False(t, p.Step(30, 30, 30))
	assert.True(t, p.Step(30, 1, 30))
	assert.Equal(t, OutcomeTimeout, p.Outcome)
}

func TestTimeout(t *testing.T) {
	f := newFixture(t)
	var conns []*mockConn
	for _, name := range []string{"a", "b", "c"} {
		_, conn := f.join(name)
		conns = append(conns, conn)
	}

	require.NoError(t, f.warmup.Start())
	tasks := f.session.Tasks

	// not done on the first poll
	f.clock.Advance(0)
	assert.Equal(t, PhasePolling, f.warmup.Progress().Phase)
	assert.True(t, tasks.IsScheduled(TASK_NAME))
	assert.False(t, tasks.IsScheduled(tick.TASK_NAME))

	f.clock.Advance(3100 * time.Millisecond)

	progress := f.warmup.Progress()
	assert.Equal(t, PhaseDone, progress.Phase)
	assert.Equal(t, OutcomeTimeout, progress.Outcome)
	assert.Greater(t, progress.Retries, DEFAULT_MAX_RETRIES)

	assert.Equal(t, []string{tick.TASK_NAME}, tasks.Names())

	notice := f.locale.Localize(MESSAGE_TIMEOUT)
	for _, conn := range conns {
		assert.Equal(t, []string{notice}, conn.chat(t))
		assert.NotZero(t, conn.count(t, protocol.Tick))
	}
}

func TestAllReady(t *testing.T) {
	f := newFixture(t)
	alice, conn := f.join("alice")
	bob, _ := f.join("bob")
	alice.SetReady(true)

	require.NoError(t, f.warmup.Start())
	f.clock.Advance(500 * time.Millisecond)
	assert.Equal(t, PhasePolling, f.warmup.Progress().Phase)
	assert.Equal(t, 6, f.warmup.Progress().Retries)

	bob.SetReady(true)
	f.clock.Advance(100 * time.Millisecond)

	progress := f.warmup.Progress()
	assert.Equal(t, OutcomeReady, progress.Outcome)
	assert.False(t, f.session.Tasks.IsScheduled(TASK_NAME))
	assert.True(t, f.session.Tasks.IsScheduled(tick.TASK_NAME))

	assert.Equal(t, []string{f.locale.Localize(MESSAGE_READY)}, conn.chat(t))
	assert.Equal(t, 1, conn.count(t, protocol.Tick))
}

func TestSinglePollAfterDone(t *testing.T) {
	f := newFixture(t)
	alice, conn := f.join("alice")
	bob, _ := f.join("bob")
	alice.SetReady(true)
	bob.SetReady(true)

	require.NoError(t, f.warmup.Start())
	f.clock.Advance(0)

	// a stray poll after the handoff announces nothing and starts nothing
	require.NoError(t, f.warmup.Poll(context.Background()))
	assert.Len(t, conn.chat(t), 1)
	assert.Equal(t, []string{tick.TASK_NAME}, f.session.Tasks.Names())
}
