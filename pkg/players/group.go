package players

import (
	"errors"
	"fmt"

	"github.com/cfoust/lockstep/pkg/i18n"
	"github.com/cfoust/lockstep/pkg/protocol"

	"github.com/repeale/fp-go"
	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
)

// Group is the set of connected players. Membership may change while a
// broadcast is in progress; iteration always walks a snapshot.
type Group struct {
	players []*Player
	nextID  uint32
	mutex   deadlock.RWMutex
}

func NewGroup() *Group {
	return &Group{}
}

func (g *Group) Add(name string, team int, conn Connection, locale i18n.Localizer) *Player {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	p := NewPlayer(g.nextID, name, team, conn, locale)
	g.nextID++
	g.players = append(g.players, p)
	return p
}

// Remove reports whether p was a member.
func (g *Group) Remove(p *Player) bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	before := len(g.players)
	g.players = fp.Filter(func(other *Player) bool { return other != p })(g.players)
	return len(g.players) != before
}

// Clear empties the group and returns who was in it.
func (g *Group) Clear() []*Player {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	removed := g.players
	g.players = nil
	return removed
}

func (g *Group) Size() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.players)
}

func (g *Group) Snapshot() []*Player {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	snapshot := make([]*Player, len(g.players))
	copy(snapshot, g.players)
	return snapshot
}

func (g *Group) Each(do func(p *Player)) {
	for _, p := range g.Snapshot() {
		do(p)
	}
}

func (g *Group) EachWhere(where func(p *Player) bool, do func(p *Player)) {
	for _, p := range g.Snapshot() {
		if where(p) {
			do(p)
		}
	}
}

func (g *Group) Find(where func(p *Player) bool) *Player {
	for _, p := range g.Snapshot() {
		if where(p) {
			return p
		}
	}
	return nil
}

func (g *Group) FindByName(name string) *Player {
	return g.Find(func(p *Player) bool { return p.Name == name })
}

func OnTeam(team int) func(p *Player) bool {
	return func(p *Player) bool {
		return p.Team == team
	}
}

// Broadcast sends packet to every player. A failed send is logged and does
// not stop the others; all failures are returned together.
func (g *Group) Broadcast(packet protocol.Packet) error {
	return g.BroadcastWhere(nil, packet)
}

// BroadcastWhere is Broadcast restricted to players matching where. A nil
// filter matches everyone.
func (g *Group) BroadcastWhere(where func(p *Player) bool, packet protocol.Packet) error {
	var errs []error
	for _, p := range g.Snapshot() {
		if where != nil && !where(p) {
			continue
		}

		if err := p.Send(packet); err != nil {
			log.Error().Err(err).
				Str("player", p.Name).
				Stringer("packet", packet.Type).
				Msg("failed to send packet")
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func (g *Group) Roster() []protocol.RosterEntry {
	return fp.Map[*Player, protocol.RosterEntry](func(p *Player) protocol.RosterEntry {
		return protocol.RosterEntry{
			ID:    p.ID,
			Name:  p.Name,
			Team:  p.Team,
			Ready: p.Ready(),
		}
	})(g.Snapshot())
}

// NumReady counts players whose ready flag is set.
func (g *Group) NumReady() (n int) {
	g.Each(func(p *Player) {
		if p.Ready() {
			n++
		}
	})
	return
}
