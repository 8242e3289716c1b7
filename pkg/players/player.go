package players

import (
	"fmt"
	"sync/atomic"

	"github.com/cfoust/lockstep/pkg/i18n"
	"github.com/cfoust/lockstep/pkg/protocol"
)

// Connection is the transport side of a player.
type Connection interface {
	Send(packet protocol.Packet) error
	Disconnect()
	Ping()
}

// Player is a connected client. Name, Team, Conn and Locale are set on join
// and not changed afterwards; the ready flag is written by the connection and
// read by the warm-up task.
type Player struct {
	ID     uint32
	Name   string
	Team   int
	Conn   Connection
	Locale i18n.Localizer

	ready atomic.Bool
}

func NewPlayer(id uint32, name string, team int, conn Connection, locale i18n.Localizer) *Player {
	return &Player{
		ID:     id,
		Name:   name,
		Team:   team,
		Conn:   conn,
		Locale: locale,
	}
}

func (p *Player) String() string {
	return fmt.Sprintf("%s (%d)", p.Name, p.ID)
}

func (p *Player) Ready() bool {
	return p.ready.Load()
}

func (p *Player) SetReady(ready bool) {
	p.ready.Store(ready)
}

func (p *Player) Send(packet protocol.Packet) error {
	return p.Conn.Send(packet)
}

func (p *Player) Localize(key string, args ...interface{}) string {
	if p.Locale == nil {
		format := key
		if len(args) == 0 {
			return format
		}
		return fmt.Sprintf(format, args...)
	}
	return p.Locale.Localize(key, args...)
}
