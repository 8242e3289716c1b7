package messaging

import (
	"errors"

	"github.com/cfoust/lockstep/pkg/players"
	"github.com/cfoust/lockstep/pkg/protocol"

	"github.com/rs/zerolog/log"
)

const TEAM_PREFIX = "[TEAM] "

// ReconnectFlag is read to suppress team data while a player reconnects.
type ReconnectFlag interface {
	Reconnecting() bool
}

// Messenger sends chat, system and control messages to the player group.
type Messenger struct {
	players *players.Group
	builder protocol.Builder
	flags   ReconnectFlag
}

func New(group *players.Group, builder protocol.Builder, flags ReconnectFlag) *Messenger {
	return &Messenger{
		players: group,
		builder: builder,
		flags:   flags,
	}
}

// SendChat relays a chat line from sender to everyone.
func (m *Messenger) SendChat(sender *players.Player, text string) error {
	err := m.players.Broadcast(m.builder.Chat(text, sender.Name, sender.Team))
	if err != nil {
		log.Error().Err(err).Msg("[ALL] send player chat error")
	}
	return err
}

// SendChatLocal sends a chat line attributed to sender, formatted in each
// recipient's own locale.
func (m *Messenger) SendChatLocal(sender *players.Player, key string, args ...interface{}) error {
	var errs []error
	m.players.Each(func(p *players.Player) {
		text := p.Localize(key, args...)
		if err := p.Send(m.builder.Chat(text, sender.Name, sender.Team)); err != nil {
			log.Error().Err(err).Str("player", p.Name).Msg("failed to send chat")
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// SendTeamChat relays a chat line to sender's team only.
func (m *Messenger) SendTeamChat(sender *players.Player, text string) error {
	packet := m.builder.Chat(TEAM_PREFIX+text, sender.Name, sender.Team)
	return m.players.BroadcastWhere(players.OnTeam(sender.Team), packet)
}

func (m *Messenger) SendSystemMessage(text string) error {
	err := m.players.Broadcast(m.builder.SystemMessage(text))
	if err != nil {
		log.Error().Err(err).Msg("[ALL] send system chat error")
	}
	return err
}

// SendSystemMessageLocal sends a system message formatted separately for
// each recipient, so the text differs per locale.
func (m *Messenger) SendSystemMessageLocal(key string, args ...interface{}) error {
	return m.sendLocal(nil, "", key, args...)
}

func (m *Messenger) SendSystemTeamMessageLocal(team int, key string, args ...interface{}) error {
	return m.sendLocal(players.OnTeam(team), TEAM_PREFIX, key, args...)
}

func (m *Messenger) sendLocal(where func(*players.Player) bool, prefix, key string, args ...interface{}) error {
	var errs []error
	m.players.Each(func(p *players.Player) {
		if where != nil && !where(p) {
			return
		}

		text := prefix + p.Localize(key, args...)
		if err := p.Send(m.builder.SystemMessage(text)); err != nil {
			log.Error().Err(err).Str("player", p.Name).Msg("failed to send system message")
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// SendTeamData pushes the compressed team list to everyone. Nothing is sent
// while a reconnect is in progress.
func (m *Messenger) SendTeamData() error {
	if m.flags != nil && m.flags.Reconnecting() {
		return nil
	}

	packet := m.builder.TeamData(m.players.Roster())
	err := m.players.Broadcast(packet.Packet)
	if err != nil {
		log.Error().Err(err).Msg("[ALL] send team error")
	}
	return err
}

// KickAll sends a kick packet to every player. Closing the connections is
// left to the clients or a later DisconnectAll.
func (m *Messenger) KickAll(reason string) error {
	err := m.players.Broadcast(m.builder.Kick(reason))
	if err != nil {
		log.Error().Err(err).Msg("[ALL] kick all player error")
	}
	return err
}

// SendServerInfo greets a single player with the state of the game.
func (m *Messenger) SendServerInfo(p *players.Player, description string, time int32) error {
	err := p.Send(m.builder.ServerInfo(description, time, m.players.Size()))
	if err != nil {
		log.Error().Err(err).Str("player", p.Name).Msg("failed to send server info")
	}
	return err
}

func (m *Messenger) DisconnectAll() {
	m.players.Each(func(p *players.Player) {
		p.Conn.Disconnect()
	})
}

func (m *Messenger) PingAll() {
	m.players.Each(func(p *players.Player) {
		p.Conn.Ping()
	})
}
