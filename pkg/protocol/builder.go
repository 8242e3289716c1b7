package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/cfoust/lockstep/pkg/commands"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

// Builder turns logical messages into packets.
type Builder interface {
	Tick(time int32) Packet
	TickWithCommand(time int32, command commands.Command) Packet
	TickWithCommands(time int32, batch []commands.Command) Packet
	Chat(text, sender string, team int) Packet
	SystemMessage(text string) Packet
	TeamData(roster []RosterEntry) CompressedPacket
	Kick(reason string) Packet
	ServerInfo(description string, time int32, players int) Packet
}

// SystemTeam is the team number carried by server-originated chat.
const SystemTeam = -1

type TickMessage struct {
	Time     int32    `cbor:"time"`
	Count    int      `cbor:"count"`
	Commands [][]byte `cbor:"commands,omitempty"`
}

type ChatMessage struct {
	Text   string `cbor:"text"`
	Sender string `cbor:"sender,omitempty"`
	Team   int    `cbor:"team"`
}

type KickMessage struct {
	Reason string `cbor:"reason"`
}

// ServerInfoMessage greets a player that just joined.
type ServerInfoMessage struct {
	Description string `cbor:"description"`
	Time        int32  `cbor:"time"`
	Players     int    `cbor:"players"`
}

type TeamMessage struct {
	Players []RosterEntry `cbor:"players"`
}

// CBORBuilder encodes payloads as CBOR.
type CBORBuilder struct{}

var _ Builder = CBORBuilder{}

func NewBuilder() CBORBuilder {
	return CBORBuilder{}
}

// encode never fails; a payload that cannot be marshaled is logged and sent
// empty.
func encode(typ PacketType, payload interface{}) Packet {
	data, err := cbor.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Stringer("type", typ).Msg("failed to encode packet")
		data = nil
	}
	return Packet{
		Type: typ,
		Data: data,
	}
}

func (CBORBuilder) Tick(time int32) Packet {
	return encode(Tick, TickMessage{Time: time})
}

func (CBORBuilder) TickWithCommand(time int32, command commands.Command) Packet {
	return encode(Tick, TickMessage{
		Time:     time,
		Count:    1,
		Commands: [][]byte{command.Data},
	})
}

func (CBORBuilder) TickWithCommands(time int32, batch []commands.Command) Packet {
	data := make([][]byte, len(batch))
	for i, command := range batch {
		data[i] = command.Data
	}
	return encode(Tick, TickMessage{
		Time:     time,
		Count:    len(batch),
		Commands: data,
	})
}

func (CBORBuilder) Chat(text, sender string, team int) Packet {
	return encode(Chat, ChatMessage{
		Text:   text,
		Sender: sender,
		Team:   team,
	})
}

func (CBORBuilder) SystemMessage(text string) Packet {
	return encode(Chat, ChatMessage{
		Text: text,
		Team: SystemTeam,
	})
}

func (CBORBuilder) Kick(reason string) Packet {
	return encode(Kick, KickMessage{Reason: reason})
}

func (CBORBuilder) ServerInfo(description string, time int32, players int) Packet {
	return encode(ServerInfo, ServerInfoMessage{
		Description: description,
		Time:        time,
		Players:     players,
	})
}

func (CBORBuilder) TeamData(roster []RosterEntry) CompressedPacket {
	raw, err := cbor.Marshal(TeamMessage{Players: roster})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode team list")
		raw = nil
	}

	var buffer bytes.Buffer
	writer := gzip.NewWriter(&buffer)
	if _, err := writer.Write(raw); err != nil {
		log.Error().Err(err).Msg("failed to compress team list")
	}
	if err := writer.Close(); err != nil {
		log.Error().Err(err).Msg("failed to compress team list")
	}

	return CompressedPacket{
		Packet: Packet{
			Type: TeamList,
			Data: buffer.Bytes(),
		},
		RawLength: len(raw),
	}
}

func expect(p Packet, typ PacketType) error {
	if p.Type != typ {
		return fmt.Errorf("expected %s packet, got %s", typ, p.Type)
	}
	return nil
}

func DecodeTick(p Packet) (TickMessage, error) {
	var message TickMessage
	if err := expect(p, Tick); err != nil {
		return message, err
	}
	err := cbor.Unmarshal(p.Data, &message)
	return message, err
}

func DecodeChat(p Packet) (ChatMessage, error) {
	var message ChatMessage
	if err := expect(p, Chat); err != nil {
		return message, err
	}
	err := cbor.Unmarshal(p.Data, &message)
	return message, err
}

func DecodeKick(p Packet) (KickMessage, error) {
	var message KickMessage
	if err := expect(p, Kick); err != nil {
		return message, err
	}
	err := cbor.Unmarshal(p.Data, &message)
	return message, err
}

func DecodeServerInfo(p Packet) (ServerInfoMessage, error) {
	var message ServerInfoMessage
	if err := expect(p, ServerInfo); err != nil {
		return message, err
	}
	err := cbor.Unmarshal(p.Data, &message)
	return message, err
}

func DecodeTeamData(p Packet) (TeamMessage, error) {
	var message TeamMessage
	if err := expect(p, TeamList); err != nil {
		return message, err
	}

	reader, err := gzip.NewReader(bytes.NewReader(p.Data))
	if err != nil {
		return message, err
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return message, err
	}

	err = cbor.Unmarshal(raw, &message)
	return message, err
}
