package protocol

import (
	"fmt"
)

type PacketType int32

// Packet type numbers understood by game clients.
const (
	Tick           PacketType = 10
	GameCommand    PacketType = 20
	ServerInfo     PacketType = 106
	HeartBeat      PacketType = 108
	HeartBeatReply PacketType = 109
	Disconnect     PacketType = 111
	TeamList       PacketType = 115
	ChatReceive    PacketType = 140
	Chat           PacketType = 141
	Kick           PacketType = 150
	NotResolved    PacketType = -1
)

var packetTypeNames = map[PacketType]string{
	Tick:           "TICK",
	GameCommand:    "GAMECOMMAND_RECEIVE",
	ServerInfo:     "SERVER_INFO",
	HeartBeat:      "HEART_BEAT",
	HeartBeatReply: "HEART_BEAT_RESPONSE",
	Disconnect:     "DISCONNECT",
	TeamList:       "TEAM_LIST",
	ChatReceive:    "CHAT_RECEIVE",
	Chat:           "CHAT",
	Kick:           "KICK",
}

func (t PacketType) String() string {
	if name, ok := packetTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PacketType(%d)", int32(t))
}

// Packet is a serialized message ready to be written to a connection.
type Packet struct {
	Type PacketType
	Data []byte
}

func (p Packet) Len() int {
	return len(p.Data)
}

func (p Packet) String() string {
	return fmt.Sprintf("%s (%d bytes)", p.Type, len(p.Data))
}

// CompressedPacket is a packet whose payload is gzip compressed. RawLength is
// the size of the payload before compression.
type CompressedPacket struct {
	Packet
	RawLength int
}

// RosterEntry describes one player in a team list.
type RosterEntry struct {
	ID    uint32 `cbor:"id"`
	Name  string `cbor:"name"`
	Team  int    `cbor:"team"`
	Ready bool   `cbor:"ready"`
}
