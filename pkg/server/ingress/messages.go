package ingress

const (
	// Server -> client
	ServerConnectedOp int = iota
	ServerErrorOp
	// Client -> server
	ConnectOp
	CommandOp
	ReadyOp
	DisconnectOp
	// Server -> client, wraps a game packet
	PacketOp
	// Client -> server
	ReconnectOp
)

// The first message a client sends after the websocket opens.
type ConnectMessage struct {
	Op     int // ConnectOp
	Name   string
	Team   int
	Locale string
}

type ConnectedMessage struct {
	Op          int // ServerConnectedOp
	ID          uint32
	Description string
}

type ErrorMessage struct {
	Op      int // ServerErrorOp
	Message string
}

// A player command to relay with the next tick.
type CommandMessage struct {
	Op   int // CommandOp
	Data []byte
}

// Sent once the client has finished loading.
type ReadyMessage struct {
	Op    int // ReadyOp
	Ready bool
}

// Contains a packet built by the game.
type PacketMessage struct {
	Op     int // PacketOp
	Type   int32
	Data   []byte
	Length int
}

// Brackets a client catching back up after a reconnect. Simulation time is
// held until the client reports Done.
type ReconnectMessage struct {
	Op   int // ReconnectOp
	Done bool
}

type GenericMessage struct {
	Op int
}
