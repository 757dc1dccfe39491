package gameloop

import "github.com/breakpointhq/breakpoint/pkg/breakpointgame"

// CommandKind discriminates the in-band commands a Loop consumes at the
// top of each tick, never interleaved with Update (§4.E).
type CommandKind int

const (
	CommandPlayerJoined CommandKind = iota
	CommandPlayerLeft
	CommandPause
	CommandResume
	CommandForceEnd
)

// Command is one membership/control event delivered to a running Loop.
type Command struct {
	Kind   CommandKind
	Player breakpointgame.Player   // set for PlayerJoined
	ID     breakpointgame.PlayerID // set for PlayerLeft
}

// Input is one queued player input, delivered off the tick's hot path.
type Input struct {
	PlayerID breakpointgame.PlayerID
	Bytes    []byte
}
