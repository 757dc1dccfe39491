// Package wsconn implements the per-connection WebSocket session state
// machine (§4.F), grounded on the teacher's transport.Client
// readPump/writePump/priority-send pattern, generalized from protobuf
// framing to the Breakpoint wire codec and from video-conference roles to
// room membership/spectator state.
package wsconn

// State is a session's position in the Handshaking -> Joined ->
// (Spectating | Playing) -> Closing state machine (§4.F).
type State int

const (
	StateHandshaking State = iota
	StateJoined
	StateSpectating
	StatePlaying
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "Handshaking"
	case StateJoined:
		return "Joined"
	case StateSpectating:
		return "Spectating"
	case StatePlaying:
		return "Playing"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// Application-defined WebSocket close codes (private-use range 4000-4999
// per RFC 6455 §7.4.2), named per §4.F/§4.G.
const (
	CloseFirstFrameRequired = 4001
	CloseSlowReader         = 4002
	CloseRoomClosed         = 4003
	CloseRateLimitAbuse     = 4004
)
