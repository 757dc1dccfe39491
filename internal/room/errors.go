package room

import "errors"

var (
	// ErrInvalidPhase is returned when a transition is attempted that the
	// state machine in §4.D does not allow from the room's current phase.
	ErrInvalidPhase = errors.New("room: invalid phase transition")

	// ErrRoomFull is returned by AddMember when active players would
	// exceed max_players and the join does not qualify as a spectator.
	ErrRoomFull = errors.New("room: full")

	// ErrNameInUse is returned on an exact normalized-name collision.
	ErrNameInUse = errors.New("room: name in use")

	// ErrPlayerNotFound is returned for operations on an unknown PlayerID.
	ErrPlayerNotFound = errors.New("room: player not found")

	// ErrInvalidConfig is returned by NewConfig when a field is out of
	// the range declared in §3.
	ErrInvalidConfig = errors.New("room: invalid configuration")
)
