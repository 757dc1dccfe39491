package wire

// RGB is a 24-bit color, encoded on the wire as a 3-element array of u8
// per §6 ("PlayerColor encodes as a 3-element array [r,g,b] of u8").
type RGB [3]uint8

// PlayerInfo is the positional shape used inside PlayerList and GameStart.
type PlayerInfo struct {
	_msgpack    struct{} `msgpack:",as_array"`
	PlayerID    uint32
	Name        string
	Color       RGB
	IsHost      bool
	IsSpectator bool
}

// ScoreEntry pairs a player with a score, used in RoundEnd and GameEnd.
type ScoreEntry struct {
	_msgpack struct{} `msgpack:",as_array"`
	PlayerID uint32
	Score    int32
}

// RoomConfigPayload mirrors the room's resolved configuration (§3).
type RoomConfigPayload struct {
	_msgpack          struct{} `msgpack:",as_array"`
	RoundCount        int
	RoundDurationSecs int
	MaxPlayers        int
	SettingsBlob      []byte
}

// --- Client -> Server ---

// PlayerInput (0x01).
type PlayerInput struct {
	_msgpack  struct{} `msgpack:",as_array"`
	PlayerID  uint32
	Tick      uint64
	InputBytes []byte
}

// JoinRoom (0x02). SessionToken is empty for a fresh join, non-empty for
// a reconnect attempt.
type JoinRoom struct {
	_msgpack     struct{} `msgpack:",as_array"`
	RoomCode     string
	PlayerName   string
	Color        RGB
	SessionToken string
}

// LeaveRoom (0x03).
type LeaveRoom struct {
	_msgpack struct{} `msgpack:",as_array"`
	PlayerID uint32
}

// ClaimAlert (0x04).
type ClaimAlert struct {
	_msgpack struct{} `msgpack:",as_array"`
	EventID  string
}

// ChatMessage (0x05). Text is truncated by the caller to 200 runes before
// encoding; the codec itself does not enforce the limit.
type ChatMessage struct {
	_msgpack struct{} `msgpack:",as_array"`
	PlayerID uint32
	Text     string
}

// --- Server -> Client ---

// RateLimited (0x07) notifies the client that a PlayerInput frame was
// dropped by the per-session token bucket.
type RateLimited struct {
	_msgpack struct{} `msgpack:",as_array"`
	RetryAfterMillis uint32
}

// JoinRoomResponse (0x06). Error is empty on success.
type JoinRoomResponse struct {
	_msgpack     struct{} `msgpack:",as_array"`
	Success      bool
	PlayerID     uint32
	RoomCode     string
	RoomState    RoomConfigPayload
	SessionToken string
	Error        string
}

// GameState (0x10).
type GameState struct {
	_msgpack   struct{} `msgpack:",as_array"`
	Tick       uint64
	StateBytes []byte
}

// PlayerList (0x11).
type PlayerList struct {
	_msgpack struct{} `msgpack:",as_array"`
	Players  []PlayerInfo
	HostID   uint32
}

// RoomConfig (0x12).
type RoomConfig struct {
	_msgpack struct{} `msgpack:",as_array"`
	Config   RoomConfigPayload
}

// GameStart (0x13).
type GameStart struct {
	_msgpack struct{} `msgpack:",as_array"`
	GameName string
	Players  []PlayerInfo
	HostID   uint32
}

// RoundEnd (0x14). NextRoundIndex is nil when the game is over.
type RoundEnd struct {
	_msgpack       struct{} `msgpack:",as_array"`
	Scores         []ScoreEntry
	NextRoundIndex *uint32
}

// GameEnd (0x15). Reason is empty for a normal game-over transition and
// "internal_error" when a panic in the room's game loop forced the end
// (§7's supervision policy).
type GameEnd struct {
	_msgpack    struct{} `msgpack:",as_array"`
	FinalScores []ScoreEntry
	Reason      string
}

// AlertEvent (0x20) carries the full stored event.
type AlertEvent struct {
	_msgpack        struct{} `msgpack:",as_array"`
	ID              string
	EventType       string
	Source          string
	Priority        uint8
	Title           string
	Body            string
	TimestampMillis uint64
	URL             string
	Actor           string
	Tags            []string
	ActionRequired  bool
	GroupKey        string
	ExpiresAtMillis uint64 // 0 means unset
	Metadata        map[string]string
	ClaimedBy       string
	ClaimedAtMillis uint64 // 0 means unclaimed
}

// AlertClaimed (0x21).
type AlertClaimed struct {
	_msgpack        struct{} `msgpack:",as_array"`
	EventID         string
	ClaimedBy       string
	ClaimedAtMillis uint64
}

// AlertDismissed (0x22).
type AlertDismissed struct {
	_msgpack struct{} `msgpack:",as_array"`
	EventID  string
	Reason   string
}

// OverlayConfig (0x23).
type OverlayConfig struct {
	_msgpack     struct{} `msgpack:",as_array"`
	Position     string
	MaxVisible   int
	MutedSources []string
}
