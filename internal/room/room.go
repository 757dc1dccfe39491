// Package room implements the per-room membership, configuration, and
// lifecycle-phase data model (§3, §4.D).
package room

import (
	"fmt"
	"sync"
	"time"
)

const (
	MinRoundCount        = 1
	MaxRoundCount        = 20
	MinRoundDurationSecs = 10
	MaxRoundDurationSecs = 600
	MinMaxPlayers        = 2
	MaxMaxPlayers        = 8

	// CodeAlphabet is the ambiguity-free character set RoomCodes are drawn
	// from (§3): no 0/O/1/I.
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength   = 6
)

// Config is a room's resolved, validated configuration (§3).
type Config struct {
	GameID            string
	RoundCount        int
	RoundDurationSecs int
	MaxPlayers        int
	SettingsBlob      []byte
}

// NewConfig validates field ranges per §3, returning ErrInvalidConfig
// wrapped with the offending field on failure.
func NewConfig(gameID string, roundCount, roundDurationSecs, maxPlayers int, settings []byte) (Config, error) {
	if roundCount < MinRoundCount || roundCount > MaxRoundCount {
		return Config{}, fmt.Errorf("%w: round_count %d", ErrInvalidConfig, roundCount)
	}
	if roundDurationSecs < MinRoundDurationSecs || roundDurationSecs > MaxRoundDurationSecs {
		return Config{}, fmt.Errorf("%w: round_duration_secs %d", ErrInvalidConfig, roundDurationSecs)
	}
	if maxPlayers < MinMaxPlayers || maxPlayers > MaxMaxPlayers {
		return Config{}, fmt.Errorf("%w: max_players %d", ErrInvalidConfig, maxPlayers)
	}
	return Config{
		GameID:            gameID,
		RoundCount:        roundCount,
		RoundDurationSecs: roundDurationSecs,
		MaxPlayers:        maxPlayers,
		SettingsBlob:      settings,
	}, nil
}

// RoundTracker accumulates per-round and cumulative scores (§3).
type RoundTracker struct {
	RoundIndex int
	Scores     map[PlayerID]int32 // cumulative
}

func newRoundTracker() *RoundTracker {
	return &RoundTracker{Scores: make(map[PlayerID]int32)}
}

// Room is one multiplayer lobby/game instance (§3). All mutating methods
// acquire Room's own lock; the room manager never holds a global lock
// while calling into a Room (§4.G).
type Room struct {
	mu sync.Mutex

	Code         string
	Phase        Phase
	Config       Config
	Host         PlayerID
	RoundTracker *RoundTracker

	members      []PlayerID // join order
	byID         map[PlayerID]*Player
	nextPlayerID PlayerID

	ipCounts map[string]int

	lastActivity time.Time
	startingAt   time.Time // Starting phase entry time, for the 3s holding window
}

// NewRoom constructs a room in Lobby phase with PlayerID=1 as host.
func NewRoom(code string, cfg Config, hostName string, hostColor RGB, hostIP string) (*Room, *Player, error) {
	token, err := NewSessionToken()
	if err != nil {
		return nil, nil, err
	}

	r := &Room{
		Code:         code,
		Phase:        PhaseLobby,
		Config:       cfg,
		byID:         make(map[PlayerID]*Player),
		ipCounts:     make(map[string]int),
		RoundTracker: newRoundTracker(),
		lastActivity: time.Now(),
	}
	host := &Player{
		ID:           1,
		Name:         SanitizeName(hostName),
		Color:        hostColor,
		IsHost:       true,
		SessionToken: token,
		RemoteIP:     hostIP,
		connected:    true,
	}
	r.nextPlayerID = 2
	r.members = append(r.members, host.ID)
	r.byID[host.ID] = host
	r.Host = host.ID
	r.ipCounts[hostIP]++
	return r, host, nil
}

// Touch records activity, resetting the idle-grace timer (invariant iii).
func (r *Room) Touch() {
	r.mu.Lock()
	r.lastActivity = time.Now()
	r.mu.Unlock()
}

// IdleFor reports how long it has been since the room's last recorded
// activity (a join, leave, disconnect, reconnect or phase change). The idle
// sweep pairs it with HumanCount to find rooms with no connected humans.
func (r *Room) IdleFor(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return now.Sub(r.lastActivity)
}

// HumanCount returns the number of non-bot members currently connected.
func (r *Room) HumanCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range r.members {
		p := r.byID[id]
		if !p.IsBot && p.connected {
			n++
		}
	}
	return n
}

// activeCountLocked counts non-spectator, non-bot members. Caller holds mu.
func (r *Room) activeCountLocked() int {
	n := 0
	for _, id := range r.members {
		if p := r.byID[id]; !p.IsSpectator && !p.IsBot {
			n++
		}
	}
	return n
}

// FindByToken looks up a member by session token, for reconnect (§4.F).
func (r *Room) FindByToken(token string) (*Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.members {
		p := r.byID[id]
		if p.SessionToken == token && token != "" {
			return p, true
		}
	}
	return nil, false
}

// FindByNormalizedName looks up a member whose normalized name matches,
// for NameInUse detection (§4.G).
func (r *Room) FindByNormalizedName(normalized string) (*Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.members {
		p := r.byID[id]
		if NormalizeName(p.Name) == normalized {
			return p, true
		}
	}
	return nil, false
}

// AddMember adds a new player. In Lobby, joins active (subject to
// max_players); in Starting/InGame/BetweenRounds, joins as a spectator
// (§4.G). Reconnection (matching SessionToken) is handled separately by
// the caller via FindByToken + Reconnect.
func (r *Room) AddMember(name string, color RGB, ip string) (*Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	spectator := r.Phase != PhaseLobby
	if !spectator && r.activeCountLocked() >= r.Config.MaxPlayers {
		return nil, ErrRoomFull
	}

	token, err := NewSessionToken()
	if err != nil {
		return nil, err
	}

	p := &Player{
		ID:           r.nextPlayerID,
		Name:         SanitizeName(name),
		Color:        color,
		IsSpectator:  spectator,
		SessionToken: token,
		RemoteIP:     ip,
		connected:    true,
	}
	r.nextPlayerID++
	r.members = append(r.members, p.ID)
	r.byID[p.ID] = p
	r.ipCounts[ip]++
	r.lastActivity = time.Now()
	return p, nil
}

// Reconnect reattaches a disconnected member to a live session, replacing
// its SessionToken with a fresh one.
func (r *Room) Reconnect(id PlayerID) (*Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	token, err := NewSessionToken()
	if err != nil {
		return nil, err
	}
	p.connected = true
	p.SessionToken = token
	r.lastActivity = time.Now()
	return p, nil
}

// MarkDisconnected flags a member as disconnected without removing it,
// preserving its seat for the reconnect TTL (§4.F).
func (r *Room) MarkDisconnected(id PlayerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok {
		p.connected = false
	}
	r.lastActivity = time.Now()
}

// RemoveMember permanently removes a player (e.g. after the reconnect TTL
// expires). Returns whether the removed player was host.
func (r *Room) RemoveMember(id PlayerID) (wasHost bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return false, ErrPlayerNotFound
	}
	for i, mid := range r.members {
		if mid == id {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}
	delete(r.byID, id)
	if p.RemoteIP != "" {
		r.ipCounts[p.RemoteIP]--
		if r.ipCounts[p.RemoteIP] <= 0 {
			delete(r.ipCounts, p.RemoteIP)
		}
	}
	r.lastActivity = time.Now()
	return id == r.Host, nil
}

// MigrateHost promotes the longest-connected active (non-spectator,
// non-bot) player to host. Returns ok=false if no eligible player exists.
func (r *Room) MigrateHost() (*Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.members {
		p := r.byID[id]
		if p.connected && !p.IsSpectator && !p.IsBot && id != r.Host {
			for _, old := range r.members {
				r.byID[old].IsHost = false
			}
			p.IsHost = true
			r.Host = p.ID
			return p, true
		}
	}
	return nil, false
}

// Members returns a stable snapshot of members in join order.
func (r *Room) Members() []Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Player, 0, len(r.members))
	for _, id := range r.members {
		out = append(out, *r.byID[id])
	}
	return out
}

// Get returns a copy of a member by ID.
func (r *Room) Get(id PlayerID) (Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// Transition applies a phase transition per §4.D, rejecting illegal ones
// with ErrInvalidPhase rather than silently ignoring them (invariant v).
func (r *Room) Transition(trigger Trigger, roundsRemaining bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, ok := nextPhase(r.Phase, trigger, roundsRemaining)
	if !ok {
		return ErrInvalidPhase
	}
	if next == PhaseStarting {
		r.startingAt = time.Now()
	}
	r.Phase = next
	r.lastActivity = time.Now()
	return nil
}

// CurrentPhase returns the room's phase under lock.
func (r *Room) CurrentPhase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Phase
}

// StartingElapsed reports how long the room has held Starting phase, used
// to drive the default-3s holding window before transitioning to InGame.
func (r *Room) StartingElapsed(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startingAt.IsZero() {
		return 0
	}
	return now.Sub(r.startingAt)
}
