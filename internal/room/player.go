package room

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/rivo/uniseg"
)

// MaxNameGraphemes is the display name length limit (§3 "Player").
const MaxNameGraphemes = 32

// RGB is a 24-bit player color, kept independent of the wire package's
// equivalent type so the domain model does not import the transport layer.
type RGB [3]uint8

// PlayerID is room-unique and stable across reconnects (§3). It is never
// reused within a room's lifetime (invariant iv): Room.nextPlayerID only
// increments.
type PlayerID uint32

// Player is one room member (§3).
type Player struct {
	ID           PlayerID
	Name         string
	Color        RGB
	IsHost       bool
	IsSpectator  bool
	IsBot        bool
	SessionToken string
	RemoteIP     string

	connected bool
}

// Connected reports whether the player currently has a live WS session.
// A disconnected active player still occupies its seat during the
// reconnect TTL (§4.F).
func (p *Player) Connected() bool { return p.connected }

// SanitizeName truncates raw to MaxNameGraphemes grapheme clusters and
// trims surrounding whitespace, matching §3's "display name (≤32
// graphemes, sanitized)".
func SanitizeName(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "Player"
	}
	if uniseg.GraphemeClusterCount(trimmed) <= MaxNameGraphemes {
		return trimmed
	}

	var b strings.Builder
	gr := uniseg.NewGraphemes(trimmed)
	for n := 0; n < MaxNameGraphemes && gr.Next(); n++ {
		b.WriteString(gr.Str())
	}
	return b.String()
}

// NormalizeName is the comparison key used for NameInUse detection (§4.G):
// case-folded, whitespace-collapsed.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// NewSessionToken generates an opaque 128-bit reconnect token (§3).
func NewSessionToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
