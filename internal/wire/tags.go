// Package wire implements the Breakpoint binary frame codec (§4.A): byte 0
// is a one-byte message type tag, bytes 1..N are a MessagePack value.
// Struct-shaped payloads encode as MessagePack arrays in declared field
// order, never as maps, to keep field names off the wire.
package wire

import "fmt"

// Tag is the one-byte message type discriminant occupying frame byte 0.
type Tag byte

const (
	TagPlayerInput       Tag = 0x01
	TagJoinRoom          Tag = 0x02
	TagLeaveRoom         Tag = 0x03
	TagClaimAlert        Tag = 0x04
	TagChatMessage       Tag = 0x05
	TagJoinRoomResponse  Tag = 0x06
	TagRateLimited       Tag = 0x07

	TagGameState Tag = 0x10
	TagPlayerList Tag = 0x11
	TagRoomConfig Tag = 0x12
	TagGameStart  Tag = 0x13
	TagRoundEnd   Tag = 0x14
	TagGameEnd    Tag = 0x15

	TagAlertEvent      Tag = 0x20
	TagAlertClaimed    Tag = 0x21
	TagAlertDismissed  Tag = 0x22
	TagOverlayConfig   Tag = 0x23
)

// String names a tag for logging; unknown tags render as their hex value.
func (t Tag) String() string {
	switch t {
	case TagPlayerInput:
		return "PlayerInput"
	case TagJoinRoom:
		return "JoinRoom"
	case TagLeaveRoom:
		return "LeaveRoom"
	case TagClaimAlert:
		return "ClaimAlert"
	case TagChatMessage:
		return "ChatMessage"
	case TagJoinRoomResponse:
		return "JoinRoomResponse"
	case TagRateLimited:
		return "RateLimited"
	case TagGameState:
		return "GameState"
	case TagPlayerList:
		return "PlayerList"
	case TagRoomConfig:
		return "RoomConfig"
	case TagGameStart:
		return "GameStart"
	case TagRoundEnd:
		return "RoundEnd"
	case TagGameEnd:
		return "GameEnd"
	case TagAlertEvent:
		return "AlertEvent"
	case TagAlertClaimed:
		return "AlertClaimed"
	case TagAlertDismissed:
		return "AlertDismissed"
	case TagOverlayConfig:
		return "OverlayConfig"
	default:
		return fmt.Sprintf("0x%02X", byte(t))
	}
}
