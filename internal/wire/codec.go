package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// minFields is the minimum MessagePack array length accepted for each tag's
// payload, used to reject truncated frames with FieldCount rather than
// silently zero-filling missing trailing fields.
var minFields = map[Tag]int{
	TagPlayerInput:      3,
	TagJoinRoom:         3, // session_token is optional and may be omitted as the trailing field
	TagLeaveRoom:        1,
	TagClaimAlert:       1,
	TagChatMessage:      2,
	TagJoinRoomResponse: 5,
	TagRateLimited:      1,
	TagGameState:        2,
	TagPlayerList:       2,
	TagRoomConfig:       1,
	TagGameStart:        3,
	TagRoundEnd:         1,
	TagGameEnd:          1,
	TagAlertEvent:       16,
	TagAlertClaimed:     3,
	TagAlertDismissed:   2,
	TagOverlayConfig:    3,
}

// Encode produces a complete frame: one tag byte followed by the
// MessagePack-array encoding of payload.
func Encode(tag Tag, payload any) ([]byte, error) {
	body, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: encode tag %s: %w", tag, err)
	}
	frame := make([]byte, 0, len(body)+1)
	frame = append(frame, byte(tag))
	frame = append(frame, body...)
	return frame, nil
}

// Decode splits a raw frame into its tag and body, validating that byte 0
// is a known tag and the body is well-formed MessagePack of at least the
// message's minimum array length. It does not decode the body into a
// typed struct; callers use DecodeInto (or one of the typed helpers below)
// once they know which tag they received.
func Decode(frame []byte) (Tag, []byte, error) {
	if len(frame) < 1 {
		return 0, nil, errInvalidFrame(0)
	}
	tag := Tag(frame[0])
	minLen, known := minFields[tag]
	if !known {
		return 0, nil, errInvalidFrame(tag)
	}
	body := frame[1:]

	var raw []msgpack.RawMessage
	if err := msgpack.Unmarshal(body, &raw); err != nil {
		return 0, nil, errPayloadDecode(tag, err)
	}
	if len(raw) < minLen {
		return 0, nil, errFieldCount(tag, fmt.Errorf("got %d fields, want at least %d", len(raw), minLen))
	}

	return tag, body, nil
}

// DecodeInto unmarshals a frame body (as returned by Decode) into a typed
// payload struct tagged `msgpack:",as_array"`.
func DecodeInto(tag Tag, body []byte, out any) error {
	if err := msgpack.Unmarshal(body, out); err != nil {
		return errPayloadDecode(tag, err)
	}
	return nil
}

// DecodeFrame is a convenience wrapper combining Decode and DecodeInto for
// callers that already know the expected tag (e.g. Handshaking sessions
// expecting only JoinRoom).
func DecodeFrame(frame []byte, expected Tag, out any) error {
	tag, body, err := Decode(frame)
	if err != nil {
		return err
	}
	if tag != expected {
		return errInvalidFrame(tag)
	}
	return DecodeInto(tag, body, out)
}
