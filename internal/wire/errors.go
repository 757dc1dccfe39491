package wire

import "fmt"

// DecodeError distinguishes the three ways a frame can fail to decode
// (§4.A, §7 protocol errors): an unrecognized type tag, a body that is not
// well-formed MessagePack, or an array whose length is below the message's
// minimum field count.
type DecodeError struct {
	Kind string // "InvalidFrame" | "PayloadDecode" | "FieldCount"
	Tag  Tag
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: tag=%s: %v", e.Kind, e.Tag, e.Err)
	}
	return fmt.Sprintf("%s: tag=%s", e.Kind, e.Tag)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func errInvalidFrame(tag Tag) error {
	return &DecodeError{Kind: "InvalidFrame", Tag: tag}
}

func errPayloadDecode(tag Tag, err error) error {
	return &DecodeError{Kind: "PayloadDecode", Tag: tag, Err: err}
}

func errFieldCount(tag Tag, err error) error {
	return &DecodeError{Kind: "FieldCount", Tag: tag, Err: err}
}
