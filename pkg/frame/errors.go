package frame

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrIdentifierRange    = errors.New("identifier out of range")
	ErrStandardIdentifier = errors.New("11-bit identifier is not a J1939 identifier")
	ErrDataLength         = errors.New("data longer than 8 bytes")
	ErrMalformedLine      = errors.New("malformed candump line")
)

// DecodeError is returned for frames that cannot be interpreted. The frame is
// dropped, nothing else is affected.
type DecodeError struct {
	Identifier uint32
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("frame 0x%08X: %v", e.Identifier, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
