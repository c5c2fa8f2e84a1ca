package goj1939

import (
	"fmt"

	"github.com/roffe/goj1939/pkg/decoder"
	"github.com/roffe/goj1939/pkg/frame"
	"github.com/roffe/goj1939/pkg/tp"
)

// Update is what subscribers receive: either a complete message with its
// decoded signals, or the abort of a transport session.
type Update struct {
	Network string
	Message *frame.Message
	Signals []decoder.Value
	// Err holds per-signal decode failures, see decoder.Errors.
	Err   error
	Abort *tp.Result
}

func (u *Update) PGN() uint32 {
	if u.Message != nil {
		return u.Message.PGN
	}
	if u.Abort != nil {
		return u.Abort.Key.PGN
	}
	return 0
}

func (u *Update) String() string {
	if u.Abort != nil {
		return fmt.Sprintf("%s abort %s: %s", u.Network, u.Abort.Key, u.Abort.Reason)
	}
	if u.Message == nil {
		return u.Network
	}
	return fmt.Sprintf("%s %s (%d signals)", u.Network, u.Message, len(u.Signals))
}
