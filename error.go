package goj1939

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrUnknownAdapter        = errors.New("unknown adapter")
	ErrNilAdapter            = errors.New("adapter is nil")
	ErrNoSource              = errors.New("replay adapter has no source")
	ErrDroppedFrame          = errors.New("adapter incoming channel full")
	ErrSendTimeout           = errors.New("timeout sending frame")
	ErrSendQueueFull         = errors.New("adapter send queue full")
	ErrResponseChannelClosed = errors.New("response channel closed")
)
