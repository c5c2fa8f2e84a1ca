package goj1939

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// EventType is the severity of an adapter event.
type EventType int

const (
	EventTypeError EventType = iota
	EventTypeWarning
	EventTypeInfo
	EventTypeDebug
)

// Level maps the event type onto the logger's levels. Unknown types log at
// debug.
func (et EventType) Level() zerolog.Level {
	switch et {
	case EventTypeError:
		return zerolog.ErrorLevel
	case EventTypeWarning:
		return zerolog.WarnLevel
	case EventTypeInfo:
		return zerolog.InfoLevel
	}
	return zerolog.DebugLevel
}

func (et EventType) String() string {
	if et < EventTypeError || et > EventTypeDebug {
		return "UNKNOWN"
	}
	return strings.ToUpper(et.Level().String())
}

// Event is an out of band report from an adapter, such as a line of a replay
// file that could not be parsed.
type Event struct {
	Adapter string
	Time    time.Time
	Type    EventType
	Details string
}

func (e Event) String() string {
	return fmt.Sprintf("%s [%s] %s: %s", e.Time.Format("15:04:05.000"), e.Type, e.Adapter, e.Details)
}
