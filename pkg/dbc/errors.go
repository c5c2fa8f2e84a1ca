package dbc

import (
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	ErrParse        = errors.New("malformed definition file")
	ErrDuplicatePGN = errors.New("duplicate PGN")
	ErrOverlap      = errors.New("overlapping signals")
	ErrZeroScale    = errors.New("scale is 0")
	ErrSignalLength = errors.New("signal length outside 1..64")
	ErrSignalBounds = errors.New("signal exceeds message size")
	ErrSelfMerge    = errors.New("cannot merge a dictionary into itself")
)

// LoadError is returned when a dictionary cannot be built. Loading is atomic,
// no partial dictionary is ever returned.
type LoadError struct {
	File    string
	Message string
	Signal  string
	Err     error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("dbc ")
	b.WriteString(e.File)
	if e.Message != "" {
		b.WriteString(": message " + e.Message)
	}
	if e.Signal != "" {
		b.WriteString(": signal " + e.Signal)
	}
	b.WriteString(": " + e.Err.Error())
	return b.String()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
