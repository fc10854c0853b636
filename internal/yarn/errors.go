package yarn

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyDocument = errors.New("yarn document has no blocks")
	ErrMalformed     = errors.New("malformed block")
	ErrUnresolved    = errors.New("detour target unresolved")
	ErrCycle         = errors.New("detour cycle")
	ErrNoHandler     = errors.New("no handler for node type")
)

// ConversionError reports a problem with one node or block. Conversion
// continues past it with a stub in place of the affected part.
type ConversionError struct {
	GraphID string
	NodeID  string
	Line    int
	Err     error
}

func (e *ConversionError) Error() string {
	loc := e.NodeID
	if e.GraphID != "" {
		loc = e.GraphID + "/" + e.NodeID
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s (line %d): %v", loc, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", loc, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}
