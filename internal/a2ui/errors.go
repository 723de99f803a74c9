package a2ui

import (
	"errors"
	"strings"
)

// ErrProtocol matches every *ValidationError via errors.Is.
var ErrProtocol = errors.New("a2ui: protocol validation failed")

// ValidationError is a malformed or out-of-order UI message. A turn that
// produces one is rejected whole.
type ValidationError struct {
	SurfaceID   string
	ComponentID string
	Reason      string
	Err         error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("a2ui: ")
	if e.SurfaceID != "" {
		b.WriteString("surface ")
		b.WriteString(e.SurfaceID)
		b.WriteString(": ")
	}
	if e.ComponentID != "" {
		b.WriteString("component ")
		b.WriteString(e.ComponentID)
		b.WriteString(": ")
	}
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrProtocol }
