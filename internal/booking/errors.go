package booking

import (
	"errors"
	"fmt"
	"time"

	"tradein/internal/availability"
	"tradein/internal/model"
)

var (
	// ErrTimeZoneConflict is returned when a timezone label travels with
	// an absolute timestamp. Exactly one representation is allowed.
	ErrTimeZoneConflict = errors.New("booking: timezone label supplied with an absolute timestamp")
	ErrInvalidAttendee  = errors.New("booking: invalid attendee")
	ErrInvalidInterval  = errors.New("booking: invalid slot interval")

	// ErrOutsideBusinessHours is the rules rejection seen by callers of Book.
	ErrOutsideBusinessHours = availability.ErrNotBookable
)

// WriteError wraps a failed or timed-out provider write.
type WriteError struct {
	CalendarID string
	Start      time.Time
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("booking: write to calendar %s at %s failed: %v", e.CalendarID, e.Start.Format(time.RFC3339), e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// StaleSlotError means the slot filled up between offer and booking.
type StaleSlotError struct {
	Start     time.Time
	End       time.Time
	Conflicts []model.CalendarEvent
}

func (e *StaleSlotError) Error() string {
	return fmt.Sprintf("booking: slot %s-%s is no longer free (%d conflicting events)",
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), len(e.Conflicts))
}
