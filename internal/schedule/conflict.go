// Package schedule classifies time slots for scheduled-booking conflicts.
package schedule

import (
	"errors"
	"time"
)

// Conflict is the result of comparing two time slots.
type Conflict string

const (
	// ConflictNone means the slots can both be served.
	ConflictNone Conflict = "NONE"
	// ConflictOverlap means the buffered intervals intersect.
	ConflictOverlap Conflict = "OVERLAP"
	// ConflictGapTooSmall means the slots do not overlap but the gap between
	// them is shorter than the required minimum.
	ConflictGapTooSmall Conflict = "GAP_TOO_SMALL"
)

// ErrInvalidTimestamp is returned when a slot timestamp cannot be parsed.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// Slot is a start time plus an expected duration.
type Slot struct {
	Start    time.Time
	Duration time.Duration
}

// ParseSlot builds a Slot from an RFC3339 timestamp and a duration in
// minutes. Malformed timestamps are rejected here so callers never coerce
// invalid dates into zero times.
func ParseSlot(start string, durationMin float64) (Slot, error) {
	t, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return Slot{}, ErrInvalidTimestamp
	}
	return Slot{Start: t, Duration: time.Duration(durationMin * float64(time.Minute))}, nil
}

// Classify compares two slots. Each slot's effective end is
// start + duration + buffer. Overlap means the effective intervals
// intersect; otherwise, a positive gap shorter than minGap reports
// ConflictGapTooSmall. The comparison is symmetric.
func Classify(a, b Slot, buffer, minGap time.Duration) Conflict {
	aEnd := a.Start.Add(a.Duration + buffer)
	bEnd := b.Start.Add(b.Duration + buffer)

	if a.Start.Before(bEnd) && b.Start.Before(aEnd) {
		return ConflictOverlap
	}

	var gap time.Duration
	if aEnd.After(b.Start) {
		gap = a.Start.Sub(bEnd)
	} else {
		gap = b.Start.Sub(aEnd)
	}

	if gap > 0 && gap < minGap {
		return ConflictGapTooSmall
	}
	return ConflictNone
}
