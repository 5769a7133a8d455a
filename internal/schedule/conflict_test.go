package schedule

import (
	"testing"
	"time"
)

var base = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func slot(offsetMin, durMin int) Slot {
	return Slot{
		Start:    base.Add(time.Duration(offsetMin) * time.Minute),
		Duration: time.Duration(durMin) * time.Minute,
	}
}

func TestClassify_Overlap(t *testing.T) {
	a := slot(0, 60)
	b := slot(30, 60)

	if got := Classify(a, b, 15*time.Minute, 30*time.Minute); got != ConflictOverlap {
		t.Errorf("expected OVERLAP, got %s", got)
	}
}

func TestClassify_BufferExtendsIntoOverlap(t *testing.T) {
	// b starts 10 minutes after a ends; a 15-minute buffer pushes a's
	// effective end past b's start.
	a := slot(0, 60)
	b := slot(70, 60)

	if got := Classify(a, b, 15*time.Minute, 0); got != ConflictOverlap {
		t.Errorf("expected OVERLAP with buffer, got %s", got)
	}
	if got := Classify(a, b, 0, 0); got != ConflictNone {
		t.Errorf("expected NONE without buffer, got %s", got)
	}
}

func TestClassify_GapTooSmall(t *testing.T) {
	// 20-minute gap between buffered intervals, 30 minutes required.
	a := slot(0, 60)
	b := slot(95, 60)

	if got := Classify(a, b, 15*time.Minute, 30*time.Minute); got != ConflictGapTooSmall {
		t.Errorf("expected GAP_TOO_SMALL, got %s", got)
	}
}

func TestClassify_None(t *testing.T) {
	a := slot(0, 60)
	b := slot(180, 60)

	if got := Classify(a, b, 15*time.Minute, 30*time.Minute); got != ConflictNone {
		t.Errorf("expected NONE, got %s", got)
	}
}

func TestClassify_Symmetric(t *testing.T) {
	cases := []struct {
		a, b Slot
	}{
		{slot(0, 60), slot(30, 60)},
		{slot(0, 60), slot(95, 60)},
		{slot(0, 60), slot(300, 30)},
		{slot(0, 30), slot(0, 30)},
	}

	for i, c := range cases {
		ab := Classify(c.a, c.b, 15*time.Minute, 30*time.Minute)
		ba := Classify(c.b, c.a, 15*time.Minute, 30*time.Minute)
		if ab != ba {
			t.Errorf("case %d: classify not symmetric: %s vs %s", i, ab, ba)
		}
	}
}

func TestClassify_OverlapImpliesIntersection(t *testing.T) {
	buffer := 15 * time.Minute
	a := slot(0, 60)
	b := slot(70, 60)

	if Classify(a, b, buffer, 0) == ConflictOverlap {
		aEnd := a.Start.Add(a.Duration + buffer)
		bEnd := b.Start.Add(b.Duration + buffer)
		if !(a.Start.Before(bEnd) && b.Start.Before(aEnd)) {
			t.Error("OVERLAP reported but buffered intervals do not intersect")
		}
	}
}

func TestClassify_ExactlyAdjacentIsNone(t *testing.T) {
	// b starts exactly when a's buffered interval ends: zero gap, no overlap.
	a := slot(0, 60)
	b := slot(75, 60)

	if got := Classify(a, b, 15*time.Minute, 30*time.Minute); got != ConflictNone {
		t.Errorf("expected NONE for back-to-back slots, got %s", got)
	}
}

func TestParseSlot_RejectsMalformedTimestamp(t *testing.T) {
	if _, err := ParseSlot("not-a-date", 30); err != ErrInvalidTimestamp {
		t.Errorf("expected ErrInvalidTimestamp, got %v", err)
	}

	s, err := ParseSlot("2025-06-01T10:00:00Z", 45)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Start.Equal(base) || s.Duration != 45*time.Minute {
		t.Errorf("unexpected slot: %+v", s)
	}
}
