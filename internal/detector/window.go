package detector

import (
	"fmt"
	"time"
)

// Window is a daily activity window in local time. The zero value is always
// active. A window whose start is later than its end crosses midnight, e.g.
// 22:00 to 06:00.
type Window struct {
	start int // minutes since midnight
	end   int
	set   bool
}

// ParseWindow builds a Window from "HH:MM" bounds. Both bounds empty means
// always active; supplying only one is an error.
func ParseWindow(start, end string) (Window, error) {
	if start == "" && end == "" {
		return Window{}, nil
	}
	if start == "" || end == "" {
		return Window{}, fmt.Errorf("active hours need both bounds, got start=%q end=%q", start, end)
	}

	startMin, err := parseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("invalid active hours start: %w", err)
	}
	endMin, err := parseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("invalid active hours end: %w", err)
	}

	return Window{start: startMin, end: endMin, set: true}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Contains reports whether the given instant falls inside the window. Both
// bounds are inclusive.
func (w Window) Contains(t time.Time) bool {
	if !w.set {
		return true
	}
	now := t.Hour()*60 + t.Minute()
	if w.start <= w.end {
		return w.start <= now && now <= w.end
	}
	// Crosses midnight, e.g. 22:00 to 06:00.
	return now >= w.start || now <= w.end
}

// String renders the window bounds, or "always" for the zero value.
func (w Window) String() string {
	if !w.set {
		return "always"
	}
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.start/60, w.start%60, w.end/60, w.end%60)
}
