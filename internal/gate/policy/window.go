package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is the daily interval during which visitor entry is permitted,
// expressed as facility-local wall-clock minutes. Start is inclusive,
// End exclusive, so the default 06:00–23:00 admits at exactly 06:00 and
// rejects at exactly 23:00.
type Window struct {
	startMin int // minutes after midnight
	endMin   int
	loc      *time.Location
}

// New parses "HH:MM" bounds and resolves the facility time zone.
func New(start, end, timezone string) (Window, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Window{}, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	s, err := parseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("window start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("window end: %w", err)
	}
	if e <= s {
		return Window{}, fmt.Errorf("window end %s must be after start %s", end, start)
	}
	return Window{startMin: s, endMin: e, loc: loc}, nil
}

// Contains reports whether t falls inside the allowed daily interval.
// Timestamps in any zone are normalized to facility-local time first.
func (w Window) Contains(t time.Time) bool {
	local := t.In(w.loc)
	min := local.Hour()*60 + local.Minute()
	return min >= w.startMin && min < w.endMin
}

// Location returns the facility time zone.
func (w Window) Location() *time.Location { return w.loc }

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d %s",
		w.startMin/60, w.startMin%60, w.endMin/60, w.endMin%60, w.loc)
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad clock value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return h*60 + m, nil
}
