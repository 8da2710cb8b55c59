// Package calendar implements the working-day template described by
// shared.CalendarDefinition: shift windows, breaks, holidays, and the
// calendar-aware advance of a duration from a wall-clock instant.
package calendar

import (
	"fmt"
	"sort"
	"time"

	"prodflow/shared"
)

type minuteRange struct {
	start int // minutes since local midnight
	end   int
}

// Calendar is the parsed, validated form of a shared.CalendarDefinition,
// ready to answer Advance and NextWorkingMinute queries.
type Calendar struct {
	def        shared.CalendarDefinition
	workingDay map[time.Weekday]bool
	shifts     []minuteRange
	breaks     []minuteRange
	holidays   map[string]bool
	horizon    time.Duration
}

const defaultHorizonDays = 365

// New validates a CalendarDefinition and builds a Calendar from it.
func New(def shared.CalendarDefinition) (*Calendar, error) {
	if len(def.Shifts) == 0 {
		return nil, &shared.CalendarMisconfiguredError{Reason: "no shift windows declared"}
	}

	shifts := make([]minuteRange, 0, len(def.Shifts))
	for _, tr := range def.Shifts {
		r, err := parseRange(tr)
		if err != nil {
			return nil, &shared.CalendarMisconfiguredError{Reason: err.Error()}
		}
		shifts = append(shifts, r)
	}
	sort.Slice(shifts, func(i, j int) bool { return shifts[i].start < shifts[j].start })
	for i := 1; i < len(shifts); i++ {
		if shifts[i].start < shifts[i-1].end {
			return nil, &shared.CalendarMisconfiguredError{Reason: "shift intervals overlap"}
		}
	}

	breaks := make([]minuteRange, 0, len(def.Breaks))
	for _, tr := range def.Breaks {
		r, err := parseRange(tr)
		if err != nil {
			return nil, &shared.CalendarMisconfiguredError{Reason: err.Error()}
		}
		if !breakInsideAnyShift(r, shifts) {
			return nil, &shared.CalendarMisconfiguredError{Reason: "break escapes its parent shift"}
		}
		breaks = append(breaks, r)
	}
	sort.Slice(breaks, func(i, j int) bool { return breaks[i].start < breaks[j].start })

	holidays := make(map[string]bool, len(def.Holidays))
	for _, h := range def.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return nil, &shared.CalendarMisconfiguredError{Reason: fmt.Sprintf("holiday %q is not a YYYY-MM-DD date", h)}
		}
		if holidays[h] {
			return nil, &shared.CalendarMisconfiguredError{Reason: fmt.Sprintf("holiday %q declared more than once", h)}
		}
		holidays[h] = true
	}

	workingDay := make(map[time.Weekday]bool, len(def.WorkingWeekdays))
	for _, wd := range def.WorkingWeekdays {
		workingDay[wd] = true
	}
	if len(workingDay) == 0 {
		return nil, &shared.CalendarMisconfiguredError{Reason: "no working weekdays declared"}
	}

	horizonDays := def.HorizonDays
	if horizonDays <= 0 {
		horizonDays = defaultHorizonDays
	}

	return &Calendar{
		def:        def,
		workingDay: workingDay,
		shifts:     shifts,
		breaks:     breaks,
		holidays:   holidays,
		horizon:    time.Duration(horizonDays) * 24 * time.Hour,
	}, nil
}

func parseRange(tr shared.TimeRange) (minuteRange, error) {
	s, err := parseHHMM(tr.Start)
	if err != nil {
		return minuteRange{}, err
	}
	e, err := parseHHMM(tr.End)
	if err != nil {
		return minuteRange{}, err
	}
	if e <= s {
		return minuteRange{}, fmt.Errorf("interval %s-%s is empty or inverted", tr.Start, tr.End)
	}
	return minuteRange{start: s, end: e}, nil
}

func parseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%q is not an HH:MM time: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func breakInsideAnyShift(b minuteRange, shifts []minuteRange) bool {
	for _, s := range shifts {
		if b.start >= s.start && b.end <= s.end {
			return true
		}
	}
	return false
}

func (c *Calendar) isWorkingDay(t time.Time) bool {
	if !c.workingDay[t.Weekday()] {
		return false
	}
	return !c.holidays[t.Format("2006-01-02")]
}

// NextWorkingMinute returns the smallest working instant >= t.
func (c *Calendar) NextWorkingMinute(t time.Time) time.Time {
	day := dayStart(t)
	for i := 0; i < 8; i++ { // a week is enough to clear any all-holiday run in practice
		if c.isWorkingDay(day) {
			for _, sh := range c.shifts {
				shiftStart := day.Add(time.Duration(sh.start) * time.Minute)
				shiftEnd := day.Add(time.Duration(sh.end) * time.Minute)
				if t.Before(shiftStart) {
					return c.skipBreaks(shiftStart, day)
				}
				if !t.After(shiftEnd) && t.Before(shiftEnd) {
					return c.skipBreaks(t, day)
				}
			}
		}
		day = day.AddDate(0, 0, 1)
		t = day
	}
	return day
}

// skipBreaks nudges a candidate instant forward past any break window it
// falls inside, on the given calendar day.
func (c *Calendar) skipBreaks(t time.Time, day time.Time) time.Time {
	minute := int(t.Sub(day).Minutes())
	for _, b := range c.breaks {
		if minute >= b.start && minute < b.end {
			return day.Add(time.Duration(b.end) * time.Minute)
		}
	}
	return t
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Advance walks forward from `from`, consuming exactly `minutes` working
// minutes (after subtracting breaks and non-working spans), and returns
// the [start, end] interval. start is the first working instant >= from.
func (c *Calendar) Advance(from time.Time, minutes int) (start, end time.Time, err error) {
	start = c.NextWorkingMinute(from)
	if minutes <= 0 {
		return start, start, nil
	}

	cursor := start
	remaining := minutes
	deadline := from.Add(c.horizon)

	for remaining > 0 {
		if cursor.After(deadline) {
			return start, cursor, &shared.HorizonExceededError{}
		}
		day := dayStart(cursor)
		if !c.isWorkingDay(day) {
			cursor = c.NextWorkingMinute(day.AddDate(0, 0, 1))
			continue
		}

		shiftEnd, ok := c.shiftEndFor(cursor, day)
		if !ok {
			cursor = c.NextWorkingMinute(cursor)
			continue
		}

		available := shiftEnd.Sub(cursor)
		nextBreak, hasBreak := c.nextBreakAfter(cursor, day, shiftEnd)
		if hasBreak {
			available = nextBreak.start.Sub(cursor)
		}

		need := time.Duration(remaining) * time.Minute
		if need <= available {
			cursor = cursor.Add(need)
			remaining = 0
			break
		}

		remaining -= int(available.Minutes())
		if hasBreak {
			cursor = nextBreak.end
		} else {
			cursor = c.NextWorkingMinute(shiftEnd)
		}
	}

	return start, cursor, nil
}

// shiftEndFor returns the end instant of the shift window containing
// cursor on the given calendar day, if cursor falls inside one.
func (c *Calendar) shiftEndFor(cursor, day time.Time) (time.Time, bool) {
	for _, sh := range c.shifts {
		shiftStart := day.Add(time.Duration(sh.start) * time.Minute)
		shiftEnd := day.Add(time.Duration(sh.end) * time.Minute)
		if !cursor.Before(shiftStart) && cursor.Before(shiftEnd) {
			return shiftEnd, true
		}
	}
	return time.Time{}, false
}

type breakInstant struct {
	start time.Time
	end   time.Time
}

// nextBreakAfter returns the next break window starting at or after
// cursor but before shiftEnd, if one exists.
func (c *Calendar) nextBreakAfter(cursor, day, shiftEnd time.Time) (breakInstant, bool) {
	var best breakInstant
	found := false
	for _, b := range c.breaks {
		bs := day.Add(time.Duration(b.start) * time.Minute)
		be := day.Add(time.Duration(b.end) * time.Minute)
		if bs.Before(cursor) || !bs.Before(shiftEnd) {
			continue
		}
		if !found || bs.Before(best.start) {
			best = breakInstant{start: bs, end: be}
			found = true
		}
	}
	return best, found
}
