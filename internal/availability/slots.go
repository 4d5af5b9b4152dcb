package availability

import "time"

// Template is a counsellor's working-hours window for one weekday.
// It is configuration, not state: booked slots are derived live from
// non-cancelled appointments, never written back here.
type Template struct {
	Available bool  `json:"is_available"`
	Start     Clock `json:"start_time"`
	End       Clock `json:"end_time"`
}

// WeekTemplate maps weekdays to working-hours windows. Missing days are
// treated as unavailable.
type WeekTemplate map[time.Weekday]Template

// Slot is a half-open bookable window [Start, End) on some calendar day.
type Slot struct {
	Start Clock `json:"start_time"`
	End   Clock `json:"end_time"`
}

// Overlaps reports whether two half-open slots intersect. Touching
// endpoints do not count.
func (s Slot) Overlaps(o Slot) bool {
	return s.Start < o.End && o.Start < s.End
}

// SlotsForDay tiles the template's working window with fixed-length slots
// for the given calendar date. A trailing partial slot is dropped. Dates
// before now's calendar day yield nothing; on the current day, slots whose
// start has already been reached are excluded (a slot starting exactly now
// is past, not bookable).
//
// Pure function: deterministic given (tpl, date, now, slotLen).
func SlotsForDay(tpl Template, date, now time.Time, slotLen time.Duration) []Slot {
	if !tpl.Available || tpl.End <= tpl.Start {
		return nil
	}
	step := Clock(slotLen / time.Minute)
	if step <= 0 {
		return nil
	}

	dayDelta := compareDay(date, now)
	if dayDelta < 0 {
		return nil
	}
	sameDay := dayDelta == 0
	nowClock := ClockOf(now)

	var slots []Slot
	for start := tpl.Start; start+step <= tpl.End; start += step {
		if sameDay && start <= nowClock {
			continue
		}
		slots = append(slots, Slot{Start: start, End: start + step})
	}
	return slots
}

// FilterConflicts removes candidates that intersect any busy slot.
func FilterConflicts(candidates, busy []Slot) []Slot {
	out := make([]Slot, 0, len(candidates))
	for _, c := range candidates {
		if !overlapsAny(c, busy) {
			out = append(out, c)
		}
	}
	return out
}

func overlapsAny(s Slot, busy []Slot) bool {
	for _, b := range busy {
		if s.Overlaps(b) {
			return true
		}
	}
	return false
}

func compareDay(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	an := ay*10000 + int(am)*100 + ad
	bn := by*10000 + int(bm)*100 + bd
	switch {
	case an < bn:
		return -1
	case an > bn:
		return 1
	}
	return 0
}
