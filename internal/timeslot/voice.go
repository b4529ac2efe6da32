package timeslot

import (
	"fmt"
	"time"
)

// VoiceString renders a slot the way the assistant reads it out, e.g.
// "Tomorrow, Tuesday, Jan 23rd at 3pm".
func (s *Schedule) VoiceString(slot TimeSlot) string {
	start := slot.Start.In(s.cfg.Location)
	return relativeDay(start, s.Now()) + fmt.Sprintf("%s, %s %d%s at %s",
		start.Weekday(),
		start.Format("Jan"),
		start.Day(),
		ordinalSuffix(start.Day()),
		clockTime(start),
	)
}

func relativeDay(start, now time.Time) string {
	switch {
	case sameDate(start, now):
		return "Today, "
	case sameDate(start, now.AddDate(0, 0, 1)):
		return "Tomorrow, "
	}
	return ""
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// ordinalSuffix covers day-of-month values 1..31 only.
func ordinalSuffix(day int) string {
	switch day {
	case 1, 21, 31:
		return "st"
	case 2, 22:
		return "nd"
	case 3, 23:
		return "rd"
	}
	return "th"
}

func clockTime(t time.Time) string {
	hour := t.Hour()
	meridiem := "am"
	if hour >= 12 {
		meridiem = "pm"
	}
	if hour > 12 {
		hour -= 12
	} else if hour == 0 {
		hour = 12
	}
	if t.Minute() == 0 {
		return fmt.Sprintf("%d%s", hour, meridiem)
	}
	return fmt.Sprintf("%d:%02d%s", hour, t.Minute(), meridiem)
}
