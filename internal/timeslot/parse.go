package timeslot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	meridiemPattern = regexp.MustCompile(`(\d{1,2})(?::(\d{2}))?\s*(a\.?m\.?|p\.?m\.?)`)
	bareHourPattern = regexp.MustCompile(`(?:at\s+)?(\d{1,2})(?::(\d{2}))?\s*(?:o'clock)?`)
)

var (
	newYork    = loadLocation("America/New_York", "EST", -5*60*60)
	chicago    = loadLocation("America/Chicago", "CST", -6*60*60)
	denver     = loadLocation("America/Denver", "MST", -7*60*60)
	losAngeles = loadLocation("America/Los_Angeles", "PST", -8*60*60)
)

// callerZones maps the labels callers and assistants commonly use. MST means
// Mountain time with DST; Arizona has its own entry.
var callerZones = map[string]*time.Location{
	"EST":     newYork,
	"EDT":     newYork,
	"CST":     chicago,
	"CDT":     chicago,
	"MST":     denver,
	"MDT":     denver,
	"PST":     losAngeles,
	"PDT":     losAngeles,
	"ARIZONA": Phoenix,
}

// CallerLocation resolves a zone label or IANA name, defaulting to Eastern time.
func CallerLocation(label string) *time.Location {
	label = strings.TrimSpace(label)
	if loc, ok := callerZones[strings.ToUpper(label)]; ok {
		return loc
	}
	if label != "" && label != "Local" {
		if loc, err := time.LoadLocation(label); err == nil {
			return loc
		}
	}
	return newYork
}

// ParseCallerTime reads a spoken time such as "3pm" or "at 10:30 am" in the
// caller's zone, anchors it to the caller's today (tomorrow once it has
// passed) and returns it in the canonical zone.
func (s *Schedule) ParseCallerTime(input, zoneLabel string) (time.Time, error) {
	hour, minute, err := parseClock(input)
	if err != nil {
		return time.Time{}, err
	}

	callerLoc := CallerLocation(zoneLabel)
	callerNow := s.clock.Now().In(callerLoc)
	y, m, d := callerNow.Date()

	at := time.Date(y, m, d, hour, minute, 0, 0, callerLoc)
	if at.Before(callerNow) {
		at = time.Date(y, m, d+1, hour, minute, 0, 0, callerLoc)
	}
	return at.In(s.cfg.Location), nil
}

func parseClock(input string) (hour, minute int, err error) {
	lower := strings.ToLower(input)

	if match := meridiemPattern.FindStringSubmatch(lower); match != nil {
		hour, minute, err = clockParts(match[1], match[2], input)
		if err != nil {
			return 0, 0, err
		}
		if hour < 1 || hour > 12 {
			return 0, 0, fmt.Errorf("%w: hour out of range in %q", ErrUnparseableTime, input)
		}
		return to24Hour(hour, strings.HasPrefix(match[3], "p")), minute, nil
	}

	if match := bareHourPattern.FindStringSubmatch(lower); match != nil {
		hour, minute, err = clockParts(match[1], match[2], input)
		if err != nil {
			return 0, 0, err
		}
		hour = to24Hour(hour, strings.Contains(lower, "pm"))
		if hour > 23 {
			return 0, 0, fmt.Errorf("%w: hour out of range in %q", ErrUnparseableTime, input)
		}
		return hour, minute, nil
	}

	return 0, 0, fmt.Errorf("%w: %q", ErrUnparseableTime, input)
}

func clockParts(hourText, minuteText, input string) (int, int, error) {
	hour, err := strconv.Atoi(hourText)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnparseableTime, input)
	}
	minute := 0
	if minuteText != "" {
		minute, err = strconv.Atoi(minuteText)
		if err != nil || minute > 59 {
			return 0, 0, fmt.Errorf("%w: minutes out of range in %q", ErrUnparseableTime, input)
		}
	}
	return hour, minute, nil
}

func to24Hour(hour int, pm bool) int {
	if pm && hour != 12 {
		return hour + 12
	}
	if !pm && hour == 12 {
		return 0
	}
	return hour
}
