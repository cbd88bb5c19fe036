package dragonbot

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// maximumTimeout is discord's limit on how far in the future a member
// timeout may end
const maximumTimeout = 28 * 24 * time.Hour

// maxDateYear is the latest year a parsed expiry may fall in
const maxDateYear = 9999

var (
	errInvalidDuration = errors.New("invalid duration")
	errDurationRange   = errors.New("duration out of range")
)

// Units must appear in descending order of magnitude, each at most
// once. 'm' is months and 'M' is minutes.
var durationPattern = regexp.MustCompile(
	`^((?P<years>\d+?) ?(years|year|Y|y) ?)?` +
		`((?P<months>\d+?) ?(months|month|m) ?)?` +
		`((?P<weeks>\d+?) ?(weeks|week|W|w) ?)?` +
		`((?P<days>\d+?) ?(days|day|D|d) ?)?` +
		`((?P<hours>\d+?) ?(hours|hour|H|h) ?)?` +
		`((?P<minutes>\d+?) ?(minutes|minute|M) ?)?` +
		`((?P<seconds>\d+?) ?(seconds|second|S|s))?$`,
)

// isoPattern matches YYYY[-mm[-dd[(T| )HH:MM[:SS[.ffffff]][offset]]]]
var isoPattern = regexp.MustCompile(
	`^(\d{4})(?:-(\d{2})(?:-(\d{2})(?:[T ](\d{2}):(\d{2})(?::(\d{2})(?:\.(\d{1,6}))?)?(Z|[+-]\d{2}(?::?\d{2})?)?)?)?)?$`,
)

// relativeDuration is a calendar-aware duration. Years and months are
// added to the calendar date (clipping to the end of the month), the
// rest as elapsed time.
type relativeDuration struct {
	Years   int64
	Months  int64
	Weeks   int64
	Days    int64
	Hours   int64
	Minutes int64
	Seconds int64
}

// IsZero reports whether no unit has a nonzero amount
func (r relativeDuration) IsZero() bool {
	return r == relativeDuration{}
}

// maxDurationComponent bounds each unit so the sum of all units, in
// seconds, can't overflow an int64
const maxDurationComponent = 1_000_000_000_000

// parseDurationString parses strings like "1d12h" or "2 weeks 3 days".
// errInvalidDuration is returned if s doesn't match, or specifies a
// zero duration.
func parseDurationString(s string) (relativeDuration, error) {
	var r relativeDuration
	match := durationPattern.FindStringSubmatch(s)
	if match == nil {
		return r, fmt.Errorf("%w: %q", errInvalidDuration, s)
	}

	fields := map[string]*int64{
		"years":   &r.Years,
		"months":  &r.Months,
		"weeks":   &r.Weeks,
		"days":    &r.Days,
		"hours":   &r.Hours,
		"minutes": &r.Minutes,
		"seconds": &r.Seconds,
	}
	for idx, name := range durationPattern.SubexpNames() {
		field, ok := fields[name]
		if !ok || match[idx] == "" {
			continue
		}
		n, err := strconv.ParseInt(match[idx], 10, 64)
		if err != nil || n > maxDurationComponent {
			return r, fmt.Errorf("%w: %q", errDurationRange, s)
		}
		*field = n
	}

	if r.IsZero() {
		return r, fmt.Errorf("%w: %q", errInvalidDuration, s)
	}
	return r, nil
}

// After returns t advanced by r. errDurationRange is returned if the
// result falls after the year 9999.
func (r relativeDuration) After(t time.Time) (time.Time, error) {
	totalMonths := int64(t.Year())*12 + int64(t.Month()-1) + r.Years*12 + r.Months
	year := totalMonths / 12
	if year > maxDateYear {
		return time.Time{}, errDurationRange
	}
	month := time.Month(totalMonths%12 + 1)

	day := t.Day()
	if last := daysIn(int(year), month); day > last {
		day = last
	}
	base := time.Date(
		int(year),
		month,
		day,
		t.Hour(),
		t.Minute(),
		t.Second(),
		t.Nanosecond(),
		t.Location(),
	)

	seconds := (r.Weeks*7+r.Days)*86400 + r.Hours*3600 + r.Minutes*60 + r.Seconds
	result := time.Unix(base.Unix()+seconds, int64(base.Nanosecond())).In(t.Location())
	if result.Year() > maxDateYear {
		return time.Time{}, errDurationRange
	}
	return result, nil
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// parseISODateTime parses an ISO-8601 date or datetime, with either a
// 'T' or a space between the date and time. Missing date parts default
// to the first month/day; a missing offset means UTC. The result is
// always in UTC.
func parseISODateTime(s string) (time.Time, error) {
	m := isoPattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("not an ISO-8601 datetime: %q", s)
	}

	num := func(v string, def int) int {
		if v == "" {
			return def
		}
		n, _ := strconv.Atoi(v)
		return n
	}
	year := num(m[1], 0)
	month := num(m[2], 1)
	day := num(m[3], 1)
	hour := num(m[4], 0)
	minute := num(m[5], 0)
	sec := num(m[6], 0)

	var nsec int
	if frac := m[7]; frac != "" {
		for len(frac) < 9 {
			frac += "0"
		}
		nsec = num(frac, 0)
	}

	if month < 1 || month > 12 || day < 1 || day > daysIn(year, time.Month(month)) ||
		hour > 23 || minute > 59 || sec > 59 {
		return time.Time{}, fmt.Errorf("invalid ISO-8601 datetime: %q", s)
	}

	loc := time.UTC
	if offset := m[8]; offset != "" && offset != "Z" {
		sign := 1
		if offset[0] == '-' {
			sign = -1
		}
		digits := offset[1:]
		if len(digits) > 2 && digits[2] == ':' {
			digits = digits[:2] + digits[3:]
		}
		offHours := num(digits[:2], 0)
		offMinutes := 0
		if len(digits) == 4 {
			offMinutes = num(digits[2:], 0)
		}
		if offHours > 23 || offMinutes > 59 {
			return time.Time{}, fmt.Errorf("invalid UTC offset: %q", offset)
		}
		loc = time.FixedZone("", sign*(offHours*3600+offMinutes*60))
	}

	return time.Date(year, time.Month(month), day, hour, minute, sec, nsec, loc).UTC(), nil
}

// capTimeoutDuration limits an expiry to discord's maximum timeout,
// relative to now. The limit is exclusive, so an expiry at or just
// under the limit is pulled back by a minute. capped is true only when
// the expiry exceeded the limit.
func capTimeoutDuration(now time.Time, expiry time.Time) (capped bool, result time.Time) {
	limit := now.Add(maximumTimeout)
	switch {
	case expiry.After(limit):
		return true, limit.Add(-time.Minute)
	case expiry.After(limit.Add(-time.Minute)):
		return false, expiry.Add(-time.Minute)
	}
	return false, expiry
}
