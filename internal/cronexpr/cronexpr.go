// Package cronexpr validates cron expressions and computes time-zone-aware
// next occurrences.
//
// The grammar matches robfig/cron v3 so expressions stay portable: five
// fields (minute hour day-of-month month day-of-week) with an optional
// leading seconds field, tokens `*`, integers, names, ranges, lists and
// steps, plus the `@hourly`..`@yearly` descriptors. `@every` is not
// supported. Next-run computation is done here rather than delegated to the
// library because callers need per-field validation errors and an explicit
// daylight-saving policy: a schedule falling into a spring-forward gap fires
// at the first instant after the gap, and an ambiguous fall-back time
// resolves to its first occurrence.
package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// horizonYears bounds the next-run search. Expressions with no occurrence
// inside the horizon (e.g. "0 0 31 2 *") are valid but report no next run.
const horizonYears = 4

// Result is the outcome of validating a cron expression. NextRun is nil for
// invalid expressions and for valid ones with no occurrence in the horizon.
type Result struct {
	IsValid     bool       `json:"is_valid"`
	Description string     `json:"description,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type fieldSpec struct {
	name  string
	min   int
	max   int
	names map[string]int
}

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var dayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// Field order for the full 6-field form; the 5-field form skips seconds.
var fieldSpecs = []fieldSpec{
	{name: "seconds", min: 0, max: 59},
	{name: "minute", min: 0, max: 59},
	{name: "hour", min: 0, max: 23},
	{name: "day-of-month", min: 1, max: 31},
	{name: "month", min: 1, max: 12, names: monthNames},
	{name: "day-of-week", min: 0, max: 6, names: dayNames},
}

var descriptors = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

// schedule is the compiled form: one bitset per field.
type schedule struct {
	seconds uint64
	minutes uint64
	hours   uint64
	dom     uint64
	months  uint64
	dow     uint64
	// a literal "*" leaves the field unrestricted, which matters for the
	// POSIX day-of-month/day-of-week OR rule
	domStar bool
	dowStar bool
}

// Validate checks expression syntax and field domains. It returns nil for a
// well-formed expression and a per-field error otherwise.
func Validate(expr string) error {
	_, err := compile(expr)
	return err
}

// Next returns the earliest instant strictly after `after` that matches the
// expression in the given IANA time zone, or nil when no occurrence exists
// within the search horizon. An empty timezone means UTC.
func Next(expr, timezone string, after time.Time) (*time.Time, error) {
	s, err := compile(expr)
	if err != nil {
		return nil, err
	}
	loc, err := loadLocation(timezone)
	if err != nil {
		return nil, err
	}
	return s.next(after, loc), nil
}

// Parse validates an expression and, when valid, computes its next
// occurrence after `now` together with a human-readable description.
// Invalid input is reported in the result, never via panic.
func Parse(expr, timezone string, now time.Time) Result {
	s, err := compile(expr)
	if err != nil {
		return Result{IsValid: false, Error: err.Error()}
	}
	loc, err := loadLocation(timezone)
	if err != nil {
		return Result{IsValid: false, Error: err.Error()}
	}
	return Result{
		IsValid:     true,
		Description: Describe(expr),
		NextRun:     s.next(now, loc),
	}
}

func loadLocation(timezone string) (*time.Location, error) {
	if strings.TrimSpace(timezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q", timezone)
	}
	return loc, nil
}

func compile(expr string) (*schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty cron expression")
	}
	if strings.HasPrefix(expr, "@") {
		normalized, ok := descriptors[strings.ToLower(expr)]
		if !ok {
			return nil, fmt.Errorf("unknown descriptor %q", expr)
		}
		expr = normalized
	}

	parts := strings.Fields(expr)
	var withSeconds bool
	switch len(parts) {
	case 5:
	case 6:
		withSeconds = true
	default:
		return nil, fmt.Errorf("expected 5 or 6 fields, got %d", len(parts))
	}

	s := &schedule{}
	targets := []*uint64{&s.seconds, &s.minutes, &s.hours, &s.dom, &s.months, &s.dow}
	specs := fieldSpecs
	if !withSeconds {
		s.seconds = 1 // second 0 only
		targets = targets[1:]
		specs = specs[1:]
	}

	for i, part := range parts {
		spec := specs[i]
		bits, err := parseField(part, spec)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field %q: %v", spec.name, part, err)
		}
		*targets[i] = bits
		switch spec.name {
		case "day-of-month":
			s.domStar = part == "*"
		case "day-of-week":
			s.dowStar = part == "*"
		}
	}
	return s, nil
}

func parseField(part string, spec fieldSpec) (uint64, error) {
	var bits uint64
	for _, item := range strings.Split(part, ",") {
		b, err := parseRange(item, spec)
		if err != nil {
			return 0, err
		}
		bits |= b
	}
	return bits, nil
}

func parseRange(item string, spec fieldSpec) (uint64, error) {
	if item == "" {
		return 0, fmt.Errorf("empty value")
	}

	rangePart := item
	step := 1
	hasStep := false
	if idx := strings.Index(item, "/"); idx >= 0 {
		rangePart = item[:idx]
		stepPart := item[idx+1:]
		n, err := strconv.Atoi(stepPart)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("step %q must be a positive integer", stepPart)
		}
		step = n
		hasStep = true
	}

	var lo, hi int
	switch {
	case rangePart == "*":
		lo, hi = spec.min, spec.max
	case strings.Contains(rangePart, "-"):
		pieces := strings.SplitN(rangePart, "-", 2)
		var err error
		if lo, err = parseValue(pieces[0], spec); err != nil {
			return 0, err
		}
		if hi, err = parseValue(pieces[1], spec); err != nil {
			return 0, err
		}
		if lo > hi {
			return 0, fmt.Errorf("range start %d after end %d", lo, hi)
		}
	default:
		v, err := parseValue(rangePart, spec)
		if err != nil {
			return 0, err
		}
		lo, hi = v, v
		if hasStep {
			// "a/n" runs from a to the field maximum
			hi = spec.max
		}
	}

	var bits uint64
	for v := lo; v <= hi; v += step {
		bits |= 1 << uint(v)
	}
	return bits, nil
}

func parseValue(raw string, spec fieldSpec) (int, error) {
	if spec.names != nil {
		if v, ok := spec.names[strings.ToLower(raw)]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("value %q is not a number", raw)
	}
	if v < spec.min || v > spec.max {
		return 0, fmt.Errorf("value %d out of range (%d-%d)", v, spec.min, spec.max)
	}
	return v, nil
}

// next searches forward in civil time and materializes the match in loc at
// the end, so daylight-saving shifts cannot derail the field arithmetic.
func (s *schedule) next(after time.Time, loc *time.Location) *time.Time {
	cursor := after.In(loc).Truncate(time.Second).Add(time.Second)
	limit := after.AddDate(horizonYears, 0, 0)

	year, month, day := cursor.Date()
	hour, minute, sec := cursor.Clock()
	mo := int(month)

	for {
		if year > limit.Year() {
			return nil
		}
		if s.months&(1<<uint(mo)) == 0 {
			mo++
			day, hour, minute, sec = 1, 0, 0, 0
			if mo > 12 {
				mo = 1
				year++
			}
			continue
		}
		if day > daysIn(year, mo) {
			day = 1
			hour, minute, sec = 0, 0, 0
			mo++
			if mo > 12 {
				mo = 1
				year++
			}
			continue
		}
		if !s.dayMatches(year, mo, day) {
			day++
			hour, minute, sec = 0, 0, 0
			continue
		}
		if s.hours&(1<<uint(hour)) == 0 {
			hour++
			minute, sec = 0, 0
			if hour > 23 {
				hour = 0
				day++
			}
			continue
		}
		if s.minutes&(1<<uint(minute)) == 0 {
			minute++
			sec = 0
			if minute > 59 {
				minute = 0
				hour++
			}
			continue
		}
		if s.seconds&(1<<uint(sec)) == 0 {
			sec++
			if sec > 59 {
				sec = 0
				minute++
			}
			continue
		}

		lt := time.Date(year, time.Month(mo), day, hour, minute, sec, 0, loc)
		ly, lmo, ld := lt.Date()
		lh, lmin, _ := lt.Clock()
		if ly != year || int(lmo) != mo || ld != day || lh != hour || lmin != minute {
			// the civil time does not exist (spring-forward gap): fire at
			// the first instant after the clocks jump
			lt = transitionEnd(lt, loc)
		}
		if !lt.After(after) {
			// an ambiguous fall-back time can materialize at or before the
			// cursor; step past it and keep searching
			sec++
			if sec > 59 {
				sec = 0
				minute++
			}
			continue
		}
		if lt.After(limit) {
			return nil
		}
		return &lt
	}
}

// dayMatches implements the POSIX day rule: when both day-of-month and
// day-of-week are restricted, a match on either satisfies the schedule.
func (s *schedule) dayMatches(year, mo, day int) bool {
	domOK := s.dom&(1<<uint(day)) != 0
	weekday := time.Date(year, time.Month(mo), day, 12, 0, 0, 0, time.UTC).Weekday()
	dowOK := s.dow&(1<<uint(weekday)) != 0
	switch {
	case s.domStar && s.dowStar:
		return true
	case s.domStar:
		return dowOK
	case s.dowStar:
		return domOK
	default:
		return domOK || dowOK
	}
}

func daysIn(year, mo int) int {
	return time.Date(year, time.Month(mo)+1, 0, 12, 0, 0, 0, time.UTC).Day()
}

// transitionEnd locates the first instant after the UTC-offset transition
// nearest to approx. time.Date has already normalized the nonexistent local
// time to one side of the gap, so the boundary lies within a few hours.
func transitionEnd(approx time.Time, loc *time.Location) time.Time {
	offsetAt := func(unix int64) int {
		_, off := time.Unix(unix, 0).In(loc).Zone()
		return off
	}
	lo := approx.Add(-8 * time.Hour).Unix()
	hi := approx.Add(8 * time.Hour).Unix()
	before := offsetAt(lo)
	if offsetAt(hi) == before {
		// no transition nearby; trust the normalized time
		return approx
	}
	for lo < hi {
		mid := (lo + hi) / 2
		if offsetAt(mid) == before {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return time.Unix(lo, 0).In(loc)
}
