// Package timetable parses the portal's free-form Chinese schedule
// strings ("1-18周 星期二 5-6节") and detects time overlaps between two
// courses. Parsing is best-effort: anything unrecognized yields no
// slots, never an error, so a malformed schedule can only cause a
// missed overlap rather than a crash.
package timetable

import (
	"regexp"
	"strconv"
	"strings"
)

// defaultWeekSpan is assumed when a segment names a day and periods but
// no weeks.
const defaultWeekSpan = 18

// Slot is one parsed meeting pattern: a weekday plus the week numbers
// and class periods it occupies.
type Slot struct {
	Day     int // 1 = Monday .. 7 = Sunday
	Weeks   map[int]bool
	Periods map[int]bool
}

var (
	segmentSplit = regexp.MustCompile(`[,;，；/]`)

	weekRange  = regexp.MustCompile(`第?(\d+)-(\d+)周(?:\(([单双])\))?`)
	weekSingle = regexp.MustCompile(`第?(\d+)周`)

	dayMark = regexp.MustCompile(`(?:星期|周|礼拜)([一二三四五六日天1-7])`)

	periodRange  = regexp.MustCompile(`第?(\d+)-(\d+)节`)
	periodMarked = regexp.MustCompile(`第(\d+)节`)
	periodList   = regexp.MustCompile(`(\d+(?:,\d+)+)节`)
	periodBare   = regexp.MustCompile(`(\d+)节`)
)

var dayNames = map[string]int{
	"一": 1, "二": 2, "三": 3, "四": 4, "五": 5, "六": 6,
	"日": 7, "天": 7,
	"1": 1, "2": 2, "3": 3, "4": 4, "5": 5, "6": 6, "7": 7,
}

// Parse extracts meeting slots from a schedule string. Segments are
// separated by commas, semicolons, or slashes; each segment contributes
// at most one slot. Unparseable segments are skipped.
func Parse(s string) []Slot {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	// Commas inside a period list ("1,3,5节") belong to the segment,
	// not between segments. Shield them before splitting.
	shielded := periodList.ReplaceAllStringFunc(s, func(m string) string {
		return strings.ReplaceAll(m, ",", "\x00")
	})

	var slots []Slot
	for _, seg := range segmentSplit.Split(shielded, -1) {
		seg = strings.ReplaceAll(seg, "\x00", ",")
		if slot, ok := parseSegment(seg); ok {
			slots = append(slots, slot)
		}
	}
	return slots
}

// parseSegment parses a single "weeks day periods" segment. A segment
// needs at least a weekday and one period to produce a slot.
func parseSegment(seg string) (Slot, bool) {
	day := parseDay(seg)
	if day == 0 {
		return Slot{}, false
	}

	periods := parsePeriods(seg)
	if len(periods) == 0 {
		return Slot{}, false
	}

	weeks := parseWeeks(seg)
	if len(weeks) == 0 {
		weeks = make(map[int]bool, defaultWeekSpan)
		for w := 1; w <= defaultWeekSpan; w++ {
			weeks[w] = true
		}
	}

	return Slot{Day: day, Weeks: weeks, Periods: periods}, true
}

func parseDay(seg string) int {
	m := dayMark.FindStringSubmatch(seg)
	if m == nil {
		return 0
	}
	return dayNames[m[1]]
}

func parseWeeks(seg string) map[int]bool {
	weeks := make(map[int]bool)

	for _, m := range weekRange.FindAllStringSubmatch(seg, -1) {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		for w := lo; w <= hi; w++ {
			switch m[3] {
			case "单":
				if w%2 == 1 {
					weeks[w] = true
				}
			case "双":
				if w%2 == 0 {
					weeks[w] = true
				}
			default:
				weeks[w] = true
			}
		}
	}

	if len(weeks) == 0 {
		for _, m := range weekSingle.FindAllStringSubmatch(seg, -1) {
			w, _ := strconv.Atoi(m[1])
			weeks[w] = true
		}
	}

	if len(weeks) == 0 {
		return nil
	}
	return weeks
}

func parsePeriods(seg string) map[int]bool {
	periods := make(map[int]bool)

	if m := periodRange.FindStringSubmatch(seg); m != nil {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		for p := lo; p <= hi; p++ {
			periods[p] = true
		}
		return periods
	}

	if m := periodList.FindStringSubmatch(seg); m != nil {
		for _, part := range strings.Split(m[1], ",") {
			if p, err := strconv.Atoi(part); err == nil {
				periods[p] = true
			}
		}
		return periods
	}

	if m := periodMarked.FindStringSubmatch(seg); m != nil {
		p, _ := strconv.Atoi(m[1])
		periods[p] = true
		return periods
	}

	if m := periodBare.FindStringSubmatch(seg); m != nil {
		p, _ := strconv.Atoi(m[1])
		periods[p] = true
		return periods
	}

	return nil
}

// Conflicts reports whether two schedule strings share at least one
// week, day, and period. Either side failing to parse means no
// detectable conflict.
func Conflicts(a, b string) bool {
	as := Parse(a)
	if len(as) == 0 {
		return false
	}
	bs := Parse(b)
	if len(bs) == 0 {
		return false
	}

	for _, x := range as {
		for _, y := range bs {
			if x.Day != y.Day {
				continue
			}
			if !intersects(x.Weeks, y.Weeks) {
				continue
			}
			if intersects(x.Periods, y.Periods) {
				return true
			}
		}
	}
	return false
}

func intersects(a, b map[int]bool) bool {
	if len(b) < len(a) {
		a, b = b, a
	}
	for k := range a {
		if b[k] {
			return true
		}
	}
	return false
}
