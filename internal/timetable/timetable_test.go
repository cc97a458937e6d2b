package timetable

import (
	"testing"
)

func weekSet(ranges ...[2]int) map[int]bool {
	m := make(map[int]bool)
	for _, r := range ranges {
		for w := r[0]; w <= r[1]; w++ {
			m[w] = true
		}
	}
	return m
}

func sameSet(got, want map[int]bool) bool {
	if len(got) != len(want) {
		return false
	}
	for k := range want {
		if !got[k] {
			return false
		}
	}
	return true
}

func TestParseSingleSegment(t *testing.T) {
	slots := Parse("1-18周 星期二 5-6节")
	if len(slots) != 1 {
		t.Fatalf("got %d slots, want 1", len(slots))
	}
	s := slots[0]
	if s.Day != 2 {
		t.Errorf("day = %d, want 2", s.Day)
	}
	if !sameSet(s.Weeks, weekSet([2]int{1, 18})) {
		t.Errorf("weeks = %v, want 1..18", s.Weeks)
	}
	if !sameSet(s.Periods, map[int]bool{5: true, 6: true}) {
		t.Errorf("periods = %v, want {5,6}", s.Periods)
	}
}

func TestParseOddWeeksMarkedPeriod(t *testing.T) {
	slots := Parse("1-17周(单) 周一 第3节")
	if len(slots) != 1 {
		t.Fatalf("got %d slots, want 1", len(slots))
	}
	s := slots[0]
	if s.Day != 1 {
		t.Errorf("day = %d, want 1", s.Day)
	}
	wantWeeks := map[int]bool{}
	for w := 1; w <= 17; w += 2 {
		wantWeeks[w] = true
	}
	if !sameSet(s.Weeks, wantWeeks) {
		t.Errorf("weeks = %v, want odd 1..17", s.Weeks)
	}
	if !sameSet(s.Periods, map[int]bool{3: true}) {
		t.Errorf("periods = %v, want {3}", s.Periods)
	}
}

func TestParseMultiSegment(t *testing.T) {
	slots := Parse("1-9周 星期一 1-2节, 11-18周 星期一 1-2节")
	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2", len(slots))
	}
	if !sameSet(slots[0].Weeks, weekSet([2]int{1, 9})) {
		t.Errorf("first weeks = %v, want 1..9", slots[0].Weeks)
	}
	if !sameSet(slots[1].Weeks, weekSet([2]int{11, 18})) {
		t.Errorf("second weeks = %v, want 11..18", slots[1].Weeks)
	}
	for i, s := range slots {
		if s.Day != 1 {
			t.Errorf("slot %d day = %d, want 1", i, s.Day)
		}
		if !sameSet(s.Periods, map[int]bool{1: true, 2: true}) {
			t.Errorf("slot %d periods = %v, want {1,2}", i, s.Periods)
		}
	}
}

func TestParseDefaultsWeeksWhenMissing(t *testing.T) {
	slots := Parse("星期三 7-8节")
	if len(slots) != 1 {
		t.Fatalf("got %d slots, want 1", len(slots))
	}
	if !sameSet(slots[0].Weeks, weekSet([2]int{1, 18})) {
		t.Errorf("weeks = %v, want default 1..18", slots[0].Weeks)
	}
}

func TestParsePeriodList(t *testing.T) {
	slots := Parse("1-16周 星期五 1,3,5节")
	if len(slots) != 1 {
		t.Fatalf("got %d slots, want 1: %v", len(slots), slots)
	}
	if !sameSet(slots[0].Periods, map[int]bool{1: true, 3: true, 5: true}) {
		t.Errorf("periods = %v, want {1,3,5}", slots[0].Periods)
	}
}

func TestParseDayVariants(t *testing.T) {
	tests := []struct {
		in  string
		day int
	}{
		{"1-16周 星期日 1-2节", 7},
		{"1-16周 周天 1-2节", 7},
		{"1-16周 礼拜六 1-2节", 6},
		{"1-16周 周3 1-2节", 3},
	}
	for _, tt := range tests {
		slots := Parse(tt.in)
		if len(slots) != 1 {
			t.Errorf("Parse(%q) slots = %d, want 1", tt.in, len(slots))
			continue
		}
		if slots[0].Day != tt.day {
			t.Errorf("Parse(%q) day = %d, want %d", tt.in, slots[0].Day, tt.day)
		}
	}
}

func TestParseGarbageIsEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "待定", "地点:教学楼A101", "第3节"} {
		if slots := Parse(in); len(slots) != 0 {
			t.Errorf("Parse(%q) = %v, want empty", in, slots)
		}
	}
}

func TestConflicts(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"same slot", "1-18周 星期二 5-6节", "1-18周 星期二 5-6节", true},
		{"different day", "1-18周 星期二 5-6节", "1-18周 星期三 5-6节", false},
		{"disjoint periods", "1-18周 星期二 5-6节", "1-18周 星期二 7-8节", false},
		{"disjoint weeks", "1-9周 星期二 5-6节", "10-18周 星期二 5-6节", false},
		{"odd vs even", "1-17周(单) 周一 第3节", "2-18周(双) 周一 第3节", false},
		{"odd overlaps full", "1-17周(单) 周一 第3节", "1-18周 星期一 3-4节", true},
		{"partial week overlap", "1-9周 星期一 1-2节, 11-18周 星期一 1-2节", "9-11周 星期一 2-3节", true},
		{"unparseable side", "待定", "1-18周 星期二 5-6节", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Conflicts(tt.a, tt.b); got != tt.want {
				t.Errorf("Conflicts(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestConflictsCommutative(t *testing.T) {
	inputs := []string{
		"1-18周 星期二 5-6节",
		"1-17周(单) 周一 第3节",
		"1-9周 星期一 1-2节, 11-18周 星期一 1-2节",
		"2-18周(双) 周一 第3节",
		"星期三 7-8节",
		"待定",
	}
	for _, a := range inputs {
		for _, b := range inputs {
			if Conflicts(a, b) != Conflicts(b, a) {
				t.Errorf("Conflicts(%q, %q) not commutative", a, b)
			}
		}
	}
}
