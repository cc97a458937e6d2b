package engine

import (
	"fmt"
	"sync"
	"testing"

	"github.com/wyh-tools/Course-Sentinel/internal/portal"
)

func TestWishlistAddIsIdempotent(t *testing.T) {
	wl := NewWishlist()
	if !wl.Add(openSection("T1", "算法设计")) {
		t.Fatal("first add rejected")
	}
	if wl.Add(openSection("T1", "算法设计(改名)")) {
		t.Error("duplicate teaching class must be a no-op")
	}
	if wl.Len() != 1 {
		t.Errorf("len = %d, want 1", wl.Len())
	}
	got := wl.Snapshot()[0]
	if got.CourseName != "算法设计" {
		t.Errorf("duplicate add overwrote the entry: %+v", got)
	}
}

func TestWishlistRejectsEmptyID(t *testing.T) {
	wl := NewWishlist()
	if wl.Add(portal.TeachingClassRecord{CourseName: "没有编号"}) {
		t.Error("entry without a teaching class ID must be rejected")
	}
	if wl.Len() != 0 {
		t.Errorf("len = %d, want 0", wl.Len())
	}
}

func TestWishlistRemoveAndContains(t *testing.T) {
	wl := NewWishlist()
	wl.Add(openSection("T1", "算法设计"))
	wl.Add(openSection("T2", "操作系统"))

	if !wl.Contains("T1") {
		t.Error("Contains(T1) = false")
	}
	wl.Remove("T1")
	if wl.Contains("T1") {
		t.Error("Contains(T1) = true after remove")
	}
	wl.Remove("T1") // removing twice is fine
	if wl.Len() != 1 {
		t.Errorf("len = %d, want 1", wl.Len())
	}
}

func TestWishlistConcurrentAdds(t *testing.T) {
	wl := NewWishlist()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				wl.Add(openSection(fmt.Sprintf("T%d", j), "并发课程"))
			}
		}(i)
	}
	wg.Wait()
	if wl.Len() != 50 {
		t.Errorf("len = %d, want 50 unique entries", wl.Len())
	}
}
