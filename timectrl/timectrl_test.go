package timectrl

import (
	"testing"
	"time"

	"github.com/signalsfoundry/equipment-mounts/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func sampleTimepoints() []Timepoint {
	mast := &model.Platform{ID: "p1", ShortName: "Mast"}
	ctd := &model.Device{ID: "d1", ShortName: "CTD"}
	platforms := []*model.PlatformMountAction{{
		MountAction: model.MountAction{ID: "pm", BeginDate: day(2020, time.January, 1), EndDate: ptr(day(2020, time.December, 1))},
		Platform:    mast,
	}}
	devices := []*model.DeviceMountAction{{
		MountAction: model.MountAction{ID: "dm", BeginDate: day(2020, time.March, 1), ParentPlatform: mast},
		Device:      ctd,
	}}
	static := []*model.StaticLocationAction{{ID: "sl", Label: "Pier", BeginDate: ptr(day(2020, time.January, 1))}}
	return Timepoints(platforms, devices, nil, static)
}

func TestTimepointsSortedAndStable(t *testing.T) {
	points := sampleTimepoints()
	want := []struct {
		id   string
		kind TimepointKind
	}{
		{"pm", TimepointMount},
		{"sl", TimepointLocationBegin},
		{"dm", TimepointMount},
		{"pm", TimepointUnmount},
	}
	if len(points) != len(want) {
		t.Fatalf("Timepoints len = %d, want %d", len(points), len(want))
	}
	for i, w := range want {
		if points[i].ActionID != w.id || points[i].Kind != w.kind {
			t.Fatalf("points[%d] = %s/%s, want %s/%s", i, points[i].ActionID, points[i].Kind, w.id, w.kind)
		}
	}
	if points[0].Label != "Mast" || points[2].Label != "CTD" {
		t.Fatalf("labels = %q, %q", points[0].Label, points[2].Label)
	}
}

func TestCursorStartsAtClock(t *testing.T) {
	clock := NewFixedClock(day(2020, time.June, 1))
	c := NewCursor(sampleTimepoints(), clock)
	cur, ok := c.Current()
	if !ok || cur.ActionID != "dm" {
		t.Fatalf("Current = %+v, want dm", cur)
	}

	c = NewCursor(sampleTimepoints(), NewFixedClock(day(2019, time.January, 1)))
	if cur, _ := c.Current(); cur.ActionID != "pm" || cur.Kind != TimepointMount {
		t.Fatalf("Current before all points = %+v, want first", cur)
	}
}

func TestCursorNavigationNotifiesListeners(t *testing.T) {
	c := NewCursor(sampleTimepoints(), nil)

	var seen []Timepoint
	c.AddListener(func(tp Timepoint) { seen = append(seen, tp) })

	if c.Prev() {
		t.Fatalf("Prev at start = true")
	}
	for c.Next() {
	}
	if cur, _ := c.Current(); cur.Kind != TimepointUnmount {
		t.Fatalf("Current at end = %+v", cur)
	}
	if len(seen) != 3 {
		t.Fatalf("listener calls = %d, want 3", len(seen))
	}

	if !c.Seek(day(2020, time.February, 1)) {
		t.Fatalf("Seek returned false")
	}
	if cur, _ := c.Current(); cur.ActionID != "sl" {
		t.Fatalf("Seek selected %+v, want the static location begin", cur)
	}
	if c.Seek(day(2019, time.January, 1)) {
		t.Fatalf("Seek before first point = true")
	}
	if cur, _ := c.Current(); cur.ActionID != "sl" {
		t.Fatalf("failed Seek moved the cursor to %+v", cur)
	}
}

func TestEmptyCursor(t *testing.T) {
	c := NewCursor(nil, SystemClock{})
	if _, ok := c.Current(); ok {
		t.Fatalf("Current on empty cursor ok = true")
	}
	if c.Next() || c.Prev() || c.Seek(time.Now()) {
		t.Fatalf("empty cursor moved")
	}
}

func TestFixedClockSet(t *testing.T) {
	clock := NewFixedClock(day(2025, time.January, 1))
	next := day(2025, time.January, 2)
	clock.Set(next)
	if got := clock.Now(); !got.Equal(next) {
		t.Fatalf("Now() = %v, want %v", got, next)
	}
}
