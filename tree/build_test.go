package tree

import (
	"testing"
	"time"

	"github.com/signalsfoundry/equipment-mounts/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func TestBuildIncludesMountFromBeginDate(t *testing.T) {
	p := &model.Platform{ID: "p1", ShortName: "Mast"}
	begin := day(2020, time.January, 1)
	mounts := []*model.PlatformMountAction{{
		MountAction: model.MountAction{ID: "m1", BeginDate: begin},
		Platform:    p,
	}}

	if tr := Build(mounts, nil, begin); tr.PlatformByID("p1") == nil {
		t.Fatalf("mount missing at its begin date")
	}
	if tr := Build(mounts, nil, begin.Add(-time.Millisecond)); tr.Len() != 0 {
		t.Fatalf("mount present one millisecond before begin")
	}
}

func TestBuildEndDateIsInclusive(t *testing.T) {
	d := &model.Device{ID: "d1", ShortName: "CTD"}
	end := day(2020, time.June, 1)
	mounts := []*model.DeviceMountAction{{
		MountAction: model.MountAction{ID: "m1", BeginDate: day(2020, time.January, 1), EndDate: ptr(end)},
		Device:      d,
	}}
	if tr := Build(nil, mounts, end); tr.DeviceByID("d1") == nil {
		t.Fatalf("device missing at its end date")
	}
	if tr := Build(nil, mounts, end.Add(time.Millisecond)); tr.Len() != 0 {
		t.Fatalf("device present after its end date")
	}
}

func TestBuildTakesLatestMount(t *testing.T) {
	p := &model.Platform{ID: "p1", ShortName: "Mast"}
	mounts := []*model.PlatformMountAction{
		{MountAction: model.MountAction{ID: "first", BeginDate: day(2020, time.January, 1), OffsetX: 1}, Platform: p},
		{MountAction: model.MountAction{ID: "second", BeginDate: day(2021, time.January, 1), OffsetX: 2}, Platform: p},
	}

	tests := []struct {
		at      time.Time
		offsetX float64
	}{
		{at: day(2020, time.June, 1), offsetX: 1},
		{at: day(2021, time.June, 1), offsetX: 2},
	}
	for _, tc := range tests {
		tr := Build(mounts, nil, tc.at)
		if tr.Len() != 1 {
			t.Fatalf("Build(%s) has %d roots, want 1", tc.at, tr.Len())
		}
		n := tr.PlatformByID("p1")
		if got := n.PlatformMount().OffsetX; got != tc.offsetX {
			t.Fatalf("Build(%s) offsetX = %v, want %v", tc.at, got, tc.offsetX)
		}
	}
}

func TestBuildTieGoesToLaterEntry(t *testing.T) {
	p := &model.Platform{ID: "p1"}
	begin := day(2020, time.January, 1)
	mounts := []*model.PlatformMountAction{
		{MountAction: model.MountAction{ID: "a", BeginDate: begin}, Platform: p},
		{MountAction: model.MountAction{ID: "b", BeginDate: begin}, Platform: p},
	}
	tr := Build(mounts, nil, begin)
	if got := tr.PlatformByID("p1").PlatformMount().ID; got != "b" {
		t.Fatalf("selected mount = %q, want b", got)
	}
}

func TestBuildNestsAndPromotesChildren(t *testing.T) {
	parent := &model.Platform{ID: "p1", ShortName: "Mast"}
	child := &model.Platform{ID: "p2", ShortName: "Arm"}
	mounts := []*model.PlatformMountAction{
		{
			MountAction: model.MountAction{ID: "m-parent", BeginDate: day(2020, time.January, 1), EndDate: ptr(day(2021, time.January, 1))},
			Platform:    parent,
		},
		{
			MountAction: model.MountAction{ID: "m-child", BeginDate: day(2020, time.February, 1), ParentPlatform: parent},
			Platform:    child,
		},
	}

	tr := Build(mounts, nil, day(2020, time.June, 1))
	if tr.Len() != 1 {
		t.Fatalf("roots = %d, want 1", tr.Len())
	}
	armNode := tr.PlatformByID("p2")
	if p := tr.Parent(armNode); p == nil || p.EquipmentID() != "p1" {
		t.Fatalf("Arm parent = %v, want Mast", p)
	}

	tr = Build(mounts, nil, day(2021, time.June, 1))
	if tr.PlatformByID("p1") != nil {
		t.Fatalf("unmounted parent still in tree")
	}
	armNode = tr.PlatformByID("p2")
	if armNode == nil {
		t.Fatalf("child missing after parent unmount")
	}
	if p := tr.Parent(armNode); p != nil {
		t.Fatalf("child not promoted to root, parent %q", p.Label())
	}
}

func TestBuildDeviceOnDeviceAndPlatform(t *testing.T) {
	mast := &model.Platform{ID: "p1", ShortName: "Mast"}
	logger := &model.Device{ID: "d1", ShortName: "Logger"}
	ctd := &model.Device{ID: "d2", ShortName: "CTD"}
	begin := day(2022, time.March, 1)

	// The CTD is listed first to check parents resolve regardless of order.
	devices := []*model.DeviceMountAction{
		{MountAction: model.MountAction{ID: "m-ctd", BeginDate: begin}, Device: ctd, ParentDevice: logger},
		{MountAction: model.MountAction{ID: "m-logger", BeginDate: begin, ParentPlatform: mast}, Device: logger},
	}
	platforms := []*model.PlatformMountAction{
		{MountAction: model.MountAction{ID: "m-mast", BeginDate: begin}, Platform: mast},
	}

	tr := Build(platforms, devices, begin)
	ctdNode := tr.DeviceByID("d2")
	path := tr.Path(ctdNode)
	want := []string{"Mast", "Logger", "CTD"}
	if len(path) != 3 || path[0] != want[0] || path[1] != want[1] || path[2] != want[2] {
		t.Fatalf("Path(ctd) = %v, want %v", path, want)
	}
	if got := len(tr.AllDeviceNodes()); got != 2 {
		t.Fatalf("AllDeviceNodes = %d, want 2", got)
	}
}

func TestBuildBreaksParentCycles(t *testing.T) {
	a := &model.Platform{ID: "a", ShortName: "A"}
	b := &model.Platform{ID: "b", ShortName: "B"}
	begin := day(2022, time.March, 1)
	mounts := []*model.PlatformMountAction{
		{MountAction: model.MountAction{ID: "ma", BeginDate: begin, ParentPlatform: b}, Platform: a},
		{MountAction: model.MountAction{ID: "mb", BeginDate: begin, ParentPlatform: a}, Platform: b},
	}
	tr := Build(mounts, nil, begin)
	if got := len(tr.Nodes()); got != 2 {
		t.Fatalf("reachable nodes = %d, want 2", got)
	}
}
