package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/equipment-mounts/kb"
	"github.com/signalsfoundry/equipment-mounts/model"
	"github.com/signalsfoundry/equipment-mounts/timectrl"
	"github.com/signalsfoundry/equipment-mounts/tree"
	"github.com/signalsfoundry/equipment-mounts/validation"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

type recordingMetrics struct {
	mu          sync.Mutex
	builds      int
	hits        int
	misses      int
	validations map[string]int
}

func (r *recordingMetrics) ObserveTreeBuild(string, time.Duration, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builds++
}

func (r *recordingMetrics) RecordValidation(kind, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.validations == nil {
		r.validations = make(map[string]int)
	}
	r.validations[kind+"/"+outcome]++
}

func (r *recordingMetrics) RecordSnapshotCache(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}

type station struct {
	store  *kb.KnowledgeBase
	mast   *model.Platform
	logger *model.Device
	gps    *model.Device
	spare  *model.Device
}

// newStation builds:
//
//	Mast    2020-01-01 .. 2022-01-01
//	└ Logger 2020-02-01 .. 2021-12-01
//	  └ GPS  2020-03-01 .. 2021-06-01 (GPS track 2020-04-01 .. 2020-09-01)
//
// The spare device is unavailable 2020-05-01 .. 2020-06-01.
func newStation(t *testing.T) *station {
	t.Helper()
	st := &station{
		store:  kb.NewKnowledgeBase(),
		mast:   &model.Platform{ID: "p-mast", ShortName: "Mast"},
		logger: &model.Device{ID: "d-logger", ShortName: "Logger"},
		gps:    &model.Device{ID: "d-gps", ShortName: "GPS", Properties: []*model.DeviceProperty{{ID: "prop-lat"}, {ID: "prop-lon"}}},
		spare:  &model.Device{ID: "d-spare", ShortName: "Spare"},
	}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	must(st.store.AddConfiguration(&model.Configuration{ID: "c1", Label: "Station"}))
	must(st.store.AddPlatform(st.mast))
	must(st.store.AddDevice(st.logger))
	must(st.store.AddDevice(st.gps))
	must(st.store.AddDevice(st.spare))
	must(st.store.AddPlatformMount(&model.PlatformMountAction{
		MountAction: model.MountAction{ID: "pm-mast", ConfigurationID: "c1", BeginDate: day(2020, time.January, 1), EndDate: ptr(day(2022, time.January, 1))},
		Platform:    st.mast,
	}))
	must(st.store.AddDeviceMount(&model.DeviceMountAction{
		MountAction: model.MountAction{ID: "dm-logger", ConfigurationID: "c1", BeginDate: day(2020, time.February, 1), EndDate: ptr(day(2021, time.December, 1)), ParentPlatform: st.mast},
		Device:      st.logger,
	}))
	must(st.store.AddDeviceMount(&model.DeviceMountAction{
		MountAction:  model.MountAction{ID: "dm-gps", ConfigurationID: "c1", BeginDate: day(2020, time.March, 1), EndDate: ptr(day(2021, time.June, 1))},
		Device:       st.gps,
		ParentDevice: st.logger,
	}))
	must(st.store.AddDynamicLocation(&model.DynamicLocationAction{
		ID: "loc-gps", ConfigurationID: "c1", Label: "GPS track",
		BeginDate: ptr(day(2020, time.April, 1)), EndDate: ptr(day(2020, time.September, 1)),
		X: st.gps.Properties[1], Y: st.gps.Properties[0],
	}))
	must(st.store.AddStaticLocation(&model.StaticLocationAction{
		ID: "loc-site", ConfigurationID: "c1", Label: "Site", BeginDate: ptr(day(2020, time.September, 1)),
	}))
	must(st.store.AddAvailability(&model.Availability{
		EquipmentID: "d-spare", BeginDate: day(2020, time.May, 1), EndDate: ptr(day(2020, time.June, 1)), Reason: "calibration",
	}))
	return st
}

func (st *station) spareOnMast(begin time.Time, end *time.Time) *model.DeviceMountAction {
	return &model.DeviceMountAction{
		MountAction: model.MountAction{ConfigurationID: "c1", BeginDate: begin, EndDate: end, ParentPlatform: st.mast},
		Device:      st.spare,
	}
}

func TestSnapshotCachesAndInvalidates(t *testing.T) {
	st := newStation(t)
	metrics := &recordingMetrics{}
	s := NewConfigurationState(st.store, WithMetricsRecorder(metrics))
	defer s.Close()
	ctx := context.Background()
	at := day(2020, time.June, 1)

	first, err := s.Snapshot(ctx, "c1", at)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	second, err := s.Snapshot(ctx, "c1", at)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if first == second || first.PlatformByID("p-mast") == second.PlatformByID("p-mast") {
		t.Fatalf("cached snapshot returned shared nodes")
	}
	if metrics.builds != 1 || metrics.hits != 1 || metrics.misses != 1 {
		t.Fatalf("builds/hits/misses = %d/%d/%d, want 1/1/1", metrics.builds, metrics.hits, metrics.misses)
	}
	if got := first.Path(first.DeviceByID("d-gps")); len(got) != 3 || got[0] != "Mast" {
		t.Fatalf("Path(gps) = %v", got)
	}

	if err := s.Mount(ctx, "c1", st.spareOnMast(day(2020, time.July, 1), ptr(day(2021, time.January, 1)))); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if _, err := s.Snapshot(ctx, "c1", at); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	// One build for the mount validation, one for the invalidated snapshot.
	if metrics.builds != 3 {
		t.Fatalf("builds = %d, want 3", metrics.builds)
	}
}

func TestSnapshotWithoutCacheUsesClock(t *testing.T) {
	st := newStation(t)
	s := NewConfigurationState(st.store, WithSnapshotCache(0, 0), WithClock(timectrl.NewFixedClock(day(2021, time.July, 1))))
	defer s.Close()

	tr, err := s.Snapshot(context.Background(), "c1", time.Time{})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if tr.DeviceByID("d-gps") != nil || tr.DeviceByID("d-logger") == nil {
		t.Fatalf("snapshot at clock time has wrong devices")
	}
	if _, err := s.Snapshot(context.Background(), "missing", time.Time{}); !errors.Is(err, ErrConfigurationNotFound) {
		t.Fatalf("unknown configuration err = %v", err)
	}
}

func TestValidateMount(t *testing.T) {
	st := newStation(t)
	later := st.spareOnMast(day(2021, time.January, 1), ptr(day(2021, time.June, 1)))
	later.ID = "dm-spare-later"
	if err := st.store.AddDeviceMount(later); err != nil {
		t.Fatalf("AddDeviceMount: %v", err)
	}
	s := NewConfigurationState(st.store)
	defer s.Close()

	tests := []struct {
		name  string
		mount model.Mounting
		want  error
	}{
		{
			name:  "parent not mounted yet",
			mount: st.spareOnMast(day(2019, time.June, 1), ptr(day(2019, time.July, 1))),
			want:  ErrParentNotMounted,
		},
		{
			name:  "open end under bounded parent",
			mount: st.spareOnMast(day(2020, time.July, 1), nil),
			want:  ErrMountConflict,
		},
		{
			name:  "ends after parent",
			mount: st.spareOnMast(day(2020, time.July, 1), ptr(day(2023, time.January, 1))),
			want:  ErrMountConflict,
		},
		{
			name:  "overlaps unavailable window",
			mount: st.spareOnMast(day(2020, time.May, 15), ptr(day(2020, time.July, 1))),
			want:  ErrEquipmentUnavailable,
		},
		{
			name:  "touches unavailable window",
			mount: st.spareOnMast(day(2020, time.June, 1), ptr(day(2020, time.July, 1))),
		},
		{
			name: "already mounted",
			mount: &model.DeviceMountAction{
				MountAction: model.MountAction{BeginDate: day(2020, time.June, 1), EndDate: ptr(day(2020, time.July, 1)), ParentPlatform: st.mast},
				Device:      st.logger,
			},
			want: ErrAlreadyMounted,
		},
		{
			name: "remount after previous mount ended",
			mount: &model.DeviceMountAction{
				MountAction: model.MountAction{BeginDate: day(2021, time.June, 1), EndDate: ptr(day(2021, time.August, 1)), ParentPlatform: st.mast},
				Device:      st.gps,
			},
		},
		{
			name:  "overlaps a later mount",
			mount: st.spareOnMast(day(2020, time.July, 1), ptr(day(2021, time.December, 1))),
			want:  ErrAlreadyMounted,
		},
		{
			name:  "ends where the later mount begins",
			mount: st.spareOnMast(day(2020, time.July, 1), ptr(day(2021, time.January, 1))),
		},
		{
			name:  "begins where the later mount ends",
			mount: st.spareOnMast(day(2021, time.June, 1), ptr(day(2021, time.August, 1))),
		},
		{
			name:  "inside the later mount",
			mount: st.spareOnMast(day(2021, time.February, 1), ptr(day(2021, time.March, 1))),
			want:  ErrAlreadyMounted,
		},
		{
			name:  "invalid range",
			mount: st.spareOnMast(day(2020, time.July, 1), ptr(day(2020, time.June, 1))),
			want:  model.ErrInvalidMountAction,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := s.ValidateMount(context.Background(), "c1", tc.mount)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("ValidateMount err = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("ValidateMount err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestValidateMountReportsConflictDetails(t *testing.T) {
	st := newStation(t)
	s := NewConfigurationState(st.store)
	defer s.Close()

	err := s.ValidateMount(context.Background(), "c1", st.spareOnMast(day(2020, time.July, 1), ptr(day(2023, time.January, 1))))
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ConflictError", err)
	}
	if ce.Conflict.Property != validation.EndDate || ce.Conflict.Op != validation.OpGreaterThan {
		t.Fatalf("conflict = %+v", ce.Conflict)
	}
	if ce.Conflict.Target.ID != "p-mast" {
		t.Fatalf("conflict target = %+v", ce.Conflict.Target)
	}
}

func TestValidateChangedMountAgainstChildrenAndLocations(t *testing.T) {
	st := newStation(t)
	metrics := &recordingMetrics{}
	s := NewConfigurationState(st.store, WithMetricsRecorder(metrics))
	defer s.Close()
	ctx := context.Background()

	shortMast := &model.PlatformMountAction{
		MountAction: model.MountAction{ID: "pm-mast", BeginDate: day(2020, time.January, 1), EndDate: ptr(day(2021, time.January, 1))},
		Platform:    st.mast,
	}
	var ce *ConflictError
	if err := s.ValidateMount(ctx, "c1", shortMast); !errors.As(err, &ce) {
		t.Fatalf("shortened mast err = %v, want conflict", err)
	}
	if ce.Conflict.Perspective != validation.PerspectiveParent || ce.Conflict.Subject.ID != "p-mast" {
		t.Fatalf("conflict = %+v", ce.Conflict)
	}

	shortGPS := &model.DeviceMountAction{
		MountAction:  model.MountAction{ID: "dm-gps", BeginDate: day(2020, time.March, 1), EndDate: ptr(day(2020, time.June, 1))},
		Device:       st.gps,
		ParentDevice: st.logger,
	}
	if err := s.ValidateMount(ctx, "c1", shortGPS); !errors.As(err, &ce) {
		t.Fatalf("shortened gps err = %v, want conflict", err)
	}
	if ce.Conflict.Subject.ID != "loc-gps" {
		t.Fatalf("conflict subject = %+v, want the GPS track", ce.Conflict.Subject)
	}

	if got := metrics.validations["mount/conflict"]; got != 2 {
		t.Fatalf("mount/conflict = %d, want 2", got)
	}
}

func TestValidateUnmount(t *testing.T) {
	st := newStation(t)
	s := NewConfigurationState(st.store)
	defer s.Close()
	ctx := context.Background()

	report, err := s.ValidateUnmount(ctx, "c1", "d-logger", day(2020, time.June, 1))
	if err != nil {
		t.Fatalf("ValidateUnmount: %v", err)
	}
	if report.OK() || len(report.Verdicts) != 2 {
		t.Fatalf("report ok=%v verdicts=%d, want blocked with 2 verdicts", report.OK(), len(report.Verdicts))
	}
	blocked, _ := report.FirstBlocked()
	if blocked.Node.EquipmentID() != "d-gps" || blocked.Reason != validation.ReasonActiveDynamicLocation {
		t.Fatalf("blocked = %s/%s", blocked.Node.Label(), blocked.Reason)
	}
	if report.EndDateToOverwrite == nil || !report.EndDateToOverwrite.Equal(day(2021, time.December, 1)) {
		t.Fatalf("EndDateToOverwrite = %v", report.EndDateToOverwrite)
	}

	report, err = s.ValidateUnmount(ctx, "c1", "d-logger", day(2020, time.October, 1))
	if err != nil || !report.OK() {
		t.Fatalf("unmount after track ended: ok=%v err=%v", report.OK(), err)
	}

	if _, err := s.ValidateUnmount(ctx, "c1", "d-spare", day(2020, time.October, 1)); !errors.Is(err, ErrNotMounted) {
		t.Fatalf("unmounted equipment err = %v", err)
	}
}

func TestUnmountAtLocationBoundary(t *testing.T) {
	// The GPS track runs 2020-04-01 .. 2020-09-01.
	tests := []struct {
		name    string
		date    time.Time
		blocked bool
	}{
		{name: "while the track runs", date: day(2020, time.August, 31), blocked: true},
		{name: "at the track end", date: day(2020, time.September, 1), blocked: true},
		{name: "after the track end", date: day(2020, time.September, 1).Add(time.Second)},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			st := newStation(t)
			s := NewConfigurationState(st.store)
			defer s.Close()

			report, err := s.Unmount(context.Background(), "c1", "d-gps", tc.date, nil, "")
			_, devices := st.store.MountsForConfiguration("c1")
			gps := devices[1]
			if tc.blocked {
				if !errors.Is(err, ErrUnmountBlocked) || report.OK() {
					t.Fatalf("Unmount err = %v ok = %v, want blocked", err, report.OK())
				}
				if !gps.EndDate.Equal(day(2021, time.June, 1)) {
					t.Fatalf("blocked unmount changed end to %v", gps.EndDate)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmount: %v", err)
			}
			if !gps.EndDate.Equal(tc.date) {
				t.Fatalf("gps end = %v, want %v", gps.EndDate, tc.date)
			}
		})
	}
}

func TestSnapshotBuiltBeforeChangeIsNotCached(t *testing.T) {
	st := newStation(t)
	s := NewConfigurationState(st.store)
	defer s.Close()
	at := day(2020, time.August, 1)
	key := snapshotKey{configID: "c1", at: at.UnixNano()}

	gen := s.generation("c1")
	platforms, devices := st.store.MountsForConfiguration("c1")
	stale := tree.Build(platforms, devices, at)

	if err := st.store.AddDeviceMount(st.spareOnMast(day(2020, time.July, 1), ptr(day(2020, time.December, 1)))); err != nil {
		t.Fatalf("AddDeviceMount: %v", err)
	}
	if s.cacheSnapshot(key, stale, gen) {
		t.Fatalf("tree built before the mount change was cached")
	}
	if _, ok := s.cache.Get(key); ok {
		t.Fatalf("stale tree found in cache")
	}

	fresh, err := s.Snapshot(context.Background(), "c1", at)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if fresh.DeviceByID("d-spare") == nil {
		t.Fatalf("snapshot after the change misses the spare device")
	}
	if !s.cacheSnapshot(key, fresh, s.generation("c1")) {
		t.Fatalf("current tree was not cached")
	}
}

func TestUnmountEndsSubtree(t *testing.T) {
	st := newStation(t)
	s := NewConfigurationState(st.store)
	defer s.Close()
	ctx := context.Background()
	at := day(2020, time.October, 1)

	if _, err := s.Unmount(ctx, "c1", "d-logger", day(2020, time.June, 1), nil, ""); !errors.Is(err, ErrUnmountBlocked) {
		t.Fatalf("blocked unmount err = %v", err)
	}

	contact := &model.Contact{ID: "u1", GivenName: "Ada"}
	if _, err := s.Unmount(ctx, "c1", "d-logger", at, contact, "station dismantled"); err != nil {
		t.Fatalf("Unmount: %v", err)
	}

	_, devices := st.store.MountsForConfiguration("c1")
	for _, d := range devices {
		if d.EndDate == nil || !d.EndDate.Equal(at) || d.EndContact == nil || d.EndContact.ID != "u1" {
			t.Fatalf("mount %s end = %v contact = %v", d.ID, d.EndDate, d.EndContact)
		}
	}

	tr, err := s.Snapshot(ctx, "c1", at.Add(time.Second))
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(tr.AllDeviceNodes()) != 0 || tr.PlatformByID("p-mast") == nil {
		t.Fatalf("tree after unmount has %d devices", len(tr.AllDeviceNodes()))
	}
}

func TestTimelineCursorAndLocations(t *testing.T) {
	st := newStation(t)
	s := NewConfigurationState(st.store, WithClock(timectrl.NewFixedClock(day(2020, time.May, 1))))
	defer s.Close()
	ctx := context.Background()

	points, err := s.Timeline(ctx, "c1")
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	// 3 mounts with ends, one dynamic location with end, one open static location.
	if len(points) != 9 {
		t.Fatalf("timepoints = %d, want 9", len(points))
	}
	for i := 1; i < len(points); i++ {
		if points[i].At.Before(points[i-1].At) {
			t.Fatalf("timepoints not sorted at %d", i)
		}
	}

	cursor, err := s.Cursor(ctx, "c1")
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if cur, _ := cursor.Current(); cur.ActionID != "loc-gps" || cur.Kind != timectrl.TimepointLocationBegin {
		t.Fatalf("cursor at %+v, want GPS track begin", cur)
	}

	static, dynamic, err := s.ActiveLocations(ctx, "c1", time.Time{})
	if err != nil {
		t.Fatalf("ActiveLocations: %v", err)
	}
	if len(static) != 0 || len(dynamic) != 1 {
		t.Fatalf("active locations = %d static, %d dynamic", len(static), len(dynamic))
	}
	static, dynamic, _ = s.ActiveLocations(ctx, "c1", day(2020, time.September, 1))
	if len(static) != 1 || len(dynamic) != 0 {
		t.Fatalf("locations at track end = %d static, %d dynamic", len(static), len(dynamic))
	}

	if _, err := s.Timeline(ctx, "nope"); !errors.Is(err, ErrConfigurationNotFound) {
		t.Fatalf("Timeline(nope) err = %v", err)
	}
}

func TestConflictErrorMessage(t *testing.T) {
	err := &ConflictError{Conflict: &validation.Conflict{
		Subject:  validation.Ref{Kind: "device", ID: "d1", Label: "CTD"},
		Target:   validation.Ref{Kind: "platform", ID: "p1", Label: "Mast"},
		Property: validation.BeginDate, TargetProperty: validation.BeginDate,
		Op: validation.OpLessThan, Value: ptr(day(2020, time.January, 1)), TargetValue: ptr(day(2020, time.February, 1)),
	}}
	if !errors.Is(err, ErrMountConflict) {
		t.Fatalf("ConflictError does not wrap ErrMountConflict")
	}
	if msg := err.Error(); msg == "" || msg == ErrMountConflict.Error() {
		t.Fatalf("Error() = %q", msg)
	}
}
