// Package state coordinates the knowledge base with tree snapshots and the
// mount/unmount validators.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/signalsfoundry/equipment-mounts/internal/logging"
	"github.com/signalsfoundry/equipment-mounts/kb"
	"github.com/signalsfoundry/equipment-mounts/model"
	"github.com/signalsfoundry/equipment-mounts/timectrl"
	"github.com/signalsfoundry/equipment-mounts/tree"
	"github.com/signalsfoundry/equipment-mounts/validation"
)

// Re-export kb sentinel errors so callers can depend on state.* instead of
// kb.* directly if they want to.
var (
	// ErrConfigurationNotFound indicates a requested configuration was not found.
	ErrConfigurationNotFound = kb.ErrConfigurationNotFound
	// ErrPlatformNotFound indicates a referenced platform was not found.
	ErrPlatformNotFound = kb.ErrPlatformNotFound
	// ErrDeviceNotFound indicates a referenced device was not found.
	ErrDeviceNotFound = kb.ErrDeviceNotFound
	// ErrMountConflict indicates a mount does not fit the timeline of its
	// parent, its children or a dynamic location.
	ErrMountConflict = errors.New("mount conflicts with timeline")
	// ErrEquipmentUnavailable indicates the equipment is flagged as not
	// available during the mount.
	ErrEquipmentUnavailable = errors.New("equipment not available")
	// ErrParentNotMounted indicates the parent is not mounted at the begin
	// date of the mount.
	ErrParentNotMounted = errors.New("parent not mounted")
	// ErrAlreadyMounted indicates the equipment already has another mount
	// at the begin date.
	ErrAlreadyMounted = errors.New("equipment already mounted")
	// ErrNotMounted indicates the equipment is not part of the tree at the
	// requested date.
	ErrNotMounted = errors.New("equipment not mounted")
	// ErrUnmountBlocked indicates at least one node of the subtree may not
	// be unmounted.
	ErrUnmountBlocked = errors.New("unmount not allowed")
)

// ConflictError carries the conflict found by a mount validation.
type ConflictError struct {
	Conflict *validation.Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMountConflict, validation.BuildErrorMessage(e.Conflict))
}

func (e *ConflictError) Unwrap() error { return ErrMountConflict }

// MetricsRecorder receives tree build, validation and cache events.
type MetricsRecorder interface {
	ObserveTreeBuild(configID string, d time.Duration, nodes int)
	RecordValidation(kind, outcome string)
	RecordSnapshotCache(hit bool)
}

type noopMetrics struct{}

func (noopMetrics) ObserveTreeBuild(string, time.Duration, int) {}
func (noopMetrics) RecordValidation(string, string)             {}
func (noopMetrics) RecordSnapshotCache(bool)                    {}

const (
	defaultCacheSize = 256
	defaultCacheTTL  = 10 * time.Minute
)

type snapshotKey struct {
	configID string
	at       int64
}

// ConfigurationState answers tree and validation queries for the
// configurations held in a KnowledgeBase. Built trees are cached per
// configuration and reference instant until the configuration changes.
type ConfigurationState struct {
	store *kb.KnowledgeBase
	cache *expirable.LRU[snapshotKey, *tree.Tree]

	// generations counts mount changes per configuration. A tree built
	// from an older generation is not cached.
	genMu       sync.Mutex
	generations map[string]uint64

	cacheSize int
	cacheTTL  time.Duration

	clock   timectrl.Clock
	log     logging.Logger
	metrics MetricsRecorder

	unsubscribe func()
}

// Option customises ConfigurationState construction.
type Option func(*ConfigurationState)

// WithLogger attaches a structured logger for state-level events.
func WithLogger(l logging.Logger) Option {
	return func(s *ConfigurationState) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *ConfigurationState) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock sets the clock used when no reference date is given.
func WithClock(c timectrl.Clock) Option {
	return func(s *ConfigurationState) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithSnapshotCache sizes the tree snapshot cache. A non-positive size
// disables caching.
func WithSnapshotCache(size int, ttl time.Duration) Option {
	return func(s *ConfigurationState) {
		s.cacheSize = size
		s.cacheTTL = ttl
	}
}

// NewConfigurationState wires a state around store. Call Close to detach it
// from the store's event stream.
func NewConfigurationState(store *kb.KnowledgeBase, opts ...Option) *ConfigurationState {
	s := &ConfigurationState{
		store:       store,
		generations: make(map[string]uint64),
		cacheSize:   defaultCacheSize,
		cacheTTL:  defaultCacheTTL,
		clock:     timectrl.SystemClock{},
		log:       logging.Noop(),
		metrics:   noopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cacheSize > 0 {
		s.cache = expirable.NewLRU[snapshotKey, *tree.Tree](s.cacheSize, nil, s.cacheTTL)
	}
	s.unsubscribe = store.Subscribe(s.onEvent)
	return s
}

// Close stops cache invalidation and drops all cached trees.
func (s *ConfigurationState) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.cache != nil {
		s.cache.Purge()
	}
}

// Store exposes the underlying knowledge base.
func (s *ConfigurationState) Store() *kb.KnowledgeBase { return s.store }

// Now returns the current instant of the state's clock.
func (s *ConfigurationState) Now() time.Time { return s.clock.Now() }

func (s *ConfigurationState) onEvent(ev kb.Event) {
	if s.cache == nil || ev.ConfigurationID == "" {
		return
	}
	switch ev.Type {
	case kb.EventMountAdded, kb.EventMountUnmounted:
	default:
		return
	}
	s.genMu.Lock()
	s.generations[ev.ConfigurationID]++
	s.genMu.Unlock()
	for _, key := range s.cache.Keys() {
		if key.configID == ev.ConfigurationID {
			s.cache.Remove(key)
		}
	}
}

// Configuration returns the configuration with the given ID.
func (s *ConfigurationState) Configuration(configID string) (*model.Configuration, error) {
	cfg := s.store.GetConfiguration(configID)
	if cfg == nil {
		return nil, fmt.Errorf("%w: %q", ErrConfigurationNotFound, configID)
	}
	return cfg, nil
}

// Snapshot returns the tree of a configuration at at. A zero at means now.
// The returned tree is a private copy; callers may modify it.
func (s *ConfigurationState) Snapshot(ctx context.Context, configID string, at time.Time) (*tree.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := s.Configuration(configID); err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = s.clock.Now()
	}
	key := snapshotKey{configID: configID, at: at.UnixNano()}

	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			s.metrics.RecordSnapshotCache(true)
			return cached.Clone(), nil
		}
		s.metrics.RecordSnapshotCache(false)
	}

	gen := s.generation(configID)
	platforms, devices := s.store.MountsForConfiguration(configID)
	start := time.Now()
	t := tree.Build(platforms, devices, at)
	elapsed := time.Since(start)
	nodes := len(t.Nodes())
	s.metrics.ObserveTreeBuild(configID, elapsed, nodes)

	s.log.Debug(ctx, "tree built",
		logging.ConfigurationID(configID),
		logging.Time("at", at),
		logging.Int("nodes", nodes),
		logging.Duration("took", elapsed),
	)

	if s.cache != nil {
		s.cacheSnapshot(key, t, gen)
		return t.Clone(), nil
	}
	return t, nil
}

func (s *ConfigurationState) generation(configID string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[configID]
}

// cacheSnapshot stores t unless the configuration changed after gen was
// read. The check and the insert share genMu with the generation bump in
// onEvent, so an insert either sees the bump or is removed by it.
func (s *ConfigurationState) cacheSnapshot(key snapshotKey, t *tree.Tree, gen uint64) bool {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.generations[key.configID] != gen {
		return false
	}
	s.cache.Add(key, t)
	return true
}

// ValidateMount checks a new or changed mount against the configuration's
// timeline. The parent must be mounted at the begin date and cover the
// whole mount. A changed mount must still cover what was mounted on it.
// The equipment must be available, and dynamic locations using the device's
// properties must stay within the mount.
func (s *ConfigurationState) ValidateMount(ctx context.Context, configID string, mount model.Mounting) error {
	err := s.validateMount(ctx, configID, mount)
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrEquipmentUnavailable):
		outcome = "unavailable"
	case errors.Is(err, ErrMountConflict), errors.Is(err, ErrParentNotMounted), errors.Is(err, ErrAlreadyMounted):
		outcome = "conflict"
	default:
		outcome = "invalid"
	}
	s.metrics.RecordValidation("mount", outcome)
	if err != nil {
		s.log.Debug(ctx, "mount rejected", logging.ConfigurationID(configID), logging.Err(err))
	}
	return err
}

func (s *ConfigurationState) validateMount(ctx context.Context, configID string, mount model.Mounting) error {
	if mount == nil || mount.Mounted() == nil {
		return fmt.Errorf("%w: no equipment to mount", model.ErrInvalidMountAction)
	}
	if v, ok := mount.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	base := mount.Base()
	equipment := mount.Mounted()

	snap, err := s.Snapshot(ctx, configID, base.BeginDate)
	if err != nil {
		return err
	}

	if parent := mount.Parent(); parent != nil {
		parentNode := findNode(snap, parent)
		if parentNode == nil {
			return fmt.Errorf("%w: %s %q at %s", ErrParentNotMounted, parent.EquipmentKind(), parent.Label(),
				base.BeginDate.Format(validation.DisplayLayout))
		}
		if c := validation.ActionConflictsWith(mount, parentNode.Unpack(), validation.PerspectiveChild); c != nil {
			return &ConflictError{Conflict: c}
		}
	}

	if existing := s.overlappingMount(configID, mount); existing != nil {
		return fmt.Errorf("%w: %s %q by mount %q", ErrAlreadyMounted, equipment.EquipmentKind(), equipment.Label(), existing.ID)
	}

	if c := validation.ActionConflictsWithMultiple(mount, s.childMounts(configID, mount)); c != nil {
		return &ConflictError{Conflict: c}
	}

	if w := validation.UnavailableWindow(mount, s.store.AvailabilitiesFor(equipment.EquipmentID())); w != nil {
		return fmt.Errorf("%w: %s %q from %s (%s)", ErrEquipmentUnavailable, equipment.EquipmentKind(), equipment.Label(),
			w.BeginDate.Format(validation.DisplayLayout), w.Reason)
	}

	if dm, ok := mount.(*model.DeviceMountAction); ok {
		for _, loc := range s.store.DynamicLocationsForConfiguration(configID) {
			if !overlaps(dm.Interval(), loc) {
				continue
			}
			if c := validation.DeviceMountCompatibleWithDynamicLocation(dm, loc); c != nil {
				return &ConflictError{Conflict: c}
			}
		}
	}
	return nil
}

// UnmountReport is the outcome of an unmount validation for a node and its
// subtree.
type UnmountReport struct {
	ConfigurationID string
	Date            time.Time
	Tree            *tree.Tree
	Node            *tree.Node
	Verdicts        []validation.UnmountVerdict
	// EndDateToOverwrite is set when the mount already has a later end date.
	EndDateToOverwrite *time.Time
}

// OK reports whether every node of the subtree may be unmounted.
func (r UnmountReport) OK() bool {
	for _, v := range r.Verdicts {
		if !v.OK() {
			return false
		}
	}
	return true
}

// FirstBlocked returns the first blocking verdict, if any.
func (r UnmountReport) FirstBlocked() (validation.UnmountVerdict, bool) {
	for _, v := range r.Verdicts {
		if !v.OK() {
			return v, true
		}
	}
	return validation.UnmountVerdict{}, false
}

// ValidateUnmount checks whether the equipment and everything mounted on it
// may be unmounted at at.
func (s *ConfigurationState) ValidateUnmount(ctx context.Context, configID, equipmentID string, at time.Time) (UnmountReport, error) {
	if at.IsZero() {
		at = s.clock.Now()
	}
	snap, err := s.Snapshot(ctx, configID, at)
	if err != nil {
		return UnmountReport{}, err
	}
	node := snap.PlatformByID(equipmentID)
	if node == nil {
		node = snap.DeviceByID(equipmentID)
	}
	if node == nil {
		return UnmountReport{}, fmt.Errorf("%w: %q at %s", ErrNotMounted, equipmentID, at.Format(validation.DisplayLayout))
	}

	platforms, devices := s.store.MountsForConfiguration(configID)
	locations := s.store.DynamicLocationsForConfiguration(configID)
	v := validation.NewUnmountValidator(snap, at, devices, platforms, locations)

	report := UnmountReport{
		ConfigurationID:    configID,
		Date:               at,
		Tree:               snap,
		Node:               node,
		Verdicts:           v.CheckSubtree(node),
		EndDateToOverwrite: v.UnmountEndDateToOverwrite(node),
	}

	outcome := "ok"
	if blocked, ok := report.FirstBlocked(); ok {
		outcome = "blocked"
		s.log.Debug(ctx, "unmount blocked",
			logging.ConfigurationID(configID),
			logging.EquipmentID(equipmentID),
			logging.String("blocked_node", blocked.Node.Label()),
			logging.String("reason", blocked.Reason.String()),
		)
	}
	s.metrics.RecordValidation("unmount", outcome)
	return report, nil
}

// Mount validates mount and stores it. The configuration ID of the action
// is set to configID.
func (s *ConfigurationState) Mount(ctx context.Context, configID string, mount model.Mounting) error {
	if mount == nil {
		return fmt.Errorf("%w: mount action is nil", model.ErrInvalidMountAction)
	}
	mount.Base().ConfigurationID = configID
	if err := s.ValidateMount(ctx, configID, mount); err != nil {
		return err
	}

	var err error
	switch m := mount.(type) {
	case *model.PlatformMountAction:
		err = s.store.AddPlatformMount(m)
	case *model.DeviceMountAction:
		err = s.store.AddDeviceMount(m)
	default:
		err = fmt.Errorf("%w: unsupported mount type %T", model.ErrInvalidMountAction, mount)
	}
	if err != nil {
		return err
	}

	s.log.Info(ctx, "equipment mounted",
		logging.ConfigurationID(configID),
		logging.MountID(mount.Base().ID),
		logging.String("equipment", mount.Mounted().Label()),
		logging.Time("begin", mount.Base().BeginDate),
	)
	return nil
}

// Unmount validates and records the unmount of the equipment and its whole
// subtree at at. A blocked unmount returns the report together with an
// error wrapping ErrUnmountBlocked.
func (s *ConfigurationState) Unmount(ctx context.Context, configID, equipmentID string, at time.Time, contact *model.Contact, description string) (UnmountReport, error) {
	report, err := s.ValidateUnmount(ctx, configID, equipmentID, at)
	if err != nil {
		return report, err
	}
	if blocked, ok := report.FirstBlocked(); ok {
		return report, fmt.Errorf("%w: %s %q: %s", ErrUnmountBlocked, blocked.Node.Kind(), blocked.Node.Label(), blocked.Reason)
	}

	// Children first so observers never see a child outliving its parent.
	for i := len(report.Verdicts) - 1; i >= 0; i-- {
		m := report.Verdicts[i].Node.Unpack()
		if m == nil {
			continue
		}
		if err := s.store.SetMountEnd(m.Base().ID, report.Date, contact, description); err != nil {
			return report, err
		}
	}

	s.log.Info(ctx, "equipment unmounted",
		logging.ConfigurationID(configID),
		logging.EquipmentID(equipmentID),
		logging.Time("end", report.Date),
		logging.Int("subtree_nodes", len(report.Verdicts)),
		logging.Bool("overwrote_end_date", report.EndDateToOverwrite != nil),
	)
	return report, nil
}

// Timeline lists the instants at which the configuration changes.
func (s *ConfigurationState) Timeline(ctx context.Context, configID string) ([]timectrl.Timepoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := s.Configuration(configID); err != nil {
		return nil, err
	}
	platforms, devices := s.store.MountsForConfiguration(configID)
	return timectrl.Timepoints(
		platforms,
		devices,
		s.store.DynamicLocationsForConfiguration(configID),
		s.store.StaticLocationsForConfiguration(configID),
	), nil
}

// Cursor returns a timeline cursor positioned at the state's current time.
func (s *ConfigurationState) Cursor(ctx context.Context, configID string) (*timectrl.Cursor, error) {
	points, err := s.Timeline(ctx, configID)
	if err != nil {
		return nil, err
	}
	return timectrl.NewCursor(points, s.clock), nil
}

// ActiveLocations returns the static and dynamic locations of the
// configuration that are in effect at at. Location end dates are exclusive.
func (s *ConfigurationState) ActiveLocations(ctx context.Context, configID string, at time.Time) ([]*model.StaticLocationAction, []*model.DynamicLocationAction, error) {
	if _, err := s.Configuration(configID); err != nil {
		return nil, nil, err
	}
	if at.IsZero() {
		at = s.clock.Now()
	}
	active := func(begin, end *time.Time) bool {
		return begin != nil && !begin.After(at) && (end == nil || end.After(at))
	}

	var static []*model.StaticLocationAction
	for _, l := range s.store.StaticLocationsForConfiguration(configID) {
		if active(l.BeginDate, l.EndDate) {
			static = append(static, l)
		}
	}
	var dynamic []*model.DynamicLocationAction
	for _, l := range s.store.DynamicLocationsForConfiguration(configID) {
		if active(l.BeginDate, l.EndDate) {
			dynamic = append(dynamic, l)
		}
	}
	return static, dynamic, nil
}

func findNode(t *tree.Tree, eq model.Equipment) *tree.Node {
	switch eq.EquipmentKind() {
	case model.KindPlatform:
		return t.PlatformByID(eq.EquipmentID())
	case model.KindDevice:
		return t.DeviceByID(eq.EquipmentID())
	}
	return nil
}

// childMounts returns the mounts placed on the equipment during the stored
// version of mount. A mount that is not stored yet has no children.
func (s *ConfigurationState) childMounts(configID string, mount model.Mounting) []model.Mounting {
	id := mount.Base().ID
	if id == "" {
		return nil
	}
	platforms, devices := s.store.MountsForConfiguration(configID)
	all := make([]model.Mounting, 0, len(platforms)+len(devices))
	for _, a := range platforms {
		all = append(all, a)
	}
	for _, a := range devices {
		all = append(all, a)
	}

	var stored *model.MountAction
	for _, m := range all {
		if m.Base().ID == id {
			stored = m.Base()
			break
		}
	}
	if stored == nil {
		return nil
	}

	equipment := mount.Mounted()
	var children []model.Mounting
	for _, m := range all {
		parent := m.Parent()
		if parent == nil || parent.EquipmentKind() != equipment.EquipmentKind() || parent.EquipmentID() != equipment.EquipmentID() {
			continue
		}
		if stored.Interval().Contains(m.Base().BeginDate) {
			children = append(children, m)
		}
	}
	return children
}

// overlappingMount returns another stored mount of the same equipment whose
// range overlaps mount, including mounts that begin later. Ranges that only
// touch at a boundary hand over and do not overlap.
func (s *ConfigurationState) overlappingMount(configID string, mount model.Mounting) *model.MountAction {
	base := mount.Base()
	equipment := mount.Mounted()
	platforms, devices := s.store.MountsForConfiguration(configID)
	others := make([]model.Mounting, 0, len(platforms)+len(devices))
	for _, a := range platforms {
		others = append(others, a)
	}
	for _, a := range devices {
		others = append(others, a)
	}
	for _, other := range others {
		ob := other.Base()
		eq := other.Mounted()
		if ob.ID == base.ID || eq == nil || eq.EquipmentKind() != equipment.EquipmentKind() || eq.EquipmentID() != equipment.EquipmentID() {
			continue
		}
		if base.EndDate != nil && !ob.BeginDate.Before(*base.EndDate) {
			continue
		}
		if ob.EndDate != nil && !ob.EndDate.After(base.BeginDate) {
			continue
		}
		return ob
	}
	return nil
}

func overlaps(iv model.Interval, loc *model.DynamicLocationAction) bool {
	if loc == nil || loc.BeginDate == nil {
		return false
	}
	if iv.End != nil && !loc.BeginDate.Before(*iv.End) {
		return false
	}
	return loc.EndDate == nil || loc.EndDate.After(iv.Begin)
}
