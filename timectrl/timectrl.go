package timectrl

import (
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/equipment-mounts/model"
)

// Clock is an interface for accessing the current instant. Components that
// need "now" as a default reference date depend on it rather than on
// time.Now directly.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. It is used for historical
// views and in tests.
type FixedClock struct {
	mu sync.RWMutex
	at time.Time
}

// NewFixedClock constructs a clock frozen at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{at: t}
}

func (c *FixedClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.at
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.at = t
	c.mu.Unlock()
}

// TimepointKind describes what happens at a Timepoint.
type TimepointKind int

const (
	TimepointMount TimepointKind = iota
	TimepointUnmount
	TimepointLocationBegin
	TimepointLocationEnd
)

func (k TimepointKind) String() string {
	switch k {
	case TimepointMount:
		return "mount"
	case TimepointUnmount:
		return "unmount"
	case TimepointLocationBegin:
		return "location_begin"
	case TimepointLocationEnd:
		return "location_end"
	default:
		return "unknown"
	}
}

// Timepoint is an instant at which the equipment tree or the location of a
// configuration changes.
type Timepoint struct {
	At       time.Time
	Kind     TimepointKind
	ActionID string
	Label    string
}

// Timepoints collects every begin and end instant of the given actions,
// sorted ascending. Points at the same instant keep the order in which they
// were collected: platform mounts, device mounts, dynamic then static
// locations.
func Timepoints(
	platformMounts []*model.PlatformMountAction,
	deviceMounts []*model.DeviceMountAction,
	dynamic []*model.DynamicLocationAction,
	static []*model.StaticLocationAction,
) []Timepoint {
	var out []Timepoint
	addMount := func(a *model.MountAction, label string) {
		out = append(out, Timepoint{At: a.BeginDate, Kind: TimepointMount, ActionID: a.ID, Label: label})
		if a.EndDate != nil {
			out = append(out, Timepoint{At: *a.EndDate, Kind: TimepointUnmount, ActionID: a.ID, Label: label})
		}
	}
	addLocation := func(id, label string, begin, end *time.Time) {
		if begin != nil {
			out = append(out, Timepoint{At: *begin, Kind: TimepointLocationBegin, ActionID: id, Label: label})
		}
		if end != nil {
			out = append(out, Timepoint{At: *end, Kind: TimepointLocationEnd, ActionID: id, Label: label})
		}
	}

	for _, a := range platformMounts {
		if a != nil && a.Platform != nil {
			addMount(&a.MountAction, a.Platform.Label())
		}
	}
	for _, a := range deviceMounts {
		if a != nil && a.Device != nil {
			addMount(&a.MountAction, a.Device.Label())
		}
	}
	for _, a := range dynamic {
		if a != nil {
			addLocation(a.ID, a.Label, a.BeginDate, a.EndDate)
		}
	}
	for _, a := range static {
		if a != nil {
			addLocation(a.ID, a.Label, a.BeginDate, a.EndDate)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Cursor walks over a sorted list of timepoints and notifies registered
// listeners whenever the selected instant changes. It backs the reference
// date selection of a configuration view.
type Cursor struct {
	mu        sync.RWMutex
	points    []Timepoint
	idx       int
	listeners []func(Timepoint)
}

// NewCursor constructs a cursor positioned at the last timepoint not after
// clock.Now(), or at the first one when all of them lie in the future.
func NewCursor(points []Timepoint, clock Clock) *Cursor {
	c := &Cursor{points: append([]Timepoint(nil), points...), idx: -1}
	if len(c.points) == 0 {
		return c
	}
	c.idx = 0
	if clock != nil {
		if i := c.indexAtOrBefore(clock.Now()); i >= 0 {
			c.idx = i
		}
	}
	return c
}

// Len returns the number of timepoints.
func (c *Cursor) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.points)
}

// Current returns the selected timepoint; ok is false on an empty cursor.
func (c *Cursor) Current() (tp Timepoint, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.idx < 0 {
		return Timepoint{}, false
	}
	return c.points[c.idx], true
}

// Next moves one timepoint forward. It returns false at the end.
func (c *Cursor) Next() bool {
	return c.move(func(i int) int { return i + 1 })
}

// Prev moves one timepoint back. It returns false at the start.
func (c *Cursor) Prev() bool {
	return c.move(func(i int) int { return i - 1 })
}

// Seek selects the last timepoint at or before t. It returns false when t
// precedes every timepoint, leaving the cursor where it was.
func (c *Cursor) Seek(t time.Time) bool {
	c.mu.RLock()
	i := c.indexAtOrBefore(t)
	c.mu.RUnlock()
	if i < 0 {
		return false
	}
	return c.move(func(int) int { return i })
}

// AddListener registers a callback invoked after every move.
func (c *Cursor) AddListener(fn func(Timepoint)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Cursor) move(step func(int) int) bool {
	c.mu.Lock()
	if c.idx < 0 {
		c.mu.Unlock()
		return false
	}
	i := step(c.idx)
	if i < 0 || i >= len(c.points) {
		c.mu.Unlock()
		return false
	}
	changed := i != c.idx
	c.idx = i
	tp := c.points[i]
	listeners := append([]func(Timepoint){}, c.listeners...)
	c.mu.Unlock()

	if changed {
		for _, fn := range listeners {
			fn(tp)
		}
	}
	return true
}

// indexAtOrBefore expects c.mu to be held.
func (c *Cursor) indexAtOrBefore(t time.Time) int {
	// First index strictly after t, minus one.
	return sort.Search(len(c.points), func(i int) bool { return c.points[i].At.After(t) }) - 1
}
