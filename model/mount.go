package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidMountAction is returned by Validate for structurally broken mounts.
var ErrInvalidMountAction = errors.New("invalid mount action")

// Interval is a time range with an optional (open) end.
type Interval struct {
	Begin time.Time
	End   *time.Time
}

// Contains reports whether t lies in the interval. Both bounds are inclusive.
func (iv Interval) Contains(t time.Time) bool {
	if t.Before(iv.Begin) {
		return false
	}
	return iv.End == nil || !t.After(*iv.End)
}

// Ended reports whether the interval was already over at t.
func (iv Interval) Ended(t time.Time) bool {
	return iv.End != nil && iv.End.Before(t)
}

// MountAction holds the fields shared by platform and device mounts: the
// time range, the spatial offset relative to the parent and who recorded
// the mount and unmount.
type MountAction struct {
	ID              string
	ConfigurationID string

	// ParentPlatform is nil when mounted directly on the configuration.
	ParentPlatform *Platform

	BeginDate time.Time
	// EndDate is nil while the mount is open ended.
	EndDate *time.Time

	OffsetX float64
	OffsetY float64
	OffsetZ float64

	EpsgCode           string
	X                  *float64
	Y                  *float64
	Z                  *float64
	ElevationDatumName string
	ElevationDatumURI  string

	BeginContact     *Contact
	EndContact       *Contact
	BeginDescription string
	EndDescription   string
}

// Interval returns the mount's time range.
func (m *MountAction) Interval() Interval {
	return Interval{Begin: m.BeginDate, End: m.EndDate}
}

// Validate checks the begin/end invariant.
func (m *MountAction) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: mount action is nil", ErrInvalidMountAction)
	}
	if m.BeginDate.IsZero() {
		return fmt.Errorf("%w: begin date is required", ErrInvalidMountAction)
	}
	if m.EndDate != nil && m.EndDate.Before(m.BeginDate) {
		return fmt.Errorf("%w: end date %s is before begin date %s", ErrInvalidMountAction,
			m.EndDate.Format(time.RFC3339), m.BeginDate.Format(time.RFC3339))
	}
	return nil
}

// Mounting is implemented by PlatformMountAction and DeviceMountAction so
// that validators can treat both the same way.
type Mounting interface {
	Base() *MountAction
	// Mounted is the equipment this action mounts.
	Mounted() Equipment
	// Parent is the equipment this action mounts onto, nil for the
	// configuration itself.
	Parent() Equipment
}

// PlatformMountAction mounts a platform.
type PlatformMountAction struct {
	MountAction

	Platform *Platform
	Label    string
}

func (a *PlatformMountAction) Base() *MountAction { return &a.MountAction }

func (a *PlatformMountAction) Mounted() Equipment {
	if a.Platform == nil {
		return nil
	}
	return a.Platform
}

func (a *PlatformMountAction) Parent() Equipment {
	if a.ParentPlatform == nil {
		return nil
	}
	return a.ParentPlatform
}

// Validate checks the base invariant and that the mounted platform is set.
func (a *PlatformMountAction) Validate() error {
	if err := a.MountAction.Validate(); err != nil {
		return err
	}
	if a.Platform == nil || a.Platform.ID == "" {
		return fmt.Errorf("%w: platform is required", ErrInvalidMountAction)
	}
	if a.ParentPlatform != nil && a.ParentPlatform.ID == a.Platform.ID {
		return fmt.Errorf("%w: platform %q cannot be mounted on itself", ErrInvalidMountAction, a.Platform.ID)
	}
	return nil
}

// DeviceMountAction mounts a device onto a platform, onto another device or
// directly onto the configuration.
type DeviceMountAction struct {
	MountAction

	Device *Device
	// ParentDevice and ParentPlatform are mutually exclusive.
	ParentDevice *Device
}

func (a *DeviceMountAction) Base() *MountAction { return &a.MountAction }

func (a *DeviceMountAction) Mounted() Equipment {
	if a.Device == nil {
		return nil
	}
	return a.Device
}

func (a *DeviceMountAction) Parent() Equipment {
	switch {
	case a.ParentDevice != nil:
		return a.ParentDevice
	case a.ParentPlatform != nil:
		return a.ParentPlatform
	default:
		return nil
	}
}

// Validate checks the base invariant, the device reference and the
// exclusive parent rule.
func (a *DeviceMountAction) Validate() error {
	if err := a.MountAction.Validate(); err != nil {
		return err
	}
	if a.Device == nil || a.Device.ID == "" {
		return fmt.Errorf("%w: device is required", ErrInvalidMountAction)
	}
	if a.ParentDevice != nil && a.ParentPlatform != nil {
		return fmt.Errorf("%w: device %q cannot have both a parent platform and a parent device", ErrInvalidMountAction, a.Device.ID)
	}
	if a.ParentDevice != nil && a.ParentDevice.ID == a.Device.ID {
		return fmt.Errorf("%w: device %q cannot be mounted on itself", ErrInvalidMountAction, a.Device.ID)
	}
	return nil
}
