package model

import "time"

// DynamicLocationAction declares that, during its window, the position of a
// configuration is taken from live readings of up to three device properties.
type DynamicLocationAction struct {
	ID              string
	ConfigurationID string
	Label           string

	// BeginDate may be nil for drafts that are not scheduled yet.
	BeginDate *time.Time
	EndDate   *time.Time

	X *DeviceProperty
	Y *DeviceProperty
	Z *DeviceProperty

	EpsgCode           string
	ElevationDatumName string

	BeginContact *Contact
	EndContact   *Contact
}

// PropertyIDs returns the IDs of the coordinate properties that are set.
func (a *DynamicLocationAction) PropertyIDs() []string {
	ids := make([]string, 0, 3)
	for _, p := range []*DeviceProperty{a.X, a.Y, a.Z} {
		if p != nil && p.ID != "" {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// StaticLocationAction pins the configuration to fixed coordinates for a
// time range.
type StaticLocationAction struct {
	ID              string
	ConfigurationID string
	Label           string

	BeginDate *time.Time
	EndDate   *time.Time

	X float64
	Y float64
	Z float64

	EpsgCode           string
	ElevationDatumName string
}

// Availability marks a time window in which a piece of equipment is (or is
// not) usable. Equipment without availability records is available.
type Availability struct {
	ID          string
	EquipmentID string
	Available   bool
	BeginDate   time.Time
	EndDate     *time.Time
	Reason      string
}
