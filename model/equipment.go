package model

import "strings"

// EquipmentKind distinguishes the two kinds of mountable equipment.
type EquipmentKind int

const (
	KindPlatform EquipmentKind = iota
	KindDevice
)

func (k EquipmentKind) String() string {
	switch k {
	case KindPlatform:
		return "platform"
	case KindDevice:
		return "device"
	default:
		return "unknown"
	}
}

// Equipment is anything that can be mounted into a configuration.
type Equipment interface {
	EquipmentID() string
	EquipmentKind() EquipmentKind
	Label() string
	IsArchived() bool
}

// Contact is a person recorded as responsible for a mount or unmount.
type Contact struct {
	ID         string
	GivenName  string
	FamilyName string
	Email      string
}

// FullName joins given and family name.
func (c *Contact) FullName() string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.GivenName + " " + c.FamilyName)
}

// Platform is a carrier structure (mast, pole, buoy, ...) that devices and
// other platforms are mounted on.
type Platform struct {
	ID           string
	ShortName    string
	LongName     string
	PlatformType string
	Archived     bool
}

func (p *Platform) EquipmentID() string          { return p.ID }
func (p *Platform) EquipmentKind() EquipmentKind { return KindPlatform }
func (p *Platform) IsArchived() bool             { return p.Archived }

// Label returns the short name, falling back to the long name and the ID.
func (p *Platform) Label() string {
	return firstNonEmpty(p.ShortName, p.LongName, p.ID)
}

// DeviceProperty is a measured quantity of a device. Properties can feed
// the live coordinates of a dynamic location.
type DeviceProperty struct {
	ID           string
	PropertyName string
	Label        string
	UnitName     string
}

// Device is a sensor or other instrument.
type Device struct {
	ID           string
	ShortName    string
	LongName     string
	DeviceType   string
	SerialNumber string
	Archived     bool

	Properties []*DeviceProperty
}

func (d *Device) EquipmentID() string          { return d.ID }
func (d *Device) EquipmentKind() EquipmentKind { return KindDevice }
func (d *Device) IsArchived() bool             { return d.Archived }

// Label returns the short name, falling back to the long name and the ID.
func (d *Device) Label() string {
	return firstNonEmpty(d.ShortName, d.LongName, d.ID)
}

// HasProperty reports whether a property with the given ID belongs to d.
func (d *Device) HasProperty(propertyID string) bool {
	if d == nil || propertyID == "" {
		return false
	}
	for _, p := range d.Properties {
		if p != nil && p.ID == propertyID {
			return true
		}
	}
	return false
}

// Configuration is the root context (a station or deployment) equipment
// gets mounted into.
type Configuration struct {
	ID       string
	Label    string
	Project  string
	Archived bool
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
