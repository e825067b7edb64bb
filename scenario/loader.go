// Package scenario loads configurations, equipment and their mount and
// location history from a YAML (or JSON) document into a KnowledgeBase.
package scenario

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/equipment-mounts/kb"
	"github.com/signalsfoundry/equipment-mounts/model"
)

// ErrInvalidScenario is returned for structural problems in the document.
var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario is a small summary of what was loaded. It is mainly useful for
// logging from main().
type Scenario struct {
	ConfigurationIDs []string
	PlatformIDs      []string
	DeviceIDs        []string
	MountIDs         []string
	LocationIDs      []string
}

// document shapes are unexported so the file format can evolve freely.
type document struct {
	Configurations   []configurationDoc   `yaml:"configurations"`
	Contacts         []contactDoc         `yaml:"contacts"`
	Platforms        []platformDoc        `yaml:"platforms"`
	Devices          []deviceDoc          `yaml:"devices"`
	PlatformMounts   []mountDoc           `yaml:"platform_mounts"`
	DeviceMounts     []mountDoc           `yaml:"device_mounts"`
	DynamicLocations []dynamicLocationDoc `yaml:"dynamic_locations"`
	StaticLocations  []staticLocationDoc  `yaml:"static_locations"`
	Availabilities   []availabilityDoc    `yaml:"availabilities"`
}

type configurationDoc struct {
	ID       string `yaml:"id"`
	Label    string `yaml:"label"`
	Project  string `yaml:"project"`
	Archived bool   `yaml:"archived"`
}

type contactDoc struct {
	ID         string `yaml:"id"`
	GivenName  string `yaml:"given_name"`
	FamilyName string `yaml:"family_name"`
	Email      string `yaml:"email"`
}

type platformDoc struct {
	ID           string `yaml:"id"`
	ShortName    string `yaml:"short_name"`
	LongName     string `yaml:"long_name"`
	PlatformType string `yaml:"platform_type"`
	Archived     bool   `yaml:"archived"`
}

type propertyDoc struct {
	ID           string `yaml:"id"`
	PropertyName string `yaml:"property_name"`
	Label        string `yaml:"label"`
	UnitName     string `yaml:"unit_name"`
}

type deviceDoc struct {
	ID           string        `yaml:"id"`
	ShortName    string        `yaml:"short_name"`
	LongName     string        `yaml:"long_name"`
	DeviceType   string        `yaml:"device_type"`
	SerialNumber string        `yaml:"serial_number"`
	Archived     bool          `yaml:"archived"`
	Properties   []propertyDoc `yaml:"properties"`
}

// mountDoc serves both platform and device mounts; Platform or Device names
// the mounted equipment.
type mountDoc struct {
	ID             string   `yaml:"id"`
	Configuration  string   `yaml:"configuration"`
	Platform       string   `yaml:"platform"`
	Device         string   `yaml:"device"`
	ParentPlatform string   `yaml:"parent_platform"`
	ParentDevice   string   `yaml:"parent_device"`
	Label          string   `yaml:"label"`
	Begin          string   `yaml:"begin"`
	End            string   `yaml:"end"`
	OffsetX        float64  `yaml:"offset_x"`
	OffsetY        float64  `yaml:"offset_y"`
	OffsetZ        float64  `yaml:"offset_z"`
	EpsgCode       string   `yaml:"epsg_code"`
	X              *float64 `yaml:"x"`
	Y              *float64 `yaml:"y"`
	Z              *float64 `yaml:"z"`
	BeginContact   string   `yaml:"begin_contact"`
	EndContact     string   `yaml:"end_contact"`
	BeginNote      string   `yaml:"begin_description"`
	EndNote        string   `yaml:"end_description"`
}

type dynamicLocationDoc struct {
	ID            string `yaml:"id"`
	Configuration string `yaml:"configuration"`
	Label         string `yaml:"label"`
	Begin         string `yaml:"begin"`
	End           string `yaml:"end"`
	XProperty     string `yaml:"x_property"`
	YProperty     string `yaml:"y_property"`
	ZProperty     string `yaml:"z_property"`
	EpsgCode      string `yaml:"epsg_code"`
	Datum         string `yaml:"elevation_datum"`
}

type staticLocationDoc struct {
	ID            string  `yaml:"id"`
	Configuration string  `yaml:"configuration"`
	Label         string  `yaml:"label"`
	Begin         string  `yaml:"begin"`
	End           string  `yaml:"end"`
	X             float64 `yaml:"x"`
	Y             float64 `yaml:"y"`
	Z             float64 `yaml:"z"`
	EpsgCode      string  `yaml:"epsg_code"`
	Datum         string  `yaml:"elevation_datum"`
}

type availabilityDoc struct {
	ID        string `yaml:"id"`
	Equipment string `yaml:"equipment"`
	Available bool   `yaml:"available"`
	Begin     string `yaml:"begin"`
	End       string `yaml:"end"`
	Reason    string `yaml:"reason"`
}

// Load reads a scenario from r and populates store. JSON input is accepted
// since it is valid YAML.
//
// Equipment is loaded before the actions that reference it, so a document
// may list sections in any order.
func Load(store *kb.KnowledgeBase, r io.Reader) (*Scenario, error) {
	if store == nil {
		return nil, fmt.Errorf("scenario.Load: kb is nil")
	}

	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("scenario.Load: decode failed: %w", err)
	}

	result := &Scenario{}

	for _, c := range doc.Configurations {
		if c.ID == "" {
			return nil, fmt.Errorf("%w: configuration with empty id", ErrInvalidScenario)
		}
		if err := store.AddConfiguration(&model.Configuration{ID: c.ID, Label: c.Label, Project: c.Project, Archived: c.Archived}); err != nil {
			return nil, err
		}
		result.ConfigurationIDs = append(result.ConfigurationIDs, c.ID)
	}
	for _, c := range doc.Contacts {
		if err := store.AddContact(&model.Contact{ID: c.ID, GivenName: c.GivenName, FamilyName: c.FamilyName, Email: c.Email}); err != nil {
			return nil, err
		}
	}
	for _, p := range doc.Platforms {
		if p.ID == "" {
			return nil, fmt.Errorf("%w: platform with empty id", ErrInvalidScenario)
		}
		platform := &model.Platform{ID: p.ID, ShortName: p.ShortName, LongName: p.LongName, PlatformType: p.PlatformType, Archived: p.Archived}
		if err := store.AddPlatform(platform); err != nil {
			return nil, err
		}
		result.PlatformIDs = append(result.PlatformIDs, p.ID)
	}
	for _, d := range doc.Devices {
		if d.ID == "" {
			return nil, fmt.Errorf("%w: device with empty id", ErrInvalidScenario)
		}
		device := &model.Device{ID: d.ID, ShortName: d.ShortName, LongName: d.LongName, DeviceType: d.DeviceType, SerialNumber: d.SerialNumber, Archived: d.Archived}
		for _, p := range d.Properties {
			device.Properties = append(device.Properties, &model.DeviceProperty{ID: p.ID, PropertyName: p.PropertyName, Label: p.Label, UnitName: p.UnitName})
		}
		if err := store.AddDevice(device); err != nil {
			return nil, err
		}
		result.DeviceIDs = append(result.DeviceIDs, d.ID)
	}

	for _, m := range doc.PlatformMounts {
		base, err := mountAction(store, m)
		if err != nil {
			return nil, err
		}
		platform := store.GetPlatform(m.Platform)
		if platform == nil {
			return nil, fmt.Errorf("%w: platform mount %q: %w", ErrInvalidScenario, m.ID, kb.ErrPlatformNotFound)
		}
		a := &model.PlatformMountAction{MountAction: base, Platform: platform, Label: m.Label}
		if err := store.AddPlatformMount(a); err != nil {
			return nil, err
		}
		result.MountIDs = append(result.MountIDs, a.ID)
	}
	for _, m := range doc.DeviceMounts {
		base, err := mountAction(store, m)
		if err != nil {
			return nil, err
		}
		device := store.GetDevice(m.Device)
		if device == nil {
			return nil, fmt.Errorf("%w: device mount %q: %w", ErrInvalidScenario, m.ID, kb.ErrDeviceNotFound)
		}
		a := &model.DeviceMountAction{MountAction: base, Device: device}
		if m.ParentDevice != "" {
			if a.ParentDevice = store.GetDevice(m.ParentDevice); a.ParentDevice == nil {
				return nil, fmt.Errorf("%w: device mount %q: parent %w", ErrInvalidScenario, m.ID, kb.ErrDeviceNotFound)
			}
		}
		if err := store.AddDeviceMount(a); err != nil {
			return nil, err
		}
		result.MountIDs = append(result.MountIDs, a.ID)
	}

	for _, l := range doc.DynamicLocations {
		begin, end, err := dateRange(l.Begin, l.End)
		if err != nil {
			return nil, fmt.Errorf("dynamic location %q: %w", l.ID, err)
		}
		a := &model.DynamicLocationAction{
			ID: l.ID, ConfigurationID: l.Configuration, Label: l.Label,
			BeginDate: begin, EndDate: end, EpsgCode: l.EpsgCode, ElevationDatumName: l.Datum,
		}
		for _, ref := range []struct {
			id  string
			dst **model.DeviceProperty
		}{{l.XProperty, &a.X}, {l.YProperty, &a.Y}, {l.ZProperty, &a.Z}} {
			if ref.id == "" {
				continue
			}
			prop, err := store.FindDeviceProperty(ref.id)
			if err != nil {
				return nil, fmt.Errorf("dynamic location %q: %w", l.ID, err)
			}
			*ref.dst = prop
		}
		if err := store.AddDynamicLocation(a); err != nil {
			return nil, err
		}
		result.LocationIDs = append(result.LocationIDs, a.ID)
	}
	for _, l := range doc.StaticLocations {
		begin, end, err := dateRange(l.Begin, l.End)
		if err != nil {
			return nil, fmt.Errorf("static location %q: %w", l.ID, err)
		}
		a := &model.StaticLocationAction{
			ID: l.ID, ConfigurationID: l.Configuration, Label: l.Label,
			BeginDate: begin, EndDate: end, X: l.X, Y: l.Y, Z: l.Z,
			EpsgCode: l.EpsgCode, ElevationDatumName: l.Datum,
		}
		if err := store.AddStaticLocation(a); err != nil {
			return nil, err
		}
		result.LocationIDs = append(result.LocationIDs, a.ID)
	}

	for _, av := range doc.Availabilities {
		begin, end, err := dateRange(av.Begin, av.End)
		if err == nil && begin == nil {
			err = fmt.Errorf("%w: begin date is required", ErrInvalidScenario)
		}
		if err != nil {
			return nil, fmt.Errorf("availability %q: %w", av.ID, err)
		}
		a := &model.Availability{ID: av.ID, EquipmentID: av.Equipment, Available: av.Available, BeginDate: *begin, EndDate: end, Reason: av.Reason}
		if err := store.AddAvailability(a); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func mountAction(store *kb.KnowledgeBase, m mountDoc) (model.MountAction, error) {
	begin, err := ParseDate(m.Begin)
	if err != nil {
		return model.MountAction{}, fmt.Errorf("mount %q: begin: %w", m.ID, err)
	}
	a := model.MountAction{
		ID:               m.ID,
		ConfigurationID:  m.Configuration,
		BeginDate:        begin,
		OffsetX:          m.OffsetX,
		OffsetY:          m.OffsetY,
		OffsetZ:          m.OffsetZ,
		EpsgCode:         m.EpsgCode,
		X:                m.X,
		Y:                m.Y,
		Z:                m.Z,
		BeginContact:     store.GetContact(m.BeginContact),
		EndContact:       store.GetContact(m.EndContact),
		BeginDescription: m.BeginNote,
		EndDescription:   m.EndNote,
	}
	if m.End != "" {
		end, err := ParseDate(m.End)
		if err != nil {
			return model.MountAction{}, fmt.Errorf("mount %q: end: %w", m.ID, err)
		}
		a.EndDate = &end
	}
	if m.ParentPlatform != "" {
		if a.ParentPlatform = store.GetPlatform(m.ParentPlatform); a.ParentPlatform == nil {
			return model.MountAction{}, fmt.Errorf("%w: mount %q: parent %w", ErrInvalidScenario, m.ID, kb.ErrPlatformNotFound)
		}
	}
	return a, nil
}

func dateRange(begin, end string) (*time.Time, *time.Time, error) {
	var b, e *time.Time
	if begin != "" {
		t, err := ParseDate(begin)
		if err != nil {
			return nil, nil, err
		}
		b = &t
	}
	if end != "" {
		t, err := ParseDate(end)
		if err != nil {
			return nil, nil, err
		}
		e = &t
	}
	return b, e, nil
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"}

// ParseDate accepts RFC 3339 timestamps and a few shorter layouts. Dates
// without a zone are read as UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty date", ErrInvalidScenario)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised date %q", ErrInvalidScenario, s)
}
