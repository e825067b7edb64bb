package kb

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/equipment-mounts/model"
)

var (
	ErrConfigurationExists   = errors.New("configuration already exists")
	ErrConfigurationNotFound = errors.New("configuration not found")
	ErrPlatformExists        = errors.New("platform already exists")
	ErrPlatformNotFound      = errors.New("platform not found")
	ErrDeviceExists          = errors.New("device already exists")
	ErrDeviceNotFound        = errors.New("device not found")
	ErrContactExists         = errors.New("contact already exists")
	ErrActionExists          = errors.New("action already exists")
	ErrActionNotFound        = errors.New("action not found")
	ErrPropertyNotFound      = errors.New("device property not found")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventMountAdded EventType = iota
	EventMountUnmounted
	EventLocationAdded
	EventAvailabilityAdded
)

// Event is emitted to subscribers after a change has been stored.
type Event struct {
	Type            EventType
	ConfigurationID string
	ActionID        string
}

// KnowledgeBase is an in-memory, thread-safe store for equipment and the
// complete mount and location history of every configuration.
type KnowledgeBase struct {
	mu sync.RWMutex

	configurations map[string]*model.Configuration
	platforms      map[string]*model.Platform
	devices        map[string]*model.Device
	contacts       map[string]*model.Contact

	// Histories keep insertion order; tree building relies on it for ties.
	platformMounts   []*model.PlatformMountAction
	deviceMounts     []*model.DeviceMountAction
	dynamicLocations []*model.DynamicLocationAction
	staticLocations  []*model.StaticLocationAction
	availabilities   []*model.Availability

	actionIDs map[string]struct{}

	subs []func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		configurations: make(map[string]*model.Configuration),
		platforms:      make(map[string]*model.Platform),
		devices:        make(map[string]*model.Device),
		contacts:       make(map[string]*model.Contact),
		actionIDs:      make(map[string]struct{}),
	}
}

// AddConfiguration registers a configuration.
func (kb *KnowledgeBase) AddConfiguration(c *model.Configuration) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.configurations[c.ID]; exists {
		return fmt.Errorf("%w: %q", ErrConfigurationExists, c.ID)
	}
	kb.configurations[c.ID] = c
	return nil
}

// AddPlatform registers a platform.
func (kb *KnowledgeBase) AddPlatform(p *model.Platform) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.platforms[p.ID]; exists {
		return fmt.Errorf("%w: %q", ErrPlatformExists, p.ID)
	}
	kb.platforms[p.ID] = p
	return nil
}

// AddDevice registers a device together with its properties.
func (kb *KnowledgeBase) AddDevice(d *model.Device) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.devices[d.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDeviceExists, d.ID)
	}
	kb.devices[d.ID] = d
	return nil
}

// AddContact registers a contact.
func (kb *KnowledgeBase) AddContact(c *model.Contact) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.contacts[c.ID]; exists {
		return fmt.Errorf("%w: %q", ErrContactExists, c.ID)
	}
	kb.contacts[c.ID] = c
	return nil
}

// GetConfiguration returns the configuration with the given ID, or nil.
func (kb *KnowledgeBase) GetConfiguration(id string) *model.Configuration {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.configurations[id]
}

// GetPlatform returns the platform with the given ID, or nil.
func (kb *KnowledgeBase) GetPlatform(id string) *model.Platform {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.platforms[id]
}

// GetDevice returns the device with the given ID, or nil.
func (kb *KnowledgeBase) GetDevice(id string) *model.Device {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.devices[id]
}

// GetContact returns the contact with the given ID, or nil.
func (kb *KnowledgeBase) GetContact(id string) *model.Contact {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.contacts[id]
}

// FindDeviceProperty looks a property up across all devices.
func (kb *KnowledgeBase) FindDeviceProperty(id string) (*model.DeviceProperty, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	for _, d := range kb.devices {
		for _, p := range d.Properties {
			if p != nil && p.ID == id {
				return p, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrPropertyNotFound, id)
}

// ListConfigurations returns a snapshot slice of all configurations.
func (kb *KnowledgeBase) ListConfigurations() []*model.Configuration {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.Configuration, 0, len(kb.configurations))
	for _, c := range kb.configurations {
		res = append(res, c)
	}
	return res
}

// AddPlatformMount stores a platform mount. An empty ID is replaced with a
// generated one.
func (kb *KnowledgeBase) AddPlatformMount(a *model.PlatformMountAction) error {
	if err := a.Validate(); err != nil {
		return err
	}
	kb.mu.Lock()
	if err := kb.checkMountRefsLocked(&a.MountAction); err != nil {
		kb.mu.Unlock()
		return err
	}
	if _, ok := kb.platforms[a.Platform.ID]; !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrPlatformNotFound, a.Platform.ID)
	}
	if err := kb.claimIDLocked(&a.ID); err != nil {
		kb.mu.Unlock()
		return err
	}
	kb.platformMounts = append(kb.platformMounts, a)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventMountAdded, ConfigurationID: a.ConfigurationID, ActionID: a.ID})
	return nil
}

// AddDeviceMount stores a device mount. An empty ID is replaced with a
// generated one.
func (kb *KnowledgeBase) AddDeviceMount(a *model.DeviceMountAction) error {
	if err := a.Validate(); err != nil {
		return err
	}
	kb.mu.Lock()
	if err := kb.checkMountRefsLocked(&a.MountAction); err != nil {
		kb.mu.Unlock()
		return err
	}
	if _, ok := kb.devices[a.Device.ID]; !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDeviceNotFound, a.Device.ID)
	}
	if a.ParentDevice != nil {
		if _, ok := kb.devices[a.ParentDevice.ID]; !ok {
			kb.mu.Unlock()
			return fmt.Errorf("%w: parent %q", ErrDeviceNotFound, a.ParentDevice.ID)
		}
	}
	if err := kb.claimIDLocked(&a.ID); err != nil {
		kb.mu.Unlock()
		return err
	}
	kb.deviceMounts = append(kb.deviceMounts, a)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventMountAdded, ConfigurationID: a.ConfigurationID, ActionID: a.ID})
	return nil
}

// AddDynamicLocation stores a dynamic location action.
func (kb *KnowledgeBase) AddDynamicLocation(a *model.DynamicLocationAction) error {
	kb.mu.Lock()
	if _, ok := kb.configurations[a.ConfigurationID]; !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrConfigurationNotFound, a.ConfigurationID)
	}
	if err := kb.claimIDLocked(&a.ID); err != nil {
		kb.mu.Unlock()
		return err
	}
	kb.dynamicLocations = append(kb.dynamicLocations, a)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventLocationAdded, ConfigurationID: a.ConfigurationID, ActionID: a.ID})
	return nil
}

// AddStaticLocation stores a static location action.
func (kb *KnowledgeBase) AddStaticLocation(a *model.StaticLocationAction) error {
	kb.mu.Lock()
	if _, ok := kb.configurations[a.ConfigurationID]; !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrConfigurationNotFound, a.ConfigurationID)
	}
	if err := kb.claimIDLocked(&a.ID); err != nil {
		kb.mu.Unlock()
		return err
	}
	kb.staticLocations = append(kb.staticLocations, a)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventLocationAdded, ConfigurationID: a.ConfigurationID, ActionID: a.ID})
	return nil
}

// AddAvailability stores an availability window of a platform or device.
func (kb *KnowledgeBase) AddAvailability(a *model.Availability) error {
	kb.mu.Lock()
	_, isPlatform := kb.platforms[a.EquipmentID]
	_, isDevice := kb.devices[a.EquipmentID]
	if !isPlatform && !isDevice {
		kb.mu.Unlock()
		return fmt.Errorf("%w: no platform or device %q", ErrDeviceNotFound, a.EquipmentID)
	}
	if err := kb.claimIDLocked(&a.ID); err != nil {
		kb.mu.Unlock()
		return err
	}
	kb.availabilities = append(kb.availabilities, a)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventAvailabilityAdded, ActionID: a.ID})
	return nil
}

// SetMountEnd records the unmount of a platform or device mount.
func (kb *KnowledgeBase) SetMountEnd(actionID string, end time.Time, contact *model.Contact, description string) error {
	kb.mu.Lock()
	base := kb.findMountLocked(actionID)
	if base == nil {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrActionNotFound, actionID)
	}
	if end.Before(base.BeginDate) {
		kb.mu.Unlock()
		return fmt.Errorf("%w: end date %s is before begin date %s", model.ErrInvalidMountAction,
			end.Format(time.RFC3339), base.BeginDate.Format(time.RFC3339))
	}
	base.EndDate = &end
	base.EndContact = contact
	base.EndDescription = description
	cfgID := base.ConfigurationID
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventMountUnmounted, ConfigurationID: cfgID, ActionID: actionID})
	return nil
}

// MountsForConfiguration returns copies of the platform and device mount
// histories of a configuration, in insertion order.
func (kb *KnowledgeBase) MountsForConfiguration(configID string) ([]*model.PlatformMountAction, []*model.DeviceMountAction) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	var platforms []*model.PlatformMountAction
	for _, a := range kb.platformMounts {
		if a.ConfigurationID == configID {
			c := *a
			platforms = append(platforms, &c)
		}
	}
	var devices []*model.DeviceMountAction
	for _, a := range kb.deviceMounts {
		if a.ConfigurationID == configID {
			c := *a
			devices = append(devices, &c)
		}
	}
	return platforms, devices
}

// DynamicLocationsForConfiguration returns the dynamic locations of a
// configuration.
func (kb *KnowledgeBase) DynamicLocationsForConfiguration(configID string) []*model.DynamicLocationAction {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	var out []*model.DynamicLocationAction
	for _, a := range kb.dynamicLocations {
		if a.ConfigurationID == configID {
			c := *a
			out = append(out, &c)
		}
	}
	return out
}

// StaticLocationsForConfiguration returns the static locations of a
// configuration.
func (kb *KnowledgeBase) StaticLocationsForConfiguration(configID string) []*model.StaticLocationAction {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	var out []*model.StaticLocationAction
	for _, a := range kb.staticLocations {
		if a.ConfigurationID == configID {
			c := *a
			out = append(out, &c)
		}
	}
	return out
}

// AvailabilitiesFor returns the availability windows of one piece of
// equipment.
func (kb *KnowledgeBase) AvailabilitiesFor(equipmentID string) []*model.Availability {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	var out []*model.Availability
	for _, a := range kb.availabilities {
		if a.EquipmentID == equipmentID {
			c := *a
			out = append(out, &c)
		}
	}
	return out
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.subs = append(kb.subs, fn)
	idx := len(kb.subs) - 1

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		if idx < 0 || idx >= len(kb.subs) {
			return
		}
		kb.subs[idx] = nil
		idx = -1
	}
}

func (kb *KnowledgeBase) checkMountRefsLocked(m *model.MountAction) error {
	if _, ok := kb.configurations[m.ConfigurationID]; !ok {
		return fmt.Errorf("%w: %q", ErrConfigurationNotFound, m.ConfigurationID)
	}
	if m.ParentPlatform != nil {
		if _, ok := kb.platforms[m.ParentPlatform.ID]; !ok {
			return fmt.Errorf("%w: parent %q", ErrPlatformNotFound, m.ParentPlatform.ID)
		}
	}
	return nil
}

func (kb *KnowledgeBase) claimIDLocked(id *string) error {
	if *id == "" {
		*id = uuid.NewString()
	}
	if _, exists := kb.actionIDs[*id]; exists {
		return fmt.Errorf("%w: %q", ErrActionExists, *id)
	}
	kb.actionIDs[*id] = struct{}{}
	return nil
}

func (kb *KnowledgeBase) findMountLocked(id string) *model.MountAction {
	for _, a := range kb.platformMounts {
		if a.ID == id {
			return &a.MountAction
		}
	}
	for _, a := range kb.deviceMounts {
		if a.ID == id {
			return &a.MountAction
		}
	}
	return nil
}

func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	return append([]func(Event){}, kb.subs...)
}

// notify runs outside the lock so subscribers may call back into the KB.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		if sub != nil {
			sub(ev)
		}
	}
}
