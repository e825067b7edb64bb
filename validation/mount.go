package validation

import (
	"github.com/signalsfoundry/equipment-mounts/model"
	"github.com/signalsfoundry/equipment-mounts/tree"
)

// ActionConflictsWith checks that action's time range lies within
// otherAction's. It returns nil when it does, otherwise the first violated
// bound in this order: begin vs other begin, begin vs other end, end vs other
// begin, end vs other end, open end vs bounded other end. The perspective
// only changes which side the Conflict reports.
func ActionConflictsWith(action, otherAction model.Mounting, p Perspective) *Conflict {
	if action == nil || otherAction == nil {
		return nil
	}
	other := otherAction.Base()
	if other.BeginDate.IsZero() {
		return nil
	}
	return containment(action.Base().Interval(), other.Interval(), refOf(action), refOf(otherAction), p)
}

// ActionConflictsWithMultiple treats action as the parent of children and
// returns the first child that does not fit into it.
func ActionConflictsWithMultiple(action model.Mounting, children []model.Mounting) *Conflict {
	for _, child := range children {
		if c := ActionConflictsWith(child, action, PerspectiveParent); c != nil {
			return c
		}
	}
	return nil
}

// UnavailableWindow returns the first "not available" window that overlaps
// action, or nil. Windows without a begin date and windows of other
// equipment are ignored.
func UnavailableWindow(action model.Mounting, availabilities []*model.Availability) *model.Availability {
	if action == nil {
		return nil
	}
	base := action.Base()
	var equipmentID string
	if eq := action.Mounted(); eq != nil {
		equipmentID = eq.EquipmentID()
	}

	for _, w := range availabilities {
		if w == nil || w.Available || w.BeginDate.IsZero() {
			continue
		}
		if w.EquipmentID != "" && equipmentID != "" && w.EquipmentID != equipmentID {
			continue
		}
		// The mount starts inside the window, or ends inside it, or spans
		// it, or is open ended and starts before it.
		beginsBeforeWindowEnds := w.EndDate == nil || base.BeginDate.Before(*w.EndDate)
		endsAfterWindowBegins := base.EndDate == nil || base.EndDate.After(w.BeginDate)
		if beginsBeforeWindowEnds && endsAfterWindowBegins {
			return w
		}
	}
	return nil
}

// ActionAvailableIn reports whether the equipment of action is available
// for the whole mount. True means no conflict.
func ActionAvailableIn(action model.Mounting, availabilities []*model.Availability) bool {
	return UnavailableWindow(action, availabilities) == nil
}

// IsDevicePropertyUsedInDynamicLocationAction reports whether one of the
// location's coordinate properties belongs to the mounted device.
func IsDevicePropertyUsedInDynamicLocationAction(mount *model.DeviceMountAction, location *model.DynamicLocationAction) bool {
	if mount == nil || location == nil || mount.Device == nil {
		return false
	}
	for _, id := range location.PropertyIDs() {
		if mount.Device.HasProperty(id) {
			return true
		}
	}
	return false
}

// RelatedDynamicLocationActions filters the locations that use a property
// of the mounted device and lie within the mount.
func RelatedDynamicLocationActions(mount *model.DeviceMountAction, locations []*model.DynamicLocationAction) []*model.DynamicLocationAction {
	var out []*model.DynamicLocationAction
	for _, loc := range locations {
		if !IsDevicePropertyUsedInDynamicLocationAction(mount, loc) || loc.BeginDate == nil {
			continue
		}
		if loc.BeginDate.Before(mount.BeginDate) {
			continue
		}
		if loc.EndDate != nil && mount.EndDate != nil && loc.EndDate.After(*mount.EndDate) {
			continue
		}
		out = append(out, loc)
	}
	return out
}

// DeviceMountCompatibleWithDynamicLocation checks that a location using
// properties of the mounted device stays within the mount. Unrelated and
// unscheduled locations are always compatible.
func DeviceMountCompatibleWithDynamicLocation(mount *model.DeviceMountAction, location *model.DynamicLocationAction) *Conflict {
	if !IsDevicePropertyUsedInDynamicLocationAction(mount, location) || location.BeginDate == nil {
		return nil
	}
	locInterval := model.Interval{Begin: *location.BeginDate, End: location.EndDate}
	return containment(locInterval, mount.Interval(), refOfLocation(location), refOf(mount), PerspectiveChild)
}

// MountValidator checks nodes against their neighbours in a tree.
type MountValidator struct {
	tree *tree.Tree
}

// NewMountValidator binds a validator to t.
func NewMountValidator(t *tree.Tree) *MountValidator {
	return &MountValidator{tree: t}
}

// NodeIsWithinParentRange returns nil when node has no parent or its mount
// lies within the parent's mount.
func (v *MountValidator) NodeIsWithinParentRange(node *tree.Node) *Conflict {
	parent := v.tree.Parent(node)
	if parent == nil {
		return nil
	}
	return ActionConflictsWith(node.Unpack(), parent.Unpack(), PerspectiveChild)
}

// NodeChildrenAreWithinRange checks every transitive descendant of node
// against node's own mount.
func (v *MountValidator) NodeChildrenAreWithinRange(node *tree.Node) *Conflict {
	if node == nil || !node.HasChildren() {
		return nil
	}
	var mounts []model.Mounting
	for _, d := range node.Children().Nodes() {
		if m := d.Unpack(); m != nil {
			mounts = append(mounts, m)
		}
	}
	return ActionConflictsWithMultiple(node.Unpack(), mounts)
}
