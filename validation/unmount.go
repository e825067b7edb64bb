package validation

import (
	"time"

	"github.com/signalsfoundry/equipment-mounts/model"
	"github.com/signalsfoundry/equipment-mounts/tree"
)

// UnmountReason explains why an unmount is blocked.
type UnmountReason int

const (
	ReasonNone UnmountReason = iota
	ReasonArchivedEquipment
	ReasonArchivedAncestor
	ReasonUsedAsParent
	ReasonActiveDynamicLocation
)

func (r UnmountReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonArchivedEquipment:
		return "archived equipment"
	case ReasonArchivedAncestor:
		return "archived ancestor"
	case ReasonUsedAsParent:
		return "used as parent"
	case ReasonActiveDynamicLocation:
		return "active dynamic location"
	default:
		return "unknown"
	}
}

// UnmountVerdict is the outcome of checking a single node.
type UnmountVerdict struct {
	Node   *tree.Node
	Reason UnmountReason

	// Blocker is the archived ancestor for ReasonArchivedAncestor.
	Blocker *tree.Node
	// ConflictingMount is set for ReasonUsedAsParent.
	ConflictingMount model.Mounting
	// ConflictingLocation is set for ReasonActiveDynamicLocation.
	ConflictingLocation *model.DynamicLocationAction
}

// OK reports whether the node may be unmounted.
func (v UnmountVerdict) OK() bool { return v.Reason == ReasonNone }

// UnmountValidator decides whether nodes of a tree may be unmounted at a
// given date. The flat action lists are the full history of the
// configuration so the validator can look past the tree snapshot.
type UnmountValidator struct {
	tree *tree.Tree
	date time.Time

	deviceMounts     []*model.DeviceMountAction
	platformMounts   []*model.PlatformMountAction
	dynamicLocations []*model.DynamicLocationAction
}

// NewUnmountValidator binds a validator to a tree, an unmount date and the
// action history.
func NewUnmountValidator(
	t *tree.Tree,
	date time.Time,
	deviceMounts []*model.DeviceMountAction,
	platformMounts []*model.PlatformMountAction,
	dynamicLocations []*model.DynamicLocationAction,
) *UnmountValidator {
	return &UnmountValidator{
		tree:             t,
		date:             date,
		deviceMounts:     deviceMounts,
		platformMounts:   platformMounts,
		dynamicLocations: dynamicLocations,
	}
}

// Date is the candidate unmount date.
func (v *UnmountValidator) Date() time.Time { return v.date }

// CheckNodeUnmount runs all unmount rules for node and reports the first
// one that blocks.
func (v *UnmountValidator) CheckNodeUnmount(node *tree.Node) UnmountVerdict {
	verdict := UnmountVerdict{Node: node}

	if eq := node.Equipment(); eq != nil && eq.IsArchived() {
		verdict.Reason = ReasonArchivedEquipment
		return verdict
	}
	for _, ancestor := range v.tree.Parents(node) {
		if eq := ancestor.Equipment(); eq != nil && eq.IsArchived() {
			verdict.Reason = ReasonArchivedAncestor
			verdict.Blocker = ancestor
			return verdict
		}
	}
	if m := v.MountActionWhereNodeIsUsedAsParentBeforeRemounted(node); m != nil {
		verdict.Reason = ReasonUsedAsParent
		verdict.ConflictingMount = m
		return verdict
	}
	if loc := v.activeDynamicLocation(node); loc != nil {
		verdict.Reason = ReasonActiveDynamicLocation
		verdict.ConflictingLocation = loc
		return verdict
	}
	return verdict
}

// ValidateNodeUnmount reports whether node may be unmounted at the date.
func (v *UnmountValidator) ValidateNodeUnmount(node *tree.Node) bool {
	return v.CheckNodeUnmount(node).OK()
}

// ValidateTreeRecursively reports whether every node of the tree may be
// unmounted.
func (v *UnmountValidator) ValidateTreeRecursively() bool {
	ok := true
	v.tree.Walk(func(n *tree.Node, _ *tree.Node) bool {
		ok = v.ValidateNodeUnmount(n)
		return ok
	})
	return ok
}

// CheckSubtree returns the verdicts for node and all its descendants, depth
// first.
func (v *UnmountValidator) CheckSubtree(node *tree.Node) []UnmountVerdict {
	verdicts := []UnmountVerdict{v.CheckNodeUnmount(node)}
	if node.HasChildren() {
		for _, d := range node.Children().Nodes() {
			verdicts = append(verdicts, v.CheckNodeUnmount(d))
		}
	}
	return verdicts
}

// MountActionWhereNodeIsUsedAsParentBeforeRemounted returns a mount that
// uses node's equipment as its parent and begins at or after the unmount
// date, unless the equipment is mounted again between its current mount and
// that usage. It returns nil when nothing blocks.
func (v *UnmountValidator) MountActionWhereNodeIsUsedAsParentBeforeRemounted(node *tree.Node) model.Mounting {
	own := node.Unpack()
	if own == nil {
		return nil
	}
	for _, usage := range v.usagesAsParent(node) {
		if usage.Base().BeginDate.Before(v.date) {
			continue
		}
		if v.remountedBetween(node, own.Base().BeginDate, usage.Base().BeginDate) {
			continue
		}
		return usage
	}
	return nil
}

// UnmountEndDateToOverwrite returns the end date already recorded on the
// node's mount when unmounting at the date would move it earlier.
func (v *UnmountValidator) UnmountEndDateToOverwrite(node *tree.Node) *time.Time {
	m := node.Unpack()
	if m == nil {
		return nil
	}
	end := m.Base().EndDate
	if end != nil && v.date.Before(*end) {
		t := *end
		return &t
	}
	return nil
}

func (v *UnmountValidator) usagesAsParent(node *tree.Node) []model.Mounting {
	id := node.EquipmentID()
	var out []model.Mounting
	switch node.Kind() {
	case tree.NodePlatform:
		for _, a := range v.platformMounts {
			if a != nil && a.ParentPlatform != nil && a.ParentPlatform.ID == id {
				out = append(out, a)
			}
		}
		for _, a := range v.deviceMounts {
			if a != nil && a.ParentDevice == nil && a.ParentPlatform != nil && a.ParentPlatform.ID == id {
				out = append(out, a)
			}
		}
	case tree.NodeDevice:
		for _, a := range v.deviceMounts {
			if a != nil && a.ParentDevice != nil && a.ParentDevice.ID == id {
				out = append(out, a)
			}
		}
	}
	return out
}

func (v *UnmountValidator) remountedBetween(node *tree.Node, after, before time.Time) bool {
	id := node.EquipmentID()
	within := func(t time.Time) bool { return t.After(after) && t.Before(before) }
	switch node.Kind() {
	case tree.NodePlatform:
		for _, a := range v.platformMounts {
			if a != nil && a.Platform != nil && a.Platform.ID == id && within(a.BeginDate) {
				return true
			}
		}
	case tree.NodeDevice:
		for _, a := range v.deviceMounts {
			if a != nil && a.Device != nil && a.Device.ID == id && within(a.BeginDate) {
				return true
			}
		}
	}
	return false
}

// activeDynamicLocation returns a location that uses a property of the
// node's device and is running at the unmount date. A location ending
// exactly at the unmount date still blocks; only one that ended before it
// does not.
func (v *UnmountValidator) activeDynamicLocation(node *tree.Node) *model.DynamicLocationAction {
	mount := node.DeviceMount()
	if !node.IsDevice() || mount == nil {
		return nil
	}
	for _, loc := range v.dynamicLocations {
		if !IsDevicePropertyUsedInDynamicLocationAction(mount, loc) || loc.BeginDate == nil {
			continue
		}
		if loc.BeginDate.After(v.date) {
			continue
		}
		if loc.EndDate != nil && loc.EndDate.Before(v.date) {
			continue
		}
		return loc
	}
	return nil
}
