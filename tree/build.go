package tree

import (
	"time"

	"github.com/signalsfoundry/equipment-mounts/model"
)

type equipmentKey struct {
	kind model.EquipmentKind
	id   string
}

func keyOf(eq model.Equipment) equipmentKey {
	return equipmentKey{kind: eq.EquipmentKind(), id: eq.EquipmentID()}
}

// Build reconstructs the mount hierarchy valid at the instant at from the
// flat mount histories of a configuration.
//
// For each piece of equipment the latest mount that began at or before at is
// selected (ties go to the later entry). Equipment whose selected mount ended
// before at is left out. When a parent's mount has ended, the parent is
// dropped and its children are promoted to root level; the same holds for
// any equipment whose parent is not mounted at at. Platforms come before devices, each in input order.
func Build(platformMounts []*model.PlatformMountAction, deviceMounts []*model.DeviceMountAction, at time.Time) *Tree {
	selected := make(map[equipmentKey]*Node)
	var order []equipmentKey

	pick := func(key equipmentKey, begin time.Time, mk func() *Node) {
		if begin.After(at) {
			return
		}
		if cur, ok := selected[key]; ok {
			if begin.Before(cur.Unpack().Base().BeginDate) {
				return
			}
		} else {
			order = append(order, key)
		}
		selected[key] = mk()
	}

	for _, a := range platformMounts {
		if a == nil || a.Platform == nil {
			continue
		}
		a := a
		pick(keyOf(a.Platform), a.BeginDate, func() *Node { return NewPlatformNode(a) })
	}
	for _, a := range deviceMounts {
		if a == nil || a.Device == nil {
			continue
		}
		a := a
		pick(keyOf(a.Device), a.BeginDate, func() *Node { return NewDeviceNode(a) })
	}

	kept := make(map[equipmentKey]*Node, len(selected))
	var platforms, devices []equipmentKey
	for _, key := range order {
		n := selected[key]
		if n.Unpack().Base().Interval().Ended(at) {
			continue
		}
		kept[key] = n
		if key.kind == model.KindPlatform {
			platforms = append(platforms, key)
		} else {
			devices = append(devices, key)
		}
	}

	parentOf := func(key equipmentKey) *Node {
		parent := kept[key].Unpack().Parent()
		if parent == nil {
			return nil
		}
		return kept[keyOf(parent)]
	}

	result := New()
	for _, key := range append(platforms, devices...) {
		n := kept[key]
		parent := parentOf(key)
		if parent == nil || formsCycle(key, parentOf, kept) {
			result.Push(n)
			continue
		}
		// Both kept kinds can carry children.
		_ = parent.AddChild(n)
	}
	return result
}

// formsCycle walks the parent chain of key and reports whether it leads back
// to key. Members of a cycle would otherwise never be reachable from a root.
func formsCycle(key equipmentKey, parentOf func(equipmentKey) *Node, kept map[equipmentKey]*Node) bool {
	seen := map[equipmentKey]bool{key: true}
	cur := key
	for {
		p := parentOf(cur)
		if p == nil {
			return false
		}
		pk := keyOf(p.Equipment())
		if pk == key {
			return true
		}
		if seen[pk] {
			// A cycle further up the chain; that cycle's members become
			// roots themselves, so this node stays attached.
			return false
		}
		seen[pk] = true
		cur = pk
		if _, ok := kept[cur]; !ok {
			return false
		}
	}
}
