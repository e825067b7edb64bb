package tree

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/signalsfoundry/equipment-mounts/model"
)

// ErrChildrenNotAllowed is returned when adding a child to a node kind that
// cannot carry children.
var ErrChildrenNotAllowed = errors.New("node cannot have children")

// NodeKind tags the payload a Node carries.
type NodeKind int

const (
	NodePlatform NodeKind = iota
	NodeDevice
	NodeConfiguration
)

func (k NodeKind) String() string {
	switch k {
	case NodePlatform:
		return "platform"
	case NodeDevice:
		return "device"
	case NodeConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

var nextHandle atomic.Uint64

// Node wraps exactly one payload and owns the subtree of nodes mounted on
// it. Nodes are identified by their handle, never by the payload: several
// nodes may wrap mounts of the same physical device.
type Node struct {
	handle uint64
	kind   NodeKind

	platformMount *model.PlatformMountAction
	deviceMount   *model.DeviceMountAction
	configuration *model.Configuration

	children *Tree
}

func newNode(kind NodeKind) *Node {
	n := &Node{
		handle: nextHandle.Add(1),
		kind:   kind,
	}
	if n.CanHaveChildren() {
		n.children = New()
	}
	return n
}

// NewPlatformNode wraps a platform mount.
func NewPlatformNode(action *model.PlatformMountAction) *Node {
	n := newNode(NodePlatform)
	n.platformMount = action
	return n
}

// NewDeviceNode wraps a device mount.
func NewDeviceNode(action *model.DeviceMountAction) *Node {
	n := newNode(NodeDevice)
	n.deviceMount = action
	return n
}

// NewConfigurationNode wraps a configuration. Configuration nodes are
// leaves in the node model; Build places the forest next to them, not under
// them.
func NewConfigurationNode(cfg *model.Configuration) *Node {
	n := newNode(NodeConfiguration)
	n.configuration = cfg
	return n
}

// Handle is the node's identity within and across trees.
func (n *Node) Handle() uint64 { return n.handle }

// Kind reports the payload variant.
func (n *Node) Kind() NodeKind { return n.kind }

func (n *Node) IsPlatform() bool      { return n.kind == NodePlatform }
func (n *Node) IsDevice() bool        { return n.kind == NodeDevice }
func (n *Node) IsConfiguration() bool { return n.kind == NodeConfiguration }

// CanHaveChildren is true for platform and device nodes.
func (n *Node) CanHaveChildren() bool {
	return n.kind == NodePlatform || n.kind == NodeDevice
}

func (n *Node) PlatformMount() *model.PlatformMountAction { return n.platformMount }
func (n *Node) DeviceMount() *model.DeviceMountAction     { return n.deviceMount }
func (n *Node) Configuration() *model.Configuration       { return n.configuration }

// Unpack returns the wrapped mount action, or nil for configuration nodes.
func (n *Node) Unpack() model.Mounting {
	switch n.kind {
	case NodePlatform:
		if n.platformMount != nil {
			return n.platformMount
		}
	case NodeDevice:
		if n.deviceMount != nil {
			return n.deviceMount
		}
	}
	return nil
}

// Equipment returns the mounted platform or device, nil for configuration
// nodes.
func (n *Node) Equipment() model.Equipment {
	if m := n.Unpack(); m != nil {
		return m.Mounted()
	}
	return nil
}

// EquipmentID returns the ID of the mounted equipment or the configuration.
func (n *Node) EquipmentID() string {
	if n.kind == NodeConfiguration {
		if n.configuration == nil {
			return ""
		}
		return n.configuration.ID
	}
	if eq := n.Equipment(); eq != nil {
		return eq.EquipmentID()
	}
	return ""
}

// Label is the human readable name used in paths.
func (n *Node) Label() string {
	if n.kind == NodeConfiguration {
		if n.configuration == nil {
			return ""
		}
		return n.configuration.Label
	}
	if eq := n.Equipment(); eq != nil {
		return eq.Label()
	}
	return ""
}

// Children returns the subtree mounted on n. It is nil for nodes that
// cannot have children.
func (n *Node) Children() *Tree { return n.children }

// HasChildren reports whether anything is mounted on n.
func (n *Node) HasChildren() bool {
	return n.children != nil && n.children.Len() > 0
}

// AddChild appends child to n's subtree.
func (n *Node) AddChild(child *Node) error {
	if !n.CanHaveChildren() {
		return fmt.Errorf("%w: %s node %q", ErrChildrenNotAllowed, n.kind, n.Label())
	}
	n.children.Push(child)
	return nil
}

// clone copies the node wrapper recursively. The payload stays shared.
func (n *Node) clone() *Node {
	c := newNode(n.kind)
	c.platformMount = n.platformMount
	c.deviceMount = n.deviceMount
	c.configuration = n.configuration
	if n.children != nil {
		c.children = n.children.Clone()
	}
	return c
}
