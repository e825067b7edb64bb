// Package tree models what is mounted on what in a configuration at a single
// point in time.
package tree

import (
	"errors"
	"fmt"
)

// ErrIndexOutOfRange is returned by index based accessors for indexes
// outside [0, Len()).
var ErrIndexOutOfRange = errors.New("index out of bounds")

// Tree is an ordered forest of nodes. Every node owns a Tree of its
// children, so the structure is recursive.
type Tree struct {
	nodes []*Node
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{}
}

// FromSlice builds a tree whose roots are exactly nodes, in order.
func FromSlice(nodes []*Node) *Tree {
	t := &Tree{nodes: make([]*Node, 0, len(nodes))}
	t.nodes = append(t.nodes, nodes...)
	return t
}

// Len returns the number of root nodes.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.nodes)
}

// Roots returns a copy of the root slice.
func (t *Tree) Roots() []*Node {
	if t == nil {
		return nil
	}
	return append([]*Node(nil), t.nodes...)
}

// IsValidIndex reports whether i addresses a root node.
func (t *Tree) IsValidIndex(i int) bool {
	return i >= 0 && i < t.Len()
}

// At returns the root node at index i.
func (t *Tree) At(i int) (*Node, error) {
	if !t.IsValidIndex(i) {
		return nil, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, t.Len())
	}
	return t.nodes[i], nil
}

// RemoveAt removes and returns the root node at index i.
func (t *Tree) RemoveAt(i int) (*Node, error) {
	if !t.IsValidIndex(i) {
		return nil, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, t.Len())
	}
	n := t.nodes[i]
	t.nodes = append(t.nodes[:i], t.nodes[i+1:]...)
	return n, nil
}

// Push appends a root node and returns the new length.
func (t *Tree) Push(n *Node) int {
	t.nodes = append(t.nodes, n)
	return len(t.nodes)
}

// Remove deletes node from whichever (sub)tree holds it. The search is depth
// first; the first match is removed.
func (t *Tree) Remove(node *Node) bool {
	if t == nil || node == nil {
		return false
	}
	for i, n := range t.nodes {
		if n.handle == node.handle {
			t.nodes = append(t.nodes[:i], t.nodes[i+1:]...)
			return true
		}
		if n.children != nil && n.children.Remove(node) {
			return true
		}
	}
	return false
}

// Contains reports whether node occurs anywhere in the tree.
func (t *Tree) Contains(node *Node) bool {
	if node == nil {
		return false
	}
	found := false
	t.Walk(func(n *Node, _ *Node) bool {
		if n.handle == node.handle {
			found = true
			return false
		}
		return true
	})
	return found
}

// Walk visits every node depth first (pre-order). fn receives the node and
// its parent (nil for roots); returning false stops the walk.
func (t *Tree) Walk(fn func(node, parent *Node) bool) {
	t.walk(nil, fn)
}

func (t *Tree) walk(parent *Node, fn func(node, parent *Node) bool) bool {
	if t == nil {
		return true
	}
	for _, n := range t.nodes {
		if !fn(n, parent) {
			return false
		}
		if !n.children.walk(n, fn) {
			return false
		}
	}
	return true
}

// Nodes returns every node of the tree in depth first order.
func (t *Tree) Nodes() []*Node {
	var out []*Node
	t.Walk(func(n *Node, _ *Node) bool {
		out = append(out, n)
		return true
	})
	return out
}

// Parent returns the node whose children directly contain node. It returns
// nil for root nodes and for nodes that are not in the tree.
func (t *Tree) Parent(node *Node) *Node {
	if node == nil {
		return nil
	}
	var parent *Node
	t.Walk(func(n, p *Node) bool {
		if n.handle == node.handle {
			parent = p
			return false
		}
		return true
	})
	return parent
}

// Parents returns all ancestors of node, outermost first.
func (t *Tree) Parents(node *Node) []*Node {
	var chain []*Node
	for p := t.Parent(node); p != nil; p = t.Parent(p) {
		chain = append(chain, p)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Path returns the labels from the outermost ancestor down to node, or an
// empty slice if node is not part of the tree.
func (t *Tree) Path(node *Node) []string {
	if !t.Contains(node) {
		return []string{}
	}
	parents := t.Parents(node)
	path := make([]string, 0, len(parents)+1)
	for _, p := range parents {
		path = append(path, p.Label())
	}
	return append(path, node.Label())
}

// PlatformByID finds the first platform node mounting the platform id.
func (t *Tree) PlatformByID(id string) *Node {
	return t.find(func(n *Node) bool {
		return n.IsPlatform() && n.platformMount != nil && n.platformMount.Platform != nil &&
			n.platformMount.Platform.ID == id
	})
}

// DeviceByID finds the first device node mounting the device id.
func (t *Tree) DeviceByID(id string) *Node {
	return t.find(func(n *Node) bool {
		return n.IsDevice() && n.deviceMount != nil && n.deviceMount.Device != nil &&
			n.deviceMount.Device.ID == id
	})
}

func (t *Tree) find(match func(*Node) bool) *Node {
	var found *Node
	t.Walk(func(n *Node, _ *Node) bool {
		if match(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

// AllDeviceNodes collects every device node, nested ones included, in depth
// first order.
func (t *Tree) AllDeviceNodes() []*Node {
	var out []*Node
	t.Walk(func(n *Node, _ *Node) bool {
		if n.IsDevice() {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Clone returns a structurally equal tree built from new nodes. The wrapped
// mount actions and configurations are shared with the source.
func (t *Tree) Clone() *Tree {
	if t == nil {
		return New()
	}
	c := &Tree{nodes: make([]*Node, 0, len(t.nodes))}
	for _, n := range t.nodes {
		c.nodes = append(c.nodes, n.clone())
	}
	return c
}
