// Package tree implements the OSCQuery node tree and parameter bridge from
// a rooted tree of named nodes, each optionally carrying a
// typed parameter, mutated only under a single "build mutex" so that external
// readers observe a consistent snapshot. Grounded on the teacher's pattern of
// a single shared mutex guarding a mutable collection that multiple
// goroutines reach into (AutoConnector.ClientLock, DeviceMixingManager.mutex).
package tree

import (
	"sort"
	"strings"
	"sync"
)

// Type enumerates the parameter value kinds.
type Type int

// Supported parameter types.
const (
	TypeBool Type = iota
	TypeInt
	TypeFloat
	TypeString
	TypeList
	TypeImpulse
)

// AccessMode controls whether external clients may read, write, or both.
type AccessMode int

// Access modes.
const (
	AccessGet AccessMode = iota
	AccessSet
	AccessBi
)

// Domain bounds or enumerates the legal values of a parameter.
type Domain struct {
	Min       *float64
	Max       *float64
	Accepted  []string
	ClipToMin bool
	ClipToMax bool
}

// Clip bounds v to the domain's min/max, if both Clip flags and bounds are set.
func (d Domain) Clip(v float64) float64 {
	if d.ClipToMin && d.Min != nil && v < *d.Min {
		v = *d.Min
	}
	if d.ClipToMax && d.Max != nil && v > *d.Max {
		v = *d.Max
	}
	return v
}

// ValueCallback is invoked whenever a parameter's value changes, whether from
// an external write or an internal re-publish.
type ValueCallback func(n *Node, value interface{})

// Param is the typed, access-controlled value carried by a Node.
type Param struct {
	Type        Type
	Access      AccessMode
	Description string
	Domain      Domain

	mu       sync.Mutex
	value    interface{}
	callback ValueCallback

	// echoGuard prevents feedback loops when a value-callback causes an
	// internal re-publish of the same node.
	echoGuard bool
}

// Get returns the current value.
func (p *Param) Get() interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// Set stores a new value and invokes the callback, guarding against
// re-entrant feedback using a per-parameter echo guard.
func (p *Param) Set(n *Node, value interface{}) {
	p.mu.Lock()
	if p.echoGuard {
		p.mu.Unlock()
		return
	}
	p.echoGuard = true
	p.value = value
	cb := p.callback
	p.mu.Unlock()

	if cb != nil {
		cb(n, value)
	}

	p.mu.Lock()
	p.echoGuard = false
	p.mu.Unlock()
}

// SetCallback registers the value-changed callback.
func (p *Param) SetCallback(cb ValueCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callback = cb
}

// Node is a named point in the control tree.
type Node struct {
	Name     string
	Param    *Param // nil for a pure container node
	children map[string]*Node
	parent   *Node
}

// Path returns the slash-joined path from the tree root to this node.
func (n *Node) Path() string {
	if n.parent == nil {
		return "/" + n.Name
	}
	return n.parent.Path() + "/" + n.Name
}

// Children returns the node's direct children, sorted by name.
func (n *Node) Children() []*Node {
	out := make([]*Node, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Child looks up a direct child by name.
func (n *Node) Child(name string) (*Node, bool) {
	c, ok := n.children[name]
	return c, ok
}

// Tree owns the root node and the single build mutex that serializes all
// structural mutation.
type Tree struct {
	buildMu sync.Mutex
	root    *Node
}

// New constructs an empty tree rooted at "rnbo".
func New() *Tree {
	return &Tree{root: &Node{Name: "rnbo", children: map[string]*Node{}}}
}

// Root returns the tree's root node. Callers must go through Build to mutate
// structure; Root is safe to read from concurrently for lookups.
func (t *Tree) Root() *Node {
	return t.root
}

// Builder is handed the tree's build mutex for the duration of fn, and the
// branch rooted at the given path (created if necessary). This is the only
// way instances and the audio host extend the tree.
func (t *Tree) Build(path string, fn func(branch *Node)) {
	t.buildMu.Lock()
	defer t.buildMu.Unlock()

	branch := t.root
	if path != "" {
		for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
			if seg == "" {
				continue
			}
			child, ok := branch.children[seg]
			if !ok {
				child = &Node{Name: seg, children: map[string]*Node{}, parent: branch}
				branch.children[seg] = child
			}
			branch = child
		}
	}
	fn(branch)
}

// AddChild creates (or returns the existing) child node, to be called with
// the build mutex held (i.e. from inside a Builder closure).
func (n *Node) AddChild(name string) *Node {
	if n.children == nil {
		n.children = map[string]*Node{}
	}
	child, ok := n.children[name]
	if !ok {
		child = &Node{Name: name, children: map[string]*Node{}, parent: n}
		n.children[name] = child
	}
	return child
}

// RemoveChild detaches a child node, to be called with the build mutex held.
func (n *Node) RemoveChild(name string) {
	delete(n.children, name)
}

// Lookup resolves an absolute or relative slash-path to a node, if present.
func (t *Tree) Lookup(path string) (*Node, bool) {
	node := t.root
	trimmed := strings.TrimPrefix(strings.Trim(path, "/"), node.Name)
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return node, true
	}
	for _, seg := range strings.Split(trimmed, "/") {
		child, ok := node.children[seg]
		if !ok {
			return nil, false
		}
		node = child
	}
	return node, true
}
