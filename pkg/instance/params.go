package instance

import (
	"github.com/rnbo-oscquery/runner/pkg/midimap"
	"github.com/rnbo-oscquery/runner/pkg/tree"
)

// bindParams creates params/<id> tree nodes per the binding rule: only
// numeric parameters that are visible and non-debug get a bidirectional
// node with current range, clip bounding, and initial value. Enumerated
// parameters additionally get a normalized-float sibling kept consistent
// with the enum node via each node's own echo guard.
func (i *Instance) bindParams() {
	for _, p := range i.factory.Params() {
		if !p.Visible || p.Debug {
			continue
		}
		p := p
		var node *tree.Node
		if p.Steps > 0 {
			node = i.buildEnumParam(p)
		} else {
			node = i.buildNumericParam(p)
		}

		i.mu.Lock()
		i.paramNodes[p.ID] = node
		i.mu.Unlock()

		if len(p.MidiBinding) > 0 {
			if key := midimap.KeyFromJSON(p.MidiBinding); key != 0 {
				i.midi.bindParam(key, p.ID)
			}
		}
		if p.OSCAddress != "" {
			i.midi.bindOSCParam(p.OSCAddress, p.ID)
		}
	}
}

func (i *Instance) buildNumericParam(p ParamInfo) *tree.Node {
	node := i.branch.AddChild("params").AddChild(p.ID)
	min, max := p.Min, p.Max
	node.Param = &tree.Param{
		Type:        tree.TypeFloat,
		Access:      tree.AccessBi,
		Description: p.Name,
		Domain:      tree.Domain{Min: &min, Max: &max, ClipToMin: true, ClipToMax: true},
	}
	node.Param.SetCallback(func(n *tree.Node, value interface{}) {
		v, ok := value.(float64)
		if !ok {
			return
		}
		v = n.Param.Domain.Clip(v)
		i.factory.SetParam(p.ID, v)
		if p.OSCAddress != "" && i.onOSC != nil {
			i.onOSC(p.OSCAddress, v)
		}
	})
	node.Param.Set(node, node.Param.Domain.Clip(p.Initial))
	return node
}

func (i *Instance) buildEnumParam(p ParamInfo) *tree.Node {
	max := float64(p.Steps - 1)
	node := i.branch.AddChild("params").AddChild(p.ID)
	node.Param = &tree.Param{
		Type:        tree.TypeString,
		Access:      tree.AccessBi,
		Description: p.Name,
		Domain:      tree.Domain{Accepted: p.EnumValues},
	}

	normNode := i.branch.AddChild("params").AddChild(p.ID + "/normalized")
	normMin, normMax := 0.0, 1.0
	normNode.Param = &tree.Param{
		Type:   tree.TypeFloat,
		Access: tree.AccessBi,
		Domain: tree.Domain{Min: &normMin, Max: &normMax, ClipToMin: true, ClipToMax: true},
	}

	node.Param.SetCallback(func(n *tree.Node, value interface{}) {
		s, ok := value.(string)
		if !ok {
			return
		}
		step := indexOf(p.EnumValues, s)
		if step < 0 {
			return
		}
		normVal := float64(step) / max
		i.factory.SetParam(p.ID, normVal)
		normNode.Param.Set(normNode, normVal)
	})
	normNode.Param.SetCallback(func(n *tree.Node, value interface{}) {
		v, ok := value.(float64)
		if !ok {
			return
		}
		v = n.Param.Domain.Clip(v)
		i.factory.SetParam(p.ID, v)
		step := int(v*max + 0.5)
		if step >= 0 && step < len(p.EnumValues) {
			node.Param.Set(node, p.EnumValues[step])
		}
	})

	if len(p.EnumValues) > 0 {
		node.Param.Set(node, p.EnumValues[0])
	}
	return node
}

// bindDatarefs creates a settable data_refs/<id> string node per id the
// factory declares, per spec.md §4.5/§8 S4: an external write of a file path
// onto this node is the only entry point for loading/replacing a dataref
// buffer. The node's own value is echoed back by the dataref worker once the
// load completes, and cleared on decode failure or explicit unload -- never
// by the callback itself, which only kicks off the asynchronous load.
func (i *Instance) bindDatarefs() {
	for _, id := range i.factory.Datarefs() {
		id := id
		node := i.branch.AddChild("data_refs").AddChild(id)
		node.Param = &tree.Param{Type: tree.TypeString, Access: tree.AccessBi}
		node.Param.Set(node, "")
		node.Param.SetCallback(func(n *tree.Node, value interface{}) {
			path, ok := value.(string)
			if !ok {
				return
			}
			// A value equal to the worker's current binding is the worker's
			// own echo of a finished load or unload; it starts nothing.
			if i.datarefs.Filenames()[id] == path {
				return
			}
			if path == "" {
				i.UnloadDataref(id)
				return
			}
			i.LoadDataref(id, path)
		})

		i.mu.Lock()
		i.datarefNodes[id] = node
		i.mu.Unlock()
	}
}

func indexOf(values []string, s string) int {
	for idx, v := range values {
		if v == s {
			return idx
		}
	}
	return -1
}

// bindPorts creates inport/outport tree nodes. Inport tags accept impulse,
// float, int, or a homogeneous numeric list; outport tags are get-only and
// receive whatever the DSP emits.
func (i *Instance) bindPorts() {
	for _, p := range i.factory.Ports() {
		p := p
		parent := "outports"
		if !p.Out {
			parent = "inports"
		}
		node := i.branch.AddChild(parent).AddChild(p.Tag)
		access := tree.AccessGet
		if !p.Out {
			access = tree.AccessSet
		}
		node.Param = &tree.Param{Type: tree.TypeList, Access: access}
		if !p.Out {
			node.Param.SetCallback(func(n *tree.Node, value interface{}) {
				i.factory.SendInport(p.Tag, value)
			})
		}

		if len(p.MidiBinding) > 0 {
			if key := midimap.KeyFromJSON(p.MidiBinding); key != 0 {
				i.midi.bindInport(key, p.Tag)
			}
		}
		if p.OSCAddress != "" {
			i.midi.bindOSCInport(p.OSCAddress, p.Tag)
		}
	}
}
