// Package oscquery projects the control tree (pkg/tree) as OSCQuery JSON over
// HTTP, pushes value changes over WebSocket, and bridges the same tree to a
// UDP OSC transport for value get/set. Grounded on the teacher's
// cmd/handlers.go / cmd/server.go (gorilla/mux routing, the
// websocket.Upgrader{}.Upgrade(w,r,nil) pattern) for the control-plane half,
// and on other_examples/f28749cb_fjammes-midi2osc for the hypebeast/go-osc
// client/server calling convention.
package oscquery

import (
	"github.com/rnbo-oscquery/runner/pkg/tree"
)

// oscTypeTag maps a tree.Type to its OSCQuery/OSC type tag string.
func oscTypeTag(t tree.Type) string {
	switch t {
	case tree.TypeBool:
		return "T" // OSCQuery reports bool as T/F per-value; container tag below covers both
	case tree.TypeInt:
		return "i"
	case tree.TypeFloat:
		return "f"
	case tree.TypeString:
		return "s"
	case tree.TypeList:
		return "[]"
	case tree.TypeImpulse:
		return "N"
	default:
		return "N"
	}
}

func accessInt(a tree.AccessMode) int {
	switch a {
	case tree.AccessGet:
		return 1
	case tree.AccessSet:
		return 2
	case tree.AccessBi:
		return 3
	default:
		return 0
	}
}

// nodeJSON is the OSCQuery wire shape for one tree node.
type nodeJSON struct {
	FullPath    string                 `json:"FULL_PATH"`
	Contents    map[string]*nodeJSON   `json:"CONTENTS,omitempty"`
	Type        string                 `json:"TYPE,omitempty"`
	Value       []interface{}          `json:"VALUE,omitempty"`
	Access      int                    `json:"ACCESS,omitempty"`
	Description string                 `json:"DESCRIPTION,omitempty"`
	Range       []map[string]interface{} `json:"RANGE,omitempty"`
}

// projectNode renders n and, when deep is true, its full subtree.
func projectNode(n *tree.Node, deep bool) *nodeJSON {
	out := &nodeJSON{FullPath: n.Path()}

	if n.Param != nil {
		p := n.Param
		out.Type = oscTypeTag(p.Type)
		out.Access = accessInt(p.Access)
		out.Description = p.Description
		if v := p.Get(); v != nil {
			out.Value = []interface{}{v}
		}
		rng := map[string]interface{}{}
		if p.Domain.Min != nil {
			rng["MIN"] = *p.Domain.Min
		}
		if p.Domain.Max != nil {
			rng["MAX"] = *p.Domain.Max
		}
		if len(p.Domain.Accepted) > 0 {
			vals := make([]interface{}, len(p.Domain.Accepted))
			for i, v := range p.Domain.Accepted {
				vals[i] = v
			}
			rng["VALS"] = vals
		}
		if len(rng) > 0 {
			out.Range = []map[string]interface{}{rng}
		}
	}

	children := n.Children()
	if len(children) > 0 && (deep || n.Param == nil) {
		out.Contents = make(map[string]*nodeJSON, len(children))
		for _, c := range children {
			out.Contents[c.Name] = projectNode(c, deep)
		}
	}
	return out
}

// hostInfo is the OSCQuery HOST_INFO document.
type hostInfo struct {
	Name          string `json:"NAME"`
	OSCPort       int    `json:"OSC_PORT"`
	OSCTransport  string `json:"OSC_TRANSPORT"`
	OSCQueryWS    bool   `json:"WS_IMPLEMENTED"`
}
