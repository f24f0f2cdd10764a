package controller

import (
	"encoding/json"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/rnbo-oscquery/runner/pkg/dispatch"
	"github.com/rnbo-oscquery/runner/pkg/tree"
)

// ResponseSink implements dispatch.Sink by publishing every completed
// command's JSON-RPC response onto the "resp" node (spec.md §4.3: "writes
// back responses to a dedicated response node"). Commands carrying the
// reserved id "internal" are echoed to stdout instead, per spec.md §4.3.
type ResponseSink struct {
	node *tree.Node
	log  logr.Logger
}

// NewResponseSink builds the "resp" leaf under the tree root and returns a
// Sink that publishes onto it.
func NewResponseSink(t *tree.Tree, log logr.Logger) *ResponseSink {
	var node *tree.Node
	t.Build("", func(root *tree.Node) {
		node = root.AddChild("resp")
		node.Param = &tree.Param{Type: tree.TypeString, Access: tree.AccessGet}
	})
	return &ResponseSink{node: node, log: log.WithName("sink")}
}

// Respond publishes r onto the resp node as its wire-format JSON string.
func (s *ResponseSink) Respond(r dispatch.Response) {
	raw, err := json.Marshal(r)
	if err != nil {
		s.log.Error(err, "failed to marshal response", "id", r.ID)
		return
	}
	s.node.Param.Set(s.node, string(raw))
}

// PrintInternal writes an internal command's response to stdout instead of
// the resp node, per spec.md §4.3.
func (s *ResponseSink) PrintInternal(r dispatch.Response) {
	raw, err := json.Marshal(r)
	if err != nil {
		s.log.Error(err, "failed to marshal internal response", "id", r.ID)
		return
	}
	fmt.Println(string(raw))
}

// BuildCommandNode wires the "cmd" node under the tree root: any write to it
// is pushed onto q verbatim, the external entry point for the JSON-RPC
// command stream spec.md §6 describes.
func BuildCommandNode(t *tree.Tree, q *dispatch.Queue) {
	t.Build("", func(root *tree.Node) {
		node := root.AddChild("cmd")
		node.Param = &tree.Param{Type: tree.TypeString, Access: tree.AccessSet}
		node.Param.SetCallback(func(n *tree.Node, value interface{}) {
			if s, ok := value.(string); ok {
				q.Push(s)
			}
		})
	})
}
