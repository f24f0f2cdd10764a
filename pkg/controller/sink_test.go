package controller

import (
	"time"

	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnbo-oscquery/runner/pkg/dispatch"
	"github.com/rnbo-oscquery/runner/pkg/tree"
)

func TestResponseSinkPublishesToRespNode(t *testing.T) {
	assert := assert.New(t)
	tr := tree.New()
	sink := NewResponseSink(tr, logr.Discard())

	sink.Respond(dispatch.Ok("1", map[string]interface{}{"ok": true}))

	node, ok := tr.Lookup("rnbo/resp")
	require.True(t, ok)
	value, ok := node.Param.Get().(string)
	require.True(t, ok)
	assert.Contains(value, `"id":"1"`)
	assert.Contains(value, `"ok":true`)
}

func TestBuildCommandNodePushesOntoQueue(t *testing.T) {
	assert := assert.New(t)
	tr := tree.New()
	q := dispatch.NewQueue()
	BuildCommandNode(tr, q)

	node, ok := tr.Lookup("rnbo/cmd")
	require.True(t, ok)
	node.Param.Set(node, `{"id":"1","method":"noop"}`)

	cmd, ok := q.Pop(100 * time.Millisecond)
	require.True(t, ok)
	assert.Equal(`{"id":"1","method":"noop"}`, cmd)
}
