package oscquery

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnbo-oscquery/runner/pkg/model"
	"github.com/rnbo-oscquery/runner/pkg/tree"
)

type fakeListenerStore struct {
	listeners []model.Listener
}

func (f *fakeListenerStore) ListenerList() ([]model.Listener, error) { return f.listeners, nil }

func newTestTree() (*tree.Tree, *tree.Node) {
	tr := tree.New()
	var gain *tree.Node
	tr.Build("inst/0/params", func(branch *tree.Node) {
		gain = branch.AddChild("gain")
		min, max := 0.0, 1.0
		gain.Param = &tree.Param{Type: tree.TypeFloat, Access: tree.AccessBi, Domain: tree.Domain{Min: &min, Max: &max}}
		gain.Param.Set(gain, 0.5)
	})
	return tr, gain
}

func TestProjectNodeIncludesValueAndRange(t *testing.T) {
	_, gain := newTestTree()
	out := projectNode(gain, true)
	assert.Equal(t, "f", out.Type)
	assert.Equal(t, []interface{}{0.5}, out.Value)
	require.Len(t, out.Range, 1)
	assert.Equal(t, 0.0, out.Range[0]["MIN"])
	assert.Equal(t, 1.0, out.Range[0]["MAX"])
}

func TestHandleHTTPServesTreeJSON(t *testing.T) {
	tr, _ := newTestTree()
	s := New(tr, &fakeListenerStore{}, DefaultConfig(), logr.Discard())

	req := httptest.NewRequest("GET", "/inst/0/params/gain", nil)
	req = mux.SetURLVars(req, map[string]string{"path": "inst/0/params/gain"})
	w := httptest.NewRecorder()
	s.handleHTTP(w, req)

	require.Equal(t, 200, w.Code)
	var got nodeJSON
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "f", got.Type)
}

func TestHandleOSCMessageSetsParam(t *testing.T) {
	tr, gain := newTestTree()
	s := New(tr, &fakeListenerStore{}, DefaultConfig(), logr.Discard())

	msg := osc.NewMessage("/inst/0/params/gain")
	msg.Append(float32(0.75))
	s.handleOSCMessage(msg)

	assert.Equal(t, 0.75, gain.Param.Get())
}

func TestHandleOSCMessageIgnoresGetOnlyParam(t *testing.T) {
	tr := tree.New()
	var ro *tree.Node
	tr.Build("info", func(branch *tree.Node) {
		ro = branch.AddChild("disk_free")
		ro.Param = &tree.Param{Type: tree.TypeInt, Access: tree.AccessGet}
		ro.Param.Set(ro, 100)
	})
	s := New(tr, &fakeListenerStore{}, DefaultConfig(), logr.Discard())

	msg := osc.NewMessage("/info/disk_free")
	msg.Append(int32(5))
	s.handleOSCMessage(msg)

	assert.Equal(t, 100, ro.Param.Get())
}

func TestIsSelfLoopRejectsOwnPortsOverLoopback(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, IsSelfLoop("127.0.0.1", cfg.HTTPPort, cfg))
	assert.True(t, IsSelfLoop("127.0.0.1", cfg.OSCPort, cfg))
	assert.False(t, IsSelfLoop("127.0.0.1", 9000, cfg))
	assert.False(t, IsSelfLoop("192.168.1.5", cfg.OSCPort, cfg))
}

func TestPublishBroadcastsToOSCListeners(t *testing.T) {
	tr, _ := newTestTree()
	store := &fakeListenerStore{listeners: []model.Listener{{IP: "127.0.0.1", Port: 9999}}}
	s := New(tr, store, DefaultConfig(), logr.Discard())

	// Publish should not panic even with no actual receiver bound; it best-effort sends.
	assert.NotPanics(t, func() {
		s.Publish("inst/0/params/gain", 0.25)
	})
}
