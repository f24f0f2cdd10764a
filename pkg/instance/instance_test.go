package instance

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnbo-oscquery/runner/pkg/tree"
)

type fakeFactory struct {
	params     []ParamInfo
	ports      []PortInfo
	datarefs   []string
	values     map[string]float64
	sentInport map[string]interface{}
	presetOut  []byte
	loadedPreset []byte
}

func (f *fakeFactory) Params() []ParamInfo { return f.params }
func (f *fakeFactory) Ports() []PortInfo   { return f.ports }
func (f *fakeFactory) Datarefs() []string  { return f.datarefs }
func (f *fakeFactory) AudioInputs() int    { return 2 }
func (f *fakeFactory) AudioOutputs() int   { return 2 }
func (f *fakeFactory) SetParam(id string, value float64) {
	if f.values == nil {
		f.values = map[string]float64{}
	}
	f.values[id] = value
}
func (f *fakeFactory) GetParam(id string) float64 { return f.values[id] }
func (f *fakeFactory) SendInport(tag string, value interface{}) {
	if f.sentInport == nil {
		f.sentInport = map[string]interface{}{}
	}
	f.sentInport[tag] = value
}
func (f *fakeFactory) SerializePreset() ([]byte, error) { return f.presetOut, nil }
func (f *fakeFactory) LoadPreset(content []byte) error {
	f.loadedPreset = content
	return nil
}

func newTestInstance(t *testing.T, factory *fakeFactory) *Instance {
	tr := tree.New()
	var inst *Instance
	tr.Build("inst/0", func(branch *tree.Node) {
		inst = New(0, "p1", factory, branch, logr.Discard(), nil, nil)
	})
	require.NotNil(t, inst)
	return inst
}

func gain() ParamInfo {
	return ParamInfo{ID: "gain", Name: "Gain", Min: 0, Max: 1, Initial: 0.5, Visible: true}
}

func TestBindParamsCreatesNode(t *testing.T) {
	f := &fakeFactory{params: []ParamInfo{gain()}}
	inst := newTestInstance(t, f)

	node, ok := inst.branch.Child("params")
	require.True(t, ok)
	paramNode, ok := node.Child("gain")
	require.True(t, ok)
	assert.Equal(t, 0.5, paramNode.Param.Get())
}

func TestDebugParamsNotBound(t *testing.T) {
	f := &fakeFactory{params: []ParamInfo{{ID: "hidden", Visible: true, Debug: true}}}
	inst := newTestInstance(t, f)
	_, ok := inst.branch.Child("params")
	assert.False(t, ok)
}

func TestParamWriteClipsToDomain(t *testing.T) {
	f := &fakeFactory{params: []ParamInfo{gain()}}
	inst := newTestInstance(t, f)

	node, _ := inst.branch.Child("params")
	paramNode, _ := node.Child("gain")
	paramNode.Param.Set(paramNode, 5.0)
	assert.Equal(t, 1.0, f.values["gain"])
}

func TestEnumParamKeepsNormalizedSiblingConsistent(t *testing.T) {
	f := &fakeFactory{params: []ParamInfo{{ID: "mode", Visible: true, Steps: 4, EnumValues: []string{"a", "b", "c", "d"}}}}
	inst := newTestInstance(t, f)

	params, _ := inst.branch.Child("params")
	modeNode, _ := params.Child("mode")
	normNode, _ := params.Child("mode/normalized")

	modeNode.Param.Set(modeNode, "c")
	assert.InDelta(t, 2.0/3.0, normNode.Param.Get().(float64), 0.001)
}

func TestMidiMapDispatchesToBoundParam(t *testing.T) {
	binding, _ := json.Marshal(map[string]int{"cc": 10, "chan": 1})
	f := &fakeFactory{params: []ParamInfo{{ID: "gain", Visible: true, Min: 0, Max: 1, MidiBinding: binding}}}
	inst := newTestInstance(t, f)

	inst.events.Push(mkEvent(0xB0, 10, 64))
	inst.ProcessEvents()

	assert.InDelta(t, 64.0/127.0, f.values["gain"], 0.01)
}

func TestIncomingOSCMirrorsToBoundParam(t *testing.T) {
	f := &fakeFactory{params: []ParamInfo{{ID: "gain", Visible: true, Min: 0, Max: 1, OSCAddress: "/foo"}}}
	inst := newTestInstance(t, f)

	inst.IncomingOSC("/foo", 0.75)
	assert.Equal(t, 0.75, f.values["gain"])
}

func TestDatarefWorkerPersistsFilenameOnSuccess(t *testing.T) {
	inst := newTestInstance(t, &fakeFactory{})
	inst.datarefs.Start(fakeDecoder{})
	defer inst.datarefs.Stop()

	inst.datarefs.Load("buf1", "x.wav")
	waitUntil(t, func() bool { return inst.datarefs.Filenames()["buf1"] == "x.wav" })
}

func TestDatarefWorkerClearsOnMissingFile(t *testing.T) {
	inst := newTestInstance(t, &fakeFactory{})
	inst.datarefs.Start(failDecoder{})
	defer inst.datarefs.Stop()

	inst.datarefs.Load("buf1", "missing.wav")
	waitUntil(t, func() bool {
		_, ok := inst.datarefs.Filenames()["buf1"]
		return !ok
	})
}

func TestDatarefNodeWriteLoadsAndEchoesFilename(t *testing.T) {
	f := &fakeFactory{datarefs: []string{"buf1"}}
	inst := newTestInstance(t, f)
	inst.datarefs.Start(fakeDecoder{})
	defer inst.datarefs.Stop()

	node, ok := inst.branch.Child("data_refs")
	require.True(t, ok)
	bufNode, ok := node.Child("buf1")
	require.True(t, ok)
	assert.Equal(t, "", bufNode.Param.Get())

	bufNode.Param.Set(bufNode, "x.wav")
	waitUntil(t, func() bool { return bufNode.Param.Get() == "x.wav" })
}

func TestDatarefNodeClearsOnMissingFile(t *testing.T) {
	f := &fakeFactory{datarefs: []string{"buf1"}}
	inst := newTestInstance(t, f)
	inst.datarefs.Start(failDecoder{})
	defer inst.datarefs.Stop()

	node, _ := inst.branch.Child("data_refs")
	bufNode, _ := node.Child("buf1")

	bufNode.Param.Set(bufNode, "missing.wav")
	waitUntil(t, func() bool { return bufNode.Param.Get() == "" })
}

func TestDatarefNodeEmptyWriteUnloads(t *testing.T) {
	f := &fakeFactory{datarefs: []string{"buf1"}}
	inst := newTestInstance(t, f)
	inst.datarefs.Start(fakeDecoder{})
	defer inst.datarefs.Stop()

	inst.datarefs.Load("buf1", "x.wav")
	waitUntil(t, func() bool { return inst.datarefs.Filenames()["buf1"] == "x.wav" })

	node, _ := inst.branch.Child("data_refs")
	bufNode, _ := node.Child("buf1")
	bufNode.Param.Set(bufNode, "")
	waitUntil(t, func() bool {
		_, ok := inst.datarefs.Filenames()["buf1"]
		return !ok
	})
}

type fakeDecoder struct{}

func (fakeDecoder) Decode(path string) ([]float32, int, error) { return []float32{0, 0.5, -0.5}, 1, nil }

type failDecoder struct{}

func (failDecoder) Decode(path string) ([]float32, int, error) {
	return nil, 0, assertErr{}
}

type assertErr struct{}

func (assertErr) Error() string { return "file not found" }

func mkEvent(status, d0, d1 byte) (ev struct {
	InstanceIndex int
	Port          int
	Status        byte
	Data0         byte
	Data1         byte
	Frame         uint32
}) {
	ev.Status, ev.Data0, ev.Data1 = status, d0, d1
	return
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}
