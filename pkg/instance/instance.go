// Package instance owns one loaded patcher incarnation: its parameter
// bridge into the node tree, preset save/load, dataref loading, and MIDI/OSC
// mapping. Grounded in the original C++ runtime's Instance class (event
// handler, per-instance maps, dataref worker thread) and rebuilt around
// ordinary goroutines, channels, and the tree/ringbuf packages in place of
// moodycamel queues and ossia parameter nodes.
package instance

import (
	"sync"

	"github.com/go-logr/logr"

	"github.com/rnbo-oscquery/runner/pkg/midimap"
	"github.com/rnbo-oscquery/runner/pkg/ringbuf"
	"github.com/rnbo-oscquery/runner/pkg/tree"
)

// ParamInfo is the static metadata a loaded patcher library declares for one
// parameter.
type ParamInfo struct {
	ID          string
	Name        string
	Min, Max    float64
	Initial     float64
	Steps       int // 0 means continuous; >0 means an N-step enum
	EnumValues  []string
	Visible     bool
	Debug       bool
	MidiBinding []byte // raw JSON binding descriptor from metadata, or nil
	OSCAddress  string
}

// PortInfo declares one inport or outport tag.
type PortInfo struct {
	Tag        string
	Out        bool
	MidiBinding []byte
	OSCAddress  string
}

// Factory is the external collaborator wrapping a loaded shared library: the
// DSP inner loop itself is out of scope here, but the runtime needs to
// enumerate its parameters/ports, push parameter writes into it, ask it to
// process audio, and ask it to serialize/restore its preset state.
type Factory interface {
	Params() []ParamInfo
	Ports() []PortInfo
	Datarefs() []string
	AudioInputs() int
	AudioOutputs() int
	SetParam(id string, value float64)
	GetParam(id string) float64
	SendInport(tag string, value interface{})
	SerializePreset() ([]byte, error)
	LoadPreset(content []byte) error
}

// OutboundDispatcher delivers an outbound OSC re-dispatch for a node or port
// that declared an OSC address in its metadata.
type OutboundDispatcher func(addr string, value interface{})

// PresetLoadedCallback fires once a preset finishes loading, reporting both
// the preset name and the originating set name (empty for a patcher-level
// preset).
type PresetLoadedCallback func(presetName, setName string)

// Instance owns one patcher incarnation's tree branch, parameter bridge,
// preset state, and MIDI/OSC maps.
type Instance struct {
	Index   int
	Name    string
	factory Factory
	branch  *tree.Node
	log     logr.Logger

	onOSC     OutboundDispatcher
	onPreset  PresetLoadedCallback

	mu           sync.Mutex
	paramNodes   map[string]*tree.Node
	datarefNodes map[string]*tree.Node
	lastPreset   string

	pendingPatcherID int64
	pendingStore     PresetStore

	midi   *midiMaps
	datarefs *darefWorker

	events     *ringbuf.Ring // hardware MIDI events queued by PushMidiEvent
	presetSave chan presetSaveResult
	cleanup    chan []byte // decoded dataref buffers handed off by the dataref worker

	active bool
}

type presetSaveResult struct {
	name    string
	setName string
	content []byte
	err     error
}

// New constructs an Instance bound to a tree branch (already created via
// Tree.Build by the caller) and a loaded factory.
func New(index int, name string, factory Factory, branch *tree.Node, log logr.Logger, onOSC OutboundDispatcher, onPreset PresetLoadedCallback) *Instance {
	inst := &Instance{
		Index:      index,
		Name:       name,
		factory:    factory,
		branch:     branch,
		log:        log.WithName("instance").WithValues("index", index, "name", name),
		onOSC:      onOSC,
		onPreset:   onPreset,
		paramNodes:   map[string]*tree.Node{},
		datarefNodes: map[string]*tree.Node{},
		events:       ringbuf.New(4096),
		presetSave:   make(chan presetSaveResult, 32),
		cleanup:      make(chan []byte, 32),
		midi:         newMidiMaps(),
	}
	inst.bindParams()
	inst.bindPorts()
	inst.bindDatarefs()
	inst.datarefs = newDatarefWorker(inst)
	return inst
}

// Activate wires up the DSP callback path; no-op beyond marking the instance
// live since the realtime process function is supplied to the audio host
// separately by the caller.
func (i *Instance) Activate() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.active = true
}

// Connect does nothing: port connection is done by the audio host's
// auto-connect, which the controller runs when it registers the instance.
func (i *Instance) Connect() {}

// Start logs the requested fade-in time and returns. It applies no gain
// ramp; audio is rendered by the process function registered with the
// audio host.
func (i *Instance) Start(fadeMS float64) {
	i.log.V(1).Info("start", "fadeMs", fadeMS)
}

// Stop marks the instance inactive and logs the requested fade-out time. It
// applies no gain ramp.
func (i *Instance) Stop(fadeMS float64) {
	i.mu.Lock()
	i.active = false
	i.mu.Unlock()
	i.log.V(1).Info("stop", "fadeMs", fadeMS)
}

// ProcessEvents is called once per controller cycle on the control thread.
// It drains the MIDI events queued by PushMidiEvent through the instance's
// MIDI map, then preset-save completions, then dataref cleanup handoffs --
// never touching the realtime audio thread directly. No parameter or message
// events come back from the DSP through it.
func (i *Instance) ProcessEvents() {
	i.events.Drain(i.handleDSPEvent)

presetDrain:
	for {
		select {
		case res := <-i.presetSave:
			i.finishPresetSave(res)
		default:
			break presetDrain
		}
	}

	for {
		select {
		case buf := <-i.cleanup:
			_ = buf // retired dataref buffer; GC reclaims it off the audio thread
		default:
			return
		}
	}
}

// PushMidiEvent queues a hardware MIDI event for this instance's own
// parameter MIDI map, drained on the next ProcessEvents call. The controller
// calls this after routing an event popped off the shared audio host ring by
// its tagged InstanceIndex.
func (i *Instance) PushMidiEvent(e ringbuf.Event) bool {
	return i.events.Push(e)
}

func (i *Instance) handleDSPEvent(e ringbuf.Event) {
	key := midimap.Key(e.Status, e.Data0)
	if key == 0 {
		return
	}
	val := midimap.Value(e.Status, e.Data0, e.Data1)
	i.midi.dispatch(key, val, i)
}

// IOCounts returns [audioIn, audioOut, midiIn, midiOut] as exposed at
// patchers/<name>/io; MIDI presence is a fixed 1/1 since the factory
// interface does not grant per-port MIDI cardinality beyond on/off.
func (i *Instance) IOCounts() [4]int {
	return [4]int{i.factory.AudioInputs(), i.factory.AudioOutputs(), 1, 1}
}

// StartDatarefs launches the dataref worker bound to decoder; called once a
// concrete audio-file decoder is available.
func (i *Instance) StartDatarefs(decoder DataDecoder) {
	i.datarefs.Start(decoder)
}

// StopDatarefs terminates the dataref worker goroutine.
func (i *Instance) StopDatarefs() {
	i.datarefs.Stop()
}

// LoadDataref queues a dataref load/replace by id.
func (i *Instance) LoadDataref(id, path string) {
	i.datarefs.Load(id, path)
}

// UnloadDataref queues a dataref unload by id.
func (i *Instance) UnloadDataref(id string) {
	i.datarefs.Unload(id)
}

// DatarefFilenames returns the current dataref id -> filename bindings, for
// persisting alongside set-instance config.
func (i *Instance) DatarefFilenames() map[string]string {
	return i.datarefs.Filenames()
}

func (i *Instance) setParamEchoSafe(id string, value float64) {
	i.mu.Lock()
	node, ok := i.paramNodes[id]
	i.mu.Unlock()
	if !ok {
		return
	}
	node.Param.Set(node, value)
}

// setDatarefEchoSafe updates a data_refs/<id> node's value, used by the
// dataref worker to reflect a load outcome -- the bound filename on success,
// empty on failure or unload. The write runs the node's callback, which
// ignores it because the value matches the worker's current binding.
func (i *Instance) setDatarefEchoSafe(id, value string) {
	i.mu.Lock()
	node, ok := i.datarefNodes[id]
	i.mu.Unlock()
	if !ok {
		return
	}
	node.Param.Set(node, value)
}
