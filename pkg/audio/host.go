// Package audio bridges the control plane to a JACK audio graph via
// xthexder/go-jack, grounded on the process-callback/port-registration
// pattern shown in the midi2osc reference program: a realtime callback that
// never blocks, handing events off to plain Go channels and ring buffers
// drained by ordinary goroutines.
package audio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/xthexder/go-jack"

	"github.com/rnbo-oscquery/runner/pkg/ringbuf"
)

// AutoConnect selects the policy used to wire a freshly activated instance
// into the physical/virtual JACK graph.
type AutoConnect int

// Auto-connect policies.
const (
	AutoConnectNone AutoConnect = iota
	AutoConnectAudio
	AutoConnectAudioIndexed
	AutoConnectMidi
	AutoConnectMidiHardware
	AutoConnectPortGroup
)

// PortGroupMarker is the JACK port metadata property that flags a port as
// belonging to the user-facing I/O group for port-group auto-connect mode.
const PortGroupMarker = "rnbo-graph-user-io"

// Config is the mutable JACK surface exposed at jack/* in the control tree.
type Config struct {
	DeviceName string
	BufferSize int // power of two, 32..1024
	SampleRate int
	Periods    int
	Active     bool
}

// DefaultConfig returns reasonable startup values.
func DefaultConfig() Config {
	return Config{DeviceName: "default", BufferSize: 256, SampleRate: 48000, Periods: 2, Active: false}
}

// ValidBufferSize reports whether n is a power of two in [32, 1024].
func ValidBufferSize(n int) bool {
	if n < 32 || n > 1024 {
		return false
	}
	return n&(n-1) == 0
}

// Transport is a snapshot of JACK transport state translated into DSP-ready
// fields: rolling/stopped, tempo, time signature, and zero-based beat time
// derived from bar/beat/tick.
type Transport struct {
	Rolling     bool
	BPM         float64
	TimeSigNum  int
	TimeSigDen  int
	BeatTime    float64 // zero-based, fractional beats since bar 1 beat 1
}

func beatTime(bar, beat int32, tick, ticksPerBeat float64, beatsPerBar int32) float64 {
	if ticksPerBeat <= 0 {
		ticksPerBeat = 960
	}
	return float64((bar-1)*beatsPerBar+(beat-1)) + tick/ticksPerBeat
}

// InstancePorts are the per-instance JACK ports the host registers for one
// loaded patcher.
type InstancePorts struct {
	AudioIn  []*jack.Port
	AudioOut []*jack.Port
	MidiIn   *jack.Port
	MidiOut  *jack.Port
}

// DSP is the minimal surface the audio host needs from a loaded instance to
// drive its realtime process step. The instance package implements this.
type DSP struct {
	Index int
	// Process renders one callback's worth of audio/MIDI. It must not
	// allocate or block: audioIn/audioOut are raw per-port float32 slices
	// sized nframes, midiIn is already frame-ordered, and the returned
	// slice is outbound MIDI for this cycle.
	Process func(nframes uint32, audioIn, audioOut [][]float32, midiIn []ringbuf.Event) []ringbuf.Event
}

// Host owns the JACK client, the registered instance ports, and the optional
// recorder branch. Exactly one Host exists per process.
type Host struct {
	log    logr.Logger
	client *jack.Client
	active int32 // atomic bool

	mu        sync.Mutex
	cfg       Config
	instances map[int]*boundInstance
	recorder  *Recorder

	// instanceSnapshot holds the current []*boundInstance the realtime
	// callback reads. RegisterInstance/UnregisterInstance publish a fresh
	// slice under h.mu; process loads it with a single atomic read and never
	// touches h.mu itself.
	instanceSnapshot atomic.Value

	// MidiIn receives decoded incoming MIDI events for the dispatcher/
	// instance MIDI-map layer to drain on its poll cycle. The process
	// callback only ever performs a non-blocking Push.
	MidiIn *ringbuf.Ring
}

// midiInBufCap bounds the per-instance, per-cycle preallocated MIDI event
// buffer the realtime callback fills; events beyond this (pathological
// flooding) are still forwarded to MidiIn but dropped from the DSP callback's
// own midiIn slice rather than grown.
const midiInBufCap = 64

type boundInstance struct {
	index int
	dsp   DSP
	ports InstancePorts

	// audioInBuf/audioOutBuf/midiInBuf are preallocated once at
	// RegisterInstance time so the realtime callback never allocates: it
	// only ever overwrites slots and reslices to length 0.
	audioInBuf  [][]float32
	audioOutBuf [][]float32
	midiInBuf   []ringbuf.Event
	midiOutBuf  [3]byte
}

// New opens the "rnbo-info" introspection/control JACK client. It is the
// only client the host opens: RegisterInstance registers each instance's
// ports on this same client.
func New(log logr.Logger, cfg Config) (*Host, error) {
	client, status := jack.ClientOpen("rnbo-info", jack.NoStartServer)
	if client == nil || status != 0 {
		return nil, fmt.Errorf("jack client open failed: status %d", status)
	}
	h := &Host{
		log:       log.WithName("audio"),
		client:    client,
		cfg:       cfg,
		instances: map[int]*boundInstance{},
		MidiIn:    ringbuf.New(4096),
	}
	if code := client.SetProcessCallback(h.process); code != 0 {
		client.Close()
		return nil, fmt.Errorf("jack set process callback failed: %s", jack.StrError(code))
	}
	client.OnShutdown(func() {
		atomic.StoreInt32(&h.active, 0)
	})
	return h, nil
}

// RegisterInstance registers audio/MIDI ports for a newly loaded DSP and
// wires it into the realtime process path.
func (h *Host) RegisterInstance(dsp DSP, audioIns, audioOuts int, hasMidiIn, hasMidiOut bool) (InstancePorts, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var ports InstancePorts
	for i := 0; i < audioIns; i++ {
		p := h.client.PortRegister(fmt.Sprintf("in%d_%d", dsp.Index, i), jack.DEFAULT_AUDIO_TYPE, jack.PortIsInput, 0)
		if p == nil {
			return ports, fmt.Errorf("failed to register audio input port %d for instance %d", i, dsp.Index)
		}
		ports.AudioIn = append(ports.AudioIn, p)
	}
	for i := 0; i < audioOuts; i++ {
		p := h.client.PortRegister(fmt.Sprintf("out%d_%d", dsp.Index, i), jack.DEFAULT_AUDIO_TYPE, jack.PortIsOutput, 0)
		if p == nil {
			return ports, fmt.Errorf("failed to register audio output port %d for instance %d", i, dsp.Index)
		}
		ports.AudioOut = append(ports.AudioOut, p)
	}
	if hasMidiIn {
		ports.MidiIn = h.client.PortRegister(fmt.Sprintf("midiin%d", dsp.Index), jack.DEFAULT_MIDI_TYPE, jack.PortIsInput, 0)
	}
	if hasMidiOut {
		ports.MidiOut = h.client.PortRegister(fmt.Sprintf("midiout%d", dsp.Index), jack.DEFAULT_MIDI_TYPE, jack.PortIsOutput, 0)
	}

	h.instances[dsp.Index] = &boundInstance{
		index:       dsp.Index,
		dsp:         dsp,
		ports:       ports,
		audioInBuf:  make([][]float32, len(ports.AudioIn)),
		audioOutBuf: make([][]float32, len(ports.AudioOut)),
		midiInBuf:   make([]ringbuf.Event, 0, midiInBufCap),
	}
	h.publishSnapshot()
	return ports, nil
}

// UnregisterInstance tears down an instance's ports.
func (h *Host) UnregisterInstance(index int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	bi, ok := h.instances[index]
	if !ok {
		return
	}
	for _, p := range bi.ports.AudioIn {
		h.client.PortUnregister(p)
	}
	for _, p := range bi.ports.AudioOut {
		h.client.PortUnregister(p)
	}
	if bi.ports.MidiIn != nil {
		h.client.PortUnregister(bi.ports.MidiIn)
	}
	if bi.ports.MidiOut != nil {
		h.client.PortUnregister(bi.ports.MidiOut)
	}
	delete(h.instances, index)
	h.publishSnapshot()
}

// publishSnapshot rebuilds the []*boundInstance slice the realtime callback
// reads and atomically swaps it in. Callers must hold h.mu. This is the only
// place h.instances is ever translated into the form process() consumes, so
// the hot path never needs the mutex or a map.
func (h *Host) publishSnapshot() {
	snap := make([]*boundInstance, 0, len(h.instances))
	for _, bi := range h.instances {
		snap = append(snap, bi)
	}
	h.instanceSnapshot.Store(snap)
}

// Activate starts the JACK client processing.
func (h *Host) Activate() error {
	if code := h.client.Activate(); code != 0 {
		return fmt.Errorf("jack activate failed: %s", jack.StrError(code))
	}
	atomic.StoreInt32(&h.active, 1)
	return nil
}

// Deactivate stops the JACK client. Callers are expected to fade out and
// clear instances first.
func (h *Host) Deactivate() error {
	atomic.StoreInt32(&h.active, 0)
	if code := h.client.Deactivate(); code != 0 {
		return fmt.Errorf("jack deactivate failed: %s", jack.StrError(code))
	}
	return nil
}

// Active reports whether the stream is currently running.
func (h *Host) Active() bool {
	return atomic.LoadInt32(&h.active) != 0
}

// Close releases the JACK client.
func (h *Host) Close() error {
	return h.client.Close()
}

// process is the realtime callback: no allocation, no blocking lock, no file
// I/O. It loads the current instance slice with a single atomic read --
// RegisterInstance/UnregisterInstance are the only writers, and they publish
// a freshly built slice rather than mutating one in place -- then reuses each
// boundInstance's preallocated buffers for the duration of the cycle.
func (h *Host) process(nframes uint32) int {
	if atomic.LoadInt32(&h.active) == 0 {
		return 0
	}
	instances, _ := h.instanceSnapshot.Load().([]*boundInstance)
	for _, bi := range instances {
		for i, p := range bi.ports.AudioIn {
			bi.audioInBuf[i] = p.GetBuffer(nframes)
		}
		for i, p := range bi.ports.AudioOut {
			bi.audioOutBuf[i] = p.GetBuffer(nframes)
		}

		midiIn := bi.midiInBuf[:0]
		if bi.ports.MidiIn != nil {
			for _, ev := range bi.ports.MidiIn.GetMidiEvents(nframes) {
				if len(ev.Buffer) == 0 {
					continue
				}
				status := ev.Buffer[0]
				var d0, d1 byte
				if len(ev.Buffer) > 1 {
					d0 = ev.Buffer[1]
				}
				if len(ev.Buffer) > 2 {
					d1 = ev.Buffer[2]
				}
				re := ringbuf.Event{InstanceIndex: bi.index, Status: status, Data0: d0, Data1: d1, Frame: ev.Time}
				h.MidiIn.Push(re)
				if len(midiIn) < cap(midiIn) {
					midiIn = append(midiIn, re)
				}
			}
		}

		if bi.dsp.Process == nil {
			continue
		}
		out := bi.dsp.Process(nframes, bi.audioInBuf, bi.audioOutBuf, midiIn)
		if bi.ports.MidiOut != nil && len(out) > 0 {
			bi.ports.MidiOut.MidiClearBuffer(nframes)
			for _, e := range out {
				bi.midiOutBuf[0], bi.midiOutBuf[1], bi.midiOutBuf[2] = e.Status, e.Data0, e.Data1
				bi.ports.MidiOut.MidiWriteEvent(e.Frame, bi.midiOutBuf[:])
			}
		}
	}
	return 0
}

// PollTransport samples the current JACK transport state. Called from the
// dispatcher/instance poll cycle, not the realtime thread.
func (h *Host) PollTransport() Transport {
	state, pos := h.client.TransportQuery()
	t := Transport{Rolling: state == jack.TransportRolling, BPM: 120, TimeSigNum: 4, TimeSigDen: 4}
	if pos.ValidBBT() {
		t.TimeSigNum = int(pos.BeatsPerBar)
		t.TimeSigDen = int(pos.BeatType)
		t.BPM = pos.BeatsPerMinute
		t.BeatTime = beatTime(pos.Bar, pos.Beat, float64(pos.Tick), pos.TicksPerBeat, pos.BeatsPerBar)
	}
	return t
}

// msToFrames converts a millisecond offset relative to now into a
// sample-accurate frame offset for the current cycle.
func msToFrames(ms float64, sampleRate int) uint32 {
	if ms <= 0 {
		return 0
	}
	return uint32(ms * float64(sampleRate) / 1000.0)
}
