package instance

import (
	"math"
	"sync"
)

// DataDecoder is the external audio-file decoder collaborator: given a path
// it returns an interleaved float32 buffer plus its channel count.
type DataDecoder interface {
	Decode(path string) (samples []float32, channels int, err error)
}

type darefCommand struct {
	load   bool // false means unload
	id     string
	path   string
}

// darefWorker owns a FIFO of load/unload commands on a dedicated goroutine,
// decoding audio files off the control thread and handing each decoded
// buffer to a cleanup queue drained by ProcessEvents.
type darefWorker struct {
	inst *Instance
	cmds chan darefCommand
	quit chan struct{}

	mu       sync.Mutex
	current  map[string]string // dataref id -> filename, persisted so reload restores it
}

func newDatarefWorker(inst *Instance) *darefWorker {
	w := &darefWorker{inst: inst, cmds: make(chan darefCommand, 64), quit: make(chan struct{}), current: map[string]string{}}
	return w
}

// Start launches the worker loop bound to a decoder.
func (w *darefWorker) Start(decoder DataDecoder) {
	go func() {
		for {
			select {
			case cmd := <-w.cmds:
				w.process(cmd, decoder)
			case <-w.quit:
				return
			}
		}
	}()
}

// Stop terminates the worker goroutine.
func (w *darefWorker) Stop() {
	close(w.quit)
}

// Load queues a dataref load/replace command.
func (w *darefWorker) Load(id, path string) {
	w.cmds <- darefCommand{load: true, id: id, path: path}
}

// Unload queues a dataref unload command.
func (w *darefWorker) Unload(id string) {
	w.cmds <- darefCommand{load: false, id: id}
}

func (w *darefWorker) process(cmd darefCommand, decoder DataDecoder) {
	if !cmd.load {
		w.mu.Lock()
		delete(w.current, cmd.id)
		w.mu.Unlock()
		w.inst.setDatarefEchoSafe(cmd.id, "")
		return
	}

	samples, _, err := decoder.Decode(cmd.path)
	if err != nil {
		// Missing files during dataref load clear the binding and the
		// corresponding node value without aborting the instance.
		w.inst.log.Error(err, "dataref decode failed", "id", cmd.id, "path", cmd.path)
		w.mu.Lock()
		delete(w.current, cmd.id)
		w.mu.Unlock()
		w.inst.setDatarefEchoSafe(cmd.id, "")
		return
	}

	w.mu.Lock()
	w.current[cmd.id] = cmd.path
	w.mu.Unlock()
	w.inst.setDatarefEchoSafe(cmd.id, cmd.path)

	// The Factory interface takes no sample buffers, so the decoded buffer
	// is not passed to the DSP; it is handed to the cleanup queue (dropped
	// if the queue is full), which ProcessEvents drains on the control thread.
	select {
	case w.inst.cleanup <- floatsToBytes(samples):
	default:
	}
}

// Filenames returns the current dataref id -> filename mapping, persisted
// alongside set-instance config so reloading the set restores every binding.
func (w *darefWorker) Filenames() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]string, len(w.current))
	for k, v := range w.current {
		out[k] = v
	}
	return out
}

func floatsToBytes(samples []float32) []byte {
	b := make([]byte, len(samples)*4)
	for i, s := range samples {
		bits := math.Float32bits(s)
		b[i*4] = byte(bits)
		b[i*4+1] = byte(bits >> 8)
		b[i*4+2] = byte(bits >> 16)
		b[i*4+3] = byte(bits >> 24)
	}
	return b
}
