package dispatch

import (
	"encoding/json"
	"time"

	"github.com/go-logr/logr"
	"github.com/rnbo-oscquery/runner/pkg/errs"
)

// Sink receives dispatcher output: a response for a completed command, or a
// line to print for an internal command.
type Sink interface {
	Respond(Response)
	PrintInternal(Response)
}

// Runtime is everything the dispatcher's method table needs from the rest of
// the system. It is deliberately an interface so the dispatcher can be built
// and tested without the instance/audio/compile/packager packages being
// wired up yet; cmd/rnbo-runner assembles the concrete implementation.
type Runtime interface {
	ActivateAudio(active bool) error
	Compile(id string, params json.RawMessage) error
	CompileCancel() error
	InstanceLoad(params json.RawMessage) error
	InstanceUnload(index int) error
	SetSave(params json.RawMessage) error
	SetLoad(name string) error
	SetDelete(name string) error
	SetRename(oldName, newName string) error
	SetInitial(name string) error
	SetPresetSave(params json.RawMessage) error
	SetPresetLoad(params json.RawMessage) error
	SetPresetDelete(params json.RawMessage) error
	SetPresetRename(params json.RawMessage) error
	SetViewCreate(params json.RawMessage) (interface{}, error)
	SetViewDestroy(params json.RawMessage) error
	SetViewOrder(params json.RawMessage) error
	PatcherStore(params json.RawMessage) (interface{}, error)
	PatcherDestroy(name string) error
	PatcherRename(oldName, newName string) error
	FileWrite(params json.RawMessage) (interface{}, error)
	FileRead(params json.RawMessage) (interface{}, error)
	FileRead64(params json.RawMessage) (interface{}, error)
	FileDelete(params json.RawMessage) error
	FileExists(params json.RawMessage) (bool, error)
	PackageCreate(params json.RawMessage) (interface{}, error)
	PackageInstall(params json.RawMessage) (interface{}, error)
	ListenerAdd(ip string, port uint16) error
	ListenerDel(ip string, port uint16) error
	ListenerClear() error
	Install(version string) error

	// Tick advances periodic housekeeping: instance event draining, the
	// compile state machine, queued set loads, and at a coarse interval a
	// flush of the dirty config store (which carries the last-set name).
	Tick()
}

// Dispatcher drains the Queue on a dedicated goroutine and routes each
// command to the matching Runtime method.
type Dispatcher struct {
	queue *Queue
	rt    Runtime
	sink  Sink
	log   logr.Logger

	stop chan struct{}
	done chan struct{}

	lastHousekeeping time.Time
}

// New constructs a Dispatcher bound to a queue, runtime, response sink, and logger.
func New(q *Queue, rt Runtime, sink Sink, log logr.Logger) *Dispatcher {
	return &Dispatcher{
		queue: q,
		rt:    rt,
		sink:  sink,
		log:   log.WithName("dispatch"),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// popWait is the FIFO pop budget: long enough to avoid busy-spinning, short
// enough that the housekeeping timers in Tick still progress promptly.
const popWait = 10 * time.Millisecond

// Run drains the queue until Stop is called. Intended to be launched with
// `go d.Run()`.
func (d *Dispatcher) Run() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		default:
		}

		if raw, ok := d.queue.Pop(popWait); ok {
			d.handle(raw)
		}
		d.rt.Tick()
	}
}

// Stop requests the worker goroutine to exit and waits for it to do so.
func (d *Dispatcher) Stop() {
	close(d.stop)
	<-d.done
}

func (d *Dispatcher) handle(raw string) {
	defer func() {
		if r := recover(); r != nil {
			d.emit(Fail("", errs.GenericCode, "dispatcher panic"))
		}
	}()

	cmd, err := ParseCommand(raw)
	if err != nil {
		d.log.Error(err, "malformed command", "raw", raw)
		return
	}

	resp := d.dispatch(cmd)
	if cmd.ID == InternalID {
		d.sink.PrintInternal(resp)
		return
	}
	// compile reports its own staged result.code progression (spec.md §8
	// S1) directly through the sink as the job advances; skip the generic
	// reply here so a successful launch doesn't also produce an
	// unrelated {result: true}. A launch failure still flows through the
	// normal error reply below.
	if cmd.Method == "compile" && resp.Error == nil {
		return
	}
	d.emit(resp)
}

func (d *Dispatcher) emit(r Response) {
	d.sink.Respond(r)
}

// dispatch routes one command by method name, converting any handler error
// into a wire Response. Unknown methods are logged and answered with a
// generic error per method-dispatch convention.
func (d *Dispatcher) dispatch(cmd Command) Response {
	switch cmd.Method {
	case "activate_audio":
		return d.boolToggle(cmd, true)
	case "restart_audio":
		return d.boolToggle(cmd, false)
	case "compile":
		return d.errOnly(cmd, d.rt.Compile(cmd.ID, cmd.Params))
	case "compile_cancel":
		return d.errOnly(cmd, d.rt.CompileCancel())
	case "instance_load":
		return d.errOnly(cmd, d.rt.InstanceLoad(cmd.Params))
	case "instance_unload":
		idx, _ := intParam(cmd.Params, "index")
		return d.errOnly(cmd, d.rt.InstanceUnload(idx))
	case "instance_set_save":
		return d.errOnly(cmd, d.rt.SetSave(cmd.Params))
	case "instance_set_load":
		name, _ := stringParam(cmd.Params, "name")
		return d.errOnly(cmd, d.rt.SetLoad(name))
	case "instance_set_delete":
		name, _ := stringParam(cmd.Params, "name")
		return d.errOnly(cmd, d.rt.SetDelete(name))
	case "instance_set_rename":
		oldName, _ := stringParam(cmd.Params, "name")
		newName, _ := stringParam(cmd.Params, "newName")
		return d.errOnly(cmd, d.rt.SetRename(oldName, newName))
	case "instance_set_initial":
		name, _ := stringParam(cmd.Params, "name")
		return d.errOnly(cmd, d.rt.SetInitial(name))
	case "instance_set_preset_save":
		return d.errOnly(cmd, d.rt.SetPresetSave(cmd.Params))
	case "instance_set_preset_load":
		return d.errOnly(cmd, d.rt.SetPresetLoad(cmd.Params))
	case "instance_set_preset_delete":
		return d.errOnly(cmd, d.rt.SetPresetDelete(cmd.Params))
	case "instance_set_preset_rename":
		return d.errOnly(cmd, d.rt.SetPresetRename(cmd.Params))
	case "instance_set_view_create":
		res, err := d.rt.SetViewCreate(cmd.Params)
		return d.resultOrErr(cmd, res, err)
	case "instance_set_view_destroy":
		return d.errOnly(cmd, d.rt.SetViewDestroy(cmd.Params))
	case "instance_set_view_order":
		return d.errOnly(cmd, d.rt.SetViewOrder(cmd.Params))
	case "patcherstore":
		res, err := d.rt.PatcherStore(cmd.Params)
		return d.resultOrErr(cmd, res, err)
	case "patcher_destroy":
		name, _ := stringParam(cmd.Params, "name")
		return d.errOnly(cmd, d.rt.PatcherDestroy(name))
	case "patcher_rename":
		oldName, _ := stringParam(cmd.Params, "name")
		newName, _ := stringParam(cmd.Params, "newName")
		return d.errOnly(cmd, d.rt.PatcherRename(oldName, newName))
	case "file_write", "file_write_extended":
		res, err := d.rt.FileWrite(cmd.Params)
		return d.resultOrErr(cmd, res, err)
	case "file_read":
		res, err := d.rt.FileRead(cmd.Params)
		return d.resultOrErr(cmd, res, err)
	case "file_read64":
		res, err := d.rt.FileRead64(cmd.Params)
		return d.resultOrErr(cmd, res, err)
	case "file_delete":
		return d.errOnly(cmd, d.rt.FileDelete(cmd.Params))
	case "file_exists":
		ok, err := d.rt.FileExists(cmd.Params)
		return d.resultOrErr(cmd, ok, err)
	case "package_create":
		res, err := d.rt.PackageCreate(cmd.Params)
		return d.resultOrErr(cmd, res, err)
	case "package_install":
		res, err := d.rt.PackageInstall(cmd.Params)
		return d.resultOrErr(cmd, res, err)
	case "listener_add":
		ip, _ := stringParam(cmd.Params, "ip")
		port, _ := intParam(cmd.Params, "port")
		return d.errOnly(cmd, d.rt.ListenerAdd(ip, uint16(port)))
	case "listener_del":
		ip, _ := stringParam(cmd.Params, "ip")
		port, _ := intParam(cmd.Params, "port")
		return d.errOnly(cmd, d.rt.ListenerDel(ip, uint16(port)))
	case "listener_clear":
		return d.errOnly(cmd, d.rt.ListenerClear())
	case "install":
		version, _ := stringParam(cmd.Params, "version")
		return d.errOnly(cmd, d.rt.Install(version))
	default:
		d.log.Error(nil, "unknown method", "method", cmd.Method)
		return Fail(cmd.ID, errs.GenericCode, "unknown method: "+cmd.Method)
	}
}

func (d *Dispatcher) boolToggle(cmd Command, activate bool) Response {
	active, ok := boolParam(cmd.Params, "active")
	if !ok {
		active = activate
	}
	return d.errOnly(cmd, d.rt.ActivateAudio(active))
}

func (d *Dispatcher) errOnly(cmd Command, err error) Response {
	if err == nil {
		return Ok(cmd.ID, true)
	}
	return errToResponse(cmd.ID, err)
}

func (d *Dispatcher) resultOrErr(cmd Command, result interface{}, err error) Response {
	if err != nil {
		return errToResponse(cmd.ID, err)
	}
	return Ok(cmd.ID, result)
}

func errToResponse(id string, err error) Response {
	if we, ok := err.(*errs.Error); ok {
		return Fail(id, we.Code, we.Message)
	}
	return Fail(id, errs.GenericCode, err.Error())
}

func stringParam(raw json.RawMessage, key string) (string, bool) {
	var m map[string]json.RawMessage
	if json.Unmarshal(raw, &m) != nil {
		return "", false
	}
	v, ok := m[key]
	if !ok {
		return "", false
	}
	var s string
	if json.Unmarshal(v, &s) != nil {
		return "", false
	}
	return s, true
}

func intParam(raw json.RawMessage, key string) (int, bool) {
	var m map[string]json.RawMessage
	if json.Unmarshal(raw, &m) != nil {
		return 0, false
	}
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	var n int
	if json.Unmarshal(v, &n) != nil {
		return 0, false
	}
	return n, true
}

func boolParam(raw json.RawMessage, key string) (bool, bool) {
	var m map[string]json.RawMessage
	if json.Unmarshal(raw, &m) != nil {
		return false, false
	}
	v, ok := m[key]
	if !ok {
		return false, false
	}
	var b bool
	if json.Unmarshal(v, &b) != nil {
		return false, false
	}
	return b, true
}
