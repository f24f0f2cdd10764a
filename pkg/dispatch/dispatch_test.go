package dispatch

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	mu          sync.Mutex
	ticks       int
	activated   *bool
	loadedIndex int
	unloaded    []int
	installed   string
	failNext    error
}

func (f *fakeRuntime) Tick() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks++
}

func (f *fakeRuntime) ActivateAudio(active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated = &active
	return f.takeErr()
}
func (f *fakeRuntime) takeErr() error {
	err := f.failNext
	f.failNext = nil
	return err
}
func (f *fakeRuntime) Compile(id string, params json.RawMessage) error        { return f.takeErr() }
func (f *fakeRuntime) CompileCancel() error                                   { return f.takeErr() }
func (f *fakeRuntime) InstanceLoad(params json.RawMessage) error              { return f.takeErr() }
func (f *fakeRuntime) InstanceUnload(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloaded = append(f.unloaded, index)
	return f.takeErr()
}
func (f *fakeRuntime) SetSave(params json.RawMessage) error             { return f.takeErr() }
func (f *fakeRuntime) SetLoad(name string) error                       { return f.takeErr() }
func (f *fakeRuntime) SetDelete(name string) error                     { return f.takeErr() }
func (f *fakeRuntime) SetRename(old, new string) error                 { return f.takeErr() }
func (f *fakeRuntime) SetInitial(name string) error                    { return f.takeErr() }
func (f *fakeRuntime) SetPresetSave(params json.RawMessage) error      { return f.takeErr() }
func (f *fakeRuntime) SetPresetLoad(params json.RawMessage) error      { return f.takeErr() }
func (f *fakeRuntime) SetPresetDelete(params json.RawMessage) error    { return f.takeErr() }
func (f *fakeRuntime) SetPresetRename(params json.RawMessage) error    { return f.takeErr() }
func (f *fakeRuntime) SetViewCreate(params json.RawMessage) (interface{}, error) {
	return 1, f.takeErr()
}
func (f *fakeRuntime) SetViewDestroy(params json.RawMessage) error { return f.takeErr() }
func (f *fakeRuntime) SetViewOrder(params json.RawMessage) error   { return f.takeErr() }
func (f *fakeRuntime) PatcherStore(params json.RawMessage) (interface{}, error) {
	return "ok", f.takeErr()
}
func (f *fakeRuntime) PatcherDestroy(name string) error    { return f.takeErr() }
func (f *fakeRuntime) PatcherRename(old, new string) error { return f.takeErr() }
func (f *fakeRuntime) FileWrite(params json.RawMessage) (interface{}, error) {
	return nil, f.takeErr()
}
func (f *fakeRuntime) FileRead(params json.RawMessage) (interface{}, error) {
	return nil, f.takeErr()
}
func (f *fakeRuntime) FileRead64(params json.RawMessage) (interface{}, error) {
	return nil, f.takeErr()
}
func (f *fakeRuntime) FileDelete(params json.RawMessage) error { return f.takeErr() }
func (f *fakeRuntime) FileExists(params json.RawMessage) (bool, error) {
	return false, f.takeErr()
}
func (f *fakeRuntime) PackageCreate(params json.RawMessage) (interface{}, error) {
	return nil, f.takeErr()
}
func (f *fakeRuntime) PackageInstall(params json.RawMessage) (interface{}, error) {
	return nil, f.takeErr()
}
func (f *fakeRuntime) ListenerAdd(ip string, port uint16) error { return f.takeErr() }
func (f *fakeRuntime) ListenerDel(ip string, port uint16) error { return f.takeErr() }
func (f *fakeRuntime) ListenerClear() error                     { return f.takeErr() }
func (f *fakeRuntime) Install(version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed = version
	return f.takeErr()
}

type fakeSink struct {
	mu        sync.Mutex
	responses []Response
	internal  []Response
}

func (s *fakeSink) Respond(r Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
}
func (s *fakeSink) PrintInternal(r Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.internal = append(s.internal, r)
}

func (s *fakeSink) last() (Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return Response{}, false
	}
	return s.responses[len(s.responses)-1], true
}

func waitFor(t *testing.T, cond func() bool) {
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

func TestDispatchUnknownMethod(t *testing.T) {
	q := NewQueue()
	rt := &fakeRuntime{}
	sink := &fakeSink{}
	d := New(q, rt, sink, logr.Discard())
	go d.Run()
	defer d.Stop()

	q.Push(`{"id":"a","method":"nope","params":{}}`)
	waitFor(t, func() bool {
		r, ok := sink.last()
		return ok && r.ID == "a"
	})
	r, _ := sink.last()
	require.NotNil(t, r.Error)
	assert.Equal(t, 1000, r.Error.Code)
}

func TestDispatchInstanceUnload(t *testing.T) {
	q := NewQueue()
	rt := &fakeRuntime{}
	sink := &fakeSink{}
	d := New(q, rt, sink, logr.Discard())
	go d.Run()
	defer d.Stop()

	q.Push(`{"id":"b","method":"instance_unload","params":{"index":-1}}`)
	waitFor(t, func() bool {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		return len(rt.unloaded) == 1
	})
	rt.mu.Lock()
	assert.Equal(t, []int{-1}, rt.unloaded)
	rt.mu.Unlock()
}

func TestDispatchInternalIDSkipsResponseNode(t *testing.T) {
	q := NewQueue()
	rt := &fakeRuntime{}
	sink := &fakeSink{}
	d := New(q, rt, sink, logr.Discard())
	go d.Run()
	defer d.Stop()

	q.Push(`{"id":"internal","method":"listener_clear","params":{}}`)
	waitFor(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.internal) == 1
	})
	sink.mu.Lock()
	assert.Empty(t, sink.responses)
	sink.mu.Unlock()
}

func TestDispatchTicksBetweenCommands(t *testing.T) {
	q := NewQueue()
	rt := &fakeRuntime{}
	sink := &fakeSink{}
	d := New(q, rt, sink, logr.Discard())
	go d.Run()
	defer d.Stop()

	waitFor(t, func() bool {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		return rt.ticks > 0
	})
}

func TestDispatchInstallRoutesVersionToRuntime(t *testing.T) {
	q := NewQueue()
	rt := &fakeRuntime{}
	sink := &fakeSink{}
	d := New(q, rt, sink, logr.Discard())
	go d.Run()
	defer d.Stop()

	q.Push(`{"id":"c","method":"install","params":{"version":"1.0.0"}}`)
	waitFor(t, func() bool {
		r, ok := sink.last()
		return ok && r.ID == "c"
	})
	r, _ := sink.last()
	assert.Nil(t, r.Error)
	rt.mu.Lock()
	assert.Equal(t, "1.0.0", rt.installed)
	rt.mu.Unlock()
}
