package controller

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rnbo-oscquery/runner/pkg/audio"
	"github.com/rnbo-oscquery/runner/pkg/compile"
	"github.com/rnbo-oscquery/runner/pkg/dispatch"
	"github.com/rnbo-oscquery/runner/pkg/errs"
	"github.com/rnbo-oscquery/runner/pkg/instance"
	"github.com/rnbo-oscquery/runner/pkg/model"
	"github.com/rnbo-oscquery/runner/pkg/ringbuf"
	"github.com/rnbo-oscquery/runner/pkg/tree"
)

// Compile progress codes, per spec.md §8 S1: the dispatcher reports a
// `compile` command's progress by pushing a sequence of responses sharing
// its id, each carrying a successive result.code, rather than a single
// final reply.
const (
	compileCodeReceived = 0
	compileCodeCompiled = 1
	compileCodeLoaded   = 2
)

// compileParams is the wire shape of the `compile` command's params,
// grounded on spec.md §8 S1's `{code, config:{name}, load}` example.
type compileParams struct {
	Code   string          `json:"code"`
	Config compileConfig   `json:"config"`
	Load   *int            `json:"load"`
	Extra  json.RawMessage `json:"-"`
}

type compileConfig struct {
	Name string `json:"name"`
}

// Compile stages the generated source to disk and starts an exclusive
// compile job. It returns once the job has been launched; completion is
// polled from Tick, matching spec.md §4.7's "dispatcher polls the running
// job once per iteration" description.
func (c *Controller) Compile(id string, params json.RawMessage) error {
	var p compileParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errs.New(errs.CompileLoad, errs.CompileLoadInvalidRequestObject, "%s", err.Error())
	}
	if p.Config.Name == "" {
		return errs.New(errs.CompileLoad, errs.CompileLoadInvalidRequestObject, "missing config.name")
	}

	sourcePath := filepath.Join(c.dirs.SourceDir, p.Config.Name+".cpp")
	if err := os.MkdirAll(c.dirs.SourceDir, 0755); err != nil {
		return errs.New(errs.CompileLoad, errs.CompileLoadSourceWriteFailed, "%s", err.Error())
	}
	if err := os.WriteFile(sourcePath, []byte(p.Code), 0644); err != nil {
		return errs.New(errs.CompileLoad, errs.CompileLoadSourceWriteFailed, "%s", err.Error())
	}

	req := compile.Request{ID: id, SourcePath: sourcePath, LibraryName: p.Config.Name, LoadIndex: p.Load}

	c.mu.Lock()
	resultCh := c.compiler.Start(req)
	c.compileJob = &compileJob{
		id:        id,
		resultCh:  resultCh,
		loadIndex: p.Load,
		patcherCfg: model.Patcher{
			Name:            p.Config.Name,
			LibraryFilename: p.Config.Name + ".so",
			SourceFilename:  filepath.Base(sourcePath),
		},
	}
	c.mu.Unlock()
	c.respondCompile(id, compileCodeReceived)
	return nil
}

// pollCompile is called from Tick; it finalizes any completed compile job:
// persists the patcher and, if requested, loads it.
func (c *Controller) pollCompile() {
	c.mu.Lock()
	job := c.compileJob
	c.mu.Unlock()
	if job == nil {
		return
	}

	select {
	case res, ok := <-job.resultCh:
		if !ok {
			return
		}
		c.mu.Lock()
		c.compileJob = nil
		c.mu.Unlock()
		c.finishCompile(job, res)
	default:
	}
}

func (c *Controller) finishCompile(job *compileJob, res compile.Result) {
	if res.Err != nil {
		c.log.Error(res.Err, "compile failed", "patcher", job.patcherCfg.Name)
		c.failCompile(job.id, res.Err)
		return
	}

	p := job.patcherCfg
	p.RunnerRNBOVersion = c.rnboVersion
	p.LibraryFilename = filepath.Base(res.LibraryPath)
	if _, err := c.db.PatcherStore(p, 0); err != nil {
		c.log.Error(err, "persist compiled patcher failed", "patcher", p.Name)
		c.failCompile(job.id, err)
		return
	}
	c.respondCompile(job.id, compileCodeCompiled)

	if job.loadIndex == nil {
		return
	}
	if err := c.loadInstanceFromPatcher(*job.loadIndex, p); err != nil {
		c.log.Error(err, "auto-load after compile failed", "patcher", p.Name, "index", *job.loadIndex)
		c.failCompile(job.id, err)
		return
	}
	c.respondCompile(job.id, compileCodeLoaded)
}

// respondCompile pushes a {id, result:{code}} progress response onto the
// dispatcher's sink. A nil sink (e.g. in unit tests that build a bare
// Controller) is a silent no-op.
func (c *Controller) respondCompile(id string, code int) {
	if c.sink == nil {
		return
	}
	c.sink.Respond(dispatch.Ok(id, map[string]interface{}{"code": code}))
}

// failCompile reports a compile-job failure discovered after the initial
// "received" response has already gone out, via the same sink the staged
// progress responses use.
func (c *Controller) failCompile(id string, err error) {
	if c.sink == nil {
		return
	}
	if we, ok := err.(*errs.Error); ok {
		c.sink.Respond(dispatch.Fail(id, we.Code, we.Message))
		return
	}
	c.sink.Respond(dispatch.Fail(id, errs.GenericCode, err.Error()))
}

// InstanceLoad finds the latest stored patcher by name and loads its
// library into a requested or auto-assigned index.
func (c *Controller) InstanceLoad(params json.RawMessage) error {
	var p struct {
		Name  string `json:"name"`
		Index *int   `json:"index"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return errs.New(errs.CompileLoad, errs.CompileLoadInvalidRequestObject, "%s", err.Error())
	}
	patcher, ok, err := c.db.PatcherGetLatest(p.Name, c.rnboVersion)
	if err != nil {
		return errs.Generic(err)
	}
	if !ok {
		return errs.New(errs.CompileLoad, errs.CompileLoadLibraryNotFound, "no stored patcher named %q", p.Name)
	}

	index := c.nextFreeIndex()
	if p.Index != nil {
		index = *p.Index
	}
	return c.loadInstanceFromPatcher(index, patcher)
}

func (c *Controller) nextFreeIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := 0
	for {
		if _, taken := c.instances[idx]; !taken {
			return idx
		}
		idx++
	}
}

func (c *Controller) loadInstanceFromPatcher(index int, p model.Patcher) error {
	return c.loadInstanceFromLibPath(index, p, c.patcherLibraryPath(p))
}

func (c *Controller) loadInstanceFromFactory(index int, p model.Patcher, factory instance.Factory) error {
	branchPath := fmt.Sprintf("inst/%d", index)
	c.tree.Build(branchPath, func(branch *tree.Node) {})
	node, _ := c.tree.Lookup(branchPath)
	inst := instance.New(index, p.Name, factory, node, c.log, c.dispatchOutboundOSC, c.onPresetLoaded)

	dsp := audio.DSP{Index: index, Process: passthroughProcess()}
	ports, err := c.audioHost.RegisterInstance(dsp, p.AudioInputs, p.AudioOutputs, p.MidiInputs > 0, p.MidiOutputs > 0)
	if err != nil {
		return errs.New(errs.CompileLoad, errs.CompileLoadUnknown, "%s", err.Error())
	}
	for _, policy := range c.autoConnectPolicies() {
		for _, connErr := range c.audioHost.AutoConnectInstance(policy, ports) {
			c.log.Error(connErr, "auto-connect failed", "index", index, "policy", policy)
		}
	}

	inst.Activate()
	inst.StartDatarefs(c.decoder)
	if c.audioHost.Active() {
		inst.Start(float64(c.defaults.AudioFadeInMS))
	}

	c.mu.Lock()
	c.instances[index] = &boundInstance{inst: inst, patcherID: p.ID, patcher: p, ports: ports}
	c.mu.Unlock()
	return nil
}

// PreloadFile loads a compiled patcher library directly from an absolute
// path, bypassing persistence entirely. This backs the `-f/--file` CLI flag
// (spec.md §6), used to bring up a patcher before any compile/store
// round-trip has happened.
func (c *Controller) PreloadFile(path string) error {
	factory, err := c.loader.Load(path)
	if err != nil {
		return errs.New(errs.CompileLoad, errs.CompileLoadLibraryNotFound, "%s", err.Error())
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	p := model.Patcher{
		Name:            name,
		LibraryFilename: filepath.Base(path),
		AudioInputs:     factory.AudioInputs(),
		AudioOutputs:    factory.AudioOutputs(),
	}
	return c.loadInstanceFromFactory(c.nextFreeIndex(), p, factory)
}

func (c *Controller) loadInstanceFromLibPath(index int, p model.Patcher, libPath string) error {
	factory, err := c.loader.Load(libPath)
	if err != nil {
		return errs.New(errs.CompileLoad, errs.CompileLoadLibraryNotFound, "%s", err.Error())
	}
	return c.loadInstanceFromFactory(index, p, factory)
}

// passthroughProcess returns a DSP.Process closure used until a real
// realtime-rendering hook is wired: the Factory collaborator (pkg/instance)
// is explicitly out of scope for audio rendering (spec.md §1), so the
// closure silences the instance's outputs rather than fabricate samples.
func passthroughProcess() func(nframes uint32, audioIn, audioOut [][]float32, midiIn []ringbuf.Event) []ringbuf.Event {
	return func(nframes uint32, audioIn, audioOut [][]float32, midiIn []ringbuf.Event) []ringbuf.Event {
		for _, buf := range audioOut {
			for i := range buf {
				buf[i] = 0
			}
		}
		return nil
	}
}

// autoConnectPolicies translates the independent auto-connect config flags
// (spec.md §4.1's "auto-connect flags: audio, midi, midi-hardware, indexed,
// by-port-group") into the audio package's single-selection policy enum,
// applying each enabled dimension in turn so e.g. audio and midi auto-connect
// can both be active at once. The by-port-group flag
// (AutoConnectByPortGroup) is not translated: no port-group policy is ever
// returned.
func (c *Controller) autoConnectPolicies() []audio.AutoConnect {
	var policies []audio.AutoConnect
	if c.defaults.AutoConnectAudio {
		if c.defaults.AutoConnectIndexed {
			policies = append(policies, audio.AutoConnectAudioIndexed)
		} else {
			policies = append(policies, audio.AutoConnectAudio)
		}
	}
	if c.defaults.AutoConnectMidi {
		if c.defaults.AutoConnectMidiHardware {
			policies = append(policies, audio.AutoConnectMidiHardware)
		} else {
			policies = append(policies, audio.AutoConnectMidi)
		}
	}
	return policies
}

func (c *Controller) dispatchOutboundOSC(addr string, value interface{}) {
	c.osc.Publish(addr, value)
}

func (c *Controller) onPresetLoaded(presetName, setName string) {
	c.log.V(1).Info("preset loaded", "preset", presetName, "set", setName)
}

// InstanceUnload stops and removes one instance, or every instance when
// index is negative; the "all" form also clears set-presets/views of the
// untitled set, per spec.md §4.3.
func (c *Controller) InstanceUnload(index int) error {
	if index >= 0 {
		return c.unloadOne(index)
	}

	c.mu.Lock()
	indices := make([]int, 0, len(c.instances))
	for idx := range c.instances {
		indices = append(indices, idx)
	}
	c.mu.Unlock()
	for _, idx := range indices {
		if err := c.unloadOne(idx); err != nil {
			return err
		}
	}

	untitled, ok, err := c.db.SetGet(model.UntitledSetName)
	if err != nil {
		return errs.Generic(err)
	}
	if ok {
		_ = c.db.SetPresetDestroy(setIDOf(untitled), "")
		views, _ := c.db.SetViewIndexes(setIDOf(untitled))
		for _, v := range views {
			_ = c.db.SetViewDestroy(setIDOf(untitled), v)
		}
	}
	return nil
}

func setIDOf(info model.SetInfo) int64 {
	for _, inst := range info.Instances {
		return inst.SetID
	}
	return 0
}

func (c *Controller) unloadOne(index int) error {
	c.mu.Lock()
	bi, ok := c.instances[index]
	if ok {
		delete(c.instances, index)
	}
	c.mu.Unlock()
	if !ok {
		return errs.New(errs.CompileLoad, errs.CompileLoadUnknown, "no instance at index %d", index)
	}
	bi.inst.Stop(float64(c.defaults.AudioFadeOutMS))
	bi.inst.StopDatarefs()
	c.audioHost.UnregisterInstance(index)
	return nil
}

// PatcherStore persists a previously-built library + config + patcher-file
// as a new patcher row and imports its presets.
func (c *Controller) PatcherStore(params json.RawMessage) (interface{}, error) {
	var req struct {
		model.Patcher
		MigratePresetsFrom int64 `json:"migratePresetsFrom"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errs.New(errs.CompileLoad, errs.CompileLoadInvalidRequestObject, "%s", err.Error())
	}
	req.Patcher.RunnerRNBOVersion = c.rnboVersion
	id, err := c.db.PatcherStore(req.Patcher, req.MigratePresetsFrom)
	if err != nil {
		return nil, errs.Generic(err)
	}
	return map[string]interface{}{"id": id}, nil
}

// PatcherDestroy removes a patcher row (cascading to its presets and
// set-instance references) and unlinks its files on disk.
func (c *Controller) PatcherDestroy(name string) error {
	filenames, err := c.db.PatcherDestroy(name)
	if err != nil {
		return errs.Generic(err)
	}
	for _, f := range filenames {
		_ = os.Remove(filepath.Join(c.dirs.CompileDir, f))
		_ = os.Remove(filepath.Join(c.dirs.SourceDir, f))
		_ = os.Remove(filepath.Join(c.dirs.SaveDir, f))
	}
	return nil
}

// PatcherRename renames a patcher row in place.
func (c *Controller) PatcherRename(oldName, newName string) error {
	if err := c.db.PatcherRename(oldName, newName); err != nil {
		return errs.Generic(err)
	}
	return nil
}
