// Package controller assembles pkg/store, pkg/tree, pkg/instance, pkg/audio,
// pkg/compile, pkg/packager, pkg/config and pkg/updatepeer into the single
// Runtime the dispatcher drives (pkg/dispatch.Runtime). It is the control
// thread's owner of the node tree, the persistence handle, the compile-job
// slot, and the instance table, exactly as spec.md §3 "Ownership" describes.
// Grounded on the teacher's DeviceMixingManager: one struct aggregating a
// JACK client, a persistence-backed config, and a table of per-device
// workers, driven by a single goroutine's Run loop.
package controller

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/rnbo-oscquery/runner/pkg/audio"
	"github.com/rnbo-oscquery/runner/pkg/compile"
	"github.com/rnbo-oscquery/runner/pkg/config"
	"github.com/rnbo-oscquery/runner/pkg/dispatch"
	"github.com/rnbo-oscquery/runner/pkg/errs"
	"github.com/rnbo-oscquery/runner/pkg/instance"
	"github.com/rnbo-oscquery/runner/pkg/model"
	"github.com/rnbo-oscquery/runner/pkg/oscquery"
	"github.com/rnbo-oscquery/runner/pkg/packager"
	"github.com/rnbo-oscquery/runner/pkg/store"
	"github.com/rnbo-oscquery/runner/pkg/tree"
	"github.com/rnbo-oscquery/runner/pkg/updatepeer"
)

// Dirs are the fixed filesystem locations spec.md §4.1 enumerates as config
// defaults (source/compile/save/datafile) plus the package and backup dirs
// cmd/rnbo-runner resolves at startup.
type Dirs struct {
	SourceDir   string
	CompileDir  string
	SaveDir     string
	DatafileDir string
	PackageDir  string
	BackupDir   string
}

// boundInstance pairs a live Instance with the patcher row it was loaded
// from, so set-save/preset-save can look up the owning patcher.
type boundInstance struct {
	inst      *instance.Instance
	patcherID int64
	patcher   model.Patcher
	ports     audio.InstancePorts
}

// Controller owns the node tree, persistence handle, compile-job slot, and
// instance table (spec.md §3 Ownership). It implements dispatch.Runtime.
type Controller struct {
	log logr.Logger

	cfg      *config.Store
	defaults config.Defaults

	db   *store.Store
	tree *tree.Tree

	audioHost *audio.Host
	compiler  *compile.Driver
	packager  *packager.Packager
	osc       *oscquery.Server
	peer      *updatepeer.Peer
	loader    Loader
	decoder   instance.DataDecoder
	sink      dispatch.Sink

	dirs        Dirs
	rnboVersion string

	mu          sync.Mutex
	instances   map[int]*boundInstance
	activeSet   string
	compileJob  *compileJob
	pendingLoad *pendingSetLoad

	housekeeping housekeepingState
}

type compileJob struct {
	id         string
	resultCh   <-chan compile.Result
	loadIndex  *int
	patcherCfg model.Patcher
}

type housekeepingState struct {
	lastCoarse    time.Time
	lastConfigSet string
}

// Options bundles the collaborators New needs. All fields are required
// except Peer, which is nil when no update service is configured.
type Options struct {
	Log         logr.Logger
	ConfigStore *config.Store
	DB          *store.Store
	Tree        *tree.Tree
	AudioHost   *audio.Host
	Compiler    *compile.Driver
	Packager    *packager.Packager
	OSC         *oscquery.Server
	Peer        *updatepeer.Peer
	Loader      Loader
	Decoder     instance.DataDecoder
	Sink        dispatch.Sink
	Dirs        Dirs
	RNBOVersion string
}

// New constructs a Controller. The returned value implements
// dispatch.Runtime and is ready to be handed to dispatch.New.
func New(opts Options) *Controller {
	defaults := config.DefaultDefaults(opts.Dirs.SourceDir)
	if _, err := opts.ConfigStore.GetInto("runner", "defaults", &defaults); err != nil {
		opts.Log.Error(err, "failed to read stored defaults, using built-in defaults")
	}

	c := &Controller{
		log:         opts.Log.WithName("controller"),
		cfg:         opts.ConfigStore,
		defaults:    defaults,
		db:          opts.DB,
		tree:        opts.Tree,
		audioHost:   opts.AudioHost,
		compiler:    opts.Compiler,
		packager:    opts.Packager,
		osc:         opts.OSC,
		peer:        opts.Peer,
		loader:      opts.Loader,
		decoder:     opts.Decoder,
		sink:        opts.Sink,
		dirs:        opts.Dirs,
		rnboVersion: opts.RNBOVersion,
		instances:   map[int]*boundInstance{},
		activeSet:   model.UntitledSetName,
	}
	c.buildInfoTree()
	c.buildJackTree()
	return c
}

// buildInfoTree populates the read-only info/* branch (only info/version)
// via the tree's Builder closure, the only way subsystems extend the
// tree (spec.md §4.4).
func (c *Controller) buildInfoTree() {
	c.tree.Build("info", func(branch *tree.Node) {
		verNode := branch.AddChild("version")
		verNode.Param = &tree.Param{Type: tree.TypeString, Access: tree.AccessGet}
		verNode.Param.Set(verNode, c.rnboVersion)
	})
}

func (c *Controller) buildJackTree() {
	cfg := audio.DefaultConfig()
	c.tree.Build("jack", func(branch *tree.Node) {
		active := branch.AddChild("active")
		active.Param = &tree.Param{Type: tree.TypeBool, Access: tree.AccessBi}
		active.Param.SetCallback(func(n *tree.Node, value interface{}) {
			v, _ := value.(bool)
			if err := c.ActivateAudio(v); err != nil {
				c.log.Error(err, "activate_audio via jack/active failed")
			}
		})
		active.Param.Set(active, cfg.Active)
	})
}

// patcherLibraryPath resolves a stored patcher's compiled library on disk.
func (c *Controller) patcherLibraryPath(p model.Patcher) string {
	return filepath.Join(c.dirs.CompileDir, p.LibraryFilename)
}

// markActiveSet records name as the in-memory active set and, if it differs
// from the last value persisted, writes it to the config store under the
// "lastSet" key; the store's own debounced flush (spec.md §4.1, §4.3
// "services the debounced save last set flag") takes care of when it
// actually hits disk.
func (c *Controller) markActiveSet(name string) {
	c.activeSet = name
	if c.housekeeping.lastConfigSet == name {
		return
	}
	c.housekeeping.lastConfigSet = name
	if err := c.cfg.Set("runner", "lastSet", name); err != nil {
		c.log.Error(err, "failed to persist last active set name", "set", name)
	}
}

// StartupLoadLastSet queues a load of the previously active set if
// auto-start-last is enabled, per spec.md §4.1's "auto-start-last" default.
// Called once from cmd/rnbo-runner after construction.
func (c *Controller) StartupLoadLastSet() {
	if !c.defaults.AutoStartLast {
		return
	}
	var name string
	if _, err := c.cfg.GetInto("runner", "lastSet", &name); err != nil {
		c.log.Error(err, "failed to read last active set name")
		return
	}
	if name == "" || name == model.UntitledSetName {
		return
	}
	if err := c.SetLoad(name); err != nil {
		c.log.Error(err, "failed to queue last active set load", "set", name)
	}
}

// ActivateAudio toggles the audio host. Deactivation saves each instance's
// current state as a "__last_<index>__" patcher preset, stops the instance
// and deactivates the host; the instances stay loaded and are not cleared.
// Reactivation activates the host and calls Start on every loaded
// instance; the saved presets are not re-applied.
func (c *Controller) ActivateAudio(active bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if active == c.audioHost.Active() {
		return nil
	}

	if !active {
		for idx, bi := range c.instances {
			bi.inst.SavePreset(fmt.Sprintf("__last_%d__", idx), "", bi.patcherID, c.presetStoreAdapter())
			bi.inst.Stop(float64(c.defaults.AudioFadeOutMS))
		}
		return c.audioHost.Deactivate()
	}

	if err := c.audioHost.Activate(); err != nil {
		return err
	}
	for _, bi := range c.instances {
		bi.inst.Start(float64(c.defaults.AudioFadeInMS))
	}
	return nil
}

// CompileCancel terminates the in-flight compile job's process group.
func (c *Controller) CompileCancel() error {
	return c.compiler.Cancel()
}

// ListenerAdd persists a new OSC UDP destination, rejecting self-loops per
// spec.md §6.
func (c *Controller) ListenerAdd(ip string, port uint16) error {
	if oscquery.IsSelfLoop(ip, port, oscquery.DefaultConfig()) {
		return errs.New(errs.Listener, errs.ListenerFailed, "refusing self-loop listener %s:%d", ip, port)
	}
	added, err := c.db.ListenerAdd(ip, port)
	if err != nil {
		return errs.New(errs.Listener, errs.ListenerFailed, "%s", err.Error())
	}
	if !added {
		return errs.New(errs.Listener, errs.ListenerFailed, "listener %s:%d already registered", ip, port)
	}
	return nil
}

// ListenerDel removes a previously registered OSC UDP destination.
func (c *Controller) ListenerDel(ip string, port uint16) error {
	removed, err := c.db.ListenerDel(ip, port)
	if err != nil {
		return errs.New(errs.Listener, errs.ListenerFailed, "%s", err.Error())
	}
	if !removed {
		return errs.New(errs.Listener, errs.ListenerFailed, "listener %s:%d not found", ip, port)
	}
	return nil
}

// ListenerClear removes every registered OSC UDP destination.
func (c *Controller) ListenerClear() error {
	if err := c.db.ListenerClear(); err != nil {
		return errs.New(errs.Listener, errs.ListenerFailed, "%s", err.Error())
	}
	return nil
}

// Install delegates a version string to the update peer proxy. If no peer
// is configured the request is rejected as not enabled, per spec.md §7
// InstallProgram.NotEnabled.
func (c *Controller) Install(version string) error {
	if c.peer == nil {
		return errs.New(errs.InstallProgram, errs.InstallProgramNotEnabled, "no update peer configured")
	}
	if !updatepeer.ValidVersion(version) {
		return errs.New(errs.InstallProgram, errs.InstallProgramInvalidRequestObject, "invalid version string %q", version)
	}
	if err := c.peer.QueueRunnerInstall(version); err != nil {
		return errs.New(errs.InstallProgram, errs.InstallProgramUnknown, "%s", err.Error())
	}
	return nil
}

// Close tears down every owned collaborator. Called once from
// cmd/rnbo-runner on shutdown.
func (c *Controller) Close() {
	c.mu.Lock()
	indices := make([]int, 0, len(c.instances))
	for idx := range c.instances {
		indices = append(indices, idx)
	}
	c.mu.Unlock()
	for _, idx := range indices {
		_ = c.InstanceUnload(idx)
	}
	if c.peer != nil {
		_ = c.peer.Close()
	}
	_ = c.osc.Stop()
	_ = c.audioHost.Close()
	_ = c.db.Close()
}
