// Command rnbo-runner is the host runtime process: it loads config and
// persistence, opens the JACK audio bridge and OSCQuery endpoints, and
// drains the command dispatcher until interrupted.
package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/rnbo-oscquery/runner/internal/rlog"
	"github.com/rnbo-oscquery/runner/pkg/audio"
	"github.com/rnbo-oscquery/runner/pkg/common"
	"github.com/rnbo-oscquery/runner/pkg/compile"
	"github.com/rnbo-oscquery/runner/pkg/config"
	"github.com/rnbo-oscquery/runner/pkg/controller"
	"github.com/rnbo-oscquery/runner/pkg/dispatch"
	"github.com/rnbo-oscquery/runner/pkg/oscquery"
	"github.com/rnbo-oscquery/runner/pkg/packager"
	"github.com/rnbo-oscquery/runner/pkg/store"
	"github.com/rnbo-oscquery/runner/pkg/tree"
	"github.com/rnbo-oscquery/runner/pkg/updatepeer"
)

// rnboVersion is stamped into the info/version node and used to scope
// patcher/set lookups by runner_rnbo_version.
const rnboVersion = "1.3.0"

func main() {
	preloadFile := pflag.StringP("file", "f", "", "preload a compiled patcher library at startup")
	quiet := pflag.BoolP("quiet", "q", false, "suppress status output")
	baseDir := pflag.String("base-dir", "~/.local/share/rnbo", "base directory for source/compiled/patchers/datafiles")
	dbPath := pflag.String("db", "~/.local/share/rnbo/runner.sqlite3", "path to the persistence database")
	configPath := pflag.String("config", "~/.config/rnbo/runner.json", "path to the config store")
	compilerPath := pflag.String("compiler", "rnbo-compile", "path to the external compile driver")
	packageDir := pflag.String("package-dir", "~/.local/share/rnbo/packages", "directory for built/installed .rnbopack archives")
	updateBus := pflag.String("update-bus-name", "", "system bus name of the update peer, empty to disable")
	pflag.Parse()

	log := rlog.Init(!*quiet)

	base, err := config.ExpandHome(*baseDir)
	if err != nil {
		log.Error(err, "failed to expand base dir")
		os.Exit(1)
	}

	dirs := controller.Dirs{
		SourceDir:   filepath.Join(base, "source"),
		CompileDir:  filepath.Join(base, "compiled"),
		SaveDir:     filepath.Join(base, "patchers"),
		DatafileDir: filepath.Join(base, "datafiles"),
		PackageDir:  mustExpand(*packageDir, log),
		BackupDir:   filepath.Join(base, "backups"),
	}
	for _, d := range []string{dirs.SourceDir, dirs.CompileDir, dirs.SaveDir, dirs.DatafileDir, dirs.PackageDir, dirs.BackupDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			log.Error(err, "failed to create directory", "dir", d)
			os.Exit(1)
		}
	}

	identity, err := config.Identity(base)
	if err != nil {
		log.Error(err, "failed to establish runner identity")
	}

	cfgStore, err := config.New(mustExpand(*configPath, log), log)
	if err != nil {
		log.Error(err, "failed to open config store")
		os.Exit(1)
	}
	defer func() {
		if err := cfgStore.Flush(); err != nil {
			log.Error(err, "failed to flush config store on shutdown")
		}
	}()

	db, err := store.Open(mustExpand(*dbPath, log), dirs.BackupDir, log)
	if err != nil {
		log.Error(err, "failed to open persistence store")
		os.Exit(1)
	}
	defer db.Close()

	t := tree.New()

	if err := common.WaitForJackd(); err != nil {
		log.Error(err, "jackd did not become reachable, attempting to open audio host anyway")
	}

	audioHost, err := audio.New(log, audio.DefaultConfig())
	if err != nil {
		log.Error(err, "failed to open audio host")
		os.Exit(1)
	}
	defer audioHost.Close()

	compiler := compile.New(*compilerPath, compile.Paths{
		RNBOSrcDir:      base,
		CompileCacheDir: dirs.CompileDir,
	}, log)

	pkgr := packager.New(db, packager.Dirs{
		PackageDir:  dirs.PackageDir,
		SourceDir:   dirs.SourceDir,
		CompileDir:  dirs.CompileDir,
		SaveDir:     dirs.SaveDir,
		DatafileDir: dirs.DatafileDir,
	}, log)

	oscSrv := oscquery.New(t, db, oscquery.DefaultConfig(), log)
	if err := oscSrv.Start(); err != nil {
		log.Error(err, "failed to start oscquery server")
		os.Exit(1)
	}
	defer oscSrv.Stop()

	var peer *updatepeer.Peer
	if *updateBus != "" {
		onChange := buildUpdateTree(t)
		peer, err = updatepeer.Connect(*updateBus, "/org/rnbo/Update", "org.rnbo.Update", onChange, log)
		if err != nil {
			log.Error(err, "failed to connect to update peer, continuing without it")
			peer = nil
		} else {
			defer peer.Close()
		}
	}

	sink := controller.NewResponseSink(t, log)

	ctrl := controller.New(controller.Options{
		Log:         log,
		ConfigStore: cfgStore,
		DB:          db,
		Tree:        t,
		AudioHost:   audioHost,
		Compiler:    compiler,
		Packager:    pkgr,
		OSC:         oscSrv,
		Peer:        peer,
		Loader:      controller.PluginLoader{},
		Decoder:     controller.FileDecoder{},
		Sink:        sink,
		Dirs:        dirs,
		RNBOVersion: rnboVersion,
	})
	defer ctrl.Close()

	t.Build("info", func(branch *tree.Node) {
		id := branch.AddChild("id")
		id.Param = &tree.Param{Type: tree.TypeString, Access: tree.AccessGet}
		id.Param.Set(id, identity)
	})

	queue := dispatch.NewQueue()
	controller.BuildCommandNode(t, queue)
	d := dispatch.New(queue, ctrl, sink, log)
	go d.Run()
	defer d.Stop()

	if *preloadFile != "" {
		if err := ctrl.PreloadFile(*preloadFile); err != nil {
			log.Error(err, "failed to preload patcher library", "file", *preloadFile)
		}
	} else {
		ctrl.StartupLoadLastSet()
	}

	if !*quiet {
		log.Info("rnbo-runner ready", "oscquery", oscquery.DefaultConfig().HTTPAddr, "osc", oscquery.DefaultConfig().OSCAddr)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	if !*quiet {
		log.Info("shutting down")
	}
}

// buildUpdateTree wires the update/* branch the node tree mirrors the
// update peer's State/Status/OutdatedPackages properties into (spec.md
// §4.10), and returns the callback updatepeer.Connect invokes on every
// property change notification.
func buildUpdateTree(t *tree.Tree) updatepeer.OnChange {
	var state, status, outdated *tree.Node
	t.Build("update", func(branch *tree.Node) {
		state = branch.AddChild("state")
		state.Param = &tree.Param{Type: tree.TypeString, Access: tree.AccessGet}
		status = branch.AddChild("status")
		status.Param = &tree.Param{Type: tree.TypeString, Access: tree.AccessGet}
		outdated = branch.AddChild("outdated_packages")
		outdated.Param = &tree.Param{Type: tree.TypeInt, Access: tree.AccessGet}
	})
	return func(snap updatepeer.Snapshot) {
		state.Param.Set(state, snap.State.String())
		status.Param.Set(status, snap.Status)
		outdated.Param.Set(outdated, int(snap.OutdatedPackages))
	}
}

func mustExpand(path string, log interface{ Error(err error, msg string, kv ...interface{}) }) string {
	expanded, err := config.ExpandHome(path)
	if err != nil {
		log.Error(err, "failed to expand path", "path", path)
		return path
	}
	return expanded
}
