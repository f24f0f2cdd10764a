// Package compile drives exactly one compile subprocess at a time: it spawns
// the configured external compiler with the positional arguments the
// original runtime used, owns the child's process group so a cancel can
// terminate the whole group, and reports completion back to whoever polls
// it. Grounded on the teacher's systemd-unit-lifecycle pattern in
// cmd/services.go (start/stop via an external supervisor and a result
// channel) generalized to a raw os/exec process group since the compiler is
// a one-shot subprocess, not a systemd unit.
package compile

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/go-logr/logr"
)

// Request is the source material for one compile.
type Request struct {
	ID         string // dispatcher command id this job belongs to
	SourcePath string
	LibraryName string
	LoadIndex  *int // non-nil if the caller asked to auto-load on success
}

// Paths are the fixed directories the compiler driver is invoked with.
type Paths struct {
	RNBOSrcDir      string
	CompileCacheDir string
	CMakePath       string // optional, empty to omit
}

// Result is delivered once the subprocess exits.
type Result struct {
	Request     Request
	LibraryPath string
	ExitCode    int
	Err         error
}

// Job owns one in-flight compile subprocess.
type Job struct {
	req  Request
	cmd  *exec.Cmd
	done chan Result
}

// Driver ensures at most one Job is ever running: a Compile call while one
// is in flight cancels the previous job's process group before starting the
// new one.
type Driver struct {
	compilerPath string
	paths        Paths
	log          logr.Logger

	mu  sync.Mutex
	job *Job
}

// New constructs a Driver bound to the compiler executable path and the
// fixed directory arguments.
func New(compilerPath string, paths Paths, log logr.Logger) *Driver {
	return &Driver{compilerPath: compilerPath, paths: paths, log: log.WithName("compile")}
}

// expectedLibraryPath mirrors the compiler's own output-naming convention:
// <cache dir>/<library name>.so.
func (d *Driver) expectedLibraryPath(libraryName string) string {
	return fmt.Sprintf("%s/%s.so", d.paths.CompileCacheDir, libraryName)
}

// Start launches req's subprocess, cancelling any job already in flight.
// The returned channel receives exactly one Result when the process exits.
func (d *Driver) Start(req Request) <-chan Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.job != nil {
		d.cancelLocked()
	}

	args := []string{req.SourcePath, req.LibraryName, d.paths.RNBOSrcDir, d.paths.CompileCacheDir}
	if d.paths.CMakePath != "" {
		args = append(args, d.paths.CMakePath)
	}

	cmd := exec.Command(d.compilerPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	done := make(chan Result, 1)
	job := &Job{req: req, cmd: cmd, done: done}
	d.job = job

	if err := cmd.Start(); err != nil {
		d.job = nil
		done <- Result{Request: req, Err: err}
		close(done)
		return done
	}

	go d.wait(job)
	return done
}

func (d *Driver) wait(job *Job) {
	err := job.cmd.Wait()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	d.mu.Lock()
	if d.job == job {
		d.job = nil
	}
	d.mu.Unlock()

	libPath := d.expectedLibraryPath(job.req.LibraryName)
	if exitCode != 0 {
		job.done <- Result{Request: job.req, ExitCode: exitCode, Err: fmt.Errorf("compile exited with code %d", exitCode)}
		close(job.done)
		return
	}
	if _, statErr := os.Stat(libPath); statErr != nil {
		job.done <- Result{Request: job.req, ExitCode: exitCode, Err: fmt.Errorf("compiled library not found: %w", statErr)}
		close(job.done)
		return
	}
	job.done <- Result{Request: job.req, LibraryPath: libPath, ExitCode: exitCode}
	close(job.done)
}

// Cancel terminates the in-flight job's process group, if any.
func (d *Driver) Cancel() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelLocked()
}

func (d *Driver) cancelLocked() error {
	if d.job == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(d.job.cmd.Process.Pid)
	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
	} else {
		_ = d.job.cmd.Process.Kill()
	}
	d.job = nil
	return nil
}

// Busy reports whether a compile is currently in flight.
func (d *Driver) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.job != nil
}
