package compile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompiler writes a shell script standing in for the real compiler
// subprocess: it is invoked with the same positional args as the real
// driver (source, library name, src dir, cache dir[, cmake path]) and
// either touches the expected .so or exits non-zero, depending on script.
func fakeCompiler(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "compiler.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	return path
}

func TestDriverSuccess(t *testing.T) {
	cacheDir := t.TempDir()
	compiler := fakeCompiler(t, `touch "$4/$2.so"`)
	d := New(compiler, Paths{RNBOSrcDir: "/src", CompileCacheDir: cacheDir}, logr.Discard())

	ch := d.Start(Request{ID: "a", SourcePath: "/tmp/x.cpp", LibraryName: "p1"})
	select {
	case res := <-ch:
		require.NoError(t, res.Err)
		assert.Equal(t, filepath.Join(cacheDir, "p1.so"), res.LibraryPath)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for compile result")
	}
	assert.False(t, d.Busy())
}

func TestDriverExitNonZero(t *testing.T) {
	cacheDir := t.TempDir()
	compiler := fakeCompiler(t, `exit 1`)
	d := New(compiler, Paths{RNBOSrcDir: "/src", CompileCacheDir: cacheDir}, logr.Discard())

	ch := d.Start(Request{ID: "a", SourcePath: "/tmp/x.cpp", LibraryName: "p1"})
	res := <-ch
	assert.Error(t, res.Err)
	assert.Equal(t, 1, res.ExitCode)
}

func TestDriverLibraryMissingAfterSuccess(t *testing.T) {
	cacheDir := t.TempDir()
	compiler := fakeCompiler(t, `exit 0`)
	d := New(compiler, Paths{RNBOSrcDir: "/src", CompileCacheDir: cacheDir}, logr.Discard())

	ch := d.Start(Request{ID: "a", SourcePath: "/tmp/x.cpp", LibraryName: "p1"})
	res := <-ch
	assert.Error(t, res.Err)
}

func TestDriverCancelReplacesInFlightJob(t *testing.T) {
	cacheDir := t.TempDir()
	compiler := fakeCompiler(t, `sleep 30`)
	d := New(compiler, Paths{RNBOSrcDir: "/src", CompileCacheDir: cacheDir}, logr.Discard())

	first := d.Start(Request{ID: "a", SourcePath: "/tmp/x.cpp", LibraryName: "p1"})
	require.True(t, d.Busy())

	fastCompiler := fakeCompiler(t, `touch "$4/$2.so"`)
	d.compilerPath = fastCompiler
	second := d.Start(Request{ID: "b", SourcePath: "/tmp/y.cpp", LibraryName: "p2"})

	select {
	case res := <-second:
		require.NoError(t, res.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for second compile result")
	}

	select {
	case <-first:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled job never reported a result")
	}
}
