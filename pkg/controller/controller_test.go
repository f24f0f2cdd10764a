package controller

import (
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnbo-oscquery/runner/pkg/config"
	"github.com/rnbo-oscquery/runner/pkg/model"
)

func newTestConfigStore(t *testing.T) *config.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runner.json")
	cfg, err := config.New(path, logr.Discard())
	require.NoError(t, err)
	return cfg
}

// newBareController builds a Controller with only the fields markActiveSet
// and StartupLoadLastSet touch, skipping the JACK/sqlite collaborators New
// wires up -- those require real OS resources the rest of this package's
// tests deliberately avoid, matching the teacher's own leaf-level test scope.
func newBareController(t *testing.T, defaults config.Defaults) *Controller {
	return &Controller{
		log:       logr.Discard(),
		cfg:       newTestConfigStore(t),
		defaults:  defaults,
		instances: map[int]*boundInstance{},
		activeSet: model.UntitledSetName,
	}
}

func TestMarkActiveSetPersistsOnFirstChange(t *testing.T) {
	assert := assert.New(t)
	c := newBareController(t, config.Defaults{})

	c.markActiveSet("foo")

	assert.Equal("foo", c.activeSet)
	assert.Equal("foo", c.housekeeping.lastConfigSet)
	var stored string
	ok, err := c.cfg.GetInto("runner", "lastSet", &stored)
	require.NoError(t, err)
	assert.True(ok)
	assert.Equal("foo", stored)
}

func TestMarkActiveSetSkipsRedundantWrite(t *testing.T) {
	assert := assert.New(t)
	c := newBareController(t, config.Defaults{})

	c.markActiveSet("foo")
	c.cfg.Set("runner", "lastSet", "tampered")
	c.markActiveSet("foo")

	var stored string
	_, err := c.cfg.GetInto("runner", "lastSet", &stored)
	require.NoError(t, err)
	assert.Equal("tampered", stored, "second call for the same name must not re-persist")
}

func TestStartupLoadLastSetNoopWhenDisabled(t *testing.T) {
	c := newBareController(t, config.Defaults{AutoStartLast: false})
	require.NoError(t, c.cfg.Set("runner", "lastSet", "myset"))

	// No db/tree wired: StartupLoadLastSet must return before touching them.
	c.StartupLoadLastSet()
}

func TestStartupLoadLastSetNoopWhenUntitled(t *testing.T) {
	c := newBareController(t, config.Defaults{AutoStartLast: true})
	require.NoError(t, c.cfg.Set("runner", "lastSet", model.UntitledSetName))

	c.StartupLoadLastSet()
}

func TestStartupLoadLastSetNoopWhenNoneStored(t *testing.T) {
	c := newBareController(t, config.Defaults{AutoStartLast: true})

	c.StartupLoadLastSet()
}
