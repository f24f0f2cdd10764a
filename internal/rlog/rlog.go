// Package rlog holds the process-wide logger, wired the same way the teacher
// agent sets one up: a zap production core wrapped in a logr.Logger via zapr.
package rlog

import (
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

var (
	once   sync.Once
	global logr.Logger
)

// Init builds the process-wide logger. Safe to call more than once; only the
// first call takes effect, matching the singleton init/teardown pattern
// appropriate for process-wide logging state.
func Init(debug bool) logr.Logger {
	once.Do(func() {
		var zl *zap.Logger
		var err error
		if debug {
			zl, err = zap.NewDevelopment()
		} else {
			zl, err = zap.NewProduction()
		}
		if err != nil {
			zl = zap.NewNop()
		}
		global = zapr.NewLogger(zl)
	})
	return global
}

// Log returns the process-wide logger, initializing a production logger on
// first use if Init was never called.
func Log() logr.Logger {
	return Init(false)
}

// Named returns a child logger scoped to the given component name, the way
// the teacher scopes "jacktrip.agent".
func Named(name string) logr.Logger {
	return Log().WithName(name)
}
