package updatepeer

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestValidVersionAcceptsGeneratedGrammar(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		hasEpoch := rapid.Bool().Draw(t, "hasEpoch")
		lead := rapid.RuneFrom([]rune("0123456789")).Draw(t, "lead")
		body := rapid.StringOfN(rapid.RuneFrom([]rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789.+~")), 0, 12, -1).Draw(t, "body")
		hasSuffix := rapid.Bool().Draw(t, "hasSuffix")
		suffix := rapid.StringOfN(rapid.RuneFrom([]rune("abcdefghijklmnopqrstuvwxyz0123456789+.~")), 1, 8, -1).Draw(t, "suffix")

		s := string(lead) + body
		if hasSuffix {
			s += "-" + suffix
		}
		if hasEpoch {
			s = "1:" + s
		}

		assert.True(t, ValidVersion(s), "expected %q to match the version grammar", s)
	})
}

func TestValidVersionRejectsKnownBadCorpus(t *testing.T) {
	bad := []string{
		"",
		" ",
		"-1.0.0",
		"v1.0.0",
		"1.0 .0",
		"1.0.0; rm -rf /",
		"1.0.0 && echo hi",
		":1.0.0",
		"a:1.0.0",
	}
	for _, s := range bad {
		assert.False(t, ValidVersion(s), "expected %q to be rejected", s)
	}
}

func TestHandleSignalUpdatesSnapshotAndNotifies(t *testing.T) {
	var notified Snapshot
	calls := 0
	p := &Peer{
		iface: "com.cycling74.rnboupdate",
		log:   logr.Discard(),
		onChange: func(s Snapshot) {
			notified = s
			calls++
		},
	}

	sig := &dbus.Signal{
		Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
		Body: []interface{}{
			"com.cycling74.rnboupdate",
			map[string]dbus.Variant{
				"State":            dbus.MakeVariant(uint32(StateActive)),
				"Status":           dbus.MakeVariant("installing 1.2.3"),
				"OutdatedPackages": dbus.MakeVariant(uint32(2)),
			},
		},
	}

	p.handleSignal(sig)

	require.Equal(t, 1, calls)
	assert.Equal(t, StateActive, notified.State)
	assert.Equal(t, "installing 1.2.3", notified.Status)
	assert.Equal(t, uint32(2), notified.OutdatedPackages)
	assert.Equal(t, notified, p.Snapshot())
}

func TestHandleSignalIgnoresOtherInterfaces(t *testing.T) {
	p := &Peer{iface: "com.cycling74.rnboupdate", log: logr.Discard()}
	sig := &dbus.Signal{
		Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
		Body: []interface{}{
			"org.freedesktop.UPower",
			map[string]dbus.Variant{"State": dbus.MakeVariant(uint32(StateFailed))},
		},
	}
	p.handleSignal(sig)
	assert.Equal(t, StateIdle, p.Snapshot().State)
}

func TestQueueRunnerInstallRejectsInvalidVersionBeforeAnyBusCall(t *testing.T) {
	p := &Peer{iface: "com.cycling74.rnboupdate", log: logr.Discard()}
	err := p.QueueRunnerInstall("not a version")
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Idle", StateIdle.String())
	assert.Equal(t, "Active", StateActive.String())
	assert.Equal(t, "Failed", StateFailed.String())
}
