// Package updatepeer talks to the optional external self-update service over
// the D-Bus system bus: it mirrors that peer's State/Status/OutdatedPackages
// properties and forwards install requests to its QueueRunnerInstall and
// UpdateOutdated methods. Grounded on the teacher's cmd/services.go, which
// drives systemd units through a coreos/go-systemd/v22/dbus wrapper; that
// package models unit lifecycle (start/stop/restart by unit name), not an
// arbitrary peer's properties and methods, so this package talks to the bus
// directly through github.com/godbus/dbus/v5 instead (see DESIGN.md).
package updatepeer

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/go-logr/logr"
	"github.com/godbus/dbus/v5"
)

// State mirrors the peer's published State property.
type State uint32

const (
	StateIdle State = iota
	StateActive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateActive:
		return "Active"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Snapshot is the mirrored state of the peer, suitable for projecting into
// the node tree.
type Snapshot struct {
	State            State
	Status           string
	OutdatedPackages uint32
}

// versionPattern is the grammar from spec.md §6: an optional "epoch:"
// prefix, a leading digit, then any run of alnum/.+-~, then an optional
// "-suffix" segment.
var versionPattern = regexp.MustCompile(`^(?:[0-9]+:)?[0-9][A-Za-z0-9.+~-]*(?:-[A-Za-z0-9+.~]+)?$`)

// ValidVersion reports whether s is an acceptable version string. Called
// before any D-Bus call is made, per spec.md §6: other inputs are rejected
// before any system call.
func ValidVersion(s string) bool {
	return versionPattern.MatchString(s)
}

// OnChange is invoked from the peer's signal-watching goroutine whenever the
// peer's mirrored properties change.
type OnChange func(Snapshot)

// Peer is a connected proxy to the external update service.
type Peer struct {
	conn      *dbus.Conn
	obj       dbus.BusObject
	busName   string
	objectPath dbus.ObjectPath
	iface     string
	log       logr.Logger

	onChange OnChange

	mu       sync.Mutex
	snapshot Snapshot

	sigCh chan *dbus.Signal
	stop  chan struct{}
	done  chan struct{}
}

// Connect opens the system bus, binds to busName/objectPath/iface, takes an
// initial property snapshot, and starts watching for PropertiesChanged
// signals. onChange may be nil.
func Connect(busName, objectPath, iface string, onChange OnChange, log logr.Logger) (*Peer, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	p := &Peer{
		conn:       conn,
		busName:    busName,
		objectPath: dbus.ObjectPath(objectPath),
		iface:      iface,
		log:        log.WithName("updatepeer"),
		onChange:   onChange,
		sigCh:      make(chan *dbus.Signal, 16),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	p.obj = conn.Object(busName, p.objectPath)

	if err := p.refresh(); err != nil {
		p.log.V(1).Info("initial property fetch failed, peer likely not running yet", "err", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(p.objectPath),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return nil, fmt.Errorf("add match signal: %w", err)
	}
	conn.Signal(p.sigCh)
	go p.watch()

	return p, nil
}

// Close stops watching for signals and releases the bus connection.
func (p *Peer) Close() error {
	close(p.stop)
	<-p.done
	p.conn.RemoveSignal(p.sigCh)
	return p.conn.Close()
}

func (p *Peer) watch() {
	defer close(p.done)
	for {
		select {
		case sig, ok := <-p.sigCh:
			if !ok {
				return
			}
			p.handleSignal(sig)
		case <-p.stop:
			return
		}
	}
}

func (p *Peer) handleSignal(sig *dbus.Signal) {
	if sig.Name != "org.freedesktop.DBus.Properties.PropertiesChanged" {
		return
	}
	if len(sig.Body) < 2 {
		return
	}
	ifaceName, ok := sig.Body[0].(string)
	if !ok || ifaceName != p.iface {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	p.mu.Lock()
	if v, ok := changed["State"]; ok {
		if n, ok := v.Value().(uint32); ok {
			p.snapshot.State = State(n)
		}
	}
	if v, ok := changed["Status"]; ok {
		if s, ok := v.Value().(string); ok {
			p.snapshot.Status = s
		}
	}
	if v, ok := changed["OutdatedPackages"]; ok {
		if n, ok := v.Value().(uint32); ok {
			p.snapshot.OutdatedPackages = n
		}
	}
	snap := p.snapshot
	p.mu.Unlock()

	if p.onChange != nil {
		p.onChange(snap)
	}
}

// refresh pulls all three properties once, used on connect.
func (p *Peer) refresh() error {
	snap := Snapshot{}
	if v, err := p.obj.GetProperty(p.iface + ".State"); err == nil {
		if n, ok := v.Value().(uint32); ok {
			snap.State = State(n)
		}
	} else {
		return err
	}
	if v, err := p.obj.GetProperty(p.iface + ".Status"); err == nil {
		if s, ok := v.Value().(string); ok {
			snap.Status = s
		}
	}
	if v, err := p.obj.GetProperty(p.iface + ".OutdatedPackages"); err == nil {
		if n, ok := v.Value().(uint32); ok {
			snap.OutdatedPackages = n
		}
	}

	p.mu.Lock()
	p.snapshot = snap
	p.mu.Unlock()
	return nil
}

// Snapshot returns the last-known mirrored state.
func (p *Peer) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

// QueueRunnerInstall forwards an install request for version. The grammar
// check runs before any bus call.
func (p *Peer) QueueRunnerInstall(version string) error {
	if !ValidVersion(version) {
		return fmt.Errorf("invalid version string %q", version)
	}
	var ok bool
	call := p.obj.Call(p.iface+".QueueRunnerInstall", 0, version)
	if call.Err != nil {
		return call.Err
	}
	if err := call.Store(&ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("peer rejected install request for %q", version)
	}
	return nil
}

// UpdateOutdated asks the peer to refresh its OutdatedPackages count.
func (p *Peer) UpdateOutdated() error {
	call := p.obj.Call(p.iface+".UpdateOutdated", 0)
	return call.Err
}
