// Package config implements the process-wide namespaced JSON key/value store
// debounced persistence, tilde-path expansion, and the
// default surface (source/compile/save/datafile dirs, auto-connect flags,
// auto-start-last, fade timing, OSC port mapping, MIDI program-change
// selectors). Modeled on the teacher's small JSON-tagged config structs
// (client.AgentConfig, client.DeviceConfig) persisted to a canonical path.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// FlushDelay is the debounce window before a dirty document is written to
// disk, roughly one second after the last write.
const FlushDelay = time.Second

// MidiProgramChangeChannel selects which MIDI channel (or none/omni) drives
// program-change based patcher/set/preset switching.
type MidiProgramChangeChannel string

// Accepted MidiProgramChangeChannel values.
const (
	PGNone MidiProgramChangeChannel = "none"
	PGOmni MidiProgramChangeChannel = "omni"
)

// Defaults holds the enumerated default surface for a fresh install.
type Defaults struct {
	SourceDir   string `json:"sourceDir"`
	CompileDir  string `json:"compileDir"`
	SaveDir     string `json:"saveDir"`
	DatafileDir string `json:"datafileDir"`

	AutoConnectAudio        bool `json:"autoConnectAudio"`
	AutoConnectMidi         bool `json:"autoConnectMidi"`
	AutoConnectMidiHardware bool `json:"autoConnectMidiHardware"`
	AutoConnectIndexed      bool `json:"autoConnectIndexed"`
	AutoConnectByPortGroup  bool `json:"autoConnectByPortGroup"`
	AutoStartLast           bool `json:"autoStartLast"`

	AudioFadeInMS  int `json:"audioFadeInMs"`
	AudioFadeOutMS int `json:"audioFadeOutMs"`

	// OSCPortMap maps slash-prefixed port names to OSC addresses.
	OSCPortMap map[string]string `json:"oscPortMap"`

	PatcherMidiProgramChangeChannel    MidiProgramChangeChannel `json:"patcherMidiProgramChangeChannel"`
	SetMidiProgramChangeChannel        MidiProgramChangeChannel `json:"setMidiProgramChangeChannel"`
	SetPresetMidiProgramChangeChannel  MidiProgramChangeChannel `json:"setPresetMidiProgramChangeChannel"`
	InstancePresetMidiProgramChangeChannel MidiProgramChangeChannel `json:"instancePresetMidiProgramChangeChannel"`
}

// DefaultDefaults returns the baseline configuration defaults.
func DefaultDefaults(base string) Defaults {
	return Defaults{
		SourceDir:   filepath.Join(base, "source"),
		CompileDir:  filepath.Join(base, "compiled"),
		SaveDir:     filepath.Join(base, "patchers"),
		DatafileDir: filepath.Join(base, "datafiles"),

		AutoConnectAudio: true,
		AutoConnectMidi:  true,
		AutoStartLast:    true,

		AudioFadeInMS:  50,
		AudioFadeOutMS: 50,

		OSCPortMap: map[string]string{},

		PatcherMidiProgramChangeChannel:        PGNone,
		SetMidiProgramChangeChannel:            PGNone,
		SetPresetMidiProgramChangeChannel:      PGNone,
		InstancePresetMidiProgramChangeChannel: PGNone,
	}
}

// Store is a namespaced JSON document with debounced disk persistence.
type Store struct {
	mu        sync.Mutex
	path      string
	data      map[string]map[string]json.RawMessage
	dirty     bool
	timer     *time.Timer
	log       logr.Logger
	flushOnce func() // test hook, replaces the real debounce timer when set
}

// New opens (or initializes) a config store backed by path. A leading `~` in
// path is expanded to the user's home directory.
func New(path string, log logr.Logger) (*Store, error) {
	expanded, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: expanded, data: map[string]map[string]json.RawMessage{}, log: log}
	if raw, err := os.ReadFile(expanded); err == nil {
		if err := json.Unmarshal(raw, &s.data); err != nil {
			s.log.Error(err, "config file is corrupt, starting fresh", "path", expanded)
			s.data = map[string]map[string]json.RawMessage{}
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Get reads a namespaced value. The bool return reports presence.
func (s *Store) Get(namespace, key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.data[namespace]
	if !ok {
		return nil, false
	}
	v, ok := ns[key]
	return v, ok
}

// GetInto reads a namespaced value and decodes it into dst. Returns false if
// the key is absent.
func (s *Store) GetInto(namespace, key string, dst interface{}) (bool, error) {
	raw, ok := s.Get(namespace, key)
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

// Set writes a namespaced value, marks the document dirty, and arms the
// debounce timer.
func (s *Store) Set(namespace, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.data[namespace] == nil {
		s.data[namespace] = map[string]json.RawMessage{}
	}
	s.data[namespace][key] = raw
	s.dirty = true
	s.armDebounce()
	s.mu.Unlock()
	return nil
}

// armDebounce must be called with s.mu held.
func (s *Store) armDebounce() {
	if s.flushOnce != nil {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(FlushDelay, func() {
		if err := s.Flush(); err != nil {
			s.log.Error(err, "failed to flush config store")
		}
	})
}

// Dirty reports whether the document has unflushed changes. Used by the
// dispatcher's coarse housekeeping loop.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Flush writes the document to disk atomically (temp file + rename).
func (s *Store) Flush() error {
	s.mu.Lock()
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		s.mu.Unlock()
		return err
	}
	path := s.path
	s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// Identity returns the first-run random identifier, generating and persisting
// one to a sibling file on first use (teacher precedent: credentials.go's
// generate-once-then-reread secret pattern).
func Identity(dir string) (string, error) {
	idPath := filepath.Join(dir, "runner-id")
	if raw, err := os.ReadFile(idPath); err == nil {
		return strings.TrimSpace(string(raw)), nil
	} else if !os.IsNotExist(err) {
		return "", err
	}

	id := randomID(32)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(idPath, []byte(id), 0644); err != nil {
		return "", err
	}
	return id, nil
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func randomID(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = idAlphabet[secureIntn(len(idAlphabet))]
	}
	return string(b)
}
