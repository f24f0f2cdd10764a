// Package model holds the persisted and runtime domain types shared across
// the store, dispatcher and instance packages.
package model

import "time"

// Patcher is a DSP graph compiled to a shared library, unique by
// (Name, RunnerRNBOVersion).
type Patcher struct {
	ID                int64     `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	RunnerRNBOVersion string    `db:"runner_rnbo_version" json:"runnerRnboVersion"`
	LibraryFilename   string    `db:"library_filename" json:"libraryFilename"`
	SourceFilename    string    `db:"source_filename" json:"sourceFilename"`
	PatcherFilename   string    `db:"patcher_filename" json:"patcherFilename"`
	ConfigFilename    string    `db:"config_filename" json:"configFilename"`
	AudioInputs       int       `db:"audio_inputs" json:"audioInputs"`
	AudioOutputs      int       `db:"audio_outputs" json:"audioOutputs"`
	MidiInputs        int       `db:"midi_inputs" json:"midiInputs"`
	MidiOutputs       int       `db:"midi_outputs" json:"midiOutputs"`
	MaxSourceVersion  string    `db:"max_source_version" json:"maxSourceVersion"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
}

// IOCounts is the [audioIn, audioOut, midiIn, midiOut] tuple exposed at
// patchers/<name>/io.
func (p Patcher) IOCounts() [4]int {
	return [4]int{p.AudioInputs, p.AudioOutputs, p.MidiInputs, p.MidiOutputs}
}

// Preset belongs to a patcher; unique (PatcherID, Name).
type Preset struct {
	ID        int64  `db:"id" json:"id"`
	PatcherID int64  `db:"patcher_id" json:"patcherId"`
	Name      string `db:"name" json:"name"`
	Content   string `db:"content" json:"content"`
	Initial   bool   `db:"initial" json:"initial"`
}

// Set is a named collection of instances plus connections and meta.
type Set struct {
	ID                int64  `db:"id" json:"id"`
	Name              string `db:"name" json:"name"`
	RunnerRNBOVersion string `db:"runner_rnbo_version" json:"runnerRnboVersion"`
	Initial           bool   `db:"initial" json:"initial"`
	Meta              string `db:"meta" json:"meta"`
}

// UntitledSetName is the reserved, always-present set name used when no named
// set is active.
const UntitledSetName = "untitled"

// SetInstance is a (SetID, InstanceIndex)-unique row referencing a patcher.
type SetInstance struct {
	ID            int64  `db:"id" json:"id"`
	SetID         int64  `db:"set_id" json:"setId"`
	InstanceIndex int    `db:"instance_index" json:"instanceIndex"`
	PatcherID     int64  `db:"patcher_id" json:"patcherId"`
	ConfigJSON    string `db:"config_json" json:"configJson"`
}

// InstanceConfig is the per-instance config blob carried inside
// SetInstance.ConfigJSON.
type InstanceConfig struct {
	LastPreset      string            `json:"lastPreset,omitempty"`
	DatarefFiles    map[string]string `json:"datarefFiles,omitempty"`
	MetaOverride    string            `json:"meta,omitempty"`
	NameAlias       string            `json:"nameAlias,omitempty"`
	SetPresetName   string            `json:"setPresetName,omitempty"`
}

// Endpoint identifies one side of a set connection. A negative InstanceIndex
// denotes an external endpoint such as a hardware port.
type Endpoint struct {
	Name          string `db:"name" json:"name"`
	PortName      string `db:"port_name" json:"portName"`
	InstanceIndex int    `db:"instance_index" json:"instanceIndex"`
}

// SetConnection is a directed edge between two Endpoints, scoped to a set.
type SetConnection struct {
	ID     int64    `db:"id" json:"id"`
	SetID  int64    `db:"set_id" json:"setId"`
	Source Endpoint `json:"source"`
	Sink   Endpoint `json:"sink"`
}

// SetPreset is a named snapshot of a whole set's parameter state. Content is
// either inline or resolved via a patcher-level preset name at load time.
type SetPreset struct {
	ID            int64  `db:"id" json:"id"`
	SetID         int64  `db:"set_id" json:"setId"`
	Name          string `db:"name" json:"name"`
	InstanceIndex int    `db:"instance_index" json:"instanceIndex"`
	Content       string `db:"content" json:"content,omitempty"`
	PatcherPreset string `db:"patcher_preset" json:"patcherPreset,omitempty"`
	Initial       bool   `db:"initial" json:"initial"`
}

// ParamRef is an instance_index:param_id reference inside a SetView.
type ParamRef struct {
	InstanceIndex int    `json:"instanceIndex"`
	ParamID       string `json:"paramId"`
}

// SetView is an ordered projection of parameters for UI consumption.
type SetView struct {
	ID        int64      `db:"id" json:"id"`
	SetID     int64      `db:"set_id" json:"setId"`
	ViewIndex int        `db:"view_index" json:"viewIndex"`
	Name      string     `db:"name" json:"name"`
	Params    []ParamRef `json:"params"`
	SortOrder int        `db:"sort_order" json:"sortOrder"`
}

// Listener is an OSC UDP destination.
type Listener struct {
	IP   string `db:"ip" json:"ip"`
	Port uint16 `db:"port" json:"port"`
}

// SetInfo is the fully hydrated, round-trippable view of a set: saving and
// then getting a set must yield an equivalent SetInfo.
type SetInfo struct {
	Name        string          `json:"name"`
	Meta        string          `json:"meta"`
	Instances   []SetInstance   `json:"instances"`
	Connections []SetConnection `json:"connections"`
}
