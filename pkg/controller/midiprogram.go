package controller

import (
	"strconv"

	"github.com/rnbo-oscquery/runner/pkg/config"
	"github.com/rnbo-oscquery/runner/pkg/midimap"
	"github.com/rnbo-oscquery/runner/pkg/ringbuf"
)

// channelMatches reports whether a 1-based incoming MIDI channel satisfies a
// configured MidiProgramChangeChannel selector: "none" matches nothing,
// "omni" matches every channel, and any other value is the single channel
// number it names.
func channelMatches(sel config.MidiProgramChangeChannel, chan1 int) bool {
	switch sel {
	case config.PGNone, "":
		return false
	case config.PGOmni:
		return true
	default:
		n, err := strconv.Atoi(string(sel))
		return err == nil && n == chan1
	}
}

// drainMidi pops every hardware MIDI event queued by the audio host's
// realtime thread, forwards it to the owning instance's own parameter MIDI
// map, and applies the program-change selectors from spec.md §4.1 / §8 S3.
// Called once per Tick, on the control thread only.
func (c *Controller) drainMidi() {
	for {
		ev, ok := c.audioHost.MidiIn.Pop()
		if !ok {
			return
		}
		c.mu.Lock()
		bi, found := c.instances[ev.InstanceIndex]
		c.mu.Unlock()
		if found {
			bi.inst.PushMidiEvent(ev)
		}
		if ev.Status&0xF0 == midimap.ProgramChange {
			c.handleProgramChange(ev, bi, found)
		}
	}
}

func (c *Controller) handleProgramChange(ev ringbuf.Event, bi *boundInstance, found bool) {
	chan1 := int(ev.Status&0x0F) + 1
	index := int(ev.Data0)

	if found && channelMatches(c.defaults.PatcherMidiProgramChangeChannel, chan1) {
		c.programChangePatcher(ev.InstanceIndex, index)
	}
	if found && channelMatches(c.defaults.InstancePresetMidiProgramChangeChannel, chan1) {
		c.programChangeInstancePreset(bi, index)
	}
	if channelMatches(c.defaults.SetMidiProgramChangeChannel, chan1) {
		c.programChangeSet(index)
	}
	if channelMatches(c.defaults.SetPresetMidiProgramChangeChannel, chan1) {
		c.programChangeSetPreset(index)
	}
}

func (c *Controller) programChangePatcher(instanceIndex, index int) {
	name, ok, err := c.db.PatcherNameByIndex(index)
	if err != nil || !ok {
		return
	}
	patcher, ok, err := c.db.PatcherGetLatest(name, c.rnboVersion)
	if err != nil || !ok {
		return
	}
	if err := c.loadInstanceFromPatcher(instanceIndex, patcher); err != nil {
		c.log.Error(err, "program-change patcher load failed", "index", index)
	}
}

func (c *Controller) programChangeInstancePreset(bi *boundInstance, index int) {
	preset, ok, err := c.db.PresetGetByOrdinal(bi.patcherID, index)
	if err != nil || !ok {
		return
	}
	if err := bi.inst.LoadPreset(preset.Name, "", bi.patcherID, 0, c.presetStoreAdapter()); err != nil {
		c.log.Error(err, "program-change instance preset load failed", "index", index)
	}
}

func (c *Controller) programChangeSet(index int) {
	name, ok, err := c.db.SetNameByOrdinal(index)
	if err != nil || !ok {
		return
	}
	if err := c.SetLoad(name); err != nil {
		c.log.Error(err, "program-change set load failed", "index", index)
	}
}

func (c *Controller) programChangeSetPreset(index int) {
	info, ok, err := c.db.SetGet(c.activeSet)
	if err != nil || !ok {
		return
	}
	name, ok, err := c.db.SetPresetGetByOrdinal(setIDOf(info), index)
	if err != nil || !ok {
		return
	}
	if err := c.setPresetLoadByName(name); err != nil {
		c.log.Error(err, "program-change set preset load failed", "index", index)
	}
}
