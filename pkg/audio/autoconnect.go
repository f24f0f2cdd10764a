package audio

import (
	"strings"

	"github.com/xthexder/go-jack"
)

// skipNameTokens are substrings that exclude a port from both MIDI
// auto-connect modes, matching names like "a2j:... through" virtual bridges.
var skipNameTokens = []string{"through", "virtual"}

func shouldSkipPort(name string) bool {
	lower := strings.ToLower(name)
	for _, tok := range skipNameTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

func isConnected(client *jack.Client, src, dest string) bool {
	p := client.GetPortByName(src)
	if p == nil {
		return false
	}
	for _, conn := range p.GetConnections() {
		if conn == dest {
			return true
		}
	}
	return false
}

func connect(client *jack.Client, src, dest string) error {
	if isConnected(client, src, dest) {
		return nil
	}
	if code := client.Connect(src, dest); code != 0 {
		return jack.StrError(code)
	}
	return nil
}

// AutoConnectInstance wires a freshly activated instance's ports according
// to policy. audioIns/audioOuts/midiIn/midiOut are this instance's own
// ports; physical ports are discovered by querying the client.
func (h *Host) AutoConnectInstance(policy AutoConnect, ports InstancePorts) []error {
	var errs []error
	switch policy {
	case AutoConnectNone:
		return nil
	case AutoConnectAudio, AutoConnectAudioIndexed:
		hwOut := h.client.GetPorts("", jack.DEFAULT_AUDIO_TYPE, jack.PortIsOutput|jack.PortIsPhysical)
		for i, dst := range ports.AudioIn {
			if i >= len(hwOut) {
				break
			}
			if err := connect(h.client, hwOut[i], dst.GetName()); err != nil {
				errs = append(errs, err)
			}
		}
		hwIn := h.client.GetPorts("", jack.DEFAULT_AUDIO_TYPE, jack.PortIsInput|jack.PortIsPhysical)
		for i, src := range ports.AudioOut {
			if i >= len(hwIn) {
				break
			}
			if err := connect(h.client, src.GetName(), hwIn[i]); err != nil {
				errs = append(errs, err)
			}
		}
	case AutoConnectMidi, AutoConnectMidiHardware:
		flags := uint64(jack.PortIsOutput)
		if policy == AutoConnectMidiHardware {
			flags |= jack.PortIsPhysical
		}
		hwMidiOut := h.client.GetPorts("", jack.DEFAULT_MIDI_TYPE, flags)
		if ports.MidiIn != nil {
			for _, src := range hwMidiOut {
				if shouldSkipPort(src) {
					continue
				}
				if err := connect(h.client, src, ports.MidiIn.GetName()); err != nil {
					errs = append(errs, err)
				}
			}
		}
	case AutoConnectPortGroup:
		// Port-group connect requires metadata lookup on each candidate
		// port; left to the caller via ConnectPortGroup, which needs the
		// instance's declared group ports rather than a blanket policy.
	}
	return errs
}

// ConnectPortGroup connects only those physical ports advertising the
// rnbo-graph-user-io marker property. go-jack has no metadata API exposed
// here, so group membership is resolved by the caller (which reads instance
// metadata) and passed in as explicit port name pairs.
func (h *Host) ConnectPortGroup(pairs [][2]string) []error {
	var errs []error
	for _, p := range pairs {
		if err := connect(h.client, p[0], p[1]); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
