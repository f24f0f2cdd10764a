package instance

import "sync"

// midiMaps holds the two tables MIDI dispatch needs: status-derived key to
// parameter-id set, and key to inport-tag set, plus their reverse lookups
// used when a parameter's metadata changes. It also carries the OSC address
// bindings, since both mapping layers mirror values to the same set of
// local targets.
type midiMaps struct {
	mu           sync.Mutex
	paramsByKey  map[uint16]map[string]bool
	inportsByKey map[uint16]map[string]bool

	oscAddrToParam  map[string]string
	oscAddrToInport map[string]string
}

func newMidiMaps() *midiMaps {
	return &midiMaps{
		paramsByKey:     map[uint16]map[string]bool{},
		inportsByKey:    map[uint16]map[string]bool{},
		oscAddrToParam:  map[string]string{},
		oscAddrToInport: map[string]string{},
	}
}

func (m *midiMaps) bindParam(key uint16, paramID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paramsByKey[key] == nil {
		m.paramsByKey[key] = map[string]bool{}
	}
	m.paramsByKey[key][paramID] = true
}

func (m *midiMaps) bindInport(key uint16, tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inportsByKey[key] == nil {
		m.inportsByKey[key] = map[string]bool{}
	}
	m.inportsByKey[key][tag] = true
}

func (m *midiMaps) bindOSCParam(addr, paramID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oscAddrToParam[addr] = paramID
}

func (m *midiMaps) bindOSCInport(addr, tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oscAddrToInport[addr] = tag
}

// dispatch pushes a normalized [0,1] value to every parameter and inport
// mapped to key.
func (m *midiMaps) dispatch(key uint16, value float64, i *Instance) {
	m.mu.Lock()
	params := m.paramsByKey[key]
	inports := m.inportsByKey[key]
	m.mu.Unlock()

	for id := range params {
		i.setParamEchoSafe(id, value)
	}
	for tag := range inports {
		i.factory.SendInport(tag, value)
	}
}

// IncomingOSC mirrors an OSC message addressed at addr to every locally
// mapped node, as required by the OSC map: writes to the bound node
// re-dispatch to the address, and incoming OSC to that address mirrors to
// every locally mapped node.
func (i *Instance) IncomingOSC(addr string, value interface{}) {
	i.midi.mu.Lock()
	paramID, hasParam := i.midi.oscAddrToParam[addr]
	tag, hasInport := i.midi.oscAddrToInport[addr]
	i.midi.mu.Unlock()

	if hasParam {
		if v, ok := value.(float64); ok {
			i.setParamEchoSafe(paramID, v)
		}
	}
	if hasInport {
		i.factory.SendInport(tag, value)
	}
}
