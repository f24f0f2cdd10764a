package instance

// PresetStore is the subset of the persistence store the preset path needs,
// kept as an interface so instance tests can supply an in-memory fake.
type PresetStore interface {
	PresetSave(patcherID int64, name, content string) error
	PresetGetByName(patcherID int64, name string) (string, bool, error)
	SetPresetGet(setID int64, name string, instanceIndex int) (content, patcherPreset string, ok bool, err error)
}

// SavePreset asks the factory to serialize its state asynchronously. In this
// port the serialization happens inline (Go has no analogous cross-thread
// moodycamel handoff requirement) but the result is still routed through the
// presetSave channel so ProcessEvents remains the single place state is
// persisted, exactly mirroring the original queue-and-drain shape.
func (i *Instance) SavePreset(name, setName string, patcherID int64, store PresetStore) {
	content, err := i.factory.SerializePreset()
	res := presetSaveResult{name: name, setName: setName, content: content, err: err}
	select {
	case i.presetSave <- res:
	default:
		i.log.Error(nil, "preset save queue full, dropping result", "name", name)
	}
	i.pendingPatcherID = patcherID
	i.pendingStore = store
}

func (i *Instance) finishPresetSave(res presetSaveResult) {
	if res.err != nil {
		i.log.Error(res.err, "preset serialize failed", "name", res.name)
		return
	}
	if i.pendingStore == nil {
		return
	}
	if err := i.pendingStore.PresetSave(i.pendingPatcherID, res.name, string(res.content)); err != nil {
		i.log.Error(err, "preset persist failed", "name", res.name)
		return
	}
	i.mu.Lock()
	i.lastPreset = res.name
	i.mu.Unlock()
	if i.onPreset != nil {
		i.onPreset(res.name, res.setName)
	}
}

// LoadPreset resolves content from the set-preset table (if setName is
// given and an entry matches this instance index), else from the
// patcher-level preset table, then hands it to the factory.
func (i *Instance) LoadPreset(name, setName string, patcherID, setID int64, store PresetStore) error {
	var content string
	var ok bool
	var err error

	if setName != "" {
		content, _, ok, err = store.SetPresetGet(setID, name, i.Index)
		if err != nil {
			return err
		}
	}
	if !ok {
		content, ok, err = store.PresetGetByName(patcherID, name)
		if err != nil {
			return err
		}
	}
	if !ok {
		return nil
	}

	if err := i.factory.LoadPreset([]byte(content)); err != nil {
		return err
	}
	i.mu.Lock()
	i.lastPreset = name
	i.mu.Unlock()
	if i.onPreset != nil {
		i.onPreset(name, setName)
	}
	return nil
}

// LastPreset returns the most recently loaded or saved preset name.
func (i *Instance) LastPreset() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastPreset
}
