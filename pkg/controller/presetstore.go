package controller

// presetStoreShim adapts *store.Store's richer (model.Preset, ...)
// signatures to the plain-string shape instance.PresetStore expects. The two
// packages were grounded on different teacher precedents (store.go mirrors
// sqlx row-scanning helpers; instance/preset.go mirrors the original's
// thin save/load-by-name contract), so the mismatch is bridged here rather
// than widening either package's public surface.
type presetStoreShim struct {
	c *Controller
}

func (c *Controller) presetStoreAdapter() presetStoreShim {
	return presetStoreShim{c: c}
}

func (p presetStoreShim) PresetSave(patcherID int64, name, content string) error {
	return p.c.db.PresetSave(patcherID, name, content)
}

func (p presetStoreShim) PresetGetByName(patcherID int64, name string) (string, bool, error) {
	preset, ok, err := p.c.db.PresetGetByName(patcherID, name)
	if err != nil || !ok {
		return "", ok, err
	}
	return preset.Content, true, nil
}

func (p presetStoreShim) SetPresetGet(setID int64, name string, instanceIndex int) (string, string, bool, error) {
	sp, ok, err := p.c.db.SetPresetGet(setID, name, instanceIndex)
	if err != nil || !ok {
		return "", "", ok, err
	}
	return sp.Content, sp.PatcherPreset, true, nil
}

// setPresetAdapter redirects an Instance.SavePreset completion into the
// set-preset table instead of the patcher-level preset table, giving
// instance_set_preset_save its set-scoped persistence without instance.go
// needing a second save path: the only signature SavePreset calls on its
// store is PresetSave, so that single method is retargeted per-call.
type setPresetAdapter struct {
	c             *Controller
	setID         int64
	instanceIndex int
}

func (p setPresetAdapter) PresetSave(patcherID int64, name, content string) error {
	return p.c.db.SetPresetSave(patcherID, p.setID, p.instanceIndex, name, content, "")
}

func (p setPresetAdapter) PresetGetByName(patcherID int64, name string) (string, bool, error) {
	return p.c.presetStoreAdapter().PresetGetByName(patcherID, name)
}

func (p setPresetAdapter) SetPresetGet(setID int64, name string, instanceIndex int) (string, string, bool, error) {
	return p.c.presetStoreAdapter().SetPresetGet(setID, name, instanceIndex)
}
