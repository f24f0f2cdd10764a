package controller

import (
	"encoding/json"

	"github.com/rnbo-oscquery/runner/pkg/errs"
	"github.com/rnbo-oscquery/runner/pkg/model"
)

// pendingSetLoad carries a queued instance_set_load across Tick calls: the
// controller first fades out and clears every instance, then on a later
// cycle -- once none remain -- loads the stored set, per spec.md §4.8.
type pendingSetLoad struct {
	name string
}

// SetSave snapshots every live instance's config (last preset, dataref
// files) into a model.SetInfo and persists it atomically. The SetInfo's
// Connections field is left empty.
func (c *Controller) SetSave(params json.RawMessage) error {
	var req struct {
		Name string `json:"name"`
		Meta string `json:"meta"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "%s", err.Error())
	}
	if req.Name == "" {
		req.Name = c.activeSet
	}

	c.mu.Lock()
	info := model.SetInfo{Name: req.Name, Meta: req.Meta}
	for idx, bi := range c.instances {
		cfg := model.InstanceConfig{
			LastPreset:   bi.inst.LastPreset(),
			DatarefFiles: bi.inst.DatarefFilenames(),
		}
		cfgJSON, _ := json.Marshal(cfg)
		info.Instances = append(info.Instances, model.SetInstance{
			InstanceIndex: idx,
			PatcherID:     bi.patcherID,
			ConfigJSON:    string(cfgJSON),
		})
	}
	c.mu.Unlock()

	if _, err := c.db.SetSave(info); err != nil {
		return errs.Generic(err)
	}
	c.markActiveSet(req.Name)
	return nil
}

// SetLoad queues a set load: the current instance table is torn down now,
// and the stored set is actually loaded from Tick once it is empty.
func (c *Controller) SetLoad(name string) error {
	_, ok, err := c.db.SetGet(name)
	if err != nil {
		return errs.Generic(err)
	}
	if !ok {
		return errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "no such set %q", name)
	}

	if err := c.InstanceUnload(-1); err != nil {
		return err
	}
	c.mu.Lock()
	c.pendingLoad = &pendingSetLoad{name: name}
	c.mu.Unlock()
	return nil
}

// progressSetLoad is polled from Tick; once every instance has finished
// unloading it applies the queued set.
func (c *Controller) progressSetLoad() {
	c.mu.Lock()
	pending := c.pendingLoad
	empty := len(c.instances) == 0
	c.mu.Unlock()
	if pending == nil || !empty {
		return
	}

	info, ok, err := c.db.SetGet(pending.name)
	c.mu.Lock()
	c.pendingLoad = nil
	c.mu.Unlock()
	if err != nil {
		c.log.Error(err, "set load failed", "name", pending.name)
		return
	}
	if !ok {
		c.log.Error(nil, "set vanished before load completed", "name", pending.name)
		return
	}

	for _, si := range info.Instances {
		patcher, ok, err := c.patcherByID(si.PatcherID)
		if err != nil || !ok {
			c.log.Error(err, "set load: patcher missing", "patcherId", si.PatcherID)
			continue
		}
		if err := c.loadInstanceFromPatcher(si.InstanceIndex, patcher); err != nil {
			c.log.Error(err, "set load: instance load failed", "index", si.InstanceIndex)
			continue
		}

		var cfg model.InstanceConfig
		_ = json.Unmarshal([]byte(si.ConfigJSON), &cfg)
		if cfg.LastPreset != "" {
			c.mu.Lock()
			bi := c.instances[si.InstanceIndex]
			c.mu.Unlock()
			if bi != nil {
				if err := bi.inst.LoadPreset(cfg.LastPreset, pending.name, bi.patcherID, setIDOf(info), c.presetStoreAdapter()); err != nil {
					c.log.Error(err, "set load: preset restore failed", "preset", cfg.LastPreset)
				}
			}
		}
		for id, path := range cfg.DatarefFiles {
			c.mu.Lock()
			bi := c.instances[si.InstanceIndex]
			c.mu.Unlock()
			if bi != nil {
				bi.inst.LoadDataref(id, path)
			}
		}
	}
	c.markActiveSet(pending.name)
}

func (c *Controller) patcherByID(id int64) (model.Patcher, bool, error) {
	patchers, err := c.db.PatcherList()
	if err != nil {
		return model.Patcher{}, false, err
	}
	for _, p := range patchers {
		if p.ID == id {
			return p, true, nil
		}
	}
	return model.Patcher{}, false, nil
}

// SetDelete removes a stored set.
func (c *Controller) SetDelete(name string) error {
	ok, err := c.db.SetDestroy(name)
	if err != nil {
		return errs.Generic(err)
	}
	if !ok {
		return errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "no such set %q", name)
	}
	return nil
}

// SetRename renames a stored set in place.
func (c *Controller) SetRename(oldName, newName string) error {
	ok, err := c.db.SetRename(oldName, newName)
	if err != nil {
		return errs.Generic(err)
	}
	if !ok {
		return errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "no such set %q", oldName)
	}
	if c.activeSet == oldName {
		c.markActiveSet(newName)
	}
	return nil
}

// SetInitial flags a set as the initial set (one per runner version).
// Startup loading (StartupLoadLastSet) uses the last active set, not this
// flag.
func (c *Controller) SetInitial(name string) error {
	if err := c.db.SetSetInitial(name); err != nil {
		return errs.Generic(err)
	}
	return nil
}

// SetPresetSave persists a named snapshot of every instance's current state
// under the active set.
func (c *Controller) SetPresetSave(params json.RawMessage) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "%s", err.Error())
	}
	info, ok, err := c.db.SetGet(c.activeSet)
	if err != nil {
		return errs.Generic(err)
	}
	if !ok {
		return errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "no active set %q", c.activeSet)
	}
	setID := setIDOf(info)

	c.mu.Lock()
	defer c.mu.Unlock()
	for idx, bi := range c.instances {
		bi.inst.SavePreset(req.Name, c.activeSet, bi.patcherID, setPresetAdapter{c: c, setID: setID, instanceIndex: idx})
	}
	return nil
}

// SetPresetLoad applies a named set-preset to every instance that has an
// entry for it; completion for each instance arrives via the instance's own
// preset-loaded callback.
func (c *Controller) SetPresetLoad(params json.RawMessage) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "%s", err.Error())
	}
	return c.setPresetLoadByName(req.Name)
}

// setPresetLoadByName is the shared core of SetPresetLoad and the
// set-preset MIDI program-change selector (spec.md §4.1's
// setPresetMidiProgramChangeChannel, §8 S3).
func (c *Controller) setPresetLoadByName(name string) error {
	info, ok, err := c.db.SetGet(c.activeSet)
	if err != nil {
		return errs.Generic(err)
	}
	if !ok {
		return errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "no active set %q", c.activeSet)
	}
	setID := setIDOf(info)

	c.mu.Lock()
	defer c.mu.Unlock()
	for idx, bi := range c.instances {
		if err := bi.inst.LoadPreset(name, c.activeSet, bi.patcherID, setID, c.presetStoreAdapter()); err != nil {
			c.log.Error(err, "set preset load failed", "index", idx, "name", name)
		}
	}
	return nil
}

// SetPresetDelete removes a set-preset from every instance index that has
// one under the active set.
func (c *Controller) SetPresetDelete(params json.RawMessage) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "%s", err.Error())
	}
	info, ok, err := c.db.SetGet(c.activeSet)
	if err != nil {
		return errs.Generic(err)
	}
	if !ok {
		return errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "no active set %q", c.activeSet)
	}
	if err := c.db.SetPresetDestroy(setIDOf(info), req.Name); err != nil {
		return errs.Generic(err)
	}
	return nil
}

// SetPresetRename renames a set-preset in place.
func (c *Controller) SetPresetRename(params json.RawMessage) error {
	var req struct {
		Name    string `json:"name"`
		NewName string `json:"newName"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "%s", err.Error())
	}
	info, ok, err := c.db.SetGet(c.activeSet)
	if err != nil {
		return errs.Generic(err)
	}
	if !ok {
		return errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "no active set %q", c.activeSet)
	}
	if err := c.db.SetPresetRename(setIDOf(info), req.Name, req.NewName); err != nil {
		return errs.Generic(err)
	}
	return nil
}

// SetViewCreate adds a new ordered parameter view to the active set.
func (c *Controller) SetViewCreate(params json.RawMessage) (interface{}, error) {
	var req struct {
		Index  int              `json:"index"`
		Name   string           `json:"name"`
		Params []model.ParamRef `json:"params"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "%s", err.Error())
	}
	info, ok, err := c.db.SetGet(c.activeSet)
	if err != nil {
		return nil, errs.Generic(err)
	}
	if !ok {
		return nil, errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "no active set %q", c.activeSet)
	}
	sortOrder, err := c.db.SetViewCreate(setIDOf(info), req.Index, req.Name, req.Params)
	if err != nil {
		return nil, errs.Generic(err)
	}
	return map[string]interface{}{"sortOrder": sortOrder}, nil
}

// SetViewDestroy removes a view from the active set.
func (c *Controller) SetViewDestroy(params json.RawMessage) error {
	var req struct {
		Index int `json:"index"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "%s", err.Error())
	}
	info, ok, err := c.db.SetGet(c.activeSet)
	if err != nil {
		return errs.Generic(err)
	}
	if !ok {
		return errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "no active set %q", c.activeSet)
	}
	if err := c.db.SetViewDestroy(setIDOf(info), req.Index); err != nil {
		return errs.Generic(err)
	}
	return nil
}

// SetViewOrder updates a view's sort order within the active set.
func (c *Controller) SetViewOrder(params json.RawMessage) error {
	var req struct {
		Index     int `json:"index"`
		SortOrder int `json:"sortOrder"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "%s", err.Error())
	}
	info, ok, err := c.db.SetGet(c.activeSet)
	if err != nil {
		return errs.Generic(err)
	}
	if !ok {
		return errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "no active set %q", c.activeSet)
	}
	ok, err = c.db.SetViewUpdateSortOrder(setIDOf(info), req.Index, req.SortOrder)
	if err != nil {
		return errs.Generic(err)
	}
	if !ok {
		return errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "no such view %d", req.Index)
	}
	return nil
}
