package controller

import (
	"encoding/json"

	"github.com/rnbo-oscquery/runner/pkg/errs"
	"github.com/rnbo-oscquery/runner/pkg/packager"
)

// PackageCreate builds a portable .rnbopack archive, delegating to
// pkg/packager per spec.md §4.9.
func (c *Controller) PackageCreate(params json.RawMessage) (interface{}, error) {
	var req struct {
		Name             string   `json:"name"`
		Patchers         []string `json:"patchers"`
		Sets             []string `json:"sets"`
		SystemName       string   `json:"systemName"`
		IncludeSource    bool     `json:"includeSource"`
		IncludeConfig    bool     `json:"includeConfig"`
		IncludePresets   bool     `json:"includePresets"`
		IncludeSets      bool     `json:"includeSets"`
		IncludeDatafiles bool     `json:"includeDatafiles"`
		Force            bool     `json:"force"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errs.New(errs.PackageCommand, errs.PackageCommandWriteFailed, "%s", err.Error())
	}

	path, err := c.packager.Create(req.Name, packager.CreateOptions{
		PatcherNames:     req.Patchers,
		SetNames:         req.Sets,
		RunnerVersion:    c.runnerVersion(),
		RNBOVersion:      c.rnboVersion,
		TargetID:         c.targetID(),
		SystemName:       req.SystemName,
		IncludeSource:    req.IncludeSource,
		IncludeConfig:    req.IncludeConfig,
		IncludePresets:   req.IncludePresets,
		IncludeSets:      req.IncludeSets,
		IncludeDatafiles: req.IncludeDatafiles,
		Force:            req.Force,
	})
	if err != nil {
		return nil, errs.New(errs.PackageCommand, errs.PackageCommandWriteFailed, "%s", err.Error())
	}
	return map[string]interface{}{"path": path}, nil
}

// PackageInstall unpacks and imports a previously built archive.
func (c *Controller) PackageInstall(params json.RawMessage) (interface{}, error) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errs.New(errs.PackageCommand, errs.PackageCommandWriteFailed, "%s", err.Error())
	}
	result, err := c.packager.Install(req.Path, c.rnboVersion)
	if err != nil {
		return nil, errs.New(errs.PackageCommand, errs.PackageCommandNotFound, "%s", err.Error())
	}
	return result, nil
}

// runnerVersion is the process-wide build identifier packages are stamped
// with; it tracks rnboVersion until a distinct runner release channel
// exists.
func (c *Controller) runnerVersion() string {
	return c.rnboVersion
}

// targetID reports the binary-compatibility identifier packages are keyed
// by. Processor/compiler details are not modeled by any collaborator in
// this port, so fixed placeholders ("generic", "linux", "gcc") plus the
// rnbo version stand in for them.
func (c *Controller) targetID() string {
	return packager.TargetID("generic", "linux", "gcc", c.rnboVersion)
}
