// Package packager builds and installs portable ".rnbopack" archives: a
// POSIX tar (gzip-compressed) containing compiled patcher binaries, their
// generated source/config, patcher-level presets, set JSON, and referenced
// datafiles, plus an info.json manifest. Grounded on spec.md §4.9; the
// archive/tar + compress/gzip use is the documented stdlib exception (see
// DESIGN.md) since nothing in the retrieval pack wraps tar in a third-party
// library. Create builds a Recipe in code and marshals it with
// gopkg.in/yaml.v3 only for a debug log line; info.json is rendered from the
// recipe's Info. No YAML recipe is ever read.
package packager

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/rnbo-oscquery/runner/pkg/model"
)

// SchemaVersion is the only manifest schema this packager understands.
const SchemaVersion = 1

// FreeSpaceThresholdBytes matches the recorder's free-space floor: package
// creation refuses to proceed once the destination volume has less room
// than this.
const FreeSpaceThresholdBytes = 100 * 1024 * 1024

// Info is the rnbopack manifest, staged through Recipe (YAML) before being
// rendered to info.json (the wire format, per spec.md §4.9).
type Info struct {
	SchemaVersion int      `json:"schema_version" yaml:"schema_version"`
	Name          string   `json:"name" yaml:"name"`
	RunnerVersion string   `json:"runner_version" yaml:"runner_version"`
	RNBOVersion   string   `json:"rnbo_version" yaml:"rnbo_version"`
	TargetID      string   `json:"target_id" yaml:"target_id"`
	SystemName    string   `json:"system_name,omitempty" yaml:"system_name,omitempty"`
	Sets          []string `json:"sets" yaml:"sets"`
	Patchers      []string `json:"patchers" yaml:"patchers"`
	Datafiles     []string `json:"datafiles" yaml:"datafiles"`
	Targets       []string `json:"targets" yaml:"targets"`
}

// Recipe is the staging document Create builds before its Info is rendered
// to info.json; its YAML form appears only in a debug log line.
type Recipe struct {
	Info            Info `yaml:",inline"`
	IncludeSource   bool `yaml:"includeSource"`
	IncludeConfig   bool `yaml:"includeConfig"`
	IncludePresets  bool `yaml:"includePresets"`
	IncludeSets     bool `yaml:"includeSets"`
	IncludeDatafiles bool `yaml:"includeDatafiles"`
}

// TargetID computes spec.md's target identifier: sanitized
// "processor-system-compiler-version".
func TargetID(processor, system, compiler, compilerVersion string) string {
	raw := fmt.Sprintf("%s-%s-%s-%s", processor, system, compiler, compilerVersion)
	return sanitize(raw)
}

var sanitizePattern = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitize(s string) string {
	return sanitizePattern.ReplaceAllString(s, "_")
}

// Store is the subset of pkg/store that packaging needs.
type Store interface {
	PatcherGetLatest(name, rnboVersion string) (model.Patcher, bool, error)
	PatcherList() ([]model.Patcher, error)
	PresetNames(patcherID int64) ([]model.Preset, error)
	PresetGetByName(patcherID int64, name string) (model.Preset, bool, error)
	PresetSave(patcherID int64, name, content string) error
	SetGet(name string) (model.SetInfo, bool, error)
	SetList() ([]model.Set, error)
	SetSave(info model.SetInfo) (int64, error)
	PatcherStore(p model.Patcher, migratePresetsFrom int64) (int64, error)
}

// Dirs are the fixed filesystem locations the packager reads/writes.
type Dirs struct {
	PackageDir  string
	SourceDir   string
	CompileDir  string // compiled .so libraries
	SaveDir     string // patcher json/config files
	DatafileDir string
}

// Packager assembles and installs rnbopack archives.
type Packager struct {
	store Store
	dirs  Dirs
	log   logr.Logger
}

// New constructs a Packager.
func New(store Store, dirs Dirs, log logr.Logger) *Packager {
	return &Packager{store: store, dirs: dirs, log: log.WithName("packager")}
}

// CreateOptions selects what a package includes.
type CreateOptions struct {
	PatcherNames     []string // empty means every patcher
	SetNames         []string // empty means every set
	RunnerVersion    string
	RNBOVersion      string
	TargetID         string
	SystemName       string
	IncludeSource    bool
	IncludeConfig    bool
	IncludePresets   bool
	IncludeSets      bool
	IncludeDatafiles bool
	Force            bool // rebuild even if the tar already exists
}

// Create builds <packagedir>/<rnbo-version>/<sanitized-name>-rnbo-<version>.rnbopack.
// Re-packaging is skipped (the existing path is returned) if the archive is
// already present and Force is false.
func (p *Packager) Create(name string, opts CreateOptions) (string, error) {
	destDir := filepath.Join(p.dirs.PackageDir, opts.RNBOVersion)
	archivePath := filepath.Join(destDir, fmt.Sprintf("%s-rnbo-%s.rnbopack", sanitize(name), opts.RNBOVersion))
	if !opts.Force {
		if _, err := os.Stat(archivePath); err == nil {
			return archivePath, nil
		}
	}

	if freeBytes(p.dirs.PackageDir) < FreeSpaceThresholdBytes {
		return "", fmt.Errorf("insufficient free space to create package")
	}

	patchers, err := p.resolvePatchers(opts)
	if err != nil {
		return "", err
	}
	var sets []string
	var setInfos []model.SetInfo
	if opts.IncludeSets {
		sets, setInfos, err = p.resolveSets(opts)
		if err != nil {
			return "", err
		}
	}

	recipe := Recipe{
		Info: Info{
			SchemaVersion: SchemaVersion,
			Name:          name,
			RunnerVersion: opts.RunnerVersion,
			RNBOVersion:   opts.RNBOVersion,
			TargetID:      opts.TargetID,
			SystemName:    opts.SystemName,
			Sets:          sets,
			Patchers:      patcherNames(patchers),
			Targets:       []string{opts.TargetID},
		},
		IncludeSource:    opts.IncludeSource,
		IncludeConfig:    opts.IncludeConfig,
		IncludePresets:   opts.IncludePresets,
		IncludeSets:      opts.IncludeSets,
		IncludeDatafiles: opts.IncludeDatafiles,
	}

	datafiles := map[string]bool{}
	if opts.IncludeDatafiles {
		for _, si := range setInfos {
			for _, inst := range si.Instances {
				var cfg model.InstanceConfig
				if json.Unmarshal([]byte(inst.ConfigJSON), &cfg) == nil {
					for _, filename := range cfg.DatarefFiles {
						datafiles[filename] = true
					}
				}
			}
		}
	}
	for f := range datafiles {
		recipe.Info.Datafiles = append(recipe.Info.Datafiles, f)
	}

	recipeYAML, err := yaml.Marshal(recipe)
	if err != nil {
		return "", err
	}
	p.log.V(1).Info("staged package recipe", "yaml", string(recipeYAML))

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(destDir, "rnbopack-*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	gz := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gz)

	manifestJSON, err := json.MarshalIndent(recipe.Info, "", "  ")
	if err != nil {
		tw.Close()
		gz.Close()
		tmp.Close()
		return "", err
	}
	if err := writeTarEntry(tw, "info.json", manifestJSON); err != nil {
		return "", err
	}

	for _, pa := range patchers {
		target := filepath.Join("targets", opts.TargetID, "patchers")
		if err := addFileEntry(tw, p.dirs.CompileDir, pa.LibraryFilename, target); err != nil {
			return "", err
		}
		if opts.IncludeSource {
			if err := addFileEntry(tw, p.dirs.SourceDir, pa.SourceFilename, "src"); err != nil {
				return "", err
			}
		}
		if opts.IncludeConfig {
			if err := addFileEntry(tw, p.dirs.SaveDir, pa.PatcherFilename, "src"); err != nil {
				return "", err
			}
			if err := addFileEntry(tw, p.dirs.SaveDir, pa.ConfigFilename, "src"); err != nil {
				return "", err
			}
		}
		if opts.IncludePresets {
			presets, err := p.store.PresetNames(pa.ID)
			if err != nil {
				return "", err
			}
			for _, pr := range presets {
				full, _, err := p.store.PresetGetByName(pa.ID, pr.Name)
				if err != nil {
					return "", err
				}
				if err := writeTarEntry(tw, filepath.Join("presets", pa.Name, pr.Name+".json"), []byte(full.Content)); err != nil {
					return "", err
				}
			}
		}
	}

	if opts.IncludeSets {
		for i, name := range sets {
			body, err := json.MarshalIndent(setInfos[i], "", "  ")
			if err != nil {
				return "", err
			}
			if err := writeTarEntry(tw, filepath.Join("sets", name+".json"), body); err != nil {
				return "", err
			}
		}
	}

	if opts.IncludeDatafiles {
		for f := range datafiles {
			if err := addFileEntry(tw, p.dirs.DatafileDir, f, "datafiles"); err != nil {
				return "", err
			}
		}
	}

	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), archivePath); err != nil {
		return "", err
	}
	return archivePath, nil
}

func (p *Packager) resolvePatchers(opts CreateOptions) ([]model.Patcher, error) {
	if len(opts.PatcherNames) == 0 {
		return p.store.PatcherList()
	}
	var out []model.Patcher
	for _, name := range opts.PatcherNames {
		pa, ok, err := p.store.PatcherGetLatest(name, opts.RNBOVersion)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, pa)
		}
	}
	return out, nil
}

func (p *Packager) resolveSets(opts CreateOptions) ([]string, []model.SetInfo, error) {
	var names []string
	if len(opts.SetNames) == 0 {
		sets, err := p.store.SetList()
		if err != nil {
			return nil, nil, err
		}
		for _, s := range sets {
			names = append(names, s.Name)
		}
	} else {
		names = opts.SetNames
	}
	var infos []model.SetInfo
	for _, name := range names {
		info, ok, err := p.store.SetGet(name)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			infos = append(infos, info)
		}
	}
	return names, infos, nil
}

func patcherNames(ps []model.Patcher) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}

func writeTarEntry(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(data))}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

func addFileEntry(tw *tar.Writer, baseDir, filename, archiveDir string) error {
	if filename == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(baseDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return writeTarEntry(tw, filepath.Join(archiveDir, filepath.Base(filename)), data)
}

// InstallResult reports what Install actually did, for the dispatcher's
// package_install response.
type InstallResult struct {
	Info     Info
	Patchers []string
	Sets     []string
}

// Install unpacks archivePath into a scratch working directory, verifies the
// manifest, copies datafiles (never overwriting an existing file), copies
// binaries/configs/sources into the runtime's caches, and re-imports every
// patcher and set via the Store, per spec.md §4.9.
func (p *Packager) Install(archivePath string, runnerVersion string) (InstallResult, error) {
	workDir, err := os.MkdirTemp("", "rnbopack-install-*")
	if err != nil {
		return InstallResult{}, err
	}
	defer os.RemoveAll(workDir)

	if err := untar(archivePath, workDir); err != nil {
		return InstallResult{}, err
	}

	manifestRaw, err := os.ReadFile(filepath.Join(workDir, "info.json"))
	if err != nil {
		return InstallResult{}, fmt.Errorf("missing info.json: %w", err)
	}
	var info Info
	if err := json.Unmarshal(manifestRaw, &info); err != nil {
		return InstallResult{}, err
	}
	if info.SchemaVersion != SchemaVersion {
		return InstallResult{}, fmt.Errorf("unsupported schema_version %d", info.SchemaVersion)
	}
	if info.RNBOVersion != runnerVersion {
		return InstallResult{}, fmt.Errorf("rnbo_version mismatch: package is %s, runner is %s", info.RNBOVersion, runnerVersion)
	}

	if err := copyTreeNoOverwrite(filepath.Join(workDir, "datafiles"), p.dirs.DatafileDir); err != nil {
		return InstallResult{}, err
	}
	if err := copyTreeOverwrite(filepath.Join(workDir, "src"), p.dirs.SourceDir); err != nil {
		return InstallResult{}, err
	}

	var installedPatchers []string
	for _, target := range info.Targets {
		libDir := filepath.Join(workDir, "targets", target, "patchers")
		entries, err := os.ReadDir(libDir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			dst := filepath.Join(p.dirs.CompileDir, e.Name())
			if err := copyFile(filepath.Join(libDir, e.Name()), dst); err != nil {
				return InstallResult{}, err
			}
		}
	}
	for _, name := range info.Patchers {
		id, err := p.store.PatcherStore(model.Patcher{
			Name:              name,
			RunnerRNBOVersion: runnerVersion,
			LibraryFilename:   name + ".so",
		}, 0)
		if err != nil {
			return InstallResult{}, err
		}
		presetDir := filepath.Join(workDir, "presets", name)
		if entries, err := os.ReadDir(presetDir); err == nil {
			for _, e := range entries {
				content, err := os.ReadFile(filepath.Join(presetDir, e.Name()))
				if err != nil {
					continue
				}
				presetName := strings.TrimSuffix(e.Name(), ".json")
				if err := p.store.PresetSave(id, presetName, string(content)); err != nil {
					return InstallResult{}, err
				}
			}
		}
		installedPatchers = append(installedPatchers, name)
	}

	var installedSets []string
	for _, name := range info.Sets {
		raw, err := os.ReadFile(filepath.Join(workDir, "sets", name+".json"))
		if err != nil {
			continue
		}
		var setInfo model.SetInfo
		if err := json.Unmarshal(raw, &setInfo); err != nil {
			return InstallResult{}, err
		}
		if _, err := p.store.SetSave(setInfo); err != nil {
			return InstallResult{}, err
		}
		installedSets = append(installedSets, name)
	}

	return InstallResult{Info: info, Patchers: installedPatchers, Sets: installedSets}, nil
}

func untar(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, hdr.Name)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("invalid archive entry path: %s", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}

func copyTreeNoOverwrite(src, dst string) error {
	entries, err := os.ReadDir(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		dstPath := filepath.Join(dst, e.Name())
		if _, err := os.Stat(dstPath); err == nil {
			continue // never overwrite an existing datafile
		}
		if err := copyFile(filepath.Join(src, e.Name()), dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyTreeOverwrite(src, dst string) error {
	entries, err := os.ReadDir(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

func freeBytes(path string) uint64 {
	_ = os.MkdirAll(path, 0755)
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0
	}
	return st.Bavail * uint64(st.Bsize)
}
