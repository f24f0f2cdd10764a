package packager

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnbo-oscquery/runner/pkg/model"
)

type fakeStore struct {
	patchers []model.Patcher
	presets  map[int64][]model.Preset
	presetContent map[string]model.Preset // "<patcherID>/<name>"
	sets     []model.Set
	setInfos map[string]model.SetInfo

	savedPresets []model.Preset
	savedSets    []model.SetInfo
	storedPatchers []model.Patcher
}

func (s *fakeStore) PatcherGetLatest(name, rnboVersion string) (model.Patcher, bool, error) {
	for _, p := range s.patchers {
		if p.Name == name {
			return p, true, nil
		}
	}
	return model.Patcher{}, false, nil
}

func (s *fakeStore) PatcherList() ([]model.Patcher, error) { return s.patchers, nil }

func (s *fakeStore) PresetNames(patcherID int64) ([]model.Preset, error) {
	return s.presets[patcherID], nil
}

func (s *fakeStore) PresetGetByName(patcherID int64, name string) (model.Preset, bool, error) {
	key := presetKey(patcherID, name)
	p, ok := s.presetContent[key]
	return p, ok, nil
}

func (s *fakeStore) PresetSave(patcherID int64, name, content string) error {
	s.savedPresets = append(s.savedPresets, model.Preset{PatcherID: patcherID, Name: name, Content: content})
	return nil
}

func (s *fakeStore) SetGet(name string) (model.SetInfo, bool, error) {
	info, ok := s.setInfos[name]
	return info, ok, nil
}

func (s *fakeStore) SetList() ([]model.Set, error) { return s.sets, nil }

func (s *fakeStore) SetSave(info model.SetInfo) (int64, error) {
	s.savedSets = append(s.savedSets, info)
	return 1, nil
}

func (s *fakeStore) PatcherStore(p model.Patcher, migratePresetsFrom int64) (int64, error) {
	s.storedPatchers = append(s.storedPatchers, p)
	return int64(len(s.storedPatchers)), nil
}

func presetKey(patcherID int64, name string) string {
	return fmt.Sprintf("%d/%s", patcherID, name)
}

func newFixture(t *testing.T) (*Packager, *fakeStore, Dirs) {
	t.Helper()
	root := t.TempDir()
	dirs := Dirs{
		PackageDir:  filepath.Join(root, "packages"),
		SourceDir:   filepath.Join(root, "src"),
		CompileDir:  filepath.Join(root, "compiled"),
		SaveDir:     filepath.Join(root, "saved"),
		DatafileDir: filepath.Join(root, "datafiles"),
	}
	for _, d := range []string{dirs.PackageDir, dirs.SourceDir, dirs.CompileDir, dirs.SaveDir, dirs.DatafileDir} {
		require.NoError(t, os.MkdirAll(d, 0755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dirs.CompileDir, "synth.so"), []byte("binary"), 0644))

	store := &fakeStore{
		patchers: []model.Patcher{{ID: 1, Name: "synth", RunnerRNBOVersion: "1.0.0", LibraryFilename: "synth.so"}},
		presets:  map[int64][]model.Preset{1: {{ID: 1, PatcherID: 1, Name: "init", Initial: true}}},
		presetContent: map[string]model.Preset{
			presetKey(1, "init"): {ID: 1, PatcherID: 1, Name: "init", Content: `{"params":{}}`, Initial: true},
		},
		sets:     []model.Set{{ID: 1, Name: "untitled"}},
		setInfos: map[string]model.SetInfo{"untitled": {Name: "untitled", Meta: "{}"}},
	}
	p := New(store, dirs, logr.Discard())
	return p, store, dirs
}

func TestTargetIDSanitizesSeparators(t *testing.T) {
	id := TargetID("aarch64", "raspbian bullseye", "gcc 10", "10.2.1")
	assert.NotContains(t, id, " ")
	assert.Equal(t, sanitize(id), id)
}

func TestCreateBuildsArchiveWithManifest(t *testing.T) {
	p, _, dirs := newFixture(t)

	path, err := p.Create("myset", CreateOptions{
		RunnerVersion:    "1.0.0",
		RNBOVersion:      "1.0.0",
		TargetID:         "aarch64-raspbian",
		IncludePresets:   true,
		IncludeSets:      true,
		IncludeDatafiles: true,
	})
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, filepath.Join(dirs.PackageDir, "1.0.0", "myset-rnbo-1.0.0.rnbopack"), path)
}

func TestCreateSkipsRebuildUnlessForced(t *testing.T) {
	p, _, _ := newFixture(t)
	opts := CreateOptions{RunnerVersion: "1.0.0", RNBOVersion: "1.0.0", TargetID: "aarch64"}

	first, err := p.Create("myset", opts)
	require.NoError(t, err)
	info, err := os.Stat(first)
	require.NoError(t, err)
	firstModTime := info.ModTime()

	second, err := p.Create("myset", opts)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	info2, err := os.Stat(second)
	require.NoError(t, err)
	assert.Equal(t, firstModTime, info2.ModTime())

	opts.Force = true
	third, err := p.Create("myset", opts)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestInstallRejectsMismatchedRNBOVersion(t *testing.T) {
	p, _, _ := newFixture(t)
	path, err := p.Create("myset", CreateOptions{RunnerVersion: "1.0.0", RNBOVersion: "1.0.0", TargetID: "aarch64"})
	require.NoError(t, err)

	_, err = p.Install(path, "2.0.0")
	assert.Error(t, err)
}

func TestInstallImportsPatchersAndPresets(t *testing.T) {
	p, store, _ := newFixture(t)
	path, err := p.Create("myset", CreateOptions{
		PatcherNames:   []string{"synth"},
		RunnerVersion:  "1.0.0",
		RNBOVersion:    "1.0.0",
		TargetID:       "aarch64",
		IncludePresets: true,
	})
	require.NoError(t, err)

	res, err := p.Install(path, "1.0.0")
	require.NoError(t, err)
	assert.Contains(t, res.Patchers, "synth")
	assert.Len(t, store.storedPatchers, 1)
	assert.Len(t, store.savedPresets, 1)
	assert.Equal(t, "init", store.savedPresets[0].Name)
}
