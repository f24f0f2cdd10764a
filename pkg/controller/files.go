package controller

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rnbo-oscquery/runner/pkg/errs"
	"github.com/rnbo-oscquery/runner/pkg/model"
)

// fileCategory is one of the virtual file categories spec.md §6 enumerates.
type fileCategory string

// Writable categories, each backed by a real directory.
const (
	categoryDatafile   fileCategory = "datafile"
	categorySourcefile fileCategory = "sourcefile"
	categoryPatcherfile fileCategory = "patcherfile"
	categoryPatcherlib fileCategory = "patcherlib"
	categorySet        fileCategory = "set"
	categoryPackage    fileCategory = "package"
)

// Synthetic read-only categories, backed by the store instead of a file.
const (
	categoryPatchers      fileCategory = "patchers"
	categoryPresets       fileCategory = "presets"
	categorySets          fileCategory = "sets"
	categoryPatcher       fileCategory = "patcher"
	categoryPatcherConfig fileCategory = "patcherconfig"
	categoryVersions      fileCategory = "versions"
)

func (c *Controller) categoryDir(cat fileCategory) (string, bool) {
	switch cat {
	case categoryDatafile:
		return c.dirs.DatafileDir, true
	case categorySourcefile:
		return c.dirs.SourceDir, true
	case categoryPatcherfile, categoryPatcherlib:
		return c.dirs.CompileDir, true
	case categorySet:
		return c.dirs.SaveDir, true
	case categoryPackage:
		return c.dirs.PackageDir, true
	default:
		return "", false
	}
}

type fileWriteParams struct {
	Category string `json:"category"`
	Filename string `json:"filename"`
	Data     string `json:"data"` // base64
	Append   bool   `json:"append"`
}

// FileWrite (and file_write_extended, which differs only in supporting
// larger payloads via the same base64 envelope) writes to one of the
// writable categories. A successful write to the "set" category also
// decodes and imports the set JSON, per spec.md §4.3.
func (c *Controller) FileWrite(params json.RawMessage) (interface{}, error) {
	var req fileWriteParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "%s", err.Error())
	}
	dir, ok := c.categoryDir(fileCategory(req.Category))
	if !ok {
		return nil, errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "unknown or read-only category %q", req.Category)
	}
	raw, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return nil, errs.New(errs.FileCommand, errs.FileCommandDecodeFailed, "%s", err.Error())
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.New(errs.FileCommand, errs.FileCommandWriteFailed, "%s", err.Error())
	}
	path := filepath.Join(dir, req.Filename)
	if req.Append {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, errs.New(errs.FileCommand, errs.FileCommandWriteFailed, "%s", err.Error())
		}
		defer f.Close()
		if _, err := f.Write(raw); err != nil {
			return nil, errs.New(errs.FileCommand, errs.FileCommandWriteFailed, "%s", err.Error())
		}
	} else if err := os.WriteFile(path, raw, 0644); err != nil {
		return nil, errs.New(errs.FileCommand, errs.FileCommandWriteFailed, "%s", err.Error())
	}

	if fileCategory(req.Category) == categorySet {
		var info model.SetInfo
		if err := json.Unmarshal(raw, &info); err == nil {
			if _, err := c.db.SetSave(info); err != nil {
				return nil, errs.Generic(err)
			}
		}
	}
	return map[string]interface{}{"bytesWritten": len(raw)}, nil
}

type fileReadParams struct {
	Category string `json:"category"`
	Filename string `json:"filename"`
	Name     string `json:"name"` // used by synthetic categories keyed by name
}

// FileRead returns the whole file (or synthetic content) as one base64 blob.
func (c *Controller) FileRead(params json.RawMessage) (interface{}, error) {
	var req fileReadParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "%s", err.Error())
	}

	if synthetic, ok, err := c.readSynthetic(fileCategory(req.Category), req.Name); ok {
		return synthetic, err
	}

	dir, ok := c.categoryDir(fileCategory(req.Category))
	if !ok {
		return nil, errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "unknown category %q", req.Category)
	}
	raw, err := os.ReadFile(filepath.Join(dir, req.Filename))
	if err != nil {
		return nil, errs.New(errs.FileCommand, errs.FileCommandReadFailed, "%s", err.Error())
	}
	return map[string]interface{}{"data": base64.StdEncoding.EncodeToString(raw)}, nil
}

// readSynthetic serves the read-only categories that are backed by the
// store rather than the filesystem. ok is false for non-synthetic
// categories, letting the caller fall through to a real file read.
func (c *Controller) readSynthetic(cat fileCategory, name string) (interface{}, bool, error) {
	switch cat {
	case categoryPatchers:
		patchers, err := c.db.PatcherList()
		return wrapJSON(patchers, err)
	case categorySets:
		sets, err := c.db.SetList()
		return wrapJSON(sets, err)
	case categoryVersions:
		versions, err := c.db.RNBOVersions()
		return wrapJSON(versions, err)
	case categoryPatcher:
		p, ok, err := c.db.PatcherGetLatest(name, c.rnboVersion)
		if err != nil {
			return nil, true, errs.Generic(err)
		}
		if !ok {
			return nil, true, errs.New(errs.FileCommand, errs.FileCommandReadFailed, "no such patcher %q", name)
		}
		return wrapJSON(p, nil)
	case categoryPresets:
		p, ok, err := c.db.PatcherGetLatest(name, c.rnboVersion)
		if err != nil {
			return nil, true, errs.Generic(err)
		}
		if !ok {
			return nil, true, errs.New(errs.FileCommand, errs.FileCommandReadFailed, "no such patcher %q", name)
		}
		presets, err := c.db.PresetNames(p.ID)
		return wrapJSON(presets, err)
	case categoryPatcherConfig:
		p, ok, err := c.db.PatcherGetLatest(name, c.rnboVersion)
		if err != nil {
			return nil, true, errs.Generic(err)
		}
		if !ok {
			return nil, true, errs.New(errs.FileCommand, errs.FileCommandReadFailed, "no such patcher %q", name)
		}
		raw, err := os.ReadFile(filepath.Join(c.dirs.SaveDir, p.ConfigFilename))
		if err != nil {
			return nil, true, errs.New(errs.FileCommand, errs.FileCommandReadFailed, "%s", err.Error())
		}
		return map[string]interface{}{"data": base64.StdEncoding.EncodeToString(raw)}, true, nil
	default:
		return nil, false, nil
	}
}

func wrapJSON(v interface{}, err error) (interface{}, bool, error) {
	if err != nil {
		return nil, true, errs.Generic(err)
	}
	return v, true, nil
}

type fileRead64Params struct {
	Category string `json:"category"`
	Filename string `json:"filename"`
	Offset   int64  `json:"offset"`
	Length   int64  `json:"length"`
}

// read64ChunkSize bounds a single file_read64 response; chosen generously
// below typical OSCQuery/WebSocket frame limits.
const read64ChunkSize = 64 * 1024

// FileRead64 streams a file in base64 chunks; the final chunk carries the
// MD5 of the file's full raw bytes, per spec.md §8 S6.
func (c *Controller) FileRead64(params json.RawMessage) (interface{}, error) {
	var req fileRead64Params
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "%s", err.Error())
	}
	dir, ok := c.categoryDir(fileCategory(req.Category))
	if !ok {
		return nil, errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "unknown category %q", req.Category)
	}
	path := filepath.Join(dir, req.Filename)

	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.FileCommand, errs.FileCommandReadFailed, "%s", err.Error())
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errs.New(errs.FileCommand, errs.FileCommandReadFailed, "%s", err.Error())
	}

	length := req.Length
	if length <= 0 || length > read64ChunkSize {
		length = read64ChunkSize
	}
	buf := make([]byte, length)
	n, err := f.ReadAt(buf, req.Offset)
	if err != nil && n == 0 {
		return nil, errs.New(errs.FileCommand, errs.FileCommandReadFailed, "%s", err.Error())
	}
	chunk := buf[:n]
	eof := req.Offset+int64(n) >= info.Size()

	result := map[string]interface{}{
		"data":   base64.StdEncoding.EncodeToString(chunk),
		"offset": req.Offset,
		"eof":    eof,
	}
	if eof {
		sum, err := md5File(path)
		if err != nil {
			return nil, errs.New(errs.FileCommand, errs.FileCommandReadFailed, "%s", err.Error())
		}
		result["md5"] = sum
	}
	return result, nil
}

func md5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	buf := make([]byte, 256*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// FileDelete removes a file from one of the writable categories.
func (c *Controller) FileDelete(params json.RawMessage) error {
	var req fileReadParams
	if err := json.Unmarshal(params, &req); err != nil {
		return errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "%s", err.Error())
	}
	dir, ok := c.categoryDir(fileCategory(req.Category))
	if !ok {
		return errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "unknown or read-only category %q", req.Category)
	}
	if err := os.Remove(filepath.Join(dir, req.Filename)); err != nil {
		return errs.New(errs.FileCommand, errs.FileCommandDeleteFailed, "%s", err.Error())
	}
	return nil
}

// FileExists reports whether a file is present in a writable category.
func (c *Controller) FileExists(params json.RawMessage) (bool, error) {
	var req fileReadParams
	if err := json.Unmarshal(params, &req); err != nil {
		return false, errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "%s", err.Error())
	}
	dir, ok := c.categoryDir(fileCategory(req.Category))
	if !ok {
		return false, errs.New(errs.FileCommand, errs.FileCommandInvalidRequestObject, "unknown category %q", req.Category)
	}
	_, err := os.Stat(filepath.Join(dir, req.Filename))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errs.Generic(err)
}
