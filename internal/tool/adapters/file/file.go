// Package file implements the file-management step family on the local
// filesystem. Destructive operations stay inside expanded user paths and
// every mutation leaves a record in structured memory.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harunnryd/karakuri/internal/pathutil"
	"github.com/harunnryd/karakuri/internal/task"
	"github.com/harunnryd/karakuri/internal/tool"

	"github.com/bmatcuk/doublestar/v4"
)

// maxReadBytes bounds file_read so a stray binary never floods the
// context buffer.
const maxReadBytes = 64 * 1024

// Recorder receives one record per file mutation; structured memory
// implements it.
type Recorder interface {
	AddFileRecord(path, operation, fileType string) error
}

type nopRecorder struct{}

func (nopRecorder) AddFileRecord(string, string, string) error { return nil }

// categoryTable maps extensions to the folder names used by organize and
// classify.
var categoryTable = map[string]string{
	".jpg": "Images", ".jpeg": "Images", ".png": "Images", ".gif": "Images",
	".bmp": "Images", ".webp": "Images", ".heic": "Images", ".svg": "Images",
	".pdf": "Documents", ".doc": "Documents", ".docx": "Documents",
	".xls": "Documents", ".xlsx": "Documents", ".ppt": "Documents",
	".pptx": "Documents", ".txt": "Documents", ".md": "Documents",
	".csv": "Documents",
	".mp4": "Videos", ".mov": "Videos", ".avi": "Videos", ".mkv": "Videos",
	".mp3": "Audio", ".wav": "Audio", ".flac": "Audio", ".m4a": "Audio",
	".zip": "Archives", ".tar": "Archives", ".gz": "Archives", ".rar": "Archives",
	".7z": "Archives",
	".go": "Code", ".py": "Code", ".js": "Code", ".ts": "Code", ".rs": "Code",
	".java": "Code", ".c": "Code", ".cpp": "Code", ".sh": "Code",
}

func categoryFor(path string) string {
	if cat, ok := categoryTable[strings.ToLower(filepath.Ext(path))]; ok {
		return cat
	}
	return "Others"
}

// Adapter executes the file step family.
type Adapter struct {
	recorder Recorder
	registry *tool.Registry
}

func New(recorder Recorder, registry *tool.Registry) *Adapter {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Adapter{recorder: recorder, registry: registry}
}

func (a *Adapter) Name() string    { return "file" }
func (a *Adapter) Types() []string { return task.FileTypes }

func (a *Adapter) Execute(ctx context.Context, step *task.Step, taskCtx *task.Context) *task.StepResult {
	switch step.Type {
	case "file_read":
		return a.read(step, taskCtx)
	case "file_write":
		return a.write(step, false)
	case "file_create":
		return a.write(step, true)
	case "file_delete":
		return a.remove(step)
	case "file_rename":
		return a.rename(step)
	case "file_move":
		return a.transfer(step, true)
	case "file_copy":
		return a.transfer(step, false)
	case "file_organize", "file_batch_organize":
		return a.organize(step)
	case "file_classify":
		return a.classify(step)
	case "file_batch_rename":
		return a.batchRename(step)
	case "file_batch_copy":
		return a.batchCopy(step)
	case "list_files":
		return a.list(step, taskCtx)
	default:
		return task.Fail("file adapter cannot handle type: " + step.Type)
	}
}

func (a *Adapter) record(path, operation string) {
	_ = a.recorder.AddFileRecord(path, operation, strings.TrimPrefix(filepath.Ext(path), "."))
}

func (a *Adapter) progress(message string) {
	if a.registry != nil {
		a.registry.Progress(message, nil)
	}
}

func (a *Adapter) read(step *task.Step, taskCtx *task.Context) *task.StepResult {
	path := expand(step.Param("file_path"))
	if path == "" {
		return task.Fail("file_read needs file_path")
	}

	info, err := os.Stat(path)
	if err != nil {
		return task.Fail("cannot read " + path + ": " + err.Error())
	}
	if info.IsDir() {
		return task.Fail(path + " is a directory; use list_files")
	}

	f, err := os.Open(path)
	if err != nil {
		return task.Fail("cannot read " + path + ": " + err.Error())
	}
	defer f.Close()

	buf := make([]byte, maxReadBytes)
	n, _ := f.Read(buf)
	content := string(buf[:n])
	truncated := info.Size() > maxReadBytes

	if taskCtx != nil {
		preview := content
		if len(preview) > 500 {
			preview = preview[:500]
		}
		taskCtx.FileContextBuffer()[filepath.Base(path)] = preview
	}
	a.record(path, "read")

	return task.Ok(fmt.Sprintf("Read %s (%d bytes)", path, n), map[string]any{
		"file_path": path,
		"content":   content,
		"truncated": truncated,
	})
}

func (a *Adapter) write(step *task.Step, create bool) *task.StepResult {
	path := expand(step.Param("file_path"))
	if path == "" {
		return task.Fail(step.Type + " needs file_path")
	}
	content := step.Param("content")

	if create {
		if _, err := os.Stat(path); err == nil {
			return task.Fail(path + " already exists")
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return task.Fail("cannot create parent directory: " + err.Error())
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return task.Fail("cannot write " + path + ": " + err.Error())
	}

	op := "write"
	if create {
		op = "create"
	}
	a.record(path, op)
	return task.Ok(fmt.Sprintf("Wrote %d bytes to %s", len(content), path), map[string]any{"file_path": path})
}

func (a *Adapter) remove(step *task.Step) *task.StepResult {
	paths, err := a.matchTargets(step)
	if err != nil {
		return task.Fail(err.Error())
	}
	if len(paths) == 0 {
		return task.Fail("file_delete matched nothing")
	}

	var deleted []string
	for _, p := range paths {
		if err := os.Remove(p); err != nil {
			return task.FailData("cannot delete "+p+": "+err.Error(), map[string]any{"deleted": deleted})
		}
		a.record(p, "delete")
		deleted = append(deleted, p)
	}
	return task.Ok(fmt.Sprintf("Deleted %d file(s)", len(deleted)), map[string]any{"deleted": deleted})
}

func (a *Adapter) rename(step *task.Step) *task.StepResult {
	path := expand(step.Param("file_path"))
	newName := step.Param("new_name")
	if path == "" || newName == "" {
		return task.Fail("file_rename needs file_path and new_name")
	}

	target := filepath.Join(filepath.Dir(path), newName)
	if err := os.Rename(path, target); err != nil {
		return task.Fail("cannot rename: " + err.Error())
	}
	a.record(target, "rename")
	return task.Ok(fmt.Sprintf("Renamed %s to %s", filepath.Base(path), newName), map[string]any{"file_path": target})
}

func (a *Adapter) transfer(step *task.Step, move bool) *task.StepResult {
	paths, err := a.matchTargets(step)
	if err != nil {
		return task.Fail(err.Error())
	}
	if len(paths) == 0 {
		return task.Fail(step.Type + " matched nothing")
	}

	targetDir := expand(step.Param("target_dir"))
	targetPath := expand(step.Param("target_path"))
	if targetDir == "" && targetPath == "" {
		return task.Fail(step.Type + " needs target_dir or target_path")
	}
	if targetPath != "" && len(paths) > 1 {
		return task.Fail("target_path only works with a single source file")
	}
	if targetDir != "" {
		if err := os.MkdirAll(targetDir, 0o755); err != nil {
			return task.Fail("cannot create target directory: " + err.Error())
		}
	}

	op, verb := "copy", "Copied"
	if move {
		op, verb = "move", "Moved"
	}

	var done []string
	for _, src := range paths {
		dst := targetPath
		if dst == "" {
			dst = filepath.Join(targetDir, filepath.Base(src))
		}
		if move {
			err = os.Rename(src, dst)
			if err != nil {
				// Cross-device moves fall back to copy+delete.
				if err = copyFile(src, dst); err == nil {
					err = os.Remove(src)
				}
			}
		} else {
			err = copyFile(src, dst)
		}
		if err != nil {
			return task.FailData(fmt.Sprintf("cannot %s %s: %v", op, src, err), map[string]any{"completed": done})
		}
		a.record(dst, op)
		done = append(done, dst)
	}
	return task.Ok(fmt.Sprintf("%s %d file(s)", verb, len(done)), map[string]any{"files": done})
}

func (a *Adapter) organize(step *task.Step) *task.StepResult {
	dir := a.directoryParam(step)
	if dir == "" {
		return task.Fail(step.Type + " needs directory")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return task.Fail("cannot read directory: " + err.Error())
	}

	moved := map[string][]string{}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		category := categoryFor(entry.Name())
		categoryDir := filepath.Join(dir, category)
		if err := os.MkdirAll(categoryDir, 0o755); err != nil {
			return task.Fail("cannot create " + categoryDir + ": " + err.Error())
		}
		src := filepath.Join(dir, entry.Name())
		dst := filepath.Join(categoryDir, entry.Name())
		if err := os.Rename(src, dst); err != nil {
			return task.Fail("cannot move " + src + ": " + err.Error())
		}
		a.record(dst, "organize")
		moved[category] = append(moved[category], entry.Name())
		a.progress(fmt.Sprintf("Filed %s under %s", entry.Name(), category))
	}

	total := 0
	for _, names := range moved {
		total += len(names)
	}
	return task.Ok(fmt.Sprintf("Organized %d file(s) into %d categories", total, len(moved)), map[string]any{"categories": moved})
}

func (a *Adapter) classify(step *task.Step) *task.StepResult {
	dir := a.directoryParam(step)
	if dir == "" {
		return task.Fail("file_classify needs directory")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return task.Fail("cannot read directory: " + err.Error())
	}

	classes := map[string][]string{}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		category := categoryFor(entry.Name())
		classes[category] = append(classes[category], entry.Name())
	}
	return task.Ok(fmt.Sprintf("Classified files into %d categories", len(classes)), map[string]any{"categories": classes})
}

func (a *Adapter) batchRename(step *task.Step) *task.StepResult {
	paths, err := a.matchTargets(step)
	if err != nil {
		return task.Fail(err.Error())
	}
	if len(paths) == 0 {
		return task.Fail("file_batch_rename matched nothing")
	}
	prefix := step.Param("prefix")
	if prefix == "" {
		return task.Fail("file_batch_rename needs prefix")
	}

	sort.Strings(paths)
	var renamed []string
	for i, src := range paths {
		ext := filepath.Ext(src)
		dst := filepath.Join(filepath.Dir(src), fmt.Sprintf("%s_%03d%s", prefix, i+1, ext))
		if err := os.Rename(src, dst); err != nil {
			return task.FailData("cannot rename "+src+": "+err.Error(), map[string]any{"renamed": renamed})
		}
		a.record(dst, "rename")
		renamed = append(renamed, dst)
	}
	return task.Ok(fmt.Sprintf("Renamed %d file(s) with prefix %q", len(renamed), prefix), map[string]any{"renamed": renamed})
}

func (a *Adapter) batchCopy(step *task.Step) *task.StepResult {
	copied := a.transfer(step, false)
	return copied
}

func (a *Adapter) list(step *task.Step, taskCtx *task.Context) *task.StepResult {
	dir := a.directoryParam(step)
	if dir == "" {
		dir = pathutil.Desktop()
	}
	pattern := step.Param("pattern")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return task.Fail("cannot list " + dir + ": " + err.Error())
	}

	var names []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if pattern != "" {
			ok, matchErr := doublestar.Match(pattern, entry.Name())
			if matchErr != nil {
				return task.Fail("bad pattern: " + matchErr.Error())
			}
			if !ok {
				continue
			}
		}
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if taskCtx != nil {
		taskCtx.Set(task.KeyRecentFiles, names)
	}
	return task.Ok(fmt.Sprintf("Listed %d entries in %s", len(names), dir), map[string]any{
		"directory": dir,
		"files":     names,
	})
}

// matchTargets resolves either an explicit file_path or a doublestar
// pattern rooted at directory into concrete files.
func (a *Adapter) matchTargets(step *task.Step) ([]string, error) {
	if path := expand(step.Param("file_path")); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("no such file: %s", path)
		}
		return []string{path}, nil
	}

	pattern := step.Param("pattern")
	if pattern == "" {
		return nil, fmt.Errorf("%s needs file_path or pattern", step.Type)
	}
	dir := a.directoryParam(step)
	if dir == "" {
		dir = pathutil.Desktop()
	}

	matches, err := doublestar.Glob(os.DirFS(dir), pattern)
	if err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}

	var out []string
	for _, m := range matches {
		full := filepath.Join(dir, m)
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			out = append(out, full)
		}
	}
	return out, nil
}

func (a *Adapter) directoryParam(step *task.Step) string {
	for _, key := range []string{"directory", "dir", "path"} {
		if v := step.Param(key); v != "" {
			return expand(v)
		}
	}
	return ""
}

// expand resolves env vars and "~" shortcuts, keeping the raw value when
// resolution fails so error messages show what the planner produced.
func expand(path string) string {
	out, err := pathutil.Expand(path)
	if err != nil {
		return path
	}
	return out
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode().Perm())
}
