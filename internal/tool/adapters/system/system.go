// Package system implements the desktop step family by shelling out to
// per-OS commands, plus pure-Go image, text, and system-info operations.
package system

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/karakuri/internal/pathutil"
	"github.com/harunnryd/karakuri/internal/task"
	"github.com/harunnryd/karakuri/internal/tool"

	"github.com/disintegration/imaging"
	"github.com/google/shlex"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

const commandTimeout = 30 * time.Second

// pythonInstallerURLs points at the stable python.org download page per
// OS; the adapter downloads whatever the redirect resolves to.
var pythonInstallerURLs = map[string]string{
	"darwin":  "https://www.python.org/ftp/python/3.12.7/python-3.12.7-macos11.pkg",
	"windows": "https://www.python.org/ftp/python/3.12.7/python-3.12.7-amd64.exe",
	"linux":   "https://www.python.org/ftp/python/3.12.7/Python-3.12.7.tgz",
}

// Adapter executes the system step family.
type Adapter struct {
	registry   *tool.Registry
	httpClient *http.Client
}

func New(registry *tool.Registry) *Adapter {
	return &Adapter{
		registry:   registry,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (a *Adapter) Name() string { return "system" }

// Types covers the system family except execute_python_script, which the
// script adapter owns.
func (a *Adapter) Types() []string {
	out := make([]string, 0, len(task.SystemTypes))
	for _, t := range task.SystemTypes {
		if t == "execute_python_script" {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (a *Adapter) Execute(ctx context.Context, step *task.Step, taskCtx *task.Context) *task.StepResult {
	switch step.Type {
	case "screenshot_desktop":
		return a.screenshot(ctx, step)
	case "open_file", "open_folder":
		return a.open(ctx, step)
	case "open_app":
		return a.openApp(ctx, step)
	case "close_app":
		return a.closeApp(ctx, step)
	case "set_volume":
		return a.setLevel(ctx, step, "volume", volumeCommand)
	case "set_brightness":
		return a.setLevel(ctx, step, "brightness", brightnessCommand)
	case "send_notification":
		return a.notify(ctx, step)
	case "speak":
		return a.speak(ctx, step)
	case "clipboard_read":
		return a.clipboardRead(ctx)
	case "clipboard_write":
		return a.clipboardWrite(ctx, step)
	case "keyboard_type":
		return a.keyboardType(ctx, step)
	case "keyboard_shortcut":
		return a.keyboardShortcut(ctx, step)
	case "mouse_click":
		return a.mouse(ctx, step, mouseClickCommand)
	case "mouse_move":
		return a.mouse(ctx, step, mouseMoveCommand)
	case "window_minimize", "window_maximize", "window_close":
		return a.window(ctx, step)
	case "get_system_info":
		return a.systemInfo(ctx)
	case "image_process":
		return a.imageProcess(step)
	case "download_latest_python_installer":
		return a.downloadPythonInstaller(ctx)
	case "text_process":
		return a.textProcess(step)
	default:
		return task.Fail("system adapter cannot handle type: " + step.Type)
	}
}

// run executes one os command. A missing binary is a resource problem the
// user has to fix, so it short-circuits retries.
func (a *Adapter) run(ctx context.Context, cmd osCommand, stdin string) (string, *task.StepResult) {
	if _, err := exec.LookPath(cmd.name); err != nil {
		return "", task.FailData("required command not installed: "+cmd.name, map[string]any{
			"requires_user_action": true,
		})
	}

	runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	c := exec.CommandContext(runCtx, cmd.name, cmd.args...)
	if stdin != "" {
		c.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", task.Fail(cmd.name + " failed: " + msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func unsupported(stepType string) *task.StepResult {
	return task.FailData(stepType+" is not supported on "+runtime.GOOS, map[string]any{
		"requires_user_action": true,
	})
}

func (a *Adapter) screenshot(ctx context.Context, step *task.Step) *task.StepResult {
	savePath := step.Param("save_path")
	if savePath == "" {
		savePath = pathutil.Desktop()
	} else if expanded, err := pathutil.Expand(savePath); err == nil {
		savePath = expanded
	}
	// A directory (or anything without an extension) gets a timestamped
	// file name inside it.
	if filepath.Ext(savePath) == "" {
		os.MkdirAll(savePath, 0o755)
		savePath = filepath.Join(savePath, fmt.Sprintf("screenshot_%s.png", time.Now().Format("20060102_150405")))
	}

	cmd, err := screenshotCommand(savePath)
	if err != nil {
		return unsupported(step.Type)
	}
	if _, fail := a.run(ctx, cmd, ""); fail != nil {
		return fail
	}
	a.progress("Screenshot saved to " + savePath)
	return &task.StepResult{
		Success: true,
		Message: "Screenshot saved to " + savePath,
		Data:    map[string]any{"save_path": savePath},
		Images:  []string{savePath},
	}
}

func (a *Adapter) open(ctx context.Context, step *task.Step) *task.StepResult {
	target := step.Param("path")
	if target == "" {
		target = step.Param("file_path")
	}
	if target == "" {
		return task.Fail(step.Type + " needs path")
	}
	if expanded, err := pathutil.Expand(target); err == nil {
		target = expanded
	}
	if _, err := os.Stat(target); err != nil {
		return task.Fail("no such path: " + target)
	}

	cmd, err := openCommand(target)
	if err != nil {
		return unsupported(step.Type)
	}
	if _, fail := a.run(ctx, cmd, ""); fail != nil {
		return fail
	}
	return task.Ok("Opened "+target, map[string]any{"path": target})
}

func (a *Adapter) openApp(ctx context.Context, step *task.Step) *task.StepResult {
	appSpec := step.Param("app")
	if appSpec == "" {
		appSpec = step.Param("app_name")
	}
	if appSpec == "" {
		return task.Fail("open_app needs app")
	}

	parts, err := shlex.Split(appSpec)
	if err != nil || len(parts) == 0 {
		return task.Fail("cannot parse app spec: " + appSpec)
	}

	cmd, cmdErr := openAppCommand(parts[0], parts[1:])
	if cmdErr != nil {
		return unsupported(step.Type)
	}
	if _, fail := a.run(ctx, cmd, ""); fail != nil {
		return fail
	}
	return task.Ok("Opened "+parts[0], map[string]any{"app": parts[0]})
}

func (a *Adapter) closeApp(ctx context.Context, step *task.Step) *task.StepResult {
	app := step.Param("app")
	if app == "" {
		app = step.Param("app_name")
	}
	if app == "" {
		return task.Fail("close_app needs app")
	}

	cmd, err := closeAppCommand(app)
	if err != nil {
		return unsupported(step.Type)
	}
	if _, fail := a.run(ctx, cmd, ""); fail != nil {
		return fail
	}
	return task.Ok("Closed "+app, map[string]any{"app": app})
}

func (a *Adapter) setLevel(ctx context.Context, step *task.Step, what string, build func(int) (osCommand, error)) *task.StepResult {
	level, ok := intParam(step, "level")
	if !ok {
		return task.Fail(step.Type + " needs level (0-100)")
	}
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}

	cmd, err := build(level)
	if err != nil {
		return unsupported(step.Type)
	}
	if _, fail := a.run(ctx, cmd, ""); fail != nil {
		return fail
	}
	return task.Ok(fmt.Sprintf("Set %s to %d%%", what, level), map[string]any{"level": level})
}

func (a *Adapter) notify(ctx context.Context, step *task.Step) *task.StepResult {
	title := step.Param("title")
	if title == "" {
		title = "karakuri"
	}
	message := step.Param("message")
	if message == "" {
		return task.Fail("send_notification needs message")
	}

	cmd, err := notifyCommand(title, message)
	if err != nil {
		return unsupported(step.Type)
	}
	if _, fail := a.run(ctx, cmd, ""); fail != nil {
		return fail
	}
	return task.Ok("Notification sent", nil)
}

// Notify delivers a notification outside of step execution; the reminder
// engine uses it.
func (a *Adapter) Notify(message string) {
	cmd, err := notifyCommand("karakuri reminder", message)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	a.run(ctx, cmd, "")
}

func (a *Adapter) speak(ctx context.Context, step *task.Step) *task.StepResult {
	text := step.Param("text")
	if text == "" {
		text = step.Param("message")
	}
	if text == "" {
		return task.Fail("speak needs text")
	}

	cmd, err := speakCommand(text)
	if err != nil {
		return unsupported(step.Type)
	}
	if _, fail := a.run(ctx, cmd, ""); fail != nil {
		return fail
	}
	return task.Ok("Spoke the text", nil)
}

func (a *Adapter) clipboardRead(ctx context.Context) *task.StepResult {
	cmd, err := clipboardReadCommand()
	if err != nil {
		return unsupported("clipboard_read")
	}
	out, fail := a.run(ctx, cmd, "")
	if fail != nil {
		return fail
	}
	return task.Ok("Read clipboard", map[string]any{"content": out})
}

func (a *Adapter) clipboardWrite(ctx context.Context, step *task.Step) *task.StepResult {
	content := step.Param("content")
	if content == "" {
		return task.Fail("clipboard_write needs content")
	}
	cmd, err := clipboardWriteCommand()
	if err != nil {
		return unsupported("clipboard_write")
	}
	if _, fail := a.run(ctx, cmd, content); fail != nil {
		return fail
	}
	return task.Ok("Copied to clipboard", nil)
}

func (a *Adapter) keyboardType(ctx context.Context, step *task.Step) *task.StepResult {
	text := step.Param("text")
	if text == "" {
		return task.Fail("keyboard_type needs text")
	}
	cmd, err := keyboardTypeCommand(text)
	if err != nil {
		return unsupported("keyboard_type")
	}
	if _, fail := a.run(ctx, cmd, ""); fail != nil {
		return fail
	}
	return task.Ok("Typed the text", nil)
}

func (a *Adapter) keyboardShortcut(ctx context.Context, step *task.Step) *task.StepResult {
	keys := keysParam(step)
	if len(keys) == 0 {
		return task.Fail("keyboard_shortcut needs keys")
	}
	cmd, err := keyboardShortcutCommand(keys)
	if err != nil {
		return unsupported("keyboard_shortcut")
	}
	if _, fail := a.run(ctx, cmd, ""); fail != nil {
		return fail
	}
	return task.Ok("Pressed "+strings.Join(keys, "+"), nil)
}

func (a *Adapter) mouse(ctx context.Context, step *task.Step, build func(int, int) (osCommand, error)) *task.StepResult {
	x, okX := intParam(step, "x")
	y, okY := intParam(step, "y")
	if !okX || !okY {
		return task.Fail(step.Type + " needs x and y")
	}
	cmd, err := build(x, y)
	if err != nil {
		return unsupported(step.Type)
	}
	if _, fail := a.run(ctx, cmd, ""); fail != nil {
		return fail
	}
	return task.Ok(fmt.Sprintf("Moved mouse to (%d, %d)", x, y), nil)
}

func (a *Adapter) window(ctx context.Context, step *task.Step) *task.StepResult {
	cmd, err := windowCommand(step.Type)
	if err != nil {
		return unsupported(step.Type)
	}
	if _, fail := a.run(ctx, cmd, ""); fail != nil {
		return fail
	}
	return task.Ok("Window command done", nil)
}

func (a *Adapter) systemInfo(ctx context.Context) *task.StepResult {
	data := map[string]any{"os": runtime.GOOS, "arch": runtime.GOARCH}

	if info, err := host.InfoWithContext(ctx); err == nil {
		data["hostname"] = info.Hostname
		data["platform"] = info.Platform
		data["platform_version"] = info.PlatformVersion
		data["uptime_s"] = info.Uptime
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		data["memory_total_mb"] = vm.Total / 1024 / 1024
		data["memory_used_percent"] = fmt.Sprintf("%.1f", vm.UsedPercent)
	}
	if counts, err := cpu.CountsWithContext(ctx, true); err == nil {
		data["cpu_count"] = counts
	}
	if usage, err := disk.UsageWithContext(ctx, "/"); err == nil {
		data["disk_total_gb"] = usage.Total / 1024 / 1024 / 1024
		data["disk_used_percent"] = fmt.Sprintf("%.1f", usage.UsedPercent)
	}

	return task.Ok("Collected system information", data)
}

func (a *Adapter) imageProcess(step *task.Step) *task.StepResult {
	src := step.Param("file_path")
	if src == "" {
		return task.Fail("image_process needs file_path")
	}
	if expanded, err := pathutil.Expand(src); err == nil {
		src = expanded
	}

	img, err := imaging.Open(src)
	if err != nil {
		return task.Fail("cannot open image: " + err.Error())
	}

	operation := step.Param("operation")
	switch operation {
	case "resize":
		width, _ := intParam(step, "width")
		height, _ := intParam(step, "height")
		if width == 0 && height == 0 {
			return task.Fail("resize needs width or height")
		}
		img = imaging.Resize(img, width, height, imaging.Lanczos)
	case "rotate":
		angle, _ := intParam(step, "angle")
		switch angle {
		case 90:
			img = imaging.Rotate90(img)
		case 180:
			img = imaging.Rotate180(img)
		case 270:
			img = imaging.Rotate270(img)
		default:
			return task.Fail("rotate angle must be 90, 180 or 270")
		}
	case "grayscale":
		img = imaging.Grayscale(img)
	case "flip_horizontal":
		img = imaging.FlipH(img)
	case "flip_vertical":
		img = imaging.FlipV(img)
	default:
		return task.Fail("unknown image operation: " + operation)
	}

	target := step.Param("target_path")
	if target == "" {
		ext := filepath.Ext(src)
		target = strings.TrimSuffix(src, ext) + "_" + operation + ext
	} else if expanded, err := pathutil.Expand(target); err == nil {
		target = expanded
	}

	if err := imaging.Save(img, target); err != nil {
		return task.Fail("cannot save image: " + err.Error())
	}
	return &task.StepResult{
		Success: true,
		Message: fmt.Sprintf("Applied %s, saved to %s", operation, target),
		Data:    map[string]any{"file_path": target},
		Images:  []string{target},
	}
}

func (a *Adapter) downloadPythonInstaller(ctx context.Context) *task.StepResult {
	url, ok := pythonInstallerURLs[runtime.GOOS]
	if !ok {
		return unsupported("download_latest_python_installer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return task.Fail("cannot build download request: " + err.Error())
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return task.Fail("download failed: " + err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return task.Fail("download failed: " + resp.Status)
	}

	downloads, err := pathutil.Expand("~/Downloads")
	if err != nil {
		return task.Fail("cannot resolve downloads directory: " + err.Error())
	}
	if err := os.MkdirAll(downloads, 0o755); err != nil {
		return task.Fail("cannot create downloads directory: " + err.Error())
	}

	target := filepath.Join(downloads, filepath.Base(url))
	f, err := os.Create(target)
	if err != nil {
		return task.Fail("cannot create installer file: " + err.Error())
	}
	defer f.Close()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		os.Remove(target)
		return task.Fail("download interrupted: " + err.Error())
	}

	a.progress(fmt.Sprintf("Downloaded python installer (%d MB)", n/1024/1024))
	return task.Ok("Downloaded python installer to "+target, map[string]any{"file_path": target})
}

func (a *Adapter) textProcess(step *task.Step) *task.StepResult {
	text := step.Param("text")
	if text == "" {
		return task.Fail("text_process needs text")
	}

	operation := step.Param("operation")
	var out string
	switch operation {
	case "uppercase":
		out = strings.ToUpper(text)
	case "lowercase":
		out = strings.ToLower(text)
	case "trim":
		out = strings.TrimSpace(text)
	case "reverse":
		runes := []rune(text)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		out = string(runes)
	case "replace":
		out = strings.ReplaceAll(text, step.Param("old"), step.Param("new"))
	case "count":
		return task.Ok("Counted text", map[string]any{
			"characters": len([]rune(text)),
			"words":      len(strings.Fields(text)),
			"lines":      len(strings.Split(text, "\n")),
		})
	default:
		return task.Fail("unknown text operation: " + operation)
	}

	return task.Ok("Processed text", map[string]any{"result": out})
}

func (a *Adapter) progress(message string) {
	if a.registry != nil {
		a.registry.Progress(message, nil)
	}
}

// intParam reads a numeric parameter that may arrive as JSON float,
// integer, or numeric string.
func intParam(step *task.Step, key string) (int, bool) {
	if step.Params == nil {
		return 0, false
	}
	switch v := step.Params[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// keysParam accepts both ["ctrl","c"] lists and "ctrl+c" strings.
func keysParam(step *task.Step) []string {
	if step.Params == nil {
		return nil
	}
	switch v := step.Params["keys"].(type) {
	case []any:
		var out []string
		for _, k := range v {
			if s, ok := k.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return strings.Split(v, "+")
	}
	return nil
}
