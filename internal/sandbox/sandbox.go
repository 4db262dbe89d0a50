// Package sandbox validates and runs user-facing python scripts. Every
// script passes a static check, an output-contract check, and a dry run
// with dangerous calls neutralized before the real execution happens.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
	"github.com/harunnryd/karakuri/internal/logger"

	"github.com/oklog/ulid/v2"
)

const (
	DefaultDryRunTimeout = 2 * time.Second
	DefaultRunTimeout    = 60 * time.Second
)

// blockedMarker is what the dry-run prelude prints when a script reaches
// a neutralized call. A blocked dry run is not a validation failure; it
// only proves the stub worked.
const blockedMarker = "blocked in dry-run"

// dryRunPrelude neutralizes destructive filesystem calls, subprocess
// spawning, and network modules for the dry-run pass.
const dryRunPrelude = `import builtins as _b, os as _os, shutil as _sh, sys as _sys
def _blocked(*_a, **_k):
    raise PermissionError("` + blockedMarker + `")
_os.remove = _blocked
_os.unlink = _blocked
_os.rmdir = _blocked
_os.rename = _blocked
_sh.rmtree = _blocked
_sh.move = _blocked
class _Denied:
    def __getattr__(self, _n):
        raise PermissionError("` + blockedMarker + `")
for _m in ("subprocess", "requests", "urllib", "urllib.request", "socket"):
    _sys.modules[_m] = _Denied()
_open = _b.open
def _guarded_open(file, mode="r", *a, **k):
    if any(c in str(mode) for c in "wax+"):
        raise PermissionError("` + blockedMarker + `")
    return _open(file, mode, *a, **k)
_b.open = _guarded_open
`

var bannedPatterns = []string{
	"rm -rf /",
	"format c:",
	"mkfs",
	"os.fork",
	":(){ :|:& };:",
	"shutil.rmtree('/'",
	"shutil.rmtree(\"/\"",
	"eval(input",
	"exec(input",
}

// Validator runs the three-stage script check. With no python on PATH the
// compile and dry-run stages are skipped and only the pattern scan runs.
type Validator struct {
	scriptsDir    string
	pythonPath    string
	dryRunTimeout time.Duration
}

func NewValidator(scriptsDir string) (*Validator, error) {
	if err := os.MkdirAll(scriptsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scripts directory: %w", err)
	}
	python := findPython()
	if python == "" {
		slog.Warn("No python interpreter found; script validation degrades to pattern scan")
	}
	return &Validator{
		scriptsDir:    scriptsDir,
		pythonPath:    python,
		dryRunTimeout: DefaultDryRunTimeout,
	}, nil
}

func findPython() string {
	for _, name := range []string{"python3", "python"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

// SetDryRunTimeout overrides the dry-run deadline.
func (v *Validator) SetDryRunTimeout(d time.Duration) {
	v.dryRunTimeout = d
}

// Validate runs the full pipeline. A nil return means the script may be
// executed for real.
func (v *Validator) Validate(ctx context.Context, script string) error {
	if strings.TrimSpace(script) == "" {
		return karakuriErrors.Validation("script is empty")
	}
	if err := v.scanPatterns(script); err != nil {
		return err
	}
	if err := v.checkOutputContract(script); err != nil {
		return err
	}
	if v.pythonPath == "" {
		return nil
	}
	if err := v.compileCheck(ctx, script); err != nil {
		return err
	}
	return v.dryRun(ctx, script)
}

func (v *Validator) scanPatterns(script string) error {
	lower := strings.ToLower(script)
	for _, pattern := range bannedPatterns {
		if strings.Contains(lower, pattern) {
			return karakuriErrors.Validation("script contains banned pattern: " + pattern)
		}
	}
	return nil
}

// checkOutputContract requires the script to produce something observable:
// a `result` variable or at least one print.
func (v *Validator) checkOutputContract(script string) error {
	if strings.Contains(script, "result") || strings.Contains(script, "print(") {
		return nil
	}
	return karakuriErrors.Validation("script produces no output: assign `result` or print something")
}

func (v *Validator) compileCheck(ctx context.Context, script string) error {
	path, err := v.writeScript(script, "")
	if err != nil {
		return err
	}
	defer os.Remove(path)

	cmd := exec.CommandContext(ctx, v.pythonPath, "-c",
		"import py_compile, sys; py_compile.compile(sys.argv[1], doraise=True)", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return karakuriErrors.Validation("script does not compile: " + firstLine(stderr.String()))
	}
	return nil
}

// dryRun executes the script with the prelude under a short deadline. A
// hit on a neutralized call or a timeout both pass: the first proves the
// guard worked, the second proves nothing either way.
func (v *Validator) dryRun(ctx context.Context, script string) error {
	path, err := v.writeScript(script, dryRunPrelude)
	if err != nil {
		return err
	}
	defer os.Remove(path)

	runCtx, cancel := context.WithTimeout(ctx, v.dryRunTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, v.pythonPath, path)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	runErr := cmd.Run()
	if runErr == nil {
		return nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		slog.Warn("Script dry run timed out; allowing real execution", "task", logger.GetTaskID(ctx))
		return nil
	}
	if strings.Contains(output.String(), blockedMarker) {
		slog.Info("Script dry run hit a neutralized call; real execution proceeds", "task", logger.GetTaskID(ctx))
		return nil
	}
	return karakuriErrors.Validation("script failed dry run: " + firstLine(output.String()))
}

func (v *Validator) writeScript(script, prelude string) (string, error) {
	path := filepath.Join(v.scriptsDir, ulid.Make().String()+".py")
	if err := os.WriteFile(path, []byte(prelude+script), 0o644); err != nil {
		return "", fmt.Errorf("write script: %w", err)
	}
	return path, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Python tracebacks put the useful message on the last line.
		lines := strings.Split(s, "\n")
		return strings.TrimSpace(lines[len(lines)-1])
	}
	return s
}

// Runner executes a validated script and captures its stdout.
type Runner struct {
	scriptsDir string
	pythonPath string
	timeout    time.Duration
}

func NewRunner(scriptsDir string) *Runner {
	return &Runner{
		scriptsDir: scriptsDir,
		pythonPath: findPython(),
		timeout:    DefaultRunTimeout,
	}
}

// Available reports whether a python interpreter was found.
func (r *Runner) Available() bool {
	return r.pythonPath != ""
}

// Run executes the script and returns its combined trimmed output.
func (r *Runner) Run(ctx context.Context, script string) (string, error) {
	if r.pythonPath == "" {
		return "", karakuriErrors.ResourceMissing("no python interpreter on PATH")
	}

	path := filepath.Join(r.scriptsDir, ulid.Make().String()+".py")
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		return "", fmt.Errorf("write script: %w", err)
	}
	defer os.Remove(path)

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.pythonPath, path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := firstLine(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return strings.TrimSpace(stdout.String()), fmt.Errorf("script execution failed: %s", msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}
