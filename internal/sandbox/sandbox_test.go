package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(t.TempDir())
	require.NoError(t, err)
	return v
}

func TestValidateRejectsEmptyScript(t *testing.T) {
	v := newTestValidator(t)
	err := v.Validate(context.Background(), "   \n")
	assert.ErrorIs(t, err, karakuriErrors.ErrValidation)
}

func TestValidateRejectsBannedPatterns(t *testing.T) {
	v := newTestValidator(t)
	err := v.Validate(context.Background(), `import os; os.system("rm -rf /")`)
	require.ErrorIs(t, err, karakuriErrors.ErrValidation)
	assert.Contains(t, err.Error(), "banned pattern")
}

func TestValidateRequiresObservableOutput(t *testing.T) {
	v := newTestValidator(t)
	err := v.Validate(context.Background(), "x = 1 + 1\n")
	require.ErrorIs(t, err, karakuriErrors.ErrValidation)
	assert.Contains(t, err.Error(), "no output")
}

func TestValidateAcceptsPrintingScript(t *testing.T) {
	v := newTestValidator(t)
	if v.pythonPath == "" {
		t.Skip("no python interpreter available")
	}
	assert.NoError(t, v.Validate(context.Background(), "print('hello')\n"))
}

func TestValidateRejectsSyntaxError(t *testing.T) {
	v := newTestValidator(t)
	if v.pythonPath == "" {
		t.Skip("no python interpreter available")
	}
	err := v.Validate(context.Background(), "print('unterminated\n")
	require.ErrorIs(t, err, karakuriErrors.ErrValidation)
	assert.Contains(t, err.Error(), "compile")
}

func TestDryRunBlockedCallStillPasses(t *testing.T) {
	v := newTestValidator(t)
	if v.pythonPath == "" {
		t.Skip("no python interpreter available")
	}
	script := "import os\nos.remove('/tmp/does-not-matter')\nprint('done')\n"
	assert.NoError(t, v.Validate(context.Background(), script))
}

func TestDryRunRuntimeErrorFails(t *testing.T) {
	v := newTestValidator(t)
	if v.pythonPath == "" {
		t.Skip("no python interpreter available")
	}
	err := v.Validate(context.Background(), "print(undefined_name)\n")
	require.ErrorIs(t, err, karakuriErrors.ErrValidation)
	assert.Contains(t, err.Error(), "dry run")
}

func TestRunnerExecutesScript(t *testing.T) {
	r := NewRunner(t.TempDir())
	if !r.Available() {
		t.Skip("no python interpreter available")
	}
	out, err := r.Run(context.Background(), "print('result: 42')\n")
	require.NoError(t, err)
	assert.Equal(t, "result: 42", out)
}

func TestRunnerWithoutPython(t *testing.T) {
	r := NewRunner(t.TempDir())
	r.pythonPath = ""
	_, err := r.Run(context.Background(), "print('x')")
	assert.ErrorIs(t, err, karakuriErrors.ErrResourceMissing)
}
