package runtime

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/karakuri/internal/protocol"
)

func TestEventRendererStyledOutput(t *testing.T) {
	var out bytes.Buffer
	r := NewEventRenderer(&out)
	w := protocol.NewWriter(r)

	w.Emit(protocol.Event{Type: protocol.EventThinking, ID: "t1", Message: "planning next steps"})
	w.Emit(protocol.Event{Type: protocol.EventStepCompleted, ID: "t1", Message: "Screenshot saved"})
	w.Emit(protocol.Event{Type: protocol.EventStepFailed, ID: "t1", Message: "file not found"})

	text := out.String()
	assert.Contains(t, text, "planning next steps")
	assert.Contains(t, text, "✓")
	assert.Contains(t, text, "Screenshot saved")
	assert.Contains(t, text, "✗")
	assert.Contains(t, text, "file not found")
}

func TestEventRendererHandlesPartialWrites(t *testing.T) {
	var out bytes.Buffer
	r := NewEventRenderer(&out)

	line := `{"type":"step_completed","timestamp":1,"id":"t1","message":"done"}` + "\n"
	half := len(line) / 2

	_, err := r.Write([]byte(line[:half]))
	require.NoError(t, err)
	assert.Empty(t, out.String())

	_, err = r.Write([]byte(line[half:]))
	require.NoError(t, err)
	assert.Contains(t, out.String(), "done")
}

func TestEventRendererSilentOnResultAndReady(t *testing.T) {
	var out bytes.Buffer
	r := NewEventRenderer(&out)
	w := protocol.NewWriter(r)

	w.Emit(protocol.Event{Type: protocol.EventReady})
	w.Emit(protocol.Event{Type: protocol.EventResult, ID: "t1", Message: "All done"})

	assert.Empty(t, out.String())
}

func TestEventRendererNonJSONPassthrough(t *testing.T) {
	var out bytes.Buffer
	r := NewEventRenderer(&out)

	_, err := r.Write([]byte("not json\n"))
	require.NoError(t, err)
	assert.Contains(t, out.String(), "not json")
}
