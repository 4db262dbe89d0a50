package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/karakuri/internal/protocol"
	"github.com/harunnryd/karakuri/internal/task"
)

type fakeRunner struct {
	results map[string]*task.TaskResult
	calls   []string
	panics  bool
}

func (r *fakeRunner) Run(_ context.Context, taskID, instruction string, _ map[string]any) *task.TaskResult {
	r.calls = append(r.calls, instruction)
	if r.panics {
		panic("runner exploded")
	}
	if res, ok := r.results[instruction]; ok {
		return res
	}
	return &task.TaskResult{Success: true, Message: "ok", UserInstruction: instruction}
}

type fakeMarker struct {
	transitions []bool
}

func (m *fakeMarker) MarkActive(busy bool) {
	m.transitions = append(m.transitions, busy)
}

func runLoop(t *testing.T, input string, runner TaskRunner, marker ActivityMarker) []protocol.Event {
	t.Helper()
	out := &bytes.Buffer{}
	loop := NewLoop(strings.NewReader(input), protocol.NewWriter(out), runner, marker, time.Now())
	require.NoError(t, loop.Run(context.Background()))

	var events []protocol.Event
	scanner := bufio.NewScanner(bytes.NewReader(out.Bytes()))
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		var ev protocol.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	return events
}

func types(events []protocol.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestReadyIsFirstAndCarriesStartupTime(t *testing.T) {
	events := runLoop(t, "", &fakeRunner{}, nil)
	require.NotEmpty(t, events)
	assert.Equal(t, protocol.EventReady, events[0].Type)

	data, ok := events[0].Data.(map[string]any)
	require.True(t, ok)
	_, hasStartup := data["startup_time"]
	assert.True(t, hasStartup)
}

func TestPingPong(t *testing.T) {
	events := runLoop(t, `{"cmd":"ping","id":"p1"}`+"\n", &fakeRunner{}, nil)
	assert.Equal(t, []string{"ready", "pong"}, types(events))
	assert.Equal(t, "p1", events[1].ID)
}

func TestShutdownAcksAndStops(t *testing.T) {
	input := `{"cmd":"shutdown","id":"s1"}` + "\n" + `{"cmd":"ping","id":"p1"}` + "\n"
	events := runLoop(t, input, &fakeRunner{}, nil)
	// The ping after shutdown is never processed.
	assert.Equal(t, []string{"ready", "shutdown_ack"}, types(events))
}

func TestExecuteEmitsExactlyOneResult(t *testing.T) {
	runner := &fakeRunner{}
	events := runLoop(t, `{"cmd":"execute","id":"t1","instruction":"take a screenshot"}`+"\n", runner, nil)

	assert.Equal(t, []string{"ready", "result"}, types(events))
	assert.Equal(t, "t1", events[1].ID)
	assert.Equal(t, []string{"take a screenshot"}, runner.calls)
}

func TestExecutePanicStillYieldsOneResult(t *testing.T) {
	runner := &fakeRunner{panics: true}
	events := runLoop(t, `{"cmd":"execute","id":"t1","instruction":"boom"}`+"\n", runner, nil)

	require.Equal(t, []string{"ready", "result"}, types(events))
	data, ok := events[1].Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, data["success"])
	assert.Contains(t, data["message"], "Critical Error")
}

func TestExecuteWithoutInstruction(t *testing.T) {
	runner := &fakeRunner{}
	events := runLoop(t, `{"cmd":"execute","id":"t1"}`+"\n", runner, nil)

	require.Equal(t, []string{"ready", "result"}, types(events))
	data := events[1].Data.(map[string]any)
	assert.Equal(t, false, data["success"])
	assert.Empty(t, runner.calls)
}

func TestMalformedLineEmitsErrorAndContinues(t *testing.T) {
	input := "this is not json\n" + `{"cmd":"ping","id":"p1"}` + "\n"
	events := runLoop(t, input, &fakeRunner{}, nil)
	assert.Equal(t, []string{"ready", "error", "pong"}, types(events))
}

func TestUnknownCommand(t *testing.T) {
	events := runLoop(t, `{"cmd":"dance","id":"d1"}`+"\n", &fakeRunner{}, nil)
	require.Equal(t, []string{"ready", "error"}, types(events))
	assert.Contains(t, events[1].Message, "unknown command")
}

func TestBlankLinesIgnored(t *testing.T) {
	input := "\n\n" + `{"cmd":"ping","id":"p1"}` + "\n\n"
	events := runLoop(t, input, &fakeRunner{}, nil)
	assert.Equal(t, []string{"ready", "pong"}, types(events))
}

func TestSequentialExecution(t *testing.T) {
	runner := &fakeRunner{}
	input := `{"cmd":"execute","id":"t1","instruction":"first"}` + "\n" +
		`{"cmd":"execute","id":"t2","instruction":"second"}` + "\n"
	events := runLoop(t, input, runner, nil)

	assert.Equal(t, []string{"ready", "result", "result"}, types(events))
	assert.Equal(t, []string{"first", "second"}, runner.calls)
	assert.Equal(t, "t1", events[1].ID)
	assert.Equal(t, "t2", events[2].ID)
}

func TestActivityMarkerBracketsTask(t *testing.T) {
	marker := &fakeMarker{}
	runLoop(t, `{"cmd":"execute","id":"t1","instruction":"work"}`+"\n", &fakeRunner{}, marker)
	assert.Equal(t, []bool{true, false}, marker.transitions)
}
