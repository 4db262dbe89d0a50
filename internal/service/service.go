// Package service is the stdio front door: one JSON command per stdin
// line, one JSON event per stdout line. Logs go to stderr only; the
// protocol stream stays clean.
package service

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/harunnryd/karakuri/internal/protocol"
	"github.com/harunnryd/karakuri/internal/task"
)

// maxLineBytes bounds one stdin command line.
const maxLineBytes = 1024 * 1024

// TaskRunner executes one instruction; the orchestrator implements it.
type TaskRunner interface {
	Run(ctx context.Context, taskID, instruction string, callerCtx map[string]any) *task.TaskResult
}

// ActivityMarker tracks busy/idle transitions; the maintenance engine
// implements it.
type ActivityMarker interface {
	MarkActive(busy bool)
}

// Loop reads commands until stdin closes or a shutdown command arrives.
// Tasks run strictly sequentially.
type Loop struct {
	in        io.Reader
	writer    *protocol.Writer
	runner    TaskRunner
	marker    ActivityMarker
	startedAt time.Time
}

func NewLoop(in io.Reader, writer *protocol.Writer, runner TaskRunner, marker ActivityMarker, startedAt time.Time) *Loop {
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	return &Loop{in: in, writer: writer, runner: runner, marker: marker, startedAt: startedAt}
}

// Run drives the loop. It returns nil on shutdown or clean EOF.
func (l *Loop) Run(ctx context.Context) error {
	l.writer.Emit(protocol.Event{
		Type: protocol.EventReady,
		Data: map[string]any{"startup_time": time.Since(l.startedAt).Seconds()},
	})

	scanner := bufio.NewScanner(l.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		cmd, err := protocol.ParseCommand(line)
		if err != nil {
			l.writer.Error("", "invalid command: "+err.Error())
			continue
		}

		switch cmd.Cmd {
		case protocol.CmdPing:
			l.writer.Typed(protocol.EventPong, cmd.ID, nil)
		case protocol.CmdShutdown:
			l.writer.Typed(protocol.EventShutdownAck, cmd.ID, nil)
			return nil
		case protocol.CmdExecute:
			l.execute(ctx, cmd)
		default:
			l.writer.Error(cmd.ID, "unknown command: "+cmd.Cmd)
		}
	}
	return scanner.Err()
}

// execute runs one task and emits exactly one result event, whatever
// happens inside.
func (l *Loop) execute(ctx context.Context, cmd *protocol.Command) {
	if cmd.Instruction == "" {
		l.writer.Typed(protocol.EventResult, cmd.ID, &task.TaskResult{
			Success: false,
			Message: "execute needs an instruction",
		})
		return
	}

	if l.marker != nil {
		l.marker.MarkActive(true)
		defer l.marker.MarkActive(false)
	}

	result := l.runSafely(ctx, cmd)
	l.writer.Typed(protocol.EventResult, cmd.ID, result)
}

func (l *Loop) runSafely(ctx context.Context, cmd *protocol.Command) (result *task.TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Task runner panicked", "task", cmd.ID, "panic", r, "stack", string(debug.Stack()))
			result = &task.TaskResult{
				Success:         false,
				Message:         fmt.Sprintf("Critical Error: %v", r),
				UserInstruction: cmd.Instruction,
			}
		}
	}()
	return l.runner.Run(ctx, cmd.ID, cmd.Instruction, cmd.Context)
}
