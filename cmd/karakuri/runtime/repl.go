package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/oklog/ulid/v2"

	"github.com/harunnryd/karakuri/internal/protocol"
)

var (
	bannerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Bold(true)
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	thinkStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	summaryStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// REPL is the interactive front end: it feeds instructions straight to
// the orchestrator and renders the event stream for a terminal instead
// of a host process.
type REPL struct {
	components *Components
	in         *bufio.Reader
	out        io.Writer
}

func NewREPL(c *Components) *REPL {
	return &REPL{
		components: c,
		in:         bufio.NewReader(os.Stdin),
		out:        os.Stdout,
	}
}

// Start runs the prompt loop until /exit or EOF.
func (r *REPL) Start() error {
	fmt.Fprintln(r.out, bannerStyle.Render("karakuri"))
	fmt.Fprintln(r.out, dimStyle.Render("Type an instruction, or /exit to quit."))

	for {
		fmt.Fprint(r.out, promptStyle.Render("> "))
		line, err := r.in.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		text := strings.TrimSpace(line)
		switch text {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}

		result := r.components.Orchestrator.Run(context.Background(), ulid.Make().String(), text, nil)
		if result.Success {
			fmt.Fprintln(r.out, okStyle.Render("✓ ")+result.Message)
		} else {
			fmt.Fprintln(r.out, failStyle.Render("✗ ")+result.Message)
		}
		fmt.Fprintln(r.out, summaryStyle.Render(fmt.Sprintf("  %d step(s) in %.1fs", len(result.Steps), result.Duration)))
	}
}

// EventRenderer adapts the wire protocol for human eyes. It is handed
// to Build as the output stream: every line the engine would send to a
// host process is decoded and printed styled instead.
type EventRenderer struct {
	out io.Writer
	buf bytes.Buffer
}

func NewEventRenderer(out io.Writer) *EventRenderer {
	return &EventRenderer{out: out}
}

func (r *EventRenderer) Write(p []byte) (int, error) {
	r.buf.Write(p)
	for {
		line, err := r.buf.ReadBytes('\n')
		if err != nil {
			// Partial line; keep it for the next write.
			r.buf.Write(line)
			break
		}
		r.render(bytes.TrimSpace(line))
	}
	return len(p), nil
}

func (r *EventRenderer) render(line []byte) {
	if len(line) == 0 {
		return
	}
	var ev protocol.Event
	if err := json.Unmarshal(line, &ev); err != nil {
		fmt.Fprintln(r.out, dimStyle.Render(string(line)))
		return
	}

	switch ev.Type {
	case protocol.EventThinking:
		fmt.Fprintln(r.out, thinkStyle.Render("… "+ev.Message))
	case protocol.EventProgress:
		fmt.Fprintln(r.out, dimStyle.Render("  "+ev.Message))
	case protocol.EventPlanReady:
		fmt.Fprintln(r.out, dimStyle.Render(fmt.Sprintf("  plan ready (%d steps)", countSteps(ev.Data))))
	case protocol.EventStepStarted:
		fmt.Fprintln(r.out, dimStyle.Render("→ "+stepLabel(ev.Data)))
	case protocol.EventStepCompleted:
		fmt.Fprintln(r.out, okStyle.Render("  ✓ ")+ev.Message)
	case protocol.EventStepFailed:
		fmt.Fprintln(r.out, failStyle.Render("  ✗ ")+ev.Message)
	case protocol.EventRequestInput:
		fmt.Fprintln(r.out, warnStyle.Render("  ? "+inputPrompt(ev)))
	case protocol.EventWaitingForInput:
		fmt.Fprintln(r.out, warnStyle.Render("  … waiting for input"))
	case protocol.EventError:
		fmt.Fprintln(r.out, failStyle.Render("error: "+ev.Message))
	case protocol.EventReady, protocol.EventResult, protocol.EventExecutionStarted:
		// The prompt loop reports these itself.
	default:
		fmt.Fprintln(r.out, dimStyle.Render(ev.Type+" "+ev.Message))
	}
}

func inputPrompt(ev protocol.Event) string {
	if m, ok := ev.Data.(map[string]any); ok {
		if title, ok := m["title"].(string); ok && title != "" {
			return title
		}
	}
	if ev.Message != "" {
		return ev.Message
	}
	return "input requested"
}

func countSteps(data any) int {
	m, ok := data.(map[string]any)
	if !ok {
		return 0
	}
	steps, ok := m["steps"].([]any)
	if !ok {
		return 0
	}
	return len(steps)
}

func stepLabel(data any) string {
	m, ok := data.(map[string]any)
	if !ok {
		return ""
	}
	step, ok := m["step"].(map[string]any)
	if !ok {
		return ""
	}
	if desc, ok := step["description"].(string); ok && desc != "" {
		return desc
	}
	if typ, ok := step["type"].(string); ok {
		return typ
	}
	return ""
}
