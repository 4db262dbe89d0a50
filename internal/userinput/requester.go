// Package userinput is the blocking side channel adapters use when a step
// needs something only the user can supply: credentials, a captcha
// solution, a confirmation. The engine emits a request_input event and
// polls a response file written by the host UI.
package userinput

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
	"github.com/harunnryd/karakuri/internal/protocol"

	"github.com/google/uuid"
)

const (
	DefaultTimeout      = 600 * time.Second
	DefaultPollInterval = 2 * time.Second
)

// Requester emits request_input events and blocks on the response file.
// One instance is shared by all adapters; the orchestrator rebinds the
// task id before each task so events carry the right request id.
type Requester struct {
	writer       *protocol.Writer
	responsePath string
	timeout      time.Duration
	pollInterval time.Duration

	mu     sync.Mutex
	taskID string
}

func NewRequester(writer *protocol.Writer, responsePath string) *Requester {
	return &Requester{
		writer:       writer,
		responsePath: responsePath,
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
	}
}

// SetTimeouts overrides the wall-clock timeout and poll interval.
func (r *Requester) SetTimeouts(timeout, pollInterval time.Duration) {
	r.timeout = timeout
	r.pollInterval = pollInterval
}

// BindTask sets the request id stamped on emitted events.
func (r *Requester) BindTask(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taskID = taskID
}

func (r *Requester) currentTaskID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.taskID
}

// Request blocks until the host answers, the user cancels, or the timeout
// expires. A cancelled request returns ErrInterrupted; a timeout returns
// ErrTimeout. Responses for a different request id are ignored and left
// in place.
func (r *Requester) Request(ctx context.Context, req protocol.InputRequest) (map[string]string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	taskID := r.currentTaskID()

	// Stale responses from an earlier request must not satisfy this one.
	r.consumeIfMatching(req.ID)

	r.writer.Typed(protocol.EventRequestInput, taskID, req)
	slog.Info("Waiting for user input", "request_id", req.ID, "type", req.Type)

	deadline := time.Now().Add(r.timeout)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, karakuriErrors.Wrap(karakuriErrors.ErrInterrupted, "user input wait")
		case <-ticker.C:
			if resp := r.consumeIfMatching(req.ID); resp != nil {
				if resp.Cancelled {
					return nil, karakuriErrors.Wrap(karakuriErrors.ErrInterrupted, "user cancelled input request")
				}
				return resp.Values, nil
			}
			if time.Now().After(deadline) {
				return nil, karakuriErrors.Wrap(karakuriErrors.ErrTimeout, "user input request timed out")
			}
			r.writer.Typed(protocol.EventWaitingForInput, taskID, map[string]any{
				"request_id":  req.ID,
				"remaining_s": int(time.Until(deadline).Seconds()),
			})
		}
	}
}

// consumeIfMatching reads the response file and deletes it when it answers
// the given request. A response for another request stays on disk.
func (r *Requester) consumeIfMatching(requestID string) *protocol.InputResponse {
	data, err := os.ReadFile(r.responsePath)
	if err != nil {
		return nil
	}

	var resp protocol.InputResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		slog.Warn("Malformed user input response; deleting", "error", err)
		os.Remove(r.responsePath)
		return nil
	}
	if resp.RequestID != requestID {
		return nil
	}

	if err := os.Remove(r.responsePath); err != nil {
		slog.Warn("Failed to delete consumed input response", "error", err)
	}
	return &resp
}
