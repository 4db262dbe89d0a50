package logger

import "context"

type contextKey string

const taskIDKey contextKey = "task_id"

// WithTaskID stamps the running task's id into the context so log lines
// deep in adapters can correlate with the wire events.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey, id)
}

func GetTaskID(ctx context.Context) string {
	if id, ok := ctx.Value(taskIDKey).(string); ok {
		return id
	}
	return ""
}
