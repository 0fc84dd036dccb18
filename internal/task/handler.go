package task

import (
	"context"
	"encoding/json"

	"github.com/mikububu/readings-engine/internal/domain"
)

// Handler executes tasks of one type. Handle returns the output payload to
// record on success; any returned error is converted by the runner into a
// failed attempt (the store decides retry versus exhausted). Handlers that
// call the external generation APIs must route every call through the
// outbound call limiter.
type Handler interface {
	// Type returns the task type this handler executes.
	Type() string

	// Handle performs the stage-specific work for one claimed task.
	Handle(ctx context.Context, task *domain.Task) (json.RawMessage, error)
}
