package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/gofiber/fiber/v3"
)

// ExecutionUpdateEvent is the SSE event name of execution snapshots.
const ExecutionUpdateEvent = "execution-update"

// StreamConfig controls how an execution stream polls the store.
type StreamConfig struct {
	PollInterval time.Duration
	MaxPolls     int
	// HeartbeatEvery sends a comment line after this many unchanged polls so
	// a dropped client is noticed. Zero disables heartbeats.
	HeartbeatEvery int
}

// DefaultStreamConfig polls every second for at most ten minutes.
var DefaultStreamConfig = StreamConfig{
	PollInterval:   time.Second,
	MaxPolls:       600,
	HeartbeatEvery: 15,
}

// StreamExecution streams execution snapshots as server-sent events. The
// current state is sent first, then a new snapshot each time the status
// changes. The stream ends on a terminal status, when the execution
// disappears, or after MaxPolls polls.
func (h *APIHandlers) StreamExecution(c fiber.Ctx) error {
	userID := c.Get(UserIDHeader)
	if userID == "" {
		return unauthorized(c)
	}

	execution, err := h.executions.Get(c.Context(), userID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	// The writer runs after the handler returns, so it must not touch c.
	c.Response().SetBodyStreamWriter(func(w *bufio.Writer) {
		h.streamExecution(context.Background(), w, userID, execution)
	})

	return nil
}

func (h *APIHandlers) streamExecution(ctx context.Context, w *bufio.Writer, userID string, execution *models.Execution) {
	logger := h.logger.With("execution_id", execution.ID)

	if err := writeExecutionUpdate(w, execution); err != nil {
		logger.DebugContext(ctx, "Stream client gone", "error", err)

		return
	}

	if execution.Status.IsTerminal() {
		return
	}

	lastStatus := execution.Status
	unchanged := 0

	ticker := time.NewTicker(h.stream.PollInterval)
	defer ticker.Stop()

	for range h.stream.MaxPolls {
		<-ticker.C

		updated, err := h.executions.Get(ctx, userID, execution.ID)
		if err != nil {
			if !persistence.IsExecutionNotFound(err) {
				logger.ErrorContext(ctx, "Error polling execution status", "error", err)
			}

			return
		}

		if updated.Status == lastStatus {
			unchanged++
			if h.stream.HeartbeatEvery > 0 && unchanged%h.stream.HeartbeatEvery == 0 {
				if err := writeHeartbeat(w); err != nil {
					logger.DebugContext(ctx, "Stream client gone", "error", err)

					return
				}
			}

			continue
		}

		lastStatus = updated.Status
		unchanged = 0

		if err := writeExecutionUpdate(w, updated); err != nil {
			logger.DebugContext(ctx, "Stream client gone", "error", err)

			return
		}

		if lastStatus.IsTerminal() {
			return
		}
	}
}

func writeExecutionUpdate(w *bufio.Writer, execution *models.Execution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ExecutionUpdateEvent, data); err != nil {
		return err
	}

	return w.Flush()
}

func writeHeartbeat(w *bufio.Writer) error {
	if _, err := w.WriteString(": keep-alive\n\n"); err != nil {
		return err
	}

	return w.Flush()
}
