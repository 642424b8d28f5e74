package events

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/AriseOS/amid/internal/common/constants"
	"github.com/AriseOS/amid/internal/common/logger"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
)

// WriteSSE drains e via GetEvent, writing each event as a single SSE line
// and interleaving heartbeat comments during idle periods, until a terminal
// event is delivered, the idle timeout elapses, or flush fails (client gone).
// It mirrors spec.md §6's GET /quick-task/stream/{task_id} contract.
func WriteSSE(w io.Writer, flush func(), e *Emitter, log *logger.Logger) error {
	idle := time.Duration(0)

	for {
		ev := e.GetEvent(constants.SSEHeartbeatInterval)

		if IsTimeout(ev) {
			idle += constants.SSEHeartbeatInterval
			if idle >= constants.SSEIdleTimeout {
				synthetic := v1.NewEvent(e.taskID, v1.ActionEnd, map[string]interface{}{
					"status":  "failed",
					"message": "idle timeout",
				})
				if err := writeEventLine(w, synthetic); err != nil {
					return err
				}
				flush()
				return nil
			}
			if _, err := io.WriteString(w, ":hb\n\n"); err != nil {
				return err
			}
			flush()
			continue
		}

		idle = 0
		if err := writeEventLine(w, ev); err != nil {
			return err
		}
		flush()

		if ev.IsTerminal() {
			return nil
		}
	}
}

func writeEventLine(w io.Writer, ev *v1.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", body)
	return err
}
