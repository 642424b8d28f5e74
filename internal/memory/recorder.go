package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/AriseOS/amid/internal/common/logger"
	"github.com/AriseOS/amid/internal/executor"
)

// Operation is one recorded browser action, in the shape the memory
// service's online-learning endpoint expects (spec.md §4.9 write side).
type Operation struct {
	Action string                 `json:"action"`
	State  string                 `json:"state"`
	Detail map[string]interface{} `json:"detail,omitempty"`
}

// Recorder implements executor.RecorderFactory: it starts one recording
// session per browser subtask attempt and posts what was recorded to
// memory on a successful commit, or drops it on discard.
type Recorder struct {
	client *Client
	log    *logger.Logger
}

// NewRecorder builds a Recorder against client.
func NewRecorder(client *Client, log *logger.Logger) *Recorder {
	return &Recorder{client: client, log: log}
}

// StartAttempt satisfies executor.RecorderFactory.
func (r *Recorder) StartAttempt(ctx context.Context, taskID, subtaskID string) executor.RecorderHandle {
	return &Session{
		client:    r.client,
		log:       r.log,
		sessionID: fmt.Sprintf("%s_%s", taskID, subtaskID),
	}
}

// Session is one attempt's recording buffer, satisfying
// executor.RecorderHandle. Record is called by whatever executes the
// subtask's browser actions (the internal/tools/browsertools tools, via
// their Controller) as each operation happens;
// nothing is sent to memory until Commit.
type Session struct {
	client    *Client
	log       *logger.Logger
	sessionID string

	mu  sync.Mutex
	ops []Operation
}

// Record appends one observed operation to this attempt's buffer, and
// satisfies tools.OperationRecorder so browser tools can call it directly
// once the executor installs this Session as the active recorder (spec.md
// §4.9 write side). Safe to call concurrently with itself, but not meant to
// overlap Commit/Discard.
func (s *Session) Record(action, state string, detail map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, Operation{Action: action, State: state, Detail: detail})
}

// Discard satisfies executor.RecorderHandle: the attempt failed, so its
// operations carry no signal worth learning from.
func (s *Session) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = nil
}

// Commit satisfies executor.RecorderHandle: the attempt succeeded, so its
// operations are posted to memory with skip_cognitive_phrase=true (the
// phrase is only derived from the eventual deliverable, not mid-flight
// subtask operations).
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	ops := s.ops
	s.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}

	payload, err := json.Marshal(ops)
	if err != nil {
		return err
	}

	return s.client.AddMemory(ctx, AddMemoryRequest{
		SessionID:           s.sessionID,
		Operations:          payload,
		SkipCognitivePhrase: true,
	})
}
