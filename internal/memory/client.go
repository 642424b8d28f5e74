// Package memory implements the read and write sides of memory
// integration (spec.md §4.9): querying a memory service for task
// decomposition hints and page-operation sequences, and recording browser
// subtask behavior back into it for online learning.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/AriseOS/amid/internal/common/constants"
	"github.com/AriseOS/amid/internal/common/logger"
	"github.com/AriseOS/amid/internal/errkind"
	"go.uber.org/zap"
)

// TaskResult is query_task's projection: a cognitive phrase and/or
// supporting states, with a memory_level confidence tier.
type TaskResult struct {
	Level           string   `json:"memory_level"`
	CognitivePhrase string   `json:"cognitive_phrase"`
	States          []string `json:"states"`
	ExecutionPlan   string   `json:"execution_plan"`
}

// NavigationResult is query_navigation's projection: a stitched path of
// states between a start and end state.
type NavigationResult struct {
	States []string `json:"states"`
	Found  bool     `json:"found"`
}

// ActionsResult is query_actions's projection: known outgoing actions for
// a state.
type ActionsResult struct {
	Actions []string `json:"actions"`
}

// Client talks to the memory service's HTTP API.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	log        *logger.Logger
}

// NewClient builds a Client against baseURL (e.g. "http://localhost:8900").
// An empty authToken means the memory service is reached unauthenticated.
func NewClient(baseURL, authToken string, log *logger.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: constants.CloudHTTPTimeout},
		log:        log.WithFields(zap.String("component", "memory_client")),
	}
}

// QueryTask implements spec.md §4.9's query_task(text): POST
// target=text, as_type=task, top_k=5.
func (c *Client) QueryTask(ctx context.Context, text string) (*TaskResult, error) {
	var out TaskResult
	body := map[string]interface{}{"target": text, "as_type": "task", "top_k": 5}
	if err := c.post(ctx, "/api/v1/memory/query", body, &out); err != nil {
		return nil, err
	}
	if out.Level == "" {
		out.Level = "L3"
	}
	return &out, nil
}

// QueryNavigation implements query_navigation(start_state, end_state),
// used by the planner to stitch a path across recorded states.
func (c *Client) QueryNavigation(ctx context.Context, startState, endState string) (*NavigationResult, error) {
	var out NavigationResult
	body := map[string]interface{}{"as_type": "navigation", "start_state": startState, "end_state": endState}
	if err := c.post(ctx, "/api/v1/memory/query", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueryActions implements query_actions(current_state, target?), used for
// page-operations enrichment.
func (c *Client) QueryActions(ctx context.Context, currentState, target string) (*ActionsResult, error) {
	var out ActionsResult
	body := map[string]interface{}{"as_type": "actions", "current_state": currentState}
	if target != "" {
		body["target"] = target
	}
	if err := c.post(ctx, "/api/v1/memory/query", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PlanTask implements plan_task(text): a higher-level "plan with
// preferences/hints" call the planner uses when memory is rich.
func (c *Client) PlanTask(ctx context.Context, text string) (*TaskResult, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.MemoryPlanTimeout)
	defer cancel()

	var out TaskResult
	body := map[string]interface{}{"target": text, "as_type": "plan"}
	if err := c.post(ctx, "/api/v1/memory/plan", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddMemoryRequest is the write-side payload POSTed on subtask completion
// (spec.md §4.9 write side step 3).
type AddMemoryRequest struct {
	SessionID           string          `json:"session_id"`
	Operations          json.RawMessage `json:"operations"`
	SkipCognitivePhrase bool            `json:"skip_cognitive_phrase"`
}

// AddMemory persists recorded browser operations. Failure is the caller's
// to discard — AddMemory itself just reports the transport error.
func (c *Client) AddMemory(ctx context.Context, req AddMemoryRequest) error {
	return c.post(ctx, "/api/v1/memory/add", req, nil)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, constants.MemoryQueryTimeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return errkind.Wrap(errkind.InvalidInput, "encode memory request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errkind.Wrap(errkind.Config, "build memory request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errkind.Wrap(errkind.Timeout, "memory service request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errkind.New(errkind.Config, fmt.Sprintf("memory service returned %d for %s", resp.StatusCode, path))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errkind.Wrap(errkind.InvalidInput, "decode memory response", err)
	}
	return nil
}
