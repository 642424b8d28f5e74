package main

import (
	"context"

	"github.com/AriseOS/amid/internal/common/logger"
)

// sessionTabCleaner adapts browser.Session.CloseTaskTabs (keyed only by
// task_id) into executor.TabCleaner's per-subtask signature (spec.md §4.7
// step 6): closing a task's tab group is idempotent and safe to call once
// per finished subtask, since ClaimPage lazily reopens a tab the next time
// one is needed.
type sessionTabCleaner struct {
	d   *daemon
	log *logger.Logger
}

// CleanupSubtaskTabs satisfies executor.TabCleaner.
func (c *sessionTabCleaner) CleanupSubtaskTabs(taskID, subtaskID string) {
	if err := c.d.browser.CloseTaskTabs(context.Background(), taskID); err != nil {
		c.log.WithError(err).Warn("failed to close task tabs after subtask")
	}
}
