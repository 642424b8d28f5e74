package browsertools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AriseOS/amid/internal/browser"
)

func TestVisitAndSnapshot(t *testing.T) {
	pool := browser.NewFakePool(2)
	ts, ctl := ForTask(pool, "task-1")

	var visit *visitTool
	var snap *snapshotTool
	for _, tl := range ts {
		switch v := tl.(type) {
		case *visitTool:
			visit = v
		case *snapshotTool:
			snap = v
		}
	}
	require.NotNil(t, visit)
	require.NotNil(t, snap)

	res, err := visit.Execute(context.Background(), "1", json.RawMessage(`{"url":"https://example.com"}`), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Content)
	assert.Equal(t, "https://example.com", ctl.CurrentURL())

	res, err = snap.Execute(context.Background(), "2", json.RawMessage(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", res.Details["url"])
}

func TestVisitRejectsEmptyURL(t *testing.T) {
	pool := browser.NewFakePool(1)
	ts, _ := ForTask(pool, "task-1")
	var visit *visitTool
	for _, tl := range ts {
		if v, ok := tl.(*visitTool); ok {
			visit = v
		}
	}
	require.NotNil(t, visit)

	_, err := visit.Execute(context.Background(), "1", json.RawMessage(`{"url":""}`), nil)
	require.Error(t, err)
}

func TestScrollRoundTrip(t *testing.T) {
	pool := browser.NewFakePool(1)
	ts, _ := ForTask(pool, "task-1")
	var scroll *scrollTool
	for _, tl := range ts {
		if s, ok := tl.(*scrollTool); ok {
			scroll = s
		}
	}
	require.NotNil(t, scroll)

	res, err := scroll.Execute(context.Background(), "1", json.RawMessage(`{"direction":"down","pixels":200}`), nil)
	require.NoError(t, err)
	assert.NotNil(t, res)
}

type fakeRecorder struct {
	ops []recordedOp
}

type recordedOp struct {
	action, state string
	detail        map[string]interface{}
}

func (f *fakeRecorder) Record(action, state string, detail map[string]interface{}) {
	f.ops = append(f.ops, recordedOp{action: action, state: state, detail: detail})
}

func TestControllerRecordsActionsOnlyWhileRecorderInstalled(t *testing.T) {
	pool := browser.NewFakePool(1)
	ts, ctl := ForTask(pool, "task-1")
	var visit *visitTool
	var click *clickTool
	for _, tl := range ts {
		switch v := tl.(type) {
		case *visitTool:
			visit = v
		case *clickTool:
			click = v
		}
	}
	require.NotNil(t, visit)
	require.NotNil(t, click)

	_, err := visit.Execute(context.Background(), "1", json.RawMessage(`{"url":"https://example.com"}`), nil)
	require.NoError(t, err)

	rec := &fakeRecorder{}
	ctl.SetRecorder(rec)

	_, err = click.Execute(context.Background(), "2", json.RawMessage(`{"ref":"e1"}`), nil)
	require.NoError(t, err)

	require.Len(t, rec.ops, 1)
	assert.Equal(t, "click", rec.ops[0].action)
	assert.Equal(t, "e1", rec.ops[0].detail["ref"])

	ctl.SetRecorder(nil)
	_, err = click.Execute(context.Background(), "3", json.RawMessage(`{"ref":"e2"}`), nil)
	require.NoError(t, err)
	assert.Len(t, rec.ops, 1, "no further operations recorded once the recorder is cleared")
}
