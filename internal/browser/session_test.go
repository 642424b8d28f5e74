package browser

import (
	"context"
	"testing"

	"github.com/AriseOS/amid/internal/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakePoolClaimPageReusesSamePageForTask(t *testing.T) {
	pool := NewFakePool(4)
	ctx := context.Background()

	p1, err := pool.ClaimPage(ctx, "task-1")
	require.NoError(t, err)
	p2, err := pool.ClaimPage(ctx, "task-1")
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	p3, err := pool.ClaimPage(ctx, "task-2")
	require.NoError(t, err)
	assert.NotSame(t, p1, p3)
}

func TestFakePoolCloseTaskTabsClosesOnlyThatTasksPage(t *testing.T) {
	pool := NewFakePool(4)
	ctx := context.Background()

	p1, _ := pool.ClaimPage(ctx, "task-1")
	p2, _ := pool.ClaimPage(ctx, "task-2")

	require.NoError(t, pool.CloseTaskTabs(ctx, "task-1"))

	assert.True(t, p1.(*FakePage).Closed())
	assert.False(t, p2.(*FakePage).Closed())
}

func TestFakePoolClaimPageReplacesClosedPage(t *testing.T) {
	pool := NewFakePool(4)
	ctx := context.Background()

	p1, _ := pool.ClaimPage(ctx, "task-1")
	p1.(*FakePage).Close()

	p2, err := pool.ClaimPage(ctx, "task-1")
	require.NoError(t, err)
	assert.NotSame(t, p1, p2)
	assert.False(t, p2.(*FakePage).Closed())
}

func TestPageVisitThenBackAndForward(t *testing.T) {
	page := NewFakePage()
	ctx := context.Background()

	_, err := page.Visit(ctx, "https://a.example")
	require.NoError(t, err)
	_, err = page.Visit(ctx, "https://b.example")
	require.NoError(t, err)
	assert.Equal(t, "https://b.example", page.URL())

	res, err := page.Back(ctx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "https://a.example", page.URL())

	res, err = page.Forward(ctx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "https://b.example", page.URL())
}

func TestPageActionsFailWithBrowserPageClosedAfterClose(t *testing.T) {
	page := NewFakePage()
	ctx := context.Background()
	_, _ = page.Visit(ctx, "https://a.example")
	page.Close()

	_, err := page.Click(ctx, "e1")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.BrowserPageClosed))

	_, err = page.Snapshot(ctx)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.BrowserPageClosed))
}

func TestPageClickAndTypeReportUnknownRef(t *testing.T) {
	page := NewFakePage()
	ctx := context.Background()
	_, _ = page.Visit(ctx, "https://a.example")

	res, err := page.Click(ctx, "e99")
	require.NoError(t, err)
	assert.False(t, res.Success)

	res, err = page.Type(ctx, "e99", "hi")
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestPageSnapshotReflectsSeededElements(t *testing.T) {
	page := NewFakePage()
	ctx := context.Background()
	_, _ = page.Visit(ctx, "https://a.example")
	page.SeedElements(fakeElement{ref: "e1", role: "button", name: "Submit"})

	snap, err := page.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://a.example", snap.URL)
	require.Len(t, snap.Elements, 1)
	assert.Equal(t, "e1", snap.Elements[0].Ref)

	res, err := page.Click(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, res.Success)
}
