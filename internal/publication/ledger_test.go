package publication

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	l := NewLedger()
	p := l.Create("mytool", "reddit", 3)

	require.NotEmpty(t, p.ID)
	require.Equal(t, StatusPending, p.Status)
	require.Equal(t, 3, p.MaxRetries)

	got, ok := l.Get(p.ID)
	require.True(t, ok)
	require.Equal(t, p.ID, got.ID)
}

func TestUpdateMergesPatch(t *testing.T) {
	l := NewLedger()
	p := l.Create("mytool", "devto", 3)

	s := StatusSuccess
	postID := "42"
	url := "https://dev.to/x/42"
	require.True(t, l.Update(p.ID, Patch{Status: &s, PlatformPostID: &postID, URL: &url}))

	got, _ := l.Get(p.ID)
	require.Equal(t, StatusSuccess, got.Status)
	require.Equal(t, "42", got.PlatformPostID)
	require.Equal(t, url, got.URL)
	// untouched fields survive
	require.Equal(t, "mytool", got.ToolID)
	require.Equal(t, 3, got.MaxRetries)

	require.False(t, l.Update("missing", Patch{Status: &s}))
}

func TestHasSuccessIgnoresDryRuns(t *testing.T) {
	l := NewLedger()
	p := l.Create("mytool", "twitter", 3)

	s := StatusSuccess
	dry := true
	l.Update(p.ID, Patch{Status: &s, DryRun: &dry})
	require.False(t, l.HasSuccess("mytool", "twitter"), "dry run must not count as published")

	p2 := l.Create("mytool", "twitter", 3)
	l.Update(p2.ID, Patch{Status: &s})
	require.True(t, l.HasSuccess("mytool", "twitter"))
	require.False(t, l.HasSuccess("mytool", "reddit"))
	require.False(t, l.HasSuccess("other", "twitter"))
}

func TestShouldRetry(t *testing.T) {
	l := NewLedger()
	p := l.Create("mytool", "hackernews", 2)

	require.False(t, l.ShouldRetry(p.ID), "pending records are not retry candidates")

	f := StatusFailed
	l.Update(p.ID, Patch{Status: &f})
	require.True(t, l.ShouldRetry(p.ID))

	exhausted := 2
	l.Update(p.ID, Patch{RetryCount: &exhausted})
	require.False(t, l.ShouldRetry(p.ID), "retry budget exhausted")
}

func TestFilters(t *testing.T) {
	l := NewLedger()
	a := l.Create("t1", "reddit", 1)
	l.Create("t1", "devto", 1)
	l.Create("t2", "reddit", 1)

	f := StatusFailed
	l.Update(a.ID, Patch{Status: &f})

	require.Len(t, l.ByTool("t1"), 2)
	require.Len(t, l.ByPlatform("reddit"), 2)
	require.Len(t, l.Failed(), 1)
	require.Equal(t, 3, l.Len())
}
