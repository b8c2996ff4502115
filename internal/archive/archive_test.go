package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"towncrier/internal/publication"
	"towncrier/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive.db"), logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, s)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDisabledArchive(t *testing.T) {
	s, err := Open("", logx.Nop())
	require.NoError(t, err)
	require.Nil(t, s)

	// a nil store is usable everywhere
	require.NoError(t, s.Record(context.Background(), publication.Publication{}))
	recs, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Nil(t, recs)
	require.NoError(t, s.Close())
}

func TestRecordAndQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p1 := publication.Publication{
		ID:             "gocheck-reddit-1",
		ToolID:         "gocheck",
		Platform:       "reddit",
		Status:         publication.StatusSuccess,
		Timestamp:      time.Now().Add(-time.Minute),
		PlatformPostID: "t3_abc",
		URL:            "https://www.reddit.com/comments/abc",
		Metadata:       map[string]string{"subreddit": "golang"},
	}
	p2 := publication.Publication{
		ID:        "gocheck-devto-1",
		ToolID:    "gocheck",
		Platform:  "devto",
		Status:    publication.StatusFailed,
		Timestamp: time.Now(),
		Error:     "rejected (status 422)",
	}
	require.NoError(t, s.Record(ctx, p1))
	require.NoError(t, s.Record(ctx, p2))

	byTool, err := s.ByTool(ctx, "gocheck")
	require.NoError(t, err)
	require.Len(t, byTool, 2)
	require.Equal(t, "gocheck-reddit-1", byTool[0].ID)
	require.Equal(t, publication.StatusSuccess, byTool[0].Status)
	require.Equal(t, "golang", byTool[0].Metadata["subreddit"])
	require.Equal(t, "rejected (status 422)", byTool[1].Error)

	recent, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "gocheck-devto-1", recent[0].ID)
}

func TestAppendOnlyKeepsEveryTerminalState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := publication.Publication{ID: "x-reddit-1", ToolID: "x", Platform: "reddit", Status: publication.StatusFailed, Timestamp: time.Now()}
	require.NoError(t, s.Record(ctx, p))
	p.Status = publication.StatusSuccess
	p.RetryCount = 1
	require.NoError(t, s.Record(ctx, p))

	recs, err := s.ByTool(ctx, "x")
	require.NoError(t, err)
	require.Len(t, recs, 2, "retries append, they never overwrite history")
}
