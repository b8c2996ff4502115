package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"towncrier/internal/config"
	"towncrier/internal/platform"
	"towncrier/internal/tool"
)

func testTool() *tool.Tool {
	return &tool.Tool{
		ID:               "gocheck",
		Name:             "GoCheck",
		ShortDescription: "Static checker for Go projects",
		LongDescription:  "GoCheck runs a curated set of analyzers over your module and posts findings straight to your CI.",
		URL:              "https://example.com/gocheck",
		Categories:       []string{"linting", "ci"},
		TargetAudience:   []string{"go developers"},
		Tags:             []string{"golang", "devtools"},
	}
}

func newTestAdapter(t *testing.T, baseURL string, settings Settings) *Adapter {
	t.Helper()
	raw, err := json.Marshal(settings)
	require.NoError(t, err)

	a, err := New(config.PlatformConfig{
		Enabled:  true,
		BaseURL:  baseURL,
		Auth:     config.AuthConfig{Type: "token", Token: "bearer123"},
		Retry:    config.RetryBlock{MaxRetries: 1, BaseDelay: "1ms", MaxDelay: "2ms"},
		Settings: raw,
	}, platform.Deps{})
	require.NoError(t, err)
	a.tweetDelay = 0
	return a
}

func TestFormatContentThread(t *testing.T) {
	a := newTestAdapter(t, "http://unused", Settings{})
	content, err := a.FormatContent(testTool())
	require.NoError(t, err)

	thread, ok := content.Metadata["thread"].([]string)
	require.True(t, ok)
	require.Len(t, thread, 3)

	for i, tw := range thread {
		require.LessOrEqual(t, utf8.RuneCountInString(tw), tweetLimit, "tweet %d over limit", i+1)
	}
	require.Contains(t, thread[0], "GoCheck")
	require.Contains(t, thread[0], "#golang")
	require.Contains(t, thread[1], "https://example.com/gocheck")
	require.Contains(t, thread[2], "Categories: linting, ci")
	require.Contains(t, thread[2], "For: go developers")
}

func TestFormatContentSingleTweetWhenThreadsDisabled(t *testing.T) {
	off := false
	a := newTestAdapter(t, "http://unused", Settings{EnableThreads: &off})
	content, err := a.FormatContent(testTool())
	require.NoError(t, err)

	thread, _ := content.Metadata["thread"].([]string)
	require.Len(t, thread, 1)
	require.Contains(t, thread[0], "https://example.com/gocheck", "single tweet must still carry the URL")
	require.LessOrEqual(t, utf8.RuneCountInString(thread[0]), tweetLimit)
}

func TestFormatContentSingleTweetWithLongDescription(t *testing.T) {
	off := false
	a := newTestAdapter(t, "http://unused", Settings{EnableThreads: &off})
	tl := testTool()
	// lead alone already fills the limit, so the URL only fits if the text
	// is cut back to make room
	tl.ShortDescription = strings.Repeat("x", 275)

	content, err := a.FormatContent(tl)
	require.NoError(t, err)

	thread, _ := content.Metadata["thread"].([]string)
	require.Len(t, thread, 1, "threads disabled must never grow a second tweet")
	require.Contains(t, thread[0], tl.URL)
	require.LessOrEqual(t, utf8.RuneCountInString(thread[0]), tweetLimit)
}

func TestFormatContentAlwaysIncludesURL(t *testing.T) {
	a := newTestAdapter(t, "http://unused", Settings{})
	tl := testTool()
	// long description leaves no room for the URL in tweet two
	tl.LongDescription = strings.Repeat("analysis ", 40)

	content, err := a.FormatContent(tl)
	require.NoError(t, err)
	thread, _ := content.Metadata["thread"].([]string)

	joined := strings.Join(thread, "\n")
	require.Contains(t, joined, tl.URL)
}

func TestPublishChainsReplies(t *testing.T) {
	type tweetReq struct {
		Text  string `json:"text"`
		Reply *struct {
			InReplyTo string `json:"in_reply_to_tweet_id"`
		} `json:"reply"`
	}
	var got []tweetReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/2/tweets", r.URL.Path)
		require.Equal(t, "Bearer bearer123", r.Header.Get("Authorization"))
		var req tweetReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		got = append(got, req)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"data":{"id":"id-%d"}}`, len(got))
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, Settings{})
	content, err := a.FormatContent(testTool())
	require.NoError(t, err)

	res := a.Publish(context.Background(), testTool(), content)
	require.True(t, res.Success)
	require.Equal(t, "id-1", res.PostID, "result carries the lead tweet id")
	require.Len(t, got, 3)

	require.Nil(t, got[0].Reply)
	require.NotNil(t, got[1].Reply)
	require.Equal(t, "id-1", got[1].Reply.InReplyTo)
	require.NotNil(t, got[2].Reply)
	require.Equal(t, "id-2", got[2].Reply.InReplyTo)
}

func TestPublishLeadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"detail":"not permitted"}`)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, Settings{})
	content, _ := a.FormatContent(testTool())
	res := a.Publish(context.Background(), testTool(), content)
	require.False(t, res.Success)
	require.False(t, res.Retryable)
}

func TestPublishMidThreadFailureKeepsLead(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"data":{"id":"lead"}}`)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, Settings{})
	content, _ := a.FormatContent(testTool())
	res := a.Publish(context.Background(), testTool(), content)
	require.True(t, res.Success, "announcement is out once the lead tweet posts")
	require.Equal(t, "lead", res.PostID)
}

func TestAuthenticate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/2/users/me", r.URL.Path)
		fmt.Fprint(w, `{"data":{"id":"1","username":"towncrier"}}`)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, Settings{})
	require.True(t, a.Authenticate(context.Background()))
	require.True(t, a.IsAuthenticated(context.Background()))
	require.Equal(t, "https://twitter.com/towncrier/status/99", a.PostURL("99"))
}
