package hackernews

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

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
		LongDescription:  "GoCheck runs a curated set of analyzers over your module.",
		URL:              "https://example.com/gocheck",
		Categories:       []string{"linting"},
		TargetAudience:   []string{"go developers"},
	}
}

func newTestAdapter(t *testing.T, baseURL string, settings Settings) *Adapter {
	t.Helper()
	raw, err := json.Marshal(settings)
	require.NoError(t, err)

	a, err := New(config.PlatformConfig{
		Enabled:  true,
		BaseURL:  baseURL,
		Auth:     config.AuthConfig{Type: "login", Username: "crier", Password: "hunter2"},
		Retry:    config.RetryBlock{MaxRetries: 2, BaseDelay: "1ms", MaxDelay: "2ms"},
		Settings: raw,
	}, platform.Deps{})
	require.NoError(t, err)
	return a
}

const submitPage = `<form method="post" action="r">
<input type="hidden" name="fnid" value="FNID123">
<input type="hidden" name="fnop" value="submit-page">
<input type="text" name="title">
</form>`

func newFakeSite(t *testing.T, submitHandler http.HandlerFunc) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("acct") == "crier" && r.PostForm.Get("pw") == "hunter2" {
			http.SetCookie(w, &http.Cookie{Name: "user", Value: "crier&token"})
			w.Header().Set("Location", "news")
			w.WriteHeader(http.StatusFound)
			return
		}
		fmt.Fprint(w, "Bad login.")
	})
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("user"); err != nil || c.Value == "" {
			fmt.Fprint(w, `<a href="login?goto=submit">login</a>`)
			return
		}
		fmt.Fprint(w, submitPage)
	})
	if submitHandler != nil {
		mux.HandleFunc("/r", submitHandler)
	}
	return httptest.NewServer(mux)
}

func TestAuthenticate(t *testing.T) {
	srv := newFakeSite(t, nil)
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, Settings{})
	require.False(t, a.IsAuthenticated(context.Background()))
	require.True(t, a.Authenticate(context.Background()))
	require.True(t, a.IsAuthenticated(context.Background()))
}

func TestAuthenticateBadLogin(t *testing.T) {
	srv := newFakeSite(t, nil)
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, Settings{})
	a.Auth.Password = "wrong"
	require.False(t, a.Authenticate(context.Background()))
}

func TestPublishScrapesTokenAndFollowsLocation(t *testing.T) {
	var gotForm map[string]string
	srv := newFakeSite(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"fnid":  r.PostForm.Get("fnid"),
			"title": r.PostForm.Get("title"),
			"url":   r.PostForm.Get("url"),
			"text":  r.PostForm.Get("text"),
		}
		w.Header().Set("Location", "item?id=4321")
		w.WriteHeader(http.StatusFound)
	})
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, Settings{PostType: "show"})
	require.True(t, a.Authenticate(context.Background()))

	content, err := a.FormatContent(testTool())
	require.NoError(t, err)
	res := a.Publish(context.Background(), testTool(), content)

	require.True(t, res.Success)
	require.Equal(t, "4321", res.PostID)
	require.Equal(t, srv.URL+"/item?id=4321", res.URL)
	require.Equal(t, "FNID123", gotForm["fnid"])
	require.True(t, strings.HasPrefix(gotForm["title"], "Show HN:"))
	require.Equal(t, "https://example.com/gocheck", gotForm["url"])
	require.Empty(t, gotForm["text"])
}

func TestPublishDuplicateIsTerminal(t *testing.T) {
	calls := 0
	srv := newFakeSite(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, "That url has already been submitted.")
	})
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, Settings{})
	require.True(t, a.Authenticate(context.Background()))

	content, _ := a.FormatContent(testTool())
	res := a.Publish(context.Background(), testTool(), content)

	require.False(t, res.Success)
	require.False(t, res.Retryable)
	require.Contains(t, res.Error, "already been submitted")
	require.Equal(t, 1, calls, "duplicate responses must not burn retries")
}

func TestPublishTooFastIsRetried(t *testing.T) {
	calls := 0
	srv := newFakeSite(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			fmt.Fprint(w, "You're posting too fast. Please slow down.")
			return
		}
		w.Header().Set("Location", "item?id=99")
		w.WriteHeader(http.StatusFound)
	})
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, Settings{})
	require.True(t, a.Authenticate(context.Background()))

	content, _ := a.FormatContent(testTool())
	res := a.Publish(context.Background(), testTool(), content)
	require.True(t, res.Success)
	require.Equal(t, 2, calls)
}

func TestFormatContentPrefixesAndLimit(t *testing.T) {
	a := newTestAdapter(t, "http://unused", Settings{PostType: "ask"})
	content, err := a.FormatContent(testTool())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(content.Title, "Ask HN:"))
	require.Empty(t, content.URL, "ask posts are text-only")
	require.Contains(t, content.Body, "https://example.com/gocheck")

	long := testTool()
	long.ShortDescription = strings.Repeat("word ", 30)
	a2 := newTestAdapter(t, "http://unused", Settings{})
	c2, err := a2.FormatContent(long)
	require.NoError(t, err)
	require.LessOrEqual(t, len([]rune(c2.Title)), titleLimit)
	require.Equal(t, "https://example.com/gocheck", c2.URL, "stories submit the URL with no body")
	require.Empty(t, c2.Body)
}

func TestClassifyBody(t *testing.T) {
	require.Nil(t, classifyBody("<html>ok</html>"))
	require.False(t, isTerminalMessage("posting too fast"))
	require.True(t, isTerminalMessage("That url has Already Been Submitted"))
	require.True(t, isTerminalMessage("you are banned"))
	require.True(t, isTerminalMessage("Bad login"))
}
