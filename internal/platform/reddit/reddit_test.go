package reddit

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
		LongDescription:  "GoCheck runs a curated set of analyzers over your module, wired into CI with one command.",
		URL:              "https://example.com/gocheck",
		Categories:       []string{"linting"},
		TargetAudience:   []string{"go developers"},
		Version:          "1.2.0",
	}
}

func newTestAdapter(t *testing.T, baseURL string, settings Settings) *Adapter {
	t.Helper()
	raw, err := json.Marshal(settings)
	require.NoError(t, err)

	a, err := New(config.PlatformConfig{
		Enabled: true,
		BaseURL: baseURL,
		Auth: config.AuthConfig{
			Type:         "oauth2",
			ClientID:     "cid",
			ClientSecret: "secret",
		},
		Retry:    config.RetryBlock{MaxRetries: 1, BaseDelay: "1ms", MaxDelay: "2ms"},
		Settings: raw,
	}, platform.Deps{})
	require.NoError(t, err)
	a.fanoutDelay = 0
	return a
}

func TestAuthenticate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "cid", user)
		require.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		fmt.Fprint(w, `{"access_token":"tok123","expires_in":3600}`)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, Settings{Subreddits: []string{"golang"}})
	a.tokenURL = srv.URL

	require.False(t, a.IsAuthenticated(context.Background()))
	require.True(t, a.Authenticate(context.Background()))
	require.True(t, a.IsAuthenticated(context.Background()))
}

func TestAuthenticateRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, Settings{Subreddits: []string{"golang"}})
	a.tokenURL = srv.URL
	require.False(t, a.Authenticate(context.Background()))
}

func TestPublishFanoutFirstSuccessWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch r.PostForm.Get("sr") {
		case "good":
			fmt.Fprint(w, `{"json":{"errors":[],"data":{"id":"abc","name":"t3_abc","url":"https://www.reddit.com/r/good/comments/abc"}}}`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, Settings{Subreddits: []string{"good", "bad"}})
	content, err := a.FormatContent(testTool())
	require.NoError(t, err)

	res := a.Publish(context.Background(), testTool(), content)
	require.True(t, res.Success)
	require.Equal(t, "t3_abc", res.PostID)
	require.Contains(t, res.URL, "/r/good/")
	// the failing subreddit was a 500, so a later retry could still help
	require.True(t, res.Retryable)
}

func TestPublishAllFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "bad request")
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, Settings{Subreddits: []string{"one", "two"}})
	content, err := a.FormatContent(testTool())
	require.NoError(t, err)

	res := a.Publish(context.Background(), testTool(), content)
	require.False(t, res.Success)
	require.False(t, res.Retryable)
	require.NotEmpty(t, res.Error)
}

func TestPublishAPIErrorsAreTerminal(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"json":{"errors":[["ALREADY_SUB","that link has already been submitted","url"]],"data":{}}}`)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, Settings{Subreddits: []string{"golang"}})
	content, err := a.FormatContent(testTool())
	require.NoError(t, err)

	res := a.Publish(context.Background(), testTool(), content)
	require.False(t, res.Success)
	require.Contains(t, res.Error, "already been submitted")
	require.Equal(t, 1, calls, "in-body errors must not be retried")
}

func TestPostKindAuto(t *testing.T) {
	a := newTestAdapter(t, "http://unused", Settings{Subreddits: []string{"golang"}})

	long := testTool() // long description over the default threshold
	require.Equal(t, "self", a.postKind(long))

	short := testTool()
	short.LongDescription = "brief"
	require.Equal(t, "link", a.postKind(short))

	a.settings.PostType = "link"
	require.Equal(t, "link", a.postKind(long))
}

func TestPostKindCustomThreshold(t *testing.T) {
	a := newTestAdapter(t, "http://unused", Settings{
		Subreddits:        []string{"golang"},
		AutoSelfThreshold: 5,
	})
	short := testTool()
	short.LongDescription = "123456"
	require.Equal(t, "self", a.postKind(short))
}

func TestFormatContentTitleLimit(t *testing.T) {
	a := newTestAdapter(t, "http://unused", Settings{Subreddits: []string{"golang"}})
	tl := testTool()
	tl.ShortDescription = strings.Repeat("long ", 70)

	content, err := a.FormatContent(tl)
	require.NoError(t, err)
	require.LessOrEqual(t, len([]rune(content.Title)), titleLimit)
}

func TestValidateConfig(t *testing.T) {
	a := newTestAdapter(t, "http://unused", Settings{Subreddits: []string{"golang"}})
	require.True(t, a.ValidateConfig().Valid)

	bad := newTestAdapter(t, "http://unused", Settings{Subreddits: []string{"no spaces allowed"}})
	v := bad.ValidateConfig()
	require.False(t, v.Valid)
	require.NotEmpty(t, v.Errors)
}

func TestPostURL(t *testing.T) {
	a := newTestAdapter(t, "http://unused", Settings{Subreddits: []string{"golang"}})
	require.Equal(t, "https://www.reddit.com/comments/abc", a.PostURL("t3_abc"))
	require.Equal(t, "https://www.reddit.com/comments/abc", a.PostURL("abc"))
}

func TestSettingsString(t *testing.T) {
	s := Settings{Subreddits: []string{"golang"}, PostType: "auto"}
	require.Contains(t, s.String(), `"subreddits":["golang"]`)
	require.Contains(t, s.String(), `"post_type":"auto"`)
}
