package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"towncrier/internal/config"
	"towncrier/internal/httpx"
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
	}
}

// fakeBotAPI serves getMe plus whatever extra methods the test registers.
// Telebot addresses methods as POST {base}/bot{token}/{method}.
func fakeBotAPI(t *testing.T, methods map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.URL.Path, "/botTOKEN/"), "unexpected path %s", r.URL.Path)
		method := strings.TrimPrefix(r.URL.Path, "/botTOKEN/")
		if method == "getMe" {
			fmt.Fprint(w, `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"crier","username":"crier_bot"}}`)
			return
		}
		h, ok := methods[method]
		require.True(t, ok, "unexpected method %s", method)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAdapter(t *testing.T, baseURL string, settings Settings) *Adapter {
	t.Helper()
	raw, err := json.Marshal(settings)
	require.NoError(t, err)

	a, err := New(config.PlatformConfig{
		Enabled:  true,
		BaseURL:  baseURL,
		Auth:     config.AuthConfig{Type: "token", Token: "TOKEN"},
		Retry:    config.RetryBlock{MaxRetries: 1, BaseDelay: "1ms", MaxDelay: "2ms"},
		Settings: raw,
	}, platform.Deps{})
	require.NoError(t, err)
	return a
}

func TestAuthenticate(t *testing.T) {
	srv := fakeBotAPI(t, nil)
	a := newTestAdapter(t, srv.URL, Settings{Channel: "mychannel"})

	require.False(t, a.IsAuthenticated(context.Background()))
	require.True(t, a.Authenticate(context.Background()))
	require.True(t, a.IsAuthenticated(context.Background()))
}

func TestPublishSendsChannelMessage(t *testing.T) {
	var sent map[string]any
	srv := fakeBotAPI(t, map[string]http.HandlerFunc{
		"sendMessage": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":77,"chat":{"id":-100123,"type":"channel"}}}`)
		},
	})
	a := newTestAdapter(t, srv.URL, Settings{Channel: "mychannel", DisablePreview: true})
	require.True(t, a.Authenticate(context.Background()))

	content, err := a.FormatContent(testTool())
	require.NoError(t, err)
	require.Contains(t, content.Body, "GoCheck")
	require.Contains(t, content.Body, "https://example.com/gocheck")

	res := a.Publish(context.Background(), testTool(), content)
	require.True(t, res.Success)
	require.Equal(t, "77", res.PostID)
	require.Equal(t, "https://t.me/mychannel/77", res.URL)

	require.Equal(t, "@mychannel", sent["chat_id"])
	require.Contains(t, sent["text"], "GoCheck")
}

func TestPublishWithoutAuth(t *testing.T) {
	a := newTestAdapter(t, "http://unused", Settings{Channel: "mychannel"})
	content, _ := a.FormatContent(testTool())

	res := a.Publish(context.Background(), testTool(), content)
	require.False(t, res.Success)
	require.False(t, res.Retryable)
	require.Contains(t, res.Error, "not authenticated")
}

func TestRecipientResolution(t *testing.T) {
	cases := []struct {
		channel string
		want    string
	}{
		{"mychannel", "@mychannel"},
		{"@mychannel", "@mychannel"},
		{"-1001234567890", "-1001234567890"},
	}
	for _, c := range cases {
		a := newTestAdapter(t, "http://unused", Settings{Channel: c.channel})
		require.Equal(t, c.want, a.recipient().Recipient(), "channel %q", c.channel)
	}
}

func TestPostURL(t *testing.T) {
	a := newTestAdapter(t, "http://unused", Settings{Channel: "@mychannel"})
	require.Equal(t, "https://t.me/mychannel/77", a.PostURL("77"))

	numeric := newTestAdapter(t, "http://unused", Settings{Channel: "-100123"})
	require.Empty(t, numeric.PostURL("77"), "private chats have no public message URL")
}

func TestClassify(t *testing.T) {
	flood := tele.FloodError{RetryAfter: 3}
	require.True(t, httpx.IsRetryable(classify(flood)))
	require.True(t, httpx.IsRetryable(classify(&flood)))

	require.Equal(t, httpx.KindAuth, httpx.KindOf(classify(tele.ErrUnauthorized)))
	require.Equal(t, httpx.KindConfig, httpx.KindOf(classify(tele.ErrChatNotFound)))
	require.Equal(t, httpx.KindPermanent, httpx.KindOf(classify(tele.ErrNoRightsToSend)))

	require.Equal(t, httpx.KindPermanent, httpx.KindOf(classify(&tele.Error{Code: 400, Description: "Bad Request"})))
	require.Equal(t, httpx.KindTransient, httpx.KindOf(classify(&tele.Error{Code: 502, Description: "Bad Gateway"})))
	require.NoError(t, classify(nil))
}

func TestDeletePost(t *testing.T) {
	var deleted map[string]any
	srv := fakeBotAPI(t, map[string]http.HandlerFunc{
		"deleteMessage": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&deleted))
			fmt.Fprint(w, `{"ok":true,"result":true}`)
		},
	})
	a := newTestAdapter(t, srv.URL, Settings{Channel: "-100123"})
	require.True(t, a.Authenticate(context.Background()))

	require.NoError(t, a.DeletePost(context.Background(), "77"))
	require.Equal(t, "77", deleted["message_id"])
	require.True(t, a.HasCapability(platform.CapDelete))
}

func TestValidateConfig(t *testing.T) {
	a := newTestAdapter(t, "http://unused", Settings{})
	a.Auth.Token = ""
	v := a.ValidateConfig()
	require.False(t, v.Valid)
	require.Len(t, v.Errors, 2)
}
