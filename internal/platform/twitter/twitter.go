// Package twitter announces tools as a tweet thread via the v2 API.
package twitter

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"towncrier/internal/config"
	"towncrier/internal/httpx"
	"towncrier/internal/platform"
	"towncrier/internal/tool"
	"towncrier/pkg/logx"
)

const Name = "twitter"

const (
	defaultBaseURL = "https://api.twitter.com"

	tweetLimit = 280
)

// Settings is the twitter-specific settings block.
type Settings struct {
	// EnableThreads false collapses the announcement to the lead tweet only.
	EnableThreads *bool `json:"enable_threads,omitempty"`
	// Hashtags are appended to the lead tweet when they fit.
	Hashtags []string `json:"hashtags,omitempty"`
}

type Adapter struct {
	platform.Base
	settings Settings

	// tweetDelay paces consecutive tweets in a thread.
	tweetDelay time.Duration

	mu       sync.Mutex
	username string
}

func New(pc config.PlatformConfig, deps platform.Deps) (*Adapter, error) {
	base, err := platform.NewBase(Name, pc, deps, platform.CapPostURL, platform.CapDelete)
	if err != nil {
		return nil, err
	}
	settings, err := platform.DecodeSettings[Settings](pc.Settings)
	if err != nil {
		return nil, fmt.Errorf("twitter settings: %w", err)
	}
	if base.BaseURL == "" {
		base.BaseURL = defaultBaseURL
	}
	return &Adapter{Base: base, settings: settings, tweetDelay: time.Second}, nil
}

func (a *Adapter) threadsEnabled() bool {
	return a.settings.EnableThreads == nil || *a.settings.EnableThreads
}

func (a *Adapter) ValidateConfig() platform.ValidationResult {
	if !a.Enabled() {
		return platform.OKValidation()
	}
	v := platform.OKValidation()
	if a.Auth.Token == "" {
		v.Addf("auth.token is required")
	}
	return v
}

// Authenticate verifies the token against /2/users/me and caches the handle
// for permalink construction.
func (a *Adapter) Authenticate(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/2/users/me", nil)
	if err != nil {
		a.Log.Error("auth probe build failed", logx.Err(err))
		return false
	}
	req.Header.Set("Authorization", "Bearer "+a.Auth.Token)

	resp, err := a.Client.Do(req)
	if err != nil {
		a.Log.Error("auth probe failed", logx.Err(httpx.FromTransport(err)))
		return false
	}
	if resp.StatusCode != http.StatusOK {
		a.Log.Warn("token rejected", logx.Int("status", resp.StatusCode), logx.String("body", httpx.ReadBody(resp)))
		return false
	}

	var out struct {
		Data struct {
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := httpx.DecodeJSON(resp, &out); err != nil {
		a.Log.Error("auth response malformed", logx.Err(err))
		return false
	}

	a.mu.Lock()
	a.username = out.Data.Username
	a.mu.Unlock()
	return true
}

func (a *Adapter) IsAuthenticated(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.username != ""
}

// FormatContent composes the thread. Tweet one leads with name, short
// description and hashtags when they fit; tweet two carries the long
// description plus the URL when it fits; tweet three lists categories and
// audience. The URL is appended to the final tweet if no earlier tweet holds
// it. Threads disabled collapses everything to a single tweet, truncating the
// text to make room for the URL inside it.
func (a *Adapter) FormatContent(t *tool.Tool) (*platform.FormattedContent, error) {
	lead := t.Name + ": " + t.ShortDescription
	if tags := hashtags(append(append([]string{}, t.Tags...), a.settings.Hashtags...)); tags != "" {
		if utf8.RuneCountInString(lead+"\n\n"+tags) <= tweetLimit {
			lead = lead + "\n\n" + tags
		}
	}

	if !a.threadsEnabled() {
		single := singleTweet(lead, t.URL)
		return &platform.FormattedContent{
			Title:    t.Name,
			Body:     single,
			URL:      t.URL,
			Tags:     t.Tags,
			Metadata: map[string]any{"thread": []string{single}},
		}, nil
	}

	lead = platform.TruncateRunes(lead, tweetLimit)

	thread := []string{lead}
	if t.LongDescription != "" {
		second := t.LongDescription
		if utf8.RuneCountInString(second+"\n\n"+t.URL) <= tweetLimit {
			second = second + "\n\n" + t.URL
		} else {
			second = platform.TruncateRunes(second, tweetLimit)
		}
		thread = append(thread, second)
	}
	if third := detailTweet(t); third != "" {
		thread = append(thread, platform.TruncateRunes(third, tweetLimit))
	}

	if !containsURL(thread, t.URL) {
		last := len(thread) - 1
		if utf8.RuneCountInString(thread[last]+"\n\n"+t.URL) <= tweetLimit {
			thread[last] = thread[last] + "\n\n" + t.URL
		} else {
			thread = append(thread, t.URL)
		}
	}

	return &platform.FormattedContent{
		Title:    t.Name,
		Body:     thread[0],
		URL:      t.URL,
		Tags:     t.Tags,
		Metadata: map[string]any{"thread": thread},
	}, nil
}

// singleTweet fits text and URL into one tweet, truncating the text rather
// than spilling the URL into a follow-up.
func singleTweet(text, url string) string {
	if url == "" || strings.Contains(text, url) {
		return platform.TruncateRunes(text, tweetLimit)
	}
	suffix := "\n\n" + url
	if utf8.RuneCountInString(text+suffix) <= tweetLimit {
		return text + suffix
	}
	room := tweetLimit - utf8.RuneCountInString(suffix)
	if room <= 0 {
		return platform.TruncateRunes(url, tweetLimit)
	}
	return platform.TruncateRunes(text, room) + suffix
}

func detailTweet(t *tool.Tool) string {
	var parts []string
	if len(t.Categories) > 0 {
		parts = append(parts, "Categories: "+strings.Join(t.Categories, ", "))
	}
	if len(t.TargetAudience) > 0 {
		parts = append(parts, "For: "+strings.Join(t.TargetAudience, ", "))
	}
	return strings.Join(parts, "\n")
}

func containsURL(thread []string, url string) bool {
	if url == "" {
		return true
	}
	for _, tw := range thread {
		if strings.Contains(tw, url) {
			return true
		}
	}
	return false
}

func hashtags(tags []string) string {
	seen := map[string]bool{}
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		tag := strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
				return r
			}
			return -1
		}, raw)
		if tag == "" || seen[strings.ToLower(tag)] {
			continue
		}
		seen[strings.ToLower(tag)] = true
		out = append(out, "#"+tag)
	}
	return strings.Join(out, " ")
}

// Publish posts the thread sequentially, chaining replies. The result
// carries the lead tweet's id. A mid-thread failure reports the error but
// keeps the already-posted tweets.
func (a *Adapter) Publish(ctx context.Context, t *tool.Tool, content *platform.FormattedContent) platform.PublishResult {
	thread, _ := content.Metadata["thread"].([]string)
	if len(thread) == 0 {
		thread = []string{content.Body}
	}

	var leadID string
	prevID := ""
	for i, text := range thread {
		if i > 0 && a.tweetDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(a.tweetDelay):
			}
		}
		if ctx.Err() != nil {
			return platform.ResultFromError(ctx.Err())
		}

		id, err := a.postTweet(ctx, text, prevID)
		if err != nil {
			a.Log.Warn("tweet failed", logx.Int("position", i+1), logx.Err(err))
			if leadID != "" {
				// Partial thread: the announcement is out, so report success
				// with the lead tweet but note the truncation.
				a.Log.Warn("thread truncated", logx.Int("posted", i), logx.Int("planned", len(thread)))
				return platform.PublishResult{Success: true, PostID: leadID, URL: a.PostURL(leadID)}
			}
			return platform.ResultFromError(err)
		}
		if leadID == "" {
			leadID = id
		}
		prevID = id
	}

	a.Log.Info("thread posted", logx.Int("tweets", len(thread)), logx.String("lead_id", leadID))
	return platform.PublishResult{Success: true, PostID: leadID, URL: a.PostURL(leadID)}
}

func (a *Adapter) postTweet(ctx context.Context, text, inReplyTo string) (string, error) {
	payload := map[string]any{"text": text}
	if inReplyTo != "" {
		payload["reply"] = map[string]any{"in_reply_to_tweet_id": inReplyTo}
	}

	var id string
	err := a.Execute(ctx, func(ctx context.Context) error {
		req, rerr := httpx.NewJSONRequest(http.MethodPost, a.BaseURL+"/2/tweets", payload)
		if rerr != nil {
			return rerr
		}
		req = req.WithContext(ctx)
		req.Header.Set("Authorization", "Bearer "+a.Auth.Token)

		resp, derr := a.Client.Do(req)
		if derr != nil {
			return httpx.FromTransport(derr)
		}
		if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
			return httpx.FromStatus(resp.StatusCode, "tweet failed: "+httpx.ReadBody(resp))
		}

		var out struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		if derr := httpx.DecodeJSON(resp, &out); derr != nil || out.Data.ID == "" {
			return httpx.Permanent("tweet response malformed")
		}
		id = out.Data.ID
		return nil
	})
	return id, err
}

func (a *Adapter) PostURL(postID string) string {
	a.mu.Lock()
	user := a.username
	a.mu.Unlock()
	if user == "" {
		user = "i/web"
	}
	return fmt.Sprintf("https://twitter.com/%s/status/%s", user, postID)
}

func (a *Adapter) DeletePost(ctx context.Context, postID string) error {
	return a.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.BaseURL+"/2/tweets/"+postID, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+a.Auth.Token)

		resp, err := a.Client.Do(req)
		if err != nil {
			return httpx.FromTransport(err)
		}
		defer func() { _ = httpx.ReadBody(resp) }()
		if resp.StatusCode != http.StatusOK {
			return httpx.FromStatus(resp.StatusCode, "tweet delete failed")
		}
		return nil
	})
}
