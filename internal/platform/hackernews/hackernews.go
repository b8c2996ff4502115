// Package hackernews submits stories through the public HTML forms, since
// there is no write API. It keeps a logged-in session cookie and scrapes the
// submit form for its one-time tokens.
package hackernews

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"towncrier/internal/config"
	"towncrier/internal/httpx"
	"towncrier/internal/platform"
	"towncrier/internal/tool"
	"towncrier/pkg/logx"
)

const Name = "hackernews"

const (
	defaultBaseURL = "https://news.ycombinator.com"

	titleLimit = 80
)

var (
	fnidRe   = regexp.MustCompile(`name="fnid"\s+value="([^"]+)"`)
	fnopRe   = regexp.MustCompile(`name="fnop"\s+value="([^"]+)"`)
	itemIDRe = regexp.MustCompile(`item\?id=(\d+)`)
)

// Settings is the hackernews-specific settings block.
type Settings struct {
	// PostType is "story" (link only), "ask" ("Ask HN:" text post) or
	// "show" ("Show HN:" link post).
	PostType string `json:"post_type,omitempty"`
}

type Adapter struct {
	platform.Base
	settings Settings
}

func New(pc config.PlatformConfig, deps platform.Deps) (*Adapter, error) {
	base, err := platform.NewBase(Name, pc, deps, platform.CapPostURL)
	if err != nil {
		return nil, err
	}
	settings, err := platform.DecodeSettings[Settings](pc.Settings)
	if err != nil {
		return nil, fmt.Errorf("hackernews settings: %w", err)
	}
	if base.BaseURL == "" {
		base.BaseURL = defaultBaseURL
	}

	// Session cookies live in a jar; redirects are not followed so the
	// post-submit Location header stays visible.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	base.Client.Jar = jar
	base.Client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	// Responses that name a terminal condition must never burn retries,
	// whatever the status code says.
	base.Retry.ShouldRetry = func(err error) bool {
		if err == nil {
			return false
		}
		if isTerminalMessage(err.Error()) {
			return false
		}
		return httpx.IsRetryable(err)
	}

	return &Adapter{Base: base, settings: settings}, nil
}

// isTerminalMessage spots response text that retrying cannot fix.
func isTerminalMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, phrase := range []string{"already been submitted", "duplicate", "banned", "bad login"} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func (a *Adapter) ValidateConfig() platform.ValidationResult {
	if !a.Enabled() {
		return platform.OKValidation()
	}
	v := platform.OKValidation()
	if a.Auth.Username == "" {
		v.Addf("auth.username is required")
	}
	if a.Auth.Password == "" {
		v.Addf("auth.password is required")
	}
	switch a.settings.PostType {
	case "", "story", "ask", "show":
	default:
		v.Addf("settings.post_type must be story, ask or show, got %q", a.settings.PostType)
	}
	return v
}

// Authenticate performs the form login; success is a redirect plus a session
// cookie, failure is a page that says "Bad login".
func (a *Adapter) Authenticate(ctx context.Context) bool {
	form := url.Values{}
	form.Set("acct", a.Auth.Username)
	form.Set("pw", a.Auth.Password)
	form.Set("goto", "news")

	req, err := httpx.NewFormRequest(a.BaseURL+"/login", form)
	if err != nil {
		a.Log.Error("login request build failed", logx.Err(err))
		return false
	}
	req = req.WithContext(ctx)

	resp, err := a.Client.Do(req)
	if err != nil {
		a.Log.Error("login failed", logx.Err(httpx.FromTransport(err)))
		return false
	}
	body := httpx.ReadBody(resp)
	if strings.Contains(strings.ToLower(body), "bad login") {
		a.Log.Warn("bad login")
		return false
	}
	if resp.StatusCode != http.StatusFound && resp.StatusCode != http.StatusOK {
		a.Log.Warn("login rejected", logx.Int("status", resp.StatusCode))
		return false
	}
	return a.IsAuthenticated(ctx)
}

// IsAuthenticated probes the submit page; a live session sees the form with
// its fnid token, a dead one gets bounced to the login page.
func (a *Adapter) IsAuthenticated(ctx context.Context) bool {
	body, err := a.fetchSubmitPage(ctx)
	if err != nil {
		return false
	}
	return fnidRe.MatchString(body)
}

func (a *Adapter) fetchSubmitPage(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/submit", nil)
	if err != nil {
		return "", err
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return "", httpx.FromTransport(err)
	}
	body := httpx.ReadBody(resp)
	if resp.StatusCode != http.StatusOK {
		return "", httpx.FromStatus(resp.StatusCode, "submit page fetch failed")
	}
	return body, nil
}

func (a *Adapter) FormatContent(t *tool.Tool) (*platform.FormattedContent, error) {
	title := platform.RenderTitle(a.TitleTemplate, t, time.Now())
	if title == "" {
		title = t.Name + ": " + t.ShortDescription
	}

	postType := a.settings.PostType
	if postType == "" {
		postType = "story"
	}
	switch postType {
	case "ask":
		if !strings.HasPrefix(title, "Ask HN:") {
			title = "Ask HN: " + title
		}
	case "show":
		if !strings.HasPrefix(title, "Show HN:") {
			title = "Show HN: " + title
		}
	}
	title = platform.TruncateRunes(title, titleLimit)

	// Stories and Show HN posts are URL submissions; Ask HN is text-only.
	body := ""
	postURL := t.URL
	if postType == "ask" {
		body = t.LongDescription + "\n\n" + t.URL
		postURL = ""
	}

	return &platform.FormattedContent{
		Title:    title,
		Body:     body,
		URL:      postURL,
		Tags:     nil,
		Metadata: map[string]any{"post_type": postType},
	}, nil
}

func (a *Adapter) Publish(ctx context.Context, t *tool.Tool, content *platform.FormattedContent) platform.PublishResult {
	var postID string
	err := a.Execute(ctx, func(ctx context.Context) error {
		page, err := a.fetchSubmitPage(ctx)
		if err != nil {
			return err
		}
		fnid := firstMatch(fnidRe, page)
		if fnid == "" {
			return httpx.Auth("submit form token missing, session expired")
		}
		fnop := firstMatch(fnopRe, page)
		if fnop == "" {
			fnop = "submit-page"
		}

		form := url.Values{}
		form.Set("fnid", fnid)
		form.Set("fnop", fnop)
		form.Set("title", content.Title)
		form.Set("url", content.URL)
		form.Set("text", content.Body)

		req, err := httpx.NewFormRequest(a.BaseURL+"/r", form)
		if err != nil {
			return err
		}
		req = req.WithContext(ctx)

		resp, err := a.Client.Do(req)
		if err != nil {
			return httpx.FromTransport(err)
		}
		location := resp.Header.Get("Location")
		body := httpx.ReadBody(resp)

		if err := classifyBody(body); err != nil {
			return err
		}
		if resp.StatusCode >= 400 {
			return httpx.FromStatus(resp.StatusCode, "submission failed")
		}

		// The item id shows up in the redirect Location, or failing that
		// somewhere in the returned page.
		postID = firstMatch(itemIDRe, location)
		if postID == "" {
			postID = firstMatch(itemIDRe, body)
		}
		if postID == "" {
			return httpx.Transient("submission accepted but item id not found")
		}
		return nil
	})
	if err != nil {
		return platform.ResultFromError(err)
	}
	a.Log.Info("story submitted", logx.String("item_id", postID))
	return platform.PublishResult{Success: true, PostID: postID, URL: a.PostURL(postID)}
}

// classifyBody maps known response phrases onto the error taxonomy.
func classifyBody(body string) error {
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "already been submitted"), strings.Contains(lower, "duplicate"):
		return httpx.Permanent("url has already been submitted")
	case strings.Contains(lower, "banned"):
		return httpx.Permanent("account or site is banned")
	case strings.Contains(lower, "bad login"):
		return httpx.Auth("session rejected, bad login")
	case strings.Contains(lower, "posting too fast"), strings.Contains(lower, "submitting too fast"):
		return httpx.Transient("posting too fast, slow down")
	}
	return nil
}

func firstMatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func (a *Adapter) PostURL(postID string) string {
	return a.BaseURL + "/item?id=" + postID
}
