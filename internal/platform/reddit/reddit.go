// Package reddit submits link or self posts to one or more subreddits via
// the OAuth2 API.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"towncrier/internal/config"
	"towncrier/internal/eventbus"
	"towncrier/internal/httpx"
	"towncrier/internal/platform"
	"towncrier/internal/tool"
	"towncrier/pkg/logx"
)

const Name = "reddit"

const (
	defaultBaseURL  = "https://oauth.reddit.com"
	defaultTokenURL = "https://www.reddit.com/api/v1/access_token"

	titleLimit = 300

	// autoSelfThreshold: in post_type "auto", descriptions longer than this
	// become self posts. Tunable via settings.auto_self_threshold.
	autoSelfThreshold = 100

	// tokenSkew invalidates cached tokens slightly before their expiry.
	tokenSkew = 30 * time.Second
)

var subredditRe = regexp.MustCompile(`^[A-Za-z0-9_]{3,21}$`)

// Settings is the reddit-specific settings block.
type Settings struct {
	Subreddits []string `json:"subreddits"`
	// PostType is "link", "self" or "auto".
	PostType          string `json:"post_type,omitempty"`
	Flair             string `json:"flair,omitempty"`
	AutoSelfThreshold int    `json:"auto_self_threshold,omitempty"`
}

type Adapter struct {
	platform.Base
	settings Settings

	tokenURL string
	// fanoutDelay paces submissions across subreddits.
	fanoutDelay time.Duration

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func New(pc config.PlatformConfig, deps platform.Deps) (*Adapter, error) {
	base, err := platform.NewBase(Name, pc, deps, platform.CapPostURL, platform.CapDelete)
	if err != nil {
		return nil, err
	}
	settings, err := platform.DecodeSettings[Settings](pc.Settings)
	if err != nil {
		return nil, fmt.Errorf("reddit settings: %w", err)
	}
	if base.BaseURL == "" {
		base.BaseURL = defaultBaseURL
	}
	a := &Adapter{
		Base:        base,
		settings:    settings,
		tokenURL:    defaultTokenURL,
		fanoutDelay: 2 * time.Second,
	}
	a.Log.Debug("adapter configured", logx.String("settings", settings.String()))
	return a, nil
}

func (a *Adapter) ValidateConfig() platform.ValidationResult {
	if !a.Enabled() {
		return platform.OKValidation()
	}
	v := platform.OKValidation()
	if a.Auth.Type != "oauth2" {
		v.Addf("auth.type must be oauth2, got %q", a.Auth.Type)
	}
	if a.Auth.ClientID == "" {
		v.Addf("auth.client_id is required")
	}
	if a.Auth.ClientSecret == "" {
		v.Addf("auth.client_secret is required")
	}
	if len(a.settings.Subreddits) == 0 {
		v.Addf("settings.subreddits must list at least one subreddit")
	}
	for _, sr := range a.settings.Subreddits {
		if !subredditRe.MatchString(sr) {
			v.Addf("settings.subreddits: invalid subreddit name %q", sr)
		}
	}
	switch a.settings.PostType {
	case "", "auto", "link", "self":
	default:
		v.Addf("settings.post_type must be link, self or auto, got %q", a.settings.PostType)
	}
	return v
}

// Authenticate exchanges client credentials (or a refresh token) for a
// bearer token at the token endpoint.
func (a *Adapter) Authenticate(ctx context.Context) bool {
	form := url.Values{}
	if a.Auth.RefreshToken != "" {
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", a.Auth.RefreshToken)
	} else {
		form.Set("grant_type", "client_credentials")
	}

	req, err := httpx.NewFormRequest(a.tokenURL, form)
	if err != nil {
		a.Log.Error("token request build failed", logx.Err(err))
		return false
	}
	req = req.WithContext(ctx)
	req.SetBasicAuth(a.Auth.ClientID, a.Auth.ClientSecret)
	req.Header.Set("User-Agent", userAgent())

	resp, err := a.Client.Do(req)
	if err != nil {
		a.Log.Error("token exchange failed", logx.Err(httpx.FromTransport(err)))
		return false
	}
	if resp.StatusCode != http.StatusOK {
		body := httpx.ReadBody(resp)
		a.Log.Error("token exchange rejected", logx.Int("status", resp.StatusCode), logx.String("body", body))
		return false
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := httpx.DecodeJSON(resp, &tok); err != nil || tok.AccessToken == "" {
		a.Log.Error("token response malformed", logx.Err(err))
		return false
	}

	a.mu.Lock()
	a.accessToken = tok.AccessToken
	a.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	a.mu.Unlock()

	a.Emit(eventbus.TypeAuthRefreshed, map[string]string{"platform": Name})
	a.Log.Debug("access token refreshed", logx.Int("expires_in", tok.ExpiresIn))
	return true
}

// IsAuthenticated checks the cached token and its expiry; no network call.
func (a *Adapter) IsAuthenticated(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accessToken != "" && time.Now().Before(a.tokenExpiry.Add(-tokenSkew))
}

func (a *Adapter) FormatContent(t *tool.Tool) (*platform.FormattedContent, error) {
	title := platform.RenderTitle(a.TitleTemplate, t, time.Now())
	if title == "" {
		title = t.Name
		if t.Version != "" {
			title += " v" + t.Version
		}
		title += " - " + t.ShortDescription
	}
	title = platform.TruncateRunes(title, titleLimit)

	kind := a.postKind(t)

	var body strings.Builder
	if kind == "self" {
		body.WriteString(t.LongDescription)
		body.WriteString("\n\n")
		body.WriteString(t.URL)
		if t.GitHubURL != "" {
			body.WriteString("\n\nSource: ")
			body.WriteString(t.GitHubURL)
		}
		if t.DocumentationURL != "" {
			body.WriteString("\n\nDocs: ")
			body.WriteString(t.DocumentationURL)
		}
	}

	return &platform.FormattedContent{
		Title: title,
		Body:  body.String(),
		URL:   t.URL,
		Tags:  t.Tags,
		Metadata: map[string]any{
			"post_type": kind,
			"flair":     a.settings.Flair,
		},
	}, nil
}

// postKind picks link vs self. "auto" falls back to a description-length
// heuristic.
func (a *Adapter) postKind(t *tool.Tool) string {
	switch a.settings.PostType {
	case "link", "self":
		return a.settings.PostType
	}
	threshold := a.settings.AutoSelfThreshold
	if threshold <= 0 {
		threshold = autoSelfThreshold
	}
	if len(t.LongDescription) > threshold {
		return "self"
	}
	return "link"
}

// Publish fans out one submission per configured subreddit, pacing them when
// there is more than one. The result carries the first success (or the last
// error); retryable is true if any attempt was retryable.
func (a *Adapter) Publish(ctx context.Context, t *tool.Tool, content *platform.FormattedContent) platform.PublishResult {
	var (
		firstSuccess *platform.PublishResult
		lastErr      error
		anyRetryable bool
	)

	for i, sr := range a.settings.Subreddits {
		if i > 0 && a.fanoutDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(a.fanoutDelay):
			}
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		postID, postURL, err := a.submit(ctx, sr, content)
		if err != nil {
			lastErr = err
			if httpx.IsRetryable(err) {
				anyRetryable = true
			}
			a.Log.Warn("subreddit submission failed", logx.String("subreddit", sr), logx.Err(err))
			continue
		}
		a.Log.Info("submitted", logx.String("subreddit", sr), logx.String("post_id", postID))
		if firstSuccess == nil {
			firstSuccess = &platform.PublishResult{Success: true, PostID: postID, URL: postURL}
		}
	}

	if firstSuccess != nil {
		firstSuccess.Retryable = anyRetryable
		return *firstSuccess
	}
	if lastErr == nil {
		lastErr = httpx.Config("no subreddits configured")
	}
	res := platform.ResultFromError(lastErr)
	res.Retryable = anyRetryable || res.Retryable
	return res
}

func (a *Adapter) submit(ctx context.Context, subreddit string, content *platform.FormattedContent) (postID, postURL string, err error) {
	kind, _ := content.Metadata["post_type"].(string)
	flair, _ := content.Metadata["flair"].(string)

	form := url.Values{}
	form.Set("api_type", "json")
	form.Set("sr", subreddit)
	form.Set("title", content.Title)
	if kind == "self" {
		form.Set("kind", "self")
		form.Set("text", content.Body)
	} else {
		form.Set("kind", "link")
		form.Set("url", content.URL)
	}
	if flair != "" {
		form.Set("flair_id", flair)
	}

	err = a.Execute(ctx, func(ctx context.Context) error {
		req, rerr := httpx.NewFormRequest(a.BaseURL+"/api/submit", form)
		if rerr != nil {
			return rerr
		}
		req = req.WithContext(ctx)
		a.mu.Lock()
		req.Header.Set("Authorization", "Bearer "+a.accessToken)
		a.mu.Unlock()
		req.Header.Set("User-Agent", userAgent())

		resp, derr := a.Client.Do(req)
		if derr != nil {
			return httpx.FromTransport(derr)
		}
		if resp.StatusCode != http.StatusOK {
			return httpx.FromStatus(resp.StatusCode, "submit to r/"+subreddit+" failed: "+httpx.ReadBody(resp))
		}

		var out submitResponse
		if derr := httpx.DecodeJSON(resp, &out); derr != nil {
			return httpx.Permanent("submit response malformed: " + derr.Error())
		}
		if len(out.JSON.Errors) > 0 {
			return httpx.Permanent("reddit rejected submission: " + flattenErrors(out.JSON.Errors))
		}
		postID = out.JSON.Data.Name
		if postID == "" {
			postID = out.JSON.Data.ID
		}
		postURL = out.JSON.Data.URL
		return nil
	})
	return postID, postURL, err
}

type submitResponse struct {
	JSON struct {
		Errors [][]any `json:"errors"`
		Data   struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"data"`
	} `json:"json"`
}

func flattenErrors(errs [][]any) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		sub := make([]string, 0, len(e))
		for _, f := range e {
			sub = append(sub, fmt.Sprint(f))
		}
		parts = append(parts, strings.Join(sub, " "))
	}
	return strings.Join(parts, "; ")
}

// PostURL builds a permalink from a fullname or bare id.
func (a *Adapter) PostURL(postID string) string {
	id := strings.TrimPrefix(postID, "t3_")
	return "https://www.reddit.com/comments/" + id
}

// DeletePost removes a previously submitted post.
func (a *Adapter) DeletePost(ctx context.Context, postID string) error {
	form := url.Values{}
	form.Set("id", fullname(postID))
	return a.Execute(ctx, func(ctx context.Context) error {
		req, err := httpx.NewFormRequest(a.BaseURL+"/api/del", form)
		if err != nil {
			return err
		}
		req = req.WithContext(ctx)
		a.mu.Lock()
		req.Header.Set("Authorization", "Bearer "+a.accessToken)
		a.mu.Unlock()
		req.Header.Set("User-Agent", userAgent())

		resp, err := a.Client.Do(req)
		if err != nil {
			return httpx.FromTransport(err)
		}
		defer func() { _ = httpx.ReadBody(resp) }()
		if resp.StatusCode != http.StatusOK {
			return httpx.FromStatus(resp.StatusCode, "delete failed")
		}
		return nil
	})
}

func fullname(postID string) string {
	if strings.HasPrefix(postID, "t3_") {
		return postID
	}
	return "t3_" + postID
}

func userAgent() string {
	return "towncrier/1.0 (announcement syndication)"
}

// marshal settings back out for debugging snapshots.
func (s Settings) String() string {
	b, _ := json.Marshal(s)
	return string(b)
}
