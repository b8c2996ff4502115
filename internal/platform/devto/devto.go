// Package devto publishes markdown articles through the DEV community API.
package devto

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"towncrier/internal/config"
	"towncrier/internal/httpx"
	"towncrier/internal/platform"
	"towncrier/internal/tool"
	"towncrier/pkg/logx"
)

const Name = "devto"

const (
	defaultBaseURL = "https://dev.to"

	titleLimit = 255
	maxTags    = 4
	tagLimit   = 20
)

var tagStripRe = regexp.MustCompile(`[^a-z0-9-]`)

// Settings is the devto-specific settings block.
type Settings struct {
	// Tags are merged with the tool's own tags, then sanitized and capped.
	Tags []string `json:"tags,omitempty"`
	// Published false saves a draft instead of publishing.
	Published *bool `json:"published,omitempty"`
	// CanonicalURL true marks the tool URL as the canonical source.
	CanonicalURL bool   `json:"canonical_url,omitempty"`
	Series       string `json:"series,omitempty"`
}

type Adapter struct {
	platform.Base
	settings Settings
}

func New(pc config.PlatformConfig, deps platform.Deps) (*Adapter, error) {
	base, err := platform.NewBase(Name, pc, deps, platform.CapUpdate)
	if err != nil {
		return nil, err
	}
	settings, err := platform.DecodeSettings[Settings](pc.Settings)
	if err != nil {
		return nil, fmt.Errorf("devto settings: %w", err)
	}
	if base.BaseURL == "" {
		base.BaseURL = defaultBaseURL
	}
	return &Adapter{Base: base, settings: settings}, nil
}

func (a *Adapter) ValidateConfig() platform.ValidationResult {
	if !a.Enabled() {
		return platform.OKValidation()
	}
	v := platform.OKValidation()
	if a.Auth.APIKey == "" {
		v.Addf("auth.api_key is required")
	}
	return v
}

// Authenticate probes the authenticated-user endpoint with the API key.
func (a *Adapter) Authenticate(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/api/users/me", nil)
	if err != nil {
		a.Log.Error("auth probe build failed", logx.Err(err))
		return false
	}
	req.Header.Set("api-key", a.Auth.APIKey)

	resp, err := a.Client.Do(req)
	if err != nil {
		a.Log.Error("auth probe failed", logx.Err(httpx.FromTransport(err)))
		return false
	}
	defer func() { _ = httpx.ReadBody(resp) }()
	if resp.StatusCode != http.StatusOK {
		a.Log.Warn("api key rejected", logx.Int("status", resp.StatusCode))
		return false
	}
	return true
}

func (a *Adapter) IsAuthenticated(ctx context.Context) bool {
	return a.Authenticate(ctx)
}

func (a *Adapter) FormatContent(t *tool.Tool) (*platform.FormattedContent, error) {
	title := platform.RenderTitle(a.TitleTemplate, t, time.Now())
	if title == "" {
		title = t.Name + ": " + t.ShortDescription
	}
	title = platform.TruncateRunes(title, titleLimit)

	var body strings.Builder
	body.WriteString(t.LongDescription)
	body.WriteString("\n\n## Links\n\n")
	fmt.Fprintf(&body, "- [Website](%s)\n", t.URL)
	if t.GitHubURL != "" {
		fmt.Fprintf(&body, "- [Source](%s)\n", t.GitHubURL)
	}
	if t.DocumentationURL != "" {
		fmt.Fprintf(&body, "- [Documentation](%s)\n", t.DocumentationURL)
	}
	if len(t.TargetAudience) > 0 {
		fmt.Fprintf(&body, "\n*Built for %s.*\n", strings.Join(t.TargetAudience, ", "))
	}

	return &platform.FormattedContent{
		Title:    title,
		Body:     body.String(),
		URL:      t.URL,
		Tags:     mergeTags(t.Tags, a.settings.Tags),
		Metadata: map[string]any{},
	}, nil
}

// mergeTags merges tool and configured tags, sanitizes each (lowercase,
// spaces to hyphens, alphanumerics and hyphens only, max 20 chars), drops
// duplicates and empties, and caps the list at four.
func mergeTags(toolTags, extra []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, maxTags)
	for _, raw := range append(append([]string{}, toolTags...), extra...) {
		tag := sanitizeTag(raw)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
		if len(out) == maxTags {
			break
		}
	}
	return out
}

func sanitizeTag(raw string) string {
	tag := strings.ToLower(strings.TrimSpace(raw))
	tag = strings.ReplaceAll(tag, " ", "-")
	tag = tagStripRe.ReplaceAllString(tag, "")
	tag = strings.Trim(tag, "-")
	if len(tag) > tagLimit {
		tag = tag[:tagLimit]
	}
	return tag
}

type articlePayload struct {
	Article struct {
		Title        string   `json:"title"`
		BodyMarkdown string   `json:"body_markdown"`
		Published    bool     `json:"published"`
		Tags         []string `json:"tags,omitempty"`
		CanonicalURL string   `json:"canonical_url,omitempty"`
		Series       string   `json:"series,omitempty"`
	} `json:"article"`
}

type articleResponse struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

func (a *Adapter) payload(content *platform.FormattedContent) articlePayload {
	var p articlePayload
	p.Article.Title = content.Title
	p.Article.BodyMarkdown = content.Body
	p.Article.Published = a.settings.Published == nil || *a.settings.Published
	p.Article.Tags = content.Tags
	if a.settings.CanonicalURL {
		p.Article.CanonicalURL = content.URL
	}
	p.Article.Series = a.settings.Series
	return p
}

func (a *Adapter) Publish(ctx context.Context, t *tool.Tool, content *platform.FormattedContent) platform.PublishResult {
	var out articleResponse
	err := a.Execute(ctx, func(ctx context.Context) error {
		req, rerr := httpx.NewJSONRequest(http.MethodPost, a.BaseURL+"/api/articles", a.payload(content))
		if rerr != nil {
			return rerr
		}
		req = req.WithContext(ctx)
		req.Header.Set("api-key", a.Auth.APIKey)

		resp, derr := a.Client.Do(req)
		if derr != nil {
			return httpx.FromTransport(derr)
		}
		if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
			return httpx.FromStatus(resp.StatusCode, "article create failed: "+httpx.ReadBody(resp))
		}
		if derr := httpx.DecodeJSON(resp, &out); derr != nil {
			return httpx.Permanent("article response malformed: " + derr.Error())
		}
		return nil
	})
	if err != nil {
		return platform.ResultFromError(err)
	}
	a.Log.Info("article published", logx.Int64("article_id", out.ID), logx.String("url", out.URL))
	return platform.PublishResult{
		Success: true,
		PostID:  fmt.Sprintf("%d", out.ID),
		URL:     out.URL,
	}
}

// UpdatePost replaces an existing article's body and metadata.
func (a *Adapter) UpdatePost(ctx context.Context, postID string, content *platform.FormattedContent) error {
	return a.Execute(ctx, func(ctx context.Context) error {
		req, err := httpx.NewJSONRequest(http.MethodPut, a.BaseURL+"/api/articles/"+postID, a.payload(content))
		if err != nil {
			return err
		}
		req = req.WithContext(ctx)
		req.Header.Set("api-key", a.Auth.APIKey)

		resp, err := a.Client.Do(req)
		if err != nil {
			return httpx.FromTransport(err)
		}
		defer func() { _ = httpx.ReadBody(resp) }()
		if resp.StatusCode != http.StatusOK {
			return httpx.FromStatus(resp.StatusCode, "article update failed")
		}
		return nil
	})
}
