// Package linkedin posts announcements as UGC shares, for either a member
// profile or a company page.
package linkedin

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"towncrier/internal/config"
	"towncrier/internal/httpx"
	"towncrier/internal/platform"
	"towncrier/internal/tool"
	"towncrier/pkg/logx"
)

const Name = "linkedin"

const (
	defaultBaseURL = "https://api.linkedin.com"

	titleLimit = 150
	bodyLimit  = 3000
)

// Settings is the linkedin-specific settings block.
type Settings struct {
	// ProfileType is "person" (default) or "company".
	ProfileType string `json:"profile_type,omitempty"`
	// CompanyID is required when ProfileType is "company".
	CompanyID string `json:"company_id,omitempty"`
	// Hashtags are appended to the share body, camel-cased.
	Hashtags []string `json:"hashtags,omitempty"`
}

type Adapter struct {
	platform.Base
	settings Settings

	mu       sync.Mutex
	memberID string
}

func New(pc config.PlatformConfig, deps platform.Deps) (*Adapter, error) {
	base, err := platform.NewBase(Name, pc, deps, platform.CapPostURL, platform.CapDelete)
	if err != nil {
		return nil, err
	}
	settings, err := platform.DecodeSettings[Settings](pc.Settings)
	if err != nil {
		return nil, fmt.Errorf("linkedin settings: %w", err)
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
	if a.Auth.Token == "" {
		v.Addf("auth.token is required")
	}
	switch a.settings.ProfileType {
	case "", "person":
	case "company":
		if a.settings.CompanyID == "" {
			v.Addf("settings.company_id is required for profile_type company")
		}
	default:
		v.Addf("settings.profile_type must be person or company, got %q", a.settings.ProfileType)
	}
	return v
}

// Authenticate fetches the member profile; the resolved member id becomes
// the post author for person profiles.
func (a *Adapter) Authenticate(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/v2/me", nil)
	if err != nil {
		a.Log.Error("profile request build failed", logx.Err(err))
		return false
	}
	a.decorate(req)

	resp, err := a.Client.Do(req)
	if err != nil {
		a.Log.Error("profile fetch failed", logx.Err(httpx.FromTransport(err)))
		return false
	}
	if resp.StatusCode != http.StatusOK {
		body := httpx.ReadBody(resp)
		a.Log.Warn("token rejected", logx.Int("status", resp.StatusCode), logx.String("body", body))
		return false
	}

	var profile struct {
		ID string `json:"id"`
	}
	if err := httpx.DecodeJSON(resp, &profile); err != nil || profile.ID == "" {
		a.Log.Error("profile response malformed", logx.Err(err))
		return false
	}

	a.mu.Lock()
	a.memberID = profile.ID
	a.mu.Unlock()
	return true
}

func (a *Adapter) IsAuthenticated(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.memberID != ""
}

func (a *Adapter) decorate(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.Auth.Token)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
}

func (a *Adapter) FormatContent(t *tool.Tool) (*platform.FormattedContent, error) {
	title := platform.RenderTitle(a.TitleTemplate, t, time.Now())
	if title == "" {
		title = t.Name + ": " + t.ShortDescription
	}
	title = platform.TruncateRunes(title, titleLimit)

	hashtags := hashtagLine(append(append([]string{}, t.Tags...), a.settings.Hashtags...))

	var body strings.Builder
	body.WriteString(t.ShortDescription)
	if t.LongDescription != "" {
		body.WriteString("\n\n")
		body.WriteString(t.LongDescription)
	}
	body.WriteString("\n\n")
	body.WriteString(t.URL)
	if hashtags != "" {
		body.WriteString("\n\n")
		body.WriteString(hashtags)
	}

	return &platform.FormattedContent{
		Title:    title,
		Body:     platform.TruncateRunes(body.String(), bodyLimit),
		URL:      t.URL,
		Tags:     t.Tags,
		Metadata: map[string]any{},
	}, nil
}

// hashtagLine camel-cases tags into hashtags, dropping non-alphanumerics:
// "dev tools" becomes "#DevTools".
func hashtagLine(tags []string) string {
	seen := map[string]bool{}
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		tag := camelTag(raw)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, "#"+tag)
	}
	return strings.Join(out, " ")
}

func camelTag(raw string) string {
	words := strings.FieldsFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var b strings.Builder
	for _, w := range words {
		r := []rune(w)
		b.WriteRune(unicode.ToUpper(r[0]))
		b.WriteString(string(r[1:]))
	}
	return b.String()
}

func (a *Adapter) author() string {
	if a.settings.ProfileType == "company" {
		return "urn:li:organization:" + a.settings.CompanyID
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return "urn:li:person:" + a.memberID
}

func (a *Adapter) Publish(ctx context.Context, t *tool.Tool, content *platform.FormattedContent) platform.PublishResult {
	payload := map[string]any{
		"author":         a.author(),
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]any{"text": content.Body},
				"shareMediaCategory": "ARTICLE",
				"media": []map[string]any{{
					"status":      "READY",
					"originalUrl": content.URL,
					"title":       map[string]any{"text": content.Title},
				}},
			},
		},
		"visibility": map[string]any{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	var postURN string
	err := a.Execute(ctx, func(ctx context.Context) error {
		req, rerr := httpx.NewJSONRequest(http.MethodPost, a.BaseURL+"/v2/ugcPosts", payload)
		if rerr != nil {
			return rerr
		}
		req = req.WithContext(ctx)
		a.decorate(req)

		resp, derr := a.Client.Do(req)
		if derr != nil {
			return httpx.FromTransport(derr)
		}
		if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
			return httpx.FromStatus(resp.StatusCode, "share create failed: "+httpx.ReadBody(resp))
		}

		postURN = resp.Header.Get("X-RestLi-Id")
		var out struct {
			ID string `json:"id"`
		}
		if derr := httpx.DecodeJSON(resp, &out); derr == nil && out.ID != "" {
			postURN = out.ID
		}
		if postURN == "" {
			return httpx.Permanent("share created but no post id returned")
		}
		return nil
	})
	if err != nil {
		return platform.ResultFromError(err)
	}
	a.Log.Info("share published", logx.String("urn", postURN))
	return platform.PublishResult{Success: true, PostID: postURN, URL: a.PostURL(postURN)}
}

func (a *Adapter) PostURL(postID string) string {
	return "https://www.linkedin.com/feed/update/" + postID
}

func (a *Adapter) DeletePost(ctx context.Context, postID string) error {
	return a.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.BaseURL+"/v2/ugcPosts/"+postID, nil)
		if err != nil {
			return err
		}
		a.decorate(req)

		resp, err := a.Client.Do(req)
		if err != nil {
			return httpx.FromTransport(err)
		}
		defer func() { _ = httpx.ReadBody(resp) }()
		if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
			return httpx.FromStatus(resp.StatusCode, "share delete failed")
		}
		return nil
	})
}
