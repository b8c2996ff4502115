// Package github creates announcement discussions in one or more GitHub
// repositories via the GraphQL API.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"towncrier/internal/config"
	"towncrier/internal/httpx"
	"towncrier/internal/platform"
	"towncrier/internal/tool"
	"towncrier/pkg/logx"
)

const Name = "github"

const defaultBaseURL = "https://api.github.com"

// Settings is the github-specific settings block.
type Settings struct {
	// Repositories in "owner/repo" form; one discussion is created in each.
	Repositories []string `json:"repositories"`
	// DiscussionCategory is matched case-insensitively against the repo's
	// categories; an unmatched name falls back to the first category.
	DiscussionCategory string `json:"discussion_category,omitempty"`
}

type Adapter struct {
	platform.Base
	settings Settings

	// fanoutDelay paces discussion creation across repositories.
	fanoutDelay time.Duration
}

func New(pc config.PlatformConfig, deps platform.Deps) (*Adapter, error) {
	base, err := platform.NewBase(Name, pc, deps)
	if err != nil {
		return nil, err
	}
	settings, err := platform.DecodeSettings[Settings](pc.Settings)
	if err != nil {
		return nil, fmt.Errorf("github settings: %w", err)
	}
	if base.BaseURL == "" {
		base.BaseURL = defaultBaseURL
	}
	return &Adapter{Base: base, settings: settings, fanoutDelay: time.Second}, nil
}

func (a *Adapter) ValidateConfig() platform.ValidationResult {
	if !a.Enabled() {
		return platform.OKValidation()
	}
	v := platform.OKValidation()
	if a.Auth.Token == "" {
		v.Addf("auth.token is required")
	}
	if len(a.settings.Repositories) == 0 {
		v.Addf("settings.repositories must list at least one owner/repo")
	}
	for _, repo := range a.settings.Repositories {
		if _, _, err := splitRepo(repo); err != nil {
			v.Addf("settings.repositories: %v", err)
		}
	}
	return v
}

func splitRepo(full string) (owner, name string, err error) {
	parts := strings.Split(full, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository %q is not owner/repo", full)
	}
	return parts[0], parts[1], nil
}

// Authenticate probes the REST /user endpoint with the token.
func (a *Adapter) Authenticate(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/user", nil)
	if err != nil {
		a.Log.Error("auth probe build failed", logx.Err(err))
		return false
	}
	a.decorate(req)

	resp, err := a.Client.Do(req)
	if err != nil {
		a.Log.Error("auth probe failed", logx.Err(httpx.FromTransport(err)))
		return false
	}
	defer func() { _ = httpx.ReadBody(resp) }()
	if resp.StatusCode != http.StatusOK {
		a.Log.Warn("token rejected", logx.Int("status", resp.StatusCode))
		return false
	}
	return true
}

func (a *Adapter) IsAuthenticated(ctx context.Context) bool {
	return a.Authenticate(ctx)
}

func (a *Adapter) decorate(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.Auth.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
}

func (a *Adapter) FormatContent(t *tool.Tool) (*platform.FormattedContent, error) {
	title := platform.RenderTitle(a.TitleTemplate, t, time.Now())
	if title == "" {
		title = t.Name
		if t.Version != "" {
			title += " " + t.Version
		}
		title += " - " + t.ShortDescription
	}

	var body strings.Builder
	body.WriteString(t.LongDescription)
	body.WriteString("\n\n")
	fmt.Fprintf(&body, "**Website:** %s\n", t.URL)
	if t.DocumentationURL != "" {
		fmt.Fprintf(&body, "**Docs:** %s\n", t.DocumentationURL)
	}
	if len(t.Categories) > 0 {
		fmt.Fprintf(&body, "**Categories:** %s\n", strings.Join(t.Categories, ", "))
	}

	return &platform.FormattedContent{
		Title:    title,
		Body:     body.String(),
		URL:      t.URL,
		Tags:     t.Tags,
		Metadata: map[string]any{},
	}, nil
}

// Publish creates one discussion per configured repository, paced. The
// result carries the first success or the last error.
func (a *Adapter) Publish(ctx context.Context, t *tool.Tool, content *platform.FormattedContent) platform.PublishResult {
	var (
		firstSuccess *platform.PublishResult
		lastErr      error
		anyRetryable bool
	)

	for i, repo := range a.settings.Repositories {
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

		id, url, err := a.createDiscussion(ctx, repo, content)
		if err != nil {
			lastErr = err
			if httpx.IsRetryable(err) {
				anyRetryable = true
			}
			a.Log.Warn("discussion create failed", logx.String("repo", repo), logx.Err(err))
			continue
		}
		a.Log.Info("discussion created", logx.String("repo", repo), logx.String("url", url))
		if firstSuccess == nil {
			firstSuccess = &platform.PublishResult{Success: true, PostID: id, URL: url}
		}
	}

	if firstSuccess != nil {
		firstSuccess.Retryable = anyRetryable
		return *firstSuccess
	}
	if lastErr == nil {
		lastErr = httpx.Config("no repositories configured")
	}
	res := platform.ResultFromError(lastErr)
	res.Retryable = anyRetryable || res.Retryable
	return res
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

const repoQuery = `query($owner: String!, $name: String!) {
  repository(owner: $owner, name: $name) {
    id
    hasDiscussionsEnabled
    discussionCategories(first: 25) { nodes { id name } }
  }
}`

const createMutation = `mutation($repositoryId: ID!, $categoryId: ID!, $title: String!, $body: String!) {
  createDiscussion(input: {repositoryId: $repositoryId, categoryId: $categoryId, title: $title, body: $body}) {
    discussion { id url }
  }
}`

func (a *Adapter) createDiscussion(ctx context.Context, repo string, content *platform.FormattedContent) (id, url string, err error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", "", httpx.Config(err.Error())
	}

	err = a.Execute(ctx, func(ctx context.Context) error {
		var repoData struct {
			Repository *struct {
				ID                    string `json:"id"`
				HasDiscussionsEnabled bool   `json:"hasDiscussionsEnabled"`
				DiscussionCategories  struct {
					Nodes []struct {
						ID   string `json:"id"`
						Name string `json:"name"`
					} `json:"nodes"`
				} `json:"discussionCategories"`
			} `json:"repository"`
		}
		if gerr := a.graphql(ctx, repoQuery, map[string]any{"owner": owner, "name": name}, &repoData); gerr != nil {
			return gerr
		}
		if repoData.Repository == nil {
			return httpx.Permanent("repository " + repo + " not found")
		}
		if !repoData.Repository.HasDiscussionsEnabled {
			return httpx.Permanent("discussions are disabled on " + repo)
		}
		cats := repoData.Repository.DiscussionCategories.Nodes
		if len(cats) == 0 {
			return httpx.Permanent("no discussion categories on " + repo)
		}

		categoryID := cats[0].ID
		matched := false
		for _, c := range cats {
			if strings.EqualFold(c.Name, a.settings.DiscussionCategory) {
				categoryID = c.ID
				matched = true
				break
			}
		}
		if !matched && a.settings.DiscussionCategory != "" {
			a.Log.Warn("discussion category not found, using first",
				logx.String("repo", repo),
				logx.String("wanted", a.settings.DiscussionCategory),
				logx.String("using", cats[0].Name))
		}

		var created struct {
			CreateDiscussion struct {
				Discussion struct {
					ID  string `json:"id"`
					URL string `json:"url"`
				} `json:"discussion"`
			} `json:"createDiscussion"`
		}
		vars := map[string]any{
			"repositoryId": repoData.Repository.ID,
			"categoryId":   categoryID,
			"title":        content.Title,
			"body":         content.Body,
		}
		if gerr := a.graphql(ctx, createMutation, vars, &created); gerr != nil {
			return gerr
		}
		id = created.CreateDiscussion.Discussion.ID
		url = created.CreateDiscussion.Discussion.URL
		return nil
	})
	return id, url, err
}

// graphql posts one query and decodes data into out, mapping transport,
// HTTP and GraphQL-level errors into the shared taxonomy.
func (a *Adapter) graphql(ctx context.Context, query string, vars map[string]any, out any) error {
	req, err := httpx.NewJSONRequest(http.MethodPost, a.BaseURL+"/graphql", graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	a.decorate(req)

	resp, err := a.Client.Do(req)
	if err != nil {
		return httpx.FromTransport(err)
	}
	if resp.StatusCode != http.StatusOK {
		return httpx.FromStatus(resp.StatusCode, "graphql call failed: "+httpx.ReadBody(resp))
	}

	var envelope graphQLResponse
	if err := httpx.DecodeJSON(resp, &envelope); err != nil {
		return httpx.Permanent("graphql response malformed: " + err.Error())
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			msgs = append(msgs, e.Message)
		}
		return httpx.Permanent("graphql: " + strings.Join(msgs, "; "))
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return httpx.Permanent("graphql data malformed: " + err.Error())
		}
	}
	return nil
}
