// Package platform defines the adapter contract every syndication target
// implements, plus the shared plumbing adapters build on (rate limiting,
// retries, settings decode, title templates).
package platform

import (
	"context"
	"encoding/json"
	"fmt"

	"towncrier/internal/tool"
)

// Capability tags optional adapter operations. Callers must check
// HasCapability before type-asserting the corresponding interface.
type Capability string

const (
	CapPostURL Capability = "post_url"
	CapDelete  Capability = "delete"
	CapUpdate  Capability = "update"
)

// FormattedContent is the platform-ready transformation of a Tool.
// Produced fresh per attempt; never persisted.
type FormattedContent struct {
	Title string
	Body  string
	URL   string
	Tags  []string

	// Metadata carries platform-specific extras (e.g. a pre-split tweet
	// thread under "thread").
	Metadata map[string]any
}

// PublishResult is the normalized outcome of a publish call.
// Adapters never let an error escape Publish; failures land here.
type PublishResult struct {
	Success   bool
	PostID    string
	URL       string
	Error     string
	Retryable bool
}

// ValidationResult reports structural problems in an adapter's config.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

func OKValidation() ValidationResult { return ValidationResult{Valid: true} }

func (v *ValidationResult) Addf(format string, args ...any) {
	v.Valid = false
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Adapter is the per-platform publish contract.
//
// Authenticate and IsAuthenticated return false rather than erroring; the
// cause is logged by the adapter. Publish never panics or returns a Go error;
// all failures are captured in the PublishResult.
type Adapter interface {
	Name() string
	Enabled() bool

	ValidateConfig() ValidationResult

	Authenticate(ctx context.Context) bool
	IsAuthenticated(ctx context.Context) bool

	// FormatContent is a pure transformation: same tool and config yield
	// byte-identical output (template {date}/{timestamp} variables aside).
	FormatContent(t *tool.Tool) (*FormattedContent, error)

	Publish(ctx context.Context, t *tool.Tool, content *FormattedContent) PublishResult

	HasCapability(c Capability) bool
}

// URLResolver is implemented by adapters tagged CapPostURL.
type URLResolver interface {
	PostURL(postID string) string
}

// Deleter is implemented by adapters tagged CapDelete.
type Deleter interface {
	DeletePost(ctx context.Context, postID string) error
}

// Updater is implemented by adapters tagged CapUpdate.
type Updater interface {
	UpdatePost(ctx context.Context, postID string, content *FormattedContent) error
}

// DecodeSettings decodes a platform's raw settings blob into its typed
// settings struct. Empty blobs yield the zero value.
func DecodeSettings[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
