// Package tool defines the record being syndicated and its loading rules.
package tool

import (
	"fmt"
	"net/url"
	"strings"
)

// ShortDescriptionMax bounds the teaser used on character-limited platforms.
const ShortDescriptionMax = 280

// Tool is an immutable description of what is being announced.
// The engine never mutates it.
type Tool struct {
	ID               string            `json:"id" yaml:"id"`
	Name             string            `json:"name" yaml:"name"`
	ShortDescription string            `json:"short_description" yaml:"short_description"`
	LongDescription  string            `json:"long_description" yaml:"long_description"`
	URL              string            `json:"url" yaml:"url"`
	Categories       []string          `json:"categories" yaml:"categories"`
	TargetAudience   []string          `json:"target_audience" yaml:"target_audience"`
	Version          string            `json:"version,omitempty" yaml:"version,omitempty"`
	Tags             []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	GitHubURL        string            `json:"github_url,omitempty" yaml:"github_url,omitempty"`
	DocumentationURL string            `json:"documentation_url,omitempty" yaml:"documentation_url,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ValidationError carries field-level problems found in a Tool record.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid tool: " + strings.Join(e.Fields, "; ")
}

// Validate performs the structural checks the engine relies on before any
// platform dispatch. Upstream loaders may apply stricter rules; the engine
// re-validates independently.
func Validate(t *Tool) error {
	var fields []string
	if t == nil {
		return &ValidationError{Fields: []string{"tool: record is nil"}}
	}
	if strings.TrimSpace(t.ID) == "" {
		fields = append(fields, "id: required")
	}
	if strings.TrimSpace(t.Name) == "" {
		fields = append(fields, "name: required")
	}
	if strings.TrimSpace(t.ShortDescription) == "" {
		fields = append(fields, "short_description: required")
	} else if len([]rune(t.ShortDescription)) > ShortDescriptionMax {
		fields = append(fields, fmt.Sprintf("short_description: exceeds %d characters", ShortDescriptionMax))
	}
	if strings.TrimSpace(t.URL) == "" {
		fields = append(fields, "url: required")
	} else if u, err := url.Parse(t.URL); err != nil || u.Scheme == "" || u.Host == "" {
		fields = append(fields, "url: not a valid absolute URL")
	}
	if len(t.Categories) == 0 {
		fields = append(fields, "categories: at least one required")
	}
	if len(t.TargetAudience) == 0 {
		fields = append(fields, "target_audience: at least one required")
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
