package platform

import (
	"strings"
	"time"

	"towncrier/internal/tool"
)

// RenderTitle expands a configured title template. Supported variables:
// {name} {version} {shortDescription} {url} {date} {timestamp} {category}.
// An empty template returns "" and the adapter falls back to its default
// composition.
func RenderTitle(tpl string, t *tool.Tool, now time.Time) string {
	tpl = strings.TrimSpace(tpl)
	if tpl == "" {
		return ""
	}
	category := ""
	if len(t.Categories) > 0 {
		category = t.Categories[0]
	}
	r := strings.NewReplacer(
		"{name}", t.Name,
		"{version}", t.Version,
		"{shortDescription}", t.ShortDescription,
		"{url}", t.URL,
		"{category}", category,
		"{date}", now.Format("2006-01-02"),
		"{timestamp}", now.Format(time.RFC3339),
	)
	return strings.TrimSpace(r.Replace(tpl))
}

// TruncateRunes shortens s to at most max runes, marking the cut with "...".
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
