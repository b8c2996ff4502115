// Package publication tracks syndication attempts for the lifetime of the
// process. The ledger is the single owner of the record set; only the engine
// mutates it.
package publication

import (
	"fmt"
	"time"
)

// Status of a syndication attempt.
//
// Transitions are driven by the engine:
//
//	pending -> in_progress -> success | failed
//	failed  -> retrying    -> in_progress
//
// success is terminal and must carry a platform post id (or be an explicit
// dry run).
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
)

// Publication is one record per (tool, platform, attempt).
type Publication struct {
	ID             string            `json:"id"`
	ToolID         string            `json:"tool_id"`
	Platform       string            `json:"platform"`
	Status         Status            `json:"status"`
	Timestamp      time.Time         `json:"timestamp"`
	PlatformPostID string            `json:"platform_post_id,omitempty"`
	URL            string            `json:"url,omitempty"`
	Error          string            `json:"error,omitempty"`
	RetryCount     int               `json:"retry_count"`
	MaxRetries     int               `json:"max_retries"`
	DryRun         bool              `json:"dry_run,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// NewID derives a unique publication id from the tool, platform and creation
// time. Nanosecond resolution keeps ids unique within a run.
func NewID(toolID, platform string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%d", toolID, platform, at.UnixNano())
}
