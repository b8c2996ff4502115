// Package engine orchestrates syndication runs: it resolves target
// platforms, drives each publication through its state machine, and isolates
// per-platform failures so one bad platform never blocks the rest.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"towncrier/internal/eventbus"
	"towncrier/internal/platform"
	"towncrier/internal/publication"
	"towncrier/internal/tool"
	"towncrier/pkg/logx"
)

// dryRunPrefix marks sentinel post ids produced without any network call.
const dryRunPrefix = "dry-run-"

// Recorder receives every terminal publication record, e.g. for the
// SQLite archive. Recording failures must not fail the run.
type Recorder interface {
	Record(ctx context.Context, p publication.Publication) error
}

// Options select targets and dispatch behavior for one run.
type Options struct {
	// Platforms limits the run to these platforms; empty means every
	// enabled, registered platform.
	Platforms []string
	// DryRun formats content and records a sentinel result without any
	// network traffic.
	DryRun bool
	// Concurrent dispatches platforms in parallel, bounded by the engine's
	// concurrency limit.
	Concurrent bool
	// SkipPublishedCheck disables the "already published" pre-check.
	SkipPublishedCheck bool
}

// Summary counts outcomes for one run.
type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Result is the outcome of a syndication run. Success means no platform
// failed and at least one succeeded.
type Result struct {
	RunID        string                    `json:"run_id"`
	ToolID       string                    `json:"tool_id"`
	Publications []publication.Publication `json:"publications"`
	Errors       []string                  `json:"errors,omitempty"`
	Summary      Summary                   `json:"summary"`
	Success      bool                      `json:"success"`
}

type Engine struct {
	reg    *platform.Registry
	ledger *publication.Ledger
	src    tool.Source
	log    logx.Logger
	bus    eventbus.Bus
	rec    Recorder

	mu             sync.Mutex
	defaultRetries int
	maxConcurrency int64
}

// Config wires the engine's collaborators.
type Config struct {
	Registry *platform.Registry
	Ledger   *publication.Ledger
	Source   tool.Source
	Log      logx.Logger
	Bus      eventbus.Bus
	Recorder Recorder

	DefaultRetries int
	// MaxConcurrency bounds concurrent dispatch; minimum 1.
	MaxConcurrency int
}

func New(cfg Config) *Engine {
	log := cfg.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	maxConc := int64(cfg.MaxConcurrency)
	if maxConc < 1 {
		maxConc = 1
	}
	retries := cfg.DefaultRetries
	if retries < 0 {
		retries = 0
	}
	return &Engine{
		reg:            cfg.Registry,
		ledger:         cfg.Ledger,
		src:            cfg.Source,
		log:            log.With(logx.String("component", "engine")),
		bus:            cfg.Bus,
		rec:            cfg.Recorder,
		defaultRetries: retries,
		maxConcurrency: maxConc,
	}
}

func (e *Engine) Ledger() *publication.Ledger { return e.ledger }

// Reconfigure refreshes the dispatch limits after a config reload.
// Out-of-range values keep the current setting.
func (e *Engine) Reconfigure(defaultRetries, maxConcurrency int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if defaultRetries >= 0 {
		e.defaultRetries = defaultRetries
	}
	if maxConcurrency >= 1 {
		e.maxConcurrency = int64(maxConcurrency)
	}
}

func (e *Engine) limits() (retries int, conc int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.defaultRetries, e.maxConcurrency
}

// Syndicate publishes the tool to the selected platforms. Validation
// failures abort before any publication record is created.
func (e *Engine) Syndicate(ctx context.Context, t *tool.Tool, opts Options) (*Result, error) {
	if t == nil {
		return nil, fmt.Errorf("nil tool")
	}
	if err := tool.Validate(t); err != nil {
		return nil, fmt.Errorf("tool %s failed validation: %w", t.ID, err)
	}

	res := &Result{
		RunID:  uuid.NewString(),
		ToolID: t.ID,
	}
	log := e.log.With(logx.String("run_id", res.RunID), logx.String("tool", t.ID))

	type target struct {
		name    string
		adapter platform.Adapter
		pubID   string
	}
	var targets []target
	retries, maxConc := e.limits()

	names := opts.Platforms
	if len(names) == 0 {
		names = e.reg.Names()
	}
	for _, name := range names {
		ad, ok := e.reg.Get(name)
		if !ok {
			// An explicitly requested platform that cannot be resolved is a
			// failure, not a skip, so Success reflects it.
			res.Errors = append(res.Errors, fmt.Sprintf("no adapter registered for platform %q", name))
			res.Summary.Failed++
			continue
		}
		if !ad.Enabled() {
			if len(opts.Platforms) > 0 {
				res.Errors = append(res.Errors, fmt.Sprintf("platform %q is disabled", name))
				res.Summary.Failed++
			} else {
				res.Summary.Skipped++
			}
			continue
		}
		if !opts.SkipPublishedCheck && !opts.DryRun && e.ledger.HasSuccess(t.ID, name) {
			log.Info("already published, skipping", logx.String("platform", name))
			e.emit(eventbus.TypePublishSkipped, eventbus.PublishEvent{ToolID: t.ID, Platform: name})
			res.Summary.Skipped++
			continue
		}

		p := e.ledger.Create(t.ID, name, retries)
		targets = append(targets, target{name: name, adapter: ad, pubID: p.ID})
	}
	res.Summary.Total = len(targets) + res.Summary.Skipped + res.Summary.Failed

	if opts.Concurrent && len(targets) > 1 {
		sem := semaphore.NewWeighted(maxConc)
		done := make(chan struct{}, len(targets))
		for _, tg := range targets {
			tg := tg
			if err := sem.Acquire(ctx, 1); err != nil {
				e.failPublication(tg.pubID, t.ID, tg.name, err.Error())
				done <- struct{}{}
				continue
			}
			go func() {
				defer sem.Release(1)
				defer func() { done <- struct{}{} }()
				e.attempt(ctx, t, tg.adapter, tg.pubID, opts.DryRun)
			}()
		}
		for range targets {
			<-done
		}
	} else {
		for _, tg := range targets {
			e.attempt(ctx, t, tg.adapter, tg.pubID, opts.DryRun)
		}
	}

	for _, tg := range targets {
		p, ok := e.ledger.Get(tg.pubID)
		if !ok {
			continue
		}
		res.Publications = append(res.Publications, p)
		switch p.Status {
		case publication.StatusSuccess:
			res.Summary.Successful++
		default:
			res.Summary.Failed++
			if p.Error != "" {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", p.Platform, p.Error))
			}
		}
	}
	res.Success = res.Summary.Failed == 0 && res.Summary.Successful > 0

	log.Info("run finished",
		logx.Int("total", res.Summary.Total),
		logx.Int("successful", res.Summary.Successful),
		logx.Int("failed", res.Summary.Failed),
		logx.Int("skipped", res.Summary.Skipped))
	return res, nil
}

// attempt drives one existing publication record from in_progress to a
// terminal state. Panics inside an adapter are converted to failures so one
// platform cannot take down the run.
func (e *Engine) attempt(ctx context.Context, t *tool.Tool, ad platform.Adapter, pubID string, dryRun bool) {
	name := ad.Name()
	log := e.log.With(logx.String("platform", name), logx.String("publication", pubID))
	start := time.Now()

	e.setStatus(pubID, publication.StatusInProgress)
	e.emit(eventbus.TypePublishStarted, eventbus.PublishEvent{ToolID: t.ID, Platform: name, PublicationID: pubID, DryRun: dryRun})

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("internal error in %s adapter: %v", name, r)
			log.Error("adapter panicked", logx.Any("panic", r))
			e.failPublication(pubID, t.ID, name, msg)
		}
	}()

	if v := ad.ValidateConfig(); !v.Valid {
		e.failPublication(pubID, t.ID, name, "invalid configuration: "+strings.Join(v.Errors, "; "))
		return
	}

	if dryRun {
		if _, err := ad.FormatContent(t); err != nil {
			e.failPublication(pubID, t.ID, name, "formatting failed: "+err.Error())
			return
		}
		postID := dryRunPrefix + pubID
		ok := publication.StatusSuccess
		dr := true
		e.ledger.Update(pubID, publication.Patch{Status: &ok, PlatformPostID: &postID, DryRun: &dr})
		e.record(ctx, pubID)
		e.emit(eventbus.TypePublishSucceeded, eventbus.PublishEvent{ToolID: t.ID, Platform: name, PublicationID: pubID, PostID: postID, DryRun: true})
		log.Info("dry run ok", logx.Duration("took", time.Since(start)))
		return
	}

	if !ad.IsAuthenticated(ctx) && !ad.Authenticate(ctx) {
		e.failPublication(pubID, t.ID, name, "authentication failed")
		return
	}

	content, err := ad.FormatContent(t)
	if err != nil {
		e.failPublication(pubID, t.ID, name, "formatting failed: "+err.Error())
		return
	}

	pr := ad.Publish(ctx, t, content)
	if !pr.Success {
		e.failPublication(pubID, t.ID, name, pr.Error)
		log.Warn("publish failed", logx.String("error", pr.Error), logx.Bool("retryable", pr.Retryable))
		return
	}

	postURL := pr.URL
	if postURL == "" && ad.HasCapability(platform.CapPostURL) {
		if r, ok := ad.(platform.URLResolver); ok {
			postURL = r.PostURL(pr.PostID)
		}
	}
	ok := publication.StatusSuccess
	e.ledger.Update(pubID, publication.Patch{Status: &ok, PlatformPostID: &pr.PostID, URL: &postURL})
	e.record(ctx, pubID)
	e.emit(eventbus.TypePublishSucceeded, eventbus.PublishEvent{
		ToolID: t.ID, Platform: name, PublicationID: pubID, PostID: pr.PostID,
		TookMS: time.Since(start).Milliseconds(),
	})
	log.Info("published", logx.String("post_id", pr.PostID), logx.Duration("took", time.Since(start)))
}

// RetryFailed re-dispatches every failed publication of the tool that still
// has retry budget. Records move failed -> retrying -> in_progress.
func (e *Engine) RetryFailed(ctx context.Context, toolID string, opts Options) (*Result, error) {
	if e.src == nil {
		return nil, fmt.Errorf("no tool source configured")
	}
	t, err := e.src.Lookup(toolID)
	if err != nil {
		return nil, fmt.Errorf("lookup tool %s: %w", toolID, err)
	}

	res := &Result{RunID: uuid.NewString(), ToolID: toolID}
	for _, p := range e.ledger.ByTool(toolID) {
		if !e.ledger.ShouldRetry(p.ID) {
			continue
		}
		ad, ok := e.reg.Get(p.Platform)
		if !ok || !ad.Enabled() {
			res.Summary.Skipped++
			continue
		}

		retrying := publication.StatusRetrying
		next := p.RetryCount + 1
		e.ledger.Update(p.ID, publication.Patch{Status: &retrying, RetryCount: &next})
		e.emit(eventbus.TypeRetryScheduled, eventbus.PublishEvent{ToolID: toolID, Platform: p.Platform, PublicationID: p.ID, Attempts: next})

		e.attempt(ctx, t, ad, p.ID, opts.DryRun)

		done, _ := e.ledger.Get(p.ID)
		res.Publications = append(res.Publications, done)
		if done.Status == publication.StatusSuccess {
			res.Summary.Successful++
		} else {
			res.Summary.Failed++
			if done.Error != "" {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", done.Platform, done.Error))
			}
		}
	}
	res.Summary.Total = len(res.Publications) + res.Summary.Skipped
	res.Success = res.Summary.Failed == 0 && res.Summary.Successful > 0
	return res, nil
}

func (e *Engine) setStatus(pubID string, s publication.Status) {
	e.ledger.Update(pubID, publication.Patch{Status: &s})
}

func (e *Engine) failPublication(pubID, toolID, platformName, msg string) {
	failed := publication.StatusFailed
	e.ledger.Update(pubID, publication.Patch{Status: &failed, Error: &msg})
	e.record(context.Background(), pubID)
	e.emit(eventbus.TypePublishFailed, eventbus.PublishEvent{ToolID: toolID, Platform: platformName, PublicationID: pubID, Err: msg})
}

func (e *Engine) record(ctx context.Context, pubID string) {
	if e.rec == nil {
		return
	}
	p, ok := e.ledger.Get(pubID)
	if !ok {
		return
	}
	if err := e.rec.Record(ctx, p); err != nil {
		e.log.Warn("archive write failed", logx.String("publication", pubID), logx.Err(err))
	}
}

func (e *Engine) emit(typ string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
