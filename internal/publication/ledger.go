package publication

import (
	"sort"
	"sync"
	"time"
)

// Patch is a partial update merged into an existing record.
// Nil fields are left untouched. The ledger does not validate status
// transitions; the engine is responsible for correct sequencing.
type Patch struct {
	Status         *Status
	PlatformPostID *string
	URL            *string
	Error          *string
	RetryCount     *int
	DryRun         *bool
	Metadata       map[string]string
}

// Ledger is an in-memory, process-lifetime store of publication records.
// It performs no I/O and no eviction.
type Ledger struct {
	mu   sync.RWMutex
	recs map[string]*Publication
}

func NewLedger() *Ledger {
	return &Ledger{recs: map[string]*Publication{}}
}

// Create registers a new pending record and returns a copy of it.
func (l *Ledger) Create(toolID, platform string, maxRetries int) Publication {
	now := time.Now()
	p := &Publication{
		ID:         NewID(toolID, platform, now),
		ToolID:     toolID,
		Platform:   platform,
		Status:     StatusPending,
		Timestamp:  now,
		MaxRetries: maxRetries,
	}
	l.mu.Lock()
	l.recs[p.ID] = p
	l.mu.Unlock()
	return *p
}

// Update merges the patch into the record. It returns false if the id is
// unknown.
func (l *Ledger) Update(id string, patch Patch) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.recs[id]
	if !ok {
		return false
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.PlatformPostID != nil {
		p.PlatformPostID = *patch.PlatformPostID
	}
	if patch.URL != nil {
		p.URL = *patch.URL
	}
	if patch.Error != nil {
		p.Error = *patch.Error
	}
	if patch.RetryCount != nil {
		p.RetryCount = *patch.RetryCount
	}
	if patch.DryRun != nil {
		p.DryRun = *patch.DryRun
	}
	if len(patch.Metadata) > 0 {
		if p.Metadata == nil {
			p.Metadata = map[string]string{}
		}
		for k, v := range patch.Metadata {
			p.Metadata[k] = v
		}
	}
	return true
}

// Get returns a copy of the record, if present.
func (l *Ledger) Get(id string) (Publication, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.recs[id]
	if !ok {
		return Publication{}, false
	}
	return *p, true
}

// ByTool returns copies of all records for the given tool id, oldest first.
func (l *Ledger) ByTool(toolID string) []Publication {
	return l.filter(func(p *Publication) bool { return p.ToolID == toolID })
}

// ByPlatform returns copies of all records for the given platform, oldest first.
func (l *Ledger) ByPlatform(platform string) []Publication {
	return l.filter(func(p *Publication) bool { return p.Platform == platform })
}

// Failed returns copies of all records currently in the failed state.
func (l *Ledger) Failed() []Publication {
	return l.filter(func(p *Publication) bool { return p.Status == StatusFailed })
}

// HasSuccess reports whether the tool already has a successful, non-dry-run
// publication on the platform. Used by the "already published" pre-check.
func (l *Ledger) HasSuccess(toolID, platform string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, p := range l.recs {
		if p.ToolID == toolID && p.Platform == platform && p.Status == StatusSuccess && !p.DryRun {
			return true
		}
	}
	return false
}

// ShouldRetry reports whether the record is failed with retry budget left.
func (l *Ledger) ShouldRetry(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.recs[id]
	if !ok {
		return false
	}
	return p.Status == StatusFailed && p.RetryCount < p.MaxRetries
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.recs)
}

func (l *Ledger) filter(keep func(*Publication) bool) []Publication {
	l.mu.RLock()
	out := make([]Publication, 0, 8)
	for _, p := range l.recs {
		if keep(p) {
			out = append(out, *p)
		}
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
