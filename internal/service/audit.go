package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/cloo-solutions/mnemo/internal/domain"
)

// auditRecorder appends entries in completion order. Timestamps are
// truncated to microseconds (the store's precision) and forced strictly
// increasing so ordering survives a round trip.
type auditRecorder struct {
	mu      sync.Mutex
	now     func() time.Time
	entries []domain.AuditEntry
}

func newAuditRecorder(now func() time.Time) *auditRecorder {
	return &auditRecorder{now: now}
}

func (r *auditRecorder) record(agent, action, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.now().UTC().Truncate(time.Microsecond)
	if n := len(r.entries); n > 0 {
		if last := r.entries[n-1].Timestamp; !ts.After(last) {
			ts = last.Add(time.Microsecond)
		}
	}
	r.entries = append(r.entries, domain.AuditEntry{
		Timestamp: ts,
		Agent:     agent,
		Action:    action,
		Details:   fmt.Sprintf(format, args...),
	})
}

func (r *auditRecorder) snapshot() []domain.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AuditEntry(nil), r.entries...)
}

// nextAfter returns an audit timestamp strictly after the trail's last entry.
func nextAfter(trail []domain.AuditEntry, now time.Time) time.Time {
	ts := now.UTC().Truncate(time.Microsecond)
	if n := len(trail); n > 0 && !ts.After(trail[n-1].Timestamp) {
		ts = trail[n-1].Timestamp.Add(time.Microsecond)
	}
	return ts
}
