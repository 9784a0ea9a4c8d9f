// Package performance accumulates the time spent in controller operations
// per deployment session.
package performance

import (
	"runtime"
	"sync"
	"time"
	"weak"
)

// Session identifies the owner of a performance record, typically one
// deployment's logger. The recorder does not keep sessions alive: once the
// host drops its last reference, the record is reclaimed.
type Session struct {
	// ID is a human-readable identifier used in logs.
	ID string

	// started is set so that a Session is never a zero-size allocation.
	started time.Time
}

// NewSession creates a session.
func NewSession(id string) *Session {
	return &Session{ID: id, started: time.Now()}
}

// Operation is one timed controller call.
type Operation struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
}

type record struct {
	operations []Operation
	total      time.Duration
}

// Recorder maps sessions to their recorded operations. It is safe for
// concurrent use.
type Recorder struct {
	mu      sync.Mutex
	records map[weak.Pointer[Session]]*record
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{records: make(map[weak.Pointer[Session]]*record)}
}

// Record appends one operation to the session's record. A nil recorder
// ignores the call.
func (r *Recorder) Record(s *Session, operation string, d time.Duration) {
	if r == nil || s == nil {
		return
	}
	key := weak.Make(s)

	r.mu.Lock()
	rec, ok := r.records[key]
	if !ok {
		rec = &record{}
		r.records[key] = rec
	}
	rec.operations = append(rec.operations, Operation{Name: operation, Duration: d})
	rec.total += d
	r.mu.Unlock()

	if !ok {
		runtime.AddCleanup(s, r.drop, key)
	}
}

// TotalTime returns the summed duration recorded for the session.
func (r *Recorder) TotalTime(s *Session) time.Duration {
	if r == nil || s == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[weak.Make(s)]; ok {
		return rec.total
	}
	return 0
}

// Operations returns a copy of the operations recorded for the session.
func (r *Recorder) Operations(s *Session) []Operation {
	if r == nil || s == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[weak.Make(s)]
	if !ok {
		return nil
	}
	return append([]Operation(nil), rec.operations...)
}

// Clear removes the session's record.
func (r *Recorder) Clear(s *Session) {
	if r == nil || s == nil {
		return
	}
	r.drop(weak.Make(s))
}

// Len returns the number of sessions currently tracked.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *Recorder) drop(key weak.Pointer[Session]) {
	r.mu.Lock()
	delete(r.records, key)
	r.mu.Unlock()
}
