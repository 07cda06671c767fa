package approvals

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrDuplicateRecord is returned when recording a call id that
// already has an outcome.
var ErrDuplicateRecord = fmt.Errorf("outcome already recorded")

// Outcome is the terminal disposition of a call that went through
// the gateway. Exactly one outcome is ever recorded per call id.
type Outcome string

// The possible outcomes.
const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
	OutcomeDenied   Outcome = "denied"
	OutcomeAborted  Outcome = "aborted"
	OutcomeAllowed  Outcome = "allowed"
)

// A Record is one immutable audit entry. Records are never mutated
// after write.
type Record struct {
	CallID    string    `json:"call_id"`
	Call      ToolCall  `json:"tool_call"`
	Outcome   Outcome   `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// A Sink is the durable audit trail for approval outcomes.
type Sink interface {

	// Record writes one outcome. Writing the same call id twice is
	// an error.
	Record(ctx context.Context, r Record) error

	// List returns all decided records, most recent first.
	List(ctx context.Context) ([]Record, error)
}

// A MemorySink keeps records in memory. It is the default sink and
// the one used in tests.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
	seen    map[string]struct{}
}

// NewMemorySink returns a new MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		seen: map[string]struct{}{},
	}
}

// Record implements Sink.
func (s *MemorySink) Record(_ context.Context, r Record) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[r.CallID]; ok {
		return ErrDuplicateRecord
	}

	s.seen[r.CallID] = struct{}{}
	s.records = append(s.records, r)

	return nil
}

// List implements Sink.
func (s *MemorySink) List(_ context.Context) ([]Record, error) {

	s.mu.Lock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	return out, nil
}
