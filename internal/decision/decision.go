// Package decision holds reviewer verdicts on emitted spectrum frames.
// Each frame is registered as a subject; viewers attach verification or
// classification decisions keyed by tag, and a finalized subject becomes a
// flat result row.
package decision

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSubjectNotFound is returned for unknown or evicted subject ids
	ErrSubjectNotFound = errors.New("decision: subject not found")

	// ErrInvalidDecision is returned when a decision fails validation
	ErrInvalidDecision = errors.New("decision: invalid decision")
)

// Kind is the type of a decision
type Kind string

const (
	KindVerification   Kind = "verification"
	KindClassification Kind = "classification"
)

// Subject references one frame of audio under review
type Subject struct {
	ID          string              `json:"id"`
	Sequence    uint64              `json:"sequence"`
	StartSample uint64              `json:"start_sample"`
	Length      int                 `json:"length"`
	SampleRate  int                 `json:"sample_rate"`
	Metadata    map[string]string   `json:"metadata,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	Decisions   map[string]Decision `json:"decisions"`
}

// Decision is one reviewer verdict. Verification decisions use Confirmed;
// classification decisions carry a Label.
type Decision struct {
	Tag       string    `json:"tag"`
	Kind      Kind      `json:"kind"`
	Confirmed *bool     `json:"confirmed,omitempty"`
	Label     string    `json:"label,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// Validate checks that d is complete for its kind
func (d Decision) Validate() error {
	if d.Tag == "" {
		return fmt.Errorf("%w: tag is required", ErrInvalidDecision)
	}
	switch d.Kind {
	case KindVerification:
		if d.Confirmed == nil {
			return fmt.Errorf("%w: verification needs confirmed", ErrInvalidDecision)
		}
	case KindClassification:
		if d.Label == "" {
			return fmt.Errorf("%w: classification needs a label", ErrInvalidDecision)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDecision, d.Kind)
	}
	return nil
}

// ResultRow is the flattened outcome of a finalized subject
type ResultRow struct {
	SubjectID   string            `json:"subject_id"`
	Sequence    uint64            `json:"sequence"`
	StartSample uint64            `json:"start_sample"`
	Length      int               `json:"length"`
	SampleRate  int               `json:"sample_rate"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Decisions   []Decision        `json:"decisions"`
	FinalizedAt time.Time         `json:"finalized_at"`
}

// Page is one page of retained subjects, newest last
type Page struct {
	Page     int       `json:"page"`
	Size     int       `json:"size"`
	Total    int       `json:"total"`
	Subjects []Subject `json:"subjects"`
}

// Store retains up to capacity subjects in arrival order
type Store struct {
	capacity int

	mu      sync.RWMutex
	order   []string
	byID    map[string]*Subject
	evicted uint64
}

// NewStore creates a store. A capacity below 1 is treated as 1.
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{
		capacity: capacity,
		byID:     make(map[string]*Subject),
	}
}

// Add registers s and returns its id. An empty ID is filled with a new UUID.
// The oldest subject is evicted once the store is full.
func (st *Store) Add(s Subject) string {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	s.Decisions = make(map[string]Decision)

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.byID[s.ID]; exists {
		st.remove(s.ID)
	}
	for len(st.order) >= st.capacity {
		oldest := st.order[0]
		st.order = st.order[1:]
		delete(st.byID, oldest)
		st.evicted++
	}
	st.order = append(st.order, s.ID)
	st.byID[s.ID] = &s
	return s.ID
}

// Get returns a copy of the subject with id
func (st *Store) Get(id string) (Subject, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.byID[id]
	if !ok {
		return Subject{}, fmt.Errorf("%w: %s", ErrSubjectNotFound, id)
	}
	return s.clone(), nil
}

// Decide records d against subject id. A later decision with the same tag
// replaces the earlier one.
func (st *Store) Decide(id string, d Decision) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now()
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubjectNotFound, id)
	}
	s.Decisions[d.Tag] = d
	return nil
}

// Page returns subjects [page*size, page*size+size) in arrival order.
// Pages are zero-based; size is clamped to [1, capacity].
func (st *Store) Page(page, size int) Page {
	st.mu.RLock()
	defer st.mu.RUnlock()

	size = min(max(size, 1), st.capacity)
	page = max(page, 0)

	result := Page{Page: page, Size: size, Total: len(st.order), Subjects: []Subject{}}
	if page > len(st.order)/size {
		return result
	}
	start := page * size
	if start >= len(st.order) {
		return result
	}
	end := min(start+size, len(st.order))
	for _, id := range st.order[start:end] {
		result.Subjects = append(result.Subjects, st.byID[id].clone())
	}
	return result
}

// Finalize removes subject id and returns its result row, decisions sorted by tag
func (st *Store) Finalize(id string) (ResultRow, error) {
	st.mu.Lock()
	s, ok := st.byID[id]
	if ok {
		st.remove(id)
	}
	st.mu.Unlock()

	if !ok {
		return ResultRow{}, fmt.Errorf("%w: %s", ErrSubjectNotFound, id)
	}

	decisions := make([]Decision, 0, len(s.Decisions))
	for _, d := range s.Decisions {
		decisions = append(decisions, d)
	}
	sort.Slice(decisions, func(i, j int) bool { return decisions[i].Tag < decisions[j].Tag })

	return ResultRow{
		SubjectID:   s.ID,
		Sequence:    s.Sequence,
		StartSample: s.StartSample,
		Length:      s.Length,
		SampleRate:  s.SampleRate,
		Metadata:    s.Metadata,
		Decisions:   decisions,
		FinalizedAt: time.Now(),
	}, nil
}

// Len returns the number of retained subjects
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.order)
}

// Evicted returns how many subjects were dropped for capacity
func (st *Store) Evicted() uint64 {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.evicted
}

// remove must be called with mu held
func (st *Store) remove(id string) {
	delete(st.byID, id)
	for i, v := range st.order {
		if v == id {
			st.order = append(st.order[:i], st.order[i+1:]...)
			return
		}
	}
}

func (s *Subject) clone() Subject {
	c := *s
	c.Decisions = make(map[string]Decision, len(s.Decisions))
	for k, v := range s.Decisions {
		c.Decisions[k] = v
	}
	return c
}
