package buffer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/swarm/internal/observability"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Status is the lifecycle state of a session buffer
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsFinished reports whether the status ends a run
func (s Status) IsFinished() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Kind classifies an artifact payload
type Kind string

const (
	KindText       Kind = "text"
	KindStructured Kind = "structured"
	KindImage      Kind = "image"
	KindFile       Kind = "file"
)

const (
	logTimeFormat  = "15:04:05"
	maxSessionID   = 128
	artifactIDSize = 12
)

var (
	// ErrInvalidTransition is returned by SetStatus for transitions outside the lifecycle
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidSessionID is returned by ValidateSessionID
	ErrInvalidSessionID = errors.New("invalid session id")
)

// Artifact is structured data extracted from a tool result
type Artifact struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Title     string          `json:"title"`
	Payload   json.RawMessage `json:"payload"`
	Origin    string          `json:"origin"`
	CreatedAt time.Time       `json:"created_at"`
}

// ArtifactInput is an artifact before the store assigns its id and timestamp
type ArtifactInput struct {
	Kind    Kind
	Title   string
	Payload json.RawMessage
	Origin  string
}

// Buffer is a snapshot of one session's record
type Buffer struct {
	Status    Status     `json:"status"`
	Logs      []string   `json:"logs"`
	Artifacts []Artifact `json:"artifacts"`
	Version   uint64     `json:"version"`
	UpdatedAt time.Time  `json:"updated_at"`

	// Generation identifies the record the snapshot came from. It changes
	// whenever a buffer is recreated, so (Generation, Version) never repeats
	// for a session. Zero means no record.
	Generation uint64 `json:"-"`
}

// Idle returns the shape reported for sessions that never started a run
func Idle() Buffer {
	return Buffer{
		Status:    StatusIdle,
		Logs:      []string{"No active swarm session found yet."},
		Artifacts: []Artifact{},
	}
}

type record struct {
	generation uint64

	status    Status
	logs      []string
	artifacts []Artifact
	version   uint64
	updatedAt time.Time
}

func (r *record) touch(now time.Time) {
	r.version++
	r.updatedAt = now
}

func (r *record) snapshot() Buffer {
	logs := make([]string, len(r.logs))
	copy(logs, r.logs)

	artifacts := make([]Artifact, len(r.artifacts))
	for i, a := range r.artifacts {
		a.Payload = append(json.RawMessage(nil), a.Payload...)
		artifacts[i] = a
	}

	return Buffer{
		Status:    r.status,
		Logs:      logs,
		Artifacts: artifacts,
		Version:   r.version,
		UpdatedAt: r.updatedAt,

		Generation: r.generation,
	}
}

// Store holds one buffer per session id
type Store struct {
	mu          sync.RWMutex
	records     map[string]*record
	generations uint64
	now         func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	observability.EnsureRegistered()

	return &Store{
		records: make(map[string]*record),
		now:     time.Now,
	}
}

// ValidateSessionID rejects ids that are empty, oversized, or path-like
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: cannot be empty", ErrInvalidSessionID)
	}
	if len(id) > maxSessionID {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidSessionID, maxSessionID)
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("%w: cannot contain '..'", ErrInvalidSessionID)
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("%w: cannot contain path separators", ErrInvalidSessionID)
	}
	if strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: cannot contain NUL", ErrInvalidSessionID)
	}
	return nil
}

// newRecord must be called with s.mu held
func (s *Store) newRecord() *record {
	s.generations++
	return &record{
		generation: s.generations,

		status:    StatusIdle,
		logs:      []string{},
		artifacts: []Artifact{},
		updatedAt: s.now(),
	}
}

// Init creates a fresh idle buffer for id, discarding any existing one.
func (s *Store) Init(id string) {
	s.mu.Lock()
	s.records[id] = s.newRecord()
	n := len(s.records)
	s.mu.Unlock()

	observability.SetBuffers(n)
}

// Ensure creates an idle buffer for id unless one exists. It reports whether
// a buffer was created.
func (s *Store) Ensure(id string) bool {
	s.mu.Lock()
	if _, ok := s.records[id]; ok {
		s.mu.Unlock()
		return false
	}
	s.records[id] = s.newRecord()
	n := len(s.records)
	s.mu.Unlock()

	observability.SetBuffers(n)
	return true
}

// Begin marks id as running, creating an idle buffer first when none exists.
// Both happen under one lock, so an eviction sweep cannot remove the buffer
// between its creation and the transition.
func (s *Store) Begin(id string) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		rec = s.newRecord()
		s.records[id] = rec
	}
	n := len(s.records)

	var err error
	switch {
	case rec.status == StatusRunning:
	case canTransition(rec.status, StatusRunning):
		rec.status = StatusRunning
		rec.touch(s.now())
	default:
		err = fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.status, StatusRunning)
	}
	s.mu.Unlock()

	if !ok {
		observability.SetBuffers(n)
	}
	return err
}

// Get returns a snapshot of the buffer for id
func (s *Store) Get(id string) (Buffer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return Buffer{}, false
	}
	return rec.snapshot(), true
}

// AppendLog appends a timestamped line. Missing buffers are ignored.
func (s *Store) AppendLog(id, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return
	}
	now := s.now()
	rec.logs = append(rec.logs, fmt.Sprintf("[%s] %s", now.Format(logTimeFormat), text))
	rec.touch(now)
}

// AddArtifact assigns an id and timestamp to in and appends it
func (s *Store) AddArtifact(id string, in ArtifactInput) (Artifact, bool) {
	artifactID, err := gonanoid.New(artifactIDSize)
	if err != nil {
		artifactID = fmt.Sprintf("a%d", s.now().UnixNano())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Artifact{}, false
	}

	now := s.now()
	artifact := Artifact{
		ID:        artifactID,
		Kind:      in.Kind,
		Title:     in.Title,
		Payload:   append(json.RawMessage(nil), in.Payload...),
		Origin:    in.Origin,
		CreatedAt: now,
	}
	rec.artifacts = append(rec.artifacts, artifact)
	rec.touch(now)

	return artifact, true
}

// SetStatus moves the buffer to status. Missing buffers are ignored.
func (s *Store) SetStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil
	}
	if rec.status == status {
		return nil
	}
	if !canTransition(rec.status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.status, status)
	}
	rec.status = status
	rec.touch(s.now())
	return nil
}

func canTransition(from, to Status) bool {
	switch from {
	case StatusIdle:
		return to == StatusRunning
	case StatusRunning:
		return to.IsFinished()
	case StatusCompleted, StatusFailed:
		return to == StatusRunning
	default:
		return false
	}
}

// Delete removes the buffer for id
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.records, id)
	n := len(s.records)
	s.mu.Unlock()

	observability.SetBuffers(n)
}

// Sessions returns the known session ids in sorted order
func (s *Store) Sessions() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of buffers
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// EvictFinished removes every buffer that is not running and has not changed
// for at least olderThan. It returns the evicted ids.
func (s *Store) EvictFinished(olderThan time.Duration) []string {
	cutoff := s.now().Add(-olderThan)

	s.mu.Lock()
	evicted := []string{}
	for id, rec := range s.records {
		if rec.status == StatusRunning {
			continue
		}
		if rec.updatedAt.After(cutoff) {
			continue
		}
		delete(s.records, id)
		evicted = append(evicted, id)
	}
	n := len(s.records)
	s.mu.Unlock()

	sort.Strings(evicted)
	observability.SetBuffers(n)
	observability.RecordEvictions(len(evicted))

	return evicted
}
