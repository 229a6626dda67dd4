package profile

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrConflict means the expected prior version was no longer current
// when Put ran; the merge engine refetches and retries.
var ErrConflict = errors.New("profile version conflict")

// CharacterProfile is the single unit of persisted mutable state.
// Version goes up by exactly 1 per successful merge.
type CharacterProfile struct {
	CharacterID string    `json:"character_id"`
	Version     int64     `json:"version"`
	Dynamic     Value     `json:"dynamic_profile"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// VersionNote is the immutable audit record appended on every merge.
type VersionNote struct {
	CharacterID string    `json:"character_id"`
	Version     int64     `json:"version"`
	DiffSummary string    `json:"diff_summary"`
	Structural  []string  `json:"structural,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// TimelineEvent is one reported character deed, kept on an append-only
// timeline independent of the profile document.
type TimelineEvent struct {
	ID          string    `json:"id"`
	CharacterID string    `json:"character_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Summary     string    `json:"summary"`
	Intent      string    `json:"intent,omitempty"`
	Strategy    string    `json:"strategy,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Store is the profile persistence collaborator. GetLatest on an
// unknown character returns an empty version-0 profile so first merges
// create it through the same compare-and-swap path.
type Store interface {
	GetLatest(ctx context.Context, characterID string) (CharacterProfile, error)
	Put(ctx context.Context, p CharacterProfile, expectedVersion int64) error
	AppendNote(ctx context.Context, n VersionNote) error
	Notes(ctx context.Context, characterID string) ([]VersionNote, error)
	AppendEvents(ctx context.Context, events []TimelineEvent) error
	Timeline(ctx context.Context, characterID string) ([]TimelineEvent, error)
}

// MemStore is the in-process Store used by tests and single-run
// sessions.
type MemStore struct {
	mu       sync.RWMutex
	profiles map[string]CharacterProfile
	notes    map[string][]VersionNote
	events   map[string][]TimelineEvent
}

func NewMemStore() *MemStore {
	return &MemStore{
		profiles: make(map[string]CharacterProfile),
		notes:    make(map[string][]VersionNote),
		events:   make(map[string][]TimelineEvent),
	}
}

func (s *MemStore) GetLatest(_ context.Context, characterID string) (CharacterProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[characterID]; ok {
		return p, nil
	}
	return emptyProfile(characterID), nil
}

func (s *MemStore) Put(_ context.Context, p CharacterProfile, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := int64(0)
	if cur, ok := s.profiles[p.CharacterID]; ok {
		current = cur.Version
	}
	if current != expectedVersion {
		return ErrConflict
	}
	s.profiles[p.CharacterID] = p
	return nil
}

func (s *MemStore) AppendNote(_ context.Context, n VersionNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[n.CharacterID] = append(s.notes[n.CharacterID], n)
	return nil
}

func (s *MemStore) Notes(_ context.Context, characterID string) ([]VersionNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]VersionNote, len(s.notes[characterID]))
	copy(out, s.notes[characterID])
	return out, nil
}

func (s *MemStore) AppendEvents(_ context.Context, events []TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		s.events[ev.CharacterID] = append(s.events[ev.CharacterID], ev)
	}
	return nil
}

func (s *MemStore) Timeline(_ context.Context, characterID string) ([]TimelineEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TimelineEvent, len(s.events[characterID]))
	copy(out, s.events[characterID])
	return out, nil
}

func emptyProfile(characterID string) CharacterProfile {
	return CharacterProfile{
		CharacterID: characterID,
		Version:     0,
		Dynamic:     Mapping(nil),
	}
}
