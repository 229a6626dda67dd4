package profile

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"character-insights-go/internal/logger"
)

// FileStore persists profiles as JSON under dir/<character_id>/:
// profile.json is the current document (replaced atomically),
// versions/ keeps a snapshot per version, notes.jsonl and
// timeline.jsonl are append-only.
type FileStore struct {
	dir string
	mu  sync.Mutex
	log *logger.Logger
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{
		dir: dir,
		log: logger.New(),
	}, nil
}

func (s *FileStore) GetLatest(_ context.Context, characterID string) (CharacterProfile, error) {
	dir, err := s.charDir(characterID)
	if err != nil {
		return CharacterProfile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readProfile(dir, characterID)
}

func (s *FileStore) Put(_ context.Context, p CharacterProfile, expectedVersion int64) error {
	dir, err := s.charDir(p.CharacterID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readProfile(dir, p.CharacterID)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return ErrConflict
	}

	if err := os.MkdirAll(filepath.Join(dir, "versions"), 0o755); err != nil {
		return fmt.Errorf("create character dir: %w", err)
	}
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	// temp write + rename so old and new version are never both current
	tmp := filepath.Join(dir, "profile.json.tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, "profile.json")); err != nil {
		return fmt.Errorf("commit profile: %w", err)
	}

	snapshot := filepath.Join(dir, "versions", fmt.Sprintf("v%06d.json", p.Version))
	if err := os.WriteFile(snapshot, raw, 0o644); err != nil {
		s.log.WithError(err).WithField("character_id", p.CharacterID).Warn("version snapshot write failed")
	}
	return nil
}

func (s *FileStore) AppendNote(_ context.Context, n VersionNote) error {
	dir, err := s.charDir(n.CharacterID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLine(filepath.Join(dir, "notes.jsonl"), n)
}

func (s *FileStore) Notes(_ context.Context, characterID string) ([]VersionNote, error) {
	dir, err := s.charDir(characterID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []VersionNote
	err = readLines(filepath.Join(dir, "notes.jsonl"), func(raw []byte) error {
		var n VersionNote
		if err := json.Unmarshal(raw, &n); err != nil {
			return err
		}
		out = append(out, n)
		return nil
	})
	return out, err
}

func (s *FileStore) AppendEvents(_ context.Context, events []TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		dir, err := s.charDir(ev.CharacterID)
		if err != nil {
			return err
		}
		if err := appendLine(filepath.Join(dir, "timeline.jsonl"), ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) Timeline(_ context.Context, characterID string) ([]TimelineEvent, error) {
	dir, err := s.charDir(characterID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TimelineEvent
	err = readLines(filepath.Join(dir, "timeline.jsonl"), func(raw []byte) error {
		var ev TimelineEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

func (s *FileStore) readProfile(dir, characterID string) (CharacterProfile, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "profile.json"))
	if os.IsNotExist(err) {
		return emptyProfile(characterID), nil
	}
	if err != nil {
		return CharacterProfile{}, fmt.Errorf("read profile: %w", err)
	}
	var p CharacterProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return CharacterProfile{}, fmt.Errorf("decode profile: %w", err)
	}
	return p, nil
}

func (s *FileStore) charDir(characterID string) (string, error) {
	if characterID == "" || strings.ContainsAny(characterID, `/\`) || characterID == "." || characterID == ".." {
		return "", fmt.Errorf("invalid character id %q", characterID)
	}
	dir := filepath.Join(s.dir, characterID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create character dir: %w", err)
	}
	return dir, nil
}

func appendLine(path string, record any) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readLines(path string, fn func(raw []byte) error) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
		}
	}
	return sc.Err()
}
