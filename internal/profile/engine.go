package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"character-insights-go/internal/logger"
)

// MergeMeta carries call context recorded on notes and timeline
// entries.
type MergeMeta struct {
	SessionID     string
	ObservationID string
}

// Engine serializes merges per character and runs the fetch-merge-put
// loop against the store. Merges for different characters proceed in
// parallel; a version conflict forces a refetch.
type Engine struct {
	store       Store
	maxAttempts int
	log         *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(store Store, maxAttempts int) *Engine {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Engine{
		store:       store,
		maxAttempts: maxAttempts,
		log:         logger.New(),
		locks:       make(map[string]*sync.Mutex),
	}
}

// Apply merges update into the character's dynamic profile, bumps the
// version by 1, appends a VersionNote, and appends deeds to the
// timeline. update must be a mapping keyed by dimension names.
func (e *Engine) Apply(ctx context.Context, characterID string, update Value, deeds []TimelineEvent, meta MergeMeta) (CharacterProfile, error) {
	if characterID == "" {
		return CharacterProfile{}, errors.New("empty character id")
	}
	if !update.IsMapping() {
		return CharacterProfile{}, fmt.Errorf("analysis update must be a mapping, got %s", update.Kind())
	}

	lock := e.lockFor(characterID)
	lock.Lock()
	defer lock.Unlock()

	log := e.log.WithFields(logrus.Fields{
		"component":    "merge-engine",
		"character_id": characterID,
	})
	if meta.ObservationID != "" {
		log = log.WithField("observation_id", meta.ObservationID)
	}

	pace := backoff.NewExponentialBackOff()
	pace.InitialInterval = 20 * time.Millisecond

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		current, err := e.store.GetLatest(ctx, characterID)
		if err != nil {
			return CharacterProfile{}, fmt.Errorf("fetch latest profile: %w", err)
		}

		merged, changes := Merge(current.Dynamic, update)
		now := time.Now().UTC()
		next := CharacterProfile{
			CharacterID: characterID,
			Version:     current.Version + 1,
			Dynamic:     merged,
			UpdatedAt:   now,
		}

		err = e.store.Put(ctx, next, current.Version)
		if errors.Is(err, ErrConflict) {
			log.WithField("attempt", attempt).WithField("stale_version", current.Version).Warn("version conflict, refetching")
			select {
			case <-ctx.Done():
				return CharacterProfile{}, ctx.Err()
			case <-time.After(pace.NextBackOff()):
			}
			continue
		}
		if err != nil {
			return CharacterProfile{}, fmt.Errorf("persist profile: %w", err)
		}

		diff, structural := Summarize(changes)
		note := VersionNote{
			CharacterID: characterID,
			Version:     next.Version,
			DiffSummary: diff,
			Structural:  structural,
			SessionID:   meta.SessionID,
			Timestamp:   now,
		}
		if err := e.store.AppendNote(ctx, note); err != nil {
			return next, fmt.Errorf("append version note: %w", err)
		}

		if len(deeds) > 0 {
			events := make([]TimelineEvent, len(deeds))
			for i, d := range deeds {
				d.CharacterID = characterID
				if d.ID == "" {
					d.ID = uuid.New().String()
				}
				if d.SessionID == "" {
					d.SessionID = meta.SessionID
				}
				if d.Timestamp.IsZero() {
					d.Timestamp = now
				}
				events[i] = d
			}
			if err := e.store.AppendEvents(ctx, events); err != nil {
				return next, fmt.Errorf("append timeline events: %w", err)
			}
		}

		log.WithFields(logrus.Fields{
			"version": next.Version,
			"changes": len(changes),
			"deeds":   len(deeds),
		}).Info("profile merged")
		return next, nil
	}

	return CharacterProfile{}, fmt.Errorf("merge aborted after %d conflicts: %w", e.maxAttempts, ErrConflict)
}

func (e *Engine) lockFor(characterID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.locks[characterID]; ok {
		return l
	}
	l := &sync.Mutex{}
	e.locks[characterID] = l
	return l
}
