// Package speaker maintains session voice identities: a pool of
// fingerprint centroids and the speaker-to-character bindings.
package speaker

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"character-insights-go/internal/logger"
)

const (
	// UnknownID labels utterances whose fingerprint could not be
	// computed. It never enters the pool.
	UnknownID   = "speaker_unknown"
	unknownName = "Unknown"
)

// Match is the result of one identification.
type Match struct {
	SpeakerID string
	Name      string
	Score     float64
	New       bool
}

// Speaker is the exported snapshot of one pool entry.
type Speaker struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Centroid   []float64 `json:"centroid"`
	Utterances int       `json:"utterances"`
	CreatedAt  time.Time `json:"created_at"`
}

type poolFile struct {
	Speakers []Speaker `json:"speakers"`
	Next     int       `json:"next"`
}

// Pool assigns stable in-session speaker identities by cosine
// similarity against per-speaker centroids. Entries are kept in
// creation order so equal-similarity matches resolve to the earliest
// speaker.
type Pool struct {
	mu        sync.Mutex
	threshold float64
	weightCap int
	entries   []*Speaker
	next      int
	log       *logrus.Entry
}

func NewPool(threshold float64, weightCap int) *Pool {
	if weightCap < 1 {
		weightCap = 1
	}
	return &Pool{
		threshold: threshold,
		weightCap: weightCap,
		next:      1,
		log:       logger.New().WithField("component", "speaker-pool"),
	}
}

// Identify matches the fingerprint against the pool, updating the
// matched centroid or allocating a new speaker. A nil or empty
// fingerprint maps to the anonymous unknown identity.
func (p *Pool) Identify(fingerprint []float64) Match {
	if len(fingerprint) == 0 {
		return Match{SpeakerID: UnknownID, Name: unknownName}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Speaker
	bestScore := 0.0
	for _, e := range p.entries {
		if score := cosine(e.Centroid, fingerprint); score > bestScore {
			best = e
			bestScore = score
		}
	}

	if best != nil && bestScore >= p.threshold {
		weight := best.Utterances
		if weight > p.weightCap {
			weight = p.weightCap
		}
		w := float64(weight)
		for i := range best.Centroid {
			best.Centroid[i] = (best.Centroid[i]*w + fingerprint[i]) / (w + 1)
		}
		best.Utterances++
		return Match{SpeakerID: best.ID, Name: best.Name, Score: bestScore}
	}

	e := &Speaker{
		ID:         fmt.Sprintf("speaker_%d", p.next),
		Name:       fmt.Sprintf("Speaker %d", p.next),
		Centroid:   append([]float64(nil), fingerprint...),
		Utterances: 1,
		CreatedAt:  time.Now().UTC(),
	}
	p.next++
	p.entries = append(p.entries, e)
	p.log.WithFields(logrus.Fields{
		"speaker_id": e.ID,
		"best_score": bestScore,
	}).Info("new speaker enrolled")
	return Match{SpeakerID: e.ID, Name: e.Name, Score: bestScore, New: true}
}

// Speakers lists pool entries in creation order.
func (p *Pool) Speakers() []Speaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Speaker, len(p.entries))
	for i, e := range p.entries {
		out[i] = *e
		out[i].Centroid = append([]float64(nil), e.Centroid...)
	}
	return out
}

func (p *Pool) Rename(speakerID, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.ID == speakerID {
			e.Name = name
			return nil
		}
	}
	return fmt.Errorf("unknown speaker %q", speakerID)
}

func (p *Pool) Remove(speakerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.entries {
		if e.ID == speakerID {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("unknown speaker %q", speakerID)
}

// Reset drops all entries and restarts id allocation.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = nil
	p.next = 1
}

// Save writes the pool as JSON, replacing the file atomically.
func (p *Pool) Save(path string) error {
	p.mu.Lock()
	f := poolFile{Speakers: make([]Speaker, len(p.entries)), Next: p.next}
	for i, e := range p.entries {
		f.Speakers[i] = *e
		f.Speakers[i].Centroid = append([]float64(nil), e.Centroid...)
	}
	p.mu.Unlock()

	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode speaker pool: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create pool dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write speaker pool: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit speaker pool: %w", err)
	}
	return nil
}

// Load replaces the pool contents from a saved file. A missing file is
// a no-op so fresh sessions start empty.
func (p *Pool) Load(path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		p.log.WithField("path", path).Debug("no saved speaker pool")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read speaker pool: %w", err)
	}
	var f poolFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("decode speaker pool: %w", err)
	}

	entries := make([]*Speaker, len(f.Speakers))
	for i := range f.Speakers {
		s := f.Speakers[i]
		entries[i] = &s
	}
	next := f.Next
	if next < len(entries)+1 {
		next = len(entries) + 1
	}

	p.mu.Lock()
	p.entries = entries
	p.next = next
	p.mu.Unlock()
	p.log.WithField("speakers", len(entries)).Info("speaker pool loaded")
	return nil
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
