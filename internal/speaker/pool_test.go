package speaker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolEnrollsAndRematches(t *testing.T) {
	p := NewPool(0.85, 32)

	e1 := []float64{1, 0, 0}
	m1 := p.Identify(e1)
	assert.True(t, m1.New)
	assert.Equal(t, "speaker_1", m1.SpeakerID)
	assert.Equal(t, "Speaker 1", m1.Name)

	m2 := p.Identify(e1)
	assert.False(t, m2.New)
	assert.Equal(t, "speaker_1", m2.SpeakerID)
	assert.InDelta(t, 1.0, m2.Score, 1e-9)

	m3 := p.Identify([]float64{0, 1, 0})
	assert.True(t, m3.New)
	assert.Equal(t, "speaker_2", m3.SpeakerID)

	speakers := p.Speakers()
	require.Len(t, speakers, 2)
	assert.Equal(t, 2, speakers[0].Utterances)
	assert.Equal(t, 1, speakers[1].Utterances)
}

func TestPoolAlternatingSpeakersStayStable(t *testing.T) {
	p := NewPool(0.85, 32)

	a := []float64{1, 0, 0}
	b := []float64{0, 1, 0}
	require.Equal(t, "speaker_1", p.Identify(a).SpeakerID)
	require.Equal(t, "speaker_2", p.Identify(b).SpeakerID)

	for i := 0; i < 3; i++ {
		assert.Equal(t, "speaker_1", p.Identify(a).SpeakerID)
		assert.Equal(t, "speaker_2", p.Identify(b).SpeakerID)
	}
	assert.Len(t, p.Speakers(), 2)
}

func TestPoolUnknownFingerprint(t *testing.T) {
	p := NewPool(0.85, 32)
	m := p.Identify(nil)
	assert.Equal(t, UnknownID, m.SpeakerID)
	assert.False(t, m.New)
	assert.Empty(t, p.Speakers())
}

func TestPoolCentroidWeightCap(t *testing.T) {
	p := NewPool(0.5, 1)

	p.Identify([]float64{1, 0})
	m := p.Identify([]float64{0.8, 0.6})
	require.Equal(t, "speaker_1", m.SpeakerID)

	// cap 1 keeps the update weight at (1*old + new)/2 forever
	c := p.Speakers()[0].Centroid
	assert.InDelta(t, 0.9, c[0], 1e-9)
	assert.InDelta(t, 0.3, c[1], 1e-9)

	m = p.Identify([]float64{0.6, 0.8})
	require.Equal(t, "speaker_1", m.SpeakerID)
	c = p.Speakers()[0].Centroid
	assert.InDelta(t, 0.75, c[0], 1e-9)
	assert.InDelta(t, 0.55, c[1], 1e-9)
}

func TestPoolTieKeepsEarliestSpeaker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.json")

	// two saved speakers with identical centroids
	f := poolFile{
		Speakers: []Speaker{
			{ID: "speaker_1", Name: "Speaker 1", Centroid: []float64{1, 0}, Utterances: 3, CreatedAt: time.Now().UTC()},
			{ID: "speaker_2", Name: "Speaker 2", Centroid: []float64{1, 0}, Utterances: 3, CreatedAt: time.Now().UTC()},
		},
		Next: 3,
	}
	raw, err := json.Marshal(f)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	p := NewPool(0.85, 32)
	require.NoError(t, p.Load(path))

	m := p.Identify([]float64{1, 0})
	assert.Equal(t, "speaker_1", m.SpeakerID)
}

func TestPoolSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.json")

	p := NewPool(0.85, 32)
	p.Identify([]float64{1, 0, 0})
	p.Identify([]float64{0, 1, 0})
	require.NoError(t, p.Rename("speaker_2", "Marla"))
	require.NoError(t, p.Save(path))

	q := NewPool(0.85, 32)
	require.NoError(t, q.Load(path))

	speakers := q.Speakers()
	require.Len(t, speakers, 2)
	assert.Equal(t, "Marla", speakers[1].Name)

	m := q.Identify([]float64{0, 1, 0})
	assert.Equal(t, "speaker_2", m.SpeakerID)
	assert.Equal(t, "Marla", m.Name)

	// allocation counter carries over
	m = q.Identify([]float64{0, 0, 1})
	assert.Equal(t, "speaker_3", m.SpeakerID)
}

func TestPoolLoadMissingFileIsNoop(t *testing.T) {
	p := NewPool(0.85, 32)
	require.NoError(t, p.Load(filepath.Join(t.TempDir(), "absent.json")))
	assert.Empty(t, p.Speakers())
}

func TestPoolRenameRemoveReset(t *testing.T) {
	p := NewPool(0.85, 32)
	p.Identify([]float64{1, 0})
	p.Identify([]float64{0, 1})

	assert.Error(t, p.Rename("speaker_9", "x"))
	require.NoError(t, p.Remove("speaker_1"))
	require.Len(t, p.Speakers(), 1)
	assert.Error(t, p.Remove("speaker_1"))

	p.Reset()
	assert.Empty(t, p.Speakers())
	m := p.Identify([]float64{1, 0})
	assert.Equal(t, "speaker_1", m.SpeakerID)
}

func TestBindings(t *testing.T) {
	b := NewBindings()
	_, ok := b.Resolve("speaker_1")
	assert.False(t, ok)

	b.Bind("speaker_1", "char-arden")
	id, ok := b.Resolve("speaker_1")
	require.True(t, ok)
	assert.Equal(t, "char-arden", id)

	all := b.All()
	assert.Equal(t, map[string]string{"speaker_1": "char-arden"}, all)

	b.Unbind("speaker_1")
	_, ok = b.Resolve("speaker_1")
	assert.False(t, ok)
}
