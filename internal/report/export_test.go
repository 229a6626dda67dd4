package report

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"character-insights-go/internal/pipeline"
	"character-insights-go/internal/speaker"
	"character-insights-go/internal/types"
)

func sampleRecords() []pipeline.ObservationRecord {
	return []pipeline.ObservationRecord{
		{
			Observation: types.Observation{
				ID: "obs-1", SessionID: "sess-9", SpeakerID: "speaker_1", SpeakerName: "Speaker 1",
				CharacterID: "char-a", Transcript: "hold the line", EmotionLabel: "calm",
				EmotionConfidence: 0.8, Start: 0, End: 2 * time.Second,
			},
			Report:        "steady under pressure",
			UpdateJSON:    `{"surface_behavior":{"tone":"even"}}`,
			MergedVersion: 1,
		},
		{
			Observation: types.Observation{
				ID: "obs-2", SessionID: "sess-9", SpeakerID: "speaker_2", SpeakerName: "Speaker 2",
				EmotionLabel: "neutral", Start: 3 * time.Second, End: 4 * time.Second,
			},
			Skipped: true,
			Failure: "empty transcript, analysis skipped",
		},
		{
			Observation: types.Observation{
				ID: "obs-3", SessionID: "sess-9", SpeakerID: "speaker_1", SpeakerName: "Speaker 1",
				CharacterID: "char-a", Transcript: "I said hold it", EmotionLabel: "angry",
				EmotionConfidence: 0.7, Start: 5 * time.Second, End: 6500 * time.Millisecond,
				Degraded: true,
			},
			Failure: "analysis failed: model unavailable",
		},
	}
}

func TestSummarize(t *testing.T) {
	stats := Summarize(sampleRecords())

	assert.Equal(t, "sess-9", stats.SessionID)
	assert.Equal(t, 3, stats.Observations)
	assert.Equal(t, 1, stats.Merged)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Degraded)
	assert.Equal(t, 0, stats.Repaired)
	assert.InDelta(t, 4.5, stats.SpeechSec, 1e-9)

	require.Len(t, stats.Speakers, 2)
	first := stats.Speakers[0]
	assert.Equal(t, "speaker_1", first.SpeakerID)
	assert.Equal(t, "char-a", first.CharacterID)
	assert.Equal(t, 2, first.Utterances)
	assert.InDelta(t, 3.5, first.SpeechSec, 1e-9)
	assert.Equal(t, map[string]int{"calm": 1, "angry": 1}, first.Emotions)

	second := stats.Speakers[1]
	assert.Equal(t, "speaker_2", second.SpeakerID)
	assert.Equal(t, 1, second.Utterances)
}

func TestSummarizeEmpty(t *testing.T) {
	stats := Summarize(nil)
	assert.Zero(t, stats.Observations)
	assert.Empty(t, stats.Speakers)
}

func TestExportRoundTrip(t *testing.T) {
	records := sampleRecords()
	stats := Summarize(records)
	speakers := []speaker.Speaker{
		{ID: "speaker_1", Name: "Speaker 1", Utterances: 2, CreatedAt: time.Now()},
		{ID: "speaker_2", Name: "Speaker 2", Utterances: 1, CreatedAt: time.Now()},
	}

	path := filepath.Join(t.TempDir(), "out", "session_report.xlsx")
	require.NoError(t, NewExporter().Export(path, stats, records, speakers))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{"Summary", "Observations", "Speakers"}, f.GetSheetList())

	obsRows, err := f.GetRows("Observations")
	require.NoError(t, err)
	require.Len(t, obsRows, 4)
	assert.Equal(t, "Observation ID", obsRows[0][0])
	assert.Equal(t, "obs-1", obsRows[1][0])
	assert.Equal(t, "hold the line", obsRows[1][5])
	assert.Contains(t, obsRows[3][14], "model unavailable")

	spRows, err := f.GetRows("Speakers")
	require.NoError(t, err)
	require.Len(t, spRows, 3)
	assert.Equal(t, "Speaker 1", spRows[1][1])

	sumRows, err := f.GetRows("Summary")
	require.NoError(t, err)
	require.NotEmpty(t, sumRows)
	assert.Equal(t, "Session", sumRows[0][0])
	assert.Equal(t, "sess-9", sumRows[0][1])
}
