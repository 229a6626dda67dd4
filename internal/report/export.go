// Package report aggregates a finished session into per-speaker stats
// and writes the xlsx session workbook.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"character-insights-go/internal/logger"
	"character-insights-go/internal/pipeline"
	"character-insights-go/internal/speaker"
)

type SpeakerStats struct {
	SpeakerID   string         `json:"speaker_id"`
	Name        string         `json:"name"`
	CharacterID string         `json:"character_id,omitempty"`
	Utterances  int            `json:"utterances"`
	SpeechSec   float64        `json:"speech_sec"`
	Emotions    map[string]int `json:"emotions"`
}

type SessionStats struct {
	SessionID    string         `json:"session_id"`
	Observations int            `json:"observations"`
	Merged       int            `json:"merged"`
	Skipped      int            `json:"skipped"`
	Failed       int            `json:"failed"`
	Degraded     int            `json:"degraded"`
	Repaired     int            `json:"repaired"`
	SpeechSec    float64        `json:"speech_sec"`
	Speakers     []SpeakerStats `json:"speakers"`
}

// Summarize folds the session log into per-speaker counts, speech time
// and emotion distribution. Speakers appear in first-heard order.
func Summarize(records []pipeline.ObservationRecord) SessionStats {
	stats := SessionStats{}
	bySpeaker := map[string]int{}

	for _, rec := range records {
		obs := rec.Observation
		if stats.SessionID == "" {
			stats.SessionID = obs.SessionID
		}
		stats.Observations++
		dur := (obs.End - obs.Start).Seconds()
		stats.SpeechSec += dur

		switch {
		case rec.MergedVersion > 0:
			stats.Merged++
		case rec.Skipped:
			stats.Skipped++
		case rec.Failure != "":
			stats.Failed++
		}
		if obs.Degraded {
			stats.Degraded++
		}
		if rec.Repaired {
			stats.Repaired++
		}

		idx, ok := bySpeaker[obs.SpeakerID]
		if !ok {
			idx = len(stats.Speakers)
			bySpeaker[obs.SpeakerID] = idx
			stats.Speakers = append(stats.Speakers, SpeakerStats{
				SpeakerID: obs.SpeakerID,
				Name:      obs.SpeakerName,
				Emotions:  map[string]int{},
			})
		}
		sp := &stats.Speakers[idx]
		sp.Utterances++
		sp.SpeechSec += dur
		if obs.CharacterID != "" {
			sp.CharacterID = obs.CharacterID
		}
		if obs.EmotionLabel != "" {
			sp.Emotions[obs.EmotionLabel]++
		}
	}
	return stats
}

// Exporter writes the session workbook.
type Exporter struct {
	log *logrus.Entry
}

func NewExporter() *Exporter {
	return &Exporter{log: logger.New().WithField("component", "report")}
}

var observationHeader = []interface{}{
	"Observation ID", "Speaker", "Character", "Start (s)", "End (s)",
	"Transcript", "Emotion", "Emotion Conf", "Pitch (Hz)", "Energy (dB)",
	"Speech Rate", "Degraded", "Repaired", "Skipped", "Failure",
	"Merged Version", "Report",
}

// Export writes Summary, Observations and Speakers sheets to path,
// creating parent directories as needed.
func (e *Exporter) Export(path string, stats SessionStats, records []pipeline.ObservationRecord, speakers []speaker.Speaker) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", "Summary"); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := e.writeSummary(f, stats); err != nil {
		return err
	}
	if err := e.writeObservations(f, records); err != nil {
		return err
	}
	if err := e.writeSpeakers(f, speakers); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	e.log.WithFields(logrus.Fields{
		"path":         path,
		"observations": len(records),
		"speakers":     len(speakers),
	}).Info("session report written")
	return nil
}

func (e *Exporter) writeSummary(f *excelize.File, stats SessionStats) error {
	rows := [][]interface{}{
		{"Session", stats.SessionID},
		{"Generated", time.Now().UTC().Format(time.RFC3339)},
		{"Observations", stats.Observations},
		{"Merged", stats.Merged},
		{"Skipped", stats.Skipped},
		{"Failed", stats.Failed},
		{"Degraded", stats.Degraded},
		{"Repaired", stats.Repaired},
		{"Speech (s)", stats.SpeechSec},
		{},
		{"Speaker", "Name", "Character", "Utterances", "Speech (s)", "Top Emotion"},
	}
	for _, sp := range stats.Speakers {
		rows = append(rows, []interface{}{
			sp.SpeakerID, sp.Name, sp.CharacterID, sp.Utterances, sp.SpeechSec, topEmotion(sp.Emotions),
		})
	}
	return writeRows(f, "Summary", rows)
}

func (e *Exporter) writeObservations(f *excelize.File, records []pipeline.ObservationRecord) error {
	if _, err := f.NewSheet("Observations"); err != nil {
		return fmt.Errorf("new sheet: %w", err)
	}
	rows := [][]interface{}{observationHeader}
	for _, rec := range records {
		obs := rec.Observation
		rows = append(rows, []interface{}{
			obs.ID, obs.SpeakerName, obs.CharacterID,
			obs.Start.Seconds(), obs.End.Seconds(),
			obs.Transcript, obs.EmotionLabel, obs.EmotionConfidence,
			obs.Features.PitchHz, obs.Features.EnergyDB, obs.Features.SpeechRate,
			obs.Degraded, rec.Repaired, rec.Skipped, rec.Failure,
			rec.MergedVersion, rec.Report,
		})
	}
	return writeRows(f, "Observations", rows)
}

func (e *Exporter) writeSpeakers(f *excelize.File, speakers []speaker.Speaker) error {
	if _, err := f.NewSheet("Speakers"); err != nil {
		return fmt.Errorf("new sheet: %w", err)
	}
	rows := [][]interface{}{{"Speaker ID", "Name", "Utterances", "Enrolled At"}}
	for _, sp := range speakers {
		rows = append(rows, []interface{}{
			sp.ID, sp.Name, sp.Utterances, sp.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return writeRows(f, "Speakers", rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d of %s: %w", i+1, sheet, err)
		}
	}
	return nil
}

func topEmotion(counts map[string]int) string {
	best, bestN := "", 0
	for label, n := range counts {
		if n > bestN || (n == bestN && best != "" && label < best) {
			best, bestN = label, n
		}
	}
	return best
}
