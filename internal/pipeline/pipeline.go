// Package pipeline wires capture, segmentation, identification,
// fusion, analysis and merging into one live session.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"character-insights-go/internal/analysis"
	"character-insights-go/internal/audio"
	"character-insights-go/internal/config"
	"character-insights-go/internal/fusion"
	"character-insights-go/internal/logger"
	"character-insights-go/internal/profile"
	"character-insights-go/internal/speaker"
	"character-insights-go/internal/stream"
	"character-insights-go/internal/types"
)

// Analyzer is the language model capability.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (string, error)
}

// Deps are the external collaborators of a session.
type Deps struct {
	Transcriber fusion.Transcriber
	Emotions    fusion.EmotionRecognizer
	Analyzer    Analyzer
	Repairer    analysis.Repairer
	Store       profile.Store
}

// ObservationRecord is one observation plus its analysis outcome,
// kept in the session log for re-analysis and export.
type ObservationRecord struct {
	Observation   types.Observation
	Report        string
	UpdateJSON    string
	Repaired      bool
	Skipped       bool
	Failure       string
	MergedVersion int64
}

type job struct {
	u     types.Utterance
	match speaker.Match
	feats types.AcousticFeatures
}

// Pipeline runs one capture session. PushAudio feeds it from a single
// capture goroutine; Run drains the buffer with a dispatcher that
// routes utterances to lazily created per-speaker workers, so merges
// stay stream-ordered per speaker while distinct speakers proceed in
// parallel.
type Pipeline struct {
	sessionID string

	seg       *audio.Segmenter
	buf       *stream.Buffer
	extractor *audio.Extractor
	pool      *speaker.Pool
	bindings  *speaker.Bindings
	assembler *fusion.Assembler
	analyzer  Analyzer
	gateway   *analysis.Gateway
	engine    *profile.Engine
	sem       chan struct{}
	log       *logrus.Entry

	mu    sync.Mutex
	recs  map[string]ObservationRecord
	order []string
	onObs func(ObservationRecord)
}

func New(cfg *config.Config, sessionID string, deps Deps) *Pipeline {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	concurrency := cfg.Analysis.MaxConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	bindings := speaker.NewBindings()

	return &Pipeline{
		sessionID: sessionID,
		seg:       audio.NewSegmenter(cfg.Audio, cfg.Segmenter, sessionID),
		buf:       stream.NewBuffer(cfg.Buffer),
		extractor: audio.NewExtractor(),
		pool:      speaker.NewPool(cfg.Speaker.SimilarityThreshold, cfg.Speaker.CentroidWeightCap),
		bindings:  bindings,
		assembler: fusion.NewAssembler(deps.Transcriber, deps.Emotions, bindings, deps.Store, cfg.Fusion),
		analyzer:  deps.Analyzer,
		gateway:   analysis.NewGateway(deps.Repairer),
		engine:    profile.NewEngine(deps.Store, cfg.Store.MaxAttempts),
		sem:       make(chan struct{}, concurrency),
		recs:      make(map[string]ObservationRecord),
		log:       logger.New().WithSession(sessionID).WithField("component", "pipeline"),
	}
}

func (p *Pipeline) SessionID() string           { return p.sessionID }
func (p *Pipeline) Pool() *speaker.Pool         { return p.pool }
func (p *Pipeline) Bindings() *speaker.Bindings { return p.bindings }

// Drops reports utterances evicted by the buffer in low-latency mode.
func (p *Pipeline) Drops() uint64 { return p.buf.Drops() }

// SetOnObservation installs a hook invoked after every recorded
// observation. Set it before Run.
func (p *Pipeline) SetOnObservation(fn func(ObservationRecord)) {
	p.mu.Lock()
	p.onObs = fn
	p.mu.Unlock()
}

// PushAudio feeds captured samples through the segmenter into the
// buffer. Call it from a single capture goroutine.
func (p *Pipeline) PushAudio(ctx context.Context, samples []int16) error {
	for _, u := range p.seg.Push(samples) {
		if err := p.buf.Push(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

// CloseInput flushes the segmenter and closes the buffer. Run returns
// once the buffered utterances are drained.
func (p *Pipeline) CloseInput(ctx context.Context) error {
	var pushErr error
	if u, ok := p.seg.Flush(); ok {
		pushErr = p.buf.Push(ctx, u)
	}
	p.buf.Close()
	if pushErr != nil && !errors.Is(pushErr, stream.ErrClosed) {
		return pushErr
	}
	return nil
}

// Run drains the buffer until it is closed or ctx ends. Feature
// extraction and identification happen on the dispatcher so speaker
// assignment follows stream order.
func (p *Pipeline) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	workers := make(map[string]chan job)

	for {
		u, ok := p.buf.Pop(ctx)
		if !ok {
			break
		}
		feats := p.extractor.Features(u)
		match := p.pool.Identify(p.extractor.Fingerprint(u))

		w, ok := workers[match.SpeakerID]
		if !ok {
			w = make(chan job, 16)
			workers[match.SpeakerID] = w
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := range w {
					p.process(ctx, j)
				}
			}()
		}
		select {
		case w <- job{u: u, match: match, feats: feats}:
		case <-ctx.Done():
			p.recordSkipped(job{u: u, match: match, feats: feats}, "session cancelled before analysis")
		}
	}

	for _, w := range workers {
		close(w)
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Pipeline) process(ctx context.Context, j job) {
	select {
	case <-ctx.Done():
		p.recordSkipped(j, "session cancelled before analysis")
		return
	default:
	}

	obs := p.assembler.Observe(ctx, j.u, j.match, j.feats)
	rec := ObservationRecord{Observation: obs}

	if obs.Transcript == "" && !obs.Degraded {
		rec.Skipped = true
		rec.Failure = "empty transcript, analysis skipped"
		p.record(rec)
		return
	}

	req := p.assembler.BuildRequest(ctx, obs)

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		rec.Skipped = true
		rec.Failure = "session cancelled before analysis"
		p.record(rec)
		return
	}
	raw, err := p.analyzer.Analyze(ctx, req)
	<-p.sem
	if err != nil {
		rec.Failure = fmt.Sprintf("analysis failed: %v", err)
		p.log.WithError(err).WithField("observation_id", obs.ID).Error("analysis failed")
		p.record(rec)
		return
	}

	res, err := p.gateway.Recover(ctx, raw)
	if err != nil {
		rec.Failure = fmt.Sprintf("unrecoverable analysis output: %v", err)
		var rerr *analysis.RepairError
		if errors.As(err, &rerr) {
			rec.Report = rerr.Raw
		}
		p.log.WithError(err).WithField("observation_id", obs.ID).Error("analysis output unrecoverable")
		p.record(rec)
		return
	}
	rec.Report = res.Report
	rec.UpdateJSON = res.Update.String()
	rec.Repaired = res.Repaired

	if obs.CharacterID == "" {
		p.log.WithFields(logrus.Fields{
			"observation_id": obs.ID,
			"speaker_id":     obs.SpeakerID,
		}).Info("speaker not bound to a character, analysis kept unmerged")
		p.record(rec)
		return
	}

	prof, err := p.engine.Apply(ctx, obs.CharacterID, res.Update, res.Deeds, profile.MergeMeta{
		SessionID:     p.sessionID,
		ObservationID: obs.ID,
	})
	if err != nil {
		rec.Failure = fmt.Sprintf("merge failed: %v", err)
		p.log.WithError(err).WithField("character_id", obs.CharacterID).Error("merge failed")
	} else {
		rec.MergedVersion = prof.Version
	}
	p.record(rec)
}

func (p *Pipeline) recordSkipped(j job, reason string) {
	obs := types.Observation{
		ID:          j.u.ID,
		SessionID:   j.u.SessionID,
		SpeakerID:   j.match.SpeakerID,
		SpeakerName: j.match.Name,
		Features:    j.feats,
		Start:       j.u.Start,
		End:         j.u.End,
	}
	p.record(ObservationRecord{Observation: obs, Skipped: true, Failure: reason})
}

func (p *Pipeline) record(rec ObservationRecord) {
	p.mu.Lock()
	if _, ok := p.recs[rec.Observation.ID]; !ok {
		p.order = append(p.order, rec.Observation.ID)
	}
	p.recs[rec.Observation.ID] = rec
	cb := p.onObs
	p.mu.Unlock()
	if cb != nil {
		cb(rec)
	}
}

// Record returns one observation record by id.
func (p *Pipeline) Record(observationID string) (ObservationRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.recs[observationID]
	return rec, ok
}

// Records lists all records in arrival order.
func (p *Pipeline) Records() []ObservationRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ObservationRecord, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.recs[id])
	}
	return out
}

// Reanalyze rebinds the observation's speaker to the character,
// rebuilds the request with fresh anchor context and runs the
// analysis, repair and merge chain again, updating the record.
func (p *Pipeline) Reanalyze(ctx context.Context, observationID, characterID string) (ObservationRecord, error) {
	rec, ok := p.Record(observationID)
	if !ok {
		return ObservationRecord{}, fmt.Errorf("unknown observation %q", observationID)
	}
	if characterID == "" {
		return ObservationRecord{}, errors.New("empty character id")
	}

	p.bindings.Bind(rec.Observation.SpeakerID, characterID)
	obs := rec.Observation
	obs.CharacterID = characterID

	req := p.assembler.BuildRequest(ctx, obs)

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ObservationRecord{}, ctx.Err()
	}
	raw, err := p.analyzer.Analyze(ctx, req)
	<-p.sem
	if err != nil {
		return ObservationRecord{}, fmt.Errorf("analysis failed: %w", err)
	}

	res, err := p.gateway.Recover(ctx, raw)
	if err != nil {
		return ObservationRecord{}, err
	}

	prof, err := p.engine.Apply(ctx, characterID, res.Update, res.Deeds, profile.MergeMeta{
		SessionID:     p.sessionID,
		ObservationID: obs.ID,
	})
	if err != nil {
		return ObservationRecord{}, fmt.Errorf("merge failed: %w", err)
	}

	updated := ObservationRecord{
		Observation:   obs,
		Report:        res.Report,
		UpdateJSON:    res.Update.String(),
		Repaired:      res.Repaired,
		MergedVersion: prof.Version,
	}
	p.record(updated)
	p.log.WithFields(logrus.Fields{
		"observation_id": observationID,
		"character_id":   characterID,
		"version":        prof.Version,
	}).Info("observation reanalyzed")
	return updated, nil
}
