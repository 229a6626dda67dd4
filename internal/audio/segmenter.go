package audio

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"character-insights-go/internal/config"
	"character-insights-go/internal/logger"
	"character-insights-go/internal/types"
)

// Segmenter cuts a continuous sample stream into utterances with an
// energy VAD. Not safe for concurrent use; the pipeline feeds it from
// a single capture goroutine.
type Segmenter struct {
	sampleRate     int
	frameLen       int
	threshold      float64
	silenceFrames  int
	maxSamples     int
	overlapSamples int
	minSamples     int

	sessionID string
	log       *logrus.Entry

	pending    []int16
	cur        []int16
	curStart   int64
	open       bool
	overlap    bool
	silenceRun int
	pos        int64
	seq        uint64
}

func NewSegmenter(audioCfg config.AudioConfig, cfg config.SegmenterConfig, sessionID string) *Segmenter {
	frameLen := audioCfg.FrameSamples()
	silenceFrames := cfg.SilenceHoldMS / audioCfg.FrameMS
	if silenceFrames < 1 {
		silenceFrames = 1
	}
	return &Segmenter{
		sampleRate:     audioCfg.SampleRate,
		frameLen:       frameLen,
		threshold:      cfg.EnergyThresholdDB,
		silenceFrames:  silenceFrames,
		maxSamples:     audioCfg.SampleRate * cfg.MaxUtteranceMS / 1000,
		overlapSamples: audioCfg.SampleRate * cfg.OverlapMS / 1000,
		minSamples:     audioCfg.SampleRate * cfg.MinUtteranceMS / 1000,
		sessionID:      sessionID,
		log:            logger.New().WithField("component", "segmenter"),
	}
}

// Push consumes captured samples and returns every utterance closed by
// this batch, in stream order.
func (s *Segmenter) Push(samples []int16) []types.Utterance {
	s.pending = append(s.pending, samples...)
	var out []types.Utterance
	for len(s.pending) >= s.frameLen {
		frame := s.pending[:s.frameLen]
		if u, ok := s.frame(frame); ok {
			out = append(out, u)
		}
		s.pending = s.pending[s.frameLen:]
		s.pos += int64(s.frameLen)
	}
	return out
}

func (s *Segmenter) frame(frame []int16) (types.Utterance, bool) {
	voiced := rmsDB(frame) >= s.threshold

	if !s.open {
		if !voiced {
			return types.Utterance{}, false
		}
		s.open = true
		s.overlap = false
		s.curStart = s.pos
		s.cur = append(s.cur[:0], frame...)
		s.silenceRun = 0
	} else {
		s.cur = append(s.cur, frame...)
		if voiced {
			s.silenceRun = 0
		} else {
			s.silenceRun++
			if s.silenceRun >= s.silenceFrames {
				return s.closeOnSilence()
			}
		}
	}

	if len(s.cur) >= s.maxSamples {
		return s.forceCut()
	}
	return types.Utterance{}, false
}

func (s *Segmenter) closeOnSilence() (types.Utterance, bool) {
	defer s.reset()
	if len(s.cur) < s.minSamples {
		s.log.WithFields(logrus.Fields{
			"session_id":  s.sessionID,
			"duration_ms": 1000 * len(s.cur) / s.sampleRate,
		}).Debug("utterance below min duration, dropped")
		return types.Utterance{}, false
	}
	return s.emit(), true
}

// forceCut closes the utterance at the max-duration bound and reopens
// immediately with the overlap tail so a word split by the cut is
// present in both windows.
func (s *Segmenter) forceCut() (types.Utterance, bool) {
	u := s.emit()

	carry := s.overlapSamples
	if carry > len(s.cur) {
		carry = len(s.cur)
	}
	tail := make([]int16, carry)
	copy(tail, s.cur[len(s.cur)-carry:])

	nextStart := s.curStart + int64(len(s.cur)-carry)
	s.cur = tail
	s.curStart = nextStart
	s.overlap = true
	s.silenceRun = 0
	return u, true
}

// Flush closes any partial utterance at end of stream, regardless of
// the minimum duration.
func (s *Segmenter) Flush() (types.Utterance, bool) {
	if s.open && len(s.pending) > 0 {
		s.cur = append(s.cur, s.pending...)
	}
	s.pending = s.pending[:0]
	if !s.open || len(s.cur) == 0 {
		s.reset()
		return types.Utterance{}, false
	}
	u := s.emit()
	s.reset()
	return u, true
}

func (s *Segmenter) emit() types.Utterance {
	u := types.Utterance{
		ID:         uuid.New().String(),
		SessionID:  s.sessionID,
		Seq:        s.seq,
		Start:      s.sampleDuration(s.curStart),
		End:        s.sampleDuration(s.curStart + int64(len(s.cur))),
		SampleRate: s.sampleRate,
		Overlap:    s.overlap,
		Samples:    Preprocess(s.cur, s.sampleRate),
	}
	s.seq++
	return u
}

func (s *Segmenter) reset() {
	s.open = false
	s.overlap = false
	s.cur = nil
	s.silenceRun = 0
}

func (s *Segmenter) sampleDuration(n int64) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(s.sampleRate)
}
