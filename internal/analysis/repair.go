package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"character-insights-go/internal/logger"
	"character-insights-go/internal/profile"
)

// Repairer is the single-shot JSON fixing capability.
type Repairer interface {
	Repair(ctx context.Context, broken string) (string, error)
}

// RepairError means the analysis output stayed unparseable after
// cleanup and the one allowed repair round. Raw keeps the original
// model output for the observation log.
type RepairError struct {
	Raw string
	Err error
}

func (e *RepairError) Error() string {
	return fmt.Sprintf("analysis output unrecoverable: %v", e.Err)
}

func (e *RepairError) Unwrap() error { return e.Err }

// Result is a recovered analysis payload: the profile update with
// character_deeds split out, plus whatever prose surrounded the JSON.
type Result struct {
	Update   profile.Value
	Deeds    []profile.TimelineEvent
	Report   string
	Repaired bool
}

// Gateway turns raw model output into a structured Result: strict
// parse first, then structural cleanup, then at most one repair
// request.
type Gateway struct {
	repairer Repairer
	log      *logrus.Entry
}

func NewGateway(r Repairer) *Gateway {
	return &Gateway{
		repairer: r,
		log:      logger.New().WithField("component", "repair-gateway"),
	}
}

func (g *Gateway) Recover(ctx context.Context, raw string) (Result, error) {
	if update, ok := parseObject(raw); ok {
		return g.finish(raw, update, false), nil
	}
	if update, ok := parseObject(cleanup(raw)); ok {
		return g.finish(raw, update, false), nil
	}

	if g.repairer == nil {
		return Result{}, &RepairError{Raw: raw, Err: errors.New("no repairer configured")}
	}
	g.log.WithField("chars", len(raw)).Info("analysis output malformed, requesting repair")
	fixed, err := g.repairer.Repair(ctx, raw)
	if err != nil {
		return Result{}, &RepairError{Raw: raw, Err: fmt.Errorf("repair request: %w", err)}
	}
	if update, ok := parseObject(fixed); ok {
		return g.finish(raw, update, true), nil
	}
	if update, ok := parseObject(cleanup(fixed)); ok {
		return g.finish(raw, update, true), nil
	}
	return Result{}, &RepairError{Raw: raw, Err: errors.New("still unparseable after repair")}
}

func (g *Gateway) finish(raw string, update profile.Value, repaired bool) Result {
	pruned, deeds := splitDeeds(update)
	return Result{
		Update:   pruned,
		Deeds:    deeds,
		Report:   reportText(raw),
		Repaired: repaired,
	}
}

func parseObject(s string) (profile.Value, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return profile.Value{}, false
	}
	v, err := profile.FromJSON([]byte(s))
	if err != nil || !v.IsMapping() {
		return profile.Value{}, false
	}
	return v, true
}

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// cleanup strips markdown fences, normalizes trailing commas and
// extracts the first balanced brace block that is valid JSON. Stray
// braces in surrounding prose are skipped over.
func cleanup(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, fence := range []string{"```json", "```JSON", "```"} {
		s = strings.ReplaceAll(s, fence, "")
	}

	for start := 0; ; {
		idx := strings.IndexByte(s[start:], '{')
		if idx == -1 {
			return ""
		}
		open := start + idx
		if candidate := balancedFrom(s, open); candidate != "" {
			candidate = trailingComma.ReplaceAllString(candidate, "$1")
			if json.Valid([]byte(candidate)) {
				return candidate
			}
		}
		start = open + 1
	}
}

// balancedFrom returns the brace-balanced block starting at open,
// ignoring braces inside JSON strings, or "" if it never closes.
func balancedFrom(s string, open int) string {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[open : i+1]
			}
		}
	}
	return ""
}

// reportText is the prose around the JSON block, with fence markers
// removed.
func reportText(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return strings.TrimSpace(raw)
	}
	out := raw[:start] + raw[end+1:]
	out = strings.NewReplacer("```json", "", "```JSON", "", "```", "").Replace(out)
	return strings.TrimSpace(out)
}

// splitDeeds removes character_deeds from the update so deeds reach
// the timeline instead of the profile document.
func splitDeeds(update profile.Value) (profile.Value, []profile.TimelineEvent) {
	deedsVal, ok := update.Get("character_deeds")
	if !ok {
		return update, nil
	}

	m := make(map[string]profile.Value, update.Len())
	for _, k := range update.Keys() {
		if k == "character_deeds" {
			continue
		}
		v, _ := update.Get(k)
		m[k] = v
	}
	pruned := profile.Mapping(m)

	var deeds []profile.TimelineEvent
	if deedsVal.IsSequence() {
		for _, item := range deedsVal.Items() {
			if !item.IsMapping() {
				continue
			}
			d := profile.TimelineEvent{
				Summary:  textField(item, "summary"),
				Intent:   textField(item, "intent"),
				Strategy: textField(item, "strategy"),
			}
			if d.Summary != "" {
				deeds = append(deeds, d)
			}
		}
	}
	return pruned, deeds
}

func textField(m profile.Value, key string) string {
	v, _ := m.Get(key)
	return v.Text()
}
