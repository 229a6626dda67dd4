package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRepairer struct {
	calls int
	out   string
	err   error
}

func (s *stubRepairer) Repair(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.out, s.err
}

func TestRecoverCleanJSON(t *testing.T) {
	r := &stubRepairer{}
	g := NewGateway(r)

	res, err := g.Recover(context.Background(), `{"surface_behavior":{"tone":"dry"}}`)
	require.NoError(t, err)
	assert.Equal(t, 0, r.calls)
	assert.False(t, res.Repaired)
	assert.Empty(t, res.Report)

	sb, ok := res.Update.Get("surface_behavior")
	require.True(t, ok)
	tone, _ := sb.Get("tone")
	assert.Equal(t, "dry", tone.Text())
}

func TestRecoverFencedJSONWithReport(t *testing.T) {
	r := &stubRepairer{}
	g := NewGateway(r)

	raw := "The speaker shows tight control under pressure.\n\n```json\n{\"emotional_traits\":{\"baseline\":\"contained\"}}\n```\nEnd of analysis."
	res, err := g.Recover(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, 0, r.calls)
	assert.False(t, res.Repaired)
	assert.Contains(t, res.Report, "tight control under pressure")
	assert.Contains(t, res.Report, "End of analysis.")
	assert.NotContains(t, res.Report, "```")

	et, ok := res.Update.Get("emotional_traits")
	require.True(t, ok)
	assert.True(t, et.IsMapping())
}

func TestRecoverTrailingCommaWithoutRepair(t *testing.T) {
	r := &stubRepairer{}
	g := NewGateway(r)

	res, err := g.Recover(context.Background(), `{"personality_traits":["wry","guarded",],}`)
	require.NoError(t, err)
	assert.Equal(t, 0, r.calls, "structural cleanup must fix trailing commas locally")
	assert.False(t, res.Repaired)

	pt, ok := res.Update.Get("personality_traits")
	require.True(t, ok)
	assert.Equal(t, 2, pt.Len())
}

func TestRecoverBracesInsideStrings(t *testing.T) {
	g := NewGateway(&stubRepairer{})

	raw := "note follows {not json} here\n{\"core_essence\":{\"motto\":\"keep {calm} always\"}}"
	res, err := g.Recover(context.Background(), raw)
	require.NoError(t, err)

	ce, ok := res.Update.Get("core_essence")
	// the first balanced block is the prose braces, which do not parse;
	// recovery must not stop there
	if !ok {
		t.Fatalf("core_essence missing from update: %v", res.Update)
	}
	motto, _ := ce.Get("motto")
	assert.Equal(t, "keep {calm} always", motto.Text())
}

func TestRecoverRepairRoundSucceeds(t *testing.T) {
	r := &stubRepairer{out: `{"character_arc":{"stage":"rising"}}`}
	g := NewGateway(r)

	res, err := g.Recover(context.Background(), "totally not json")
	require.NoError(t, err)
	assert.Equal(t, 1, r.calls)
	assert.True(t, res.Repaired)

	arc, ok := res.Update.Get("character_arc")
	require.True(t, ok)
	stage, _ := arc.Get("stage")
	assert.Equal(t, "rising", stage.Text())
}

func TestRecoverRepairStillBrokenPreservesRaw(t *testing.T) {
	r := &stubRepairer{out: "still garbage"}
	g := NewGateway(r)

	const raw = "the model rambled with no json at all"
	_, err := g.Recover(context.Background(), raw)
	require.Error(t, err)
	assert.Equal(t, 1, r.calls, "exactly one repair round")

	var rerr *RepairError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, raw, rerr.Raw)
}

func TestRecoverRepairRequestFailure(t *testing.T) {
	r := &stubRepairer{err: errors.New("capability down")}
	g := NewGateway(r)

	_, err := g.Recover(context.Background(), "not json")
	var rerr *RepairError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "not json", rerr.Raw)
	assert.Contains(t, rerr.Err.Error(), "capability down")
}

func TestRecoverNilRepairer(t *testing.T) {
	g := NewGateway(nil)
	_, err := g.Recover(context.Background(), "not json")
	var rerr *RepairError
	require.ErrorAs(t, err, &rerr)
}

func TestRecoverSplitsCharacterDeeds(t *testing.T) {
	g := NewGateway(&stubRepairer{})

	raw := `{
	  "surface_behavior": {"tone": "sharp"},
	  "character_deeds": [
	    {"summary": "cut off the negotiator", "intent": "assert control", "strategy": "interruption"},
	    {"summary": "", "intent": "ignored, no summary"},
	    "not a mapping",
	    {"summary": "offered a truce"}
	  ]
	}`
	res, err := g.Recover(context.Background(), raw)
	require.NoError(t, err)

	_, hasDeeds := res.Update.Get("character_deeds")
	assert.False(t, hasDeeds, "deeds must not reach the merge update")
	_, hasBehavior := res.Update.Get("surface_behavior")
	assert.True(t, hasBehavior)

	require.Len(t, res.Deeds, 2)
	assert.Equal(t, "cut off the negotiator", res.Deeds[0].Summary)
	assert.Equal(t, "assert control", res.Deeds[0].Intent)
	assert.Equal(t, "interruption", res.Deeds[0].Strategy)
	assert.Equal(t, "offered a truce", res.Deeds[1].Summary)
}

func TestRecoverNonObjectGoesThroughRepair(t *testing.T) {
	r := &stubRepairer{out: `{"basic_attributes":{}}`}
	g := NewGateway(r)

	res, err := g.Recover(context.Background(), `[1, 2, 3]`)
	require.NoError(t, err)
	assert.Equal(t, 1, r.calls)
	assert.True(t, res.Repaired)
	assert.True(t, res.Update.IsMapping())
}
