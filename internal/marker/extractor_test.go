package marker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpilot-ai/conversational-client/internal/model"
)

func TestScanDecodesBreakdown(t *testing.T) {
	e := New()
	text := `Here is the plan. [DECONSTRUCT_START][{"item":"x"}][DECONSTRUCT_END] Let me know.`

	changed := e.Scan(text)

	require.True(t, changed)
	require.Equal(t, []model.BreakdownItem{{Item: "x"}}, e.Breakdown())

	display := Clean(text)
	assert.NotContains(t, display, "DECONSTRUCT")
	assert.Contains(t, display, "Here is the plan.")
	assert.Contains(t, display, "Let me know.")
}

func TestScanIsIdempotent(t *testing.T) {
	e := New()
	text := `[DECONSTRUCT_START][{"item":"x"}][DECONSTRUCT_END]`

	require.True(t, e.Scan(text))
	assert.False(t, e.Scan(text), "re-parsing the same marker must not re-trigger")

	// Whitespace shifts in the raw substring do not count as a change.
	assert.False(t, e.Scan(`[DECONSTRUCT_START] [{"item": "x"}] [DECONSTRUCT_END]`))
}

func TestScanIgnoresPartialMarker(t *testing.T) {
	e := New()

	assert.False(t, e.Scan(`prose [DECONSTRUCT_START][{"item":`))
	assert.Nil(t, e.Breakdown())

	// The closing token completes the marker on a later scan.
	assert.True(t, e.Scan(`prose [DECONSTRUCT_START][{"item":"x"}][DECONSTRUCT_END]`))
}

func TestScanDecodesProjectSuggestion(t *testing.T) {
	e := New()
	text := `[PROJECT_SUGGESTION_START]{"name":"Site redesign","description":"full revamp"}[PROJECT_SUGGESTION_END]`

	require.True(t, e.Scan(text))
	require.NotNil(t, e.Suggestion())
	assert.Equal(t, "Site redesign", e.Suggestion().Name)

	// A changed payload re-triggers.
	assert.True(t, e.Scan(`[PROJECT_SUGGESTION_START]{"name":"Other"}[PROJECT_SUGGESTION_END]`))
}

func TestScanToleratesNoiseAroundPayload(t *testing.T) {
	e := New()
	text := "[DECONSTRUCT_START]json\n```[{\"item\":\"x\"}]```\n[DECONSTRUCT_END]"

	require.True(t, e.Scan(text))
	assert.Equal(t, []model.BreakdownItem{{Item: "x"}}, e.Breakdown())
}

func TestScanSwallowsMalformedBody(t *testing.T) {
	e := New()

	assert.False(t, e.Scan(`[DECONSTRUCT_START]not json at all[DECONSTRUCT_END]`))
	assert.Nil(t, e.Breakdown())
}

func TestCleanTruncatesUnterminatedMarker(t *testing.T) {
	assert.Equal(t, "Working on it.", Clean(`Working on it. [DECONSTRUCT_START][{"item":`))
}

func TestCleanTrimsPartialOpenToken(t *testing.T) {
	// A fragment boundary can land mid-token; the partial prefix must not
	// flash in the rendered text.
	assert.Equal(t, "Hello", Clean("Hello [DECONS"))
	assert.Equal(t, "Hello", Clean("Hello [PROJECT_SUG"))
}

func TestCleanPassesPlainProse(t *testing.T) {
	assert.Equal(t, "just text", Clean("just text"))
}

func TestReset(t *testing.T) {
	e := New()
	require.True(t, e.Scan(`[DECONSTRUCT_START][{"item":"x"}][DECONSTRUCT_END]`))

	e.Reset()

	assert.Nil(t, e.Breakdown())
	assert.Nil(t, e.Suggestion())
	assert.True(t, e.Scan(`[DECONSTRUCT_START][{"item":"x"}][DECONSTRUCT_END]`))
}
