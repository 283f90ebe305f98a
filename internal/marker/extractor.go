// Package marker extracts control directives embedded in streamed assistant
// prose. The model emits them inline as token-delimited JSON payloads; they
// must never reach the rendered text.
package marker

import (
	"encoding/json"
	"strings"

	"github.com/taskpilot-ai/conversational-client/internal/model"
)

const (
	projectOpen  = "[PROJECT_SUGGESTION_START]"
	projectClose = "[PROJECT_SUGGESTION_END]"

	deconstructOpen  = "[DECONSTRUCT_START]"
	deconstructClose = "[DECONSTRUCT_END]"
)

// Extractor scans a growing stream buffer for complete markers. It is
// stateful so a re-scan of the same completed marker does not re-trigger a
// suggestion: comparison is by decoded value, not raw substring, since
// whitespace may shift mid-stream.
type Extractor struct {
	suggestion *model.ProjectSuggestion
	breakdown  []model.BreakdownItem
}

// New creates an empty extractor. One extractor serves one turn; call Reset
// before reusing it.
func New() *Extractor {
	return &Extractor{}
}

// Reset clears any pending decoded payloads.
func (e *Extractor) Reset() {
	e.suggestion = nil
	e.breakdown = nil
}

// Suggestion returns the pending project suggestion, if any.
func (e *Extractor) Suggestion() *model.ProjectSuggestion {
	return e.suggestion
}

// Breakdown returns the pending structured breakdown, if any.
func (e *Extractor) Breakdown() []model.BreakdownItem {
	return e.breakdown
}

// Scan re-examines the full accumulated text and reports whether a decoded
// payload changed. A marker is acted on only once both its tokens are present
// and the body parses; partial or malformed bodies are expected mid-stream
// and ignored.
func (e *Extractor) Scan(text string) bool {
	changed := false

	if body, found := between(text, projectOpen, projectClose); found {
		var s model.ProjectSuggestion
		if decodeBody(body, &s) {
			if e.suggestion == nil || *e.suggestion != s {
				e.suggestion = &s
				changed = true
			}
		}
	}

	if body, found := between(text, deconstructOpen, deconstructClose); found {
		var items []model.BreakdownItem
		if decodeBody(body, &items) && len(items) > 0 {
			if !itemsEqual(e.breakdown, items) {
				e.breakdown = items
				changed = true
			}
		}
	}

	return changed
}

// Clean returns text with marker syntax removed: complete marker spans are
// cut out, and a trailing open token (or partial prefix of one) is truncated
// so raw syntax never flashes while the closing token is still in flight.
func Clean(text string) string {
	text = removeSpan(text, projectOpen, projectClose)
	text = removeSpan(text, deconstructOpen, deconstructClose)

	for _, open := range []string{projectOpen, deconstructOpen} {
		if i := strings.Index(text, open); i >= 0 {
			text = text[:i]
		}
		text = trimPartialToken(text, open)
	}

	return strings.TrimRight(text, " \n")
}

// between returns the body enclosed by the first open/close token pair.
func between(text, open, close string) (string, bool) {
	i := strings.Index(text, open)
	if i < 0 {
		return "", false
	}
	rest := text[i+len(open):]
	j := strings.Index(rest, close)
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

// decodeBody tolerates formatting noise around the JSON payload by trimming
// to the first bracket and the last matching close bracket before parsing.
func decodeBody(body string, v any) bool {
	start := strings.IndexAny(body, "[{")
	if start < 0 {
		return false
	}
	closeCh := byte('}')
	if body[start] == '[' {
		closeCh = ']'
	}
	end := strings.LastIndexByte(body, closeCh)
	if end <= start {
		return false
	}
	return json.Unmarshal([]byte(body[start:end+1]), v) == nil
}

func removeSpan(text, open, close string) string {
	for {
		i := strings.Index(text, open)
		if i < 0 {
			return text
		}
		rest := text[i+len(open):]
		j := strings.Index(rest, close)
		if j < 0 {
			return text
		}
		text = text[:i] + rest[j+len(close):]
	}
}

// trimPartialToken cuts a trailing prefix of an opening token, e.g. a buffer
// ending in "[DECONST" mid-fragment.
func trimPartialToken(text, token string) string {
	max := len(token) - 1
	if max > len(text) {
		max = len(text)
	}
	for l := max; l >= 2; l-- {
		if strings.HasSuffix(text, token[:l]) {
			return text[:len(text)-l]
		}
	}
	return text
}

func itemsEqual(a, b []model.BreakdownItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
