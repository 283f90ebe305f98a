package model

// StreamEvent is a decoded frame from a turn stream. Exactly one of the
// concrete event types below is produced per frame.
type StreamEvent interface {
	streamEvent()
}

// ContentEvent carries an incremental text fragment, appended verbatim to the
// streaming accumulator.
type ContentEvent struct {
	Text string
}

// ErrorEvent is a terminal failure signal from the assistant service.
type ErrorEvent struct {
	Message string
}

// DoneEvent marks the end of the stream, either via the sentinel frame or the
// transport closing.
type DoneEvent struct{}

func (ContentEvent) streamEvent() {}
func (ErrorEvent) streamEvent()   {}
func (DoneEvent) streamEvent()    {}

// ProjectSuggestion is the decoded payload of a project-promotion marker
// embedded in assistant prose.
type ProjectSuggestion struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// BreakdownItem is one entry of a structured-breakdown marker payload.
type BreakdownItem struct {
	Item string `json:"item"`
}
