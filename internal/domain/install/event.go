package install

// EventKind tells the presentation layer how to treat an Event.
type EventKind int

const (
	// EventProgress carries a percentage and a human message.
	EventProgress EventKind = iota
	// EventLogLine carries one line of output.
	EventLogLine
	// EventCompletion is the single terminal event of an attempt.
	EventCompletion
)

// Event is emitted by the downloader, the executor and the controller.
type Event struct {
	// Kind selects which of the other fields are meaningful.
	Kind EventKind
	// Percent is 0..100 for progress events.
	Percent int
	// Message is the progress message, the log line, or the completion reason.
	Message string
	// Outcome is set on completion events.
	Outcome Outcome
	// Archive is set on a successful download completion.
	Archive *ArchiveCandidate
}

// Progress builds a progress event, clamping percent to 0..100.
func Progress(percent int, message string) Event {
	return Event{
		Kind:    EventProgress,
		Percent: max(0, min(100, percent)),
		Message: message,
	}
}

// LogLine builds a log-line event.
func LogLine(text string) Event {
	return Event{Kind: EventLogLine, Message: text}
}

// Completion builds a terminal event.
func Completion(outcome Outcome, message string) Event {
	return Event{Kind: EventCompletion, Outcome: outcome, Message: message}
}

// IsTerminal reports whether the event ends an attempt.
func (e Event) IsTerminal() bool {
	return e.Kind == EventCompletion
}

// Success reports whether the event is a successful completion.
func (e Event) Success() bool {
	return e.Kind == EventCompletion && e.Outcome.Success()
}
