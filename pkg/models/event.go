package models

// EventType discriminates the event union.
type EventType string

// Event types.
const (
	EventRunCreated       EventType = "run.created"
	EventRunInProgress    EventType = "run.in-progress"
	EventRunAwaiting      EventType = "run.awaiting"
	EventRunCancelled     EventType = "run.cancelled"
	EventRunFailed        EventType = "run.failed"
	EventRunCompleted     EventType = "run.completed"
	EventMessageCreated   EventType = "message.created"
	EventMessagePart      EventType = "message.part"
	EventMessageCompleted EventType = "message.completed"
	EventGeneric          EventType = "generic"
	EventError            EventType = "error"
)

// Event is a tagged observation about a run. Exactly one payload field is
// populated, selected by Type: run.* events carry Run, message.created and
// message.completed carry Message, message.part carries Part, generic
// carries Generic and error carries Error.
type Event struct {
	Type    EventType      `json:"type"`
	Run     *Run           `json:"run,omitempty"`
	Message *Message       `json:"message,omitempty"`
	Part    *MessagePart   `json:"part,omitempty"`
	Generic map[string]any `json:"generic,omitempty"`
	Error   *Error         `json:"error,omitempty"`
}

// IsTerminal reports whether the event closes the run's stream.
func (e Event) IsTerminal() bool {
	switch e.Type {
	case EventRunCompleted, EventRunCancelled, EventRunFailed:
		return true
	}
	return false
}

// RunEvent builds a run.* event carrying a deep copy of the run, so the
// snapshot is isolated from later mutation by the executor.
func RunEvent(t EventType, run *Run) Event {
	frozen := run.Clone()
	return Event{Type: t, Run: &frozen}
}

// MessageEvent builds a message.created or message.completed event with a
// deep copy of the message.
func MessageEvent(t EventType, msg *Message) Event {
	frozen := msg.Clone()
	return Event{Type: t, Message: &frozen}
}

// PartEvent builds a message.part event.
func PartEvent(part MessagePart) Event {
	frozen := part.Clone()
	return Event{Type: EventMessagePart, Part: &frozen}
}

// GenericEvent builds a generic observability event.
func GenericEvent(payload map[string]any) Event {
	return Event{Type: EventGeneric, Generic: payload}
}

// Clone returns a deep copy of the part.
func (p MessagePart) Clone() MessagePart {
	out := p
	if p.Content != nil {
		c := *p.Content
		out.Content = &c
	}
	return out
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.CreatedAt != nil {
		t := *m.CreatedAt
		out.CreatedAt = &t
	}
	if m.CompletedAt != nil {
		t := *m.CompletedAt
		out.CompletedAt = &t
	}
	out.Parts = make([]MessagePart, len(m.Parts))
	for i := range m.Parts {
		out.Parts[i] = m.Parts[i].Clone()
	}
	return out
}

// Clone returns a deep copy of the run.
func (r Run) Clone() Run {
	out := r
	if r.SessionID != nil {
		id := *r.SessionID
		out.SessionID = &id
	}
	if r.AwaitRequest != nil {
		req := *r.AwaitRequest
		req.Message = r.AwaitRequest.Message.Clone()
		out.AwaitRequest = &req
	}
	if r.Error != nil {
		e := *r.Error
		out.Error = &e
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	out.Output = make([]Message, len(r.Output))
	for i := range r.Output {
		out.Output[i] = r.Output[i].Clone()
	}
	return out
}
