package reader

import (
	"time"

	"github.com/liuscraft/orion-reader/internal/text"
)

type EventType int

const (
	EventTypeStateChanged EventType = iota
	EventTypeTextExtracted
	EventTypeNotice
)

type Event interface {
	Type() EventType
	Timestamp() time.Time
}

type EventHandler func(event Event)

type BaseEvent struct {
	eventType EventType
	timestamp time.Time
}

func (e *BaseEvent) Type() EventType {
	return e.eventType
}

func (e *BaseEvent) Timestamp() time.Time {
	return e.timestamp
}

func newBase(t EventType) BaseEvent {
	return BaseEvent{eventType: t, timestamp: time.Now()}
}

type StateChangedEvent struct {
	BaseEvent
	RequestID string
	OldState  State
	NewState  State
}

func NewStateChangedEvent(requestID string, oldState, newState State) *StateChangedEvent {
	return &StateChangedEvent{
		BaseEvent: newBase(EventTypeStateChanged),
		RequestID: requestID,
		OldState:  oldState,
		NewState:  newState,
	}
}

// TextExtractedEvent carries the recognized text, empty included.
type TextExtractedEvent struct {
	BaseEvent
	RequestID string
	Source    Source
	Language  string
	Text      string
	Stats     text.Stats
}

func NewTextExtractedEvent(requestID string, src Source, lang, extracted string) *TextExtractedEvent {
	return &TextExtractedEvent{
		BaseEvent: newBase(EventTypeTextExtracted),
		RequestID: requestID,
		Source:    src,
		Language:  lang,
		Text:      extracted,
		Stats:     text.Count(extracted),
	}
}

type NoticeEvent struct {
	BaseEvent
	Notice Notice
}

func NewNoticeEvent(n Notice) *NoticeEvent {
	return &NoticeEvent{BaseEvent: newBase(EventTypeNotice), Notice: n}
}
