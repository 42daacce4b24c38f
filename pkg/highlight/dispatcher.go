package highlight

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Topic carries highlight instructions from the pipeline to whatever pushes
// them at the document (the websocket hub in this service).
const Topic = "highlight_events"

// Event types.
const (
	EventHighlight = "highlight"
	EventClear     = "clear"
)

// Event is one highlight instruction for a tab's document.
type Event struct {
	TabID      string   `json:"tab_id"`
	Type       string   `json:"type"`
	ElementIDs []string `json:"element_ids,omitempty"`
}

// Dispatcher is a pure consumer of resolved citations: it turns them into
// highlight/clear events on the event bus and knows nothing about how the
// document renders them.
type Dispatcher struct {
	publisher message.Publisher
}

func NewDispatcher(publisher message.Publisher) *Dispatcher {
	return &Dispatcher{publisher: publisher}
}

// Highlight requests marks on the given elements of a tab's document.
func (d *Dispatcher) Highlight(tabID string, elementIDs []string) error {
	return d.publish(Event{
		TabID:      tabID,
		Type:       EventHighlight,
		ElementIDs: elementIDs,
	})
}

// Clear requests removal of all marks on a tab's document.
func (d *Dispatcher) Clear(tabID string) error {
	return d.publish(Event{
		TabID: tabID,
		Type:  EventClear,
	})
}

func (d *Dispatcher) publish(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return d.publisher.Publish(Topic, message.NewMessage(watermill.NewUUID(), payload))
}
