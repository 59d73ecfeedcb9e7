package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalReceived EventType = "SIGNAL_RECEIVED"
	EventPaperOpened    EventType = "PAPER_OPENED"
	EventPaperClosed    EventType = "PAPER_CLOSED"
	EventLiveOpened     EventType = "LIVE_OPENED"
	EventLiveClosed     EventType = "LIVE_CLOSED"
	EventDailyReset     EventType = "DAILY_RESET"
	EventEngineSnapshot EventType = "ENGINE_SNAPSHOT"
	EventError          EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Subscribers run in goroutines so
// publishing never blocks the caller.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishSignalReceived publishes a signal received event
func (eb *EventBus) PublishSignalReceived(symbol, direction string, threshold float64) {
	eb.Publish(Event{
		Type: EventSignalReceived,
		Data: map[string]interface{}{
			"symbol":    symbol,
			"direction": direction,
			"threshold": threshold,
		},
	})
}

// PublishPaperOpened publishes a paper trade opened event
func (eb *EventBus) PublishPaperOpened(symbol, direction string, entryPrice, quantity float64) {
	eb.Publish(Event{
		Type: EventPaperOpened,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"direction":   direction,
			"entry_price": entryPrice,
			"quantity":    quantity,
		},
	})
}

// PublishPaperClosed publishes a paper trade closed event
func (eb *EventBus) PublishPaperClosed(symbol, direction, reason string, exitPrice, realizedPnl float64) {
	eb.Publish(Event{
		Type: EventPaperClosed,
		Data: map[string]interface{}{
			"symbol":       symbol,
			"direction":    direction,
			"reason":       reason,
			"exit_price":   exitPrice,
			"realized_pnl": realizedPnl,
		},
	})
}

// PublishLiveOpened publishes a live trade opened event
func (eb *EventBus) PublishLiveOpened(symbol, direction string, entryPrice, quantity float64) {
	eb.Publish(Event{
		Type: EventLiveOpened,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"direction":   direction,
			"entry_price": entryPrice,
			"quantity":    quantity,
		},
	})
}

// PublishLiveClosed publishes a live trade closed event
func (eb *EventBus) PublishLiveClosed(symbol, direction, reason string, exitPrice, realizedPnl, cumulativePnl float64) {
	eb.Publish(Event{
		Type: EventLiveClosed,
		Data: map[string]interface{}{
			"symbol":         symbol,
			"direction":      direction,
			"reason":         reason,
			"exit_price":     exitPrice,
			"realized_pnl":   realizedPnl,
			"cumulative_pnl": cumulativePnl,
		},
	})
}

// PublishDailyReset publishes a daily reset event
func (eb *EventBus) PublishDailyReset(resetDate string) {
	eb.Publish(Event{
		Type: EventDailyReset,
		Data: map[string]interface{}{
			"reset_date": resetDate,
		},
	})
}

// PublishSnapshot publishes a serialized engine snapshot for broadcast sinks
func (eb *EventBus) PublishSnapshot(snapshot interface{}) {
	eb.Publish(Event{
		Type: EventEngineSnapshot,
		Data: map[string]interface{}{
			"snapshot": snapshot,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
