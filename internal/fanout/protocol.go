package fanout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charleschow/matchday/internal/events"
)

// Envelope is the wire format for events sent over the fanout WebSocket.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	FixtureID string          `json:"fixture_id"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

// MarshalEvent serializes an Event into a JSON-encoded Envelope.
func MarshalEvent(evt events.Event) ([]byte, error) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(Envelope{
		Type:      string(evt.Type),
		ID:        evt.ID,
		FixtureID: evt.FixtureID,
		Timestamp: evt.Timestamp,
		Payload:   payload,
	})
}

// UnmarshalEvent deserializes a JSON Envelope back into a typed Event.
func UnmarshalEvent(data []byte) (events.Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return events.Event{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	evt := events.Event{
		ID:        env.ID,
		Type:      events.EventType(env.Type),
		FixtureID: env.FixtureID,
		Timestamp: env.Timestamp,
	}

	var err error
	switch evt.Type {
	case events.EventSessionOpened, events.EventSessionClosed:
		evt.Payload, err = decode[events.SessionStatus](env.Payload)
	case events.EventGoalRecorded:
		evt.Payload, err = decode[events.GoalRecorded](env.Payload)
	case events.EventGoalRemoved:
		evt.Payload, err = decode[events.GoalRemoved](env.Payload)
	case events.EventCardIssued:
		evt.Payload, err = decode[events.CardIssued](env.Payload)
	case events.EventPlayerToggled:
		evt.Payload, err = decode[events.PlayerToggled](env.Payload)
	case events.EventSyncCompleted, events.EventSyncFailed:
		evt.Payload, err = decode[events.SyncResult](env.Payload)
	case events.EventScoreVerified:
		evt.Payload, err = decode[events.ScoreVerified](env.Payload)
	case events.EventBatchSaved:
		evt.Payload, err = decode[events.BatchSaved](env.Payload)
	default:
		return evt, fmt.Errorf("unknown event type: %s", env.Type)
	}
	if err != nil {
		return evt, fmt.Errorf("unmarshal %s: %w", env.Type, err)
	}
	return evt, nil
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}
