package events

import "time"

// Event is the envelope that flows through the event bus.
// Every domain event (goal, card, sync outcome, score check) is wrapped in one.
type Event struct {
	ID        string
	Type      EventType
	FixtureID string
	Timestamp time.Time
	Payload   any
}

type EventType string

const (
	// Session lifecycle
	EventSessionOpened EventType = "session_opened"
	EventSessionClosed EventType = "session_closed"

	// Local officiating actions
	EventGoalRecorded  EventType = "goal_recorded"
	EventGoalRemoved   EventType = "goal_removed"
	EventCardIssued    EventType = "card_issued"
	EventPlayerToggled EventType = "player_toggled"

	// Remote persistence outcomes
	EventSyncCompleted EventType = "sync_completed"
	EventSyncFailed    EventType = "sync_failed"
	EventBatchSaved    EventType = "batch_saved"
	EventScoreVerified EventType = "score_verified"
)
