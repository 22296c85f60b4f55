package events

// SessionStatus is published when an officiating session opens or closes.
type SessionStatus struct {
	Open     bool   `json:"open"`
	HomeTeam string `json:"home_team"`
	AwayTeam string `json:"away_team"`
}

// GoalRecorded carries the derived score after the goal was applied locally.
type GoalRecorded struct {
	GoalID     string `json:"goal_id"`
	Side       string `json:"side"`
	PlayerID   string `json:"player_id,omitempty"`
	PlayerName string `json:"player_name,omitempty"`
	Type       string `json:"type"`
	Time       int    `json:"time"` // match seconds
	OwnGoal    bool   `json:"own_goal,omitempty"`
	HomeScore  int    `json:"home_score"`
	AwayScore  int    `json:"away_score"`
}

type GoalRemoved struct {
	GoalID    string `json:"goal_id"`
	HomeScore int    `json:"home_score"`
	AwayScore int    `json:"away_score"`
}

type CardIssued struct {
	CardID     string `json:"card_id"`
	Side       string `json:"side"`
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name,omitempty"`
	CardType   string `json:"card_type"`
	Time       int    `json:"time"`

	// SecondYellow marks the red card produced by a second caution.
	SecondYellow bool `json:"second_yellow,omitempty"`
}

type PlayerToggled struct {
	PlayerID     string `json:"player_id"`
	PlayerName   string `json:"player_name,omitempty"`
	Side         string `json:"side"`
	IsPlaying    bool   `json:"is_playing"`
	TotalSeconds int    `json:"total_seconds"`
}

// SyncResult is published after every Sync Manager flush.
type SyncResult struct {
	Written    int    `json:"written"`
	Pending    int    `json:"pending"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// ScoreVerified compares the stored fixture score with the event log.
type ScoreVerified struct {
	InSync      bool   `json:"in_sync"`
	FixtureHome int    `json:"fixture_home"`
	FixtureAway int    `json:"fixture_away"`
	EventsHome  int    `json:"events_home"`
	EventsAway  int    `json:"events_away"`
	Message     string `json:"message"`
}

type BatchSaved struct {
	OK               bool     `json:"ok"`
	Goals            int      `json:"goals"`
	Cards            int      `json:"cards"`
	PlayerTimes      int      `json:"player_times"`
	Removed          int      `json:"removed"`
	AlreadyPersisted int      `json:"already_persisted"`
	Failures         []string `json:"failures,omitempty"`
}
