package domain

const (
	EventNameSessionConcluded   = "session.concluded"
	EventNameSessionDestroyed   = "session.destroyed"
	EventNameLeaderboardChanged = "leaderboard.changed"
	EventNameLeaderboardUpdated = "leaderboard.updated"
	EventNameSystemMessage      = "system.message"
)

// EventSessionConcluded is published once when a session reaches its natural end.
type EventSessionConcluded struct {
	History History
}

func (EventSessionConcluded) Name() string { return EventNameSessionConcluded }

type EventSessionDestroyed struct {
	SessionID string
}

func (EventSessionDestroyed) Name() string { return EventNameSessionDestroyed }

// EventLeaderboardChanged carries the standings computed by a session after a round.
type EventLeaderboardChanged struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardChanged) Name() string { return EventNameLeaderboardChanged }

// EventLeaderboardUpdated is the throttled public view of a leaderboard, read back from the mirror.
type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }

// EventSystemMessage is the stream chat relays subscribe to.
type EventSystemMessage struct {
	SessionID string
	Kind      string
	Username  string
	Text      string
}

func (EventSystemMessage) Name() string { return EventNameSystemMessage }

const (
	SystemJoined    = "joined"
	SystemLeft      = "left"
	SystemAbandoned = "abandoned"
	SystemKicked    = "kicked"
	SystemMuted     = "muted"
	SystemUnmuted   = "unmuted"
)
