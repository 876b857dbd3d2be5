package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ConnID identifies a single client connection. A participant is known to the core only by the
// connection it joined with.
type ConnID string

type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple-choice"
	QuestionTypeLongAnswer     QuestionType = "long-answer"
)

func (t QuestionType) Valid() bool {
	return t == QuestionTypeMultipleChoice || t == QuestionTypeLongAnswer
}

// Quiz is read-only content. The core never mutates a quiz once a session holds it.
type Quiz struct {
	QuizID    string
	Title     string
	Owner     string
	Public    bool
	Questions []Question
}

type Question struct {
	QuestionID string
	Text       string
	Type       QuestionType
	Points     int64
	// Duration is the answering time. Zero means the configured default.
	Duration time.Duration
	Choices  []Choice
}

type Choice struct {
	Text    string
	Correct bool
}

// CorrectChoices returns the indices of the correct choices in ascending order.
func (q Question) CorrectChoices() []int {
	var idx []int
	for i, c := range q.Choices {
		if c.Correct {
			idx = append(idx, i)
		}
	}
	return idx
}

// Presence describes what a participant did during the current round.
type Presence string

const (
	PresenceNoAction   Presence = "no-action"
	PresenceInteracted Presence = "interacted"
	PresenceSubmitted  Presence = "submitted"
	PresenceLeft       Presence = "left"
)

// LeaderboardEntry represents a participant's standing within a quiz session.
type LeaderboardEntry struct {
	Username   string          `json:"username"`
	Points     decimal.Decimal `json:"points"`
	BonusCount int             `json:"bonusCount"`
	Presence   Presence        `json:"presence"`
	Muted      bool            `json:"isMuted"`
}

// CompareEntries orders entries by points descending, then by username.
func CompareEntries(a, b LeaderboardEntry) int {
	if c := b.Points.Cmp(a.Points); c != 0 {
		return c
	}
	return strings.Compare(a.Username, b.Username)
}

// Leaderboard represents a list of users and their scores within a quiz session.
// The list is sorted by score in descending order.
type Leaderboard struct {
	SessionID string             `json:"sessionId"`
	Entries   []LeaderboardEntry `json:"entries"`
}

// History is the record of a concluded session handed to persistence collaborators.
type History struct {
	HistoryID    string         `json:"historyId"`
	SessionID    string         `json:"sessionId"`
	QuizID       string         `json:"quizId,omitempty"`
	Title        string         `json:"title"`
	Participants []string       `json:"participants"`
	StartedAt    time.Time      `json:"startedAt"`
	EndedAt      time.Time      `json:"endedAt"`
	Scores       []HistoryScore `json:"scores"`
}

type HistoryScore struct {
	Username   string          `json:"username"`
	Points     decimal.Decimal `json:"points"`
	BonusCount int             `json:"bonusCount"`
}

// Message is an outbound event addressed to one connection.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}
