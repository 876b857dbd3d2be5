package game

import "github.com/victornm/livequiz/internal/domain"

// Outbound events.
const (
	EventPlayerJoined      = "playerJoined"
	EventPlayerLeft        = "playerLeft"
	EventGameStarted       = "gameStarted"
	EventNextQuestion      = "nextQuestion"
	EventTime              = "time"
	EventSubmissionUpdate  = "submissionUpdate"
	EventSelectionUpdate   = "selectionUpdate"
	EventInteractionUpdate = "interactionUpdate"
	EventShowAnswers       = "showAnswers"
	EventAnswerResult      = "answerResult"
	EventEvaluationNeeded  = "evaluationNeeded"
	EventLeaderboard       = "leaderboard"
	EventPanic             = "panic"
	EventPause             = "pause"
	EventLock              = "lock"
	EventMute              = "mute"
	EventGameOver          = "gameOver"
)

type MembersPayload struct {
	Username string   `json:"username"`
	Members  []string `json:"members"`
}

type GameStartedPayload struct {
	Title         string `json:"title"`
	QuestionCount int    `json:"questionCount"`
	DelayMs       int64  `json:"delayMs"`
}

// QuestionPayload never carries correctness markers.
type QuestionPayload struct {
	Index      int                 `json:"index"`
	Total      int                 `json:"total"`
	Text       string              `json:"text"`
	Type       domain.QuestionType `json:"type"`
	Points     int64               `json:"points"`
	Choices    []string            `json:"choices,omitempty"`
	DurationMs int64               `json:"durationMs"`
}

type TimePayload struct {
	RemainingMs int64 `json:"remainingMs"`
}

type SubmissionPayload struct {
	Submitted   int                       `json:"submitted"`
	Total       int                       `json:"total"`
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
}

type SelectionPayload struct {
	QuestionIndex int                       `json:"questionIndex"`
	Votes         []Vote                    `json:"votes"`
	Leaderboard   []domain.LeaderboardEntry `json:"leaderboard"`
}

type InteractionPayload struct {
	QuestionIndex int `json:"questionIndex"`
	Interacted    int `json:"interacted"`
	NotInteracted int `json:"notInteracted"`
}

type ShowAnswersPayload struct {
	QuestionIndex  int    `json:"questionIndex"`
	CorrectChoices []int  `json:"correctChoices,omitempty"`
	Votes          []Vote `json:"votes,omitempty"`
	RevealMs       int64  `json:"revealMs"`
}

type AnswerResultPayload struct {
	QuestionIndex int    `json:"questionIndex"`
	Correct       bool   `json:"correct"`
	Bonus         bool   `json:"bonus"`
	Points        string `json:"points"`
}

type LongAnswer struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}

type EvaluationPayload struct {
	QuestionIndex int          `json:"questionIndex"`
	Answers       []LongAnswer `json:"answers"`
}

type PausePayload struct {
	Paused bool `json:"paused"`
}

type LockPayload struct {
	Locked bool `json:"locked"`
}

type MutePayload struct {
	Username string `json:"username"`
	Muted    bool   `json:"muted"`
}

type GameOverPayload struct {
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
	Results     []QuestionResult          `json:"results"`
}

// QuestionResult is the archived outcome of one round: votes for multiple-choice, grade
// distribution for long-answer.
type QuestionResult struct {
	Index  int                 `json:"index"`
	Text   string              `json:"text"`
	Type   domain.QuestionType `json:"type"`
	Votes  []Vote              `json:"votes,omitempty"`
	Grades *GradeCounts        `json:"grades,omitempty"`
}
