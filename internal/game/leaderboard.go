package game

import (
	"slices"

	"github.com/victornm/livequiz/internal/domain"
)

// Leaderboard returns the current standings. After the game is over it is the frozen final
// snapshot.
func (g *Game) Leaderboard() []domain.LeaderboardEntry {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.leaderboard()
}

// Results returns the archived outcome of every concluded round in question order.
func (g *Game) Results() []QuestionResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.resultsLocked()
}

func (g *Game) leaderboard() []domain.LeaderboardEntry {
	if g.frozen != nil {
		return slices.Clone(g.frozen)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(g.players)+len(g.leavers))
	for _, p := range g.players {
		entries = append(entries, p.entry())
	}
	for _, p := range g.leavers {
		entries = append(entries, p.entry())
	}

	slices.SortFunc(entries, domain.CompareEntries)
	return entries
}

// freeze commits the final standings. Later joins and leaves no longer affect them.
func (g *Game) freeze() {
	if g.frozen != nil {
		return
	}
	g.frozen = g.leaderboard()
}

func (g *Game) resultsLocked() []QuestionResult {
	out := make([]QuestionResult, 0, len(g.results))
	for i := 0; i <= g.questionIndex; i++ {
		if r, ok := g.results[i]; ok {
			out = append(out, *r)
		}
	}
	return out
}

func (g *Game) history() domain.History {
	h := domain.History{
		SessionID: g.id,
		QuizID:    g.quiz.QuizID,
		Title:     g.quiz.Title,
		StartedAt: g.startedAt,
		EndedAt:   g.clock.Now(),
	}

	for _, e := range g.leaderboard() {
		h.Participants = append(h.Participants, e.Username)
		h.Scores = append(h.Scores, domain.HistoryScore{
			Username:   e.Username,
			Points:     e.Points,
			BonusCount: e.BonusCount,
		})
	}
	return h
}
