package game

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/livequiz/internal/domain"
)

type State int

const (
	StateJoining State = iota
	StatePresentation
	StateAnswering
	StateShowingAnswers
	StateOver
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StatePresentation:
		return "presentation"
	case StateAnswering:
		return "answering"
	case StateShowingAnswers:
		return "showing-answers"
	case StateOver:
		return "over"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// next reports the state the game should move to from its current state.
func (g *Game) next() (State, bool) {
	switch g.state {
	case StateJoining:
		return StatePresentation, g.receivedStart

	case StatePresentation:
		return StateAnswering, g.timer.IsDone()

	case StateAnswering:
		return StateShowingAnswers, g.timer.IsDone() || g.allSubmitted()

	case StateShowingAnswers:
		if !g.readyForNext || !g.timer.IsDone() {
			return g.state, false
		}
		if g.hasNextQuestion {
			return StateAnswering, true
		}
		return StateOver, true
	}

	return g.state, false
}

// advance runs transitions until the machine settles. Caller holds mu.
func (g *Game) advance() {
	for {
		to, ok := g.next()
		if !ok {
			return
		}

		from := g.state
		g.exit(from)
		g.state = to
		slog.Debug(fmt.Sprintf("game: %s moved from %s to %s", g.id, from, to))
		g.enter(to)
	}
}

func (g *Game) exit(s State) {
	if s == StateShowingAnswers {
		g.concludeRound()
	}
}

func (g *Game) enter(s State) {
	switch s {
	case StatePresentation:
		g.enterPresentation()
	case StateAnswering:
		g.enterAnswering()
	case StateShowingAnswers:
		g.enterShowingAnswers()
	case StateOver:
		g.enterOver()
	}
}

func (g *Game) enterPresentation() {
	g.timer.StartCountdown(g.rules.PresentationDelay)
	g.room.ToAll(EventGameStarted, GameStartedPayload{
		Title:         g.quiz.Title,
		QuestionCount: len(g.quiz.Questions),
		DelayMs:       g.rules.PresentationDelay.Milliseconds(),
	})
}

func (g *Game) enterAnswering() {
	g.questionIndex++
	g.hasNextQuestion = g.questionIndex+1 < len(g.quiz.Questions)
	g.readyForNext = false

	q := g.question()
	g.votes = NewVoteList(q)
	g.grades.Reset()
	for _, p := range g.players {
		p.resetRound()
	}
	for _, p := range g.leavers {
		p.resetRound()
	}

	g.timer.StartCountdown(g.answeringDuration(q))
	g.room.ToAll(EventNextQuestion, g.questionPayload())
}

func (g *Game) enterShowingAnswers() {
	g.timer.StartCountdown(g.rules.RevealDelay)

	q := g.question()
	reveal := ShowAnswersPayload{
		QuestionIndex: g.questionIndex,
		RevealMs:      g.rules.RevealDelay.Milliseconds(),
	}

	switch q.Type {
	case domain.QuestionTypeMultipleChoice:
		g.scoreMultipleChoice(q)
		reveal.CorrectChoices = q.CorrectChoices()
		reveal.Votes = g.votes.Votes()
		g.results[g.questionIndex] = &QuestionResult{
			Index: g.questionIndex,
			Text:  q.Text,
			Type:  q.Type,
			Votes: reveal.Votes,
		}

	case domain.QuestionTypeLongAnswer:
		if answers := g.longAnswers(); len(answers) > 0 {
			g.room.ToOrganiser(EventEvaluationNeeded, EvaluationPayload{
				QuestionIndex: g.questionIndex,
				Answers:       answers,
			})
		}
	}

	g.room.ToAll(EventShowAnswers, reveal)
	g.room.ToOrganiser(EventLeaderboard, g.leaderboard())
	g.publishLeaderboard()
}

func (g *Game) enterOver() {
	g.timer.Stop()
	g.freeze()

	g.room.ToAll(EventGameOver, GameOverPayload{
		Leaderboard: g.leaderboard(),
		Results:     g.resultsLocked(),
	})

	g.publishLeaderboard()
	g.publisher.Publish(context.Background(), domain.EventSessionConcluded{History: g.history()})

	slog.Info(fmt.Sprintf("game: %s is over after %d question(s)", g.id, g.questionIndex+1))
}

// concludeRound settles long-answer grades and archives their distribution.
func (g *Game) concludeRound() {
	q := g.question()
	if q.Type != domain.QuestionTypeLongAnswer {
		return
	}

	points := decimal.NewFromInt(q.Points)
	for _, p := range g.submitters() {
		if grade, ok := g.grades.Grade(p.Username); ok {
			p.Score = p.Score.Add(points.Mul(decimal.NewFromInt(int64(grade))).Div(decimal.NewFromInt(100)))
		}
	}

	g.grades.PushGrades(g.questionIndex)
	counts, _ := g.grades.History(g.questionIndex)
	g.results[g.questionIndex] = &QuestionResult{
		Index:  g.questionIndex,
		Text:   q.Text,
		Type:   q.Type,
		Grades: &counts,
	}
}

func (g *Game) scoreMultipleChoice(q domain.Question) {
	var (
		correct = q.CorrectChoices()
		points  = decimal.NewFromInt(q.Points)
		bonus   = points.Mul(g.rules.speedBonusRatio())
		subs    = g.submitters()
		confirm = make([][]int, 0, len(subs))
	)

	for _, p := range subs {
		confirm = append(confirm, p.submission.Choices)
	}
	g.votes.Tally(confirm)

	for _, p := range subs {
		res := AnswerResultPayload{QuestionIndex: g.questionIndex, Points: "0"}
		if sameChoices(p.submission.Choices, correct) {
			earned := points
			res.Correct = true
			if g.isEligibleForSpeedBonus(p) {
				earned = earned.Add(bonus)
				p.BonusCount++
				res.Bonus = true
			}
			p.Score = p.Score.Add(earned)
			res.Points = earned.String()
		}

		g.room.ToMember(p.Conn, EventAnswerResult, res)
	}
}

// isEligibleForSpeedBonus is true when no other participant who answered did so at least one
// bonus window earlier than p. Participants who ran out of time have no submission and never
// count.
func (g *Game) isEligibleForSpeedBonus(p *Player) bool {
	if p == nil || !p.hasSubmitted() {
		return false
	}

	cutoff := p.submission.At.Add(-g.rules.SpeedBonusWindow)
	for _, o := range g.submitters() {
		if o == p {
			continue
		}
		if !o.submission.At.After(cutoff) {
			return false
		}
	}
	return true
}

func (g *Game) allSubmitted() bool {
	if len(g.players) == 0 {
		return false
	}
	for _, p := range g.players {
		if !p.hasSubmitted() {
			return false
		}
	}
	return true
}

func (g *Game) answeringDuration(q domain.Question) time.Duration {
	if q.Type == domain.QuestionTypeLongAnswer {
		return g.rules.LongAnswerDuration
	}
	if q.Duration > 0 {
		return q.Duration
	}
	return g.rules.QuestionDuration
}

func sameChoices(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
