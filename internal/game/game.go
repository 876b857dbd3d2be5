package game

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/room"
	"github.com/victornm/livequiz/internal/timer"
)

// Rules are the tunables of a session. Zero values fall back to DefaultRules.
type Rules struct {
	PresentationDelay  time.Duration
	RevealDelay        time.Duration
	QuestionDuration   time.Duration
	LongAnswerDuration time.Duration
	TickInterval       time.Duration
	PanicTickInterval  time.Duration
	SpeedBonusWindow   time.Duration
	SpeedBonusRatio    float64
	OrganiserName      string
	ReservedNames      []string
	MaxNameLength      int
}

func DefaultRules() Rules {
	return Rules{
		PresentationDelay:  3 * time.Second,
		RevealDelay:        5 * time.Second,
		QuestionDuration:   20 * time.Second,
		LongAnswerDuration: 15 * time.Second,
		TickInterval:       time.Second,
		PanicTickInterval:  250 * time.Millisecond,
		SpeedBonusWindow:   time.Second,
		SpeedBonusRatio:    0.1,
		OrganiserName:      "Organiser",
		ReservedNames:      []string{"System"},
		MaxNameLength:      24,
	}
}

func (r Rules) withDefaults() Rules {
	d := DefaultRules()
	if r.PresentationDelay <= 0 {
		r.PresentationDelay = d.PresentationDelay
	}
	if r.RevealDelay <= 0 {
		r.RevealDelay = d.RevealDelay
	}
	if r.QuestionDuration <= 0 {
		r.QuestionDuration = d.QuestionDuration
	}
	if r.LongAnswerDuration <= 0 {
		r.LongAnswerDuration = d.LongAnswerDuration
	}
	if r.TickInterval <= 0 {
		r.TickInterval = d.TickInterval
	}
	if r.PanicTickInterval <= 0 {
		r.PanicTickInterval = d.PanicTickInterval
	}
	if r.SpeedBonusWindow <= 0 {
		r.SpeedBonusWindow = d.SpeedBonusWindow
	}
	if r.SpeedBonusRatio < 0 {
		r.SpeedBonusRatio = 0
	}
	if r.OrganiserName == "" {
		r.OrganiserName = d.OrganiserName
	}
	if r.MaxNameLength <= 0 {
		r.MaxNameLength = d.MaxNameLength
	}
	return r
}

func (r Rules) speedBonusRatio() decimal.Decimal {
	return decimal.NewFromFloat(r.SpeedBonusRatio)
}

type Config struct {
	ID        string
	Quiz      domain.Quiz
	Rules     Rules
	Clock     clockwork.Clock
	Sender    room.Sender
	Publisher event.Publisher
}

// Game is one live quiz session. Every exported method takes the session lock, so socket handlers
// and timer ticks are applied one at a time in arrival order.
type Game struct {
	id        string
	quiz      domain.Quiz
	rules     Rules
	clock     clockwork.Clock
	publisher event.Publisher

	mu    sync.Mutex
	room  *room.Room
	timer *timer.Timer

	state           State
	questionIndex   int
	receivedStart   bool
	readyForNext    bool
	hasNextQuestion bool
	startedAt       time.Time

	players map[domain.ConnID]*Player
	leavers map[string]*Player
	frozen  []domain.LeaderboardEntry

	votes   *VoteList
	grades  *GradeManager
	results map[int]*QuestionResult
}

func New(c Config) *Game {
	g := &Game{
		id:            c.ID,
		quiz:          c.Quiz,
		rules:         c.Rules.withDefaults(),
		clock:         c.Clock,
		publisher:     c.Publisher,
		state:         StateJoining,
		questionIndex: -1,
		players:       make(map[domain.ConnID]*Player),
		leavers:       make(map[string]*Player),
		votes:         &VoteList{},
		grades:        NewGradeManager(),
		results:       make(map[int]*QuestionResult),
	}

	if g.clock == nil {
		g.clock = clockwork.NewRealClock()
	}
	if g.publisher == nil {
		g.publisher = nopPublisher{}
	}

	g.hasNextQuestion = len(g.quiz.Questions) > 0
	g.room = room.New(room.Config{
		ID:            c.ID,
		OrganiserName: g.rules.OrganiserName,
		ReservedNames: g.rules.ReservedNames,
		MaxNameLength: g.rules.MaxNameLength,
		Sender:        c.Sender,
	})
	g.timer = timer.New(timer.Config{
		Clock:         g.clock,
		Interval:      g.rules.TickInterval,
		PanicInterval: g.rules.PanicTickInterval,
	}, g.onTick)

	return g
}

func (g *Game) ID() string { return g.id }

type JoinResult struct {
	Success   bool     `json:"success"`
	Username  string   `json:"username,omitempty"`
	Organiser bool     `json:"organiser,omitempty"`
	Members   []string `json:"members,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Join admits a connection. Failures carry a human-readable reason and never change state.
func (g *Game) Join(conn domain.ConnID, username string) JoinResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateOver {
		return JoinResult{Error: "Game is over"}
	}

	res := g.room.Join(conn, username)
	if !res.OK {
		return JoinResult{Error: res.Reason}
	}

	if !res.Organiser {
		p := newPlayer(conn, res.Username)
		if l, ok := g.leavers[leaverKey(res.Username)]; ok && g.isPlaying() {
			p.Score, p.BonusCount, p.Muted = l.Score, l.BonusCount, l.Muted
			p.submission, p.interacted = l.submission, l.interacted
			delete(g.leavers, leaverKey(res.Username))
		}
		g.players[conn] = p

		g.room.ToAll(EventPlayerJoined, MembersPayload{Username: res.Username, Members: g.room.Usernames()})
		if g.state == StateAnswering {
			g.room.ToMember(conn, EventNextQuestion, g.questionPayload())
		}
	}

	return JoinResult{
		Success:   true,
		Username:  res.Username,
		Organiser: res.Organiser,
		Members:   g.room.Usernames(),
	}
}

type LeaveResult struct {
	Found     bool
	Organiser bool
	Conn      domain.ConnID
	Username  string
	// Evicted are connections removed along with the leaver.
	Evicted []domain.ConnID
	// Emptied is set when the session has nobody left and has been killed.
	Emptied bool
}

// Leave removes a connection. An emptied room kills the session.
func (g *Game) Leave(conn domain.ConnID) LeaveResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.removeLocked(g.room.Leave(conn))
}

// Kick bans and removes a participant by name. Organiser only.
func (g *Game) Kick(caller domain.ConnID, username string) (LeaveResult, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.room.IsOrganiser(caller) {
		return LeaveResult{}, false
	}

	m, ok := g.room.MemberByName(username)
	if !ok {
		return LeaveResult{}, false
	}

	return g.removeLocked(g.room.Kick(m.Conn)), true
}

func (g *Game) removeLocked(res room.LeaveResult) LeaveResult {
	if !res.Found {
		return LeaveResult{}
	}

	out := LeaveResult{Found: true, Organiser: res.Organiser, Conn: res.Member.Conn, Username: res.Member.Username}

	if !res.Organiser {
		g.dropPlayer(res.Member.Conn)
	}
	for _, m := range res.Evicted {
		g.dropPlayer(m.Conn)
		out.Evicted = append(out.Evicted, m.Conn)
	}

	if res.Emptied || g.room.IsEmpty() {
		g.kill()
		out.Emptied = true
		return out
	}

	if !res.Organiser {
		g.room.ToAll(EventPlayerLeft, MembersPayload{Username: res.Member.Username, Members: g.room.Usernames()})
		g.room.ToOrganiser(EventLeaderboard, g.leaderboard())
	}

	g.advance()
	return out
}

// dropPlayer removes the player, keeping its standing while the game is being played.
func (g *Game) dropPlayer(conn domain.ConnID) {
	p, ok := g.players[conn]
	if !ok {
		return
	}
	delete(g.players, conn)

	if g.isPlaying() {
		p.Presence = domain.PresenceLeft
		g.leavers[leaverKey(p.Username)] = p
	}
}

// isPlaying is true from the start until the final snapshot is committed.
func (g *Game) isPlaying() bool {
	return g.receivedStart && g.frozen == nil
}

// CanStart requires the room to be locked. Organisers lock the lobby before starting.
func (g *Game) CanStart(caller domain.ConnID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.canStart(caller)
}

func (g *Game) canStart(caller domain.ConnID) bool {
	return !g.receivedStart &&
		g.room.IsOrganiser(caller) &&
		g.room.Size() >= 1 &&
		!g.room.IsUnlocked()
}

func (g *Game) Start(caller domain.ConnID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.canStart(caller) {
		return false
	}

	g.receivedStart = true
	g.startedAt = g.clock.Now()
	g.room.SetTerminateOnEmpty(true)
	g.advance()

	slog.Info(fmt.Sprintf("game: %s started with %d participant(s)", g.id, g.room.Size()))
	return true
}

func (g *Game) SubmitMultipleChoice(caller domain.ConnID, indices []int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, q, ok := g.answerable(caller, domain.QuestionTypeMultipleChoice)
	if !ok {
		return
	}

	choices := normalizeChoices(indices, len(q.Choices))
	if len(choices) == 0 {
		return
	}

	p.submission = &Submission{Choices: choices, At: g.clock.Now()}
	p.selected = make(map[int]bool, len(choices))
	for _, c := range choices {
		p.selected[c] = true
	}
	p.Presence = domain.PresenceSubmitted

	g.notifySubmission()
	g.advance()
}

func (g *Game) SubmitLongAnswer(caller domain.ConnID, text string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, _, ok := g.answerable(caller, domain.QuestionTypeLongAnswer)
	if !ok {
		return
	}

	p.submission = &Submission{Text: strings.TrimSpace(text), At: g.clock.Now()}
	p.Presence = domain.PresenceSubmitted

	g.notifySubmission()
	g.advance()
}

// answerable returns the caller's player when it may still submit an answer of type t.
func (g *Game) answerable(caller domain.ConnID, t domain.QuestionType) (*Player, domain.Question, bool) {
	if g.state != StateAnswering {
		slog.Debug(fmt.Sprintf("game: %s dropped submission in state %s", g.id, g.state))
		return nil, domain.Question{}, false
	}

	p, ok := g.players[caller]
	if !ok || p.hasSubmitted() {
		return nil, domain.Question{}, false
	}

	q := g.question()
	if q.Type != t {
		return nil, domain.Question{}, false
	}

	return p, q, true
}

type Selection struct {
	QuestionIndex int  `json:"questionIndex"`
	ChoiceIndex   int  `json:"choiceIndex"`
	IsSelected    bool `json:"isSelected"`
}

// SelectChoice is live telemetry for multiple-choice questions.
func (g *Game) SelectChoice(caller domain.ConnID, s Selection) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateAnswering || s.QuestionIndex != g.questionIndex {
		return
	}

	q := g.question()
	if q.Type != domain.QuestionTypeMultipleChoice || s.ChoiceIndex < 0 || s.ChoiceIndex >= len(q.Choices) {
		return
	}

	p, ok := g.players[caller]
	if !ok || p.hasSubmitted() || p.selected[s.ChoiceIndex] == s.IsSelected {
		return
	}

	p.selected[s.ChoiceIndex] = s.IsSelected
	g.votes.Toggle(s.ChoiceIndex, s.IsSelected)
	p.interact()

	g.room.ToOrganiser(EventSelectionUpdate, SelectionPayload{
		QuestionIndex: g.questionIndex,
		Votes:         g.votes.Votes(),
		Leaderboard:   g.leaderboard(),
	})
}

type Interaction struct {
	QuestionIndex int  `json:"questionIndex"`
	Interacted    bool `json:"interacted"`
}

// UpdateInteraction is live telemetry for long-answer typing activity.
func (g *Game) UpdateInteraction(caller domain.ConnID, in Interaction) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateAnswering || in.QuestionIndex != g.questionIndex || g.question().Type != domain.QuestionTypeLongAnswer {
		return
	}

	p, ok := g.players[caller]
	if !ok || p.hasSubmitted() {
		return
	}

	p.interacted = in.Interacted
	if in.Interacted {
		p.interact()
	}

	interacted := 0
	for _, p := range g.players {
		if p.interacted || p.hasSubmitted() {
			interacted++
		}
	}

	g.room.ToOrganiser(EventInteractionUpdate, InteractionPayload{
		QuestionIndex: g.questionIndex,
		Interacted:    interacted,
		NotInteracted: len(g.players) - interacted,
	})
}

// Ready lets the organiser move past the reveal. It takes effect once the reveal delay is over.
func (g *Game) Ready(caller domain.ConnID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ready(caller)
}

func (g *Game) ready(caller domain.ConnID) {
	if g.state != StateShowingAnswers || !g.room.IsOrganiser(caller) {
		return
	}

	g.readyForNext = true
	g.advance()
}

// SubmitGrades records the organiser's grades for a long-answer round, then acts as Ready.
func (g *Game) SubmitGrades(caller domain.ConnID, grades []Grade) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateShowingAnswers || !g.room.IsOrganiser(caller) || g.question().Type != domain.QuestionTypeLongAnswer {
		return
	}

	g.grades.SetGrades(grades, g.submitterNames())
	g.ready(caller)
}

// IsGraded reports whether every long-answer submission of the current round has a grade.
func (g *Game) IsGraded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.grades.IsGraded(g.submitterNames())
}

// GradeCounts is the grade distribution of the current round.
func (g *Game) GradeCounts() GradeCounts {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.grades.GetGradeCounts()
}

// PauseTimer toggles the countdown and acknowledges the new state to the organiser.
func (g *Game) PauseTimer(caller domain.ConnID) (bool, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.room.IsOrganiser(caller) || g.state == StateJoining || g.state == StateOver {
		return false, false
	}

	paused := g.timer.TogglePause()
	g.room.ToOrganiser(EventPause, PausePayload{Paused: paused})
	return paused, true
}

func (g *Game) PanicTimer(caller domain.ConnID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.room.IsOrganiser(caller) || g.state != StateAnswering {
		return
	}

	g.timer.Panic()
	g.room.ToAll(EventPanic, nil)
}

func (g *Game) ToggleLock(caller domain.ConnID) (bool, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.room.IsOrganiser(caller) {
		return false, false
	}

	locked := g.room.ToggleLock()
	g.room.ToOrganiser(EventLock, LockPayload{Locked: locked})
	return locked, true
}

// Mute toggles the muted flag of a participant. Organiser only.
func (g *Game) Mute(caller domain.ConnID, username string) (bool, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.room.IsOrganiser(caller) {
		return false, false
	}

	m, ok := g.room.MemberByName(username)
	if !ok {
		return false, false
	}

	p := g.players[m.Conn]
	p.Muted = !p.Muted

	g.room.ToMember(m.Conn, EventMute, MutePayload{Username: p.Username, Muted: p.Muted})
	g.room.ToOrganiser(EventLeaderboard, g.leaderboard())
	return p.Muted, true
}

func (g *Game) IsMuted(conn domain.ConnID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.players[conn]
	return ok && p.Muted
}

// Username returns the name the connection joined under.
func (g *Game) Username(conn domain.ConnID) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if o, ok := g.room.Organiser(); ok && o.Conn == conn {
		return o.Username, true
	}
	m, ok := g.room.Member(conn)
	return m.Username, ok
}

// Kill ends the session immediately. No further ticks or broadcasts happen afterwards.
func (g *Game) Kill() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.kill()
}

// Close tells everyone in the room why the session ends, then kills it.
func (g *Game) Close(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateOver {
		return
	}
	g.room.ToAll(room.EventLeaving, room.LeavingPayload{Reason: reason})
	g.kill()
}

func (g *Game) kill() {
	if g.state == StateOver {
		return
	}

	g.timer.Stop()
	g.state = StateOver
	g.freeze()

	slog.Info(fmt.Sprintf("game: %s killed", g.id))
}

func (g *Game) onTick(time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateOver {
		return
	}

	if g.state == StateAnswering || g.state == StateShowingAnswers {
		g.room.ToAll(EventTime, TimePayload{RemainingMs: g.timer.Remaining().Milliseconds()})
	}

	g.advance()
}

type Status struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	State         State  `json:"state"`
	QuestionIndex int    `json:"questionIndex"`
	QuestionCount int    `json:"questionCount"`
	RemainingMs   int64  `json:"remainingMs"`
	Paused        bool   `json:"paused"`
	Locked        bool   `json:"locked"`
	Participants  int    `json:"participants"`
}

func (g *Game) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	return Status{
		ID:            g.id,
		Title:         g.quiz.Title,
		State:         g.state,
		QuestionIndex: g.questionIndex,
		QuestionCount: len(g.quiz.Questions),
		RemainingMs:   g.timer.Remaining().Milliseconds(),
		Paused:        g.timer.IsPaused(),
		Locked:        !g.room.IsUnlocked(),
		Participants:  g.room.Size(),
	}
}

func (g *Game) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.state
}

func (g *Game) QuestionIndex() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.questionIndex
}

func (g *Game) Remaining() time.Duration {
	return g.timer.Remaining()
}

func (g *Game) IsEmpty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.room.IsEmpty()
}

// Player returns a copy of a participant's state by username.
func (g *Game) Player(username string) (Player, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	m, ok := g.room.MemberByName(username)
	if !ok {
		return Player{}, false
	}
	return *g.players[m.Conn], true
}

// IsEligibleForSpeedBonus reports the speed-bonus rule for the named participant in the current
// round.
func (g *Game) IsEligibleForSpeedBonus(username string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	m, ok := g.room.MemberByName(username)
	if !ok {
		return false
	}
	return g.isEligibleForSpeedBonus(g.players[m.Conn])
}

func (g *Game) question() domain.Question {
	if g.questionIndex < 0 || g.questionIndex >= len(g.quiz.Questions) {
		return domain.Question{}
	}
	return g.quiz.Questions[g.questionIndex]
}

func (g *Game) questionPayload() QuestionPayload {
	q := g.question()

	p := QuestionPayload{
		Index:      g.questionIndex,
		Total:      len(g.quiz.Questions),
		Text:       q.Text,
		Type:       q.Type,
		Points:     q.Points,
		DurationMs: g.answeringDuration(q).Milliseconds(),
	}
	for _, c := range q.Choices {
		p.Choices = append(p.Choices, c.Text)
	}
	return p
}

func (g *Game) notifySubmission() {
	submitted := 0
	for _, p := range g.players {
		if p.hasSubmitted() {
			submitted++
		}
	}

	g.room.ToOrganiser(EventSubmissionUpdate, SubmissionPayload{
		Submitted:   submitted,
		Total:       len(g.players),
		Leaderboard: g.leaderboard(),
	})
}

func (g *Game) longAnswers() []LongAnswer {
	var answers []LongAnswer
	for _, m := range g.room.Members() {
		if p := g.players[m.Conn]; p != nil && p.hasSubmitted() {
			answers = append(answers, LongAnswer{Username: p.Username, Text: p.submission.Text})
		}
	}
	for _, p := range g.submittedLeavers() {
		answers = append(answers, LongAnswer{Username: p.Username, Text: p.submission.Text})
	}
	return answers
}

// submitters are the participants holding a submission this round, leavers included.
func (g *Game) submitters() []*Player {
	var out []*Player
	for _, p := range g.players {
		if p.hasSubmitted() {
			out = append(out, p)
		}
	}
	return append(out, g.submittedLeavers()...)
}

func (g *Game) submittedLeavers() []*Player {
	var out []*Player
	for _, p := range g.leavers {
		if p.hasSubmitted() {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b *Player) int { return strings.Compare(a.Username, b.Username) })
	return out
}

func (g *Game) submitterNames() []string {
	ps := g.submitters()
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Username
	}
	return names
}

func (g *Game) publishLeaderboard() {
	g.publisher.Publish(context.Background(), domain.EventLeaderboardChanged{
		Leaderboard: domain.Leaderboard{SessionID: g.id, Entries: g.leaderboard()},
	})
}

func leaverKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, event.Event) {}
