package registry

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/game"
	"github.com/victornm/livequiz/internal/room"
	"github.com/victornm/livequiz/internal/telemetry"
)

const (
	idLength                   = 6
	idAlphabet                 = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	defaultEmptySessionTimeout = 5 * time.Minute
	maxIDAttempts              = 16
)

const (
	reasonNotFound = "Game not found"
	reasonInGame   = "You are already in a game"
)

// Catalog resolves quiz content for new sessions.
type Catalog interface {
	// Quiz returns the quiz visible to requester.
	Quiz(ctx context.Context, quizID, requester string) (domain.Quiz, error)
	// RandomQuestions draws up to n bank questions of type t.
	RandomQuestions(ctx context.Context, t domain.QuestionType, n int) ([]domain.Question, error)
}

type Config struct {
	Catalog   Catalog
	Clock     clockwork.Clock
	Sender    room.Sender
	Publisher event.Publisher
	Metrics   *telemetry.Metrics
	Rules     game.Rules
	// EmptySessionTimeout destroys a created session nobody has joined.
	EmptySessionTimeout time.Duration
}

type session struct {
	game    *game.Game
	timeout clockwork.Timer
}

// Service owns every live session and the connection → session index. Lock order is always
// registry then game.
type Service struct {
	catalog   Catalog
	clock     clockwork.Clock
	sender    room.Sender
	publisher event.Publisher
	metrics   *telemetry.Metrics
	rules     game.Rules
	timeout   time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	conns    map[domain.ConnID]string
}

func NewService(c Config) *Service {
	s := &Service{
		catalog:   c.Catalog,
		clock:     c.Clock,
		sender:    c.Sender,
		publisher: c.Publisher,
		metrics:   c.Metrics,
		rules:     c.Rules,
		timeout:   c.EmptySessionTimeout,
		sessions:  make(map[string]*session),
		conns:     make(map[domain.ConnID]string),
	}

	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.timeout <= 0 {
		s.timeout = defaultEmptySessionTimeout
	}

	return s
}

// CreateRequest names either a quiz or a number of random bank questions of one type.
type CreateRequest struct {
	QuizID       string              `json:"quizId"`
	Requester    string              `json:"requester"`
	RandomCount  int                 `json:"randomCount"`
	QuestionType domain.QuestionType `json:"questionType"`
}

// Create validates the content and opens a new session, returning its id.
func (s *Service) Create(ctx context.Context, req CreateRequest) (string, error) {
	quiz, err := s.resolve(ctx, req)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The catalog lookup ran unlocked, so the id is drawn against the current table.
	id, err := s.newID()
	if err != nil {
		return "", err
	}

	g := game.New(game.Config{
		ID:        id,
		Quiz:      quiz,
		Rules:     s.rules,
		Clock:     s.clock,
		Sender:    s.sender,
		Publisher: s.publisher,
	})

	ss := &session{game: g}
	ss.timeout = s.clock.AfterFunc(s.timeout, func() { s.expire(id, g) })
	s.sessions[id] = ss
	s.metrics.SessionCreated()

	slog.InfoContext(ctx, fmt.Sprintf("registry: created session %s with %d question(s)", id, len(quiz.Questions)))
	return id, nil
}

func (s *Service) resolve(ctx context.Context, req CreateRequest) (domain.Quiz, error) {
	switch {
	case req.QuizID != "":
		q, err := s.catalog.Quiz(ctx, req.QuizID, req.Requester)
		if err != nil {
			return domain.Quiz{}, err
		}
		if len(q.Questions) == 0 {
			return domain.Quiz{}, errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("quiz %s has no questions", req.QuizID))
		}
		return q, nil

	case req.RandomCount > 0:
		if !req.QuestionType.Valid() {
			return domain.Quiz{}, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("unknown question type %q", req.QuestionType))
		}

		qs, err := s.catalog.RandomQuestions(ctx, req.QuestionType, req.RandomCount)
		if err != nil {
			return domain.Quiz{}, err
		}
		if len(qs) < req.RandomCount {
			return domain.Quiz{}, errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("not enough %s questions: want %d, have %d", req.QuestionType, req.RandomCount, len(qs)))
		}
		return domain.Quiz{Title: "Random quiz", Public: true, Questions: qs}, nil
	}

	return domain.Quiz{}, errors.New(errors.CodeInvalidArgument,
		errors.WithMessagef("either a quiz id or a random question count is required"))
}

// newID draws an unused session id. Caller holds mu.
func (s *Service) newID() (string, error) {
	for range maxIDAttempts {
		id, err := randomID(idLength)
		if err != nil {
			return "", errors.Internal(fmt.Errorf("generate session id: %w", err))
		}
		if _, taken := s.sessions[id]; !taken {
			return id, nil
		}
	}
	return "", errors.New(errors.CodeUnavailable, errors.WithMessagef("no free session id"))
}

// Join routes a connection into a session.
func (s *Service) Join(ctx context.Context, conn domain.ConnID, id, username string) game.JoinResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conns[conn]; ok {
		return game.JoinResult{Error: reasonInGame}
	}

	ss, ok := s.sessions[id]
	if !ok {
		return game.JoinResult{Error: reasonNotFound}
	}

	res := ss.game.Join(conn, username)
	if !res.Success {
		return res
	}

	s.conns[conn] = id
	if !res.Organiser {
		s.system(ctx, id, domain.SystemJoined, res.Username, fmt.Sprintf("%s joined the game", res.Username))
	}
	return res
}

// Leave removes a connection from its session. The reason ends up in the system message.
func (s *Service) Leave(ctx context.Context, conn domain.ConnID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.conns[conn]
	if !ok {
		return
	}

	ss := s.sessions[id]
	res := ss.game.Leave(conn)
	s.settle(ctx, id, res)

	switch {
	case !res.Found:
	case res.Organiser:
		s.system(ctx, id, domain.SystemAbandoned, res.Username, "The organiser abandoned the game")
	default:
		s.system(ctx, id, domain.SystemLeft, res.Username, fmt.Sprintf("%s left the game (%s)", res.Username, reason))
	}
}

// Kick bans a participant from the caller's session. Organiser only.
func (s *Service) Kick(ctx context.Context, caller domain.ConnID, username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.conns[caller]
	if !ok {
		return false
	}

	res, ok := s.sessions[id].game.Kick(caller, username)
	if !ok {
		return false
	}

	s.settle(ctx, id, res)
	s.system(ctx, id, domain.SystemKicked, res.Username, fmt.Sprintf("%s was kicked", res.Username))
	return true
}

// Mute toggles a participant's muted flag in the caller's session. Organiser only.
func (s *Service) Mute(ctx context.Context, caller domain.ConnID, username string) bool {
	g, ok := s.Game(caller)
	if !ok {
		return false
	}

	muted, ok := g.Mute(caller, username)
	if !ok {
		return false
	}

	kind, text := domain.SystemUnmuted, fmt.Sprintf("%s was unmuted", username)
	if muted {
		kind, text = domain.SystemMuted, fmt.Sprintf("%s was muted", username)
	}
	s.system(ctx, g.ID(), kind, username, text)
	return true
}

// settle drops the connections a leave removed and destroys an emptied session. Caller holds mu.
func (s *Service) settle(ctx context.Context, id string, res game.LeaveResult) {
	if !res.Found {
		return
	}

	delete(s.conns, res.Conn)
	for _, c := range res.Evicted {
		delete(s.conns, c)
	}

	if res.Emptied {
		s.destroy(ctx, id, "emptied")
	}
}

// Game returns the session the connection is in.
func (s *Service) Game(conn domain.ConnID) (*game.Game, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.conns[conn]
	if !ok {
		return nil, false
	}
	return s.sessions[id].game, true
}

// Lookup returns a session by id.
func (s *Service) Lookup(id string) (*game.Game, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ss, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return ss.game, true
}

func (s *Service) Destroy(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.destroy(ctx, id, "destroyed")
}

// destroy kills the session and forgets it. Caller holds mu.
func (s *Service) destroy(ctx context.Context, id, cause string) bool {
	ss, ok := s.sessions[id]
	if !ok {
		return false
	}

	ss.timeout.Stop()
	ss.game.Kill()
	delete(s.sessions, id)
	for c, sid := range s.conns {
		if sid == id {
			delete(s.conns, c)
		}
	}

	s.metrics.SessionDestroyed(cause)
	if s.publisher != nil {
		s.publisher.Publish(ctx, domain.EventSessionDestroyed{SessionID: id})
	}

	slog.InfoContext(ctx, fmt.Sprintf("registry: destroyed session %s (%s)", id, cause))
	return true
}

// expire destroys a session still empty when its grace period ends.
func (s *Service) expire(id string, g *game.Game) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ss, ok := s.sessions[id]; !ok || ss.game != g || !g.IsEmpty() {
		return
	}
	s.destroy(context.Background(), id, "timeout")
}

// Shutdown kills every session.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ss := range s.sessions {
		ss.game.Close(room.LeaveShutdown)
		s.destroy(ctx, id, "shutdown")
	}
}

func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

func (s *Service) system(ctx context.Context, id, kind, username, text string) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, domain.EventSystemMessage{
		SessionID: id,
		Kind:      kind,
		Username:  username,
		Text:      text,
	})
}

func randomID(n int) (string, error) {
	const max = byte(255 - (256 % len(idAlphabet)))

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)

	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}

		for _, b := range buf {
			if b <= max {
				out = append(out, idAlphabet[int(b)%len(idAlphabet)])
				if len(out) == n {
					break
				}
			}
		}
	}

	return string(out), nil
}
