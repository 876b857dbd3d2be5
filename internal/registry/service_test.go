package registry_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/game"
	"github.com/victornm/livequiz/internal/registry"
	"github.com/victornm/livequiz/internal/room"
)

func TestService_Create(t *testing.T) {
	tests := map[string]struct {
		req      registry.CreateRequest
		wantCode errors.Code
	}{
		"public quiz should be created": {
			req: registry.CreateRequest{QuizID: "public"},
		},

		"private quiz should be visible to its owner": {
			req: registry.CreateRequest{QuizID: "private", Requester: "owner"},
		},

		"private quiz of someone else should not be found": {
			req:      registry.CreateRequest{QuizID: "private", Requester: "mallory"},
			wantCode: errors.CodeNotFound,
		},

		"empty quiz should be rejected": {
			req:      registry.CreateRequest{QuizID: "empty"},
			wantCode: errors.CodeFailedPrecondition,
		},

		"random session with enough bank questions should be created": {
			req: registry.CreateRequest{RandomCount: 2, QuestionType: domain.QuestionTypeMultipleChoice},
		},

		"random session without enough bank questions should be rejected": {
			req:      registry.CreateRequest{RandomCount: 3, QuestionType: domain.QuestionTypeLongAnswer},
			wantCode: errors.CodeFailedPrecondition,
		},

		"random session with unknown type should be rejected": {
			req:      registry.CreateRequest{RandomCount: 1, QuestionType: "essay"},
			wantCode: errors.CodeInvalidArgument,
		},

		"request without content should be rejected": {
			req:      registry.CreateRequest{},
			wantCode: errors.CodeInvalidArgument,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, _, _ := makeService(t)
			id, err := s.Create(context.Background(), tt.req)

			if tt.wantCode != 0 {
				require.Error(t, err)
				assert.True(t, errors.IsCode(err, tt.wantCode), "got %v", err)
				assert.Equal(t, 0, s.Len())
				return
			}

			require.NoError(t, err)
			assert.Len(t, id, 6)
			_, ok := s.Lookup(id)
			assert.True(t, ok)
		})
	}
}

func TestService_CreateGeneratesDistinctIDs(t *testing.T) {
	s, _, _ := makeService(t)

	seen := make(map[string]bool)
	for range 50 {
		id, err := s.Create(context.Background(), registry.CreateRequest{QuizID: "public"})
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, 50, s.Len())
}

func TestService_JoinAndLeave(t *testing.T) {
	s, _, pub := makeService(t)
	ctx := context.Background()

	id, err := s.Create(ctx, registry.CreateRequest{QuizID: "public"})
	require.NoError(t, err)

	assert.False(t, s.Join(ctx, "c0", "NOPE00", "host").Success)

	require.True(t, s.Join(ctx, "c0", id, "host").Organiser)
	res := s.Join(ctx, "c1", id, "alice")
	require.True(t, res.Success)
	assert.Equal(t, []string{"alice"}, res.Members)

	again := s.Join(ctx, "c1", id, "alice2")
	assert.False(t, again.Success, "a connection can only be in one game")

	g, ok := s.Game("c1")
	require.True(t, ok)
	assert.Equal(t, id, g.ID())

	s.Leave(ctx, "c1", "disconnected")
	_, ok = s.Game("c1")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len(), "the organiser is still there")

	s.Leave(ctx, "c0", "disconnected")
	assert.Equal(t, 0, s.Len(), "an emptied session should be destroyed")
	assert.Equal(t, game.StateOver, g.State())

	require.Eventually(t, func() bool {
		return len(pub.find(domain.EventNameSessionDestroyed)) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{domain.SystemJoined, domain.SystemLeft, domain.SystemAbandoned}, pub.systemKinds())
}

func TestService_OrganiserLeavingEvictsEverybody(t *testing.T) {
	s, _, _ := makeService(t)
	ctx := context.Background()

	id, err := s.Create(ctx, registry.CreateRequest{QuizID: "public"})
	require.NoError(t, err)
	s.Join(ctx, "c0", id, "host")
	s.Join(ctx, "c1", id, "alice")
	s.Join(ctx, "c2", id, "bob")

	s.Leave(ctx, "c0", "left")

	assert.Equal(t, 0, s.Len())
	for _, c := range []domain.ConnID{"c0", "c1", "c2"} {
		_, ok := s.Game(c)
		assert.False(t, ok, "connection %s should be unmapped", c)
	}
}

func TestService_Kick(t *testing.T) {
	s, _, pub := makeService(t)
	ctx := context.Background()

	id, err := s.Create(ctx, registry.CreateRequest{QuizID: "public"})
	require.NoError(t, err)
	s.Join(ctx, "c0", id, "host")
	s.Join(ctx, "c1", id, "alice")
	s.Join(ctx, "c2", id, "bob")

	assert.False(t, s.Kick(ctx, "c1", "bob"))
	assert.True(t, s.Kick(ctx, "c0", "bob"))

	_, ok := s.Game("c2")
	assert.False(t, ok)
	assert.False(t, s.Join(ctx, "c3", id, "bob").Success)
	assert.Contains(t, pub.systemKinds(), domain.SystemKicked)

	assert.True(t, s.Mute(ctx, "c0", "alice"))
	assert.Contains(t, pub.systemKinds(), domain.SystemMuted)
}

func TestService_EmptySessionTimeout(t *testing.T) {
	tests := map[string]struct {
		arrange func(s *registry.Service, id string)
		wantLen int
	}{
		"session nobody joined should be destroyed": {
			arrange: func(*registry.Service, string) {},
			wantLen: 0,
		},

		"session with an organiser should survive": {
			arrange: func(s *registry.Service, id string) {
				s.Join(context.Background(), "c0", id, "host")
			},
			wantLen: 1,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, fc, _ := makeService(t)
			id, err := s.Create(context.Background(), registry.CreateRequest{QuizID: "public"})
			require.NoError(t, err)
			tt.arrange(s, id)

			fc.Advance(time.Minute)

			require.Eventually(t, func() bool {
				return s.Len() == tt.wantLen
			}, time.Second, 10*time.Millisecond)
		})
	}
}

func TestService_Shutdown(t *testing.T) {
	s, _, _ := makeService(t)
	ctx := context.Background()

	for range 3 {
		_, err := s.Create(ctx, registry.CreateRequest{QuizID: "public"})
		require.NoError(t, err)
	}

	s.Shutdown(ctx)
	assert.Equal(t, 0, s.Len())
}

func TestService_ShutdownNotifiesEveryone(t *testing.T) {
	rec := &recorder{}
	s := registry.NewService(registry.Config{Catalog: catalog{}, Clock: clockwork.NewFakeClock(), Sender: rec})
	ctx := context.Background()

	id, err := s.Create(ctx, registry.CreateRequest{QuizID: "public"})
	require.NoError(t, err)
	require.True(t, s.Join(ctx, "c0", id, "host").Organiser)
	require.True(t, s.Join(ctx, "c1", id, "alice").Success)

	s.Shutdown(ctx)

	want := domain.Message{Event: room.EventLeaving, Data: room.LeavingPayload{Reason: room.LeaveShutdown}}
	for _, c := range []domain.ConnID{"c0", "c1"} {
		assert.Equal(t, []domain.Message{want}, rec.find(c, room.EventLeaving), "conn %s", c)
	}
	_, ok := s.Game("c1")
	assert.False(t, ok)
}

func makeService(t *testing.T) (*registry.Service, *clockwork.FakeClock, *publisher) {
	t.Helper()

	fc := clockwork.NewFakeClock()
	pub := &publisher{}
	s := registry.NewService(registry.Config{
		Catalog:             catalog{},
		Clock:               fc,
		Sender:              discard{},
		Publisher:           pub,
		EmptySessionTimeout: time.Minute,
	})
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	return s, fc, pub
}

type catalog struct{}

func (catalog) Quiz(_ context.Context, quizID, requester string) (domain.Quiz, error) {
	question := domain.Question{
		Text:    "2 + 2?",
		Type:    domain.QuestionTypeMultipleChoice,
		Points:  100,
		Choices: []domain.Choice{{Text: "4", Correct: true}, {Text: "5"}},
	}

	switch quizID {
	case "public":
		return domain.Quiz{QuizID: quizID, Public: true, Questions: []domain.Question{question}}, nil
	case "private":
		if requester == "owner" {
			return domain.Quiz{QuizID: quizID, Owner: "owner", Questions: []domain.Question{question}}, nil
		}
	case "empty":
		return domain.Quiz{QuizID: quizID, Public: true}, nil
	}
	return domain.Quiz{}, errors.New(errors.CodeNotFound)
}

func (catalog) RandomQuestions(_ context.Context, t domain.QuestionType, n int) ([]domain.Question, error) {
	bank := map[domain.QuestionType]int{
		domain.QuestionTypeMultipleChoice: 5,
		domain.QuestionTypeLongAnswer:     2,
	}

	var out []domain.Question
	for i := 0; i < min(n, bank[t]); i++ {
		out = append(out, domain.Question{Text: "q", Type: t, Points: 10})
	}
	return out, nil
}

type discard struct{}

func (discard) Send(domain.ConnID, domain.Message) {}

type recorder struct {
	mu   sync.Mutex
	msgs map[domain.ConnID][]domain.Message
}

func (r *recorder) Send(to domain.ConnID, msg domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.msgs == nil {
		r.msgs = make(map[domain.ConnID][]domain.Message)
	}
	r.msgs[to] = append(r.msgs[to], msg)
}

func (r *recorder) find(conn domain.ConnID, event string) []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Message
	for _, m := range r.msgs[conn] {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

type publisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *publisher) Publish(_ context.Context, e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, e)
}

func (p *publisher) find(name string) []event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []event.Event
	for _, e := range p.events {
		if e.Name() == name {
			out = append(out, e)
		}
	}
	return out
}

func (p *publisher) systemKinds() []string {
	var kinds []string
	for _, e := range p.find(domain.EventNameSystemMessage) {
		kinds = append(kinds, e.(domain.EventSystemMessage).Kind)
	}
	return kinds
}
