//go:build integration_test

package demo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/livequiz/internal/api"
	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/game"
	"github.com/victornm/livequiz/internal/gateway"
)

// Runs against a server started with config/livequiz.yaml.
const (
	httpAddr = "http://localhost:8080"
	wsAddr   = "ws://localhost:8080/ws"
	quizID   = "go-basics"
	prefix   = "livequiz"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func TestQuiz(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	var (
		wg    = new(sync.WaitGroup)
		users = []string{"u1", "u2", "u3"}
	)

	session := createSession(t)
	t.Logf("Created session %s", session)

	// Prepare Redis subscriber
	subscribeAsUser(ctx, t, makeRedis(t), wg, session, "u1")

	host := dial(t, session, "quizmaster")

	players := make(map[string]*websocket.Conn, len(users))
	for _, u := range users {
		players[u] = dial(t, session, u)
	}

	send(t, host, gateway.TypeToggleLock, nil)
	send(t, host, gateway.TypeStart, nil)

	var eg errgroup.Group

	// The organiser moves the game forward and grades every long answer.
	eg.Go(func() error {
		grading := false
		return loop(ctx, host, func(e envelope) (bool, error) {
			switch e.Event {
			case game.EventShowAnswers:
				if grading {
					grading = false
					return false, nil
				}
				return false, host.WriteJSON(gateway.Frame{Type: gateway.TypeReady})

			case game.EventEvaluationNeeded:
				// Grades arrive before the reveal and act as ready.
				grading = true
				var p game.EvaluationPayload
				if err := json.Unmarshal(e.Data, &p); err != nil {
					return false, err
				}
				grades := make([]game.Grade, 0, len(p.Answers))
				for i, a := range p.Answers {
					grades = append(grades, game.Grade{Username: a.Username, Grade: 100 - 25*i})
				}
				data, _ := json.Marshal(gateway.GradesRequest{Grades: grades})
				return false, host.WriteJSON(gateway.Frame{Type: gateway.TypeSubmitGrades, Data: data})

			case game.EventGameOver:
				return true, nil
			}
			return false, nil
		})
	})

	for _, u := range users {
		ws := players[u]
		eg.Go(func() error {
			return loop(ctx, ws, func(e envelope) (bool, error) {
				switch e.Event {
				case game.EventNextQuestion:
					var q game.QuestionPayload
					if err := json.Unmarshal(e.Data, &q); err != nil {
						return false, err
					}
					t.Logf("User %q answering question %d", u, q.Index)

					if q.Type == domain.QuestionTypeLongAnswer {
						data, _ := json.Marshal(gateway.TextRequest{Text: "it depends, says " + u})
						return false, ws.WriteJSON(gateway.Frame{Type: gateway.TypeSubmitLongAnswer, Data: data})
					}
					data, _ := json.Marshal(gateway.ChoicesRequest{Choices: []int{0}})
					return false, ws.WriteJSON(gateway.Frame{Type: gateway.TypeSubmitMultipleChoice, Data: data})

				case game.EventGameOver:
					var p game.GameOverPayload
					if err := json.Unmarshal(e.Data, &p); err != nil {
						return false, err
					}
					t.Logf("User %q final standings: %+v", u, p.Leaderboard)
					return true, nil
				}
				return false, nil
			})
		})
	}

	require.NoError(t, eg.Wait())

	// Give the throttled leaderboard publish a moment to land.
	time.Sleep(time.Second)
	cancel()
	wg.Wait()
}

func createSession(t *testing.T) string {
	body, _ := json.Marshal(map[string]string{"quizId": quizID})
	resp, err := http.Post(httpAddr+"/api/sessions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var res api.CreateSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	require.True(t, res.Success, res.Error)

	return res.ID
}

func dial(t *testing.T, session, username string) *websocket.Conn {
	ws, _, err := websocket.DefaultDialer.Dial(wsAddr, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	send(t, ws, gateway.TypeJoin, gateway.JoinRequest{ID: session, Username: username})

	for {
		var e envelope
		require.NoError(t, ws.ReadJSON(&e))
		if e.Event != gateway.EventJoined {
			continue
		}

		var res game.JoinResult
		require.NoError(t, json.Unmarshal(e.Data, &res))
		require.True(t, res.Success, res.Error)
		return ws
	}
}

func send(t *testing.T, ws *websocket.Conn, typ string, v any) {
	f := gateway.Frame{Type: typ}
	if v != nil {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		f.Data = data
	}
	require.NoError(t, ws.WriteJSON(f))
}

// loop reads events until handle reports done, the socket fails or ctx ends.
func loop(ctx context.Context, ws *websocket.Conn, handle func(envelope) (bool, error)) error {
	for {
		if deadline, ok := ctx.Deadline(); ok {
			_ = ws.SetReadDeadline(deadline)
		}

		var e envelope
		if err := ws.ReadJSON(&e); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		done, err := handle(e)
		if err != nil || done {
			return err
		}
	}
}

func subscribeAsUser(ctx context.Context, t *testing.T, rc redis.UniversalClient, wg *sync.WaitGroup, session, u string) {
	wg.Add(1)
	sub := subscribeRedis(ctx, t, rc, fmt.Sprintf("%s:session:%s:user:%s", prefix, session, u))
	go func() {
		defer wg.Done()

		for msg := range sub {
			var n struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				t.Logf("unmarshal notification: %v", err)
				continue
			}

			switch n.Event {
			case domain.EventNameLeaderboardUpdated:
				var l api.Leaderboard
				if err := json.Unmarshal(n.Data, &l); err != nil {
					t.Logf("unmarshal leaderboard: %v", err)
					continue
				}

				t.Logf("%s leaderboard:\n%s", u, formatLeaderboard(l))
			}
		}
	}()
}

func subscribeRedis(ctx context.Context, t *testing.T, rc redis.UniversalClient, pattern string) <-chan *redis.Message {
	sub := rc.PSubscribe(ctx, pattern)
	t.Cleanup(func() { sub.Close() })

	c := make(chan *redis.Message)
	go func() {
		defer close(c)

		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				t.Log(err)
				return
			}

			c <- msg
		}
	}()

	return c
}

func makeRedis(t *testing.T) redis.UniversalClient {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{"localhost:6379"},
	})
	t.Cleanup(func() { r.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.Ping(ctx).Err(); err != nil {
		t.Fatal(err)
	}

	return r
}

func formatLeaderboard(l api.Leaderboard) string {
	var s string
	for _, e := range l.Entries {
		s += fmt.Sprintf("%s: %s\n", e.Username, e.Score)
	}
	return s
}
