package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/livequiz/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Leaderboard struct {
		SessionID string             `json:"session_id"`
		Entries   []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		Username   string `json:"username"`
		Score      string `json:"score"`
		BonusCount int    `json:"bonus_count"`
	}

	SystemMessage struct {
		Kind     string `json:"kind"`
		Username string `json:"username,omitempty"`
		Text     string `json:"text"`
	}
)

// PublishLeaderboardUpdated sends the leaderboard to the session channel and to every
// participant's own channel.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	l := e.Leaderboard

	data := Leaderboard{
		SessionID: l.SessionID,
		Entries:   make([]LeaderboardEntry, 0, len(l.Entries)),
	}

	for _, entry := range l.Entries {
		data.Entries = append(data.Entries, LeaderboardEntry{
			Username:   entry.Username,
			Score:      entry.Points.String(),
			BonusCount: entry.BonusCount,
		})
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	eg.Go(func() error {
		return a.publishNotification(ctx, a.sessionChannel(l.SessionID), e.Name(), data)
	})
	for _, entry := range data.Entries {
		eg.Go(func() error {
			return a.publishNotification(ctx, a.userChannel(l.SessionID, entry.Username), e.Name(), data)
		})
	}

	return eg.Wait()
}

// PublishSystemMessage relays the session's system messages to chat subscribers.
func (a *API) PublishSystemMessage(ctx context.Context, e domain.EventSystemMessage) error {
	return a.publishNotification(ctx, a.chatChannel(e.SessionID), e.Name(), SystemMessage{
		Kind:     e.Kind,
		Username: e.Username,
		Text:     e.Text,
	})
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}

func (a *API) sessionChannel(session string) string {
	return fmt.Sprintf("%s:session:%s", a.prefix, session)
}

func (a *API) userChannel(session, user string) string {
	return fmt.Sprintf("%s:session:%s:user:%s", a.prefix, session, user)
}

func (a *API) chatChannel(session string) string {
	return fmt.Sprintf("%s:session:%s:chat", a.prefix, session)
}
