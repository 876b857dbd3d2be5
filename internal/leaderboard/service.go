package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
	defaultRetain   = time.Hour
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
	// Retain is how long a destroyed session's board stays readable.
	Retain time.Duration
}

// Service mirrors session leaderboards into Redis so they can be read outside the process that
// runs the session, and republishes them at most once per publish interval.
type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
	retain time.Duration
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
		retain: c.Retain,
	}

	if s.retain <= 0 {
		s.retain = defaultRetain
	}

	event.On(s.eb, domain.EventNameLeaderboardChanged, func(ctx context.Context, e domain.EventLeaderboardChanged) error {
		return s.UpdateLeaderboard(ctx, e)
	})
	event.On(s.eb, domain.EventNameSessionDestroyed, func(ctx context.Context, e domain.EventSessionDestroyed) error {
		return s.Expire(ctx, e.SessionID)
	})

	return s
}

type GetLeaderboardRequest struct {
	SessionID string
}

// GetLeaderboard returns the mirrored leaderboard for a session, highest score first.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	names, err := s.redis.ZRevRange(ctx, s.getLeaderboardKey(req.SessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(names) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("leaderboard not found: session=%s", req.SessionID))
	}

	raw, err := s.redis.HMGet(ctx, s.getEntriesKey(req.SessionID), names...).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard entries: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(names))
	for i, r := range raw {
		v, ok := r.(string)
		if !ok {
			continue
		}

		var e domain.LeaderboardEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", names[i], err)
		}
		entries = append(entries, e)
	}
	// The sorted set breaks ties by member in reverse.
	slices.SortStableFunc(entries, domain.CompareEntries)

	return &domain.Leaderboard{
		SessionID: req.SessionID,
		Entries:   entries,
	}, nil
}

// UpdateLeaderboard replaces the mirrored leaderboard of the session.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventLeaderboardChanged) error {
	l := e.Leaderboard

	var (
		zkey = s.getLeaderboardKey(l.SessionID)
		hkey = s.getEntriesKey(l.SessionID)
	)

	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, zkey, hkey)
		for _, en := range l.Entries {
			b, err := json.Marshal(en)
			if err != nil {
				return fmt.Errorf("encode entry %s: %w", en.Username, err)
			}
			p.ZAdd(ctx, zkey, redis.Z{Score: en.Points.InexactFloat64(), Member: en.Username})
			p.HSet(ctx, hkey, en.Username, b)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	if len(l.Entries) == 0 {
		return nil
	}

	return s.schedulePublishLeaderboard(ctx, l.SessionID)
}

// schedulePublishLeaderboard publishes at most one leaderboard.updated per session and publish
// interval. Sessions emit a burst of changes around every reveal.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, sessionID string) error {
	// Good enough across instances sharing the Redis, not a strict guarantee.
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(sessionID), time.Now().UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx, sessionID)
}

func (s *Service) publishLeaderboard(ctx context.Context, sessionID string) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{
		SessionID: sessionID,
	})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: session=%s: %w", sessionID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

// Expire keeps a destroyed session's leaderboard readable for the retain period.
func (s *Service) Expire(ctx context.Context, sessionID string) error {
	_, err := s.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Expire(ctx, s.getLeaderboardKey(sessionID), s.retain)
		p.Expire(ctx, s.getEntriesKey(sessionID), s.retain)
		return nil
	})
	if err != nil {
		return fmt.Errorf("expire leaderboard: session=%s: %w", sessionID, err)
	}
	return nil
}

func (s *Service) getLeaderboardKey(session string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, session)
}

func (s *Service) getEntriesKey(session string) string {
	return fmt.Sprintf("%s:%s:entries", s.prefix, session)
}

func (s *Service) getLeaderboardTimeKey(session string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, session)
}
