package history

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

type Store interface {
	Save(ctx context.Context, h domain.History) error
	Get(ctx context.Context, historyID string) (domain.History, error)
}

type Publisher interface {
	PublishHistory(ctx context.Context, h domain.History) error
}

type Config struct {
	EventBus *event.Bus
	// Store and Publisher are optional; a missing one is skipped.
	Store     Store
	Publisher Publisher
}

// Service records every concluded session.
type Service struct {
	store     Store
	publisher Publisher
}

func NewService(c Config) *Service {
	s := &Service{
		store:     c.Store,
		publisher: c.Publisher,
	}

	event.On(c.EventBus, domain.EventNameSessionConcluded, func(ctx context.Context, e domain.EventSessionConcluded) error {
		_, err := s.Record(ctx, e.History)
		return err
	})

	return s
}

// Record assigns the history id, then persists and forwards the record.
func (s *Service) Record(ctx context.Context, h domain.History) (domain.History, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return domain.History{}, fmt.Errorf("generate history ID: %w", err)
	}
	h.HistoryID = id.String()

	var errs []error
	if s.store != nil {
		if err := s.store.Save(ctx, h); err != nil {
			errs = append(errs, fmt.Errorf("save history: session=%s: %w", h.SessionID, err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishHistory(ctx, h); err != nil {
			errs = append(errs, fmt.Errorf("publish history: session=%s: %w", h.SessionID, err))
		}
	}

	if err := stderrors.Join(errs...); err != nil {
		return h, err
	}

	slog.InfoContext(ctx, fmt.Sprintf("history: recorded session %s as %s", h.SessionID, h.HistoryID))
	return h, nil
}

func (s *Service) Get(ctx context.Context, historyID string) (domain.History, error) {
	if s.store == nil {
		return domain.History{}, errors.New(errors.CodeUnavailable, errors.WithMessagef("history store is not configured"))
	}

	if _, err := uuid.Parse(historyID); err != nil {
		return domain.History{}, errors.New(errors.CodeInvalidArgument, errors.WithCause(err),
			errors.WithMessagef("invalid history id: %s", historyID))
	}

	return s.store.Get(ctx, historyID)
}
