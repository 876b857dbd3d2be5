package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/victornm/livequiz/internal/domain"
)

type NATSConfig struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NATSPublisher forwards concluded sessions to downstream consumers.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

func NewNATSPublisher(c NATSConfig) (*NATSPublisher, error) {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Subject == "" {
		c.Subject = "livequiz.sessions.concluded"
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}

	nc, err := nats.Connect(c.URL,
		nats.Name("livequiz"),
		nats.MaxReconnects(c.MaxReconnects),
		nats.ReconnectWait(c.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Error("nats: disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info(fmt.Sprintf("nats: reconnected to %s", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &NATSPublisher{nc: nc, subject: c.Subject}, nil
}

func (p *NATSPublisher) PublishHistory(_ context.Context, h domain.History) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	err = p.nc.PublishMsg(&nats.Msg{
		Subject: p.subject,
		Data:    data,
		Header: nats.Header{
			"History-ID": []string{h.HistoryID},
			"Session-ID": []string{h.SessionID},
		},
	})
	if err != nil {
		return fmt.Errorf("publish history: %w", err)
	}

	return nil
}

// Close drains pending messages before closing the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
