package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	connectionName = "emogo-export"
	reconnectWait  = 2 * time.Second
)

type publisher struct {
	conn *nats.Conn
	log  *slog.Logger
}

// NewPublisher connects to url. An empty url gives a publisher that drops
// every event.
func NewPublisher(url string, log *slog.Logger) (*publisher, error) {
	p := &publisher{
		log: log.With(slog.String("item", "NATSPublisher")),
	}

	if url == "" {
		p.log.Info("NATS url is not set, events are disabled")

		return p, nil
	}

	conn, err := nats.Connect(url,
		nats.Name(connectionName),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.log.Info("Reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.log.Warn("Connection lost", slog.Any("error", err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to nats: %w", err)
	}

	p.conn = conn

	return p, nil
}

func (p *publisher) Publish(ctx context.Context, subject string, v any) error {
	if p.conn == nil {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cannot encode %s event: %w", subject, err)
	}

	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("cannot publish %s event: %w", subject, err)
	}

	p.log.Debug("Event published", slog.String("subject", subject))

	return nil
}

func (p *publisher) Close() {
	if p.conn == nil {
		return
	}

	if err := p.conn.Drain(); err != nil {
		p.log.Error("Cannot drain connection", slog.Any("error", err))
		p.conn.Close()
	}
}
