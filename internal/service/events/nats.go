package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/splax/airlock/internal/domain"
)

var errNilPublisher = errors.New("nats publisher not initialized")

// NATSPublisher publishes events as JSON on <subject>.<deployment id>.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// DialNATS connects to url and returns a publisher rooted at subject.
func DialNATS(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	log := logger.With("component", "nats")
	nc, err := nats.Connect(url,
		nats.Name("airlock-events"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("disconnected from nats", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected to nats", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(deploymentID string) string {
	return p.subject + "." + deploymentID
}

// Publish sends event without waiting for delivery.
func (p *NATSPublisher) Publish(_ context.Context, event domain.DeploymentEvent) error {
	if p == nil || p.nc == nil {
		return errNilPublisher
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.nc.Publish(p.Subject(event.DeploymentID), data)
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
