// Package notify publishes feed notifications to NATS JetStream once a post
// has been projected.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStream is the subset of jetstream.JetStream the publisher uses.
type JetStream interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// natsConnection abstracts the nats.Conn for testing purposes
type natsConnection interface {
	Close()
}

type natsConnectFunc func(url string) (natsConnection, error)

type jetStreamFactory func(nc natsConnection) (JetStream, error)

var defaultNatsConnect natsConnectFunc = func(url string) (natsConnection, error) {
	return nats.Connect(url, nats.Name("postfeed"), nats.MaxReconnects(-1))
}

var defaultJetStreamFactory jetStreamFactory = func(nc natsConnection) (JetStream, error) {
	conn, ok := nc.(*nats.Conn)
	if !ok {
		return nil, fmt.Errorf("unexpected NATS connection type %T", nc)
	}
	return jetstream.New(conn)
}

// Provider manages the NATS connection lifecycle.
type Provider struct {
	url              string
	nc               natsConnection
	js               JetStream
	natsConnect      natsConnectFunc
	jetStreamFactory jetStreamFactory
	logger           *slog.Logger
}

// NewProvider creates a provider for the server at url. Call Connect before use.
func NewProvider(url string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		url:              url,
		natsConnect:      defaultNatsConnect,
		jetStreamFactory: defaultJetStreamFactory,
		logger:           logger.With("component", "nats"),
	}
}

// Connect establishes the NATS connection and initializes JetStream.
func (p *Provider) Connect(ctx context.Context) error {
	nc, err := p.natsConnect(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", p.url, err)
	}

	js, err := p.jetStreamFactory(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream: %w", err)
	}

	p.nc = nc
	p.js = js
	p.logger.Info("connected to NATS", "url", p.url)
	return nil
}

// NewPublisher creates a Publisher on the connected JetStream.
func (p *Provider) NewPublisher(ctx context.Context, opts Options) (*Publisher, error) {
	if p.js == nil {
		return nil, fmt.Errorf("NATS not connected, call Connect first")
	}
	return NewPublisher(ctx, p.js, opts)
}

// Close closes the NATS connection.
func (p *Provider) Close() error {
	if p.nc != nil {
		p.logger.Info("closing NATS connection")
		p.nc.Close()
		p.nc = nil
		p.js = nil
	}
	return nil
}
