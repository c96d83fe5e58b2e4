package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/postfeed/internal/feed/events"
)

// Options configures a Publisher.
type Options struct {
	// StreamName is the name of the stream to publish to.
	StreamName string

	// SubjectPrefix is prepended to all subjects.
	SubjectPrefix string

	// RetryAttempts is the number of retry attempts for publishing.
	RetryAttempts int

	// OnPublish is called after each publish attempt (for metrics).
	OnPublish func(subject string, err error, latency time.Duration)
}

// Publisher publishes one notification per projected sink record on
// <prefix>.<operation>.<postId>.
type Publisher struct {
	js   JetStream
	opts Options
}

// NewPublisher creates a Publisher and ensures its stream exists.
func NewPublisher(ctx context.Context, js JetStream, opts Options) (*Publisher, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream cannot be nil")
	}

	if opts.StreamName != "" {
		prefix := opts.SubjectPrefix
		if prefix == "" {
			prefix = opts.StreamName
		}
		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:       opts.StreamName,
			Subjects:   []string{prefix + ".>"},
			Storage:    jetstream.FileStorage,
			Duplicates: 2 * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to ensure stream: %w", err)
		}
	}

	return &Publisher{js: js, opts: opts}, nil
}

// Subject returns the subject a record is published on.
func (p *Publisher) Subject(r *events.SinkRecord) string {
	subject := string(r.Type) + "." + subjectToken(r.PostID)
	if p.opts.SubjectPrefix != "" {
		subject = p.opts.SubjectPrefix + "." + subject
	}
	return subject
}

// Notify publishes the notification for r. The event id doubles as the
// JetStream message id, so redelivered events are de-duplicated.
func (p *Publisher) Notify(ctx context.Context, r *events.SinkRecord) error {
	data, err := json.Marshal(events.NotificationFromRecord(r))
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	subject := p.Subject(r)
	publishOpts := []jetstream.PublishOpt{}
	if r.EventID != "" {
		publishOpts = append(publishOpts, jetstream.WithMsgID(r.EventID))
	}
	if p.opts.RetryAttempts > 0 {
		publishOpts = append(publishOpts, jetstream.WithRetryAttempts(p.opts.RetryAttempts))
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data, publishOpts...)

	if p.opts.OnPublish != nil {
		p.opts.OnPublish(subject, err, time.Since(start))
	}

	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// subjectToken makes s safe to use as a single subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
