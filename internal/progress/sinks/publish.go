package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/progress"
	"github.com/JakeFAU/contact-harvester/internal/publisher"
)

// Notification kinds.
const (
	KindEmailFound = "email_found"
	KindRunDone    = "run_done"
	KindRunError   = "run_error"
)

// Notification is the message body published for found emails and finished
// runs.
type Notification struct {
	Kind     string    `json:"kind"`
	RunID    string    `json:"run_id"`
	Profile  string    `json:"profile,omitempty"`
	Row      int       `json:"row,omitempty"`
	URL      string    `json:"url,omitempty"`
	Name     string    `json:"name,omitempty"`
	Email    string    `json:"email,omitempty"`
	Strategy string    `json:"strategy,omitempty"`
	Total    int       `json:"total,omitempty"`
	Found    int       `json:"found,omitempty"`
	Note     string    `json:"note,omitempty"`
	At       time.Time `json:"at"`
}

// Attributes exposes kind and run for subscription filters.
func (n Notification) Attributes() map[string]string {
	attrs := map[string]string{"kind": n.Kind, "run_id": n.RunID}
	if n.Profile != "" {
		attrs["profile"] = n.Profile
	}
	return attrs
}

// PublishSink forwards found emails and run completions to a topic. Targets
// without an email are not published.
type PublishSink struct {
	pub    publisher.Publisher
	topic  string
	logger *zap.Logger
}

// NewPublishSink constructs a PublishSink.
func NewPublishSink(pub publisher.Publisher, topic string, logger *zap.Logger) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{pub: pub, topic: topic, logger: logger}
}

// Consume publishes every relevant event; failures are joined so one bad
// message does not hide the rest.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		n, ok := notificationFor(evt)
		if !ok {
			continue
		}
		id, err := s.pub.Publish(ctx, s.topic, n)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s row %d: %w", n.Kind, n.Row, err))
			continue
		}
		s.logger.Debug("Published notification", zap.String("kind", n.Kind), zap.String("message_id", id))
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; the publisher is owned by the caller.
func (s *PublishSink) Close(context.Context) error {
	return nil
}

func notificationFor(evt progress.Event) (Notification, bool) {
	n := Notification{RunID: evt.RunUUID().String(), Profile: evt.Profile, At: evt.TS}
	switch evt.Stage {
	case progress.StageTargetDone:
		if evt.Email == "" {
			return Notification{}, false
		}
		n.Kind = KindEmailFound
		n.Row, n.URL, n.Name = evt.Row, evt.URL, evt.Name
		n.Email, n.Strategy = evt.Email, evt.Strategy
	case progress.StageRunDone:
		n.Kind = KindRunDone
		n.Total, n.Found = evt.Total, evt.Found
	case progress.StageRunError:
		n.Kind = KindRunError
		n.Total, n.Found, n.Note = evt.Total, evt.Found, evt.Note
	default:
		return Notification{}, false
	}
	return n, true
}
