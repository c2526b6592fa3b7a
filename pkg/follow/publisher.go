package follow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// Action is the kind of follow change.
type Action string

const (
	ActionFollow   Action = "follow"
	ActionUnfollow Action = "unfollow"
)

// Event announces a committed follow change.
type Event struct {
	UserID       int64     `json:"userId"`
	FollowUserID int64     `json:"followUserId"`
	Action       Action    `json:"action"`
	At           time.Time `json:"at"`
}

// EventPublisher delivers follow events.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// GooglePublisher publishes follow events to a Pub/Sub topic.
type GooglePublisher struct {
	topic  *pubsub.Topic
	logger zerolog.Logger
}

// NewGooglePublisher verifies that topicID exists and returns a publisher for it.
func NewGooglePublisher(ctx context.Context, client *pubsub.Client, topicID string, logger zerolog.Logger) (*GooglePublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	topic := client.Topic(topicID)

	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", topicID)
	}

	return &GooglePublisher{
		topic:  topic,
		logger: logger.With().Str("component", "FollowEventPublisher").Str("topic_id", topicID).Logger(),
	}, nil
}

// Publish queues event and returns without waiting for the server. The outcome
// is logged. Messages carry action and user_id attributes for subscription filters.
func (p *GooglePublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal follow event: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"action":  string(event.Action),
			"user_id": strconv.FormatInt(event.UserID, 10),
		},
	})

	go func() {
		getCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		msgID, err := result.Get(getCtx)
		if err != nil {
			p.logger.Error().Err(err).Int64("user_id", event.UserID).Msg("Failed to publish follow event")
			return
		}
		p.logger.Debug().Str("published_msg_id", msgID).Msg("Follow event sent.")
	}()
	return nil
}

// Stop flushes pending events, respecting the context's timeout.
func (p *GooglePublisher) Stop(ctx context.Context) error {
	if p.topic == nil {
		return nil
	}
	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
