// Package consumer feeds business events from Google Cloud Pub/Sub into
// the farmledger posting engine.
//
// Each message carries a tenant and event reference; the event itself must
// already be stored (see Engine.SubmitEvent). A message is acked once the
// event is posted or when the failure cannot be fixed by redelivery, and
// nacked when the failure is transient.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"

	"github.com/xraph/farmledger"
	"github.com/xraph/farmledger/id"
)

// Message is the JSON body of a posting request.
type Message struct {
	TenantID string `json:"tenant_id"`
	EventID  string `json:"event_id"`
}

// Decision tells the subscriber what to do with a delivered message.
type Decision int

const (
	// Ack removes the message from the subscription.
	Ack Decision = iota
	// Nack asks Pub/Sub to redeliver the message.
	Nack
)

func (d Decision) String() string {
	if d == Nack {
		return "nack"
	}
	return "ack"
}

// Processor posts stored events. *farmledger.Engine satisfies it.
type Processor interface {
	ProcessEvent(ctx context.Context, tenantID string, eventID id.EventID, lockerID string) (*farmledger.PostingResult, error)
}

// Config holds the subscriber settings.
type Config struct {
	// Subscription is the Pub/Sub subscription to receive from.
	Subscription string `json:"subscription" mapstructure:"subscription" yaml:"subscription"`

	// MaxOutstandingMessages bounds the number of messages handled
	// concurrently (default: 10).
	MaxOutstandingMessages int `json:"max_outstanding_messages" mapstructure:"max_outstanding_messages" yaml:"max_outstanding_messages"`

	// LockerID identifies this consumer as the event lock holder. Empty
	// uses the engine's worker id.
	LockerID string `json:"locker_id" mapstructure:"locker_id" yaml:"locker_id"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Subscription:           "farmledger-events",
		MaxOutstandingMessages: 10,
	}
}

// Subscriber receives posting requests from a Pub/Sub subscription.
type Subscriber struct {
	client    *pubsub.Client
	processor Processor
	config    Config
	logger    *slog.Logger
}

// New creates a Subscriber. client may be nil when only Handle is used.
func New(client *pubsub.Client, processor Processor, cfg Config, logger *slog.Logger) *Subscriber {
	defaults := DefaultConfig()
	if cfg.Subscription == "" {
		cfg.Subscription = defaults.Subscription
	}
	if cfg.MaxOutstandingMessages <= 0 {
		cfg.MaxOutstandingMessages = defaults.MaxOutstandingMessages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		client:    client,
		processor: processor,
		config:    cfg,
		logger:    logger,
	}
}

// Run receives messages until ctx is canceled. It blocks.
func (s *Subscriber) Run(ctx context.Context) error {
	if s.client == nil {
		return errors.New("farmledger/consumer: pubsub client is nil")
	}
	sub := s.client.Subscription(s.config.Subscription)
	sub.ReceiveSettings.MaxOutstandingMessages = s.config.MaxOutstandingMessages

	s.logger.Info("consumer receiving", "subscription", s.config.Subscription)

	err := sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if s.Handle(ctx, msg.ID, msg.Data) == Nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("farmledger/consumer: receive: %w", err)
	}
	return nil
}

// Handle decodes one message body, posts the referenced event and decides
// whether the message should be redelivered.
func (s *Subscriber) Handle(ctx context.Context, messageID string, data []byte) Decision {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		s.logger.Error("consumer: malformed message, dropping",
			"message_id", messageID,
			"error", err,
		)
		return Ack
	}
	if m.TenantID == "" {
		s.logger.Error("consumer: message without tenant_id, dropping", "message_id", messageID)
		return Ack
	}
	eventID, err := id.ParseEventID(m.EventID)
	if err != nil {
		s.logger.Error("consumer: invalid event_id, dropping",
			"message_id", messageID,
			"event_id", m.EventID,
			"error", err,
		)
		return Ack
	}

	res, err := s.processor.ProcessEvent(ctx, m.TenantID, eventID, s.config.LockerID)
	if err != nil {
		decision := Classify(err)
		s.logger.Warn("consumer: posting failed",
			"message_id", messageID,
			"tenant_id", m.TenantID,
			"event_id", m.EventID,
			"decision", decision.String(),
			"error", err,
		)
		return decision
	}

	s.logger.Debug("consumer: event posted",
		"message_id", messageID,
		"tenant_id", m.TenantID,
		"event_id", m.EventID,
		"transaction_id", res.TransactionID.String(),
		"already_posted", res.AlreadyPosted,
	)
	return Ack
}

// Classify maps a ProcessEvent error to a delivery decision. Failed events
// stay FAILED in the store and are picked up by the sweep, so only
// transient store failures are redelivered.
func Classify(err error) Decision {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Nack
	case farmledger.IsRetryable(err):
		return Nack
	case farmledger.IsConfigurationError(err),
		farmledger.IsNotFound(err),
		errors.Is(err, farmledger.ErrInvalidEventState):
		return Ack
	default:
		return Nack
	}
}
