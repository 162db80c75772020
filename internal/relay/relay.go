package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// Source is the queue end the relay drains, one message at a time.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// Delivery is one live delivery mechanism. Deliver reports whether the
// addressed recipient was connected and received the notification.
type Delivery interface {
	Deliver(env models.NotificationEnvelope) bool
}

// Relay bridges the durable notification queue to live client connections.
// Delivery is best effort: messages are committed after the dispatch attempt
// whether or not a recipient was connected, so an offline recipient simply
// misses the notification.
type Relay struct {
	source     Source
	deliveries []Delivery
	logger     *slog.Logger

	fetchWait  time.Duration
	errorDelay time.Duration
}

func New(source Source, deliveries []Delivery, fetchWait, errorDelay time.Duration, logger *slog.Logger) *Relay {
	if fetchWait <= 0 {
		fetchWait = 10 * time.Second
	}
	if errorDelay <= 0 {
		errorDelay = 5 * time.Second
	}
	return &Relay{
		source:     source,
		deliveries: deliveries,
		logger:     logger,
		fetchWait:  fetchWait,
		errorDelay: errorDelay,
	}
}

// Run consumes until ctx is cancelled. Processing errors never stop the loop;
// they are logged and followed by a short delay.
func (r *Relay) Run(ctx context.Context) {
	for {
		if err := ctx.Err(); err != nil {
			return
		}
		if err := r.step(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("relay step failed", "error", err)
			r.pause(ctx)
		}
	}
}

func (r *Relay) step(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchWait)
	msg, err := r.source.Fetch(fetchCtx)
	cancel()
	if err != nil {
		// an empty fetch window is not a failure
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil
		}
		return err
	}
	observability.RelayConsumed.Inc()

	var env models.NotificationEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		observability.RelayInvalid.Inc()
		r.logger.Warn("dropping malformed notification", "error", err)
		return r.source.Commit(ctx, msg)
	}

	delivered := false
	for _, d := range r.deliveries {
		if d.Deliver(env) {
			delivered = true
		}
	}
	if !delivered {
		observability.RelayDropped.Inc()
		r.logger.Debug("no live recipient for notification",
			"user_id", env.RecipientID, "user_type", env.RecipientType)
	}

	return r.source.Commit(ctx, msg)
}

func (r *Relay) pause(ctx context.Context) {
	timer := time.NewTimer(r.errorDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// KafkaSource adapts a kafka reader to the Source interface.
type KafkaSource struct {
	reader *kafka.Reader
}

func NewKafkaSource(brokers []string, topic, group string) *KafkaSource {
	return &KafkaSource{reader: kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6,
	})}
}

func (s *KafkaSource) Fetch(ctx context.Context) (kafka.Message, error) {
	return s.reader.FetchMessage(ctx)
}

func (s *KafkaSource) Commit(ctx context.Context, msg kafka.Message) error {
	return s.reader.CommitMessages(ctx, msg)
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
