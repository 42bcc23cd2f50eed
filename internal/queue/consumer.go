package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/iaction/internal/models"
)

type EventHandler func(ctx context.Context, ev models.AnalysisEvent) error

type Consumer struct {
	js jetstream.JetStream
}

func NewConsumer(nc *nats.Conn) (*Consumer, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return &Consumer{js: js}, nil
}

// ConsumeEvents feeds new analysis events to handler until ctx ends.
func (c *Consumer) ConsumeEvents(ctx context.Context, consumerName string, handler EventHandler) error {
	stream, err := c.js.Stream(ctx, EventsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", EventsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: EventsSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch events error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				handleEvent(ctx, msg, handler)
			}
		}
	}()

	slog.Info("event consumer started", "consumer", consumerName)
	return nil
}

func handleEvent(ctx context.Context, msg jetstream.Msg, handler EventHandler) {
	var ev models.AnalysisEvent
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		slog.Warn("drop malformed event", "subject", msg.Subject(), "error", err)
		_ = msg.Term()
		return
	}
	if err := handler(ctx, ev); err != nil {
		slog.Error("process event error", "camera_id", ev.CameraID, "error", err)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}
