package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prepmed/billing/pkg/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Notifier publishes domain events for downstream consumers (email, ops
// alerting). Publishing is best-effort: subscription state is already
// committed by the time an event goes out.
type Notifier interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
	Close()
}

// Routing keys consumed downstream.
const (
	KeySubscriptionActivated = "billing.subscription.activated"
	KeySubscriptionCanceled  = "billing.subscription.canceled"
	KeyRewardGranted         = "billing.reward.granted"
	KeyReconciliationGap     = "billing.reconciliation.gap"
)

// AMQPNotifier publishes JSON events to a durable topic exchange.
type AMQPNotifier struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	log      *zap.SugaredLogger
}

func NewAMQPNotifier(cfg *config.Config, log *zap.SugaredLogger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(cfg.Notify.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	if err := channel.ExchangeDeclare(cfg.Notify.Exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &AMQPNotifier{
		conn:     conn,
		channel:  channel,
		exchange: cfg.Notify.Exchange,
		log:      log,
	}, nil
}

func (n *AMQPNotifier) Publish(ctx context.Context, routingKey string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal event body: %w", err)
	}
	err = n.channel.PublishWithContext(ctx,
		n.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        raw,
		})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}
	return nil
}

func (n *AMQPNotifier) Close() {
	if n.channel != nil {
		n.channel.Close()
	}
	if n.conn != nil {
		n.conn.Close()
	}
}

// NopNotifier drops events; used when no broker is configured and in tests.
type NopNotifier struct{}

func (NopNotifier) Publish(ctx context.Context, routingKey string, body interface{}) error {
	return nil
}

func (NopNotifier) Close() {}

// New returns the AMQP notifier when a broker is configured, otherwise the
// no-op one so local development does not require RabbitMQ.
func New(cfg *config.Config, log *zap.SugaredLogger) (Notifier, error) {
	if cfg.Notify.AMQPURL == "" {
		log.Infow("amqp url not configured, notifications disabled")
		return NopNotifier{}, nil
	}
	return NewAMQPNotifier(cfg, log)
}

var Module = fx.Options(
	fx.Provide(New),
)
