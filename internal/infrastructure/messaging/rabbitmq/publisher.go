// Package rabbitmq forwards user lifecycle events to an AMQP topic exchange
// so sibling services (mail digests, analytics) can consume them. Publishes
// run in confirm mode with mandatory routing: an unroutable or nacked event
// surfaces as an error instead of vanishing.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/baechuer/sofauth/internal/domain"
)

const (
	DefaultExchange = "sofauth.events"

	// How long a confirm or return may take before the publish counts as
	// failed.
	publishWait = 150 * time.Millisecond
)

// Forwarder bridges the in-process event stream onto RabbitMQ. Events are
// routed as "user.<event name>".
type Forwarder struct {
	url      string
	exchange string
	lg       zerolog.Logger

	mu sync.Mutex

	conn *amqp.Connection
	ch   *amqp.Channel

	confirmCh <-chan amqp.Confirmation
	returnCh  <-chan amqp.Return
}

func NewForwarder(url, exchange string, lg zerolog.Logger) (*Forwarder, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	f := &Forwarder{
		url:      url,
		exchange: exchange,
		lg:       lg.With().Str("component", "rabbitmq_forwarder").Logger(),
	}
	if err := f.connect(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Forwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resetConn()
	return nil
}

// Handle is the event-subscriber entry point. Broker failures are logged and
// dropped; the emitting operation already succeeded.
func (f *Forwarder) Handle(ev domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.Publish(ctx, ev); err != nil {
		f.lg.Error().Err(err).Str("event", ev.Name).Str("user_id", ev.UserID).Msg("event forward failed")
	}
}

// Publish sends one event and waits for the broker's verdict.
func (f *Forwarder) Publish(ctx context.Context, ev domain.Event) error {
	return f.publishJSON(ctx, "user."+ev.Name, ev)
}

func (f *Forwarder) connect() error {
	conn, err := amqp.Dial(f.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := prepareChannel(conn, f.exchange)
	if err != nil {
		_ = conn.Close()
		return err
	}

	f.conn = conn
	f.ch = ch
	f.confirmCh = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	f.returnCh = ch.NotifyReturn(make(chan amqp.Return, 1))
	return nil
}

// prepareChannel opens a channel in confirm mode with the durable topic
// exchange declared. Declaration is idempotent across restarts.
func prepareChannel(conn *amqp.Connection, exchange string) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("exchange declare: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("confirm mode: %w", err)
	}
	return ch, nil
}

// ensureConnected redials lazily after a reset or a broker restart.
func (f *Forwarder) ensureConnected() error {
	if f.conn != nil && !f.conn.IsClosed() && f.ch != nil {
		return nil
	}
	return f.connect()
}

func (f *Forwarder) publishJSON(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureConnected(); err != nil {
		return err
	}
	f.drainStale()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}
	// Mandatory routing: an unroutable event comes back as a Return instead
	// of being silently discarded.
	if err := f.ch.PublishWithContext(ctx, f.exchange, routingKey, true, false, msg); err != nil {
		f.resetConn()
		return fmt.Errorf("publish failed: %w", err)
	}

	return f.awaitVerdict(ctx, routingKey)
}

// drainStale clears confirmations and returns left over from an earlier
// publish so they cannot be attributed to this one.
func (f *Forwarder) drainStale() {
	for {
		select {
		case <-f.confirmCh:
		case <-f.returnCh:
		default:
			return
		}
	}
}

// awaitVerdict blocks until the broker settles the publish: a Return means
// no queue is bound for the key, a nack means the broker refused the
// message, and silence past publishWait counts as a timeout.
func (f *Forwarder) awaitVerdict(ctx context.Context, routingKey string) error {
	select {
	case ret := <-f.returnCh:
		return unroutableErr(routingKey, ret)

	case conf := <-f.confirmCh:
		// A Return for an unroutable message usually lands before the Ack,
		// but both can be in flight; recheck so the race is not reported as
		// success.
		select {
		case ret := <-f.returnCh:
			return unroutableErr(routingKey, ret)
		default:
		}
		if !conf.Ack {
			return fmt.Errorf("rabbitmq nack: key=%s deliveryTag=%d", routingKey, conf.DeliveryTag)
		}
		return nil

	case <-time.After(publishWait):
		return fmt.Errorf("rabbitmq publish timeout: key=%s", routingKey)

	case <-ctx.Done():
		return ctx.Err()
	}
}

func unroutableErr(key string, ret amqp.Return) error {
	return fmt.Errorf("rabbitmq unroutable: key=%s code=%d text=%s", key, ret.ReplyCode, ret.ReplyText)
}

// resetConn drops the channel and connection so the next publish redials.
func (f *Forwarder) resetConn() {
	if f.ch != nil {
		_ = f.ch.Close()
		f.ch = nil
	}
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
}
