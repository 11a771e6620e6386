// Package relay forwards tournament events to a RabbitMQ queue for
// consumers outside floorman, such as a notification service.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/ts4z/floorman/gossip"
	"github.com/ts4z/floorman/varz"
)

var (
	relayed     = varz.NewInt("relayed")
	failures    = varz.NewInt("failures")
	redials     = varz.NewInt("redials")
	filteredOut = varz.NewInt("filteredOut")
)

// DefaultTypes are the events relayed if no types are given.
var DefaultTypes = []string{gossip.EventActivity, gossip.EventStartingSoon}

// Publisher is a gossip.Publisher that sends events to a durable queue.  The
// connection is opened on first use and reopened after a failure.
type Publisher struct {
	url   string
	queue string
	types map[string]bool

	lock sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ gossip.Publisher = (*Publisher)(nil)

func NewPublisher(url, queue string, types ...string) *Publisher {
	if len(types) == 0 {
		types = DefaultTypes
	}
	p := &Publisher{url: url, queue: queue, types: map[string]bool{}}
	for _, t := range types {
		p.types[t] = true
	}
	return p
}

// Relays reports whether events of this type are sent.
func (p *Publisher) Relays(typ string) bool {
	return p.types[typ]
}

func (p *Publisher) channelLocked() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.closeLocked()
	redials.Add(1)
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel: %w", err)
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: declare %s: %w", p.queue, err)
	}
	log.Info().Str("queue", p.queue).Msg("connected to rabbitmq")
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) Publish(ctx context.Context, ev *gossip.Event) error {
	if !p.types[ev.Type] {
		filteredOut.Add(1)
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	ch, err := p.channelLocked()
	if err != nil {
		failures.Add(1)
		return err
	}
	err = ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.At,
		Type:         ev.Type,
		Body:         body,
	})
	if err != nil {
		failures.Add(1)
		p.closeLocked()
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	relayed.Add(1)
	return nil
}

func (p *Publisher) closeLocked() {
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

func (p *Publisher) Close() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.closeLocked()
}
