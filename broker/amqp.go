package broker

import (
	"context"
	"encoding/json"

	"github.com/renewalhq/crt/spec"
	specBroker "github.com/renewalhq/crt/spec/broker"

	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
)

var _ specBroker.Producer = &AMQPBroker{}
var _ specBroker.Consumer = &AMQPBroker{}

const (
	reminderExchange string = "renewal_reminder"
	reminderQueue           = "renewal_reminder_send"
	reminderKey             = "send"
)

// AMQPBroker carries reminder requests between the scanner and the mail
// worker via RabbitMQ
type AMQPBroker struct {
	connection *amqp.Connection
	channel    *amqp.Channel
}

// NewAMQPBroker returns a message broker over RabbitMQ
func NewAMQPBroker(amqpURI string) (*AMQPBroker, error) {
	amqpConn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	amqpChan, err := amqpConn.Channel()
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot create broker channel")
	}
	broker := &AMQPBroker{
		connection: amqpConn,
		channel:    amqpChan,
	}
	if err := broker.setupReminderExchange(); err != nil {
		return nil, extErrors.Wrap(err, "Cannot declare exchange for reminder requests")
	}
	return broker, nil
}

func (a *AMQPBroker) setupReminderExchange() error {
	return a.channel.ExchangeDeclare(
		reminderExchange, // name
		"direct",         // type
		true,             // durable
		false,            // auto-deleted
		false,            // internal
		false,            // no-wait
		nil,              // arguments
	)
}

// Close will close the channel and connection to release resources
func (a *AMQPBroker) Close() {
	a.channel.Close()
	a.connection.Close()
}

// SendReminderRequest will publish a reminder for the mail worker to deliver
func (a *AMQPBroker) SendReminderRequest(p *spec.ReminderRequest) error {
	jsonBytes, err := json.Marshal(p)
	if err != nil {
		return extErrors.Wrap(err, "Cannot encode message into bytes")
	}
	if err := a.channel.Publish(
		reminderExchange,
		reminderKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         jsonBytes,
		},
	); err != nil {
		return extErrors.Wrap(err, "Cannot publish reminder request")
	}
	return nil
}

// ReceiveReminderRequest returns a channel of reminder requests. The channel
// closes when ctx is cancelled or the underlying delivery channel closes.
func (a *AMQPBroker) ReceiveReminderRequest(ctx context.Context) (<-chan *spec.ReminderRequest, error) {
	q, err := a.channel.QueueDeclare(
		reminderQueue, // name
		true,          // durable
		false,         // delete when unused
		false,         // exclusive
		false,         // no-wait
		nil,           // arguments
	)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot declare reminder queue")
	}
	if err := a.channel.QueueBind(
		q.Name,
		reminderKey,
		reminderExchange,
		false,
		nil,
	); err != nil {
		return nil, extErrors.Wrap(err, "Cannot bind reminder queue")
	}
	deliveries, err := a.channel.Consume(
		q.Name,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot consume from reminder queue")
	}

	rChan := make(chan *spec.ReminderRequest)
	go pumpReminderRequests(ctx, deliveries, rChan)
	return rChan, nil
}

// pumpReminderRequests decodes deliveries onto rChan until ctx is cancelled
// or the delivery channel closes, closing rChan on the way out
func pumpReminderRequests(ctx context.Context, deliveries <-chan amqp.Delivery, rChan chan<- *spec.ReminderRequest) {
	defer close(rChan)
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			var req spec.ReminderRequest
			if err := json.Unmarshal(d.Body, &req); err != nil {
				// poison message, drop it instead of redelivering forever
				d.Nack(false, false)
				continue
			}
			// ack only after the worker has the message; a crash in
			// between redelivers instead of losing the reminder
			select {
			case rChan <- &req:
				d.Ack(false)
			case <-ctx.Done():
				d.Nack(false, true)
				return
			}
		}
	}
}
