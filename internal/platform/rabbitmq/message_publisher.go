package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"tinyagent/internal/model"
)

// AppendPublisher queues message appends for the persist worker.
type AppendPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewAppendPublisher(conn *amqp.Connection, queueName string) *AppendPublisher {
	return &AppendPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *AppendPublisher) PublishAppend(ctx context.Context, job model.AppendJob) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if err := DeclareQueue(ch, p.queueName); err != nil {
		return err
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal append job failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish append job failed: %w", err)
	}
	return nil
}
