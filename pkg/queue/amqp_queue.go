package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"docgram/internal/util"
)

const attemptsHeader = "x-attempts"

// AMQPJobQueue delivers jobs over a durable RabbitMQ queue. Retry
// counts travel in a message header so redeliveries survive restarts.
type AMQPJobQueue struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	queue      string
	maxRetries int
}

type AMQPQueueConfig struct {
	URL        string
	Queue      string
	MaxRetries int
}

func NewAMQPJobQueue(cfg AMQPQueueConfig) (*AMQPJobQueue, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	name := strings.TrimSpace(cfg.Queue)
	if name == "" {
		return nil, errors.New("amqp queue name required")
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &AMQPJobQueue{
		conn:       conn,
		ch:         ch,
		queue:      name,
		maxRetries: maxRetries,
	}, nil
}

func (q *AMQPJobQueue) Enqueue(ctx context.Context, kind string, payload Payload) (Job, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return Job{}, errors.New("job kind required")
	}
	job := Job{
		ID:        util.NewID(),
		Kind:      kind,
		Payload:   payload,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := q.publish(ctx, job, 0); err != nil {
		return Job{}, err
	}
	return job, nil
}

func (q *AMQPJobQueue) publish(ctx context.Context, job Job, attempts int) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{attemptsHeader: int32(attempts)},
		Body:         body,
	})
}

func (q *AMQPJobQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	_ = q.ch.Qos(concurrency, 0, false)
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return
	}
	for i := 0; i < concurrency; i++ {
		go q.consumeLoop(ctx, deliveries, handler)
	}
	go func() {
		<-ctx.Done()
		q.ch.Close()
		q.conn.Close()
	}()
}

func (q *AMQPJobQueue) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			q.handleDelivery(ctx, d, handler)
		}
	}
}

func (q *AMQPJobQueue) handleDelivery(ctx context.Context, d amqp.Delivery, handler Handler) {
	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil || job.ID == "" || job.Kind == "" {
		_ = d.Ack(false)
		return
	}
	attempts := deliveryAttempts(d) + 1
	job.Attempts = attempts
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()

	err := handler(ctx, job)
	if err != nil && attempts < q.maxRetries {
		job.Status = StatusQueued
		job.ErrorMessage = err.Error()
		job.UpdatedAt = time.Now().UTC()
		_ = q.publish(ctx, job, attempts)
	}
	_ = d.Ack(false)
}

func deliveryAttempts(d amqp.Delivery) int {
	if d.Headers == nil {
		return 0
	}
	switch v := d.Headers[attemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
