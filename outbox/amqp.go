package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/dabubble/common/instance"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/time/rate"
)

const (
	contentType = "application/bson"
	consumerTag = "dabubble-outbox"

	DefaultMaxAttempts = 10
)

// AMQP publishes jobs as persistent messages on a durable queue.
type AMQP struct {
	mtx    sync.Mutex
	rmq    instance.RabbitMQ
	queue  string
	logger logrus.FieldLogger
}

func NewAMQP(rmq instance.RabbitMQ, queue string, logger logrus.FieldLogger) *AMQP {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AMQP{rmq: rmq, queue: queue, logger: logger}
}

func (a *AMQP) Publish(ctx context.Context, job Job) error {
	body, err := bson.Marshal(job)
	if err != nil {
		return err
	}

	a.mtx.Lock()
	defer a.mtx.Unlock()
	err = a.rmq.RawChannel().Publish("", a.queue, false, false, amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Type:         string(job.Kind),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return err
	}

	a.logger.WithField("job", job.ID).WithField("kind", job.Kind).WithField("attempt", job.Attempt).Debug("queued propagation job")
	return nil
}

type WorkerConfig struct {
	Logger      logrus.FieldLogger
	Queue       string
	MaxAttempts int
	// RetryRate bounds how many jobs per second the worker applies.
	RetryRate rate.Limit
}

func (c WorkerConfig) fill() WorkerConfig {
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryRate <= 0 {
		c.RetryRate = 5
	}
	return c
}

// Worker consumes jobs, applies them and requeues failures with an incremented attempt.
type Worker struct {
	rmq       instance.RabbitMQ
	applier   *Applier
	publisher Publisher
	limiter   *rate.Limiter
	config    WorkerConfig
}

func NewWorker(rmq instance.RabbitMQ, applier *Applier, publisher Publisher, config WorkerConfig) *Worker {
	config = config.fill()
	return &Worker{
		rmq:       rmq,
		applier:   applier,
		publisher: publisher,
		limiter:   rate.NewLimiter(config.RetryRate, 1),
		config:    config,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.rmq.RawChannel().Consume(w.config.Queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return amqp.ErrClosed
			}
			w.Handle(ctx, d)
		}
	}
}

func (w *Worker) Handle(ctx context.Context, d amqp.Delivery) {
	var job Job
	if err := bson.Unmarshal(d.Body, &job); err != nil {
		w.config.Logger.WithError(err).Error("dropping undecodable propagation job")
		_ = d.Nack(false, false)
		return
	}

	logger := w.config.Logger.WithField("job", job.ID).WithField("kind", job.Kind)

	if err := w.limiter.Wait(ctx); err != nil {
		_ = d.Nack(false, true)
		return
	}

	if err := w.applier.Apply(ctx, job); err != nil {
		job.Attempt++
		if job.Attempt >= w.config.MaxAttempts {
			logger.WithError(err).Error("giving up on propagation job")
			_ = d.Ack(false)
			return
		}

		logger.WithError(err).WithField("attempt", job.Attempt).Warn("propagation job failed, requeueing")
		if err := w.publisher.Publish(ctx, job); err != nil {
			logger.WithError(err).Error("failed to requeue propagation job")
			_ = d.Nack(false, true)
			return
		}
		_ = d.Ack(false)
		return
	}

	logger.Debug("propagation job applied")
	_ = d.Ack(false)
}
