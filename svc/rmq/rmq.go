package rmq

import (
	"context"

	"github.com/dabubble/common/instance"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

type RmqInst struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func New(ctx context.Context, opts SetupOptions) (instance.RabbitMQ, error) {
	conn, err := amqp.Dial(opts.URI)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	_, err = ch.QueueDeclare(opts.QueueName, true, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if opts.Prefetch > 0 {
		if err := ch.Qos(opts.Prefetch, 0, false); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	logrus.WithField("queue", opts.QueueName).Info("rmq, ok")

	return &RmqInst{
		conn: conn,
		ch:   ch,
	}, nil
}

func (r *RmqInst) RawChannel() *amqp.Channel {
	return r.ch
}

func (r *RmqInst) Close() error {
	_ = r.ch.Close()
	return r.conn.Close()
}

type SetupOptions struct {
	URI       string
	QueueName string
	Prefetch  int
}
