package instance

import "github.com/streadway/amqp"

type RabbitMQ interface {
	RawChannel() *amqp.Channel
	Close() error
}
