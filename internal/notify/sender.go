package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Result mirrors what a mail provider reports for one message.
type Result struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Sender interface {
	Send(ctx context.Context, to, subject, body string) (Result, error)
}

// LogSender writes emails to the log instead of delivering them.
type LogSender struct {
	logger  *zap.Logger
	nowFunc func() time.Time
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger, nowFunc: time.Now}
}

func (s *LogSender) Send(ctx context.Context, to, subject, body string) (Result, error) {
	id := fmt.Sprintf("console-%d", s.nowFunc().UnixMilli())
	s.logger.Info("email",
		zap.String("messageId", id),
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return Result{Success: true, MessageID: id}, nil
}

// amqpChannel is the part of *amqp.Channel the relay uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// outboundEmail is the message handed to the mail relay.
type outboundEmail struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// AMQPSender hands emails to a relay service through a durable RabbitMQ queue.
type AMQPSender struct {
	conn    *amqp.Connection
	channel amqpChannel
	queue   string
	from    string
	logger  *zap.Logger
}

func NewAMQPSender(url, queueName, from string, logger *zap.Logger) (*AMQPSender, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare a queue: %w", err)
	}
	return &AMQPSender{conn: conn, channel: ch, queue: queueName, from: from, logger: logger}, nil
}

func (s *AMQPSender) Send(ctx context.Context, to, subject, body string) (Result, error) {
	payload, err := json.Marshal(outboundEmail{From: s.from, To: to, Subject: subject, Body: body})
	if err != nil {
		return Result{}, fmt.Errorf("marshal email: %w", err)
	}
	id := uuid.NewString()
	err = s.channel.PublishWithContext(ctx,
		"",      // exchange
		s.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			MessageId:    id,
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		})
	if err != nil {
		return Result{Success: false, Error: err.Error()}, fmt.Errorf("failed to publish email: %w", err)
	}
	s.logger.Debug("email relayed", zap.String("messageId", id), zap.String("queue", s.queue))
	return Result{Success: true, MessageID: id}, nil
}

func (s *AMQPSender) Close() error {
	err := s.channel.Close()
	if s.conn != nil {
		err = errors.Join(err, s.conn.Close())
	}
	return err
}
