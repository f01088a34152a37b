package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"txcat/internal/log"
)

const (
	HeaderAttempt = "x-attempt"

	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
)

// Handler processes one job. A nil return acks the delivery.
type Handler func(ctx context.Context, job Job) error

type Client struct {
	url          string
	exchangeName string
	queueName    string
	logger       *log.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
	// gen counts successful connects so a caller holding a stale view can
	// tell that someone else already reconnected.
	gen uint64

	reconnectMu sync.Mutex
	dial        func() error
}

func NewClient(url, exchangeName, queueName string, logger *log.Logger) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		logger:       logger.WithComponent(log.ComponentAMQP),
	}
	client.dial = client.connect

	if err := client.connect(); err != nil {
		return nil, err
	}

	return client, nil
}

// DeadLetterQueue is where exhausted and permanently failed jobs end up.
func (c *Client) DeadLetterQueue() string {
	return c.queueName + ".failed"
}

func (c *Client) deadLetterExchange() string {
	return c.exchangeName + ".dlx"
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.gen++
	c.mu.Unlock()

	if err := c.setup(channel); err != nil {
		c.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	return nil
}

func (c *Client) setup(ch *amqp091.Channel) error {
	// Dead letter side first so the work queue can reference it
	if err := ch.ExchangeDeclare(c.deadLetterExchange(), "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead letter exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(c.DeadLetterQueue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead letter queue: %w", err)
	}
	if err := ch.QueueBind(c.DeadLetterQueue(), c.queueName, c.deadLetterExchange(), false, nil); err != nil {
		return fmt.Errorf("bind dead letter queue: %w", err)
	}

	err := ch.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		amqp091.Table{
			"x-dead-letter-exchange":    c.deadLetterExchange(),
			"x-dead-letter-routing-key": c.queueName,
		},
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Routing key is the queue name on the direct exchange
	if err := ch.QueueBind(c.queueName, c.queueName, c.exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// Publish enqueues job. Attempt travels as the x-attempt header.
func (c *Client) Publish(ctx context.Context, job Job) error {
	body, err := job.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if job.Attempt < 1 {
		job.Attempt = 1
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    job.ID,
		Type:         string(job.Kind),
		Timestamp:    time.Now(),
		Headers:      amqp091.Table{HeaderAttempt: int32(job.Attempt)},
		Body:         body,
	}

	gen, err := c.publish(ctx, msg)
	if err != nil && isConnectionError(err) {
		c.logger.WarnContext(ctx, "Publish failed on broken connection, reconnecting", log.FieldError, err)
		if rerr := c.reconnect(gen); rerr != nil {
			return fmt.Errorf("publish job: %w (reconnect: %v)", err, rerr)
		}
		_, err = c.publish(ctx, msg)
	}
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}

	c.logger.InfoContext(ctx, "Published job",
		log.FieldJobID, job.ID,
		log.FieldJobKind, job.Kind,
		log.FieldAttempt, job.Attempt,
		log.FieldQueue, c.queueName)

	return nil
}

// publish returns the connection generation it used alongside any error.
func (c *Client) publish(ctx context.Context, msg amqp091.Publishing) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		return c.gen, amqp091.ErrClosed
	}
	return c.gen, c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		msg,
	)
}

// Consume runs concurrency handlers until ctx is cancelled. A lost
// connection is re-established with exponential backoff.
func (c *Client) Consume(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency < 1 {
		concurrency = 1
	}
	d := &dispatcher{publish: c.Publish, logger: c.logger}

	for attempt := 0; ; attempt++ {
		started := time.Now()
		gen := c.generation()
		err := c.consumeOnce(ctx, concurrency, handler, d)
		if ctx.Err() != nil {
			c.logger.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		}
		// A consumer that ran for a while starts the backoff over
		if time.Since(started) > maxBackoff {
			attempt = 0
		}

		wait := exponentialBackoff(attempt)
		c.logger.ErrorContext(ctx, "Consumer interrupted, reconnecting",
			log.FieldError, err,
			log.FieldAttempt, attempt+1,
			"backoff", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if err := c.reconnect(gen); err != nil {
			c.logger.ErrorContext(ctx, "Reconnect failed", log.FieldError, err)
		}
	}
}

func (c *Client) consumeOnce(ctx context.Context, concurrency int, handler Handler, d *dispatcher) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return amqp091.ErrClosed
	}

	if err := ch.Qos(concurrency, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.InfoContext(ctx, "Started consuming jobs",
		log.FieldQueue, c.queueName,
		"concurrency", concurrency)

	var wg sync.WaitGroup
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case delivery, ok := <-msgs:
					if !ok {
						return
					}
					d.handle(ctx, delivery, handler)
				}
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.New("message channel closed")
}

func (c *Client) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// reconnect replaces the connection that generation seen observed. Callers
// that lost the race find a newer generation and reuse it instead of
// dialing again.
func (c *Client) reconnect(seen uint64) error {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	if c.generation() != seen {
		return nil
	}

	c.Close()
	return c.dial()
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		if err != nil && !errors.Is(err, amqp091.ErrClosed) {
			return err
		}
	}
	return nil
}

func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection closed",
		"connection reset",
		"unexpected eof",
		"broken pipe",
		"use of closed network connection",
		"channel/connection is not open",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
