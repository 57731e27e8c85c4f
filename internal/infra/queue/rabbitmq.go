package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	ExchangeName = "ex.nurture"
	QueueName    = "q.nurture.jobs"
	DLQName      = "q.nurture.jobs.dlq"
	DLXName      = "ex.nurture.dlx" // Dead Letter Exchange
	RoutingKey   = "k.job"

	delayQueuePrefix = "q.nurture.delay."
	// idle delay queues are dropped by the broker after this grace period
	delayQueueGrace = time.Minute
	maxBuriedKept   = 256
)

// amqpChannel is the part of *amqp.Channel the backend publishes and consumes through.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// rabbitBackend delays jobs through per-delay TTL queues that dead-letter into
// the work queue. Exhausted jobs are Nack'ed into the DLQ. The broker cannot
// pull a message out of a queue, so waiting jobs live in a jobIndex as well:
// cancelling removes the index entry and the consumer drops the message when
// the broker delivers it.
type rabbitBackend struct {
	conn   *amqp.Connection
	ch     amqpChannel
	index  jobIndex
	clock  Clock
	logger *zap.Logger

	chMu sync.Mutex

	consumeOnce sync.Once
	consumeErr  error
	deliveries  <-chan amqp.Delivery

	stateMu  sync.Mutex
	inflight map[string]amqp.Delivery
}

func NewRabbitMQ(url string, logger *zap.Logger, cfg Config) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	var index jobIndex
	if cfg.StateDSN != "" {
		pg, err := newPostgresIndex(cfg.StateDSN)
		if err != nil {
			return nil, fmt.Errorf("queue: open amqp job index: %w", err)
		}
		index = pg
	} else {
		logger.Warn("amqp job index is process-local; cancel and list only see jobs published here")
		index = newMemoryIndex()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		_ = index.close()
		return nil, fmt.Errorf("queue: connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		_ = index.close()
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}

	if err := setupTopology(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		_ = index.close()
		return nil, fmt.Errorf("queue: declare topology: %w", err)
	}

	if err := ch.Qos(cfg.Workers*2, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		_ = index.close()
		return nil, fmt.Errorf("queue: set qos: %w", err)
	}

	b := newRabbitBackend(ch, index, cfg.Clock, logger)
	b.conn = conn
	return newClient(b, logger, cfg), nil
}

func newRabbitBackend(ch amqpChannel, index jobIndex, clock Clock, logger *zap.Logger) *rabbitBackend {
	return &rabbitBackend{
		ch:       ch,
		index:    index,
		clock:    clock,
		logger:   logger.Named("rabbitmq"),
		inflight: make(map[string]amqp.Delivery),
	}
}

func setupTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(DLXName, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(DLQName, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(DLQName, RoutingKey, DLXName, false, nil); err != nil {
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    DLXName,
		"x-dead-letter-routing-key": RoutingKey,
	}
	if err := ch.ExchangeDeclare(ExchangeName, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, args); err != nil {
		return err
	}
	return ch.QueueBind(QueueName, RoutingKey, ExchangeName, false, nil)
}

func (b *rabbitBackend) push(ctx context.Context, job Job) error {
	if err := b.index.track(ctx, job); err != nil {
		return fmt.Errorf("queue: index job: %w", err)
	}
	if err := b.publish(ctx, job); err != nil {
		_ = b.index.done(ctx, job.ID)
		return err
	}
	return nil
}

func (b *rabbitBackend) publish(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    job.ID,
		Type:         string(job.Kind),
		Timestamp:    job.CreatedAt,
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}

	b.chMu.Lock()
	defer b.chMu.Unlock()

	delay := job.RunAt.Sub(b.clock.Now())
	if delay <= 0 {
		return b.ch.PublishWithContext(ctx, ExchangeName, RoutingKey, false, false, msg)
	}
	name, err := b.declareDelayQueueLocked(delay)
	if err != nil {
		return err
	}
	return b.ch.PublishWithContext(ctx, "", name, false, false, msg)
}

// declareDelayQueueLocked declares the TTL queue for delay on every publish.
// The declare is idempotent and restarts the x-expires countdown, so a queue
// the broker already expired is recreated before the message goes out.
func (b *rabbitBackend) declareDelayQueueLocked(delay time.Duration) (string, error) {
	ms := delay.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	name := fmt.Sprintf("%s%d", delayQueuePrefix, ms)
	args := amqp.Table{
		"x-message-ttl":             ms,
		"x-expires":                 ms + delayQueueGrace.Milliseconds(),
		"x-dead-letter-exchange":    ExchangeName,
		"x-dead-letter-routing-key": RoutingKey,
	}
	if _, err := b.ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return "", err
	}
	return name, nil
}

func (b *rabbitBackend) startConsuming() error {
	b.consumeOnce.Do(func() {
		b.chMu.Lock()
		defer b.chMu.Unlock()
		b.deliveries, b.consumeErr = b.ch.Consume(
			QueueName, // fila
			"",        // consumer
			false,     // auto-ack
			false,     // exclusive
			false,     // no-local
			false,     // no-wait
			nil,
		)
	})
	return b.consumeErr
}

func (b *rabbitBackend) claim(ctx context.Context, _ time.Time) (*Job, error) {
	if err := b.startConsuming(); err != nil {
		return nil, err
	}
	for {
		var d amqp.Delivery
		select {
		case msg, ok := <-b.deliveries:
			if !ok {
				return nil, errors.New("rabbitmq delivery channel closed")
			}
			d = msg
		default:
			return nil, nil
		}

		var job Job
		if err := json.Unmarshal(d.Body, &job); err != nil {
			b.logger.Warn("malformed job rejected", zap.Error(err))
			b.withChannel(func() { _ = d.Nack(false, false) })
			continue
		}

		wanted, err := b.index.claim(ctx, job.ID)
		if err != nil {
			b.withChannel(func() { _ = d.Nack(false, true) })
			return nil, fmt.Errorf("queue: check job index: %w", err)
		}
		if !wanted {
			b.logger.Debug("cancelled job dropped", zap.String("job_id", job.ID))
			b.withChannel(func() { _ = d.Ack(false) })
			continue
		}

		job.Attempt++
		b.stateMu.Lock()
		b.inflight[job.ID] = d
		b.stateMu.Unlock()
		return &job, nil
	}
}

func (b *rabbitBackend) takeInflight(id string) (amqp.Delivery, bool) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	d, ok := b.inflight[id]
	delete(b.inflight, id)
	return d, ok
}

func (b *rabbitBackend) withChannel(fn func()) {
	b.chMu.Lock()
	defer b.chMu.Unlock()
	fn()
}

func (b *rabbitBackend) ack(id string) error {
	d, ok := b.takeInflight(id)
	if !ok {
		return nil
	}
	var err error
	b.withChannel(func() { err = d.Ack(false) })
	return err
}

func (b *rabbitBackend) complete(ctx context.Context, job Job) error {
	if err := b.index.done(ctx, job.ID); err != nil {
		return err
	}
	return b.ack(job.ID)
}

// retry republishes the job with its new run time, then acks the original
// delivery. The index entry goes back to waiting with the push.
func (b *rabbitBackend) retry(ctx context.Context, job Job) error {
	if err := b.push(ctx, job); err != nil {
		return err
	}
	return b.ack(job.ID)
}

func (b *rabbitBackend) bury(ctx context.Context, job Job) error {
	if err := b.index.bury(ctx, job); err != nil {
		return err
	}
	d, ok := b.takeInflight(job.ID)
	if !ok {
		return nil
	}
	var err error
	b.withChannel(func() { err = d.Nack(false, false) })
	return err
}

func (b *rabbitBackend) cancel(ctx context.Context, match Predicate) (int, error) {
	return b.index.cancel(ctx, match)
}

func (b *rabbitBackend) waiting(ctx context.Context) ([]Job, error) {
	return b.index.waiting(ctx)
}

func (b *rabbitBackend) failed(ctx context.Context) ([]Job, error) {
	return b.index.failed(ctx)
}

func (b *rabbitBackend) close() error {
	b.chMu.Lock()
	defer b.chMu.Unlock()
	errs := []error{b.ch.Close(), b.index.close()}
	if b.conn != nil {
		errs = append(errs, b.conn.Close())
	}
	return errors.Join(errs...)
}

// Connection exposes the broker connection for health checks.
func (c *Client) Connection() *amqp.Connection {
	if rb, ok := c.backend.(*rabbitBackend); ok {
		return rb.conn
	}
	return nil
}
