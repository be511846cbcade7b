package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"consultation-service/internal/cache"
	"consultation-service/internal/config"
	"consultation-service/internal/ledger"
	"consultation-service/internal/model"
	"consultation-service/internal/recorder"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	reconnectDelay       = 5 * time.Second
	maxReconnectAttempts = 10
	consumeTimeout       = 30 * time.Second

	creditDescription = "Wallet Recharge"
)

// TopUpMessage is a wallet recharge delivered by the payment collaborator.
type TopUpMessage struct {
	UserID    string `json:"user_id"`
	Amount    int64  `json:"amount"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"` // ISO8601
}

// Consumer applies wallet top-ups arriving over RabbitMQ. Credits go through
// the same ledger store as metering debits, so a top-up racing a billing
// tick for one user serializes on the user key.
type Consumer struct {
	cfg      config.RabbitConfig
	log      *logrus.Logger
	store    ledger.Store
	rec      *recorder.Recorder
	balances *cache.Balances

	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg config.RabbitConfig, log *logrus.Logger, store ledger.Store, rec *recorder.Recorder, balances *cache.Balances) (*Consumer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Consumer{
		cfg:      cfg,
		log:      log,
		store:    store,
		rec:      rec,
		balances: balances,
		ctx:      ctx,
		cancel:   cancel,
	}

	if err := c.connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return c, nil
}

func (c *Consumer) connect() error {
	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.cfg.User, c.cfg.Password, c.cfg.Host, c.cfg.Port, c.cfg.VHost)

	conn, err := amqp.Dial(dsn)
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		c.cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"host":  c.cfg.Host,
		"queue": c.cfg.Queue,
	}).Info("connected to RabbitMQ")

	// Monitor connection for errors
	go c.monitorConnection()

	return nil
}

func (c *Consumer) monitorConnection() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return
	}

	notifyClose := conn.NotifyClose(make(chan *amqp.Error))

	select {
	case err := <-notifyClose:
		if err != nil {
			c.log.WithError(err).Error("RabbitMQ connection closed unexpectedly")
			c.reconnect()
		}
	case <-c.ctx.Done():
		return
	}
}

func (c *Consumer) reconnect() {
	c.mu.Lock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		c.log.WithField("attempt", attempt).Info("attempting to reconnect to RabbitMQ")

		if err := c.connect(); err == nil {
			c.log.Info("successfully reconnected to RabbitMQ")
			go func() {
				if err := c.Start(c.ctx); err != nil && c.ctx.Err() == nil {
					c.log.WithError(err).Error("failed to restart consumer after reconnect")
				}
			}()
			return
		}

		delay := reconnectDelay * time.Duration(attempt)
		c.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("reconnection failed, retrying")

		select {
		case <-time.After(delay):
		case <-c.ctx.Done():
			return
		}
	}

	c.log.Error("max reconnection attempts reached, giving up")
}

func (c *Consumer) Start(ctx context.Context) error {
	c.mu.RLock()
	channel := c.channel
	c.mu.RUnlock()

	if channel == nil {
		return fmt.Errorf("channel is not initialized")
	}

	msgs, err := channel.Consume(
		c.cfg.Queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.log.WithField("workers", c.cfg.Workers).Info("starting top-up workers")

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, msgs, i)
	}

	<-ctx.Done()
	c.log.Info("stopping top-up workers")
	c.wg.Wait()

	return nil
}

func (c *Consumer) worker(ctx context.Context, msgs <-chan amqp.Delivery, workerID int) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-msgs:
			if !ok {
				c.log.WithField("worker_id", workerID).Warn("message channel closed")
				return
			}

			c.processMessage(ctx, msg, workerID)
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery, workerID int) {
	ctx, cancel := context.WithTimeout(ctx, consumeTimeout)
	defer cancel()

	var payload TopUpMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		c.log.WithFields(logrus.Fields{
			"worker_id": workerID,
			"error":     err,
			"body":      string(msg.Body),
		}).Error("failed to unmarshal top-up message")

		// Reject and don't requeue malformed messages
		_ = msg.Nack(false, false)
		return
	}

	if payload.UserID == "" || payload.Amount <= 0 {
		c.log.WithFields(logrus.Fields{
			"worker_id": workerID,
			"payload":   payload,
		}).Error("invalid top-up message")
		_ = msg.Nack(false, false)
		return
	}

	// Replayed deliveries credit at most once.
	if payload.EventID != "" {
		exists, err := c.rec.HasEvent(ctx, payload.EventID)
		if err != nil {
			c.log.WithError(err).Warn("failed to check top-up event, requeueing")
			_ = msg.Nack(false, true)
			return
		}
		if exists {
			c.log.WithFields(logrus.Fields{
				"event_id": payload.EventID,
				"user_id":  payload.UserID,
			}).Debug("top-up already applied, skipping")
			_ = msg.Ack(false)
			return
		}
	}

	l, err := c.store.Credit(ctx, payload.UserID, payload.Amount)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.log.WithField("user_id", payload.UserID).Error("top-up for unknown user")
			_ = msg.Nack(false, false)
			return
		}
		c.log.WithError(err).Error("failed to apply top-up credit, requeueing")
		_ = msg.Nack(false, true)
		return
	}

	if _, err := c.rec.Record(ctx, payload.UserID, payload.Amount, model.KindCredit, creditDescription, payload.EventID); err != nil {
		c.log.WithError(err).WithField("user_id", payload.UserID).Error("failed to record credit transaction")
	}

	c.balances.Put(payload.UserID, l.WalletBalance)
	_ = msg.Ack(false)

	c.log.WithFields(logrus.Fields{
		"worker_id": workerID,
		"user_id":   payload.UserID,
		"amount":    payload.Amount,
		"balance":   l.WalletBalance,
	}).Info("wallet top-up applied")
}

func (c *Consumer) Close() {
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	c.log.Info("consumer closed")
}
