package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ChannelPool hands out confirm-mode channels so concurrent publishers never
// share one.
type ChannelPool struct {
	conn     *amqp.Connection
	channels chan *amqp.Channel
	mu       sync.Mutex
	closed   bool
	missing  int
	size     int
	exchange string
	queue    string
	logger   *zap.Logger

	open     func() (*amqp.Channel, error)
	isClosed func(*amqp.Channel) bool
}

// NewChannelPool creates a new channel pool
func NewChannelPool(rabbitmqURL, exchange, queue string, size int, logger *zap.Logger) (*ChannelPool, error) {
	conn, err := amqp.Dial(rabbitmqURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	pool := &ChannelPool{
		conn:     conn,
		channels: make(chan *amqp.Channel, size),
		size:     size,
		exchange: exchange,
		queue:    queue,
		logger:   logger,
		isClosed: (*amqp.Channel).IsClosed,
	}
	pool.open = pool.createChannel

	// Pre-create channels
	for i := 0; i < size; i++ {
		ch, err := pool.createChannel()
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create channel %d: %w", i, err)
		}
		if i == 0 {
			if err := DeclareTopology(ch, exchange, queue); err != nil {
				ch.Close()
				pool.Close()
				return nil, err
			}
		}
		pool.channels <- ch
	}

	logger.Info("Created RabbitMQ channel pool", zap.Int("size", size), zap.String("exchange", exchange))
	return pool, nil
}

func (p *ChannelPool) createChannel() (*amqp.Channel, error) {
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	return ch, nil
}

// GetChannel waits for a free channel until ctx is done. Slots whose channel
// could not be replaced earlier are reopened here.
func (p *ChannelPool) GetChannel(ctx context.Context) (*amqp.Channel, error) {
	select {
	case ch, ok := <-p.channels:
		return p.checkOut(ch, ok)
	default:
	}

	if ch := p.reopenMissing(); ch != nil {
		return ch, nil
	}

	select {
	case ch, ok := <-p.channels:
		return p.checkOut(ch, ok)
	case <-ctx.Done():
		return nil, fmt.Errorf("no channel available: %w", ctx.Err())
	}
}

func (p *ChannelPool) checkOut(ch *amqp.Channel, ok bool) (*amqp.Channel, error) {
	if !ok {
		return nil, fmt.Errorf("channel pool is closed")
	}
	if !p.isClosed(ch) {
		return ch, nil
	}
	replacement, err := p.open()
	if err != nil {
		p.markMissing(err)
		return nil, fmt.Errorf("failed to replace closed channel: %w", err)
	}
	return replacement, nil
}

func (p *ChannelPool) reopenMissing() *amqp.Channel {
	p.mu.Lock()
	if p.closed || p.missing == 0 {
		p.mu.Unlock()
		return nil
	}
	p.missing--
	p.mu.Unlock()

	ch, err := p.open()
	if err != nil {
		p.markMissing(err)
		return nil
	}
	return ch
}

func (p *ChannelPool) markMissing(err error) {
	p.mu.Lock()
	p.missing++
	missing := p.missing
	p.mu.Unlock()
	p.logger.Warn("Failed to open replacement channel", zap.Int("missing", missing), zap.Error(err))
}

// ReturnChannel returns a channel to the pool. A channel the broker closed
// during use is replaced with a fresh one so the pool keeps its size.
func (p *ChannelPool) ReturnChannel(ch *amqp.Channel) {
	if ch == nil {
		return
	}
	if p.isClosed(ch) {
		replacement, err := p.open()
		if err != nil {
			p.markMissing(err)
			return
		}
		ch = replacement
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		ch.Close()
		return
	}
	select {
	case p.channels <- ch:
	default:
		ch.Close()
	}
}

// Close closes all channels and the connection
func (p *ChannelPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true

	close(p.channels)
	for ch := range p.channels {
		ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.logger.Info("Closed RabbitMQ channel pool")
}
