package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/channelchat-server/internal/store"
)

const persistAttemptTimeout = 5 * time.Second

// PersisterOptions tune the asynchronous write path.
type PersisterOptions struct {
	QueueSize  int
	MaxRetries uint
	RetryBase  time.Duration
}

// Persister appends messages to the ChannelDirectory off the hub goroutine.
// A single worker drains the queue, so appends keep submission order.
type Persister struct {
	directory ChannelDirectory
	opts      PersisterOptions
	log       *zerolog.Logger

	queue    chan *Message
	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
	failures atomic.Int64
	stored   atomic.Int64
}

// NewPersister constructs a persister. Call Start before enqueueing.
func NewPersister(directory ChannelDirectory, opts PersisterOptions, logger *zerolog.Logger) *Persister {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 100 * time.Millisecond
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Persister{
		directory: directory,
		opts:      opts,
		log:       logger,
		queue:     make(chan *Message, opts.QueueSize),
	}
}

// Start launches the worker. It runs until Close.
func (p *Persister) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for msg := range p.queue {
			ctx, cancel := context.WithTimeout(context.Background(), p.retryBudget())
			_ = p.AppendNow(ctx, msg)
			cancel()
		}
	}()
}

// Enqueue hands a message to the worker without blocking. A full or closed queue counts as a failure.
func (p *Persister) Enqueue(msg Message) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.fail(&msg, errors.New("persister closed"))
		return false
	}
	select {
	case p.queue <- &msg:
		return true
	default:
		p.fail(&msg, errors.New("persist queue full"))
		return false
	}
}

// AppendNow stores a message synchronously with retries and sets its ID.
// It returns ErrPersistence when every attempt failed.
func (p *Persister) AppendNow(ctx context.Context, msg *Message) error {
	if p.directory == nil {
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.RetryBase
	b.MaxInterval = 20 * p.opts.RetryBase

	rec := msg.toStore()
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, persistAttemptTimeout)
		defer cancel()
		err := p.directory.AppendMessage(attemptCtx, msg.ChannelID, rec)
		if errors.Is(err, store.ErrNotFound) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.opts.MaxRetries+1))
	if err != nil {
		p.fail(msg, err)
		return ErrPersistence
	}
	msg.ID = rec.ID
	p.stored.Add(1)
	return nil
}

// Close stops accepting messages and waits for the queue to drain.
func (p *Persister) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}

// Failures returns how many messages could not be stored.
func (p *Persister) Failures() int64 {
	return p.failures.Load()
}

// Stored returns how many messages were stored.
func (p *Persister) Stored() int64 {
	return p.stored.Load()
}

func (p *Persister) fail(msg *Message, err error) {
	p.failures.Add(1)
	p.log.Error().
		Err(err).
		Str("code", ErrCodePersistence).
		Str("channel", msg.ChannelID).
		Str("author", msg.AuthorUserID).
		Bool("system", msg.IsSystem).
		Msg("message not persisted")
}

func (p *Persister) retryBudget() time.Duration {
	budget := persistAttemptTimeout
	for i := uint(0); i < p.opts.MaxRetries; i++ {
		budget += persistAttemptTimeout + 20*p.opts.RetryBase
	}
	return budget
}
