package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bdosoa/bdosoa/internal/spg"
	"github.com/bdosoa/bdosoa/internal/store"
)

// Deliverer pushes one outbound document to a counterpart. It is satisfied by
// delivery.Client but keeps this package free of HTTP concerns.
type Deliverer interface {
	Deliver(ctx context.Context, provider *store.ServiceProvider, header spg.Header, document string) error
}

// Config tunes the processing pipeline.
type Config struct {
	Workers       int
	QueueSize     int
	SweepInterval time.Duration
}

// DefaultConfig returns the pipeline defaults. A single worker keeps
// per-counterpart processing order; raise Workers only when ordering across
// messages does not matter.
func DefaultConfig() Config {
	return Config{
		Workers:       1,
		QueueSize:     256,
		SweepInterval: 5 * time.Minute,
	}
}

// Engine owns the message pipeline: Submit persists and enqueues, workers
// process and deliver, the sweep replays everything non-terminal.
type Engine struct {
	stores    *store.Stores
	registry  *Registry
	deliverer Deliverer
	cfg       Config
	logger    *slog.Logger

	work  chan string
	sweep chan struct{}
	wg    sync.WaitGroup
}

// New creates an engine. The registry and deliverer must be fully wired
// before Run is called.
func New(stores *store.Stores, registry *Registry, deliverer Deliverer, cfg Config, logger *slog.Logger) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		stores:    stores,
		registry:  registry,
		deliverer: deliverer,
		cfg:       cfg,
		logger:    logger,
		work:      make(chan string, cfg.QueueSize),
		sweep:     make(chan struct{}, 1),
	}
}

// Submit persists an inbound message and hands it to the workers. The caller
// only gets a nil error once the row is durable; anything else must be
// reported back to the sender as a receive failure.
func (e *Engine) Submit(ctx context.Context, msg *spg.Message, raw []byte) (string, error) {
	row := &store.Message{
		Direction:       string(msg.Direction),
		ServiceProvID:   msg.Header.ServiceProvID,
		InvokeID:        msg.Header.InvokeID,
		MessageDateTime: msg.Header.MessageDateTime,
		CommandTag:      msg.CommandTag(),
		MessageBody:     string(raw),
		Status:          store.StatusReceived,
	}
	id, err := e.stores.Messages.Append(row)
	if err != nil {
		return "", err
	}

	e.enqueue(ctx, id)
	return id, nil
}

// TriggerSweep requests an immediate recovery sweep. The request is dropped
// if a sweep is already pending.
func (e *Engine) TriggerSweep() {
	select {
	case e.sweep <- struct{}{}:
	default:
	}
}

// Run starts the workers and the sweep loop, runs one startup sweep, and
// blocks until the context is cancelled and every worker has drained.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("engine starting",
		"workers", e.cfg.Workers,
		"queueSize", e.cfg.QueueSize,
		"sweepInterval", e.cfg.SweepInterval.String())

	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go func(workerID int) {
			defer e.wg.Done()
			e.workerLoop(ctx, workerID)
		}(i)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sweepLoop(ctx)
	}()

	<-ctx.Done()
	e.logger.Info("engine shutting down, waiting for workers")
	e.wg.Wait()
	e.logger.Info("engine stopped")
}

func (e *Engine) workerLoop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-e.work:
			e.processOne(ctx, workerID, id)
		}
	}
}

func (e *Engine) sweepLoop(ctx context.Context) {
	// Startup sweep picks up whatever a previous run left behind.
	e.runSweep(ctx)

	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runSweep(ctx)
		case <-e.sweep:
			e.runSweep(ctx)
		}
	}
}

// runSweep resets every retryable message to its entry state and re-enqueues
// it, oldest first. The sweep is the only retry path: a message that failed
// stays in error until the next sweep, never in a hot loop.
func (e *Engine) runSweep(ctx context.Context) {
	msgs, err := e.stores.Messages.ListNonTerminal()
	if err != nil {
		e.logger.Error("sweep failed to list messages", "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}
	e.logger.Info("sweep re-submitting messages", "count", len(msgs))

	for i := range msgs {
		msg := &msgs[i]
		entry := entryStatus(msg)
		if msg.Status != entry {
			if err := e.stores.Messages.UpdateStatus(msg.ID, entry); err != nil {
				e.logger.Error("sweep failed to reset message", "messageID", msg.ID, "error", err)
				continue
			}
		}
		e.enqueue(ctx, msg.ID)
	}
}

// entryStatus is the state a message restarts from: received for inbound,
// queued for outbound.
func entryStatus(msg *store.Message) store.MessageStatus {
	if spg.Direction(msg.Direction).Inbound() {
		return store.StatusReceived
	}
	return store.StatusQueued
}

// enqueue hands an id to the workers, giving up on context cancellation. A
// full queue blocks: the sweep will find anything dropped at cancellation.
func (e *Engine) enqueue(ctx context.Context, id string) {
	select {
	case e.work <- id:
	case <-ctx.Done():
	}
}

// processOne advances one message a single step: inbound received rows get
// handled, outbound queued rows get delivered. Failures append diagnostics
// and park the row in error for the next sweep.
func (e *Engine) processOne(ctx context.Context, workerID int, id string) {
	msg, err := e.stores.Messages.Get(id)
	if err != nil {
		e.logger.Error("worker failed to load message", "workerID", workerID, "messageID", id, "error", err)
		return
	}
	if msg.Status.Terminal() {
		return
	}

	logger := e.logger.With(
		"workerID", workerID,
		"messageID", msg.ID,
		"direction", msg.Direction,
		"commandTag", msg.CommandTag,
	)

	switch msg.Status {
	case store.StatusReceived:
		e.handleInbound(ctx, logger, msg)
	case store.StatusQueued:
		e.deliverOutbound(ctx, logger, msg)
	default:
		// processing or error: only the sweep resets these.
		logger.Debug("skipping message not in an entry state", "status", msg.Status)
	}
}

func (e *Engine) handleInbound(ctx context.Context, logger *slog.Logger, row *store.Message) {
	if err := e.stores.Messages.UpdateStatus(row.ID, store.StatusProcessing); err != nil {
		logger.Error("failed to claim message", "error", err)
		return
	}

	msg, err := spg.Decode([]byte(row.MessageBody))
	if err != nil {
		e.fail(logger, row.ID, fmt.Errorf("decode: %w", err))
		return
	}

	handler, ok := e.registry.Lookup(msg.CommandTag())
	if !ok {
		e.fail(logger, row.ID, fmt.Errorf("no handler for %s", msg.CommandTag()))
		return
	}

	var replyID string
	err = e.stores.Transaction(func(tx *store.Stores) error {
		reply, err := handler(ctx, tx, msg)
		if err != nil {
			return err
		}

		if reply == nil {
			return tx.Messages.UpdateStatus(row.ID, store.StatusDone)
		}

		encoded, err := spg.Encode(reply)
		if err != nil {
			return fmt.Errorf("encode reply: %w", err)
		}
		replyID, err = tx.Messages.Append(&store.Message{
			Direction:       string(reply.Direction),
			ServiceProvID:   reply.Header.ServiceProvID,
			InvokeID:        reply.Header.InvokeID,
			MessageDateTime: reply.Header.MessageDateTime,
			CommandTag:      reply.CommandTag(),
			MessageBody:     string(encoded),
			Status:          store.StatusQueued,
		})
		if err != nil {
			return err
		}
		return tx.Messages.UpdateStatus(row.ID, store.StatusProcessed)
	})
	if err != nil {
		e.fail(logger, row.ID, err)
		return
	}

	logger.Info("message processed", "replyID", replyID)
	if replyID != "" {
		e.enqueue(ctx, replyID)
	}
}

func (e *Engine) deliverOutbound(ctx context.Context, logger *slog.Logger, row *store.Message) {
	provider, err := e.stores.Providers.GetBySPID(row.ServiceProvID)
	if err != nil {
		if errors.Is(err, store.ErrProviderNotFound) {
			e.fail(logger, row.ID, fmt.Errorf("no registration for %s", row.ServiceProvID))
			return
		}
		logger.Error("failed to load provider", "error", err)
		return
	}

	header := spg.Header{
		ServiceProvID:   row.ServiceProvID,
		InvokeID:        row.InvokeID,
		MessageDateTime: row.MessageDateTime,
	}
	if err := e.deliverer.Deliver(ctx, provider, header, row.MessageBody); err != nil {
		e.fail(logger, row.ID, fmt.Errorf("deliver: %w", err))
		return
	}

	if err := e.stores.Messages.UpdateStatus(row.ID, store.StatusSent); err != nil {
		logger.Error("failed to mark message sent", "error", err)
		return
	}
	logger.Info("message delivered")
}

// fail parks a message in error with a timestamped diagnostic. The next
// sweep retries it.
func (e *Engine) fail(logger *slog.Logger, id string, cause error) {
	logger.Error("message failed", "error", cause)
	if err := e.stores.Messages.AppendError(id, cause.Error()); err != nil {
		logger.Error("failed to record message error", "error", err)
	}
}
