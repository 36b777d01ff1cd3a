// Package dispatch drains the outbox: it claims pending events, renders them
// through the configured strategy, and finalises them against the receipt
// store.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bling0390/vivbliss-watch/config"
	"github.com/bling0390/vivbliss-watch/internal/domain/outbox"
	"github.com/bling0390/vivbliss-watch/internal/domain/receipt"
	"github.com/bling0390/vivbliss-watch/internal/observability"
	"github.com/bling0390/vivbliss-watch/lib/async"
)

// Result is the per-event outcome of a send attempt.
type Result string

const (
	// ResultSent marks a successful delivery finalised with a receipt.
	ResultSent Result = "sent"
	// ResultSkipped marks a claim lost to a concurrent worker.
	ResultSkipped Result = "skipped"
	// ResultDuplicate marks an event whose receipt already existed.
	ResultDuplicate Result = "duplicate-suppressed"
	// ResultFailed marks a transport failure; the event went back to pending.
	ResultFailed Result = "failed"
)

// DefaultBatchSize bounds one poll cycle.
const DefaultBatchSize = 20

// Renderer turns an event payload into delivered messages. notify.Sender is
// the production implementation.
type Renderer interface {
	Send(ctx context.Context, strategy config.Strategy, chat string, payload outbox.Payload) ([]int64, string, error)
}

var (
	dispatchCounter     metric.Int64Counter
	dispatchCounterOnce sync.Once
)

// Dispatcher owns the outbox drain loop.
type Dispatcher struct {
	outbox   outbox.Store
	receipts receipt.Store
	renderer Renderer
	settings config.Settings
	pool     *async.Pool
	clock    func() time.Time
}

// New constructs a Dispatcher. A nil clock defaults to time.Now; a nil pool
// makes Poll run sends inline.
func New(outboxStore outbox.Store, receiptStore receipt.Store, renderer Renderer, settings config.Settings, pool *async.Pool, clock func() time.Time) *Dispatcher {
	if clock == nil {
		clock = time.Now
	}
	return &Dispatcher{
		outbox:   outboxStore,
		receipts: receiptStore,
		renderer: renderer,
		settings: settings,
		pool:     pool,
		clock:    clock,
	}
}

// Poll fetches one batch of pending events and fans each send out to the
// worker pool. It returns the number of events handed off. Sending
// configuration is validated once at entry so a misconfigured deployment
// fails loudly instead of churning the queue.
func (d *Dispatcher) Poll(ctx context.Context, batchSize int) (int, error) {
	if err := d.settings.ValidateSending(); err != nil {
		return 0, err
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	pending, err := d.outbox.FindPending(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("dispatch poll: %w", err)
	}

	cycle := uuid.NewString()
	dispatched := 0
	for _, evt := range pending {
		eventID := evt.ID
		task := func(taskCtx context.Context) error {
			result, err := d.Send(taskCtx, eventID)
			if err != nil {
				observability.Log().Error("send event",
					observability.F("cycle", cycle),
					observability.F("event_id", eventID),
					observability.F("error", err.Error()))
				return err
			}
			observability.Log().Debug("send event",
				observability.F("cycle", cycle),
				observability.F("event_id", eventID),
				observability.F("result", string(result)))
			return nil
		}
		if d.pool == nil {
			_ = task(ctx)
		} else if err := d.pool.Submit(ctx, task); err != nil {
			observability.Log().Error("dispatch submit",
				observability.F("cycle", cycle),
				observability.F("event_id", eventID),
				observability.F("error", err.Error()))
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

// Send processes one outbox event end to end. Transport failures are an
// expected outcome, not an error: the event reverts to pending with
// last_error set and the result is ResultFailed. Errors are reserved for
// storage faults.
func (d *Dispatcher) Send(ctx context.Context, eventID int64) (Result, error) {
	record, err := d.outbox.Claim(ctx, eventID)
	if err != nil {
		return "", fmt.Errorf("dispatch send: %w", err)
	}
	if record == nil {
		d.recordResult(ctx, ResultSkipped)
		return ResultSkipped, nil
	}

	existing, err := d.receipts.Get(ctx, record.DedupeKey)
	if err != nil {
		return "", fmt.Errorf("dispatch send: %w", err)
	}
	if existing != nil {
		if err := d.outbox.MarkSent(ctx, eventID, record.StrategyUsed); err != nil {
			return "", fmt.Errorf("dispatch send: %w", err)
		}
		d.recordResult(ctx, ResultDuplicate)
		return ResultDuplicate, nil
	}

	messageIDs, strategyUsed, err := d.renderer.Send(ctx, d.settings.MessageStrategy, d.settings.TargetChat, record.Payload)
	if err != nil {
		return d.fail(ctx, eventID, err)
	}

	inserted, err := d.receipts.Insert(ctx, receipt.Receipt{
		DedupeKey:  record.DedupeKey,
		TargetChat: d.settings.TargetChat,
		MessageIDs: messageIDs,
		SentAt:     d.clock().UTC(),
	})
	if err != nil {
		return d.fail(ctx, eventID, err)
	}
	if !inserted {
		// Lost the receipt race after delivering. The chat saw a duplicate;
		// the event is still terminally sent.
		observability.Log().Error("receipt collision after send",
			observability.F("event_id", eventID),
			observability.F("dedupe_key", record.DedupeKey))
	}

	if err := d.outbox.MarkSent(ctx, eventID, strategyUsed); err != nil {
		return d.fail(ctx, eventID, err)
	}
	d.recordResult(ctx, ResultSent)
	return ResultSent, nil
}

// fail reverts the claimed event to pending. The revert itself failing is a
// storage fault and surfaces as an error.
func (d *Dispatcher) fail(ctx context.Context, eventID int64, cause error) (Result, error) {
	if err := d.outbox.RevertToPending(ctx, eventID, cause.Error()); err != nil {
		return "", fmt.Errorf("dispatch send: revert %d: %w", eventID, err)
	}
	observability.Log().Error("send failed, event reverted",
		observability.F("event_id", eventID),
		observability.F("error", cause.Error()))
	d.recordResult(ctx, ResultFailed)
	return ResultFailed, nil
}

func (d *Dispatcher) recordResult(ctx context.Context, result Result) {
	dispatchCounterOnce.Do(func() {
		meter := otel.Meter("dispatch")
		counter, err := meter.Int64Counter("vivbliss_dispatch_results_total",
			metric.WithDescription("Outbox send attempts by result"),
			metric.WithUnit("{event}"))
		if err == nil {
			dispatchCounter = counter
		}
	})
	if dispatchCounter == nil {
		return
	}
	dispatchCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", string(result))))
}
