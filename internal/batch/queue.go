// Package batch buffers captured error records and persists them in batches.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/NikhilSetiya/errwatch/internal/dedup"
	"github.com/NikhilSetiya/errwatch/internal/gateway"
	"github.com/NikhilSetiya/errwatch/pkg/logging"
	"github.com/NikhilSetiya/errwatch/pkg/metrics"
	"github.com/NikhilSetiya/errwatch/pkg/tracing"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

// Flush triggers
const (
	TriggerTimer    = "timer"
	TriggerSize     = "size"
	TriggerCritical = "critical"
	TriggerDispose  = "dispose"
	TriggerManual   = "manual"
)

// Config holds queue configuration
type Config struct {
	MaxQueueSize  int
	FlushInterval time.Duration
}

// DefaultConfig returns default queue configuration
func DefaultConfig() *Config {
	return &Config{
		MaxQueueSize:  50,
		FlushInterval: 5 * time.Second,
	}
}

// AfterFlush runs after a batch has been persisted successfully
type AfterFlush func(ctx context.Context, batch []types.ErrorRecord)

// Queue is an insertion-ordered buffer keyed by the dedup key, so a record
// still waiting to be flushed is overwritten by its duplicate.
type Queue struct {
	config  *Config
	gateway gateway.Gateway
	logger  *logging.Logger
	metrics *metrics.Metrics
	tracer  *tracing.TracingService

	mu    sync.Mutex
	keys  []string
	items map[string]types.ErrorRecord

	afterFlush AfterFlush
	onTick     func()

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewQueue creates a queue persisting to gw
func NewQueue(config *Config, gw gateway.Gateway, logger *logging.Logger, m *metrics.Metrics, tracer *tracing.TracingService) *Queue {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = DefaultConfig().MaxQueueSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultConfig().FlushInterval
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	if tracer == nil {
		tracer = tracing.Noop()
	}

	return &Queue{
		config:  config,
		gateway: gw,
		logger:  logger,
		metrics: m,
		tracer:  tracer,
		items:   make(map[string]types.ErrorRecord),
		stopCh:  make(chan struct{}),
	}
}

// SetAfterFlush installs the hook run after each successful flush
func (q *Queue) SetAfterFlush(fn AfterFlush) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.afterFlush = fn
}

// SetOnTick installs a func run on every flush tick before the flush
func (q *Queue) SetOnTick(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onTick = fn
}

// Enqueue buffers record. A critical record, or a record that fills the
// queue, flushes synchronously in the caller's goroutine and the flush
// error is returned.
func (q *Queue) Enqueue(ctx context.Context, record *types.ErrorRecord) error {
	key := dedup.Key(record)

	q.mu.Lock()
	if _, exists := q.items[key]; !exists {
		q.keys = append(q.keys, key)
	}
	q.items[key] = *record
	size := len(q.keys)
	q.mu.Unlock()

	q.metrics.UpdateQueueSize(size)

	switch {
	case record.Severity == types.SeverityCritical:
		return q.Flush(ctx, TriggerCritical)
	case size >= q.config.MaxQueueSize:
		return q.Flush(ctx, TriggerSize)
	}
	return nil
}

// Len returns the number of buffered records
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.keys)
}

// drain empties the queue and returns its records in insertion order
func (q *Queue) drain() ([]types.ErrorRecord, AfterFlush) {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := make([]types.ErrorRecord, 0, len(q.keys))
	for _, key := range q.keys {
		batch = append(batch, q.items[key])
	}
	q.keys = nil
	q.items = make(map[string]types.ErrorRecord)
	return batch, q.afterFlush
}

// Flush persists every buffered record in one gateway call. A failed batch
// is logged and dropped.
func (q *Queue) Flush(ctx context.Context, trigger string) error {
	batch, after := q.drain()
	q.metrics.UpdateQueueSize(0)
	if len(batch) == 0 {
		return nil
	}

	ctx, span := q.tracer.StartFlushSpan(ctx, trigger, len(batch))
	defer span.End()

	start := time.Now()
	err := q.gateway.InsertErrorBatch(ctx, batch)
	duration := time.Since(start)

	q.metrics.RecordFlush(trigger, err == nil, duration)
	q.logger.LogFlush(ctx, trigger, len(batch), duration, err)

	if err != nil {
		q.tracer.RecordError(span, err)
		return err
	}

	if after != nil {
		after(ctx, batch)
	}
	return nil
}

// Start begins the periodic flush loop
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.run(ctx)
}

// Stop halts the periodic flush loop and waits for it to exit
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.Tick(ctx)
		}
	}
}

// Tick runs one timer cycle: the tick hook, then a flush
func (q *Queue) Tick(ctx context.Context) {
	q.mu.Lock()
	onTick := q.onTick
	q.mu.Unlock()

	if onTick != nil {
		onTick()
	}
	_ = q.Flush(ctx, TriggerTimer)
}
