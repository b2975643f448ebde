package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultMaxDeliveries  = 10
	defaultStaleAfter     = 30 * time.Second
	defaultRetryBaseDelay = 50 * time.Millisecond
)

var (
	outboxPublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_outbox_publish_attempts_total",
		Help: "Total number of outbox publish attempts grouped by result.",
	}, []string{"result"})
	outboxRetryableRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fulfillment_outbox_retryable_records",
		Help: "Current number of failed or stale pending records in transactional outbox.",
	})
	outboxOldestRetryableAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fulfillment_outbox_oldest_retryable_age_seconds",
		Help: "Age in seconds of the oldest record awaiting redelivery.",
	})
)

// WorkerOptions задаёт параметры outbox worker.
type WorkerOptions struct {
	Logger         *log.Entry
	DLQPublisher   domain.EventPublisher
	Clock          domain.Clock
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	MaxDeliveries  int
	StaleAfter     time.Duration
	RetryBaseDelay time.Duration
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithDLQPublisher задаёт publisher для записей, исчерпавших MaxDeliveries.
func WithDLQPublisher(publisher domain.EventPublisher) Option {
	return func(opts *WorkerOptions) {
		opts.DLQPublisher = publisher
	}
}

// WithClock подменяет часы.
func WithClock(clock domain.Clock) Option {
	return func(opts *WorkerOptions) {
		opts.Clock = clock
	}
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxAttempts задаёт число попыток публикации за один цикл.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WorkerOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithMaxDeliveries задаёт общее число отмеченных попыток, после которого запись уходит в DLQ.
func WithMaxDeliveries(maxDeliveries int) Option {
	return func(opts *WorkerOptions) {
		opts.MaxDeliveries = maxDeliveries
	}
}

// WithStaleAfter задаёт возраст, после которого PENDING запись считается зависшей.
func WithStaleAfter(staleAfter time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.StaleAfter = staleAfter
	}
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.RetryBaseDelay = delay
	}
}

// Worker повторно доставляет FAILED и зависшие PENDING записи outbox.
type Worker struct {
	repo           domain.OutboxRepository
	publisher      domain.EventPublisher
	dlqPublisher   domain.EventPublisher
	clock          domain.Clock
	logger         *log.Entry
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	maxDeliveries  int
	staleAfter     time.Duration
	retryBaseDelay time.Duration
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.EventPublisher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		MaxDeliveries:  defaultMaxDeliveries,
		StaleAfter:     defaultStaleAfter,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-worker")
	}
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock{}
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = defaultMaxDeliveries
	}
	if opts.StaleAfter < 0 {
		opts.StaleAfter = 0
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}

	return &Worker{
		repo:           repo,
		publisher:      publisher,
		dlqPublisher:   opts.DLQPublisher,
		clock:          opts.Clock,
		logger:         logger,
		pollInterval:   opts.PollInterval,
		batchSize:      opts.BatchSize,
		maxAttempts:    opts.MaxAttempts,
		maxDeliveries:  opts.MaxDeliveries,
		staleAfter:     opts.StaleAfter,
		retryBaseDelay: opts.RetryBaseDelay,
	}
}

// Run запускает периодический polling outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один polling-цикл и возвращает число доставленных записей.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	staleBefore := w.clock.Now().Add(-w.staleAfter)
	w.refreshBacklogMetrics(ctx, staleBefore)

	records, err := w.repo.PullRetryable(ctx, staleBefore, w.maxDeliveries, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull retryable outbox records")
		return 0
	}
	if len(records) == 0 {
		return 0
	}

	sent := 0
	for _, record := range records {
		if ctx.Err() != nil {
			return sent
		}

		logger := w.logger.WithFields(log.Fields{
			"outbox_id":  record.ID,
			"event_type": record.EventType,
			"attempts":   record.Attempts,
		})

		if err := w.publishWithRetry(ctx, record); err != nil {
			logger.WithError(err).Error("outbox redelivery failed after retries")
			outboxPublishAttempts.WithLabelValues("failed").Inc()

			if markErr := w.repo.MarkFailed(ctx, record.ID, err.Error(), w.clock.Now()); markErr != nil {
				logger.WithError(markErr).Warn("failed to mark outbox as failed")
			}
			if record.Attempts+1 >= w.maxDeliveries {
				if dlqErr := w.publishToDLQ(ctx, record, err); dlqErr != nil {
					logger.WithError(dlqErr).Warn("failed to publish to DLQ")
					outboxPublishAttempts.WithLabelValues("dlq_failed").Inc()
				}
			}
			continue
		}

		sent++
		if err := w.repo.MarkSent(ctx, record.ID, w.clock.Now()); err != nil {
			logger.WithError(err).Warn("failed to mark outbox as sent")
		}
	}

	w.refreshBacklogMetrics(ctx, staleBefore)
	return sent
}

func (w *Worker) publishWithRetry(ctx context.Context, record domain.OutboxRecord) error {
	var lastErr error

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := w.publisher.Publish(ctx, record)
		if err == nil {
			outboxPublishAttempts.WithLabelValues("sent").Inc()
			return nil
		}
		lastErr = err
		outboxPublishAttempts.WithLabelValues("retry_error").Inc()

		if attempt >= w.maxAttempts {
			break
		}

		delay := w.retryBackoff(attempt)
		if delay <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
}

func (w *Worker) refreshBacklogMetrics(ctx context.Context, staleBefore time.Time) {
	stats, err := w.repo.Stats(ctx, staleBefore, w.maxDeliveries)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	outboxRetryableRecords.Set(float64(stats.RetryableCount))
	if stats.RetryableCount == 0 || stats.OldestRetryableAt.IsZero() {
		outboxOldestRetryableAge.Set(0)
		return
	}

	age := w.clock.Now().Sub(stats.OldestRetryableAt).Seconds()
	if age < 0 {
		age = 0
	}
	outboxOldestRetryableAge.Set(age)
}

func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return w.retryBaseDelay
	}

	const maxDuration = time.Duration(1<<63 - 1)
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > maxDuration/2 {
			return maxDuration
		}
		delay *= 2
	}
	return delay
}

func (w *Worker) publishToDLQ(ctx context.Context, record domain.OutboxRecord, publishErr error) error {
	if w.dlqPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"outbox_id":        record.ID,
		"aggregate_id":     record.AggregateID,
		"event_type":       record.EventType,
		"topic":            record.Topic,
		"payload":          json.RawMessage(record.Payload),
		"attempts":         record.Attempts + 1,
		"publish_error":    publishErr.Error(),
		"dlq_published_at": w.clock.Now().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	dlqRecord := record
	dlqRecord.Payload = payload
	if err := w.dlqPublisher.Publish(ctx, dlqRecord); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}

	outboxPublishAttempts.WithLabelValues("dlq").Inc()
	return nil
}
