// Package events records the append-only analytics log without putting the
// event store on the caller's critical path.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emiliopalmerini/abassign/internal/adapters/logging"
	"github.com/emiliopalmerini/abassign/internal/adapters/otel"
	"github.com/emiliopalmerini/abassign/internal/domain"
	"github.com/emiliopalmerini/abassign/internal/ports"
)

// Drop reasons reported to the metrics exporter.
const (
	DropBufferFull  = "buffer_full"
	DropClosed      = "closed"
	DropWriteFailed = "write_failed"
)

const (
	defaultBufferSize   = 1024
	defaultWriteTimeout = 5 * time.Second
)

// Options configures a Recorder. Zero values pick defaults.
type Options struct {
	BufferSize   int
	WriteTimeout time.Duration
	Logger       ports.Logger
	Metrics      ports.MetricsExporter
}

type item struct {
	event   *domain.Event
	flushed chan struct{}
}

// Recorder queues events on a bounded buffer drained by a single worker.
// Record never blocks and never fails: overflow and write errors are logged
// and counted.
type Recorder struct {
	repo         ports.EventRepository
	logger       ports.Logger
	metrics      ports.MetricsExporter
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan item
	done   chan struct{}
}

// NewRecorder starts the background worker. Call Close to stop it.
func NewRecorder(repo ports.EventRepository, opts Options) *Recorder {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = otel.NewNoOpExporter()
	}

	r := &Recorder{
		repo:         repo,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		writeTimeout: opts.WriteTimeout,
		queue:        make(chan item, opts.BufferSize),
		done:         make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues event and returns immediately. ID and RecordedAt are filled
// in when empty.
func (r *Recorder) Record(ctx context.Context, event *domain.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.RecordedAt.IsZero() {
		event.RecordedAt = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.drop(ctx, event, DropClosed, nil)
		return
	}
	select {
	case r.queue <- item{event: event}:
	default:
		r.drop(ctx, event, DropBufferFull, nil)
	}
}

// Flush blocks until every event queued before the call has been written or
// dropped.
func (r *Recorder) Flush(ctx context.Context) error {
	flushed := make(chan struct{})

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil
	}
	select {
	case r.queue <- item{flushed: flushed}:
		r.mu.RUnlock()
	case <-ctx.Done():
		r.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for the buffer to drain.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Erase flushes pending events and deletes every event correlated with
// userID.
func (r *Recorder) Erase(ctx context.Context, userID string) (int64, error) {
	if err := r.Flush(ctx); err != nil {
		return 0, err
	}
	return r.repo.DeleteByUser(ctx, userID)
}

// List reads recorded events of an experiment.
func (r *Recorder) List(ctx context.Context, experimentID string, filter ports.EventFilter) ([]*domain.Event, error) {
	return r.repo.ListByExperiment(ctx, experimentID, filter)
}

func (r *Recorder) run() {
	defer close(r.done)
	for it := range r.queue {
		if it.flushed != nil {
			close(it.flushed)
			continue
		}
		r.write(it.event)
	}
}

func (r *Recorder) write(event *domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	if err := r.repo.Append(ctx, event); err != nil {
		r.drop(ctx, event, DropWriteFailed, err)
	}
}

func (r *Recorder) drop(ctx context.Context, event *domain.Event, reason string, err error) {
	kv := []any{
		"event_id", event.ID,
		"event_type", string(event.Type),
		"experiment_id", event.ExperimentID,
		"reason", reason,
	}
	if err != nil {
		kv = append(kv, "error", err)
	}
	r.logger.Warn("event dropped", kv...)

	if merr := r.metrics.ExportEventDrop(context.WithoutCancel(ctx), string(event.Type), reason); merr != nil {
		r.logger.Debug("failed to export event drop", "error", merr)
	}
}
