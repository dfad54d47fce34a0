package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emiliopalmerini/abassign/internal/domain"
	"github.com/emiliopalmerini/abassign/internal/ports"
)

type dropCounter struct {
	mu    sync.Mutex
	drops map[string]int
}

func newDropCounter() *dropCounter {
	return &dropCounter{drops: map[string]int{}}
}

func (d *dropCounter) ExportResolution(context.Context, *ports.ResolutionMetrics) error { return nil }
func (d *dropCounter) ExportOutcome(context.Context, *ports.OutcomeMetrics) error       { return nil }
func (d *dropCounter) Close(context.Context) error                                      { return nil }

func (d *dropCounter) ExportEventDrop(_ context.Context, _ string, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drops[reason]++
	return nil
}

func (d *dropCounter) count(reason string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drops[reason]
}

type memoryEvents struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (m *memoryEvents) repo() *ports.MockEventRepository {
	return &ports.MockEventRepository{
		AppendFunc: func(_ context.Context, e *domain.Event) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.events = append(m.events, e)
			return nil
		},
	}
}

func (m *memoryEvents) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func outcome(experimentID string) *domain.Event {
	return &domain.Event{ExperimentID: experimentID, Type: domain.EventOutcome}
}

func TestRecorder_RecordAndFlush(t *testing.T) {
	store := &memoryEvents{}
	r := NewRecorder(store.repo(), Options{})
	defer r.Close(context.Background())

	for range 3 {
		r.Record(context.Background(), outcome("E1"))
	}
	require.NoError(t, r.Flush(context.Background()))

	require.Equal(t, 3, store.len())
	for _, e := range store.events {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.RecordedAt.IsZero())
	}
}

func TestRecorder_WriteFailuresAreSwallowed(t *testing.T) {
	drops := newDropCounter()
	repo := &ports.MockEventRepository{
		AppendFunc: func(context.Context, *domain.Event) error {
			return errors.New("disk full")
		},
	}
	r := NewRecorder(repo, Options{Metrics: drops})
	defer r.Close(context.Background())

	r.Record(context.Background(), outcome("E1"))
	r.Record(context.Background(), outcome("E1"))
	require.NoError(t, r.Flush(context.Background()))

	assert.Equal(t, 2, drops.count(DropWriteFailed))
}

func TestRecorder_OverflowDropsWithoutBlocking(t *testing.T) {
	drops := newDropCounter()
	started := make(chan struct{}, 1)
	gate := make(chan struct{})
	store := &memoryEvents{}
	inner := store.repo()
	repo := &ports.MockEventRepository{
		AppendFunc: func(ctx context.Context, e *domain.Event) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-gate
			return inner.Append(ctx, e)
		},
	}
	r := NewRecorder(repo, Options{BufferSize: 1, Metrics: drops})
	defer r.Close(context.Background())

	r.Record(context.Background(), outcome("E1"))
	<-started // worker is now stuck writing the first event

	begin := time.Now()
	for range 4 {
		r.Record(context.Background(), outcome("E1"))
	}
	assert.Less(t, time.Since(begin), time.Second, "Record must not block on a full buffer")
	assert.Equal(t, 3, drops.count(DropBufferFull))

	close(gate)
	require.NoError(t, r.Flush(context.Background()))
	assert.Equal(t, 2, store.len())
}

func TestRecorder_CloseDrainsAndRejectsLateEvents(t *testing.T) {
	drops := newDropCounter()
	store := &memoryEvents{}
	r := NewRecorder(store.repo(), Options{Metrics: drops})

	for range 10 {
		r.Record(context.Background(), outcome("E1"))
	}
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 10, store.len())

	r.Record(context.Background(), outcome("E1"))
	assert.Equal(t, 1, drops.count(DropClosed))
	assert.NoError(t, r.Flush(context.Background()))
	assert.NoError(t, r.Close(context.Background()), "close is idempotent")
}

func TestRecorder_FlushHonoursContext(t *testing.T) {
	gate := make(chan struct{})
	repo := &ports.MockEventRepository{
		AppendFunc: func(context.Context, *domain.Event) error {
			<-gate
			return nil
		},
	}
	r := NewRecorder(repo, Options{})
	defer func() {
		close(gate)
		r.Close(context.Background())
	}()

	r.Record(context.Background(), outcome("E1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Flush(ctx), context.DeadlineExceeded)
}

func TestRecorder_EraseFlushesFirst(t *testing.T) {
	store := &memoryEvents{}
	repo := store.repo()
	var pendingAtErase int
	repo.DeleteByUserFunc = func(_ context.Context, userID string) (int64, error) {
		pendingAtErase = store.len()
		return int64(store.len()), nil
	}
	r := NewRecorder(repo, Options{})
	defer r.Close(context.Background())

	user := "u1"
	for range 5 {
		r.Record(context.Background(), &domain.Event{ExperimentID: "E1", UserID: &user, Type: domain.EventOutcome})
	}

	n, err := r.Erase(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, 5, pendingAtErase)
}
