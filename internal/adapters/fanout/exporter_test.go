package fanout

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emiliopalmerini/abassign/internal/ports"
)

type recordingExporter struct {
	resolutions int
	outcomes    int
	drops       int
	closed      bool
	err         error
}

func (r *recordingExporter) ExportResolution(context.Context, *ports.ResolutionMetrics) error {
	r.resolutions++
	return r.err
}

func (r *recordingExporter) ExportOutcome(context.Context, *ports.OutcomeMetrics) error {
	r.outcomes++
	return r.err
}

func (r *recordingExporter) ExportEventDrop(context.Context, string, string) error {
	r.drops++
	return r.err
}

func (r *recordingExporter) Close(context.Context) error {
	r.closed = true
	return r.err
}

func TestExporter_ForwardsToAll(t *testing.T) {
	a, b := &recordingExporter{}, &recordingExporter{}
	f := New(a, b)
	ctx := context.Background()

	require.NoError(t, f.ExportResolution(ctx, &ports.ResolutionMetrics{}))
	require.NoError(t, f.ExportOutcome(ctx, &ports.OutcomeMetrics{}))
	require.NoError(t, f.ExportEventDrop(ctx, "outcome", "buffer_full"))
	require.NoError(t, f.Close(ctx))

	for _, r := range []*recordingExporter{a, b} {
		assert.Equal(t, 1, r.resolutions)
		assert.Equal(t, 1, r.outcomes)
		assert.Equal(t, 1, r.drops)
		assert.True(t, r.closed)
	}
}

func TestExporter_KeepsGoingAfterFailure(t *testing.T) {
	boom := errors.New("collector unreachable")
	failing, healthy := &recordingExporter{err: boom}, &recordingExporter{}
	f := New(failing, healthy)

	err := f.ExportResolution(context.Background(), &ports.ResolutionMetrics{})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, healthy.resolutions)
}

func TestExporter_Empty(t *testing.T) {
	assert.NoError(t, New().Close(context.Background()))
}
