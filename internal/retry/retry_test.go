package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emiliopalmerini/abassign/internal/domain"
)

var fast = Policy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestDo_RetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("read: %w", domain.ErrTransient)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	boom := errors.New("syntax error")
	calls := 0
	err := Do(context.Background(), fast, func() error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, func() error {
		calls++
		return domain.ErrTransient
	})

	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, 4, calls)
}

func TestDo_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, Policy{MaxRetries: 100, InitialInterval: time.Second}, func() error {
		calls++
		return domain.ErrTransient
	})

	assert.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}

func TestGet_ReturnsValue(t *testing.T) {
	calls := 0
	v, err := Get(context.Background(), fast, func() (string, error) {
		calls++
		if calls == 1 {
			return "", domain.ErrTransient
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
