package leader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLock()
	l.now = func() time.Time { return now }

	ok, err := l.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = l.Acquire(ctx, "sweep", time.Minute)
	assert.False(t, ok, "held lease")

	ok, _ = l.Acquire(ctx, "verify", time.Minute)
	assert.True(t, ok, "leases are per name")

	now = now.Add(time.Minute)
	ok, _ = l.Acquire(ctx, "sweep", time.Minute)
	assert.True(t, ok, "expired lease is taken over")

	require.NoError(t, l.Release(ctx, "sweep"))
	ok, _ = l.Acquire(ctx, "sweep", time.Minute)
	assert.True(t, ok)
}

func TestMemoryLockExtend(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLock()
	l.now = func() time.Time { return now }

	ok, err := l.Extend(ctx, "verify", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "nothing to extend")

	ok, _ = l.Acquire(ctx, "verify", time.Minute)
	require.True(t, ok)

	now = now.Add(50 * time.Second)
	ok, err = l.Extend(ctx, "verify", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(50 * time.Second)
	ok, _ = l.Acquire(ctx, "verify", time.Minute)
	assert.False(t, ok, "extended lease is still held")

	now = now.Add(time.Minute)
	ok, _ = l.Extend(ctx, "verify", time.Minute)
	assert.False(t, ok, "expired lease cannot be revived")
}
