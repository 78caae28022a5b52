package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/sysrepod/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultipleReadersConcurrent(t *testing.T) {
	l := New()
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, Read))
	require.NoError(t, l.Acquire(ctx, Read))

	readers, upgradeable, writer := l.Stats()
	assert.Equal(t, 2, readers)
	assert.False(t, upgradeable)
	assert.False(t, writer)

	l.Release(Read)
	l.Release(Read)
}

func TestWriteExcludesReaders(t *testing.T) {
	l := New()
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, Write))

	deadlineCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := l.Acquire(deadlineCtx, Read)
	require.Error(t, err)
	assert.Equal(t, errs.Timeout, errs.KindOf(err))

	l.Release(Write)
	require.NoError(t, l.Acquire(ctx, Read))
	l.Release(Read)
}

func TestOnlyOneUpgradeableAtATime(t *testing.T) {
	l := New()
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, ReadUpgradeable))

	deadlineCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := l.Acquire(deadlineCtx, ReadUpgradeable)
	require.Error(t, err)

	l.Release(ReadUpgradeable)
}

func TestUpgradeWaitsForOtherReadersToDrain(t *testing.T) {
	l := New()
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, ReadUpgradeable))
	require.NoError(t, l.Acquire(ctx, Read))

	var wg sync.WaitGroup
	wg.Add(1)
	upgraded := make(chan error, 1)
	go func() {
		defer wg.Done()
		upgraded <- l.Upgrade(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	l.Release(Read)
	wg.Wait()

	require.NoError(t, <-upgraded)
	_, _, writer := l.Stats()
	assert.True(t, writer)
	l.Release(Write)
}

func TestAcquireDeadlineExceededReturnsTimeoutKind(t *testing.T) {
	l := New()
	require.NoError(t, l.Acquire(context.Background(), Write))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, Write)
	require.Error(t, err)
	assert.Equal(t, errs.Timeout, errs.KindOf(err))

	l.Release(Write)
}

func TestReleaseWakesWaiters(t *testing.T) {
	l := New()
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, Write))

	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(ctx, Write)
	}()

	time.Sleep(10 * time.Millisecond)
	l.Release(Write)

	select {
	case err := <-done:
		require.NoError(t, err)
		l.Release(Write)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken after release")
	}
}
