package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingExpirer struct {
	calls atomic.Int32
	err   error
}

func (e *countingExpirer) ExpireOverdueLicenses(context.Context) (int64, error) {
	e.calls.Add(1)
	return 1, e.err
}

func TestExpirySweeper_RunsUntilCancelled(t *testing.T) {
	expirer := &countingExpirer{}
	sweeper := NewExpirySweeper(expirer, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return expirer.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}

func TestExpirySweeper_KeepsGoingAfterErrors(t *testing.T) {
	expirer := &countingExpirer{err: errors.New("database is locked")}
	sweeper := NewExpirySweeper(expirer, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Run(ctx)

	assert.Eventually(t, func() bool { return expirer.calls.Load() >= 2 }, time.Second, time.Millisecond)
}

func TestExpirySweeper_DisabledWithoutInterval(t *testing.T) {
	expirer := &countingExpirer{}
	NewExpirySweeper(expirer, 0).Run(context.Background())
	assert.Zero(t, expirer.calls.Load())
}
