package async

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	pool, err := NewPool(2, 4)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	var ran atomic.Int32
	for i := 0; i < 4; i++ {
		err := pool.Submit(context.Background(), func(context.Context) error {
			ran.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if ran.Load() != 4 {
		t.Fatalf("expected 4 tasks run, got %d", ran.Load())
	}
}

func TestPoolRejectsInvalidConfig(t *testing.T) {
	if _, err := NewPool(0, 1); err == nil {
		t.Fatalf("expected error for zero workers")
	}
}

func TestPoolRejectsNilTask(t *testing.T) {
	pool, err := NewPool(1, 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()
	if err := pool.Submit(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil task")
	}
}

func TestPoolRejectsAfterClose(t *testing.T) {
	pool, err := NewPool(1, 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	pool.Close()
	err = pool.Submit(context.Background(), func(context.Context) error { return nil })
	if err == nil {
		t.Fatalf("expected error after close")
	}
}

func TestPoolBackpressure(t *testing.T) {
	pool, err := NewPool(1, 0)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	_ = pool.Submit(context.Background(), func(context.Context) error {
		close(started)
		<-block
		return nil
	})
	<-started

	err = pool.Submit(context.Background(), func(context.Context) error { return nil })
	if err == nil {
		t.Fatalf("expected capacity error on saturated queue")
	}
	close(block)
}

func TestPoolSurvivesPanic(t *testing.T) {
	pool, err := NewPool(1, 2)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	_ = pool.Submit(context.Background(), func(context.Context) error {
		panic("boom")
	})
	var ran atomic.Int32
	if err := pool.Submit(context.Background(), func(context.Context) error {
		ran.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("submit after panic: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if ran.Load() != 1 {
		t.Fatalf("worker must survive a panicking task")
	}
}
