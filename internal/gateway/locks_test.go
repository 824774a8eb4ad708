package gateway

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocksRejectMode(t *testing.T) {
	locks := newConversationLocks("reject")

	release, err := locks.acquire(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := locks.acquire(context.Background(), "conv-1"); !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("second acquire err = %v, want ErrTurnInFlight", err)
	}

	// A different conversation is unaffected.
	otherRelease, err := locks.acquire(context.Background(), "conv-2")
	if err != nil {
		t.Fatalf("other conversation: %v", err)
	}
	otherRelease()

	release()
	release2, err := locks.acquire(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release2()
}

func TestLocksQueueMode(t *testing.T) {
	locks := newConversationLocks("queue")

	release, err := locks.acquire(context.Background(), "conv-1")
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan struct{})
	go func() {
		r, err := locks.acquire(context.Background(), "conv-1")
		if err != nil {
			t.Error(err)
			return
		}
		r()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("queued acquire completed while the lock was held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("queued acquire never completed after release")
	}
}

func TestLocksQueueModeCancellation(t *testing.T) {
	locks := newConversationLocks("queue")

	release, err := locks.acquire(context.Background(), "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := locks.acquire(ctx, "conv-1")
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter never returned")
	}
}
