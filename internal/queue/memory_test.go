package queue

import (
	"context"
	"testing"
	"time"
)

func TestMemoryQueueSendReceiveDelete(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	msg := Message{SubmissionID: "submission-1", RequestID: "req-1", Version: MessageVersion}

	if err := q.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deliveries, err := q.Receive(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(deliveries))
	}
	if deliveries[0].ReceiveCount != 1 {
		t.Fatalf("expected receive count 1, got %d", deliveries[0].ReceiveCount)
	}

	decoded, err := DecodeMessage([]byte(deliveries[0].Body))
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.SubmissionID != "submission-1" {
		t.Fatalf("unexpected submission id %q", decoded.SubmissionID)
	}

	if err := q.Delete(context.Background(), deliveries[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if q.Pending() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Pending())
	}
}

func TestMemoryQueueLeaseHidesInFlightDeliveries(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	if err := q.Send(context.Background(), Message{SubmissionID: "submission-1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	first, err := q.Receive(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("first Receive: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(first))
	}

	second, err := q.Receive(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("second Receive: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected leased delivery to be hidden, got %d", len(second))
	}
}

func TestMemoryQueueReleaseWithDelayDefersRedelivery(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	if err := q.Send(context.Background(), Message{SubmissionID: "submission-1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deliveries, err := q.Receive(context.Background(), 10, 0)
	if err != nil || len(deliveries) != 1 {
		t.Fatalf("Receive: %v (%d deliveries)", err, len(deliveries))
	}

	if err := q.Release(context.Background(), deliveries[0], time.Hour); err != nil {
		t.Fatalf("Release: %v", err)
	}

	hidden, err := q.Receive(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("Receive after release: %v", err)
	}
	if len(hidden) != 0 {
		t.Fatalf("expected delayed job hidden, got %d", len(hidden))
	}

	// Rewind the run time instead of sleeping out the delay.
	q.mu.Lock()
	for _, job := range q.jobs {
		job.runAt = q.now()
	}
	q.mu.Unlock()

	visible, err := q.Receive(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("Receive after delay elapsed: %v", err)
	}
	if len(visible) != 1 {
		t.Fatalf("expected redelivery, got %d", len(visible))
	}
	if visible[0].ReceiveCount != 2 {
		t.Fatalf("expected receive count 2, got %d", visible[0].ReceiveCount)
	}
}
