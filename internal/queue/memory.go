package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryJob struct {
	id           int64
	body         string
	runAt        time.Time
	leaseExpires time.Time
	receiveCount int
}

// MemoryQueue is an in-process Client+Source pair for dev mode and tests.
type MemoryQueue struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*memoryJob
	lease  time.Duration
	now    func() time.Time
}

func NewMemoryQueue(lease time.Duration) *MemoryQueue {
	if lease <= 0 {
		lease = 20 * time.Minute
	}
	return &MemoryQueue{
		jobs:  make(map[int64]*memoryJob),
		lease: lease,
		now:   time.Now,
	}
}

func (m *MemoryQueue) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.jobs[m.nextID] = &memoryJob{
		id:    m.nextID,
		body:  string(payload),
		runAt: m.now(),
	}
	return nil
}

func (m *MemoryQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	deadline := m.now().Add(wait)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		deliveries := m.receiveOnce(max)
		if len(deliveries) > 0 || wait <= 0 || m.now().After(deadline) {
			return deliveries, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (m *MemoryQueue) receiveOnce(max int) []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	deliveries := []Delivery{}
	for id := int64(1); id <= m.nextID && len(deliveries) < max; id++ {
		job, ok := m.jobs[id]
		if !ok {
			continue
		}
		if job.runAt.After(now) {
			continue
		}
		if !job.leaseExpires.IsZero() && job.leaseExpires.After(now) {
			continue
		}
		job.leaseExpires = now.Add(m.lease)
		job.receiveCount++
		deliveries = append(deliveries, Delivery{
			Receipt:      strconv.FormatInt(job.id, 10),
			Body:         job.body,
			ReceiveCount: job.receiveCount,
		})
	}
	return deliveries
}

func (m *MemoryQueue) Delete(ctx context.Context, d Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := strconv.ParseInt(d.Receipt, 10, 64)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *MemoryQueue) Release(ctx context.Context, d Delivery, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := strconv.ParseInt(d.Receipt, 10, 64)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil
	}
	job.runAt = m.now().Add(delay)
	job.leaseExpires = time.Time{}
	return nil
}

// Pending reports how many jobs remain, for tests.
func (m *MemoryQueue) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

var (
	_ Client = (*MemoryQueue)(nil)
	_ Source = (*MemoryQueue)(nil)
)
