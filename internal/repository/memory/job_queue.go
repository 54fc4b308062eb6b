package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/DRSN-tech/visual-search/internal/domain"
)

type delayedJob struct {
	job   domain.IndexJob
	dueAt time.Time
}

// JobQueue — очередь задач в памяти с тем же контрактом, что и очередь на Redis Streams.
type JobQueue struct {
	blockTimeout time.Duration
	now          func() time.Time

	mu       sync.Mutex
	seq      int
	ready    []domain.IndexJob
	inflight map[string]domain.IndexJob
	delayed  []delayedJob
	seen     map[string]time.Time // event_id -> момент истечения отметки, zero — без срока
	notify   chan struct{}
}

func NewJobQueue(blockTimeout time.Duration) *JobQueue {
	return &JobQueue{
		blockTimeout: blockTimeout,
		now:          time.Now,
		inflight:     make(map[string]domain.IndexJob),
		seen:         make(map[string]time.Time),
		notify:       make(chan struct{}, 1),
	}
}

func (q *JobQueue) Enqueue(_ context.Context, job *domain.IndexJob) error {
	q.mu.Lock()
	q.push(*job)
	q.mu.Unlock()

	q.signal()
	return nil
}

// EnqueueOnce ставит задачу, если eventID не встречался за ttl. ttl <= 0 — отметка без срока.
func (q *JobQueue) EnqueueOnce(_ context.Context, eventID string, ttl time.Duration, job *domain.IndexJob) (bool, error) {
	q.mu.Lock()
	now := q.now()
	if expires, ok := q.seen[eventID]; ok && (expires.IsZero() || now.Before(expires)) {
		q.mu.Unlock()
		return false, nil
	}

	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	q.seen[eventID] = expires
	q.push(*job)
	q.mu.Unlock()

	q.signal()
	return true, nil
}

// Claim выдаёт следующую готовую задачу или (nil, nil) по истечении blockTimeout.
func (q *JobQueue) Claim(ctx context.Context, _ string) (*domain.IndexJob, error) {
	deadline := time.NewTimer(q.blockTimeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		q.promoteDue()
		if len(q.ready) > 0 {
			job := q.ready[0]
			q.ready = q.ready[1:]
			q.inflight[job.Receipt] = job
			q.mu.Unlock()
			return &job, nil
		}
		wait := q.untilNextDue()
		q.mu.Unlock()

		var (
			due   <-chan time.Time
			timer *time.Timer
		)
		if wait > 0 {
			timer = time.NewTimer(wait)
			due = timer.C
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-q.notify:
		case <-due:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (q *JobQueue) Ack(_ context.Context, job *domain.IndexJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inflight, job.Receipt)
	return nil
}

// Retry возвращает задачу в очередь не раньше чем через delay.
func (q *JobQueue) Retry(_ context.Context, job *domain.IndexJob, delay time.Duration) error {
	q.mu.Lock()
	delete(q.inflight, job.Receipt)
	q.delayed = append(q.delayed, delayedJob{job: *job, dueAt: q.now().Add(delay)})
	q.mu.Unlock()

	q.signal()
	return nil
}

// Depth — задачи в ожидании, в обработке и отложенные.
func (q *JobQueue) Depth(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return int64(len(q.ready) + len(q.inflight) + len(q.delayed)), nil
}

func (q *JobQueue) push(job domain.IndexJob) {
	q.seq++
	job.Receipt = strconv.Itoa(q.seq)
	q.ready = append(q.ready, job)
}

func (q *JobQueue) promoteDue() {
	now := q.now()
	kept := q.delayed[:0]
	for _, d := range q.delayed {
		if !d.dueAt.After(now) {
			q.push(d.job)
			continue
		}
		kept = append(kept, d)
	}
	q.delayed = kept
}

func (q *JobQueue) untilNextDue() time.Duration {
	var next time.Duration
	now := q.now()
	for i, d := range q.delayed {
		wait := max(d.dueAt.Sub(now), time.Millisecond)
		if i == 0 || wait < next {
			next = wait
		}
	}
	return next
}

func (q *JobQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
