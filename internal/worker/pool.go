// Package worker выполняет задачи индексации из очереди.
package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/internal/usecase"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/jitter"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// пауза после ошибки очереди, чтобы не крутить цикл при недоступном Redis
const claimErrorPause = time.Second

// Pool — набор независимых воркеров над общей очередью задач.
type Pool struct {
	queue    usecase.JobQueue
	indexing usecase.IndexingUC
	cfg      *cfg.QueueCfg
	backoff  *jitter.Backoff
	logger   logger.Logger
	name     string
}

func NewPool(queue usecase.JobQueue, indexing usecase.IndexingUC, cfg *cfg.QueueCfg, logger logger.Logger) *Pool {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "indexer"
	}

	return &Pool{
		queue:    queue,
		indexing: indexing,
		cfg:      cfg,
		backoff:  jitter.NewBackoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay),
		logger:   logger,
		name:     fmt.Sprintf("%s-%d", name, os.Getpid()),
	}
}

// Run запускает WorkerCount воркеров и блокируется до отмены ctx.
// Начатые задачи доводятся до конца в пределах JobTimeout.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := range p.cfg.WorkerCount {
		consumer := fmt.Sprintf("%s-%d", p.name, i)
		log := p.logger.With("worker", consumer)

		g.Go(func() error {
			p.loop(ctx, consumer, log)
			return nil
		})
	}

	p.logger.Infof("worker pool started: %d workers", p.cfg.WorkerCount)
	err := g.Wait()
	p.logger.Infof("worker pool stopped")
	return err
}

func (p *Pool) loop(ctx context.Context, consumer string, log logger.Logger) {
	for ctx.Err() == nil {
		job, err := p.queue.Claim(ctx, consumer)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warnf("claim failed: %v", err)
			sleep(ctx, claimErrorPause)
			continue
		}
		if job == nil {
			continue
		}

		p.handle(context.WithoutCancel(ctx), job, log.With("job_id", job.ID))
	}
}

// handle обрабатывает одну задачу и решает её судьбу: ack, повтор или отказ.
func (p *Pool) handle(ctx context.Context, job *domain.IndexJob, log logger.Logger) {
	// Attempt растёт и при повторной выдаче задачи упавшего воркера
	if job.Attempt >= p.cfg.MaxAttempts {
		p.fail(ctx, job, fmt.Errorf("%w: %d attempts used, last one did not finish", e.ErrPermanentJob, job.Attempt), log)
		return
	}

	p.indexing.MarkProcessing(ctx, job)

	started := time.Now()
	err := p.process(ctx, job)
	if err == nil {
		if err := p.queue.Ack(ctx, job); err != nil {
			log.Warnf("ack failed: %v", err)
		}
		p.indexing.MarkSucceeded(ctx, job)
		log.Infof("%s %s for product %s done in %s", job.EventType.WireName(), job.Operation, job.ExternalID, time.Since(started))
		return
	}

	if p.shouldRetry(job, err, log) {
		p.retry(ctx, job, err, log)
		return
	}

	p.fail(ctx, job, err, log)
}

// shouldRetry решает, повторять ли задачу. Неклассифицированная ошибка повторяется как временная.
func (p *Pool) shouldRetry(job *domain.IndexJob, err error, log logger.Logger) bool {
	if job.Attempt+1 >= p.cfg.MaxAttempts {
		return false
	}

	switch {
	case e.IsPermanent(err):
		return false
	case e.IsRetryable(err):
		return true
	default:
		log.Warnf("unclassified error for product %s, retrying as transient: %v", job.ExternalID, err)
		return true
	}
}

// process выполняет задачу с таймаутом. Паника считается временной ошибкой.
func (p *Pool) process(ctx context.Context, job *domain.IndexJob) (err error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = e.Mark(e.ErrTransient, fmt.Errorf("panic while processing job %s: %v", job.ID, r))
		}
	}()

	return p.indexing.Process(ctx, job)
}

func (p *Pool) retry(ctx context.Context, job *domain.IndexJob, cause error, log logger.Logger) {
	p.indexing.MarkRetry(ctx, job, cause)

	delay := p.backoff.Next(job.Attempt)
	next := *job
	next.Attempt++

	if err := p.queue.Retry(ctx, &next, delay); err != nil {
		// задача останется в обработке и будет подобрана после QUEUE_CLAIM_IDLE
		log.Errorf(err, "failed to schedule retry for product %s", job.ExternalID)
		return
	}

	log.Warnf("attempt %d/%d for product %s failed, retry in %s: %v",
		job.Attempt+1, p.cfg.MaxAttempts, job.ExternalID, delay, cause)
}

// fail переводит задачу в failed_permanent. Если отказ не удалось записать,
// задача возвращается в очередь и не теряется.
func (p *Pool) fail(ctx context.Context, job *domain.IndexJob, cause error, log logger.Logger) {
	log.Errorf(cause, "job failed permanently after %d attempts: event %s (%s), product %s, operation %s, image %s",
		job.Attempt+1, job.EventID, job.EventType.WireName(), job.ExternalID, job.Operation, job.Image.String())

	if err := p.indexing.FailPermanently(ctx, job, cause); err != nil {
		log.Errorf(err, "failed to record permanent failure of product %s", job.ExternalID)
		if err := p.queue.Retry(ctx, job, p.backoff.Next(job.Attempt)); err != nil {
			log.Errorf(err, "failed to requeue job for product %s", job.ExternalID)
		}
		return
	}

	if err := p.queue.Ack(ctx, job); err != nil {
		log.Warnf("ack failed: %v", err)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
