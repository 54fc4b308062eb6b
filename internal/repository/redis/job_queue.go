package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/internal/repository/redis/converter"
	"github.com/DRSN-tech/visual-search/pkg/clients"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/jimlawless/whereami"
	"github.com/redis/go-redis/v9"
)

const (
	jobField          = "job"
	dedupKeyPrefix    = "webhook:event:"
	promoteBatch      = 100
	defaultClaimBlock = time.Second
)

// promoteScript переносит созревшие отложенные задачи из ZSET в поток одним атомарным шагом,
// поэтому задачу не перенесут дважды и не потеряют между ZREM и XADD.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
	redis.call('XADD', KEYS[2], '*', 'job', member)
	redis.call('ZREM', KEYS[1], member)
end
return #due
`)

// enqueueOnceScript ставит задачу и отметку о событии одним шагом. XADD выполняется раньше SET,
// поэтому отметка без задачи не остаётся.
var enqueueOnceScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('XADD', KEYS[2], '*', 'job', ARGV[1])
if tonumber(ARGV[2]) > 0 then
	redis.call('SET', KEYS[1], '1', 'PX', ARGV[2])
else
	redis.call('SET', KEYS[1], '1')
end
return 1
`)

// JobQueue — очередь задач индексации на Redis Streams с группой потребителей.
// Отложенные повторы лежат в ZSET с временем готовности в score.
type JobQueue struct {
	client *clients.RedisClient
	cfg    *cfg.QueueCfg
	logger logger.Logger
	now    func() time.Time
}

func NewJobQueue(client *clients.RedisClient, cfg *cfg.QueueCfg, logger logger.Logger) *JobQueue {
	return &JobQueue{
		client: client,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// EnsureGroup создаёт поток и группу потребителей, если их ещё нет.
func (q *JobQueue) EnsureGroup(ctx context.Context) error {
	err := q.client.Client.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	return nil
}

func (q *JobQueue) Enqueue(ctx context.Context, job *domain.IndexJob) error {
	data, err := marshalJob(job)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	err = q.client.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]any{jobField: data},
	}).Err()
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), e.Mark(e.ErrTransient, err))
	}

	return nil
}

// EnqueueOnce ставит задачу, если eventID не встречался за ttl. false — событие уже принималось.
func (q *JobQueue) EnqueueOnce(ctx context.Context, eventID string, ttl time.Duration, job *domain.IndexJob) (bool, error) {
	data, err := marshalJob(job)
	if err != nil {
		return false, e.Wrap(whereami.WhereAmI(), err)
	}

	added, err := enqueueOnceScript.Run(ctx, q.client.Client,
		[]string{dedupKeyPrefix + eventID, q.cfg.Stream}, data, ttl.Milliseconds()).Int()
	if err != nil {
		return false, e.Wrap(whereami.WhereAmI(), e.Mark(e.ErrTransient, err))
	}

	return added == 1, nil
}

// Claim сначала переносит созревшие повторы, затем возвращает в поток задачи, зависшие у упавших
// воркеров дольше ClaimIdle, и только потом читает сообщения.
func (q *JobQueue) Claim(ctx context.Context, consumer string) (*domain.IndexJob, error) {
	if err := q.promoteDue(ctx); err != nil {
		q.logger.Warnf("%v", e.Wrap(whereami.WhereAmI(), err))
	}

	if q.cfg.ClaimIdle > 0 {
		if err := q.requeueStale(ctx, consumer); err != nil {
			q.logger.Warnf("%v", e.Wrap(whereami.WhereAmI(), err))
		}
	}

	block := q.cfg.BlockTimeout
	if block <= 0 {
		block = defaultClaimBlock
	}

	streams, err := q.client.Client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: consumer,
		Streams:  []string{q.cfg.Stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, e.Wrap(whereami.WhereAmI(), e.Mark(e.ErrTransient, err))
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	return q.decode(ctx, streams[0].Messages[0]), nil
}

// Ack удаляет обработанную задачу из потока.
func (q *JobQueue) Ack(ctx context.Context, job *domain.IndexJob) error {
	_, err := q.client.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, q.cfg.Stream, q.cfg.Group, job.Receipt)
		pipe.XDel(ctx, q.cfg.Stream, job.Receipt)
		return nil
	})
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), e.Mark(e.ErrTransient, err))
	}
	return nil
}

// Retry откладывает задачу на delay и подтверждает текущее сообщение в одной транзакции.
func (q *JobQueue) Retry(ctx context.Context, job *domain.IndexJob, delay time.Duration) error {
	data, err := marshalJob(job)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	_, err = q.client.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, q.cfg.DelayedKey, redis.Z{
			Score:  float64(q.now().Add(delay).UnixMilli()),
			Member: data,
		})
		pipe.XAck(ctx, q.cfg.Stream, q.cfg.Group, job.Receipt)
		pipe.XDel(ctx, q.cfg.Stream, job.Receipt)
		return nil
	})
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), e.Mark(e.ErrTransient, err))
	}
	return nil
}

// Depth — сообщения в потоке (новые и в обработке) плюс отложенные повторы.
func (q *JobQueue) Depth(ctx context.Context) (int64, error) {
	var (
		streamLen  *redis.IntCmd
		delayedLen *redis.IntCmd
	)

	_, err := q.client.Client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		streamLen = pipe.XLen(ctx, q.cfg.Stream)
		delayedLen = pipe.ZCard(ctx, q.cfg.DelayedKey)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, e.Wrap(whereami.WhereAmI(), err)
	}

	return streamLen.Val() + delayedLen.Val(), nil
}

func (q *JobQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)

	moved, err := promoteScript.Run(ctx, q.client.Client,
		[]string{q.cfg.DelayedKey, q.cfg.Stream}, now, promoteBatch).Int()
	if err != nil {
		return fmt.Errorf("failed to promote delayed jobs: %w", err)
	}
	if moved > 0 {
		q.logger.Debugf("promoted %d delayed jobs", moved)
	}
	return nil
}

// requeueStale забирает сообщение, зависшее у упавшего воркера, и ставит его заново с увеличенным
// Attempt. Счётчик хранится в самом сообщении, поэтому задача, которая раз за разом роняет воркер,
// исчерпывает MaxAttempts.
func (q *JobQueue) requeueStale(ctx context.Context, consumer string) error {
	msgs, _, err := q.client.Client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		MinIdle:  q.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    1,
		Consumer: consumer,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to claim stale jobs: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	stale := msgs[0]
	job := q.decode(ctx, stale)
	if job == nil {
		return nil
	}
	job.Attempt++

	data, err := marshalJob(job)
	if err != nil {
		return err
	}

	_, err = q.client.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: q.cfg.Stream,
			Values: map[string]any{jobField: data},
		})
		pipe.XAck(ctx, q.cfg.Stream, q.cfg.Group, stale.ID)
		pipe.XDel(ctx, q.cfg.Stream, stale.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to requeue stale message %s: %w", stale.ID, err)
	}

	q.logger.Warnf("job %s for product %s reclaimed from a stalled worker, attempt %d", job.ID, job.ExternalID, job.Attempt+1)
	return nil
}

// decode разбирает сообщение. Нечитаемое сообщение удаляется из потока, иначе оно
// возвращалось бы воркерам бесконечно.
func (q *JobQueue) decode(ctx context.Context, msg redis.XMessage) *domain.IndexJob {
	job, err := unmarshalJob(msg.Values[jobField])
	if err != nil {
		q.logger.Errorf(e.Wrap(whereami.WhereAmI(), err), "dropping malformed message %s", msg.ID)
		if ackErr := q.Ack(ctx, &domain.IndexJob{Receipt: msg.ID}); ackErr != nil {
			q.logger.Warnf("%v", ackErr)
		}
		return nil
	}

	job.Receipt = msg.ID
	return job
}

func marshalJob(job *domain.IndexJob) (string, error) {
	data, err := json.Marshal(converter.ToIndexJobRedisModel(job))
	if err != nil {
		return "", fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	return string(data), nil
}

func unmarshalJob(val any) (*domain.IndexJob, error) {
	raw, ok := val.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected job field type %T", val)
	}

	var model converter.IndexJobRedisModel
	if err := json.Unmarshal([]byte(raw), &model); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return converter.ToIndexJob(&model), nil
}
