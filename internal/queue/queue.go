// Package queue is a Redis-backed reliable task queue with delayed
// redelivery and a dead-letter list.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const promoteBatch = 100

// moves due members of the delayed set onto the primary queue
var promoteScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(items) do
  redis.call('ZREM', KEYS[1], member)
  redis.call('LPUSH', KEYS[2], member)
end
return #items
`)

// refreshes the heartbeat only while this instance still owns it
var heartbeatScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// drops the heartbeat; the name stays registered while deliveries remain
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1])
if redis.call('LLEN', KEYS[2]) == 0 then
  redis.call('SREM', KEYS[3], ARGV[2])
end
return 1
`)

// returns a dead consumer's processing list to the queue; -1 while it is alive
var reapScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return -1
end
local n = 0
while redis.call('LMOVE', KEYS[2], KEYS[3], 'RIGHT', 'RIGHT') do
  n = n + 1
end
redis.call('SREM', KEYS[4], ARGV[1])
return n
`)

var (
	// ErrConsumerBusy means a live worker already holds the consumer name.
	ErrConsumerBusy = errors.New("queue: consumer name held by a live worker")
	// ErrConsumerLost means the heartbeat expired or another instance took the name.
	ErrConsumerLost = errors.New("queue: consumer heartbeat lost")
)

// Delivery is a task body held in the consumer's processing list until it is
// acknowledged or dead-lettered.
type Delivery struct {
	Body []byte
}

// Stats reports list and set sizes.
type Stats struct {
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Delayed    int64 `json:"delayed"`
	DeadLetter int64 `json:"dead_letter"`
}

// Keys names the Redis keys under a prefix.
type Keys struct {
	Queue      string
	Processing string
	Delayed    string
	DeadLetter string
	Heartbeat  string
	Consumers  string
	Requeue    string
}

func KeysFor(prefix, consumer string) Keys {
	return Keys{
		Queue:      prefix + ":queue",
		Processing: prefix + ":processing:" + consumer,
		Delayed:    prefix + ":delayed",
		DeadLetter: prefix + ":deadletter",
		Heartbeat:  prefix + ":heartbeat:" + consumer,
		Consumers:  prefix + ":consumers",
		Requeue:    prefix + ":requeue:" + consumer,
	}
}

// Queue is safe for concurrent use; each consumer owns one processing list.
// A worker holds its consumer name through a heartbeat key with a TTL, and
// processing lists of names whose heartbeat expired are reaped by any worker.
type Queue struct {
	client   *redis.Client
	prefix   string
	consumer string
	instance string
	keys     Keys
	now      func() time.Time
}

func New(client *redis.Client, prefix, consumer string) *Queue {
	return &Queue{
		client:   client,
		prefix:   prefix,
		consumer: consumer,
		instance: uuid.NewString(),
		keys:     KeysFor(prefix, consumer),
		now:      time.Now,
	}
}

func (q *Queue) Consumer() string {
	return q.consumer
}

func (q *Queue) Keys() Keys {
	return q.keys
}

// Publish appends body to the primary queue.
func (q *Queue) Publish(ctx context.Context, body []byte) error {
	if err := q.client.LPush(ctx, q.keys.Queue, body).Err(); err != nil {
		return fmt.Errorf("queue: publish: %w", err)
	}
	return nil
}

// Dequeue moves the oldest task into the processing list, waiting up to
// timeout. The flag is false when nothing arrived in time.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Delivery, bool, error) {
	body, err := q.client.BLMove(ctx, q.keys.Queue, q.keys.Processing, "RIGHT", "LEFT", timeout).Bytes()
	if errors.Is(err, redis.Nil) {
		return Delivery{}, false, nil
	}
	if err != nil {
		return Delivery{}, false, fmt.Errorf("queue: dequeue: %w", err)
	}
	return Delivery{Body: body}, true, nil
}

// Ack drops a delivery from the processing list.
func (q *Queue) Ack(ctx context.Context, d Delivery) error {
	if err := q.client.LRem(ctx, q.keys.Processing, 1, d.Body).Err(); err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	return nil
}

// DeadLetter atomically drops d from the processing list and stores body in
// the dead-letter list. body may differ from d.Body to carry the final error.
func (q *Queue) DeadLetter(ctx context.Context, d Delivery, body []byte) error {
	if body == nil {
		body = d.Body
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.keys.Processing, 1, d.Body)
		pipe.LPush(ctx, q.keys.DeadLetter, body)
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: dead-letter: %w", err)
	}
	return nil
}

// ScheduleRedelivery parks body until delay has passed.
func (q *Queue) ScheduleRedelivery(ctx context.Context, body []byte, delay time.Duration) error {
	due := q.now().Add(delay).UnixMilli()
	if err := q.client.ZAdd(ctx, q.keys.Delayed, redis.Z{Score: float64(due), Member: body}).Err(); err != nil {
		return fmt.Errorf("queue: schedule redelivery: %w", err)
	}
	return nil
}

// PromoteDue moves every parked task due at now onto the primary queue and
// returns how many were moved.
func (q *Queue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for {
		n, err := promoteScript.Run(ctx, q.client,
			[]string{q.keys.Delayed, q.keys.Queue},
			strconv.FormatInt(now.UnixMilli(), 10), promoteBatch,
		).Int()
		if err != nil {
			return total, fmt.Errorf("queue: promote: %w", err)
		}
		total += n
		if n < promoteBatch {
			return total, nil
		}
	}
}

// Claim takes the consumer name for ttl. It fails with ErrConsumerBusy while
// another instance's heartbeat for the name is alive.
func (q *Queue) Claim(ctx context.Context, ttl time.Duration) error {
	ok, err := q.client.SetNX(ctx, q.keys.Heartbeat, q.instance, ttl).Result()
	if err != nil {
		return fmt.Errorf("queue: claim: %w", err)
	}
	if !ok {
		return ErrConsumerBusy
	}
	if err := q.client.SAdd(ctx, q.keys.Consumers, q.consumer).Err(); err != nil {
		return fmt.Errorf("queue: claim: %w", err)
	}
	return nil
}

// Heartbeat extends the claim by ttl. ErrConsumerLost means the claim is gone.
func (q *Queue) Heartbeat(ctx context.Context, ttl time.Duration) error {
	n, err := heartbeatScript.Run(ctx, q.client, []string{q.keys.Heartbeat}, q.instance, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("queue: heartbeat: %w", err)
	}
	if n == 0 {
		return ErrConsumerLost
	}
	return nil
}

// Release gives the consumer name up. A non-empty processing list stays
// registered so a reaper can return it.
func (q *Queue) Release(ctx context.Context) error {
	err := releaseScript.Run(ctx, q.client,
		[]string{q.keys.Heartbeat, q.keys.Processing, q.keys.Consumers},
		q.instance, q.consumer,
	).Err()
	if err != nil {
		return fmt.Errorf("queue: release: %w", err)
	}
	return nil
}

// ReapOrphans returns the processing lists of registered consumers whose
// heartbeat expired to the primary queue, and reports how many deliveries
// were moved.
func (q *Queue) ReapOrphans(ctx context.Context) (int, error) {
	names, err := q.client.SMembers(ctx, q.keys.Consumers).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: reap: %w", err)
	}

	total := 0
	for _, name := range names {
		if name == q.consumer {
			continue
		}
		k := KeysFor(q.prefix, name)
		n, err := reapScript.Run(ctx, q.client,
			[]string{k.Heartbeat, k.Processing, q.keys.Queue, q.keys.Consumers}, name,
		).Int()
		if err != nil {
			return total, fmt.Errorf("queue: reap %s: %w", name, err)
		}
		if n > 0 {
			total += n
		}
	}
	return total, nil
}

// Recover returns deliveries left in this consumer's processing list by a
// previous run to the front of the primary queue. Call it only after Claim.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, q.keys.Processing, q.keys.Queue, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("queue: recover: %w", err)
		}
		n++
	}
}

// DeadLetters returns up to limit dead-lettered bodies, newest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	items, err := q.client.LRange(ctx, q.keys.DeadLetter, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: list dead letters: %w", err)
	}
	return items, nil
}

// RequeueDeadLetters moves up to limit dead-lettered bodies, oldest first,
// back to the primary queue after passing each through mutate. A body mutate
// rejects goes back to the dead-letter list and is not counted. Each body sits
// in a per-consumer staging list while mutate runs, so an interrupted run
// leaves it there to be restored by the next one.
func (q *Queue) RequeueDeadLetters(ctx context.Context, limit int, mutate func([]byte) ([]byte, error)) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	if err := q.restoreStaged(ctx); err != nil {
		return 0, err
	}
	pending, err := q.client.LLen(ctx, q.keys.DeadLetter).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: requeue: %w", err)
	}
	if int64(limit) > pending {
		limit = int(pending)
	}

	moved := 0
	for i := 0; i < limit; i++ {
		body, err := q.client.LMove(ctx, q.keys.DeadLetter, q.keys.Requeue, "RIGHT", "LEFT").Bytes()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, fmt.Errorf("queue: requeue: %w", err)
		}

		out, target := body, q.keys.Queue
		if mutate != nil {
			if out, err = mutate(body); err != nil {
				out, target = body, q.keys.DeadLetter
			}
		}
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.keys.Requeue, 1, body)
			pipe.LPush(ctx, target, out)
			return nil
		})
		if err != nil {
			return moved, fmt.Errorf("queue: requeue: %w", err)
		}
		if target == q.keys.Queue {
			moved++
		}
	}
	return moved, nil
}

// restoreStaged puts bodies stranded in the staging list back at the old end
// of the dead-letter list.
func (q *Queue) restoreStaged(ctx context.Context) error {
	for {
		err := q.client.LMove(ctx, q.keys.Requeue, q.keys.DeadLetter, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("queue: restore staged dead letters: %w", err)
		}
	}
}

// Stats reports the queue sizes for this consumer.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	queued := pipe.LLen(ctx, q.keys.Queue)
	processing := pipe.LLen(ctx, q.keys.Processing)
	delayed := pipe.ZCard(ctx, q.keys.Delayed)
	dead := pipe.LLen(ctx, q.keys.DeadLetter)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue: stats: %w", err)
	}
	return Stats{
		Queued:     queued.Val(),
		Processing: processing.Val(),
		Delayed:    delayed.Val(),
		DeadLetter: dead.Val(),
	}, nil
}
