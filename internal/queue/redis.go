package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"imageforge/internal/domain"
)

// maxBatch is the largest sub-batch SendBatch pipelines in one round trip.
const maxBatch = 100

// reclaimScan bounds how many scheduled/expired entries a single Receive call
// promotes before blocking.
const reclaimScan = 100

// RedisGateway implements Gateway on a Redis broker. Layout per queue name q:
//
//	q:ready      list of message IDs awaiting delivery
//	q:leased     list of message IDs currently owned by a worker
//	q:scheduled  sorted set of message IDs, scored by earliest delivery time
//	q:dead       list of dead-lettered message IDs
//	q:msg:<id>   hash holding the body plus filterable attributes
//	q:lease:<id> lease token, expiring with the lease duration
type RedisGateway struct {
	rdb    *redis.Client
	name   string
	logger zerolog.Logger
}

// NewRedisGateway creates a gateway over the named queue.
func NewRedisGateway(rdb *redis.Client, name string, logger zerolog.Logger) *RedisGateway {
	return &RedisGateway{rdb: rdb, name: name, logger: logger}
}

func (g *RedisGateway) readyKey() string     { return g.name + ":ready" }
func (g *RedisGateway) leasedKey() string    { return g.name + ":leased" }
func (g *RedisGateway) scheduledKey() string { return g.name + ":scheduled" }
func (g *RedisGateway) deadKey() string      { return g.name + ":dead" }
func (g *RedisGateway) msgKey(id string) string   { return g.name + ":msg:" + id }
func (g *RedisGateway) leaseKey(id string) string { return g.name + ":lease:" + id }

// storeMessage writes the message hash. The broker-level identifier is the
// message ID itself; re-sending the same MessageID is a no-op, which gives
// senders dedup assistance across retried sends.
func (g *RedisGateway) storeMessage(ctx context.Context, msg *JobMessage) (bool, error) {
	body, err := msg.Encode()
	if err != nil {
		return false, err
	}
	fresh, err := g.rdb.HSetNX(ctx, g.msgKey(msg.MessageID), "body", body).Result()
	if err != nil {
		return false, fmt.Errorf("%w: store message: %v", domain.ErrTransport, err)
	}
	if !fresh {
		return false, nil
	}
	err = g.rdb.HSet(ctx, g.msgKey(msg.MessageID), map[string]any{
		"generation_id": msg.GenerationID,
		"user_id":       msg.UserID,
		"priority":      string(msg.Priority),
		"job_type":      string(msg.JobType),
		"enqueued_at":   time.Now().UTC().Format(time.RFC3339),
	}).Err()
	if err != nil {
		return false, fmt.Errorf("%w: store attributes: %v", domain.ErrTransport, err)
	}
	return true, nil
}

// Send serializes and enqueues one message.
func (g *RedisGateway) Send(ctx context.Context, msg *JobMessage) error {
	fresh, err := g.storeMessage(ctx, msg)
	if err != nil {
		return err
	}
	if !fresh {
		g.logger.Warn().Str("message_id", msg.MessageID).Msg("queue: duplicate send ignored")
		return nil
	}
	if err := g.rdb.LPush(ctx, g.readyKey(), msg.MessageID).Err(); err != nil {
		return fmt.Errorf("%w: enqueue: %v", domain.ErrTransport, err)
	}
	g.logger.Info().
		Str("message_id", msg.MessageID).
		Str("generation_id", msg.GenerationID).
		Int("attempt", msg.Attempt).
		Msg("queue: message sent")
	return nil
}

// SendBatch enqueues messages in sub-batches of at most maxBatch, each
// sub-batch pipelined into two round trips. A failing sub-batch does not
// roll back the ones already sent.
func (g *RedisGateway) SendBatch(ctx context.Context, msgs []*JobMessage) error {
	for _, chunk := range splitBatch(msgs, maxBatch) {
		if err := g.sendChunk(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (g *RedisGateway) sendChunk(ctx context.Context, chunk []*JobMessage) error {
	store := g.rdb.Pipeline()
	fresh := make([]*redis.BoolCmd, len(chunk))
	enqueuedAt := time.Now().UTC().Format(time.RFC3339)
	for i, msg := range chunk {
		body, err := msg.Encode()
		if err != nil {
			return err
		}
		fresh[i] = store.HSetNX(ctx, g.msgKey(msg.MessageID), "body", body)
		store.HSet(ctx, g.msgKey(msg.MessageID), map[string]any{
			"generation_id": msg.GenerationID,
			"user_id":       msg.UserID,
			"priority":      string(msg.Priority),
			"job_type":      string(msg.JobType),
			"enqueued_at":   enqueuedAt,
		})
	}
	if _, err := store.Exec(ctx); err != nil {
		return fmt.Errorf("%w: batch store: %v", domain.ErrTransport, err)
	}

	enqueue := g.rdb.Pipeline()
	queued := 0
	for i, msg := range chunk {
		if !fresh[i].Val() {
			g.logger.Warn().Str("message_id", msg.MessageID).Msg("queue: duplicate send ignored")
			continue
		}
		enqueue.LPush(ctx, g.readyKey(), msg.MessageID)
		queued++
	}
	if queued == 0 {
		return nil
	}
	if _, err := enqueue.Exec(ctx); err != nil {
		return fmt.Errorf("%w: batch enqueue: %v", domain.ErrTransport, err)
	}
	g.logger.Info().Int("count", queued).Msg("queue: batch sent")
	return nil
}

// Schedule enqueues for delivery no earlier than notBefore.
func (g *RedisGateway) Schedule(ctx context.Context, msg *JobMessage, notBefore time.Time) error {
	if _, err := g.storeMessage(ctx, msg); err != nil {
		return err
	}
	err := g.rdb.ZAdd(ctx, g.scheduledKey(), redis.Z{
		Score:  float64(notBefore.Unix()),
		Member: msg.MessageID,
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: schedule: %v", domain.ErrTransport, err)
	}
	return nil
}

// Receive blocks up to maxWait for one message and leases it for
// leaseDuration. Before blocking it promotes due scheduled messages and
// reclaims leases that expired without being settled.
func (g *RedisGateway) Receive(ctx context.Context, leaseDuration, maxWait time.Duration) (*JobMessage, *Lease, error) {
	if err := g.promoteScheduled(ctx); err != nil {
		g.logger.Warn().Err(err).Msg("queue: promote scheduled failed")
	}
	if err := g.reclaimExpired(ctx); err != nil {
		g.logger.Warn().Err(err).Msg("queue: reclaim expired failed")
	}

	id, err := g.rdb.BLMove(ctx, g.readyKey(), g.leasedKey(), "RIGHT", "LEFT", maxWait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: receive: %v", domain.ErrTransport, err)
	}

	deliveries, err := g.rdb.HIncrBy(ctx, g.msgKey(id), "delivery_count", 1).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: delivery count: %v", domain.ErrTransport, err)
	}

	body, err := g.rdb.HGet(ctx, g.msgKey(id), "body").Result()
	if err != nil || body == "" {
		g.parkInvalid(ctx, id, "MissingPayload", fmt.Sprint(err))
		return nil, nil, fmt.Errorf("%w: message %s payload missing", domain.ErrTransport, id)
	}
	msg, err := DecodeMessage([]byte(body))
	if err != nil {
		// Corrupt payloads go straight to the dead-letter queue so the loop
		// cannot spin on them.
		g.parkInvalid(ctx, id, "InvalidPayload", err.Error())
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}

	token := uuid.NewString()
	if err := g.rdb.Set(ctx, g.leaseKey(id), token, leaseDuration).Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: lease: %v", domain.ErrTransport, err)
	}

	lease := &Lease{
		MessageID:     id,
		Token:         token,
		DeliveryCount: int(deliveries),
		ExpiresAt:     time.Now().Add(leaseDuration),
	}
	return msg, lease, nil
}

func (g *RedisGateway) promoteScheduled(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	due, err := g.rdb.ZRangeByScore(ctx, g.scheduledKey(), &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: reclaimScan,
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range due {
		removed, err := g.rdb.ZRem(ctx, g.scheduledKey(), id).Result()
		if err != nil {
			return err
		}
		// Another worker may promote concurrently; only the remover enqueues.
		if removed > 0 {
			if err := g.rdb.LPush(ctx, g.readyKey(), id).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *RedisGateway) reclaimExpired(ctx context.Context) error {
	ids, err := g.rdb.LRange(ctx, g.leasedKey(), 0, reclaimScan-1).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		held, err := g.rdb.Exists(ctx, g.leaseKey(id)).Result()
		if err != nil {
			return err
		}
		if held > 0 {
			continue
		}
		removed, err := g.rdb.LRem(ctx, g.leasedKey(), 1, id).Result()
		if err != nil {
			return err
		}
		if removed > 0 {
			g.logger.Warn().Str("message_id", id).Msg("queue: lease expired, requeueing")
			if err := g.rdb.LPush(ctx, g.readyKey(), id).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

// verifyLease confirms the caller still owns the message.
func (g *RedisGateway) verifyLease(ctx context.Context, lease *Lease) error {
	val, err := g.rdb.Get(ctx, g.leaseKey(lease.MessageID)).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: lease lost for %s", domain.ErrTransport, lease.MessageID)
	}
	if err != nil {
		return fmt.Errorf("%w: verify lease: %v", domain.ErrTransport, err)
	}
	if val != lease.Token {
		return fmt.Errorf("%w: lease superseded for %s", domain.ErrTransport, lease.MessageID)
	}
	return nil
}

// Complete removes the message permanently.
func (g *RedisGateway) Complete(ctx context.Context, lease *Lease) error {
	if err := g.verifyLease(ctx, lease); err != nil {
		return err
	}
	pipe := g.rdb.TxPipeline()
	pipe.LRem(ctx, g.leasedKey(), 1, lease.MessageID)
	pipe.Del(ctx, g.leaseKey(lease.MessageID))
	pipe.Del(ctx, g.msgKey(lease.MessageID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: complete: %v", domain.ErrTransport, err)
	}
	return nil
}

// Abandon releases the lease for immediate redelivery.
func (g *RedisGateway) Abandon(ctx context.Context, lease *Lease) error {
	if err := g.verifyLease(ctx, lease); err != nil {
		return err
	}
	pipe := g.rdb.TxPipeline()
	pipe.LRem(ctx, g.leasedKey(), 1, lease.MessageID)
	pipe.Del(ctx, g.leaseKey(lease.MessageID))
	pipe.LPush(ctx, g.readyKey(), lease.MessageID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: abandon: %v", domain.ErrTransport, err)
	}
	return nil
}

// AbandonAfter parks the message until the delay elapses. The delivery that
// is being given up is subtracted from the counter, so rate-limit backoffs do
// not consume retry budget.
func (g *RedisGateway) AbandonAfter(ctx context.Context, lease *Lease, delay time.Duration) error {
	if err := g.verifyLease(ctx, lease); err != nil {
		return err
	}
	pipe := g.rdb.TxPipeline()
	pipe.LRem(ctx, g.leasedKey(), 1, lease.MessageID)
	pipe.Del(ctx, g.leaseKey(lease.MessageID))
	pipe.HIncrBy(ctx, g.msgKey(lease.MessageID), "delivery_count", -1)
	pipe.ZAdd(ctx, g.scheduledKey(), redis.Z{
		Score:  float64(time.Now().Add(delay).Unix()),
		Member: lease.MessageID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: abandon after: %v", domain.ErrTransport, err)
	}
	return nil
}

// DeadLetter moves the message to the inspectable dead-letter queue.
func (g *RedisGateway) DeadLetter(ctx context.Context, lease *Lease, reason, detail string) error {
	if err := g.verifyLease(ctx, lease); err != nil {
		return err
	}
	pipe := g.rdb.TxPipeline()
	pipe.LRem(ctx, g.leasedKey(), 1, lease.MessageID)
	pipe.Del(ctx, g.leaseKey(lease.MessageID))
	pipe.HSet(ctx, g.msgKey(lease.MessageID), map[string]any{
		"reason":  reason,
		"detail":  detail,
		"dead_at": time.Now().UTC().Format(time.RFC3339),
	})
	pipe.LPush(ctx, g.deadKey(), lease.MessageID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: dead letter: %v", domain.ErrTransport, err)
	}
	g.logger.Warn().
		Str("message_id", lease.MessageID).
		Str("reason", reason).
		Msg("queue: message dead-lettered")
	return nil
}

func (g *RedisGateway) parkInvalid(ctx context.Context, id, reason, detail string) {
	pipe := g.rdb.TxPipeline()
	pipe.LRem(ctx, g.leasedKey(), 1, id)
	pipe.HSet(ctx, g.msgKey(id), map[string]any{
		"reason":  reason,
		"detail":  detail,
		"dead_at": time.Now().UTC().Format(time.RFC3339),
	})
	pipe.LPush(ctx, g.deadKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		g.logger.Error().Err(err).Str("message_id", id).Msg("queue: failed to park invalid message")
	}
}

// PeekDeadLetters lists parked messages without removing them.
func (g *RedisGateway) PeekDeadLetters(ctx context.Context, limit int) ([]DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	ids, err := g.rdb.LRange(ctx, g.deadKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: peek dead letters: %v", domain.ErrTransport, err)
	}
	entries := make([]DeadLetterEntry, 0, len(ids))
	for _, id := range ids {
		fields, err := g.rdb.HGetAll(ctx, g.msgKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: read dead letter %s: %v", domain.ErrTransport, id, err)
		}
		deliveries, _ := strconv.Atoi(fields["delivery_count"])
		deadAt, _ := time.Parse(time.RFC3339, fields["dead_at"])
		entries = append(entries, DeadLetterEntry{
			MessageID:     id,
			GenerationID:  fields["generation_id"],
			UserID:        fields["user_id"],
			Reason:        fields["reason"],
			Detail:        fields["detail"],
			DeliveryCount: deliveries,
			DeadAt:        deadAt,
			Body:          []byte(fields["body"]),
		})
	}
	return entries, nil
}

// ResubmitDeadLetter re-enqueues a parked message with the next logical
// attempt under a fresh message identity, then removes the parked entry.
func (g *RedisGateway) ResubmitDeadLetter(ctx context.Context, messageID string) (*JobMessage, error) {
	removed, err := g.rdb.LRem(ctx, g.deadKey(), 1, messageID).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: resubmit: %v", domain.ErrTransport, err)
	}
	if removed == 0 {
		return nil, domain.ErrNotFound
	}
	body, err := g.rdb.HGet(ctx, g.msgKey(messageID), "body").Result()
	if err != nil {
		return nil, fmt.Errorf("%w: resubmit read: %v", domain.ErrTransport, err)
	}
	msg, err := DecodeMessage([]byte(body))
	if err != nil {
		return nil, err
	}
	next := msg.Resubmit()
	if err := g.Send(ctx, next); err != nil {
		return nil, err
	}
	if err := g.rdb.Del(ctx, g.msgKey(messageID)).Err(); err != nil {
		g.logger.Warn().Err(err).Str("message_id", messageID).Msg("queue: cleanup of resubmitted message failed")
	}
	return next, nil
}

// splitBatch chunks msgs into groups of at most size.
func splitBatch(msgs []*JobMessage, size int) [][]*JobMessage {
	if size <= 0 {
		size = 1
	}
	var chunks [][]*JobMessage
	for len(msgs) > size {
		chunks = append(chunks, msgs[:size])
		msgs = msgs[size:]
	}
	if len(msgs) > 0 {
		chunks = append(chunks, msgs)
	}
	return chunks
}

var _ Gateway = (*RedisGateway)(nil)
