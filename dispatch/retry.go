package dispatch

import (
	"context"
	"encoding/json"
	"math/rand"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/pidmonitor_backend/config"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// computeRetryAt places the retry roughly one RetryDelay out, perturbed by a
// uniform jitter in [-RetryJitter, +RetryJitter] so that a burst of failures
// does not come back as a burst of retries.
func computeRetryAt(settings *config.Settings) time.Time {
	delay := settings.RetryDelay
	if settings.RetryJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(2*settings.RetryJitter))) - settings.RetryJitter
	}
	return time.Now().Add(delay)
}

// scheduleRetry parks the unit of work on the Redis retry schedule, keyed by
// its due time. The pump republishes it to its original queue partition once
// due. The republished message carries Attempt+1.
func scheduleRetry(ctx context.Context, msg TaskMessage, retryAt time.Time) error {
	rdb := config.GetRedisDB()
	if rdb == nil {
		return redis.ErrClosed
	}

	msg.Attempt++
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	settings := config.GetSettings()
	return rdb.ZAdd(ctx, settings.RetryQueueKey, redis.Z{
		Score:  float64(retryAt.Unix()),
		Member: string(payload),
	}).Err()
}

// RetryPump periodically drains due entries from the retry schedule and
// republishes them to their queue partitions. Multiple replicas may run the
// pump; a best-effort lock keeps a single active drainer per interval.
// Blocks until ctx is done.
func RetryPump(ctx context.Context) {
	logger := config.GetLogger()
	settings := config.GetSettings()

	ticker := time.NewTicker(settings.PumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("retry pump stopped")
			return
		case <-ticker.C:
			drainDueRetries(ctx)
		}
	}
}

func drainDueRetries(ctx context.Context) {
	logger := config.GetLogger()
	settings := config.GetSettings()

	locker := config.GetRedisLock()
	rdb := config.GetRedisDB()
	if locker == nil || rdb == nil {
		return
	}

	lock, err := locker.Obtain(ctx, settings.RetryQueueKey+":lock", settings.PumpInterval, nil)
	if err == redislock.ErrNotObtained {
		return
	}
	if err != nil {
		config.LogError(logger, "dispatch", "drainDueRetries", "obtain lock", settings.RetryQueueKey, err)
		return
	}
	defer lock.Release(ctx)

	now := strconv.FormatInt(time.Now().Unix(), 10)
	members, err := rdb.ZRangeByScore(ctx, settings.RetryQueueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		config.LogError(logger, "dispatch", "drainDueRetries", "ZRangeByScore", settings.RetryQueueKey, err)
		return
	}

	for _, member := range members {
		var msg TaskMessage
		if err := json.Unmarshal([]byte(member), &msg); err != nil {
			// Malformed entry; remove so it cannot wedge the schedule.
			config.LogError(logger, "dispatch", "drainDueRetries", "unmarshal", member, err)
			_ = rdb.ZRem(ctx, settings.RetryQueueKey, member).Err()
			continue
		}
		if _, err := config.PublishToTopic(ctx, msg.Queue, msg); err != nil {
			// Leave it on the schedule; the next interval tries again.
			config.LogError(logger, "dispatch", "drainDueRetries", "PublishToTopic", msg.TaskID, err)
			continue
		}
		if err := rdb.ZRem(ctx, settings.RetryQueueKey, member).Err(); err != nil {
			config.LogError(logger, "dispatch", "drainDueRetries", "ZRem", msg.TaskID, err)
		}
	}
}
