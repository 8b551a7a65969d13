// Package queue provides the Redis-backed command queue between the IDE and the editor host.
// It supports reliable command delivery with features including:
//   - Priority lists and atomic dequeuing with BLMove
//   - Exponential backoff retry mechanism
//   - Dead letter list for commands that cannot be applied
//   - Token bucket rate limiting via Lua scripts
//
// The Client type is the main entry point for both sides: the IDE pushes, the relay consumes.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/guido-cesarano/editorbridge/pkg/logger"
	"github.com/guido-cesarano/editorbridge/pkg/tasks"
	"github.com/redis/go-redis/v9"
)

// Redis keys used by the queue.
const (
	KeyHigh       = "commands:high"
	KeyDefault    = "commands:default"
	KeyLow        = "commands:low"
	KeyProcessing = "commands:processing"
	KeyDelayed    = "commands:delayed"
	KeyDead       = "commands:dead"
	KeyCompleted  = "commands:completed"
)

// completedHistory is how many completed commands are kept for inspection.
const completedHistory = 100

// Client manages the connection to Redis and provides the command queue operations.
// All operations are context-aware and support graceful cancellation.
//
// Queue Architecture:
//   - commands:{high,default,low}: commands ready to be applied
//   - commands:processing: commands handed to the relay and not yet acknowledged
//   - commands:delayed: sorted set of commands scheduled for a later retry
//   - commands:dead: commands that exhausted their retries or have no handler
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new queue client connected to the specified Redis address.
// The address should be in the format "host:port" (e.g., "localhost:6379").
func NewClient(addr string) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &Client{rdb: rdb}
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Push adds a command to the tail of the list matching its priority.
func (c *Client) Push(ctx context.Context, cmd tasks.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return c.rdb.RPush(ctx, keyFor(cmd.Priority), data).Err()
}

func keyFor(priority int) string {
	switch priority {
	case tasks.PriorityHigh:
		return KeyHigh
	case tasks.PriorityLow:
		return KeyLow
	}
	return KeyDefault
}

// Dequeue atomically moves the next command into the processing list.
// It checks lists in priority order, waiting up to wait on each one, and
// returns redis.Nil when all of them stayed empty.
func (c *Client) Dequeue(ctx context.Context, wait time.Duration) (*tasks.Command, string, error) {
	for _, key := range []string{KeyHigh, KeyDefault, KeyLow} {
		result, err := c.rdb.BLMove(ctx, key, KeyProcessing, "LEFT", "RIGHT", wait).Result()
		if err == nil {
			var cmd tasks.Command
			if err := json.Unmarshal([]byte(result), &cmd); err != nil {
				// Park undecodable payloads instead of retrying them forever
				c.rdb.LRem(ctx, KeyProcessing, 1, result)
				c.rdb.RPush(ctx, KeyDead, result)
				return nil, "", fmt.Errorf("queue: malformed command: %w", err)
			}
			return &cmd, result, nil
		}
		if err != redis.Nil {
			return nil, "", err
		}
	}
	return nil, "", redis.Nil
}

// Ack removes a command from the processing list.
func (c *Client) Ack(ctx context.Context, raw string) error {
	return c.rdb.LRem(ctx, KeyProcessing, 1, raw).Err()
}

// Complete moves a command from the processing list to the completed history.
func (c *Client) Complete(ctx context.Context, raw string) error {
	pipe := c.rdb.TxPipeline()
	pipe.LRem(ctx, KeyProcessing, 1, raw)
	pipe.RPush(ctx, KeyCompleted, raw)
	pipe.LTrim(ctx, KeyCompleted, -completedHistory, -1)
	_, err := pipe.Exec(ctx)
	return err
}

// Backoff returns the delay before attempt number retryCount: 2^retryCount * 100ms.
func Backoff(retryCount int) time.Duration {
	return time.Duration(1<<retryCount) * 100 * time.Millisecond
}

// Retry schedules a command for another attempt with exponential backoff.
// The retry count is incremented, the command is added to the delayed set
// and removed from the processing list in one transaction.
func (c *Client) Retry(ctx context.Context, cmd tasks.Command, raw string) error {
	cmd.RetryCount++
	processAt := time.Now().Add(Backoff(cmd.RetryCount))

	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	pipe := c.rdb.TxPipeline()
	pipe.ZAdd(ctx, KeyDelayed, redis.Z{
		Score:  float64(processAt.UnixNano()),
		Member: data,
	})
	pipe.LRem(ctx, KeyProcessing, 1, raw)
	_, err = pipe.Exec(ctx)
	return err
}

// Fail moves a command to the dead letter list.
func (c *Client) Fail(ctx context.Context, cmd tasks.Command, raw string) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, KeyDead, data)
	pipe.LRem(ctx, KeyProcessing, 1, raw)
	_, err = pipe.Exec(ctx)
	return err
}

// promoteScript moves every due command from the delayed set back to the default list.
var promoteScript = redis.NewScript(`
	local delayed_key = KEYS[1]
	local ready_key = KEYS[2]
	local now = tonumber(ARGV[1])

	local due = redis.call('ZRANGEBYSCORE', delayed_key, '-inf', now)
	if #due > 0 then
		redis.call('ZREMRANGEBYSCORE', delayed_key, '-inf', now)
		for _, cmd in ipairs(due) do
			redis.call('RPUSH', ready_key, cmd)
		end
	end

	return #due
`)

// PromoteDue moves due retries to the default list and returns how many were moved.
func (c *Client) PromoteDue(ctx context.Context, now time.Time) (int64, error) {
	return promoteScript.Run(ctx, c.rdb,
		[]string{KeyDelayed, KeyDefault},
		float64(now.UnixNano()),
	).Int64()
}

// StartScheduler promotes due retries every interval until ctx is cancelled.
func (c *Client) StartScheduler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := c.PromoteDue(ctx, now); err != nil && err != redis.Nil && ctx.Err() == nil {
				logger.Log.Error().Err(err).Msg("Retry scheduler error")
			}
		}
	}
}

// Depths returns the number of commands held under each key.
func (c *Client) Depths(ctx context.Context) map[string]int64 {
	depths := make(map[string]int64)

	for _, key := range []string{KeyHigh, KeyDefault, KeyLow, KeyProcessing, KeyDead, KeyCompleted} {
		if n, err := c.rdb.LLen(ctx, key).Result(); err == nil {
			depths[key] = n
		}
	}
	if n, err := c.rdb.ZCard(ctx, KeyDelayed).Result(); err == nil {
		depths[KeyDelayed] = n
	}
	return depths
}

// SetResult stores the outcome of a command for 24 hours under "result:{id}".
func (c *Client) SetResult(ctx context.Context, id string, result interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, resultKey(id), data, 24*time.Hour).Err()
}

// GetResult returns the stored outcome of a command as raw JSON.
func (c *Client) GetResult(ctx context.Context, id string) (string, error) {
	return c.rdb.Get(ctx, resultKey(id)).Result()
}

func resultKey(id string) string {
	return fmt.Sprintf("result:%s", id)
}

// allowScript is a token bucket.
// KEYS[1]: bucket key
// ARGV[1]: rate (tokens/sec), ARGV[2]: burst, ARGV[3]: now (seconds), ARGV[4]: tokens requested
var allowScript = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local burst = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local requested = tonumber(ARGV[4])

	local tokens = tonumber(redis.call('HGET', key, 'tokens'))
	local last_refill = tonumber(redis.call('HGET', key, 'last_refill'))

	if not tokens then
		tokens = burst
		last_refill = now
	end

	local delta = math.max(0, now - last_refill)
	local new_tokens = math.min(burst, tokens + (delta * rate))

	if new_tokens >= requested then
		new_tokens = new_tokens - requested
		redis.call('HSET', key, 'tokens', new_tokens, 'last_refill', now)
		return 1
	else
		redis.call('HSET', key, 'tokens', new_tokens, 'last_refill', now)
		return 0
	end
`)

// Allow reports whether one more command may pass the token bucket stored under key.
// limit is the refill rate in tokens per second and burst the bucket capacity.
func (c *Client) Allow(ctx context.Context, key string, limit int, burst int) (bool, error) {
	result, err := allowScript.Run(ctx, c.rdb,
		[]string{key},
		limit,
		burst,
		time.Now().Unix(),
		1,
	).Int64()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

// Inspect returns up to limit commands from key without removing them.
func (c *Client) Inspect(ctx context.Context, key string, limit int64) ([]*tasks.Command, error) {
	var raws []string
	var err error

	if key == KeyDelayed {
		raws, err = c.rdb.ZRange(ctx, key, 0, limit-1).Result()
	} else {
		raws, err = c.rdb.LRange(ctx, key, 0, limit-1).Result()
	}
	if err != nil {
		return nil, err
	}

	var cmds []*tasks.Command
	for _, raw := range raws {
		var cmd tasks.Command
		if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
			continue
		}
		cmds = append(cmds, &cmd)
	}
	return cmds, nil
}
