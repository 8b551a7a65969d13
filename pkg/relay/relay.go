// Package relay applies IDE commands from the Redis queue on the editor's main goroutine.
//
// Command Processing Flow:
//  1. Dequeue a command atomically into the processing list
//  2. Check the per-type rate limit; over the limit the command is delayed
//  3. Run the handler on the main goroutine through the session dispatcher and wait for it
//  4. On success: Complete the command and store its result
//  5. On failure: Retry with backoff below MaxRetries, otherwise move it to the dead letter list
//
// Commands without a registered handler go straight to the dead letter list.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/guido-cesarano/editorbridge/pkg/dispatch"
	"github.com/guido-cesarano/editorbridge/pkg/queue"
	"github.com/guido-cesarano/editorbridge/pkg/tasks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrNoHandler is recorded for commands whose type has no handler.
var ErrNoHandler = errors.New("relay: no handler for command type")

// HandlerFunc applies a command. It runs on the main goroutine.
type HandlerFunc func(cmd tasks.Command) error

// Config tunes the relay loop.
type Config struct {
	MaxRetries int
	RateLimit  int
	RateBurst  int

	// Wait is how long Dequeue blocks on each priority list.
	Wait time.Duration

	// PromoteInterval is the retry scheduler tick.
	PromoteInterval time.Duration
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		RateLimit:       10,
		RateBurst:       20,
		Wait:            time.Second,
		PromoteInterval: 500 * time.Millisecond,
	}
}

// Relay moves commands from the queue onto the main goroutine.
type Relay struct {
	client     *queue.Client
	dispatcher *dispatch.Dispatcher
	config     Config
	log        zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	// processed counts handled commands.
	// Labels:
	//   - status: "success", "retry", "failed", "delayed"
	//   - type: command type
	processed *prometheus.CounterVec

	// duration tracks the time from dequeue to the end of the main-thread handler.
	duration *prometheus.HistogramVec
}

// New creates a Relay. A nil registerer leaves the metrics unregistered.
func New(client *queue.Client, d *dispatch.Dispatcher, config Config, reg prometheus.Registerer, log zerolog.Logger) *Relay {
	defaults := DefaultConfig()
	if config.Wait <= 0 {
		config.Wait = defaults.Wait
	}
	if config.PromoteInterval <= 0 {
		config.PromoteInterval = defaults.PromoteInterval
	}
	factory := promauto.With(reg)
	return &Relay{
		client:     client,
		dispatcher: d,
		config:     config,
		log:        log,
		handlers:   make(map[string]HandlerFunc),
		processed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "editorbridge_relay_processed_total",
			Help: "The total number of processed IDE commands",
		}, []string{"status", "type"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "editorbridge_relay_command_duration_seconds",
			Help:    "Duration of command processing including the wait for the main thread",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
	}
}

// Handle registers h for commands of type commandType.
func (r *Relay) Handle(commandType string, h HandlerFunc) {
	r.mu.Lock()
	r.handlers[commandType] = h
	r.mu.Unlock()
}

func (r *Relay) handler(commandType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[commandType]
	return h, ok
}

// Run processes commands until ctx is cancelled. It also runs the retry scheduler.
func (r *Relay) Run(ctx context.Context) {
	go r.client.StartScheduler(ctx, r.config.PromoteInterval)

	r.log.Info().Msg("Relay started. Waiting for commands...")
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("Relay stopped")
			return
		default:
		}
		if _, err := r.ProcessNext(ctx); err != nil && ctx.Err() == nil {
			r.log.Error().Err(err).Msg("Failed to process command")
			time.Sleep(r.config.Wait)
		}
	}
}

// ProcessNext handles at most one command. It reports whether a command was taken off the queue.
func (r *Relay) ProcessNext(ctx context.Context) (bool, error) {
	cmd, raw, err := r.client.Dequeue(ctx, r.config.Wait)
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	log := r.log.With().Str("command_id", cmd.ID).Str("type", cmd.Type).Logger()
	start := time.Now()

	h, ok := r.handler(cmd.Type)
	if !ok {
		log.Warn().Msg("No handler for command, moving to dead letter list")
		r.processed.WithLabelValues("failed", cmd.Type).Inc()
		r.storeResult(ctx, cmd, ErrNoHandler)
		return true, r.client.Fail(ctx, *cmd, raw)
	}

	if r.config.RateLimit > 0 {
		allowed, err := r.client.Allow(ctx, fmt.Sprintf("ratelimit:%s", cmd.Type), r.config.RateLimit, r.config.RateBurst)
		if err != nil {
			// Fail open
			log.Error().Err(err).Msg("Rate limit check failed")
		} else if !allowed {
			log.Warn().Msg("Rate limit exceeded, delaying command")
			r.processed.WithLabelValues("delayed", cmd.Type).Inc()
			return true, r.client.Retry(ctx, *cmd, raw)
		}
	}

	err = r.dispatcher.Call(ctx, "relay:"+cmd.Type, func() error { return h(*cmd) })
	r.duration.WithLabelValues(cmd.Type).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		log.Info().Msg("Command applied")
		r.processed.WithLabelValues("success", cmd.Type).Inc()
		r.storeResult(ctx, cmd, nil)
		return true, r.client.Complete(ctx, raw)
	case errors.Is(err, dispatch.ErrUnsupportedEnvironment), errors.Is(err, dispatch.ErrClosed):
		log.Error().Err(err).Msg("Main thread unavailable, moving command to dead letter list")
		r.processed.WithLabelValues("failed", cmd.Type).Inc()
		r.storeResult(ctx, cmd, err)
		return true, r.client.Fail(ctx, *cmd, raw)
	case ctx.Err() != nil:
		// Shutting down: leave the command in the processing list.
		return true, ctx.Err()
	case cmd.RetryCount < r.config.MaxRetries:
		log.Error().Err(err).Int("retry_count", cmd.RetryCount).Msg("Command failed, scheduling retry")
		r.processed.WithLabelValues("retry", cmd.Type).Inc()
		return true, r.client.Retry(ctx, *cmd, raw)
	default:
		log.Error().Err(err).Int("retry_count", cmd.RetryCount).Msg("Command failed permanently")
		r.processed.WithLabelValues("failed", cmd.Type).Inc()
		r.storeResult(ctx, cmd, err)
		return true, r.client.Fail(ctx, *cmd, raw)
	}
}

func (r *Relay) storeResult(ctx context.Context, cmd *tasks.Command, cmdErr error) {
	result := map[string]string{
		"status":    "completed",
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if cmdErr != nil {
		result["status"] = "failed"
		result["error"] = cmdErr.Error()
	}
	if err := r.client.SetResult(ctx, cmd.ID, result); err != nil {
		r.log.Error().Err(err).Str("command_id", cmd.ID).Msg("Failed to store command result")
	}
}
