package history

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/companion-gateway/internal/observability"
	"github.com/lexiqai/companion-gateway/internal/resilience"
)

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Timeout time.Duration // per Record, across all retries
	Retry   *resilience.RetryConfig
	Breaker *resilience.CircuitBreaker
	Logger  zerolog.Logger
}

// Recorder writes history entries in the background. Failures are logged and counted,
// never returned: the call they belong to is already over.
type Recorder struct {
	store   Store
	timeout time.Duration
	retry   *resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store Store, cfg RecorderConfig) *Recorder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Recorder{
		store:   store,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		breaker: cfg.Breaker,
		logger:  cfg.Logger.With().Str("component", "history").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Record stores that userID attended a session with companionID. It returns immediately.
func (r *Recorder) Record(userID, companionID string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn().Str("companion_id", companionID).Msg("Recorder closed, dropping session history entry")
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		r.write(userID, companionID)
	}()
}

func (r *Recorder) write(userID, companionID string) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		return r.add(ctx, userID, companionID)
	}, r.retry, resilience.IsRetryableNetworkError)
	observability.RecordHistoryWrite(err == nil, time.Since(start))

	if err != nil {
		observability.RecordError("history_write", "history")
		r.logger.Error().
			Err(err).
			Str("user_id", userID).
			Str("companion_id", companionID).
			Msg("Failed to record session history")
		return
	}
	r.logger.Debug().Str("user_id", userID).Str("companion_id", companionID).Msg("Recorded session history")
}

func (r *Recorder) add(ctx context.Context, userID, companionID string) error {
	// Invalid entries never reach the store, so they do not count against the breaker.
	if err := validate(userID, companionID); err != nil {
		return err
	}
	if r.breaker == nil {
		return r.store.Add(ctx, userID, companionID)
	}

	err := r.breaker.Call(func() error {
		return r.store.Add(ctx, userID, companionID)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		observability.IncrementCircuitBreakerFailures(r.breaker.Name())
	}
	return err
}

// Close stops accepting entries and waits for pending writes until ctx is done, after
// which pending writes are cancelled.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
