package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/livecore/pkg/errorsx"
	"github.com/harunnryd/livecore/pkg/logging"
)

const DefaultDrainTimeout = 10 * time.Second

type LifecycleRunner struct {
	state    atomic.Int32
	mu       sync.Mutex
	cancel   context.CancelFunc
	onceStop sync.Once
	hooks    Hooks
	drainer  Drainer
	stopErr  error
	timeout  time.Duration
	banner   bool
	logger   *slog.Logger
}

type Options struct {
	Drainer      Drainer
	Hooks        Hooks
	DrainTimeout time.Duration
	// Quiet suppresses the startup banner.
	Quiet  bool
	Logger *slog.Logger
}

func NewLifecycleRunner(opts Options) *LifecycleRunner {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	return &LifecycleRunner{
		hooks:   opts.Hooks,
		drainer: opts.Drainer,
		timeout: opts.DrainTimeout,
		banner:  !opts.Quiet,
		logger:  logging.NewComponentLogger(opts.Logger, "runner"),
	}
}

// Run blocks until ctx is done or Stop is called, then drains.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return errors.New("invalid state transition")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	if r.banner {
		PrintBanner()
	}
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.setState(StateRunning)
	r.logger.Info("runner_started")
	<-ctx.Done()
	return r.stop()
}

// Stop ends Run and drains. It is safe before Run and from any goroutine.
func (r *LifecycleRunner) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(r.state.Load())
}

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		started := time.Now()
		if r.drainer != nil {
			done := make(chan error, 1)
			go func() { done <- r.drainer.Drain() }()
			select {
			case err := <-done:
				r.stopErr = err
			case <-time.After(r.timeout):
				r.stopErr = errorsx.New(errorsx.ReasonTimeout, "drain timeout")
			}
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.setState(StateStopped)
		if r.stopErr != nil {
			r.logger.Warn("runner_drain_failed", "error", r.stopErr, "elapsed", time.Since(started))
		} else {
			r.logger.Info("runner_stopped", "elapsed", time.Since(started))
		}
	})
	return r.stopErr
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	r.state.Store(int32(s))
}
