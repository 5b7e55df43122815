// Package dispatch serialises broker REST calls through a single worker
// goroutine with rate pacing and retry/backoff. Jobs are submitted as
// factories and resolved through a result channel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrSkip is returned by a job factory to abandon the dispatch without
// error (e.g. conditions re-checked at send time no longer hold). A
// skipped job resolves with a nil value and does not advance the rate
// pacing clock.
var ErrSkip = errors.New("dispatch skipped")

// ErrStopped resolves jobs that were still queued when the dispatcher
// shut down.
var ErrStopped = errors.New("dispatcher stopped")

// Skip wraps ErrSkip with a reason.
func Skip(reason string) error {
	return fmt.Errorf("%w: %s", ErrSkip, reason)
}

// statusError is implemented by broker errors carrying an HTTP status.
// 429 and 5xx are retried; other statuses fail the job immediately.
type statusError interface {
	HTTPStatus() int
}

// Factory performs one broker call attempt.
type Factory func(ctx context.Context) (interface{}, error)

// Result resolves a submitted job.
type Result struct {
	Value interface{}
	Err   error
}

type job struct {
	ctx         context.Context
	factory     Factory
	description string
	result      chan Result
}

// Config tunes the dispatcher. Zero values take the defaults.
type Config struct {
	MinInterval time.Duration // pacing between successful sends (default 1.1s)
	MaxRetries  int           // retry attempts after the first failure (default 3)
	BaseBackoff time.Duration // backoff base, doubled per attempt (default 1s)
	QueueSize   int
}

// Dispatcher is the single-worker order queue.
type Dispatcher struct {
	queue       chan *job
	stop        chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
	minInterval time.Duration
	maxRetries  int
	baseBackoff time.Duration
	lastSentAt  time.Time

	// OnRetry and OnSkip are optional metrics hooks.
	OnRetry func()
	OnSkip  func()
}

// New creates and starts a dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 1100 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	d := &Dispatcher{
		queue:       make(chan *job, cfg.QueueSize),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		minInterval: cfg.MinInterval,
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
	}
	go d.run()
	return d
}

// Submit enqueues a call. The returned channel receives exactly one
// Result; a skipped job resolves with a nil value and nil error. Jobs
// submitted after Stop resolve with ErrStopped.
func (d *Dispatcher) Submit(ctx context.Context, factory Factory, description string) <-chan Result {
	j := &job{ctx: ctx, factory: factory, description: description, result: make(chan Result, 1)}
	select {
	case <-d.stop:
		j.result <- Result{Err: ErrStopped}
		return j.result
	default:
	}
	select {
	case d.queue <- j:
	case <-d.stop:
		j.result <- Result{Err: ErrStopped}
	}
	return j.result
}

// Stop signals the worker and waits for it to exit. The in-flight job
// finishes its current attempt; jobs still queued resolve with
// ErrStopped. Never blocks on a full queue.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
}

func (d *Dispatcher) run() {
	defer func() {
		close(d.done)
		// Resolve everything still queued.
		for {
			select {
			case j := <-d.queue:
				j.result <- Result{Err: ErrStopped}
			default:
				return
			}
		}
	}()
	for {
		// Check the stop signal first so it wins over a ready queue.
		select {
		case <-d.stop:
			return
		default:
		}
		select {
		case <-d.stop:
			return
		case j := <-d.queue:
			d.respectRate(j.ctx)
			value, err := d.executeWithRetry(j)
			switch {
			case err == nil:
				j.result <- Result{Value: value}
			case errors.Is(err, ErrSkip):
				log.Printf("[dispatch] skipped: %s (%v)", j.description, err)
				if d.OnSkip != nil {
					d.OnSkip()
				}
				j.result <- Result{}
			default:
				log.Printf("[dispatch] failed: %s: %v", j.description, err)
				j.result <- Result{Err: err}
			}
		}
	}
}

func (d *Dispatcher) respectRate(ctx context.Context) {
	if d.lastSentAt.IsZero() {
		return
	}
	wait := d.minInterval - time.Since(d.lastSentAt)
	if wait <= 0 {
		return
	}
	d.sleep(ctx, wait)
}

func (d *Dispatcher) executeWithRetry(j *job) (interface{}, error) {
	attempt := 0
	for {
		value, err := j.factory(j.ctx)
		if err == nil {
			d.lastSentAt = time.Now()
			return value, nil
		}
		if errors.Is(err, ErrSkip) {
			return nil, err
		}

		attempt++
		var se statusError
		if errors.As(err, &se) {
			status := se.HTTPStatus()
			if status != 429 && status < 500 {
				return nil, err
			}
		}
		if attempt > d.maxRetries {
			log.Printf("[dispatch] retries exhausted (%d): %s: %v", d.maxRetries, j.description, err)
			return nil, err
		}
		delay := d.baseBackoff << (attempt - 1)
		log.Printf("[dispatch] retry %d/%d in %s: %s: %v", attempt, d.maxRetries, delay, j.description, err)
		if d.OnRetry != nil {
			d.OnRetry()
		}
		if !d.sleep(j.ctx, delay) {
			select {
			case <-d.stop:
				return nil, ErrStopped
			default:
			}
			return nil, j.ctx.Err()
		}
	}
}

// sleep waits for dur unless the job context finishes or the dispatcher
// stops first; reports whether the full duration elapsed.
func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) bool {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-d.stop:
		return false
	case <-timer.C:
		return true
	}
}
