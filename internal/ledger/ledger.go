// Package ledger runs named steps at most once per workflow instance.
//
// A step's result is recorded as JSON the first time its body succeeds.
// Running the same instance again replays recorded results instead of
// executing their bodies, so a crashed workflow resumes at the first step
// that has no record.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go"
)

const (
	DefaultAttempts = 5
	DefaultDelay    = time.Second
)

// Store persists step results keyed by instance and step name.
type Store interface {
	LoadStep(ctx context.Context, instance, name string) ([]byte, bool, error)
	SaveStep(ctx context.Context, instance, name string, result []byte) error
}

type Ledger struct {
	store    Store
	instance string
	attempts uint
	delay    time.Duration
	logger   *slog.Logger
}

type Option func(*Ledger)

// WithRetry sets how many times a failing step body runs before the step
// fails, and the initial backoff between runs.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(l *Ledger) {
		if attempts > 0 {
			l.attempts = attempts
		}
		l.delay = delay
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func New(store Store, instance string, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		instance: instance,
		attempts: DefaultAttempts,
		delay:    DefaultDelay,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Instance() string {
	return l.instance
}

// StepError is returned when a step's body fails permanently or exhausts its
// retries.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err so that the ledger does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Do returns the recorded result of step name, or runs body and records its
// result. The body may run several times if it fails, but never again once
// it has succeeded for this instance.
func Do[T any](ctx context.Context, l *Ledger, name string, body func(ctx context.Context) (T, error)) (T, error) {
	var result T

	data, ok, err := l.store.LoadStep(ctx, l.instance, name)
	if err != nil {
		return result, fmt.Errorf("loading step %q: %w", name, err)
	}
	if ok {
		if err := json.Unmarshal(data, &result); err != nil {
			return result, fmt.Errorf("decoding recorded step %q: %w", name, err)
		}
		l.logger.Debug("replayed step", "instance", l.instance, "step", name)
		return result, nil
	}

	start := time.Now()
	err = retry.Do(
		func() error {
			var err error
			result, err = body(ctx)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(l.attempts),
		retry.Delay(l.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !IsPermanent(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			l.logger.Warn("step failed, retrying", "instance", l.instance, "step", name, "attempt", n+1, "err", err)
		}),
	)
	if err != nil {
		return result, &StepError{Step: name, Err: err}
	}

	data, err = json.Marshal(result)
	if err != nil {
		return result, fmt.Errorf("encoding step %q: %w", name, err)
	}
	if err := l.store.SaveStep(ctx, l.instance, name, data); err != nil {
		return result, fmt.Errorf("recording step %q: %w", name, err)
	}
	l.logger.Info("completed step", "instance", l.instance, "step", name, "took", time.Since(start))
	return result, nil
}

// MemoryStore keeps step results in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	steps map[string]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{steps: make(map[string]map[string][]byte)}
}

func (m *MemoryStore) LoadStep(_ context.Context, instance, name string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.steps[instance][name]
	return data, ok, nil
}

func (m *MemoryStore) SaveStep(_ context.Context, instance, name string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.steps[instance] == nil {
		m.steps[instance] = make(map[string][]byte)
	}
	m.steps[instance][name] = append([]byte(nil), result...)
	return nil
}

// Steps returns the names recorded for instance, in no particular order.
func (m *MemoryStore) Steps(instance string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name := range m.steps[instance] {
		names = append(names, name)
	}
	return names
}
