// Package quota implements a persisted daily usage counter.
//
// A [Counter] permits at most a fixed number of gated actions per UTC
// calendar day. Its state is a single [State] record held by a [Store],
// which survives process restarts. Day boundaries are determined by
// comparing calendar dates, not by a rolling window: usage resets at
// midnight UTC regardless of when the previous action happened.
//
// All reads and writes of a counter's record go through the counter, which
// serializes the full load-decide-persist sequence. Nothing coordinates
// separate processes sharing one backing store.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/semaphore"
)

const (
	// DateLayout is the layout used for [State.Date]
	DateLayout = "2006-01-02"

	DefaultCeiling     = 20
	DefaultName        = "ai"
	DefaultLockTimeout = 5 * time.Second

	// persistTimeout bounds a save once the decision has been made. The save
	// is detached from the caller's context, so this is the only limit on it.
	persistTimeout = 10 * time.Second
)

var (
	// ErrLockTimeout is returned by [Counter.CheckAndIncrement] when the
	// counter's lock couldn't be acquired in time.
	ErrLockTimeout = errors.New("quota: timed out waiting for counter lock")

	// ErrNoState should be returned by a [Store] when no record exists yet.
	ErrNoState = errors.New("quota: no state")

	// ErrCorruptState should be returned (wrapped) by a [Store] when a record
	// exists but can't be decoded.
	ErrCorruptState = errors.New("quota: corrupt state")
)

// State is the persisted quota record.
type State struct {
	// Date is the UTC calendar day the count applies to, formatted with
	// DateLayout. Empty means no usage has ever been recorded.
	Date string `json:"date"`

	// Count is the number of actions consumed on Date
	Count int `json:"count"`
}

func (s State) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("date", s.Date),
		slog.Int("count", s.Count),
	)
}

// validate reports whether s could have been written by a Counter.
func (s State) validate() error {
	if s.Count < 0 {
		return fmt.Errorf("%w: negative count %d", ErrCorruptState, s.Count)
	}
	if s.Date == "" {
		return nil
	}
	if _, err := time.Parse(DateLayout, s.Date); err != nil {
		return fmt.Errorf("%w: invalid date %q", ErrCorruptState, s.Date)
	}
	return nil
}

// Store persists a single [State] record.
type Store interface {
	// Load returns the current record. It returns an error wrapping
	// ErrNoState if there's no record, or ErrCorruptState if the
	// record can't be decoded.
	Load(ctx context.Context) (State, error)

	// Save overwrites the record.
	Save(ctx context.Context, state State) error
}

// Usage is a point-in-time view of a counter's consumption for today.
type Usage struct {
	Name      string `json:"name"`
	Date      string `json:"date"`
	Count     int    `json:"count"`
	Ceiling   int    `json:"ceiling"`
	Remaining int    `json:"remaining"`
}

// Config configures a [Counter]
type Config struct {
	// Name identifies the counter in logs, metrics and shared stores
	Name string `yaml:"name" mapstructure:"name" json:"name" binding:"required"`

	// Ceiling is the maximum number of actions permitted per day
	Ceiling int `yaml:"ceiling" mapstructure:"ceiling" json:"ceiling" binding:"min=1"`

	// LockTimeout limits how long CheckAndIncrement waits for another
	// in-flight check to finish. Zero waits until the caller's context
	// is done.
	LockTimeout time.Duration `yaml:"lock_timeout" mapstructure:"lock_timeout" json:"lock_timeout" binding:"min=0"`
}

// Counter gates actions so at most Config.Ceiling succeed per UTC day.
type Counter struct {
	name        string
	ceiling     int
	lockTimeout time.Duration
	store       Store
	sem         *semaphore.Weighted
	logger      *slog.Logger

	// now returns the current time. Only its UTC date is used.
	now func() time.Time
}

// New returns a Counter persisting to the given store. If logger is nil,
// slog.Default() is used.
func New(store Store, config Config, logger *slog.Logger) (*Counter, error) {
	if store == nil {
		return nil, errors.New("quota: nil store")
	}
	if config.Ceiling < 1 {
		return nil, fmt.Errorf("quota: ceiling must be >= 1 (got %d)", config.Ceiling)
	}
	if config.LockTimeout < 0 {
		return nil, fmt.Errorf("quota: lock_timeout must be >= 0 (got %s)", config.LockTimeout)
	}
	name := config.Name
	if name == "" {
		name = DefaultName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Counter{
		name:        name,
		ceiling:     config.Ceiling,
		lockTimeout: config.LockTimeout,
		store:       store,
		sem:         semaphore.NewWeighted(1),
		logger:      logger.With("logger", "quota", "counter", name),
		now:         time.Now,
	}, nil
}

func (c *Counter) Name() string {
	return c.name
}

func (c *Counter) Ceiling() int {
	return c.ceiling
}

// Result is the outcome of consuming one unit of a counter.
type Result int

const (
	// Denied means the ceiling has been reached for today
	Denied Result = iota
	Allowed
	// Unavailable means today's count couldn't be determined, so the
	// action was refused
	Unavailable
)

func (r Result) String() string {
	switch r {
	case Allowed:
		return resultAllowed
	case Denied:
		return resultDenied
	case Unavailable:
		return resultError
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// CheckAndIncrement reports whether the caller's action may proceed, and
// if so, counts it.
//
// The first call on a new UTC day always succeeds and leaves the count at 1.
// Once the count reaches the ceiling, calls return false without writing
// anything until the next day.
//
// A failure to persist the new count is logged and the decision is
// returned anyway. A failure to load the current count, other than the
// record being absent or corrupt, returns false. The only error returned
// is ErrLockTimeout.
func (c *Counter) CheckAndIncrement(ctx context.Context) (bool, error) {
	result, err := c.Consume(ctx)
	return result == Allowed, err
}

// Consume behaves like CheckAndIncrement, but tells a refusal because of
// the ceiling apart from a refusal because the stored count couldn't be
// read.
func (c *Counter) Consume(ctx context.Context) (Result, error) {
	if err := c.lock(ctx); err != nil {
		checksTotal.WithLabelValues(c.name, resultLockTimeout).Inc()
		return Unavailable, err
	}
	defer c.sem.Release(1)

	logger := c.logger
	state, err := c.load(ctx)
	if err != nil {
		logger.ErrorContext(
			ctx,
			"unable to determine current usage, refusing",
			tint.Err(err),
		)
		checksTotal.WithLabelValues(c.name, resultError).Inc()
		return Unavailable, nil
	}

	today := c.today()

	switch {
	case state.Date != today:
		if state.Date != "" {
			logger.InfoContext(
				ctx,
				"new day, resetting count",
				"previous", state,
				"today", today,
			)
		}
		state = State{Date: today, Count: 1}
	case state.Count >= c.ceiling:
		logger.InfoContext(ctx, "ceiling reached", "state", state, "ceiling", c.ceiling)
		checksTotal.WithLabelValues(c.name, resultDenied).Inc()
		usedGauge.WithLabelValues(c.name).Set(float64(state.Count))
		return Denied, nil
	default:
		state.Count++
	}

	c.persist(ctx, state)

	checksTotal.WithLabelValues(c.name, resultAllowed).Inc()
	usedGauge.WithLabelValues(c.name).Set(float64(state.Count))
	logger.DebugContext(ctx, "quota consumed", "state", state, "ceiling", c.ceiling)
	return Allowed, nil
}

// Usage returns today's consumption. A record from a previous day is
// reported as zero usage for today.
func (c *Counter) Usage(ctx context.Context) (Usage, error) {
	if err := c.lock(ctx); err != nil {
		return Usage{}, err
	}
	defer c.sem.Release(1)

	state, err := c.load(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("error loading quota state: %w", err)
	}

	usage := Usage{
		Name:    c.name,
		Date:    c.today(),
		Ceiling: c.ceiling,
	}
	if state.Date == usage.Date {
		usage.Count = state.Count
	}
	usage.Remaining = max(usage.Ceiling-usage.Count, 0)
	return usage, nil
}

func (c *Counter) today() string {
	return c.now().UTC().Format(DateLayout)
}

func (c *Counter) lock(ctx context.Context) error {
	if c.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.lockTimeout)
		defer cancel()
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.logger.ErrorContext(ctx, "error acquiring lock", tint.Err(err))
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	}
	return nil
}

// load returns the stored state, substituting a fresh State when the
// record is missing or corrupt.
func (c *Counter) load(ctx context.Context) (State, error) {
	state, err := c.store.Load(ctx)
	if err == nil {
		err = state.validate()
	}
	switch {
	case err == nil:
		return state, nil
	case errors.Is(err, ErrNoState):
		c.logger.DebugContext(ctx, "no existing state")
		return State{}, nil
	case errors.Is(err, ErrCorruptState):
		c.logger.WarnContext(ctx, "discarding corrupt state", tint.Err(err))
		return State{}, nil
	default:
		return State{}, err
	}
}

// persist saves state. Once a decision's been made, the write isn't
// abandoned because the caller went away.
func (c *Counter) persist(ctx context.Context, state State) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := c.store.Save(saveCtx, state); err != nil {
		persistFailuresTotal.WithLabelValues(c.name).Inc()
		c.logger.ErrorContext(
			ctx,
			"error persisting quota state",
			tint.Err(err),
			"state", state,
		)
	}
}
