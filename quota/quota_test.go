package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore is an in-memory Store which can be told to fail.
type memoryStore struct {
	mu        sync.Mutex
	state     State
	exists    bool
	loadErr   error
	saveErr   error
	saves     int
	loadDelay time.Duration
}

func (m *memoryStore) Load(_ context.Context) (State, error) {
	if m.loadDelay > 0 {
		time.Sleep(m.loadDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return State{}, m.loadErr
	}
	if !m.exists {
		return State{}, ErrNoState
	}
	return m.state, nil
}

func (m *memoryStore) Save(_ context.Context, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.state = state
	m.exists = true
	m.saves++
	return nil
}

func (m *memoryStore) current() (State, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.saves
}

func testLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     slog.LevelWarn,
				AddSource: true,
			},
		),
	).With("test", t.Name())
}

// fixedClock returns a clock function, and a function to move it.
func fixedClock(t testing.TB, day string) (func() time.Time, func(string)) {
	t.Helper()
	var mu sync.Mutex
	parse := func(s string) time.Time {
		ts, err := time.Parse(DateLayout, s)
		require.NoError(t, err)
		return ts.Add(13 * time.Hour)
	}
	current := parse(day)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	set := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		current = parse(s)
	}
	return now, set
}

func newTestCounter(t testing.TB, store Store, ceiling int, day string) (*Counter, func(string)) {
	t.Helper()
	c, err := New(
		store,
		Config{Name: t.Name(), Ceiling: ceiling, LockTimeout: DefaultLockTimeout},
		testLogger(t),
	)
	require.NoError(t, err)
	now, set := fixedClock(t, day)
	c.now = now
	return c, set
}

func checks(t testing.TB, result string) float64 {
	t.Helper()
	return testutil.ToFloat64(checksTotal.WithLabelValues(t.Name(), result))
}

func TestCounter_Scenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &memoryStore{}
	c, setDay := newTestCounter(t, store, 20, "2024-06-01")

	for i := 1; i <= 20; i++ {
		ok, err := c.CheckAndIncrement(ctx)
		require.NoError(t, err)
		assert.Truef(t, ok, "call %d should be allowed", i)
	}
	state, _ := store.current()
	assert.Equal(t, State{Date: "2024-06-01", Count: 20}, state)

	ok, err := c.CheckAndIncrement(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	state, saves := store.current()
	assert.Equal(t, State{Date: "2024-06-01", Count: 20}, state)
	assert.Equal(t, 20, saves, "denied call should not write")
	assert.Equal(t, float64(20), checks(t, resultAllowed))
	assert.Equal(t, float64(1), checks(t, resultDenied))
	assert.Equal(t, float64(20), testutil.ToFloat64(usedGauge.WithLabelValues(t.Name())))

	setDay("2024-06-02")
	ok, err = c.CheckAndIncrement(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	state, _ = store.current()
	assert.Equal(t, State{Date: "2024-06-02", Count: 1}, state)
	assert.Equal(t, float64(21), checks(t, resultAllowed))
	assert.Equal(t, float64(1), checks(t, resultDenied))
	assert.Equal(t, float64(1), testutil.ToFloat64(usedGauge.WithLabelValues(t.Name())))
	assert.Zero(t, checks(t, resultError))
	assert.Zero(t, checks(t, resultLockTimeout))
}

func TestCounter_SequentialBound(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ceiling int
		calls   int
	}{
		{ceiling: 1, calls: 1},
		{ceiling: 1, calls: 5},
		{ceiling: 7, calls: 3},
		{ceiling: 7, calls: 35},
		{ceiling: 20, calls: 20},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(
			fmt.Sprintf("ceiling_%d_calls_%d", tc.ceiling, tc.calls),
			func(t *testing.T) {
				t.Parallel()
				c, _ := newTestCounter(t, &memoryStore{}, tc.ceiling, "2024-06-01")
				allowed := 0
				for i := 0; i < tc.calls; i++ {
					ok, err := c.CheckAndIncrement(context.Background())
					require.NoError(t, err)
					if ok {
						allowed++
					}
				}
				assert.Equal(t, min(tc.calls, tc.ceiling), allowed)
			},
		)
	}
}

func TestCounter_FreshStart(t *testing.T) {
	t.Parallel()
	store := &memoryStore{}
	c, _ := newTestCounter(t, store, 3, "2024-06-01")

	ok, err := c.CheckAndIncrement(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	state, saves := store.current()
	assert.Equal(t, State{Date: "2024-06-01", Count: 1}, state)
	assert.Equal(t, 1, saves)
}

func TestCounter_DayRollover(t *testing.T) {
	t.Parallel()
	store := &memoryStore{
		state:  State{Date: "2024-06-01", Count: 5},
		exists: true,
	}
	c, _ := newTestCounter(t, store, 5, "2024-06-02")

	ok, err := c.CheckAndIncrement(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	state, _ := store.current()
	assert.Equal(t, State{Date: "2024-06-02", Count: 1}, state)
}

func TestCounter_StaleCountAboveCeiling(t *testing.T) {
	t.Parallel()
	// ex: the ceiling was lowered between restarts
	store := &memoryStore{
		state:  State{Date: "2024-06-01", Count: 50},
		exists: true,
	}
	c, setDay := newTestCounter(t, store, 5, "2024-06-01")

	ok, err := c.CheckAndIncrement(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	setDay("2024-06-02")
	ok, err = c.CheckAndIncrement(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	state, _ := store.current()
	assert.Equal(t, 1, state.Count)
}

func TestCounter_ClockMovesBackward(t *testing.T) {
	t.Parallel()
	store := &memoryStore{
		state:  State{Date: "2024-06-02", Count: 3},
		exists: true,
	}
	c, _ := newTestCounter(t, store, 3, "2024-06-01")

	ok, err := c.CheckAndIncrement(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	state, _ := store.current()
	assert.Equal(t, State{Date: "2024-06-01", Count: 1}, state)
}

func TestCounter_ConcurrentExhaustion(t *testing.T) {
	t.Parallel()
	const ceiling = 10

	store := &memoryStore{loadDelay: time.Millisecond}
	c, _ := newTestCounter(t, store, ceiling, "2024-06-01")
	c.lockTimeout = time.Minute

	var allowed atomic.Int64
	var denied atomic.Int64
	start := make(chan struct{})
	wg := sync.WaitGroup{}

	for i := 0; i < ceiling+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := c.CheckAndIncrement(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			if ok {
				allowed.Add(1)
			} else {
				denied.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(ceiling), allowed.Load())
	assert.Equal(t, int64(1), denied.Load())
	state, _ := store.current()
	assert.Equal(t, ceiling, state.Count)
}

func TestCounter_PersistFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &memoryStore{}
	c, _ := newTestCounter(t, store, 3, "2024-06-01")

	ok, err := c.CheckAndIncrement(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	store.mu.Lock()
	store.saveErr = errors.New("disk full")
	store.mu.Unlock()

	// decision is still returned when the write fails
	ok, err = c.CheckAndIncrement(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	state, _ := store.current()
	assert.Equal(t, State{Date: "2024-06-01", Count: 1}, state)
	assert.Equal(t, float64(1), testutil.ToFloat64(persistFailuresTotal.WithLabelValues(t.Name())))
	assert.Equal(t, float64(2), checks(t, resultAllowed))

	store.mu.Lock()
	store.saveErr = nil
	store.mu.Unlock()

	// the next call works from the last state that was actually saved
	ok, err = c.CheckAndIncrement(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	state, _ = store.current()
	assert.Equal(t, State{Date: "2024-06-01", Count: 2}, state)
	assert.Equal(t, float64(1), testutil.ToFloat64(persistFailuresTotal.WithLabelValues(t.Name())))
}

func TestCounter_CorruptStateTreatedAsFresh(t *testing.T) {
	t.Parallel()
	tests := map[string]*memoryStore{
		"decode_error": {
			loadErr: fmt.Errorf("%w: unexpected EOF", ErrCorruptState),
		},
		"negative_count": {
			state:  State{Date: "2024-06-01", Count: -4},
			exists: true,
		},
		"bad_date": {
			state:  State{Date: "June 1st", Count: 2},
			exists: true,
		},
	}
	for name, store := range tests {
		store := store
		t.Run(
			name, func(t *testing.T) {
				t.Parallel()
				c, _ := newTestCounter(t, store, 3, "2024-06-01")

				ok, err := c.CheckAndIncrement(context.Background())
				require.NoError(t, err)
				assert.True(t, ok)

				state, _ := store.current()
				assert.Equal(t, State{Date: "2024-06-01", Count: 1}, state)
			},
		)
	}
}

func TestCounter_LoadErrorFailsClosed(t *testing.T) {
	t.Parallel()
	store := &memoryStore{loadErr: errors.New("connection refused")}
	c, _ := newTestCounter(t, store, 3, "2024-06-01")

	ok, err := c.CheckAndIncrement(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	_, saves := store.current()
	assert.Equal(t, 0, saves)
	assert.Equal(t, float64(1), checks(t, resultError))
	assert.Zero(t, checks(t, resultDenied))
	assert.Zero(t, checks(t, resultAllowed))
}

func TestCounter_Consume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &memoryStore{}
	c, _ := newTestCounter(t, store, 1, "2024-06-01")

	result, err := c.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, Allowed, result)

	result, err = c.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, Denied, result)

	store.mu.Lock()
	store.loadErr = errors.New("connection refused")
	store.mu.Unlock()

	result, err = c.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, Unavailable, result)
	assert.Equal(t, "error", result.String())

	c.lockTimeout = 20 * time.Millisecond
	require.True(t, c.sem.TryAcquire(1))
	t.Cleanup(func() { c.sem.Release(1) })

	result, err = c.Consume(ctx)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Equal(t, Unavailable, result)

	assert.Equal(t, float64(1), checks(t, resultAllowed))
	assert.Equal(t, float64(1), checks(t, resultDenied))
	assert.Equal(t, float64(1), checks(t, resultError))
	assert.Equal(t, float64(1), checks(t, resultLockTimeout))
}

func TestCounter_LockTimeout(t *testing.T) {
	t.Parallel()
	c, _ := newTestCounter(t, &memoryStore{}, 3, "2024-06-01")
	c.lockTimeout = 50 * time.Millisecond

	require.True(t, c.sem.TryAcquire(1))
	t.Cleanup(func() { c.sem.Release(1) })

	ok, err := c.CheckAndIncrement(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Equal(t, float64(1), checks(t, resultLockTimeout))
	assert.Zero(t, checks(t, resultError))

	_, err = c.Usage(context.Background())
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Equal(t, float64(1), checks(t, resultLockTimeout), "usage reads aren't counted as checks")
}

func TestCounter_CanceledContextWhileWaiting(t *testing.T) {
	t.Parallel()
	c, _ := newTestCounter(t, &memoryStore{}, 3, "2024-06-01")
	c.lockTimeout = 0

	require.True(t, c.sem.TryAcquire(1))
	t.Cleanup(func() { c.sem.Release(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	t.Cleanup(cancel)

	ok, err := c.CheckAndIncrement(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCounter_Usage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &memoryStore{}
	c, setDay := newTestCounter(t, store, 4, "2024-06-01")

	usage, err := c.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(
		t,
		Usage{Name: t.Name(), Date: "2024-06-01", Count: 0, Ceiling: 4, Remaining: 4},
		usage,
	)

	for i := 0; i < 3; i++ {
		_, err = c.CheckAndIncrement(ctx)
		require.NoError(t, err)
	}
	usage, err = c.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, usage.Count)
	assert.Equal(t, 1, usage.Remaining)

	setDay("2024-06-02")
	usage, err = c.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-02", usage.Date)
	assert.Equal(t, 0, usage.Count)
	assert.Equal(t, 4, usage.Remaining)

	_, saves := store.current()
	assert.Equal(t, 3, saves, "usage should never write")
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	_, err := New(nil, Config{Ceiling: 1}, nil)
	assert.Error(t, err)

	_, err = New(&memoryStore{}, Config{Ceiling: 0}, nil)
	assert.Error(t, err)

	_, err = New(&memoryStore{}, Config{Ceiling: 1, LockTimeout: -time.Second}, nil)
	assert.Error(t, err)

	c, err := New(&memoryStore{}, Config{Ceiling: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultName, c.Name())
	assert.Equal(t, 2, c.Ceiling())
}
