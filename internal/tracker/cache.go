package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/classify"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/eventlog"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/logging"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/procscan"
)

var trackLog = logging.ForComponent(logging.CompTracker)

// ErrRefreshTimeout is returned when a refresh cycle exceeds its budget. The
// cycle's work is discarded.
var ErrRefreshTimeout = errors.New("refresh timed out")

const refreshKey = "refresh"

// Scanner finds live session processes.
type Scanner interface {
	Scan(ctx context.Context) ([]procscan.TrackedProcess, error)
}

// LogReader reads a session's new event records.
type LogReader interface {
	ReadNew(sessionID string, cur eventlog.Cursor) (eventlog.ReadResult, error)
}

// FoldFunc folds records into a session state.
type FoldFunc func(prev classify.State, records []eventlog.Record, fullReplay bool) classify.State

// Options wires a Cache. Scanner and Reader are required.
type Options struct {
	Scanner Scanner
	Reader  LogReader
	Fold    FoldFunc
	Now     func() time.Time

	// PollInterval is the refresh period of Run and the age after which Get
	// refreshes on its own.
	PollInterval time.Duration

	// RefreshTimeout bounds one cycle.
	RefreshTimeout time.Duration

	// Parallelism bounds concurrent session reads within a cycle.
	Parallelism int

	// OnCommit, when set, is called with a copy of every published snapshot.
	OnCommit func(*Snapshot)
}

// Health describes the cache's last refresh attempts.
type Health struct {
	Generation  uint64    `json:"generation"`
	ProducedAt  time.Time `json:"producedAt"`
	AttemptedAt time.Time `json:"attemptedAt"`
	LastError   string    `json:"lastError,omitempty"`
	LastErrorAt time.Time `json:"lastErrorAt,omitempty"`
}

// Cache holds the last good Snapshot plus the per-session cursors and states
// it was built from. Only refresh cycles change them, and a cycle commits all
// three together or nothing.
type Cache struct {
	opts  Options
	group singleflight.Group
	wake  chan struct{}

	mu          sync.RWMutex
	snap        *Snapshot
	cursors     map[string]eventlog.Cursor
	states      map[string]classify.State
	attemptedAt time.Time
	lastErr     error
	lastErrAt   time.Time
	// stalled is closed when the last timed-out cycle returns; nil when no
	// abandoned cycle is outstanding.
	stalled chan struct{}
}

// New returns a Cache. It does no work until Get, Refresh or Run is called.
func New(opts Options) *Cache {
	if opts.Fold == nil {
		opts.Fold = classify.Fold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 10 * time.Second
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 4
	}
	return &Cache{
		opts:    opts,
		wake:    make(chan struct{}, 1),
		snap:    emptySnapshot(),
		cursors: map[string]eventlog.Cursor{},
		states:  map[string]classify.State{},
	}
}

// Get returns a copy of the current snapshot. When the last completed refresh
// attempt is older than the poll interval, or none has completed, it first
// joins or starts a refresh, waiting at most one refresh budget. Refresh
// failures are never returned; the last good snapshot is served instead.
func (c *Cache) Get(ctx context.Context) *Snapshot {
	if !c.fresh() {
		if err := c.join(ctx, true); err != nil && !errors.Is(err, context.Canceled) {
			trackLog.Debug("get_served_stale", slog.String("error", err.Error()))
		}
	}
	return c.Current()
}

// Current returns a copy of the cached snapshot without refreshing.
func (c *Cache) Current() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.Clone()
}

// Health reports generation and error bookkeeping.
func (c *Cache) Health() Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := Health{
		Generation:  c.snap.Generation,
		ProducedAt:  c.snap.ProducedAt,
		AttemptedAt: c.attemptedAt,
		LastErrorAt: c.lastErrAt,
	}
	if c.lastErr != nil {
		h.LastError = c.lastErr.Error()
	}
	return h
}

func (c *Cache) fresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.attemptedAt.IsZero() && c.opts.Now().Sub(c.attemptedAt) < c.opts.PollInterval
}

// Refresh runs one refresh cycle, or waits for the one already in flight.
func (c *Cache) Refresh(ctx context.Context) error {
	return c.join(ctx, false)
}

// join shares one in-flight cycle between callers. With staleOnly set the
// cycle is skipped when another caller committed since freshness was checked.
func (c *Cache) join(ctx context.Context, staleOnly bool) error {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		if staleOnly && c.fresh() {
			return nil, nil
		}
		return nil, c.refresh()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wake asks Run to refresh before the next tick. It never blocks.
func (c *Cache) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run refreshes every poll interval, and on Wake, until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	_ = c.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-c.wake:
		}
		_ = c.Refresh(ctx)
	}
}

type cycleResult struct {
	snap    *Snapshot
	cursors map[string]eventlog.Cursor
	states  map[string]classify.State
	err     error
}

// refresh runs one cycle over the committed maps, which it only reads, and
// commits the new maps and snapshot only if the cycle finishes in budget. A
// timed-out cycle keeps running in the background and its result is dropped;
// no new cycle starts until it has returned.
func (c *Cache) refresh() error {
	c.mu.RLock()
	stalled := c.stalled
	cursors := c.cursors
	states := c.states
	gen := c.snap.Generation
	c.mu.RUnlock()

	if stalled != nil {
		select {
		case <-stalled:
		default:
			err := fmt.Errorf("%w: previous cycle still running", ErrRefreshTimeout)
			c.recordError(err)
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RefreshTimeout)
	defer cancel()

	done := make(chan cycleResult, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		done <- c.cycle(ctx, cursors, states, gen)
	}()

	var res cycleResult
	select {
	case res = <-done:
		finished = nil
	case <-ctx.Done():
		res.err = ErrRefreshTimeout
	}
	c.mu.Lock()
	c.stalled = finished
	c.mu.Unlock()
	if res.err == nil && ctx.Err() != nil {
		res.err = ErrRefreshTimeout
	}

	if res.err != nil {
		c.recordError(res.err)
		return res.err
	}

	c.mu.Lock()
	c.attemptedAt = c.opts.Now()
	c.snap = res.snap
	c.cursors = res.cursors
	c.states = res.states
	c.mu.Unlock()

	if c.opts.OnCommit != nil {
		c.opts.OnCommit(res.snap.Clone())
	}
	return nil
}

func (c *Cache) recordError(err error) {
	c.mu.Lock()
	c.attemptedAt = c.opts.Now()
	c.lastErr = err
	c.lastErrAt = c.attemptedAt
	c.mu.Unlock()

	var scanErr *procscan.ScanError
	switch {
	case errors.As(err, &scanErr):
		trackLog.Warn("scan_failed", slog.String("error", err.Error()))
	case errors.Is(err, ErrRefreshTimeout):
		trackLog.Warn("refresh_timeout", slog.Duration("budget", c.opts.RefreshTimeout))
	default:
		trackLog.Warn("refresh_failed", slog.String("error", err.Error()))
	}
}

type sessionResult struct {
	cursor eventlog.Cursor
	state  classify.State
}

// cycle never writes to the maps it is given.
func (c *Cache) cycle(ctx context.Context, cursors map[string]eventlog.Cursor, states map[string]classify.State, gen uint64) cycleResult {
	procs, err := c.opts.Scanner.Scan(ctx)
	if err != nil {
		var scanErr *procscan.ScanError
		if !errors.As(err, &scanErr) {
			err = &procscan.ScanError{Err: err}
		}
		return cycleResult{err: err}
	}

	results := make([]sessionResult, len(procs))
	g := new(errgroup.Group)
	g.SetLimit(c.opts.Parallelism)
	for i := range procs {
		sid := procs[i].SessionID
		prevCur := cursors[sid]
		prevState, seen := states[sid]
		if !seen {
			prevState = classify.New()
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = sessionResult{cursor: prevCur, state: prevState}
				return nil
			}
			results[i] = c.readSession(sid, prevCur, prevState)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return cycleResult{err: fmt.Errorf("%w: %v", ErrRefreshTimeout, err)}
	}

	next := cycleResult{
		snap: &Snapshot{
			Sessions:   make(map[string]SessionEntry, len(procs)),
			Generation: gen + 1,
			ProducedAt: c.opts.Now(),
		},
		cursors: make(map[string]eventlog.Cursor, len(procs)),
		states:  make(map[string]classify.State, len(procs)),
	}
	for i, p := range procs {
		r := results[i]
		next.cursors[p.SessionID] = r.cursor
		next.states[p.SessionID] = r.state
		next.snap.Sessions[p.SessionID] = SessionEntry{TrackedProcess: p, State: r.state.Clone()}
	}
	return next
}

// readSession reads and folds one session. On a read error the previous
// cursor and state are kept for the next cycle.
func (c *Cache) readSession(sid string, cur eventlog.Cursor, prev classify.State) sessionResult {
	res, err := c.opts.Reader.ReadNew(sid, cur)
	if err != nil {
		logging.Aggregate(logging.CompTracker, "session_read_failed", slog.String("session", sid))
		trackLog.Debug("session_read_failed",
			slog.String("session", sid),
			slog.String("error", err.Error()))
		return sessionResult{cursor: cur, state: prev}
	}
	return sessionResult{
		cursor: res.Cursor,
		state:  c.opts.Fold(prev, res.Records, res.FullReplay),
	}
}
