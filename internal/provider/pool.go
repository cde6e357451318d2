// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ManuGH/asrhub/internal/log"
	"github.com/ManuGH/asrhub/internal/metrics"
)

var (
	// ErrNoCapacityForSession means the session already holds its quota.
	ErrNoCapacityForSession = errors.New("no capacity for session")
	// ErrLeaseTimeout means no provider became available in time.
	ErrLeaseTimeout = errors.New("lease timeout")
	// ErrInitializationFailed means no provider could ever be constructed.
	ErrInitializationFailed = errors.New("provider initialization failed")
	// ErrPoolClosed means the pool has been shut down.
	ErrPoolClosed = errors.New("pool closed")
	// ErrNotLeased is returned when releasing a provider the pool did not lease.
	ErrNotLeased = errors.New("provider not leased")
)

// Config bounds the pool.
type Config struct {
	MinSize                int
	MaxSize                int
	PerSessionQuota        int
	MaxConsecutiveFailures int
	LeaseTimeout           time.Duration
	AgingFactor            float64 // effective priority points per ms waited
	DefaultPriority        int
	ScanLimit              int // bounded waiter scan per release
}

func (c *Config) defaults() {
	if c.MaxSize <= 0 {
		c.MaxSize = 2
	}
	if c.MinSize < 0 {
		c.MinSize = 0
	}
	if c.MinSize > c.MaxSize {
		c.MinSize = c.MaxSize
	}
	if c.PerSessionQuota <= 0 {
		c.PerSessionQuota = 1
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 3
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 30 * time.Second
	}
	if c.ScanLimit <= 0 {
		c.ScanLimit = 64
	}
}

type managed struct {
	id       string
	p        Provider
	failures int
	healthy  bool
	leasedTo string // session id, "" while idle
	leasedAt time.Time
}

type waiter struct {
	sessionID  string
	priority   int
	enqueuedAt time.Time
	ch         chan *managed // buffered(1); handoff without round-trip
}

// Stats is a point-in-time view of pool accounting.
type Stats struct {
	Created   uint64
	Leased    uint64
	Released  uint64
	Timeouts  uint64
	Errors    uint64
	Available int
	InUse     int
	Waiting   int
	Healthy   int
	Unhealthy int
	AvgWait   time.Duration
}

// Pool owns a bounded set of providers and hands them out under a lease
// discipline with priority aging and health eviction.
type Pool struct {
	cfg     Config
	factory Factory

	createLimiter *rate.Limiter

	mu      sync.Mutex
	idle    []*managed
	byProv  map[Provider]*managed
	quota   map[string]int
	waiters []*waiter
	total   int
	closed  bool

	created      uint64
	leasedTotal  uint64
	released     uint64
	timeouts     uint64
	createErrors uint64
	waitTotal    time.Duration
	waitSamples  uint64
}

// NewPool constructs an empty pool; providers are created on demand and
// MinSize is honoured lazily on first use.
func NewPool(cfg Config, factory Factory) *Pool {
	cfg.defaults()
	return &Pool{
		cfg:     cfg,
		factory: factory,
		// Construction retries after failures are throttled so a broken
		// engine binary cannot melt the host.
		createLimiter: rate.NewLimiter(rate.Every(200*time.Millisecond), cfg.MaxSize),
		byProv:        make(map[Provider]*managed),
		quota:         make(map[string]int),
	}
}

// Prewarm creates MinSize providers up front. Partial success is fine;
// the pool remains usable as long as one provider can be created.
func (p *Pool) Prewarm(ctx context.Context) error {
	var firstErr error
	for i := 0; i < p.cfg.MinSize; i++ {
		m, err := p.create(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		p.mu.Lock()
		p.idle = append(p.idle, m)
		p.mu.Unlock()
		metrics.PoolAvailable.Inc()
	}
	return firstErr
}

// Lease acquires a provider for the session, honouring quota, growth and
// the aging wait queue. timeout=0 never blocks. priority<=0 uses the
// configured default.
func (p *Pool) Lease(ctx context.Context, sessionID string, priority int, timeout time.Duration) (Provider, error) {
	if priority <= 0 {
		priority = p.cfg.DefaultPriority
	}
	start := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		metrics.RecordLease("closed")
		return nil, ErrPoolClosed
	}
	if p.quota[sessionID] >= p.cfg.PerSessionQuota {
		p.mu.Unlock()
		metrics.RecordLease("quota")
		return nil, fmt.Errorf("%w: session %s holds %d lease(s)", ErrNoCapacityForSession, sessionID, p.cfg.PerSessionQuota)
	}
	// Reserve the quota slot now. The lock is dropped for growth and the
	// waiter handoff, and a concurrent lease for the same session must not
	// slip past the check in the meantime.
	p.quota[sessionID]++

	// Idle pick. Unhealthy stragglers are disposed on sight.
	if m := p.popIdleLocked(); m != nil {
		p.assignLocked(m, sessionID)
		p.mu.Unlock()
		p.observeWait(start)
		metrics.RecordLease("hit")
		return m.p, nil
	}

	// Grow synchronously below the cap.
	if p.total < p.cfg.MaxSize {
		p.total++ // reserve the slot before releasing the lock
		p.mu.Unlock()
		m, err := p.createReserved(ctx)
		p.mu.Lock()
		if err != nil {
			p.total--
			if p.total == 0 && len(p.idle) == 0 {
				p.unreserveLocked(sessionID)
				p.mu.Unlock()
				metrics.RecordLease("init_failed")
				return nil, fmt.Errorf("%w: %v", ErrInitializationFailed, err)
			}
			// Fall through to the wait queue.
		} else {
			p.assignLocked(m, sessionID)
			p.mu.Unlock()
			p.observeWait(start)
			metrics.RecordLease("created")
			return m.p, nil
		}
	}

	if timeout == 0 {
		p.timeouts++
		p.unreserveLocked(sessionID)
		p.mu.Unlock()
		metrics.RecordLease("timeout")
		return nil, ErrLeaseTimeout
	}
	if timeout < 0 {
		timeout = p.cfg.LeaseTimeout
	}

	w := &waiter{sessionID: sessionID, priority: priority, enqueuedAt: time.Now(), ch: make(chan *managed, 1)}
	p.waiters = append(p.waiters, w)
	metrics.PoolWaiting.Set(float64(len(p.waiters)))
	p.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case m := <-w.ch:
		if m == nil { // channel closed by Shutdown
			metrics.RecordLease("closed")
			return nil, ErrPoolClosed
		}
		p.observeWait(start)
		metrics.RecordLease("queued")
		return m.p, nil
	case <-t.C:
		return nil, p.abandonWaiter(w, ErrLeaseTimeout)
	case <-ctx.Done():
		return nil, p.abandonWaiter(w, ctx.Err())
	}
}

// abandonWaiter removes w from the queue; if a handoff raced us, the
// provider is taken back and released so it is not leaked.
func (p *Pool) abandonWaiter(w *waiter, cause error) error {
	p.mu.Lock()
	removed := false
	for i, cand := range p.waiters {
		if cand == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			removed = true
			break
		}
	}
	metrics.PoolWaiting.Set(float64(len(p.waiters)))
	if errors.Is(cause, ErrLeaseTimeout) {
		p.timeouts++
	}
	if removed {
		p.unreserveLocked(w.sessionID)
	}
	p.mu.Unlock()

	if !removed {
		// Handoff in flight; the buffered channel guarantees delivery.
		// Release returns the reservation along with the instance.
		if m := <-w.ch; m != nil {
			_ = p.Release(m.p)
		}
	}
	if errors.Is(cause, ErrLeaseTimeout) {
		metrics.RecordLease("timeout")
	} else {
		metrics.RecordLease("cancelled")
	}
	return cause
}

// Release returns a provider to the pool, serving the best waiter directly
// when one exists.
func (p *Pool) Release(prov Provider) error {
	p.mu.Lock()
	m, ok := p.byProv[prov]
	if !ok || m.leasedTo == "" {
		p.mu.Unlock()
		return ErrNotLeased
	}

	p.unreserveLocked(m.leasedTo)
	m.leasedTo = ""
	p.released++
	metrics.PoolLeased.Dec()

	if !m.healthy {
		p.removeLocked(m)
		// Serve waiters with a fresh instance when the cap allows it;
		// otherwise replacement happens lazily at the next lease.
		canReplace := len(p.waiters) > 0 && p.total < p.cfg.MaxSize
		if canReplace {
			p.total++
		}
		p.mu.Unlock()
		p.dispose(m, "unhealthy")
		if canReplace {
			fresh, err := p.createReserved(context.Background())
			p.mu.Lock()
			if err != nil {
				p.total--
				p.mu.Unlock()
				return nil
			}
			p.handoffOrParkLocked(fresh)
			p.mu.Unlock()
		}
		return nil
	}

	p.handoffOrParkLocked(m)
	p.mu.Unlock()
	return nil
}

// handoffOrParkLocked gives the provider to the best waiter, shuts it down
// above MinSize when nobody waits, or parks it in the idle set.
func (p *Pool) handoffOrParkLocked(m *managed) {
	if w := p.takeBestWaiterLocked(); w != nil {
		p.assignLocked(m, w.sessionID)
		w.ch <- m
		return
	}
	if p.total > p.cfg.MinSize {
		p.removeLocked(m)
		go p.dispose(m, "shrink")
		return
	}
	p.idle = append(p.idle, m)
	metrics.PoolAvailable.Set(float64(len(p.idle)))
}

// takeBestWaiterLocked scans at most ScanLimit waiters in FIFO order and
// removes the one with the maximum effective priority
// (base + aging_factor * age_ms). Ties favour the earliest enqueue.
func (p *Pool) takeBestWaiterLocked() *waiter {
	if len(p.waiters) == 0 {
		return nil
	}
	now := time.Now()
	limit := len(p.waiters)
	if limit > p.cfg.ScanLimit {
		limit = p.cfg.ScanLimit
	}
	best := 0
	bestEff := p.effectivePriority(p.waiters[0], now)
	for i := 1; i < limit; i++ {
		if eff := p.effectivePriority(p.waiters[i], now); eff > bestEff {
			best, bestEff = i, eff
		}
	}
	w := p.waiters[best]
	p.waiters = append(p.waiters[:best], p.waiters[best+1:]...)
	metrics.PoolWaiting.Set(float64(len(p.waiters)))
	return w
}

func (p *Pool) effectivePriority(w *waiter, now time.Time) float64 {
	ageMs := float64(now.Sub(w.enqueuedAt)) / float64(time.Millisecond)
	return float64(w.priority) + p.cfg.AgingFactor*ageMs
}

// MarkSuccess resets the failure counter after a successful engine call.
func (p *Pool) MarkSuccess(prov Provider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.byProv[prov]; ok {
		m.failures = 0
	}
}

// MarkFailure counts a failed engine call; reaching the threshold makes
// the provider unhealthy and evicts it from the idle set immediately.
func (p *Pool) MarkFailure(prov Provider, reason error) {
	p.mu.Lock()
	m, ok := p.byProv[prov]
	if !ok {
		p.mu.Unlock()
		return
	}
	m.failures++
	if m.failures < p.cfg.MaxConsecutiveFailures || !m.healthy {
		p.mu.Unlock()
		return
	}
	m.healthy = false
	metrics.PoolUnhealthyTotal.Inc()
	logger := log.WithComponent("pool")
	logger.Warn().
		Str(log.FieldProviderID, m.id).
		Int("consecutive_failures", m.failures).
		AnErr("cause", reason).
		Msg("provider marked unhealthy")

	// Idle instances are removed right away; leased ones die on release.
	if m.leasedTo == "" {
		for i, cand := range p.idle {
			if cand == m {
				p.idle = append(p.idle[:i], p.idle[i+1:]...)
				metrics.PoolAvailable.Set(float64(len(p.idle)))
				break
			}
		}
		p.removeLocked(m)
		p.mu.Unlock()
		p.dispose(m, "unhealthy")
		return
	}
	p.mu.Unlock()
}

// WithLease runs fn with a leased provider and always releases, success or
// failure. Engine health bookkeeping stays with the caller.
func (p *Pool) WithLease(ctx context.Context, sessionID string, priority int, timeout time.Duration, fn func(Provider) error) error {
	prov, err := p.Lease(ctx, sessionID, priority, timeout)
	if err != nil {
		return err
	}
	defer func() { _ = p.Release(prov) }()
	return fn(prov)
}

// ReleaseAll releases every lease held by the session; used on destroy.
func (p *Pool) ReleaseAll(sessionID string) int {
	p.mu.Lock()
	var held []*managed
	for _, m := range p.byProv {
		if m.leasedTo == sessionID {
			held = append(held, m)
		}
	}
	p.mu.Unlock()
	for _, m := range held {
		_ = p.Release(m.p)
	}
	return len(held)
}

// Leases returns the outstanding lease records.
func (p *Pool) Leases() []LeaseInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []LeaseInfo
	for _, m := range p.byProv {
		if m.leasedTo != "" {
			out = append(out, LeaseInfo{SessionID: m.leasedTo, ProviderID: m.id, LeasedAt: m.leasedAt})
		}
	}
	return out
}

// Stats returns a consistent snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{
		Created:   p.created,
		Leased:    p.leasedTotal,
		Released:  p.released,
		Timeouts:  p.timeouts,
		Errors:    p.createErrors,
		Available: len(p.idle),
		Waiting:   len(p.waiters),
	}
	for _, m := range p.byProv {
		if m.leasedTo != "" {
			s.InUse++
		}
		if m.healthy {
			s.Healthy++
		} else {
			s.Unhealthy++
		}
	}
	if p.waitSamples > 0 {
		s.AvgWait = p.waitTotal / time.Duration(p.waitSamples)
	}
	return s
}

// Shutdown cancels all waiters and disposes every provider.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	var all []*managed
	for _, m := range p.byProv {
		all = append(all, m)
	}
	p.byProv = make(map[Provider]*managed)
	p.idle = nil
	p.total = 0
	p.quota = make(map[string]int)
	p.mu.Unlock()

	for _, w := range waiters {
		close(w.ch)
	}
	for _, m := range all {
		p.dispose(m, "shutdown")
	}
	metrics.PoolAvailable.Set(0)
	metrics.PoolLeased.Set(0)
	metrics.PoolWaiting.Set(0)
	return ctx.Err()
}

// ── internals ──────────────────────────────────────────────────────────

// popIdleLocked returns the next healthy idle provider, disposing any
// unhealthy instances it encounters.
func (p *Pool) popIdleLocked() *managed {
	for len(p.idle) > 0 {
		m := p.idle[0]
		p.idle = p.idle[1:]
		metrics.PoolAvailable.Set(float64(len(p.idle)))
		if m.healthy {
			return m
		}
		p.removeLocked(m)
		go p.dispose(m, "unhealthy")
	}
	return nil
}

// assignLocked binds an instance to a session whose quota slot is already
// reserved; the reservation happened at Lease entry.
func (p *Pool) assignLocked(m *managed, sessionID string) {
	m.leasedTo = sessionID
	m.leasedAt = time.Now()
	p.leasedTotal++
	metrics.PoolLeased.Inc()
}

// unreserveLocked gives back a quota slot taken at Lease entry.
func (p *Pool) unreserveLocked(sessionID string) {
	p.quota[sessionID]--
	if p.quota[sessionID] <= 0 {
		delete(p.quota, sessionID)
	}
}

// create builds and registers a new provider, counting the slot.
func (p *Pool) create(ctx context.Context) (*managed, error) {
	p.mu.Lock()
	if p.total >= p.cfg.MaxSize {
		p.mu.Unlock()
		return nil, ErrLeaseTimeout
	}
	p.total++
	p.mu.Unlock()
	m, err := p.createReserved(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		return nil, err
	}
	return m, nil
}

// createReserved builds a provider for an already-reserved slot.
func (p *Pool) createReserved(ctx context.Context) (*managed, error) {
	if !p.createLimiter.Allow() {
		p.mu.Lock()
		p.createErrors++
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: creation throttled", ErrInitializationFailed)
	}
	prov, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.createErrors++
		p.mu.Unlock()
		return nil, err
	}
	if err := prov.Initialize(ctx); err != nil {
		_ = prov.Cleanup()
		p.mu.Lock()
		p.createErrors++
		p.mu.Unlock()
		return nil, err
	}
	m := &managed{id: uuid.NewString(), p: prov, healthy: true}
	p.mu.Lock()
	p.byProv[prov] = m
	p.created++
	p.mu.Unlock()
	metrics.PoolProvidersCreatedTotal.Inc()
	return m, nil
}

func (p *Pool) removeLocked(m *managed) {
	delete(p.byProv, m.p)
	p.total--
}

func (p *Pool) dispose(m *managed, cause string) {
	if err := m.p.Cleanup(); err != nil {
		logger := log.WithComponent("pool")
		logger.Warn().
			Str(log.FieldProviderID, m.id).
			Err(err).
			Msg("provider cleanup failed")
	}
	metrics.PoolProvidersDisposedTotal.WithLabelValues(cause).Inc()
}

func (p *Pool) observeWait(start time.Time) {
	d := time.Since(start)
	p.mu.Lock()
	p.waitTotal += d
	p.waitSamples++
	p.mu.Unlock()
	metrics.PoolLeaseWaitSeconds.Observe(d.Seconds())
}
