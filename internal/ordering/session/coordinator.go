package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"order-workers/internal/common/config"
	"order-workers/internal/common/database"
	apperrors "order-workers/internal/common/errors"
	"order-workers/internal/common/metrics"
	"order-workers/internal/models"
)

var (
	ErrDuplicateMessage = errors.New("DUPLICATE_MESSAGE")
	ErrBusy             = errors.New("SESSION_BUSY")
	ErrConflict         = errors.New("CONCURRENCY_CONFLICT")
	ErrHandleFinished   = errors.New("HANDLE_FINISHED")
)

type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

type Config struct {
	IdleTimeout     time.Duration
	LockTimeout     time.Duration
	DedupWindow     time.Duration
	CleanupInterval time.Duration
	BusyPolicy      string
	LockMode        string
}

// ConfigFrom converts the millisecond YAML settings.
func ConfigFrom(cfg config.SessionConfig) Config {
	return Config{
		IdleTimeout:     config.GetDuration(cfg.IdleTimeout),
		LockTimeout:     config.GetDuration(cfg.LockTimeout),
		DedupWindow:     config.GetDuration(cfg.DedupWindow),
		CleanupInterval: config.GetDuration(cfg.CleanupInterval),
		BusyPolicy:      cfg.BusyPolicy,
		LockMode:        cfg.LockMode,
	}
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 10 * time.Second
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 5 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	if c.BusyPolicy == "" {
		c.BusyPolicy = config.BusyPolicyBlock
	}
	if c.LockMode == "" {
		c.LockMode = config.LockModeOptimistic
	}
	return c
}

// NewBackends builds the store, locker and deduper named by cfg.Store.
func NewBackends(cfg config.SessionConfig, rc *database.RedisClient, pg *database.PostgresClient) (Store, Locker, Deduper, error) {
	switch cfg.Store {
	case "", config.StoreMemory:
		return NewMemoryStore(), NewKeyedLocker(), NewMemoryDeduper(nil), nil
	case config.StoreRedis:
		if rc == nil {
			return nil, nil, nil, fmt.Errorf("session store redis requires a redis client")
		}
		return NewRedisStore(rc, 0), NewRedisLocker(rc, 0), NewRedisDeduper(rc), nil
	case config.StorePostgres:
		if pg == nil {
			return nil, nil, nil, fmt.Errorf("session store postgres requires a postgres client")
		}
		var locker Locker = NewKeyedLocker()
		var dedup Deduper = NewMemoryDeduper(nil)
		if rc != nil {
			locker, dedup = NewRedisLocker(rc, 0), NewRedisDeduper(rc)
		}
		return NewPostgresStore(pg), locker, dedup, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}

// Handle is a claimed turn. State is the snapshot to resolve against; it is
// already reset when the session had expired.
type Handle struct {
	UserID    string
	MessageID string
	State     models.SessionState
	Expired   bool
	IdleFor   time.Duration

	prior        models.SessionState
	hadPrior     bool
	claimVersion int64
	unlock       func()
	done         bool
}

// Version is the claimed version the commit is conditioned on.
func (h *Handle) Version() int64 { return h.claimVersion }

type Stats struct {
	Active     int   `json:"active"`
	InFlight   int64 `json:"inFlight"`
	Acquired   int64 `json:"acquired"`
	Committed  int64 `json:"committed"`
	Released   int64 `json:"released"`
	Duplicates int64 `json:"duplicates"`
	Conflicts  int64 `json:"conflicts"`
	Busy       int64 `json:"busy"`
	Expired    int64 `json:"expired"`
	LocksHeld  int   `json:"locksHeld"`
}

type counters struct {
	inFlight   atomic.Int64
	acquired   atomic.Int64
	committed  atomic.Int64
	released   atomic.Int64
	duplicates atomic.Int64
	conflicts  atomic.Int64
	busy       atomic.Int64
	expired    atomic.Int64
}

// Coordinator is the only synchronization point between turns. It holds a
// per-user lock around the state read and claim; in optimistic mode the
// lock is dropped before resolution and the commit is version-checked.
type Coordinator struct {
	store  Store
	locker Locker
	dedup  Deduper
	config Config
	logger Logger
	now    func() time.Time
	stats  counters
}

type Option func(*Coordinator)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(store Store, locker Locker, dedup Deduper, cfg Config, log Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  store,
		locker: locker,
		dedup:  dedup,
		config: cfg.withDefaults(),
		logger: log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func dedupKey(userID, messageID string) string {
	return userID + ":" + messageID
}

// holdsLock reports whether the user lock stays held until Commit or Release.
// Turns that can place an order always hold it so that a second message
// cannot resolve against the same confirmation snapshot.
func (c *Coordinator) holdsLock(state models.SessionState) bool {
	return c.config.LockMode == config.LockModeSerialized ||
		state.CurrentStep == models.StepAwaitingConfirmation
}

// Acquire claims the user's session for one message. It returns
// ErrDuplicateMessage when messageID was already processed and ErrBusy when
// the user lock cannot be taken under the busy policy.
func (c *Coordinator) Acquire(ctx context.Context, userID, messageID string) (*Handle, error) {
	if userID == "" {
		return nil, apperrors.NewInvalidInputError("userId is required")
	}

	start := time.Now()
	unlock, err := c.lock(ctx, userID)
	metrics.LockWait.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	h, err := c.claim(ctx, userID, messageID)
	if err != nil {
		unlock()
		return nil, err
	}

	if c.holdsLock(h.State) {
		h.unlock = unlock
	} else {
		unlock()
	}

	c.stats.acquired.Add(1)
	c.stats.inFlight.Add(1)
	metrics.SessionEvents.WithLabelValues("acquired").Inc()
	return h, nil
}

func (c *Coordinator) lock(ctx context.Context, userID string) (func(), error) {
	if c.config.BusyPolicy == config.BusyPolicyReject {
		unlock, ok, err := c.locker.TryLock(ctx, userID)
		if err != nil {
			return nil, apperrors.NewSessionStoreFailedError("lock", err)
		}
		if !ok {
			return nil, c.busyErr(userID)
		}
		return unlock, nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, c.config.LockTimeout)
	defer cancel()
	unlock, err := c.locker.Lock(lockCtx, userID)
	if err == nil {
		return unlock, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, c.busyErr(userID)
	}
	return nil, apperrors.NewSessionStoreFailedError("lock", err)
}

func (c *Coordinator) busyErr(userID string) error {
	c.stats.busy.Add(1)
	metrics.SessionEvents.WithLabelValues("busy").Inc()
	c.logger.Warn("session busy", map[string]interface{}{
		"userId": userID,
		"policy": c.config.BusyPolicy,
	})
	return fmt.Errorf("%w: %w", ErrBusy, apperrors.NewSessionBusyError(userID))
}

func (c *Coordinator) duplicateErr(userID, messageID string) error {
	c.stats.duplicates.Add(1)
	metrics.SessionEvents.WithLabelValues("duplicate").Inc()
	c.logger.Info("duplicate message ignored", map[string]interface{}{
		"userId":    userID,
		"messageId": messageID,
	})
	return fmt.Errorf("%w: %w", ErrDuplicateMessage, apperrors.NewDuplicateMessageError(userID, messageID))
}

// claim runs under the user lock.
func (c *Coordinator) claim(ctx context.Context, userID, messageID string) (*Handle, error) {
	prior, found, err := c.store.Load(ctx, userID)
	if err != nil {
		return nil, apperrors.NewSessionStoreFailedError("load", err)
	}
	// A record still marked LockHeld was claimed by a turn that never
	// finished; its message is not a duplicate of a processed one.
	if found && messageID != "" && !prior.LockHeld && prior.LastMessageID == messageID {
		return nil, c.duplicateErr(userID, messageID)
	}
	if messageID != "" {
		first, err := c.dedup.MarkFirst(ctx, dedupKey(userID, messageID), c.config.DedupWindow)
		if err != nil {
			return nil, apperrors.NewSessionStoreFailedError("dedup", err)
		}
		if !first {
			return nil, c.duplicateErr(userID, messageID)
		}
	}

	now := c.now()
	h := &Handle{
		UserID:    userID,
		MessageID: messageID,
		prior:     prior,
		hadPrior:  found,
	}

	base := models.NewSessionState(userID, now)
	if found {
		base = prior.Clone()
		if idle := now.Sub(prior.LastActivityAt); idle > c.config.IdleTimeout {
			base = base.Reset(now, false)
			h.Expired = true
			h.IdleFor = idle
			c.stats.expired.Add(1)
			metrics.SessionEvents.WithLabelValues("expired").Inc()
			c.logger.Info("session expired", map[string]interface{}{
				"userId": userID,
				"error":  apperrors.NewSessionExpiredError(userID, idle).Details,
			})
		}
	}

	claimed := base.Clone()
	claimed.UserID = userID
	claimed.LastMessageID = messageID
	claimed.LockHeld = true
	claimed.LastActivityAt = now
	claimed.Version = prior.Version + 1

	if err := c.store.CompareAndSwap(ctx, prior.Version, claimed); err != nil {
		c.forget(ctx, userID, messageID)
		if errors.Is(err, ErrVersionMismatch) {
			c.stats.conflicts.Add(1)
			metrics.SessionEvents.WithLabelValues("conflict").Inc()
			return nil, fmt.Errorf("%w: %w", ErrConflict,
				apperrors.NewConcurrencyConflictError(userID, prior.Version, claimed.Version))
		}
		return nil, apperrors.NewSessionStoreFailedError("claim", err)
	}

	h.claimVersion = claimed.Version
	h.State = claimed.Clone()
	c.logger.Debug("session claimed", map[string]interface{}{
		"userId":    userID,
		"messageId": messageID,
		"version":   claimed.Version,
		"step":      string(claimed.CurrentStep),
		"expired":   h.Expired,
	})
	return h, nil
}

func (c *Coordinator) forget(ctx context.Context, userID, messageID string) {
	if messageID == "" {
		return
	}
	if err := c.dedup.Forget(ctx, dedupKey(userID, messageID)); err != nil {
		c.logger.Warn("dedup forget failed", map[string]interface{}{
			"userId":    userID,
			"messageId": messageID,
			"error":     err.Error(),
		})
	}
}

func (c *Coordinator) finish(h *Handle) {
	h.done = true
	c.stats.inFlight.Add(-1)
	if h.unlock != nil {
		h.unlock()
		h.unlock = nil
	}
}

// Commit replaces the session with next in one write, conditioned on the
// claimed version. When a newer message claimed the session meanwhile the
// write is discarded and ErrConflict is returned.
func (c *Coordinator) Commit(ctx context.Context, h *Handle, next models.SessionState) error {
	if h == nil || h.done {
		return ErrHandleFinished
	}
	defer c.finish(h)

	state := next.Clone()
	state.UserID = h.UserID
	state.LastMessageID = h.MessageID
	state.LockHeld = false
	state.LastActivityAt = c.now()
	state.Version = h.claimVersion + 1

	err := c.store.CompareAndSwap(ctx, h.claimVersion, state)
	if errors.Is(err, ErrVersionMismatch) {
		c.stats.conflicts.Add(1)
		metrics.SessionEvents.WithLabelValues("conflict").Inc()
		c.logger.Info("stale result discarded", map[string]interface{}{
			"userId":    h.UserID,
			"messageId": h.MessageID,
			"version":   h.claimVersion,
		})
		return fmt.Errorf("%w: %w", ErrConflict,
			apperrors.NewConcurrencyConflictError(h.UserID, h.claimVersion, -1))
	}
	if err != nil {
		if rerr := c.rollback(ctx, h); rerr != nil {
			c.logger.Warn("rollback after failed commit failed", map[string]interface{}{
				"userId":  h.UserID,
				"version": h.claimVersion,
				"error":   rerr.Error(),
			})
		}
		return apperrors.NewSessionStoreFailedError("commit", err)
	}

	c.stats.committed.Add(1)
	metrics.SessionEvents.WithLabelValues("committed").Inc()
	return nil
}

// Release abandons the turn without a commit and restores the snapshot taken
// before Acquire. The message may be delivered again afterwards.
func (c *Coordinator) Release(ctx context.Context, h *Handle) error {
	if h == nil || h.done {
		return nil
	}
	defer c.finish(h)

	c.stats.released.Add(1)
	metrics.SessionEvents.WithLabelValues("released").Inc()
	if err := c.rollback(ctx, h); err != nil {
		return apperrors.NewSessionStoreFailedError("release", err)
	}
	return nil
}

// rollback forgets the dedup mark and puts back the snapshot taken before the
// claim, or removes a session the claim created.
func (c *Coordinator) rollback(ctx context.Context, h *Handle) error {
	c.forget(ctx, h.UserID, h.MessageID)

	var err error
	if h.hadPrior {
		restored := h.prior.Clone()
		restored.Version = h.claimVersion + 1
		err = c.store.CompareAndSwap(ctx, h.claimVersion, restored)
	} else {
		err = c.store.Delete(ctx, h.UserID, h.claimVersion)
	}
	if errors.Is(err, ErrVersionMismatch) {
		// A newer message owns the session now.
		c.logger.Debug("release skipped, session advanced", map[string]interface{}{
			"userId":  h.UserID,
			"version": h.claimVersion,
		})
		return nil
	}
	return err
}

// CleanupExpired deletes sessions idle past the timeout and returns how many
// were removed.
func (c *Coordinator) CleanupExpired(ctx context.Context) (int, error) {
	refs, err := c.store.ListIdle(ctx, c.now().Add(-c.config.IdleTimeout))
	if err != nil {
		return 0, apperrors.NewSessionStoreFailedError("list_idle", err)
	}

	removed := 0
	for _, ref := range refs {
		err := c.store.Delete(ctx, ref.UserID, ref.Version)
		if errors.Is(err, ErrVersionMismatch) {
			continue
		}
		if err != nil {
			return removed, apperrors.NewSessionStoreFailedError("delete", err)
		}
		removed++
	}
	if removed > 0 {
		metrics.SessionEvents.WithLabelValues("cleaned").Add(float64(removed))
	}

	if n, err := c.store.Count(ctx); err == nil {
		metrics.ActiveSessions.Set(float64(n))
	}
	return removed, nil
}

func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	active, err := c.store.Count(ctx)
	if err != nil {
		return Stats{}, apperrors.NewSessionStoreFailedError("count", err)
	}
	return Stats{
		Active:     active,
		InFlight:   c.stats.inFlight.Load(),
		Acquired:   c.stats.acquired.Load(),
		Committed:  c.stats.committed.Load(),
		Released:   c.stats.released.Load(),
		Duplicates: c.stats.duplicates.Load(),
		Conflicts:  c.stats.conflicts.Load(),
		Busy:       c.stats.busy.Load(),
		Expired:    c.stats.expired.Load(),
		LocksHeld:  c.locksHeld(),
	}, nil
}

// locksHeld counts in-process user locks; distributed lockers report -1.
func (c *Coordinator) locksHeld() int {
	if kl, ok := c.locker.(interface{ Held() int }); ok {
		return kl.Held()
	}
	return -1
}

// Run cleans up idle sessions every CleanupInterval until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := c.CleanupExpired(ctx)
			if err != nil {
				c.logger.Warn("session cleanup failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			if n > 0 {
				c.logger.Info("expired sessions removed", map[string]interface{}{"count": n})
			}
		}
	}
}
