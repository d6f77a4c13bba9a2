// Package coordinator implements the single-writer lock protocol:
// acquiring, heartbeating, and releasing the WatcherLock row that ensures at
// most one watcher process is actively ingesting at a time.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/linetrace/linetrace/internal/ingestion"
)

// State is a process's role with respect to the single-writer lock.
type State string

const (
	// StateNone is the initial state: no intent to watch.
	StateNone State = "none"

	// StateMaster holds the lock and heartbeats it.
	StateMaster State = "master"

	// StateFollower observes the lock without holding it.
	StateFollower State = "follower"
)

// HeartbeatInterval is how often a Master refreshes its heartbeat.
const HeartbeatInterval = 30 * time.Second

// ErrNotMaster is returned by operations that require the caller to
// currently hold the lock.
var ErrNotMaster = errors.New("coordinator: not currently master")

// Coordinator drives the acquire/heartbeat/release protocol against an
// ingestion.Store's lock primitives. Safe for concurrent use: State/HolderID
// reads and the heartbeat tick are serialized by mu.
type Coordinator struct {
	store      ingestion.Store
	holderName string
	logger     *slog.Logger

	mu       sync.RWMutex
	state    State
	holderID string
}

// New builds a Coordinator for holderName (typically the OS username)
// against store.
func New(store ingestion.Store, holderName string) *Coordinator {
	return &Coordinator{
		store:      store,
		holderName: holderName,
		state:      StateNone,
		logger:     slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "coordinator"),
	}
}

// State returns the coordinator's current role.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state
}

// HolderID returns this process's lock holder id, set once Acquire has run.
// Empty until the first successful Acquire call.
func (c *Coordinator) HolderID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.holderID
}

// Acquire implements the Acquire protocol: the caller becomes Master if
// the lock is absent, inactive, or stale; otherwise it becomes Follower
// observing the current holder.
func (c *Coordinator) Acquire(ctx context.Context) (State, error) {
	lock, acquired, err := c.store.AcquireLock(ctx, c.holderName)
	if err != nil {
		return StateNone, fmt.Errorf("acquire failed: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if acquired {
		c.state = StateMaster
		c.holderID = lock.HolderID

		c.logger.Info("acquired lock, transitioned to master", "holder_id", lock.HolderID)
	} else {
		c.state = StateFollower
		c.holderID = ""

		c.logger.Info("lock held by another process, transitioned to follower",
			"holder_name", lock.HolderName)
	}

	return c.state, nil
}

// Heartbeat implements the heartbeat protocol. If the Master's
// heartbeat update affects zero rows (lock lost to a stale-takeover race or
// a force-release), it demotes to None and the caller must halt its watch
// loop.
func (c *Coordinator) Heartbeat(ctx context.Context) (State, error) {
	c.mu.RLock()
	state := c.state
	holderID := c.holderID
	c.mu.RUnlock()

	if state != StateMaster {
		return state, ErrNotMaster
	}

	ok, err := c.store.UpdateHeartbeat(ctx, holderID)
	if err != nil {
		return StateMaster, fmt.Errorf("heartbeat failed: %w", err)
	}

	if ok {
		return StateMaster, nil
	}

	c.mu.Lock()
	c.state = StateNone
	c.holderID = ""
	c.mu.Unlock()

	c.logger.Warn("heartbeat affected zero rows, demoting to none")

	return StateNone, nil
}

// Release implements the Release protocol: on clean stop, the Master
// clears is_active for its own holder id. A no-op if not currently Master.
func (c *Coordinator) Release(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateMaster {
		return nil
	}

	if err := c.store.ReleaseLock(ctx, c.holderID); err != nil {
		return fmt.Errorf("release failed: %w", err)
	}

	c.logger.Info("released lock", "holder_id", c.holderID)

	c.state = StateNone
	c.holderID = ""

	return nil
}

// ForceAcquire implements the admin force-acquire: clears is_active
// unconditionally, then retries Acquire. The caller is responsible for
// authorizing this (an admin permission check at the command layer) before
// invoking it.
func (c *Coordinator) ForceAcquire(ctx context.Context) (State, error) {
	if err := c.store.ForceReleaseLock(ctx); err != nil {
		return StateNone, fmt.Errorf("force_release failed: %w", err)
	}

	return c.Acquire(ctx)
}

// LockInfo returns the current lock row for status display (who holds it,
// whether it's stale), without altering this Coordinator's own state.
func (c *Coordinator) LockInfo(ctx context.Context) (ingestion.WatcherLock, bool, error) {
	info, exists, err := c.store.GetLockInfo(ctx)
	if err != nil {
		return ingestion.WatcherLock{}, false, fmt.Errorf("get_lock_info failed: %w", err)
	}

	return info, exists, nil
}
