// Package lifecycle runs the task-queue worker and the reconciliation loops
// that drive container state to match desired session state.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raworc/raworc/internal/common/config"
	"github.com/raworc/raworc/internal/common/logger"
	"github.com/raworc/raworc/internal/docker"
	"github.com/raworc/raworc/internal/events/bus"
	"github.com/raworc/raworc/internal/store"
)

const (
	// claimBatchSize is the maximum number of tasks claimed per poll.
	claimBatchSize = 5
	// claimIdleInterval is the sleep between polls when the queue is empty.
	claimIdleInterval = 2 * time.Second
	// claimErrorBackoff is the sleep after a claim or handler error.
	claimErrorBackoff = 5 * time.Second

	// healthInterval is the period of the container health loop.
	healthInterval = 30 * time.Second
	// idleSweepInterval is the period of the inactivity sweep.
	idleSweepInterval = 60 * time.Second
	// orphanSweepInterval is the period of the managed-container discovery
	// sweep that removes containers whose session is gone.
	orphanSweepInterval = 5 * time.Minute

	// logTailLines is how much container output the health loop attaches
	// when it finds a dead container.
	logTailLines = 20

	// stopGrace is the container stop timeout for stop_session tasks.
	stopGrace = 10 * time.Second
	// restartGrace is the shorter stop timeout used when restarting.
	restartGrace = 5 * time.Second
)

// TokenMinter mints the per-session token injected into containers for the
// in-container agent to call back with.
type TokenMinter interface {
	MintSessionToken(sessionID string) (string, error)
}

// Manager owns the lifecycle worker and the reconciliation loops.
type Manager struct {
	store   *store.Store
	driver  *docker.Client
	volumes *docker.VolumeManager
	bus     bus.EventBus
	tokens  TokenMinter
	sandbox config.SandboxConfig
	apiURL  string
	logger  *logger.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager wires the lifecycle manager.
func NewManager(
	st *store.Store,
	driver *docker.Client,
	volumes *docker.VolumeManager,
	eventBus bus.EventBus,
	tokens TokenMinter,
	sandbox config.SandboxConfig,
	apiURL string,
	log *logger.Logger,
) *Manager {
	return &Manager{
		store:   st,
		driver:  driver,
		volumes: volumes,
		bus:     eventBus,
		tokens:  tokens,
		sandbox: sandbox,
		apiURL:  apiURL,
		logger:  log,
	}
}

// Start launches the worker loop, the health loop, the idle sweep, and the
// orphan sweep.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("lifecycle manager already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.done = make(chan struct{})

	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error { m.workerLoop(gctx); return nil })
	g.Go(func() error { m.healthLoop(gctx); return nil })
	g.Go(func() error { m.idleSweepLoop(gctx); return nil })
	g.Go(func() error { m.orphanSweepLoop(gctx); return nil })

	go func() {
		_ = g.Wait()
		close(m.done)
	}()

	m.logger.Info("Lifecycle manager started")
	return nil
}

// Stop terminates the loops and waits for them to drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info("Lifecycle manager stopped")
}

func (m *Manager) publish(ctx context.Context, eventType, sessionID string, data map[string]interface{}) {
	if m.bus == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["session_id"] = sessionID
	event := bus.NewEvent(eventType, "raworc-lifecycle", data)
	if err := m.bus.Publish(ctx, eventType, event); err != nil {
		m.logger.WithError(err).Warn("Failed to publish lifecycle event")
	}
}
