package jobqueue

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/env"
)

// Manager manages the global job queue and the periodic schedules that feed it
type Manager struct {
	queue           *Queue
	reconcileTicker *time.Ticker
	expireTicker    *time.Ticker
	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.Mutex
	running         bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// InitManager creates the global job queue manager (singleton). Must be
// called once during startup before GetManager.
func InitManager(deps *ProcessorDeps) *Manager {
	managerOnce.Do(func() {
		workerCount := env.GetEnvInt("JOB_QUEUE_WORKERS", 3)
		globalManager = &Manager{
			queue:  NewQueue(workerCount, deps),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetManager returns the global job queue manager
func GetManager() *Manager {
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background schedules
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background schedules")

	// Start the job queue
	m.queue.Start()

	reconcileInterval := time.Duration(env.GetEnvInt("RECONCILE_INTERVAL_MINUTES", 10)) * time.Minute
	expireInterval := time.Duration(env.GetEnvInt("EXPIRE_SWEEP_INTERVAL_MINUTES", 60)) * time.Minute

	// Periodically enqueue a reconciliation pass for stale orders
	m.reconcileTicker = time.NewTicker(reconcileInterval)
	m.wg.Add(1)
	go m.reconcileScheduler(reconcileInterval)

	// Periodically enqueue a subscription expiry sweep
	m.expireTicker = time.NewTicker(expireInterval)
	m.wg.Add(1)
	go m.expireScheduler(expireInterval)

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background schedules
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background schedules...")

	if m.reconcileTicker != nil {
		m.reconcileTicker.Stop()
	}
	if m.expireTicker != nil {
		m.expireTicker.Stop()
	}

	// Signal schedulers to stop. The channel stays set so a scheduler looping
	// back mid-tick still observes the close instead of blocking on nil.
	close(m.stopCh)
	m.running = false

	// Wait for background schedulers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// reconcileScheduler enqueues a reconcile_orders job on each tick
func (m *Manager) reconcileScheduler(interval time.Duration) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started reconcile scheduler (interval: %s)", interval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Reconcile scheduler stopping")
			return
		case <-m.reconcileTicker.C:
			payload := ReconcileOrdersJobPayload{
				OlderThanMinutes: env.GetEnvInt("RECONCILE_AFTER_MINUTES", defaultReconcileAfterMinutes),
				Limit:            defaultReconcileBatchLimit,
			}
			if _, err := m.queue.EnqueueJob(JobTypeReconcileOrders, payload.ToMap()); err != nil {
				log.Errorf("[JobQueue Manager] Error enqueuing reconcile job: %v", err)
			}
		}
	}
}

// expireScheduler enqueues an expire_subscriptions job on each tick
func (m *Manager) expireScheduler(interval time.Duration) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started expire scheduler (interval: %s)", interval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Expire scheduler stopping")
			return
		case <-m.expireTicker.C:
			if _, err := m.queue.EnqueueJob(JobTypeExpireSubscriptions, map[string]interface{}{}); err != nil {
				log.Errorf("[JobQueue Manager] Error enqueuing expire job: %v", err)
			}
		}
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
