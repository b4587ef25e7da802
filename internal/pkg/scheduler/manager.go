package scheduler

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BillFox/app/models"
	"github.com/ManuelReschke/BillFox/internal/pkg/health"
	"github.com/ManuelReschke/BillFox/internal/pkg/retryqueue"
	"github.com/ManuelReschke/BillFox/internal/pkg/syncer"
)

// ReportArchiver pushes finished sync reports to cold storage. Optional:
// a nil archiver disables the archival worker.
type ReportArchiver interface {
	ArchiveRecent(ctx context.Context) (int, error)
}

// Config carries the background task intervals.
type Config struct {
	SyncInterval    time.Duration
	QueueInterval   time.Duration
	QueueBatchSize  int
	ReclaimInterval time.Duration
	LeaseExpiry     time.Duration
	HealthInterval  time.Duration
	ArchiveInterval time.Duration
}

// DefaultConfig returns the standard scheduling intervals.
func DefaultConfig() Config {
	return Config{
		SyncInterval:    time.Hour,
		QueueInterval:   time.Minute,
		QueueBatchSize:  50,
		ReclaimInterval: 5 * time.Minute,
		LeaseExpiry:     retryqueue.DefaultLeaseExpiry,
		HealthInterval:  15 * time.Minute,
		ArchiveInterval: 24 * time.Hour,
	}
}

// ConfigFromEnv reads interval overrides from the environment, falling
// back to the defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if d := envMinutes("SYNC_INTERVAL_MINUTES"); d > 0 {
		cfg.SyncInterval = d
	}
	if d := envMinutes("QUEUE_POLL_INTERVAL_MINUTES"); d > 0 {
		cfg.QueueInterval = d
	}
	if n := envInt("QUEUE_BATCH_SIZE"); n > 0 {
		cfg.QueueBatchSize = n
	}
	if d := envMinutes("QUEUE_RECLAIM_INTERVAL_MINUTES"); d > 0 {
		cfg.ReclaimInterval = d
	}
	if d := envMinutes("QUEUE_LEASE_EXPIRY_MINUTES"); d > 0 {
		cfg.LeaseExpiry = d
	}
	if d := envMinutes("HEALTH_CHECK_INTERVAL_MINUTES"); d > 0 {
		cfg.HealthInterval = d
	}
	if d := envMinutes("ARCHIVE_INTERVAL_MINUTES"); d > 0 {
		cfg.ArchiveInterval = d
	}
	return cfg
}

func envInt(key string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.Warnf("[Scheduler] Invalid %s value %q, using default", key, raw)
		return 0
	}
	return n
}

func envMinutes(key string) time.Duration {
	return time.Duration(envInt(key)) * time.Minute
}

// Manager drives the periodic billing tasks: scheduled sync runs, retry
// queue batches, lease reclaim sweeps, health checks and report archival.
type Manager struct {
	cfg         Config
	coordinator *syncer.Coordinator
	processor   *retryqueue.Processor
	monitor     *health.Monitor
	archiver    ReportArchiver

	syncTicker    *time.Ticker
	queueTicker   *time.Ticker
	reclaimTicker *time.Ticker
	healthTicker  *time.Ticker
	archiveTicker *time.Ticker
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

// NewManager creates a manager from injected components. archiver may be
// nil when no archive bucket is configured.
func NewManager(
	cfg Config,
	coordinator *syncer.Coordinator,
	processor *retryqueue.Processor,
	monitor *health.Monitor,
	archiver ReportArchiver,
) *Manager {
	def := DefaultConfig()
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.QueueInterval <= 0 {
		cfg.QueueInterval = def.QueueInterval
	}
	if cfg.QueueBatchSize <= 0 {
		cfg.QueueBatchSize = def.QueueBatchSize
	}
	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = def.ReclaimInterval
	}
	if cfg.LeaseExpiry <= 0 {
		cfg.LeaseExpiry = def.LeaseExpiry
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = def.HealthInterval
	}
	if cfg.ArchiveInterval <= 0 {
		cfg.ArchiveInterval = def.ArchiveInterval
	}
	return &Manager{
		cfg:         cfg,
		coordinator: coordinator,
		processor:   processor,
		monitor:     monitor,
		archiver:    archiver,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the background workers.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be
	// restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Scheduler] Starting background tasks")

	m.syncTicker = time.NewTicker(m.cfg.SyncInterval)
	m.wg.Add(1)
	go m.syncWorker()

	m.queueTicker = time.NewTicker(m.cfg.QueueInterval)
	m.wg.Add(1)
	go m.queueWorker()

	m.reclaimTicker = time.NewTicker(m.cfg.ReclaimInterval)
	m.wg.Add(1)
	go m.reclaimWorker()

	m.healthTicker = time.NewTicker(m.cfg.HealthInterval)
	m.wg.Add(1)
	go m.healthWorker()

	if m.archiver != nil {
		m.archiveTicker = time.NewTicker(m.cfg.ArchiveInterval)
		m.wg.Add(1)
		go m.archiveWorker()
	}

	log.Info("[Scheduler] Started successfully")
}

// Stop signals all workers and waits for them to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Scheduler] Stopping background tasks...")

	if m.syncTicker != nil {
		m.syncTicker.Stop()
	}
	if m.queueTicker != nil {
		m.queueTicker.Stop()
	}
	if m.reclaimTicker != nil {
		m.reclaimTicker.Stop()
	}
	if m.healthTicker != nil {
		m.healthTicker.Stop()
	}
	if m.archiveTicker != nil {
		m.archiveTicker.Stop()
	}

	// Keep stopCh non-nil until the workers exit; they re-read the field
	// on every loop iteration.
	close(m.stopCh)
	m.running = false

	m.wg.Wait()

	log.Info("[Scheduler] Stopped successfully")
}

// IsRunning reports whether the background workers are active.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) syncWorker() {
	defer m.wg.Done()
	log.Infof("[Scheduler] Started sync worker (interval: %s)", m.cfg.SyncInterval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[Scheduler] Sync worker stopping")
			return
		case <-m.syncTicker.C:
			if _, err := m.coordinator.RunSync(context.Background(), models.SyncTriggerScheduled); err != nil {
				log.Errorf("[Scheduler] Scheduled sync run failed: %v", err)
			}
		}
	}
}

func (m *Manager) queueWorker() {
	defer m.wg.Done()
	log.Infof("[Scheduler] Started queue worker (interval: %s, batch: %d)", m.cfg.QueueInterval, m.cfg.QueueBatchSize)

	for {
		select {
		case <-m.stopCh:
			log.Info("[Scheduler] Queue worker stopping")
			return
		case <-m.queueTicker.C:
			result, err := m.processor.ProcessBatch(context.Background(), m.cfg.QueueBatchSize)
			if err != nil {
				log.Errorf("[Scheduler] Retry queue batch failed: %v", err)
				continue
			}
			if result.Processed > 0 {
				log.Infof("[Scheduler] Retry queue batch: %d processed, %d succeeded, %d failed",
					result.Processed, result.Succeeded, result.Failed)
			}
		}
	}
}

func (m *Manager) reclaimWorker() {
	defer m.wg.Done()
	log.Infof("[Scheduler] Started reclaim worker (interval: %s, lease: %s)", m.cfg.ReclaimInterval, m.cfg.LeaseExpiry)

	for {
		select {
		case <-m.stopCh:
			log.Info("[Scheduler] Reclaim worker stopping")
			return
		case <-m.reclaimTicker.C:
			if _, err := m.processor.ReclaimStuck(m.cfg.LeaseExpiry); err != nil {
				log.Errorf("[Scheduler] Lease reclaim sweep failed: %v", err)
			}
		}
	}
}

func (m *Manager) healthWorker() {
	defer m.wg.Done()
	log.Infof("[Scheduler] Started health worker (interval: %s)", m.cfg.HealthInterval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[Scheduler] Health worker stopping")
			return
		case <-m.healthTicker.C:
			if _, err := m.monitor.CheckAndAlert(context.Background()); err != nil {
				log.Errorf("[Scheduler] Health check failed: %v", err)
			}
		}
	}
}

func (m *Manager) archiveWorker() {
	defer m.wg.Done()
	log.Infof("[Scheduler] Started archive worker (interval: %s)", m.cfg.ArchiveInterval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[Scheduler] Archive worker stopping")
			return
		case <-m.archiveTicker.C:
			count, err := m.archiver.ArchiveRecent(context.Background())
			if err != nil {
				log.Errorf("[Scheduler] Report archival failed: %v", err)
				continue
			}
			if count > 0 {
				log.Infof("[Scheduler] Archived %d sync reports", count)
			}
		}
	}
}
