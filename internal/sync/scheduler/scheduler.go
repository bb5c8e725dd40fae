// Package scheduler tracks connectivity and drives background sync sweeps.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/logging"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/metrics"
	syncpkg "github.com/Jasujung99/couples-diary-pwa-sub001/internal/sync"
)

// Syncer starts a queue sweep. *sync.Engine and *sync.Manager satisfy it.
type Syncer interface {
	TriggerSync(ctx context.Context) (*syncpkg.SweepResult, bool)
}

// StatusSource produces the aggregate sync status.
type StatusSource interface {
	GetSyncStatus() syncpkg.SyncStatusSnapshot
}

// Prober checks whether the remote service is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// MonitorConfig holds monitor intervals. Zero disables the matching loop.
type MonitorConfig struct {
	SyncInterval   time.Duration // periodic sweep while online
	StatusInterval time.Duration // status snapshot refresh
	ProbeInterval  time.Duration // connectivity probe
	ProbeTimeout   time.Duration
}

// DefaultMonitorConfig returns default monitor configuration.
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		SyncInterval:   time.Minute,
		StatusInterval: 5 * time.Second,
		ProbeInterval:  15 * time.Second,
		ProbeTimeout:   5 * time.Second,
	}
}

// MonitorStatus is the last snapshot cached by the status loop.
type MonitorStatus struct {
	IsRunning bool                       `json:"is_running"`
	Snapshot  syncpkg.SyncStatusSnapshot `json:"snapshot"`
	UpdatedAt *time.Time                 `json:"updated_at,omitempty"`
}

// Monitor is the Network Status Monitor. It implements sync.NetworkStatus
// and triggers a sweep on every offline to online transition.
type Monitor struct {
	syncer  Syncer
	cfg     MonitorConfig
	metrics *metrics.Collector

	mu           sync.RWMutex
	online       bool
	connecting   bool
	lastOnlineAt *time.Time
	handler      syncpkg.SyncEventHandler
	source       StatusSource
	prober       Prober
	cached       syncpkg.SyncStatusSnapshot
	cachedAt     time.Time

	isRunning bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewMonitor creates a Monitor in the given initial connectivity state.
func NewMonitor(syncer Syncer, online bool, cfg *MonitorConfig, m *metrics.Collector) *Monitor {
	if cfg == nil {
		cfg = DefaultMonitorConfig()
	}
	mon := &Monitor{
		syncer:  syncer,
		cfg:     *cfg,
		metrics: m,
		online:  online,
	}
	if online {
		now := time.Now()
		mon.lastOnlineAt = &now
	}
	m.SetOnline(online)
	return mon
}

// SetEventHandler sets the receiver for network.online/offline events.
func (m *Monitor) SetEventHandler(h syncpkg.SyncEventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// SetStatusSource sets where the status loop reads snapshots from.
func (m *Monitor) SetStatusSource(s StatusSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = s
}

// SetProber enables the connectivity probe loop.
func (m *Monitor) SetProber(p Prober) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prober = p
}

// =====================================================
// Connectivity
// =====================================================

// SetOnline records a connectivity change. Going from offline to online
// stamps LastOnlineAt and runs a sweep before returning.
func (m *Monitor) SetOnline(ctx context.Context, online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	if online && !wasOnline {
		now := time.Now()
		m.lastOnlineAt = &now
	}
	handler := m.handler
	m.mu.Unlock()

	if wasOnline == online {
		return
	}

	m.metrics.SetOnline(online)
	logging.Info("Online status changed", map[string]interface{}{
		"was_online": wasOnline,
		"is_online":  online,
	})

	event := syncpkg.SyncEvent{Type: syncpkg.NetworkEventOffline, Message: "connection lost", Timestamp: time.Now()}
	if online {
		event = syncpkg.SyncEvent{Type: syncpkg.NetworkEventOnline, Message: "connection restored", Timestamp: time.Now()}
	}
	if handler != nil {
		handler.OnSyncEvent(event)
	}

	if online {
		m.runSync(ctx, "reconnect")
	}
}

// Online reports the last known connectivity.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Connecting reports whether a manual SyncNow is in flight.
func (m *Monitor) Connecting() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connecting
}

// LastOnlineAt returns when the monitor last went online, or nil.
func (m *Monitor) LastOnlineAt() *time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastOnlineAt == nil {
		return nil
	}
	t := *m.lastOnlineAt
	return &t
}

// SyncNow runs a sweep immediately, reporting Connecting while it runs.
// It returns started=false when another sweep is already draining.
func (m *Monitor) SyncNow(ctx context.Context) (*syncpkg.SweepResult, bool) {
	m.mu.Lock()
	m.connecting = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.connecting = false
		m.mu.Unlock()
	}()

	return m.runSync(ctx, "manual")
}

func (m *Monitor) runSync(ctx context.Context, reason string) (*syncpkg.SweepResult, bool) {
	result, started := m.syncer.TriggerSync(ctx)
	if !started {
		logging.Debug("Sync already in progress, skipping", map[string]interface{}{"reason": reason})
		return nil, false
	}
	if result != nil {
		logging.Debug("Sweep finished", map[string]interface{}{
			"reason": reason,
			"synced": result.Synced,
			"failed": result.Failed,
		})
	}
	return result, true
}

// =====================================================
// Background loops
// =====================================================

// Start runs the periodic sweep, status and probe loops until ctx is done
// or Stop is called. A sweep runs at once when the monitor starts online.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = true
	m.stopCh = make(chan struct{})
	prober := m.prober
	m.mu.Unlock()

	if m.cfg.SyncInterval > 0 {
		m.wg.Add(1)
		go m.periodicSyncLoop(ctx)
	}
	if m.cfg.StatusInterval > 0 {
		m.refreshStatus()
		m.wg.Add(1)
		go m.statusLoop(ctx)
	}
	if prober != nil && m.cfg.ProbeInterval > 0 {
		m.wg.Add(1)
		go m.probeLoop(ctx, prober)
	}

	logging.Info("Network monitor started", map[string]interface{}{
		"online":        m.Online(),
		"sync_interval": m.cfg.SyncInterval.String(),
		"probe":         prober != nil,
	})

	if m.Online() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.runSync(ctx, "startup")
		}()
	}
}

// Stop halts the loops and waits for them to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	logging.Info("Network monitor stopped", nil)
}

// IsRunning returns whether the background loops are running.
func (m *Monitor) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}

func (m *Monitor) stopped() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopCh
}

func (m *Monitor) periodicSyncLoop(ctx context.Context) {
	defer m.wg.Done()
	stop := m.stopped()

	ticker := time.NewTicker(m.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if !m.Online() {
				continue
			}
			m.runSync(ctx, "periodic")
		}
	}
}

func (m *Monitor) statusLoop(ctx context.Context) {
	defer m.wg.Done()
	stop := m.stopped()

	ticker := time.NewTicker(m.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.refreshStatus()
		}
	}
}

func (m *Monitor) probeLoop(ctx context.Context, prober Prober) {
	defer m.wg.Done()
	stop := m.stopped()

	m.probe(ctx, prober)

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.probe(ctx, prober)
		}
	}
}

func (m *Monitor) probe(ctx context.Context, prober Prober) {
	timeout := m.cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	err := prober.Ping(probeCtx)
	cancel()

	if err != nil && ctx.Err() != nil {
		return
	}
	if err != nil && m.Online() {
		logging.Warn("Connectivity probe failed", map[string]interface{}{"error": err.Error()})
	}
	m.SetOnline(ctx, err == nil)
}

func (m *Monitor) refreshStatus() {
	m.mu.RLock()
	source := m.source
	m.mu.RUnlock()
	if source == nil {
		return
	}

	snap := source.GetSyncStatus()

	m.mu.Lock()
	m.cached = snap
	m.cachedAt = time.Now()
	m.mu.Unlock()
}

// Status returns the snapshot cached by the status loop.
func (m *Monitor) Status() MonitorStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := MonitorStatus{
		IsRunning: m.isRunning,
		Snapshot:  m.cached,
	}
	if !m.cachedAt.IsZero() {
		t := m.cachedAt
		status.UpdatedAt = &t
	}
	return status
}
