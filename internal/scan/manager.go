package scan

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// ScannerFactory builds the Scanner for a run from its configuration.
type ScannerFactory func(cfg Config) (*Scanner, error)

// Manager runs scans in the background and tracks their progress so that an
// external presenter can poll, pause or cancel them.
type Manager struct {
	mu         sync.Mutex
	factory    ScannerFactory
	config     Config
	status     ScanStatus
	report     Report
	totalHosts int
	completed  int
	active     int

	scanCancel context.CancelFunc
	done       chan struct{}
	current    *scanRun

	pauseMu   sync.Mutex
	pauseCond *sync.Cond
	paused    bool
}

// scanRun identifies one Start. Pipelines abandoned at the deadline may still
// call their hooks after Run returns; those calls are dropped once the run is
// finished or superseded.
type scanRun struct {
	finished bool
}

// NewManager creates a Manager that builds scanners with factory.
func NewManager(factory ScannerFactory) *Manager {
	m := &Manager{
		factory: factory,
		status:  StatusIdle,
	}
	m.pauseCond = sync.NewCond(&m.pauseMu)
	return m
}

// Start begins a scan with the provided configuration. update is called for
// every confirmed stream and status for every progress change; both may be nil.
func (m *Manager) Start(ctx context.Context, config Config, update func(Update), status func(Progress)) (Snapshot, error) {
	if err := config.Validate(); err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusPaused {
		snapshot := m.snapshotLocked()
		m.mu.Unlock()
		return snapshot, ErrScanInProgress
	}
	scanner, err := m.factory(config)
	if err != nil {
		m.mu.Unlock()
		return Snapshot{}, err
	}
	if m.scanCancel != nil {
		m.scanCancel()
	}

	scanCtx, cancel := context.WithCancel(ctx)
	m.scanCancel = cancel
	m.config = config
	m.report = Report{Started: time.Now().UTC()}
	m.totalHosts = 0
	m.completed = 0
	m.active = 0
	m.done = make(chan struct{})
	m.current = &scanRun{}
	m.status = StatusRunning
	m.pauseMu.Lock()
	m.paused = false
	m.pauseMu.Unlock()

	snapshot := m.snapshotLocked()
	done := m.done
	current := m.current
	m.mu.Unlock()

	emitStatus(status, snapshot.Progress)

	go m.run(scanCtx, scanner, current, done, update, status)

	return snapshot, nil
}

// Pause temporarily halts an active scan. Host pipelines already probing
// finish; no new host is started until Resume.
func (m *Manager) Pause() (Progress, error) {
	m.mu.Lock()
	if m.status != StatusRunning {
		progress := m.snapshotLocked().Progress
		m.mu.Unlock()
		return progress, ErrNoActiveScan
	}
	m.pauseMu.Lock()
	m.paused = true
	m.pauseMu.Unlock()
	m.status = StatusPaused
	progress := m.snapshotLocked().Progress
	m.mu.Unlock()
	return progress, nil
}

// Resume continues a paused scan.
func (m *Manager) Resume() (Progress, error) {
	m.mu.Lock()
	if m.status != StatusPaused {
		progress := m.snapshotLocked().Progress
		m.mu.Unlock()
		return progress, ErrNoActiveScan
	}
	m.releasePause()
	m.status = StatusRunning
	progress := m.snapshotLocked().Progress
	m.mu.Unlock()
	return progress, nil
}

// Cancel stops the active scan. Streams confirmed so far are kept.
func (m *Manager) Cancel() (Progress, error) {
	m.mu.Lock()
	if m.status != StatusRunning && m.status != StatusPaused {
		progress := m.snapshotLocked().Progress
		m.mu.Unlock()
		return progress, ErrNoActiveScan
	}
	if m.scanCancel != nil {
		m.scanCancel()
	}
	m.releasePause()
	m.status = StatusCancelled
	progress := m.snapshotLocked().Progress
	m.mu.Unlock()
	return progress, nil
}

// Wait blocks until the current scan has finished or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetSnapshot returns the latest snapshot of the scan state.
func (m *Manager) GetSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Export serialises the current snapshot to JSON.
func (m *Manager) Export() ([]byte, error) {
	return json.MarshalIndent(m.GetSnapshot(), "", "  ")
}

// Import loads scan data from a JSON payload, replacing any finished scan.
func (m *Manager) Import(data []byte) (Snapshot, error) {
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == StatusRunning || m.status == StatusPaused {
		return m.snapshotLocked(), ErrScanInProgress
	}
	m.current = nil
	m.config = snapshot.Config
	m.report = snapshot.Report
	m.totalHosts = snapshot.Progress.Total
	if m.totalHosts == 0 {
		m.totalHosts = len(snapshot.Report.Hosts)
	}
	m.completed = snapshot.Progress.Completed
	if m.completed == 0 {
		m.completed = m.totalHosts
	}
	m.active = 0
	m.status = StatusCompleted
	return m.snapshotLocked(), nil
}

func (m *Manager) run(ctx context.Context, scanner *Scanner, current *scanRun, done chan struct{}, update func(Update), status func(Progress)) {
	defer close(done)

	hooks := Hooks{
		OnHosts: func(hosts []Host) {
			m.mu.Lock()
			if !m.liveLocked(current) {
				m.mu.Unlock()
				return
			}
			m.totalHosts = len(hosts)
			m.report.Hosts = hosts
			progress := m.snapshotLocked().Progress
			m.mu.Unlock()
			emitStatus(status, progress)
		},
		BeforeHost: func(ctx context.Context) error {
			if err := m.waitWhilePaused(ctx); err != nil {
				return err
			}
			if !m.adjustActive(current, 1, false, status) {
				return context.Canceled
			}
			return nil
		},
		OnHostDone: func(Host, []int) {
			m.adjustActive(current, -1, true, status)
		},
		OnStream: func(stream Stream) {
			m.mu.Lock()
			if !m.liveLocked(current) {
				m.mu.Unlock()
				return
			}
			m.report.Streams = append(m.report.Streams, stream)
			progress := m.snapshotLocked().Progress
			m.mu.Unlock()
			if update != nil {
				update(Update{Stream: stream, Progress: progress})
			}
		},
	}

	report, err := scanner.Run(ctx, hooks)
	if err != nil {
		report.Error = err.Error()
	}

	m.mu.Lock()
	current.finished = true
	if m.current != current {
		m.mu.Unlock()
		return
	}
	m.report = report
	m.active = 0
	if m.status != StatusCancelled {
		m.status = StatusCompleted
	}
	m.releasePause()
	progress := m.snapshotLocked().Progress
	m.mu.Unlock()

	emitStatus(status, progress)
}

// liveLocked reports whether hooks of r may still change the Manager state.
func (m *Manager) liveLocked(r *scanRun) bool {
	return m.current == r && !r.finished
}

func (m *Manager) adjustActive(r *scanRun, delta int, completed bool, status func(Progress)) bool {
	m.mu.Lock()
	if !m.liveLocked(r) {
		m.mu.Unlock()
		return false
	}
	m.active += delta
	if m.active < 0 {
		m.active = 0
	}
	if completed {
		m.completed++
	}
	progress := m.snapshotLocked().Progress
	m.mu.Unlock()
	emitStatus(status, progress)
	return true
}

func (m *Manager) waitWhilePaused(ctx context.Context) error {
	m.pauseMu.Lock()
	defer m.pauseMu.Unlock()
	for m.paused {
		m.pauseCond.Wait()
	}
	return ctx.Err()
}

func (m *Manager) releasePause() {
	m.pauseMu.Lock()
	m.paused = false
	m.pauseCond.Broadcast()
	m.pauseMu.Unlock()
}

func emitStatus(handler func(Progress), progress Progress) {
	if handler != nil {
		handler(progress)
	}
}

func (m *Manager) snapshotLocked() Snapshot {
	report := m.report
	report.Hosts = append([]Host(nil), m.report.Hosts...)
	report.Streams = append([]Stream(nil), m.report.Streams...)
	return Snapshot{
		Config: m.config,
		Progress: Progress{
			Total:     m.totalHosts,
			Completed: m.completed,
			Active:    m.active,
			Streams:   len(report.Streams),
			Status:    m.status,
		},
		Report:  report,
		Updated: time.Now().UTC(),
	}
}
