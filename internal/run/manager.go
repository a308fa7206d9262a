package run

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/browserfarm/internal/driver"
	"github.com/shehryarbajwa/browserfarm/pkg/models"
)

var (
	// ErrNotFound is returned for unknown run IDs.
	ErrNotFound = errors.New("run not found")
	// ErrCapacity is returned when no run slot is free.
	ErrCapacity = errors.New("concurrency limit reached")
	// ErrFinished is returned when cancelling a run that already ended.
	ErrFinished = errors.New("run is not active")
)

// DriverFactory returns the driver called name
type DriverFactory func(name string) (driver.Driver, error)

// Job is one run request
type Job struct {
	ClientID    string
	Driver      string
	Spec        Spec
	Interaction Interaction
}

// Archive persists finished runs
type Archive interface {
	Save(run models.Run) error
	Load(id string) (*models.Run, error)
}

// ManagerConfig holds run limits
type ManagerConfig struct {
	MaxConcurrent int64
	// MaxPerClient bounds active runs per client ID; defaults to MaxConcurrent.
	MaxPerClient  int64
	RunTimeout    time.Duration
	DefaultDriver string
	// DebugHost is where launched environments expose their ports.
	DebugHost string
	// Archive, when set, receives every finished run, which is then dropped
	// from memory. Get and Wait fall back to it.
	Archive Archive
}

// Manager starts runs in the background and tracks their state
type Manager struct {
	runs        sync.Map // map[runID]*entry
	slots       *semaphore.Weighted
	concurrency map[string]*semaphore.Weighted
	mu          sync.RWMutex
	wg          sync.WaitGroup

	farm    Lifecycle
	drivers DriverFactory
	cfg     ManagerConfig
	log     logrus.FieldLogger
}

type entry struct {
	mu        sync.RWMutex
	run       models.Run
	cancel    context.CancelFunc
	cancelled bool
	done      chan struct{}
}

func (e *entry) snapshot() models.Run {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.run
}

func (e *entry) observe(rep models.RunReport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.run.Report = &rep
}

// NewManager creates a run manager
func NewManager(farm Lifecycle, drivers DriverFactory, cfg ManagerConfig, log logrus.FieldLogger) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.MaxPerClient <= 0 || cfg.MaxPerClient > cfg.MaxConcurrent {
		cfg.MaxPerClient = cfg.MaxConcurrent
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	if cfg.DebugHost == "" {
		cfg.DebugHost = "localhost"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		slots:       semaphore.NewWeighted(cfg.MaxConcurrent),
		concurrency: make(map[string]*semaphore.Weighted),
		farm:        farm,
		drivers:     drivers,
		cfg:         cfg,
		log:         log,
	}
}

// Start validates job and runs it in the background
func (m *Manager) Start(job Job) (*models.Run, error) {
	name := job.Driver
	if name == "" {
		name = m.cfg.DefaultDriver
	}
	d, err := m.drivers(name)
	if err != nil {
		return nil, err
	}
	if job.Spec.Host == "" {
		job.Spec.Host = m.cfg.DebugHost
	}

	if err := m.acquireSlot(job.ClientID); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	now := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RunTimeout)

	e := &entry{
		run: models.Run{
			ID:        id,
			ClientID:  job.ClientID,
			Driver:    name,
			Status:    models.RunRunning,
			StartedAt: now,
			ExpiresAt: now.Add(m.cfg.RunTimeout),
			DebugHost: job.Spec.Host,
			Report:    &models.RunReport{Steps: []models.Step{}},
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.runs.Store(id, e)

	log := m.log.WithFields(logrus.Fields{"run_id": id, "driver": name})
	runner := NewRunner(m.farm, d, log, WithObserver(e.observe))

	m.wg.Add(1)
	go m.execute(ctx, e, runner, job, log)

	run := e.snapshot()
	return &run, nil
}

func (m *Manager) execute(ctx context.Context, e *entry, runner *Runner, job Job, log logrus.FieldLogger) {
	defer m.wg.Done()
	defer close(e.done)
	defer m.releaseSlot(job.ClientID)
	defer e.cancel()

	log.Info("run started")
	report, err := safeRun(ctx, runner, job)

	e.mu.Lock()
	if report != nil {
		e.run.Report = report
	} else if e.run.Report != nil {
		observed := *e.run.Report
		observed.Error = err.Error()
		e.run.Report = &observed
	}
	e.run.FinishedAt = time.Now()
	switch {
	case err == nil:
		e.run.Status = models.RunCompleted
	case e.cancelled:
		e.run.Status = models.RunCancelled
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		e.run.Status = models.RunTimedOut
	default:
		e.run.Status = models.RunFailed
	}
	status := e.run.Status
	snapshot := e.run
	e.mu.Unlock()

	finished := log.WithField("status", status)
	if err != nil {
		finished = finished.WithError(err)
	}
	finished.Info("run finished")

	if m.cfg.Archive != nil {
		if err := m.cfg.Archive.Save(snapshot); err != nil {
			log.WithError(err).Warn("failed to archive run, keeping it in memory")
			return
		}
		m.runs.Delete(snapshot.ID)
	}
}

// safeRun keeps a panicking interaction from taking the process down. The
// runner has already torn down by the time the panic reaches here.
func safeRun(ctx context.Context, runner *Runner, job Job) (report *models.RunReport, err error) {
	defer func() {
		if p := recover(); p != nil {
			report = nil
			err = fmt.Errorf("run panicked: %v", p)
		}
	}()
	return runner.Run(ctx, job.Spec, job.Interaction)
}

// archived loads a finished run that is no longer held in memory
func (m *Manager) archived(id string) (*models.Run, bool) {
	if m.cfg.Archive == nil {
		return nil, false
	}
	run, err := m.cfg.Archive.Load(id)
	if err != nil {
		return nil, false
	}
	return run, true
}

func (m *Manager) lookup(id string) (*entry, error) {
	value, ok := m.runs.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	return value.(*entry), nil
}

// Get returns a run by ID, falling back to the archive
func (m *Manager) Get(id string) (*models.Run, error) {
	e, err := m.lookup(id)
	if err != nil {
		if archived, ok := m.archived(id); ok {
			return archived, nil
		}
		return nil, err
	}
	run := e.snapshot()
	return &run, nil
}

// List returns in-memory runs for a client, optionally filtered by status,
// oldest first. Archived runs are not listed.
func (m *Manager) List(clientID string, status models.RunStatus) []*models.Run {
	runs := []*models.Run{}

	m.runs.Range(func(key, value interface{}) bool {
		run := value.(*entry).snapshot()

		if clientID != "" && run.ClientID != clientID {
			return true
		}
		if status != "" && run.Status != status {
			return true
		}

		runs = append(runs, &run)
		return true
	})

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	return runs
}

// Cancel stops an active run. Teardown still runs before it is marked cancelled.
func (m *Manager) Cancel(id string) error {
	e, err := m.lookup(id)
	if err != nil {
		if _, ok := m.archived(id); ok {
			return ErrFinished
		}
		return err
	}

	e.mu.Lock()
	if e.run.Status != models.RunRunning {
		e.mu.Unlock()
		return ErrFinished
	}
	e.cancelled = true
	e.mu.Unlock()

	e.cancel()
	m.log.WithField("run_id", id).Info("run cancelled")
	return nil
}

// Wait blocks until the run finishes or ctx ends
func (m *Manager) Wait(ctx context.Context, id string) (*models.Run, error) {
	e, err := m.lookup(id)
	if err != nil {
		if archived, ok := m.archived(id); ok {
			return archived, nil
		}
		return nil, err
	}
	select {
	case <-e.done:
		run := e.snapshot()
		return &run, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DebugEndpoint returns the debugging endpoint of an active, launched run
func (m *Manager) DebugEndpoint(id string) (driver.Endpoint, error) {
	e, err := m.lookup(id)
	if err != nil {
		if _, ok := m.archived(id); ok {
			return driver.Endpoint{}, ErrFinished
		}
		return driver.Endpoint{}, err
	}
	run := e.snapshot()
	if run.Status != models.RunRunning {
		return driver.Endpoint{}, ErrFinished
	}
	if run.Report == nil || run.Report.Port <= 0 {
		return driver.Endpoint{}, fmt.Errorf("run %s has no debugging port yet", id)
	}
	return driver.Endpoint{Host: run.DebugHost, Port: run.Report.Port}, nil
}

// Shutdown cancels every active run and waits for teardown to finish
func (m *Manager) Shutdown(ctx context.Context) error {
	m.runs.Range(func(key, value interface{}) bool {
		_ = m.Cancel(key.(string))
		return true
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquireSlot takes one global slot and one slot for the client
func (m *Manager) acquireSlot(clientID string) error {
	if !m.slots.TryAcquire(1) {
		return fmt.Errorf("%w: %d active runs", ErrCapacity, m.cfg.MaxConcurrent)
	}

	m.mu.Lock()
	sem, exists := m.concurrency[clientID]
	if !exists {
		sem = semaphore.NewWeighted(m.cfg.MaxPerClient)
		m.concurrency[clientID] = sem
	}
	m.mu.Unlock()

	if !sem.TryAcquire(1) {
		m.slots.Release(1)
		return fmt.Errorf("%w for client %s", ErrCapacity, clientID)
	}
	return nil
}

// releaseSlot returns the slots taken by acquireSlot
func (m *Manager) releaseSlot(clientID string) {
	m.mu.RLock()
	sem := m.concurrency[clientID]
	m.mu.RUnlock()

	if sem != nil {
		sem.Release(1)
	}
	m.slots.Release(1)
}
