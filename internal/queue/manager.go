package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ValentinMastro/EncodeTalker/internal/events"
	"github.com/ValentinMastro/EncodeTalker/internal/job"
	"github.com/ValentinMastro/EncodeTalker/internal/logging"
	"github.com/ValentinMastro/EncodeTalker/internal/metrics"
	"github.com/ValentinMastro/EncodeTalker/internal/services"
)

const (
	progressBuffer      = 32
	drainPollInterval   = 50 * time.Millisecond
	archiveWriteTimeout = 5 * time.Second
)

// Runner executes one job. It must return once cancel is closed or ctx ends,
// and must never change where the job lives.
type Runner interface {
	Run(ctx context.Context, j job.Job, cancel <-chan struct{}, progress chan<- job.Stats) error
}

// Archiver records terminal jobs outside the live history.
type Archiver interface {
	Record(ctx context.Context, j job.Job) error
}

// Options configures a Manager.
type Options struct {
	MaxConcurrent int
	Runner        Runner
	Persistence   *Persistence
	Bus           *events.Bus
	Archive       Archiver
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	// ProgressRate limits JobProgress events per job per second. Zero means
	// every update is published.
	ProgressRate float64
}

// Manager is the job store and scheduler.
type Manager struct {
	maxConcurrent int
	runner        Runner
	persistence   *Persistence
	bus           *events.Bus
	archive       Archiver
	metrics       *metrics.Metrics
	logger        *slog.Logger
	progressRate  float64

	queue   *jobQueue
	active  *activeSet
	history *historyList

	notify    chan struct{}
	accepting atomic.Bool
	running   atomic.Bool
	workers   sync.WaitGroup
	saveMu    sync.Mutex
}

// NewManager constructs a Manager. Run must be called to start dispatching.
func NewManager(opts Options) (*Manager, error) {
	if opts.Runner == nil {
		return nil, errors.New("queue manager: runner is required")
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	m := &Manager{
		maxConcurrent: maxConcurrent,
		runner:        opts.Runner,
		persistence:   opts.Persistence,
		bus:           opts.Bus,
		archive:       opts.Archive,
		metrics:       opts.Metrics,
		logger:        logging.NewComponentLogger(opts.Logger, "queue"),
		progressRate:  opts.ProgressRate,
		queue:         &jobQueue{},
		active:        newActiveSet(),
		history:       &historyList{},
		notify:        make(chan struct{}, 1),
	}
	m.accepting.Store(true)
	return m, nil
}

// MaxConcurrent reports the concurrency ceiling.
func (m *Manager) MaxConcurrent() int {
	return m.maxConcurrent
}

// Run is the admission loop. It dispatches queued jobs while fewer than
// MaxConcurrent are active and blocks on the notification signal otherwise.
// Cancelling ctx stops admission and aborts every running pipeline; jobs
// aborted that way stay in the active partition so the next start demotes
// them.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("queue manager already running")
	}
	defer m.running.Store(false)

	m.logger.Info("admission loop started", logging.Int("max_concurrent", m.maxConcurrent))
	for {
		m.admit(ctx)
		select {
		case <-ctx.Done():
			m.logger.Info("admission loop stopped")
			return nil
		case <-m.notify:
		}
	}
}

func (m *Manager) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Manager) admit(ctx context.Context) {
	for ctx.Err() == nil {
		j, entry, ok := m.dispatchNext()
		if !ok {
			return
		}
		m.workers.Add(1)
		go m.execute(ctx, j, entry)
	}
}

// dispatchNext moves the queue head into the active set if there is room.
func (m *Manager) dispatchNext() (job.Job, *activeEntry, bool) {
	m.queue.mu.Lock()
	m.active.mu.Lock()
	if len(m.active.entries) >= m.maxConcurrent {
		m.active.mu.Unlock()
		m.queue.mu.Unlock()
		return job.Job{}, nil, false
	}
	j, ok := m.queue.popFrontLocked()
	if !ok {
		m.active.mu.Unlock()
		m.queue.mu.Unlock()
		return job.Job{}, nil, false
	}
	j.MarkStarted()
	entry := m.active.insertLocked(j)
	m.bus.Publish(events.JobStarted(j.ID))
	m.active.mu.Unlock()
	m.queue.mu.Unlock()

	m.logger.Info("job started",
		logging.JobID(j.ID),
		logging.String("input", j.InputPath),
		logging.String("encoder", j.Config.Encoder.DisplayName()),
	)
	m.refreshGauges()
	return j.Clone(), entry, true
}

func (m *Manager) execute(ctx context.Context, j job.Job, entry *activeEntry) {
	defer m.workers.Done()
	logger := logging.WithContext(services.WithJobID(ctx, j.ID), m.logger)

	var limiter *rate.Limiter
	if m.progressRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(m.progressRate), 1)
	}

	progress := make(chan job.Stats, progressBuffer)
	done := make(chan error, 1)
	go func() {
		done <- m.runner.Run(ctx, j, entry.cancel, progress)
	}()

	var (
		runErr  error
		pending *job.Stats
	)
	apply := func(s job.Stats) {
		if m.applyProgress(j.ID, s, limiter) {
			pending = nil
		} else {
			pending = &s
		}
	}
wait:
	for {
		select {
		case s := <-progress:
			apply(s)
		case runErr = <-done:
			break wait
		}
	}
	for drained := false; !drained; {
		select {
		case s := <-progress:
			apply(s)
		default:
			drained = true
		}
	}
	if pending != nil {
		m.bus.Publish(events.JobProgress(j.ID, *pending))
	}

	m.active.mu.RLock()
	userCancel := entry.cancelRequested
	m.active.mu.RUnlock()
	if runErr != nil && ctx.Err() != nil && !userCancel {
		logging.WarnWithContext(logger, "job abandoned at shutdown", "job_abandoned",
			logging.Impact("job restarts from scratch on next daemon start"),
			logging.ErrorHint("let running encodes finish before stopping the daemon"),
		)
		return
	}
	m.finish(j.ID, runErr, logger)
}

// applyProgress stores s on the active job and reports whether a progress
// event was published for it.
func (m *Manager) applyProgress(id uuid.UUID, s job.Stats, limiter *rate.Limiter) bool {
	m.active.mu.Lock()
	entry, ok := m.active.entries[id]
	if ok {
		stats := s.Clone()
		entry.job.Stats = &stats
	}
	m.active.mu.Unlock()
	if !ok {
		return true
	}
	m.metrics.ObserveFPS(id.String(), s.FPS)
	if limiter != nil && !limiter.Allow() {
		return false
	}
	m.bus.Publish(events.JobProgress(id, s))
	return true
}

func (m *Manager) finish(id uuid.UUID, runErr error, logger *slog.Logger) {
	status := services.OutcomeStatus(runErr)

	m.active.mu.Lock()
	m.history.mu.Lock()
	entry, ok := m.active.removeLocked(id)
	if !ok {
		m.history.mu.Unlock()
		m.active.mu.Unlock()
		return
	}
	j := entry.job
	var evt events.Event
	switch status {
	case job.StatusCompleted:
		j.MarkCompleted()
		evt = events.JobCompleted(id)
	case job.StatusCancelled:
		j.MarkCancelled()
		evt = events.JobCancelled(id)
	default:
		j.MarkFailed(runErr.Error())
		evt = events.JobFailed(id, j.ErrorMessage)
	}
	m.history.items = append(m.history.items, j)
	m.bus.Publish(evt)
	m.history.mu.Unlock()
	m.active.mu.Unlock()

	switch status {
	case job.StatusCompleted:
		elapsed, _ := j.ExecutionDuration()
		logger.Info("job completed", logging.String("output", j.OutputPath), logging.Duration("elapsed", elapsed))
	case job.StatusCancelled:
		logger.Info("job cancelled")
	default:
		logging.ErrorWithContext(logger, "job failed", "job_failed",
			logging.String("error", j.ErrorMessage),
			logging.Impact("output was not produced"),
			logging.ErrorHint(services.FailureHint(runErr)),
		)
	}

	m.recordTerminal(j)
	m.wake()
}

func (m *Manager) recordTerminal(j job.Job) {
	m.metrics.JobFinished(j.ID.String(), j.Status)
	m.refreshGauges()
	if m.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
	defer cancel()
	if err := m.archive.Record(ctx, j); err != nil {
		logging.WarnWithContext(m.logger, "failed to archive job", "archive_write_failed",
			logging.JobID(j.ID),
			logging.Error(err),
			logging.Impact("job missing from the archived history"),
			logging.ErrorHint("check permissions on the archive database"),
		)
	}
}

func (m *Manager) refreshGauges() {
	if m.metrics == nil {
		return
	}
	queued, active, history := m.Counts()
	m.metrics.SetCounts(queued, active, history)
}

// AddJob appends a new job to the tail of the queue.
func (m *Manager) AddJob(input, output string, cfg job.EncodingConfig) (uuid.UUID, error) {
	if !m.accepting.Load() {
		return uuid.Nil, ErrNotAccepting
	}
	input = strings.TrimSpace(input)
	output = strings.TrimSpace(output)
	if input == "" || output == "" {
		return uuid.Nil, services.Wrap(services.ErrValidation, "queue", "add job", "input and output paths are required", nil)
	}
	if input == output {
		return uuid.Nil, services.Wrap(services.ErrValidation, "queue", "add job", "output path must differ from input path", nil)
	}
	if err := cfg.Validate(); err != nil {
		return uuid.Nil, services.Wrap(services.ErrValidation, "queue", "add job", "invalid encoding config", err)
	}

	j := job.New(input, output, cfg)
	m.queue.mu.Lock()
	m.queue.items = append(m.queue.items, j)
	m.bus.Publish(events.JobAdded(j.ID))
	m.queue.mu.Unlock()

	m.logger.Info("job queued",
		logging.JobID(j.ID),
		logging.String("input", input),
		logging.String("output", output),
	)
	m.refreshGauges()
	m.wake()
	return j.ID, nil
}

// CancelJob cancels a queued or running job. For a running job it only
// signals the pipeline; the job reaches history once the pipeline returns.
func (m *Manager) CancelJob(id uuid.UUID) error {
	m.queue.mu.Lock()
	m.active.mu.Lock()
	if entry, ok := m.active.entries[id]; ok {
		entry.cancelRequested = true
		entry.requestCancel()
		m.active.mu.Unlock()
		m.queue.mu.Unlock()
		m.logger.Info("cancel requested", logging.JobID(id))
		return nil
	}
	m.history.mu.Lock()
	j, ok := m.queue.removeLocked(id)
	if ok {
		j.MarkCancelled()
		m.history.items = append(m.history.items, j)
		m.bus.Publish(events.JobCancelled(id))
	}
	m.history.mu.Unlock()
	m.active.mu.Unlock()
	m.queue.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	m.logger.Info("queued job cancelled", logging.JobID(id))
	m.recordTerminal(j)
	return nil
}

// RetryJob re-queues a failed history entry at the tail of the queue.
func (m *Manager) RetryJob(id uuid.UUID) error {
	if !m.accepting.Load() {
		return ErrNotAccepting
	}
	m.queue.mu.Lock()
	m.history.mu.Lock()
	idx := m.history.indexLocked(id)
	if idx < 0 || m.history.items[idx].Status != job.StatusFailed {
		m.history.mu.Unlock()
		m.queue.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRetryable, id)
	}
	j := m.history.items[idx]
	m.history.items = append(m.history.items[:idx], m.history.items[idx+1:]...)
	j.ResetForRetry()
	m.queue.items = append(m.queue.items, j)
	m.bus.Publish(events.JobAdded(id))
	m.history.mu.Unlock()
	m.queue.mu.Unlock()

	m.logger.Info("job requeued for retry", logging.JobID(id))
	m.refreshGauges()
	m.wake()
	return nil
}

// ListQueue returns the queued jobs in admission order.
func (m *Manager) ListQueue() []job.Job { return m.queue.list() }

// ListActive returns the running jobs ordered by start time.
func (m *Manager) ListActive() []job.Job { return m.active.list() }

// ListHistory returns finished jobs, oldest first.
func (m *Manager) ListHistory() []job.Job { return m.history.list() }

// GetJob looks the id up in every partition.
func (m *Manager) GetJob(id uuid.UUID) (job.Job, bool) {
	m.queue.mu.RLock()
	defer m.queue.mu.RUnlock()
	m.active.mu.RLock()
	defer m.active.mu.RUnlock()
	m.history.mu.RLock()
	defer m.history.mu.RUnlock()

	if idx := m.queue.indexLocked(id); idx >= 0 {
		return m.queue.items[idx].Clone(), true
	}
	if entry, ok := m.active.entries[id]; ok {
		return entry.job.Clone(), true
	}
	if idx := m.history.indexLocked(id); idx >= 0 {
		return m.history.items[idx].Clone(), true
	}
	return job.Job{}, false
}

// GetStats returns the live stats of a running job.
func (m *Manager) GetStats(id uuid.UUID) (job.Stats, error) {
	j, ok := m.GetJob(id)
	if !ok {
		return job.Stats{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if j.Stats == nil {
		return job.Stats{}, ErrNoStats
	}
	return *j.Stats, nil
}

// RemoveFromHistory deletes one history entry.
func (m *Manager) RemoveFromHistory(id uuid.UUID) error {
	m.history.mu.Lock()
	idx := m.history.indexLocked(id)
	if idx >= 0 {
		m.history.items = append(m.history.items[:idx], m.history.items[idx+1:]...)
	}
	m.history.mu.Unlock()
	if idx < 0 {
		return fmt.Errorf("%w in history: %s", ErrJobNotFound, id)
	}
	m.refreshGauges()
	return nil
}

// ClearHistory empties history and returns how many entries were removed.
func (m *Manager) ClearHistory() int {
	m.history.mu.Lock()
	n := len(m.history.items)
	m.history.items = nil
	m.history.mu.Unlock()
	if n > 0 {
		m.logger.Info("history cleared", logging.Int("removed", n))
	}
	m.refreshGauges()
	return n
}

// StopAcceptingJobs closes the admission gate for AddJob and RetryJob.
func (m *Manager) StopAcceptingJobs() {
	if m.accepting.CompareAndSwap(true, false) {
		m.logger.Info("no longer accepting jobs")
	}
}

// IsAccepting reports whether AddJob is open.
func (m *Manager) IsAccepting() bool {
	return m.accepting.Load()
}

// WaitActiveJobs blocks until the active set is empty, timeout elapses or ctx
// ends. It reports whether the active set drained.
func (m *Manager) WaitActiveJobs(ctx context.Context, timeout time.Duration) bool {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		if m.active.len() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return m.active.len() == 0
		case <-ticker.C:
		}
	}
}

// WaitWorkers blocks until every pipeline goroutine has returned or timeout
// elapses.
func (m *Manager) WaitWorkers(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Counts returns the size of each partition.
func (m *Manager) Counts() (queued, active, history int) {
	return m.queue.len(), m.active.len(), m.history.len()
}

// Snapshot captures all partitions consistently.
func (m *Manager) Snapshot() Snapshot {
	m.queue.mu.RLock()
	defer m.queue.mu.RUnlock()
	m.active.mu.RLock()
	defer m.active.mu.RUnlock()
	m.history.mu.RLock()
	defer m.history.mu.RUnlock()
	return Snapshot{
		Queue:   cloneJobs(m.queue.items),
		Active:  m.active.listLocked(),
		History: cloneJobs(m.history.items),
	}
}

// Restore loads s into the partitions. Jobs from the active partition are
// demoted and placed ahead of the queued jobs in their persisted order. Jobs
// the manager already holds are never dropped: they keep their partition and
// follow the restored ones, and persisted duplicates of them are ignored. It
// returns how many jobs were demoted.
func (m *Manager) Restore(s Snapshot) int {
	m.queue.mu.Lock()
	defer m.queue.mu.Unlock()
	m.active.mu.Lock()
	defer m.active.mu.Unlock()
	m.history.mu.Lock()
	defer m.history.mu.Unlock()

	seen := make(map[uuid.UUID]bool, s.Len()+len(m.queue.items)+len(m.active.entries)+len(m.history.items))
	for _, j := range m.queue.items {
		seen[j.ID] = true
	}
	for id := range m.active.entries {
		seen[id] = true
	}
	for _, j := range m.history.items {
		seen[j.ID] = true
	}
	keep := func(j job.Job) bool {
		if j.ID == uuid.Nil || seen[j.ID] {
			return false
		}
		seen[j.ID] = true
		return true
	}

	queue := make([]job.Job, 0, len(s.Active)+len(s.Queue))
	demoted := 0
	for _, j := range s.Active {
		if !keep(j) {
			continue
		}
		j = j.Clone()
		j.DemoteToQueued()
		queue = append(queue, j)
		demoted++
	}
	for _, j := range s.Queue {
		if !keep(j) {
			continue
		}
		j = j.Clone()
		if j.Status != job.StatusQueued {
			j.DemoteToQueued()
		}
		queue = append(queue, j)
	}
	history := make([]job.Job, 0, len(s.History))
	for _, j := range s.History {
		if !keep(j) {
			continue
		}
		j = j.Clone()
		if !j.Status.IsTerminal() {
			j.MarkFailed("interrupted before completion")
		}
		history = append(history, j)
	}

	merged := len(m.queue.items) + len(m.active.entries) + len(m.history.items)
	m.queue.items = append(queue, m.queue.items...)
	m.history.items = append(history, m.history.items...)

	m.logger.Info("state restored",
		logging.Int("queued", len(queue)),
		logging.Int("demoted", demoted),
		logging.Int("history", len(history)),
		logging.Int("kept_in_memory", merged),
	)
	m.metrics.SetCounts(len(m.queue.items), len(m.active.entries), len(m.history.items))
	m.wake()
	return demoted
}

// SaveState writes a snapshot through Persistence. Failures are logged and
// returned; the next periodic save retries.
func (m *Manager) SaveState() error {
	if m.persistence == nil {
		return nil
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	snap := m.Snapshot()
	if err := m.persistence.Save(snap); err != nil {
		logging.WarnWithContext(m.logger, "failed to save state", "state_save_failed",
			logging.String("path", m.persistence.Path()),
			logging.Error(err),
			logging.Impact("recent queue changes are not yet on disk"),
			logging.ErrorHint("check free space and permissions on the data directory"),
		)
		return err
	}
	m.logger.Debug("state saved", logging.Int("jobs", snap.Len()))
	return nil
}

// LoadState reads the persisted snapshot and restores it. A malformed file is
// reported and the manager starts empty.
func (m *Manager) LoadState() (int, error) {
	if m.persistence == nil {
		return 0, nil
	}
	snap, err := m.persistence.Load()
	if err != nil {
		logging.WarnWithContext(m.logger, "failed to load state; starting empty", "state_load_failed",
			logging.String("path", m.persistence.Path()),
			logging.Error(err),
			logging.Impact("previous queue and history are ignored"),
			logging.ErrorHint("fix or remove the state file"),
		)
		m.Restore(EmptySnapshot())
		return 0, err
	}
	return m.Restore(snap), nil
}
