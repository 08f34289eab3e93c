// Package cloudsync reconciles local storage with the remote record layer.
// It waits (bounded) for the remote copies of the index and agent files to
// be resident, then has the agent store and the cache re-derive their state.
package cloudsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/DatanoiseTV/chatstore/internal/cache"
	"github.com/DatanoiseTV/chatstore/internal/remote"
	"github.com/DatanoiseTV/chatstore/internal/store"
)

// Sync defaults.
const (
	DefaultFreshnessTimeout = 30 * time.Second
	DefaultPollInterval     = 100 * time.Millisecond
)

// Progress milestones reported to the cache during a full sync.
const (
	progressStarted         = 0.1
	progressAgentsRefreshed = 0.9
	progressDone            = 1.0
)

// progressFileCurrent is reported as each synced file becomes current, in
// completion order.
var progressFileCurrent = []float64{0.5, 0.8}

// Options tunes the freshness wait. Zero values use the defaults.
type Options struct {
	FreshnessTimeout time.Duration
	PollInterval     time.Duration
}

// Status describes the most recent full sync.
type Status struct {
	Running      bool                `json:"running"`
	LastStarted  time.Time           `json:"lastStarted,omitempty"`
	LastFinished time.Time           `json:"lastFinished,omitempty"`
	LastError    string              `json:"lastError,omitempty"`
	LastResult   cache.RefreshResult `json:"lastResult"`
}

// Manager runs full syncs and implements cache.Remote.
type Manager struct {
	remote  remote.Store
	cache   *cache.Cache
	agents  *store.AgentStore
	baseDir string
	logger  zerolog.Logger
	waiter  waiter
	now     func() time.Time

	gate sync.Mutex // held for the duration of a sync

	mu         sync.Mutex
	cancel     context.CancelFunc
	generation uint64
	status     Status
}

// NewManager wires a sync manager. baseDir is the local directory records
// are materialized into; it must match the stores' base directory.
func NewManager(r remote.Store, c *cache.Cache, agents *store.AgentStore, baseDir string, logger zerolog.Logger, opts Options) *Manager {
	if opts.FreshnessTimeout <= 0 {
		opts.FreshnessTimeout = DefaultFreshnessTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	logger = logger.With().Str("component", "cloudsync").Logger()

	return &Manager{
		remote:  r,
		cache:   c,
		agents:  agents,
		baseDir: baseDir,
		logger:  logger,
		waiter: waiter{
			remote:   r,
			timeout:  opts.FreshnessTimeout,
			interval: opts.PollInterval,
			logger:   logger,
		},
		now: time.Now,
	}
}

// PerformFullSync pulls remote changes into the local stores. Starting a
// sync cancels any sync still in flight; the superseded one returns
// context.Canceled. Failures of individual steps are logged and the
// remaining steps still run against the local copies.
func (m *Manager) PerformFullSync(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = cancel
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.generation == gen {
			m.cancel = nil
		}
		m.mu.Unlock()
		cancel()
	}()

	m.gate.Lock()
	defer m.gate.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	m.setStatus(func(s *Status) {
		s.Running = true
		s.LastStarted = m.now()
	})
	result, err := m.sync(ctx)
	m.setStatus(func(s *Status) {
		s.Running = false
		s.LastFinished = m.now()
		s.LastResult = result
		s.LastError = ""
		if err != nil {
			s.LastError = err.Error()
		}
	})
	return err
}

func (m *Manager) sync(ctx context.Context) (cache.RefreshResult, error) {
	m.cache.BeginLoading()
	defer m.cache.EndLoading()
	m.cache.SetProgress(progressStarted)

	var (
		errs    []error
		filesMu sync.Mutex
		current int
	)
	onCurrent := func(string) {
		filesMu.Lock()
		defer filesMu.Unlock()
		if current < len(progressFileCurrent) {
			m.cache.SetProgress(progressFileCurrent[current])
		}
		current++
	}
	if err := m.ensureFresh(ctx, onCurrent, store.IndexFile, store.AgentsFile); err != nil {
		if ctx.Err() != nil {
			return cache.RefreshResult{}, ctx.Err()
		}
		m.logger.Error().Err(err).Msg("continuing sync with local copies")
		errs = append(errs, err)
		m.cache.SetProgress(progressFileCurrent[len(progressFileCurrent)-1])
	}

	if err := ctx.Err(); err != nil {
		return cache.RefreshResult{}, err
	}
	if err := m.agents.RefreshFromStorage(); err != nil {
		m.logger.Error().Err(err).Msg("failed to refresh agents")
		errs = append(errs, err)
	}
	m.cache.SetProgress(progressAgentsRefreshed)

	if err := ctx.Err(); err != nil {
		return cache.RefreshResult{}, err
	}
	result, err := m.cache.RefreshFromStorage(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to refresh conversations")
		errs = append(errs, err)
	}
	m.cache.SetProgress(progressDone)
	m.logger.Info().
		Int("added", result.Added).
		Int("removed", result.Removed).
		Int("updated", result.Updated).
		Int("local_wins", result.LocalWins).
		Int("errors", len(errs)).
		Msg("full sync finished")
	return result, errors.Join(errs...)
}

// Status returns the state of the most recent sync.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) setStatus(update func(*Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	update(&m.status)
}

// EnsureFresh waits until every path's local copy is current. The paths are
// awaited concurrently; the first failure cancels the rest.
func (m *Manager) EnsureFresh(ctx context.Context, paths ...string) error {
	return m.ensureFresh(ctx, nil, paths...)
}

// ensureFresh is EnsureFresh with a callback run as each path becomes
// current.
func (m *Manager) ensureFresh(ctx context.Context, onCurrent func(path string), paths ...string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range paths {
		g.Go(func() error {
			if err := m.waiter.wait(gctx, p); err != nil {
				return err
			}
			if onCurrent != nil {
				onCurrent(p)
			}
			return nil
		})
	}
	return g.Wait()
}

// Replicate uploads written files and removes deleted records. Failures are
// logged; the next full sync or push reconciles them.
func (m *Manager) Replicate(ctx context.Context, change cache.Change) {
	for _, p := range change.Written {
		if err := m.remote.Upload(ctx, p); err != nil {
			m.logger.Warn().Err(err).Str("path", p).Msg("failed to upload")
		}
	}
	for _, p := range change.Removed {
		if err := m.remote.Remove(ctx, p); err != nil {
			m.logger.Warn().Err(err).Str("path", p).Msg("failed to remove remote record")
		}
	}
}
