package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Func is one run of a periodic task. It should return quickly; it shares the
// process with request handling.
type Func func(ctx context.Context)

// Manager runs named fixed-interval tasks and stops them on demand.
type Manager struct {
	log          zerolog.Logger
	runners      map[string]*runner
	runnersMutex sync.RWMutex
	wg           sync.WaitGroup
}

type runner struct {
	cancel context.CancelFunc
}

// NewManager creates a task manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:     log.With().Str("component", "tasks").Logger(),
		runners: make(map[string]*runner),
	}
}

// Every starts fn on a ticker of the given interval until ctx is done or the
// task is stopped.
func (m *Manager) Every(ctx context.Context, name string, interval time.Duration, fn Func) error {
	if interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", name)
	}

	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	if _, exists := m.runners[name]; exists {
		return fmt.Errorf("task %s already running", name)
	}

	runnerCtx, cancel := context.WithCancel(ctx)
	r := &runner{cancel: cancel}
	m.runners[name] = r
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		m.log.Debug().Str("task", name).Dur("interval", interval).Msg("task start")

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-runnerCtx.Done():
				m.runnersMutex.Lock()
				if m.runners[name] == r {
					delete(m.runners, name)
				}
				m.runnersMutex.Unlock()
				m.log.Debug().Str("task", name).Msg("task stop")
				return
			case <-ticker.C:
				m.runOnce(runnerCtx, name, fn)
			}
		}
	}()

	return nil
}

func (m *Manager) runOnce(ctx context.Context, name string, fn Func) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("task", name).Interface("panic", r).Msg("task panicked")
		}
	}()
	fn(ctx)
}

// Stop cancels a running task.
func (m *Manager) Stop(name string) error {
	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	r, exists := m.runners[name]
	if !exists {
		return fmt.Errorf("no task running named %s", name)
	}
	r.cancel()
	delete(m.runners, name)
	return nil
}

// IsRunning reports whether the named task is scheduled.
func (m *Manager) IsRunning(name string) bool {
	m.runnersMutex.RLock()
	defer m.runnersMutex.RUnlock()

	_, exists := m.runners[name]
	return exists
}

// StopAll cancels every task and waits for their goroutines to exit.
func (m *Manager) StopAll() {
	m.runnersMutex.Lock()
	for name, r := range m.runners {
		m.log.Debug().Str("task", name).Msg("stopping task")
		r.cancel()
	}
	m.runners = make(map[string]*runner)
	m.runnersMutex.Unlock()

	m.wg.Wait()
}

// Running lists the scheduled task names in order.
func (m *Manager) Running() []string {
	m.runnersMutex.RLock()
	defer m.runnersMutex.RUnlock()

	names := make([]string, 0, len(m.runners))
	for name := range m.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
