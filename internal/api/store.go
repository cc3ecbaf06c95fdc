package api

import (
	"sort"
	"sync"
	"time"

	"trade-signal-sim/internal/backtest"
	"trade-signal-sim/internal/events"
)

// RunStatus is the lifecycle state of a run launched through the API
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial" // at least one instrument aborted
	RunStored    RunStatus = "stored"  // only known to the database
)

// StoredRun is a run held in memory by the server
type StoredRun struct {
	ID          string              `json:"id"`
	Status      RunStatus           `json:"status"`
	Seed        int64               `json:"seed"`
	Instruments []string            `json:"instruments"`
	CreatedAt   time.Time           `json:"created_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	Result      *backtest.RunResult `json:"result,omitempty"`
}

// RunStore keeps every run launched by this process
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*StoredRun
}

// NewRunStore creates an empty store
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*StoredRun)}
}

// Start registers a running run. It returns false if the id is taken.
func (s *RunStore) Start(id string, seed int64, instruments []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[id]; exists {
		return false
	}
	s.runs[id] = &StoredRun{
		ID:          id,
		Status:      RunRunning,
		Seed:        seed,
		Instruments: instruments,
		CreatedAt:   time.Now(),
	}
	return true
}

// Complete attaches a result and returns a snapshot of the run
func (s *RunStore) Complete(id string, res *backtest.RunResult) StoredRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		run = &StoredRun{ID: id, Seed: res.Seed, CreatedAt: res.StartedAt}
		s.runs[id] = run
	}
	now := time.Now()
	run.CompletedAt = &now
	run.Result = res
	run.Status = RunCompleted
	if len(res.Failed()) > 0 {
		run.Status = RunPartial
	}
	return *run
}

// Get returns a snapshot of a run
func (s *RunStore) Get(id string) (StoredRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return StoredRun{}, false
	}
	return *run, true
}

// List returns every run, newest first
func (s *RunStore) List() []StoredRun {
	s.mu.RLock()
	out := make([]StoredRun, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, *run)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of runs held
func (s *RunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// Events returns a finished run's events. An empty instrument returns all
// instruments in run order; an empty kind returns every kind.
func (r StoredRun) Events(instrument string, kind events.Kind) []events.TradeEvent {
	if r.Result == nil {
		return nil
	}
	out := []events.TradeEvent{}
	for _, ir := range r.Result.Instruments {
		if instrument != "" && ir.Instrument != instrument {
			continue
		}
		if kind == "" {
			out = append(out, ir.Events...)
		} else {
			out = append(out, events.Filter(ir.Events, kind)...)
		}
	}
	return out
}
