package scheduler

import (
	"context"
	"sort"
	"sync"
)

// job is the live unit of work of one monitor.
type job struct {
	cancel context.CancelFunc
	done   chan struct{}
	driver Driver
	userID string
}

// State maps monitor IDs to their running jobs.
type State struct {
	mu   sync.Mutex
	jobs map[string]*job
}

func newState() *State {
	return &State{jobs: make(map[string]*job)}
}

// put registers j and returns the job it replaced, if any.
func (s *State) put(id string, j *job) (*job, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.jobs[id]
	s.jobs[id] = j
	return prev, len(s.jobs)
}

// take removes and returns the job of id.
func (s *State) take(id string) (*job, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	delete(s.jobs, id)
	return j, len(s.jobs)
}

// release removes id only while it still maps to j, so a finished loop
// cannot evict the job of a later restart.
func (s *State) release(id string, j *job) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[id] != j {
		return false, len(s.jobs)
	}
	delete(s.jobs, id)
	return true, len(s.jobs)
}

func (s *State) takeAll() map[string]*job {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.jobs
	s.jobs = make(map[string]*job)
	return all
}

func (s *State) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

func (s *State) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
