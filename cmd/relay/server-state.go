package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/matst80/tcprelay/internal/relay"
)

type serverState struct {
	mu       sync.Mutex
	sessions map[string]sessionInfo // session ID -> info
	counters counters
	closing  bool
	ready    bool
}

func newServerState() *serverState {
	return &serverState{
		sessions: make(map[string]sessionInfo),
		counters: counters{ends: make(map[string]int64)},
	}
}

var _ StateStore = (*serverState)(nil)

func (s *serverState) sessionStarted(info sessionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[info.ID]; exists {
		return fmt.Errorf("session already registered: %s", info.ID)
	}
	s.sessions[info.ID] = info
	s.counters.total++
	return nil
}

func (s *serverState) sessionEnded(res relay.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, res.ID)
	s.counters.ends[res.Reason.String()]++
}

func (s *serverState) incrementRejected() {
	s.mu.Lock()
	s.counters.rejected++
	s.mu.Unlock()
}

func (s *serverState) activeSessions() []sessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedSessions(s.sessions)
}

func (s *serverState) setClosing(closing bool) { s.mu.Lock(); s.closing = closing; s.mu.Unlock() }
func (s *serverState) setReady(ready bool)     { s.mu.Lock(); s.ready = ready; s.mu.Unlock() }
func (s *serverState) isClosing() bool         { s.mu.Lock(); defer s.mu.Unlock(); return s.closing }
func (s *serverState) isReady() bool           { s.mu.Lock(); defer s.mu.Unlock(); return s.ready }

func (s *serverState) getStats() (int, counters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters
	c.ends = maps.Clone(s.counters.ends)
	return len(s.sessions), c
}

// sortedSessions returns the map values oldest first.
func sortedSessions(m map[string]sessionInfo) []sessionInfo {
	out := slices.Collect(maps.Values(m))
	slices.SortFunc(out, func(a, b sessionInfo) int {
		if c := a.Started.Compare(b.Started); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
