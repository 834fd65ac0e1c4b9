package logger

import (
	"strconv"
	"strings"
	"sync"
)

// eventSampler thins debug lines per event name so one chatty event
// (validation pings, accepted webhooks) cannot crowd out the rest.
type eventSampler struct {
	mu       sync.Mutex
	keep     int
	every    int
	counters map[string]int
}

func newEventSampler(keep, every int) *eventSampler {
	s := &eventSampler{counters: make(map[string]int)}
	s.Set(keep, every)
	return s
}

// Set keeps `keep` lines out of every `every` per event. Zero values disable sampling.
func (s *eventSampler) Set(keep, every int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if keep <= 0 || every <= 0 {
		keep, every = 0, 0
	}
	if keep > every {
		keep = every
	}
	s.keep, s.every = keep, every
	clear(s.counters)
}

// Allow reports whether the next debug line for event passes.
func (s *eventSampler) Allow(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.every == 0 {
		return true
	}
	n := s.counters[event]%s.every + 1
	s.counters[event] = n
	return n <= s.keep
}

// parseRatioSpec accepts "keep/every" or a bare "every" meaning 1/every.
func parseRatioSpec(spec string) (int, int) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, 0
	}
	if keepStr, everyStr, ok := strings.Cut(spec, "/"); ok {
		keep, err1 := strconv.Atoi(strings.TrimSpace(keepStr))
		every, err2 := strconv.Atoi(strings.TrimSpace(everyStr))
		if err1 != nil || err2 != nil {
			return 0, 0
		}
		return keep, every
	}
	every, err := strconv.Atoi(spec)
	if err != nil || every <= 0 {
		return 0, 0
	}
	return 1, every
}
