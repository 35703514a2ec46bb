package relay

import "github.com/cornelk/hashmap"

// Counter names reported on /stats.
const (
	statCommits    = "commits"
	statDuplicates = "duplicates"
	statRejected   = "rejected"
	statSessions   = "sessions"
	statSnapshots  = "snapshots"
	statRanges     = "ranges"
	statPresence   = "presence"
	statExpired    = "expired"
)

var statKeys = []string{
	statCommits, statDuplicates, statRejected, statSessions,
	statSnapshots, statRanges, statPresence, statExpired,
}

// stats holds relay counters readable without taking any board lock. Every
// counter exists from reset on, so updates are plain compare-and-swap.
type stats struct {
	table hashmap.HashMap
}

func (s *stats) reset() {
	for _, key := range statKeys {
		s.table.Set(key, 0)
	}
}

func (s *stats) get(key string) int {
	value, ok := s.table.GetStringKey(key)
	if !ok {
		return 0
	}
	return value.(int)
}

func (s *stats) add(key string, delta int) {
	for {
		current, ok := s.table.GetStringKey(key)
		if !ok {
			panic("relay: unknown counter " + key)
		}
		if s.table.Cas(key, current, current.(int)+delta) {
			return
		}
	}
}

func (s *stats) snapshot() map[string]int {
	out := make(map[string]int, len(statKeys))
	for _, key := range statKeys {
		out[key] = s.get(key)
	}
	return out
}
