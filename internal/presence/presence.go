package presence

import (
	"sort"
	"time"

	"LiveBoard/internal/core"
	"LiveBoard/internal/state"

	"github.com/apex/log"
	"github.com/cespare/xxhash"
)

// Palette holds the participant colors.
var Palette = []string{"#2196F3", "#FF5252", "#FFEB3B", "#4CAF50", "#9C27B0", "#FFFFFF"}

// ColorFor picks a participant's color from the palette. Every client
// derives the same color for the same id.
func ColorFor(participant string) string {
	return Palette[xxhash.Sum64([]byte(participant))%uint64(len(Palette))]
}

// Cursor is a pointer position on the canvas.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Presence is the ephemeral state a participant broadcasts. It never
// enters the operation log.
type Presence struct {
	ParticipantID string          `json:"participant"`
	DisplayName   string          `json:"name,omitempty"`
	Color         string          `json:"color,omitempty"`
	Tool          state.ToolState `json:"tool"`
	Cursor        *Cursor         `json:"cursor,omitempty"`
}

type entry struct {
	Presence
	lastSeen time.Time
}

// Manager tracks who is on a board and expires participants that stop
// sending heartbeats.
type Manager struct {
	timeout time.Duration
	entries map[string]*entry
	log     *log.Entry
}

func NewManager(timeout time.Duration) *Manager {
	return &Manager{
		timeout: timeout,
		entries: make(map[string]*entry),
		log:     core.Logger("presence"),
	}
}

// Update records p as seen at now and reports whether the participant is new.
func (m *Manager) Update(p Presence, now time.Time) bool {
	p.Color = ColorFor(p.ParticipantID)
	e, ok := m.entries[p.ParticipantID]
	if !ok {
		m.entries[p.ParticipantID] = &entry{Presence: p, lastSeen: now}
		m.log.WithField("participant", p.ParticipantID).Debug("joined")
		return true
	}
	if p.DisplayName == "" {
		p.DisplayName = e.DisplayName
	}
	e.Presence = p
	e.lastSeen = now
	return false
}

// Touch refreshes the heartbeat of a known participant.
func (m *Manager) Touch(participant string, now time.Time) {
	if e, ok := m.entries[participant]; ok {
		e.lastSeen = now
	}
}

func (m *Manager) Remove(participant string) bool {
	if _, ok := m.entries[participant]; !ok {
		return false
	}
	delete(m.entries, participant)
	m.log.WithField("participant", participant).Debug("left")
	return true
}

// Expire removes participants not seen for longer than the timeout and
// returns their ids.
func (m *Manager) Expire(now time.Time) []string {
	var expired []string
	for id, e := range m.entries {
		if now.Sub(e.lastSeen) > m.timeout {
			delete(m.entries, id)
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	for _, id := range expired {
		m.log.WithField("participant", id).Info("presence expired")
	}
	return expired
}

func (m *Manager) Get(participant string) (Presence, bool) {
	e, ok := m.entries[participant]
	if !ok {
		return Presence{}, false
	}
	return e.Presence, true
}

// Snapshot returns the current presence of every participant ordered by id.
func (m *Manager) Snapshot() []Presence {
	out := make([]Presence, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Presence)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}

func (m *Manager) Len() int {
	return len(m.entries)
}
