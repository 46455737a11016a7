package soundboard

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// Window bounds for [Stats.Window].
const (
	MinStatsWindow = 30 * time.Second
	MaxStatsWindow = 5 * time.Minute
)

// DefaultTopUsers is the number of users [Stats.Top] returns for n <= 0.
const DefaultTopUsers = 5

// UserCount is a user's play count.
type UserCount struct {
	User  string    `json:"user"`
	Count int       `json:"count"`
	Last  time.Time `json:"last"`
}

type playLog struct {
	user string
	at   time.Time
}

type sessionStats struct {
	counters map[string]*UserCount
	logs     []playLog // oldest first, never older than MaxStatsWindow
}

// Stats counts who plays sounds. It is safe for concurrent use.
type Stats struct {
	mu       sync.Mutex
	sessions map[string]*sessionStats
}

// NewStats returns empty statistics.
func NewStats() *Stats {
	return &Stats{sessions: make(map[string]*sessionStats)}
}

// Register counts one play by user at at.
func (s *Stats) Register(session, user string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.sessions[session]
	if !ok {
		ss = &sessionStats{counters: make(map[string]*UserCount)}
		s.sessions[session] = ss
	}

	c, ok := ss.counters[user]
	if !ok {
		c = &UserCount{User: user}
		ss.counters[user] = c
	}
	c.Count++
	c.Last = at

	drop := 0
	for drop < len(ss.logs) && at.Sub(ss.logs[drop].at) > MaxStatsWindow {
		drop++
	}
	ss.logs = append(ss.logs[drop:], playLog{user: user, at: at})
}

// Top returns up to n all-time counters, most recently active first.
func (s *Stats) Top(session string, n int) []UserCount {
	if n <= 0 {
		n = DefaultTopUsers
	}
	s.mu.Lock()
	var out []UserCount
	if ss, ok := s.sessions[session]; ok {
		for _, c := range ss.counters {
			out = append(out, *c)
		}
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b UserCount) int {
		if c := b.Last.Compare(a.Last); c != 0 {
			return c
		}
		return cmp.Compare(a.User, b.User)
	})
	return out[:min(n, len(out))]
}

// ClampWindow limits d to [MinStatsWindow, MaxStatsWindow].
func ClampWindow(d time.Duration) time.Duration {
	return min(max(d, MinStatsWindow), MaxStatsWindow)
}

// Window counts plays per user in the d before now, highest count first. d
// is clamped with [ClampWindow] and the effective window is returned.
func (s *Stats) Window(session string, d time.Duration, now time.Time) (time.Duration, []UserCount) {
	d = ClampWindow(d)
	counts := make(map[string]*UserCount)

	s.mu.Lock()
	if ss, ok := s.sessions[session]; ok {
		for i := len(ss.logs) - 1; i >= 0; i-- {
			l := ss.logs[i]
			if now.Sub(l.at) > d {
				break
			}
			c, ok := counts[l.user]
			if !ok {
				c = &UserCount{User: l.user, Last: l.at}
				counts[l.user] = c
			}
			c.Count++
		}
	}
	s.mu.Unlock()

	out := make([]UserCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b UserCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.User, b.User)
	})
	return d, out
}
