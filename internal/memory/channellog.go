package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

type LogEntry struct {
	Channel   string    `json:"channel"`
	User      string    `json:"user"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// LogStore is the shared channel log. It is capped by count and by age;
// both limits are applied on load, on every read and on every append.
type LogStore struct {
	mu      sync.Mutex
	p       Persister
	optouts *Registry
	entries []LogEntry
	limit   int
	maxAge  time.Duration
	now     func() time.Time
}

// NewLogStore loads the persisted log. optouts may be nil.
func NewLogStore(p Persister, optouts *Registry, limit int, maxAge time.Duration) (*LogStore, error) {
	s := &LogStore{
		p:       p,
		optouts: optouts,
		limit:   limit,
		maxAge:  maxAge,
		now:     time.Now,
	}
	if _, err := p.Load(DocChannelLogs, &s.entries); err != nil {
		return nil, fmt.Errorf("load channel logs: %w", err)
	}
	s.prune()
	return s, nil
}

// Log records a message unless the user has opted out. It reports whether an
// entry was written.
func (s *LogStore) Log(channel, user, message string) (bool, error) {
	if s.optouts != nil && s.optouts.Contains(user) {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, LogEntry{
		Channel:   channel,
		User:      user,
		Message:   message,
		Timestamp: s.now().UTC(),
	})
	s.prune()
	if err := s.save(); err != nil {
		return true, err
	}
	return true, nil
}

// Recent returns every retained entry, oldest first.
func (s *LogStore) Recent() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	out := make([]LogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ForChannel returns up to n of the latest entries for one channel.
func (s *LogStore) ForChannel(channel string, n int) []LogEntry {
	if n <= 0 {
		return nil
	}
	var out []LogEntry
	for _, e := range s.Recent() {
		if strings.EqualFold(e.Channel, channel) {
			out = append(out, e)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Prune drops expired and overflow entries and persists the result when
// anything was removed.
func (s *LogStore) Prune() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.prune()
	if removed == 0 {
		return 0, nil
	}
	return removed, s.save()
}

func (s *LogStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *LogStore) prune() int {
	before := len(s.entries)
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		kept := s.entries[:0]
		for _, e := range s.entries {
			if !e.Timestamp.Before(cutoff) {
				kept = append(kept, e)
			}
		}
		s.entries = kept
	}
	if s.limit > 0 && len(s.entries) > s.limit {
		s.entries = append([]LogEntry(nil), s.entries[len(s.entries)-s.limit:]...)
	}
	return before - len(s.entries)
}

func (s *LogStore) save() error {
	entries := s.entries
	if entries == nil {
		entries = []LogEntry{}
	}
	if err := s.p.Save(DocChannelLogs, entries); err != nil {
		return fmt.Errorf("save channel logs: %w", err)
	}
	return nil
}
