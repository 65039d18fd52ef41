package memory

import (
	"fmt"
	"strings"
	"sync"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one side of an exchange with a user.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConversationStore keeps every turn per user. The whole map is persisted
// after each append.
type ConversationStore struct {
	mu    sync.Mutex
	p     Persister
	turns map[string][]Turn
}

func NewConversationStore(p Persister) (*ConversationStore, error) {
	s := &ConversationStore{p: p, turns: make(map[string][]Turn)}
	if _, err := p.Load(DocConversations, &s.turns); err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	if s.turns == nil {
		s.turns = make(map[string][]Turn)
	}
	return s, nil
}

func userKey(user string) string {
	return strings.ToLower(strings.TrimSpace(user))
}

func (s *ConversationStore) Append(user string, role Role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey(user)
	prev := s.turns[key]
	s.turns[key] = append(prev, Turn{Role: role, Content: content})
	if err := s.p.Save(DocConversations, s.turns); err != nil {
		if len(prev) == 0 {
			delete(s.turns, key)
		} else {
			s.turns[key] = prev
		}
		return fmt.Errorf("save conversations: %w", err)
	}
	return nil
}

// Recent returns up to limit of the user's latest turns, oldest first.
func (s *ConversationStore) Recent(user string, limit int) []Turn {
	if limit <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.turns[userKey(user)]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]Turn, len(all))
	copy(out, all)
	return out
}

// Users reports how many users have any history.
func (s *ConversationStore) Users() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}
