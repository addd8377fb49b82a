package conversation

import (
	"errors"
	"sync"
)

// Role tags who produced a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Turn is one role-tagged utterance.
type Turn struct {
	Role    Role
	Content string
}

func System(content string) Turn    { return Turn{Role: RoleSystem, Content: content} }
func User(content string) Turn      { return Turn{Role: RoleUser, Content: content} }
func Assistant(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

var (
	ErrLogClosed   = errors.New("conversation log closed")
	ErrInvalidRole = errors.New("invalid turn role")
)

// Log is the append-only dialogue history of one call. Turns are stored by
// value and only copies leave the log, so nothing can rewrite history.
type Log struct {
	mu     sync.RWMutex
	turns  []Turn
	closed bool
}

// NewLog creates a log seeded with an assistant greeting. An empty greeting
// yields an empty log.
func NewLog(greeting string) *Log {
	l := &Log{}
	if greeting != "" {
		l.turns = append(l.turns, Assistant(greeting))
	}
	return l
}

// Append adds a turn at the end and returns its index.
func (l *Log) Append(t Turn) (int, error) {
	if !t.Role.Valid() {
		return -1, ErrInvalidRole
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return -1, ErrLogClosed
	}
	l.turns = append(l.turns, t)
	return len(l.turns) - 1, nil
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Turns returns a copy of the history in insertion order.
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Last returns the most recent n turns (or all of them when n exceeds the length).
func (l *Log) Last(n int) []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	if n > len(l.turns) {
		n = len(l.turns)
	}
	out := make([]Turn, n)
	copy(out, l.turns[len(l.turns)-n:])
	return out
}

// Close rejects all further appends. Existing turns stay readable.
func (l *Log) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (l *Log) Closed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}
