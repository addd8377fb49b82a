package call

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/uketsuke/pkg/channel"
	"github.com/harunnryd/uketsuke/pkg/conversation"
)

// Session is the per-connection state of one call. It owns its log and its
// response channel; nothing else holds either.
type Session struct {
	ID      string
	CallSID string
	Log     *conversation.Log
	Channel channel.ResponseChannel
	Created time.Time

	mu       sync.Mutex
	closed   bool
	reason   string
	done     chan struct{}
	onClose  []func(reason string)
	closeErr error
}

func NewSession(callSID, greeting string, ch channel.ResponseChannel) *Session {
	return &Session{
		ID:      uuid.NewString(),
		CallSID: callSID,
		Log:     conversation.NewLog(greeting),
		Channel: ch,
		Created: time.Now(),
		done:    make(chan struct{}),
	}
}

// Close releases the log and the channel. Only the first call has an effect.
func (s *Session) Close(reason string) error {
	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		return err
	}
	s.closed = true
	s.reason = reason
	s.Log.Close()
	if s.Channel != nil {
		s.closeErr = s.Channel.Close()
	}
	close(s.done)
	hooks := s.onClose
	s.onClose = nil
	err := s.closeErr
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(reason)
	}
	return err
}

// OnClose registers fn to run once the session closes. It runs immediately
// if the session is already closed.
func (s *Session) OnClose(fn func(reason string)) {
	s.mu.Lock()
	if !s.closed {
		s.onClose = append(s.onClose, fn)
		s.mu.Unlock()
		return
	}
	reason := s.reason
	s.mu.Unlock()
	fn(reason)
}

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}
