// Package mock provides a scripted recognition session for tests and local
// runs without a vendor account.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/harunnryd/larung/pkg/recognition"
)

// SessionConfig scripts the mock's behavior.
type SessionConfig struct {
	// SessionID reported by the session; defaults to "mock-session".
	SessionID string
	// FailStarts makes the first N Start calls fail, for retry tests.
	FailStarts int
	// ResultsOnFirstAudio are emitted when the first audio packet arrives.
	ResultsOnFirstAudio []recognition.Result
	// ResultsOnFinish are emitted when the audio input is finished, before
	// the result stream closes.
	ResultsOnFinish []recognition.Result
}

// Session is a scripted recognition.Session.
type Session struct {
	cfg SessionConfig
	out chan recognition.Result

	mu         sync.Mutex
	started    bool
	finished   bool
	startTries int
	audioBytes int
	packets    int
}

func NewSession(cfg recognition.Config, script SessionConfig) *Session {
	if script.SessionID == "" {
		script.SessionID = "mock-session"
	}
	if cfg.PriorSessionID != "" {
		script.SessionID = cfg.PriorSessionID
	}
	return &Session{
		cfg: script,
		out: make(chan recognition.Result, 64),
	}
}

func (s *Session) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startTries++
	if s.startTries <= s.cfg.FailStarts {
		return errors.New("mock session unavailable")
	}
	s.started = true
	return nil
}

func (s *Session) SessionID() string { return s.cfg.SessionID }

func (s *Session) SendAudio(pcm []byte) error {
	s.mu.Lock()
	if !s.started || s.finished {
		s.mu.Unlock()
		return errors.New("not started")
	}
	s.audioBytes += len(pcm)
	s.packets++
	first := s.packets == 1
	s.mu.Unlock()

	if first {
		for _, r := range s.cfg.ResultsOnFirstAudio {
			s.out <- r
		}
	}
	return nil
}

func (s *Session) FinishAudio() error {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return nil
	}
	s.finished = true
	s.mu.Unlock()

	for _, r := range s.cfg.ResultsOnFinish {
		s.out <- r
	}
	close(s.out)
	return nil
}

func (s *Session) Results() <-chan recognition.Result { return s.out }

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		s.finished = true
		close(s.out)
	}
	s.started = false
	return nil
}

// AudioBytes reports how much audio the session received.
func (s *Session) AudioBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioBytes
}

// StartTries reports how many Start attempts were made.
func (s *Session) StartTries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startTries
}

var _ recognition.Session = (*Session)(nil)
