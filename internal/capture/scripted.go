package capture

import (
	"context"
	"sync"

	"github.com/depth-data/distance.report/internal/frame"
)

// ScriptedSource is a test double with fine-grained control over connect
// and capture behaviour.
type ScriptedSource struct {
	mu sync.Mutex

	// Frames are returned by successive Capture calls; the last entry
	// repeats once the script runs out.
	Frames []*frame.Frame

	// ConnectErr is returned by the next Connect call if set.
	ConnectErr error

	// CaptureErr is returned by the next Capture call if set, then cleared.
	CaptureErr error

	// Counters for assertions.
	ConnectCalls int
	CaptureCalls int
	CloseCalls   int

	connected bool
	next      int
}

func (s *ScriptedSource) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConnectCalls++
	if s.ConnectErr != nil {
		return s.ConnectErr
	}
	s.connected = true
	return nil
}

func (s *ScriptedSource) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *ScriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	s.connected = false
	return nil
}

func (s *ScriptedSource) Capture(ctx context.Context) (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CaptureCalls++
	if !s.connected {
		return nil, ErrNotConnected
	}
	if err := s.CaptureErr; err != nil {
		s.CaptureErr = nil
		return nil, err
	}
	if len(s.Frames) == 0 {
		return nil, ErrNotConnected
	}
	f := s.Frames[s.next]
	if s.next < len(s.Frames)-1 {
		s.next++
	}
	return f, nil
}
