package pipeline

import "sync/atomic"

// Switch is the process-wide shutdown flag. While it is down the bot
// neither records nor answers messages.
type Switch struct {
	down atomic.Bool
}

func (s *Switch) Shutdown() { s.down.Store(true) }

func (s *Switch) Resume() { s.down.Store(false) }

func (s *Switch) IsShutdown() bool { return s.down.Load() }
