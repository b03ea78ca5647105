package scheduler

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	running := s.c != nil
	s.mu.Unlock()

	ts := s.Triggers()
	return Snapshot{
		Enabled:  enabled,
		Running:  running,
		Live:     len(ts),
		Triggers: ts,
	}
}
