package simulator

// PendingWatchers reports how many jobs have live change subscriptions.
func PendingWatchers(s *Simulator) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}
