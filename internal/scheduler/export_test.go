package scheduler

// ExportedRunJob exposes the private runJob method for external tests.
func (s *Scheduler) ExportedRunJob(name string) {
	s.runJob(name)
}
