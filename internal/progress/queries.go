package progress

import "github.com/mmcdole/marathon/internal/domain"

// State is a non-blocking snapshot of the façade.
type State struct {
	Data        domain.UserProgressData // Cached progress, or the default when nothing has loaded
	HasData     bool
	IsStale     bool
	IsLoading   bool // No data yet and a load is in flight
	IsFetching  bool
	IsUpdating  bool  // Any mutation pending
	Err         error // Last load error; cleared by a successful load
	MutationErr error // Last mutation error; cleared by a successful mutation
}

// State returns the current snapshot without touching the network.
func (s *Service) State() State {
	entry, ok := s.store.Get(domain.ProgressKey)
	fetching := s.store.IsFetching(domain.ProgressKey)

	st := State{
		HasData:    ok,
		IsStale:    ok && entry.Stale,
		IsLoading:  !ok && fetching,
		IsFetching: fetching,
		IsUpdating: s.IsUpdating(),
	}
	if ok {
		st.Data = entry.Progress
	} else {
		st.Data = domain.DefaultProgress(s.opts.Now().UTC())
	}

	s.errMu.RLock()
	st.Err = s.loadErr
	st.MutationErr = s.mutationErr
	s.errMu.RUnlock()

	return st
}

// Data returns cached progress (stale or not) or the default value.
func (s *Service) Data() domain.UserProgressData {
	if entry, ok := s.store.Get(domain.ProgressKey); ok {
		return entry.Progress
	}
	return domain.DefaultProgress(s.opts.Now().UTC())
}

// IsUpdating reports whether any mutation is pending.
func (s *Service) IsUpdating() bool {
	return s.pending.Load() > 0
}
