package out

// SupervisorNotifier lets services nudge the worker fleet after mutations.
// In a split deployment the API process satisfies it with a no-op and the
// worker process reacts to the event stream instead.
type SupervisorNotifier interface {
	// UserChanged bounces the user's worker so session state matches the
	// stored accounts.
	UserChanged(userID string)
	// UserRemoved tears the user's worker and poll schedule down.
	UserRemoved(userID string)
}

// NopSupervisorNotifier ignores all notifications.
type NopSupervisorNotifier struct{}

func (NopSupervisorNotifier) UserChanged(string) {}
func (NopSupervisorNotifier) UserRemoved(string) {}
