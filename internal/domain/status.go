package domain

import "fmt"

var transitions = map[Status][]Status{
	StatusQueued:       {StatusSending, StatusError},
	StatusSending:      {StatusWaitingVideo, StatusError},
	StatusWaitingVideo: {StatusDownloading, StatusError},
	StatusDownloading:  {StatusReady, StatusError},
	StatusReady:        {StatusUploading, StatusRejected, StatusError},
	StatusUploading:    {StatusUploaded, StatusError},
}

// AllStatuses lists every lifecycle state in lifecycle order
var AllStatuses = []Status{
	StatusQueued, StatusSending, StatusWaitingVideo, StatusDownloading,
	StatusReady, StatusUploading, StatusUploaded, StatusRejected, StatusError,
}

// IsTerminal reports whether no transition leaves s
func (s Status) IsTerminal() bool {
	return s == StatusUploaded || s == StatusRejected || s == StatusError
}

// IsValid reports whether s is a known lifecycle state
func (s Status) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// CanTransition reports whether from -> to is an allowed lifecycle edge
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition when from -> to is not allowed
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ActiveStatuses are the non-terminal states
func ActiveStatuses() []Status {
	active := make([]Status, 0, len(AllStatuses))
	for _, s := range AllStatuses {
		if !s.IsTerminal() {
			active = append(active, s)
		}
	}
	return active
}
