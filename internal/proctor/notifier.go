package proctor

import "time"

// Warning is the dialog shown on Armed → Warned.
type Warning struct {
	Category Category
	Message  string
	Warnings int
}

// Notice is the per-event toast shown for a blocked action.
type Notice struct {
	Category Category
	Message  string
}

// Termination is the non-dismissable modal shown on entering Terminated.
type Termination struct {
	Reason   string
	Message  string
	SubmitAt time.Time
}

// Notifier is the user-visible surface of the proctor. Implementations must
// not block for long; they run on the signal path.
type Notifier interface {
	Warn(w Warning)
	Notice(n Notice)
	Terminated(t Termination)
	// SetSelection toggles text selection for the whole document.
	SetSelection(enabled bool)
	// RequestFullscreen asks the client to enter fullscreen. An error means
	// the request could not be delivered.
	RequestFullscreen() error
	ExitFullscreen()
}

// NopNotifier discards every notification.
type NopNotifier struct{}

func (NopNotifier) Warn(Warning)             {}
func (NopNotifier) Notice(Notice)            {}
func (NopNotifier) Terminated(Termination)   {}
func (NopNotifier) SetSelection(bool)        {}
func (NopNotifier) RequestFullscreen() error { return nil }
func (NopNotifier) ExitFullscreen()          {}
