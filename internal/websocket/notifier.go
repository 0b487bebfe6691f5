package websocket

import (
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// Notifier renders proctor notifications as websocket events.
type Notifier struct {
	conn *Conn
	log  zerolog.Logger
}

// NewNotifier creates a Notifier writing to conn.
func NewNotifier(conn *Conn, log zerolog.Logger) *Notifier {
	return &Notifier{conn: conn, log: log}
}

func (n *Notifier) Warn(w proctor.Warning) {
	n.send(WarningResponse{
		Event:    EventWarning,
		Category: string(w.Category),
		Message:  w.Message,
		Warnings: w.Warnings,
	})
}

func (n *Notifier) Notice(no proctor.Notice) {
	n.send(NoticeResponse{
		Event:    EventNotice,
		Category: string(no.Category),
		Message:  no.Message,
	})
}

func (n *Notifier) Terminated(t proctor.Termination) {
	n.send(TerminatedResponse{
		Event:    EventTerminated,
		Reason:   t.Reason,
		Message:  t.Message,
		SubmitAt: t.SubmitAt,
	})
}

func (n *Notifier) SetSelection(enabled bool) {
	cmd := UIDisableSelection
	if enabled {
		cmd = UIEnableSelection
	}
	n.send(UIResponse{Event: EventUI, Command: cmd})
}

func (n *Notifier) RequestFullscreen() error {
	return n.conn.WriteTyped(UIResponse{Event: EventUI, Command: UIRequestFullscreen})
}

func (n *Notifier) ExitFullscreen() {
	n.send(UIResponse{Event: EventUI, Command: UIExitFullscreen})
}

func (n *Notifier) send(v interface{}) {
	if err := n.conn.WriteTyped(v); err != nil && err != ErrConnClosed {
		n.log.Warn().Err(err).Msg("Failed to deliver proctor notification")
	}
}
