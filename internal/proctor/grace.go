package proctor

import "time"

// GraceWindow discards signals the browser emits while entering monitored mode.
// It is stamped once at activation and never renewed.
type GraceWindow struct {
	activatedAt time.Time
	short       time.Duration // fullscreen family
	long        time.Duration // visibility, window and lifecycle families
}

// NewGraceWindow creates a window opened at activatedAt.
func NewGraceWindow(activatedAt time.Time, short, long time.Duration) GraceWindow {
	return GraceWindow{activatedAt: activatedAt, short: short, long: long}
}

// Suppresses reports whether a signal of the family arriving at t must be dropped.
// Families that are not grace-filtered always return false.
func (g GraceWindow) Suppresses(f Family, t time.Time) bool {
	var d time.Duration
	switch f {
	case FamilyFullscreen:
		d = g.short
	case FamilyVisibility, FamilyWindow, FamilyLifecycle:
		d = g.long
	default:
		return false
	}
	return t.Sub(g.activatedAt) < d
}

// ActivatedAt returns the activation timestamp.
func (g GraceWindow) ActivatedAt() time.Time {
	return g.activatedAt
}
