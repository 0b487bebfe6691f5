package proctor

import "time"

// Family groups signals that share one EventSource and one grace duration.
type Family string

const (
	FamilyVisibility Family = "visibility"
	FamilyWindow     Family = "window"
	FamilyFullscreen Family = "fullscreen"
	FamilyLifecycle  Family = "lifecycle"
	FamilyKeyboard   Family = "keyboard"
	FamilyClipboard  Family = "clipboard"
	FamilyPointer    Family = "pointer"
)

// Families lists every monitored signal family in attach order.
var Families = []Family{
	FamilyVisibility,
	FamilyWindow,
	FamilyFullscreen,
	FamilyLifecycle,
	FamilyKeyboard,
	FamilyClipboard,
	FamilyPointer,
}

// Kind is the native browser event a signal was translated from.
type Kind string

const (
	KindVisibilityChange Kind = "visibilitychange"
	KindBlur             Kind = "blur"
	KindFocus            Kind = "focus"
	KindFullscreenChange Kind = "fullscreenchange"
	KindBeforeUnload     Kind = "beforeunload"
	KindPageHide         Kind = "pagehide"
	KindKeyDown          Kind = "keydown"
	KindCopy             Kind = "copy"
	KindPaste            Kind = "paste"
	KindCut              Kind = "cut"
	KindContextMenu      Kind = "contextmenu"
	KindDragStart        Kind = "dragstart"
	KindDrop             Kind = "drop"
)

// FamilyOf maps a native event kind to the family that listens for it.
// The second return is false for kinds no adapter handles.
func FamilyOf(k Kind) (Family, bool) {
	switch k {
	case KindVisibilityChange:
		return FamilyVisibility, true
	case KindBlur, KindFocus:
		return FamilyWindow, true
	case KindFullscreenChange:
		return FamilyFullscreen, true
	case KindBeforeUnload, KindPageHide:
		return FamilyLifecycle, true
	case KindKeyDown:
		return FamilyKeyboard, true
	case KindCopy, KindPaste, KindCut:
		return FamilyClipboard, true
	case KindContextMenu, KindDragStart, KindDrop:
		return FamilyPointer, true
	}
	return "", false
}

// RawEvent is a native DOM event as reported by the client.
type RawEvent struct {
	Kind Kind `json:"kind"`

	// Hidden carries document.hidden at the time of the event. It is read for
	// visibilitychange and blur; a blur on an already hidden page is not a
	// violation. Blur fired before the page hides counts on its own.
	Hidden bool `json:"hidden,omitempty"`
	// Fullscreen carries whether a fullscreen element is present after fullscreenchange.
	Fullscreen bool `json:"fullscreen,omitempty"`

	Key   string `json:"key,omitempty"`
	Ctrl  bool   `json:"ctrl,omitempty"`
	Meta  bool   `json:"meta,omitempty"`
	Alt   bool   `json:"alt,omitempty"`
	Shift bool   `json:"shift,omitempty"`
}

// Signal is the uniform internal form of a RawEvent, stamped on arrival.
type Signal struct {
	Family Family
	Raw    RawEvent
	At     time.Time
}

// Verdict is the synchronous answer to a fed signal.
type Verdict struct {
	// Prevent tells the client to suppress the native default action.
	Prevent bool
	// Category is set when the signal was classified as a violation.
	Category Category
	// Transition is set when the signal moved the escalation state.
	Transition *Transition
}
