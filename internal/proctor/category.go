package proctor

// Category enumerates violation kinds recorded by the proctor.
type Category string

const (
	// ─── Escalating ────────────────────────────────────────────────────
	CategoryTabSwitch      Category = "tab_switch"
	CategoryWindowBlur     Category = "window_blur"
	CategoryFullscreenExit Category = "fullscreen_exit"
	CategoryUnloadAttempt  Category = "unload_attempt"
	CategoryPageHidden     Category = "page_hidden"

	// ─── Blocking-only ─────────────────────────────────────────────────
	CategoryRightClick       Category = "right_click"
	CategoryClipboardCopy    Category = "clipboard_copy"
	CategoryClipboardPaste   Category = "clipboard_paste"
	CategoryClipboardCut     Category = "clipboard_cut"
	CategoryKeyboardShortcut Category = "keyboard_shortcut"

	// CategoryAutoSubmit marks the audit record written on termination.
	CategoryAutoSubmit Category = "auto_submit"
)

// EscalatingCategories lists every category that counts toward termination.
var EscalatingCategories = []Category{
	CategoryTabSwitch,
	CategoryWindowBlur,
	CategoryFullscreenExit,
	CategoryUnloadAttempt,
	CategoryPageHidden,
}

// Escalating reports whether the category counts toward auto-submit.
func (c Category) Escalating() bool {
	switch c {
	case CategoryTabSwitch, CategoryWindowBlur, CategoryFullscreenExit,
		CategoryUnloadAttempt, CategoryPageHidden:
		return true
	}
	return false
}

// BlockingOnly reports whether the category is always prevented but never escalates.
func (c Category) BlockingOnly() bool {
	switch c {
	case CategoryRightClick, CategoryClipboardCopy, CategoryClipboardPaste,
		CategoryClipboardCut, CategoryKeyboardShortcut:
		return true
	}
	return false
}

// Label returns the human-readable name shown in dialogs and notices.
func (c Category) Label() string {
	switch c {
	case CategoryTabSwitch:
		return "Tab switching"
	case CategoryWindowBlur:
		return "Leaving the quiz window"
	case CategoryFullscreenExit:
		return "Exiting fullscreen"
	case CategoryUnloadAttempt:
		return "Leaving or reloading the page"
	case CategoryPageHidden:
		return "Hiding the page"
	case CategoryRightClick:
		return "Right-click"
	case CategoryClipboardCopy:
		return "Copying"
	case CategoryClipboardPaste:
		return "Pasting"
	case CategoryClipboardCut:
		return "Cutting"
	case CategoryKeyboardShortcut:
		return "Keyboard shortcut"
	case CategoryAutoSubmit:
		return "Auto-submit"
	default:
		return string(c)
	}
}
