package proctor

import "fmt"

// Classification is the classifier's reading of a single signal.
type Classification struct {
	Category    Category
	Description string
	// Prevent asks the client to suppress the native action.
	Prevent bool
}

// Violation reports whether the signal maps to a recorded category.
func (c Classification) Violation() bool {
	return c.Category != ""
}

// Classify maps a signal to a violation category. Signals that are not
// violations (focus regained, fullscreen entered, plain keys) return a zero
// Classification; drag and drop are prevented without being recorded.
func Classify(sig Signal) Classification {
	ev := sig.Raw

	switch ev.Kind {
	case KindVisibilityChange:
		if ev.Hidden {
			return Classification{Category: CategoryTabSwitch, Description: "Switched to another tab or application"}
		}
	case KindBlur:
		// A blur while the document is hidden is the same tab switch the
		// visibility source already reports.
		if !ev.Hidden {
			return Classification{Category: CategoryWindowBlur, Description: "Quiz window lost focus"}
		}
	case KindFullscreenChange:
		if !ev.Fullscreen {
			return Classification{Category: CategoryFullscreenExit, Description: "Exited fullscreen mode"}
		}
	case KindBeforeUnload:
		return Classification{Category: CategoryUnloadAttempt, Description: "Attempted to leave or reload the page", Prevent: true}
	case KindPageHide:
		return Classification{Category: CategoryPageHidden, Description: "Page was hidden or navigated away"}
	case KindKeyDown:
		if combo, ok := MatchShortcut(ev); ok {
			desc := fmt.Sprintf("Blocked keyboard shortcut: %s", combo)
			if purpose := ShortcutPurpose(ev); purpose != "" {
				desc = fmt.Sprintf("%s (%s)", desc, purpose)
			}
			return Classification{Category: CategoryKeyboardShortcut, Description: desc, Prevent: true}
		}
	case KindCopy:
		return Classification{Category: CategoryClipboardCopy, Description: "Copy attempt blocked", Prevent: true}
	case KindPaste:
		return Classification{Category: CategoryClipboardPaste, Description: "Paste attempt blocked", Prevent: true}
	case KindCut:
		return Classification{Category: CategoryClipboardCut, Description: "Cut attempt blocked", Prevent: true}
	case KindContextMenu:
		return Classification{Category: CategoryRightClick, Description: "Right-click blocked", Prevent: true}
	case KindDragStart, KindDrop:
		return Classification{Prevent: true}
	}
	return Classification{}
}
