package proctor

import "strings"

// shortcutLetters maps the letter of a Ctrl/Cmd/Alt combination to its purpose.
var shortcutLetters = map[string]string{
	"c": "copy",
	"v": "paste",
	"a": "select-all",
	"s": "save",
	"p": "print",
	"u": "view-source",
}

// MatchShortcut reports whether a keydown is one of the monitored combinations
// and returns the exact combination string, e.g. "Ctrl+Shift+I".
func MatchShortcut(ev RawEvent) (string, bool) {
	key := ev.Key

	switch {
	case key == "F12":
		return comboString(ev, "F12"), true
	case key == "PrintScreen":
		return comboString(ev, "PrintScreen"), true
	case ev.Alt && key == "Tab":
		return comboString(ev, "Tab"), true
	}

	if len(key) != 1 {
		return "", false
	}
	letter := strings.ToLower(key)

	// Developer tools: Ctrl/Cmd+Shift+I or Ctrl/Cmd+Shift+C.
	if (ev.Ctrl || ev.Meta) && ev.Shift && (letter == "i" || letter == "c") {
		return comboString(ev, strings.ToUpper(letter)), true
	}

	if !(ev.Ctrl || ev.Meta || ev.Alt) {
		return "", false
	}
	if _, ok := shortcutLetters[letter]; ok {
		return comboString(ev, strings.ToUpper(letter)), true
	}
	return "", false
}

// ShortcutPurpose names what a matched letter combination does, or "".
func ShortcutPurpose(ev RawEvent) string {
	if len(ev.Key) == 1 && (ev.Ctrl || ev.Meta) && ev.Shift {
		l := strings.ToLower(ev.Key)
		if l == "i" || l == "c" {
			return "developer-tools"
		}
	}
	switch ev.Key {
	case "F12":
		return "developer-tools"
	case "PrintScreen":
		return "screenshot"
	case "Tab":
		return "switch-window"
	}
	return shortcutLetters[strings.ToLower(ev.Key)]
}

func comboString(ev RawEvent, key string) string {
	parts := make([]string, 0, 5)
	if ev.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if ev.Meta {
		parts = append(parts, "Cmd")
	}
	if ev.Alt {
		parts = append(parts, "Alt")
	}
	if ev.Shift {
		parts = append(parts, "Shift")
	}
	parts = append(parts, key)
	return strings.Join(parts, "+")
}
