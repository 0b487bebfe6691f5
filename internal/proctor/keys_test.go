package proctor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchShortcut(t *testing.T) {
	tests := []struct {
		name  string
		ev    RawEvent
		combo string
		match bool
	}{
		{"copy", RawEvent{Key: "c", Ctrl: true}, "Ctrl+C", true},
		{"copy uppercase letter", RawEvent{Key: "C", Ctrl: true}, "Ctrl+C", true},
		{"paste with cmd", RawEvent{Key: "v", Meta: true}, "Cmd+V", true},
		{"select all with alt", RawEvent{Key: "a", Alt: true}, "Alt+A", true},
		{"save", RawEvent{Key: "s", Ctrl: true}, "Ctrl+S", true},
		{"print", RawEvent{Key: "p", Meta: true}, "Cmd+P", true},
		{"view source", RawEvent{Key: "u", Ctrl: true}, "Ctrl+U", true},
		{"devtools inspector", RawEvent{Key: "I", Ctrl: true, Shift: true}, "Ctrl+Shift+I", true},
		{"devtools element picker", RawEvent{Key: "C", Meta: true, Shift: true}, "Cmd+Shift+C", true},
		{"f12", RawEvent{Key: "F12"}, "F12", true},
		{"screenshot", RawEvent{Key: "PrintScreen"}, "PrintScreen", true},
		{"alt tab", RawEvent{Key: "Tab", Alt: true}, "Alt+Tab", true},
		{"plain letter", RawEvent{Key: "c"}, "", false},
		{"plain tab", RawEvent{Key: "Tab"}, "", false},
		{"shift letter", RawEvent{Key: "A", Shift: true}, "", false},
		{"unmonitored combo", RawEvent{Key: "z", Ctrl: true}, "", false},
		{"arrow with ctrl", RawEvent{Key: "ArrowLeft", Ctrl: true}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.ev.Kind = KindKeyDown
			combo, ok := MatchShortcut(tt.ev)
			assert.Equal(t, tt.match, ok)
			assert.Equal(t, tt.combo, combo)
		})
	}
}

func TestShortcutPurpose(t *testing.T) {
	assert.Equal(t, "developer-tools", ShortcutPurpose(RawEvent{Key: "i", Ctrl: true, Shift: true}))
	assert.Equal(t, "copy", ShortcutPurpose(RawEvent{Key: "c", Ctrl: true}))
	assert.Equal(t, "screenshot", ShortcutPurpose(RawEvent{Key: "PrintScreen"}))
	assert.Equal(t, "switch-window", ShortcutPurpose(RawEvent{Key: "Tab", Alt: true}))
}
