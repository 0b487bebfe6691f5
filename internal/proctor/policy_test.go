package proctor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyGlobalMode(t *testing.T) {
	p := NewPolicy(ModeGlobal)
	assert.Equal(t, StateArmed, p.State())

	tr, ok := p.Escalate(CategoryWindowBlur)
	require.True(t, ok)
	assert.Equal(t, Transition{From: StateArmed, To: StateWarned, Category: CategoryWindowBlur, Warnings: 1}, tr)

	tr, ok = p.Escalate(CategoryPageHidden)
	require.True(t, ok)
	assert.Equal(t, StateWarned, tr.From)
	assert.Equal(t, StateTerminated, tr.To)
	assert.Equal(t, 0, p.Warnings(CategoryPageHidden))

	_, ok = p.Escalate(CategoryTabSwitch)
	assert.False(t, ok)
	assert.Equal(t, StateTerminated, p.State())
}

func TestPolicyIgnoresBlockingOnly(t *testing.T) {
	p := NewPolicy(ModeGlobal)
	for _, c := range []Category{CategoryRightClick, CategoryClipboardCopy, CategoryKeyboardShortcut, CategoryAutoSubmit} {
		_, ok := p.Escalate(c)
		assert.False(t, ok, c)
	}
	assert.Equal(t, StateArmed, p.State())
	assert.Empty(t, p.WarningCounts())
}

func TestPolicyReset(t *testing.T) {
	p := NewPolicy(ModePerCategory)
	p.Escalate(CategoryTabSwitch)
	p.Escalate(CategoryTabSwitch)
	require.Equal(t, StateTerminated, p.State())

	p.Reset()
	assert.Equal(t, StateArmed, p.State())
	assert.Empty(t, p.WarningCounts())
}

func TestParseEscalationMode(t *testing.T) {
	m, err := ParseEscalationMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeGlobal, m)

	m, err = ParseEscalationMode("per_category")
	require.NoError(t, err)
	assert.Equal(t, ModePerCategory, m)

	_, err = ParseEscalationMode("three_strikes")
	assert.Error(t, err)
}

func TestGraceWindowFamilies(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewGraceWindow(start, time.Second, 3*time.Second)

	assert.True(t, g.Suppresses(FamilyFullscreen, start))
	assert.False(t, g.Suppresses(FamilyFullscreen, start.Add(time.Second)))
	assert.True(t, g.Suppresses(FamilyLifecycle, start.Add(2*time.Second)))
	assert.False(t, g.Suppresses(FamilyWindow, start.Add(3*time.Second)))
	assert.False(t, g.Suppresses(FamilyClipboard, start))
	assert.False(t, g.Suppresses(FamilyKeyboard, start))
}
