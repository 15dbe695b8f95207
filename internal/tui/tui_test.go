package tui

import (
	"testing"

	"github.com/charmbracelet/bubbles/cursor"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benaskins/keyitems/internal/keychain"
)

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

var (
	enter = tea.KeyMsg{Type: tea.KeyEnter}
	esc   = tea.KeyMsg{Type: tea.KeyEsc}
	tab   = tea.KeyMsg{Type: tea.KeyTab}
	down  = tea.KeyMsg{Type: tea.KeyDown}
	show  = tea.KeyMsg{Type: tea.KeyCtrlS}
)

// send applies msg and drains any command that reloads keys, so tests see
// the state a running program would settle into.
func send(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if cmd == nil {
		return m
	}
	if km, ok := cmd().(keysMsg); ok {
		next, _ = m.Update(km)
		m = next.(Model)
	}
	return m
}

func typeText(t *testing.T, m Model, s string) Model {
	t.Helper()
	for _, r := range s {
		m = send(t, m, runes(string(r)))
	}
	return m
}

func setupModel(t *testing.T, entries map[string]string) (*keychain.Store, Model) {
	t.Helper()
	store := keychain.NewMemoryStore("com.keyitems.test")
	for k, v := range entries {
		require.NoError(t, store.Set(k, []byte(v)))
	}
	m := New(store)
	// A blinking cursor schedules timed commands that send would block on.
	m.keyInput.Cursor.SetMode(cursor.CursorStatic)
	m.valueInput.Cursor.SetMode(cursor.CursorStatic)
	m = send(t, m, m.Init()())
	return store, m
}

func TestInitLoadsSortedKeys(t *testing.T) {
	_, m := setupModel(t, map[string]string{"opinion": "controversial", "greeting": "heynow"})

	assert.Equal(t, []string{"greeting", "opinion"}, m.keys)
	assert.Contains(t, m.View(), "greeting")
	assert.Contains(t, m.View(), "com.keyitems.test")
}

func TestAddEntry(t *testing.T) {
	store, m := setupModel(t, nil)

	m = send(t, m, runes("a"))
	require.Equal(t, screenDetail, m.screen)
	assert.Contains(t, m.View(), "NEW ENTRY")

	m = typeText(t, m, "greeting")
	m = send(t, m, tab)
	m = typeText(t, m, "heynow")
	m = send(t, m, enter)

	assert.Equal(t, screenList, m.screen)
	assert.Equal(t, []string{"greeting"}, m.keys)

	val, ok, err := store.Get("greeting")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "heynow", string(val))
}

func TestSaveWithoutKeyAlerts(t *testing.T) {
	store, m := setupModel(t, nil)

	m = send(t, m, runes("a"))
	m = send(t, m, tab)
	m = typeText(t, m, "orphan")
	m = send(t, m, enter)

	assert.Equal(t, screenDetail, m.screen)
	assert.Contains(t, m.View(), "KEY REQUIRED")

	keys, _ := store.Keys()
	assert.Empty(t, keys)
}

func TestSaveDuplicateKeyAlerts(t *testing.T) {
	store, m := setupModel(t, map[string]string{"greeting": "heynow"})

	m = send(t, m, runes("a"))
	m = typeText(t, m, "greeting")
	m = send(t, m, tab)
	m = typeText(t, m, "other")
	m = send(t, m, enter)

	assert.Equal(t, screenDetail, m.screen)
	assert.Contains(t, m.View(), "KEY EXISTS")

	val, _, _ := store.Get("greeting")
	assert.Equal(t, "heynow", string(val))
}

func TestSaveWithoutValueAlerts(t *testing.T) {
	store, m := setupModel(t, nil)

	m = send(t, m, runes("a"))
	m = typeText(t, m, "newkey")
	m = send(t, m, enter)

	assert.Equal(t, screenDetail, m.screen)
	assert.Contains(t, m.View(), "VALUE REQUIRED")

	keys, _ := store.Keys()
	assert.Empty(t, keys)
}

func TestRenameWithClearedValueKeepsEntry(t *testing.T) {
	store, m := setupModel(t, map[string]string{"greeting": "heynow"})

	m = send(t, m, enter)
	m.keyInput.SetValue("salutation")
	m.valueInput.SetValue("")
	m = send(t, m, enter)

	assert.Equal(t, screenDetail, m.screen)
	assert.Contains(t, m.View(), "VALUE REQUIRED")

	keys, _ := store.Keys()
	assert.Equal(t, []string{"greeting"}, keys.Sorted())
}

func TestStoredValueHiddenUntilShown(t *testing.T) {
	_, m := setupModel(t, map[string]string{"greeting": "s3cr3t-heynow"})

	m = send(t, m, enter)
	require.Equal(t, screenDetail, m.screen)
	assert.NotContains(t, m.View(), "s3cr3t-heynow")

	m = send(t, m, show)
	assert.Contains(t, m.View(), "s3cr3t-heynow")

	m = send(t, m, show)
	assert.NotContains(t, m.View(), "s3cr3t-heynow")

	// Shown values are hidden again after leaving the entry.
	m = send(t, m, show)
	m = send(t, m, esc)
	m = send(t, m, enter)
	assert.NotContains(t, m.View(), "s3cr3t-heynow")

	m = send(t, m, show)
	m = send(t, m, enter)
	require.Equal(t, screenList, m.screen)
	m = send(t, m, enter)
	assert.NotContains(t, m.View(), "s3cr3t-heynow")
}

func TestNewEntryValueVisibleWhileTyping(t *testing.T) {
	_, m := setupModel(t, nil)

	m = send(t, m, runes("a"))
	m = send(t, m, tab)
	m = typeText(t, m, "heynow")

	assert.Contains(t, m.View(), "heynow")
}

func TestEditRenamesEntry(t *testing.T) {
	store, m := setupModel(t, map[string]string{"greting": "heynow"})

	m = send(t, m, enter)
	require.Equal(t, screenDetail, m.screen)
	assert.Equal(t, "greting", m.keyInput.Value())
	assert.Equal(t, "heynow", m.valueInput.Value())

	m.keyInput.SetValue("greeting")
	m = send(t, m, enter)

	assert.Equal(t, screenList, m.screen)
	keys, _ := store.Keys()
	assert.Equal(t, []string{"greeting"}, keys.Sorted())
}

func TestDeleteSelected(t *testing.T) {
	store, m := setupModel(t, map[string]string{"a": "1", "b": "2"})

	m = send(t, m, down)
	m = send(t, m, runes("d"))

	assert.Equal(t, []string{"a"}, m.keys)
	assert.Equal(t, 0, m.cursor)
	_, ok, _ := store.Get("b")
	assert.False(t, ok)
}

func TestEscapeDiscardsEdits(t *testing.T) {
	store, m := setupModel(t, map[string]string{"greeting": "heynow"})

	m = send(t, m, enter)
	m = send(t, m, tab)
	m = typeText(t, m, "!!")
	m = send(t, m, esc)

	assert.Equal(t, screenList, m.screen)
	val, _, _ := store.Get("greeting")
	assert.Equal(t, "heynow", string(val))
}

func TestChangeReloadsKeys(t *testing.T) {
	store, m := setupModel(t, nil)

	require.NoError(t, store.Set("greeting", []byte("heynow")))
	m = send(t, m, changeMsg{Kind: keychain.Added, Key: "greeting"})

	assert.Equal(t, []string{"greeting"}, m.keys)
}

func TestQuit(t *testing.T) {
	_, m := setupModel(t, nil)

	_, cmd := m.Update(runes("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
