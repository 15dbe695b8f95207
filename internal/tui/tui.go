// Package tui is a terminal list/detail browser over a keychain namespace.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/benaskins/keyitems/internal/keychain"
)

type screen int

const (
	screenList screen = iota
	screenDetail
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")).MarginBottom(1)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	alertStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	labelStyle    = lipgloss.NewStyle().Width(7)
)

type changeMsg keychain.Change

type keysMsg struct {
	keys []string
	err  error
}

// Model is the bubbletea model for the browser.
type Model struct {
	store  keychain.KeyValueStore
	screen screen

	keys   []string
	cursor int

	// editing is the key the detail view was opened for; "" for a new entry.
	editing    string
	keyInput   textinput.Model
	valueInput textinput.Model

	alert string
	err   error
	help  help.Model
}

// New returns a browser over store.
func New(store keychain.KeyValueStore) Model {
	ki := textinput.New()
	ki.Prompt = ""
	ki.Placeholder = "key"
	ki.CharLimit = 256

	vi := textinput.New()
	vi.Prompt = ""
	vi.Placeholder = "value"
	vi.EchoMode = textinput.EchoPassword
	vi.EchoCharacter = '•'

	return Model{
		store:      store,
		keyInput:   ki,
		valueInput: vi,
		help:       help.New(),
	}
}

// Run starts the browser and blocks until the user quits or ctx ends. The
// list reloads whenever the store reports a key-set change.
func Run(ctx context.Context, store keychain.KeyValueStore) error {
	p := tea.NewProgram(New(store), tea.WithAltScreen(), tea.WithContext(ctx))

	cancel := store.Subscribe(func(c keychain.Change) {
		go p.Send(changeMsg(c))
	})
	defer cancel()

	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	if m, ok := final.(Model); ok && m.err != nil {
		return m.err
	}
	return nil
}

func (m Model) loadKeys() tea.Msg {
	keys, err := m.store.Keys()
	if err != nil {
		return keysMsg{err: err}
	}
	return keysMsg{keys: keys.Sorted()}
}

func (m Model) Init() tea.Cmd {
	return m.loadKeys
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case changeMsg:
		return m, m.loadKeys

	case keysMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.keys = msg.keys
		if m.cursor >= len(m.keys) {
			m.cursor = max(len(m.keys)-1, 0)
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if m.screen == screenDetail {
			return m.updateDetail(msg)
		}
		return m.updateList(msg)
	}
	return m, nil
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.alert = ""
	switch {
	case key.Matches(msg, listKeys.Quit):
		return m, tea.Quit

	case key.Matches(msg, listKeys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, listKeys.Down):
		if m.cursor < len(m.keys)-1 {
			m.cursor++
		}

	case key.Matches(msg, listKeys.Add):
		return m.openDetail("", nil)

	case key.Matches(msg, listKeys.Open):
		if len(m.keys) == 0 {
			return m, nil
		}
		k := m.keys[m.cursor]
		val, ok, err := m.store.Get(k)
		if err != nil {
			m.alert = err.Error()
			return m, nil
		}
		if !ok {
			// Removed since the list was loaded.
			return m, m.loadKeys
		}
		return m.openDetail(k, val)

	case key.Matches(msg, listKeys.Delete):
		if len(m.keys) == 0 {
			return m, nil
		}
		if err := m.store.Delete(m.keys[m.cursor]); err != nil {
			m.alert = err.Error()
			return m, nil
		}
		return m, m.loadKeys
	}
	return m, nil
}

// openDetail shows the editor. Stored values stay hidden until toggled; a
// new entry's value is visible while it is typed.
func (m Model) openDetail(k string, val []byte) (tea.Model, tea.Cmd) {
	m.screen = screenDetail
	m.editing = k
	m.alert = ""
	m.keyInput.SetValue(k)
	m.valueInput.SetValue(string(val))
	m.valueInput.Blur()
	if k == "" {
		m.valueInput.EchoMode = textinput.EchoNormal
	} else {
		m.valueInput.EchoMode = textinput.EchoPassword
	}
	return m, m.keyInput.Focus()
}

// closeDetail returns to the list with the value hidden again.
func (m Model) closeDetail() (tea.Model, tea.Cmd) {
	m.screen = screenList
	m.alert = ""
	m.editing = ""
	m.valueInput.EchoMode = textinput.EchoPassword
	return m, m.loadKeys
}

func (m Model) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, detailKeys.Back):
		return m.closeDetail()

	case key.Matches(msg, detailKeys.Show):
		if m.valueInput.EchoMode == textinput.EchoNormal {
			m.valueInput.EchoMode = textinput.EchoPassword
		} else {
			m.valueInput.EchoMode = textinput.EchoNormal
		}
		return m, nil

	case key.Matches(msg, detailKeys.Next):
		if m.keyInput.Focused() {
			m.keyInput.Blur()
			return m, m.valueInput.Focus()
		}
		m.valueInput.Blur()
		return m, m.keyInput.Focus()

	case key.Matches(msg, detailKeys.Save):
		return m.save()
	}

	var cmd tea.Cmd
	if m.keyInput.Focused() {
		m.keyInput, cmd = m.keyInput.Update(msg)
	} else {
		m.valueInput, cmd = m.valueInput.Update(msg)
	}
	return m, cmd
}

func (m Model) save() (tea.Model, tea.Cmd) {
	err := keychain.SaveEntry(m.store, m.editing, m.keyInput.Value(), []byte(m.valueInput.Value()))
	switch {
	case errors.Is(err, keychain.ErrKeyRequired):
		m.alert = "KEY REQUIRED: please provide a key for this entry"
		return m, nil
	case errors.Is(err, keychain.ErrKeyExists):
		m.alert = "KEY EXISTS: an entry for this key already exists"
		return m, nil
	case errors.Is(err, keychain.ErrValueRequired):
		m.alert = "VALUE REQUIRED: please provide a value for this entry"
		return m, nil
	case err != nil:
		m.alert = err.Error()
		return m, nil
	}
	return m.closeDetail()
}

func (m Model) View() string {
	var b strings.Builder
	if m.screen == screenDetail {
		title := "NEW ENTRY"
		if m.editing != "" {
			title = "EDIT ENTRY"
		}
		b.WriteString(titleStyle.Render(title))
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("Key") + m.keyInput.View() + "\n")
		b.WriteString(labelStyle.Render("Value") + m.valueInput.View() + "\n")
	} else {
		b.WriteString(titleStyle.Render(fmt.Sprintf("ITEM LIST (%s)", m.store.Service())))
		b.WriteString("\n")
		if len(m.keys) == 0 {
			b.WriteString(dimStyle.Render("no entries, press a to add one") + "\n")
		}
		for i, k := range m.keys {
			if i == m.cursor {
				b.WriteString(selectedStyle.Render("> "+k) + "\n")
			} else {
				b.WriteString("  " + k + "\n")
			}
		}
	}

	if m.alert != "" {
		b.WriteString("\n" + alertStyle.Render(m.alert) + "\n")
	}

	b.WriteString("\n")
	if m.screen == screenDetail {
		b.WriteString(m.help.View(detailKeys))
	} else {
		b.WriteString(m.help.View(listKeys))
	}
	return b.String()
}
