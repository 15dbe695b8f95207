package tui

import "github.com/charmbracelet/bubbles/key"

type listKeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Open   key.Binding
	Add    key.Binding
	Delete key.Binding
	Quit   key.Binding
}

func (k listKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Open, k.Add, k.Delete, k.Quit}
}

func (k listKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

type detailKeyMap struct {
	Next key.Binding
	Show key.Binding
	Save key.Binding
	Back key.Binding
}

func (k detailKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Next, k.Show, k.Save, k.Back}
}

func (k detailKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var listKeys = listKeyMap{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Open:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
	Add:    key.NewBinding(key.WithKeys("a", "+"), key.WithHelp("a", "add")),
	Delete: key.NewBinding(key.WithKeys("d", "delete"), key.WithHelp("d", "delete")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

var detailKeys = detailKeyMap{
	Next: key.NewBinding(key.WithKeys("tab", "shift+tab"), key.WithHelp("tab", "next field")),
	Show: key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "show/hide value")),
	Save: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "save")),
	Back: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
}
