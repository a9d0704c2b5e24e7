package monitor

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Pause   key.Binding
	Resume  key.Binding
	Kill    key.Binding
	Logs    key.Binding
	Console key.Binding
	Detach  key.Binding
	Abort   key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Pause:   key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause")),
		Resume:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "resume")),
		Kill:    key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "kill task")),
		Logs:    key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "logs")),
		Console: key.NewBinding(key.WithKeys(":"), key.WithHelp(":", "console")),
		Detach:  key.NewBinding(key.WithKeys("q"), key.WithHelp("q", "detach")),
		Abort:   key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "abort run")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Pause, k.Resume, k.Kill, k.Logs, k.Console, k.Detach}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down},
		{k.Pause, k.Resume, k.Kill, k.Logs},
		{k.Console, k.Detach, k.Abort},
	}
}
