package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
)

// deviceItem adapts a plain label to bubbles/list's list.Item interface.
type deviceItem struct {
	title, desc string
}

func (i deviceItem) Title() string       { return i.title }
func (i deviceItem) Description() string { return i.desc }
func (i deviceItem) FilterValue() string { return i.title }

type pickerModel struct {
	list   list.Model
	chosen int
	quit   bool
}

func (m pickerModel) Init() tea.Cmd { return nil }

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			m.chosen = m.list.Index()
			m.quit = true
			return m, tea.Quit
		case "ctrl+c", "esc", "q":
			m.chosen = -1
			m.quit = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m pickerModel) View() string {
	if m.quit {
		return ""
	}
	return m.list.View()
}

// PickDevice shows an interactive bubbles/list picker over names/keys and
// returns the chosen index, or (-1, nil) if the user cancelled. This backs
// the "interactive number" target-selection path (spec.md §4.8's Discovery
// phase) with a scrollable/filterable list instead of a bare numbered
// prompt. Called through Sink.PickFromList so orchestrator.SelectTarget
// never depends on the concrete tui package.
func PickDevice(names, keys []string) (int, error) {
	items := make([]list.Item, len(names))
	for i := range names {
		items[i] = deviceItem{title: names[i], desc: keys[i]}
	}
	l := list.New(items, list.NewDefaultDelegate(), 60, 20)
	l.Title = "Select a connected device"

	m := pickerModel{list: l}
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return -1, fmt.Errorf("tui: device picker: %w", err)
	}
	return final.(pickerModel).chosen, nil
}
