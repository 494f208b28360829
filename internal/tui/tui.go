// Package tui implements output.Sink for real terminal use with
// bubbletea/bubbles/lipgloss. Grounded on the teacher's cmd/modernui/main.go
// (a bubbletea tea.Model with Init/Update/View, textinput.Model fields, and
// a handful of lipgloss styles for title/help/error/ok text) -- the same
// state-machine shape is reused here for short-lived one-question programs
// (a prompt, a confirm, a typed confirm) instead of modernui's single
// long-lived multi-screen model, since a Sink method must return its answer
// synchronously to the orchestrator rather than drive a persistent screen.
package tui

import (
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yanceya/kalico-flash/internal/kferrors"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	phaseStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
)

// Sink implements output.Sink over a real terminal.
type Sink struct{}

// New returns a terminal Sink.
func New() Sink { return Sink{} }

func (Sink) Phase(name string) {
	fmt.Println(phaseStyle.Render("== " + name + " =="))
}

func (Sink) Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

func (Sink) Success(format string, args ...interface{}) {
	fmt.Println(okStyle.Render(fmt.Sprintf(format, args...)))
}

func (Sink) Warning(format string, args ...interface{}) {
	fmt.Println(warnStyle.Render(fmt.Sprintf(format, args...)))
}

// ErrorWithRecovery prints the headline, cause, and ordered recovery steps,
// then copies err.Error() to the system clipboard without asking, noting
// it when the copy succeeds -- SPEC_FULL.md §3/§5's atotto/clipboard
// wiring. Captured build output is not part of what is copied.
func (Sink) ErrorWithRecovery(err error, recovery kferrors.Recovery) {
	fmt.Println(errStyle.Render("✗ " + recovery.Headline))
	if recovery.Cause != "" {
		fmt.Println(helpStyle.Render(recovery.Cause))
	}
	for i, step := range recovery.Steps {
		fmt.Printf("  %d. %s\n", i+1, step)
	}
	if err == nil {
		return
	}
	if copyErr := clipboard.WriteAll(err.Error()); copyErr == nil {
		fmt.Println(helpStyle.Render("(full error text copied to clipboard)"))
	}
}

func (Sink) Divider() {
	fmt.Println(strings.Repeat("-", 60))
}

// PickFromList implements output.Sink via the bubbles/list-based PickDevice
// picker, returning an error if the user cancelled.
func (Sink) PickFromList(names, keys []string) (int, error) {
	idx, err := PickDevice(names, keys)
	if err != nil {
		return -1, err
	}
	if idx < 0 {
		return -1, fmt.Errorf("tui: device picker cancelled")
	}
	return idx, nil
}

// Prompt runs a single-question textinput program and returns the trimmed
// answer. An empty answer is returned if the program exits abnormally
// (e.g. ctrl+c) rather than panicking the caller.
func (Sink) Prompt(question string) string {
	m := newQuestionModel(question, "")
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(final.(questionModel).input.Value())
}

// Confirm runs a y/n textinput program; a bare Enter returns defaultYes.
func (Sink) Confirm(question string, defaultYes bool) bool {
	suffix := " [y/N]"
	if defaultYes {
		suffix = " [Y/n]"
	}
	m := newQuestionModel(question+suffix, "")
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(final.(questionModel).input.Value()))
	switch answer {
	case "":
		return defaultYes
	case "y", "yes":
		return true
	default:
		return false
	}
}

// ConfirmTyped requires the exact string mustType to be entered to proceed
// -- a deliberately higher bar than Confirm, used for the hardware-MCU
// mismatch override (SPEC_FULL.md §6).
func (Sink) ConfirmTyped(question, mustType string) bool {
	m := newQuestionModel(question, "")
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return false
	}
	return final.(questionModel).input.Value() == mustType
}

// questionModel is a minimal one-field bubbletea program: show the prompt,
// collect one line of input on Enter, quit.
type questionModel struct {
	question string
	input    textinput.Model
	done     bool
}

func newQuestionModel(question, placeholder string) questionModel {
	in := textinput.New()
	in.Placeholder = placeholder
	in.CharLimit = 256
	in.Width = 60
	in.Focus()
	return questionModel{question: question, input: in}
}

func (m questionModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m questionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "enter":
			m.done = true
			return m, tea.Quit
		case "ctrl+c", "esc":
			m.input.SetValue("")
			m.done = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m questionModel) View() string {
	if m.done {
		return ""
	}
	return titleStyle.Render(m.question) + "\n" + m.input.View() + "\n"
}
