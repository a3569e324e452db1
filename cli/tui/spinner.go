package tui

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const keyCtrlC = "ctrl+c"

// ErrInterrupted is returned when the user aborts a running task.
var ErrInterrupted = errors.New("interrupted")

type doneMsg struct{ err error }

type spinnerModel struct {
	spinner spinner.Model
	title   string
	cancel  context.CancelFunc
	done    bool
	err     error
}

func newSpinnerModel(title string, cancel context.CancelFunc) *spinnerModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))
	return &spinnerModel{spinner: s, title: title, cancel: cancel}
}

func (m *spinnerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == keyCtrlC {
			m.cancel()
			m.done = true
			m.err = ErrInterrupted
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m *spinnerModel) View() string {
	if m.done {
		return ""
	}
	return fmt.Sprintf("%s %s\n", m.spinner.View(), m.title)
}

// RunWithSpinner runs task while a spinner titled title animates on out.
// The task's context is canceled when the user presses ctrl+c.
func RunWithSpinner(ctx context.Context, out io.Writer, title string, task func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	model := newSpinnerModel(title, cancel)
	program := tea.NewProgram(model, tea.WithContext(ctx), tea.WithOutput(out))
	result := make(chan error, 1)
	go func() {
		err := task(ctx)
		result <- err
		program.Send(doneMsg{err: err})
	}()
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		cancel()
		<-result
		return fmt.Errorf("spinner failed: %w", err)
	}
	if errors.Is(model.err, ErrInterrupted) {
		<-result
		return ErrInterrupted
	}
	return <-result
}
