// Package tui provides the live run dashboard for taskforge.
package tui

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ecrowe/taskforge/internal/bus"
	"github.com/ecrowe/taskforge/internal/state"
	"github.com/ecrowe/taskforge/pkg/models"
)

// TaskChangeMsg carries one task state transition from the message bus.
type TaskChangeMsg struct {
	Change state.ChangeEvent
}

// RunDoneMsg signals that the run finished.
type RunDoneMsg struct {
	Success bool
	Message string
}

// streamClosedMsg signals that the bus subscription ended.
type streamClosedMsg struct{}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4ECDC4"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	statusStyle = map[models.TaskStatus]lipgloss.Style{
		models.TaskStatusPending:   lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
		models.TaskStatusReady:     lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC857")),
		models.TaskStatusScheduled: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC857")),
		models.TaskStatusRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("#45B7D1")).Bold(true),
		models.TaskStatusCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("#96E6A1")),
		models.TaskStatusFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
		models.TaskStatusCancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
		models.TaskStatusSkipped:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8E53")),
	}
)

// Dashboard is the bubbletea model for `run --watch`. It is seeded with the
// planned task set and keeps statuses current from bus change events.
type Dashboard struct {
	tasks   map[string]models.Task
	order   []string
	sub     *bus.Subscription
	spinner spinner.Model

	width    int
	height   int
	quitting bool
	done     bool
	success  bool
	message  string
}

// New creates a dashboard over a task set and a bus subscription to
// state.task.* change events. sub may be nil in tests.
func New(tasks []models.Task, sub *bus.Subscription) *Dashboard {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	d := &Dashboard{
		tasks:   make(map[string]models.Task, len(tasks)),
		sub:     sub,
		spinner: sp,
		width:   80,
	}
	for _, t := range tasks {
		d.tasks[t.ID] = t
		d.order = append(d.order, t.ID)
	}
	sort.Slice(d.order, func(i, j int) bool {
		a, b := d.tasks[d.order[i]], d.tasks[d.order[j]]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ID < b.ID
	})
	return d
}

// Init implements tea.Model.
func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(d.spinner.Tick, d.waitForEvent())
}

// waitForEvent blocks on the bus subscription and converts the next change
// event into a message.
func (d *Dashboard) waitForEvent() tea.Cmd {
	if d.sub == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-d.sub.Messages()
		if !ok {
			return streamClosedMsg{}
		}
		var change state.ChangeEvent
		if err := json.Unmarshal(msg.Payload, &change); err != nil {
			return streamClosedMsg{}
		}
		return TaskChangeMsg{Change: change}
	}
}

// Update implements tea.Model.
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			d.quitting = true
			return d, tea.Quit
		}

	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height

	case TaskChangeMsg:
		if t, ok := d.tasks[msg.Change.TaskID]; ok {
			t.Status = msg.Change.To
			t.Attempt = msg.Change.Attempt
			if msg.Change.To == models.TaskStatusSkipped {
				t.SkipReason = msg.Change.Detail
			}
			d.tasks[msg.Change.TaskID] = t
		}
		return d, d.waitForEvent()

	case RunDoneMsg:
		d.done = true
		d.success = msg.Success
		d.message = msg.Message

	case streamClosedMsg:
		return d, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		d.spinner, cmd = d.spinner.Update(msg)
		return d, cmd
	}
	return d, nil
}

// View implements tea.Model.
func (d *Dashboard) View() string {
	if d.quitting {
		return ""
	}

	header := titleStyle.Render("taskforge") + dimStyle.Render("  task dispatch")
	counts := d.countsLine()

	var rows string
	for _, id := range d.order {
		t := d.tasks[id]
		style, ok := statusStyle[t.Status]
		if !ok {
			style = dimStyle
		}
		marker := "  "
		if t.Status == models.TaskStatusRunning {
			marker = d.spinner.View()
		}
		line := fmt.Sprintf("%s%-10s %s", marker, t.Status, t.Title)
		if t.Attempt > 1 {
			line += dimStyle.Render(fmt.Sprintf(" (attempt %d)", t.Attempt))
		}
		if t.SkipReason != "" {
			line += dimStyle.Render(" " + t.SkipReason)
		}
		rows += style.Render(line) + "\n"
	}

	footer := dimStyle.Render("q to quit")
	if d.done {
		if d.success {
			footer = statusStyle[models.TaskStatusCompleted].Render("✓ "+d.message) + dimStyle.Render(" | q to exit")
		} else {
			footer = statusStyle[models.TaskStatusFailed].Render("✗ "+d.message) + dimStyle.Render(" | q to exit")
		}
	}
	return fmt.Sprintf("%s\n\n%s\n\n%s%s", header, counts, rows, footer)
}

// countsLine summarizes task statuses.
func (d *Dashboard) countsLine() string {
	counts := make(map[models.TaskStatus]int)
	for _, t := range d.tasks {
		counts[t.Status]++
	}
	order := []models.TaskStatus{
		models.TaskStatusRunning,
		models.TaskStatusCompleted,
		models.TaskStatusFailed,
		models.TaskStatusSkipped,
		models.TaskStatusPending,
	}
	var line string
	for _, s := range order {
		if counts[s] == 0 {
			continue
		}
		line += fmt.Sprintf("%s %d  ", s, counts[s])
	}
	if line == "" {
		line = "no tasks"
	}
	return dimStyle.Render(line)
}

// Run starts the dashboard program. done is called with the final program
// handle so the caller can push RunDoneMsg.
func Run(d *Dashboard) (*tea.Program, func() error) {
	p := tea.NewProgram(d, tea.WithAltScreen())
	return p, func() error {
		_, err := p.Run()
		return err
	}
}

// Subscribe attaches a dashboard subscription to the bus.
func Subscribe(b *bus.Bus) (*bus.Subscription, error) {
	return b.Subscribe("state.task.*", "tui-dashboard", 256)
}
